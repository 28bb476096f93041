// Package redis stores rooms, participants and the canonical player state
// as redis hashes. Every key carries the room TTL and is refreshed on
// access, so an abandoned room expires on its own.
package redis

import (
	"time"

	"github.com/redis/go-redis/v9"
)

type repo struct {
	rc             *redis.Client
	expireDuration time.Duration
}

func NewRepo(rc *redis.Client, expireDuration time.Duration) *repo {
	return &repo{
		rc:             rc,
		expireDuration: expireDuration,
	}
}
