// Package room is the room authority: it validates host and follower
// identity, owns the canonical playback state, relays host events to the
// rest of the room and manages host disconnect grace periods.
package room

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	repository "github.com/couchsync/couchsync/internal/repository/room"
	"github.com/couchsync/couchsync/pkg/randstr"
)

var (
	ErrRoomNotFound        = errors.New("room not found")
	ErrFileMismatch        = errors.New("file fingerprint mismatch")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrRateLimited         = errors.New("rate limited")
	ErrRoomFull            = errors.New("room is full")
	ErrParticipantNotFound = errors.New("participant not found")
)

type iRoomRepo interface {
	SetRoom(context.Context, *repository.SetRoomParams) error
	GetRoom(context.Context, string) (repository.Room, error)
	UpdateRoomHost(context.Context, *repository.UpdateRoomHostParams) error
	RemoveRoom(context.Context, string) error
	SetPlayer(context.Context, *repository.SetPlayerParams) error
	GetPlayer(context.Context, string) (repository.Player, error)
	UpdatePlayerState(context.Context, *repository.UpdatePlayerStateParams) error
	UpdatePlayerRate(context.Context, *repository.UpdatePlayerRateParams) error
	AddParticipant(context.Context, *repository.AddParticipantParams) error
	RemoveParticipant(context.Context, *repository.RemoveParticipantParams) error
	GetParticipant(context.Context, *repository.GetParticipantParams) (repository.Participant, error)
	GetParticipantIDs(context.Context, string) ([]string, error)
	UpdateParticipantRole(context.Context, *repository.UpdateParticipantRoleParams) error
}

type iConnRepo interface {
	Add(*websocket.Conn, string) error
	RemoveByUserID(string) error
	RemoveByConn(*websocket.Conn) error
	GetConn(string) (*websocket.Conn, error)
	GetUserID(*websocket.Conn) (string, error)
}

type iSender interface {
	Send(conn *websocket.Conn, msgType string, payload any) error
	Broadcast(conns []*websocket.Conn, msgType string, payload any)
	Forget(conn *websocket.Conn)
}

type iGenerator interface {
	GenerateRandomString(length int) string
}

type Config struct {
	Secret       string
	ShareBaseURL string
	MembersLimit int
	RoomExp      time.Duration
	GracePeriod  time.Duration
	// events per sender per sliding 1000ms window, keyed by event name;
	// unset event names fall back to DefaultRateLimit
	RateLimits       map[string]int
	DefaultRateLimit int
}

type service struct {
	roomRepo     iRoomRepo
	connRepo     iConnRepo
	sender       iSender
	generator    iGenerator
	clock        clockwork.Clock
	logger       *slog.Logger
	limiter      *slidingWindow
	locks        *keyedMutex
	secret       string
	shareBaseURL string
	membersLimit int
	roomExp      time.Duration
	gracePeriod  time.Duration

	graceMu     sync.Mutex
	graceTimers map[string]clockwork.Timer
}

const roomCodeLength = 8

func NewService(roomRepo iRoomRepo, connRepo iConnRepo, sender iSender, clock clockwork.Clock, logger *slog.Logger, cfg *Config) *service {
	defaultLimit := cfg.DefaultRateLimit
	if defaultLimit <= 0 {
		defaultLimit = 10
	}

	s := service{
		roomRepo:     roomRepo,
		connRepo:     connRepo,
		sender:       sender,
		clock:        clock,
		logger:       logger,
		limiter:      newSlidingWindow(clock, time.Second, cfg.RateLimits, defaultLimit),
		locks:        newKeyedMutex(),
		secret:       cfg.Secret,
		shareBaseURL: cfg.ShareBaseURL,
		membersLimit: cfg.MembersLimit,
		roomExp:      cfg.RoomExp,
		gracePeriod:  cfg.GracePeriod,
		graceTimers:  make(map[string]clockwork.Timer),
	}

	letterBytes := []byte("abcdefghijkmnpqrstuvwxyzABCDEFGHJKLMNPQRSTUVWXYZ23456789")
	s.generator = randstr.New(letterBytes)

	return &s
}

func (s *service) nowMs() int64 {
	return s.clock.Now().UnixMilli()
}
