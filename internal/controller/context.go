package controller

import (
	"context"

	"github.com/couchsync/couchsync/internal/service/room"
)

type contextKey int

const claimsCtxKey contextKey = iota

func (c controller) getClaimsFromCtx(ctx context.Context) *room.Claims {
	claims, ok := ctx.Value(claimsCtxKey).(*room.Claims)
	if !ok {
		return nil
	}

	return claims
}
