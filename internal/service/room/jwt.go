package room

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/couchsync/couchsync/pkg/protocol"
)

// Claims scope a connect token to one user inside one room with one role.
type Claims struct {
	UserID string
	RoomID string
	Role   protocol.Role
}

func (s *service) generateToken(claims *Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": claims.UserID,
		"room_id": claims.RoomID,
		"role":    string(claims.Role),
		"exp":     s.clock.Now().Add(s.roomExp).Unix(),
	})

	return token.SignedString([]byte(s.secret))
}

func (s *service) ParseToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, jwt.MapClaims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.secret), nil
	}, jwt.WithTimeFunc(s.clock.Now))
	if err != nil {
		return nil, err
	}

	if !token.Valid {
		return nil, errors.New("invalid token")
	}

	mapClaims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("invalid token claims")
	}

	userID, _ := mapClaims["user_id"].(string)
	roomID, _ := mapClaims["room_id"].(string)
	role, _ := mapClaims["role"].(string)
	if userID == "" || roomID == "" {
		return nil, errors.New("invalid token claims")
	}

	return &Claims{
		UserID: userID,
		RoomID: roomID,
		Role:   protocol.Role(role),
	}, nil
}
