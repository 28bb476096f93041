package controller

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/couchsync/couchsync/internal/service/room"
	"github.com/couchsync/couchsync/pkg/protocol"
	"github.com/couchsync/couchsync/pkg/validator"
	"github.com/couchsync/couchsync/pkg/wsrouter"
)

type iRoomService interface {
	CreateRoom(context.Context, *room.CreateRoomParams) (room.CreateRoomResponse, error)
	ResolveRoom(context.Context, *room.ResolveRoomParams) (room.ResolveRoomResponse, error)
	ParseToken(string) (*room.Claims, error)
	JoinRoom(context.Context, *room.JoinRoomParams) (room.JoinRoomResponse, error)
	RemoveParticipant(context.Context, *room.RemoveParticipantParams) (room.RemoveParticipantResponse, error)
	DisconnectConn(context.Context, *websocket.Conn, string) (room.RemoveParticipantResponse, error)
	HostPlay(context.Context, *room.HostPlayParams) error
	HostPause(context.Context, *room.HostPauseParams) error
	HostSeek(context.Context, *room.HostSeekParams) error
	HostTimeSync(context.Context, *room.HostTimeSyncParams) error
	HostSpeedChange(context.Context, *room.HostSpeedChangeParams) error
	RequestRoomState(context.Context, string) (protocol.RoomStatePayload, error)
	RelayReaction(context.Context, *room.RelayReactionParams) error
	RelayChatMessage(context.Context, *room.RelayChatMessageParams) error
}

type iSender interface {
	Send(conn *websocket.Conn, msgType string, payload any) error
}

type controller struct {
	roomService iRoomService
	sender      iSender
	upgrader    websocket.Upgrader
	validate    *validator.Validator
	clock       clockwork.Clock
	logger      *slog.Logger
	wsmux       *wsrouter.WSRouter
}

func NewController(roomService iRoomService, sender iSender, clock clockwork.Clock, logger *slog.Logger) *controller {
	c := controller{
		roomService: roomService,
		sender:      sender,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		validate: validator.NewValidator(),
		clock:    clock,
		logger:   logger,
	}
	c.wsmux = c.initWSMux()

	return &c
}

func (c controller) initWSMux() *wsrouter.WSRouter {
	mux := wsrouter.New()

	mux.Use(c.wsRequestIdMw())
	mux.Use(c.loggerWSMw())

	wsrouter.Handle(mux, protocol.EventJoinRoom, c.handleJoinRoom)
	wsrouter.Handle(mux, protocol.EventLeaveRoom, c.handleLeaveRoom)
	wsrouter.Handle(mux, protocol.EventRequestRoomState, c.handleRequestRoomState)
	wsrouter.Handle(mux, protocol.EventHostPlay, c.handleHostPlay)
	wsrouter.Handle(mux, protocol.EventHostPause, c.handleHostPause)
	wsrouter.Handle(mux, protocol.EventHostSeek, c.handleHostSeek)
	wsrouter.Handle(mux, protocol.EventHostTimeSync, c.handleHostTimeSync)
	wsrouter.Handle(mux, protocol.EventHostSpeedChange, c.handleHostSpeedChange)
	wsrouter.Handle(mux, protocol.EventPing, c.handlePing)
	wsrouter.Handle(mux, protocol.EventReaction, c.handleReaction)
	wsrouter.Handle(mux, protocol.EventChatMessage, c.handleChatMessage)
	mux.HandleUnknown(c.handleUnknown)
	mux.HandleMalformed(c.handleMalformed)

	return mux
}
