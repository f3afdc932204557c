package services

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/can61cebi/sorukayisi-backend/game"
)

const eventTimeout = 5 * time.Second

// GameGateway translates websocket frames into engine operations. It owns no
// game state; every decision is made by the engine behind the coordinator.
type GameGateway struct {
	log      zerolog.Logger
	hub      *Hub
	games    *game.Coordinator
	recovery *game.RecoveryManager
}

func NewGameGateway(log zerolog.Logger, hub *Hub, games *game.Coordinator, recovery *game.RecoveryManager) *GameGateway {
	return &GameGateway{
		log:      log.With().Str("component", "gateway").Logger(),
		hub:      hub,
		games:    games,
		recovery: recovery,
	}
}

func (g *GameGateway) HandleMessage(c *Client, data []byte) {
	ev, err := game.ParseClientEvent(data)
	if err != nil {
		g.sendError(c, err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()
	info := g.hub.Info(c)

	switch ev := ev.(type) {
	case *game.PingEvent:
		g.hub.Touch(c)
		g.hub.Send(info.SessionID, game.Message{Type: game.MsgPong})

	case *game.JoinLobbyEvent:
		eng, err := g.games.Get(ev.GameCode)
		if err != nil {
			g.sendError(c, err)
			return
		}
		var user *game.UserRef
		if info.UserID != nil {
			user = &game.UserRef{ID: *info.UserID, Username: info.Username}
		}
		if _, err := eng.Join(ctx, info.SessionID, ev.Nickname, user); err != nil {
			g.sendError(c, err)
		}

	case *game.StartGameEvent:
		eng, err := g.games.Get(ev.GameCode)
		if err != nil {
			g.sendError(c, err)
			return
		}
		if err := eng.Start(ctx, info.SessionID, info.UserID); err != nil {
			g.sendError(c, err)
		}

	case *game.SubmitAnswerEvent:
		eng, err := g.boundGame(info)
		if err != nil {
			g.sendError(c, err)
			return
		}
		if err := eng.Submit(ctx, info.SessionID, ev.QuestionID, ev.Answer); err != nil {
			g.sendError(c, err)
		}

	case *game.NextQuestionEvent:
		eng, err := g.games.Get(ev.GameCode)
		if err != nil {
			g.sendError(c, err)
			return
		}
		if err := eng.Advance(ctx, info.SessionID, info.UserID); err != nil {
			g.sendError(c, err)
		}

	case *game.EndGameEvent:
		eng, err := g.games.Get(ev.GameCode)
		if err != nil {
			g.sendError(c, err)
			return
		}
		if err := eng.ForceEnd(ctx, info.SessionID, info.UserID); err != nil {
			g.sendError(c, err)
		}

	case *game.ReconnectEvent:
		if _, err := g.recovery.Recover(ctx, ev.OldSessionID, info.SessionID); err != nil {
			g.sendError(c, err)
		}

	case *game.LeaveEvent:
		eng, err := g.boundGame(info)
		if err != nil {
			return
		}
		if err := eng.Leave(ctx, info.SessionID); err != nil {
			g.sendError(c, err)
		}

	default:
		g.log.Error().Str("session_id", info.SessionID).Msg("unhandled client event variant")
	}
}

func (g *GameGateway) HandleDisconnect(c *Client) {
	info := g.hub.Info(c)
	if info.GameCode == "" {
		return
	}
	eng, err := g.games.Get(info.GameCode)
	if err != nil {
		return
	}
	eng.HandleDisconnect(info.SessionID)
}

// boundGame resolves the game the session is already bound to, for events
// that do not carry a code.
func (g *GameGateway) boundGame(info ClientInfo) (*game.Engine, error) {
	if info.GameCode == "" {
		return nil, game.ErrGameNotFound
	}
	return g.games.Get(info.GameCode)
}

func (g *GameGateway) sendError(c *Client, err error) {
	g.hub.Send(c.sessionID, game.Message{
		Type:    game.MsgError,
		Payload: game.ErrorPayload{Code: game.ErrorCode(err), Message: err.Error()},
	})
}
