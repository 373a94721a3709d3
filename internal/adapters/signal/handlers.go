package signal

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/voxhall/voxhall/internal/apperr"
	"github.com/voxhall/voxhall/internal/core"
	"github.com/voxhall/voxhall/internal/protocol"
)

// dispatch decodes the payload once per event type and hands off to the
// engine. Unknown types are logged, not errors: newer clients may speak a
// superset.
func (ctl *Controller) dispatch(ctx context.Context, connID core.ConnID, c *wsConn, data []byte) {
	var env protocol.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad json")
		return
	}

	switch env.Type {
	case protocol.InConnectUser:
		ctl.handleConnectUser(ctx, connID, c, data)
	case protocol.InJoinServer:
		ctl.handleJoinServer(ctx, connID, c, data)
	case protocol.InLeaveServer:
		if err := ctl.Engine.LeaveServer(ctx, connID); err != nil {
			ctl.sendErr(c, err)
		}
	case protocol.InJoinChannel:
		ctl.handleJoinChannel(ctx, connID, c, data)
	case protocol.InLeaveChannel:
		if err := ctl.Engine.LeaveChannel(ctx, connID); err != nil {
			ctl.sendErr(c, err)
		}
	case protocol.InRTCOffer, protocol.InRTCAnswer, protocol.InRTCCandidate:
		ctl.handleRTC(connID, c, env.Type, data)
	case protocol.InSetStatus:
		ctl.handleSetStatus(ctx, connID, c, data)
	case protocol.InPing:
		ctl.sendEvent(c, protocol.NewPong())
	default:
		log.Warn().Str("module", "signal").Str("type", env.Type).Msg("unknown signal")
	}
}

func (ctl *Controller) handleConnectUser(ctx context.Context, connID core.ConnID, c *wsConn, data []byte) {
	var p protocol.ConnectUser
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad connectUser payload")
		return
	}
	ev, err := ctl.Engine.ConnectUser(ctx, p.SessionToken, connID, c)
	if err != nil {
		ctl.sendErr(c, err)
		return
	}
	ctl.sendEvent(c, ev)
}

func (ctl *Controller) handleJoinServer(ctx context.Context, connID core.ConnID, c *wsConn, data []byte) {
	var p protocol.JoinServer
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad joinServer payload")
		return
	}
	if !ctl.allowJoin(connID, c, "server.join") {
		return
	}
	ev, err := ctl.Engine.JoinServer(ctx, connID, p.ServerID)
	if err != nil {
		ctl.sendErr(c, err)
		return
	}
	ctl.sendEvent(c, ev)
}

func (ctl *Controller) handleJoinChannel(ctx context.Context, connID core.ConnID, c *wsConn, data []byte) {
	var p protocol.JoinChannel
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad joinChannel payload")
		return
	}
	if !ctl.allowJoin(connID, c, "channel.join") {
		return
	}
	ev, err := ctl.Engine.JoinChannel(ctx, connID, p.ChannelID)
	if err != nil {
		ctl.sendErr(c, err)
		return
	}
	ctl.sendEvent(c, ev)
}

func (ctl *Controller) handleSetStatus(ctx context.Context, connID core.ConnID, c *wsConn, data []byte) {
	var p protocol.SetStatus
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad setStatus payload")
		return
	}
	if err := ctl.Engine.SetStatus(ctx, connID, p.Status); err != nil {
		ctl.sendErr(c, err)
	}
}

// allowJoin gates join attempts through the per-user sliding window.
func (ctl *Controller) allowJoin(connID core.ConnID, c *wsConn, part string) bool {
	userID, err := ctl.Engine.ResolveUser(connID)
	if err != nil {
		ctl.sendErr(c, err)
		return false
	}
	if !ctl.Limiter.Allow(userID) {
		ctl.sendErr(c, apperr.RateLimited(part))
		return false
	}
	return true
}

func (ctl *Controller) sendEvent(c *wsConn, e protocol.Event) {
	frame, err := protocol.Marshal(e)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("event", e.EventType()).Msg("marshal event")
		return
	}
	if err := c.TrySend(frame); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("event", e.EventType()).Msg("send dropped")
	}
}

// sendErr surfaces a taxonomy error to the originating connection. Any
// other error is logged in full server-side and surfaced sanitized.
func (ctl *Controller) sendErr(c *wsConn, err error) {
	if ae, ok := apperr.As(err); ok {
		if ae.Tag == "EXCEPTION_ERROR" {
			log.Error().Err(ae.Unwrap()).Str("module", "signal").Str("part", ae.Part).Msg("internal error")
		}
		ctl.sendEvent(c, protocol.NewErrorEvent(ae.Part, ae.Tag, ae.Message, ae.Status))
		return
	}
	log.Error().Err(err).Str("module", "signal").Msg("unexpected error")
	ctl.sendEvent(c, protocol.NewErrorEvent("signal", "EXCEPTION_ERROR", "internal server error", 500))
}
