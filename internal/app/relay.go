package app

import (
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/voxhall/voxhall/internal/core"
	"github.com/voxhall/voxhall/internal/domain"
	"github.com/voxhall/voxhall/internal/protocol"
)

// Relay brokers the WebRTC handshake between pairs of connections sharing
// a voice channel. It never inspects payloads and holds no per-pair state;
// retries and renegotiation belong to the peers.
type Relay struct {
	rooms *Router
}

func NewRelay(rooms *Router) *Relay {
	return &Relay{rooms: rooms}
}

// NotifyPeersOnJoin registers the joiner in the channel room, tells the
// existing members a peer joined and hands the joiner the roster so it can
// initiate one offer per peer.
func (rl *Relay) NotifyPeersOnJoin(channelID domain.ChannelID, connID core.ConnID, conn core.Conn) {
	roster := rl.rooms.JoinWithNotice(KindChannel, string(channelID), connID, conn, protocol.NewPeerJoined(connID))
	rl.rooms.Broadcast(Self(connID), protocol.NewVoiceRoster(channelID, roster))
	log.Info().Str("module", "app.relay").Str("channel", string(channelID)).Str("conn", string(connID)).Int("peers", len(roster)).Msg("peer joined voice channel")
}

// NotifyPeersOnLeave removes the connection from the channel room and
// tells the remaining members to tear down their corresponding peer link.
func (rl *Relay) NotifyPeersOnLeave(channelID domain.ChannelID, connID core.ConnID) {
	rl.rooms.LeaveWithNotice(KindChannel, string(channelID), connID, protocol.NewPeerLeft(connID))
	log.Info().Str("module", "app.relay").Str("channel", string(channelID)).Str("conn", string(connID)).Msg("peer left voice channel")
}

// forward is a direct unicast. A gone target is expected and benign: the
// originating peer times out and cleans up its own attempt. Room
// membership is deliberately not re-checked per message, so in-flight
// renegotiation survives a fast rejoin.
func (rl *Relay) forward(to core.ConnID, event protocol.Event) {
	conn, ok := rl.rooms.Conn(to)
	if !ok {
		log.Debug().Str("module", "app.relay").Str("to", string(to)).Str("event", event.EventType()).Msg("relay target gone")
		return
	}
	frame, err := protocol.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("module", "app.relay").Msg("marshal relay event")
		return
	}
	if err := conn.TrySend(frame); err != nil {
		log.Debug().Err(err).Str("module", "app.relay").Str("to", string(to)).Msg("relay send dropped")
	}
}

func (rl *Relay) RelayOffer(from, to core.ConnID, offer webrtc.SessionDescription) {
	rl.forward(to, protocol.NewRTCOfferForward(from, offer))
}

func (rl *Relay) RelayAnswer(from, to core.ConnID, answer webrtc.SessionDescription) {
	rl.forward(to, protocol.NewRTCAnswerForward(from, answer))
}

func (rl *Relay) RelayCandidate(from, to core.ConnID, cand webrtc.ICECandidateInit) {
	rl.forward(to, protocol.NewRTCCandidateForward(from, cand))
}
