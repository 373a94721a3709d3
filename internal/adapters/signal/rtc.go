package signal

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/voxhall/voxhall/internal/core"
	"github.com/voxhall/voxhall/internal/protocol"
)

// handleRTC forwards handshake messages without looking at the SDP or
// candidate contents. A missing target is benign; the sender times out.
func (ctl *Controller) handleRTC(connID core.ConnID, c *wsConn, kind string, data []byte) {
	// Only bound connections may relay.
	if _, err := ctl.Engine.ResolveUser(connID); err != nil {
		ctl.sendErr(c, err)
		return
	}

	switch kind {
	case protocol.InRTCOffer:
		var p protocol.RTCOffer
		if err := json.Unmarshal(data, &p); err != nil {
			log.Error().Err(err).Str("module", "signal").Msg("bad offer payload")
			return
		}
		ctl.Engine.RelayOffer(connID, p.To, p.Offer)
	case protocol.InRTCAnswer:
		var p protocol.RTCAnswer
		if err := json.Unmarshal(data, &p); err != nil {
			log.Error().Err(err).Str("module", "signal").Msg("bad answer payload")
			return
		}
		ctl.Engine.RelayAnswer(connID, p.To, p.Answer)
	case protocol.InRTCCandidate:
		var p protocol.RTCCandidate
		if err := json.Unmarshal(data, &p); err != nil {
			log.Error().Err(err).Str("module", "signal").Msg("bad candidate payload")
			return
		}
		ctl.Engine.RelayCandidate(connID, p.To, p.Candidate)
	}
}
