// Package protocol defines the closed set of events carried over the
// signaling channel. Payload shape is checked once here, at the boundary;
// nothing downstream re-parses raw JSON.
package protocol

import (
	"github.com/pion/webrtc/v4"

	"github.com/voxhall/voxhall/internal/core"
	"github.com/voxhall/voxhall/internal/domain"
)

// Inbound event type tags (client -> server).
const (
	InConnectUser  = "connectUser"
	InJoinServer   = "joinServer"
	InLeaveServer  = "leaveServer"
	InJoinChannel  = "joinChannel"
	InLeaveChannel = "leaveChannel"
	InRTCOffer     = "rtcOffer"
	InRTCAnswer    = "rtcAnswer"
	InRTCCandidate = "rtcIceCandidate"
	InSetStatus    = "setStatus"
	InPing         = "ping"
)

// Envelope carries only the discriminator; the dispatcher decodes the full
// payload once the type is known.
type Envelope struct {
	Type string `json:"type"`
}

type ConnectUser struct {
	SessionToken string `json:"sessionToken"`
}

type JoinServer struct {
	ServerID domain.ServerID `json:"serverId"`
}

type JoinChannel struct {
	ChannelID domain.ChannelID `json:"channelId"`
}

type SetStatus struct {
	Status domain.Status `json:"status"`
}

type RTCOffer struct {
	To    core.ConnID               `json:"to"`
	Offer webrtc.SessionDescription `json:"offer"`
}

type RTCAnswer struct {
	To     core.ConnID               `json:"to"`
	Answer webrtc.SessionDescription `json:"answer"`
}

type RTCCandidate struct {
	To        core.ConnID             `json:"to"`
	Candidate webrtc.ICECandidateInit `json:"candidate"`
}
