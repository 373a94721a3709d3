package protocol

import (
	"encoding/json"

	"github.com/pion/webrtc/v4"

	"github.com/voxhall/voxhall/internal/core"
	"github.com/voxhall/voxhall/internal/domain"
)

// Event is any outbound message. Constructors set the type tag; handlers
// never build envelopes by hand.
type Event interface {
	EventType() string
}

// Marshal serializes an outbound event into a transport frame.
func Marshal(e Event) (core.Frame, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return core.Frame(b), nil
}

type typed struct {
	Type string `json:"type"`
}

func (t typed) EventType() string { return t.Type }

type UserConnected struct {
	typed
	User    domain.User     `json:"user"`
	Servers []domain.Server `json:"servers"`
}

func NewUserConnected(u domain.User, servers []domain.Server) UserConnected {
	return UserConnected{typed: typed{"userConnected"}, User: u, Servers: servers}
}

type UserDisconnected struct {
	typed
	UserID domain.UserID `json:"userId"`
}

func NewUserDisconnected(id domain.UserID) UserDisconnected {
	return UserDisconnected{typed: typed{"userDisconnected"}, UserID: id}
}

type UserUpdated struct {
	typed
	UserID domain.UserID  `json:"userId"`
	Patch  map[string]any `json:"patch"`
}

func NewUserUpdated(id domain.UserID, patch map[string]any) UserUpdated {
	return UserUpdated{typed: typed{"userUpdated"}, UserID: id, Patch: patch}
}

type ServerConnected struct {
	typed
	Server   domain.Server    `json:"server"`
	Members  []domain.Member  `json:"members"`
	Channels []domain.Channel `json:"channels"`
}

func NewServerConnected(s domain.Server, members []domain.Member, channels []domain.Channel) ServerConnected {
	return ServerConnected{typed: typed{"serverConnected"}, Server: s, Members: members, Channels: channels}
}

type ServerDisconnected struct {
	typed
	ServerID domain.ServerID `json:"serverId"`
}

func NewServerDisconnected(id domain.ServerID) ServerDisconnected {
	return ServerDisconnected{typed: typed{"serverDisconnected"}, ServerID: id}
}

type ServerUpdated struct {
	typed
	ServerID domain.ServerID `json:"serverId"`
	Patch    map[string]any  `json:"patch"`
}

func NewServerUpdated(id domain.ServerID, patch map[string]any) ServerUpdated {
	return ServerUpdated{typed: typed{"serverUpdated"}, ServerID: id, Patch: patch}
}

type ChannelConnected struct {
	typed
	Channel domain.Channel `json:"channel"`
}

func NewChannelConnected(ch domain.Channel) ChannelConnected {
	return ChannelConnected{typed: typed{"channelConnected"}, Channel: ch}
}

type ChannelDisconnected struct {
	typed
	ChannelID domain.ChannelID `json:"channelId"`
}

func NewChannelDisconnected(id domain.ChannelID) ChannelDisconnected {
	return ChannelDisconnected{typed: typed{"channelDisconnected"}, ChannelID: id}
}

type ChannelUpdated struct {
	typed
	ChannelID domain.ChannelID `json:"channelId"`
	Patch     map[string]any   `json:"patch"`
}

func NewChannelUpdated(id domain.ChannelID, patch map[string]any) ChannelUpdated {
	return ChannelUpdated{typed: typed{"channelUpdated"}, ChannelID: id, Patch: patch}
}

type PeerJoined struct {
	typed
	ConnID core.ConnID `json:"connectionId"`
}

func NewPeerJoined(id core.ConnID) PeerJoined {
	return PeerJoined{typed: typed{"peerJoined"}, ConnID: id}
}

type PeerLeft struct {
	typed
	ConnID core.ConnID `json:"connectionId"`
}

func NewPeerLeft(id core.ConnID) PeerLeft {
	return PeerLeft{typed: typed{"peerLeft"}, ConnID: id}
}

// VoiceRoster tells a joiner who is already in the channel so it can
// initiate one offer per existing peer.
type VoiceRoster struct {
	typed
	ChannelID domain.ChannelID `json:"channelId"`
	Peers     []core.ConnID    `json:"peers"`
}

func NewVoiceRoster(ch domain.ChannelID, peers []core.ConnID) VoiceRoster {
	return VoiceRoster{typed: typed{"voiceRoster"}, ChannelID: ch, Peers: peers}
}

type RTCOfferForward struct {
	typed
	From  core.ConnID               `json:"from"`
	Offer webrtc.SessionDescription `json:"offer"`
}

func NewRTCOfferForward(from core.ConnID, offer webrtc.SessionDescription) RTCOfferForward {
	return RTCOfferForward{typed: typed{InRTCOffer}, From: from, Offer: offer}
}

type RTCAnswerForward struct {
	typed
	From   core.ConnID               `json:"from"`
	Answer webrtc.SessionDescription `json:"answer"`
}

func NewRTCAnswerForward(from core.ConnID, answer webrtc.SessionDescription) RTCAnswerForward {
	return RTCAnswerForward{typed: typed{InRTCAnswer}, From: from, Answer: answer}
}

type RTCCandidateForward struct {
	typed
	From      core.ConnID             `json:"from"`
	Candidate webrtc.ICECandidateInit `json:"candidate"`
}

func NewRTCCandidateForward(from core.ConnID, cand webrtc.ICECandidateInit) RTCCandidateForward {
	return RTCCandidateForward{typed: typed{InRTCCandidate}, From: from, Candidate: cand}
}

type ForceDisconnected struct {
	typed
}

func NewForceDisconnected() ForceDisconnected {
	return ForceDisconnected{typed: typed{"forceDisconnected"}}
}

type Pong struct {
	typed
}

func NewPong() Pong { return Pong{typed: typed{"pong"}} }

type ErrorEvent struct {
	typed
	Message    string `json:"message"`
	Part       string `json:"part"`
	Tag        string `json:"tag"`
	StatusCode int    `json:"statusCode"`
}

func NewErrorEvent(part, tag, message string, status int) ErrorEvent {
	return ErrorEvent{typed: typed{"error"}, Message: message, Part: part, Tag: tag, StatusCode: status}
}
