package app_test

import (
	"testing"

	"github.com/pion/webrtc/v4"

	"github.com/voxhall/voxhall/internal/app"
	"github.com/voxhall/voxhall/internal/core"
)

func TestRelayOfferVerbatim(t *testing.T) {
	rt := app.NewRouter()
	rl := app.NewRelay(rt)
	b, c := &fakeConn{}, &fakeConn{}
	rt.Register("conn-b", b)
	rt.Register("conn-c", c)

	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 test-sdp"}
	rl.RelayOffer("conn-a", "conn-b", offer)

	var got struct {
		Type  string                    `json:"type"`
		From  core.ConnID               `json:"from"`
		Offer webrtc.SessionDescription `json:"offer"`
	}
	if !b.lastOfType(t, "rtcOffer", &got) {
		t.Fatal("target never received the offer")
	}
	if got.From != "conn-a" {
		t.Fatalf("from = %s", got.From)
	}
	if got.Offer.SDP != offer.SDP || got.Offer.Type != offer.Type {
		t.Fatalf("offer transformed in transit: %+v", got.Offer)
	}
	if len(c.eventTypes(t)) != 0 {
		t.Fatal("unrelated connection received the unicast")
	}
}

func TestRelayAnswerAndCandidate(t *testing.T) {
	rt := app.NewRouter()
	rl := app.NewRelay(rt)
	b := &fakeConn{}
	rt.Register("conn-b", b)

	rl.RelayAnswer("conn-a", "conn-b", webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer-sdp"})
	mid := "0"
	rl.RelayCandidate("conn-a", "conn-b", webrtc.ICECandidateInit{Candidate: "candidate:1", SDPMid: &mid})

	if n := b.countType(t, "rtcAnswer"); n != 1 {
		t.Fatalf("rtcAnswer delivered %d times", n)
	}
	var cand struct {
		From      core.ConnID             `json:"from"`
		Candidate webrtc.ICECandidateInit `json:"candidate"`
	}
	if !b.lastOfType(t, "rtcIceCandidate", &cand) {
		t.Fatal("candidate never arrived")
	}
	if cand.Candidate.Candidate != "candidate:1" || cand.Candidate.SDPMid == nil || *cand.Candidate.SDPMid != "0" {
		t.Fatalf("candidate transformed: %+v", cand.Candidate)
	}
}

// A gone target is benign: nothing is delivered, nothing panics, no error
// reaches the sender through the relay.
func TestRelayTargetGone(t *testing.T) {
	rt := app.NewRouter()
	rl := app.NewRelay(rt)

	rl.RelayOffer("conn-a", "conn-ghost", webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "x"})
	rl.RelayAnswer("conn-a", "conn-ghost", webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "x"})
	rl.RelayCandidate("conn-a", "conn-ghost", webrtc.ICECandidateInit{Candidate: "c"})
}

func TestNotifyPeersOnJoinExcludesJoiner(t *testing.T) {
	rt := app.NewRouter()
	rl := app.NewRelay(rt)
	a, joiner := &fakeConn{}, &fakeConn{}
	rt.Register("conn-a", a)
	rt.Register("conn-j", joiner)
	rt.Join(app.KindChannel, "ch1", "conn-a", a)

	rl.NotifyPeersOnJoin("ch1", "conn-j", joiner)

	if n := a.countType(t, "peerJoined"); n != 1 {
		t.Fatalf("existing peer got %d peerJoined", n)
	}
	var roster struct {
		Peers []core.ConnID `json:"peers"`
	}
	if !joiner.lastOfType(t, "voiceRoster", &roster) {
		t.Fatal("joiner never got the roster")
	}
	if len(roster.Peers) != 1 || roster.Peers[0] != "conn-a" {
		t.Fatalf("roster = %v", roster.Peers)
	}
	if n := joiner.countType(t, "peerJoined"); n != 0 {
		t.Fatal("joiner notified about itself")
	}
}
