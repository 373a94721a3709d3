package app_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/voxhall/voxhall/internal/app"
	"github.com/voxhall/voxhall/internal/core"
	"github.com/voxhall/voxhall/internal/domain"
	"github.com/voxhall/voxhall/internal/store"
)

// fakeConn records every frame it is handed, in order.
type fakeConn struct {
	mu     sync.Mutex
	frames []core.Frame
	closed bool
}

func (f *fakeConn) TrySend(fr core.Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errors.New("connection closed")
	}
	cp := make(core.Frame, len(fr))
	copy(cp, fr)
	f.frames = append(f.frames, cp)
	return nil
}

func (f *fakeConn) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

func (f *fakeConn) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// eventTypes decodes the envelope of every received frame.
func (f *fakeConn) eventTypes(t *testing.T) []string {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.frames))
	for _, fr := range f.frames {
		var env struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(fr, &env); err != nil {
			t.Fatalf("bad frame %q: %v", fr, err)
		}
		out = append(out, env.Type)
	}
	return out
}

func (f *fakeConn) countType(t *testing.T, typ string) int {
	t.Helper()
	n := 0
	for _, got := range f.eventTypes(t) {
		if got == typ {
			n++
		}
	}
	return n
}

// lastOfType decodes the most recent frame of the given type into v.
func (f *fakeConn) lastOfType(t *testing.T, typ string, v any) bool {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.frames) - 1; i >= 0; i-- {
		var env struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(f.frames[i], &env); err != nil {
			t.Fatalf("bad frame %q: %v", f.frames[i], err)
		}
		if env.Type != typ {
			continue
		}
		if err := json.Unmarshal(f.frames[i], v); err != nil {
			t.Fatalf("decode %s: %v", typ, err)
		}
		return true
	}
	return false
}

// tokenMap is a static token verifier; tokens look like "tok-<user>".
type tokenMap map[string]domain.UserID

func (m tokenMap) Verify(token string) (domain.UserID, error) {
	if id, ok := m[token]; ok {
		return id, nil
	}
	return "", errors.New("unknown token")
}

type fixture struct {
	engine   *app.Engine
	sessions *app.SessionRegistry
	rooms    *app.Router
	relay    *app.Relay
	contrib  *app.ContribTimers
	records  *store.Store
	tokens   tokenMap
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureInterval(t, time.Hour)
}

// newFixtureInterval lets timer tests pick a fast accrual tick.
func newFixtureInterval(t *testing.T, contribInterval time.Duration) *fixture {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	records := store.New(store.NewMemoryGateway())
	tokens := tokenMap{}
	sessions := app.NewSessionRegistry(tokens)
	rooms := app.NewRouter()
	relay := app.NewRelay(rooms)
	contrib := app.NewContribTimers(ctx, contribInterval, records)
	engine := app.NewEngine(sessions, rooms, relay, contrib, records)
	return &fixture{
		engine:   engine,
		sessions: sessions,
		rooms:    rooms,
		relay:    relay,
		contrib:  contrib,
		records:  records,
		tokens:   tokens,
	}
}

func (f *fixture) seedUser(t *testing.T, id domain.UserID) *domain.User {
	t.Helper()
	u := &domain.User{ID: id, Username: string(id), Status: domain.StatusGone}
	if err := f.records.SaveUser(context.Background(), u); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	f.tokens["tok-"+string(id)] = id
	return u
}

func (f *fixture) seedServer(t *testing.T, id domain.ServerID, vis domain.Visibility) *domain.Server {
	t.Helper()
	s := &domain.Server{ID: id, Name: string(id), Visibility: vis, CreatedAt: time.Now()}
	if err := f.records.SaveServer(context.Background(), s); err != nil {
		t.Fatalf("seed server: %v", err)
	}
	return s
}

func (f *fixture) seedChannel(t *testing.T, id domain.ChannelID, serverID domain.ServerID, vis domain.Visibility) *domain.Channel {
	t.Helper()
	ch := &domain.Channel{ID: id, ServerID: serverID, Name: string(id), Visibility: vis, CreatedAt: time.Now()}
	if err := f.records.SaveChannel(context.Background(), ch); err != nil {
		t.Fatalf("seed channel: %v", err)
	}
	return ch
}

func (f *fixture) seedMember(t *testing.T, userID domain.UserID, serverID domain.ServerID, level int, blocked bool) *domain.Member {
	t.Helper()
	m := domain.NewMember(userID, serverID)
	m.PermissionLevel = level
	m.IsBlocked = blocked
	if err := f.records.SaveMember(context.Background(), m); err != nil {
		t.Fatalf("seed member: %v", err)
	}
	return m
}

// connect authenticates a fresh fake connection for the given user.
func (f *fixture) connect(t *testing.T, userID domain.UserID, connID core.ConnID) *fakeConn {
	t.Helper()
	conn := &fakeConn{}
	if _, err := f.engine.ConnectUser(context.Background(), "tok-"+string(userID), connID, conn); err != nil {
		t.Fatalf("connect %s: %v", userID, err)
	}
	return conn
}
