package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/voxhall/voxhall/internal/domain"
	"github.com/voxhall/voxhall/internal/store"
)

func newStore(t *testing.T) *store.Store {
	t.Helper()
	s := store.New(store.NewMemoryGateway())
	t.Cleanup(func() { s.Gateway().Close() })
	return s
}

func TestUserRoundtrip(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	u := &domain.User{ID: "u1", Username: "alice", Status: domain.StatusOnline, LastActiveAt: time.Now().UTC()}
	if err := s.SaveUser(ctx, u); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := s.User(ctx, "u1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Username != "alice" || got.Status != domain.StatusOnline {
		t.Fatalf("got %+v", got)
	}

	if _, err := s.User(ctx, "missing"); !errors.Is(err, store.ErrNoRecord) {
		t.Fatalf("missing user err = %v", err)
	}
}

func TestUserByName(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	s.SaveUser(ctx, &domain.User{ID: "u1", Username: "alice"})
	s.SaveUser(ctx, &domain.User{ID: "u2", Username: "bob"})

	got, err := s.UserByName(ctx, "bob")
	if err != nil {
		t.Fatalf("UserByName: %v", err)
	}
	if got.ID != "u2" {
		t.Fatalf("got %+v", got)
	}
	if _, err := s.UserByName(ctx, "carol"); !errors.Is(err, store.ErrNoRecord) {
		t.Fatalf("unknown name err = %v", err)
	}
}

func TestChannelsOfServerFilters(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	s.SaveServer(ctx, &domain.Server{ID: "s1", Name: "one"})
	s.SaveChannel(ctx, &domain.Channel{ID: "ch1", ServerID: "s1", Name: "general"})
	s.SaveChannel(ctx, &domain.Channel{ID: "ch2", ServerID: "s1", Name: "voice"})
	s.SaveChannel(ctx, &domain.Channel{ID: "ch3", ServerID: "s2", Name: "other"})

	chans, err := s.ChannelsOfServer(ctx, "s1")
	if err != nil {
		t.Fatalf("ChannelsOfServer: %v", err)
	}
	if len(chans) != 2 {
		t.Fatalf("got %d channels, want 2", len(chans))
	}
	for _, ch := range chans {
		if ch.ServerID != "s1" {
			t.Fatalf("leaked channel %+v", ch)
		}
	}
}

func TestMembershipQueries(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	s.SaveServer(ctx, &domain.Server{ID: "s1"})
	s.SaveServer(ctx, &domain.Server{ID: "s2"})
	s.SaveMember(ctx, domain.NewMember("u1", "s1"))
	s.SaveMember(ctx, domain.NewMember("u1", "s2"))
	s.SaveMember(ctx, domain.NewMember("u2", "s1"))

	members, err := s.MembersOfServer(ctx, "s1")
	if err != nil {
		t.Fatalf("MembersOfServer: %v", err)
	}
	if len(members) != 2 {
		t.Fatalf("s1 members = %d, want 2", len(members))
	}

	servers, err := s.ServersOfUser(ctx, "u1")
	if err != nil {
		t.Fatalf("ServersOfUser: %v", err)
	}
	if len(servers) != 2 {
		t.Fatalf("u1 servers = %d, want 2", len(servers))
	}
}

func TestCreditMember(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	s.SaveMember(ctx, domain.NewMember("u1", "s1"))

	for i := 0; i < 3; i++ {
		if err := s.CreditMember(ctx, "u1", "s1", 1); err != nil {
			t.Fatalf("credit: %v", err)
		}
	}
	m, err := s.Member(ctx, "u1", "s1")
	if err != nil {
		t.Fatalf("load member: %v", err)
	}
	if m.Contribution != 3 {
		t.Fatalf("contribution = %d, want 3", m.Contribution)
	}

	if err := s.CreditMember(ctx, "ghost", "s1", 1); !errors.Is(err, store.ErrNoRecord) {
		t.Fatalf("crediting a missing membership: %v", err)
	}
}

// The gateway hands out copies; mutating a loaded record must not change
// the stored document until it is saved back.
func TestLoadedRecordIsACopy(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	s.SaveUser(ctx, &domain.User{ID: "u1", Username: "alice"})

	first, _ := s.User(ctx, "u1")
	first.Username = "mallory"

	second, _ := s.User(ctx, "u1")
	if second.Username != "alice" {
		t.Fatalf("stored record mutated through a loaded copy: %+v", second)
	}
}

func TestDelete(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	s.SaveUser(ctx, &domain.User{ID: "u1", Username: "alice"})

	if err := s.Gateway().Delete(ctx, store.CollUsers, "u1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.User(ctx, "u1"); !errors.Is(err, store.ErrNoRecord) {
		t.Fatalf("user survived delete: %v", err)
	}
	// Deleting an absent record is not an error.
	if err := s.Gateway().Delete(ctx, store.CollUsers, "u1"); err != nil {
		t.Fatalf("second delete: %v", err)
	}
}
