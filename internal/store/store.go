// Package store is the persistence gateway: a key-by-id document store for
// users, servers, channels and members. The coordinator treats it as
// crash-consistent at the record level; no cross-record transactions.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/voxhall/voxhall/internal/domain"
)

const (
	CollUsers    = "users"
	CollServers  = "servers"
	CollChannels = "channels"
	CollMembers  = "members"
)

var ErrNoRecord = errors.New("no record")

// Gateway is the raw get/set/delete-by-id contract. List exists because
// membership and channel lists are recomputed, never cached.
type Gateway interface {
	Get(ctx context.Context, collection, id string) ([]byte, error)
	Set(ctx context.Context, collection, id string, doc []byte) error
	Delete(ctx context.Context, collection, id string) error
	List(ctx context.Context, collection string) (map[string][]byte, error)
	Close()
}

// Store wraps a Gateway with typed accessors so callers never touch raw
// documents or collection names.
type Store struct {
	gw Gateway
}

func New(gw Gateway) *Store { return &Store{gw: gw} }

func (s *Store) Gateway() Gateway { return s.gw }

func memberID(userID domain.UserID, serverID domain.ServerID) string {
	return string(userID) + "/" + string(serverID)
}

func get[T any](ctx context.Context, gw Gateway, collection, id string) (*T, error) {
	doc, err := gw.Get(ctx, collection, id)
	if err != nil {
		return nil, err
	}
	var v T
	if err := json.Unmarshal(doc, &v); err != nil {
		return nil, fmt.Errorf("decode %s/%s: %w", collection, id, err)
	}
	return &v, nil
}

func set(ctx context.Context, gw Gateway, collection, id string, v any) error {
	doc, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", collection, id, err)
	}
	return gw.Set(ctx, collection, id, doc)
}

func (s *Store) User(ctx context.Context, id domain.UserID) (*domain.User, error) {
	return get[domain.User](ctx, s.gw, CollUsers, string(id))
}

func (s *Store) SaveUser(ctx context.Context, u *domain.User) error {
	return set(ctx, s.gw, CollUsers, string(u.ID), u)
}

// UserByName scans the collection; fine for the login path, which is rare
// next to signaling traffic.
func (s *Store) UserByName(ctx context.Context, username string) (*domain.User, error) {
	docs, err := s.gw.List(ctx, CollUsers)
	if err != nil {
		return nil, err
	}
	for _, doc := range docs {
		var u domain.User
		if err := json.Unmarshal(doc, &u); err != nil {
			continue
		}
		if u.Username == username {
			return &u, nil
		}
	}
	return nil, ErrNoRecord
}

func (s *Store) Server(ctx context.Context, id domain.ServerID) (*domain.Server, error) {
	return get[domain.Server](ctx, s.gw, CollServers, string(id))
}

func (s *Store) SaveServer(ctx context.Context, srv *domain.Server) error {
	return set(ctx, s.gw, CollServers, string(srv.ID), srv)
}

func (s *Store) Servers(ctx context.Context) ([]domain.Server, error) {
	docs, err := s.gw.List(ctx, CollServers)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Server, 0, len(docs))
	for _, doc := range docs {
		var srv domain.Server
		if err := json.Unmarshal(doc, &srv); err != nil {
			continue
		}
		out = append(out, srv)
	}
	return out, nil
}

func (s *Store) Channel(ctx context.Context, id domain.ChannelID) (*domain.Channel, error) {
	return get[domain.Channel](ctx, s.gw, CollChannels, string(id))
}

func (s *Store) SaveChannel(ctx context.Context, ch *domain.Channel) error {
	return set(ctx, s.gw, CollChannels, string(ch.ID), ch)
}

func (s *Store) ChannelsOfServer(ctx context.Context, serverID domain.ServerID) ([]domain.Channel, error) {
	docs, err := s.gw.List(ctx, CollChannels)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Channel, 0)
	for _, doc := range docs {
		var ch domain.Channel
		if err := json.Unmarshal(doc, &ch); err != nil {
			continue
		}
		if ch.ServerID == serverID {
			out = append(out, ch)
		}
	}
	return out, nil
}

func (s *Store) Member(ctx context.Context, userID domain.UserID, serverID domain.ServerID) (*domain.Member, error) {
	return get[domain.Member](ctx, s.gw, CollMembers, memberID(userID, serverID))
}

func (s *Store) SaveMember(ctx context.Context, m *domain.Member) error {
	return set(ctx, s.gw, CollMembers, memberID(m.UserID, m.ServerID), m)
}

func (s *Store) MembersOfServer(ctx context.Context, serverID domain.ServerID) ([]domain.Member, error) {
	docs, err := s.gw.List(ctx, CollMembers)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Member, 0)
	for _, doc := range docs {
		var m domain.Member
		if err := json.Unmarshal(doc, &m); err != nil {
			continue
		}
		if m.ServerID == serverID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *Store) MembershipsOfUser(ctx context.Context, userID domain.UserID) ([]domain.Member, error) {
	docs, err := s.gw.List(ctx, CollMembers)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Member, 0)
	for _, doc := range docs {
		var m domain.Member
		if err := json.Unmarshal(doc, &m); err != nil {
			continue
		}
		if m.UserID == userID {
			out = append(out, m)
		}
	}
	return out, nil
}

// ServersOfUser resolves the servers a user holds memberships on, for the
// connect-time view data.
func (s *Store) ServersOfUser(ctx context.Context, userID domain.UserID) ([]domain.Server, error) {
	memberships, err := s.MembershipsOfUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Server, 0, len(memberships))
	for _, m := range memberships {
		srv, err := s.Server(ctx, m.ServerID)
		if err != nil {
			if errors.Is(err, ErrNoRecord) {
				continue
			}
			return nil, err
		}
		out = append(out, *srv)
	}
	return out, nil
}

// CreditMember bumps the contribution counter on a membership record.
// Called from the accrual timer tick.
func (s *Store) CreditMember(ctx context.Context, userID domain.UserID, serverID domain.ServerID, amount int64) error {
	m, err := s.Member(ctx, userID, serverID)
	if err != nil {
		return err
	}
	m.Contribution += amount
	return s.SaveMember(ctx, m)
}
