package app

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/voxhall/voxhall/internal/apperr"
	"github.com/voxhall/voxhall/internal/core"
	"github.com/voxhall/voxhall/internal/domain"
)

// TokenVerifier resolves an opaque session token to a user identity.
// Credential issuance lives elsewhere; the registry only consumes tokens.
type TokenVerifier interface {
	Verify(token string) (domain.UserID, error)
}

type session struct {
	token  string
	userID domain.UserID
	connID core.ConnID // "" while no live connection is bound
}

// SessionRegistry owns the token -> user and connection -> user maps.
// At most one live connection per user; the swap itself happens here,
// the takeover cascade is driven by the presence engine under its
// per-user lock.
type SessionRegistry struct {
	verifier TokenVerifier

	mu      sync.RWMutex
	byToken map[string]*session
	byUser  map[domain.UserID]*session
	byConn  map[core.ConnID]*session
	conns   map[core.ConnID]core.Conn
}

func NewSessionRegistry(verifier TokenVerifier) *SessionRegistry {
	return &SessionRegistry{
		verifier: verifier,
		byToken:  make(map[string]*session),
		byUser:   make(map[domain.UserID]*session),
		byConn:   make(map[core.ConnID]*session),
		conns:    make(map[core.ConnID]core.Conn),
	}
}

// BindSession resolves a token to a user identity, creating the session
// entry on first sight.
func (r *SessionRegistry) BindSession(token string) (domain.UserID, error) {
	userID, err := r.verifier.Verify(token)
	if err != nil {
		return "", apperr.SessionExpired("session.bind")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.byToken[token]; ok {
		return s.userID, nil
	}
	s := &session{token: token, userID: userID}
	// A fresh token for a user with a live connection (second device login)
	// inherits the binding so Attach still sees the takeover.
	if old, ok := r.byUser[userID]; ok && old.connID != "" {
		s.connID = old.connID
		r.byConn[old.connID] = s
	}
	r.byToken[token] = s
	r.byUser[userID] = s
	log.Info().Str("module", "app.sessions").Str("user", string(userID)).Msg("session bound")
	return userID, nil
}

// Attach binds connID as the sole live connection for userID and returns
// the superseded connection, if any. Callers hold the per-user lock and
// run the takeover cascade on the returned connection first.
func (r *SessionRegistry) Attach(userID domain.UserID, connID core.ConnID, conn core.Conn) (core.ConnID, core.Conn, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// The connection may be re-authenticating as a different identity.
	// Its old session must stop claiming it, or ConnOf for the old user
	// would keep reporting a connection that user no longer owns.
	if prior, ok := r.byConn[connID]; ok && prior.userID != userID {
		prior.connID = ""
		log.Info().Str("module", "app.sessions").Str("user", string(prior.userID)).Str("conn", string(connID)).Msg("connection released by previous identity")
	}

	s, ok := r.byUser[userID]
	if !ok {
		s = &session{userID: userID}
		r.byUser[userID] = s
	}

	var prevID core.ConnID
	var prevConn core.Conn
	had := false
	if s.connID != "" && s.connID != connID {
		prevID = s.connID
		prevConn = r.conns[prevID]
		had = true
		delete(r.byConn, prevID)
		delete(r.conns, prevID)
	}

	s.connID = connID
	r.byConn[connID] = s
	r.conns[connID] = conn
	log.Info().Str("module", "app.sessions").Str("user", string(userID)).Str("conn", string(connID)).Bool("takeover", had).Msg("connection attached")
	return prevID, prevConn, had
}

// Detach clears the session's connection binding and returns the affected
// user so presence can be marked offline.
func (r *SessionRegistry) Detach(connID core.ConnID) (domain.UserID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.byConn[connID]
	if !ok {
		return "", apperr.NotFound("session.detach")
	}
	delete(r.byConn, connID)
	delete(r.conns, connID)
	s.connID = ""
	log.Info().Str("module", "app.sessions").Str("user", string(s.userID)).Str("conn", string(connID)).Msg("connection detached")
	return s.userID, nil
}

func (r *SessionRegistry) ResolveUser(connID core.ConnID) (domain.UserID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byConn[connID]
	if !ok {
		return "", apperr.NotFound("session.resolve")
	}
	return s.userID, nil
}

// ConnOf reports the live connection currently bound to a user.
func (r *SessionRegistry) ConnOf(userID domain.UserID) (core.ConnID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byUser[userID]
	if !ok || s.connID == "" {
		return "", false
	}
	return s.connID, true
}

func (r *SessionRegistry) Conn(connID core.ConnID) (core.Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[connID]
	return c, ok
}

// Invalidate drops a session by token (logout). The live connection, if
// any, is left for the presence engine to tear down.
func (r *SessionRegistry) Invalidate(token string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byToken[token]
	if !ok {
		return
	}
	delete(r.byToken, token)
	if cur, ok := r.byUser[s.userID]; ok && cur == s {
		delete(r.byUser, s.userID)
	}
	if s.connID != "" {
		delete(r.byConn, s.connID)
		delete(r.conns, s.connID)
	}
	log.Info().Str("module", "app.sessions").Str("user", string(s.userID)).Msg("session invalidated")
}
