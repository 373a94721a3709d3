package app

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/voxhall/voxhall/internal/apperr"
	"github.com/voxhall/voxhall/internal/core"
	"github.com/voxhall/voxhall/internal/domain"
	"github.com/voxhall/voxhall/internal/protocol"
	"github.com/voxhall/voxhall/internal/store"
)

// Engine is the presence and membership state machine. Every transition
// for a user runs under that user's lock, so attach, detach and room
// moves for the same identity never interleave. Cascades (leave channel
// before server, full teardown on disconnect) are defined once, here.
type Engine struct {
	sessions *SessionRegistry
	rooms    *Router
	relay    *Relay
	contrib  *ContribTimers
	records  *store.Store

	mu    sync.Mutex
	locks map[domain.UserID]*userLock
}

// userLock is reference counted so the lock table shrinks back once no
// transition for that user is in flight.
type userLock struct {
	mu   sync.Mutex
	refs int
}

func NewEngine(sessions *SessionRegistry, rooms *Router, relay *Relay, contrib *ContribTimers, records *store.Store) *Engine {
	return &Engine{
		sessions: sessions,
		rooms:    rooms,
		relay:    relay,
		contrib:  contrib,
		records:  records,
		locks:    make(map[domain.UserID]*userLock),
	}
}

func (e *Engine) lockUser(userID domain.UserID) func() {
	e.mu.Lock()
	l, ok := e.locks[userID]
	if !ok {
		l = &userLock{}
		e.locks[userID] = l
	}
	l.refs++
	e.mu.Unlock()
	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		e.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(e.locks, userID)
		}
		e.mu.Unlock()
	}
}

// requiredTier is the visibility policy table for channels. One threshold
// per tier, identical on every path.
func requiredTier(v domain.Visibility) int {
	switch v {
	case domain.VisibilityReadonly:
		return domain.PermRegular
	case domain.VisibilityPrivate:
		return domain.PermTrusted
	default: // public, member
		return domain.PermMember
	}
}

// persistPresence is fire-and-confirm: in-memory state is already
// authoritative, a failed write is logged and never gates the event flow.
func (e *Engine) persistPresence(ctx context.Context, user *domain.User) {
	if err := e.records.SaveUser(ctx, user); err != nil {
		log.Warn().Err(err).Str("module", "app.presence").Str("user", string(user.ID)).Msg("presence write failed")
	}
}

func (e *Engine) ResolveUser(connID core.ConnID) (domain.UserID, error) {
	return e.sessions.ResolveUser(connID)
}

// ConnectUser binds a session token to a live connection. A second device
// supersedes the first: the old connection is notified, cascaded out of
// every room, its timer cancelled, and only then is the new one bound.
func (e *Engine) ConnectUser(ctx context.Context, token string, connID core.ConnID, conn core.Conn) (protocol.UserConnected, error) {
	var zero protocol.UserConnected

	userID, err := e.sessions.BindSession(token)
	if err != nil {
		return zero, err
	}

	// A connection re-authenticating as a different identity sheds
	// everything it holds as the old one first, under the old user's
	// lock, so the old identity ends up cleanly offline.
	if oldID, rerr := e.sessions.ResolveUser(connID); rerr == nil && oldID != userID {
		unlockOld := e.lockUser(oldID)
		oldUser, uerr := e.records.User(ctx, oldID)
		if uerr != nil {
			log.Warn().Err(uerr).Str("module", "app.presence").Str("user", string(oldID)).Msg("loading previous identity during re-auth failed")
			oldUser = nil
		}
		if oldUser != nil && oldUser.CurrentServerID != "" {
			e.rooms.Broadcast(ServerScope(oldUser.CurrentServerID), protocol.NewUserDisconnected(oldID))
		}
		e.teardownLocked(ctx, oldUser, connID, true)
		unlockOld()
		log.Info().Str("module", "app.presence").Str("user", string(oldID)).Str("conn", string(connID)).Msg("identity released on re-auth")
	}

	unlock := e.lockUser(userID)
	defer unlock()

	user, err := e.records.User(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNoRecord) {
			return zero, apperr.UserNotFound("user.connect")
		}
		return zero, apperr.Internal("user.connect", err)
	}

	if prevID, ok := e.sessions.ConnOf(userID); ok && prevID != connID {
		prevConn, _ := e.sessions.Conn(prevID)
		log.Info().Str("module", "app.presence").Str("user", string(userID)).Str("old_conn", string(prevID)).Str("new_conn", string(connID)).Msg("forced takeover")
		e.rooms.Broadcast(Self(prevID), protocol.NewForceDisconnected())
		e.teardownLocked(ctx, user, prevID, false)
		if prevConn != nil {
			prevConn.Close()
		}
	}

	e.sessions.Attach(userID, connID, conn)
	e.rooms.Register(connID, conn)

	user.Status = domain.StatusOnline
	user.CurrentServerID = ""
	user.CurrentChannelID = ""
	user.LastActiveAt = time.Now()
	e.persistPresence(ctx, user)

	servers, err := e.records.ServersOfUser(ctx, userID)
	if err != nil {
		log.Warn().Err(err).Str("module", "app.presence").Str("user", string(userID)).Msg("loading joined servers failed")
		servers = nil
	}

	log.Info().Str("module", "app.presence").Str("user", string(userID)).Str("conn", string(connID)).Msg("user connected")
	return protocol.NewUserConnected(*user, servers), nil
}

// JoinServer validates existence, block-list and visibility before any
// mutation, then registers the connection in the server room and refreshes
// the room's member view.
func (e *Engine) JoinServer(ctx context.Context, connID core.ConnID, serverID domain.ServerID) (protocol.ServerConnected, error) {
	var zero protocol.ServerConnected

	userID, err := e.sessions.ResolveUser(connID)
	if err != nil {
		return zero, err
	}
	unlock := e.lockUser(userID)
	defer unlock()

	user, err := e.records.User(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNoRecord) {
			return zero, apperr.UserNotFound("server.join")
		}
		return zero, apperr.Internal("server.join", err)
	}

	srv, err := e.records.Server(ctx, serverID)
	if err != nil {
		if errors.Is(err, store.ErrNoRecord) {
			return zero, apperr.ServerNotFound("server.join")
		}
		return zero, apperr.Internal("server.join", err)
	}

	member, err := e.records.Member(ctx, userID, serverID)
	if err != nil && !errors.Is(err, store.ErrNoRecord) {
		return zero, apperr.Internal("server.join", err)
	}
	if member != nil && member.IsBlocked {
		return zero, apperr.Blocked("server.join")
	}
	if srv.Visibility == domain.VisibilityInvisible &&
		(member == nil || member.PermissionLevel < domain.PermRegular) {
		return zero, apperr.InsufficientVisibility("server.join")
	}

	conn, ok := e.sessions.Conn(connID)
	if !ok {
		return zero, apperr.NotFound("server.join")
	}

	// Validation done; mutate. Switching servers cascades out of the old
	// one first, never skipping channel cleanup.
	if user.CurrentServerID != "" && user.CurrentServerID != serverID {
		if err := e.leaveServerLocked(ctx, user, connID); err != nil {
			log.Warn().Err(err).Str("module", "app.presence").Str("user", string(userID)).Msg("implicit server leave failed")
		}
	}

	if member == nil {
		member = domain.NewMember(userID, serverID)
		if err := e.records.SaveMember(ctx, member); err != nil {
			return zero, apperr.Internal("server.join", err)
		}
	}

	e.rooms.Join(KindServer, string(serverID), connID, conn)
	user.CurrentServerID = serverID
	e.persistPresence(ctx, user)

	members, err := e.records.MembersOfServer(ctx, serverID)
	if err != nil {
		return zero, apperr.Internal("server.join", err)
	}
	channels, err := e.records.ChannelsOfServer(ctx, serverID)
	if err != nil {
		return zero, apperr.Internal("server.join", err)
	}

	e.rooms.Broadcast(ServerScope(serverID), protocol.NewServerUpdated(serverID, map[string]any{
		"members":  members,
		"channels": channels,
	}))

	log.Info().Str("module", "app.presence").Str("user", string(userID)).Str("server", string(serverID)).Msg("joined server")
	return protocol.NewServerConnected(*srv, members, channels), nil
}

func (e *Engine) LeaveServer(ctx context.Context, connID core.ConnID) error {
	userID, err := e.sessions.ResolveUser(connID)
	if err != nil {
		return err
	}
	unlock := e.lockUser(userID)
	defer unlock()

	user, err := e.records.User(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNoRecord) {
			return apperr.UserNotFound("server.leave")
		}
		return apperr.Internal("server.leave", err)
	}
	return e.leaveServerLocked(ctx, user, connID)
}

// leaveServerLocked leaves the channel first when the user occupies one:
// a connection is never a channel room member without also being a member
// of the owning server room.
func (e *Engine) leaveServerLocked(ctx context.Context, user *domain.User, connID core.ConnID) error {
	if user.CurrentChannelID != "" {
		if err := e.leaveChannelLocked(ctx, user, connID); err != nil {
			log.Warn().Err(err).Str("module", "app.presence").Str("user", string(user.ID)).Msg("channel leave during server leave failed")
		}
	}
	if user.CurrentServerID == "" {
		return nil
	}
	serverID := user.CurrentServerID
	e.rooms.LeaveWithNotice(KindServer, string(serverID), connID, protocol.NewServerUpdated(serverID, map[string]any{
		"memberLeft": user.ID,
	}))
	user.CurrentServerID = ""
	e.persistPresence(ctx, user)
	e.rooms.Broadcast(Self(connID), protocol.NewServerDisconnected(serverID))
	log.Info().Str("module", "app.presence").Str("user", string(user.ID)).Str("server", string(serverID)).Msg("left server")
	return nil
}

// JoinChannel moves the connection into a voice channel of its current
// server. Occupying another channel is left first; the room insert, the
// peer notifications and the accrual timer start happen as one transition.
func (e *Engine) JoinChannel(ctx context.Context, connID core.ConnID, channelID domain.ChannelID) (protocol.ChannelConnected, error) {
	var zero protocol.ChannelConnected

	userID, err := e.sessions.ResolveUser(connID)
	if err != nil {
		return zero, err
	}
	unlock := e.lockUser(userID)
	defer unlock()

	user, err := e.records.User(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNoRecord) {
			return zero, apperr.UserNotFound("channel.join")
		}
		return zero, apperr.Internal("channel.join", err)
	}

	ch, err := e.records.Channel(ctx, channelID)
	if err != nil {
		if errors.Is(err, store.ErrNoRecord) {
			return zero, apperr.ChannelNotFound("channel.join")
		}
		return zero, apperr.Internal("channel.join", err)
	}
	if user.CurrentServerID == "" || ch.ServerID != user.CurrentServerID {
		return zero, apperr.ChannelMismatch("channel.join")
	}

	member, err := e.records.Member(ctx, userID, ch.ServerID)
	if err != nil {
		if errors.Is(err, store.ErrNoRecord) {
			return zero, apperr.InsufficientPermission("channel.join")
		}
		return zero, apperr.Internal("channel.join", err)
	}
	if member.PermissionLevel < requiredTier(ch.Visibility) {
		return zero, apperr.InsufficientPermission("channel.join")
	}

	conn, ok := e.sessions.Conn(connID)
	if !ok {
		return zero, apperr.NotFound("channel.join")
	}

	// Channel switch is leave-then-join so room cleanup is never skipped.
	if user.CurrentChannelID != "" {
		if err := e.leaveChannelLocked(ctx, user, connID); err != nil {
			log.Warn().Err(err).Str("module", "app.presence").Str("user", string(userID)).Msg("implicit channel leave failed")
		}
	}

	e.relay.NotifyPeersOnJoin(ch.ID, connID, conn)
	e.contrib.Start(connID, userID, ch.ServerID, ch.ID)
	user.CurrentChannelID = ch.ID
	e.persistPresence(ctx, user)
	e.broadcastOccupancy(ch.ServerID, ch.ID)

	log.Info().Str("module", "app.presence").Str("user", string(userID)).Str("channel", string(channelID)).Msg("joined channel")
	return protocol.NewChannelConnected(*ch), nil
}

// LeaveChannel is idempotent: leaving while not in a channel is a no-op.
func (e *Engine) LeaveChannel(ctx context.Context, connID core.ConnID) error {
	userID, err := e.sessions.ResolveUser(connID)
	if err != nil {
		return err
	}
	unlock := e.lockUser(userID)
	defer unlock()

	user, err := e.records.User(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNoRecord) {
			return apperr.UserNotFound("channel.leave")
		}
		return apperr.Internal("channel.leave", err)
	}
	return e.leaveChannelLocked(ctx, user, connID)
}

// leaveChannelLocked is the single definition of the channel exit cascade:
// peer notifications, timer stop, presence pointer, in that order.
func (e *Engine) leaveChannelLocked(ctx context.Context, user *domain.User, connID core.ConnID) error {
	if user.CurrentChannelID == "" {
		return nil
	}
	channelID := user.CurrentChannelID
	e.relay.NotifyPeersOnLeave(channelID, connID)
	e.contrib.Stop(connID)
	user.CurrentChannelID = ""
	e.persistPresence(ctx, user)
	if user.CurrentServerID != "" {
		e.broadcastOccupancy(user.CurrentServerID, channelID)
	}
	e.rooms.Broadcast(Self(connID), protocol.NewChannelDisconnected(channelID))
	log.Info().Str("module", "app.presence").Str("user", string(user.ID)).Str("channel", string(channelID)).Msg("left channel")
	return nil
}

// Disconnect runs the full teardown for a dropped transport. Best-effort:
// a failing step is logged and the remaining steps still run, because an
// un-cleaned room or timer is worse than a partially failed cleanup.
func (e *Engine) Disconnect(ctx context.Context, connID core.ConnID) {
	userID, err := e.sessions.ResolveUser(connID)
	if err != nil {
		// Never authenticated, or already superseded by a takeover.
		e.contrib.Stop(connID)
		e.rooms.Forget(connID)
		e.rooms.Unregister(connID)
		return
	}

	unlock := e.lockUser(userID)
	defer unlock()

	// A takeover may have rebound the user while this teardown was queued;
	// in that case only the connection-scoped leftovers are ours to clean.
	if cur, ok := e.sessions.ConnOf(userID); !ok || cur != connID {
		e.contrib.Stop(connID)
		e.rooms.Forget(connID)
		e.rooms.Unregister(connID)
		return
	}

	user, err := e.records.User(ctx, userID)
	if err != nil {
		log.Warn().Err(err).Str("module", "app.presence").Str("user", string(userID)).Msg("loading user during disconnect failed")
		user = nil
	}

	if user != nil && user.CurrentServerID != "" {
		e.rooms.Broadcast(ServerScope(user.CurrentServerID), protocol.NewUserDisconnected(userID))
	}
	e.teardownLocked(ctx, user, connID, true)
	log.Info().Str("module", "app.presence").Str("user", string(userID)).Str("conn", string(connID)).Msg("user disconnected")
}

// teardownLocked is shared by disconnect and forced takeover. Caller holds
// the user lock.
func (e *Engine) teardownLocked(ctx context.Context, user *domain.User, connID core.ConnID, markGone bool) {
	if user != nil {
		if err := e.leaveChannelLocked(ctx, user, connID); err != nil {
			log.Warn().Err(err).Str("module", "app.presence").Str("conn", string(connID)).Msg("teardown: channel leave failed")
		}
		if err := e.leaveServerLocked(ctx, user, connID); err != nil {
			log.Warn().Err(err).Str("module", "app.presence").Str("conn", string(connID)).Msg("teardown: server leave failed")
		}
	}
	e.contrib.Stop(connID)
	if _, err := e.sessions.Detach(connID); err != nil {
		log.Debug().Err(err).Str("module", "app.presence").Str("conn", string(connID)).Msg("teardown: already detached")
	}
	e.rooms.Forget(connID)
	e.rooms.Unregister(connID)
	if markGone && user != nil {
		user.Status = domain.StatusGone
		user.LastActiveAt = time.Now()
		e.persistPresence(ctx, user)
	}
}

// broadcastOccupancy keeps the server room's sidebar view of a voice
// channel current without requiring channel room membership.
func (e *Engine) broadcastOccupancy(serverID domain.ServerID, channelID domain.ChannelID) {
	e.rooms.Broadcast(ServerScope(serverID), protocol.NewChannelUpdated(channelID, map[string]any{
		"participants": len(e.rooms.Members(KindChannel, string(channelID))),
	}))
}

// SetStatus changes the user's presence status and tells the current
// server room. Gone is system-set on disconnect and not accepted here.
func (e *Engine) SetStatus(ctx context.Context, connID core.ConnID, status domain.Status) error {
	userID, err := e.sessions.ResolveUser(connID)
	if err != nil {
		return err
	}
	switch status {
	case domain.StatusOnline, domain.StatusIdle, domain.StatusDND:
	default:
		return apperr.InvalidPayload("user.status", "unknown status")
	}

	unlock := e.lockUser(userID)
	defer unlock()

	user, err := e.records.User(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNoRecord) {
			return apperr.UserNotFound("user.status")
		}
		return apperr.Internal("user.status", err)
	}

	user.Status = status
	user.LastActiveAt = time.Now()
	e.persistPresence(ctx, user)
	if user.CurrentServerID != "" {
		e.rooms.Broadcast(ServerScope(user.CurrentServerID), protocol.NewUserUpdated(userID, map[string]any{
			"status": status,
		}))
	}
	log.Info().Str("module", "app.presence").Str("user", string(userID)).Str("status", string(status)).Msg("status changed")
	return nil
}

// Signaling relays are point-to-point and skip the user lock entirely:
// the relay holds no state and the payload is pass-through.

func (e *Engine) RelayOffer(from, to core.ConnID, offer webrtc.SessionDescription) {
	e.relay.RelayOffer(from, to, offer)
}

func (e *Engine) RelayAnswer(from, to core.ConnID, answer webrtc.SessionDescription) {
	e.relay.RelayAnswer(from, to, answer)
}

func (e *Engine) RelayCandidate(from, to core.ConnID, cand webrtc.ICECandidateInit) {
	e.relay.RelayCandidate(from, to, cand)
}
