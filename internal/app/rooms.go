package app

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/voxhall/voxhall/internal/core"
	"github.com/voxhall/voxhall/internal/domain"
	"github.com/voxhall/voxhall/internal/protocol"
)

type RoomKind int

const (
	KindServer RoomKind = iota
	KindChannel
)

func (k RoomKind) String() string {
	if k == KindServer {
		return "server"
	}
	return "channel"
}

// room serializes membership mutation and fan-out: "X left" and "who is
// here" are never observed out of order because both happen under mu.
type room struct {
	mu      sync.Mutex
	members map[core.ConnID]core.Conn
}

func newRoom() *room {
	return &room{members: make(map[core.ConnID]core.Conn)}
}

// Scope names the set of connections an outbound event goes to.
type Scope struct {
	kind    scopeKind
	conn    core.ConnID
	server  domain.ServerID
	channel domain.ChannelID
}

type scopeKind int

const (
	scopeSelf scopeKind = iota
	scopeServer
	scopeChannel
	scopeEveryone
)

func Self(id core.ConnID) Scope              { return Scope{kind: scopeSelf, conn: id} }
func ServerScope(id domain.ServerID) Scope   { return Scope{kind: scopeServer, server: id} }
func ChannelScope(id domain.ChannelID) Scope { return Scope{kind: scopeChannel, channel: id} }
func Everyone() Scope                        { return Scope{kind: scopeEveryone} }

// Router keeps the server and channel room sets and resolves scopes to
// concrete connection sets at dispatch time.
type Router struct {
	mu           sync.RWMutex
	serverRooms  map[domain.ServerID]*room
	channelRooms map[domain.ChannelID]*room
	conns        map[core.ConnID]core.Conn
}

func NewRouter() *Router {
	return &Router{
		serverRooms:  make(map[domain.ServerID]*room),
		channelRooms: make(map[domain.ChannelID]*room),
		conns:        make(map[core.ConnID]core.Conn),
	}
}

// Register adds a live connection to the router's global set. Required
// before any room join; Self and Everyone scopes resolve against it.
func (rt *Router) Register(connID core.ConnID, conn core.Conn) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.conns[connID] = conn
}

func (rt *Router) Unregister(connID core.ConnID) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	delete(rt.conns, connID)
}

func (rt *Router) Conn(connID core.ConnID) (core.Conn, bool) {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	c, ok := rt.conns[connID]
	return c, ok
}

func (rt *Router) getOrCreate(kind RoomKind, id string) *room {
	rt.mu.RLock()
	r := rt.lookup(kind, id)
	rt.mu.RUnlock()
	if r != nil {
		return r
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if r = rt.lookup(kind, id); r != nil {
		return r
	}
	r = newRoom()
	if kind == KindServer {
		rt.serverRooms[domain.ServerID(id)] = r
	} else {
		rt.channelRooms[domain.ChannelID(id)] = r
	}
	return r
}

// lookup requires rt.mu held.
func (rt *Router) lookup(kind RoomKind, id string) *room {
	if kind == KindServer {
		return rt.serverRooms[domain.ServerID(id)]
	}
	return rt.channelRooms[domain.ChannelID(id)]
}

// Join is an idempotent set insert; returns the resulting membership size.
func (rt *Router) Join(kind RoomKind, id string, connID core.ConnID, conn core.Conn) int {
	r := rt.getOrCreate(kind, id)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.members[connID] = conn
	size := len(r.members)
	log.Debug().Str("module", "app.rooms").Str("kind", kind.String()).Str("room", id).Str("conn", string(connID)).Int("size", size).Msg("joined room")
	return size
}

// Leave is an idempotent set delete; returns the resulting membership size.
func (rt *Router) Leave(kind RoomKind, id string, connID core.ConnID) int {
	rt.mu.RLock()
	r := rt.lookup(kind, id)
	rt.mu.RUnlock()
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.members, connID)
	size := len(r.members)
	log.Debug().Str("module", "app.rooms").Str("kind", kind.String()).Str("room", id).Str("conn", string(connID)).Int("size", size).Msg("left room")
	return size
}

// JoinWithNotice adds the connection, notifies everyone already there and
// returns their ids, all under the room lock, so the joiner's roster and
// the others' join notice agree on the same membership snapshot.
func (rt *Router) JoinWithNotice(kind RoomKind, id string, connID core.ConnID, conn core.Conn, notice protocol.Event) []core.ConnID {
	frame, err := protocol.Marshal(notice)
	if err != nil {
		log.Error().Err(err).Str("module", "app.rooms").Msg("marshal join notice")
		return nil
	}
	r := rt.getOrCreate(kind, id)
	r.mu.Lock()
	defer r.mu.Unlock()
	roster := make([]core.ConnID, 0, len(r.members))
	for memberID, memberConn := range r.members {
		if memberID == connID {
			continue
		}
		roster = append(roster, memberID)
		if err := memberConn.TrySend(frame); err != nil {
			log.Warn().Err(err).Str("module", "app.rooms").Str("conn", string(memberID)).Msg("join notice dropped")
		}
	}
	r.members[connID] = conn
	return roster
}

// LeaveWithNotice removes the connection and notifies the remaining
// members under one lock: nobody can observe the notice before the
// removal, and the leaver never receives a frame after its own leave
// notice has been delivered.
func (rt *Router) LeaveWithNotice(kind RoomKind, id string, connID core.ConnID, notice protocol.Event) {
	frame, err := protocol.Marshal(notice)
	if err != nil {
		log.Error().Err(err).Str("module", "app.rooms").Msg("marshal leave notice")
		return
	}
	rt.mu.RLock()
	r := rt.lookup(kind, id)
	rt.mu.RUnlock()
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.members[connID]; !ok {
		return
	}
	delete(r.members, connID)
	for memberID, memberConn := range r.members {
		if err := memberConn.TrySend(frame); err != nil {
			log.Warn().Err(err).Str("module", "app.rooms").Str("conn", string(memberID)).Msg("leave notice dropped")
		}
	}
}

// Members returns a point-in-time snapshot of a room.
func (rt *Router) Members(kind RoomKind, id string) []core.ConnID {
	rt.mu.RLock()
	r := rt.lookup(kind, id)
	rt.mu.RUnlock()
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]core.ConnID, 0, len(r.members))
	for memberID := range r.members {
		out = append(out, memberID)
	}
	return out
}

// Contains reports room membership, mainly for invariant checks.
func (rt *Router) Contains(kind RoomKind, id string, connID core.ConnID) bool {
	rt.mu.RLock()
	r := rt.lookup(kind, id)
	rt.mu.RUnlock()
	if r == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.members[connID]
	return ok
}

// Forget removes a connection from every room. Safety net for best-effort
// teardown; the normal path leaves rooms through the presence cascade.
func (rt *Router) Forget(connID core.ConnID) {
	rt.mu.RLock()
	rooms := make([]*room, 0, len(rt.serverRooms)+len(rt.channelRooms))
	for _, r := range rt.serverRooms {
		rooms = append(rooms, r)
	}
	for _, r := range rt.channelRooms {
		rooms = append(rooms, r)
	}
	rt.mu.RUnlock()
	for _, r := range rooms {
		r.mu.Lock()
		delete(r.members, connID)
		r.mu.Unlock()
	}
}

// Broadcast resolves a scope against the current room sets and fans the
// event out. Best-effort per connection; a full send buffer drops the
// frame for that member only.
func (rt *Router) Broadcast(scope Scope, event protocol.Event) {
	frame, err := protocol.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("module", "app.rooms").Str("event", event.EventType()).Msg("marshal broadcast")
		return
	}

	switch scope.kind {
	case scopeSelf:
		rt.mu.RLock()
		conn, ok := rt.conns[scope.conn]
		rt.mu.RUnlock()
		if !ok {
			log.Debug().Str("module", "app.rooms").Str("conn", string(scope.conn)).Msg("self scope: connection gone")
			return
		}
		if err := conn.TrySend(frame); err != nil {
			log.Warn().Err(err).Str("module", "app.rooms").Str("conn", string(scope.conn)).Msg("self send dropped")
		}
	case scopeServer:
		rt.sendRoom(KindServer, string(scope.server), frame)
	case scopeChannel:
		rt.sendRoom(KindChannel, string(scope.channel), frame)
	case scopeEveryone:
		rt.mu.RLock()
		snapshot := make(map[core.ConnID]core.Conn, len(rt.conns))
		for id, c := range rt.conns {
			snapshot[id] = c
		}
		rt.mu.RUnlock()
		for id, c := range snapshot {
			if err := c.TrySend(frame); err != nil {
				log.Warn().Err(err).Str("module", "app.rooms").Str("conn", string(id)).Msg("broadcast dropped")
			}
		}
	}
}

func (rt *Router) sendRoom(kind RoomKind, id string, frame core.Frame) {
	rt.mu.RLock()
	r := rt.lookup(kind, id)
	rt.mu.RUnlock()
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for memberID, memberConn := range r.members {
		if err := memberConn.TrySend(frame); err != nil {
			log.Warn().Err(err).Str("module", "app.rooms").Str("conn", string(memberID)).Msg("room send dropped")
		}
	}
}
