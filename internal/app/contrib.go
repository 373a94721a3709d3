package app

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/voxhall/voxhall/internal/core"
	"github.com/voxhall/voxhall/internal/domain"
)

// MemberCrediter is the slice of the persistence gateway the timer needs.
type MemberCrediter interface {
	CreditMember(ctx context.Context, userID domain.UserID, serverID domain.ServerID, amount int64) error
}

type contribTimer struct {
	channelID domain.ChannelID
	cancel    context.CancelFunc
	stopped   atomic.Bool
}

// ContribTimers runs one accrual timer per connection, alive exactly while
// that connection occupies a voice channel. Start/Stop are owned by the
// presence transitions; nothing else may touch them.
type ContribTimers struct {
	base     context.Context
	interval time.Duration
	credits  MemberCrediter

	mu     sync.Mutex
	timers map[core.ConnID]*contribTimer
}

func NewContribTimers(base context.Context, interval time.Duration, credits MemberCrediter) *ContribTimers {
	return &ContribTimers{
		base:     base,
		interval: interval,
		credits:  credits,
		timers:   make(map[core.ConnID]*contribTimer),
	}
}

// Start begins periodic crediting of the membership record. An existing
// timer for the connection is stopped first, so a missed Stop on some
// path cannot leak a second ticker.
func (ct *ContribTimers) Start(connID core.ConnID, userID domain.UserID, serverID domain.ServerID, channelID domain.ChannelID) {
	ctx, cancel := context.WithCancel(ct.base)
	t := &contribTimer{channelID: channelID, cancel: cancel}

	ct.mu.Lock()
	if old, ok := ct.timers[connID]; ok {
		old.stopped.Store(true)
		old.cancel()
	}
	ct.timers[connID] = t
	ct.mu.Unlock()

	log.Info().Str("module", "app.contrib").Str("conn", string(connID)).Str("channel", string(channelID)).Msg("contribution timer started")

	go ct.loop(ctx, t, connID, userID, serverID)
}

func (ct *ContribTimers) loop(ctx context.Context, t *contribTimer, connID core.ConnID, userID domain.UserID, serverID domain.ServerID) {
	ticker := time.NewTicker(ct.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// The flag, not ticker state, closes the race with Stop:
			// a tick already in flight when Stop begins must not write.
			if t.stopped.Load() {
				return
			}
			if err := ct.credits.CreditMember(ctx, userID, serverID, 1); err != nil {
				log.Warn().Err(err).Str("module", "app.contrib").Str("conn", string(connID)).Msg("contribution credit failed")
			}
		}
	}
}

// Stop cancels the connection's timer. Idempotent; called on every exit
// path (leave, switch, forced takeover, disconnect).
func (ct *ContribTimers) Stop(connID core.ConnID) {
	ct.mu.Lock()
	t, ok := ct.timers[connID]
	if ok {
		delete(ct.timers, connID)
	}
	ct.mu.Unlock()
	if !ok {
		return
	}
	t.stopped.Store(true)
	t.cancel()
	log.Info().Str("module", "app.contrib").Str("conn", string(connID)).Msg("contribution timer stopped")
}

// Active reports the channel the connection's timer was started for.
func (ct *ContribTimers) Active(connID core.ConnID) (domain.ChannelID, bool) {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	t, ok := ct.timers[connID]
	if !ok {
		return "", false
	}
	return t.channelID, true
}
