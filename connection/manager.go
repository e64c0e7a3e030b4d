package connection

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/samber/lo"
	"golang.org/x/sync/singleflight"

	"github.com/promise-app-team/promise-api-sub000/cache"
	"github.com/promise-app-team/promise-api-sub000/metrics"
)

// Manager is the connection registry of a single event type. It keeps a
// lazily loaded, write-through copy of each channel's connection list; the
// cache stays the source of truth.
type Manager struct {
	event string
	stage string
	cache cache.Cache
	clock Clock
	ttl   time.Duration
	log   *slog.Logger

	// loads allows at most one in-flight cache read per channel.
	loads singleflight.Group

	// mu guards channels and serializes mutations with their persist.
	mu       sync.Mutex
	channels map[string]map[string]Connection
	// drops counts how often each channel left memory; a load that sees
	// the count change while it read the cache is stale.
	drops map[string]uint64
}

func newManager(event, stage string, c cache.Cache, clock Clock, ttl time.Duration, log *slog.Logger) *Manager {
	return &Manager{
		event:    event,
		stage:    stage,
		cache:    c,
		clock:    clock,
		ttl:      ttl,
		log:      log.With("event", event),
		channels: make(map[string]map[string]Connection),
		drops:    make(map[string]uint64),
	}
}

// Event returns the event type served by the manager.
func (m *Manager) Event() string {
	return m.event
}

func (m *Manager) scope(channel string) Scope {
	return Scope{Event: m.event, Stage: m.stage, Channel: channel}
}

// GetConnection returns the live connection registered under cid, or nil.
func (m *Manager) GetConnection(ctx context.Context, cid, channel string) (*Connection, error) {
	channel = ChannelOrDefault(channel)
	if err := m.load(ctx, channel); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	conn, ok := m.channels[channel][cid]
	if !ok || m.Expired(conn) {
		return nil, nil
	}
	return &conn, nil
}

// GetConnections returns every live connection of the channel.
func (m *Manager) GetConnections(ctx context.Context, channel string) ([]Connection, error) {
	channel = ChannelOrDefault(channel)
	if err := m.load(ctx, channel); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	live := lo.Filter(sortedConnections(m.channels[channel]), func(c Connection, _ int) bool {
		return !m.Expired(c)
	})
	return live, nil
}

// Exists reports whether a live connection is registered under cid.
func (m *Manager) Exists(ctx context.Context, cid, channel string) (bool, error) {
	conn, err := m.GetConnection(ctx, cid, channel)
	if err != nil {
		return false, err
	}
	return conn != nil, nil
}

// Expired reports whether the connection's expiry lies in the past.
func (m *Manager) Expired(conn Connection) bool {
	return expiredAt(conn, m.clock.Now().Unix())
}

func expiredAt(conn Connection, now int64) bool {
	return conn.EXP < now
}

type setOptions struct {
	ttl time.Duration
}

// SetOption customizes SetConnection.
type SetOption func(*setOptions)

// WithTTL overrides the lifetime of the registered connection.
func WithTTL(ttl time.Duration) SetOption {
	return func(o *setOptions) {
		o.ttl = ttl
	}
}

// SetConnection registers a new connection in the channel and persists the
// whole channel list. It returns false, without touching anything, when a live
// connection already holds the cid.
func (m *Manager) SetConnection(ctx context.Context, id Identity, channel string, opts ...SetOption) (bool, error) {
	channel = ChannelOrDefault(channel)
	o := setOptions{ttl: m.ttl}
	for _, opt := range opts {
		opt(&o)
	}

	if err := m.load(ctx, channel); err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	conns, ok := m.channels[channel]
	if !ok {
		conns = make(map[string]Connection)
		m.channels[channel] = conns
	}
	previous, had := conns[id.CID]
	if had && !m.Expired(previous) {
		return false, nil
	}

	first := len(conns) == 0
	now := m.clock.Now().Unix()
	pruned := m.pruneExpired(conns, now)
	conns[id.CID] = Connection{
		CID: id.CID,
		UID: id.UID,
		IAT: now,
		EXP: now + int64(o.ttl/time.Second),
	}

	if err := m.cache.Set(ctx, m.scope(channel).Key(), sortedConnections(conns)); err != nil {
		delete(conns, id.CID)
		restore(conns, pruned)
		if len(conns) == 0 {
			delete(m.channels, channel)
		}
		return false, err
	}

	if first {
		m.updateIndex(ctx, channel, true)
	}
	m.log.Debug("connection registered", "cid", id.CID, "uid", id.UID, "channel", channel)
	return true, nil
}

// DelConnection removes cid from the channel.
func (m *Manager) DelConnection(ctx context.Context, cid, channel string) (bool, error) {
	return m.DelConnections(ctx, []string{cid}, channel)
}

// DelConnections removes every given id from the channel and persists the
// channel once. An emptied channel is dropped and its cache key deleted.
func (m *Manager) DelConnections(ctx context.Context, ids []string, channel string) (bool, error) {
	channel = ChannelOrDefault(channel)
	if err := m.load(ctx, channel); err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	conns, ok := m.channels[channel]
	if !ok {
		return false, nil
	}

	removed := make(map[string]Connection)
	for _, cid := range ids {
		if conn, ok := conns[cid]; ok {
			removed[cid] = conn
			delete(conns, cid)
		}
	}
	if len(removed) == 0 {
		return false, nil
	}

	pruned := m.pruneExpired(conns, m.clock.Now().Unix())
	if err := m.persist(ctx, channel, conns); err != nil {
		restore(conns, removed)
		restore(conns, pruned)
		m.channels[channel] = conns
		return false, err
	}

	m.log.Debug("connections removed", "ids", lo.Keys(removed), "channel", channel)
	return true, nil
}

// Channels lists the channels the manager knows about: those resident in
// memory plus those recorded in the cache index by any process.
func (m *Manager) Channels(ctx context.Context) ([]string, error) {
	var indexed []string
	if _, err := m.cache.Get(ctx, indexKey(m.event, m.stage), &indexed); err != nil {
		return nil, err
	}

	m.mu.Lock()
	resident := lo.Keys(m.channels)
	m.mu.Unlock()

	channels := lo.Uniq(append(resident, indexed...))
	slices.Sort(channels)
	return channels, nil
}

// sweep removes ids from every known channel. It returns the number of
// channels that changed.
func (m *Manager) sweep(ctx context.Context, ids []string) (int, error) {
	channels, err := m.Channels(ctx)
	if err != nil {
		return 0, fmt.Errorf("list channels of %s: %w", m.event, err)
	}

	var (
		changed int
		errs    []error
	)
	for _, channel := range channels {
		ok, err := m.DelConnections(ctx, ids, channel)
		if err != nil {
			errs = append(errs, fmt.Errorf("sweep %s/%s: %w", m.event, channel, err))
			continue
		}
		if ok {
			changed++
		}
	}
	return changed, errors.Join(errs...)
}

// load makes the channel resident, reading it from the cache on first access.
func (m *Manager) load(ctx context.Context, channel string) error {
	if m.resident(channel) {
		return nil
	}

	_, err, _ := m.loads.Do(channel, func() (any, error) {
		// A load that finished between the residency check and Do already
		// brought the channel in.
		m.mu.Lock()
		_, resident := m.channels[channel]
		drops := m.drops[channel]
		m.mu.Unlock()
		if resident {
			return nil, nil
		}

		var stored []Connection
		if _, err := m.cache.Get(ctx, m.scope(channel).Key(), &stored); err != nil {
			return nil, err
		}
		metrics.ChannelLoads.WithLabelValues(m.event).Inc()

		now := m.clock.Now().Unix()
		live := lo.Filter(stored, func(c Connection, _ int) bool {
			return !expiredAt(c, now)
		})
		if dropped := len(stored) - len(live); dropped > 0 {
			metrics.ConnectionsExpired.WithLabelValues(m.event).Add(float64(dropped))
			m.log.Debug("dropped expired connections", "channel", channel, "count", dropped)
		}

		m.mu.Lock()
		defer m.mu.Unlock()
		if m.drops[channel] != drops {
			// The channel was emptied while the read was in flight.
			m.log.Debug("discarded stale channel load", "channel", channel)
			return nil, nil
		}
		m.channels[channel] = mergeByKeyPreferNewest(m.channels[channel], live)
		return nil, nil
	})
	return err
}

func (m *Manager) resident(channel string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.channels[channel]
	return ok
}

// persist writes the channel list, or deletes the key when the channel is
// empty. Callers hold mu and have pruned expired entries.
func (m *Manager) persist(ctx context.Context, channel string, conns map[string]Connection) error {
	key := m.scope(channel).Key()
	if len(conns) > 0 {
		return m.cache.Set(ctx, key, sortedConnections(conns))
	}

	if err := m.cache.Del(ctx, key); err != nil {
		return err
	}
	delete(m.channels, channel)
	m.drops[channel]++
	m.updateIndex(ctx, channel, false)
	return nil
}

// pruneExpired removes expired entries from conns and returns them. Callers
// hold mu.
func (m *Manager) pruneExpired(conns map[string]Connection, now int64) map[string]Connection {
	pruned := lo.PickBy(conns, func(_ string, c Connection) bool {
		return expiredAt(c, now)
	})
	for cid := range pruned {
		delete(conns, cid)
	}
	if len(pruned) > 0 {
		metrics.ConnectionsExpired.WithLabelValues(m.event).Add(float64(len(pruned)))
		m.log.Debug("pruned expired connections", "count", len(pruned))
	}
	return pruned
}

func restore(conns, entries map[string]Connection) {
	for cid, c := range entries {
		conns[cid] = c
	}
}

// updateIndex adds or removes the channel from the cached channel index.
// The index only speeds up sweeps, so failures are logged and swallowed.
func (m *Manager) updateIndex(ctx context.Context, channel string, add bool) {
	key := indexKey(m.event, m.stage)

	var indexed []string
	if _, err := m.cache.Get(ctx, key, &indexed); err != nil {
		m.log.Warn("failed to read channel index", "channel", channel, "error", err)
		return
	}

	if add {
		if lo.Contains(indexed, channel) {
			return
		}
		indexed = append(indexed, channel)
	} else {
		if !lo.Contains(indexed, channel) {
			return
		}
		indexed = lo.Without(indexed, channel)
	}

	var err error
	if len(indexed) == 0 {
		err = m.cache.Del(ctx, key)
	} else {
		slices.Sort(indexed)
		err = m.cache.Set(ctx, key, indexed)
	}
	if err != nil {
		m.log.Warn("failed to update channel index", "channel", channel, "error", err)
	}
}

func sortedConnections(conns map[string]Connection) []Connection {
	list := lo.Values(conns)
	slices.SortFunc(list, func(a, b Connection) int {
		if c := cmp.Compare(a.IAT, b.IAT); c != 0 {
			return c
		}
		return cmp.Compare(a.CID, b.CID)
	})
	return list
}
