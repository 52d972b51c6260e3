package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"github.com/rawblock/txgraph-engine/internal/graph"
	"github.com/rawblock/txgraph-engine/internal/logger"
	"github.com/rawblock/txgraph-engine/pkg/models"
)

// Snapshot Manager
//
// Owns the only piece of cross-request mutable state in the service: the
// reference to the currently active graph snapshot. Everything derived
// from a snapshot (PageRank, partition, memoized traces) lives inside the
// snapshot itself, so installing a new snapshot invalidates every cache
// as a single unit — there is no partial invalidation to get wrong.
//
// Rebuilds are strictly sequential: a timer tick or manual trigger that
// fires while a build is in flight is skipped, not queued. A failed
// rebuild abandons the half-built graph and leaves the previous snapshot
// in force; the worst outcome of any failure is continuing to serve the
// last good generation.
//
// Readers capture Current() once per request. The captured snapshot is
// immutable, so a swap completing mid-request is invisible to them.

const (
	// DefaultInterval matches the dashboard refresh expectations.
	DefaultInterval = 120 * time.Second

	// DefaultRowLimit bounds each rebuild to the most recent flows.
	DefaultRowLimit = 10000

	startupMaxAttempts = 10
	traceCacheSize     = 1024
)

// ErrRebuildInProgress is returned when a rebuild is requested while one
// is already running. Ticks treat it as a silent skip.
var ErrRebuildInProgress = errors.New("snapshot rebuild already in progress")

// ErrNoFeed is returned when no ledger feed was configured at startup.
var ErrNoFeed = errors.New("no ledger feed configured")

// RowFeed supplies raw flow rows, most recent first, bounded by limit.
type RowFeed interface {
	FetchRecentFlows(ctx context.Context, limit int) ([]models.FlowRow, error)
}

// Broadcaster pushes rebuild telemetry to connected dashboards. Optional.
type Broadcaster interface {
	Broadcast(data []byte)
}

type traceKey struct {
	source  string
	target  string
	maxHops int
}

// Snapshot is one immutable generation of the graph plus its derived
// caches. The ID is the cache identity: consumers comparing IDs across
// requests can tell whether they are looking at the same generation.
type Snapshot struct {
	ID        uuid.UUID
	Graph     *graph.Graph
	BuiltAt   time.Time
	Bootstrap bool // true only for the empty placeholder before the first build

	prOnce sync.Once
	pr     map[string]float64

	partOnce  sync.Once
	partition [][]string

	traces *lru.Cache[traceKey, []string]
}

func newSnapshot(g *graph.Graph, bootstrap bool) *Snapshot {
	traces, _ := lru.New[traceKey, []string](traceCacheSize)
	return &Snapshot{
		ID:        uuid.New(),
		Graph:     g,
		BuiltAt:   time.Now(),
		Bootstrap: bootstrap,
		traces:    traces,
	}
}

// PageRank returns the centrality distribution, computed at most once per
// snapshot. Every caller within this generation observes the same ranking.
func (s *Snapshot) PageRank() map[string]float64 {
	s.prOnce.Do(func() {
		s.pr = s.Graph.PageRank(graph.DefaultDamping)
	})
	return s.pr
}

// Communities returns the community partition, computed at most once per
// snapshot.
func (s *Snapshot) Communities() [][]string {
	s.partOnce.Do(func() {
		s.partition = s.Graph.Communities()
	})
	return s.partition
}

// Trace memoizes shortest-path lookups. Safe because the graph is frozen:
// a cached result can never go stale within its snapshot.
func (s *Snapshot) Trace(source, target string, maxHops int) []string {
	key := traceKey{source: source, target: target, maxHops: maxHops}
	if path, ok := s.traces.Get(key); ok {
		return path
	}
	path := s.Graph.TracePath(source, target, maxHops)
	s.traces.Add(key, path)
	return path
}

// AlertFunc is invoked in a background goroutine after each successful
// swap, with the freshly installed snapshot.
type AlertFunc func(*Snapshot)

// Manager drives the periodic rebuild loop and owns the snapshot swap.
type Manager struct {
	feed      RowFeed
	hub       Broadcaster
	alertFunc AlertFunc
	interval  time.Duration
	rowLimit  int
	log       zerolog.Logger

	building atomic.Bool
	current  atomic.Pointer[Snapshot]
	previous atomic.Pointer[Snapshot]

	// sleep is the retry wait used by StartupRebuild. Tests substitute it
	// to drive the backoff schedule without real delays.
	sleep func(ctx context.Context, d time.Duration)
}

// NewManager creates a manager pre-loaded with an empty bootstrap
// snapshot, so readers always have a usable graph even before the first
// rebuild lands.
func NewManager(feed RowFeed, interval time.Duration, rowLimit int, hub Broadcaster) *Manager {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if rowLimit <= 0 {
		rowLimit = DefaultRowLimit
	}
	m := &Manager{
		feed:     feed,
		hub:      hub,
		interval: interval,
		rowLimit: rowLimit,
		log:      logger.Component("snapshot"),
		sleep:    ctxSleep,
	}
	m.current.Store(newSnapshot(graph.New(), true))
	return m
}

// SetAlertFunc wires the post-rebuild callback (e.g. the high-risk sweep).
func (m *Manager) SetAlertFunc(fn AlertFunc) { m.alertFunc = fn }

// Current returns the active snapshot. Callers must capture it once and
// use that reference for the whole request.
func (m *Manager) Current() *Snapshot { return m.current.Load() }

// Previous returns the generation that was active before the current one,
// or nil. Used for cross-snapshot comparisons (community stability).
func (m *Manager) Previous() *Snapshot { return m.previous.Load() }

// Rebuild constructs a brand-new graph from a fresh feed read and swaps
// it in atomically. Concurrent invocation is safe: the loser gets
// ErrRebuildInProgress and the active snapshot is untouched either way.
func (m *Manager) Rebuild(ctx context.Context) error {
	if m.feed == nil {
		return ErrNoFeed
	}
	if !m.building.CompareAndSwap(false, true) {
		return ErrRebuildInProgress
	}
	defer m.building.Store(false)

	started := time.Now()

	// Bound the feed read by the rebuild interval so a wedged store cannot
	// hold the build slot forever and silently disable every future tick.
	fetchCtx, cancel := context.WithTimeout(ctx, m.interval)
	defer cancel()
	rows, err := m.feed.FetchRecentFlows(fetchCtx, m.rowLimit)
	if err != nil {
		m.log.Error().Err(err).Msg("rebuild abandoned, keeping previous snapshot")
		return fmt.Errorf("ledger feed: %w", err)
	}

	g := graph.BuildFromRows(rows)
	snap := newSnapshot(g, false)

	m.previous.Store(m.current.Load())
	m.current.Store(snap)

	m.log.Info().
		Str("snapshot_id", snap.ID.String()).
		Int("rows", len(rows)).
		Int("transactions", g.TxCount()).
		Int("nodes", g.NodeCount()).
		Int("edges", g.EdgeCount()).
		Int("skipped_txs", g.SkippedTxs()).
		Dur("took", time.Since(started)).
		Msg("snapshot rebuilt")

	m.broadcastRebuilt(snap, len(rows))
	if m.alertFunc != nil {
		go m.alertFunc(snap)
	}
	return nil
}

func (m *Manager) broadcastRebuilt(snap *Snapshot, rows int) {
	if m.hub == nil {
		return
	}
	payload, err := json.Marshal(map[string]interface{}{
		"type":         "snapshot_rebuilt",
		"snapshotId":   snap.ID.String(),
		"rows":         rows,
		"transactions": snap.Graph.TxCount(),
		"nodes":        snap.Graph.NodeCount(),
		"edges":        snap.Graph.EdgeCount(),
		"volumeBtc":    btcutil.Amount(snap.Graph.TotalVolume()).ToBTC(),
		"builtAt":      snap.BuiltAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return
	}
	m.hub.Broadcast(payload)
}

// Run drives the periodic rebuild until the context is cancelled. A tick
// landing mid-rebuild is skipped; a failed tick waits for the next one
// rather than retrying in a tight loop.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.log.Info().Msg("stopping rebuild loop")
			return
		case <-ticker.C:
			if err := m.Rebuild(ctx); err != nil && !errors.Is(err, ErrRebuildInProgress) {
				m.log.Warn().Err(err).Msg("scheduled rebuild failed, serving last good snapshot")
			}
		}
	}
}

// StartupRebuild retries the initial build with bounded backoff. If the
// ledger stays unreachable through every attempt the service continues
// with the empty bootstrap graph instead of blocking startup.
func (m *Manager) StartupRebuild(ctx context.Context) {
	for attempt := 1; attempt <= startupMaxAttempts; attempt++ {
		err := m.Rebuild(ctx)
		if err == nil {
			return
		}
		if errors.Is(err, ErrNoFeed) {
			m.log.Warn().Msg("no ledger feed configured, starting with empty graph")
			return
		}
		if attempt == startupMaxAttempts {
			m.log.Error().Int("attempts", attempt).Msg("ledger unreachable, starting with empty graph")
			return
		}

		wait := startupWait(attempt)
		m.log.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", wait).Msg("startup rebuild failed, retrying")
		m.sleep(ctx, wait)
		if ctx.Err() != nil {
			return
		}
	}
}

// startupWait grows by 2s per attempt and is clamped at 10s.
func startupWait(attempt int) time.Duration {
	wait := time.Duration(attempt) * 2 * time.Second
	if wait > 10*time.Second {
		wait = 10 * time.Second
	}
	return wait
}

func ctxSleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
