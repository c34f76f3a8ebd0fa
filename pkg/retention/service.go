// Package retention periodically prunes a node's own streams: age,
// count, and payload-size based pruning of their Banyan trees (spec §3
// lifecycle bullet; SPEC_FULL.md §3.13). Adapted from the teacher's
// pkg/cleanup.Service: a periodic background sweep with a configurable
// interval and slog-reported counts, retargeted from soft-deleting DB
// rows to rebuilding Banyan trees.
package retention

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/edgemesh/axcore/pkg/banyan"
	"github.com/edgemesh/axcore/pkg/blockstore"
	"github.com/edgemesh/axcore/pkg/config"
	"github.com/edgemesh/axcore/pkg/event"
	"github.com/edgemesh/axcore/pkg/eventstore"
)

// Service periodically prunes every stream this node owns according to
// its retention policy, then reclaims the blocks the pruning left
// unreachable.
type Service struct {
	cfg   *config.RetentionConfig
	tree  *banyan.Tree
	bs    *blockstore.Store
	store *eventstore.Store

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService builds a retention Service.
func NewService(cfg *config.RetentionConfig, tree *banyan.Tree, bs *blockstore.Store, store *eventstore.Store) *Service {
	return &Service{cfg: cfg, tree: tree, bs: bs, store: store}
}

// Start launches the background sweep loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("retention service started",
		"max_age", s.cfg.MaxAge, "max_count", s.cfg.MaxCount,
		"max_size_bytes", s.cfg.MaxSizeBytes, "sweep_interval", s.cfg.SweepInterval)
}

// Stop signals the sweep loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("retention service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.runAll(ctx)

	interval := s.cfg.SweepInterval
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runAll(ctx)
		}
	}
}

// runAll prunes every local stream, then garbage-collects blocks the
// pruning left unreachable.
func (s *Service) runAll(ctx context.Context) {
	if s.cfg.MaxAge <= 0 && s.cfg.MaxCount <= 0 && s.cfg.MaxSizeBytes <= 0 {
		return
	}

	now := time.Now()
	for stream, root := range s.store.LocalStreamRoots() {
		newRoot, pruned, err := s.pruneStream(ctx, root, now)
		if err != nil {
			slog.Error("retention: prune failed", "stream", stream.String(), "error", err)
			continue
		}
		if pruned == 0 {
			continue
		}
		if err := s.store.ApplyRetainedRoot(ctx, stream, newRoot); err != nil {
			slog.Error("retention: apply retained root failed", "stream", stream.String(), "error", err)
			continue
		}
		slog.Info("retention: pruned stream", "stream", stream.String(), "events_dropped", pruned)
	}

	removed, err := s.bs.GC(ctx, banyan.Children)
	if err != nil {
		slog.Error("retention: block GC failed", "error", err)
		return
	}
	if removed > 0 {
		slog.Info("retention: reclaimed blocks", "count", removed)
	}
}

type eventStat struct {
	offset uint64
	ts     int64
	size   int
}

// pruneStream rebuilds root keeping only events that survive the age,
// count, and size policies, returning the new root and how many events
// were dropped. Returns the original root and zero if nothing needs
// dropping.
func (s *Service) pruneStream(ctx context.Context, root blockstore.CID, now time.Time) (blockstore.CID, int, error) {
	var stats []eventStat
	err := s.tree.Walk(ctx, root, banyan.Query{FromOffsetExcl: -1, ToOffsetIncl: -1}, true, func(e event.Event) (bool, error) {
		stats = append(stats, eventStat{offset: e.Offset, ts: e.Timestamp, size: len(e.Payload)})
		return true, nil
	})
	if err != nil {
		return root, 0, err
	}
	if len(stats) == 0 {
		return root, 0, nil
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].offset < stats[j].offset })

	cutoff := int64(-1) // drop offsets <= cutoff; -1 means nothing dropped

	if s.cfg.MaxAge > 0 {
		ageCutoffTs := now.Add(-s.cfg.MaxAge).UnixMicro()
		for _, st := range stats {
			if st.ts < ageCutoffTs && int64(st.offset) > cutoff {
				cutoff = int64(st.offset)
			}
		}
	}

	if s.cfg.MaxCount > 0 && len(stats) > s.cfg.MaxCount {
		dropN := len(stats) - s.cfg.MaxCount
		if c := int64(stats[dropN-1].offset); c > cutoff {
			cutoff = c
		}
	}

	if s.cfg.MaxSizeBytes > 0 {
		var total int64
		for i := len(stats) - 1; i >= 0; i-- {
			total += int64(stats[i].size)
			if total > s.cfg.MaxSizeBytes {
				if c := int64(stats[i].offset); c > cutoff {
					cutoff = c
				}
				break
			}
		}
	}

	if cutoff < 0 {
		return root, 0, nil
	}

	dropped := 0
	for _, st := range stats {
		if int64(st.offset) <= cutoff {
			dropped++
		}
	}
	if dropped == 0 {
		return root, 0, nil
	}

	newRoot, err := s.tree.Retain(ctx, root, func(e event.Event) bool { return int64(e.Offset) > cutoff })
	if err != nil {
		return root, 0, err
	}
	return newRoot, dropped, nil
}
