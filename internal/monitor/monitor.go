// Package monitor samples the runtime counters of the world server on an
// interval and fans each sample out to the log, a status file, InfluxDB and
// the server_performances table.
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"sync"
	"time"

	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"gorm.io/gorm"

	"github.com/veinworld/worldserver/internal/chunkstore"
	"github.com/veinworld/worldserver/internal/influx"
	"github.com/veinworld/worldserver/internal/model"
	"github.com/veinworld/worldserver/internal/queue"
)

// DefaultInterval is used when Dependencies.Interval is zero.
const DefaultInterval = 10 * time.Second

// pending samples kept while the database is unavailable
const maxPending = 1024

// StatsSource reports the chunk store counters.
type StatsSource interface {
	Stats() chunkstore.Stats
}

// PointWriter receives one point per sample.
type PointWriter interface {
	WritePoint(ctx context.Context, point *influxdb2_write.Point) error
}

// Gauge reads a current value.
type Gauge func() int64

// Dependencies holds all dependencies for the monitor service
type Dependencies struct {
	WorldID string
	Store   StatsSource

	Sessions      Gauge
	Connections   Gauge
	CacheEntries  Gauge
	PendingWrites Gauge

	// DB, Influx and StatusFile are optional sinks.
	DB         *gorm.DB
	Influx     PointWriter
	StatusFile string

	Logger   *slog.Logger
	Interval time.Duration
}

// Service manages status monitoring
type Service struct {
	deps    Dependencies
	log     *slog.Logger
	pending *queue.Queue[model.ServerPerformance]

	mu        sync.RWMutex
	isRunning bool
	latest    model.ServerPerformance
	stopChan  chan struct{}
	done      chan struct{}
}

// NewService creates a new monitor service
func NewService(deps Dependencies) *Service {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Interval <= 0 {
		deps.Interval = DefaultInterval
	}
	return &Service{
		deps:    deps,
		log:     deps.Logger.With("component", "monitor"),
		pending: queue.NewBounded[model.ServerPerformance](maxPending),
	}
}

func read(g Gauge) int64 {
	if g == nil {
		return 0
	}
	return g()
}

// Sample reads every source once.
func (s *Service) Sample() model.ServerPerformance {
	perf := model.ServerPerformance{
		Time:           time.Now().UTC(),
		WorldID:        s.deps.WorldID,
		ActiveSessions: read(s.deps.Sessions),
		Connections:    read(s.deps.Connections),
		CacheEntries:   read(s.deps.CacheEntries),
		PendingWrites:  read(s.deps.PendingWrites),
	}
	if s.deps.Store != nil {
		st := s.deps.Store.Stats()
		perf.TierHits = model.TierHits{Cache: st.CacheHits, Cold: st.ColdHits, Generated: st.Generated}
		perf.Backfill = model.BackfillStats{
			Checked:   st.BackfillChecked,
			Generated: st.BackfillGenerated,
			Failed:    st.BackfillFailed,
		}
	}
	return perf
}

// Latest returns the most recent sample taken by Tick.
func (s *Service) Latest() model.ServerPerformance {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest
}

// Pending returns how many samples wait for the database.
func (s *Service) Pending() int {
	return s.pending.Len()
}

// Tick takes a sample and delivers it to every configured sink. Sink
// failures are logged; a failed database write keeps the batch for the next
// tick.
func (s *Service) Tick(ctx context.Context) model.ServerPerformance {
	perf := s.Sample()
	s.mu.Lock()
	s.latest = perf
	s.mu.Unlock()

	s.log.Debug("Server performance",
		"sessions", perf.ActiveSessions,
		"connections", perf.Connections,
		"cacheEntries", perf.CacheEntries,
		"pendingWrites", perf.PendingWrites,
		"cacheHits", perf.TierHits.Cache,
		"coldHits", perf.TierHits.Cold,
		"generated", perf.TierHits.Generated,
	)

	if s.deps.StatusFile != "" {
		if err := writeStatus(s.deps.StatusFile, perf); err != nil {
			s.log.Error("Error writing status file", "path", s.deps.StatusFile, "error", err)
		}
	}

	if s.deps.Influx != nil {
		if err := s.deps.Influx.WritePoint(ctx, influx.PerformancePoint(perf)); err != nil {
			s.log.Error("Error writing perf point to InfluxDB", "error", err)
		}
	}

	if s.deps.DB != nil {
		if dropped := s.pending.Push(perf); dropped > 0 {
			s.log.Warn("Dropped unsaved perf samples", "count", dropped)
		}
		if err := s.flush(ctx); err != nil {
			s.log.Error("Error writing perf samples to database", "error", err, "pending", s.pending.Len())
		}
	}
	return perf
}

func (s *Service) flush(ctx context.Context) error {
	batch := s.pending.GetAndEmpty()
	if len(batch) == 0 {
		return nil
	}
	if err := s.deps.DB.WithContext(ctx).Create(&batch).Error; err != nil {
		s.pending.Requeue(batch...)
		return err
	}
	return nil
}

func writeStatus(path string, perf model.ServerPerformance) error {
	data, err := json.MarshalIndent(perf, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// IsRunning returns whether the status monitor is running
func (s *Service) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// Start runs Tick every interval until ctx is done or Stop is called.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isRunning {
		return errors.New("monitor already running")
	}
	s.isRunning = true
	s.stopChan = make(chan struct{})
	s.done = make(chan struct{})

	go func(stop <-chan struct{}, done chan<- struct{}) {
		defer close(done)
		defer func() {
			s.mu.Lock()
			s.isRunning = false
			s.mu.Unlock()
		}()

		s.log.Debug("Starting status monitor", "interval", s.deps.Interval)
		ticker := time.NewTicker(s.deps.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-ticker.C:
				s.Tick(ctx)
			}
		}
	}(s.stopChan, s.done)

	return nil
}

// Stop stops the status monitor and waits for the loop to exit. Samples
// still pending get one last write attempt.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	stop, done := s.stopChan, s.done
	if s.isRunning && stop != nil {
		close(stop)
	}
	s.stopChan = nil
	s.mu.Unlock()

	if done != nil {
		<-done
	}
	if s.deps.DB != nil {
		if err := s.flush(ctx); err != nil {
			s.log.Error("Error writing perf samples on stop", "error", err, "lost", s.pending.Len())
		}
	}
}
