package engine

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/slinet/ehsync/internal/database"
	"go.uber.org/zap"
)

// statsSource is what the reporter reads
type statsSource interface {
	CountGalleries(ctx context.Context) (int64, error)
	ThumbQueueStats(ctx context.Context) (*database.ThumbQueueStats, error)
}

// StatsReporter logs mirror totals and thumb queue depth on a cron
// schedule, giving the engine log a periodic heartbeat
type StatsReporter struct {
	cron   *cron.Cron
	source statsSource
	spec   string
	logger *zap.Logger
}

// NewStatsReporter creates a reporter on the given cron spec
func NewStatsReporter(source statsSource, spec string, logger *zap.Logger) *StatsReporter {
	return &StatsReporter{
		cron:   cron.New(),
		source: source,
		spec:   spec,
		logger: logger,
	}
}

// Start schedules the reporter and begins running it
func (s *StatsReporter) Start() error {
	if _, err := s.cron.AddFunc(s.spec, s.report); err != nil {
		return err
	}
	s.cron.Start()
	s.logger.Info("stats reporter scheduled", zap.String("spec", s.spec))
	return nil
}

// Stop halts the schedule and waits for a running report to finish
func (s *StatsReporter) Stop() {
	<-s.cron.Stop().Done()
}

func (s *StatsReporter) report() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	total, err := s.source.CountGalleries(ctx)
	if err != nil {
		s.logger.Warn("stats report failed", zap.Error(err))
		return
	}
	queue, err := s.source.ThumbQueueStats(ctx)
	if err != nil {
		s.logger.Warn("stats report failed", zap.Error(err))
		return
	}

	s.logger.Info("mirror stats",
		zap.Int64("galleries", total),
		zap.Int64("thumbs_pending", queue.Pending),
		zap.Int64("thumbs_processing", queue.Processing),
		zap.Int64("thumbs_done", queue.Done),
		zap.Int64("thumbs_waiting", queue.Waiting))
}
