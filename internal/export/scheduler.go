package export

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Scheduler runs an export job on a cron spec. Specs may carry an optional seconds field.
type Scheduler struct {
	cron   *cron.Cron
	job    *Job
	ctx    context.Context
	logger *zap.Logger
}

// NewScheduler creates a scheduler whose runs use ctx
func NewScheduler(ctx context.Context, job *Job, logger *zap.Logger) *Scheduler {
	parser := cron.NewParser(
		cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
	)
	return &Scheduler{
		cron:   cron.New(cron.WithParser(parser), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		job:    job,
		ctx:    ctx,
		logger: logger,
	}
}

// Register adds the export job under spec
func (s *Scheduler) Register(spec string) error {
	if _, err := s.cron.AddFunc(spec, s.run); err != nil {
		return fmt.Errorf("register export schedule %q: %w", spec, err)
	}
	return nil
}

// Start starts the cron scheduler
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("Export scheduler started")
}

// Stop stops scheduling and waits for a running export to finish
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("Export scheduler stopped")
}

func (s *Scheduler) run() {
	if _, err := s.job.Run(s.ctx); err != nil {
		s.logger.Error("Scheduled export failed", zap.Error(err))
	}
}
