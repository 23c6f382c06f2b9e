package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"sourceline/internal/engine"
)

// ActorID is recorded on events written by scheduled sweeps.
const ActorID = "scheduler"

// Sweeper runs follow-ups across every project.
type Sweeper interface {
	SweepFollowUps(ctx context.Context, actorID string) (engine.SweepResult, error)
}

// Scheduler runs the follow-up sweep on a cron spec. A tick that fires while
// the previous sweep is still running is skipped.
type Scheduler struct {
	sweeper Sweeper
	logger  *zap.Logger
	cron    *cron.Cron
	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
}

func New(spec string, sweeper Sweeper, logger *zap.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Scheduler{sweeper: sweeper, logger: logger}
	s.cron = cron.New(cron.WithLogger(cronLogger{logger.Sugar()}))
	if _, err := s.cron.AddFunc(spec, func() { s.RunOnce(s.ctx) }); err != nil {
		return nil, fmt.Errorf("follow-up schedule %q: %w", spec, err)
	}
	return s, nil
}

// Start begins ticking. Sweeps run with a context derived from ctx.
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.cron.Start()
	s.logger.Info("follow-up scheduler started", zap.Int("entries", len(s.cron.Entries())))
}

// Stop cancels a running sweep and waits for it to return.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	<-s.cron.Stop().Done()
}

// RunOnce performs one sweep unless another is in flight. It reports whether
// the sweep ran.
func (s *Scheduler) RunOnce(ctx context.Context) bool {
	if !s.running.CompareAndSwap(false, true) {
		s.logger.Info("follow-up sweep still running, skipping tick")
		return false
	}
	defer s.running.Store(false)
	if ctx == nil {
		ctx = context.Background()
	}
	res, err := s.sweeper.SweepFollowUps(ctx, ActorID)
	var cfgErr engine.ConfigError
	switch {
	case errors.As(err, &cfgErr):
		s.logger.Debug("follow-up sweep skipped", zap.String("reason", cfgErr.Error()))
	case err != nil:
		s.logger.Error("follow-up sweep failed", zap.Error(err))
	default:
		s.logger.Info("follow-up sweep finished",
			zap.Int("projects", res.Projects),
			zap.Int("eligible", res.Eligible),
			zap.Int("sent", res.Sent),
			zap.Int("failed", res.Failed))
	}
	return true
}

type cronLogger struct {
	l *zap.SugaredLogger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Errorw(msg, append(keysAndValues, "error", err)...)
}
