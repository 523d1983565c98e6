package challenge

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/samber/oops"

	"github.com/congo-pay/congo_auth/internal/identity"
)

// Expirer clears slot pairs whose expiry has passed.
type Expirer interface {
	ClearExpired(ctx context.Context, slot identity.Slot, now time.Time) (int64, error)
}

// Sweeper periodically nulls expired challenges so stale hashes do not linger
// in storage. Consume already rejects them, so sweeping is housekeeping only.
type Sweeper struct {
	cron    *cron.Cron
	repo    Expirer
	logger  *slog.Logger
	now     func() time.Time
	timeout time.Duration
	report  func(slot identity.Slot, cleared int64)
}

// NewSweeper schedules a sweep on schedule (standard cron spec or
// descriptors such as "@every 15m").
func NewSweeper(repo Expirer, schedule string, logger *slog.Logger) (*Sweeper, error) {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	s := &Sweeper{
		cron:    cron.New(cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger))),
		repo:    repo,
		logger:  logger,
		now:     time.Now,
		timeout: time.Minute,
	}
	if _, err := s.cron.AddFunc(schedule, s.run); err != nil {
		return nil, oops.Code("SWEEPER_INVALID_SCHEDULE").With("schedule", schedule).Wrap(err)
	}
	logger.Info("scheduled expired challenge sweep", "schedule", schedule)
	return s, nil
}

// OnSwept registers fn to receive per-slot counts after each scheduled sweep.
func (s *Sweeper) OnSwept(fn func(slot identity.Slot, cleared int64)) {
	s.report = fn
}

// Start runs the scheduler in its own goroutine.
func (s *Sweeper) Start() {
	s.cron.Start()
}

// Stop halts scheduling and returns a context done once a running sweep ends.
func (s *Sweeper) Stop() context.Context {
	return s.cron.Stop()
}

// Sweep clears every expired slot once and reports how many rows each slot
// lost.
func (s *Sweeper) Sweep(ctx context.Context) (map[identity.Slot]int64, error) {
	now := s.now()
	cleared := make(map[identity.Slot]int64, len(identity.Slots))
	for _, slot := range identity.Slots {
		n, err := s.repo.ClearExpired(ctx, slot, now)
		if err != nil {
			return cleared, oops.Code("SWEEP_FAILED").With("slot", slot).Wrap(err)
		}
		cleared[slot] = n
	}
	return cleared, nil
}

func (s *Sweeper) run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	cleared, err := s.Sweep(ctx)
	if err != nil {
		s.logger.Error("expired challenge sweep failed", "error", err)
		return
	}
	if s.report != nil {
		for slot, n := range cleared {
			s.report(slot, n)
		}
	}
	s.logger.Info("expired challenge sweep finished",
		"password_reset", cleared[identity.SlotPasswordReset],
		"pin", cleared[identity.SlotPIN])
}
