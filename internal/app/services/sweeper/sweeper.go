// Package sweeper runs the scheduled settlement watcher: auctions whose
// settlement window has fully lapsed without a claim or refund are abandoned
// on the owner's behalf.
package sweeper

import (
	"context"
	"errors"
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/tokenhall/auctionhouse/internal/app/domain/auction"
	"github.com/tokenhall/auctionhouse/internal/app/metrics"
	"github.com/tokenhall/auctionhouse/internal/app/services/auctionhouse"
	"github.com/tokenhall/auctionhouse/pkg/logger"
)

// Engine is the slice of the auction engine the sweeper drives.
type Engine interface {
	ListAuctionsByStatus(ctx context.Context, status auction.Status) ([]auction.Auction, error)
	Abandon(ctx context.Context, caller string, auctionID int64) (auction.Auction, error)
}

// Sweeper schedules settlement sweeps with cron.
type Sweeper struct {
	engine   Engine
	owner    string
	schedule string

	cron *cron.Cron
	log  *logger.Logger
}

// New creates a sweeper that abandons overdue auctions as owner on the given
// cron schedule.
func New(engine Engine, owner, schedule string, log *logger.Logger) *Sweeper {
	if log == nil {
		log = logger.NewDefault("sweeper")
	}
	return &Sweeper{
		engine:   engine,
		owner:    owner,
		schedule: schedule,
		log:      log,
	}
}

// Name implements system.Service.
func (s *Sweeper) Name() string { return "settlement-sweeper" }

// Start schedules the sweep.
func (s *Sweeper) Start(ctx context.Context) error {
	s.cron = cron.New()
	_, err := s.cron.AddFunc(s.schedule, func() {
		if err := s.Sweep(context.Background()); err != nil {
			s.log.WithError(err).Error("Settlement sweep failed")
		}
	})
	if err != nil {
		return fmt.Errorf("schedule %q: %w", s.schedule, err)
	}
	s.cron.Start()
	s.log.WithField("schedule", s.schedule).Info("Settlement sweeper started")
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop(ctx context.Context) error {
	if s.cron == nil {
		return nil
	}
	done := s.cron.Stop().Done()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Sweep abandons every Active auction whose settlement window has lapsed.
// Auctions that cannot be abandoned yet are skipped; other errors fail the
// sweep after the remaining auctions are still attempted.
func (s *Sweeper) Sweep(ctx context.Context) error {
	active, err := s.engine.ListAuctionsByStatus(ctx, auction.StatusActive)
	if err != nil {
		metrics.RecordSweep(false)
		return fmt.Errorf("list active auctions: %w", err)
	}

	var firstErr error
	swept := 0
	for _, rec := range active {
		_, err := s.engine.Abandon(ctx, s.owner, rec.ID)
		switch {
		case err == nil:
			swept++
			s.log.WithField("auction_id", rec.ID).Info("Abandoned overdue auction")
		case errors.Is(err, auctionhouse.ErrSettlementPeriodActive):
			// Still inside the settlement window.
		default:
			s.log.WithError(err).WithField("auction_id", rec.ID).Error("Failed to abandon auction")
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	metrics.RecordSweep(firstErr == nil)
	if swept > 0 {
		s.log.WithField("swept", swept).Info("Settlement sweep finished")
	}
	return firstErr
}
