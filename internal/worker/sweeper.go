// Package worker holds the storefront's background loops: the reservation
// expiration sweep and the cart revalidation watcher.
package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var sweptReservations = promauto.NewCounter(prometheus.CounterOpts{
	Name: "storefront_reservations_expired_total",
	Help: "Total number of reservations moved to expired by the sweep.",
})

// StaleExpirer is the slice of the reservation service the sweeper needs.
// Satisfied by *service.ReservationService.
type StaleExpirer interface {
	ExpireStale(ctx context.Context) (int64, error)
}

// Sweeper periodically expires stale reservations. The sweep is the authority
// on reservation expiry: reads treat expired-but-unswept holds as inactive,
// but only the sweep transitions them. It is set-based and safe to run from
// multiple replicas at once.
type Sweeper struct {
	reservations StaleExpirer
	interval     time.Duration
	logger       *slog.Logger
}

// NewSweeper creates a sweeper with the given interval.
func NewSweeper(reservations StaleExpirer, interval time.Duration, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		reservations: reservations,
		interval:     interval,
		logger:       logger,
	}
}

// Run sweeps on the configured interval until the context is cancelled. One
// sweep runs immediately on start so a restart doesn't delay expiry by a full
// interval.
func (s *Sweeper) Run(ctx context.Context) {
	s.logger.Info("reservation sweeper started",
		slog.Duration("interval", s.interval),
	)

	s.sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("reservation sweeper stopped")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	count, err := s.reservations.ExpireStale(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "reservation sweep failed",
			slog.String("error", err.Error()),
		)
		return
	}
	if count > 0 {
		sweptReservations.Add(float64(count))
	}
}
