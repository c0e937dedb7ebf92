package correlation

import (
	"context"
	"log/slog"
	"time"
)

// ExpiryHandler receives entries whose deadline elapsed with no matching
// callback. The sweeper guarantees each entry is delivered at most once; the
// handler decides what a timeout means for its state machine.
type ExpiryHandler interface {
	OnCorrelationExpired(ctx context.Context, entry Entry)
}

// Sweeper periodically sweeps expired entries and routes them to the handler
// registered for their kind. Cancelling the context stops future sweeps
// without touching live entries.
type Sweeper struct {
	store    Store
	handlers map[Kind]ExpiryHandler
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

func NewSweeper(store Store, interval time.Duration, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		store:    store,
		handlers: make(map[Kind]ExpiryHandler),
		interval: interval,
		logger:   logger,
		now:      time.Now,
	}
}

// Register routes expiries of the given kind to handler. Call before Run.
func (s *Sweeper) Register(kind Kind, handler ExpiryHandler) {
	s.handlers[kind] = handler
}

// Run blocks until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	expired, err := s.store.SweepExpired(ctx, s.now())
	if err != nil {
		s.logger.ErrorContext(ctx, "correlation sweep failed", "error", err)
		return
	}
	for _, entry := range expired {
		handler, ok := s.handlers[entry.Kind]
		if !ok {
			s.logger.WarnContext(ctx, "no expiry handler registered",
				"kind", entry.Kind,
				"protocol_id", entry.ProtocolID,
			)
			continue
		}
		handler.OnCorrelationExpired(ctx, entry)
	}
}
