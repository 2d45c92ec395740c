package email

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"github.com/dukerupert/servicedesk/internal/metrics"
	"github.com/dukerupert/servicedesk/internal/model"
)

// ErrCircuitOpen is returned while repeated delivery failures keep the
// breaker open. Alerts are dropped rather than queued.
var ErrCircuitOpen = errors.New("alert circuit breaker is open")

type BreakerConfig struct {
	// MaxFailures is the number of consecutive failures that opens the circuit.
	MaxFailures uint32
	// Timeout is how long the circuit stays open before a trial delivery.
	Timeout time.Duration
}

// BreakerNotifier guards a Notifier so a dead mail relay does not add a
// full dial timeout to every failed backup.
type BreakerNotifier struct {
	next    Notifier
	breaker *gobreaker.CircuitBreaker
}

func NewBreakerNotifier(next Notifier, cfg BreakerConfig, logger *slog.Logger) *BreakerNotifier {
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 3
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	logger = logger.With("component", "email")

	settings := gobreaker.Settings{
		Name:        "alerts",
		MaxRequests: 1,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("alert circuit breaker state change", "from", from.String(), "to", to.String())
		},
	}
	return &BreakerNotifier{next: next, breaker: gobreaker.NewCircuitBreaker(settings)}
}

func (b *BreakerNotifier) NotifyFailure(ctx context.Context, address string, alert model.FailureAlert) error {
	_, err := b.breaker.Execute(func() (interface{}, error) {
		return nil, b.next.NotifyFailure(ctx, address, alert)
	})
	switch {
	case err == nil:
		metrics.RecordAlert("sent")
		return nil
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.RecordAlert("short_circuited")
		return ErrCircuitOpen
	default:
		metrics.RecordAlert("failed")
		return err
	}
}

// State reports the breaker state: "closed", "half-open" or "open".
func (b *BreakerNotifier) State() string {
	return b.breaker.State().String()
}
