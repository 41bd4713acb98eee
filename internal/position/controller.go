package position

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/spotbot/internal/domain"
)

// OrderPlacer submits a market order and reports the fill.
type OrderPlacer interface {
	PlaceMarketOrder(ctx context.Context, symbol string, side domain.OrderSide, units float64) (domain.Fill, error)
}

// FillHandler is told about every fill as soon as it lands, before the next
// intent of a flip is placed. An error means the fill could not be booked.
type FillHandler interface {
	OnFill(ctx context.Context, intent domain.OrderIntent, fill domain.Fill) error
}

// Config configures a Controller.
type Config struct {
	Symbol  string
	Units   float64
	Initial domain.Position
	// FlipPause separates the two orders of a flip.
	FlipPause time.Duration
}

// Outcome describes one applied transition. Fills[i] belongs to Intents[i];
// when an intent fails, Fills is shorter than Intents. Unbooked lists the
// fills the handler rejected.
type Outcome struct {
	From     domain.Position
	To       domain.Position
	Intents  []domain.OrderIntent
	Fills    []domain.Fill
	Unbooked []domain.Fill
}

// Controller is the single writer of the position.
type Controller struct {
	cfg     Config
	placer  OrderPlacer
	handler FillHandler
	logger  *slog.Logger

	mu       sync.Mutex
	position domain.Position
}

// NewController creates a controller starting at cfg.Initial. handler may be
// nil.
func NewController(cfg Config, placer OrderPlacer, handler FillHandler, logger *slog.Logger) (*Controller, error) {
	if !cfg.Initial.Valid() {
		return nil, fmt.Errorf("position: invalid initial position %d", cfg.Initial)
	}
	if cfg.Units <= 0 {
		return nil, fmt.Errorf("position: order size must be positive, got %g", cfg.Units)
	}
	return &Controller{
		cfg:      cfg,
		placer:   placer,
		handler:  handler,
		logger:   logger.With(slog.String("component", "position")),
		position: cfg.Initial,
	}, nil
}

// Position returns the current position.
func (c *Controller) Position() domain.Position {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.position
}

// Transition places the orders that move the position to target. The
// position only reaches target when every intent filled. A failed first
// intent leaves the position unchanged; a failed second flip intent leaves it
// flat.
//
// The position follows the exchange even when a fill cannot be booked. The
// transition then completes and returns an error wrapping
// domain.ErrFillUnbooked.
func (c *Controller) Transition(ctx context.Context, target domain.Position) (Outcome, error) {
	if !target.Valid() {
		return Outcome{}, fmt.Errorf("position: invalid target %d", target)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	out := Outcome{From: c.position, To: c.position}
	out.Intents = Plan(c.position, target, c.cfg.Units)
	if len(out.Intents) == 0 {
		return out, nil
	}

	log := c.logger.With(
		slog.String("from", out.From.String()),
		slog.String("to", target.String()),
	)

	var bookErrs []error
	for i, intent := range out.Intents {
		if i > 0 && c.cfg.FlipPause > 0 {
			if err := sleepCtx(ctx, c.cfg.FlipPause); err != nil {
				c.position = positionAfter(out.From, target, i)
				out.To = c.position
				err = &domain.ExecutionError{Intent: intent, Step: i, Err: err}
				return out, fmt.Errorf("position: flip pause: %w", withBooking(err, bookErrs))
			}
		}

		fill, err := c.placer.PlaceMarketOrder(ctx, c.cfg.Symbol, intent.Side, intent.SizeUnits)
		if err != nil {
			c.position = positionAfter(out.From, target, i)
			out.To = c.position
			var execErr *domain.ExecutionError
			if errors.As(err, &execErr) {
				err = execErr.Err
			}
			err = &domain.ExecutionError{Intent: intent, Step: i, Err: err}
			log.Error("order intent failed",
				slog.Int("step", i),
				slog.String("action", string(intent.Action)),
				slog.String("position", c.position.String()),
				slog.String("error", err.Error()),
			)
			return out, fmt.Errorf("position: transition: %w", withBooking(err, bookErrs))
		}
		out.Fills = append(out.Fills, fill)

		if c.handler != nil {
			if err := c.handler.OnFill(ctx, intent, fill); err != nil {
				out.Unbooked = append(out.Unbooked, fill)
				bookErrs = append(bookErrs, err)
				log.Error("fill not booked",
					slog.Int("step", i),
					slog.String("order_id", fill.OrderID),
					slog.String("error", err.Error()),
				)
			}
		}
	}

	c.position = target
	out.To = target
	log.Info("position changed", slog.Int("orders", len(out.Intents)))
	if len(bookErrs) > 0 {
		return out, fmt.Errorf("position: transition: %w", withBooking(nil, bookErrs))
	}
	return out, nil
}

// withBooking joins err with the fills the handler could not book.
func withBooking(err error, bookErrs []error) error {
	if len(bookErrs) == 0 {
		return err
	}
	return errors.Join(err, fmt.Errorf("%w: %w", domain.ErrFillUnbooked, errors.Join(bookErrs...)))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
