// Package actuation forwards inspection decisions to the physical sorting line.
package actuation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"pcb-inspect/internal/decision"
)

// DefaultTimeout bounds a command round trip.
const DefaultTimeout = 3 * time.Second

// ErrTimeout is returned when the line controller does not acknowledge in time.
var ErrTimeout = errors.New("actuation: timeout")

// Metadata describes the board a decision belongs to.
type Metadata struct {
	InspectionID string     `json:"inspection_id"`
	ProductCode  string     `json:"product_code,omitempty"`
	Serial       string     `json:"serial,omitempty"`
	Slot         SlotResult `json:"slot"`
}

// Command is the payload sent to the line controller.
type Command struct {
	Decision decision.Decision `json:"decision"`
	Code     int               `json:"code"`
	Metadata
	Placed bool `json:"placed"`
}

// NewCommand builds the command for d.
func NewCommand(d decision.Decision, meta Metadata) Command {
	return Command{Decision: d, Code: d.Code(), Metadata: meta, Placed: meta.Slot.Assigned()}
}

// Ack is the controller's acknowledgement.
type Ack struct {
	Accepted bool      `json:"accepted"`
	Message  string    `json:"message,omitempty"`
	At       time.Time `json:"at"`
}

// Actuator delivers a decision.
type Actuator interface {
	Send(ctx context.Context, d decision.Decision, meta Metadata) (Ack, error)
}

// HTTPActuator posts commands as JSON to a line controller.
type HTTPActuator struct {
	client *resty.Client
	url    string
	logger *zap.Logger
}

// NewHTTPActuator creates an actuator for the controller at url.
func NewHTTPActuator(url string, timeout time.Duration, logger *zap.Logger) *HTTPActuator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPActuator{
		client: resty.New().SetTimeout(timeout),
		url:    url,
		logger: logger,
	}
}

// Send implements Actuator.
func (a *HTTPActuator) Send(ctx context.Context, d decision.Decision, meta Metadata) (Ack, error) {
	if !d.Valid() {
		return Ack{}, fmt.Errorf("unknown decision %q", d)
	}
	var ack Ack
	resp, err := a.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(NewCommand(d, meta)).
		SetResult(&ack).
		Post(a.url)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return Ack{}, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return Ack{}, fmt.Errorf("actuation request: %w", err)
	}
	if resp.IsError() {
		a.logger.Warn("line controller rejected command",
			zap.String("inspection_id", meta.InspectionID),
			zap.String("status", resp.Status()))
		return Ack{}, fmt.Errorf("line controller returned %s", resp.Status())
	}
	if ack.At.IsZero() {
		ack.At = time.Now()
	}
	return ack, nil
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}

// LogActuator only logs decisions. It stands in when no controller is configured.
type LogActuator struct {
	logger *zap.Logger
}

// NewLogActuator creates a logging actuator.
func NewLogActuator(logger *zap.Logger) *LogActuator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogActuator{logger: logger}
}

// Send implements Actuator.
func (a *LogActuator) Send(ctx context.Context, d decision.Decision, meta Metadata) (Ack, error) {
	if err := ctx.Err(); err != nil {
		return Ack{}, err
	}
	a.logger.Info("decision",
		zap.String("inspection_id", meta.InspectionID),
		zap.String("decision", string(d)),
		zap.Int("code", d.Code()),
		zap.String("product_code", meta.ProductCode),
		zap.Stringer("slot", meta.Slot))
	return Ack{Accepted: true, Message: "logged", At: time.Now()}, nil
}
