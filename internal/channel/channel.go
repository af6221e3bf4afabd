// ABOUTME: Delivery channel abstraction, dispatch and ingest adapters by name
// ABOUTME: The core depends only on these interfaces, never on wire formats

package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/medforce/intake-gateway/internal/event"
)

// ErrNoAdapter means no dispatcher is registered for a channel name.
// The gateway falls back to storing the response as a pending
// delivery.
var ErrNoAdapter = errors.New("no adapter for channel")

// Message is an outbound patient-facing message.
type Message struct {
	PatientID string
	Channel   string
	Text      string
	Metadata  map[string]string
}

// DeliveryResult reports the outcome of one send.
type DeliveryResult struct {
	Delivered bool
	Detail    string
	At        time.Time
}

// Dispatcher delivers outbound messages on one channel.
type Dispatcher interface {
	// Name is the channel this adapter serves, e.g. "sms".
	Name() string

	// Send delivers one message.
	Send(ctx context.Context, msg Message) (DeliveryResult, error)
}

// BulkDispatcher is implemented by adapters that can batch sends.
// Registries fall back to per-message Send otherwise.
type BulkDispatcher interface {
	Dispatcher
	SendBulk(ctx context.Context, msgs []Message) ([]DeliveryResult, error)
}

// Ingest converts a channel-native inbound payload to an envelope.
type Ingest interface {
	Name() string
	ToEnvelope(ctx context.Context, raw []byte) (*event.Envelope, error)
}

// Registry holds dispatch and ingest adapters keyed by channel name.
// All methods are safe for concurrent use.
type Registry struct {
	mu          sync.RWMutex
	dispatchers map[string]Dispatcher
	ingests     map[string]Ingest
	logger      *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		dispatchers: map[string]Dispatcher{},
		ingests:     map[string]Ingest{},
		logger:      logger.With("component", "channels"),
	}
}

// RegisterDispatcher adds or replaces the adapter for its channel.
func (r *Registry) RegisterDispatcher(d Dispatcher) {
	r.mu.Lock()
	r.dispatchers[d.Name()] = d
	r.mu.Unlock()
	r.logger.Info("dispatcher registered", "channel", d.Name())
}

// RegisterIngest adds or replaces the ingest adapter for its channel.
func (r *Registry) RegisterIngest(i Ingest) {
	r.mu.Lock()
	r.ingests[i.Name()] = i
	r.mu.Unlock()
	r.logger.Info("ingest registered", "channel", i.Name())
}

// Ingest returns the ingest adapter for a channel.
func (r *Registry) Ingest(name string) (Ingest, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.ingests[name]
	return i, ok
}

// Send dispatches one message, retrying once on transient failure.
// ErrNoAdapter is returned when the channel has no dispatcher.
func (r *Registry) Send(ctx context.Context, msg Message) (DeliveryResult, error) {
	r.mu.RLock()
	d, ok := r.dispatchers[msg.Channel]
	r.mu.RUnlock()
	if !ok {
		return DeliveryResult{}, fmt.Errorf("sending on %q: %w", msg.Channel, ErrNoAdapter)
	}

	res, err := d.Send(ctx, msg)
	if err == nil {
		return res, nil
	}
	r.logger.Warn("send failed, retrying once", "channel", msg.Channel, "patient_id", msg.PatientID, "error", err)

	res, err = d.Send(ctx, msg)
	if err != nil {
		return DeliveryResult{}, fmt.Errorf("sending on %q after retry: %w", msg.Channel, err)
	}
	return res, nil
}

// SendBulk dispatches a batch, using the adapter's bulk path when
// available.
func (r *Registry) SendBulk(ctx context.Context, channel string, msgs []Message) ([]DeliveryResult, error) {
	r.mu.RLock()
	d, ok := r.dispatchers[channel]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("bulk sending on %q: %w", channel, ErrNoAdapter)
	}
	if bd, ok := d.(BulkDispatcher); ok {
		return bd.SendBulk(ctx, msgs)
	}
	out := make([]DeliveryResult, 0, len(msgs))
	for _, m := range msgs {
		res, err := r.Send(ctx, m)
		if err != nil {
			return out, err
		}
		out = append(out, res)
	}
	return out, nil
}
