// ABOUTME: The orchestration core, validates, routes, persists and dispatches
// ABOUTME: Event chains run on an explicit work list, never by recursion

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/medforce/intake-gateway/internal/agent"
	"github.com/medforce/intake-gateway/internal/channel"
	"github.com/medforce/intake-gateway/internal/dedupe"
	"github.com/medforce/intake-gateway/internal/diary"
	"github.com/medforce/intake-gateway/internal/event"
	"github.com/medforce/intake-gateway/internal/identity"
	"github.com/medforce/intake-gateway/internal/metrics"
	"github.com/medforce/intake-gateway/internal/queue"
	"github.com/medforce/intake-gateway/internal/store"
)

var (
	// ErrRateLimited means the patient exceeded the external
	// message allowance; the caller should surface backpressure.
	ErrRateLimited = errors.New("rate limited")

	// ErrMessageTooLong means the text exceeds the configured cap.
	ErrMessageTooLong = errors.New("message too long")

	// ErrNoPatient means the envelope carries no patient id.
	ErrNoPatient = errors.New("envelope without patient id")
)

const saveAttempts = 3

// MonitorRegistry is the heartbeat scheduler surface the gateway
// notifies on phase changes.
type MonitorRegistry interface {
	Register(patientID string)
	Unregister(patientID string)
}

// Options tunes the gateway's safeguards.
type Options struct {
	MaxChainDepth      int
	RateLimitPerMinute int
	MaxMessageLength   int
	DedupeTTL          time.Duration
	QueueIdleTTL       time.Duration
	QueueDepth         int
}

func (o *Options) defaults() {
	if o.MaxChainDepth <= 0 {
		o.MaxChainDepth = 10
	}
	if o.RateLimitPerMinute <= 0 {
		o.RateLimitPerMinute = 5
	}
	if o.MaxMessageLength <= 0 {
		o.MaxMessageLength = 10000
	}
}

// Gateway is the deterministic event core. Agents, channels and the
// scheduler all hang off it; it owns persistence and dispatch.
type Gateway struct {
	store    store.Store
	channels *channel.Registry
	resolver *identity.Resolver
	metrics  *metrics.Collector
	queues   *queue.Manager
	guard    *dedupe.Guard
	gate     *rateGate
	agents   map[string]agent.Agent
	monitor  MonitorRegistry
	opts     Options
	logger   *slog.Logger
}

// New wires a gateway. Agents are registered separately, the monitor
// registry optionally.
func New(s store.Store, channels *channel.Registry, resolver *identity.Resolver, collector *metrics.Collector, opts Options, logger *slog.Logger) *Gateway {
	opts.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	if collector == nil {
		collector = metrics.New()
	}
	g := &Gateway{
		store:    s,
		channels: channels,
		resolver: resolver,
		metrics:  collector,
		queues:   queue.New(opts.QueueIdleTTL, opts.QueueDepth, logger),
		guard:    dedupe.New(opts.DedupeTTL, 0),
		gate:     newRateGate(opts.RateLimitPerMinute),
		agents:   map[string]agent.Agent{},
		opts:     opts,
		logger:   logger.With("component", "gateway"),
	}
	collector.SetQueueGauge(g.queues.Active)
	return g
}

// RegisterAgent adds a specialist by its own name.
func (g *Gateway) RegisterAgent(a agent.Agent) {
	g.agents[a.Name()] = a
	g.logger.Info("agent registered", "agent", a.Name())
}

// SetMonitorRegistry wires the heartbeat scheduler.
func (g *Gateway) SetMonitorRegistry(m MonitorRegistry) { g.monitor = m }

// Metrics exposes the collector for the control surface.
func (g *Gateway) Metrics() *metrics.Collector { return g.metrics }

// Store exposes the backing store for the control surface.
func (g *Gateway) Store() store.Store { return g.store }

// Close stops accepting work and drains the patient queues.
func (g *Gateway) Close() { g.queues.Close() }

// Submit validates an envelope and enqueues it on the patient's FIFO
// queue. Validation errors surface to the caller; processing errors
// are dead-lettered asynchronously.
func (g *Gateway) Submit(ctx context.Context, env *event.Envelope) error {
	if env.PatientID == "" {
		return ErrNoPatient
	}
	if len(env.Text()) > g.opts.MaxMessageLength {
		return fmt.Errorf("message of %d chars: %w", len(env.Text()), ErrMessageTooLong)
	}
	if env.EventID == "" {
		env.EventID = uuid.NewString()
	}
	if env.Timestamp.IsZero() {
		env.Timestamp = time.Now().UTC()
	}
	if g.guard.SeenOrMark(env.EventID) {
		g.metrics.Duplicate()
		g.logger.Debug("duplicate event skipped", "event_id", env.EventID, "patient_id", env.PatientID)
		return nil
	}
	if env.IsExternal() && !g.gate.Allow(env.PatientID) {
		g.metrics.RateLimited()
		return fmt.Errorf("patient %s: %w", env.PatientID, ErrRateLimited)
	}

	// The processing context must outlive the HTTP request.
	bg := context.WithoutCancel(ctx)
	return g.queues.Submit(env.PatientID, func() {
		g.process(bg, env)
	})
}

// process runs one event and every event it spawns, breadth-first on
// an explicit work list. Chain depth is bounded.
func (g *Gateway) process(ctx context.Context, env *event.Envelope) {
	work := []*event.Envelope{env}
	for len(work) > 0 {
		cur := work[0]
		work = work[1:]

		if cur.ChainDepth >= g.opts.MaxChainDepth {
			g.metrics.ChainAborted()
			g.deadLetter(ctx, cur, "", fmt.Errorf("chain depth %d reached", cur.ChainDepth))
			g.logger.Error("event chain aborted", "event_id", cur.EventID,
				"patient_id", cur.PatientID, "depth", cur.ChainDepth)
			continue
		}
		for _, spawned := range g.handleOne(ctx, cur) {
			spawned.ChainDepth = cur.ChainDepth + 1
			work = append(work, spawned)
		}
	}
}

// handleOne takes one event through the full pipeline and returns
// whatever the agent emitted.
func (g *Gateway) handleOne(ctx context.Context, env *event.Envelope) []*event.Envelope {
	g.metrics.Event(string(env.EventType))
	logger := g.logger.With("event_id", env.EventID, "event_type", env.EventType, "patient_id", env.PatientID)

	d, gen, err := g.store.Load(ctx, env.PatientID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		// Gate the sender before opening anything: a denied first
		// contact must not leave a diary behind.
		if perr := identity.CheckPermission(env, diary.New(env.PatientID)); perr != nil {
			g.refuse(ctx, env, logger, perr)
			return nil
		}
		d, gen, err = g.openJourney(ctx, env)
		if err != nil {
			g.deadLetter(ctx, env, "", err)
			return nil
		}
	case err != nil:
		g.deadLetter(ctx, env, "", err)
		return nil
	}

	if err := identity.CheckPermission(env, d); err != nil {
		g.refuse(ctx, env, logger, err)
		return nil
	}

	name, err := route(env, d.Phase)
	if errors.Is(err, ErrClosedJourney) {
		logger.Info("event for closed journey dropped")
		return nil
	}
	if err != nil {
		g.deadLetter(ctx, env, "", err)
		return nil
	}
	a, ok := g.agents[name]
	if !ok {
		g.deadLetter(ctx, env, name, fmt.Errorf("agent %q not registered", name))
		return nil
	}

	for attempt := 0; attempt < saveAttempts; attempt++ {
		start := time.Now()
		res, perr := a.Process(ctx, env, d)
		g.metrics.AgentCall(name, time.Since(start), perr != nil)
		if perr != nil {
			logger.Error("agent failed", "agent", name, "error", perr)
			g.deadLetter(ctx, env, name, perr)
			if env.EventType == event.TypeUserMessage {
				g.dispatchResponses(ctx, env, []agent.Response{{
					Channel: env.Channel(),
					Text:    "Sorry, something went wrong on our side. The team has been notified; please try again shortly.",
				}})
			}
			return nil
		}

		spilled := g.logConversation(d, env, res)
		if _, serr := g.store.Save(ctx, d, gen); serr != nil {
			if errors.Is(serr, store.ErrConflict) {
				// Another writer won. Reload and reapply.
				g.metrics.SaveConflict()
				logger.Warn("save conflict, reapplying", "attempt", attempt+1)
				if d, gen, err = g.store.Load(ctx, env.PatientID); err != nil {
					g.deadLetter(ctx, env, name, err)
					return nil
				}
				continue
			}
			g.deadLetter(ctx, env, name, serr)
			return nil
		}
		if len(spilled) > 0 {
			if aerr := g.store.SpillConversation(ctx, env.PatientID, spilled); aerr != nil {
				logger.Error("conversation archive failed", "error", aerr)
			}
		}
		g.afterSave(d)
		g.dispatchResponses(ctx, env, res.Responses)
		g.resolver.Touch(env.PatientID)
		return res.Events
	}

	g.deadLetter(ctx, env, name, fmt.Errorf("gave up after %d save conflicts: %w", saveAttempts, store.ErrConflict))
	return nil
}

// refuse answers a denied sender without touching the diary.
func (g *Gateway) refuse(ctx context.Context, env *event.Envelope, logger *slog.Logger, err error) {
	logger.Warn("permission denied", "sender", env.SenderID, "role", env.SenderRole, "error", err)
	g.dispatchResponses(ctx, env, []agent.Response{{
		Channel: env.Channel(),
		Text:    "Sorry, you are not able to do that on this patient's behalf. Please contact the clinic if you think this is a mistake.",
	}})
}

// openJourney creates a diary for a first-contact external message.
// Internal events for unknown patients are an error.
func (g *Gateway) openJourney(ctx context.Context, env *event.Envelope) (*diary.Diary, int64, error) {
	if !env.IsExternal() {
		return nil, 0, fmt.Errorf("internal event %s for unknown patient %s: %w",
			env.EventType, env.PatientID, store.ErrNotFound)
	}
	d := diary.New(env.PatientID)
	if err := g.store.Create(ctx, d); err != nil {
		if errors.Is(err, store.ErrExists) {
			// Lost a create race; the diary is there now.
			return g.store.Load(ctx, env.PatientID)
		}
		return nil, 0, err
	}
	g.logger.Info("journey opened", "patient_id", env.PatientID, "source", env.Source)
	return d, 1, nil
}

// logConversation appends patient-visible turns to the diary and
// returns entries spilled past the cap.
func (g *Gateway) logConversation(d *diary.Diary, env *event.Envelope, res *agent.Result) []diary.ConversationEntry {
	var spilled []diary.ConversationEntry
	if env.EventType == event.TypeUserMessage && env.Text() != "" {
		spilled = append(spilled, d.AppendConversation(diary.ConversationEntry{
			Role: string(env.SenderRole), Text: env.Text(), Channel: env.Channel(),
		})...)
	}
	for _, r := range res.Responses {
		if r.Channel == agent.GPChannel {
			continue
		}
		spilled = append(spilled, d.AppendConversation(diary.ConversationEntry{
			Role: "agent", Text: r.Text, Channel: r.Channel,
		})...)
	}
	return spilled
}

// afterSave keeps the identity index and the monitored set in step
// with the persisted diary.
func (g *Gateway) afterSave(d *diary.Diary) {
	g.resolver.Update(d)
	if g.monitor == nil {
		return
	}
	if d.Phase == diary.PhaseMonitoring {
		g.monitor.Register(d.PatientID)
	} else {
		g.monitor.Unregister(d.PatientID)
	}
}

// dispatchResponses sends agent responses out, holding any the
// channel layer cannot deliver as pending deliveries.
func (g *Gateway) dispatchResponses(ctx context.Context, env *event.Envelope, responses []agent.Response) {
	for _, r := range responses {
		msg := channel.Message{PatientID: env.PatientID, Channel: r.Channel, Text: r.Text}
		if _, err := g.channels.Send(ctx, msg); err != nil {
			if !errors.Is(err, channel.ErrNoAdapter) {
				g.logger.Error("dispatch failed, holding for later", "patient_id", env.PatientID,
					"channel", r.Channel, "error", err)
			}
			pd := store.PendingDelivery{
				ID: uuid.NewString(), PatientID: env.PatientID,
				Channel: r.Channel, Text: r.Text, CreatedAt: time.Now().UTC(),
			}
			if serr := g.store.SavePendingDelivery(ctx, pd); serr != nil {
				g.logger.Error("pending delivery save failed", "patient_id", env.PatientID, "error", serr)
			}
		}
	}
}

// deadLetter captures a failed event with full context.
func (g *Gateway) deadLetter(ctx context.Context, env *event.Envelope, agentName string, cause error) {
	g.metrics.DeadLettered()
	blob, _ := json.Marshal(env)
	dl := store.DeadLetter{
		ID:        uuid.NewString(),
		EventID:   env.EventID,
		EventType: string(env.EventType),
		PatientID: env.PatientID,
		Agent:     agentName,
		Error:     cause.Error(),
		Envelope:  blob,
		CreatedAt: time.Now().UTC(),
	}
	if err := g.store.AppendDeadLetter(ctx, dl); err != nil {
		g.logger.Error("dead letter write failed", "event_id", env.EventID, "error", err)
	}
}

// ReplayDeadLetter re-enqueues a captured event, bypassing the
// idempotency guard.
func (g *Gateway) ReplayDeadLetter(ctx context.Context, id string) error {
	dl, err := g.store.GetDeadLetter(ctx, id)
	if err != nil {
		return err
	}
	var env event.Envelope
	if err := json.Unmarshal(dl.Envelope, &env); err != nil {
		return fmt.Errorf("unmarshaling dead letter %s: %w", id, err)
	}
	bg := context.WithoutCancel(ctx)
	g.logger.Info("replaying dead letter", "dead_letter_id", id, "event_id", env.EventID)
	return g.queues.Submit(env.PatientID, func() {
		g.process(bg, &env)
	})
}
