// Package worker runs detections for events arriving on the event bus.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/scamshield/internal/decision"
	"github.com/opensource-finance/scamshield/internal/domain"
	"github.com/opensource-finance/scamshield/internal/metrics"
	"github.com/opensource-finance/scamshield/internal/rules"
)

// ErrInvalidMessage is returned for payloads that are not an EventMessage.
var ErrInvalidMessage = errors.New("invalid event message")

// Worker consumes event.ingested messages and publishes decisions.
type Worker struct {
	bus       domain.EventBus
	repo      domain.Repository
	engine    *rules.Engine
	processor *decision.Processor
	metrics   *metrics.Metrics

	mu            sync.Mutex
	subscriptions []domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc

	processed atomic.Int64
	failed    atomic.Int64
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs restricts the worker to these tenants; empty means all tenants.
	TenantIDs []string
}

// NewWorker creates a new async worker. repo and m may be nil.
func NewWorker(bus domain.EventBus, repo domain.Repository, engine *rules.Engine, processor *decision.Processor, m *metrics.Metrics) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:       bus,
		repo:      repo,
		engine:    engine,
		processor: processor,
		metrics:   m,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// EventMessage is the event.ingested payload: a detect request plus
// optional identifiers assigned by the publisher.
type EventMessage struct {
	EventID string `json:"eventId,omitempty"`
	TraceID string `json:"traceId,omitempty"`
	domain.EventRequest
}

// Start subscribes to event.ingested for the configured tenants.
func (w *Worker) Start(cfg Config) error {
	if len(cfg.TenantIDs) == 0 {
		if err := w.subscribe(domain.AllTenants); err != nil {
			return err
		}
		slog.Info("worker started", "tenants", "all")
		return nil
	}

	for _, tenantID := range cfg.TenantIDs {
		if err := w.subscribe(tenantID); err != nil {
			slog.Error("failed to start worker for tenant",
				"tenant_id", tenantID,
				"error", err,
			)
			continue
		}
	}

	slog.Info("worker started",
		"tenant_count", len(cfg.TenantIDs),
	)
	return nil
}

func (w *Worker) subscribe(tenantID string) error {
	sub, err := w.bus.Subscribe(w.ctx, tenantID, domain.TopicEventIngested, w.handleMessage)
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.subscriptions = append(w.subscriptions, sub)
	w.mu.Unlock()

	slog.Debug("worker subscribed",
		"tenant_id", tenantID,
		"topic", domain.TopicEventIngested,
	)
	return nil
}

func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	if _, err := w.ProcessMessage(ctx, msg); err != nil {
		w.failed.Add(1)
		return err
	}
	w.processed.Add(1)
	return nil
}

// ProcessMessage runs one event message through rules and decision, stores
// the result and publishes it.
func (w *Worker) ProcessMessage(ctx context.Context, msg *domain.Message) (*domain.Detection, error) {
	start := time.Now()

	var em EventMessage
	if err := json.Unmarshal(msg.Payload, &em); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}

	tenantID := msg.TenantID
	if tenantID == "" || tenantID == domain.AllTenants {
		return nil, fmt.Errorf("%w: message has no tenant", ErrInvalidMessage)
	}

	traceID := em.TraceID
	if traceID == "" {
		traceID = msg.ID
	}

	ev := em.ToEvent()
	ev.ID = em.EventID
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	ev.TenantID = tenantID

	log := slog.With(
		"event_id", ev.ID,
		"tenant_id", tenantID,
		"trace_id", traceID,
	)

	if w.repo != nil {
		if err := w.repo.SaveEvent(ctx, tenantID, ev); err != nil {
			log.Error("failed to save event", "error", err)
		}
	}

	outcome := w.engine.Apply(ev)

	d := w.processor.Process(ctx, &decision.DecisionInput{
		TenantID:       tenantID,
		Event:          ev,
		Outcome:        outcome,
		TraceID:        traceID,
		StartTime:      start,
		SecondaryScore: em.SecondaryScore,
	})

	if w.repo != nil {
		if err := w.repo.SaveDetection(ctx, tenantID, d); err != nil {
			log.Error("failed to save detection", "error", err)
		}
	}

	payload, err := json.Marshal(d.ToResponse(w.processor.MaxHits))
	if err != nil {
		return d, fmt.Errorf("marshal detection: %w", err)
	}
	if err := w.bus.Publish(ctx, tenantID, domain.TopicDecision, payload); err != nil {
		log.Error("failed to publish decision", "error", err)
	}
	if decision.ShouldAlert(d) {
		if err := w.bus.Publish(ctx, tenantID, domain.TopicAlert, payload); err != nil {
			log.Error("failed to publish alert", "error", err)
		}
	}

	w.metrics.ObserveDetection(d, time.Since(start))

	log.Info("event processed",
		"detection_id", d.ID,
		"tier", d.Tier,
		"score", d.Score,
		"hard_stop", d.HardStop,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return d, nil
}

// Stop unsubscribes and cancels in-flight handlers.
func (w *Worker) Stop() error {
	w.cancel()

	w.mu.Lock()
	defer w.mu.Unlock()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	slog.Info("worker stopped",
		"processed", w.processed.Load(),
		"failed", w.failed.Load(),
	)
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
	Processed         int64    `json:"processed"`
	Failed            int64    `json:"failed"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
		Processed:         w.processed.Load(),
		Failed:            w.failed.Load(),
	}
}
