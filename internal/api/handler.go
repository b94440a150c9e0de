package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/opensource-finance/scamshield/internal/decision"
	"github.com/opensource-finance/scamshield/internal/domain"
	"github.com/opensource-finance/scamshield/internal/metrics"
	"github.com/opensource-finance/scamshield/internal/repository"
	"github.com/opensource-finance/scamshield/internal/rules"
	"github.com/opensource-finance/scamshield/internal/worker"
)

// Deps holds the collaborators of the HTTP handlers. Repo, Cache, Bus and
// Metrics may be nil.
type Deps struct {
	Repo      domain.Repository
	Cache     domain.Cache
	Bus       domain.EventBus
	Engine    *rules.Engine
	Processor *decision.Processor
	Metrics   *metrics.Metrics

	// RuleSource is the engine's rule source (domain.RuleSourceFile or
	// domain.RuleSourceDatabase). Rules can only be written through the
	// API when it is the database.
	RuleSource string

	// SecondaryLoaded reports whether a secondary scorer is configured
	SecondaryLoaded bool
	Version         string
}

// Handler holds dependencies for API handlers.
type Handler struct {
	Deps
}

// NewHandler creates a new API handler.
func NewHandler(deps Deps) *Handler {
	return &Handler{Deps: deps}
}

// Detect handles POST /detect: evaluates the event synchronously.
func (h *Handler) Detect(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	traceID := GetTraceID(ctx)

	var req domain.EventRequest
	if !decodeEventRequest(w, r, &req) {
		return
	}

	ev := req.ToEvent()
	ev.ID = uuid.New().String()
	ev.TenantID = tenantID
	ingestMs := time.Since(start).Milliseconds()

	if h.Repo != nil {
		if err := h.Repo.SaveEvent(ctx, tenantID, ev); err != nil {
			slog.Error("failed to save event", "event_id", ev.ID, "error", err)
		}
	}

	outcome := h.Engine.Apply(ev)

	d := h.Processor.Process(ctx, &decision.DecisionInput{
		TenantID:       tenantID,
		Event:          ev,
		Outcome:        outcome,
		TraceID:        traceID,
		StartTime:      start,
		SecondaryScore: req.SecondaryScore,
	})
	d.Metadata.IngestMs = ingestMs

	if h.Repo != nil {
		if err := h.Repo.SaveDetection(ctx, tenantID, d); err != nil {
			slog.Error("failed to save detection", "detection_id", d.ID, "error", err)
		}
	}

	h.Metrics.ObserveDetection(d, time.Since(start))

	if decision.ShouldAlert(d) && h.Bus != nil {
		payload, _ := json.Marshal(d.ToResponse(h.Processor.MaxHits))
		if err := h.Bus.Publish(ctx, tenantID, domain.TopicAlert, payload); err != nil {
			slog.Warn("failed to publish alert", "detection_id", d.ID, "error", err)
		}
	}

	writeJSON(w, http.StatusOK, d.ToResponse(h.Processor.MaxHits))
}

// IngestResponse is the response for POST /events.
type IngestResponse struct {
	EventID string `json:"event_id"`
	TraceID string `json:"trace_id"`
	Status  string `json:"status"`
}

// Ingest handles POST /events: queues the event for the async worker.
func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	if h.Bus == nil {
		writeError(w, http.StatusServiceUnavailable, "event bus not available")
		return
	}

	var msg worker.EventMessage
	if !decodeEventRequest(w, r, &msg.EventRequest) {
		return
	}
	msg.EventID = uuid.New().String()
	msg.TraceID = GetTraceID(ctx)

	payload, err := json.Marshal(msg)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to encode event")
		return
	}
	if err := h.Bus.Publish(ctx, tenantID, domain.TopicEventIngested, payload); err != nil {
		slog.Error("failed to publish event", "event_id", msg.EventID, "error", err)
		writeError(w, http.StatusServiceUnavailable, "failed to queue event")
		return
	}

	writeJSON(w, http.StatusAccepted, IngestResponse{
		EventID: msg.EventID,
		TraceID: msg.TraceID,
		Status:  "queued",
	})
}

func decodeEventRequest(w http.ResponseWriter, r *http.Request, req *domain.EventRequest) bool {
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return false
	}
	if err := validateEventRequest(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

func validateEventRequest(req *domain.EventRequest) error {
	if req.Sender.DomainAgeDays != nil && *req.Sender.DomainAgeDays < 0 {
		return errors.New("sender.domain_age_days must not be negative")
	}
	if req.Reputation.ReportsLast90d < 0 {
		return errors.New("reputation.reports_last_90d must not be negative")
	}
	return nil
}

// HealthResponse is the response for GET /health.
type HealthResponse struct {
	Status          string `json:"status"`
	Version         string `json:"version"`
	SecondaryLoaded bool   `json:"secondary_loaded"`
	RulesCount      int    `json:"rules_count"`
	RuleSetVersion  string `json:"rule_set_version"`
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.Repo != nil {
		if err := h.Repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.Cache != nil {
		if err := h.Cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.Bus != nil {
		if err := h.Bus.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	rs := h.Engine.Snapshot()
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:          status,
		Version:         h.Version,
		SecondaryLoaded: h.SecondaryLoaded,
		RulesCount:      len(rs.Rules),
		RuleSetVersion:  rs.Version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.Repo != nil {
		if err := h.Repo.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]bool{"ready": false})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ready": true})
}

// GetDetection retrieves a detection by ID.
func (h *Handler) GetDetection(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	if h.Repo == nil {
		writeError(w, http.StatusServiceUnavailable, "repository not available")
		return
	}

	d, err := h.Repo.GetDetection(ctx, GetTenantID(ctx), id)
	if err != nil {
		writeRepoError(w, "detection", id, err)
		return
	}

	writeJSON(w, http.StatusOK, d)
}

// GetEvent retrieves a stored event by ID.
func (h *Handler) GetEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	if h.Repo == nil {
		writeError(w, http.StatusServiceUnavailable, "repository not available")
		return
	}

	ev, err := h.Repo.GetEvent(ctx, GetTenantID(ctx), id)
	if err != nil {
		writeRepoError(w, "event", id, err)
		return
	}

	writeJSON(w, http.StatusOK, ev)
}

// ListRules returns the rules of the active rule set in load order.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	rs := h.Engine.Snapshot()
	defs := h.Engine.Rules()

	writeJSON(w, http.StatusOK, map[string]any{
		"rules":    defs,
		"count":    len(defs),
		"version":  rs.Version,
		"loadedAt": rs.LoadedAt,
		"skipped":  rs.Skipped,
		"warnings": rs.Warnings,
	})
}

// GetRule retrieves a rule of the active rule set by ID.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "id")

	for _, def := range h.Engine.Rules() {
		if def.ID == ruleID {
			writeJSON(w, http.StatusOK, def)
			return
		}
	}

	writeError(w, http.StatusNotFound, "rule not found")
}

// CreateRule validates a rule definition and saves it as a global rule.
// It is applied on the next POST /rules/reload.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if !h.rulesWritable(w) {
		return
	}

	var raw map[string]any
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}

	defs, _, err := rules.DecodeDefinitions([]any{raw}, true)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	def := defs[0]
	if err := h.Engine.Validate(def); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.Repo.SaveRuleDefinition(ctx, domain.GlobalTenantID, &def); err != nil {
		slog.Error("failed to save rule definition", "rule_id", def.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save rule")
		return
	}

	slog.Info("rule saved", "rule_id", def.ID, "weight", def.Weight, "hard_stop", def.HardStop)
	writeJSON(w, http.StatusCreated, map[string]any{
		"rule":    def,
		"message": "Rule saved. Call POST /rules/reload to apply changes.",
	})
}

// DeleteRule disables a stored global rule.
func (h *Handler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "id")

	if !h.rulesWritable(w) {
		return
	}

	if err := h.Repo.DeleteRuleDefinition(r.Context(), domain.GlobalTenantID, ruleID); err != nil {
		writeRepoError(w, "rule", ruleID, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"deleted": true,
		"id":      ruleID,
	})
}

// rulesWritable reports whether stored rules feed the engine. Otherwise a
// saved rule would never be loaded, so the request is refused.
func (h *Handler) rulesWritable(w http.ResponseWriter) bool {
	if h.RuleSource != domain.RuleSourceDatabase {
		writeError(w, http.StatusConflict,
			"rules are loaded from a file; edit the rule file and call POST /rules/reload")
		return false
	}
	if h.Repo == nil {
		writeError(w, http.StatusServiceUnavailable, "repository not available")
		return false
	}
	return true
}

// ReloadRules reloads the rule source into the engine. On failure the
// previous rule set stays active.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	rs, err := h.Engine.ReloadSet(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"reloaded": false,
			"error":    err.Error(),
			"count":    h.Engine.RulesCount(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"reloaded": true,
		"count":    len(rs.Rules),
		"version":  rs.Version,
	})
}

func writeRepoError(w http.ResponseWriter, kind, id string, err error) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, kind+" not found")
	case errors.Is(err, repository.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		slog.Error(fmt.Sprintf("failed to get %s", kind), "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load "+kind)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
