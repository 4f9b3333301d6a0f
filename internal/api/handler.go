package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/opensource-finance/harrier/internal/analyzer"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/rules"
	"github.com/shopspring/decimal"
)

// reportCacheTTL bounds how long an assembled report stays cached.
const reportCacheTTL = 10 * time.Minute

// Handler holds dependencies for API handlers.
type Handler struct {
	repo     domain.Repository
	cache    domain.Cache
	bus      domain.EventBus
	engine   *rules.Engine
	analyzer *analyzer.Analyzer
	defaults domain.AnalysisConfig
	validate *validator.Validate
	version  string
}

// NewHandler creates a new API handler. defaults applies when a request does
// not carry its own analysis settings.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, engine *rules.Engine, defaults domain.AnalysisConfig, version string) *Handler {
	return &Handler{
		repo:     repo,
		cache:    cache,
		bus:      bus,
		engine:   engine,
		analyzer: analyzer.New(engine),
		defaults: defaults,
		validate: validator.New(),
		version:  version,
	}
}

// InvoiceRecord is the wire form of a single invoice. Dates accept RFC 3339
// or plain YYYY-MM-DD; amounts accept JSON numbers or strings.
type InvoiceRecord struct {
	InvoiceID     string `json:"invoiceId" validate:"required"`
	CustomerID    string `json:"customerId" validate:"required"`
	SalespersonID string `json:"salespersonId,omitempty"`
	Region        string `json:"region,omitempty"`
	PaymentMethod string `json:"paymentMethod,omitempty"`

	InvoiceDate string `json:"invoiceDate" validate:"required"`
	DueDate     string `json:"dueDate" validate:"required"`
	PaymentDate string `json:"paymentDate,omitempty"`

	AmountBilled   decimal.Decimal `json:"amountBilled"`
	Discount       decimal.Decimal `json:"discount"`
	AmountReceived decimal.Decimal `json:"amountReceived"`
}

func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}

func (r *InvoiceRecord) toTransaction() (*domain.Transaction, error) {
	invoiceDate, err := parseDate(r.InvoiceDate)
	if err != nil {
		return nil, err
	}
	dueDate, err := parseDate(r.DueDate)
	if err != nil {
		return nil, err
	}

	tx := &domain.Transaction{
		InvoiceID:      r.InvoiceID,
		CustomerID:     r.CustomerID,
		SalespersonID:  r.SalespersonID,
		Region:         r.Region,
		PaymentMethod:  r.PaymentMethod,
		InvoiceDate:    invoiceDate,
		DueDate:        dueDate,
		AmountBilled:   r.AmountBilled,
		Discount:       r.Discount,
		AmountReceived: r.AmountReceived,
	}

	if r.PaymentDate != "" {
		paid, err := parseDate(r.PaymentDate)
		if err != nil {
			return nil, err
		}
		tx.PaymentDate = &paid
	}

	return tx, nil
}

func toTransactions(records []InvoiceRecord) ([]*domain.Transaction, error) {
	txs := make([]*domain.Transaction, 0, len(records))
	for i := range records {
		tx, err := records[i].toTransaction()
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	return txs, nil
}

// AnalyzeRequest is the request body for POST /analyze.
type AnalyzeRequest struct {
	Transactions []InvoiceRecord `json:"transactions" validate:"required,min=1,dive"`

	// Config overrides the server defaults for this run only.
	Config *domain.AnalysisConfig `json:"config,omitempty"`
}

// Analyze handles POST /analyze: runs the full leakage analysis over the
// submitted batch and returns the assembled report. The batch is not added
// to the stored snapshot; use POST /transactions for that.
func (h *Handler) Analyze(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	traceID := GetTraceID(ctx)

	var req AnalyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "validation failed: " + err.Error(),
		})
		return
	}

	txs, err := toTransactions(req.Transactions)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid transaction: " + err.Error(),
		})
		return
	}

	cfg := h.defaults
	if req.Config != nil {
		cfg = *req.Config
	}
	if err := cfg.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid config: " + err.Error(),
		})
		return
	}

	report, err := h.runAnalysis(w, r, tenantID, traceID, txs, cfg)
	if report == nil || err != nil {
		return
	}

	writeJSON(w, http.StatusOK, report)
}

// runAnalysis executes one analyzer run, persists and caches the report,
// and writes the error response itself when the run fails.
func (h *Handler) runAnalysis(w http.ResponseWriter, r *http.Request, tenantID, traceID string, txs []*domain.Transaction, cfg domain.AnalysisConfig) (*domain.Report, error) {
	ctx := r.Context()

	report, err := h.analyzer.Run(ctx, &analyzer.RunInput{
		TenantID:     tenantID,
		TraceID:      traceID,
		Transactions: txs,
		Config:       cfg,
	})
	if err != nil {
		var batchErr *domain.BatchValidationError
		if errors.As(err, &batchErr) {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
				"error":      "batch validation failed",
				"violations": batchErr.Violations,
			})
			return nil, err
		}
		slog.Error("analysis failed", "tenant_id", tenantID, "trace_id", traceID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "analysis failed",
		})
		return nil, err
	}

	if h.repo != nil {
		if err := h.repo.SaveReport(ctx, tenantID, report); err != nil {
			slog.Error("failed to save report", "report_id", report.ID, "error", err)
		}
	}
	if h.cache != nil {
		if err := h.cache.SetReport(ctx, tenantID, report, reportCacheTTL); err != nil {
			slog.Error("failed to cache report", "report_id", report.ID, "error", err)
		}
	}

	return report, nil
}

// IngestRequest is the request body for POST /transactions.
type IngestRequest struct {
	Transactions []InvoiceRecord `json:"transactions" validate:"required,min=1,dive"`
}

// batchIngestedEvent announces a stored batch to the async workers.
type batchIngestedEvent struct {
	TenantID string `json:"tenantId"`
	TraceID  string `json:"traceId"`
}

// IngestTransactions handles POST /transactions: validates and persists an
// invoice batch, then publishes a batch-ingested event so workers pick it up.
func (h *Handler) IngestTransactions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	traceID := GetTraceID(ctx)

	var req IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "validation failed: " + err.Error(),
		})
		return
	}

	txs, err := toTransactions(req.Transactions)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid transaction: " + err.Error(),
		})
		return
	}

	if err := domain.ValidateBatch(txs); err != nil {
		var batchErr *domain.BatchValidationError
		if errors.As(err, &batchErr) {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
				"error":      "batch validation failed",
				"violations": batchErr.Violations,
			})
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}
	if err := h.repo.SaveTransactions(ctx, tenantID, txs); err != nil {
		slog.Error("failed to save transactions", "tenant_id", tenantID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save transactions",
		})
		return
	}

	if h.bus != nil {
		payload, _ := json.Marshal(batchIngestedEvent{TenantID: tenantID, TraceID: traceID})
		if err := h.bus.Publish(ctx, tenantID, domain.TopicBatchIngested, payload); err != nil {
			slog.Error("failed to publish batch event", "tenant_id", tenantID, "error", err)
		}
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"ingested": len(txs),
		"traceId":  traceID,
	})
}

// AnalyzeStoredRequest is the request body for POST /analyze/stored.
// An empty body analyzes the full stored snapshot with server defaults.
type AnalyzeStoredRequest struct {
	// Since limits the snapshot to invoices dated on or after this point.
	Since string `json:"since,omitempty"`

	Config *domain.AnalysisConfig `json:"config,omitempty"`
}

// AnalyzeStored handles POST /analyze/stored: runs the analysis over the
// tenant's persisted invoice snapshot.
func (h *Handler) AnalyzeStored(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	traceID := GetTraceID(ctx)

	// An empty body is valid and means "full snapshot, server defaults".
	var req AnalyzeStoredRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	var since time.Time
	if req.Since != "" {
		t, err := parseDate(req.Since)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "invalid since date: " + err.Error(),
			})
			return
		}
		since = t
	}

	cfg := h.defaults
	if req.Config != nil {
		cfg = *req.Config
	}
	if err := cfg.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid config: " + err.Error(),
		})
		return
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	txs, err := h.repo.ListTransactions(ctx, tenantID, since)
	if err != nil {
		slog.Error("failed to load invoice snapshot", "tenant_id", tenantID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load transactions",
		})
		return
	}
	if len(txs) == 0 {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "no transactions in snapshot",
		})
		return
	}

	report, err := h.runAnalysis(w, r, tenantID, traceID, txs, cfg)
	if report == nil || err != nil {
		return
	}

	writeJSON(w, http.StatusOK, report)
}

// GetReport handles GET /reports/{id}, checking the cache before the
// repository.
func (h *Handler) GetReport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	reportID := chi.URLParam(r, "id")

	if reportID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "report id is required",
		})
		return
	}

	if h.cache != nil {
		report, err := h.cache.GetReport(ctx, tenantID, reportID)
		if err == nil && report != nil {
			writeJSON(w, http.StatusOK, report)
			return
		}
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	report, err := h.repo.GetReport(ctx, tenantID, reportID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "report not found",
		})
		return
	}

	if h.cache != nil {
		_ = h.cache.SetReport(ctx, tenantID, report, reportCacheTTL)
	}

	writeJSON(w, http.StatusOK, report)
}

// GetTransaction retrieves a stored invoice by ID.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	invoiceID := chi.URLParam(r, "id")

	if invoiceID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invoice id is required",
		})
		return
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	tx, err := h.repo.GetTransaction(ctx, tenantID, invoiceID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "transaction not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, tx)
}

// ListRules returns all loaded review rules from the engine.
// Rules are loaded from the database and can be reloaded via POST /rules/reload.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	loadedRules := h.engine.GetLoadedRules()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rules":  loadedRules,
		"count":  len(loadedRules),
		"source": "database",
	})
}

// GetRule retrieves a review rule by ID from the loaded engine rules.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "id")

	if ruleID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "rule id is required",
		})
		return
	}

	for _, rule := range h.engine.GetLoadedRules() {
		if rule.ID == ruleID {
			writeJSON(w, http.StatusOK, rule)
			return
		}
	}

	writeJSON(w, http.StatusNotFound, map[string]string{
		"error": "rule not found",
	})
}

// CreateRuleRequest is the request body for creating a review rule.
type CreateRuleRequest struct {
	ID          string `json:"id" validate:"required"`
	Name        string `json:"name" validate:"required"`
	Description string `json:"description,omitempty"`
	Expression  string `json:"expression" validate:"required"`
	Severity    string `json:"severity,omitempty"`
	Enabled     bool   `json:"enabled"`
}

// CreateRule validates and saves a review rule for the requesting tenant.
// After saving, call POST /rules/reload to hot-reload into the engine.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req CreateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "validation failed: " + err.Error(),
		})
		return
	}

	severity := req.Severity
	if severity == "" {
		severity = domain.SeverityWarning
	}

	rule := &domain.ReviewRule{
		ID:          req.ID,
		TenantID:    tenantID,
		Name:        req.Name,
		Description: req.Description,
		Version:     "1.0.0",
		Expression:  req.Expression,
		Severity:    severity,
		Enabled:     req.Enabled,
	}

	// Compile to reject bad CEL before anything is persisted
	if err := h.engine.ValidateRule(rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid CEL expression: " + err.Error(),
		})
		return
	}

	if h.repo != nil {
		if err := h.repo.SaveReviewRule(ctx, tenantID, rule); err != nil {
			slog.Error("failed to save review rule", "id", rule.ID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to save rule",
			})
			return
		}
	}

	slog.Info("review rule created", "id", rule.ID, "name", rule.Name, "tenant_id", tenantID)
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"rule":    rule,
		"message": "Rule created. Call POST /rules/reload to apply changes.",
	})
}

// DeleteRule disables a review rule and auto-reloads the engine.
func (h *Handler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	ruleID := chi.URLParam(r, "id")

	if ruleID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "rule id is required",
		})
		return
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	if err := h.repo.DeleteReviewRule(ctx, tenantID, ruleID); err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "rule not found",
		})
		return
	}

	// Auto-reload the engine after delete
	dbRules, err := h.repo.ListReviewRules(ctx, tenantID)
	if err != nil {
		slog.Error("failed to reload rules after delete", "error", err)
	} else if err := h.engine.ReloadRules(dbRules); err != nil {
		slog.Error("failed to reload rules into engine", "error", err)
	}

	slog.Info("review rule deleted", "id", ruleID, "tenant_id", tenantID)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Rule deleted and engine reloaded.",
	})
}

// ReloadRules reloads the tenant's review rules from the database into the
// engine. This enables hot-reloading without server restart.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	dbRules, err := h.repo.ListReviewRules(ctx, tenantID)
	if err != nil {
		slog.Error("failed to list rules from database", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load rules from database",
		})
		return
	}

	if err := h.engine.ReloadRules(dbRules); err != nil {
		slog.Error("failed to reload rules into engine", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to reload rules: " + err.Error(),
		})
		return
	}

	slog.Info("rules reloaded from database", "count", len(dbRules), "tenant_id", tenantID)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "rules reloaded successfully",
		"count":   len(dbRules),
	})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	if h.bus != nil {
		if err := h.bus.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
