// Package worker provides async batch analysis driven by the EventBus.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/harrier/internal/analyzer"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/rules"
)

// Worker runs leakage analysis asynchronously when invoice batches are
// ingested.
type Worker struct {
	bus      domain.EventBus
	repo     domain.Repository
	engine   *rules.Engine
	analyzer *analyzer.Analyzer

	defaults domain.AnalysisConfig

	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs is the list of tenants to process
	TenantIDs []string

	// WorkerCount is the number of concurrent workers per tenant
	WorkerCount int
}

// NewWorker creates a new async worker. defaults applies when a batch
// message does not carry its own analysis settings.
func NewWorker(bus domain.EventBus, repo domain.Repository, engine *rules.Engine, defaults domain.AnalysisConfig) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:      bus,
		repo:     repo,
		engine:   engine,
		analyzer: analyzer.New(engine),
		defaults: defaults,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start begins processing batch-ingested events for the given tenants.
func (w *Worker) Start(cfg Config) error {
	if len(cfg.TenantIDs) == 0 {
		return w.startGlobalWorker()
	}

	for _, tenantID := range cfg.TenantIDs {
		if err := w.startTenantWorker(tenantID); err != nil {
			slog.Error("failed to start worker for tenant",
				"tenant_id", tenantID,
				"error", err,
			)
			continue
		}
	}

	slog.Info("workers started",
		"tenant_count", len(cfg.TenantIDs),
	)

	return nil
}

// startGlobalWorker starts a worker that processes all tenants (for testing/dev).
func (w *Worker) startGlobalWorker() error {
	// Subscribe using a special "global" tenant ID
	// In production, you'd want to subscribe with wildcards or JetStream
	sub, err := w.bus.Subscribe(w.ctx, "_global", domain.TopicBatchIngested, w.handleMessage)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("global worker started")
	return nil
}

// startTenantWorker starts workers for a specific tenant.
func (w *Worker) startTenantWorker(tenantID string) error {
	sub, err := w.bus.Subscribe(w.ctx, tenantID, domain.TopicBatchIngested, func(ctx context.Context, msg *domain.Message) error {
		return w.processBatch(ctx, tenantID, msg)
	})
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("tenant worker started",
		"tenant_id", tenantID,
		"topic", domain.TopicBatchIngested,
	)

	return nil
}

// handleMessage handles messages from the global subscription.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	return w.processBatch(ctx, msg.TenantID, msg)
}

// BatchMessage announces an ingested invoice batch ready for analysis.
type BatchMessage struct {
	TenantID string `json:"tenantId"`
	TraceID  string `json:"traceId"`

	// Since limits the analyzed snapshot to invoices dated on or after
	// this point. Zero means the full snapshot.
	Since time.Time `json:"since,omitempty"`

	// Config overrides the worker defaults for this run.
	Config *domain.AnalysisConfig `json:"config,omitempty"`
}

// ReportCompletedMessage is published when an analysis run finishes.
type ReportCompletedMessage struct {
	ReportID         string   `json:"reportId"`
	TenantID         string   `json:"tenantId"`
	TransactionCount int      `json:"transactionCount"`
	TotalLeakage     string   `json:"totalLeakage"`
	LeakagePct       *float64 `json:"leakagePct,omitempty"`
}

// HighRiskAlertMessage is published when customers cross the alert threshold.
type HighRiskAlertMessage struct {
	ReportID  string             `json:"reportId"`
	TenantID  string             `json:"tenantId"`
	Threshold float64            `json:"threshold"`
	Customers []domain.RiskScore `json:"customers"`
}

// processBatch loads the tenant's invoice snapshot, runs the analysis and
// publishes the outcome.
func (w *Worker) processBatch(ctx context.Context, tenantID string, msg *domain.Message) error {
	start := time.Now()

	var batchMsg BatchMessage
	if err := json.Unmarshal(msg.Payload, &batchMsg); err != nil {
		slog.Error("failed to parse batch message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	// Use message tenant if provided
	if batchMsg.TenantID != "" {
		tenantID = batchMsg.TenantID
	}

	traceID := batchMsg.TraceID
	if traceID == "" {
		traceID = msg.ID
	}

	cfg := w.defaults
	if batchMsg.Config != nil {
		cfg = *batchMsg.Config
	}

	slog.Debug("processing invoice batch",
		"tenant_id", tenantID,
		"trace_id", traceID,
	)

	// 1. Load the invoice snapshot
	txs, err := w.repo.ListTransactions(ctx, tenantID, batchMsg.Since)
	if err != nil {
		slog.Error("failed to load invoice snapshot",
			"tenant_id", tenantID,
			"error", err,
		)
		return err
	}
	if len(txs) == 0 {
		slog.Warn("empty invoice snapshot, skipping analysis",
			"tenant_id", tenantID,
			"trace_id", traceID,
		)
		return nil
	}

	// 2. Refresh the tenant's review rules
	if w.engine != nil {
		ruleSet, err := w.repo.ListReviewRules(ctx, tenantID)
		if err != nil {
			slog.Error("failed to load review rules",
				"tenant_id", tenantID,
				"error", err,
			)
		} else if err := w.engine.ReloadRules(ruleSet); err != nil {
			slog.Error("failed to reload review rules",
				"tenant_id", tenantID,
				"error", err,
			)
		}
	}

	// 3. Run the analysis
	report, err := w.analyzer.Run(ctx, &analyzer.RunInput{
		TenantID:     tenantID,
		TraceID:      traceID,
		Transactions: txs,
		Config:       cfg,
	})
	if err != nil {
		slog.Error("analysis failed",
			"tenant_id", tenantID,
			"trace_id", traceID,
			"error", err,
		)
		return err
	}

	// 4. Persist the report
	if err := w.repo.SaveReport(ctx, tenantID, report); err != nil {
		slog.Error("failed to save report",
			"report_id", report.ID,
			"error", err,
		)
	}

	// 5. Publish completion
	completed := ReportCompletedMessage{
		ReportID:         report.ID,
		TenantID:         tenantID,
		TransactionCount: report.Metadata.TransactionCount,
		TotalLeakage:     report.TotalLeakage.String(),
		LeakagePct:       report.LeakagePct,
	}
	completedPayload, _ := json.Marshal(completed)
	if err := w.bus.Publish(ctx, tenantID, domain.TopicReportCompleted, completedPayload); err != nil {
		slog.Error("failed to publish report completion",
			"report_id", report.ID,
			"error", err,
		)
	}

	// 6. Alert on high-risk customers
	if high := report.HighRiskCustomers(cfg.HighRiskAlertThreshold); len(high) > 0 {
		alert := HighRiskAlertMessage{
			ReportID:  report.ID,
			TenantID:  tenantID,
			Threshold: cfg.HighRiskAlertThreshold,
			Customers: high,
		}
		alertPayload, _ := json.Marshal(alert)
		if err := w.bus.Publish(ctx, tenantID, domain.TopicHighRiskAlert, alertPayload); err != nil {
			slog.Error("failed to publish high-risk alert",
				"report_id", report.ID,
				"error", err,
			)
		}
	}

	slog.Info("invoice batch processed",
		"tenant_id", tenantID,
		"report_id", report.ID,
		"transaction_count", report.Metadata.TransactionCount,
		"total_leakage", report.TotalLeakage.String(),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

// Stop gracefully stops all workers.
func (w *Worker) Stop() error {
	w.cancel()

	// Unsubscribe all
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.wg.Wait()

	slog.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
