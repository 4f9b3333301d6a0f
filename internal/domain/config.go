package domain

import (
	"fmt"
	"math"
	"time"
)

// Config holds the complete Harrier configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Tier determines feature availability
	Tier Tier `json:"tier"`

	// Analysis defaults applied when a run does not override them
	Analysis AnalysisConfig `json:"analysis"`

	// Component configurations
	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
}

// RiskWeights is the weight vector combining the normalized customer risk
// signals. The weights must sum to 1 within a small tolerance.
type RiskWeights struct {
	LeakageRatio    float64 `json:"leakageRatio"`
	LeakedFrequency float64 `json:"leakedFrequency"`
	DuplicateRate   float64 `json:"duplicateRate"`
	AvgDiscount     float64 `json:"avgDiscount"`
	AvgDelay        float64 `json:"avgDelay"`
}

// Sum returns the total of the weight vector.
func (w RiskWeights) Sum() float64 {
	return w.LeakageRatio + w.LeakedFrequency + w.DuplicateRate + w.AvgDiscount + w.AvgDelay
}

// AnalysisConfig holds the thresholds for one analysis run. It is passed
// explicitly into each run so concurrent runs with different settings never
// interfere.
type AnalysisConfig struct {
	// Discount percentage above which an invoice is an over-discount.
	OverDiscountThresholdPct float64 `json:"overDiscountThresholdPct"`

	// Population quantile above which a combined anomaly score flags the
	// transaction. 0.95 flags roughly the top 5%.
	AnomalyQuantile float64 `json:"anomalyQuantile"`

	// Minimum population for anomaly detection; below this the detector
	// reports insufficient data and flags nothing.
	MinAnomalyPopulation int `json:"minAnomalyPopulation"`

	// Payment delay (days) at which the delay risk signal saturates.
	PaymentDelayCapDays int `json:"paymentDelayCapDays"`

	// Customer risk signal weights.
	RiskWeights RiskWeights `json:"riskWeights"`

	// Size of the top-customers-by-leakage view.
	TopNCustomers int `json:"topNCustomers"`

	// Customer score at or above which the worker publishes an alert.
	HighRiskAlertThreshold float64 `json:"highRiskAlertThreshold"`
}

// riskWeightTolerance is the allowed deviation of the weight sum from 1.
const riskWeightTolerance = 1e-6

// Validate reports configuration errors before any computation starts.
func (c AnalysisConfig) Validate() error {
	if c.OverDiscountThresholdPct < 0 {
		return fmt.Errorf("overDiscountThresholdPct must be non-negative, got %v", c.OverDiscountThresholdPct)
	}
	if c.AnomalyQuantile <= 0 || c.AnomalyQuantile >= 1 {
		return fmt.Errorf("anomalyQuantile must be in (0,1), got %v", c.AnomalyQuantile)
	}
	if c.MinAnomalyPopulation < 2 {
		return fmt.Errorf("minAnomalyPopulation must be at least 2, got %d", c.MinAnomalyPopulation)
	}
	if c.PaymentDelayCapDays <= 0 {
		return fmt.Errorf("paymentDelayCapDays must be positive, got %d", c.PaymentDelayCapDays)
	}
	if c.TopNCustomers <= 0 {
		return fmt.Errorf("topNCustomers must be positive, got %d", c.TopNCustomers)
	}
	if sum := c.RiskWeights.Sum(); math.Abs(sum-1) > riskWeightTolerance {
		return fmt.Errorf("risk weights must sum to 1, got %v", sum)
	}
	return nil
}

// DefaultAnalysisConfig returns the standard run configuration.
func DefaultAnalysisConfig() AnalysisConfig {
	return AnalysisConfig{
		OverDiscountThresholdPct: 15,
		AnomalyQuantile:          0.95,
		MinAnomalyPopulation:     2,
		PaymentDelayCapDays:      90,
		RiskWeights: RiskWeights{
			LeakageRatio:    0.2,
			LeakedFrequency: 0.2,
			DuplicateRate:   0.2,
			AvgDiscount:     0.2,
			AvgDelay:        0.2,
		},
		TopNCustomers:          10,
		HighRiskAlertThreshold: 75,
	}
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled      bool   `json:"enabled"`
	ServiceName  string `json:"serviceName"`
	ExporterType string `json:"exporterType"` // stdout, otlp, jaeger
	Endpoint     string `json:"endpoint"`
}

// Tier represents the product tier.
type Tier string

const (
	// TierCommunity is the free tier with SQLite + channels
	TierCommunity Tier = "community"

	// TierPro is the paid tier with PostgreSQL + NATS + Redis
	TierPro Tier = "pro"
)

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 60,
		},
		Tier:     TierCommunity,
		Analysis: DefaultAnalysisConfig(),
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./harrier.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 1000,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "harrier",
		},
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "harrier",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Tracing.Enabled = true
	return cfg
}
