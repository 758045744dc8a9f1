package config

import (
	"fmt"
	"math"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config is the full engine configuration tree. Every recognized option has a
// yaml key and a default; DATABASE_URL/REDIS_URL style env vars override the
// connection settings after the file is parsed.
type Config struct {
	Timezone string `yaml:"timezone" env:"PREDICTOR_TZ"`

	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	HTTP      HTTPConfig      `yaml:"http"`
	Scheduler SchedulerConfig `yaml:"scheduler"`

	Window       WindowConfig       `yaml:"window"`
	Pattern      PatternConfig      `yaml:"pattern"`
	Signals      SignalsConfig      `yaml:"signals"`
	Scoring      ScoringConfig      `yaml:"scoring"`
	Admission    AdmissionConfig    `yaml:"admission"`
	Reactivation ReactivationConfig `yaml:"reactivation"`
	Pool         PoolConfig         `yaml:"pool"`
	Inference    InferenceConfig    `yaml:"inference"`
	Engine       EngineConfig       `yaml:"engine"`
}

type DatabaseConfig struct {
	URL          string        `yaml:"url" env:"DATABASE_URL"`
	MaxOpenConns int           `yaml:"max_open_conns"`
	QueryTimeout time.Duration `yaml:"query_timeout"`
}

type RedisConfig struct {
	URL     string `yaml:"url" env:"REDIS_URL"`
	Channel string `yaml:"channel"` // decision publish channel
}

type HTTPConfig struct {
	Addr string `yaml:"addr" env:"PREDICTOR_HTTP_ADDR"`
}

type SchedulerConfig struct {
	TickSpec string `yaml:"tick_spec"` // cron format, seconds granularity
	Enabled  bool   `yaml:"enabled"`
}

// WindowConfig carries the lifecycle knobs from spec defaults: 20 minute
// first-predict delay, 10 minute pause after 3 wrongs, observe stabilization
// over the last 30 outcomes.
type WindowConfig struct {
	FirstPredictDelay time.Duration `yaml:"first_predict_delay"`
	PauseDuration     time.Duration `yaml:"pause_duration"`
	PauseThreshold    int           `yaml:"pause_threshold"`
	StabilizeLookback int           `yaml:"stabilize_lookback"`
	StabilizeMaxRun   int           `yaml:"stabilize_max_run"`
	StabilizeMinHues  int           `yaml:"stabilize_min_colors"`
}

// PatternConfig holds the regime classification thresholds.
type PatternConfig struct {
	Lookback         int     `yaml:"lookback"`
	MinSamples       int     `yaml:"min_samples"` // below this the regime stays unknown
	SeqPairRatio     float64 `yaml:"seq_pair_ratio"`     // pattern A trigger
	BalanceTolerance float64 `yaml:"balance_tolerance"`  // pct points off 50 for pattern B
	OverdueUnseenMin int     `yaml:"overdue_unseen_min"` // pattern C: unseen values
	OverdueGapMedian float64 `yaml:"overdue_gap_median"` // pattern C: long-gap threshold
	OverdueGapCount  int     `yaml:"overdue_gap_count"`  // pattern C: long-gap population
}

type SignalsConfig struct {
	CacheTTL time.Duration `yaml:"cache_ttl"`

	DeviationShortWindow time.Duration `yaml:"deviation_short_window"`
	DeviationLongWindow  time.Duration `yaml:"deviation_long_window"`
	DeviationSpread      float64       `yaml:"deviation_spread"`
	DeviationMeanLow     float64       `yaml:"deviation_mean_low"`
	DeviationMeanHigh    float64       `yaml:"deviation_mean_high"`
	ColorReversalRatio   float64       `yaml:"color_reversal_ratio"`

	ReversalShortWindow time.Duration `yaml:"reversal_short_window"`
	ReversalLongWindow  time.Duration `yaml:"reversal_long_window"`
	ReversalMinDelta    float64       `yaml:"reversal_min_delta"`
	HistoricalBiasRate  float64       `yaml:"historical_bias_rate"`
	HistoricalBiasMin   int           `yaml:"historical_bias_min_events"`
}

// ScoringConfig holds the eight additive factor weights.
type ScoringConfig struct {
	GapPressure    float64 `yaml:"gap_pressure"`
	StreakBreak    float64 `yaml:"streak_break"`
	ColorBalance   float64 `yaml:"color_balance"`
	ParityRotation float64 `yaml:"parity_rotation"`
	SizeRegime     float64 `yaml:"size_regime"`
	Reactivation   float64 `yaml:"reactivation"`
	QuadParity     float64 `yaml:"quad_parity"`
	TrendReversal  float64 `yaml:"trend_reversal"`

	ClassLookback   int           `yaml:"class_lookback"`    // parity/size/quadrant window
	BalanceWindow   time.Duration `yaml:"balance_window"`    // color balance short window
	GapCapSinceLast int           `yaml:"gap_cap_since"`     // cap for since-last gap
	GapCapMedian    int           `yaml:"gap_cap_median"`    // cap for historical median gap
}

type AdmissionConfig struct {
	DailyCap  int           `yaml:"daily_cap"`
	WindowCap int           `yaml:"window_cap"`
	MinGap    time.Duration `yaml:"min_gap"`
}

type ReactivationConfig struct {
	SnapshotSpan     time.Duration `yaml:"snapshot_span"`      // signature window, 48h
	SnapshotInterval time.Duration `yaml:"snapshot_interval"`  // at most one per 47h
	MatchLimit       int           `yaml:"match_limit"`        // snapshots considered
	MinSimilarity    float64       `yaml:"min_similarity"`     // inclusive threshold
	HitRateAlpha     float64       `yaml:"hit_rate_alpha"`     // EMA alpha
	TopPoolSize      int           `yaml:"top_pool_size"`
}

type PoolConfig struct {
	PatternLookback        int     `yaml:"pattern_lookback"`
	TransitionMinSupport   int     `yaml:"transition_min_support"`
	OverdueGap             int     `yaml:"overdue_gap"`
	OverdueMinCandidates   int     `yaml:"overdue_min_candidates"`
	OverdueMinOccurrences  int     `yaml:"overdue_min_occurrences"`
	OverdueMinHitRate      float64 `yaml:"overdue_min_hit_rate"`
	OverdueHistoryLookback int     `yaml:"overdue_history_lookback"`
}

type InferenceConfig struct {
	URL     string        `yaml:"url" env:"PREDICTOR_INFERENCE_URL"`
	APIKey  string        `yaml:"api_key" env:"PREDICTOR_INFERENCE_KEY"`
	Timeout time.Duration `yaml:"timeout"`
	RPS     float64       `yaml:"rps"`   // channel-scoped rate gate
	Burst   int           `yaml:"burst"`
}

type EngineConfig struct {
	Debounce  time.Duration `yaml:"debounce"`
	LeaseName string        `yaml:"lease_name"`
}

// Default returns the production defaults for every recognized option.
func Default() *Config {
	return &Config{
		Timezone: "UTC",
		Database: DatabaseConfig{
			URL:          "postgres://localhost:5432/predictor?sslmode=disable",
			MaxOpenConns: 8,
			QueryTimeout: 5 * time.Second,
		},
		Redis: RedisConfig{
			Channel: "predictor.decisions",
		},
		HTTP:      HTTPConfig{Addr: ":8093"},
		Scheduler: SchedulerConfig{TickSpec: "*/20 * * * * *", Enabled: true},
		Window: WindowConfig{
			FirstPredictDelay: 20 * time.Minute,
			PauseDuration:     10 * time.Minute,
			PauseThreshold:    3,
			StabilizeLookback: 30,
			StabilizeMaxRun:   3,
			StabilizeMinHues:  5,
		},
		Pattern: PatternConfig{
			Lookback:         120,
			MinSamples:       30,
			SeqPairRatio:     0.25,
			BalanceTolerance: 8,
			OverdueUnseenMin: 3,
			OverdueGapMedian: 12,
			OverdueGapCount:  10,
		},
		Signals: SignalsConfig{
			CacheTTL:             60 * time.Second,
			DeviationShortWindow: 30 * time.Minute,
			DeviationLongWindow:  6 * time.Hour,
			DeviationSpread:      0.35,
			DeviationMeanLow:     0.6,
			DeviationMeanHigh:    1.4,
			ColorReversalRatio:   1.3,
			ReversalShortWindow:  10 * time.Minute,
			ReversalLongWindow:   60 * time.Minute,
			ReversalMinDelta:     0.10,
			HistoricalBiasRate:   0.55,
			HistoricalBiasMin:    8,
		},
		Scoring: ScoringConfig{
			GapPressure:     0.22,
			StreakBreak:     0.18,
			ColorBalance:    0.14,
			ParityRotation:  0.18,
			SizeRegime:      0.18,
			Reactivation:    0.10,
			QuadParity:      0.08,
			TrendReversal:   0.06,
			ClassLookback:   200,
			BalanceWindow:   10 * time.Minute,
			GapCapSinceLast: 40,
			GapCapMedian:    24,
		},
		Admission: AdmissionConfig{
			DailyCap:  3,
			WindowCap: 1,
			MinGap:    6 * time.Hour,
		},
		Reactivation: ReactivationConfig{
			SnapshotSpan:     48 * time.Hour,
			SnapshotInterval: 47 * time.Hour,
			MatchLimit:       200,
			MinSimilarity:    0.75,
			HitRateAlpha:     0.2,
			TopPoolSize:      8,
		},
		Pool: PoolConfig{
			PatternLookback:        120,
			TransitionMinSupport:   2,
			OverdueGap:             40,
			OverdueMinCandidates:   6,
			OverdueMinOccurrences:  10,
			OverdueMinHitRate:      0.40,
			OverdueHistoryLookback: 2000,
		},
		Inference: InferenceConfig{
			Timeout: 8 * time.Second,
			RPS:     0.05,
			Burst:   1,
		},
		Engine: EngineConfig{
			Debounce:  15 * time.Second,
			LeaseName: "predictor.tick",
		},
	}
}

// Load reads the yaml file at path (if it exists), backfills defaults and
// applies env overrides. An empty path returns defaults plus env overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to apply env overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects configurations the engine cannot run with. Scoring weights
// must be positive and finite; persisting scores from a broken weight table is
// worse than refusing to start.
func (c *Config) Validate() error {
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}

	weights := map[string]float64{
		"gap_pressure":    c.Scoring.GapPressure,
		"streak_break":    c.Scoring.StreakBreak,
		"color_balance":   c.Scoring.ColorBalance,
		"parity_rotation": c.Scoring.ParityRotation,
		"size_regime":     c.Scoring.SizeRegime,
		"reactivation":    c.Scoring.Reactivation,
		"quad_parity":     c.Scoring.QuadParity,
		"trend_reversal":  c.Scoring.TrendReversal,
	}
	for name, w := range weights {
		if w < 0 || math.IsNaN(w) || math.IsInf(w, 0) {
			return fmt.Errorf("invalid scoring weight %s: %f", name, w)
		}
	}

	if c.Window.PauseThreshold < 1 {
		return fmt.Errorf("pause_threshold must be >= 1, got %d", c.Window.PauseThreshold)
	}
	if c.Admission.DailyCap < 0 || c.Admission.WindowCap < 0 {
		return fmt.Errorf("AI caps must be non-negative")
	}
	if c.Reactivation.MinSimilarity < 0 || c.Reactivation.MinSimilarity > 1 {
		return fmt.Errorf("min_similarity must be in [0,1], got %f", c.Reactivation.MinSimilarity)
	}
	if c.Reactivation.HitRateAlpha <= 0 || c.Reactivation.HitRateAlpha > 1 {
		return fmt.Errorf("hit_rate_alpha must be in (0,1], got %f", c.Reactivation.HitRateAlpha)
	}

	return nil
}

// Location resolves the configured timezone. Validate guarantees it parses.
func (c *Config) Location() *time.Location {
	loc, _ := time.LoadLocation(c.Timezone)
	return loc
}
