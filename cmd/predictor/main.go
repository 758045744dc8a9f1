// Command predictor runs the tick-driven decision engine: a cron-paced
// pipeline that watches the outcome stream and emits hot/cold value
// predictions per time window.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/crunkdevs/predictor-sub000/internal/config"
	"github.com/crunkdevs/predictor-sub000/internal/emit"
	"github.com/crunkdevs/predictor-sub000/internal/engine"
	"github.com/crunkdevs/predictor-sub000/internal/httpapi"
	"github.com/crunkdevs/predictor-sub000/internal/inference"
	"github.com/crunkdevs/predictor-sub000/internal/pattern"
	"github.com/crunkdevs/predictor-sub000/internal/reactivation"
	"github.com/crunkdevs/predictor-sub000/internal/scheduler"
	"github.com/crunkdevs/predictor-sub000/internal/scorer"
	"github.com/crunkdevs/predictor-sub000/internal/signals"
	"github.com/crunkdevs/predictor-sub000/internal/stats"
	"github.com/crunkdevs/predictor-sub000/internal/store/postgres"
	"github.com/crunkdevs/predictor-sub000/internal/window"
	"github.com/crunkdevs/predictor-sub000/pkg/cache"
)

var (
	configPath string
	logLevel   string
	logJSON    bool
)

func main() {
	root := &cobra.Command{
		Use:   "predictor",
		Short: "Tick-driven outcome prediction engine",
		PersistentPreRun: func(*cobra.Command, []string) {
			setupLogging()
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.yaml")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (trace|debug|info|warn|error)")
	root.PersistentFlags().BoolVar(&logJSON, "log-json", false, "log JSON instead of console output")

	root.AddCommand(serveCmd(), tickCmd(), dryRunCmd(), evaluateCmd(), migrateCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupLogging() {
	level, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if !logJSON {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}

// app holds everything a command needs after wiring.
type app struct {
	cfg    *config.Config
	engine *engine.Engine
	redis  *redis.Client
	close  func()
}

func buildApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	loc := cfg.Location()

	db, err := postgres.Open(ctx, cfg.Database.URL, cfg.Database.MaxOpenConns)
	if err != nil {
		return nil, err
	}
	if err := postgres.Migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	st := postgres.New(db, cfg.Database.QueryTimeout, loc, cfg.Window.FirstPredictDelay)
	lease := postgres.NewAdvisoryLease(db)
	provider := stats.NewComputed(st.Outcomes(), loc)

	var (
		rdb       *redis.Client
		sigCache  cache.Cache = cache.NewMemory()
		publisher emit.Publisher = emit.LogPublisher{}
	)
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		rdb = redis.NewClient(opts)
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warn().Err(err).Msg("Redis unreachable, using in-process cache and log publisher")
			rdb.Close()
			rdb = nil
		} else {
			sigCache = cache.NewRedis(rdb, "predictor")
			publisher = emit.NewRedisPublisher(rdb, cfg.Redis.Channel)
		}
	}

	var client inference.Client = inference.NewHTTPClient(cfg.Inference.URL, cfg.Inference.APIKey, cfg.Inference.Timeout)
	client = inference.NewGuarded(client, cfg.Inference.RPS, cfg.Inference.Burst)

	eng := engine.New(engine.Deps{
		Store:     st,
		Lease:     lease,
		Stats:     provider,
		Windows:   window.NewManager(st, provider, cfg.Window, loc),
		Detector:  pattern.NewDetector(provider, cfg.Pattern),
		Deviation: signals.NewDeviationDetector(provider, sigCache, cfg.Signals),
		Reversal:  signals.NewReversalDetector(provider, sigCache, cfg.Signals),
		Matcher:   reactivation.NewMatcher(st, provider, cfg.Reactivation),
		Scorer:    scorer.NewScorer(provider, cfg.Scoring),
		Inference: client,
		Publisher: publisher,
	}, cfg)

	return &app{
		cfg:    cfg,
		engine: eng,
		redis:  rdb,
		close: func() {
			if rdb != nil {
				rdb.Close()
			}
			db.Close()
		},
	}, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler and the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := buildApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			sched := scheduler.New(a.engine, a.cfg.Scheduler)
			if err := sched.Start(ctx); err != nil {
				return err
			}

			srv := httpapi.NewServer(a.engine, a.cfg.HTTP.Addr)
			errCh := make(chan error, 1)
			go func() { errCh <- srv.ListenAndServe() }()

			select {
			case <-ctx.Done():
				log.Info().Msg("Shutting down")
			case err := <-errCh:
				return err
			}

			sched.Stop(30 * time.Second)
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
}

func tickCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tick",
		Short: "Run a single tick and print the result",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			res, err := a.engine.Tick(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(res)
		},
	}
}

func dryRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dryrun",
		Short: "Walk the pipeline without persisting a prediction",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			rep, err := a.engine.DryRun(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(rep)
		},
	}
}

func evaluateCmd() *cobra.Command {
	var at string
	cmd := &cobra.Command{
		Use:   "evaluate <value>",
		Short: "Record an observed outcome and settle the open prediction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("value must be an integer: %w", err)
			}
			observedAt := time.Now()
			if at != "" {
				if observedAt, err = time.Parse(time.RFC3339, at); err != nil {
					return fmt.Errorf("invalid --at: %w", err)
				}
			}

			a, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			res, err := a.engine.Evaluate(cmd.Context(), value, observedAt)
			if err != nil {
				return err
			}
			return printJSON(res)
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "observation time, RFC3339 (default now)")
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			db, err := postgres.Open(cmd.Context(), cfg.Database.URL, cfg.Database.MaxOpenConns)
			if err != nil {
				return err
			}
			defer db.Close()
			if err := postgres.Migrate(cmd.Context(), db); err != nil {
				return err
			}
			log.Info().Msg("Schema applied")
			return nil
		},
	}
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
