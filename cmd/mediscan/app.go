package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"MediScan/internal/cache"
	"MediScan/internal/config"
	"MediScan/internal/llm"
	"MediScan/internal/ocr/tesseract"
	"MediScan/internal/report"
	"MediScan/internal/session"
	"MediScan/internal/session/redisstore"
	"MediScan/internal/session/sqlstore"
	"MediScan/internal/telemetry"
)

type configFlags struct {
	path    string
	envFile string
}

func (f *configFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.path, "config", "c", "", "config file (default is ./config.yaml when present)")
	cmd.Flags().StringVar(&f.envFile, "env-file", ".env", "dotenv file merged into the environment")
}

// load applies the dotenv file, reads the config, lets the command
// override fields and validates the result.
func (f *configFlags) load(override func(*config.Config)) (config.Config, error) {
	if err := config.LoadDotEnv(f.envFile); err != nil {
		return config.Config{}, err
	}
	cfg, err := config.Load(f.path)
	if err != nil {
		return config.Config{}, err
	}
	if override != nil {
		override(&cfg)
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// app holds the long-lived dependencies shared by the commands.
type app struct {
	logger  *slog.Logger
	svc     *report.Service
	closers []func()
}

func newApp(ctx context.Context, cfg config.Config, sweep bool) (*app, error) {
	a := &app{}

	logger, logFile, err := telemetry.InitLogger(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	a.logger = logger
	a.closers = append(a.closers, func() { _ = logFile.Close() })

	tracer, meter, cleanup, err := telemetry.InitTelemetry(ctx, cfg.Telemetry, version)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	store, closeStore, err := openStore(ctx, cfg.Session, logger, sweep)
	if err != nil {
		a.close()
		return nil, err
	}
	a.closers = append(a.closers, closeStore)

	if cfg.LLM.APIKey == "" && cfg.LLM.Backend != config.BackendOllama {
		logger.Warn("llm api key not set, model calls will fail", "backend", cfg.LLM.Backend)
	}
	client := llm.NewClient(cfg.LLM, logger, tracer, meter)

	var summaries *cache.Cache
	if cfg.LLM.CacheTTL > 0 {
		summaries = cache.New(cfg.LLM.CacheTTL)
		if sweep {
			sweepCtx, cancel := context.WithCancel(ctx)
			go sweepExpired(sweepCtx, "summaries", summaries, logger)
			a.closers = append(a.closers, cancel)
		}
	}

	a.svc = report.NewService(store, tesseract.New(), client, report.Options{
		Languages:        cfg.OCR.Languages,
		OCRTimeout:       cfg.OCR.Timeout,
		MaxConcurrentOCR: cfg.OCR.MaxConcurrent,
		SummaryCache:     summaries,
		Logger:           logger,
		Tracer:           tracer,
	})
	return a, nil
}

// close releases dependencies in reverse order of acquisition.
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// openStore builds the configured session store and a func releasing it.
func openStore(ctx context.Context, cfg config.SessionConfig, logger *slog.Logger, sweep bool) (session.Store, func(), error) {
	switch cfg.Store {
	case config.StoreSQLite:
		st, err := sqlstore.Open(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("using sqlite session store", "path", cfg.SQLitePath)
		return st, func() { _ = st.Close() }, nil

	case config.StoreRedis:
		rdb, err := redisstore.Conn(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, 5*time.Second)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("using redis session store", "addr", cfg.RedisAddr)
		return redisstore.New(rdb, cfg.TTL), func() { _ = rdb.Close() }, nil

	default:
		mem := session.NewMemoryStore(cfg.TTL)
		if !sweep {
			return mem, func() {}, nil
		}
		sweepCtx, cancel := context.WithCancel(ctx)
		go sweepExpired(sweepCtx, "sessions", mem, logger)
		return mem, cancel, nil
	}
}

// expirer is a store that drops its expired entries on demand.
type expirer interface {
	Sweep() int
	Len() int
}

var sweepInterval = time.Minute

func sweepExpired(ctx context.Context, what string, e expirer, logger *slog.Logger) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := e.Sweep(); n > 0 {
				logger.Debug("expired entries removed", "store", what, "count", n, "remaining", e.Len())
			}
		}
	}
}
