package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/nextlevelbuilder/intentrouter/internal/audit"
	"github.com/nextlevelbuilder/intentrouter/internal/bus"
	"github.com/nextlevelbuilder/intentrouter/internal/classifier"
	"github.com/nextlevelbuilder/intentrouter/internal/config"
	"github.com/nextlevelbuilder/intentrouter/internal/dispatch"
	"github.com/nextlevelbuilder/intentrouter/internal/handlers"
	"github.com/nextlevelbuilder/intentrouter/internal/pipeline"
	"github.com/nextlevelbuilder/intentrouter/internal/providers"
	"github.com/nextlevelbuilder/intentrouter/internal/ratelimit"
	"github.com/nextlevelbuilder/intentrouter/internal/sessions"
	"github.com/nextlevelbuilder/intentrouter/internal/spam"
	"github.com/nextlevelbuilder/intentrouter/internal/store"
	"github.com/nextlevelbuilder/intentrouter/internal/store/pg"
	"github.com/nextlevelbuilder/intentrouter/internal/store/sqlitestore"
	"github.com/nextlevelbuilder/intentrouter/internal/upgrade"
	"github.com/nextlevelbuilder/intentrouter/internal/urgency"
)

// engine is everything a process needs to run turns, built from config.
type engine struct {
	cfg      *config.Config
	bus      *bus.MessageBus
	stores   *store.Stores
	sessions *sessions.Manager
	limiter  *ratelimit.SlidingWindow // nil when disabled
	registry *dispatch.Registry
	recorder *audit.Recorder
	pipeline *pipeline.Pipeline
}

// buildEngine wires the pipeline from cfg. close must be called on success.
func buildEngine(cfg *config.Config) (*engine, error) {
	stores, err := openStores(cfg.Database)
	if err != nil {
		return nil, err
	}

	var sessOpts []sessions.Option
	if stores.Actors != nil {
		sessOpts = append(sessOpts, sessions.WithStore(stores.Actors))
	}
	sess := sessions.NewManager(sessions.Config{
		HistoryLimit: cfg.Pipeline.HistoryLimit,
		IdleTTL:      cfg.Pipeline.ActorIdleTTL(),
	}, sessOpts...)

	var limiter *ratelimit.SlidingWindow
	if rl := cfg.Pipeline.RateLimit; rl.MaxRequests > 0 {
		limiter = ratelimit.New(rl.MaxRequests, rl.Window())
	} else {
		slog.Warn("per-actor rate limiting disabled")
	}

	var provider providers.Provider
	if cfg.Classifier.UseLLM() || cfg.Spam.Mode == "llm" {
		provider = providers.NewOpenAIProvider(cfg.Classifier.Provider, cfg.Classifier.APIKey, cfg.Classifier.APIBase, cfg.Classifier.Model)
	}

	cls := buildClassifier(cfg.Classifier, provider)
	gate := buildSpamGate(cfg.Spam, cfg.Classifier.Model, provider)

	reg := dispatch.NewRegistry()
	if err := handlers.Bind(reg, cfg.Handlers, &http.Client{Timeout: cfg.Pipeline.HandlerTimeout()}); err != nil {
		stores.Close()
		return nil, err
	}
	overrides, err := dispatch.DefaultOverrides(cfg.Overrides)
	if err != nil {
		stores.Close()
		return nil, fmt.Errorf("overrides: %w", err)
	}
	disp := dispatch.New(reg,
		dispatch.WithHandlerTimeout(cfg.Pipeline.HandlerTimeout()),
		dispatch.WithOverrides(overrides),
	)

	var sinks audit.MultiSink
	if cfg.Audit.LogEnabled() {
		sinks = append(sinks, audit.LogSink{Logger: slog.Default()})
	}
	if cfg.Audit.StoreEnabled() && stores.Audit != nil {
		sinks = append(sinks, audit.StoreSink{Store: stores.Audit})
	}
	recorder := audit.NewRecorder(sinks, cfg.Audit.Buffer)

	var dedupe *bus.DedupeCache
	if cfg.Pipeline.DedupeTTLMinutes > 0 {
		dedupe = bus.NewDedupeCache(cfg.Pipeline.DedupeTTL(), cfg.Pipeline.DedupeMax)
	}

	msgBus := bus.New()
	pipe, err := pipeline.New(pipeline.Deps{
		Sessions:   sess,
		Limiter:    limiter,
		Spam:       gate,
		Classifier: cls,
		Adjuster:   urgency.New(urgency.DefaultRules(cfg.Urgency)),
		Dispatcher: disp,
		Audit:      recorder,
		Events:     msgBus,
		Dedupe:     dedupe,
	}, pipeline.Config{
		ClassifierTimeout: cfg.Pipeline.ClassifierTimeout(),
		SpamTimeout:       cfg.Pipeline.SpamTimeout(),
	})
	if err != nil {
		recorder.Close(context.Background())
		stores.Close()
		return nil, err
	}

	slog.Info("engine ready",
		"backend", backendName(cfg.Database),
		"classifier", classifierName(cfg.Classifier),
		"spam", cfg.Spam.Mode,
		"targets", len(reg.Targets()),
		"webhooks", len(cfg.Handlers),
		"config_hash", cfg.Hash(),
	)

	return &engine{
		cfg:      cfg,
		bus:      msgBus,
		stores:   stores,
		sessions: sess,
		limiter:  limiter,
		registry: reg,
		recorder: recorder,
		pipeline: pipe,
	}, nil
}

// close drains the audit recorder, then closes storage.
func (e *engine) close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := e.recorder.Close(ctx)
	if dropped := e.recorder.Dropped(); dropped > 0 {
		slog.Warn("audit records dropped", "count", dropped)
	}
	return errors.Join(err, e.stores.Close())
}

// runJanitors prunes idle per-actor state until ctx is done.
func (e *engine) runJanitors(ctx context.Context) error {
	if e.limiter != nil {
		go e.limiter.Run(ctx, time.Minute)
	}
	e.sessions.Run(ctx, 5*time.Minute)
	return nil
}

func openStores(cfg config.DatabaseConfig) (*store.Stores, error) {
	switch backendName(cfg) {
	case "memory":
		slog.Warn("memory backend: carry-over and audit are lost on restart")
		return &store.Stores{Close: func() error { return nil }}, nil
	case "postgres":
		if err := checkPostgresSchema(cfg.PostgresDSN); err != nil {
			return nil, err
		}
		return pg.NewPGStores(cfg.StoreConfig())
	default:
		return sqlitestore.NewStores(cfg.StoreConfig())
	}
}

// checkPostgresSchema refuses to start against a database that was not
// migrated to the version this binary expects.
func checkPostgresSchema(dsn string) error {
	db, err := pg.OpenDB(dsn)
	if err != nil {
		return fmt.Errorf("open postgres: %w", err)
	}
	defer db.Close()

	s, err := upgrade.CheckSchema(db)
	if err != nil {
		return fmt.Errorf("schema check: %w", err)
	}
	if err := s.Err(); err != nil {
		return fmt.Errorf("%w\n%s", err, upgrade.FormatError(s))
	}
	return nil
}

func buildClassifier(cfg config.ClassifierConfig, p providers.Provider) classifier.Classifier {
	if !cfg.UseLLM() {
		return classifier.NewKeywordClassifier()
	}
	return classifier.NewLLMClassifier(p, classifier.LLMConfig{
		Model:         cfg.Model,
		Temperature:   cfg.Temperature,
		MaxTokens:     cfg.MaxTokens,
		InputLanguage: cfg.InputLanguage,
	})
}

func buildSpamGate(cfg config.SpamConfig, classifierModel string, p providers.Provider) *spam.Gate {
	switch cfg.Mode {
	case "off":
		return nil
	case "llm":
		model := cfg.Model
		if model == "" {
			model = classifierModel
		}
		return spam.NewGate(spam.NewLLMChecker(p, model))
	default:
		return spam.NewGate(spam.NewHeuristicChecker())
	}
}

func backendName(cfg config.DatabaseConfig) string {
	if cfg.Backend == "" {
		return "sqlite"
	}
	return cfg.Backend
}

func classifierName(cfg config.ClassifierConfig) string {
	if cfg.UseLLM() {
		return "llm"
	}
	return "keyword"
}
