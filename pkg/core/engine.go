package core

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/charmbracelet/log"

	"github.com/stratamem/stratamem-go/pkg/embedder"
	embopenai "github.com/stratamem/stratamem-go/pkg/embedder/openai"
	"github.com/stratamem/stratamem-go/pkg/lifecycle"
	"github.com/stratamem/stratamem-go/pkg/query"
	"github.com/stratamem/stratamem-go/pkg/recall"
	"github.com/stratamem/stratamem-go/pkg/record"
	"github.com/stratamem/stratamem-go/pkg/search"
	"github.com/stratamem/stratamem-go/pkg/search/embedding"
	"github.com/stratamem/stratamem-go/pkg/store"
	"github.com/stratamem/stratamem-go/pkg/store/memory"
	"github.com/stratamem/stratamem-go/pkg/store/mysql"
	"github.com/stratamem/stratamem-go/pkg/store/postgres"
	"github.com/stratamem/stratamem-go/pkg/store/sqlite"
	"github.com/stratamem/stratamem-go/pkg/summarize"
	sumopenai "github.com/stratamem/stratamem-go/pkg/summarize/openai"
	"github.com/stratamem/stratamem-go/pkg/topiclock"
)

// Engine is the main StrataMem client.
//
// It wires the record store, the recall tracker, the transition engine with
// its scheduler, and the query router behind a single API:
//
//	engine, err := core.NewEngine(config)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer engine.Close()
//
//	engine.Ingest(ctx, "deployment", "Decided to move to blue-green deploys.")
//	result, _ := engine.Query(ctx, "how do we deploy?")
type Engine struct {
	config     *Config
	store      store.RecordStore
	summarizer summarize.Summarizer
	embedder   embedder.Provider
	searcher   search.Searcher
	tracker    *recall.Tracker
	lifecycle  *lifecycle.Engine
	scheduler  *lifecycle.Scheduler
	router     *query.Router
	locks      *topiclock.Keyed
	logger     *log.Logger
	newID      func() int64
	nowFn      func() time.Time
}

// NewEngine creates a StrataMem engine from the configuration.
//
// A nil config uses DefaultConfig. Components constructed from the
// configuration can be overridden with EngineOptions; a summarizer is
// required (from Config.Summarizer or WithSummarizer), and retrieval needs
// either an embedder or an injected searcher.
func NewEngine(config *Config, opts ...EngineOption) (*Engine, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	var o engineOptions
	for _, opt := range opts {
		opt(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = log.NewWithOptions(os.Stderr, log.Options{Prefix: "stratamem"})
	}

	s := o.store
	if s == nil {
		var err error
		s, err = initStore(&config.Store)
		if err != nil {
			return nil, NewEngineError("NewEngine", err)
		}
	}

	summarizer := o.summarizer
	if summarizer == nil {
		if config.Summarizer.APIKey == "" {
			return nil, NewEngineError("NewEngine",
				fmt.Errorf("%w: a summarizer is required (set summarizer.api_key or inject one)", ErrInvalidConfig))
		}
		var err error
		summarizer, err = sumopenai.NewClient(&sumopenai.Config{
			APIKey:  config.Summarizer.APIKey,
			Model:   config.Summarizer.Model,
			BaseURL: config.Summarizer.BaseURL,
		})
		if err != nil {
			return nil, NewEngineError("NewEngine", err)
		}
	}

	emb := o.embedder
	if emb == nil && config.Embedder.APIKey != "" {
		var err error
		emb, err = embopenai.NewClient(&embopenai.Config{
			APIKey:     config.Embedder.APIKey,
			Model:      config.Embedder.Model,
			BaseURL:    config.Embedder.BaseURL,
			Dimensions: config.Embedder.Dimensions,
		})
		if err != nil {
			return nil, NewEngineError("NewEngine", err)
		}
	}

	searcher := o.searcher
	if searcher == nil {
		if emb == nil {
			return nil, NewEngineError("NewEngine",
				fmt.Errorf("%w: retrieval needs an embedder (set embedder.api_key) or an injected searcher", ErrInvalidConfig))
		}
		searcher = embedding.NewSearcher(s, emb)
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return nil, NewEngineError("NewEngine", err)
	}
	newID := func() int64 { return node.Generate().Int64() }

	locks := topiclock.New()
	tracker := recall.NewTracker(s, newID, config.ArchivalThresholdDays)
	adapter := summarize.NewAdapter(summarizer,
		time.Duration(config.SummarizerTimeoutSeconds)*time.Second,
		config.SummaryBudgetChars)
	lc := lifecycle.NewEngine(s, tracker, adapter, locks, config.lifecycleConfig(), newID, logger)
	scheduler := lifecycle.NewScheduler(lc,
		time.Duration(config.SchedulerIntervalMinutes)*time.Minute, logger)
	router := query.NewRouter(s, tracker, searcher, config.searchWeights(),
		time.Duration(config.SearcherTimeoutSeconds)*time.Second, locks, logger)

	return &Engine{
		config:     config,
		store:      s,
		summarizer: summarizer,
		embedder:   emb,
		searcher:   searcher,
		tracker:    tracker,
		lifecycle:  lc,
		scheduler:  scheduler,
		router:     router,
		locks:      locks,
		logger:     logger,
		newID:      newID,
		nowFn:      time.Now,
	}, nil
}

// initStore creates the record store based on configuration.
func initStore(cfg *StoreConfig) (store.RecordStore, error) {
	switch cfg.Provider {
	case "memory":
		return memory.NewStore(), nil
	case "sqlite":
		dbPath := cfgString(cfg.Config, "db_path")
		if dbPath == "" {
			dbPath = "./stratamem.db"
		}
		return sqlite.NewStore(&sqlite.Config{
			DBPath:      dbPath,
			TablePrefix: cfgString(cfg.Config, "table_prefix"),
		})
	case "postgres":
		return postgres.NewStore(&postgres.Config{
			Host:        cfgString(cfg.Config, "host"),
			Port:        cfgInt(cfg.Config, "port"),
			User:        cfgString(cfg.Config, "user"),
			Password:    cfgString(cfg.Config, "password"),
			DBName:      cfgString(cfg.Config, "db_name"),
			SSLMode:     cfgString(cfg.Config, "ssl_mode"),
			TablePrefix: cfgString(cfg.Config, "table_prefix"),
		})
	case "mysql":
		return mysql.NewStore(&mysql.Config{
			Host:        cfgString(cfg.Config, "host"),
			Port:        cfgInt(cfg.Config, "port"),
			User:        cfgString(cfg.Config, "user"),
			Password:    cfgString(cfg.Config, "password"),
			DBName:      cfgString(cfg.Config, "db_name"),
			TablePrefix: cfgString(cfg.Config, "table_prefix"),
		})
	default:
		return nil, fmt.Errorf("%w: unsupported store provider: %s", ErrInvalidConfig, cfg.Provider)
	}
}

// Ingest stores episodic content under a topic.
//
// Content ingested for the same topic on the same calendar day (UTC) is
// appended to that day's T2 record instead of creating a new one, so a
// day's conversation about one topic stays a single batch. The returned
// record is the batch the content landed in.
func (e *Engine) Ingest(ctx context.Context, topic, content string) (*record.Record, error) {
	if strings.TrimSpace(content) == "" {
		return nil, NewEngineError("Ingest", errors.New("content is required"))
	}
	if e.config.NormalizeTopics {
		topic = record.NormalizeTopic(topic)
	} else {
		topic = strings.TrimSpace(topic)
	}
	if topic == "" {
		return nil, NewEngineError("Ingest", errors.New("topic is required"))
	}

	now := e.nowFn()

	// The topic lock is held across the embed call so concurrent same-day
	// ingests cannot clobber each other's append.
	e.locks.Lock(topic)
	defer e.locks.Unlock(topic)

	t2, err := e.store.ListByTopic(ctx, topic, record.TierEpisodic)
	if err != nil {
		return nil, NewEngineError("Ingest", err)
	}
	var target *record.Record
	for _, rec := range t2 {
		if rec.CompressedAt == nil && sameDay(rec.CreatedAt, now) {
			target = rec
			break
		}
	}

	if target != nil {
		combined := target.Content + "\n\n" + content
		emb := e.embed(ctx, combined)
		if err := e.store.UpdateContent(ctx, target.ID, combined, emb); err != nil {
			return nil, NewEngineError("Ingest", err)
		}
		target.Content = combined
		target.Embedding = emb
		return target, nil
	}

	rec := &record.Record{
		ID:                 e.newID(),
		Tier:               record.TierEpisodic,
		Topic:              topic,
		Content:            content,
		Embedding:          e.embed(ctx, content),
		CreatedAt:          now,
		LastTransitionedAt: now,
	}
	if err := e.store.Put(ctx, rec); err != nil {
		return nil, NewEngineError("Ingest", err)
	}

	if _, err := e.store.GetManifest(ctx, topic); errors.Is(err, ErrNotFound) {
		m := &record.Manifest{
			Topic:            topic,
			CurrentTier:      record.TierEpisodic,
			LastTransitionAt: now,
		}
		if err := e.store.UpsertManifest(ctx, m); err != nil {
			return nil, NewEngineError("Ingest", err)
		}
	} else if err != nil {
		return nil, NewEngineError("Ingest", err)
	}

	return rec, nil
}

// IngestFoundation stores permanent foundational content in T0.
//
// T0 records have no topic, are included in every query, and are never
// touched by the transition engine.
func (e *Engine) IngestFoundation(ctx context.Context, content string) (*record.Record, error) {
	if strings.TrimSpace(content) == "" {
		return nil, NewEngineError("IngestFoundation", errors.New("content is required"))
	}

	now := e.nowFn()
	rec := &record.Record{
		ID:                 e.newID(),
		Tier:               record.TierFoundation,
		Content:            content,
		Embedding:          e.embed(ctx, content),
		Permanent:          true,
		CreatedAt:          now,
		LastTransitionedAt: now,
	}
	if err := e.store.Put(ctx, rec); err != nil {
		return nil, NewEngineError("IngestFoundation", err)
	}
	return rec, nil
}

// Query runs a retrieval query across the queryable tiers and records a
// recall for every returned record.
func (e *Engine) Query(ctx context.Context, text string, opts ...QueryOption) (*query.Result, error) {
	var qo query.Options
	for _, opt := range opts {
		opt(&qo)
	}

	result, err := e.router.Query(ctx, text, qo)
	if err != nil {
		return nil, NewEngineError("Query", err)
	}
	return result, nil
}

// RunMaintenance runs one transition pass immediately, outside the
// scheduler. Safe to call while the scheduler is running; topic locks keep
// the two from interleaving on the same topic.
func (e *Engine) RunMaintenance(ctx context.Context) error {
	return NewEngineError("RunMaintenance", e.lifecycle.Tick(ctx))
}

// RegisterHook adds a transition hook. Hooks must be registered before
// Start; registering while ticks run is racy.
func (e *Engine) RegisterHook(h lifecycle.TransitionHook) {
	e.lifecycle.RegisterHook(h)
}

// Start launches the background transition scheduler.
func (e *Engine) Start(ctx context.Context) error {
	return e.scheduler.Start(ctx)
}

// Stop stops the background scheduler, waiting for an in-flight tick to
// finish its current topic.
func (e *Engine) Stop() {
	e.scheduler.Stop()
}

// Close stops the scheduler and releases every provider and the store.
func (e *Engine) Close() error {
	e.scheduler.Stop()

	errs := []error{e.store.Close(), e.summarizer.Close()}
	if e.embedder != nil {
		errs = append(errs, e.embedder.Close())
	}
	return NewEngineError("Close", errors.Join(errs...))
}

// SetNow overrides the clock used by the engine, the recall tracker, and
// the transition engine. Intended for tests.
func (e *Engine) SetNow(now func() time.Time) {
	e.nowFn = now
	e.tracker.SetNow(now)
	e.lifecycle.SetNow(now)
}

// embed computes an embedding for text, or nil when no embedder is
// configured. Embedding failures degrade to an unembedded record rather
// than failing the ingest.
func (e *Engine) embed(ctx context.Context, text string) []float64 {
	if e.embedder == nil {
		return nil
	}
	vec, err := e.embedder.Embed(ctx, text)
	if err != nil {
		e.logger.Warn("embedding failed, storing record without embedding", "err", err)
		return nil
	}
	return vec
}

// sameDay reports whether two instants fall on the same UTC calendar day.
func sameDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}

// cfgString extracts a string value from provider configuration.
func cfgString(m map[string]interface{}, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

// cfgInt extracts an integer value from provider configuration. JSON
// decoding yields float64 for numbers, so both forms are accepted.
func cfgInt(m map[string]interface{}, key string) int {
	switch v := m[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}
