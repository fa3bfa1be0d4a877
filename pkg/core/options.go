package core

import (
	"github.com/charmbracelet/log"

	"github.com/stratamem/stratamem-go/pkg/embedder"
	"github.com/stratamem/stratamem-go/pkg/query"
	"github.com/stratamem/stratamem-go/pkg/search"
	"github.com/stratamem/stratamem-go/pkg/store"
	"github.com/stratamem/stratamem-go/pkg/summarize"
)

// EngineOption is a function type for configuring engine construction.
//
// Options are applied using the functional options pattern, allowing
// components to be injected in place of the ones the configuration would
// construct.
type EngineOption func(*engineOptions)

type engineOptions struct {
	store      store.RecordStore
	summarizer summarize.Summarizer
	embedder   embedder.Provider
	searcher   search.Searcher
	logger     *log.Logger
}

// WithStore injects a pre-built record store, overriding Config.Store.
//
// Example:
//
//	engine, _ := core.NewEngine(config, core.WithStore(memory.NewStore()))
func WithStore(s store.RecordStore) EngineOption {
	return func(opts *engineOptions) {
		opts.store = s
	}
}

// WithSummarizer injects a summarizer, overriding Config.Summarizer.
func WithSummarizer(s summarize.Summarizer) EngineOption {
	return func(opts *engineOptions) {
		opts.summarizer = s
	}
}

// WithEmbedder injects an embedding provider, overriding Config.Embedder.
func WithEmbedder(e embedder.Provider) EngineOption {
	return func(opts *engineOptions) {
		opts.embedder = e
	}
}

// WithSearcher injects a searcher, replacing the default embedding-based
// searcher. Use this to back retrieval with an external search service.
func WithSearcher(s search.Searcher) EngineOption {
	return func(opts *engineOptions) {
		opts.searcher = s
	}
}

// WithLogger sets the logger used by the engine and its components.
func WithLogger(l *log.Logger) EngineOption {
	return func(opts *engineOptions) {
		opts.logger = l
	}
}

// QueryOption is a function type for configuring Query operations.
type QueryOption func(*query.Options)

// WithLimit sets the maximum number of results for a query.
//
// Example:
//
//	result, _ := engine.Query(ctx, "deployment issues", core.WithLimit(5))
func WithLimit(limit int) QueryOption {
	return func(opts *query.Options) {
		opts.Limit = limit
	}
}

// WithDeepSearch includes the T4 archive tier in a query. Archived content
// is excluded from normal queries.
//
// Example:
//
//	result, _ := engine.Query(ctx, "old migration notes", core.WithDeepSearch())
func WithDeepSearch() QueryOption {
	return func(opts *query.Options) {
		opts.DeepSearch = true
	}
}
