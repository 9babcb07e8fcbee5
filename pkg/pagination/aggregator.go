package pagination

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Parameter names that signal the caller manages paging.
const (
	ParamCursor = "cursor"
	ParamLimit  = "limit"
)

// DefaultPageSize is the limit sent with every auto-paginated request.
const DefaultPageSize = 200

// Prometheus metrics for pagination.
var (
	pagesFetchedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webapi_pages_fetched_total",
		Help: "Total pages fetched by auto-pagination by method",
	}, []string{"method"})

	paginationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webapi_paginations_total",
		Help: "Total auto-paginated calls by outcome",
	}, []string{"outcome"})
)

// Config holds aggregator configuration.
type Config struct {
	// PageSize is sent as "limit" on every page request.
	PageSize int
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{PageSize: DefaultPageSize}
}

// Fetcher fetches a single page. Errors are returned after the fetcher's
// own retry handling has given up.
type Fetcher interface {
	FetchPage(ctx context.Context, method string, params map[string]any) (map[string]any, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, method string, params map[string]any) (map[string]any, error)

// FetchPage implements Fetcher.
func (f FetcherFunc) FetchPage(ctx context.Context, method string, params map[string]any) (map[string]any, error) {
	return f(ctx, method, params)
}

// State is the position of an aggregation.
type State int

const (
	StateIdle State = iota
	StateFetching
	StateMerging
	StateDone
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetching:
		return "fetching"
	case StateMerging:
		return "merging"
	case StateDone:
		return "done"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Eligible reports whether a call auto-paginates: the method must support
// cursor pagination and params must carry neither a cursor nor a limit.
func Eligible(cursorCapable bool, params map[string]any) bool {
	if !cursorCapable {
		return false
	}
	if v, ok := params[ParamCursor]; ok && v != nil {
		return false
	}
	if v, ok := params[ParamLimit]; ok && v != nil {
		return false
	}
	return true
}

// NextCursor returns response_metadata.next_cursor of page, or "".
func NextCursor(page map[string]any) string {
	meta, _ := page["response_metadata"].(map[string]any)
	cursor, _ := meta["next_cursor"].(string)
	return cursor
}

// Aggregator walks all pages of a cursor-paginated method.
type Aggregator struct {
	fetcher Fetcher
	config  Config
	logger  zerolog.Logger
}

// NewAggregator creates an aggregator.
func NewAggregator(fetcher Fetcher, config Config, logger zerolog.Logger) *Aggregator {
	if config.PageSize <= 0 {
		config.PageSize = DefaultPageSize
	}
	return &Aggregator{
		fetcher: fetcher,
		config:  config,
		logger:  logger,
	}
}

// FetchAll fetches every page of method and returns the merged response.
// On any page failure the accumulated items are discarded and the page's
// error is returned.
func (a *Aggregator) FetchAll(ctx context.Context, method string, params map[string]any) (map[string]any, error) {
	start := time.Now()
	state := StateIdle
	acc := NewAccumulator()
	cursor := ""

	for {
		state = StateFetching
		pageParams := make(map[string]any, len(params)+2)
		for k, v := range params {
			pageParams[k] = v
		}
		pageParams[ParamLimit] = a.config.PageSize
		if cursor != "" {
			pageParams[ParamCursor] = cursor
		}

		page, err := a.fetcher.FetchPage(ctx, method, pageParams)
		if err != nil {
			state = StateError
			paginationsTotal.WithLabelValues("error").Inc()
			a.logger.Warn().
				Err(err).
				Str("method", method).
				Int("page", acc.Pages()+1).
				Str("state", state.String()).
				Msg("Page fetch failed - aggregation abandoned")
			return nil, fmt.Errorf("fetch page %d of %s: %w", acc.Pages()+1, method, err)
		}

		state = StateMerging
		acc.Merge(page)
		pagesFetchedTotal.WithLabelValues(method).Inc()

		a.logger.Debug().
			Str("method", method).
			Int("page", acc.Pages()).
			Str("state", state.String()).
			Msg("Page merged")

		// Progress logging every 50 pages
		if acc.Pages()%50 == 0 {
			a.logger.Info().
				Str("method", method).
				Int("pages", acc.Pages()).
				Msg("Pagination progress")
		}

		cursor = NextCursor(page)
		if cursor == "" {
			break
		}
	}

	state = StateDone
	paginationsTotal.WithLabelValues("done").Inc()
	a.logger.Debug().
		Str("method", method).
		Int("pages", acc.Pages()).
		Str("state", state.String()).
		Dur("duration", time.Since(start)).
		Msg("Pagination complete")

	return acc.Result(), nil
}

// Accumulator merges pages: array fields are concatenated in page order,
// every other field keeps the latest page's value.
type Accumulator struct {
	lists map[string][]any
	last  map[string]any
	pages int
}

// NewAccumulator creates an empty accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{lists: make(map[string][]any)}
}

// Merge folds page into the accumulator.
func (a *Accumulator) Merge(page map[string]any) {
	for k, v := range page {
		if items, ok := v.([]any); ok {
			a.lists[k] = append(a.lists[k], items...)
		}
	}
	a.last = page
	a.pages++
}

// Pages returns the number of merged pages.
func (a *Accumulator) Pages() int {
	return a.pages
}

// Result returns the latest page with its list fields replaced by the
// accumulated lists.
func (a *Accumulator) Result() map[string]any {
	out := make(map[string]any, len(a.last)+len(a.lists))
	for k, v := range a.last {
		out[k] = v
	}
	for k, items := range a.lists {
		out[k] = items
	}
	return out
}
