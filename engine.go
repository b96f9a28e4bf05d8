// Package tvstream is a streaming market-data client: quotes, candle
// series, and Pine-script indicator studies delivered over one persistent
// framed connection, with a subscription registry that survives
// reconnects and a condition parser for alerting on live data.
package tvstream

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/saidsurucu/tvstream/internal/condition"
	"github.com/saidsurucu/tvstream/internal/config"
	"github.com/saidsurucu/tvstream/internal/dispatch"
	"github.com/saidsurucu/tvstream/internal/errs"
	"github.com/saidsurucu/tvstream/internal/logger"
	"github.com/saidsurucu/tvstream/internal/metrics"
	"github.com/saidsurucu/tvstream/internal/model"
	"github.com/saidsurucu/tvstream/internal/registry"
	"github.com/saidsurucu/tvstream/internal/search"
	"github.com/saidsurucu/tvstream/internal/session"
	"github.com/saidsurucu/tvstream/internal/store"
	"github.com/saidsurucu/tvstream/internal/study"
)

// Credentials is the narrow seam onto an embedder's own auth flow: the
// engine never logs a user in, it only asks for a bearer token (and,
// optionally, a session cookie unlocking custom/private indicators) at
// bootstrap time.
type Credentials interface {
	AuthToken() string
	SessionCookie() string
}

type anonCreds struct{}

func (anonCreds) AuthToken() string    { return "" }
func (anonCreds) SessionCookie() string { return "" }

// Engine is the top-level client. One Engine owns one connection, one
// subscription registry, and one local data store.
type Engine struct {
	cfg     *config.Config
	creds   Credentials
	reg     *registry.Registry
	st      *store.Store
	sess    *session.Session
	binder  *study.Binder
	search  search.Client
	metrics *metrics.Metrics
	health  *metrics.HealthStatus
	log     *slog.Logger
}

// New builds an Engine from cfg. creds may be nil for an anonymous
// session (standard indicators only, no custom/private ones). searchClient
// may be nil; symbol search then returns NotAvailable for every non-empty
// query.
func New(cfg *config.Config, creds Credentials, searchClient search.Client, log *slog.Logger) (*Engine, error) {
	if cfg == nil {
		return nil, errs.New(errs.InvalidArgument, "config is required")
	}
	if creds == nil {
		creds = anonCreds{}
	}
	if log == nil {
		log = logger.Init("tvstream", logLevel(cfg.LogLevel))
	}

	reg := registry.New()
	st := store.New(log)
	m := metrics.NewMetrics()
	health := metrics.NewHealthStatus()
	disp := dispatch.New(reg, st, log, m)

	cache, err := newDescriptorCache(cfg)
	if err != nil {
		return nil, err
	}
	fetcher := study.NewHTTPDescriptorFetcher(cfg.Endpoint, cfg.Origin, creds.SessionCookie(), cfg.MetadataRatePerSecond, cfg.MetadataBurst)
	binder := study.NewBinder(fetcher, cache, m)

	sess := session.New(cfg, creds, reg, st, disp, m, health, log)

	if cfg.MetricsAddr != "" {
		metrics.NewServer(cfg.MetricsAddr, m.Registry, health).Start()
	}

	return &Engine{
		cfg:     cfg,
		creds:   creds,
		reg:     reg,
		st:      st,
		sess:    sess,
		binder:  binder,
		search:  searchClient,
		metrics: m,
		health:  health,
		log:     log,
	}, nil
}

func logLevel(name string) slog.Level {
	switch name {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func newDescriptorCache(cfg *config.Config) (study.DescriptorCache, error) {
	switch cfg.DescriptorCacheBackend {
	case "", "memory":
		capacity := cfg.DescriptorCacheCapacity
		if capacity <= 0 {
			capacity = 100
		}
		return study.NewLRUDescriptorCache(capacity), nil
	case "sqlite":
		return study.NewSQLiteDescriptorCache(cfg.SQLitePath, cfg.DescriptorCacheCapacity)
	case "redis":
		return study.NewRedisDescriptorCache(cfg.RedisAddr, cfg.RedisPassword, 0)
	default:
		return nil, errs.Newf(errs.InvalidArgument, "unknown descriptor cache backend %q", cfg.DescriptorCacheBackend)
	}
}

// Connect opens the transport and blocks until the bootstrap handshake
// completes or timeout elapses.
func (e *Engine) Connect(ctx context.Context, timeout time.Duration) error {
	return e.sess.Connect(ctx, timeout)
}

// Disconnect tears down the transport and stops reconnecting.
func (e *Engine) Disconnect() {
	e.sess.Disconnect()
}

// IsConnected reports whether bootstrap has completed on the current
// connection.
func (e *Engine) IsConnected() bool {
	return e.sess.IsConnected()
}

// Ping reports time elapsed since the last heartbeat echo.
func (e *Engine) Ping() (time.Duration, error) {
	return e.sess.Ping()
}

// SubscribeQuote adds symbol to the live quote set.
func (e *Engine) SubscribeQuote(symbol string) {
	e.sess.SubscribeQuote(symbol)
}

// UnsubscribeQuote removes symbol from the live quote set.
func (e *Engine) UnsubscribeQuote(symbol string) {
	e.sess.UnsubscribeQuote(symbol)
}

// SubscribeChart subscribes to OHLCV candles for (symbol, interval).
// exchange may be empty, in which case the symbol is resolved bare.
func (e *Engine) SubscribeChart(symbol, interval, exchange string) error {
	_, err := e.sess.SubscribeChart(symbol, interval, exchange)
	return err
}

// UnsubscribeChart drops a candle subscription.
func (e *Engine) UnsubscribeChart(symbol, interval string) {
	e.sess.UnsubscribeChart(symbol, interval)
}

// AddStudy resolves indicatorName to a descriptor (fetching and caching it
// if necessary) and subscribes to its computed values for (symbol,
// interval). A prior SubscribeChart on the same (symbol, interval) is
// required.
func (e *Engine) AddStudy(ctx context.Context, symbol, interval, indicatorName string, overrides map[string]any) error {
	if !e.reg.HasCandle(symbol, interval) {
		return registry.ErrStudyNeedsCandle(symbol, interval)
	}
	authFingerprint := e.creds.AuthToken()
	resolved, descriptor, err := e.binder.Resolve(ctx, indicatorName, e.creds.SessionCookie(), authFingerprint)
	if err != nil {
		return err
	}
	key := registry.StudyKey{Symbol: symbol, Interval: interval, DisplayName: resolved.DisplayName}
	studyID, err := e.sess.CreateStudy(key, resolved.WireID, descriptor, overrides)
	if err != nil {
		return err
	}
	e.st.EnsureStudy(key, resolved.WireID, studyID)
	return nil
}

// RemoveStudy drops a study subscription.
func (e *Engine) RemoveStudy(symbol, interval, displayName string) {
	e.sess.RemoveStudy(registry.StudyKey{Symbol: symbol, Interval: interval, DisplayName: displayName})
}

// GetQuote returns the latest known quote for symbol, if one exists.
func (e *Engine) GetQuote(symbol string) (model.Quote, bool) {
	return e.st.GetQuote(symbol)
}

// WaitForQuote blocks until symbol's first quote update arrives, ctx is
// canceled, or timeout elapses.
func (e *Engine) WaitForQuote(ctx context.Context, symbol string, timeout time.Duration) (model.Quote, bool) {
	return e.st.WaitForQuote(ctx, symbol, timeout)
}

// GetCandle returns the latest bar for (symbol, interval).
func (e *Engine) GetCandle(symbol, interval string) (model.Candle, bool) {
	return e.st.GetCandle(registry.CandleKey{Symbol: symbol, Interval: interval})
}

// GetCandles returns up to count bars for (symbol, interval), oldest
// first; count <= 0 returns the full buffered history.
func (e *Engine) GetCandles(symbol, interval string, count int) []model.Candle {
	return e.st.GetCandles(registry.CandleKey{Symbol: symbol, Interval: interval}, count)
}

// WaitForCandle blocks until the first bar for (symbol, interval) arrives.
func (e *Engine) WaitForCandle(ctx context.Context, symbol, interval string, timeout time.Duration) (model.Candle, bool) {
	return e.st.WaitForCandle(ctx, registry.CandleKey{Symbol: symbol, Interval: interval}, timeout)
}

// GetStudy returns the latest computed values for a study binding.
func (e *Engine) GetStudy(symbol, interval, displayName string) (model.Study, bool) {
	return e.st.GetStudy(registry.StudyKey{Symbol: symbol, Interval: interval, DisplayName: displayName})
}

// GetStudies returns every study currently bound to (symbol, interval),
// keyed by display name.
func (e *Engine) GetStudies(symbol, interval string) map[string]model.Study {
	return e.st.GetStudies(symbol, interval)
}

// WaitForStudy blocks until a study binding first reports ready.
func (e *Engine) WaitForStudy(ctx context.Context, symbol, interval, displayName string, timeout time.Duration) (model.Study, bool) {
	return e.st.WaitForStudy(ctx, registry.StudyKey{Symbol: symbol, Interval: interval, DisplayName: displayName}, timeout)
}

// OnQuote registers cb to run on every update to symbol's quote.
func (e *Engine) OnQuote(symbol string, cb func(model.Quote)) {
	e.st.OnQuote(symbol, cb)
}

// OnAnyQuote registers cb to run on every quote update, for any symbol.
func (e *Engine) OnAnyQuote(cb func(model.Quote)) {
	e.st.OnAnyQuote(cb)
}

// OnCandle registers cb to run on every new or revised bar for (symbol,
// interval).
func (e *Engine) OnCandle(symbol, interval string, cb func(registry.CandleKey, model.Candle)) {
	e.st.OnCandle(registry.CandleKey{Symbol: symbol, Interval: interval}, cb)
}

// OnAnyCandle registers cb to run on every bar, for any series.
func (e *Engine) OnAnyCandle(cb func(registry.CandleKey, model.Candle)) {
	e.st.OnAnyCandle(cb)
}

// OnStudy registers cb to run on every update to a study binding.
func (e *Engine) OnStudy(symbol, interval, displayName string, cb func(registry.StudyKey, model.Study)) {
	e.st.OnStudy(registry.StudyKey{Symbol: symbol, Interval: interval, DisplayName: displayName}, cb)
}

// OnAnyStudy registers cb to run on every study update, for any binding.
func (e *Engine) OnAnyStudy(cb func(registry.StudyKey, model.Study)) {
	e.st.OnAnyStudy(cb)
}

// SearchSymbols delegates to the configured search client. Returns
// NotAvailable if none was configured, InvalidArgument for an empty query.
func (e *Engine) SearchSymbols(ctx context.Context, query string) ([]search.Result, error) {
	if strings.TrimSpace(query) == "" {
		return nil, errs.New(errs.InvalidArgument, "search query is empty")
	}
	if e.search == nil {
		return nil, errs.New(errs.NotAvailable, "no symbol search client configured")
	}
	return e.search.Search(ctx, query)
}

// NewConditionParser parses a condition expression for later evaluation.
// The engine itself stores only the latest quote/candle/study snapshot, not
// a bar-by-bar indicator history, so building the data map and History a
// crossover or lookback condition needs is left to the caller — QuoteSnapshot
// and CandleHistory below supply the two pieces the store can answer.
func NewConditionParser(conditionStr string) (*condition.Parser, error) {
	return condition.Parse(conditionStr)
}

// QuoteSnapshot returns the current-value map a condition's comparison and
// lookback nodes read non-indicator fields from (last, volume, and so on);
// crossover nodes read only the History.
func (e *Engine) QuoteSnapshot(symbol string) map[string]float64 {
	data := map[string]float64{}
	if q, ok := e.st.GetQuote(symbol); ok {
		data["last"] = q.Last
		data["volume"] = q.Volume
		data["change_percent"] = q.ChangePercent
		data["open"] = q.Open
		data["high"] = q.High
		data["low"] = q.Low
		data["bid"] = q.Bid
		data["ask"] = q.Ask
		data["market_cap"] = q.MarketCap
	}
	return data
}

// CandleHistory returns up to count buffered bars for (symbol, interval) as
// a condition.History, oldest first, for lookback/crossover evaluation
// against raw OHLCV fields.
func (e *Engine) CandleHistory(symbol, interval string, count int) condition.History {
	candles := e.st.GetCandles(registry.CandleKey{Symbol: symbol, Interval: interval}, count)
	history := make(condition.History, len(candles))
	for i, c := range candles {
		history[i] = condition.Bar{Open: c.Open, High: c.High, Low: c.Low, Close: c.Close, Volume: c.Volume}
	}
	return history
}
