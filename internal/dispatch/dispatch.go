// Package dispatch routes decoded inbound wire messages to store and
// registry mutations. Unknown series/study tags are logged and dropped —
// never guessed at by falling back to the first known mapping.
package dispatch

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/saidsurucu/tvstream/internal/logger"
	"github.com/saidsurucu/tvstream/internal/metrics"
	"github.com/saidsurucu/tvstream/internal/model"
	"github.com/saidsurucu/tvstream/internal/registry"
	"github.com/saidsurucu/tvstream/internal/store"
	"github.com/saidsurucu/tvstream/internal/study"
	"github.com/saidsurucu/tvstream/internal/wire"
)

// Dispatcher is constructed once per engine and fed every decoded Message.
type Dispatcher struct {
	reg     *registry.Registry
	st      *store.Store
	log     *slog.Logger
	metrics *metrics.Metrics
}

// New builds a Dispatcher. log and m may be nil (slog.Default() and no
// metrics, respectively).
func New(reg *registry.Registry, st *store.Store, log *slog.Logger, m *metrics.Metrics) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{reg: reg, st: st, log: log, metrics: m}
}

// Handle routes one decoded message to its handler per method. ctx carries
// the current connection's trace ID (set by the session on each reconnect)
// so a server error or an unknown-tag drop can be correlated in logs with
// the connection attempt that produced it.
func (d *Dispatcher) Handle(ctx context.Context, msg wire.Message) {
	start := time.Now()
	defer func() {
		if d.metrics != nil {
			d.metrics.DispatchDur.Observe(time.Since(start).Seconds())
		}
	}()

	switch msg.Method {
	case "qsd":
		d.handleQSD(msg)
	case "quote_completed":
		d.handleQuoteCompleted(msg)
	case "symbol_resolved":
		d.log.Info("symbol resolved", "params", msg.Params)
	case "timescale_update", "du":
		d.handleTimescaleUpdate(ctx, msg)
	case "series_completed":
		d.log.Info("series completed", "params", msg.Params)
	case "series_error", "symbol_error", "critical_error":
		d.log.Warn("server reported error", append([]any{"method", msg.Method, "params", msg.Params}, logger.LogWithTrace(ctx)...)...)
	case "study_loading":
		d.handleStudyLoading(ctx, msg)
	case "study_completed":
		d.handleStudyCompleted(ctx, msg)
	case "study_error":
		d.log.Warn("study error", append([]any{"params", msg.Params}, logger.LogWithTrace(ctx)...)...)
	default:
		d.log.Debug("unhandled inbound method", "method", msg.Method)
	}
}

func (d *Dispatcher) unknownTag(method string) {
	if d.metrics != nil {
		d.metrics.UnknownTagsTotal.WithLabelValues(method).Inc()
	}
}

// bareSymbol strips an "EXCHANGE:" prefix, e.g. "BIST:THYAO" -> "THYAO".
func bareSymbol(full string) string {
	if idx := strings.LastIndex(full, ":"); idx >= 0 {
		return full[idx+1:]
	}
	return full
}

func asString(v interface{}) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

func asMap(v interface{}) (map[string]interface{}, bool) {
	m, ok := v.(map[string]interface{})
	return m, ok
}

func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	}
	return 0, false
}

// quoteFieldSetters maps the wire quote-session field names to a mutator
// on model.Quote. Fields absent from an update are left untouched.
var quoteFieldSetters = map[string]func(*model.Quote, interface{}){
	"lp":                           func(q *model.Quote, v interface{}) { setFloat(&q.Last, v) },
	"ch":                           func(q *model.Quote, v interface{}) { setFloat(&q.Change, v) },
	"chp":                          func(q *model.Quote, v interface{}) { setFloat(&q.ChangePercent, v) },
	"bid":                          func(q *model.Quote, v interface{}) { setFloat(&q.Bid, v) },
	"ask":                          func(q *model.Quote, v interface{}) { setFloat(&q.Ask, v) },
	"bid_size":                     func(q *model.Quote, v interface{}) { setFloat(&q.BidSize, v) },
	"ask_size":                     func(q *model.Quote, v interface{}) { setFloat(&q.AskSize, v) },
	"volume":                       func(q *model.Quote, v interface{}) { setFloat(&q.Volume, v) },
	"open_price":                   func(q *model.Quote, v interface{}) { setFloat(&q.Open, v) },
	"high_price":                   func(q *model.Quote, v interface{}) { setFloat(&q.High, v) },
	"low_price":                    func(q *model.Quote, v interface{}) { setFloat(&q.Low, v) },
	"prev_close_price":             func(q *model.Quote, v interface{}) { setFloat(&q.PrevClose, v) },
	"market_cap_basic":             func(q *model.Quote, v interface{}) { setFloat(&q.MarketCap, v) },
	"price_earnings_ttm":           func(q *model.Quote, v interface{}) { setFloat(&q.PriceEarnings, v) },
	"earnings_per_share_basic_ttm": func(q *model.Quote, v interface{}) { setFloat(&q.EPS, v) },
	"dividends_yield":              func(q *model.Quote, v interface{}) { setFloat(&q.DividendsYield, v) },
	"beta_1_year":                  func(q *model.Quote, v interface{}) { setFloat(&q.Beta1Year, v) },
	"high_52_week":                 func(q *model.Quote, v interface{}) { setFloat(&q.High52Week, v) },
	"low_52_week":                  func(q *model.Quote, v interface{}) { setFloat(&q.Low52Week, v) },
	"description":                  func(q *model.Quote, v interface{}) { setString(&q.Description, v) },
	"exchange":                     func(q *model.Quote, v interface{}) { setString(&q.Exchange, v) },
	"currency_code":                func(q *model.Quote, v interface{}) { setString(&q.Currency, v) },
	"lp_time": func(q *model.Quote, v interface{}) {
		if n, ok := asFloat(v); ok {
			q.ServerTime = time.Unix(int64(n), 0).UTC()
		}
	},
}

func setFloat(dst *float64, v interface{}) {
	if n, ok := asFloat(v); ok {
		*dst = n
	}
}

func setString(dst *string, v interface{}) {
	if s, ok := asString(v); ok {
		*dst = s
	}
}

func (d *Dispatcher) handleQSD(msg wire.Message) {
	if len(msg.Params) < 2 {
		return
	}
	payload, ok := asMap(msg.Params[1])
	if !ok {
		return
	}
	full, _ := asString(payload["n"])
	values, ok := asMap(payload["v"])
	if !ok {
		return
	}
	symbol := bareSymbol(full)

	d.st.UpdateQuote(symbol, func(q *model.Quote) {
		for field, v := range values {
			if setter, ok := quoteFieldSetters[field]; ok {
				setter(q, v)
			}
		}
	})
}

func (d *Dispatcher) handleQuoteCompleted(msg wire.Message) {
	if len(msg.Params) < 2 {
		return
	}
	full, ok := asString(msg.Params[1])
	if !ok {
		return
	}
	d.st.SignalQuoteReady(bareSymbol(full))
}

func (d *Dispatcher) handleTimescaleUpdate(ctx context.Context, msg wire.Message) {
	if len(msg.Params) < 2 {
		return
	}
	payload, ok := asMap(msg.Params[1])
	if !ok {
		return
	}
	for tag, raw := range payload {
		block, ok := asMap(raw)
		if !ok {
			continue
		}
		points, ok := block["s"].([]interface{})
		if !ok {
			continue
		}

		if key, ok := d.reg.StudyByID(tag); ok {
			entry, _ := d.reg.Study(key)
			d.applyStudyPoints(key, entry, points)
			continue
		}
		if key, ok := d.reg.CandleByTag(tag); ok {
			d.applyCandlePoints(key, points)
			continue
		}

		d.log.Debug("dropping frame for unknown tag", append([]any{"tag", tag, "method", msg.Method}, logger.LogWithTrace(ctx)...)...)
		d.unknownTag(msg.Method)
	}
}

func (d *Dispatcher) applyCandlePoints(key registry.CandleKey, points []interface{}) {
	for _, p := range points {
		point, ok := asMap(p)
		if !ok {
			continue
		}
		v, ok := point["v"].([]interface{})
		if !ok || len(v) < 6 {
			continue
		}
		ts, _ := asFloat(v[0])
		o, _ := asFloat(v[1])
		h, _ := asFloat(v[2])
		l, _ := asFloat(v[3])
		c, _ := asFloat(v[4])
		vol, _ := asFloat(v[5])
		d.st.AppendOrUpdateCandle(key, model.Candle{
			Time:   time.Unix(int64(ts), 0).UTC(),
			Open:   o,
			High:   h,
			Low:    l,
			Close:  c,
			Volume: vol,
		})
	}
}

func (d *Dispatcher) applyStudyPoints(key registry.StudyKey, entry registry.StudyEntry, points []interface{}) {
	if len(points) == 0 {
		return
	}
	last, ok := asMap(points[len(points)-1])
	if !ok {
		return
	}
	raw, ok := last["v"].([]interface{})
	if !ok {
		return
	}
	values := make([]float64, 0, len(raw))
	for _, r := range raw {
		f, _ := asFloat(r)
		values = append(values, f)
	}
	named := study.ParseFrame(entry.WireID, values)
	d.st.UpdateStudy(key, named)
}

func (d *Dispatcher) handleStudyLoading(ctx context.Context, msg wire.Message) {
	key, ok := d.studyKeyFromTag(ctx, msg, "study_loading")
	if !ok {
		return
	}
	d.st.SetStudyLoading(key)
}

func (d *Dispatcher) handleStudyCompleted(ctx context.Context, msg wire.Message) {
	key, ok := d.studyKeyFromTag(ctx, msg, "study_completed")
	if !ok {
		return
	}
	d.st.MarkStudyReady(key)
}

func (d *Dispatcher) studyKeyFromTag(ctx context.Context, msg wire.Message, method string) (registry.StudyKey, bool) {
	if len(msg.Params) < 2 {
		return registry.StudyKey{}, false
	}
	tag, ok := asString(msg.Params[1])
	if !ok {
		return registry.StudyKey{}, false
	}
	key, ok := d.reg.StudyByID(tag)
	if !ok {
		d.log.Debug("dropping frame for unknown study tag", append([]any{"tag", tag, "method", method}, logger.LogWithTrace(ctx)...)...)
		d.unknownTag(method)
		return registry.StudyKey{}, false
	}
	return key, true
}
