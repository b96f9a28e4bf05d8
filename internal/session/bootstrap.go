package session

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"

	"github.com/saidsurucu/tvstream/internal/logger"
	"github.com/saidsurucu/tvstream/internal/model"
	"github.com/saidsurucu/tvstream/internal/registry"
	"github.com/saidsurucu/tvstream/internal/study"
	"github.com/saidsurucu/tvstream/internal/wire"
)

// quoteFields is the fixed 43-entry field list sent with every
// quote_set_fields call.
var quoteFields = []string{
	"lp", "ch", "chp", "bid", "ask", "bid_size", "ask_size", "volume",
	"open_price", "high_price", "low_price", "prev_close_price",
	"market_cap_basic", "price_earnings_ttm", "earnings_per_share_basic_ttm",
	"dividends_yield", "beta_1_year", "high_52_week", "low_52_week",
	"description", "type", "exchange", "currency_code", "lp_time",
	"current_session", "status", "original_name", "short_name",
	"open_time", "close_time", "timezone", "regular_market_price",
	"regular_market_change", "regular_market_change_percent",
	"pre_market_price", "pre_market_change", "after_hours_price",
	"after_hours_change", "pricescale", "minmov", "minmove2",
	"fractional", "value_unit_id",
}

// bootstrap runs the fixed four-message handshake and then replays the
// subscription registry in full, all over bypass writes — none of this
// traffic is queueable, since losing a bootstrap frame wedges the whole
// connection before it's even usable.
func (s *Session) bootstrap(conn *websocket.Conn) error {
	qs := newSessionID("qs")
	cs := newSessionID("cs")

	authToken := ""
	if s.auth != nil {
		authToken = s.auth.AuthToken()
	}

	steps := []wire.Message{
		wire.NewMessage("set_auth_token", authToken),
		wire.NewMessage("quote_create_session", qs),
		wire.NewMessage("quote_set_fields", quoteFieldsArgs(qs)...),
		wire.NewMessage("chart_create_session", cs, ""),
	}
	for _, m := range steps {
		if err := s.sendBypass(conn, m); err != nil {
			return err
		}
	}

	s.mu.Lock()
	s.quoteSessionID = qs
	s.chartSessionID = cs
	s.traceID = logger.GenerateTraceID(cs, time.Now())
	s.mu.Unlock()

	for _, symbol := range s.reg.Quotes() {
		if err := s.sendBypass(conn, wire.NewMessage("quote_add_symbols", qs, symbol)); err != nil {
			return err
		}
	}

	for key, entry := range s.reg.Candles() {
		symTag := entry.Tag + "_sym"
		cfg := symbolConfig(key.Symbol, entry.Exchange)
		if err := s.sendBypass(conn, wire.NewMessage("resolve_symbol", cs, symTag, cfg)); err != nil {
			return err
		}
		token, err := IntervalToken(key.Interval)
		if err != nil {
			return err
		}
		if err := s.sendBypass(conn, wire.NewMessage("create_series", cs, entry.Tag, "s1", symTag, token, 300)); err != nil {
			return err
		}
	}

	for _, entry := range s.reg.Studies() {
		inputs := study.BuildInputs(entry.Descriptor, entry.Inputs)
		if err := s.sendBypass(conn, wire.NewMessage("create_study", cs, entry.StudyID, "st1", "$prices", "Script@tv-scripting-101!", inputs)); err != nil {
			return err
		}
	}

	return nil
}

func quoteFieldsArgs(qs string) []interface{} {
	args := make([]interface{}, 0, len(quoteFields)+1)
	args = append(args, qs)
	for _, f := range quoteFields {
		args = append(args, f)
	}
	return args
}

// symbolConfig builds the resolve_symbol payload: a "="-prefixed JSON blob
// naming the fully-qualified symbol and the default splits adjustment.
func symbolConfig(symbol, exchange string) string {
	full := symbol
	if exchange != "" {
		full = exchange + ":" + symbol
	}
	body, _ := json.Marshal(map[string]string{
		"symbol":     full,
		"adjustment": "splits",
	})
	return "=" + string(body)
}

// SubscribeQuote registers symbol in the registry and, once connected,
// queues the quote_add_symbols frame that puts it on the wire.
func (s *Session) SubscribeQuote(symbol string) {
	if !s.reg.AddQuote(symbol) {
		return
	}
	s.mu.Lock()
	qs := s.quoteSessionID
	s.mu.Unlock()
	if qs == "" {
		return
	}
	s.send(wire.NewMessage("quote_add_symbols", qs, symbol))
}

// UnsubscribeQuote drops symbol from the registry and queues the matching
// quote_remove_symbols frame.
func (s *Session) UnsubscribeQuote(symbol string) {
	if !s.reg.RemoveQuote(symbol) {
		return
	}
	s.mu.Lock()
	qs := s.quoteSessionID
	s.mu.Unlock()
	if qs == "" {
		return
	}
	s.send(wire.NewMessage("quote_remove_symbols", qs, symbol))
}

// SubscribeChart registers a (symbol, interval) candle subscription and
// queues the resolve_symbol + create_series pair.
func (s *Session) SubscribeChart(symbol, interval, exchange string) (string, error) {
	token, err := IntervalToken(interval)
	if err != nil {
		return "", err
	}
	tag, created := s.reg.AddCandle(symbol, interval, exchange)
	if !created {
		return tag, nil
	}
	s.mu.Lock()
	cs := s.chartSessionID
	s.mu.Unlock()
	if cs == "" {
		return tag, nil
	}
	symTag := tag + "_sym"
	cfg := symbolConfig(symbol, exchange)
	s.send(wire.NewMessage("resolve_symbol", cs, symTag, cfg))
	s.send(wire.NewMessage("create_series", cs, tag, "s1", symTag, token, 300))
	return tag, nil
}

// UnsubscribeChart drops a candle subscription and queues remove_series.
func (s *Session) UnsubscribeChart(symbol, interval string) {
	tag, removed := s.reg.RemoveCandle(symbol, interval)
	if !removed {
		return
	}
	s.mu.Lock()
	cs := s.chartSessionID
	s.mu.Unlock()
	if cs == "" {
		return
	}
	s.send(wire.NewMessage("remove_series", cs, tag))
}

// CreateStudy registers a study binding and queues create_study. Callers
// resolve the descriptor (via the study binder) before calling this; the
// registry's tie-break rule means a repeat call for the same key is a
// silent no-op.
func (s *Session) CreateStudy(key registry.StudyKey, wireID string, descriptor model.Descriptor, inputs map[string]any) (string, error) {
	if !s.reg.HasCandle(key.Symbol, key.Interval) {
		return "", registry.ErrStudyNeedsCandle(key.Symbol, key.Interval)
	}
	studyID, created := s.reg.AddStudy(key, wireID, descriptor, inputs)
	if !created {
		return studyID, nil
	}
	s.mu.Lock()
	cs := s.chartSessionID
	s.mu.Unlock()
	if cs == "" {
		return studyID, nil
	}
	built := study.BuildInputs(descriptor, inputs)
	s.send(wire.NewMessage("create_study", cs, studyID, "st1", "$prices", "Script@tv-scripting-101!", built))
	return studyID, nil
}

// RemoveStudy drops a study binding and queues remove_study.
func (s *Session) RemoveStudy(key registry.StudyKey) {
	studyID, removed := s.reg.RemoveStudy(key)
	if !removed {
		return
	}
	s.mu.Lock()
	cs := s.chartSessionID
	s.mu.Unlock()
	if cs == "" {
		return
	}
	s.send(wire.NewMessage("remove_study", cs, studyID))
}
