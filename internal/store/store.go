// Package store is the concurrent in-memory map from subscription identity
// to latest value: quotes by symbol, candle buffers by (symbol, interval),
// and study values by (symbol, interval, display-name). Writers are the
// dispatcher; readers are the public API and the condition engine.
package store

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/saidsurucu/tvstream/internal/model"
	"github.com/saidsurucu/tvstream/internal/registry"
)

// latch is a one-shot, re-armable readiness event: Wait blocks until Set is
// called (or the timeout elapses); Reset rearms it for the next cycle
// without disturbing callers already past their Wait.
type latch struct {
	mu sync.Mutex
	ch chan struct{}
}

func newLatch() *latch {
	return &latch{ch: make(chan struct{})}
}

func (l *latch) Set() {
	l.mu.Lock()
	defer l.mu.Unlock()
	select {
	case <-l.ch:
	default:
		close(l.ch)
	}
}

func (l *latch) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	select {
	case <-l.ch:
		l.ch = make(chan struct{})
	default:
	}
}

func (l *latch) Wait(timeout time.Duration) bool {
	l.mu.Lock()
	ch := l.ch
	l.mu.Unlock()

	if timeout <= 0 {
		select {
		case <-ch:
			return true
		default:
			return false
		}
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ch:
		return true
	case <-timer.C:
		return false
	}
}

// Store holds the three subscription tables behind a single mutex.
type Store struct {
	log *slog.Logger

	mu sync.Mutex

	quotes         map[string]*model.Quote
	quoteReady     map[string]*latch
	quoteCallbacks map[string][]func(model.Quote)
	anyQuote       []func(model.Quote)

	candles         map[registry.CandleKey][]model.Candle
	candleReady     map[registry.CandleKey]*latch
	candleCallbacks map[registry.CandleKey][]func(registry.CandleKey, model.Candle)
	anyCandle       []func(registry.CandleKey, model.Candle)

	studies         map[registry.StudyKey]*model.Study
	studyReady      map[registry.StudyKey]*latch
	studyCallbacks  map[registry.StudyKey][]func(registry.StudyKey, model.Study)
	anyStudy        []func(registry.StudyKey, model.Study)
}

// New creates an empty store. log receives callback-panic diagnostics; a
// nil logger falls back to slog.Default().
func New(log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		log:             log,
		quotes:          make(map[string]*model.Quote),
		quoteReady:      make(map[string]*latch),
		quoteCallbacks:  make(map[string][]func(model.Quote)),
		candles:         make(map[registry.CandleKey][]model.Candle),
		candleReady:     make(map[registry.CandleKey]*latch),
		candleCallbacks: make(map[registry.CandleKey][]func(registry.CandleKey, model.Candle)),
		studies:         make(map[registry.StudyKey]*model.Study),
		studyReady:      make(map[registry.StudyKey]*latch),
		studyCallbacks:  make(map[registry.StudyKey][]func(registry.StudyKey, model.Study)),
	}
}

func (s *Store) invoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("recovered panic in store callback", "panic", r)
		}
	}()
	fn()
}

// ── Quotes ──

// EnsureQuote allocates the record and readiness latch for symbol if absent.
// Called on subscribe, before any data has arrived.
func (s *Store) EnsureQuote(symbol string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.quotes[symbol]; !ok {
		s.quotes[symbol] = &model.Quote{Symbol: symbol}
		s.quoteReady[symbol] = newLatch()
	}
}

// DropQuote removes the cached record, callbacks, and readiness latch.
func (s *Store) DropQuote(symbol string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.quotes, symbol)
	delete(s.quoteReady, symbol)
	delete(s.quoteCallbacks, symbol)
}

// UpdateQuote applies mutate to the symbol's record (creating it if the
// dispatcher saw an update before a matching EnsureQuote — which can happen
// right after a bootstrap replay), fires callbacks, and sets readiness.
func (s *Store) UpdateQuote(symbol string, mutate func(*model.Quote)) {
	s.mu.Lock()
	q, ok := s.quotes[symbol]
	if !ok {
		q = &model.Quote{Symbol: symbol}
		s.quotes[symbol] = q
	}
	mutate(q)
	q.MarkPopulated()
	q.UpdatedAt = time.Now()
	snapshot := *q

	ready, ok := s.quoteReady[symbol]
	if !ok {
		ready = newLatch()
		s.quoteReady[symbol] = ready
	}

	perSymbol := append([]func(model.Quote){}, s.quoteCallbacks[symbol]...)
	any := append([]func(model.Quote){}, s.anyQuote...)
	s.mu.Unlock()

	ready.Set()

	for _, cb := range perSymbol {
		cb := cb
		s.invoke(func() { cb(snapshot) })
	}
	for _, cb := range any {
		cb := cb
		s.invoke(func() { cb(snapshot) })
	}
}

// GetQuote returns a snapshot copy, or ok=false if no populated record
// exists yet.
func (s *Store) GetQuote(symbol string) (model.Quote, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.quotes[symbol]
	if !ok || !q.Populated() {
		return model.Quote{}, false
	}
	return *q, true
}

// WaitForQuote blocks until a populated quote exists for symbol or timeout
// elapses. Returns the snapshot and whether it arrived in time.
func (s *Store) WaitForQuote(ctx context.Context, symbol string, timeout time.Duration) (model.Quote, bool) {
	s.mu.Lock()
	if q, ok := s.quotes[symbol]; ok && q.Populated() {
		snap := *q
		s.mu.Unlock()
		return snap, true
	}
	ready, ok := s.quoteReady[symbol]
	if !ok {
		ready = newLatch()
		s.quoteReady[symbol] = ready
	}
	s.mu.Unlock()

	if !waitWithContext(ctx, ready, timeout) {
		return model.Quote{}, false
	}
	return s.GetQuote(symbol)
}

// SignalQuoteReady sets symbol's readiness latch, creating an empty,
// unpopulated record if none exists and leaving an existing record's values
// alone — used for quote_completed acks that can arrive with no qsd values
// attached (e.g. a symbol the server has nothing to report for yet).
func (s *Store) SignalQuoteReady(symbol string) {
	s.mu.Lock()
	if _, ok := s.quotes[symbol]; !ok {
		s.quotes[symbol] = &model.Quote{Symbol: symbol}
	}
	ready, ok := s.quoteReady[symbol]
	if !ok {
		ready = newLatch()
		s.quoteReady[symbol] = ready
	}
	s.mu.Unlock()
	ready.Set()
}

// OnQuote registers a per-symbol callback.
func (s *Store) OnQuote(symbol string, cb func(model.Quote)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quoteCallbacks[symbol] = append(s.quoteCallbacks[symbol], cb)
}

// OnAnyQuote registers a global callback fired for every quote update.
func (s *Store) OnAnyQuote(cb func(model.Quote)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.anyQuote = append(s.anyQuote, cb)
}

// ── Candles ──

// EnsureCandle allocates the buffer and readiness latch for key if absent.
func (s *Store) EnsureCandle(key registry.CandleKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.candles[key]; !ok {
		s.candles[key] = nil
		s.candleReady[key] = newLatch()
	}
}

// DropCandle removes the buffer, callbacks, and readiness latch.
func (s *Store) DropCandle(key registry.CandleKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.candles, key)
	delete(s.candleReady, key)
	delete(s.candleCallbacks, key)
}

// AppendOrUpdateCandle merges a bar into the buffer: if its timestamp
// matches the tail, the tail is rewritten in place (intra-bar refresh);
// otherwise it's appended. Fires callbacks and sets readiness.
func (s *Store) AppendOrUpdateCandle(key registry.CandleKey, bar model.Candle) {
	s.mu.Lock()
	buf := s.candles[key]
	if n := len(buf); n > 0 && buf[n-1].Time.Equal(bar.Time) {
		buf[n-1] = bar
	} else {
		buf = append(buf, bar)
	}
	s.candles[key] = buf

	ready, ok := s.candleReady[key]
	if !ok {
		ready = newLatch()
		s.candleReady[key] = ready
	}

	perKey := append([]func(registry.CandleKey, model.Candle){}, s.candleCallbacks[key]...)
	any := append([]func(registry.CandleKey, model.Candle){}, s.anyCandle...)
	s.mu.Unlock()

	ready.Set()

	for _, cb := range perKey {
		cb := cb
		s.invoke(func() { cb(key, bar) })
	}
	for _, cb := range any {
		cb := cb
		s.invoke(func() { cb(key, bar) })
	}
}

// GetCandle returns the latest bar, or ok=false if the buffer is empty.
func (s *Store) GetCandle(key registry.CandleKey) (model.Candle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf := s.candles[key]
	if len(buf) == 0 {
		return model.Candle{}, false
	}
	return buf[len(buf)-1], true
}

// GetCandles returns a copy of the last count bars, oldest first.
func (s *Store) GetCandles(key registry.CandleKey, count int) []model.Candle {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf := s.candles[key]
	if count <= 0 || count > len(buf) {
		count = len(buf)
	}
	out := make([]model.Candle, count)
	copy(out, buf[len(buf)-count:])
	return out
}

// WaitForCandle blocks until at least one bar exists for key or timeout
// elapses.
func (s *Store) WaitForCandle(ctx context.Context, key registry.CandleKey, timeout time.Duration) (model.Candle, bool) {
	s.mu.Lock()
	if buf := s.candles[key]; len(buf) > 0 {
		bar := buf[len(buf)-1]
		s.mu.Unlock()
		return bar, true
	}
	ready, ok := s.candleReady[key]
	if !ok {
		ready = newLatch()
		s.candleReady[key] = ready
	}
	s.mu.Unlock()

	if !waitWithContext(ctx, ready, timeout) {
		return model.Candle{}, false
	}
	return s.GetCandle(key)
}

// OnCandle registers a per-(symbol,interval) callback.
func (s *Store) OnCandle(key registry.CandleKey, cb func(registry.CandleKey, model.Candle)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.candleCallbacks[key] = append(s.candleCallbacks[key], cb)
}

// OnAnyCandle registers a global callback fired for every candle update.
func (s *Store) OnAnyCandle(cb func(registry.CandleKey, model.Candle)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.anyCandle = append(s.anyCandle, cb)
}

// ── Studies ──

// EnsureStudy allocates the record and readiness latch for key if absent.
func (s *Store) EnsureStudy(key registry.StudyKey, wireID, studyID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.studies[key]; !ok {
		s.studies[key] = &model.Study{
			DisplayName: key.DisplayName,
			WireID:      wireID,
			StudyID:     studyID,
			Values:      make(map[string]float64),
		}
		s.studyReady[key] = newLatch()
	}
}

// DropStudy removes the record, callbacks, and readiness latch.
func (s *Store) DropStudy(key registry.StudyKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.studies, key)
	delete(s.studyReady, key)
	delete(s.studyCallbacks, key)
}

// SetStudyLoading marks key as not-yet-ready (study_loading).
func (s *Store) SetStudyLoading(key registry.StudyKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.studies[key]; ok {
		st.Ready = false
	}
	if ready, ok := s.studyReady[key]; ok {
		ready.Reset()
	}
}

// MarkStudyReady sets the ready flag without overwriting Values — used for
// study_completed acks that arrive independently of the data frame that
// actually carries the computed values.
func (s *Store) MarkStudyReady(key registry.StudyKey) {
	s.mu.Lock()
	st, ok := s.studies[key]
	if !ok {
		st = &model.Study{DisplayName: key.DisplayName}
		s.studies[key] = st
	}
	st.Ready = true
	ready, ok := s.studyReady[key]
	if !ok {
		ready = newLatch()
		s.studyReady[key] = ready
	}
	s.mu.Unlock()
	ready.Set()
}

// UpdateStudy overwrites the named-output map, marks the record ready, fires
// callbacks, and sets readiness (study_completed / data frames).
func (s *Store) UpdateStudy(key registry.StudyKey, values map[string]float64) {
	s.mu.Lock()
	st, ok := s.studies[key]
	if !ok {
		st = &model.Study{DisplayName: key.DisplayName}
		s.studies[key] = st
	}
	st.Values = values
	st.Ready = true
	snapshot := *st

	ready, ok := s.studyReady[key]
	if !ok {
		ready = newLatch()
		s.studyReady[key] = ready
	}

	perKey := append([]func(registry.StudyKey, model.Study){}, s.studyCallbacks[key]...)
	any := append([]func(registry.StudyKey, model.Study){}, s.anyStudy...)
	s.mu.Unlock()

	ready.Set()

	for _, cb := range perKey {
		cb := cb
		s.invoke(func() { cb(key, snapshot) })
	}
	for _, cb := range any {
		cb := cb
		s.invoke(func() { cb(key, snapshot) })
	}
}

// GetStudy returns the latest named-output map, or ok=false if absent.
func (s *Store) GetStudy(key registry.StudyKey) (model.Study, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.studies[key]
	if !ok {
		return model.Study{}, false
	}
	return *st, true
}

// GetStudies returns every study currently registered for (symbol, interval).
func (s *Store) GetStudies(symbol, interval string) map[string]model.Study {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]model.Study)
	for key, st := range s.studies {
		if key.Symbol == symbol && key.Interval == interval {
			out[key.DisplayName] = *st
		}
	}
	return out
}

// WaitForStudy blocks until key's study is ready or timeout elapses.
func (s *Store) WaitForStudy(ctx context.Context, key registry.StudyKey, timeout time.Duration) (model.Study, bool) {
	s.mu.Lock()
	if st, ok := s.studies[key]; ok && st.Ready {
		snap := *st
		s.mu.Unlock()
		return snap, true
	}
	ready, ok := s.studyReady[key]
	if !ok {
		ready = newLatch()
		s.studyReady[key] = ready
	}
	s.mu.Unlock()

	if !waitWithContext(ctx, ready, timeout) {
		return model.Study{}, false
	}
	st, ok := s.GetStudy(key)
	if !ok || !st.Ready {
		return model.Study{}, false
	}
	return st, true
}

// OnStudy registers a per-(symbol,interval,display-name) callback.
func (s *Store) OnStudy(key registry.StudyKey, cb func(registry.StudyKey, model.Study)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.studyCallbacks[key] = append(s.studyCallbacks[key], cb)
}

// OnAnyStudy registers a global callback fired for every study update.
func (s *Store) OnAnyStudy(cb func(registry.StudyKey, model.Study)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.anyStudy = append(s.anyStudy, cb)
}

// ── Disconnect handling ──

// WakeAll sets every outstanding readiness latch so in-flight waiters wake
// with whatever value is currently stored (or a timeout, if none ever
// arrived) instead of hanging past disconnect.
func (s *Store) WakeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.quoteReady {
		l.Set()
	}
	for _, l := range s.candleReady {
		l.Set()
	}
	for _, l := range s.studyReady {
		l.Set()
	}
}

func waitWithContext(ctx context.Context, l *latch, timeout time.Duration) bool {
	if ctx == nil {
		ctx = context.Background()
	}
	done := make(chan bool, 1)
	go func() { done <- l.Wait(timeout) }()
	select {
	case ok := <-done:
		return ok
	case <-ctx.Done():
		return false
	}
}
