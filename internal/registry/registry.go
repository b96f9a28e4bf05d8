// Package registry holds the authoritative set of desired subscriptions
// (quotes, candle series, studies) and the bidirectional maps between
// server-assigned tags and their logical identity. It holds no transport
// state: callers decide what wire messages a state change implies and send
// them through the session layer.
package registry

import (
	"sync"

	"github.com/saidsurucu/tvstream/internal/errs"
	"github.com/saidsurucu/tvstream/internal/model"
)

// CandleKey identifies a candle subscription.
type CandleKey struct {
	Symbol   string
	Interval string
}

// StudyKey identifies a study subscription.
type StudyKey struct {
	Symbol      string
	Interval    string
	DisplayName string
}

// CandleEntry is the registry's view of one candle subscription.
type CandleEntry struct {
	Exchange string
	Tag      string // "ser_N"
}

// StudyEntry is the registry's view of one study subscription.
type StudyEntry struct {
	WireID     string
	StudyID    string // "st_N"
	Descriptor model.Descriptor
	Inputs     map[string]any
}

// Registry is the single source of truth for what the engine wants
// subscribed. It is safe for concurrent use.
type Registry struct {
	mu sync.Mutex

	quotes map[string]bool // symbol -> present

	candles     map[CandleKey]CandleEntry
	tagToCandle map[string]CandleKey

	studies      map[StudyKey]StudyEntry
	studyIDToKey map[string]StudyKey

	nextSeries int
	nextStudy  int
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		quotes:       make(map[string]bool),
		candles:      make(map[CandleKey]CandleEntry),
		tagToCandle:  make(map[string]CandleKey),
		studies:      make(map[StudyKey]StudyEntry),
		studyIDToKey: make(map[string]StudyKey),
	}
}

// AddQuote adds symbol to the desired quote set. Returns false if it was
// already present (a no-op per the tie-break rule).
func (r *Registry) AddQuote(symbol string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.quotes[symbol] {
		return false
	}
	r.quotes[symbol] = true
	return true
}

// RemoveQuote drops symbol from the desired quote set. Returns false if it
// wasn't present.
func (r *Registry) RemoveQuote(symbol string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.quotes[symbol] {
		return false
	}
	delete(r.quotes, symbol)
	return true
}

// Quotes returns a snapshot of the desired quote symbols.
func (r *Registry) Quotes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.quotes))
	for s := range r.quotes {
		out = append(out, s)
	}
	return out
}

// HasQuote reports whether symbol is currently subscribed.
func (r *Registry) HasQuote(symbol string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.quotes[symbol]
}

// AddCandle registers a candle subscription, allocating a fresh "ser_N" tag
// if one doesn't already exist for this (symbol, interval). Returns the tag
// and whether this call actually created the entry.
func (r *Registry) AddCandle(symbol, interval, exchange string) (tag string, created bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := CandleKey{Symbol: symbol, Interval: interval}
	if entry, ok := r.candles[key]; ok {
		return entry.Tag, false
	}
	r.nextSeries++
	tag = "ser_" + model.Itoa(r.nextSeries)
	r.candles[key] = CandleEntry{Exchange: exchange, Tag: tag}
	r.tagToCandle[tag] = key
	return tag, true
}

// RemoveCandle drops a candle subscription and its tag mapping. Any studies
// still bound to this (symbol, interval) are left in place — callers must
// remove them first; RemoveCandle does not cascade.
func (r *Registry) RemoveCandle(symbol, interval string) (tag string, removed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := CandleKey{Symbol: symbol, Interval: interval}
	entry, ok := r.candles[key]
	if !ok {
		return "", false
	}
	delete(r.candles, key)
	delete(r.tagToCandle, entry.Tag)
	return entry.Tag, true
}

// HasCandle reports whether (symbol, interval) is currently subscribed —
// the prerequisite check for AddStudy.
func (r *Registry) HasCandle(symbol, interval string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.candles[CandleKey{Symbol: symbol, Interval: interval}]
	return ok
}

// CandleTag returns the series tag for (symbol, interval), if subscribed.
func (r *Registry) CandleTag(symbol, interval string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.candles[CandleKey{Symbol: symbol, Interval: interval}]
	return entry.Tag, ok
}

// CandleByTag resolves a series tag back to its logical (symbol, interval).
func (r *Registry) CandleByTag(tag string) (CandleKey, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key, ok := r.tagToCandle[tag]
	return key, ok
}

// Candles returns a snapshot of all candle subscriptions.
func (r *Registry) Candles() map[CandleKey]CandleEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[CandleKey]CandleEntry, len(r.candles))
	for k, v := range r.candles {
		out[k] = v
	}
	return out
}

// AddStudy registers a study. Returns the existing study id without mutation
// if (symbol, interval, displayName) is already present, per the tie-break
// rule in the add-study contract.
func (r *Registry) AddStudy(key StudyKey, wireID string, descriptor model.Descriptor, inputs map[string]any) (studyID string, created bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.studies[key]; ok {
		return existing.StudyID, false
	}
	r.nextStudy++
	studyID = "st_" + model.Itoa(r.nextStudy)
	r.studies[key] = StudyEntry{
		WireID:     wireID,
		StudyID:    studyID,
		Descriptor: descriptor,
		Inputs:     inputs,
	}
	r.studyIDToKey[studyID] = key
	return studyID, true
}

// RemoveStudy drops a study registration.
func (r *Registry) RemoveStudy(key StudyKey) (studyID string, removed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.studies[key]
	if !ok {
		return "", false
	}
	delete(r.studies, key)
	delete(r.studyIDToKey, entry.StudyID)
	return entry.StudyID, true
}

// StudyByID resolves a server-assigned study id back to its logical key.
func (r *Registry) StudyByID(studyID string) (StudyKey, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key, ok := r.studyIDToKey[studyID]
	return key, ok
}

// Study returns the registered entry for key, if any.
func (r *Registry) Study(key StudyKey) (StudyEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.studies[key]
	return entry, ok
}

// Studies returns a snapshot of all study registrations.
func (r *Registry) Studies() map[StudyKey]StudyEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[StudyKey]StudyEntry, len(r.studies))
	for k, v := range r.studies {
		out[k] = v
	}
	return out
}

// ErrStudyNeedsCandle is returned when AddStudy's precondition (an existing
// candle subscription on the same symbol/interval) isn't met. Callers are
// expected to check HasCandle themselves before calling AddStudy; this
// helper just names the error consistently as InvalidArgument, per the
// add-study contract.
func ErrStudyNeedsCandle(symbol, interval string) error {
	return errs.Newf(errs.InvalidArgument, "add study on %s/%s: requires an existing candle subscription", symbol, interval)
}
