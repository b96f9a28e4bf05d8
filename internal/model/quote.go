package model

import "time"

// Quote is the latest snapshot for one bare symbol. Fields mirror the
// quote-session field list the engine registers at bootstrap; any field the
// server hasn't sent yet is left at its zero value and Quote.Populated
// reports whether a first update has ever been applied.
type Quote struct {
	Symbol string

	Last            float64
	Change          float64
	ChangePercent   float64
	Bid             float64
	Ask             float64
	BidSize         float64
	AskSize         float64
	Volume          float64
	Open            float64
	High            float64
	Low             float64
	PrevClose       float64
	MarketCap       float64
	PriceEarnings   float64
	EPS             float64
	DividendsYield  float64
	Beta1Year       float64
	High52Week      float64
	Low52Week       float64

	Description string
	Exchange    string
	Currency    string

	ServerTime time.Time
	UpdatedAt  time.Time

	// populated set to true once the first qsd update lands for this
	// symbol; an absent quote is reported to callers as "not available"
	// rather than a zero-valued struct.
	populated bool
}

// Populated reports whether at least one server update has been applied.
func (q Quote) Populated() bool { return q.populated }

// MarkPopulated sets the populated flag; called by the store after
// applying an update's field set.
func (q *Quote) MarkPopulated() { q.populated = true }

// Candle is one OHLCV bar for a (symbol, interval) series.
type Candle struct {
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// Study is the latest computed state for one (symbol, interval,
// display-name) indicator binding.
type Study struct {
	DisplayName string
	WireID      string // e.g. "STD;RSI"
	StudyID     string // study tag from the registry, e.g. "st_1"
	Inputs      map[string]any

	Values map[string]float64 // friendly output name -> latest value
	Ready  bool
}

// Descriptor is an indicator's schema as returned by the metadata fetcher.
type Descriptor struct {
	WireID        string
	Version       string
	Inputs        []InputDef
	OutputMapping map[string]string // "plot_0" -> "value", "macd", ...
}

// InputDef describes one configurable parameter of an indicator.
type InputDef struct {
	Name    string
	Type    string // "integer", "float", "boolean", "string"
	Default any
	Min     *float64
	Max     *float64
	Options []string
}
