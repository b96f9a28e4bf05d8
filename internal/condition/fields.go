package condition

import (
	"regexp"
	"strconv"
)

// QuoteFieldAliases maps a user-facing alias to the canonical data-map key
// it resolves to at evaluation time.
var QuoteFieldAliases = map[string]string{
	"price":          "last",
	"close":          "last",
	"vol":            "volume",
	"change":         "change_percent",
	"cap":            "market_cap",
	"last":           "last",
	"open":           "open",
	"high":           "high",
	"low":            "low",
	"volume":         "volume",
	"change_percent": "change_percent",
	"market_cap":     "market_cap",
	"bid":            "bid",
	"ask":            "ask",
}

// LookbackDays maps the closed set of lookback time-keywords to bar
// offsets.
var LookbackDays = map[string]int{
	"yesterday":   1,
	"1_day_ago":   1,
	"2_days_ago":  2,
	"3_days_ago":  3,
	"4_days_ago":  4,
	"5_days_ago":  5,
	"1_week_ago":  5,
}

type indicatorPattern struct {
	re            *regexp.Regexp
	name          string
	defaultPeriod int
}

// indicatorPatterns is the closed set of recognized indicator field-name
// shapes, in the same order as the table in §4.9 / §6. The first capture
// group, when present, is the period.
var indicatorPatterns = []indicatorPattern{
	{regexp.MustCompile(`^rsi(?:_(\d+))?$`), "rsi", 14},
	{regexp.MustCompile(`^sma_(\d+)$`), "sma", 14},
	{regexp.MustCompile(`^ema_(\d+)$`), "ema", 14},
	{regexp.MustCompile(`^bb_(?:upper|middle|lower)$`), "bb", 14},
	{regexp.MustCompile(`^macd$`), "macd", 0},
	{regexp.MustCompile(`^signal$`), "macd_signal", 0},
	{regexp.MustCompile(`^histogram$`), "macd_histogram", 0},
	{regexp.MustCompile(`^adx(?:_(\d+))?$`), "adx", 14},
	{regexp.MustCompile(`^stoch_[kd]$`), "stoch", 14},
	{regexp.MustCompile(`^atr(?:_(\d+))?$`), "atr", 14},
	{regexp.MustCompile(`^obv$`), "obv", 0},
	{regexp.MustCompile(`^vwap$`), "vwap", 0},
}

// offsetPattern matches "name[N]" operands.
var offsetPattern = regexp.MustCompile(`^(.+?)\[(\d+)\]$`)

// matchIndicator checks field against the indicator pattern table, returning
// the indicator family and resolved period (falling back to defaultPeriod,
// or 14 if that's also unset) when it matches.
func matchIndicator(field string) (name string, period int, ok bool) {
	for _, p := range indicatorPatterns {
		m := p.re.FindStringSubmatch(field)
		if m == nil {
			continue
		}
		period = p.defaultPeriod
		if len(m) > 1 && m[1] != "" {
			if n, err := strconv.Atoi(m[1]); err == nil {
				period = n
			}
		}
		if period == 0 {
			period = 14
		}
		return p.name, period, true
	}
	return "", 0, false
}

// resolveAlias resolves a quote field alias to its canonical name; fields
// not in the alias table (indicator names) pass through unchanged.
func resolveAlias(field string) string {
	if canon, ok := QuoteFieldAliases[field]; ok {
		return canon
	}
	return field
}
