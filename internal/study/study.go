// Package study binds a high-level indicator request (short name plus
// parameter overrides) to the wire-level create_study payload, using a
// descriptor fetched from an external metadata service, and parses
// incoming study update frames back into a friendly named-output map.
package study

import (
	"fmt"
	"strings"

	"github.com/saidsurucu/tvstream/internal/errs"
	"github.com/saidsurucu/tvstream/internal/model"
)

// StandardIndicators maps a closed set of short names to their wire ids.
// Grounded in original_source/borsapy/_providers/pine_facade.py's
// STANDARD_INDICATORS table.
var StandardIndicators = map[string]string{
	"RSI":          "STD;RSI",
	"MACD":         "STD;MACD",
	"BB":           "STD;BB",
	"BOLLINGER":    "STD;BB",
	"EMA":          "STD;EMA",
	"SMA":          "STD;SMA",
	"STOCHASTIC":   "STD;Stochastic",
	"STOCH":        "STD;Stochastic",
	"ATR":          "STD;ATR",
	"ADX":          "STD;ADX",
	"OBV":          "STD;OBV",
	"VWAP":         "STD;VWAP",
	"ICHIMOKU":     "STD;Ichimoku%Cloud",
	"SUPERTREND":   "STD;Supertrend",
	"PSAR":         "STD;Parabolic%SAR",
	"CCI":          "STD;CCI",
	"MFI":          "STD;MFI",
	"ROC":          "STD;ROC",
	"WILLIAMS":     "STD;Williams%25R",
	"CMF":          "STD;CMF",
	"VOLUME":       "STD;Volume",
}

// OutputMappings gives the plot_N -> friendly-name projection for standard
// indicators whose output shape is known ahead of time. Anything absent
// here falls back to a single "value" entry at evaluation time.
var OutputMappings = map[string]map[string]string{
	"STD;MACD": {"plot_0": "macd", "plot_1": "signal", "plot_2": "histogram"},
	"STD;BB":   {"plot_0": "middle", "plot_1": "upper", "plot_2": "lower"},
	"STD;Stochastic": {"plot_0": "k", "plot_1": "d"},
	"STD;ADX":  {"plot_0": "adx", "plot_1": "plus_di", "plot_2": "minus_di"},
	"STD;RSI":  {"plot_0": "value"},
	"STD;EMA":  {"plot_0": "value"},
	"STD;SMA":  {"plot_0": "value"},
	"STD;ATR":  {"plot_0": "value"},
	"STD;OBV":  {"plot_0": "value"},
	"STD;VWAP": {"plot_0": "value"},
	"STD;CCI":  {"plot_0": "value"},
	"STD;MFI":  {"plot_0": "value"},
	"STD;ROC":  {"plot_0": "value"},
}

// Resolved is the outcome of normalizing a user-supplied indicator string.
type Resolved struct {
	DisplayName string
	WireID      string
}

// Normalize maps a user-supplied indicator name to its wire id and a
// display name, per the normalization rule in the subscription registry
// component design: uppercase; known short name wins; an id already
// carrying ';' is accepted verbatim with the display name taken from the
// suffix; otherwise the standard prefix is prepended. Custom prefixes
// (USER;, PUB;) require a non-empty session cookie.
func Normalize(input, sessionCookie string) (Resolved, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return Resolved{}, errs.New(errs.InvalidArgument, "indicator name is empty")
	}
	upper := strings.ToUpper(trimmed)

	if wireID, ok := StandardIndicators[upper]; ok {
		return Resolved{DisplayName: upper, WireID: wireID}, nil
	}

	if strings.Contains(trimmed, ";") {
		parts := strings.SplitN(trimmed, ";", 2)
		prefix := strings.ToUpper(parts[0]) + ";"
		display := parts[1]
		if (prefix == "USER;" || prefix == "PUB;") && sessionCookie == "" {
			return Resolved{}, errs.New(errs.AuthRequired, "custom indicator requires an authenticated session")
		}
		return Resolved{DisplayName: display, WireID: trimmed}, nil
	}

	return Resolved{DisplayName: upper, WireID: "STD;" + trimmed}, nil
}

// BuildInputs assembles the create_study input record: pineId, pineVersion,
// then in_0, in_1, … in descriptor order, merging the descriptor's
// defaults with user overrides and inferring a wire type tag from the
// effective value.
func BuildInputs(d model.Descriptor, overrides map[string]any) map[string]any {
	out := map[string]any{
		"pineId":      d.WireID,
		"pineVersion": "last",
	}
	for i, in := range d.Inputs {
		value := in.Default
		if v, ok := overrides[in.Name]; ok {
			value = v
		}
		out[fmt.Sprintf("in_%d", i)] = map[string]any{
			"v": value,
			"f": true,
			"t": inferType(value),
		}
	}
	return out
}

func inferType(v any) string {
	switch v.(type) {
	case bool:
		return "boolean"
	case int, int32, int64:
		return "integer"
	case float32, float64:
		return "float"
	default:
		return "string"
	}
}

// ParseFrame projects a raw study update frame's latest value vector
// [timestamp, plot_0, plot_1, …] into a friendly named-output map using the
// descriptor's known output mapping, falling back to a single "value" key
// under the first non-timestamp element when no mapping is known.
func ParseFrame(wireID string, values []float64) map[string]float64 {
	out := make(map[string]float64)
	if len(values) < 2 {
		return out
	}
	plots := values[1:]

	mapping, ok := OutputMappings[wireID]
	if !ok {
		out["value"] = plots[0]
		return out
	}
	for i, v := range plots {
		key := fmt.Sprintf("plot_%d", i)
		if name, ok := mapping[key]; ok {
			out[name] = v
		}
	}
	if len(out) == 0 {
		out["value"] = plots[0]
	}
	return out
}
