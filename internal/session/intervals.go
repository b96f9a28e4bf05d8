package session

import "github.com/saidsurucu/tvstream/internal/errs"

// intervalTokens maps a user-facing interval string to its wire token. Any
// input outside this closed set is rejected.
var intervalTokens = map[string]string{
	"1m":  "1",
	"5m":  "5",
	"15m": "15",
	"30m": "30",
	"1h":  "60",
	"2h":  "120",
	"4h":  "240",
	"1d":  "1D",
	"1wk": "1W",
	"1w":  "1W",
	"1mo": "1M",
	"1M":  "1M",
}

// IntervalToken validates and translates a user-facing interval string.
func IntervalToken(interval string) (string, error) {
	token, ok := intervalTokens[interval]
	if !ok {
		return "", errs.Newf(errs.InvalidArgument, "unsupported interval %q", interval)
	}
	return token, nil
}
