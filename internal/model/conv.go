// Package model holds the plain data records shared across the streaming
// engine: quote snapshots, candle bars, and study values.
package model

// Itoa is a minimal int-to-string converter for hot-path tag generation
// (e.g. "ser_"+Itoa(n)). Avoids importing strconv on a path that runs once
// per subscribe call but is still simple enough not to warrant it.
func Itoa(n int) string {
	if n == 0 {
		return "0"
	}
	buf := [20]byte{}
	i := len(buf)
	neg := n < 0
	if neg {
		n = -n
	}
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
