package session

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// dial opens a websocket connection to endpoint with the given Origin
// header, the one header the transport needs per the external interface
// contract. Adapted from pkg/smartconnect/websocket.go's Connect, trimmed
// to what a single bidirectional framed connection needs — no binary
// subscription-mode handshake, since that's specific to the broker feed
// this pattern was taken from.
func dial(ctx context.Context, endpoint, origin string) (*websocket.Conn, error) {
	header := http.Header{}
	header.Set("Origin", origin)

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		return nil, err
	}
	return conn, nil
}
