package tvstream

import (
	"errors"
	"testing"
)

func TestErrorSentinelsMatchByKind(t *testing.T) {
	err := (&Error{Kind: AuthRequired, Cause: errors.New("no session cookie")})
	if !errors.Is(err, ErrAuthRequired) {
		t.Errorf("expected errors.Is to match ErrAuthRequired by kind")
	}
	if errors.Is(err, ErrTimeout) {
		t.Errorf("did not expect a match against a different kind's sentinel")
	}
}

func TestErrorUnwrapsCause(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := &Error{Kind: TransportError, Cause: cause}
	if !errors.Is(err, cause) {
		t.Errorf("expected errors.Is to find the wrapped cause")
	}
}
