package tvstream

import "github.com/saidsurucu/tvstream/internal/errs"

// Kind classifies an Error for programmatic handling — callers branch on
// this rather than parsing error strings.
type Kind = errs.Kind

// The closed set of error kinds the engine ever returns.
const (
	AuthRequired   = errs.AuthRequired
	NotAvailable   = errs.NotAvailable
	Timeout        = errs.Timeout
	InvalidArgument = errs.InvalidArgument
	TransportError = errs.TransportError
	ParseError     = errs.ParseError
)

// Error is the engine's unified error type: every public method that can
// fail returns one of these (wrapped stdlib errors included), so a caller
// can use errors.As to recover the Kind.
type Error = errs.Error

// Sentinel errors usable with errors.Is against any Error of the matching
// Kind, regardless of the wrapped cause or message.
var (
	ErrAuthRequired    = errs.ErrAuthRequired
	ErrNotAvailable    = errs.ErrNotAvailable
	ErrTimeout         = errs.ErrTimeout
	ErrInvalidArgument = errs.ErrInvalidArgument
	ErrTransport       = errs.ErrTransport
	ErrParse           = errs.ErrParse
)
