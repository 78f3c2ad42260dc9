package nats

import "errors"

// ErrorCode is the sum type of principal error kinds the core distinguishes,
// per the error handling design: internal functions return a status: this
// is that status.
type ErrorCode int

const (
	ErrCodeOK ErrorCode = iota
	ErrCodeGeneric
	ErrCodeNoMemory
	ErrCodeInvalidArg
	ErrCodeInvalidSubject
	ErrCodeInvalidSubscription
	ErrCodeInvalidTimeout
	ErrCodeIO
	ErrCodeSys
	ErrCodeTimeout
	ErrCodeNoResponders
	ErrCodeConnectionClosed
	ErrCodeConnectionReconnecting
	ErrCodeConnectionDisconnected
	ErrCodeSlowConsumer
	ErrCodeStaleConnection
	ErrCodeSecureConnectionRequired
	ErrCodeSSL
	ErrCodeMaxPayload
	ErrCodeMaxDeliveredMsgs
	ErrCodeLimitReached
	ErrCodeNoServer
	ErrCodeProtocol
	ErrCodeNotPermitted
	ErrCodeAuthorization
	ErrCodeNotFound
	ErrCodeMismatch
	ErrCodeMissedHeartbeat
	ErrCodeIllegalState
)

func (c ErrorCode) String() string {
	if s, ok := errorCodeNames[c]; ok {
		return s
	}
	return "unknown"
}

var errorCodeNames = map[ErrorCode]string{
	ErrCodeOK:                       "ok",
	ErrCodeGeneric:                  "error",
	ErrCodeNoMemory:                 "no memory",
	ErrCodeInvalidArg:               "invalid argument",
	ErrCodeInvalidSubject:           "invalid subject",
	ErrCodeInvalidSubscription:      "invalid subscription",
	ErrCodeInvalidTimeout:           "invalid timeout",
	ErrCodeIO:                       "io error",
	ErrCodeSys:                      "system error",
	ErrCodeTimeout:                  "timeout",
	ErrCodeNoResponders:             "no responders",
	ErrCodeConnectionClosed:         "connection closed",
	ErrCodeConnectionReconnecting:   "connection reconnecting",
	ErrCodeConnectionDisconnected:   "connection disconnected",
	ErrCodeSlowConsumer:             "slow consumer",
	ErrCodeStaleConnection:          "stale connection",
	ErrCodeSecureConnectionRequired: "secure connection required",
	ErrCodeSSL:                      "ssl error",
	ErrCodeMaxPayload:               "maximum payload exceeded",
	ErrCodeMaxDeliveredMsgs:         "maximum delivered messages reached",
	ErrCodeLimitReached:             "limit reached",
	ErrCodeNoServer:                 "no servers available",
	ErrCodeProtocol:                 "protocol error",
	ErrCodeNotPermitted:             "not permitted",
	ErrCodeAuthorization:            "authorization violation",
	ErrCodeNotFound:                 "not found",
	ErrCodeMismatch:                 "mismatch",
	ErrCodeMissedHeartbeat:          "missed heartbeat",
	ErrCodeIllegalState:             "illegal state",
}

// Error attaches a per-call breadcrumb to an ErrorCode so the caller can
// print a useful message without losing the sum type for programmatic
// handling (errors.Is / errors.As against *Error).
type Error struct {
	Code    ErrorCode
	Op      string // call-site breadcrumb, e.g. "nats.Connect", "Subscription.NextMsg"
	Message string
	Wrapped error
}

func (e *Error) Error() string {
	msg := e.Code.String()
	if e.Message != "" {
		msg = e.Message
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Wrapped != nil {
		msg = msg + ": " + e.Wrapped.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Wrapped }

func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return other.Code == e.Code
	}
	return false
}

func newErr(code ErrorCode, op string, wrapped error) *Error {
	return &Error{Code: code, Op: op, Wrapped: wrapped}
}

func newErrf(code ErrorCode, op, message string) *Error {
	return &Error{Code: code, Op: op, Message: message}
}

// Sentinel errors for errors.Is comparisons against well-known conditions,
// mirroring the sum type without requiring callers to build an *Error.
var (
	ErrConnectionClosed       = &Error{Code: ErrCodeConnectionClosed}
	ErrConnectionReconnecting = &Error{Code: ErrCodeConnectionReconnecting}
	ErrConnectionDisconnected = &Error{Code: ErrCodeConnectionDisconnected}
	ErrTimeout                = &Error{Code: ErrCodeTimeout}
	ErrNoResponders           = &Error{Code: ErrCodeNoResponders}
	ErrSlowConsumer           = &Error{Code: ErrCodeSlowConsumer}
	ErrStaleConnection        = &Error{Code: ErrCodeStaleConnection}
	ErrInvalidArg             = &Error{Code: ErrCodeInvalidArg}
	ErrInvalidSubject         = &Error{Code: ErrCodeInvalidSubject}
	ErrInvalidSubscription    = &Error{Code: ErrCodeInvalidSubscription}
	ErrMaxPayload             = &Error{Code: ErrCodeMaxPayload}
	ErrNoServers              = &Error{Code: ErrCodeNoServer}
	ErrProtocol               = &Error{Code: ErrCodeProtocol}
	ErrMaxDeliveredMsgs       = &Error{Code: ErrCodeMaxDeliveredMsgs}
	ErrLimitReached           = &Error{Code: ErrCodeLimitReached}
	ErrMismatch               = &Error{Code: ErrCodeMismatch}
	ErrMissedHeartbeat        = &Error{Code: ErrCodeMissedHeartbeat}
	ErrIllegalState           = &Error{Code: ErrCodeIllegalState}
)
