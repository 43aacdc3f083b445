package coap

import "fmt"

// ErrorKind is the closed set of error tags the core surfaces (spec.md §7).
type ErrorKind int

const (
	ErrNone ErrorKind = iota
	ErrInsufficientBuffer
	ErrInvalidTokenLength
	ErrMessageTooSmall
	ErrEmptyFormatError
	ErrVersionInvalid
	ErrTypeInvalid
	ErrCodeInvalid
	ErrOptionInvalid
	ErrOptionOutOfOrder
	ErrOptionRepeated
	ErrOptionParseError
	ErrOptionNotFound
	ErrPayloadNoMarker
	ErrRequestEntityTooLarge
	ErrRequestNotSupported
	ErrNoFreeSlots
	ErrSocketError
	ErrEndpointError
	ErrInvalidData
	ErrBufferEmpty
)

var errorKindNames = map[ErrorKind]string{
	ErrNone:                  "none",
	ErrInsufficientBuffer:    "insufficient_buffer",
	ErrInvalidTokenLength:    "invalid_token_length",
	ErrMessageTooSmall:       "message_too_small",
	ErrEmptyFormatError:      "empty_format_error",
	ErrVersionInvalid:        "version_invalid",
	ErrTypeInvalid:           "type_invalid",
	ErrCodeInvalid:           "code_invalid",
	ErrOptionInvalid:         "option_invalid",
	ErrOptionOutOfOrder:      "option_out_of_order",
	ErrOptionRepeated:        "option_repeated",
	ErrOptionParseError:      "option_parse_error",
	ErrOptionNotFound:        "option_not_found",
	ErrPayloadNoMarker:       "payload_no_marker",
	ErrRequestEntityTooLarge: "request_entity_too_large",
	ErrRequestNotSupported:   "request_not_supported",
	ErrNoFreeSlots:           "no_free_slots",
	ErrSocketError:           "socket_error",
	ErrEndpointError:         "endpoint_error",
	ErrInvalidData:           "invalid_data",
	ErrBufferEmpty:           "buffer_empty",
}

// String renders the error kind's canonical name.
func (k ErrorKind) String() string {
	if name, ok := errorKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", int(k))
}

// Error wraps an ErrorKind with an optional human-readable detail,
// analogous to the C++ source's CoAP::Error{err_, name(), message()}.
type Error struct {
	Kind   ErrorKind
	Detail string
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

// Is lets errors.Is match on the ErrorKind alone.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == other.Kind
}

// newErr constructs an *Error, the only way errors of this package are made.
func newErr(kind ErrorKind, detail string) *Error {
	return &Error{Kind: kind, Detail: detail}
}

// KindOf extracts the ErrorKind from any error produced by this package,
// returning ErrNone for nil and ErrInvalidData for foreign errors.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ErrNone
	}
	if e, ok := err.(*Error); ok {
		return e.Kind
	}
	return ErrInvalidData
}
