package coap

import (
	"encoding/binary"
	"fmt"
)

// CType is the CoAP message type (spec.md §3).
type CType uint8

const (
	Confirmable     CType = 0
	NonConfirmable  CType = 1
	Acknowledgement CType = 2
	Reset           CType = 3
)

var typeNames = map[CType]string{
	Confirmable:     "Confirmable",
	NonConfirmable:  "NonConfirmable",
	Acknowledgement: "Acknowledgement",
	Reset:           "Reset",
}

func (t CType) String() string {
	if s, ok := typeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("Unknown(0x%x)", uint8(t))
}

func (t CType) valid() bool {
	return t <= Reset
}

// Code is a CoAP message code: a 3-bit class and 5-bit detail packed into
// one byte, rendered "c.dd" (spec.md §3).
type Code uint8

func (c Code) Class() uint8  { return uint8(c) >> 5 }
func (c Code) Detail() uint8 { return uint8(c) & 0x1f }

func (c Code) String() string {
	return fmt.Sprintf("%d.%02d", c.Class(), c.Detail())
}

// IsRequest reports whether c is in the request class (0, detail 1-31).
func (c Code) IsRequest() bool { return c.Class() == 0 && c.Detail() != 0 }

// IsEmpty reports whether c is the empty-message code 0.00.
func (c Code) IsEmpty() bool { return c == CodeEmpty }

// IsResponse reports whether c is in the success/client-error/server-error
// classes.
func (c Code) IsResponse() bool {
	switch c.Class() {
	case 2, 4, 5:
		return true
	default:
		return false
	}
}

// IsSignaling reports whether c is in the signaling class (7.xx, RFC 8323).
func (c Code) IsSignaling() bool { return c.Class() == 7 }

const (
	CodeEmpty Code = 0

	// Request codes (class 0).
	CodeGET    Code = 0<<5 | 1
	CodePOST   Code = 0<<5 | 2
	CodePUT    Code = 0<<5 | 3
	CodeDELETE Code = 0<<5 | 4
	CodeFETCH  Code = 0<<5 | 5 // RFC 8132
	CodePATCH  Code = 0<<5 | 6 // RFC 8132
	CodeIPATCH Code = 0<<5 | 7 // RFC 8132 (iPATCH)

	// Success codes (class 2).
	CodeCreated  Code = 2<<5 | 1
	CodeDeleted  Code = 2<<5 | 2
	CodeValid    Code = 2<<5 | 3
	CodeChanged  Code = 2<<5 | 4
	CodeContent  Code = 2<<5 | 5
	CodeContinue Code = 2<<5 | 31 // RFC 7959 block-wise 2.31

	// Client error codes (class 4).
	CodeBadRequest              Code = 4<<5 | 0
	CodeUnauthorized            Code = 4<<5 | 1
	CodeBadOption               Code = 4<<5 | 2
	CodeForbidden               Code = 4<<5 | 3
	CodeNotFound                Code = 4<<5 | 4
	CodeMethodNotAllowed        Code = 4<<5 | 5
	CodeNotAcceptable           Code = 4<<5 | 6
	CodeRequestEntityIncomplete Code = 4<<5 | 8 // RFC 7959 block-wise 4.08
	CodePreconditionFailed      Code = 4<<5 | 12
	CodeRequestEntityTooLarge   Code = 4<<5 | 13
	CodeUnsupportedContentFmt   Code = 4<<5 | 15

	// Server error codes (class 5).
	CodeInternalServerError  Code = 5<<5 | 0
	CodeNotImplemented       Code = 5<<5 | 1
	CodeBadGateway           Code = 5<<5 | 2
	CodeServiceUnavailable   Code = 5<<5 | 3
	CodeGatewayTimeout       Code = 5<<5 | 4
	CodeProxyingNotSupported Code = 5<<5 | 5

	// Signaling codes (class 7, RFC 8323 §5).
	CodeCSM     Code = 7<<5 | 1
	CodePing    Code = 7<<5 | 2
	CodePong    Code = 7<<5 | 3
	CodeRelease Code = 7<<5 | 4
	CodeAbort   Code = 7<<5 | 5
)

// MediaType is the Content-Format/Accept option's registered value.
type MediaType uint16

const (
	TextPlain     MediaType = 0
	AppLinkFormat MediaType = 40
	AppXML        MediaType = 41
	AppOctets     MediaType = 42
	AppExi        MediaType = 47
	AppJSON       MediaType = 50
	AppCBOR       MediaType = 60
)

const maxTokenLen = 8

// Message is the logical (non-wire) CoAP message of spec.md §3.
type Message struct {
	Type      CType
	Code      Code
	MessageID uint16
	Token     []byte
	Options   Options
	Payload   []byte
}

func (m *Message) validate() error {
	if len(m.Token) > maxTokenLen {
		return newErr(ErrInvalidTokenLength, fmt.Sprintf("token length %d > %d", len(m.Token), maxTokenLen))
	}
	if m.Code.IsEmpty() {
		if len(m.Token) != 0 || len(m.Options) != 0 || len(m.Payload) != 0 {
			return newErr(ErrEmptyFormatError, "empty message carries token/options/payload")
		}
	}
	if !m.Type.valid() {
		return newErr(ErrTypeInvalid, fmt.Sprintf("type %d", m.Type))
	}
	return nil
}

// SerializeOptions controls MarshalBinary's option-handling policy,
// mirroring the template parameters (SortOptions, CheckOpOrder,
// CheckOpRepeat) of the original C++ engine::send (spec.md §4.1).
type SerializeOptions struct {
	Sort        bool // sort m.Options by number before emitting
	CheckOrder  bool // when Sort is false, fail on a decreasing number
	CheckRepeat bool // fail when a non-repeatable option appears twice
}

// DefaultSerializeOptions sorts and checks repeatability, the safe default.
func DefaultSerializeOptions() SerializeOptions {
	return SerializeOptions{Sort: true, CheckRepeat: true}
}

// MarshalBinary encodes m into buf, returning the number of bytes used.
// It never writes past len(buf); exceeding it fails with
// ErrInsufficientBuffer and no partial state is observable by the caller
// (the boundedWriter catches the overflow before any byte beyond the
// caller's window is touched).
func (m *Message) MarshalBinary(buf []byte, opts SerializeOptions) (int, error) {
	if err := m.validate(); err != nil {
		return 0, err
	}

	w := newBoundedWriter(buf)

	if err := w.WriteByte((1 << 6) | (byte(m.Type) << 4) | byte(len(m.Token)&0xf)); err != nil {
		return 0, err
	}
	if err := w.WriteByte(byte(m.Code)); err != nil {
		return 0, err
	}
	var mid [2]byte
	binary.BigEndian.PutUint16(mid[:], m.MessageID)
	if _, err := w.Write(mid[:]); err != nil {
		return 0, err
	}
	if len(m.Token) > 0 {
		if _, err := w.Write(m.Token); err != nil {
			return 0, err
		}
	}

	ordered := m.Options
	if opts.Sort {
		ordered = append(Options(nil), m.Options...)
		if err := sortOptions(ordered, opts.CheckRepeat); err != nil {
			return 0, err
		}
	} else if opts.CheckOrder {
		if err := checkOrder(ordered, opts.CheckRepeat); err != nil {
			return 0, err
		}
	}

	prev := OptionNumber(0)
	for _, o := range ordered {
		val, err := o.encodedValue()
		if err != nil {
			return 0, err
		}
		if err := writeOptionHeader(w, int(o.Number)-int(prev), len(val)); err != nil {
			return 0, err
		}
		if len(val) > 0 {
			if _, err := w.Write(val); err != nil {
				return 0, err
			}
		}
		prev = o.Number
	}

	if len(m.Payload) > 0 {
		if err := w.WriteByte(0xff); err != nil {
			return 0, err
		}
		if _, err := w.Write(m.Payload); err != nil {
			return 0, err
		}
	}

	return w.n, nil
}

// writeOptionHeader emits the delta/length byte plus its extension bytes.
func writeOptionHeader(w *boundedWriter, delta, length int) error {
	d, dx := splitExtended(delta)
	l, lx := splitExtended(length)

	if err := w.WriteByte(byte(d<<4) | byte(l)); err != nil {
		return err
	}
	writeExt := func(nibble, ext int) error {
		switch nibble {
		case extByteCode:
			return w.WriteByte(byte(ext))
		case extWordCode:
			var tmp [2]byte
			binary.BigEndian.PutUint16(tmp[:], uint16(ext))
			_, err := w.Write(tmp[:])
			return err
		}
		return nil
	}
	if err := writeExt(d, dx); err != nil {
		return err
	}
	return writeExt(l, lx)
}

// ParseOptions controls UnmarshalBinary's validation strictness.
type ParseOptions struct {
	ValidateCatalog bool // unknown option numbers fail with ErrOptionInvalid
}

// ParseMessage parses data as a Message, the package-level convenience
// form of (&Message{}).UnmarshalBinary.
func ParseMessage(data []byte, opts ParseOptions) (Message, error) {
	var m Message
	err := m.UnmarshalBinary(data, opts)
	return m, err
}

// UnmarshalBinary parses the given buffer as a Message. The resulting
// Message's Token, Options and Payload slices alias data and must not
// outlive it (spec.md §3 ownership).
func (m *Message) UnmarshalBinary(data []byte, opts ParseOptions) error {
	if len(data) < 4 {
		return newErr(ErrMessageTooSmall, "header truncated")
	}
	if data[0]>>6 != 1 {
		return newErr(ErrVersionInvalid, fmt.Sprintf("version %d", data[0]>>6))
	}

	m.Type = CType((data[0] >> 4) & 0x3)
	tokenLen := int(data[0] & 0xf)
	if tokenLen > maxTokenLen {
		return newErr(ErrInvalidTokenLength, fmt.Sprintf("token length %d", tokenLen))
	}

	m.Code = Code(data[1])
	m.MessageID = binary.BigEndian.Uint16(data[2:4])

	if len(data) < 4+tokenLen {
		return newErr(ErrMessageTooSmall, "token truncated")
	}
	if tokenLen > 0 {
		m.Token = data[4 : 4+tokenLen]
	} else {
		m.Token = nil
	}

	if m.Code.IsEmpty() {
		if len(data) != 4+tokenLen {
			return newErr(ErrEmptyFormatError, "trailing bytes after empty message header")
		}
		m.Options = nil
		m.Payload = nil
		return nil
	}

	b := data[4+tokenLen:]
	prev := OptionNumber(0)
	m.Options = nil

	for len(b) > 0 {
		if b[0] == 0xff {
			b = b[1:]
			if len(b) == 0 {
				return newErr(ErrPayloadNoMarker, "payload marker with no payload")
			}
			m.Payload = b
			return nil
		}

		deltaNibble := int(b[0] >> 4)
		lengthNibble := int(b[0] & 0x0f)
		if deltaNibble == extReserved || lengthNibble == extReserved {
			return newErr(ErrOptionParseError, "reserved nibble 15 in option header")
		}
		b = b[1:]

		delta, rest, err := parseExtended(deltaNibble, b)
		if err != nil {
			return err
		}
		b = rest

		length, rest, err := parseExtended(lengthNibble, b)
		if err != nil {
			return err
		}
		b = rest

		if len(b) < length {
			return newErr(ErrMessageTooSmall, "option value truncated")
		}

		number := prev + OptionNumber(delta)
		raw := b[:length]
		b = b[length:]
		prev = number

		if opts.ValidateCatalog {
			if _, known := optionCatalog[number]; !known {
				return newErr(ErrOptionInvalid, fmt.Sprintf("unknown option %d", number))
			}
		}

		value, err := decodeOptionValue(number, raw)
		if err != nil {
			return err
		}
		m.Options = append(m.Options, Option{Number: number, Value: value})
	}

	m.Payload = nil
	return nil
}

// parseExtended reads a delta/length nibble's extension bytes per
// spec.md §4.1: 13 means "+13 with a following 1-byte extension", 14
// means "+269 with a following 2-byte extension". The addend is applied
// to the byte value itself, never re-combined with the nibble — the
// arithmetic bug spec.md §9 flags in the C++ source's parser is not
// reproduced here.
func parseExtended(nibble int, b []byte) (value int, rest []byte, err error) {
	switch nibble {
	case extByteCode:
		if len(b) < 1 {
			return 0, b, newErr(ErrMessageTooSmall, "extended option byte truncated")
		}
		return int(b[0]) + extByteAddend, b[1:], nil
	case extWordCode:
		if len(b) < 2 {
			return 0, b, newErr(ErrMessageTooSmall, "extended option word truncated")
		}
		return int(binary.BigEndian.Uint16(b[:2])) + extWordAddend, b[2:], nil
	default:
		return nibble, b, nil
	}
}

// boundedWriter writes into a caller-owned fixed buffer, never growing it
// and never writing past its length (spec.md §3: "the core must be usable
// with preallocated storage only").
type boundedWriter struct {
	buf []byte
	n   int
}

func newBoundedWriter(buf []byte) *boundedWriter {
	return &boundedWriter{buf: buf}
}

func (w *boundedWriter) Write(p []byte) (int, error) {
	if w.n+len(p) > len(w.buf) {
		return 0, newErr(ErrInsufficientBuffer, fmt.Sprintf("need %d more bytes, have %d", len(p), len(w.buf)-w.n))
	}
	copy(w.buf[w.n:], p)
	w.n += len(p)
	return len(p), nil
}

func (w *boundedWriter) WriteByte(b byte) error {
	if w.n+1 > len(w.buf) {
		return newErr(ErrInsufficientBuffer, "need 1 more byte")
	}
	w.buf[w.n] = b
	w.n++
	return nil
}
