package coap

import (
	"encoding/binary"
	"fmt"
)

// ReliableMessage is a CoAP-over-TCP/TLS/WebSocket message (RFC 8323):
// no Type, no MessageID, just a length-prefixed token, code and option
// sequence sharing the UDP option engine.
type ReliableMessage struct {
	Token   []byte
	Code    Code
	Options Options
	Payload []byte
}

// MarshalBinary encodes m into buf using RFC 8323 §3.2's variable-length
// framing: the first byte's high nibble is either the direct payload
// length (0-12) or an extension selector (13/14/15 meaning +1/+2/+3
// bytes follow, holding length-13/269/65805 respectively), and the low
// nibble is the token length. The code byte comes before the token
// (RFC 8323 §3.2's Len/TKL, Extended Length, Code, Token, Options...).
func (m *ReliableMessage) MarshalBinary(buf []byte, opts SerializeOptions) (int, error) {
	if len(m.Token) > maxTokenLen {
		return 0, newErr(ErrInvalidTokenLength, fmt.Sprintf("token length %d > %d", len(m.Token), maxTokenLen))
	}

	w := newBoundedWriter(buf)

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

	var body []byte
	bw := newBoundedWriter(make([]byte, len(buf)))
	prev := OptionNumber(0)
	for _, o := range ordered {
		val, err := o.encodedValue()
		if err != nil {
			return 0, err
		}
		if err := writeOptionHeader(bw, int(o.Number)-int(prev), len(val)); err != nil {
			return 0, err
		}
		if len(val) > 0 {
			if _, err := bw.Write(val); err != nil {
				return 0, err
			}
		}
		prev = o.Number
	}
	if len(m.Payload) > 0 {
		if err := bw.WriteByte(0xff); err != nil {
			return 0, err
		}
		if _, err := bw.Write(m.Payload); err != nil {
			return 0, err
		}
	}
	body = bw.buf[:bw.n]

	ln, lx := splitExtendedLen(len(body))
	if err := w.WriteByte(byte(ln<<4) | byte(len(m.Token)&0xf)); err != nil {
		return 0, err
	}
	switch ln {
	case extByteCode:
		if err := w.WriteByte(byte(lx)); err != nil {
			return 0, err
		}
	case extWordCode:
		var tmp [2]byte
		binary.BigEndian.PutUint16(tmp[:], uint16(lx))
		if _, err := w.Write(tmp[:]); err != nil {
			return 0, err
		}
	case extReserved:
		var tmp [3]byte
		tmp[0] = byte(lx >> 16)
		tmp[1] = byte(lx >> 8)
		tmp[2] = byte(lx)
		if _, err := w.Write(tmp[:]); err != nil {
			return 0, err
		}
	}
	if err := w.WriteByte(byte(m.Code)); err != nil {
		return 0, err
	}
	if len(m.Token) > 0 {
		if _, err := w.Write(m.Token); err != nil {
			return 0, err
		}
	}
	if _, err := w.Write(body); err != nil {
		return 0, err
	}
	return w.n, nil
}

// splitExtendedLen is writeOptionHeader's length-extension logic widened
// to RFC 8323's 3-byte extension case (nibble 15), which no UDP quantity
// ever needs.
func splitExtendedLen(v int) (nibble, extension int) {
	switch {
	case v < extByteCode:
		return v, 0
	case v < extByteAddend+256:
		return extByteCode, v - extByteAddend
	case v < extWordAddend+65536:
		return extWordCode, v - extWordAddend
	default:
		return extReserved, v - extWordAddend - 65536
	}
}

// UnmarshalBinary parses data as a ReliableMessage, returning the number
// of bytes consumed (the frame may be followed by further frames on the
// same stream).
func (m *ReliableMessage) UnmarshalBinary(data []byte) (int, error) {
	if len(data) < 1 {
		return 0, newErr(ErrMessageTooSmall, "frame header truncated")
	}
	lenNibble := int(data[0] >> 4)
	tokenLen := int(data[0] & 0xf)
	if tokenLen > maxTokenLen {
		return 0, newErr(ErrInvalidTokenLength, fmt.Sprintf("token length %d", tokenLen))
	}
	b := data[1:]

	var bodyLen int
	switch lenNibble {
	case extByteCode:
		if len(b) < 1 {
			return 0, newErr(ErrMessageTooSmall, "extended length byte truncated")
		}
		bodyLen = int(b[0]) + extByteAddend
		b = b[1:]
	case extWordCode:
		if len(b) < 2 {
			return 0, newErr(ErrMessageTooSmall, "extended length word truncated")
		}
		bodyLen = int(binary.BigEndian.Uint16(b[:2])) + extWordAddend
		b = b[2:]
	case extReserved:
		if len(b) < 3 {
			return 0, newErr(ErrMessageTooSmall, "extended length triple truncated")
		}
		bodyLen = (int(b[0])<<16 | int(b[1])<<8 | int(b[2])) + extWordAddend + 65536
		b = b[3:]
	default:
		bodyLen = lenNibble
	}

	if len(b) < 1+tokenLen {
		return 0, newErr(ErrMessageTooSmall, "code/token truncated")
	}
	m.Code = Code(b[0])
	if tokenLen > 0 {
		m.Token = b[1 : 1+tokenLen]
	} else {
		m.Token = nil
	}
	b = b[1+tokenLen:]

	if len(b) < bodyLen {
		return 0, newErr(ErrMessageTooSmall, "options/payload truncated")
	}
	body := b[:bodyLen]
	consumed := len(data) - len(b) + bodyLen

	m.Options = nil
	prev := OptionNumber(0)
	for len(body) > 0 {
		if body[0] == 0xff {
			body = body[1:]
			if len(body) == 0 {
				return 0, newErr(ErrPayloadNoMarker, "payload marker with no payload")
			}
			m.Payload = body
			return consumed, nil
		}
		deltaNibble := int(body[0] >> 4)
		lengthNibble := int(body[0] & 0x0f)
		body = body[1:]

		delta, rest, err := parseExtended(deltaNibble, body)
		if err != nil {
			return 0, err
		}
		body = rest
		length, rest, err := parseExtended(lengthNibble, body)
		if err != nil {
			return 0, err
		}
		body = rest

		if len(body) < length {
			return 0, newErr(ErrMessageTooSmall, "option value truncated")
		}
		number := prev + OptionNumber(delta)
		raw := body[:length]
		body = body[length:]
		prev = number

		var value interface{}
		if _, signaling := signalingCatalogs[m.Code]; signaling {
			value, err = decodeSignalingOption(m.Code, number, raw)
		} else {
			value, err = decodeOptionValue(number, raw)
		}
		if err != nil {
			return 0, err
		}
		m.Options = append(m.Options, Option{Number: number, Value: value})
	}
	m.Payload = nil
	return consumed, nil
}
