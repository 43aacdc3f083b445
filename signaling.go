package coap

// Signaling option numbers are only meaningful within a specific
// signaling code's scope (RFC 8323 §5); the same number means something
// different under CSM than under Release. Catalogs are keyed by code,
// not folded into the global optionCatalog.
const (
	SigMaxMessageSize OptionNumber = 2 // CSM
	SigBlockwiseTransfer OptionNumber = 4 // CSM

	SigCustody OptionNumber = 2 // Ping/Pong

	SigAlternativeAddress OptionNumber = 2 // Release
	SigHoldOff            OptionNumber = 4 // Release

	SigBadCSMOption OptionNumber = 2 // Abort
)

var signalingCatalogs = map[Code]map[OptionNumber]catalogEntry{
	CodeCSM: {
		SigMaxMessageSize:    {repeatable: false, format: formatUint, minLen: 0, maxLen: 4},
		SigBlockwiseTransfer: {repeatable: false, format: formatEmpty, minLen: 0, maxLen: 0},
	},
	CodePing: {
		SigCustody: {repeatable: false, format: formatEmpty, minLen: 0, maxLen: 0},
	},
	CodePong: {
		SigCustody: {repeatable: false, format: formatEmpty, minLen: 0, maxLen: 0},
	},
	CodeRelease: {
		SigAlternativeAddress: {repeatable: false, format: formatString, minLen: 1, maxLen: 255},
		SigHoldOff:            {repeatable: false, format: formatUint, minLen: 0, maxLen: 3},
	},
	CodeAbort: {
		SigBadCSMOption: {repeatable: false, format: formatUint, minLen: 0, maxLen: 2},
	},
}

// decodeSignalingOption interprets raw against code's signaling catalog
// rather than the request/response optionCatalog.
func decodeSignalingOption(code Code, number OptionNumber, raw []byte) (interface{}, error) {
	catalog, ok := signalingCatalogs[code]
	if !ok {
		return append([]byte(nil), raw...), nil
	}
	entry, ok := catalog[number]
	if !ok {
		return append([]byte(nil), raw...), nil
	}
	if len(raw) < entry.minLen || len(raw) > entry.maxLen {
		return nil, newErr(ErrOptionParseError, "signaling option length out of range")
	}
	switch entry.format {
	case formatEmpty:
		return nil, nil
	case formatUint:
		return decodeUint(raw), nil
	case formatString:
		return string(raw), nil
	default:
		return append([]byte(nil), raw...), nil
	}
}

// NewSignalingMessage builds a signaling message (no message-id role
// beyond the usual header slot, no token requirement): RFC 8323 §5
// signaling exchanges run over the reliable transport's framing, which
// omits Type and MessageID entirely (see ReliableMessage in reliable.go).
func NewSignalingMessage(code Code, opts ...Option) Message {
	return Message{Code: code, Options: append(Options(nil), opts...)}
}
