package coap

// Factory is a fluent builder that accumulates a message's type, code,
// token and options and payload, then emits bytes via Build — the
// "message factory" component of spec.md §2.
type Factory struct {
	msg  Message
	opts SerializeOptions
	err  error
}

// NewFactory starts a builder for a message of the given type and code.
func NewFactory(t CType, code Code) *Factory {
	return &Factory{
		msg:  Message{Type: t, Code: code},
		opts: DefaultSerializeOptions(),
	}
}

// WithMessageID sets the message-id.
func (f *Factory) WithMessageID(id uint16) *Factory {
	f.msg.MessageID = id
	return f
}

// WithToken sets the token (0-8 bytes; longer tokens are caught at Build).
func (f *Factory) WithToken(token []byte) *Factory {
	f.msg.Token = token
	return f
}

// AddOption appends an option to the builder's option set.
func (f *Factory) AddOption(number OptionNumber, value interface{}) *Factory {
	f.msg.Options = append(f.msg.Options, Option{Number: number, Value: value})
	return f
}

// AddPath appends one Uri-Path option per non-empty path segment.
func (f *Factory) AddPath(segments ...string) *Factory {
	for _, s := range segments {
		if s != "" {
			f.AddOption(OptURIPath, s)
		}
	}
	return f
}

// WithPayload sets the payload.
func (f *Factory) WithPayload(payload []byte) *Factory {
	f.msg.Payload = payload
	return f
}

// WithSerializeOptions overrides the sort/order/repeat policy used by
// Build (see SerializeOptions); the default sorts and checks repeats.
func (f *Factory) WithSerializeOptions(opts SerializeOptions) *Factory {
	f.opts = opts
	return f
}

// Message returns the builder's current logical message, for callers
// that want to inspect it (e.g. the transaction pool storing it for
// retransmission) before or instead of serializing.
func (f *Factory) Message() Message {
	return f.msg
}

// Build serializes the accumulated message into buf.
func (f *Factory) Build(buf []byte) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	return f.msg.MarshalBinary(buf, f.opts)
}
