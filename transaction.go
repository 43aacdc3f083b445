package coap

import (
	"bytes"
	"fmt"
	"time"

	"github.com/rs/xid"
)

// Endpoint is the address-family-agnostic peer identity the engine
// matches transactions and dispatches requests against (spec.md §6).
type Endpoint interface {
	Equal(other Endpoint) bool
	String() string
}

// Transport is the injected capability the engine sends and receives
// datagrams (or, for the reliable profile, stream frames) through
// (spec.md §6). receive must distinguish "no data available" from an I/O
// failure by returning ErrBufferEmpty for the former.
type Transport interface {
	Open() error
	Bind(addr string) error
	Send(data []byte, to Endpoint) (int, error)
	Receive(buf []byte, timeout time.Duration) (int, Endpoint, error)
	Close() error
}

// SlotState is a transaction slot's lifecycle state (spec.md §3, §4.3).
type SlotState int

const (
	StateIdle SlotState = iota
	StateSending
	StateSuccess
	StateEmpty
	StateTimedOut
	StateCancelled
)

var slotStateNames = map[SlotState]string{
	StateIdle:      "Idle",
	StateSending:   "Sending",
	StateSuccess:   "Success",
	StateEmpty:     "Empty",
	StateTimedOut:  "TimedOut",
	StateCancelled: "Cancelled",
}

func (s SlotState) String() string { return slotStateNames[s] }

// TransactionCallback is invoked exactly once per transaction, with resp
// nil for TimedOut/Cancelled outcomes.
type TransactionCallback func(slot *Slot, resp *Message, state SlotState, data interface{})

// Configure holds the RFC 7252 §4.8 retransmission tunables.
type Configure struct {
	AckTimeout      time.Duration `yaml:"ack_timeout" mapstructure:"ack_timeout" validate:"gt=0"`
	AckRandomFactor float64       `yaml:"ack_random_factor" mapstructure:"ack_random_factor" validate:"min=1"`
	MaxRetransmit   int           `yaml:"max_retransmit" mapstructure:"max_retransmit" validate:"gte=0,lte=255"`
	Profile         Profile       `yaml:"profile" mapstructure:"profile"`
}

// Profile distinguishes a client-only engine from a server engine
// (spec.md §3, §9's get_profile()). A client engine drops inbound requests
// unanswered and reports no error for them; ErrRequestNotSupported is
// returned only by Engine.Request, for signaling codes.
type Profile int

const (
	ProfileServer Profile = iota
	ProfileClient
)

// DefaultConfigure returns RFC 7252 §4.8's default tunables.
func DefaultConfigure() Configure {
	return Configure{
		AckTimeout:      2 * time.Second,
		AckRandomFactor: 1.5,
		MaxRetransmit:   4,
		Profile:         ProfileServer,
	}
}

// MaxTransmitSpan is ACK_TIMEOUT * 2^MAX_RETRANSMIT * ACK_RANDOM_FACTOR.
func (c Configure) MaxTransmitSpan() time.Duration {
	return time.Duration(float64(c.AckTimeout) * float64(uint64(1)<<uint(c.MaxRetransmit)) * c.AckRandomFactor)
}

// MaxTransmitWait is ACK_TIMEOUT * (2^(MAX_RETRANSMIT+1) - 1) * ACK_RANDOM_FACTOR.
func (c Configure) MaxTransmitWait() time.Duration {
	return time.Duration(float64(c.AckTimeout) * float64((uint64(1)<<uint(c.MaxRetransmit+1))-1) * c.AckRandomFactor)
}

// Validate enforces the numeric invariants SPEC_FULL.md §8 adds on top of
// the RFC defaults.
func (c Configure) Validate() error {
	if c.AckTimeout <= 0 {
		return newErr(ErrInvalidData, "ack_timeout must be > 0")
	}
	if c.AckRandomFactor < 1.0 {
		return newErr(ErrInvalidData, "ack_random_factor must be >= 1.0")
	}
	if c.MaxRetransmit < 0 || c.MaxRetransmit > 255 {
		return newErr(ErrInvalidData, "max_retransmit must be in [0,255]")
	}
	return nil
}

const maxPacketSize = 1152 // RFC 7252 §4.6 recommended max message size

// Slot is one in-flight confirmable transaction (spec.md §3).
type Slot struct {
	state    SlotState
	buf      [maxPacketSize]byte
	used     int
	peer     Endpoint
	messageID uint16
	token    []byte
	callback TransactionCallback
	data     interface{}

	timeout         time.Duration
	nextExpire      time.Time
	retransLeft     int
	TraceID         xid.ID
}

// State returns the slot's current lifecycle state.
func (s *Slot) State() SlotState { return s.state }

// RetransmissionsRemaining returns the slot's remaining retransmit budget.
func (s *Slot) RetransmissionsRemaining() int { return s.retransLeft }

// Pool is a fixed-capacity array of transaction slots (spec.md §4.3).
type Pool struct {
	slots   []Slot
	cfg     Configure
	clock   Clock
	rng     Rng
	metrics *Metrics
}

// NewPool allocates a pool of capacity slots, all Idle.
func NewPool(capacity int, cfg Configure, clock Clock, rng Rng, metrics *Metrics) *Pool {
	return &Pool{
		slots:   make([]Slot, capacity),
		cfg:     cfg,
		clock:   clock,
		rng:     rng,
		metrics: metrics,
	}
}

func (p *Pool) findFreeSlot() (*Slot, error) {
	for i := range p.slots {
		if p.slots[i].state == StateIdle {
			return &p.slots[i], nil
		}
	}
	return nil, newErr(ErrNoFreeSlots, fmt.Sprintf("pool exhausted at capacity %d", len(p.slots)))
}

// Init reserves a free slot, serializes msg into its owned buffer, and
// arms its retransmission timer. The slot's buffer retains the exact
// bytes transmitted so retransmission replays them verbatim.
func (p *Pool) Init(msg *Message, peer Endpoint, cb TransactionCallback, data interface{}, opts SerializeOptions) (*Slot, error) {
	slot, err := p.findFreeSlot()
	if err != nil {
		return nil, err
	}
	n, err := msg.MarshalBinary(slot.buf[:], opts)
	if err != nil {
		return nil, err
	}
	slot.used = n
	slot.peer = peer
	slot.messageID = msg.MessageID
	slot.token = append([]byte(nil), msg.Token...)
	slot.callback = cb
	slot.data = data
	slot.TraceID = xid.New()
	slot.state = StateSending
	slot.retransLeft = p.cfg.MaxRetransmit
	slot.timeout = p.initialTimeout()
	slot.nextExpire = p.clock.Now().Add(slot.timeout)

	if p.metrics != nil {
		p.metrics.transactionsStarted.Inc()
		p.metrics.activeTransactions.Inc()
	}
	return slot, nil
}

func (p *Pool) initialTimeout() time.Duration {
	factor := 1 + p.rng.Float64()*(p.cfg.AckRandomFactor-1)
	return time.Duration(float64(p.cfg.AckTimeout) * factor)
}

// Tick scans the pool, retransmitting due slots and timing out those
// whose retransmit budget is exhausted (spec.md §4.3).
func (p *Pool) Tick(transport Transport) {
	now := p.clock.Now()
	for i := range p.slots {
		s := &p.slots[i]
		if s.state != StateSending {
			continue
		}
		if now.Before(s.nextExpire) {
			continue
		}
		if s.retransLeft > 0 {
			transport.Send(s.buf[:s.used], s.peer)
			s.retransLeft--
			s.timeout *= 2
			s.nextExpire = now.Add(s.timeout)
			if p.metrics != nil {
				p.metrics.retransmits.Inc()
			}
			continue
		}
		p.finish(s, nil, StateTimedOut)
	}
}

// HandleResponse matches an inbound message against the pool's Sending
// and Empty slots (spec.md §4.3). requireEndpoint/requireToken tighten a
// message-id match into a fuller identity check.
func (p *Pool) HandleResponse(msg *Message, peer Endpoint, requireEndpoint, requireToken bool) (*Slot, bool) {
	for i := range p.slots {
		s := &p.slots[i]
		switch s.state {
		case StateSending:
			if s.messageID != msg.MessageID {
				continue
			}
			if requireEndpoint && (s.peer == nil || !s.peer.Equal(peer)) {
				continue
			}
			if requireToken && !bytes.Equal(s.token, msg.Token) {
				continue
			}
			if msg.Code.IsEmpty() {
				s.state = StateEmpty
				return s, true
			}
			p.finish(s, msg, StateSuccess)
			return s, true
		case StateEmpty:
			// Separated response: matched by token alone, since the
			// follow-up message carries a new message-id (spec.md §4.3).
			if !bytes.Equal(s.token, msg.Token) {
				continue
			}
			if requireEndpoint && (s.peer == nil || !s.peer.Equal(peer)) {
				continue
			}
			p.finish(s, msg, StateSuccess)
			return s, true
		}
	}
	return nil, false
}

// Cancel transitions slot from Sending to Cancelled, firing its callback
// with no response.
func (p *Pool) Cancel(slot *Slot) {
	if slot.state != StateSending && slot.state != StateEmpty {
		return
	}
	p.finish(slot, nil, StateCancelled)
}

func (p *Pool) finish(s *Slot, resp *Message, final SlotState) {
	s.state = final
	if s.callback != nil {
		s.callback(s, resp, final, s.data)
	}
	if p.metrics != nil {
		p.metrics.activeTransactions.Dec()
		switch final {
		case StateTimedOut:
			p.metrics.timeouts.Inc()
		case StateCancelled:
			p.metrics.cancellations.Inc()
		}
	}
	*s = Slot{}
	s.state = StateIdle
}
