package coap

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a manually-advanced Clock for deterministic retransmission
// timing tests.
type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

// fakeRng always returns 0, so with AckRandomFactor>1 the initial timeout
// is deterministically the minimum of its jitter range.
type fakeRng struct{}

func (fakeRng) Float64() float64 { return 0 }

type fakeEndpoint string

func (e fakeEndpoint) String() string          { return string(e) }
func (e fakeEndpoint) Equal(o Endpoint) bool    { other, ok := o.(fakeEndpoint); return ok && other == e }

// fakeTransport records every Send, answering Receive with nothing (used
// only to drive Tick's retransmissions, never actually read from).
type fakeTransport struct{ sent int }

func (f *fakeTransport) Open() error  { return nil }
func (f *fakeTransport) Bind(string) error { return nil }
func (f *fakeTransport) Send(data []byte, to Endpoint) (int, error) {
	f.sent++
	return len(data), nil
}
func (f *fakeTransport) Receive(buf []byte, timeout time.Duration) (int, Endpoint, error) {
	return 0, nil, newErr(ErrBufferEmpty, "no data")
}
func (f *fakeTransport) Close() error { return nil }

// TestScenario3RetransmitThenTimeout exercises the retransmit-timeout-at-
// attempt-k formula (spec.md §4.3): initial × 2^k per attempt, giving
// successive gaps of 1s, 2s, 4s for ack_timeout=1s, ack_random_factor=1.0,
// max_retransmit=2.
func TestScenario3RetransmitThenTimeout(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	cfg := Configure{AckTimeout: time.Second, AckRandomFactor: 1.0, MaxRetransmit: 2}
	pool := NewPool(4, cfg, clock, fakeRng{}, nil)
	transport := &fakeTransport{}

	var finalState SlotState
	var finalRemaining []int

	msg := &Message{Type: Confirmable, Code: CodeGET, MessageID: 1}
	slot, err := pool.Init(msg, fakeEndpoint("peer"), func(s *Slot, resp *Message, state SlotState, data interface{}) {
		finalState = state
	}, nil, DefaultSerializeOptions())
	require.NoError(t, err)
	assert.Equal(t, 2, slot.RetransmissionsRemaining())

	// Before the first deadline, Tick is a no-op.
	pool.Tick(transport)
	assert.Equal(t, 0, transport.sent)

	// t=1s: first retransmission gap (initial × 2^0 = 1s).
	clock.advance(time.Second)
	pool.Tick(transport)
	assert.Equal(t, 1, transport.sent)
	assert.Equal(t, 1, slot.RetransmissionsRemaining())
	finalRemaining = append(finalRemaining, slot.RetransmissionsRemaining())

	// t=3s: second retransmission gap (initial × 2^1 = 2s).
	clock.advance(2 * time.Second)
	pool.Tick(transport)
	assert.Equal(t, 2, transport.sent)
	assert.Equal(t, 0, slot.RetransmissionsRemaining())
	finalRemaining = append(finalRemaining, slot.RetransmissionsRemaining())

	assert.Equal(t, []int{1, 0}, finalRemaining)
	assert.True(t, finalRemaining[0] > finalRemaining[1], "retransmissions_remaining must decrease monotonically")

	// t=7s: third gap (initial × 2^2 = 4s) elapses with no reply and no
	// budget left — the transaction times out.
	clock.advance(4 * time.Second)
	pool.Tick(transport)
	assert.Equal(t, StateTimedOut, finalState)
	assert.Equal(t, StateIdle, slot.State(), "finish() resets the slot for reuse")
}

func TestHandleResponseMatchesSendingSlotByMessageID(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	cfg := DefaultConfigure()
	pool := NewPool(4, cfg, clock, fakeRng{}, nil)

	var state SlotState
	var gotResp *Message
	msg := &Message{Type: Confirmable, Code: CodeGET, MessageID: 42, Token: []byte{1, 2}}
	_, err := pool.Init(msg, fakeEndpoint("peer"), func(s *Slot, resp *Message, st SlotState, data interface{}) {
		state = st
		gotResp = resp
	}, nil, DefaultSerializeOptions())
	require.NoError(t, err)

	resp := &Message{Type: Acknowledgement, Code: CodeContent, MessageID: 42, Token: []byte{1, 2}}
	slot, ok := pool.HandleResponse(resp, fakeEndpoint("peer"), false, false)
	require.True(t, ok)
	assert.NotNil(t, slot)
	assert.Equal(t, StateSuccess, state)
	assert.Equal(t, resp, gotResp)
}

func TestHandleResponseMatchesEmptySlotByTokenAlone(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	cfg := DefaultConfigure()
	pool := NewPool(4, cfg, clock, fakeRng{}, nil)

	var state SlotState
	msg := &Message{Type: Confirmable, Code: CodeGET, MessageID: 9, Token: []byte{0xAA}}
	_, err := pool.Init(msg, fakeEndpoint("peer"), func(s *Slot, resp *Message, st SlotState, data interface{}) {
		state = st
	}, nil, DefaultSerializeOptions())
	require.NoError(t, err)

	ack := &Message{Type: Acknowledgement, Code: CodeEmpty, MessageID: 9}
	_, ok := pool.HandleResponse(ack, fakeEndpoint("peer"), false, false)
	require.True(t, ok)
	assert.Equal(t, StateIdle, state) // callback not fired yet, transitioned to Empty internally

	// The separated response arrives later with a new message-id but the
	// same token.
	sep := &Message{Type: Confirmable, Code: CodeContent, MessageID: 1234, Token: []byte{0xAA}}
	_, ok = pool.HandleResponse(sep, fakeEndpoint("peer"), false, false)
	require.True(t, ok)
	assert.Equal(t, StateSuccess, state)
}

func TestCancelFiresCallbackWithoutResponse(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	cfg := DefaultConfigure()
	pool := NewPool(4, cfg, clock, fakeRng{}, nil)

	var state SlotState
	msg := &Message{Type: Confirmable, Code: CodeGET, MessageID: 5}
	slot, err := pool.Init(msg, fakeEndpoint("peer"), func(s *Slot, resp *Message, st SlotState, data interface{}) {
		state = st
	}, nil, DefaultSerializeOptions())
	require.NoError(t, err)

	pool.Cancel(slot)
	assert.Equal(t, StateCancelled, state)
}

func TestPoolExhaustion(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	cfg := DefaultConfigure()
	pool := NewPool(1, cfg, clock, fakeRng{}, nil)

	msg := &Message{Type: Confirmable, Code: CodeGET, MessageID: 1}
	_, err := pool.Init(msg, fakeEndpoint("a"), nil, nil, DefaultSerializeOptions())
	require.NoError(t, err)

	_, err = pool.Init(msg, fakeEndpoint("b"), nil, nil, DefaultSerializeOptions())
	require.Error(t, err)
	assert.Equal(t, ErrNoFreeSlots, KindOf(err))
}

func TestConfigureValidate(t *testing.T) {
	cfg := DefaultConfigure()
	require.NoError(t, cfg.Validate())

	bad := cfg
	bad.AckRandomFactor = 0.5
	require.Error(t, bad.Validate())

	bad = cfg
	bad.MaxRetransmit = -1
	require.Error(t, bad.Validate())
}
