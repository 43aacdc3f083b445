package coap

import (
	"time"
)

// pending is the bookkeeping a separated (deferred) response needs to
// reply later through AsyncResponse: the requester's address, the
// request's type (so the eventual reply's type/ack-vs-con choice
// matches spec.md §5), and the token correlating it back to the
// original request.
type pending struct {
	peer  Endpoint
	typ   CType
	token []byte
}

// Engine ties the wire codec, option catalog, transaction pool and
// resource tree into the single-threaded run loop spec.md §5 describes:
// one goroutine alternates receive-with-timeout, classify-and-process,
// and tick — never the teacher's per-packet-goroutine dispatch, which
// is incompatible with a pool whose slots are not synchronized.
type Engine struct {
	Transport Transport
	Tree      *Tree
	Pool      *Pool
	Metrics   *Metrics
	Configure Configure

	recvBuf   [maxPacketSize]byte
	sendBuf   [maxPacketSize]byte
	nextMID   uint16
	pending   map[string]pending
	stop      chan struct{}
}

// NewEngine wires transport, tree and configuration into a ready-to-run
// Engine, allocating its own transaction pool. metrics is used as given;
// a nil metrics disables instrumentation.
func NewEngine(transport Transport, tree *Tree, cfg Configure, poolSize int, clock Clock, rng Rng, metrics *Metrics) *Engine {
	return &Engine{
		Transport: transport,
		Tree:      tree,
		Pool:      NewPool(poolSize, cfg, clock, rng, metrics),
		Metrics:   metrics,
		Configure: cfg,
		pending:   make(map[string]pending),
		stop:      make(chan struct{}),
	}
}

// NextMessageID hands out sequential message IDs, wrapping at 65536
// (spec.md §3).
func (e *Engine) NextMessageID() uint16 {
	id := e.nextMID
	e.nextMID++
	return id
}

// Request serializes req, arms a transaction slot for it, and sends it
// to peer. cb fires once, on Success/TimedOut/Cancelled.
func (e *Engine) Request(req *Message, peer Endpoint, cb TransactionCallback, data interface{}) (*Slot, error) {
	if e.Configure.Profile == ProfileClient && req.Code.IsSignaling() {
		return nil, newErr(ErrRequestNotSupported, "signaling not supported on this profile")
	}
	slot, err := e.Pool.Init(req, peer, cb, data, DefaultSerializeOptions())
	if err != nil {
		return nil, err
	}
	if _, err := e.Transport.Send(slot.buf[:slot.used], peer); err != nil {
		return nil, err
	}
	if e.Metrics != nil {
		e.Metrics.observeDispatch(req.Code)
	}
	return slot, nil
}

// Run drives the single-threaded loop until Stop is called: receive
// with a tick-sized timeout, process whatever arrived, then tick the
// transaction pool's retransmission timers.
func (e *Engine) Run(tickInterval time.Duration) {
	for {
		select {
		case <-e.stop:
			return
		default:
		}

		n, peer, err := e.Transport.Receive(e.recvBuf[:], tickInterval)
		if err == nil {
			e.processDatagram(e.recvBuf[:n], peer)
		} else if KindOf(err) != ErrBufferEmpty {
			TraceError("receive: %v", err)
		}

		e.Pool.Tick(e.Transport)
	}
}

// Stop halts a running Run loop.
func (e *Engine) Stop() { close(e.stop) }

func (e *Engine) processDatagram(data []byte, peer Endpoint) {
	if healthMonitorEnable && isHealthProbe(data) {
		e.Transport.Send([]byte("IMOK"), peer)
		return
	}

	msg, err := ParseMessage(data, ParseOptions{})
	if err != nil {
		TraceError("parse message from %s: %v", peer, err)
		return
	}

	switch {
	case msg.Code.IsEmpty() && msg.Type == Acknowledgement:
		// Bare ACK to a Confirmable request: the Sending slot transitions
		// to Empty and waits for the separated response (spec.md §4.3).
		e.Pool.HandleResponse(&msg, peer, false, false)
	case msg.Code.IsEmpty() && msg.Type == Reset:
		if slot, ok := e.Pool.HandleResponse(&msg, peer, false, false); ok {
			e.Pool.Cancel(slot)
		}
	case msg.Code.IsResponse():
		e.handleResponse(&msg, peer)
	case msg.Code.IsRequest():
		e.handleRequest(&msg, peer)
	default:
		TraceInfo("dropping unclassifiable message %s from %s", msg.Code, peer)
	}
}

func (e *Engine) handleResponse(msg *Message, peer Endpoint) {
	if _, ok := e.Pool.HandleResponse(msg, peer, false, true); ok {
		return
	}
	// No matching slot: either a separated response arriving after the
	// Empty-ACK window already closed, or an unsolicited response. Check
	// the pending map for a deferred request awaiting exactly this token.
	key := pendingKey(peer, msg.Token)
	if _, ok := e.pending[key]; ok {
		delete(e.pending, key)
	}
}

func (e *Engine) handleRequest(req *Message, peer Endpoint) {
	if e.Configure.Profile == ProfileClient {
		TraceInfo("client profile rejecting inbound request from %s", peer)
		return
	}

	w := Dispatch(e.Tree, req)
	if e.Metrics != nil {
		e.Metrics.observeDispatch(w.msg.Code)
	}

	if w.Deferred() {
		e.pending[pendingKey(peer, req.Token)] = pending{peer: peer, typ: req.Type, token: req.Token}
		if req.Type == Confirmable {
			ack := Message{Type: Acknowledgement, Code: CodeEmpty, MessageID: req.MessageID}
			e.sendMessage(&ack, peer)
		}
		return
	}

	resp := w.Message()
	if noResponseSuppresses(req, resp.Code) {
		return
	}
	if req.Type == Confirmable {
		resp.MessageID = req.MessageID
	} else {
		resp.MessageID = e.NextMessageID()
	}
	e.sendMessage(&resp, peer)
}

// noResponseSuppresses reports whether req's No-Response option (RFC 7967)
// suppresses a response of the given code's class.
func noResponseSuppresses(req *Message, code Code) bool {
	v, ok := req.Options.Get(OptNoResponse)
	if !ok {
		return false
	}
	return NoResponseMask(v.(uint32)).Suppresses(code)
}

// AsyncResponse completes a deferred request previously recorded via
// ResponseWriter.Defer, sending resp to the original requester as a
// separated response (spec.md §5). It is a no-op if no deferral is
// pending for peer+token.
func (e *Engine) AsyncResponse(peer Endpoint, token []byte, resp *Message) bool {
	key := pendingKey(peer, token)
	p, ok := e.pending[key]
	if !ok {
		return false
	}
	delete(e.pending, key)

	resp.Token = p.token
	if p.typ == Confirmable {
		resp.Type = Confirmable
	} else {
		resp.Type = NonConfirmable
	}
	resp.MessageID = e.NextMessageID()
	e.sendMessage(resp, peer)
	return true
}

func (e *Engine) sendMessage(msg *Message, peer Endpoint) {
	n, err := msg.MarshalBinary(e.sendBuf[:], DefaultSerializeOptions())
	if err != nil {
		if KindOf(err) == ErrInsufficientBuffer {
			// spec.md §5's recoverable path: a response too large for the
			// fixed buffer becomes a 4.13 Request Entity Too Large rather
			// than a dropped datagram.
			fallback := Message{Type: msg.Type, Code: CodeRequestEntityTooLarge, MessageID: msg.MessageID, Token: msg.Token}
			n, err = fallback.MarshalBinary(e.sendBuf[:], DefaultSerializeOptions())
			if err != nil {
				TraceError("marshal fallback response: %v", err)
				return
			}
		} else {
			TraceError("marshal response: %v", err)
			return
		}
	}
	if _, err := e.Transport.Send(e.sendBuf[:n], peer); err != nil {
		TraceError("send response to %s: %v", peer, err)
	}
}

func pendingKey(peer Endpoint, token []byte) string {
	return peer.String() + "|" + string(token)
}
