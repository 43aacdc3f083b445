package coap

import (
	"net"
	"syscall"
	"time"

	"github.com/higebu/netfd"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
	"golang.org/x/sys/unix"
)

// MulticastIPv4 and MulticastIPv6 are the "All CoAP Nodes" group
// addresses (RFC 7252 §12.8).
const (
	MulticastIPv4 = "224.0.1.187"
	MulticastIPv6 = "[FF02::FD]"
	DefaultPort   = 5683
)

// UDPEndpoint wraps a *net.UDPAddr as an Endpoint.
type UDPEndpoint struct {
	Addr *net.UDPAddr
}

func (e UDPEndpoint) String() string { return e.Addr.String() }

func (e UDPEndpoint) Equal(other Endpoint) bool {
	o, ok := other.(UDPEndpoint)
	if !ok || o.Addr == nil || e.Addr == nil {
		return false
	}
	return e.Addr.IP.Equal(o.Addr.IP) && e.Addr.Port == o.Addr.Port
}

// UDPTransport is the default Transport, a thin wrapper over net.UDPConn
// with optional multicast group membership for CoRE resource discovery
// (grounded on junbin-yang-dsoftbus-go/pkg/discovery/coap's use of
// golang.org/x/net/ipv4 for the same purpose).
type UDPTransport struct {
	conn       *net.UDPConn
	pconn4     *ipv4.PacketConn
	pconn6     *ipv6.PacketConn
	multicast4 bool
	multicast6 bool
	reusePort  bool
	iface      *net.Interface
}

// NewUDPTransport returns an unbound UDPTransport. Call JoinMulticast
// before Bind to join the "All CoAP Nodes" groups.
func NewUDPTransport() *UDPTransport {
	return &UDPTransport{}
}

// JoinMulticast enables group membership for Bind, on the given
// interface (nil for system default).
func (t *UDPTransport) JoinMulticast(v4, v6 bool, iface *net.Interface) {
	t.multicast4 = v4
	t.multicast6 = v6
	t.iface = iface
}

// SetReusePort enables SO_REUSEPORT on the socket Bind creates, letting
// several engine instances share one port (e.g. a multicast listener
// alongside a unicast one). Grounded on the runZeroInc tcpinfo forks'
// use of github.com/higebu/netfd to reach the raw fd of a *net.UDPConn
// for golang.org/x/sys/unix socket-option tuning.
func (t *UDPTransport) SetReusePort(enable bool) { t.reusePort = enable }

func (t *UDPTransport) applyReusePort() error {
	fd := netfd.GetFdFromConn(t.conn)
	if err := unix.SetsockoptInt(fd, syscall.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
		return newErr(ErrSocketError, "SO_REUSEPORT: "+err.Error())
	}
	return nil
}

func (t *UDPTransport) Open() error { return nil }

// Bind listens on addr ("host:port", host may be empty) and, if
// requested, joins the multicast groups and disables loopback so a
// server does not receive its own multicast discovery requests.
func (t *UDPTransport) Bind(addr string) error {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return newErr(ErrInvalidData, "resolve bind address: "+err.Error())
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return newErr(ErrEndpointError, "listen udp: "+err.Error())
	}
	t.conn = conn

	if t.reusePort {
		if err := t.applyReusePort(); err != nil {
			return err
		}
	}

	if t.multicast4 {
		t.pconn4 = ipv4.NewPacketConn(conn)
		group := &net.UDPAddr{IP: net.ParseIP(MulticastIPv4)}
		if err := t.pconn4.JoinGroup(t.iface, group); err != nil {
			return newErr(ErrEndpointError, "join ipv4 multicast group: "+err.Error())
		}
		_ = t.pconn4.SetMulticastLoopback(false)
	}
	if t.multicast6 {
		t.pconn6 = ipv6.NewPacketConn(conn)
		ip := net.ParseIP(MulticastIPv6[1 : len(MulticastIPv6)-1])
		group := &net.UDPAddr{IP: ip}
		if err := t.pconn6.JoinGroup(t.iface, group); err != nil {
			return newErr(ErrEndpointError, "join ipv6 multicast group: "+err.Error())
		}
		_ = t.pconn6.SetMulticastLoopback(false)
	}
	return nil
}

// Send writes data to the peer (which must be a UDPEndpoint).
func (t *UDPTransport) Send(data []byte, to Endpoint) (int, error) {
	ep, ok := to.(UDPEndpoint)
	if !ok {
		return 0, newErr(ErrEndpointError, "peer is not a UDPEndpoint")
	}
	n, err := t.conn.WriteToUDP(data, ep.Addr)
	if err != nil {
		return n, newErr(ErrSocketError, err.Error())
	}
	return n, nil
}

// Receive reads one datagram into buf, blocking up to timeout. A
// deadline expiry with no data is reported as ErrBufferEmpty so the
// engine's run loop can distinguish "nothing arrived" from a real I/O
// failure.
func (t *UDPTransport) Receive(buf []byte, timeout time.Duration) (int, Endpoint, error) {
	if err := t.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return 0, nil, newErr(ErrSocketError, err.Error())
	}
	n, addr, err := t.conn.ReadFromUDP(buf)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return 0, nil, newErr(ErrBufferEmpty, "receive timeout")
		}
		return 0, nil, newErr(ErrSocketError, err.Error())
	}
	return n, UDPEndpoint{Addr: addr}, nil
}

func (t *UDPTransport) Close() error {
	if t.conn == nil {
		return nil
	}
	return t.conn.Close()
}

// LocalPort reports the transport's bound port, 0 if unbound.
func (t *UDPTransport) LocalPort() int {
	if t.conn == nil {
		return 0
	}
	addr, ok := t.conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return 0
	}
	return addr.Port
}
