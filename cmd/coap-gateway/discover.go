package main

import (
	"fmt"
	"net"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	coap "github.com/coapcore/go-coap"
)

func resolveUDP(addr string) (*net.UDPAddr, error) {
	return net.ResolveUDPAddr("udp", addr)
}

// noopRegisterer discards registration, used for the short-lived
// discover subcommand which has no /metrics endpoint of its own.
type noopRegisterer struct{}

func (noopRegisterer) Register(prometheus.Collector) error  { return nil }
func (noopRegisterer) MustRegister(...prometheus.Collector) {}
func (noopRegisterer) Unregister(prometheus.Collector) bool  { return true }

func newDiscoverCmd() *cobra.Command {
	var target string
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "discover",
		Short: "GET /.well-known/core from a CoAP server and print its links",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDiscover(target, timeout)
		},
	}
	cmd.Flags().StringVar(&target, "target", "coap://127.0.0.1:5683", "server URI")
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Second, "response wait timeout")
	return cmd
}

func runDiscover(target string, timeout time.Duration) error {
	uri, err := coap.ParseURI(target)
	if err != nil {
		return fmt.Errorf("parse target: %w", err)
	}

	transport := coap.NewUDPTransport()
	if err := transport.Bind(":0"); err != nil {
		return fmt.Errorf("bind local socket: %w", err)
	}
	defer transport.Close()

	cfg := coap.DefaultConfigure()
	cfg.Profile = coap.ProfileClient
	clock := coap.NewSystemClock()
	rng := coap.NewRng(time.Now().UnixNano())
	metrics := coap.NewMetrics(noopRegisterer{})
	engine := coap.NewEngine(transport, coap.NewTree(), cfg, 4, clock, rng, metrics)

	peerAddr := fmt.Sprintf("%s:%d", uri.Host, uri.Port)
	udpAddr, err := resolveUDP(peerAddr)
	if err != nil {
		return err
	}
	peer := coap.UDPEndpoint{Addr: udpAddr}

	req := coap.NewFactory(coap.Confirmable, coap.CodeGET).
		WithMessageID(engine.NextMessageID()).
		AddPath(".well-known", "core")
	msg := req.Message()

	done := make(chan *coap.Message, 1)
	_, err = engine.Request(&msg, peer, func(slot *coap.Slot, resp *coap.Message, state coap.SlotState, data interface{}) {
		done <- resp
	}, nil)
	if err != nil {
		return fmt.Errorf("send discovery request: %w", err)
	}

	go engine.Run(50 * time.Millisecond)
	select {
	case resp := <-done:
		if resp == nil {
			return fmt.Errorf("discovery request timed out or was cancelled")
		}
		return printLinks(resp.Payload)
	case <-time.After(timeout):
		return fmt.Errorf("discovery request timed out")
	}
}

func printLinks(payload []byte) error {
	links, err := coap.ParseLinkFormat(string(payload))
	if err != nil {
		return fmt.Errorf("parse link-format response: %w", err)
	}
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Target", "Attributes"})
	for _, l := range links {
		var attrs string
		for i, a := range l.Attrs {
			if i > 0 {
				attrs += " "
			}
			if a.Value == "" {
				attrs += a.Name
			} else {
				attrs += a.Name + "=" + a.Value
			}
		}
		table.Append([]string{l.Target, attrs})
	}
	table.Render()
	return nil
}
