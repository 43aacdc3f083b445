package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	coap "github.com/coapcore/go-coap"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the CoAP resource server and its admin HTTP mux",
		RunE:  runServe,
	}
	cmd.Flags().String("listen-addr", ":5683", "CoAP listen address")
	cmd.Flags().String("admin-addr", ":8080", "admin HTTP listen address")
	cmd.Flags().Bool("multicast", false, "join the All CoAP Nodes multicast groups")
	cmd.Flags().Int("pool-size", 64, "transaction pool capacity")
	cmd.Flags().String("manifest", "", "path to a YAML resource manifest")
	cmd.Flags().Int64("rng-seed", time.Now().UnixNano(), "retransmission jitter RNG seed")
	return cmd
}

func loadConfig(cmd *cobra.Command) (coap.GatewayConfig, error) {
	v := viper.New()
	v.SetEnvPrefix("COAP_GATEWAY")
	v.AutomaticEnv()
	v.BindPFlags(cmd.Flags())

	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		path, _ = cmd.Root().PersistentFlags().GetString("config")
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return coap.GatewayConfig{}, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := coap.GatewayConfig{
		ListenAddr: v.GetString("listen-addr"),
		AdminAddr:  v.GetString("admin-addr"),
		Multicast:  v.GetBool("multicast"),
		PoolSize:   v.GetInt("pool-size"),
		Manifest:   v.GetString("manifest"),
		RngSeed:    v.GetInt64("rng-seed"),
		Configure:  coap.DefaultConfigure(),
	}
	// A config file's "retransmission:" section overrides the defaults
	// above; CLI flags don't carry retransmission tunables, so this is
	// the only input for them.
	if v.IsSet("retransmission") {
		if err := v.UnmarshalKey("retransmission", &cfg.Configure); err != nil {
			return cfg, fmt.Errorf("parse retransmission config: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	tree := coap.NewTree()
	if cfg.Manifest != "" {
		data, err := os.ReadFile(cfg.Manifest)
		if err != nil {
			return fmt.Errorf("read manifest: %w", err)
		}
		roots, err := coap.ParseManifest(data)
		if err != nil {
			return err
		}
		tree = coap.BuildTreeFromManifest(roots)
	}
	coap.AttachWellKnownCore(tree, nil)

	registry := prometheus.NewRegistry()
	metrics := coap.NewMetrics(registry)

	transport := coap.NewUDPTransport()
	if cfg.Multicast {
		transport.JoinMulticast(true, false, nil)
	}
	if err := transport.Bind(cfg.ListenAddr); err != nil {
		return fmt.Errorf("bind %s: %w", cfg.ListenAddr, err)
	}

	clock := coap.NewSystemClock()
	rng := coap.NewRng(cfg.RngSeed)
	engine := coap.NewEngine(transport, tree, cfg.Configure, cfg.PoolSize, clock, rng, metrics)

	mux := chi.NewRouter()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.Get("/debug/resources", debugResourcesHandler(tree))

	go func() {
		coap.TraceInfo("admin mux listening on %s", cfg.AdminAddr)
		if err := http.ListenAndServe(cfg.AdminAddr, mux); err != nil {
			coap.TraceError("admin mux: %v", err)
		}
	}()

	coap.TraceInfo("coap-gateway serving on %s", cfg.ListenAddr)
	engine.Run(500 * time.Millisecond)
	return nil
}

func debugResourcesHandler(tree *coap.Tree) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		links := coap.WriteDiscovery(tree, nil)
		w.Header().Set("Content-Type", "application/link-format")
		w.Write([]byte(coap.EncodeLinkFormat(links)))
	}
}
