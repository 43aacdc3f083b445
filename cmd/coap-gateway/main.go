// Command coap-gateway runs a CoAP resource server and admin HTTP mux,
// or queries one for discovery, from a YAML/flag/env-bound configuration.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "coap-gateway",
		Short: "CoAP resource server and discovery client",
	}
	root.PersistentFlags().String("config", "", "path to a YAML config file")
	root.AddCommand(newServeCmd(), newDiscoverCmd())
	return root
}
