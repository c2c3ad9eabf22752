// Command bff is the process entry point: cobra CLI wiring, config
// loading, and exit codes, in the shape of lxd-user/main.go
// (cmdGlobal holding persistent flags, app.SetVersionTemplate).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const defaultConfigPath = "config.hcl"

// version is overridden at build time via -ldflags.
var version = "dev"

type cmdGlobal struct {
	flagConfig string
}

func main() {
	globals := &cmdGlobal{}

	app := &cobra.Command{
		Use:     "bff",
		Short:   "OIDC backend-for-frontend authentication proxy",
		Version: version,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(globals)
		},
	}

	app.PersistentFlags().StringVarP(&globals.flagConfig, "config", "f", defaultConfigPath, "Path to the configuration file")
	app.SetVersionTemplate("{{.Version}}\n")

	if err := app.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
