package main

import (
	"fmt"
	"net/http"
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/oidcgateway/bff/internal/config"
	"github.com/oidcgateway/bff/internal/logger"
	"github.com/oidcgateway/bff/internal/server"
)

// run loads the configuration and starts the daemon, exiting with the
// precise codes on every configuration failure:
// 1 unreadable file, 2 unresolved environment variables, 3 parse error,
// 4 semantic validation error.
func run(g *cmdGlobal) error {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetOutput(os.Stdout)

	raw, err := os.ReadFile(g.flagConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cannot read configuration file %q: %v\n", g.flagConfig, err)
		os.Exit(1)
	}

	substituted, err := substituteEnv(raw)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	spec, err := config.ParseSpec(g.flagConfig, substituted)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(3)
	}

	cfg, err := config.Build(spec)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(4)
	}

	logger.Debug("loaded configuration", logger.Ctx{"config": cfg.Redacted()})

	handler := server.New(cfg)

	addr := fmt.Sprintf(":%d", cfg.Port)
	logger.Info("starting", logger.Ctx{"address": addr})

	return http.ListenAndServe(addr, handler)
}
