// main.go - billingd: a single CORE or EDGE participant in a
// privacy-preserving energy billing network (see spec.md). Role,
// listen address, and bootstrap target are set by flag/env/config
// file; see config.go.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/meterfold/privatebilling/internal/billing"
	"github.com/meterfold/privatebilling/internal/core"
	"github.com/meterfold/privatebilling/internal/edge"
	"github.com/meterfold/privatebilling/internal/network"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("billingd: fatal")
	}
}

func run() error {
	flags := pflag.NewFlagSet("billingd", pflag.ExitOnError)
	RegisterFlags(flags)
	if err := flags.Parse(os.Args[1:]); err != nil {
		return err
	}

	cfg, err := LoadConfig(flags, ".", "/etc/billingd")
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := InitLogger(cfg.LogLevel, cfg.LogPretty); err != nil {
		return fmt.Errorf("configuring logger: %w", err)
	}

	instanceID := uuid.NewString()
	reg := prometheus.NewRegistry()
	hc := NewHealthChecker()

	var (
		netServer *network.Server
		shutdown  func() error
	)

	switch network.Role(cfg.Role) {
	case network.RoleCore:
		bootstrap, err := cfg.BootstrapAddress()
		if err != nil {
			return err
		}
		c, err := core.New(cfg.Address())
		if err != nil {
			return fmt.Errorf("building core server: %w", err)
		}
		netServer = c.Net
		metrics := NewMetrics(reg, "core", strconv.FormatUint(c.Net.ID(), 16))
		wrapOnNewPeer(c.Net, metrics)
		hc.RegisterComponent("hiding_context", func() error {
			if !c.Ready() {
				return fmt.Errorf("hiding context not yet bootstrapped")
			}
			return nil
		})

		log.Info().Str("instance", instanceID).Stringer("address", cfg.Address()).Stringer("bootstrap", bootstrap).
			Msg("billingd: starting core node")
		if err := c.Start(bootstrap); err != nil {
			return fmt.Errorf("starting core server: %w", err)
		}
		shutdown = c.Stop

	case network.RoleEdge:
		e, err := edge.New(cfg.Address(), cfg.CycleLength)
		if err != nil {
			return fmt.Errorf("building edge server: %w", err)
		}
		netServer = e.Net
		metrics := NewMetrics(reg, "edge", strconv.FormatUint(e.Net.ID(), 16))
		wrapOnNewPeer(e.Net, metrics)
		e.OnBillComputed = func(cid billing.CycleID) {
			metrics.BillsComputed.Inc()
		}
		e.OnBillingFailure = func(cid billing.CycleID, err error) {
			metrics.BillingFailures.Inc()
		}

		log.Info().Str("instance", instanceID).Stringer("address", cfg.Address()).Int("cycle_length", cfg.CycleLength).
			Msg("billingd: starting edge node")
		if err := e.Start(); err != nil {
			return fmt.Errorf("starting edge server: %w", err)
		}
		shutdown = e.Stop

	default:
		return fmt.Errorf("unknown role %q", cfg.Role)
	}

	hc.RegisterComponent("listener", func() error {
		if netServer == nil {
			return fmt.Errorf("network server not initialized")
		}
		return nil
	})

	diagSrv := &http.Server{Addr: cfg.DiagAddr, Handler: NewDiagnosticsRouter(hc, reg)}
	go func() {
		if err := diagSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("billingd: diagnostics server stopped")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info().Msg("billingd: shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = diagSrv.Shutdown(ctx)
	return shutdown()
}

// wrapOnNewPeer composes net's existing OnNewPeer hook (already set by
// core.New/edge.New for role-specific follow-up) with metric updates,
// so billingd observes gossip growth without either package importing
// the metrics registry.
func wrapOnNewPeer(net *network.Server, metrics *Metrics) {
	inner := net.OnNewPeer
	net.OnNewPeer = func(n network.NodeInfo) {
		if inner != nil {
			inner(n)
		}
		metrics.ConnectsHandled.Inc()
		metrics.PeersKnown.Set(float64(len(net.Table.Snapshot())))
	}
}
