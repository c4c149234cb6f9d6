// Copyright (c) 2026 labctld contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package main

import (
	"context"
	"fmt"
	"net/http"
	"net/rpc"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/ssh"

	"laas.dev/core/labctld/internal/config"
	"laas.dev/core/labctld/internal/dhcp"
	"laas.dev/core/labctld/internal/dispatch"
	"laas.dev/core/labctld/internal/inventory"
	"laas.dev/core/labctld/internal/ipmi"
	"laas.dev/core/labctld/internal/mailbox"
	"laas.dev/core/labctld/internal/metrics"
	"laas.dev/core/labctld/internal/netconfig"
	"laas.dev/core/labctld/internal/netmon"
	"laas.dev/core/labctld/internal/notify"
	"laas.dev/core/labctld/internal/pxe"
	"laas.dev/core/labctld/internal/runtime"
	"laas.dev/core/labctld/internal/scheduler"
	"laas.dev/core/labctld/internal/store"
	"laas.dev/core/labctld/internal/sweep"
	"laas.dev/core/labctld/internal/task"
	"laas.dev/core/labctld/internal/userdir"
	"laas.dev/core/labctld/internal/workflow"

	"laas.dev/core/labctld/internal/allocator"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the labctld daemon",
	RunE:  runServe,
}

func newLogger(cfg config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}

	if cfg.LogJSON {
		return zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
	}

	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).Level(level).With().Timestamp().Logger()
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(afero.NewOsFs(), configPath)
	if err != nil {
		return err
	}

	log := newLogger(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, closeDB, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer closeDB()

	st := store.New(db, log.With().Str("component", "store").Logger())
	alloc := allocator.New(db, log.With().Str("component", "allocator").Logger())
	inv := inventory.New(db)

	ipmiDriver := ipmi.NewDriver(cfg.IPMI.RatePerSecond, cfg.IPMI.Burst, log.With().Str("component", "ipmi").Logger())

	switchLocks, err := netconfig.NewSwitchLocks(cfg.Network.MaxSwitchLocks, log.With().Str("component", "netconfig").Logger())
	if err != nil {
		return fmt.Errorf("build switch lock cache: %w", err)
	}
	defer switchLocks.Close()

	switchDriver := netconfig.NewSSHDriver(inv, log.With().Str("component", "netconfig").Logger())

	mb := mailbox.New(cfg.Mailbox.PublicBaseURL, log.With().Str("component", "mailbox").Logger())
	go func() {
		if err := mb.ListenAndServe(cfg.Mailbox.ListenAddr); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("mailbox listener stopped")
		}
	}()
	defer mb.Close(ctx) //nolint:errcheck

	var pusher *pxe.Pusher
	if cfg.Network.SFTPAddr != "" {
		keyAuth, err := sshKeyAuth(cfg.Network.SFTPKeyPath)
		if err != nil {
			return fmt.Errorf("load sftp key: %w", err)
		}

		pusher, err = pxe.DialPusher(cfg.Network.SFTPAddr, &ssh.ClientConfig{
			User:            cfg.Network.SFTPUser,
			Auth:            []ssh.AuthMethod{keyAuth},
			HostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint:gosec // lab boot server, not internet-facing
			Timeout:         10 * time.Second,
		}, cfg.Network.TFTPRoot)
		if err != nil {
			return fmt.Errorf("dial sftp pusher: %w", err)
		}
		defer pusher.Close()
	}

	var cobbler *pxe.CobblerClient
	if cfg.Network.CobblerRPCAddr != "" {
		addr := cfg.Network.CobblerRPCAddr
		cobbler = pxe.NewCobblerClient(func() (*rpc.Client, error) {
			return rpc.DialHTTP("tcp", addr)
		})
	}

	dhcpSvc := dhcp.NewService(cfg.DHCP.Interface, log.With().Str("component", "dhcp").Logger())
	leases := dhcp.NewObservations()

	tracerProvider, err := metrics.NewTracerProvider(metrics.TracingConfig{
		Enabled:      cfg.Telemetry.TracingOn,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		ServiceName:  "labctld",
	})
	if err != nil {
		return fmt.Errorf("start tracer: %w", err)
	}
	defer tracerProvider.Shutdown(ctx) //nolint:errcheck

	deps := &workflow.Deps{
		Store:     st,
		Allocator: alloc,
		IPMI:      ipmiDriver,
		Switches:  switchLocks,
		Driver:    switchDriver,
		Mailbox:   mb,
		Pusher:    pusher,
		Cobbler:   cobbler,
		Notifier:  notify.LoggingNotifier{Log: log.With().Str("component", "notify").Logger()},
		UserDir:   userdir.NewFake(),
		Inventory: inv,
		Pinger:    netmon.Pinger{Timeout: 5 * time.Second, Log: log.With().Str("component", "netmon").Logger()},
		Leases:    leases,
		Tracer:    tracerProvider.Tracer(),
		Log:       log.With().Str("component", "workflow").Logger(),
	}

	registry := task.NewRegistry()
	workflow.RegisterAll(registry, deps)

	rt := runtime.New(st, registry, scheduler.Options{
		Workers:          cfg.Scheduler.Workers,
		AsyncParallelism: cfg.Scheduler.AsyncParallelism,
	}, log.With().Str("component", "runtime").Logger())

	if err := rt.Start(ctx); err != nil {
		return fmt.Errorf("start runtime: %w", err)
	}
	defer rt.Stop()

	disp := dispatch.New(ctx, rt, deps, log.With().Str("component", "dispatch").Logger())

	sw := sweep.New(st, disp, time.Duration(cfg.Sweep.WarnBeforeMin)*time.Minute, log.With().Str("component", "sweep").Logger())
	if err := sw.Start(cfg.Sweep.Schedule); err != nil {
		return fmt.Errorf("start sweep: %w", err)
	}
	defer sw.Stop()

	go leases.Consume(ctx, dhcpSvc.Events())
	go func() {
		if err := dhcpSvc.Start(ctx); err != nil {
			log.Warn().Err(err).Msg("dhcp lease observer stopped")
		}
	}()
	defer dhcpSvc.Stop() //nolint:errcheck

	metricsProvider, err := metrics.NewProvider(metrics.Sources{
		QueueDepth:      rt.QueueDepth,
		OpenAllocations: alloc.OpenAllocationCount,
		MailboxPending:  mb.PendingWaits,
	})
	if err != nil {
		return fmt.Errorf("start metrics: %w", err)
	}
	defer metricsProvider.Shutdown(ctx) //nolint:errcheck

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{Addr: cfg.Telemetry.MetricsAddr, Handler: metricsMux}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("metrics listener stopped")
		}
	}()

	log.Info().Str("addr", cfg.ListenAddr).Msg("labctld started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	metricsSrv.Shutdown(shutdownCtx) //nolint:errcheck

	return nil
}

func sshKeyAuth(path string) (ssh.AuthMethod, error) {
	key, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, err
	}

	return ssh.PublicKeys(signer), nil
}
