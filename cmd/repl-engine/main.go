// Command repl-engine runs the real-time database replication engine:
// `serve` starts the coordinator and its HTTP/gRPC status API, `top`
// drives a termbox dashboard against a running instance's status API,
// and `promote` triggers a one-shot failover.
package main

import (
	"context"
	"fmt"
	"log/syslog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	lSyslog "github.com/sirupsen/logrus/hooks/syslog"
	"github.com/spf13/pflag"

	"github.com/flowbase/repl-engine/adapter"
	"github.com/flowbase/repl-engine/apiserver"
	"github.com/flowbase/repl-engine/config"
	"github.com/flowbase/repl-engine/coordinator"
	"github.com/flowbase/repl-engine/facade"
	"github.com/flowbase/repl-engine/metrics"
	"github.com/flowbase/repl-engine/replica"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: repl-engine <serve|top|promote|config> [flags]")
		os.Exit(2)
	}

	cmd := os.Args[1]
	fs := pflag.NewFlagSet(cmd, pflag.ExitOnError)
	config.RegisterFlags(fs)
	if err := fs.Parse(os.Args[2:]); err != nil {
		log.WithError(err).Fatal("parsing flags")
	}

	cfg, err := config.Load(fs)
	if err != nil {
		log.WithError(err).Fatal("loading config")
	}

	switch cmd {
	case "serve":
		runServe(cfg)
	case "top":
		runTop(cfg)
	case "promote":
		if fs.NArg() < 1 {
			log.Fatal("promote requires a replica name argument")
		}
		runPromote(cfg, fs.Arg(0))
	case "config":
		out, err := cfg.DumpYAML()
		if err != nil {
			log.WithError(err).Fatal("dumping config")
		}
		fmt.Print(out)
	default:
		fmt.Fprintf(os.Stderr, "unknown subcommand %q\n", cmd)
		os.Exit(2)
	}
}

func buildCoordinator(cfg config.Config) (*coordinator.Coordinator, *metrics.Registry, error) {
	mode := coordinator.Asynchronous
	switch config.Mode(cfg.Mode) {
	case config.ModeSemiSync:
		mode = coordinator.SemiSync
	case config.ModeSynchronous:
		mode = coordinator.Synchronous
	}

	ccfg := coordinator.Config{
		Mode:                  mode,
		MinReplicasSync:       cfg.MinReplicasSync,
		PerReplicaAckTimeout:  cfg.AckTimeout(),
		PromotionDrainTimeout: cfg.PromotionDrainTimeout(),
		EventLogCapacity:      cfg.EventLogCapacity,
		EventLogMaxAge:        cfg.EventLogMaxAge(),
		ReplicaOptions:        replicaOptionsFrom(cfg),
	}

	specs := make([]coordinator.ReplicaSpec, 0, len(cfg.Replicas))
	for _, r := range cfg.Replicas {
		var a adapter.Adapter
		if r.DSN == "memory" {
			a = adapter.NewMemoryAdapter()
		} else {
			a = adapter.NewSQLAdapter(r.DSN)
		}
		specs = append(specs, coordinator.ReplicaSpec{
			Name:          r.Name,
			Role:          r.Role,
			Priority:      r.Priority,
			Enabled:       r.Enabled,
			MaxLagSeconds: r.MaxLagSeconds,
			Adapter:       a,
		})
	}

	reg := metrics.NewRegistry(prometheus.DefaultRegisterer)
	coord, err := coordinator.New(ccfg, specs, reg)
	return coord, reg, err
}

func replicaOptionsFrom(cfg config.Config) replica.Options {
	return replica.Options{
		QueueCapacity:    cfg.PerReplicaQueueCapacity,
		AckTimeout:       cfg.AckTimeout(),
		ReconnectInitial: cfg.ReconnectInitial(),
		ReconnectMax:     cfg.ReconnectMax(),
		ReconnectFactor:  2,
		MaxRetries:       cfg.MaxRetries,
		RetryBase:        1 * time.Second,
	}
}

func installSyslogHook(addr string) {
	if addr == "" {
		return
	}
	hook, err := lSyslog.NewSyslogHook("udp", addr, syslog.LOG_INFO, "repl-engine")
	if err != nil {
		log.WithError(err).Warn("could not install syslog hook, logging locally only")
		return
	}
	log.AddHook(hook)
}

func runServe(cfg config.Config) {
	installSyslogHook(cfg.SyslogAddr)

	coord, _, err := buildCoordinator(cfg)
	if err != nil {
		log.WithError(err).Fatal("building coordinator")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := coord.Start(ctx); err != nil {
		log.WithError(err).Fatal("starting coordinator")
	}

	f := facade.New(coord)

	httpServer, err := apiserver.New(cfg, f)
	if err != nil {
		log.WithError(err).Fatal("building http api")
	}
	grpcServer := apiserver.NewGRPCServer(cfg, f)

	go func() {
		if err := httpServer.ListenAndServe(); err != nil {
			log.WithError(err).Error("http api stopped")
		}
	}()
	go func() {
		if err := grpcServer.ListenAndServe(); err != nil {
			log.WithError(err).Error("grpc api stopped")
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = httpServer.Shutdown(shutdownCtx)
	_ = grpcServer.Shutdown(shutdownCtx)
	f.Stop(cfg.PromotionDrainTimeout())
}

func runPromote(cfg config.Config, replicaName string) {
	coord, _, err := buildCoordinator(cfg)
	if err != nil {
		log.WithError(err).Fatal("building coordinator")
	}
	ctx := context.Background()
	if err := coord.Start(ctx); err != nil {
		log.WithError(err).Fatal("starting coordinator")
	}
	if err := coord.Promote(ctx, replicaName); err != nil {
		log.WithError(err).Fatalf("promotion of %s failed", replicaName)
	}
	fmt.Printf("promoted %s\n", replicaName)
}
