package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"

	"kuroko/internal/config"
	"kuroko/internal/experience"
	"kuroko/internal/model"
	"kuroko/internal/observer"
	"kuroko/internal/plan"
	"kuroko/internal/search"
	"kuroko/internal/server"
	"kuroko/internal/uploader"
	"kuroko/internal/util"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	log.SetOutput(os.Stdout)
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	util.Infof("starting kuroko advisor on %s", cfg.ListenAddr())
	if data, err := yaml.Marshal(&cfg); err == nil {
		util.Detailf("config:\n%s", string(data))
	}

	if err := run(cfg); err != nil && err != context.Canceled {
		fmt.Fprintf(os.Stderr, "run failed: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	exp, err := experience.Open(cfg.Experience.Path)
	if err != nil {
		return err
	}

	feat := plan.TreeFeaturizer{}
	gate := model.NewGate(cfg.Gate.Tolerance, feat)
	up := uploader.New(cfg.Storage)
	registry := model.NewRegistry(gate, exp, cfg.Gate.ReferenceSize, cfg.Registry.Dir, cfg.Registry.ArchiveDir, up)

	var searchLog *search.Log
	if cfg.Search.LogDir != "" {
		searchLog, err = search.OpenLog(cfg.Search.LogDir)
		if err != nil {
			return err
		}
		defer util.CloseWithErr(searchLog, "search log")
	}
	sessions := search.NewStore(cfg.Search.LowerBound, cfg.Search.UpperBound, cfg.Search.StepFactor, searchLog)

	sinks := make([]observer.Sink, 0, 2)
	if cfg.Observability.PerfLogPath != "" {
		fileSink, err := observer.NewFileSink(cfg.Observability.PerfLogPath)
		if err != nil {
			return err
		}
		defer util.CloseWithErr(fileSink, "perf log")
		sinks = append(sinks, fileSink)
	}
	var promReg *prometheus.Registry
	if cfg.Observability.MetricsAddr != "" {
		promReg = prometheus.NewRegistry()
		promSink := observer.NewPromSink(promReg)
		registry.SwapHook = promSink.ModelSwapped
		sinks = append(sinks, promSink)
	}

	if cfg.ModelPath != "" {
		if res, err := registry.Load(cfg.ModelPath); err != nil {
			util.Warnf("startup model load failed path=%s err=%v", cfg.ModelPath, err)
		} else {
			util.Infof("startup model load path=%s accepted=%v version=%s", cfg.ModelPath, res.Accepted, res.Version)
		}
	}

	lis, err := net.Listen("tcp", cfg.ListenAddr())
	if err != nil {
		return err
	}

	srv := server.New(cfg, registry, feat, exp, sessions, observer.Multi(sinks...))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Serve(ctx, lis)
	})
	if cfg.Registry.WatchDir != "" {
		g.Go(func() error {
			return registry.Watch(ctx, cfg.Registry.WatchDir)
		})
	}
	if promReg != nil {
		g.Go(func() error {
			return observer.ServeMetrics(ctx, cfg.Observability.MetricsAddr, promReg)
		})
	}
	return g.Wait()
}
