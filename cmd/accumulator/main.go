package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/HerbHall/accumulator/internal/adapter"
	"github.com/HerbHall/accumulator/internal/adapter/senseair"
	"github.com/HerbHall/accumulator/internal/component"
	"github.com/HerbHall/accumulator/internal/config"
	"github.com/HerbHall/accumulator/internal/devices"
	"github.com/HerbHall/accumulator/internal/discovery"
	"github.com/HerbHall/accumulator/internal/history"
	"github.com/HerbHall/accumulator/internal/listener"
	"github.com/HerbHall/accumulator/internal/logging"
	"github.com/HerbHall/accumulator/internal/publish"
	"github.com/HerbHall/accumulator/internal/runner"
	"github.com/HerbHall/accumulator/internal/server"
	"github.com/HerbHall/accumulator/internal/store"
	"github.com/HerbHall/accumulator/internal/version"
	"github.com/HerbHall/accumulator/pkg/models"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "backup":
			runBackup(os.Args[2:])
			return
		case "restore":
			runRestore(os.Args[2:])
			return
		}
	}

	configPath := flag.String("config", "", "path to configuration file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Info())
		return
	}

	settings, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "accumulator: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(logging.Config{Level: settings.Log.Level, Format: settings.Log.Format})
	if err != nil {
		fmt.Fprintf(os.Stderr, "accumulator: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("accumulator starting", zap.String("version", version.Short()))

	if err := run(settings, logger); err != nil {
		logger.Error("accumulator exited with error", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
	logger.Info("accumulator stopped")
}

func run(s *config.Settings, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	var db *store.SQLiteStore
	if s.History.Backend == history.BackendSQLite {
		var err error
		if db, err = store.New(s.History.Path); err != nil {
			return fmt.Errorf("open history database: %w", err)
		}
	}
	hist, err := history.Open(ctx, history.Options{
		Backend:            s.History.Backend,
		MaxPointsPerSeries: s.History.MaxPointsPerSeries,
	}, db, logger.Named("history"))
	if err != nil {
		if db != nil {
			_ = db.Close()
		}
		return fmt.Errorf("open history: %w", err)
	}

	registry := devices.New(s.Runner.DeviceTTL(), logger.Named("devices"))
	adapters := adapter.NewRegistry(senseair.NewFactory(senseair.NewHTTPClient(0)))

	var sinks []runner.SnapshotSink
	var mqttSink *publish.MQTTSink
	if s.MQTT.Enabled {
		mqttSink, err = publish.NewMQTT(publish.MQTTConfig{
			Broker:      s.MQTT.Broker,
			ClientID:    s.MQTT.ClientID,
			TopicPrefix: s.MQTT.TopicPrefix,
			QoS:         byte(s.MQTT.QoS),
			Retain:      s.MQTT.Retain,
			QueueSize:   s.MQTT.QueueSize,
		}, logger)
		if err != nil {
			_ = hist.Close()
			if db != nil {
				_ = db.Close()
			}
			return err
		}
		sinks = append(sinks, mqttSink)
	}

	r, err := runner.New(runner.Options{
		Logger:       logger,
		Devices:      registry,
		Adapters:     adapters,
		History:      hist,
		Sinks:        sinks,
		Metrics:      runner.NewMetrics(promReg),
		PollInterval: s.Runner.PollInterval(),
		PollTimeout:  s.Runner.PollTimeout(),
	})
	if err != nil {
		_ = hist.Close()
		if db != nil {
			_ = db.Close()
		}
		return err
	}

	srv := server.New(s.Server.Addr(), server.Deps{
		State:    registry,
		History:  hist,
		Gatherer: promReg,
	}, logger)

	udp := listener.New(s.Listener.BindHost, s.Listener.Port, r.OnDevice, logger)

	comps := component.NewRegistry(logger.Named("component"))
	for _, c := range []component.Component{
		component.Hooks{
			Label: "history",
			OnStop: func(context.Context) error {
				err := hist.Close()
				if db != nil {
					err = errors.Join(err, db.Close())
				}
				return err
			},
		},
		background("retention", func(ctx context.Context) {
			history.RunRetention(ctx, hist, s.History.RetentionDays, s.History.RetentionInterval(), logger.Named("retention"))
		}),
		component.Hooks{
			Label: "server",
			OnStart: func(context.Context) error {
				g.Go(srv.Start)
				return nil
			},
			OnStop: srv.Shutdown,
		},
		component.Hooks{
			Label: "mqtt",
			OnStop: func(context.Context) error {
				if mqttSink == nil {
					return nil
				}
				return mqttSink.Close()
			},
		},
		component.Hooks{
			Label: "runner",
			OnStart: func(context.Context) error {
				r.Start()
				return nil
			},
			OnStop: func(context.Context) error {
				r.Stop()
				return nil
			},
		},
		mdnsComponent(s.MDNS, r.OnDevice, logger),
		component.Hooks{
			Label:   "listener",
			OnStart: udp.Start,
			OnStop:  func(context.Context) error { return udp.Stop() },
		},
	} {
		if err := comps.Register(c); err != nil {
			return err
		}
	}

	if err := comps.StartAll(gctx); err != nil {
		return errors.Join(err, g.Wait())
	}
	logger.Info("accumulator ready",
		zap.String("http_addr", s.Server.Addr()),
		zap.String("udp_addr", udp.Addr().String()),
		zap.String("history_backend", s.History.Backend),
	)

	<-gctx.Done()
	if ctx.Err() != nil {
		logger.Info("received shutdown signal")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	stopErr := comps.StopAll(shutdownCtx)

	return errors.Join(g.Wait(), stopErr)
}

// background runs fn in a goroutine from Start until Stop cancels it.
func background(name string, fn func(ctx context.Context)) component.Component {
	var (
		cancel context.CancelFunc
		wg     sync.WaitGroup
	)
	return component.Hooks{
		Label: name,
		OnStart: func(context.Context) error {
			var ctx context.Context
			ctx, cancel = context.WithCancel(context.Background())
			wg.Add(1)
			go func() {
				defer wg.Done()
				fn(ctx)
			}()
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			wg.Wait()
			return nil
		},
	}
}

func mdnsComponent(s config.MDNSSettings, onDevice func(d models.DiscoveredDevice), logger *zap.Logger) component.Component {
	if !s.Enabled {
		return component.Hooks{Label: "mdns"}
	}
	b := discovery.NewMDNSBrowser(s.Service, s.Interval(), onDevice, logger)
	return background("mdns", b.Run)
}
