// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// idsd is the intrusion detection daemon: it captures traffic, scores flows
// with the frozen model ensemble, and serves alerts over HTTP.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Luffy-coder-319/unified-ids-and-iot-security-system/internal/alert"
	"github.com/Luffy-coder-319/unified-ids-and-iot-security-system/internal/api"
	"github.com/Luffy-coder-319/unified-ids-and-iot-security-system/internal/baseline"
	"github.com/Luffy-coder-319/unified-ids-and-iot-security-system/internal/capture"
	"github.com/Luffy-coder-319/unified-ids-and-iot-security-system/internal/clock"
	"github.com/Luffy-coder-319/unified-ids-and-iot-security-system/internal/config"
	"github.com/Luffy-coder-319/unified-ids-and-iot-security-system/internal/device"
	"github.com/Luffy-coder-319/unified-ids-and-iot-security-system/internal/engine"
	"github.com/Luffy-coder-319/unified-ids-and-iot-security-system/internal/errors"
	"github.com/Luffy-coder-319/unified-ids-and-iot-security-system/internal/logging"
	"github.com/Luffy-coder-319/unified-ids-and-iot-security-system/internal/metrics"
	"github.com/Luffy-coder-319/unified-ids-and-iot-security-system/internal/model"
	"github.com/Luffy-coder-319/unified-ids-and-iot-security-system/internal/notify"
	"github.com/Luffy-coder-319/unified-ids-and-iot-security-system/internal/query"
	"github.com/Luffy-coder-319/unified-ids-and-iot-security-system/internal/response"
	"github.com/Luffy-coder-319/unified-ids-and-iot-security-system/internal/stats"
	"github.com/Luffy-coder-319/unified-ids-and-iot-security-system/internal/store"
)

// Exit codes, following the BSD sysexits convention.
const (
	exitOK           = 0
	exitUsage        = 64 // bad flags or configuration
	exitDataErr      = 65 // unreadable or inconsistent model artifacts
	exitIOErr        = 74 // flow store initialization failed
	exitNoPermission = 77 // capture requires elevated privileges
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configPath = flag.String("config", "ids.hcl", "path to the HCL configuration file")
		replayPath = flag.String("replay", "", "score a pcap file instead of capturing live traffic")
		listenAddr = flag.String("listen", "127.0.0.1:8317", "HTTP API listen address")
	)
	flag.Parse()

	cfg, err := config.LoadFile(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitUsage
	}
	return runDaemon(cfg, *replayPath, *listenAddr)
}

// runDaemon wires the pipeline and blocks until shutdown. The capture source
// is opened before the alert manager, flow store and stats tracker so a
// failed open exits without leaving files behind.
func runDaemon(cfg *config.Config, replayPath, listenAddr string) int {
	logging.SetDefault(logging.New(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	}))
	log := logging.WithComponent("main")
	log.Info("starting idsd", "interface", cfg.Network.Interface)

	m := metrics.New()
	registry := prometheus.NewRegistry()
	if err := m.Register(registry); err != nil {
		log.Error("failed to register metrics", "error", err)
		return exitUsage
	}

	ensemble, err := model.Load(model.Config{
		MLPath:           cfg.Models.MLPath,
		DLPath:           cfg.Models.DLPath,
		ScalerPath:       cfg.Models.ScalerPath,
		ClassMappingPath: cfg.Models.ClassMappingPath,
		OptimalThreshold: cfg.Models.OptimalThreshold,
		MLWeight:         cfg.Models.MLWeight,
		DLWeight:         cfg.Models.DLWeight,
	})
	if err != nil {
		log.Error("failed to load model artifacts", "error", err)
		return exitDataErr
	}

	clk := clock.Real()

	bl, err := baseline.New(baseline.Config{
		Enabled:        *cfg.Detection.AdaptiveBaseline.Enabled,
		LearningPeriod: time.Duration(cfg.Detection.AdaptiveBaseline.LearningPeriod) * time.Second,
		MinOccurrences: cfg.Detection.AdaptiveBaseline.MinOccurrences,
		StatePath:      filepath.Join(cfg.StateDir, "baseline.json"),
	}, clk)
	if err != nil {
		log.Error("failed to initialize adaptive baseline", "error", err)
		return exitIOErr
	}

	source, code := openSource(cfg, replayPath, m, log)
	if code != exitOK {
		return code
	}

	sinks := []alert.Sink{notify.NewDispatcher(cfg.Notifications)}
	responder := response.NewEngine(response.Config{})
	responder.Register(response.NewLogAction())
	sinks = append(sinks, responder)

	alerts, err := alert.NewManager(alert.Config{
		LogPath:      cfg.Alerts.LogPath,
		DedupeWindow: time.Duration(cfg.Alerts.DedupeWindowSeconds) * time.Second,
		MaxAlerts:    cfg.Alerts.MaxAlerts,
	}, clk, m, sinks...)
	if err != nil {
		log.Error("failed to initialize alert manager", "error", err)
		source.Close()
		return exitIOErr
	}

	var flowStore *store.Store
	if *cfg.Database.Enabled {
		flowStore, err = store.Open(store.Config{
			Type:                cfg.Database.Type,
			Directory:           cfg.Database.Directory,
			URL:                 cfg.Database.URL,
			RetentionDays:       *cfg.Database.RetentionDays,
			SaveBenignFlows:     *cfg.Database.SaveBenignFlows,
			SaveAttackFlows:     *cfg.Database.SaveAttackFlows,
			MinConfidenceToSave: cfg.Database.MinConfidenceToSave,
		}, m, engine.StoreBypassAlert(alerts))
		if err != nil {
			log.Error("failed to open flow store", "error", err)
			source.Close()
			return exitIOErr
		}
	}

	tracker := stats.New(filepath.Join(cfg.StateDir, "stats.json"), clk)
	tracker.Start()

	devices := device.NewTracker(clk)

	eng := engine.New(cfg.Detection, engine.Options{
		Source:    source,
		Predictor: ensemble,
		Baseline:  bl,
		Alerts:    alerts,
		Stats:     tracker,
		Store:     flowStore,
		Devices:   devices,
		Metrics:   m,
	})
	eng.Start()

	svc := &query.Service{
		Alerts:  alerts,
		Flows:   eng.Aggregator(),
		Store:   flowStore,
		Stats:   tracker,
		Ring:    eng.Ring(),
		Devices: devices,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	apiErr := make(chan error, 1)
	go func() {
		apiErr <- api.NewServer(svc, registry).ListenAndServe(ctx, listenAddr)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-apiErr:
		if err != nil {
			log.Error("api server failed", "error", err)
		}
	}

	eng.Stop()
	log.Info("idsd stopped")
	return exitOK
}

func openSource(cfg *config.Config, replayPath string, m *metrics.Metrics, log *logging.Logger) (capture.Source, int) {
	if replayPath != "" {
		src, err := capture.OpenReplay(replayPath, m)
		if err != nil {
			log.Error("failed to open capture file", "path", replayPath, "error", err)
			return nil, exitUsage
		}
		log.Info("replaying capture file", "path", replayPath)
		return src, exitOK
	}

	src, err := capture.OpenLive(cfg.Network.Interface, cfg.Network.BPFFilter, m)
	if err != nil {
		log.Error("failed to open capture interface",
			"interface", cfg.Network.Interface, "error", err)
		if errors.GetKind(err) == errors.KindPermission {
			return nil, exitNoPermission
		}
		return nil, exitUsage
	}
	return src, exitOK
}
