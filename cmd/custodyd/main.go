package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/assetvault/custodyd/internal/config"
	"github.com/assetvault/custodyd/internal/core/domain"
	"github.com/assetvault/custodyd/internal/infrastructure/metrics"
	"github.com/assetvault/custodyd/internal/telemetry"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

// Version will be set during build time
var Version string

const shutdownTimeout = 10 * time.Second

func main() {
	app := cli.NewApp()
	app.Version = Version
	app.Name = "custodyd"
	app.Usage = "custody operation orchestration and reconciliation daemon"
	app.Flags = append([]cli.Flag{configFileFlag}, config.Flags...)
	app.Before = loadConfigFile
	app.Action = mainAction
	app.Commands = append(app.Commands, auditCmd)

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

var auditCmd = &cli.Command{
	Name:   "audit",
	Usage:  "Print the audit trail as JSON",
	Flags:  []cli.Flag{recordIdFlag, operationIdFlag, eventTypeFlag, limitFlag},
	Action: auditAction,
}

func mainAction(ctx *cli.Context) error {
	cfg, err := config.LoadConfig(ctx)
	if err != nil {
		return fmt.Errorf("invalid config: %s", err)
	}

	log.SetLevel(log.Level(cfg.LogLevel))

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %s", err)
	}
	log.Debugf("custodyd config: %s", cfg)

	var otelShutdown func(context.Context) error
	if cfg.OtelCollectorEndpoint != "" {
		otelShutdown, err = telemetry.InitOtelSDK(
			context.Background(), cfg.OtelCollectorEndpoint, cfg.OtelPushInterval,
		)
		if err != nil {
			return err
		}
	}

	svc, err := cfg.AppService()
	if err != nil {
		return fmt.Errorf("failed to create service: %s", err)
	}

	log.Info("starting service...")
	if err := svc.Start(); err != nil {
		return fmt.Errorf("failed to start service: %s", err)
	}

	var metricsServer *http.Server
	if cfg.MetricsPort > 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler(cfg.MetricsRegistry()))
		metricsServer = &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.MetricsPort),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil &&
				!errors.Is(err, http.ErrServerClosed) {
				log.WithError(err).Error("metrics server stopped")
			}
		}()
		log.Infof("metrics exposed on port %d", cfg.MetricsPort)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(
		sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGHUP, os.Interrupt,
	)
	<-sigChan

	log.Info("shutting down service...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("failed to shutdown metrics server")
		}
	}
	svc.Stop()
	if otelShutdown != nil {
		if err := otelShutdown(shutdownCtx); err != nil {
			log.Errorf("failed to shutdown otel: %s", err)
		}
	}

	log.Info("service stopped")
	return nil
}

func auditAction(ctx *cli.Context) error {
	cfg, err := config.LoadConfig(ctx)
	if err != nil {
		return fmt.Errorf("invalid config: %s", err)
	}
	log.SetLevel(log.Level(cfg.LogLevel))

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %s", err)
	}
	repo := cfg.RepoManager()
	defer repo.Close()

	entries, err := repo.Audit().List(ctx.Context, domain.AuditFilter{
		CustodyRecordId: ctx.String(recordIdFlagName),
		OperationId:     ctx.String(operationIdFlagName),
		EventType:       domain.AuditEventType(ctx.String(eventTypeFlagName)),
		Limit:           ctx.Int(limitFlagName),
	})
	if err != nil {
		return fmt.Errorf("failed to list audit logs: %s", err)
	}

	return printJSON(entries)
}

func printJSON(resp interface{}) error {
	jsonBytes, err := json.MarshalIndent(resp, "", "\t")
	if err != nil {
		return err
	}
	fmt.Println(string(jsonBytes))
	return nil
}
