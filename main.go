package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sourcegraph/conc"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/leehonan/meterman-server/internal/config"
	"github.com/leehonan/meterman-server/internal/data"
	"github.com/leehonan/meterman-server/internal/device"
	"github.com/leehonan/meterman-server/internal/eventlog"
	"github.com/leehonan/meterman-server/internal/httpapi"
	"github.com/leehonan/meterman-server/internal/httpapi/auth"
	"github.com/leehonan/meterman-server/internal/httpapi/ws"
	"github.com/leehonan/meterman-server/internal/link"
	"github.com/leehonan/meterman-server/internal/sms"
	"github.com/leehonan/meterman-server/internal/store"
)

func buildLogger(levelName string) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(levelName)); err != nil {
		level = zapcore.InfoLevel
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	return cfg.Build()
}

func main() {
	configFile := flag.String("config", "meterman.ini", "path to the INI config file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	logger, err := buildLogger(cfg.App.LogLevel)
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer logger.Sync()

	st, err := store.Open(cfg.App.DBFile)
	if err != nil {
		logger.Fatal("store open error", zap.Error(err))
	}
	defer st.CloseSafe()
	if err := st.Migrate(); err != nil {
		logger.Fatal("store migrate error", zap.Error(err))
	}

	var evlog *eventlog.Logger
	if cfg.EventFile.WriteEventFile {
		evlog, err = eventlog.New(eventlog.Options{Path: cfg.EventFile.EventFile, MeterOnly: cfg.EventFile.MeterOnly})
		if err != nil {
			logger.Fatal("event log open error", zap.Error(err))
		}
	}

	dataMgr := data.New(st, evlog, logger.Named("data"))
	deviceMgr := device.New(dataMgr, logger.Named("device"))

	if cfg.SMS.Enabled {
		deviceMgr.SetNotifier(sms.NewTelstraNotifier(sms.Config{
			ClientID:     cfg.SMS.ClientID,
			ClientSecret: cfg.SMS.ClientSecret,
			ToNumber:     cfg.SMS.ToNumber,
		}))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg conc.WaitGroup

	// One link worker per configured gateway, supervised by a single
	// WaitGroup the way sourcegraph/conc replaces raw go func(){}()
	// fan-out (spec.md §6 domain-stack note).
	for _, gwCfg := range cfg.Gateways {
		gwCfg := gwCfg
		transport, err := link.OpenSerial(gwCfg.SerialPort, gwCfg.SerialBaud)
		if err != nil {
			logger.Fatal("open gateway serial port", zap.String("label", gwCfg.Label), zap.Error(err))
		}
		l := link.New(gwCfg.NetworkID, gwCfg.GatewayID, transport, logger.Named("link").With(zap.String("label", gwCfg.Label)))
		deviceMgr.AddGateway(l)

		wg.Go(func() {
			if err := l.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error("link worker exited", zap.String("label", gwCfg.Label), zap.Error(err))
			}
		})
	}

	for _, simCfg := range cfg.SimMeters {
		gatewayUUID := simCfg.NetworkID + "." + simCfg.GatewayID
		sim := link.NewSimMeter(link.SimMeterConfig{
			NetworkID:     simCfg.NetworkID,
			GatewayID:     simCfg.GatewayID,
			NodeID:        simCfg.NodeID,
			Interval:      simCfg.Interval,
			StartValue:    simCfg.StartVal,
			ReadMin:       simCfg.ReadMin,
			ReadMax:       simCfg.ReadMax,
			MaxMsgEntries: simCfg.MaxMsgEntries,
		})
		deviceMgr.AddSimMeter(gatewayUUID, sim)
	}

	wg.Go(func() {
		if err := deviceMgr.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("device manager exited", zap.Error(err))
		}
	})

	if cfg.RestApi.RunRestApi {
		passwordHash, err := auth.HashPassword(cfg.RestApi.Password)
		if err != nil {
			logger.Fatal("hash operator password", zap.Error(err))
		}
		if err := dataMgr.EnsureUser(cfg.RestApi.User, passwordHash); err != nil {
			logger.Fatal("bootstrap operator user", zap.Error(err))
		}

		hub := ws.NewHub(logger.Named("ws"))
		api := httpapi.NewAPI(dataMgr, deviceMgr, logger.Named("httpapi"))
		secret := cfg.RestApi.Password
		server := httpapi.NewServer(api, hub, cfg.RestApi, secret, logger.Named("httpapi"))

		addr := fmt.Sprintf(":%d", cfg.RestApi.FlaskPort)
		if cfg.RestApi.AccessLanOnly {
			addr = "0.0.0.0" + addr
		}
		httpSrv := &http.Server{
			Addr:         addr,
			Handler:      server.Handler(),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 15 * time.Second,
		}

		wg.Go(func() {
			logger.Info("rest api starting", zap.String("addr", addr))
			if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("rest api server error", zap.Error(err))
			}
		})

		wg.Go(func() {
			<-ctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
			defer shutdownCancel()
			if err := httpSrv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("rest api graceful shutdown failed", zap.Error(err))
				_ = httpSrv.Close()
			}
		})
	}

	watcher, err := config.Watch(*configFile)
	if err != nil {
		logger.Warn("config watch unavailable, live reload disabled", zap.Error(err))
	} else {
		wg.Go(func() {
			for {
				select {
				case <-ctx.Done():
					return
				case newCfg, ok := <-watcher.Reload:
					if !ok {
						return
					}
					logger.Info("config reloaded", zap.Int("gateways", len(newCfg.Gateways)), zap.Int("sim_meters", len(newCfg.SimMeters)))
				case err, ok := <-watcher.Errors():
					if !ok {
						continue
					}
					logger.Warn("config reload failed", zap.Error(err))
				}
			}
		})
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	logger.Info("shutdown signal received, shutting down...")
	cancel()
	wg.Wait()
	logger.Info("server stopped cleanly")
}
