// Package app assembles the sync core, its surfaces and the plugin into one
// runnable daemon.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/joshp123/thermosync/internal/capability"
	"github.com/joshp123/thermosync/internal/config"
	"github.com/joshp123/thermosync/internal/core"
	"github.com/joshp123/thermosync/internal/devices"
	"github.com/joshp123/thermosync/internal/mqtt"
	"github.com/joshp123/thermosync/internal/oauth"
	"github.com/joshp123/thermosync/internal/poll"
	"github.com/joshp123/thermosync/internal/rate"
	"github.com/joshp123/thermosync/internal/reconcile"
	"github.com/joshp123/thermosync/internal/router"
	"github.com/joshp123/thermosync/internal/server"
	"github.com/joshp123/thermosync/internal/store"
	"github.com/joshp123/thermosync/internal/webhook"
	"github.com/joshp123/thermosync/plugins/thermosmart"
)

const shutdownTimeout = 20 * time.Second

// App is a fully wired daemon.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	Store         *store.Store
	Engine        *reconcile.Engine
	Scheduler     *poll.Scheduler
	Subscriptions *webhook.Manager
	Devices       *devices.Manager
	Hub           *server.Hub
	Plugins       []core.Plugin
	Metrics       *prometheus.Registry
	Router        chi.Router

	bridge     *mqtt.Bridge
	mqttClient *mqtt.Client
}

// Build constructs every component from cfg. Nothing runs until Run.
func Build(cfg *config.Config, logger *slog.Logger, version string) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{cfg: cfg, logger: logger}

	clientCfg, err := thermosmart.ConfigFromFile(cfg.ThermoSmart)
	if err != nil {
		return nil, err
	}
	vendor := thermosmart.NewClient(clientCfg)

	a.Store = store.New()
	a.Hub = server.NewHub(logger)
	fanout := capability.NewFanout(capability.LogListener{Logger: logger}, a.Hub)

	a.Engine = reconcile.New(a.Store, vendor, fanout,
		reconcile.WithEchoWindow(cfg.ThermoSmart.EchoWindow),
		reconcile.WithUnavailableAfter(cfg.ThermoSmart.UnavailableAfter),
		reconcile.WithWriteTimeout(cfg.ThermoSmart.RequestTimeout),
		reconcile.WithLogger(logger),
	)
	a.Scheduler = poll.New(vendor, a.Engine, poll.Config{
		Interval: cfg.ThermoSmart.PollInterval,
		Timeout:  cfg.ThermoSmart.RequestTimeout,
		Logger:   logger,
	})

	registrar, err := newRegistrar(cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Subscriptions = webhook.NewManager(registrar, logger)
	receiver := &webhook.Receiver{
		Manager: a.Subscriptions,
		Sink:    a.Engine,
		Secret:  cfg.Webhook.Secret,
		Logger:  logger,
	}

	creds, err := NewCredentialStore(cfg, logger)
	if err != nil {
		return nil, err
	}

	decl := Declaration(cfg)
	opts := devices.Options{
		Subscriptions: a.Subscriptions,
		Credentials:   creds,
		Updater:       vendor,
		Logger:        logger,
	}
	pluginOpts := thermosmart.Options{
		Queue:       a.Engine,
		Webhook:     receiver,
		Declaration: decl,
		Logger:      logger,
	}
	exchanger, err := exchangerFor(cfg, decl)
	switch {
	case err != nil:
		logger.Warn("pairing disabled", "err", err)
	default:
		opts.Exchanger = exchanger
		pluginOpts.Auth = exchanger
	}
	a.Devices = devices.NewManager(a.Store, a.Engine, a.Scheduler, opts)
	pluginOpts.Devices = a.Devices

	if cfg.MQTT.Enabled {
		client, err := mqtt.Connect(cfg.MQTT, logger)
		if err != nil {
			return nil, err
		}
		a.mqttClient = client
		a.bridge = mqtt.NewBridge(client, cfg.MQTT.TopicPrefix, a.Devices, logger)
		fanout.Add(a.bridge)
	}

	a.Plugins = []core.Plugin{thermosmart.NewPlugin(pluginOpts)}
	if err := core.ValidatePlugins(a.Plugins); err != nil {
		return nil, err
	}

	metrics, err := core.MetricsRegistry(version, a.Plugins, sharedCollectors()...)
	if err != nil {
		return nil, err
	}
	a.Metrics = metrics
	a.Router = server.NewRouter(server.RouterOptions{
		Metrics:    a.Metrics,
		Dashboards: core.DashboardsMap(a.Plugins),
		Hub:        a.Hub,
		Logger:     logger,
	})
	router.RegisterHTTP(a.Router, a.Plugins)
	return a, nil
}

// Declaration returns the ThermoSmart OAuth endpoints for cfg.
func Declaration(cfg *config.Config) oauth.Declaration {
	return oauth.ThermoSmartDeclaration(cfg.ThermoSmart.BaseURL, cfg.ThermoSmart.RedirectURL)
}

// NewExchanger builds the pairing exchanger, or fails when client
// credentials are missing.
func NewExchanger(cfg *config.Config) (*oauth.Exchanger, error) {
	return exchangerFor(cfg, Declaration(cfg))
}

func exchangerFor(cfg *config.Config, decl oauth.Declaration) (*oauth.Exchanger, error) {
	if cfg.ThermoSmart.ClientID == "" {
		return nil, errors.New("thermosmart client_id is not set")
	}
	secret, err := cfg.ClientSecret()
	if err != nil {
		return nil, err
	}
	if secret == "" {
		return nil, errors.New("thermosmart client secret is not set")
	}
	return oauth.NewExchanger(decl, cfg.ThermoSmart.ClientID, secret)
}

func newRegistrar(cfg *config.Config, logger *slog.Logger) (webhook.Registrar, error) {
	if !cfg.Webhook.Enabled || cfg.Webhook.RelayURL == "" {
		return webhook.LocalRegistrar{Logger: logger}, nil
	}
	token, err := cfg.RelayToken()
	if err != nil {
		return nil, fmt.Errorf("webhook relay token: %w", err)
	}
	return webhook.NewHTTPRegistrar(cfg.Webhook.RelayURL, token, cfg.Webhook.CallbackURL), nil
}

// NewCredentialStore opens the paired-device store, mirrored to S3 when a
// blob endpoint is configured.
func NewCredentialStore(cfg *config.Config, logger *slog.Logger) (*oauth.CredentialStore, error) {
	var blob oauth.BlobStore
	if cfg.Blob.Enabled() {
		s3, err := oauth.NewS3Store(cfg.Blob)
		if err != nil {
			return nil, err
		}
		blob = s3
	}
	return oauth.NewCredentialStore("thermosmart", cfg.ThermoSmart.CredentialsFile, blob, logger)
}

func sharedCollectors() []prometheus.Collector {
	var out []prometheus.Collector
	out = append(out, reconcile.MetricsCollectors()...)
	out = append(out, poll.MetricsCollectors()...)
	out = append(out, webhook.MetricsCollectors()...)
	out = append(out, oauth.MetricsCollectors()...)
	out = append(out, rate.MetricsCollectors()...)
	out = append(out, mqtt.MetricsCollectors()...)
	return out
}

// Run restores paired devices, serves HTTP and gRPC, and shuts everything
// down when ctx is cancelled.
func (a *App) Run(parent context.Context) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	if dir := a.cfg.Core.DashboardDir; dir != "" {
		if err := core.WriteDashboards(dir, a.Plugins); err != nil {
			a.logger.Warn("failed to write dashboards", "dir", dir, "err", err)
		}
	}

	grpcServer, err := server.NewGRPCServer(a.cfg.Core.GRPCAddr, server.UnaryLogging(a.logger))
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	if err := router.RegisterPlugins(grpcServer.Server, a.Plugins); err != nil {
		return err
	}
	httpServer := server.NewHTTPServer(a.cfg.Core.HTTPAddr, a.Router)

	if n, err := a.Devices.Restore(ctx); err != nil {
		a.logger.Warn("restore failed", "err", err)
	} else if n == 0 {
		a.logger.Info("no paired thermostats; run `thermosync pair` to add one")
	}
	if a.bridge != nil {
		go a.bridge.Run(ctx)
		if err := a.bridge.Start(); err != nil {
			a.logger.Warn("mqtt subscribe failed", "err", err)
		}
		for _, d := range a.Devices.Devices() {
			a.bridge.PublishDevice(d)
		}
	}

	go a.Hub.Run(ctx)

	errCh := make(chan error, 2)
	go func() { errCh <- httpServer.Run(ctx, a.logger) }()
	go func() { errCh <- grpcServer.Run(ctx) }()
	a.logger.Info("thermosync running", "http", a.cfg.Core.HTTPAddr, "grpc", a.cfg.Core.GRPCAddr)

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		cancel()
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()
	if err := a.Devices.Close(shutdownCtx); err != nil {
		a.logger.Warn("webhook teardown failed", "err", err)
	}
	if a.mqttClient != nil {
		_ = a.mqttClient.Close()
	}
	a.logger.Info("thermosync stopped")
	return runErr
}
