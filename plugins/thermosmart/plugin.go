package thermosmart

import (
	"context"
	_ "embed"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"

	"github.com/joshp123/thermosync/internal/core"
	"github.com/joshp123/thermosync/internal/oauth"
	"github.com/joshp123/thermosync/internal/thermostat"
)

//go:embed AGENTS.md
var agentsMD string

//go:embed dashboard.json
var dashboardJSON []byte

// DeviceManager is the device surface the plugin exposes over HTTP and gRPC.
type DeviceManager interface {
	Devices() []thermostat.Device
	Device(id string) (thermostat.Device, error)
	WriteTargetTemperature(ctx context.Context, id string, celsius float64) (thermostat.Device, error)
	WritePause(ctx context.Context, id string, paused bool) (thermostat.Device, error)
	WriteOutsideTemperature(ctx context.Context, id string, celsius float64) error
	RemoveDevice(ctx context.Context, id string) error
	Refresh(id string) error
	Pair(ctx context.Context, code string) (thermostat.Device, error)
}

// Authorizer builds the vendor consent URL.
type Authorizer interface {
	AuthCodeURL(state string) string
}

// Options wires the plugin to the running sync core.
type Options struct {
	Devices     DeviceManager
	Queue       QueueDepth
	Webhook     http.Handler
	Auth        Authorizer
	Declaration oauth.Declaration
	Logger      *slog.Logger
}

// Plugin implements the thermosync plugin contract for ThermoSmart.
type Plugin struct {
	devices DeviceManager
	queue   QueueDepth
	webhook http.Handler
	auth    Authorizer
	decl    oauth.Declaration
	logger  *slog.Logger
	pairing *pairStates

	health        core.HealthStatus
	healthMessage string
}

func NewPlugin(opts Options) *Plugin {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	p := &Plugin{
		devices: opts.Devices,
		queue:   opts.Queue,
		webhook: opts.Webhook,
		auth:    opts.Auth,
		decl:    opts.Declaration,
		logger:  logger,
		pairing: newPairStates(),
		health:  core.HealthHealthy,
	}
	switch {
	case opts.Devices == nil:
		p.health = core.HealthError
		p.healthMessage = "device manager not configured"
	case opts.Auth == nil:
		p.health = core.HealthDegraded
		p.healthMessage = "pairing disabled: client credentials missing"
	}
	return p
}

func (p *Plugin) ID() string {
	return "thermosmart"
}

func (p *Plugin) Manifest() core.Manifest {
	return core.Manifest{
		PluginID:    "thermosmart",
		DisplayName: "ThermoSmart",
		Version:     "0.1.0",
		Services:    []string{ServiceName},
	}
}

func (p *Plugin) AgentsMD() string {
	return agentsMD
}

func (p *Plugin) OAuthDeclaration() oauth.Declaration {
	return p.decl
}

func (p *Plugin) Dashboards() []core.Dashboard {
	return []core.Dashboard{{Name: "thermosmart-overview", JSON: dashboardJSON}}
}

func (p *Plugin) RegisterGRPC(server *grpc.Server) error {
	if p.devices == nil {
		return nil
	}
	return NewService(p.devices).Definition().Register(server)
}

func (p *Plugin) RegisterHTTP(r chi.Router) {
	if p.webhook != nil {
		r.Method(http.MethodPost, "/webhooks/thermosmart", p.webhook)
	}
	if p.devices == nil {
		return
	}
	r.Route("/api/devices", func(r chi.Router) {
		r.Get("/", p.listDevices)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", p.getDevice)
			r.Delete("/", p.removeDevice)
			r.Put("/target_temperature", p.setTargetTemperature)
			r.Put("/pause", p.setPause)
			r.Post("/refresh", p.refresh)
		})
	})
	r.Get("/pair/start", p.pairStart)
	r.Get("/pair/callback", p.pairCallback)
}

func (p *Plugin) Collectors() []prometheus.Collector {
	collectors := RequestCollectors()
	if p.devices != nil {
		collectors = append(collectors, NewMetricsCollector(p.devices, p.queue))
	}
	return collectors
}

func (p *Plugin) Health() core.HealthStatus {
	return p.health
}

func (p *Plugin) HealthMessage() string {
	return p.healthMessage
}
