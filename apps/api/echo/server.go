package echoapi

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"

	"github.com/smarthomecloud/backend/core"
	"github.com/smarthomecloud/backend/core/alert"
	"github.com/smarthomecloud/backend/core/audio"
	"github.com/smarthomecloud/backend/core/automation"
	"github.com/smarthomecloud/backend/core/configlog"
	"github.com/smarthomecloud/backend/core/dashboard"
	"github.com/smarthomecloud/backend/core/device"
	"github.com/smarthomecloud/backend/core/house"
	"github.com/smarthomecloud/backend/core/maintenance"
	"github.com/smarthomecloud/backend/core/surveillance"
	"github.com/smarthomecloud/backend/core/telemetry"
	"github.com/smarthomecloud/backend/core/user"
	metricsvc "github.com/smarthomecloud/backend/services/metrics"
)

type ServerDeps struct {
	Conf       *core.Config
	Logger     core.Logger
	Validate   *validator.Validate
	Translator ut.Translator
	Sessions   core.SessionStore
	OIDC       OIDCProvider       // nil disables OIDC login
	Metrics    *metricsvc.Metrics // nil disables /metrics
	Pingers    map[string]core.Pinger

	UserSvc         user.Service
	HouseSvc        house.Service
	DeviceSvc       device.Service
	ConfigLogSvc    configlog.Service
	AlertSvc        alert.Service
	AudioSvc        audio.Service
	AutomationSvc   automation.Service
	TelemetrySvc    telemetry.Service
	SurveillanceSvc surveillance.Service
	MaintenanceSvc  maintenance.Service
	DashboardSvc    dashboard.Service
}

type Server struct {
	deps     ServerDeps
	app      *echo.Echo
	shutdown chan os.Signal
	errors   chan error
}

func NewServer(deps ServerDeps) *Server {
	s := &Server{
		deps:     deps,
		app:      echo.New(),
		shutdown: make(chan os.Signal, 1),
		errors:   make(chan error, 1),
	}
	signal.Notify(s.shutdown, os.Interrupt, syscall.SIGTERM)
	s.setup()
	return s
}

func (s *Server) setup() {
	conf := s.deps.Conf

	s.app.HideBanner = true
	s.app.Pre(middleware.RemoveTrailingSlash())
	if !conf.TestMode {
		s.app.Use(middleware.Logger())
	}
	// do not recover in DEV|TEST mode
	if !(conf.Debug || conf.TestMode) {
		s.app.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{LogLevel: log.ERROR}))
	}
	if s.deps.Metrics != nil {
		s.app.Use(s.deps.Metrics.Middleware())
		s.app.GET("/metrics", echo.WrapHandler(s.deps.Metrics.Handler()))
	}

	s.app.HTTPErrorHandler = newAppHTTPErrorHandler(s.deps.Logger, s.deps.Translator, s.signalShutdown)
	s.app.Debug = conf.Debug

	s.app.GET("/", home)
	s.app.GET("/healthz", s.healthz)

	v1 := s.app.Group("/v1")
	auth := authMiddleware(conf, s.deps.Sessions, s.deps.UserSvc)
	g := guard{usrSvc: s.deps.UserSvc, houseSvc: s.deps.HouseSvc}

	registerAuthAPI(v1, auth, &authApi{
		conf:     conf,
		logger:   s.deps.Logger,
		sessions: s.deps.Sessions,
		oidc:     s.deps.OIDC,
		svc:      s.deps.UserSvc,
		validate: s.deps.Validate,
	})
	registerUserAPI(v1, auth, &userApi{guard: g, svc: s.deps.UserSvc, validate: s.deps.Validate})
	registerHouseAPI(v1, auth, &houseApi{guard: g, validate: s.deps.Validate})
	registerDeviceAPI(v1, auth, &deviceApi{
		guard:        g,
		svc:          s.deps.DeviceSvc,
		configLogSvc: s.deps.ConfigLogSvc,
		telemetrySvc: s.deps.TelemetrySvc,
		validate:     s.deps.Validate,
	})
	registerTelemetryAPI(v1, auth, &telemetryApi{guard: g, svc: s.deps.TelemetrySvc, validate: s.deps.Validate})
	registerAlertAPI(v1, auth, &alertApi{guard: g, svc: s.deps.AlertSvc, validate: s.deps.Validate})
	registerAudioAPI(v1, auth, &audioApi{guard: g, svc: s.deps.AudioSvc, deviceSvc: s.deps.DeviceSvc, validate: s.deps.Validate})
	registerAutomationAPI(v1, auth, &automationApi{guard: g, svc: s.deps.AutomationSvc, validate: s.deps.Validate})
	registerFeedAPI(v1, auth, &feedApi{guard: g, svc: s.deps.SurveillanceSvc, validate: s.deps.Validate})
	registerMaintenanceAPI(v1, auth, &maintenanceApi{guard: g, svc: s.deps.MaintenanceSvc, validate: s.deps.Validate})
	registerDashboardAPI(v1, auth, &dashboardApi{guard: g, svc: s.deps.DashboardSvc})
}

// Start serves until the server is shut down. Listener errors are sent to Errors.
func (s *Server) Start() {
	if err := s.app.Start(s.deps.Conf.Server.Host); err != nil && err != http.ErrServerClosed {
		s.errors <- err
	}
}

func (s *Server) Errors() <-chan error { return s.errors }

func (s *Server) ShutdownSignal() <-chan os.Signal { return s.shutdown }

func (s *Server) signalShutdown() {
	select {
	case s.shutdown <- syscall.SIGTERM:
	default:
	}
}

func (s *Server) Shutdown(ctx context.Context) error {
	signal.Stop(s.shutdown)
	return s.app.Shutdown(ctx)
}

func (s *Server) Close() error {
	return s.app.Close()
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { // for tests
	s.app.ServeHTTP(w, r)
}

func home(ctx echo.Context) error {
	return ctx.String(http.StatusOK, "Welcome to SmartHomeCloud API!")
}

type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func (s *Server) healthz(ctx echo.Context) error {
	res := HealthResponse{Status: "ok", Checks: make(map[string]string, len(s.deps.Pingers))}
	code := http.StatusOK

	names := make([]string, 0, len(s.deps.Pingers))
	for name := range s.deps.Pingers {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := s.deps.Pingers[name].Ping(ctx.Request().Context()); err != nil {
			s.deps.Logger.Warn("health check failed: "+name, err)
			res.Checks[name] = err.Error()
			res.Status = "unavailable"
			code = http.StatusServiceUnavailable
			continue
		}
		res.Checks[name] = "ok"
	}
	return ctx.JSON(code, res)
}
