package testutil

import (
	"context"
	"sync"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

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
	emailsvc "github.com/smarthomecloud/backend/services/email"
	logsvc "github.com/smarthomecloud/backend/services/logger"
	inmemdb "github.com/smarthomecloud/backend/storage/database/inmem"
)

// FixedRand always returns V.
type FixedRand struct{ V float64 }

func (r FixedRand) Float64() float64 { return r.V }

// CommandRecorder collects the device commands sent by automation rules.
type CommandRecorder struct {
	mu       sync.Mutex
	Commands []automation.Command
}

func (r *CommandRecorder) SendCommand(ctx context.Context, cmd automation.Command) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Commands = append(r.Commands, cmd)
	return nil
}

func (r *CommandRecorder) Sent() []automation.Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	cmds := make([]automation.Command, len(r.Commands))
	copy(cmds, r.Commands)
	return cmds
}

// Services wires every domain service on an in-memory database.
type Services struct {
	DB         *inmemdb.DB
	Conf       *core.Config
	Validate   *validator.Validate
	Translator ut.Translator
	Logger     core.Logger
	Mail       core.EmailService
	Commands   *CommandRecorder
	Sessions   core.SessionStore

	UserRepo   user.Repository
	HouseRepo  house.Repository
	DeviceRepo device.Repository
	AlertRepo  alert.Repository
	RuleRepo   automation.Repository

	User         user.Service
	House        house.Service
	ConfigLog    configlog.Service
	Device       device.Service
	Alert        alert.Service
	Audio        audio.Service
	Automation   automation.Service
	Telemetry    telemetry.Service
	Surveillance surveillance.Service
	Maintenance  maintenance.Service
	Dashboard    dashboard.Service
}

// TestConfig is the configuration used by unit tests.
func TestConfig() *core.Config {
	conf := &core.Config{
		AppName:                   "SmartHomeCloud",
		Env:                       "TEST",
		Debug:                     true,
		TestMode:                  true,
		SecretKey:                 "test-secret-key",
		FrontendBaseURL:           "http://localhost:5173",
		PasswordResetTimeoutDelta: 24 * time.Hour,
	}
	conf.Server.JWTExpirationDelta = time.Hour
	conf.Server.JWTRefreshExpirationDelta = 4 * time.Hour
	conf.OIDC.StateTTL = 10 * time.Minute
	conf.MQTT.TopicPrefix = "smarthomecloud"
	conf.Audio.AlertThreshold = audio.DefaultAlertThreshold
	return conf
}

// NewValidator returns a validator with every custom tag registered, and the translator of its messages.
func NewValidator() (*validator.Validate, ut.Translator) {
	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)
	automation.InitValidators(validate, translator)
	return validate, translator
}

// NewServices returns in-memory services. The audio service draws confidence jitter from rnd.
func NewServices(rnd audio.RandomSource) *Services {
	conf := TestConfig()
	logger := logsvc.NewNopLogger()
	db := inmemdb.Open()

	validate, translator := NewValidator()
	s := &Services{
		DB:         db,
		Conf:       conf,
		Validate:   validate,
		Translator: translator,
		Logger:     logger,
		Mail:       emailsvc.NewConsoleServiceMock(conf, logger),
		Commands:   &CommandRecorder{},
		Sessions:   inmemdb.NewSessionStore(),
		UserRepo:   inmemdb.NewUserRepository(db),
		HouseRepo:  inmemdb.NewHouseRepository(db),
		DeviceRepo: inmemdb.NewDeviceRepository(db),
		AlertRepo:  inmemdb.NewAlertRepository(db),
		RuleRepo:   inmemdb.NewRuleRepository(db),
	}
	s.User = user.NewService(s.UserRepo, s.Mail, conf)
	s.House = house.NewService(s.HouseRepo, s.User)
	s.ConfigLog = configlog.NewService(inmemdb.NewConfigLogRepository(db))
	s.Device = device.NewService(s.DeviceRepo, s.House, s.ConfigLog)
	s.Alert = alert.NewService(s.AlertRepo, s.House, s.Device, logger)
	s.Audio = audio.NewService(s.Device, s.Alert, rnd, audio.DefaultAlertThreshold, nil)
	s.Automation = automation.NewService(s.RuleRepo, s.House, s.Device, s.Commands, s.Mail, logger)
	s.Telemetry = telemetry.NewService(inmemdb.NewReadingRepository(db), s.Device, s.Alert, logger)
	s.Surveillance = surveillance.NewService(inmemdb.NewFeedRepository(db), s.Device)
	s.Maintenance = maintenance.NewService(inmemdb.NewMaintenanceRepository(db), s.Device, s.User)
	s.Dashboard = dashboard.NewService(s.House, s.Device, s.Alert)
	return s
}
