package dig_container

import (
	"context"
	"fmt"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"go.uber.org/dig"
	"go.uber.org/zap"

	echoapi "github.com/smarthomecloud/backend/apps/api/echo"
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
	metricsvc "github.com/smarthomecloud/backend/services/metrics"
	oidcsvc "github.com/smarthomecloud/backend/services/oidc"
	mqttsvc "github.com/smarthomecloud/backend/services/telemetry"
	workersvc "github.com/smarthomecloud/backend/services/worker"
	"github.com/smarthomecloud/backend/storage/database"
	inmemdb "github.com/smarthomecloud/backend/storage/database/inmem"
	sqlxrepos "github.com/smarthomecloud/backend/storage/database/sqlx"
	redisstore "github.com/smarthomecloud/backend/storage/redis"
)

const startupTimeout = 30 * time.Second

type DBLoggerParam struct {
	dig.In
	Logger core.Logger `name:"dbLogger"`
}

// Storage is every repository, backed by postgres or by memory depending on Database.Engine.
type Storage struct {
	dig.Out

	Users       user.Repository
	Houses      house.Repository
	Devices     device.Repository
	ConfigLogs  configlog.Repository
	Alerts      alert.Repository
	Rules       automation.Repository
	Readings    telemetry.Repository
	Feeds       surveillance.Repository
	Maintenance maintenance.Repository

	DBPinger core.Pinger `name:"dbPinger"`
	DBCloser DBCloser
}

// DBCloser releases the database connections on shutdown.
type DBCloser func() error

func newZapLogger(conf *core.Config) *zap.Logger {
	format := "json"
	if conf.Debug {
		format = "console"
	}
	zl, err := logsvc.NewZapLogger(conf.LogLevel, format, conf.AppName)
	if err != nil {
		log.Fatalf("building logger: %v", err)
	}
	return zl
}

func newLogger(conf *core.Config, zl *zap.Logger) core.Logger {
	logger := logsvc.NewRollbarLogger(zl.Named("api"), conf)
	logger.Enable(!conf.Debug)
	return logger
}

func newDBLogger(conf *core.Config, zl *zap.Logger) core.Logger {
	logger := logsvc.NewRollbarLogger(zl.Named("db"), conf)
	logger.Enable(!conf.Debug)
	return logger
}

func newValidator() (*validator.Validate, ut.Translator) {
	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)
	automation.InitValidators(validate, translator)
	return validate, translator
}

func newStorage(conf *core.Config, loggerParam DBLoggerParam) Storage {
	if conf.Database.Engine == "inmem" {
		loggerParam.Logger.Warn("using the in-memory database: data will not survive a restart")
		db := inmemdb.Open()
		return Storage{
			Users:       inmemdb.NewUserRepository(db),
			Houses:      inmemdb.NewHouseRepository(db),
			Devices:     inmemdb.NewDeviceRepository(db),
			ConfigLogs:  inmemdb.NewConfigLogRepository(db),
			Alerts:      inmemdb.NewAlertRepository(db),
			Rules:       inmemdb.NewRuleRepository(db),
			Readings:    inmemdb.NewReadingRepository(db),
			Feeds:       inmemdb.NewFeedRepository(db),
			Maintenance: inmemdb.NewMaintenanceRepository(db),
			DBPinger:    db,
			DBCloser:    func() error { return nil },
		}
	}

	setUp := func() (*sqlx.DB, error) {
		ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
		defer cancel()

		if err := database.CreateIfNotExist(ctx, conf); err != nil {
			return nil, err
		}

		db, err := database.Open(ctx, conf)
		if err != nil {
			return nil, err
		}

		if err = database.Migrate(ctx, db); err != nil {
			_ = db.Close()
			return nil, err
		}
		return db, nil
	}

	db, err := setUp()
	if err != nil {
		loggerParam.Logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
	}
	return Storage{
		Users:       sqlxrepos.NewUserRepository(db),
		Houses:      sqlxrepos.NewHouseRepository(db),
		Devices:     sqlxrepos.NewDeviceRepository(db),
		ConfigLogs:  sqlxrepos.NewConfigLogRepository(db),
		Alerts:      sqlxrepos.NewAlertRepository(db),
		Rules:       sqlxrepos.NewRuleRepository(db),
		Readings:    sqlxrepos.NewReadingRepository(db),
		Feeds:       sqlxrepos.NewFeedRepository(db),
		Maintenance: sqlxrepos.NewMaintenanceRepository(db),
		DBPinger:    core.PingerFunc(db.PingContext),
		DBCloser:    db.Close,
	}
}

// newRedis returns nil when redis is unreachable in debug mode; sessions then live in memory.
func newRedis(conf *core.Config, logger core.Logger) *redis.Client {
	client := redisstore.NewClient(conf)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		if conf.Debug {
			logger.Warn(fmt.Sprintf("redis unavailable, falling back to in-memory sessions: %v", err))
			_ = client.Close()
			return nil
		}
		logger.Fatal(fmt.Sprintf("connecting to redis: %v", err), err)
	}
	return client
}

func newSessionStore(client *redis.Client) core.SessionStore {
	if client == nil {
		return inmemdb.NewSessionStore()
	}
	return redisstore.NewSessionStore(client)
}

type pingersParam struct {
	dig.In
	DB    core.Pinger `name:"dbPinger"`
	Redis *redis.Client
}

func newPingers(p pingersParam) map[string]core.Pinger {
	pingers := map[string]core.Pinger{"database": p.DB}
	if p.Redis != nil {
		pingers["redis"] = redisstore.Pinger(p.Redis)
	}
	return pingers
}

func newEmailService(conf *core.Config, logger core.Logger) core.EmailService {
	if conf.Debug {
		return emailsvc.NewConsoleService(conf, logger)
	}
	return emailsvc.NewSendgridService(conf, logger)
}

func newCommander(conf *core.Config, client mqtt.Client, logger core.Logger) automation.Commander {
	if conf.MQTT.Enabled {
		return mqttsvc.NewCommander(client, conf)
	}
	return automation.CommanderFunc(func(_ context.Context, cmd automation.Command) error {
		logger.Info(fmt.Sprintf("mqtt disabled, dropping %q command for device %s", cmd.Action, cmd.DeviceID))
		return nil
	})
}

func newAudioService(conf *core.Config, deviceSvc device.Service, alertSvc alert.Service, metrics *metricsvc.Metrics) audio.Service {
	return audio.NewService(deviceSvc, alertSvc, nil, conf.Audio.AlertThreshold, metrics)
}

// newOIDC returns a nil provider when OIDC login is disabled.
func newOIDC(conf *core.Config, logger core.Logger) echoapi.OIDCProvider {
	if !conf.OIDC.Enabled {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()
	provider, err := oidcsvc.New(ctx, conf)
	if err != nil {
		logger.Fatal(fmt.Sprintf("discovering oidc provider: %v", err), err)
	}
	return provider
}

type serverParams struct {
	dig.In

	Conf       *core.Config
	Logger     core.Logger
	Validate   *validator.Validate
	Translator ut.Translator
	Sessions   core.SessionStore
	OIDC       echoapi.OIDCProvider
	Metrics    *metricsvc.Metrics
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

func newServer(p serverParams) *echoapi.Server {
	return echoapi.NewServer(echoapi.ServerDeps{
		Conf:            p.Conf,
		Logger:          p.Logger,
		Validate:        p.Validate,
		Translator:      p.Translator,
		Sessions:        p.Sessions,
		OIDC:            p.OIDC,
		Metrics:         p.Metrics,
		Pingers:         p.Pingers,
		UserSvc:         p.UserSvc,
		HouseSvc:        p.HouseSvc,
		DeviceSvc:       p.DeviceSvc,
		ConfigLogSvc:    p.ConfigLogSvc,
		AlertSvc:        p.AlertSvc,
		AudioSvc:        p.AudioSvc,
		AutomationSvc:   p.AutomationSvc,
		TelemetrySvc:    p.TelemetrySvc,
		SurveillanceSvc: p.SurveillanceSvc,
		MaintenanceSvc:  p.MaintenanceSvc,
		DashboardSvc:    p.DashboardSvc,
	})
}

func newWatchdog(conf *core.Config, deviceSvc device.Service, alertSvc alert.Service, metrics *metricsvc.Metrics, logger core.Logger) *workersvc.Watchdog {
	return workersvc.NewWatchdog(conf, deviceSvc, alertSvc, metrics, logger)
}

func newScheduler(conf *core.Config, automationSvc automation.Service, metrics *metricsvc.Metrics, logger core.Logger) *workersvc.Scheduler {
	return workersvc.NewScheduler(conf, automationSvc, metrics, logger)
}

// subscribeListeners fans every new alert out to redis, email, metrics & the alert-triggered rules, in that order.
func subscribeListeners(
	conf *core.Config,
	client *redis.Client,
	alertSvc alert.Service,
	houseSvc house.Service,
	automationSvc automation.Service,
	mailSvc core.EmailService,
	metrics *metricsvc.Metrics,
) {
	if client != nil {
		publisher := redisstore.NewAlertPublisher(client, conf.Redis.AlertStream, conf.Redis.StreamMaxLen)
		alertSvc.Subscribe("redis", publisher.Publish)
	}
	alertSvc.Subscribe("email", alert.NewEmailNotifier(houseSvc, mailSvc, alert.SeverityHigh))
	alertSvc.Subscribe("metrics", metrics.CountAlert)
	alertSvc.Subscribe("automation", automationSvc.OnAlert)
}

// New returns a new dependency injection dig.Container
func New() *dig.Container {
	c := dig.New()

	must(c.Provide(core.NewConfig))
	must(c.Provide(newZapLogger))
	must(c.Provide(newLogger))
	must(c.Provide(newDBLogger, dig.Name("dbLogger")))
	must(c.Provide(newValidator))
	must(c.Provide(newStorage))
	must(c.Provide(newRedis))
	must(c.Provide(newSessionStore))
	must(c.Provide(newPingers))
	must(c.Provide(newEmailService))
	must(c.Provide(metricsvc.New))
	must(c.Provide(mqttsvc.NewClient))
	must(c.Provide(newCommander))
	must(c.Provide(newOIDC))

	must(c.Provide(user.NewService))
	must(c.Provide(house.NewService))
	must(c.Provide(configlog.NewService))
	must(c.Provide(device.NewService))
	must(c.Provide(alert.NewService))
	must(c.Provide(newAudioService))
	must(c.Provide(automation.NewService))
	must(c.Provide(telemetry.NewService))
	must(c.Provide(surveillance.NewService))
	must(c.Provide(maintenance.NewService))
	must(c.Provide(dashboard.NewService))

	must(c.Provide(newServer))
	must(c.Provide(mqttsvc.NewConsumer))
	must(c.Provide(newWatchdog))
	must(c.Provide(newScheduler))

	must(c.Invoke(subscribeListeners))

	return c
}

// must exits program if err happened
func must(err error) {
	if err != nil {
		log.Fatal(errors.Wrap(err, "failed to provide dependency").Error())
	}
}
