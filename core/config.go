package core

import (
	"log"
	"net"
	"net/mail"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	AppName                   string
	Build                     string
	Env                       string // DEV (local; default), TEST, QA, PROD
	Debug                     bool
	TestMode                  bool
	SecretKey                 string
	FrontendBaseURL           string
	PasswordResetTimeoutDelta time.Duration
	LogLevel                  string
	RollbarToken              string
	SendgridApiKey            string

	defaultFromEmail string

	Server struct {
		Host                      string
		DebugHost                 string
		ShutdownTimeout           time.Duration
		JWTExpirationDelta        time.Duration
		JWTRefreshExpirationDelta time.Duration
	}

	Database struct {
		Engine        string // postgres | inmem
		Host          string
		Port          string
		Name          string
		User          string
		Password      string
		AdminUser     string
		AdminPassword string
		DisableTLS    bool
	}

	OIDC struct {
		Enabled      bool
		Provider     string
		IssuerURL    string
		ClientID     string
		ClientSecret string
		RedirectURL  string
		StateTTL     time.Duration
	}

	Redis struct {
		Address      string
		Password     string
		DB           int
		AlertStream  string
		StreamMaxLen int64
	}

	MQTT struct {
		Enabled     bool
		Broker      string
		ClientID    string
		Username    string
		Password    string
		TopicPrefix string
	}

	Audio struct {
		AlertThreshold float64
	}

	Monitoring struct {
		DeviceOfflineThreshold time.Duration
		WatchdogInterval       time.Duration
		SchedulerInterval      time.Duration
	}
}

func (c *Config) DefaultFromEmail() mail.Address {
	return mail.Address{Name: c.AppName, Address: c.defaultFromEmail}
}

func (c *Config) DatabaseAddress() string {
	return net.JoinHostPort(c.Database.Host, c.Database.Port)
}

// NewConfig loads the configuration from the environment.
// Variables are prefixed with the value of ENV, e.g. PROD_DATABASE_HOST.
func NewConfig() *Config {
	v := viper.New()
	v.SetTypeByDefaultValue(true)

	env := strings.ToUpper(os.Getenv("ENV"))
	if env == "" {
		env = "DEV"
	}

	// defaults
	v.SetDefault("debug", env == "DEV" || env == "TEST")
	v.SetDefault("testMode", env == "TEST")
	v.SetDefault("appName", "SmartHomeCloud")
	v.SetDefault("build", "dev")
	v.SetDefault("secretKey", "k3p!w9zq)xr7$+t2=vb&hmu4c(p!y)#*d8(#ns5j^$fela1oq")
	v.SetDefault("frontendBaseURL", "http://localhost:5173")
	v.SetDefault("defaultFromEmail", "noreply@localhost")
	v.SetDefault("passwordResetTimeoutDelta", 3*24*time.Hour)
	v.SetDefault("logLevel", "info")
	v.SetDefault("rollbarToken", "")
	v.SetDefault("sendgridApiKey", "")

	v.SetDefault("server.host", ":8000")
	v.SetDefault("server.debugHost", ":4000")
	v.SetDefault("server.shutdownTimeout", 5*time.Second)
	v.SetDefault("server.jwtExpirationDelta", 7*24*time.Hour)
	v.SetDefault("server.jwtRefreshExpirationDelta", 4*time.Hour)

	v.SetDefault("database.engine", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.name", "smarthomecloud")
	v.SetDefault("database.user", "smarthome")
	v.SetDefault("database.password", "smarthome")
	v.SetDefault("database.adminUser", "postgres")
	v.SetDefault("database.adminPassword", "postgres")
	v.SetDefault("database.disableTLS", env == "DEV" || env == "TEST")

	v.SetDefault("oidc.enabled", false)
	v.SetDefault("oidc.provider", "oidc")
	v.SetDefault("oidc.issuerURL", "")
	v.SetDefault("oidc.clientID", "")
	v.SetDefault("oidc.clientSecret", "")
	v.SetDefault("oidc.redirectURL", "http://localhost:8000/v1/auth/oidc/callback")
	v.SetDefault("oidc.stateTTL", 10*time.Minute)

	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.alertStream", "smarthome:alerts")
	v.SetDefault("redis.streamMaxLen", int64(10000))

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.clientID", "smarthomecloud-api")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.topicPrefix", "smarthome")

	v.SetDefault("audio.alertThreshold", 0.7)

	v.SetDefault("monitoring.deviceOfflineThreshold", 10*time.Minute)
	v.SetDefault("monitoring.watchdogInterval", time.Minute)
	v.SetDefault("monitoring.schedulerInterval", 30*time.Second)

	v.SetEnvPrefix(env)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// load .env if it exists (ignore if it does not)
	if root, ok := projectRoot(); ok {
		dotEnvPath := filepath.Join(root, "config", ".env."+strings.ToLower(env))
		if _, err := os.Stat(dotEnvPath); err == nil {
			if err := godotenv.Load(dotEnvPath); err != nil {
				log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
			}
		} else if !os.IsNotExist(err) {
			log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
		}
	}
	v.AutomaticEnv()

	conf := &Config{
		AppName:                   v.GetString("appName"),
		Build:                     v.GetString("build"),
		Env:                       env,
		Debug:                     v.GetBool("debug"),
		TestMode:                  v.GetBool("testMode"),
		SecretKey:                 v.GetString("secretKey"),
		FrontendBaseURL:           strings.TrimSuffix(v.GetString("frontendBaseURL"), "/"),
		PasswordResetTimeoutDelta: v.GetDuration("passwordResetTimeoutDelta"),
		LogLevel:                  v.GetString("logLevel"),
		RollbarToken:              v.GetString("rollbarToken"),
		SendgridApiKey:            v.GetString("sendgridApiKey"),
		defaultFromEmail:          v.GetString("defaultFromEmail"),
	}

	conf.Server.Host = v.GetString("server.host")
	conf.Server.DebugHost = v.GetString("server.debugHost")
	conf.Server.ShutdownTimeout = v.GetDuration("server.shutdownTimeout")
	conf.Server.JWTExpirationDelta = v.GetDuration("server.jwtExpirationDelta")
	conf.Server.JWTRefreshExpirationDelta = v.GetDuration("server.jwtRefreshExpirationDelta")

	conf.Database.Engine = v.GetString("database.engine")
	conf.Database.Host = v.GetString("database.host")
	conf.Database.Port = v.GetString("database.port")
	conf.Database.Name = v.GetString("database.name")
	conf.Database.User = v.GetString("database.user")
	conf.Database.Password = v.GetString("database.password")
	conf.Database.AdminUser = v.GetString("database.adminUser")
	conf.Database.AdminPassword = v.GetString("database.adminPassword")
	conf.Database.DisableTLS = v.GetBool("database.disableTLS")

	conf.OIDC.Enabled = v.GetBool("oidc.enabled")
	conf.OIDC.Provider = v.GetString("oidc.provider")
	conf.OIDC.IssuerURL = v.GetString("oidc.issuerURL")
	conf.OIDC.ClientID = v.GetString("oidc.clientID")
	conf.OIDC.ClientSecret = v.GetString("oidc.clientSecret")
	conf.OIDC.RedirectURL = v.GetString("oidc.redirectURL")
	conf.OIDC.StateTTL = v.GetDuration("oidc.stateTTL")

	conf.Redis.Address = v.GetString("redis.address")
	conf.Redis.Password = v.GetString("redis.password")
	conf.Redis.DB = v.GetInt("redis.db")
	conf.Redis.AlertStream = v.GetString("redis.alertStream")
	conf.Redis.StreamMaxLen = v.GetInt64("redis.streamMaxLen")

	conf.MQTT.Enabled = v.GetBool("mqtt.enabled")
	conf.MQTT.Broker = v.GetString("mqtt.broker")
	conf.MQTT.ClientID = v.GetString("mqtt.clientID")
	conf.MQTT.Username = v.GetString("mqtt.username")
	conf.MQTT.Password = v.GetString("mqtt.password")
	conf.MQTT.TopicPrefix = v.GetString("mqtt.topicPrefix")

	conf.Audio.AlertThreshold = v.GetFloat64("audio.alertThreshold")

	conf.Monitoring.DeviceOfflineThreshold = v.GetDuration("monitoring.deviceOfflineThreshold")
	conf.Monitoring.WatchdogInterval = v.GetDuration("monitoring.watchdogInterval")
	conf.Monitoring.SchedulerInterval = v.GetDuration("monitoring.schedulerInterval")

	return conf
}

// projectRoot walks up from the working directory until it finds the directory holding go.mod.
// go test runs from the package directory, so the config dir cannot be resolved relative to cwd.
func projectRoot() (string, bool) {
	wd, err := os.Getwd()
	if err != nil {
		return "", false
	}
	currDir := wd
	for {
		if _, err := os.Stat(filepath.Join(currDir, "go.mod")); err == nil {
			return currDir, true
		}
		newDir := filepath.Dir(currDir)
		if newDir == currDir {
			return wd, true
		}
		currDir = newDir
	}
}
