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

type (
	Config struct {
		AppName          string
		Env              string // DEV (local; default), TEST, QA, PROD
		Build            string
		Debug            bool
		TestMode         bool
		SecretKey        string
		RollbarToken     string
		SendgridApiKey   string
		FrontendBaseURL  string
		ProctorEmails    []string
		defaultFromEmail string

		Server   ServerConfig
		Database DatabaseConfig
		Redis    RedisConfig
		Backend  BackendConfig
		Proctor  ProctorConfig
	}

	ServerConfig struct {
		Host               string
		Address            string
		DebugHost          string
		ShutdownTimeout    time.Duration
		JWTExpirationDelta time.Duration
		DisableReqLogs     bool
	}

	DatabaseConfig struct {
		Driver     string // postgres | memory
		Engine     string
		Host       string
		Port       string
		Name       string
		User       string
		Password   string
		DisableTLS bool
	}

	RedisConfig struct {
		Addr     string
		Password string
		DB       int
		Channel  string
	}

	// BackendConfig points at the grading backend that durably records violations.
	BackendConfig struct {
		ViolationsURL  string
		Token          string
		Timeout        time.Duration
		BreakerTimeout time.Duration
		MaxFailures    uint32
	}

	ProctorConfig struct {
		GracePeriod         time.Duration
		LocationMaxAge      time.Duration
		LocationTimeout     time.Duration
		FlickerWindow       time.Duration
		DeviceCheckInterval time.Duration
		FullscreenDelay     time.Duration
		RecentViolations    int
	}
)

func (c *Config) DefaultFromEmail() mail.Address {
	if addr, err := mail.ParseAddress(c.defaultFromEmail); err == nil {
		return *addr
	}
	return mail.Address{Name: c.AppName, Address: c.defaultFromEmail}
}

func (db DatabaseConfig) Address() string {
	return net.JoinHostPort(db.Host, db.Port)
}

func (db DatabaseConfig) InMemory() bool {
	return db.Driver == "memory"
}

// NewConfig loads the app config from defaults, `config/.env.<env>` (if it exists) and the environment.
// Environment variables are prefixed with the env name, e.g. `PROD_SECRETKEY`.
func NewConfig() *Config {
	v := viper.New()
	setDefaults(v)

	env := strings.ToUpper(os.Getenv("ENV"))
	switch env {
	case "":
		env = "DEV"
	case "TEST":
		v.SetDefault("testMode", true)
	}
	v.SetEnvPrefix(env)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// load .env if it exists (ignore if it does not)
	dotEnvPath := filepath.Join(configDir(), ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}
	v.AutomaticEnv()

	return &Config{
		AppName:          v.GetString("appName"),
		Env:              env,
		Build:            v.GetString("build"),
		Debug:            v.GetBool("debug"),
		TestMode:         v.GetBool("testMode"),
		SecretKey:        v.GetString("secretKey"),
		RollbarToken:     v.GetString("rollbarToken"),
		SendgridApiKey:   v.GetString("sendgridApiKey"),
		FrontendBaseURL:  v.GetString("frontendBaseURL"),
		ProctorEmails:    v.GetStringSlice("proctorEmails"),
		defaultFromEmail: v.GetString("defaultFromEmail"),
		Server: ServerConfig{
			Host:               v.GetString("server.host"),
			Address:            v.GetString("server.address"),
			DebugHost:          v.GetString("server.debugHost"),
			ShutdownTimeout:    v.GetDuration("server.shutdownTimeout"),
			JWTExpirationDelta: v.GetDuration("server.jwtExpirationDelta"),
			DisableReqLogs:     v.GetBool("server.disableReqLogs"),
		},
		Database: DatabaseConfig{
			Driver:     v.GetString("database.driver"),
			Engine:     v.GetString("database.engine"),
			Host:       v.GetString("database.host"),
			Port:       v.GetString("database.port"),
			Name:       v.GetString("database.name"),
			User:       v.GetString("database.user"),
			Password:   v.GetString("database.password"),
			DisableTLS: v.GetBool("database.disableTLS"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
			Channel:  v.GetString("redis.channel"),
		},
		Backend: BackendConfig{
			ViolationsURL:  v.GetString("backend.violationsURL"),
			Token:          v.GetString("backend.token"),
			Timeout:        v.GetDuration("backend.timeout"),
			BreakerTimeout: v.GetDuration("backend.breakerTimeout"),
			MaxFailures:    v.GetUint32("backend.maxFailures"),
		},
		Proctor: ProctorConfig{
			GracePeriod:         v.GetDuration("proctor.gracePeriod"),
			LocationMaxAge:      v.GetDuration("proctor.locationMaxAge"),
			LocationTimeout:     v.GetDuration("proctor.locationTimeout"),
			FlickerWindow:       v.GetDuration("proctor.flickerWindow"),
			DeviceCheckInterval: v.GetDuration("proctor.deviceCheckInterval"),
			FullscreenDelay:     v.GetDuration("proctor.fullscreenDelay"),
			RecentViolations:    v.GetInt("proctor.recentViolations"),
		},
	}
}

func setDefaults(v *viper.Viper) {
	v.SetTypeByDefaultValue(true)

	v.SetDefault("debug", true)
	v.SetDefault("appName", "Masomo Proctor")
	v.SetDefault("build", "develop")
	v.SetDefault("secretKey", "poq5-wer)enb$+57=dz&uoxh2(h!x)#*c2(#yg4h^$cegm2emy")
	v.SetDefault("defaultFromEmail", "noreply@localhost")
	v.SetDefault("frontendBaseURL", "http://localhost:3000")
	v.SetDefault("proctorEmails", []string{})

	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.address", ":8000")
	v.SetDefault("server.debugHost", ":4000")
	v.SetDefault("server.shutdownTimeout", 5*time.Second)
	v.SetDefault("server.jwtExpirationDelta", 7*24*time.Hour)
	v.SetDefault("server.disableReqLogs", false)

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.engine", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.name", "masomo_proctor")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.disableTLS", true)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.channel", "masomo:proctor:violations")

	v.SetDefault("backend.violationsURL", "")
	v.SetDefault("backend.token", "")
	v.SetDefault("backend.timeout", 5*time.Second)
	v.SetDefault("backend.breakerTimeout", 30*time.Second)
	v.SetDefault("backend.maxFailures", uint32(5))

	v.SetDefault("proctor.gracePeriod", 60*time.Second)
	v.SetDefault("proctor.locationMaxAge", 30*time.Second)
	v.SetDefault("proctor.locationTimeout", 15*time.Second)
	v.SetDefault("proctor.flickerWindow", time.Second)
	v.SetDefault("proctor.deviceCheckInterval", 30*time.Second)
	v.SetDefault("proctor.fullscreenDelay", 2*time.Second)
	v.SetDefault("proctor.recentViolations", 10)
}

func configDir() string {
	if dir := os.Getenv("CONFIG_DIR"); dir != "" {
		return dir
	}
	wd, err := os.Getwd()
	if err != nil {
		log.Fatal(err)
	}
	return filepath.Join(wd, "config")
}
