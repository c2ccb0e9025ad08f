package core

import (
	"log"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Conf is set once by LoadConfig before anything else runs.
var Conf *Config

type (
	ServerConfig struct {
		Host                      string
		Port                      string
		ShutdownTimeout           time.Duration
		JWTExpirationDelta        time.Duration
		JWTRefreshExpirationDelta time.Duration
	}

	DatabaseConfig struct {
		Engine        string
		Name          string
		Host          string
		Port          string
		User          string
		Password      string
		AdminUser     string
		AdminPassword string
		DisableTLS    bool
	}

	// MediaConfig bounds uploads and drives the image pipeline.
	MediaConfig struct {
		Dir           string
		MaxUploadSize int64
		MaxImageEdge  int
		ThumbEdge     int
		JPEGQuality   int
	}

	// AgentConfig configures the offline field agent.
	AgentConfig struct {
		DataDir    string
		ServerURL  string
		SyncSpec   string
		BatchSize  int
		MaxRetries int
		Timeout    time.Duration
	}

	Config struct {
		Env      string
		WorkDir  string
		Debug    bool
		TestMode bool
		AppName  string
		Build    string

		SecretKey                 string
		PasswordResetTimeoutDelta time.Duration

		FrontendBaseURL  string
		DefaultFromEmail string
		SendgridApiKey   string
		RollbarToken     string

		Server   ServerConfig
		Database DatabaseConfig
		Media    MediaConfig
		Agent    AgentConfig
	}
)

func (c ServerConfig) Address() string   { return net.JoinHostPort(c.Host, c.Port) }
func (c DatabaseConfig) Address() string { return net.JoinHostPort(c.Host, c.Port) }

// LoadConfig reads defaults, an optional `config/.env.<env>` file and
// env-prefixed environment variables into the global Conf.
func LoadConfig() *Config {
	v := viper.New()
	v.SetTypeByDefaultValue(true)

	// defaults
	v.SetDefault("debug", true)
	v.SetDefault("appName", "DMS")
	v.SetDefault("build", "dev")
	v.SetDefault("secretKey", "0fx$k*t1!b_s&yp2(w#+vr8ihn4)q=e5c7a3dg-zu6jm9l%o@")
	v.SetDefault("passwordResetTimeoutDelta", 3*24*time.Hour)
	v.SetDefault("defaultFromEmail", "noreply@localhost")
	v.SetDefault("frontendBaseURL", "http://localhost:3000")

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "8000")
	v.SetDefault("server.shutdownTimeout", 5*time.Second)
	v.SetDefault("server.jwtExpirationDelta", 7*24*time.Hour)
	v.SetDefault("server.jwtRefreshExpirationDelta", 4*time.Hour)

	v.SetDefault("database.engine", "postgres")
	v.SetDefault("database.name", "dms")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.user", "dmsuser")
	v.SetDefault("database.password", "")
	v.SetDefault("database.adminUser", "")
	v.SetDefault("database.adminPassword", "")
	v.SetDefault("database.disableTLS", true)

	v.SetDefault("media.dir", filepath.Join(Getwd(), "media"))
	v.SetDefault("media.maxUploadSize", int64(10<<20))
	v.SetDefault("media.maxImageEdge", 1920)
	v.SetDefault("media.thumbEdge", 200)
	v.SetDefault("media.jpegQuality", 80)

	v.SetDefault("agent.dataDir", filepath.Join(Getwd(), "agentdata"))
	v.SetDefault("agent.serverURL", "http://localhost:8000")
	v.SetDefault("agent.syncSpec", "@every 30s")
	v.SetDefault("agent.batchSize", 20)
	v.SetDefault("agent.maxRetries", 5)
	v.SetDefault("agent.timeout", 30*time.Second)

	env := os.Getenv("ENV") // DEV (local; default), TEST, QA, PROD
	switch env {
	case "":
		env = "DEV"
	case "TEST":
		v.SetDefault("testMode", true)
	}
	v.SetEnvPrefix(env)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// load .env if it exists (ignore if it does not)
	dotEnvPath := filepath.Join(Getwd(), "config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}
	v.AutomaticEnv()

	Conf = &Config{
		Env:      env,
		WorkDir:  Getwd(),
		Debug:    v.GetBool("debug"),
		TestMode: v.GetBool("testMode"),
		AppName:  v.GetString("appName"),
		Build:    v.GetString("build"),

		SecretKey:                 v.GetString("secretKey"),
		PasswordResetTimeoutDelta: v.GetDuration("passwordResetTimeoutDelta"),

		FrontendBaseURL:  v.GetString("frontendBaseURL"),
		DefaultFromEmail: v.GetString("defaultFromEmail"),
		SendgridApiKey:   v.GetString("sendgridApiKey"),
		RollbarToken:     v.GetString("rollbarToken"),

		Server: ServerConfig{
			Host:                      v.GetString("server.host"),
			Port:                      v.GetString("server.port"),
			ShutdownTimeout:           v.GetDuration("server.shutdownTimeout"),
			JWTExpirationDelta:        v.GetDuration("server.jwtExpirationDelta"),
			JWTRefreshExpirationDelta: v.GetDuration("server.jwtRefreshExpirationDelta"),
		},
		Database: DatabaseConfig{
			Engine:        v.GetString("database.engine"),
			Name:          v.GetString("database.name"),
			Host:          v.GetString("database.host"),
			Port:          v.GetString("database.port"),
			User:          v.GetString("database.user"),
			Password:      v.GetString("database.password"),
			AdminUser:     v.GetString("database.adminUser"),
			AdminPassword: v.GetString("database.adminPassword"),
			DisableTLS:    v.GetBool("database.disableTLS"),
		},
		Media: MediaConfig{
			Dir:           v.GetString("media.dir"),
			MaxUploadSize: v.GetInt64("media.maxUploadSize"),
			MaxImageEdge:  v.GetInt("media.maxImageEdge"),
			ThumbEdge:     v.GetInt("media.thumbEdge"),
			JPEGQuality:   v.GetInt("media.jpegQuality"),
		},
		Agent: AgentConfig{
			DataDir:    v.GetString("agent.dataDir"),
			ServerURL:  v.GetString("agent.serverURL"),
			SyncSpec:   v.GetString("agent.syncSpec"),
			BatchSize:  v.GetInt("agent.batchSize"),
			MaxRetries: v.GetInt("agent.maxRetries"),
			Timeout:    v.GetDuration("agent.timeout"),
		},
	}
	return Conf
}
