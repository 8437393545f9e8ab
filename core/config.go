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

var Conf *Config

func init() {
	Conf = NewConfig()
}

type (
	DatabaseConfig struct {
		Engine        string
		Host          string
		Port          string
		Name          string
		User          string
		Password      string
		AdminUser     string
		AdminPassword string
		DisableTLS    bool
	}

	ServerConfig struct {
		Host                      string
		Address                   string
		DebugHost                 string
		ShutdownTimeout           time.Duration
		JWTExpirationDelta        time.Duration
		JWTRefreshExpirationDelta time.Duration
	}

	AIConfig struct {
		Provider       string
		GeminiAPIKey   string
		GeminiBaseURL  string
		GeminiModel    string
		OllamaBaseURL  string
		OllamaModel    string
		SystemPrompt   string
		Temperature    float64
		RequestTimeout time.Duration
		RatePerMinute  int
	}

	JobsConfig struct {
		PurgeNotificationsSpec string
		PendingReminderSpec    string
		NotificationRetention  time.Duration
	}

	Config struct {
		Env       string
		Build     string
		AppName   string
		Debug     bool
		TestMode  bool
		SecretKey string

		FrontendBaseURL           string
		PasswordResetTimeoutDelta time.Duration
		AdminEmails               []string

		defaultFromEmail string
		SendgridApiKey   string
		RollbarToken     string

		RedisURL      string
		MongoURI      string
		MongoDatabase string

		Server   ServerConfig
		Database DatabaseConfig
		AI       AIConfig
		Jobs     JobsConfig
	}
)

// NewConfig builds the Config from defaults, `config/.env.<env>` and the environment.
// Environment variables are prefixed with the upper-cased env name (eg. DEV_DATABASE_HOST).
func NewConfig() *Config {
	v := viper.New()

	// defaults
	v.SetTypeByDefaultValue(true)
	v.SetDefault("debug", true)
	v.SetDefault("build", "develop")
	v.SetDefault("appName", "Luxaar")
	v.SetDefault("secretKey", "s3(x!7r+o2kz$1m@luxaar-dev-only#w9q^v0h&b4n%j8y")
	v.SetDefault("frontendBaseUrl", "http://localhost:3000")
	v.SetDefault("defaultFromEmail", "Luxaar <noreply@localhost>")
	v.SetDefault("passwordResetTimeoutDelta", 3*24*time.Hour)
	v.SetDefault("adminEmails", "")

	v.SetDefault("server_host", "localhost")
	v.SetDefault("server_address", ":8000")
	v.SetDefault("server_debugHost", ":4000")
	v.SetDefault("server_shutdownTimeout", 5*time.Second)
	v.SetDefault("server_jwtExpirationDelta", 7*24*time.Hour)
	v.SetDefault("server_jwtRefreshExpirationDelta", 4*time.Hour)

	v.SetDefault("database_engine", "postgres")
	v.SetDefault("database_host", "")
	v.SetDefault("database_port", "5432")
	v.SetDefault("database_name", "luxaar")
	v.SetDefault("database_user", "luxaar")
	v.SetDefault("database_password", "")
	v.SetDefault("database_adminUser", "")
	v.SetDefault("database_adminPassword", "")
	v.SetDefault("database_disableTls", true)

	v.SetDefault("mongoDatabase", "luxaar")

	v.SetDefault("ai_provider", "auto")
	v.SetDefault("ai_geminiBaseUrl", "https://generativelanguage.googleapis.com")
	v.SetDefault("ai_geminiModel", "gemini-1.5-flash")
	v.SetDefault("ai_ollamaBaseUrl", "http://localhost:11434")
	v.SetDefault("ai_ollamaModel", "llama3.2")
	v.SetDefault("ai_systemPrompt", "You are Luxaar's tutor. Answer clearly and help the student learn, do not just hand out answers.")
	v.SetDefault("ai_temperature", 0.7)
	v.SetDefault("ai_requestTimeout", 2*time.Minute)
	v.SetDefault("ai_ratePerMinute", 20)

	v.SetDefault("jobs_purgeNotificationsSpec", "@daily")
	v.SetDefault("jobs_pendingReminderSpec", "0 9 * * *")
	v.SetDefault("jobs_notificationRetention", 30*24*time.Hour)

	env := strings.ToUpper(os.Getenv("ENV")) // DEV (local; default), TEST, QA, PROD
	if env == "" {
		env = "DEV"
	}
	if env == "TEST" {
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
		Env:       env,
		Build:     v.GetString("build"),
		AppName:   v.GetString("appName"),
		Debug:     v.GetBool("debug"),
		TestMode:  v.GetBool("testMode"),
		SecretKey: v.GetString("secretKey"),

		FrontendBaseURL:           strings.TrimRight(v.GetString("frontendBaseUrl"), "/"),
		PasswordResetTimeoutDelta: v.GetDuration("passwordResetTimeoutDelta"),
		AdminEmails:               splitList(v.GetString("adminEmails"), true),

		defaultFromEmail: v.GetString("defaultFromEmail"),
		SendgridApiKey:   v.GetString("sendgridApiKey"),
		RollbarToken:     v.GetString("rollbarToken"),

		RedisURL:      v.GetString("redisUrl"),
		MongoURI:      v.GetString("mongoUri"),
		MongoDatabase: v.GetString("mongoDatabase"),

		Server: ServerConfig{
			Host:                      v.GetString("server_host"),
			Address:                   v.GetString("server_address"),
			DebugHost:                 v.GetString("server_debugHost"),
			ShutdownTimeout:           v.GetDuration("server_shutdownTimeout"),
			JWTExpirationDelta:        v.GetDuration("server_jwtExpirationDelta"),
			JWTRefreshExpirationDelta: v.GetDuration("server_jwtRefreshExpirationDelta"),
		},
		Database: DatabaseConfig{
			Engine:        v.GetString("database_engine"),
			Host:          v.GetString("database_host"),
			Port:          v.GetString("database_port"),
			Name:          v.GetString("database_name"),
			User:          v.GetString("database_user"),
			Password:      v.GetString("database_password"),
			AdminUser:     v.GetString("database_adminUser"),
			AdminPassword: v.GetString("database_adminPassword"),
			DisableTLS:    v.GetBool("database_disableTls"),
		},
		AI: AIConfig{
			Provider:       v.GetString("ai_provider"),
			GeminiAPIKey:   v.GetString("ai_geminiApiKey"),
			GeminiBaseURL:  strings.TrimRight(v.GetString("ai_geminiBaseUrl"), "/"),
			GeminiModel:    v.GetString("ai_geminiModel"),
			OllamaBaseURL:  strings.TrimRight(v.GetString("ai_ollamaBaseUrl"), "/"),
			OllamaModel:    v.GetString("ai_ollamaModel"),
			SystemPrompt:   v.GetString("ai_systemPrompt"),
			Temperature:    v.GetFloat64("ai_temperature"),
			RequestTimeout: v.GetDuration("ai_requestTimeout"),
			RatePerMinute:  v.GetInt("ai_ratePerMinute"),
		},
		Jobs: JobsConfig{
			PurgeNotificationsSpec: v.GetString("jobs_purgeNotificationsSpec"),
			PendingReminderSpec:    v.GetString("jobs_pendingReminderSpec"),
			NotificationRetention:  v.GetDuration("jobs_notificationRetention"),
		},
	}
}

// DefaultFromEmail parses the configured sender address.
func (c *Config) DefaultFromEmail() mail.Address {
	addr, err := mail.ParseAddress(c.defaultFromEmail)
	if err != nil {
		return mail.Address{Name: c.AppName, Address: "noreply@localhost"}
	}
	return *addr
}

// IsAdminEmail reports whether email is on the auto-approved admin allowlist.
func (c *Config) IsAdminEmail(email string) bool {
	email = CleanString(email, true)
	for _, e := range c.AdminEmails {
		if e == email {
			return true
		}
	}
	return false
}

func (c DatabaseConfig) Address() string {
	return net.JoinHostPort(c.Host, c.Port)
}

// Enabled reports whether a database server is configured; the in-memory store is used otherwise.
func (c DatabaseConfig) Enabled() bool {
	return c.Host != ""
}

func configDir() string {
	if dir := os.Getenv("LUXAAR_CONFIG_DIR"); dir != "" {
		return dir
	}
	wd, err := os.Getwd()
	if err != nil {
		log.Fatal(err)
	}
	return filepath.Join(wd, "config")
}

func splitList(s string, lower bool) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = CleanString(item, lower); item != "" {
			out = append(out, item)
		}
	}
	return out
}
