// Package config loads gateway configuration from a YAML file and the
// environment. Environment variables override file values, and secrets
// only ever come from the environment.
package config

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/shule-ai/tutor-gateway/internal/app/domain/quota"
)

// Server holds the HTTP listener settings.
type Server struct {
	ListenAddr string `yaml:"listen_addr"`
}

// WhatsApp holds the Graph API coordinates for the deployed phone number.
type WhatsApp struct {
	BaseURL       string  `yaml:"base_url"`
	APIVersion    string  `yaml:"api_version"`
	PhoneNumberID string  `yaml:"phone_number_id"`
	APIToken      string  `yaml:"-"`
	VerifyToken   string  `yaml:"-"`
	SendsPerSec   float64 `yaml:"sends_per_sec"`
}

// Flows identifies the published interactive forms and the key material
// for their encrypted exchange.
type Flows struct {
	OnboardingID     string `yaml:"onboarding_id"`
	SelectSubjectsID string `yaml:"select_subjects_id"`
	SelectClassesID  string `yaml:"select_classes_id"`

	// PrivateKeyPEM is the RSA key registered with the platform for
	// envelope decryption. Loaded from FLOW_PRIVATE_KEY or the file
	// named by FLOW_PRIVATE_KEY_FILE; never from YAML.
	PrivateKeyPEM string `yaml:"-"`
	AppSecret     string `yaml:"-"`
}

// Redis holds the counter store connection.
type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"-"`
	DB       int    `yaml:"db"`
}

// Quota holds the daily admission ceilings.
type Quota struct {
	UserDailyMessages int64 `yaml:"user_daily_messages"`
	AppDailyMessages  int64 `yaml:"app_daily_messages"`
	UserDailyTokens   int64 `yaml:"user_daily_tokens"`
	AppDailyTokens    int64 `yaml:"app_daily_tokens"`
}

// Ceilings converts the configured limits into the admission domain type.
func (q Quota) Ceilings() quota.Ceilings {
	return quota.Ceilings{
		UserDailyMessages: q.UserDailyMessages,
		AppDailyMessages:  q.AppDailyMessages,
		UserDailyTokens:   q.UserDailyTokens,
		AppDailyTokens:    q.AppDailyTokens,
	}
}

// Logging mirrors pkg/logger's settings.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config is the full gateway configuration.
type Config struct {
	Server   Server   `yaml:"server"`
	WhatsApp WhatsApp `yaml:"whatsapp"`
	Flows    Flows    `yaml:"flows"`
	Redis    Redis    `yaml:"redis"`
	Postgres string   `yaml:"-"` // DATABASE_URL; empty selects the in-memory store
	Quota    Quota    `yaml:"quota"`
	Logging  Logging  `yaml:"logging"`
}

func defaults() Config {
	return Config{
		Server: Server{ListenAddr: ":8080"},
		WhatsApp: WhatsApp{
			BaseURL:    "https://graph.facebook.com",
			APIVersion: "v20.0",
		},
		Quota: Quota{
			UserDailyMessages: 200,
			AppDailyMessages:  10000,
			UserDailyTokens:   100000,
			AppDailyTokens:    5000000,
		},
		Logging: Logging{Level: "info", Format: "json"},
	}
}

// Load reads the optional YAML file named by CONFIG_FILE, then applies
// environment overrides. A .env file in the working directory is loaded
// first if present.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := defaults()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	applyEnv(&cfg)
	if err := loadPrivateKey(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	envString("LISTEN_ADDR", &cfg.Server.ListenAddr)

	envString("WHATSAPP_BASE_URL", &cfg.WhatsApp.BaseURL)
	envString("WHATSAPP_API_VERSION", &cfg.WhatsApp.APIVersion)
	envString("WHATSAPP_PHONE_NUMBER_ID", &cfg.WhatsApp.PhoneNumberID)
	envString("WHATSAPP_API_TOKEN", &cfg.WhatsApp.APIToken)
	envString("WHATSAPP_VERIFY_TOKEN", &cfg.WhatsApp.VerifyToken)
	envFloat("WHATSAPP_SENDS_PER_SEC", &cfg.WhatsApp.SendsPerSec)

	envString("FLOW_ID_ONBOARDING", &cfg.Flows.OnboardingID)
	envString("FLOW_ID_SELECT_SUBJECTS", &cfg.Flows.SelectSubjectsID)
	envString("FLOW_ID_SELECT_CLASSES", &cfg.Flows.SelectClassesID)
	envString("APP_SECRET", &cfg.Flows.AppSecret)

	envString("REDIS_ADDR", &cfg.Redis.Addr)
	envString("REDIS_PASSWORD", &cfg.Redis.Password)
	envInt("REDIS_DB", &cfg.Redis.DB)

	envString("DATABASE_URL", &cfg.Postgres)

	envInt64("USER_DAILY_MESSAGE_LIMIT", &cfg.Quota.UserDailyMessages)
	envInt64("APP_DAILY_MESSAGE_LIMIT", &cfg.Quota.AppDailyMessages)
	envInt64("USER_DAILY_TOKEN_LIMIT", &cfg.Quota.UserDailyTokens)
	envInt64("APP_DAILY_TOKEN_LIMIT", &cfg.Quota.AppDailyTokens)

	envString("LOG_LEVEL", &cfg.Logging.Level)
	envString("LOG_FORMAT", &cfg.Logging.Format)
}

func loadPrivateKey(cfg *Config) error {
	if v := os.Getenv("FLOW_PRIVATE_KEY"); v != "" {
		cfg.Flows.PrivateKeyPEM = v
		return nil
	}
	if path := os.Getenv("FLOW_PRIVATE_KEY_FILE"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read flow private key %s: %w", path, err)
		}
		cfg.Flows.PrivateKeyPEM = string(raw)
	}
	return nil
}

func (c Config) validate() error {
	if c.WhatsApp.PhoneNumberID == "" {
		return fmt.Errorf("WHATSAPP_PHONE_NUMBER_ID is required")
	}
	if c.WhatsApp.APIToken == "" {
		return fmt.Errorf("WHATSAPP_API_TOKEN is required")
	}
	if c.WhatsApp.VerifyToken == "" {
		return fmt.Errorf("WHATSAPP_VERIFY_TOKEN is required")
	}
	if c.Flows.AppSecret == "" {
		return fmt.Errorf("APP_SECRET is required")
	}
	if c.Flows.PrivateKeyPEM == "" {
		return fmt.Errorf("FLOW_PRIVATE_KEY or FLOW_PRIVATE_KEY_FILE is required")
	}
	return nil
}

// RSAPrivateKey parses the configured PEM into a usable key. PKCS#1 and
// PKCS#8 encodings are both accepted.
func (f Flows) RSAPrivateKey() (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(f.PrivateKeyPEM))
	if block == nil {
		return nil, fmt.Errorf("flow private key: no PEM block found")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("flow private key: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("flow private key: not an RSA key")
	}
	return key, nil
}

func envString(name string, dst *string) {
	if v := os.Getenv(name); v != "" {
		*dst = v
	}
}

func envInt(name string, dst *int) {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envInt64(name string, dst *int64) {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func envFloat(name string, dst *float64) {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = n
		}
	}
}
