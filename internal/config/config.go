package config

import (
	"io/ioutil"
	"os"

	"gopkg.in/yaml.v3"
)

// Config top-level struct
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Redis     RedisConfig     `yaml:"redis"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
	Mpesa     MpesaConfig     `yaml:"mpesa"`
	Fees      FeesConfig      `yaml:"fees"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
}

type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type RateLimitConfig struct {
	RPS   int `yaml:"rps"`
	Burst int `yaml:"burst"`
}

// MpesaConfig holds the Daraja gateway settings. Secrets are expected
// from the environment, not the yaml file.
type MpesaConfig struct {
	BaseURL            string `yaml:"base_url"`
	ConsumerKey        string `yaml:"consumer_key"`
	ConsumerSecret     string `yaml:"consumer_secret"`
	ShortCode          string `yaml:"short_code"`
	PassKey            string `yaml:"pass_key"`
	B2CShortCode       string `yaml:"b2c_short_code"`
	InitiatorName      string `yaml:"initiator_name"`
	SecurityCredential string `yaml:"security_credential"`
	CallbackBaseURL    string `yaml:"callback_base_url"`
	// B2CSuccessCode is the result code the gateway's B2C callbacks
	// use for success. Daraja documents 0; some deployments differ.
	B2CSuccessCode int `yaml:"b2c_success_code"`
}

type FeesConfig struct {
	// PlatformRate is the fraction skimmed from each tip, e.g. 0.05.
	PlatformRate float64 `yaml:"platform_rate"`
}

// Load reads yaml file
func Load(path string) (*Config, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	// secrets come from env when present
	if pw := os.Getenv("POSTGRES_PASSWORD"); pw != "" {
		cfg.Postgres.DSN = cfg.Postgres.DSN + " password=" + pw
	}
	if v := os.Getenv("MPESA_CONSUMER_KEY"); v != "" {
		cfg.Mpesa.ConsumerKey = v
	}
	if v := os.Getenv("MPESA_CONSUMER_SECRET"); v != "" {
		cfg.Mpesa.ConsumerSecret = v
	}
	if v := os.Getenv("MPESA_PASSKEY"); v != "" {
		cfg.Mpesa.PassKey = v
	}
	if v := os.Getenv("MPESA_SECURITY_CREDENTIAL"); v != "" {
		cfg.Mpesa.SecurityCredential = v
	}
	if cfg.Fees.PlatformRate == 0 {
		cfg.Fees.PlatformRate = 0.05
	}
	return &cfg, nil
}
