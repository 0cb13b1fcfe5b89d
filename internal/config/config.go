package config

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	defaultAddr                    = "localhost:8000"
	defaultLogLevel                = "info"
	defaultShutdownTimeout         = 10 * time.Second
	defaultConversationIdleTimeout = 30 * time.Second
)

type Config struct {
	ServerAddr              string
	DatabaseDSN             string
	SigningKey              []byte
	AllowedOrigins          []string
	LogLevel                string
	LogFile                 string
	RedisURL                string
	ShutdownTimeout         time.Duration
	ConversationIdleTimeout time.Duration
}

// fileConfig mirrors the keys accepted in a config file or LENDLOOP_* variables.
type fileConfig struct {
	Addr                    string        `mapstructure:"addr"`
	DatabaseDSN             string        `mapstructure:"database_dsn"`
	SigningKey              string        `mapstructure:"signing_key"`
	AllowedOrigins          []string      `mapstructure:"allowed_origins"`
	LogLevel                string        `mapstructure:"log_level"`
	LogFile                 string        `mapstructure:"log_file"`
	RedisURL                string        `mapstructure:"redis_url"`
	ShutdownTimeout         time.Duration `mapstructure:"shutdown_timeout"`
	ConversationIdleTimeout time.Duration `mapstructure:"conversation_idle_timeout"`
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(base64Secret)
	if err != nil {
		return nil, err
	}
	if len(key) == 0 {
		return nil, fmt.Errorf("empty signing secret")
	}
	return key, nil
}

func NewConfig(serverAddr, databaseDSN, base64Secret string, allowedOrigins []string) (*Config, error) {
	if serverAddr == "" {
		return nil, fmt.Errorf("server address cannot be empty")
	}
	if databaseDSN == "" {
		return nil, fmt.Errorf("database DSN cannot be empty")
	}
	if base64Secret == "" {
		return nil, fmt.Errorf("signing secret cannot be empty")
	}

	// Decode the base64 encoded signing secret
	signingKey, err := decodeSigningSecret(base64Secret)
	if err != nil {
		return nil, fmt.Errorf("decode signing secret: %w", err)
	}

	return &Config{
		ServerAddr:              serverAddr,
		DatabaseDSN:             databaseDSN,
		SigningKey:              signingKey,
		AllowedOrigins:          allowedOrigins,
		LogLevel:                defaultLogLevel,
		ShutdownTimeout:         defaultShutdownTimeout,
		ConversationIdleTimeout: defaultConversationIdleTimeout,
	}, nil
}

// Load reads the optional config file at path and overlays LENDLOOP_* environment
// variables before validating the result with NewConfig.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("LENDLOOP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("addr", defaultAddr)
	v.SetDefault("database_dsn", "")
	v.SetDefault("signing_key", "")
	v.SetDefault("allowed_origins", []string{})
	v.SetDefault("log_level", defaultLogLevel)
	v.SetDefault("log_file", "")
	v.SetDefault("redis_url", "")
	v.SetDefault("shutdown_timeout", defaultShutdownTimeout.String())
	v.SetDefault("conversation_idle_timeout", defaultConversationIdleTimeout.String())

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var fc fileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg, err := NewConfig(fc.Addr, fc.DatabaseDSN, fc.SigningKey, splitOrigins(fc.AllowedOrigins))
	if err != nil {
		return nil, err
	}

	if fc.LogLevel != "" {
		cfg.LogLevel = fc.LogLevel
	}
	cfg.LogFile = fc.LogFile
	cfg.RedisURL = fc.RedisURL
	if fc.ShutdownTimeout > 0 {
		cfg.ShutdownTimeout = fc.ShutdownTimeout
	}
	if fc.ConversationIdleTimeout > 0 {
		cfg.ConversationIdleTimeout = fc.ConversationIdleTimeout
	}

	return cfg, nil
}

// splitOrigins accepts both list values and a single comma separated env value.
func splitOrigins(values []string) []string {
	var origins []string
	for _, v := range values {
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
	}
	return origins
}
