package config

import (
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Profile   string
	Server    ServerConfig
	Socket    SocketConfig
	Messaging MessagingConfig
	Log       LogConfig
}

type ServerConfig struct {
	APIBaseURL string `mapstructure:"api_base_url"`
}

type SocketConfig struct {
	URL              string
	MaxReconnects    int           `mapstructure:"max_reconnects"`
	ReconnectBackoff time.Duration `mapstructure:"reconnect_backoff"`
}

type MessagingConfig struct {
	PageSize       int           `mapstructure:"page_size"`
	TypingIdleWait time.Duration `mapstructure:"typing_idle_wait"`
	TypingHardStop time.Duration `mapstructure:"typing_hard_stop"`
	TypingExpiry   time.Duration `mapstructure:"typing_expiry"`
}

type LogConfig struct {
	Level string
	File  string
}

// Load reads config.yaml from the profile's config directory if present,
// with env overrides (HARBOR_*) and sane defaults for everything.
func Load(configDir string) (*Config, error) {
	v := viper.New()

	v.SetDefault("profile", "default")
	v.SetDefault("server.api_base_url", "http://localhost:5000/api")
	v.SetDefault("socket.url", "ws://localhost:5000/ws")
	v.SetDefault("socket.max_reconnects", 5)
	v.SetDefault("socket.reconnect_backoff", "2s")
	v.SetDefault("messaging.page_size", 50)
	v.SetDefault("messaging.typing_idle_wait", "1s")
	v.SetDefault("messaging.typing_hard_stop", "3s")
	v.SetDefault("messaging.typing_expiry", "3s")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")

	v.BindEnv("profile", "HARBOR_PROFILE")
	v.BindEnv("server.api_base_url", "HARBOR_API_URL")
	v.BindEnv("socket.url", "HARBOR_SOCKET_URL")
	v.BindEnv("log.level", "HARBOR_LOG_LEVEL")
	v.BindEnv("log.file", "HARBOR_LOG_FILE")

	if configDir != "" {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(configDir)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, err
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	cfg.Socket.ReconnectBackoff = parseDuration(v, "socket.reconnect_backoff", 2*time.Second)
	cfg.Messaging.TypingIdleWait = parseDuration(v, "messaging.typing_idle_wait", time.Second)
	cfg.Messaging.TypingHardStop = parseDuration(v, "messaging.typing_hard_stop", 3*time.Second)
	cfg.Messaging.TypingExpiry = parseDuration(v, "messaging.typing_expiry", 3*time.Second)

	if cfg.Log.File == "" && configDir != "" {
		cfg.Log.File = filepath.Join(configDir, "harbor.log")
	}

	return &cfg, nil
}

func parseDuration(v *viper.Viper, key string, defaultVal time.Duration) time.Duration {
	str := v.GetString(key)
	d, err := time.ParseDuration(str)
	if err != nil {
		return defaultVal
	}
	return d
}
