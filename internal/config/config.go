package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	StaticPath string        `mapstructure:"static_path"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	SendBuffer int           `mapstructure:"send_buffer"`
	Secret     string        `mapstructure:"secret"`
	LogLevel   string        `mapstructure:"log_level"`

	Sessions SessionsConfig `mapstructure:"sessions"`
	Chat     ChatConfig     `mapstructure:"chat"`
	ICE      ICEConfig      `mapstructure:"ice"`
	Probe    ProbeConfig    `mapstructure:"probe"`
}

type SessionsConfig struct {
	MaxParticipants int    `mapstructure:"max_participants"`
	DefaultRole     string `mapstructure:"default_role"`
	ArchiveLimit    int    `mapstructure:"archive_limit"`
	// Policy is what happens to a participant whose send buffer is full:
	// "kick" or "tolerant".
	Policy       string `mapstructure:"policy"`
	TolerateDrop int    `mapstructure:"tolerate_drop"`
}

type ChatConfig struct {
	// Rate is messages per second per participant; zero disables limiting.
	Rate  float64 `mapstructure:"rate"`
	Burst int     `mapstructure:"burst"`
}

type ICEConfig struct {
	Servers []string `mapstructure:"servers"`
}

// ProbeConfig drives the headless client.
type ProbeConfig struct {
	URL             string        `mapstructure:"url"`
	Session         string        `mapstructure:"session"`
	Participant     string        `mapstructure:"participant"`
	Name            string        `mapstructure:"name"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
	Retries         int           `mapstructure:"retries"`
}

const envPrefix = "HUDDLE"

func Load() (*Config, error) {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return load(fmt.Sprintf("config/config.%s.yaml", env))
}

func load(fileName string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Str("static", cfg.StaticPath).Msg("config ready")
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("read_limit", 65536)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("send_buffer", 64)
	v.SetDefault("secret", "")
	v.SetDefault("log_level", "info")

	v.SetDefault("sessions.max_participants", 16)
	v.SetDefault("sessions.default_role", "participant")
	v.SetDefault("sessions.archive_limit", 128)
	v.SetDefault("sessions.policy", "kick")
	v.SetDefault("sessions.tolerate_drop", 8)

	v.SetDefault("chat.rate", 5.0)
	v.SetDefault("chat.burst", 10)

	v.SetDefault("ice.servers", []string{"stun:stun.l.google.com:19302"})

	v.SetDefault("probe.url", "ws://localhost:8080/api/ws/signal")
	v.SetDefault("probe.session", "lobby")
	v.SetDefault("probe.participant", "")
	v.SetDefault("probe.name", "probe")
	v.SetDefault("probe.initial_interval", "500ms")
	v.SetDefault("probe.max_interval", "30s")
	v.SetDefault("probe.retries", 1)
}

func (c *Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.PingPeriod <= 0 {
		errs = append(errs, errors.New("ping_period must be positive"))
	}
	switch c.Sessions.Policy {
	case "kick", "tolerant":
	default:
		errs = append(errs, fmt.Errorf("unknown sessions.policy %q", c.Sessions.Policy))
	}
	if c.Chat.Rate < 0 {
		errs = append(errs, errors.New("chat.rate must not be negative"))
	}
	return errors.Join(errs...)
}
