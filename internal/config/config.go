package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dkeye/meetsfu/internal/adapters/rtc"
	"github.com/dkeye/meetsfu/internal/adapters/signal"
	"github.com/dkeye/meetsfu/internal/app"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	StaticPath string        `mapstructure:"static_path"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	PongWait   time.Duration `mapstructure:"pong_wait"`
	WriteWait  time.Duration `mapstructure:"write_wait"`
	SendBuffer int           `mapstructure:"send_buffer"`
	Secret     string        `mapstructure:"secret"`
	LogLevel   string        `mapstructure:"log_level"`

	LinkTTL      time.Duration `mapstructure:"link_ttl"`
	ReapInterval time.Duration `mapstructure:"reap_interval"`
	CreateLimit  int           `mapstructure:"create_limit"`
	CreateWindow time.Duration `mapstructure:"create_window"`

	BackpressurePolicy string `mapstructure:"backpressure_policy"`

	Media Media `mapstructure:"media"`
}

type Media struct {
	ListenIP    string   `mapstructure:"listen_ip"`
	AnnouncedIP string   `mapstructure:"announced_ip"`
	UDPPort     int      `mapstructure:"udp_port"`
	UDPPortMin  uint16   `mapstructure:"udp_port_min"`
	UDPPortMax  uint16   `mapstructure:"udp_port_max"`
	ICEServers  []string `mapstructure:"ice_servers"`
	ICELite     bool     `mapstructure:"ice_lite"`
}

const defaultSecret = "meetsfu-dev-secret"

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("read_limit", 65536)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("pong_wait", "60s")
	v.SetDefault("write_wait", "10s")
	v.SetDefault("send_buffer", 64)
	v.SetDefault("secret", defaultSecret)
	v.SetDefault("log_level", "info")

	v.SetDefault("link_ttl", "24h")
	v.SetDefault("reap_interval", "10m")
	v.SetDefault("create_limit", 10)
	v.SetDefault("create_window", "1m")
	v.SetDefault("backpressure_policy", "kick")

	v.SetDefault("media.listen_ip", "0.0.0.0")
	v.SetDefault("media.announced_ip", "")
	v.SetDefault("media.udp_port", 0)
	v.SetDefault("media.udp_port_min", 40000)
	v.SetDefault("media.udp_port_max", 49999)
	v.SetDefault("media.ice_servers", []string{})
	v.SetDefault("media.ice_lite", true)
}

// Load reads config/config.<CONFIG_ENV>.yaml, then MEETSFU_* environment
// variables, then flags. Flags win. flags may be nil.
func Load(flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)
	v.SetConfigFile(fileName)

	setDefaults(v)

	v.SetEnvPrefix("MEETSFU")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config %s: %w", fileName, err)
		}
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
	if cfg.Secret == defaultSecret && cfg.Mode == "release" {
		log.Warn().Str("module", "config").Msg("using the built-in cookie secret, set MEETSFU_SECRET")
	}
	log.Info().
		Str("module", "config").
		Str("mode", cfg.Mode).
		Int("port", cfg.Port).
		Str("static", cfg.StaticPath).
		Msg("config ready")
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.PongWait <= c.PingPeriod {
		return fmt.Errorf("pong_wait (%s) must exceed ping_period (%s)", c.PongWait, c.PingPeriod)
	}
	if c.SendBuffer <= 0 {
		return fmt.Errorf("send_buffer must be positive")
	}
	if _, err := app.PolicyByName(c.BackpressurePolicy); err != nil {
		return err
	}
	if c.Media.UDPPort == 0 && c.Media.UDPPortMin > c.Media.UDPPortMax {
		return fmt.Errorf("media.udp_port_min %d exceeds udp_port_max %d", c.Media.UDPPortMin, c.Media.UDPPortMax)
	}
	return nil
}

func (c *Config) SignalOptions() signal.Options {
	return signal.Options{
		ReadLimit:    c.ReadLimit,
		PingPeriod:   c.PingPeriod,
		PongWait:     c.PongWait,
		WriteWait:    c.WriteWait,
		SendBuffer:   c.SendBuffer,
		CreateLimit:  c.CreateLimit,
		CreateWindow: c.CreateWindow,
	}
}

func (c *Config) EngineConfig() rtc.Config {
	return rtc.Config{
		ListenIP:    c.Media.ListenIP,
		AnnouncedIP: c.Media.AnnouncedIP,
		UDPPortMin:  c.Media.UDPPortMin,
		UDPPortMax:  c.Media.UDPPortMax,
		UDPPort:     c.Media.UDPPort,
		ICEServers:  c.Media.ICEServers,
		ICELite:     c.Media.ICELite,
	}
}

// Policy returns the configured back-pressure policy. Validate has already
// rejected unknown names.
func (c *Config) Policy() app.Policy {
	p, err := app.PolicyByName(c.BackpressurePolicy)
	if err != nil {
		return app.SimplePolicy{}
	}
	return p
}
