package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

type Config struct {
	Mode            string        `mapstructure:"mode"`
	Port            int           `mapstructure:"port"`
	StaticPath      string        `mapstructure:"static_path"`
	ReadLimit       int64         `mapstructure:"read_limit"`
	PingPeriod      time.Duration `mapstructure:"ping_period"`
	Secret          string        `mapstructure:"secret"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	Log    LogConfig    `mapstructure:"log"`
	Audio  AudioConfig  `mapstructure:"audio"`
	Relay  RelayConfig  `mapstructure:"relay"`
	WebRTC WebRTCConfig `mapstructure:"webrtc"`
	Signal SignalConfig `mapstructure:"signal"`

	v *viper.Viper
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type AudioConfig struct {
	Device     string `mapstructure:"device"`
	DeviceName string `mapstructure:"device_name"`
}

type RelayConfig struct {
	QueueDepth int    `mapstructure:"queue_depth"`
	DropPolicy string `mapstructure:"drop_policy"`
	KeepAlive  bool   `mapstructure:"keep_alive"`
}

type WebRTCConfig struct {
	ICEServers          []string      `mapstructure:"ice_servers"`
	GatherTimeout       time.Duration `mapstructure:"gather_timeout"`
	DisconnectedTimeout time.Duration `mapstructure:"disconnected_timeout"`
	FailedTimeout       time.Duration `mapstructure:"failed_timeout"`
	KeepAliveInterval   time.Duration `mapstructure:"keepalive_interval"`
	IncludeLoopback     bool          `mapstructure:"include_loopback"`
}

type SignalConfig struct {
	ConnectLimit  int           `mapstructure:"connect_limit"`
	ConnectWindow time.Duration `mapstructure:"connect_window"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8000)
	v.SetDefault("static_path", "./web")
	v.SetDefault("read_limit", 65536)
	v.SetDefault("ping_period", "30s")
	v.SetDefault("secret", "audiocast-dev-secret")
	v.SetDefault("shutdown_timeout", "5s")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	v.SetDefault("audio.device", "loopback")
	v.SetDefault("audio.device_name", "")

	v.SetDefault("relay.queue_depth", 4)
	v.SetDefault("relay.drop_policy", "newest-wins")
	v.SetDefault("relay.keep_alive", false)

	v.SetDefault("webrtc.ice_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("webrtc.gather_timeout", "10s")
	v.SetDefault("webrtc.disconnected_timeout", "5s")
	v.SetDefault("webrtc.failed_timeout", "25s")
	v.SetDefault("webrtc.keepalive_interval", "2s")
	v.SetDefault("webrtc.include_loopback", false)

	v.SetDefault("signal.connect_limit", 10)
	v.SetDefault("signal.connect_window", "1m")
}

// Load reads file, or config/config.<CONFIG_ENV>.yaml when file is empty.
// A missing file is not an error: defaults and AUDIOCAST_* variables apply.
func Load(file string) (*Config, error) {
	if file == "" {
		env := os.Getenv("CONFIG_ENV")
		if env == "" {
			env = "dev"
		}
		file = fmt.Sprintf("config/config.%s.yaml", env)
	}

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(file)
	v.SetEnvPrefix("AUDIOCAST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config %s: %w", file, err)
		}
		fmt.Fprintf(os.Stderr, "⚠️ Config file not found (%s), using defaults\n", file)
	} else {
		fmt.Fprintf(os.Stderr, "✅ Loaded config: %s\n", file)
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(os.Stderr, "🧩 Mode: %s | Port: %d | Static: %s | Device: %s\n", cfg.Mode, cfg.Port, cfg.StaticPath, cfg.Audio.Device)
	return cfg, nil
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.v = v
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.Relay.QueueDepth < 1 {
		errs = append(errs, fmt.Errorf("relay.queue_depth must be positive, got %d", c.Relay.QueueDepth))
	}
	switch c.Relay.DropPolicy {
	case "newest-wins", "oldest-wins", "drop-oldest", "drop-newest":
	default:
		errs = append(errs, fmt.Errorf("unknown relay.drop_policy %q", c.Relay.DropPolicy))
	}
	switch c.Audio.Device {
	case "loopback", "capture":
	default:
		errs = append(errs, fmt.Errorf("unknown audio.device %q", c.Audio.Device))
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("unknown log.level %q", c.Log.Level))
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log.format %q", c.Log.Format))
	}
	if c.WebRTC.GatherTimeout <= 0 {
		errs = append(errs, errors.New("webrtc.gather_timeout must be positive"))
	}
	return errors.Join(errs...)
}

// Watch calls fn with the reloaded config each time the file changes.
// Invalid edits are reported through onErr and otherwise ignored.
func (c *Config) Watch(fn func(*Config), onErr func(error)) {
	if c.v == nil {
		return
	}
	var mu sync.Mutex
	c.v.OnConfigChange(func(e fsnotify.Event) {
		mu.Lock()
		defer mu.Unlock()
		next, err := decode(c.v)
		if err != nil {
			if onErr != nil {
				onErr(fmt.Errorf("reload %s: %w", e.Name, err))
			}
			return
		}
		fn(next)
	})
	c.v.WatchConfig()
}
