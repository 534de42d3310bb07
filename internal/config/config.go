package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type RelayConfig struct {
	Mode       string        `mapstructure:"mode" validate:"oneof=debug release test"`
	Port       int           `mapstructure:"port" validate:"min=1,max=65535"`
	StaticPath string        `mapstructure:"static_path"`
	ReadLimit  int64         `mapstructure:"read_limit" validate:"min=0"`
	PingPeriod time.Duration `mapstructure:"ping_period" validate:"min=0"`
	Secret     string        `mapstructure:"secret" validate:"required"`
	ChatRate   int           `mapstructure:"chat_rate" validate:"min=0"`
	ChatWindow time.Duration `mapstructure:"chat_window"`
	// ReconnectGrace keeps a dropped member in its room this long.
	ReconnectGrace time.Duration `mapstructure:"reconnect_grace" validate:"min=0"`
	ParkLimit      int           `mapstructure:"park_limit" validate:"min=0"`
}

type ClientConfig struct {
	RelayURL     string        `mapstructure:"relay_url" validate:"required,url"`
	Room         string        `mapstructure:"room" validate:"required,max=64"`
	Name         string        `mapstructure:"name" validate:"required,max=64"`
	ICEServers   []string      `mapstructure:"ice_servers"`
	Trickle      bool          `mapstructure:"trickle"`
	VideoFile    string        `mapstructure:"video_file"`
	ScreenFile   string        `mapstructure:"screen_file"`
	AudioFile    string        `mapstructure:"audio_file" validate:"required_without=VideoFile"`
	LeaveTimeout time.Duration `mapstructure:"leave_timeout"`
	ReconnectMin time.Duration `mapstructure:"reconnect_min" validate:"gt=0"`
	ReconnectMax time.Duration `mapstructure:"reconnect_max" validate:"gtefield=ReconnectMin"`
	MetricsAddr  string        `mapstructure:"metrics_addr" validate:"omitempty,hostname_port"`
}

type RecordingConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Dir        string `mapstructure:"dir"`
	Width      int    `mapstructure:"width" validate:"min=16"`
	Height     int    `mapstructure:"height" validate:"min=16"`
	FPS        int    `mapstructure:"fps" validate:"min=1,max=120"`
	SampleRate int    `mapstructure:"sample_rate" validate:"oneof=8000 16000 24000 48000"`
	FFmpegPath string `mapstructure:"ffmpeg_path"`
}

type AssistConfig struct {
	SuggestURL     string        `mapstructure:"suggest_url" validate:"omitempty,url"`
	SuggestTimeout time.Duration `mapstructure:"suggest_timeout"`
	RestartDelay   time.Duration `mapstructure:"restart_delay"`
}

type Config struct {
	LogLevel  string          `mapstructure:"log_level"`
	Relay     RelayConfig     `mapstructure:"relay"`
	Client    ClientConfig    `mapstructure:"client"`
	Recording RecordingConfig `mapstructure:"recording"`
	Assist    AssistConfig    `mapstructure:"assist"`
}

var validate = validator.New()

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")

	v.SetDefault("relay.mode", "release")
	v.SetDefault("relay.port", 8080)
	v.SetDefault("relay.static_path", "./web")
	v.SetDefault("relay.read_limit", 32768)
	v.SetDefault("relay.ping_period", "54s")
	v.SetDefault("relay.secret", "change-me")
	v.SetDefault("relay.chat_rate", 10)
	v.SetDefault("relay.chat_window", "10s")
	v.SetDefault("relay.reconnect_grace", "15s")
	v.SetDefault("relay.park_limit", 256)

	v.SetDefault("client.relay_url", "ws://localhost:8080/api/ws/signal")
	v.SetDefault("client.name", "guest")
	v.SetDefault("client.ice_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("client.trickle", true)
	v.SetDefault("client.leave_timeout", "2s")
	v.SetDefault("client.reconnect_min", "500ms")
	v.SetDefault("client.reconnect_max", "30s")

	v.SetDefault("recording.dir", "./recordings")
	v.SetDefault("recording.width", 1920)
	v.SetDefault("recording.height", 1080)
	v.SetDefault("recording.fps", 30)
	v.SetDefault("recording.sample_rate", 48000)
	v.SetDefault("recording.ffmpeg_path", "ffmpeg")

	v.SetDefault("assist.suggest_timeout", "5s")
	v.SetDefault("assist.restart_delay", "500ms")
}

// Load reads config/config.<CONFIG_ENV>.yaml on top of the defaults.
// Environment variables (HUDDLE_CLIENT_ROOM, ...) and flags override the
// file; flags are named after their keys, e.g. "client.room".
func Load(flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	setDefaults(v)
	v.SetEnvPrefix("huddle")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("⚠️ Config file not found (%s), using defaults\n", fileName)
	} else {
		fmt.Printf("✅ Loaded config: %s\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) ValidateRelay() error {
	if err := validate.Struct(c.Relay); err != nil {
		return fmt.Errorf("relay config: %w", err)
	}
	return nil
}

func (c *Config) ValidateClient() error {
	if err := validate.Struct(c.Client); err != nil {
		return fmt.Errorf("client config: %w", err)
	}
	if c.Recording.Enabled {
		if err := validate.Struct(c.Recording); err != nil {
			return fmt.Errorf("recording config: %w", err)
		}
	}
	if err := validate.Struct(c.Assist); err != nil {
		return fmt.Errorf("assist config: %w", err)
	}
	return nil
}
