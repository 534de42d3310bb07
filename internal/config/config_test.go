package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"
)

func inDir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}

func TestLoad_Defaults(t *testing.T) {
	req := require.New(t)
	inDir(t, t.TempDir())
	t.Setenv("CONFIG_ENV", "missing")

	cfg, err := Load(nil)
	req.NoError(err)

	req.Equal(8080, cfg.Relay.Port)
	req.Equal(54*time.Second, cfg.Relay.PingPeriod)
	req.Equal(1920, cfg.Recording.Width)
	req.Equal(30, cfg.Recording.FPS)
	req.Equal(2*time.Second, cfg.Client.LeaveTimeout)
	req.Equal(15*time.Second, cfg.Relay.ReconnectGrace)
	req.Equal(256, cfg.Relay.ParkLimit)
	req.Empty(cfg.Client.MetricsAddr)
	req.NoError(cfg.ValidateRelay())

	// The client needs a room and some media before it can start
	req.Error(cfg.ValidateClient())
}

func TestLoad_FileEnvAndFlags(t *testing.T) {
	req := require.New(t)
	dir := t.TempDir()
	req.NoError(os.MkdirAll(filepath.Join(dir, "config"), 0o755))
	req.NoError(os.WriteFile(filepath.Join(dir, "config", "config.test.yaml"), []byte(`
relay:
  mode: debug
  port: 9000
client:
  room: standup
  audio_file: ./a.ogg
recording:
  enabled: true
  fps: 25
`), 0o644))
	inDir(t, dir)
	t.Setenv("CONFIG_ENV", "test")
	t.Setenv("HUDDLE_CLIENT_NAME", "bot")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("client.room", "", "")
	req.NoError(flags.Parse([]string{"--client.room=retro"}))

	cfg, err := Load(flags)
	req.NoError(err)

	req.Equal("debug", cfg.Relay.Mode)
	req.Equal(9000, cfg.Relay.Port)
	req.Equal("retro", cfg.Client.Room)
	req.Equal("bot", cfg.Client.Name)
	req.Equal(25, cfg.Recording.FPS)
	req.NoError(cfg.ValidateClient())

	cfg.Client.MetricsAddr = "localhost:9100"
	req.NoError(cfg.ValidateClient())
	cfg.Client.MetricsAddr = "not an address"
	req.Error(cfg.ValidateClient())
	cfg.Client.MetricsAddr = ""

	cfg.Recording.SampleRate = 44100
	req.Error(cfg.ValidateClient())
	cfg.Relay.Mode = "chaos"
	req.Error(cfg.ValidateRelay())
}
