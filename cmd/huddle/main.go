// Command huddle is a headless participant: it joins a room with
// file-backed media, prints chat and captions, and reads chat lines and
// commands from stdin.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/dkeye/huddle/internal/adapters/ffmpeg"
	"github.com/dkeye/huddle/internal/adapters/rtc"
	sig "github.com/dkeye/huddle/internal/adapters/signal"
	"github.com/dkeye/huddle/internal/adapters/speech"
	"github.com/dkeye/huddle/internal/adapters/suggest"
	"github.com/dkeye/huddle/internal/app/mesh"
	"github.com/dkeye/huddle/internal/app/orch"
	"github.com/dkeye/huddle/internal/app/record"
	"github.com/dkeye/huddle/internal/config"
	"github.com/dkeye/huddle/internal/core"
	"github.com/dkeye/huddle/internal/domain"
)

func flags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("huddle", pflag.ExitOnError)
	fs.String("client.relay_url", "", "relay WebSocket endpoint")
	fs.String("client.room", "", "room to join")
	fs.String("client.name", "", "display name")
	fs.String("client.video_file", "", "IVF (VP8) file played as the camera")
	fs.String("client.audio_file", "", "Ogg (Opus) file played as the microphone")
	fs.String("client.screen_file", "", "IVF (VP8) file recorded as the shared screen")
	fs.String("client.metrics_addr", "", "serve Prometheus metrics on this address")
	fs.Bool("recording.enabled", false, "record the call to recording.dir")
	fs.String("assist.suggest_url", "", "reply suggestion endpoint")
	fs.String("transcript", "", "text file spoken line by line as captions")
	fs.String("log_level", "", "zerolog level")
	return fs
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	fs := flags()
	_ = fs.Parse(os.Args[1:])
	cfg, err := config.Load(fs)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}
	if err := cfg.ValidateClient(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	c := cfg.Client
	deps := orch.Deps{
		Dial: func(ctx context.Context, self domain.PeerID) (core.SignalingChannel, error) {
			return sig.Dial(ctx, c.RelayURL, self)
		},
		Media: rtc.FileMedia{VideoPath: c.VideoFile, AudioPath: c.AudioFile, Decoders: rtc.DefaultDecoders()},
		NewPC: rtc.NewFactory(rtc.Config{ICEServers: c.ICEServers, Trickle: c.Trickle}, rtc.DefaultDecoders()),
	}
	if c.ScreenFile != "" {
		deps.Screen = rtc.FileMedia{VideoPath: c.ScreenFile, StreamID: "screen", Decoders: rtc.DefaultDecoders()}
	}
	if c.MetricsAddr != "" {
		go serveMetrics(ctx, c.MetricsAddr)
	}
	if cfg.Assist.SuggestURL != "" {
		deps.Suggester = suggest.New(cfg.Assist.SuggestURL)
	}
	if path, _ := fs.GetString("transcript"); path != "" {
		deps.Recognizer = speech.Script{Path: path}
	}
	if cfg.Recording.Enabled {
		deps.Muxer = ffmpeg.NewFactory(cfg.Recording.FFmpegPath)
	}

	o := orch.New(deps, orch.Options{
		Room:         domain.RoomID(c.Room),
		Self:         domain.Participant{Name: c.Name},
		Mesh:         mesh.Options{Trickle: c.Trickle, LeaveTimeout: c.LeaveTimeout},
		ReconnectMin: c.ReconnectMin,
		ReconnectMax: c.ReconnectMax,
		Recording: record.Options{
			Width:      cfg.Recording.Width,
			Height:     cfg.Recording.Height,
			FPS:        cfg.Recording.FPS,
			SampleRate: cfg.Recording.SampleRate,
			Dir:        cfg.Recording.Dir,
		},
		SuggestTimeout: cfg.Assist.SuggestTimeout,
		RestartDelay:   cfg.Assist.RestartDelay,
	}, orch.Events{
		Chat: func(m domain.ChatMessage) {
			if m.Direction == domain.DirectionReceived {
				fmt.Printf("[%s] %s: %s\n", m.Timestamp.Local().Format(time.Kitchen), m.SenderDisplay, m.Text)
			}
		},
		Captions: func(view []domain.TranscriptFragment) {
			for _, f := range view {
				fmt.Printf("  » %s: %s\n", f.Username, f.Text)
			}
		},
		Roster: func(ps []domain.Participant) {
			names := make([]string, 0, len(ps))
			for _, p := range ps {
				names = append(names, p.Name)
			}
			fmt.Printf("in the room: %s\n", strings.Join(names, ", "))
		},
		Suggestions: func(_ domain.ChatMessage, s []string) {
			fmt.Printf("  suggestions: %s\n", strings.Join(s, " | "))
		},
		Artifact: func(a record.Artifact) {
			fmt.Printf("recording saved: %s\n", a.Path)
		},
		Error: func(err error) {
			log.Warn().Str("module", "huddle").Err(err).Msg("session error")
		},
	})

	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()

	select {
	case <-o.Ready():
	case err := <-done:
		log.Fatal().Err(err).Msg("join failed")
	}
	if cfg.Recording.Enabled {
		if _, err := o.StartRecording(ctx); err != nil {
			log.Error().Err(err).Msg("start recording")
		}
	}

	go readCommands(ctx, cancel, o)

	if err := <-done; err != nil {
		log.Error().Err(err).Msg("session ended")
		os.Exit(1)
	}
}

// serveMetrics exposes the mesh and recording collectors until ctx ends.
func serveMetrics(ctx context.Context, addr string) {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	log.Info().Str("module", "huddle").Str("addr", addr).Msg("metrics listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error().Str("module", "huddle").Err(err).Msg("metrics server")
	}
}

// readCommands handles stdin: /mic on|off, /video on|off, /screen on|off,
// /record start|stop, /quit, anything else is sent as chat.
func readCommands(ctx context.Context, quit context.CancelFunc, o *orch.Orchestrator) {
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		fields := strings.Fields(line)
		var err error
		switch {
		case line == "":
			continue
		case line == "/quit":
			quit()
			return
		case len(fields) == 2 && fields[0] == "/mic":
			err = o.SetMic(ctx, fields[1] == "on")
		case len(fields) == 2 && fields[0] == "/video":
			err = o.SetVideo(ctx, fields[1] == "on")
		case line == "/screen on":
			err = o.StartScreenShare(ctx)
		case line == "/screen off":
			o.StopScreenShare()
		case line == "/record start":
			_, err = o.StartRecording(ctx)
		case line == "/record stop":
			_, err = o.StopRecording()
		default:
			_, err = o.SendChat(ctx, line)
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			fmt.Fprintf(os.Stderr, "! %v\n", err)
		}
	}
}
