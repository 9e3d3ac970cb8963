// Command probe is a headless participant. It joins a session, publishes a
// silent audio track and logs every event it sees; useful for checking a
// deployment end to end.
package main

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/dkeye/Huddle/internal/adapters/channel"
	"github.com/dkeye/Huddle/internal/adapters/rtc"
	"github.com/dkeye/Huddle/internal/app/collab"
	"github.com/dkeye/Huddle/internal/app/events"
	"github.com/dkeye/Huddle/internal/config"
	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/permission"
	"github.com/dkeye/Huddle/internal/protocol"
)

// One 20ms opus frame of silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	pid := cfg.Probe.Participant
	if pid == "" {
		pid = uuid.NewString()
	}
	target, err := url.Parse(cfg.Probe.URL)
	if err != nil {
		log.Fatal().Err(err).Str("url", cfg.Probe.URL).Msg("bad probe url")
	}
	q := target.Query()
	q.Set("name", cfg.Probe.Name)
	target.RawQuery = q.Encode()

	header := http.Header{}
	header.Add("Cookie", (&http.Cookie{Name: "ct", Value: pid}).String())

	bus := events.NewBus()
	bus.Subscribe(events.Wildcard, func(e events.Event) {
		log.Info().Str("module", "probe").Str("event", string(e.Name)).Interface("payload", e.Payload).Msg("event")
	})

	var m *collab.Manager
	client := channel.New(channel.Options{
		URL:             target.String(),
		Header:          header,
		Handler:         func(msg protocol.Message) { m.HandleMessage(msg) },
		Bus:             bus,
		InitialInterval: cfg.Probe.InitialInterval,
		MaxInterval:     cfg.Probe.MaxInterval,
	})

	source := rtc.NewStaticSource(pid)
	m = collab.New(collab.Options{
		Self:        domain.ParticipantID(pid),
		DisplayName: cfg.Probe.Name,
		Session:     domain.SessionID(cfg.Probe.Session),
		Sender:      client,
		Bus:         bus,
		Transport:   rtc.NewFactory(webrtcConfig(cfg.ICE.Servers)),
		Retries:     cfg.Probe.Retries,
		Source:      source,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return client.Connect(gctx) })
	g.Go(func() error {
		defer func() {
			m.Close()
			_ = client.Close()
		}()
		if err := m.Join(gctx); err != nil {
			return err
		}
		log.Info().Str("module", "probe").Str("participant", pid).Str("session", cfg.Probe.Session).Msg("joined")

		if err := m.EnableAudio(gctx); err != nil {
			if !errors.Is(err, permission.ErrDenied) {
				return err
			}
			log.Warn().Err(err).Str("module", "probe").Msg("audio not allowed")
		}
		if _, err := m.SendChatMessage("probe online"); err != nil && !errors.Is(err, permission.ErrDenied) {
			return err
		}
		return writeSilence(gctx, source, m)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, domain.ErrSessionEnded) {
		log.Error().Err(err).Msg("probe stopped")
		os.Exit(1)
	}
	log.Info().Msg("probe exited")
}

// writeSilence feeds the audio track until ctx is done or the session ends.
func writeSilence(ctx context.Context, source *rtc.StaticSource, m *collab.Manager) error {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if m.Ended() {
				return nil
			}
			track, ok := source.Track(core.KindAudio)
			if !ok {
				continue
			}
			if err := track.WriteSample(media.Sample{Data: opusSilence, Duration: 20 * time.Millisecond}); err != nil {
				log.Debug().Err(err).Str("module", "probe").Msg("write sample")
			}
		}
	}
}

func webrtcConfig(servers []string) webrtc.Configuration {
	if len(servers) == 0 {
		return rtc.DefaultWebRTCConfig()
	}
	return webrtc.Configuration{ICEServers: []webrtc.ICEServer{{URLs: servers}}}
}
