package main

import (
	"bufio"
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/voxbridge/voxbridge/internal/config"
	"github.com/voxbridge/voxbridge/internal/media"
	"github.com/voxbridge/voxbridge/internal/session"
	"github.com/voxbridge/voxbridge/internal/signaling"
	"github.com/voxbridge/voxbridge/internal/transcript"
	"github.com/voxbridge/voxbridge/internal/translate"
)

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

	negotiator := signaling.NewClient(signaling.Config{
		Endpoint: cfg.Negotiation.Endpoint,
		Model:    cfg.Negotiation.Model,
		Shape:    signaling.Shape(cfg.Negotiation.Shape),
		Timeout:  cfg.Negotiation.Timeout,
	})

	coord := session.New(negotiator, session.Config{
		Media: media.Config{
			STUNServers:   cfg.Media.STUNServers,
			ChannelLabel:  cfg.Media.ChannelLabel,
			CaptureDevice: cfg.Media.CaptureDevice,
		},
		Transcript: transcript.Config{
			PartialPolicy:       transcript.PartialPolicy(cfg.Transcript.PartialPolicy),
			TransitionalMarkers: cfg.Transcript.TransitionalMarkers,
		},
	})

	translator := translate.NewHTTPClient(translate.Config{
		Endpoint: cfg.Translate.Endpoint,
		Timeout:  cfg.Translate.Timeout,
	})

	coord.OnStateChange(func(s session.ConnectionState) {
		log.Info().Str("state", s.String()).Msg("connection state")
	})
	coord.OnRemoteAudio(func(tr *webrtc.TrackRemote) {
		log.Info().Str("track_id", tr.ID()).Msg("remote audio available")
	})
	coord.OnUtterance(func(u transcript.Utterance) {
		log.Info().Str("lang", string(u.Language)).Str("text", u.Text).Msg("utterance")
		go func() {
			translated, err := translator.Translate(ctx, u.Text)
			if err != nil {
				log.Warn().Err(err).Msg("translation failed")
				return
			}
			log.Info().Str("lang", string(u.Language)).Str("translation", translated).Msg("translated")
		}()
	})

	if err := coord.Connect(ctx); err != nil {
		log.Fatal().Err(err).Msg("connect failed")
	}
	defer coord.Disconnect()

	log.Info().Msg("connected; press Enter to toggle recording, Ctrl+C to quit")

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	recording := false
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-lines:
			if !ok {
				return
			}
			if recording {
				coord.StopRecording()
				log.Info().Msg("recording stopped")
			} else {
				coord.StartRecording()
				log.Info().Msg("recording started")
			}
			recording = !recording
		}
	}
}
