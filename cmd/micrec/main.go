// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/emiago/micgo"
	"github.com/emiago/micgo/audio"
	"github.com/emiago/micgo/mic"
	"github.com/emiago/micgo/relay"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Run app:
// go run . -source tone -dur 3s out.wav
// go run . -source mic out.wav

func main() {
	fSource := flag.String("source", "mic", "Capture source: mic, tone or path to wav file")
	fRate := flag.Int("rate", 48000, "Sample rate in Hz")
	fChannels := flag.Int("channels", 1, "Number of channels")
	fDur := flag.Duration("dur", 0, "Stop recording after duration. 0 records until interrupt")
	fEnc := flag.String("enc", "pcm", "Wav encoding: pcm, ulaw, alaw")
	fFreq := flag.Float64("freq", 440, "Tone frequency when source is tone")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] output.wav\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	// Setup logger
	lev, err := zerolog.ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil || lev == zerolog.NoLevel {
		lev = zerolog.InfoLevel
	}
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMicro
	log.Logger = zerolog.New(zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.StampMicro,
	}).With().Timestamp().Logger().Level(lev)

	// Have some debugging
	relay.RelayDebug = os.Getenv("RELAY_DEBUG") == "true"

	output := flag.Arg(0)
	if output == "" {
		flag.Usage()
		return
	}

	err = record(ctx, output, recordOptions{
		source:   *fSource,
		rate:     *fRate,
		channels: *fChannels,
		duration: *fDur,
		encoding: *fEnc,
		freq:     *fFreq,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Recording finished with error")
	}
}

type recordOptions struct {
	source   string
	rate     int
	channels int
	duration time.Duration
	encoding string
	freq     float64
}

func record(ctx context.Context, output string, opts recordOptions) error {
	var opener micgo.SourceOpener
	switch opts.source {
	case "mic":
		opener = mic.Opener()
	case "tone":
		opener = micgo.ToneOpener(opts.freq)
	default:
		// Any other value is path to wav file
		opener = micgo.FileOpener(opts.source)
	}

	wavFormat := audio.FormatPCM
	switch opts.encoding {
	case "pcm":
	case "ulaw":
		wavFormat = audio.FormatUlaw
	case "alaw":
		wavFormat = audio.FormatAlaw
	default:
		return fmt.Errorf("unknown encoding %q", opts.encoding)
	}

	rec := micgo.NewRecorder(
		micgo.WithSourceOpener(opener),
		micgo.WithWavEncoding(wavFormat),
	)
	defer rec.Close()

	sess, err := rec.Start(ctx, micgo.Constraints{
		SampleRate:  opts.rate,
		NumChannels: opts.channels,
	})
	if err != nil {
		return err
	}
	log.Info().Str("id", sess.ID).Str("source", opts.source).Msg("Recording started")

	eg, egCtx := errgroup.WithContext(ctx)

	// Stop on interrupt or when requested duration elapses
	eg.Go(func() error {
		if opts.duration > 0 {
			select {
			case <-egCtx.Done():
			case <-time.After(opts.duration):
				log.Info().Dur("dur", opts.duration).Msg("Duration reached")
			}
		} else {
			<-egCtx.Done()
		}

		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return sess.Stop(stopCtx)
	})

	// Report capture progress
	eg.Go(func() error {
		t := time.NewTicker(time.Second)
		defer t.Stop()
		for {
			select {
			case <-egCtx.Done():
				return nil
			case <-t.C:
			}

			stats := sess.Stats()
			if stats.State != micgo.StateRecording {
				return nil
			}
			log.Info().Dur("dur", stats.Duration).Int("chunks", stats.NumChunks).Float64("level", stats.Level).Msg("Recording")
		}
	})

	if err := eg.Wait(); err != nil {
		if !errors.Is(err, micgo.ErrSessionStopTimeout) {
			return err
		}
		log.Warn().Err(err).Msg("Source did not acknowledge stop, saving forced capture")
	}

	f, err := os.Create(output)
	if err != nil {
		return fmt.Errorf("failed to create output: %w", err)
	}
	defer f.Close()

	if err := sess.FinalizeTo(f); err != nil {
		return err
	}

	stats := sess.Stats()
	log.Info().Str("file", output).Dur("dur", stats.Duration).Int64("bytes", stats.NumBytes).Msg("Recording saved")
	return nil
}
