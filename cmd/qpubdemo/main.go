// Command qpubdemo is a runnable example QPub client, mirroring the
// teacher's cmd/server in shape: load config from flags/env, build one
// instance, wire signal handling, run until interrupted.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/qpub/qpub-client-go/internal/channel"
	"github.com/qpub/qpub-client-go/internal/frame"
	"github.com/qpub/qpub-client-go/internal/options"
	"github.com/qpub/qpub-client-go/qpub"
)

func main() {
	var (
		apiKey     = flag.String("api-key", os.Getenv("QPUB_API_KEY"), "keyId:keySecret static API key")
		streamHost = flag.String("stream-host", "stream.qpub.example", "streaming transport host")
		httpHost   = flag.String("http-host", "rest.qpub.example", "request-path HTTP host")
		channelArg = flag.String("channel", "demo", "channel to subscribe on connect")
		logLevel   = flag.String("log-level", "info", "zerolog level")
	)
	flag.Parse()

	output := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	logger := zerolog.New(output).With().Timestamp().Logger()

	inst := qpub.NewStreamingInstance(
		options.WithAPIKey(*apiKey),
		options.WithStreamHost(*streamHost),
		options.WithHTTPHost(*httpHost),
		options.WithLogLevel(*logLevel),
	)
	defer inst.Close()

	inst.ConnectionEvents.On("FAILED", func(p interface{}) {
		logger.Error().Interface("event", p).Msg("qpubdemo: connection failed")
	})
	inst.ChannelEvents.On("FAILED", func(p interface{}) {
		logger.Warn().Interface("event", p).Msg("qpubdemo: channel failed")
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := inst.Connect(ctx); err != nil {
		cancel()
		logger.Fatal().Err(err).Msg("qpubdemo: connect failed")
	}
	cancel()

	sub := inst.Channel(*channelArg)
	subCtx, subCancel := context.WithTimeout(context.Background(), 10*time.Second)
	_, err := sub.Subscribe(subCtx, func(m frame.DeliveredMessage) {
		logger.Info().Str("id", m.ID).Str("event", m.Event).RawJSON("data", m.Data).Msg("qpubdemo: message")
	}, channel.SubscribeOptions{})
	subCancel()
	if err != nil {
		logger.Fatal().Err(err).Str("channel", *channelArg).Msg("qpubdemo: subscribe failed")
	}
	logger.Info().Str("channel", *channelArg).Msg("qpubdemo: subscribed")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info().Msg("qpubdemo: shutting down")
	inst.Reset()
}
