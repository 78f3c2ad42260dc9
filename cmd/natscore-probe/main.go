package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	natscore "github.com/cuemby/natscore"
	"github.com/rs/zerolog"

	_ "go.uber.org/automaxprocs"
)

// natscore-probe is a minimal liveness/smoke-test client: it connects,
// subscribes to a subject, publishes one message to itself, and prints
// whatever it receives until interrupted. It exists to exercise the
// library end to end against a running broker, the way the teacher's
// cmd/ entries double as both an executable and a reference client.
func main() {
	var (
		url     = flag.String("url", natscore.DefaultURL, "server URL")
		subject = flag.String("subject", "probe.smoke", "subject to publish/subscribe on")
		debug   = flag.Bool("debug", false, "enable debug logging")
	)
	flag.Parse()

	level := zerolog.InfoLevel
	if *debug {
		level = zerolog.DebugLevel
	}
	logger := natscore.NewLogger(natscore.LoggerConfig{
		Level:  level,
		Format: natscore.LogFormatConsole,
		Output: os.Stdout,
	})

	nc, err := natscore.Connect(*url,
		natscore.Name("natscore-probe"),
		natscore.Logger(logger),
		natscore.DisconnectHandler(func(c *natscore.Conn) {
			logger.Warn().Msg("disconnected")
		}),
		natscore.ReconnectHandler(func(c *natscore.Conn) {
			logger.Info().Str("server", c.ConnectedUrl()).Msg("reconnected")
		}),
		natscore.ErrorHandler(func(c *natscore.Conn, sub *natscore.Subscription, err error) {
			logger.Error().Err(err).Msg("async error")
		}),
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect failed")
	}
	defer nc.Close()

	sub, err := nc.Subscribe(*subject, func(m *natscore.Msg) {
		logger.Info().Str("subject", m.Subject).Bytes("data", m.Data).Msg("received")
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("subscribe failed")
	}
	defer sub.Unsubscribe()

	if err := nc.Publish(*subject, []byte("probe @ "+time.Now().Format(time.RFC3339))); err != nil {
		logger.Error().Err(err).Msg("publish failed")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	logger.Info().Msg("shutting down")
}
