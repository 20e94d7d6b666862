// Command hijackwatch monitors a watch-list of BGP prefixes against
// the RIPE RIS Live feed and alerts on suspected hijacks, unauthorized
// more-specifics, and low-visibility withdrawals.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/alecthomas/kong"
	"go.uber.org/zap"

	"github.com/sudorandom/hijackwatch/internal/alert"
	"github.com/sudorandom/hijackwatch/internal/config"
	"github.com/sudorandom/hijackwatch/internal/feed"
	"github.com/sudorandom/hijackwatch/internal/sink"
)

// exitTempFailure mirrors the POSIX EX_TEMPFAIL code the original
// project exits with when the upstream feed is unreachable after the
// connect retry budget is exhausted.
const exitTempFailure = 75

type cli struct {
	Config   string `help:"Path to the operator config.yml." default:"config.yml"`
	LogLevel string `help:"Log level: debug, info, warn, error." default:"info" enum:"debug,info,warn,error"`
	DryRun   bool   `help:"Load and classify only; never contact notification sinks."`
}

func main() {
	var c cli
	kong.Parse(&c, kong.Description("hijackwatch watches BGP prefixes for hijacks and low-visibility withdrawals."))

	log, err := buildLogger(c.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, "hijackwatch: building logger:", err)
		os.Exit(1)
	}
	defer func() {
		if err := log.Sync(); err != nil {
			fmt.Fprintln(os.Stderr, "hijackwatch: flushing logs:", err)
		}
	}()

	os.Exit(run(c, log))
}

func buildLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return cfg.Build()
}

func run(c cli, log *zap.Logger) int {
	cfg, err := config.Load(c.Config)
	if err != nil {
		log.Error("failed to load config", zap.Error(err))
		return 1
	}

	index, err := config.LoadWatchList(cfg.MonitoredPrefixesFiles)
	if err != nil {
		log.Error("failed to load watch-list", zap.Error(err))
		return 1
	}

	engine := alert.New(alert.Config{
		HijackPeerThreshold:        cfg.NumberPeersBeforeHijackAlert,
		LowVisibilityPeerThreshold: cfg.NumberPeersBeforeLowVisibilityAlert,
		EvaluationInterval:         time.Duration(cfg.RepeatAlertAfterSeconds) * time.Second,
		ResetDelay:                 time.Duration(cfg.ResetAfterSeconds) * time.Second,
		HeartbeatInterval:          time.Duration(cfg.RepeatStatusHeartbeatAfterSeconds) * time.Second,
		Whitelist:                  config.Whitelist(cfg.PermittedMoreSpecificAnnouncements),
	}, log)

	if !c.DryRun {
		wireSinks(engine, cfg, log)
	}

	client := feed.New(feed.Config{
		URL:       cfg.WebsocketDataService,
		ProxyHost: cfg.ProxyHost,
		ProxyPort: cfg.ProxyPort,
	}, index, engine, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	go engine.Run(ctx)

	err = client.Run(ctx)
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		return 0
	case errors.Is(err, feed.ErrRetryBudgetExhausted):
		log.Error("upstream feed unreachable, exiting", zap.Error(err))
		return exitTempFailure
	default:
		log.Error("feed client exited with error", zap.Error(err))
		return 1
	}
}

// wireSinks registers notification adapters the way the original
// project's runner wires them: hijack and low-visibility go to every
// configured sink, difference goes to chat only, error and heartbeat
// go to the log. A sink with no configured destination is never
// registered.
func wireSinks(engine *alert.Engine, cfg config.Config, log *zap.Logger) {
	logSink := sink.NewLog(log)
	mustOn(engine, alert.EventHijack, logSink.Callback(), log)
	mustOn(engine, alert.EventLowVisibility, logSink.Callback(), log)
	mustOn(engine, alert.EventError, logSink.Callback(), log)
	mustOn(engine, alert.EventHeartbeat, logSink.Callback(), log)

	if cfg.SlackWebHook != "" {
		webhook := sink.NewWebhook(cfg.SlackWebHook, cfg.ProxyHost, cfg.ProxyPort, log)
		mustOn(engine, alert.EventHijack, webhook.Callback(), log)
		mustOn(engine, alert.EventLowVisibility, webhook.Callback(), log)
		mustOn(engine, alert.EventDifference, webhook.Callback(), log)
	}

	if cfg.SMTPAddr != "" && len(cfg.NotifiedEmails) > 0 {
		mail := sink.NewMail(cfg.SMTPAddr, cfg.SenderNotificationsEmail, cfg.NotifiedEmails, log)
		mustOn(engine, alert.EventHijack, mail.Callback(), log)
		mustOn(engine, alert.EventLowVisibility, mail.Callback(), log)
	}
}

func mustOn(engine *alert.Engine, event string, cb alert.Callback, log *zap.Logger) {
	if err := engine.On(event, cb); err != nil {
		log.Fatal("invalid sink registration", zap.Error(err))
	}
}
