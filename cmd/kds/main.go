package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"kdsboard/internal/config"
	"kdsboard/internal/feed"
	"kdsboard/internal/kdsapi"
	"kdsboard/internal/logging"
	"kdsboard/internal/monitoring"
	"kdsboard/internal/render"
	"kdsboard/internal/session"
	"kdsboard/internal/tui"
)

func main() {
	app := &cli.App{
		Name:  "kds",
		Usage: "Kitchen display board for one kitchen center",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Value: "configs/kds.yaml", Usage: "path to configuration file"},
			&cli.Int64Flag{Name: "center", Usage: "kitchen center id (overrides config)"},
			&cli.StringFlag{Name: "server", Usage: "backend base URL (overrides config)"},
			&cli.StringFlag{Name: "token", EnvVars: []string{"KDS_TOKEN"}, Usage: "access token"},
		},
		Commands: []*cli.Command{
			{
				Name:   "board",
				Usage:  "Open the interactive board",
				Action: runBoard,
			},
			{
				Name:   "tail",
				Usage:  "Print the board to stdout whenever it changes",
				Action: runTail,
			},
			{
				Name:   "waiting",
				Usage:  "List tables waiting longer than usual",
				Action: runWaiting,
			},
		},
		DefaultCommand: "board",
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// env is everything a command needs, built from configuration
type env struct {
	cfg     *config.Config
	log     *logrus.Entry
	metrics *monitoring.Metrics
	api     *kdsapi.Client
	expired chan struct{}
	stop    func()
}

func setup(c *cli.Context, quiet bool) (*env, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	if c.IsSet("center") {
		cfg.CenterID = c.Int64("center")
	}
	if c.IsSet("server") {
		cfg.ServerURL = c.String("server")
	}
	if c.IsSet("token") {
		cfg.Token = c.String("token")
	}
	if cfg.CenterID <= 0 {
		return nil, errors.New("a kitchen center id is required")
	}

	logger, err := logging.New(logging.Options{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		File:   cfg.LogFile,
		Quiet:  quiet,
	})
	if err != nil {
		return nil, err
	}
	log := logrus.NewEntry(logger).WithField("app", "kds")

	e := &env{
		cfg:     cfg,
		log:     log,
		expired: make(chan struct{}),
		stop:    func() {},
	}

	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		e.metrics = monitoring.NewMetrics(reg)
		srv := monitoring.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, reg)
		go func() {
			log.WithField("addr", srv.Addr).Info("starting metrics server")
			if err := srv.ListenAndServe(); err != http.ErrServerClosed {
				log.WithError(err).Error("metrics server error")
			}
		}()
		e.stop = func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(ctx)
		}
	}

	var once sync.Once
	e.api = kdsapi.NewClient(cfg.ServerURL+cfg.APIPrefix, cfg.Token,
		kdsapi.WithLogger(log.WithField("component", "api")),
		kdsapi.WithUnauthorizedHandler(func() {
			once.Do(func() { close(e.expired) })
		}),
	)
	return e, nil
}

func (e *env) newSession() (*session.Session, error) {
	feedURL, err := feed.URLFor(e.cfg.ServerURL, e.cfg.CenterID)
	if err != nil {
		return nil, err
	}

	opts := []render.Option{render.WithCurrency(e.cfg.Board.Currency)}
	if e.cfg.Board.Sound {
		opts = append(opts, render.WithCue(render.CueFunc(func(render.CueKind, int64) {
			fmt.Fprint(os.Stdout, "\a")
		})))
	}

	return session.New(session.Options{
		CenterID: e.cfg.CenterID,
		Backend:  e.api,
		Feed: feed.NewClient(feedURL,
			feed.WithToken(e.cfg.Token),
			feed.WithReconnectDelay(e.cfg.Feed.ReconnectDelay),
			feed.WithIdleTimeout(e.cfg.Feed.IdleTimeout),
			feed.WithLogger(e.log.WithField("component", "feed")),
			feed.WithMetrics(e.metrics),
		),
		ReadyRemovalDelay: e.cfg.Board.ReadyRemovalDelay,
		PaidRemovalDelay:  e.cfg.Board.PaidRemovalDelay,
		PollInterval:      e.cfg.Waiting.PollInterval,
		Renderer:          render.New(opts...),
		Logger:            e.log,
		Metrics:           e.metrics,
	}), nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func runBoard(c *cli.Context) error {
	// The terminal UI owns the screen, so logs only go to the log file
	e, err := setup(c, true)
	if err != nil {
		return err
	}
	defer e.stop()

	ctx, cancel := signalContext()
	defer cancel()

	s, err := e.newSession()
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.Start(ctx); err != nil {
		e.log.WithError(err).Warn("initial snapshot failed")
	}

	final, err := tui.Run(ctx, s, e.expired)
	if err != nil && ctx.Err() == nil {
		return err
	}
	if final.Expired() {
		return errors.New(tui.ExpiredMessage)
	}
	return nil
}

func runTail(c *cli.Context) error {
	e, err := setup(c, false)
	if err != nil {
		return err
	}
	defer e.stop()

	ctx, cancel := signalContext()
	defer cancel()

	s, err := e.newSession()
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.Start(ctx); err != nil {
		e.log.WithError(err).Warn("initial snapshot failed")
	}
	fmt.Println(s.Frame().Text(0))

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-e.expired:
			return errors.New(tui.ExpiredMessage)
		case <-s.Updates():
			fmt.Println(s.Frame().Text(0))
		}
	}
}

func runWaiting(c *cli.Context) error {
	e, err := setup(c, false)
	if err != nil {
		return err
	}
	defer e.stop()

	ctx, cancel := context.WithTimeout(c.Context, kdsapi.DefaultTimeout)
	defer cancel()

	tables, err := e.api.WaitingOrders(ctx)
	if errors.Is(err, kdsapi.ErrUnauthorized) {
		return errors.New(tui.ExpiredMessage)
	}
	if err != nil {
		return err
	}

	if len(tables) == 0 {
		fmt.Println("No tables waiting.")
		return nil
	}
	for _, w := range tables {
		fmt.Println(render.WaitingLine(w))
	}
	return nil
}
