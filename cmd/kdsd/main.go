package main

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"kdsboard/internal/api"
	"kdsboard/internal/config"
	"kdsboard/internal/database"
	"kdsboard/internal/kdsapi"
	"kdsboard/internal/logging"
	"kdsboard/internal/models"
	"kdsboard/internal/monitoring"
)

func main() {
	app := &cli.App{
		Name:  "kdsd",
		Usage: "Development backend for kitchen display boards",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Value: "configs/kds.yaml", Usage: "path to configuration file"},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the REST API and the order feed",
				Action: serve,
			},
			{
				Name:  "token",
				Usage: "Print an access token for a board",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "subject", Value: "kitchen", Usage: "token subject"},
					&cli.DurationFlag{Name: "ttl", Value: 12 * time.Hour, Usage: "token lifetime"},
				},
				Action: issueToken,
			},
			{
				Name:  "seed",
				Usage: "Submit demo orders to a running backend",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "count", Value: 5, Usage: "number of orders"},
					&cli.Int64Flag{Name: "center", Value: 1, Usage: "kitchen center for the orders"},
					&cli.BoolFlag{Name: "payment-first", Usage: "send the orders to the cashier first"},
				},
				Action: seed,
			},
		},
		DefaultCommand: "serve",
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func load(c *cli.Context) (*config.Config, *logrus.Entry, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.New(logging.Options{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		File:   cfg.LogFile,
	})
	if err != nil {
		return nil, nil, err
	}
	return cfg, logrus.NewEntry(logger).WithField("app", "kdsd"), nil
}

func serve(c *cli.Context) error {
	cfg, log, err := load(c)
	if err != nil {
		return err
	}

	// Initialize context
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize database
	db, err := database.Open(cfg.Backend.DatabasePath)
	if err != nil {
		return err
	}
	defer db.Close()

	var metrics *monitoring.Metrics
	var servers []*http.Server
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		metrics = monitoring.NewMetrics(reg)
		servers = append(servers, monitoring.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, reg))
	}

	// Initialize API server
	k := api.NewKitchenAPI(db, api.Options{
		Secret:          cfg.Backend.JWTSecret,
		CashierCenterID: cfg.Backend.CashierCenterID,
		WaitThreshold:   cfg.Backend.WaitThreshold,
		Logger:          log,
		Metrics:         metrics,
	})
	servers = append(servers, &http.Server{
		Addr:    cfg.Backend.Addr,
		Handler: k.Router,
	})

	g, gctx := errgroup.WithContext(ctx)
	for _, srv := range servers {
		srv := srv
		g.Go(func() error {
			log.WithField("addr", srv.Addr).Info("starting server")
			if err := srv.ListenAndServe(); err != http.ErrServerClosed {
				return errors.Wrapf(err, "server on %s", srv.Addr)
			}
			return nil
		})
	}

	// Graceful shutdown
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down servers")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		k.Hub.Close()
		for _, srv := range servers {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.WithError(err).WithField("addr", srv.Addr).Error("server shutdown error")
			}
		}
		return nil
	})

	return g.Wait()
}

func issueToken(c *cli.Context) error {
	cfg, _, err := load(c)
	if err != nil {
		return err
	}
	token, err := api.IssueToken(cfg.Backend.JWTSecret, c.String("subject"), c.Duration("ttl"))
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

var demoMenu = []models.LineItem{
	{Quantity: 1, Name: "Lomo saltado"},
	{Quantity: 2, Name: "Ceviche", Note: "no onion"},
	{Quantity: 1, Name: "Aji de gallina"},
	{Quantity: 3, Name: "Chicha morada"},
	{Quantity: 1, Name: "Causa limena"},
}

func seed(c *cli.Context) error {
	cfg, log, err := load(c)
	if err != nil {
		return err
	}

	token := cfg.Token
	if token == "" {
		if token, err = api.IssueToken(cfg.Backend.JWTSecret, "seed", time.Hour); err != nil {
			return err
		}
	}
	client := kdsapi.NewClient(cfg.ServerURL+cfg.APIPrefix, token, kdsapi.WithLogger(log))

	for i := 0; i < c.Int("count"); i++ {
		items := []models.LineItem{demoMenu[rand.Intn(len(demoMenu))], demoMenu[rand.Intn(len(demoMenu))]}
		order := kdsapi.NewOrder{
			TableID:      int64(rand.Intn(20) + 1),
			CenterID:     c.Int64("center"),
			Items:        items,
			Total:        float64(rand.Intn(8000)+1500) / 100,
			PaymentFirst: c.Bool("payment-first"),
		}

		ctx, cancel := context.WithTimeout(c.Context, kdsapi.DefaultTimeout)
		created, err := client.CreateOrder(ctx, order)
		cancel()
		if err != nil {
			return errors.Wrapf(err, "create demo order %d", i+1)
		}
		log.WithFields(logrus.Fields{"order_id": created.ID, "table_id": created.TableID}).Info("demo order created")
	}
	return nil
}
