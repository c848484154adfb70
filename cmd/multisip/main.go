// Command multisip registers the configured SIP accounts and optionally places a call
// once the caller account is registered.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"braces.dev/errtrace"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/ghettovoice/multisip/config"
	"github.com/ghettovoice/multisip/dns"
	"github.com/ghettovoice/multisip/engine/sipgoengine"
	"github.com/ghettovoice/multisip/log"
	"github.com/ghettovoice/multisip/metrics"
	"github.com/ghettovoice/multisip/phone"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cmd := &cli.Command{
		Name:  "multisip",
		Usage: "register SIP accounts and place calls",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "multisip.yaml",
				Usage:   "path to the YAML configuration",
			},
			&cli.BoolFlag{
				Name:  "dev",
				Usage: "human-friendly debug logging",
			},
			&cli.StringFlag{
				Name:  "call",
				Usage: "callee address, overrides the configured call",
			},
		},
		Action: run,
		Commands: []*cli.Command{
			{
				Name:   "check",
				Usage:  "validate the configuration and exit",
				Action: check,
			},
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "multisip:", err)
		os.Exit(1)
	}
}

func check(_ context.Context, cmd *cli.Command) error {
	cfg, err := config.Load(cmd.Root().String("config"))
	if err != nil {
		return errtrace.Wrap(err)
	}
	fmt.Fprintf(cmd.Root().Writer, "%d accounts, config ok\n", len(cfg.Accounts))
	return nil
}

func run(ctx context.Context, cmd *cli.Command) error {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return errtrace.Wrap(err)
	}
	if to := cmd.String("call"); to != "" {
		cfg.Call = &config.CallConfig{To: to}
		if err := cfg.Validate(); err != nil {
			return errtrace.Wrap(err)
		}
	}

	logger, err := newLogger(cfg.Log, cmd.Bool("dev"))
	if err != nil {
		return errtrace.Wrap(err)
	}
	log.SetDefault(logger)

	ids, err := cfg.Identities()
	if err != nil {
		return errtrace.Wrap(err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	eng, err := sipgoengine.New(&sipgoengine.Options{
		UserAgent:      cfg.Engine.UserAgent,
		Host:           cfg.Engine.Host,
		Port:           cfg.Engine.Port,
		Transport:      cfg.Engine.Transport,
		RegisterExpiry: cfg.Engine.RegisterExpiry,
		Resolver:       &dns.Resolver{NameServer: cfg.Engine.NameServer},
		Log:            logger.With("component", "engine"),
	})
	if err != nil {
		return errtrace.Wrap(err)
	}

	mgr, err := phone.NewManager(eng, &phone.ManagerOptions{
		PollInterval: cfg.Engine.PollInterval,
		Metrics:      metrics.New(reg),
		Log:          logger.With("component", "phone"),
	})
	if err != nil {
		_ = eng.Close()
		return errtrace.Wrap(err)
	}

	var caller string
	if cfg.Call != nil {
		caller = ids[cfg.Call.From].Address()
	}
	callerReady := make(chan struct{})
	var readyOnce sync.Once
	mgr.SetObserver(phone.ObserverFuncs{
		Registration: func(ctx context.Context, evt phone.RegistrationEvent) {
			logger.LogAttrs(ctx, slog.LevelInfo, "registration event", slog.Any("event", evt))
			if caller != "" && evt.Address == caller && evt.Session != nil && evt.Session.State() == phone.RegistrationStateOk {
				readyOnce.Do(func() { close(callerReady) })
			}
		},
		Call: func(ctx context.Context, evt phone.CallEvent) {
			logger.LogAttrs(ctx, slog.LevelInfo, "call event", slog.Any("event", evt))
		},
	})

	grp, ctx := errgroup.WithContext(ctx)

	if cfg.Metrics.Enabled {
		srv := &http.Server{
			Addr:              cfg.Metrics.Addr,
			Handler:           metricsHandler(reg),
			ReadHeaderTimeout: 5 * time.Second,
		}
		grp.Go(func() error {
			logger.LogAttrs(ctx, slog.LevelInfo, "serving metrics", slog.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return errtrace.Wrap(err)
			}
			return nil
		})
		grp.Go(func() error {
			<-ctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return errtrace.Wrap(srv.Shutdown(sctx))
		})
	}

	grp.Go(func() error {
		for _, id := range ids {
			if _, err := mgr.Register(ctx, id); err != nil {
				logger.LogAttrs(ctx, slog.LevelError, "failed to register account",
					slog.Any("identity", id),
					slog.Any("error", err),
				)
			}
		}

		if cfg.Call != nil {
			select {
			case <-ctx.Done():
			case <-callerReady:
				call, err := mgr.MakeCall(ctx, ids[cfg.Call.From], cfg.Call.To)
				if err != nil {
					logger.LogAttrs(ctx, slog.LevelError, "failed to place call", slog.Any("error", err))
				} else {
					logger.LogAttrs(ctx, slog.LevelInfo, "call placed", slog.Any("call", call))
				}
			}
		}

		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return errtrace.Wrap(mgr.Close(sctx))
	})

	return errtrace.Wrap(grp.Wait())
}

func newLogger(cfg config.LogConfig, dev bool) (*slog.Logger, error) {
	if dev {
		return log.Dev, nil
	}
	lvl, err := log.ParseLevel(cfg.Level)
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	return log.New(os.Stderr, log.Format(cfg.Format), lvl), nil
}

func metricsHandler(reg *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	return mux
}
