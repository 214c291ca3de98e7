package main

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	lean "github.com/draganm/lean-mustache"
	"github.com/draganm/lean-mustache/cmd/lean-mustache/scaffold"
	"github.com/draganm/lean-mustache/config"
	"github.com/draganm/lean-mustache/watcher"
	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
)

//go:embed builtin
var builtin embed.FS

func main() {
	logger, _ := zap.Config{
		Encoding:    "json",
		Level:       zap.NewAtomicLevelAt(zapcore.DebugLevel),
		OutputPaths: []string{"stdout"},
		EncoderConfig: zapcore.EncoderConfig{
			MessageKey:   "message",
			LevelKey:     "level",
			EncodeLevel:  zapcore.CapitalLevelEncoder,
			TimeKey:      "time",
			EncodeTime:   zapcore.ISO8601TimeEncoder,
			CallerKey:    "caller",
			EncodeCaller: zapcore.ShortCallerEncoder,
		},
	}.Build()
	defer logger.Sync()

	app := &cli.App{
		Name:  "lean-mustache",
		Usage: "serve mustache templates from a directory and from bundles",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				EnvVars: []string{"CONFIG"},
			},
			&cli.StringFlag{
				Name:    "addr",
				EnvVars: []string{"ADDR"},
			},
			&cli.StringFlag{
				Name:    "template-dir",
				EnvVars: []string{"TEMPLATE_DIR"},
			},
			&cli.StringFlag{
				Name:    "bundle-dir",
				EnvVars: []string{"BUNDLE_DIR"},
			},
			&cli.BoolFlag{
				Name:    "strict",
				EnvVars: []string{"STRICT"},
			},
			&cli.DurationFlag{
				Name:    "rescan",
				EnvVars: []string{"RESCAN"},
			},
			&cli.DurationFlag{
				Name:    "debounce",
				EnvVars: []string{"DEBOUNCE"},
			},
		},
		Commands: []*cli.Command{
			scaffold.Command(),
		},
		Action: func(c *cli.Context) (err error) {
			log := zapr.NewLogger(logger)

			defer func() {
				if err != nil {
					log.Error(err, "error ocurred")
				}
			}()

			cfg, err := config.Load(c.String("config"))
			if err != nil {
				return err
			}

			if c.IsSet("addr") {
				cfg.HTTPAddr = c.String("addr")
			}
			if c.IsSet("template-dir") {
				cfg.TemplateDir = c.String("template-dir")
			}
			if c.IsSet("bundle-dir") {
				cfg.BundleDir = c.String("bundle-dir")
			}
			if c.IsSet("strict") {
				cfg.Strict = c.Bool("strict")
			}
			if c.IsSet("rescan") {
				cfg.Rescan = c.Duration("rescan")
			}
			if c.IsSet("debounce") {
				cfg.Debounce = c.Duration("debounce")
			}

			eg, ctx := errgroup.WithContext(c.Context)

			builtinFS, err := fs.Sub(builtin, "builtin")
			if err != nil {
				return fmt.Errorf("could not open builtin templates: %w", err)
			}

			engine, err := lean.Construct(ctx, cfg, log, watcher.Bundle{Name: "builtin", FS: builtinFS})
			if err != nil {
				return fmt.Errorf("could not start template engine: %w", err)
			}
			defer engine.Close()

			eg.Go(runHttp(ctx, log, cfg.HTTPAddr, "web", engine))

			eg.Go(func() error {

				sigs := make(chan os.Signal, 1)
				signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

				select {
				case <-ctx.Done():
					return ctx.Err()
				case sig := <-sigs:
					log.Info("signal received, terminating", "sig", sig)
					return fmt.Errorf("signal %s received", sig.String())
				}

			})

			return eg.Wait()
		},
	}

	err := app.Run(os.Args)
	if err != nil {
		os.Exit(1)
	}

}

func runHttp(ctx context.Context, log logr.Logger, addr, name string, handler http.Handler) func() error {

	return func() error {
		l, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("could not listen for %s requests: %w", name, err)

		}

		s := &http.Server{
			Handler: handler,
		}

		go func() {
			<-ctx.Done()
			shutdownContext, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			log.Info(fmt.Sprintf("graceful shutdown of the %s server", name))
			err := s.Shutdown(shutdownContext)
			if errors.Is(err, context.DeadlineExceeded) {
				log.Info(fmt.Sprintf("%s server did not shut down gracefully, forcing close", name))
				s.Close()
			}
		}()

		log.Info(fmt.Sprintf("%s server started", name), "addr", l.Addr().String())
		err = s.Serve(l)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
