package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/caarlos0/env/v11"
	_ "github.com/lib/pq"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	offlinecache "github.com/offlinecache/go-offline-cache"
	"github.com/offlinecache/go-offline-cache/caches/dynamodb"
	"github.com/offlinecache/go-offline-cache/caches/local"
	"github.com/offlinecache/go-offline-cache/caches/postgres"
	"github.com/offlinecache/go-offline-cache/caches/sqlite"
)

// serveConfig carries process-level settings, overridable from the
// environment. The cache semantics themselves live in the YAML config.
type serveConfig struct {
	Listen      string `env:"OFFLINEPROXY_LISTEN" envDefault:":8080"`
	AdminListen string `env:"OFFLINEPROXY_ADMIN_LISTEN" envDefault:"127.0.0.1:8081"`

	Backend     string `env:"OFFLINEPROXY_BACKEND" envDefault:"local"`
	SQLitePath  string `env:"OFFLINEPROXY_SQLITE_PATH" envDefault:"offline-cache.db"`
	PostgresDSN string `env:"OFFLINEPROXY_POSTGRES_DSN"`
	DynamoTable string `env:"OFFLINEPROXY_DYNAMO_TABLE"`
}

func newServeCmd() *cobra.Command {
	var configPath string
	var wait bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the offline-first caching proxy",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := offlinecache.LoadConfig(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("validate config: %w", err)
			}

			sc := serveConfig{}
			if err := env.Parse(&sc); err != nil {
				return fmt.Errorf("parse environment: %w", err)
			}

			origin, err := url.Parse(cfg.Origin)
			if err != nil || origin.Host == "" {
				return fmt.Errorf("invalid origin %q", cfg.Origin)
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			store, closeStore, err := openStore(ctx, sc)
			if err != nil {
				return fmt.Errorf("open cache store: %w", err)
			}
			defer closeStore()

			logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

			transport := offlinecache.New(store, cfg, nil, logger)(http.DefaultTransport)
			lc := offlinecache.NewLifecycle(store, *cfg, http.DefaultTransport, transport, logger)

			if !wait {
				// a restarted proxy has no clients still holding the
				// previous generation
				lc.ReleaseClients()
			}

			go func() {
				if err := lc.Run(ctx); err != nil {
					logger.WarnContext(ctx, "lifecycle did not activate, serving network-only", "error", err)
				}
			}()

			proxy := httputil.NewSingleHostReverseProxy(origin)
			proxy.Transport = transport

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				logger.InfoContext(gctx, "proxy listening", "addr", sc.Listen, "origin", cfg.Origin)
				return runServer(gctx, &http.Server{Addr: sc.Listen, Handler: proxy})
			})
			g.Go(func() error {
				logger.InfoContext(gctx, "admin listening", "addr", sc.AdminListen)
				return runServer(gctx, &http.Server{Addr: sc.AdminListen, Handler: adminHandler(lc)})
			})

			return g.Wait()
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "offline.yaml", "path to config file")
	cmd.Flags().BoolVar(&wait, "wait", false, "hold activation until a skip-waiting command arrives")
	return cmd
}

func openStore(ctx context.Context, sc serveConfig) (offlinecache.Store, func(), error) {
	switch sc.Backend {
	case "local":
		return local.NewStore(), func() {}, nil

	case "sqlite":
		store, err := sqlite.New(sc.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil

	case "postgres":
		db, err := sql.Open("postgres", sc.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		store, err := postgres.New(ctx, db)
		if err != nil {
			db.Close()
			return nil, nil, err
		}
		return store, func() { _ = db.Close() }, nil

	case "dynamodb":
		awscfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, nil, err
		}
		store, err := dynamodb.New(ctx, awsdynamodb.NewFromConfig(awscfg), &dynamodb.Config{
			Table: sc.DynamoTable,
		})
		if err != nil {
			return nil, nil, err
		}
		return store, func() {}, nil

	default:
		return nil, nil, fmt.Errorf("unknown cache backend %q", sc.Backend)
	}
}

func adminHandler(lc *offlinecache.Lifecycle) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /-/skip-waiting", func(w http.ResponseWriter, r *http.Request) {
		lc.Send(offlinecache.MessageSkipWaiting)
		w.WriteHeader(http.StatusAccepted)
	})

	mux.HandleFunc("GET /-/state", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, lc.State().String())
	})

	return mux
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	case err := <-errCh:
		return err
	}
}
