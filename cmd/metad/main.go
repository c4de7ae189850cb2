// Command metad runs the session-lifecycle service of the graph cluster's
// metadata tier: it persists client query sessions in the replicated
// key-value store and serves the create/update/list/get/remove/kill
// operations over HTTP.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joeshaw/envdecode"

	"github.com/kvgraph/metad/httpapi"
	"github.com/kvgraph/metad/internal/logctx"
	"github.com/kvgraph/metad/kvstore"
	"github.com/kvgraph/metad/kvstore/memory"
	redisstore "github.com/kvgraph/metad/kvstore/redis"
	"github.com/kvgraph/metad/sessions"
	"github.com/kvgraph/metad/userdir"
)

type config struct {
	// ListenAddr is the HTTP bind address. ENV: METAD_LISTEN_ADDR
	ListenAddr string `env:"METAD_LISTEN_ADDR,default=:9559"`
	// StoreBackend selects the KV engine: "redis" or "memory".
	// ENV: METAD_STORE_BACKEND
	StoreBackend string `env:"METAD_STORE_BACKEND,default=redis"`
	// UsersFile is the YAML user directory. Empty means a single "root"
	// user. ENV: METAD_USERS_FILE
	UsersFile string `env:"METAD_USERS_FILE,default="`
	// LogLevel is one of debug, info, warn, error. ENV: METAD_LOG_LEVEL
	LogLevel string `env:"METAD_LOG_LEVEL,default=info"`
}

func parseLevel(s string) slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

func main() {
	var cfg config
	if err := envdecode.Decode(&cfg); err != nil {
		slog.Error("config decode failed", slog.String("err", err.Error()))
		os.Exit(1)
	}

	log := slog.New(logctx.Handler{
		Handler: slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}),
	})
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var engine kvstore.Engine
	switch cfg.StoreBackend {
	case "memory":
		engine = memory.New()
	case "redis":
		eng, err := redisstore.NewFromEnv()
		if err != nil {
			log.Error("redis engine init failed", slog.String("err", err.Error()))
			os.Exit(1)
		}
		engine = eng
	default:
		log.Error("unknown store backend", slog.String("backend", cfg.StoreBackend))
		os.Exit(1)
	}
	defer engine.Close()

	var users userdir.Directory
	if cfg.UsersFile != "" {
		dir, err := userdir.NewFile(cfg.UsersFile, log)
		if err != nil {
			log.Error("users file load failed", slog.String("err", err.Error()))
			os.Exit(1)
		}
		go func() {
			if err := dir.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Warn("users file watch stopped", slog.String("err", err.Error()))
			}
		}()
		users = dir
	} else {
		users = userdir.NewStatic("root")
	}

	mgr := sessions.NewManager(engine, users, sessions.WithLogger(log))

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: httpapi.New(mgr, httpapi.Config{Log: log}),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("metad listening",
		slog.String("addr", cfg.ListenAddr),
		slog.String("store", cfg.StoreBackend))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("server exited", slog.String("err", err.Error()))
		os.Exit(1)
	}
}
