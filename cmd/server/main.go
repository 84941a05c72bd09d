package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/sparedes88/projector/pkg/assist"
	"github.com/sparedes88/projector/pkg/broadcast"
	"github.com/sparedes88/projector/pkg/config"
	"github.com/sparedes88/projector/pkg/logger"
	sig "github.com/sparedes88/projector/pkg/signal"
	"github.com/sparedes88/projector/pkg/store"
)

const serviceName = "projector-server"

// stores is the backend set picked by configuration
type stores struct {
	screens broadcast.ScreenStore
	songs   broadcast.SongStore
	signals broadcast.SignalLog
	closers []func() error
}

func (s *stores) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// openStores connects the configured backends. Songs go to PostgreSQL when
// a DSN is set, otherwise they live next to the screens.
func openStores(ctx context.Context, cfg *config.Config, log *zap.Logger) (*stores, error) {
	out := &stores{}

	switch cfg.Store {
	case config.StoreRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("redis ping %s: %w", cfg.RedisAddr, err)
		}
		out.closers = append(out.closers, client.Close)
		r := store.NewRedis(client, cfg.RedisPrefix, log)
		out.screens, out.songs, out.signals = r, r, r
	default:
		m := store.NewMemory()
		out.screens, out.songs, out.signals = m, m, m
	}

	if cfg.PostgresDSN != "" {
		db, err := sql.Open("postgres", cfg.PostgresDSN)
		if err != nil {
			out.Close()
			return nil, fmt.Errorf("postgres open: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			out.Close()
			return nil, fmt.Errorf("postgres ping: %w", err)
		}
		out.closers = append(out.closers, db.Close)
		songs := store.NewPostgresSongs(db, log)
		if err := songs.CreateSchema(ctx); err != nil {
			out.Close()
			return nil, fmt.Errorf("postgres schema: %w", err)
		}
		out.songs = songs
	}
	return out, nil
}

// newServer wires the synchronizer and the signal server
func newServer(cfg *config.Config, st *stores, log *zap.Logger) *sig.Server {
	syncer := broadcast.NewSynchronizer(st.screens, st.songs, st.signals, log)
	opts := sig.Options{ControlKey: cfg.ControlKey, Logger: log}
	if cfg.AssistURL != "" {
		opts.Assist = assist.New(cfg.AssistURL, cfg.AssistKey, cfg.AssistTimeout, log.Named("assist"))
	}
	return sig.NewServer(syncer, opts)
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx := context.Background()
	st, err := openStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer st.Close()

	srv := newServer(cfg, st, log)
	defer srv.Close()

	server := &http.Server{
		Addr:    cfg.Addr,
		Handler: srv.Handler(),
	}

	// signal.Notify requires the channel to be buffered
	ctrlc := make(chan os.Signal, 1)
	signal.Notify(ctrlc, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-ctrlc
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			server.Close()
		}
	}()

	log.Info("listening",
		zap.String("addr", cfg.Addr),
		zap.String("store", cfg.Store),
		zap.Bool("postgres_songs", cfg.PostgresDSN != ""),
		zap.Bool("control_key", cfg.ControlKey != ""),
		zap.Bool("assist", cfg.AssistURL != ""),
	)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	log.Info("server closed")
	return nil
}

func main() {
	envFile := flag.String("env", ".env", "Optional .env file")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.LogLevel, cfg.LogFormat, serviceName)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Error("server error", zap.Error(err))
		log.Sync()
		os.Exit(1)
	}
}
