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

	"github.com/go-redis/redis/v8"
	httpapi "github.com/immxrtalbeast/buzzer/internal/api/http"
	"github.com/immxrtalbeast/buzzer/internal/config"
	"github.com/immxrtalbeast/buzzer/internal/janitor"
	"github.com/immxrtalbeast/buzzer/internal/prefs"
	"github.com/immxrtalbeast/buzzer/internal/repository"
	"github.com/immxrtalbeast/buzzer/internal/service"
	"github.com/immxrtalbeast/buzzer/lib/logger/sl"
	"github.com/immxrtalbeast/buzzer/lib/logger/slogpretty"
	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	_ = godotenv.Load(".env")

	cfg := config.MustLoad()
	log := setupLogger(cfg.Env)

	roomRepo, closeStore, err := setupRoomStore(cfg, log)
	if err != nil {
		log.Error("failed to set up room store", slog.String("driver", cfg.Store.Driver), sl.Err(err))
		os.Exit(1)
	}
	defer closeStore()

	prefStore, err := prefs.NewSQLiteStore(cfg.Prefs.Path)
	if err != nil {
		log.Error("failed to open prefs store", slog.String("path", cfg.Prefs.Path), sl.Err(err))
		os.Exit(1)
	}
	defer prefStore.Close()

	roomService := service.NewRoomService(roomRepo, cfg.Store.RoomTTL, log)
	lifecycleService := service.NewLifecycleService(roomService, prefStore, log)
	validators := service.NewValidatorRegistry(roomService, cfg.Janitor.ValidatorIdle)

	// idle validators are always evicted; headers are not authenticated
	validatorSweeper := janitor.New("validators", validators, cfg.Janitor.Interval, log)
	validatorSweeper.Start()
	defer validatorSweeper.Stop()

	if cfg.Janitor.Enabled {
		roomSweeper := janitor.New("rooms", roomRepo, cfg.Janitor.Interval, log)
		roomSweeper.Start()
		defer roomSweeper.Stop()
	}

	roomController := httpapi.NewRoomController(roomService, lifecycleService, log)
	validationController := httpapi.NewValidationController(validators, log)

	router := httpapi.SetupRouter(roomController, validationController, cfg.HTTP.AllowOrigins)

	srv := &http.Server{
		Addr:    cfg.HTTP.Address,
		Handler: router,
	}

	go func() {
		log.Info("starting application",
			slog.String("addr", cfg.HTTP.Address),
			slog.String("store", cfg.Store.Driver),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server stopped", sl.Err(err))
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	sig := <-stop
	log.Info("shutting down", slog.String("signal", sig.String()))

	ctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("graceful shutdown failed", sl.Err(err))
	}
	log.Info("application stopped")
}

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

func setupLogger(env string) *slog.Logger {
	var log *slog.Logger

	switch env {
	case envLocal:
		log = setupPrettySlog()
	case envDev:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envProd:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	default:
		log = setupPrettySlog()
	}

	return log
}

func setupPrettySlog() *slog.Logger {
	opts := slogpretty.PrettyHandlerOptions{
		SlogOpts: &slog.HandlerOptions{
			Level: slog.LevelDebug,
		},
	}

	handler := opts.NewPrettyHandler(os.Stdout)

	return slog.New(handler)
}

// setupRoomStore picks the room backend. The returned func releases it.
func setupRoomStore(cfg *config.Config, log *slog.Logger) (repository.RoomRepository, func(), error) {
	switch cfg.Store.Driver {
	case config.StoreRedis:
		client, err := connectRedis(cfg.Redis)
		if err != nil {
			return nil, nil, err
		}
		repo := repository.NewRedisRoomRepository(client, cfg.Redis.KeyPrefix, log)
		return repo, func() { _ = client.Close() }, nil

	case config.StorePostgres:
		db, err := connectDatabase(cfg.Database)
		if err != nil {
			return nil, nil, err
		}
		closeDB := func() {
			if sqlDB, err := db.DB(); err == nil {
				_ = sqlDB.Close()
			}
		}
		repo := repository.NewPostgresRoomRepository(db)
		if err := repo.AutoMigrate(); err != nil {
			closeDB()
			return nil, nil, err
		}
		return repo, closeDB, nil

	default:
		return repository.NewInMemoryRoomRepository(), func() {}, nil
	}
}

func connectRedis(cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	return client, nil
}

func connectDatabase(cfg config.DatabaseConfig) (*gorm.DB, error) {
	if cfg.DSN == "" {
		return nil, errors.New("database dsn is empty")
	}

	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	return db, nil
}
