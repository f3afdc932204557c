package main

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/can61cebi/sorukayisi-backend/config"
	"github.com/can61cebi/sorukayisi-backend/game"
	"github.com/can61cebi/sorukayisi-backend/handlers"
	"github.com/can61cebi/sorukayisi-backend/middleware"
	"github.com/can61cebi/sorukayisi-backend/models"
	"github.com/can61cebi/sorukayisi-backend/routes"
	"github.com/can61cebi/sorukayisi-backend/services"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		panic(err)
	}

	cfg := config.Load()
	log := newLogger(cfg)

	db, err := config.InitDB(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("database connection failed")
	}

	if err := db.AutoMigrate(
		&models.User{},
		&models.QuestionSet{},
		&models.Question{},
		&models.Game{},
		&models.Player{},
		&models.PlayerAnswer{},
		&models.ActiveConnection{},
	); err != nil {
		log.Fatal().Err(err).Msg("database migration failed")
	}

	redisClient := config.InitRedis(cfg)
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		log.Warn().Err(err).Msg("redis unreachable, session recovery degraded")
	}

	engineCfg := game.Config{
		ScorePolicy:    game.ScorePolicy{MinFraction: cfg.MinScoreFraction},
		ResultDisplay:  time.Duration(cfg.ResultDisplaySeconds) * time.Second,
		MaxNicknameLen: cfg.MaxNicknameLength,
		RecoveryWindow: time.Duration(cfg.RecoveryWindowHours) * time.Hour,
		CompletedTTL:   time.Duration(cfg.CompletedTTLMinutes) * time.Minute,
		LobbyTTL:       time.Duration(cfg.LobbyTTLMinutes) * time.Minute,
		SweepInterval:  time.Duration(cfg.SweepIntervalSeconds) * time.Second,
	}

	gameStore := services.NewGameStore(db, log)
	redisStore := services.NewRedisStore(redisClient, log, engineCfg.RecoveryWindow)
	hub := services.NewHub(log, gameStore)

	coordinator := game.NewCoordinator(game.Deps{
		Log:      log,
		Clock:    clockwork.NewRealClock(),
		Registry: hub,
		Store:    gameStore,
		Recovery: redisStore,
		Cfg:      engineCfg,
	})
	recoveryManager := game.NewRecoveryManager(log, coordinator, redisStore, gameStore)
	hub.SetHandler(services.NewGameGateway(log, hub, coordinator, recoveryManager))

	authService := services.NewAuthService(db, cfg.JWTSecret)
	questionService := services.NewQuestionService(db)
	gameService := services.NewGameService(db, log, coordinator, questionService, redisStore)

	authHandler := handlers.NewAuthHandler(authService)
	questionHandler := handlers.NewQuestionHandler(questionService)
	gameHandler := handlers.NewGameHandler(gameService)

	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS())

	routes.SetupRoutes(router, authHandler, questionHandler, gameHandler, hub, authService, log)

	addr := net.JoinHostPort(cfg.BindAddress, cfg.Port)
	server := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown failed")
	}
	coordinator.Close()
	log.Info().Msg("bye")
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var w io.Writer = os.Stdout
	if cfg.LogPretty {
		w = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}
