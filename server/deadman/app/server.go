package app

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"deadman_server/server/common/auth"
	"deadman_server/server/common/infra/cache"
	"deadman_server/server/common/infra/db"
	"deadman_server/server/common/infra/mq"
	"deadman_server/server/deadman/api"
	"deadman_server/server/deadman/repository"
	deadmanservice "deadman_server/server/deadman/service"
)

type Config struct {
	Port           string
	PostgresDSN    string
	RedisAddr      string
	AMQPURL        string
	JWTSecret      string
	JWTTTLMinutes  int
	ActivitySecret string
	BaseURL        string
	NotifyChannel  string
	TokenTTL       time.Duration
	ScanInterval   time.Duration
	ScanBatchSize  int
	ScanBatchDelay time.Duration
	StartScanner   bool
}

type Server struct {
	HTTPServer *http.Server
	DB         *pgxpool.Pool
	Redis      *redis.Client
	Scanner    *deadmanservice.ScannerService

	amqpChannel *deadmanservice.AMQPChannel
}

func NewServer(cfg Config) (*Server, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	dbPool, err := db.NewPool(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("initialize postgres: %w", err)
	}

	var redisClient *redis.Client
	if strings.TrimSpace(cfg.RedisAddr) != "" {
		redisClient = cache.NewClient(cfg.RedisAddr)
		if err := cache.Ping(ctx, redisClient); err != nil {
			dbPool.Close()
			return nil, fmt.Errorf("initialize redis: %w", err)
		}
	}

	var channel deadmanservice.Channel = deadmanservice.LogChannel{}
	var amqpChannel *deadmanservice.AMQPChannel
	if cfg.NotifyChannel == "amqp" {
		conn, err := mq.NewConnection(cfg.AMQPURL)
		if err != nil {
			dbPool.Close()
			return nil, fmt.Errorf("initialize amqp: %w", err)
		}
		amqpChannel, err = deadmanservice.NewAMQPChannel(conn)
		if err != nil {
			dbPool.Close()
			return nil, fmt.Errorf("open amqp channel: %w", err)
		}
		channel = amqpChannel
	}

	userRepo := repository.NewUserRepository(dbPool)
	activityRepo := repository.NewActivityRepository(dbPool)
	settingsRepo := repository.NewSettingsRepository(dbPool)
	handoverRepo := repository.NewHandoverRepository(dbPool)
	successorRepo := repository.NewSuccessorRepository(dbPool)
	deliveryRepo := repository.NewDeliveryRepository(dbPool)
	tokenRepo := repository.NewTokenRepository(dbPool)
	statusRepo := repository.NewStatusRepository(dbPool)

	statusSvc := deadmanservice.NewStatusService(statusRepo)
	userSvc := deadmanservice.NewUserService(userRepo)
	activitySvc := deadmanservice.NewActivityService(activityRepo, userRepo, settingsRepo, handoverRepo, statusRepo, cfg.ActivitySecret)
	notifySvc := deadmanservice.NewNotifyService(userRepo, settingsRepo, deliveryRepo, tokenRepo, channel, cfg.BaseURL, cfg.TokenTTL)
	handoverSvc := deadmanservice.NewHandoverService(handoverRepo, successorRepo, notifySvc)
	escalationSvc := deadmanservice.NewEscalationService(notifySvc, handoverSvc, deliveryRepo)
	scannerSvc := deadmanservice.NewScannerService(userRepo, settingsRepo, activitySvc, escalationSvc, handoverSvc, statusSvc, redisClient, cfg.ScanInterval, cfg.ScanBatchSize, cfg.ScanBatchDelay)

	authSvc := auth.NewService(cfg.JWTSecret, cfg.JWTTTLMinutes)
	h := api.NewHandler(userSvc, activitySvc, handoverSvc, notifySvc, statusSvc, scannerSvc, successorRepo, authSvc, dbPool.Ping)

	r := gin.Default()
	h.RegisterRoutes(r)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  20 * time.Second,
		WriteTimeout: 20 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	if cfg.StartScanner {
		scannerSvc.Start()
	}

	return &Server{
		HTTPServer:  httpServer,
		DB:          dbPool,
		Redis:       redisClient,
		Scanner:     scannerSvc,
		amqpChannel: amqpChannel,
	}, nil
}

// Shutdown stops the scanner before the pool closes so in-flight sweep
// queries never land on a closed connection.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.Scanner != nil {
		s.Scanner.Stop()
	}
	err := s.HTTPServer.Shutdown(ctx)
	if s.amqpChannel != nil {
		s.amqpChannel.Close()
	}
	if s.Redis != nil {
		_ = s.Redis.Close()
	}
	if s.DB != nil {
		s.DB.Close()
	}
	return err
}
