package application

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/psds-microservice/request-service/internal/config"
	"github.com/psds-microservice/request-service/internal/database"
	"github.com/psds-microservice/request-service/internal/handler"
	"github.com/psds-microservice/request-service/internal/kafka"
	"github.com/psds-microservice/request-service/internal/router"
	"github.com/psds-microservice/request-service/internal/service"
	"github.com/psds-microservice/request-service/internal/worker"
)

// API приложение: HTTP-сервер + фоновый автовозврат (режим api).
type API struct {
	cfg      *config.Config
	log      *zap.Logger
	httpSrv  *http.Server
	producer *kafka.Producer
	sweeper  *worker.AutoReturn
}

// NewLogger строит zap-логгер по LOG_LEVEL/APP_ENV.
func NewLogger(cfg *config.Config) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	var zcfg zap.Config
	if cfg.AppEnv == "production" {
		zcfg = zap.NewProductionConfig()
	} else {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	return zcfg.Build()
}

// NewAPI создаёт приложение для режима api.
func NewAPI(cfg *config.Config) (*API, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	log, err := NewLogger(cfg)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	if err := database.MigrateUp(cfg.DatabaseURL()); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	db, err := database.Open(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}

	producer := kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopicRequest, log)
	requestSvc := service.NewRequestService(db, log, producer)
	queueSvc := service.NewQueueService(db)
	routingSvc := service.NewRoutingService(db)

	h := router.New(
		handler.NewRequestHandler(requestSvc, queueSvc),
		handler.NewQueueHandler(queueSvc),
		handler.NewRoutingHandler(routingSvc),
	)

	httpSrv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return &API{
		cfg:      cfg,
		log:      log,
		httpSrv:  httpSrv,
		producer: producer,
		sweeper:  worker.NewAutoReturn(requestSvc, log, cfg.AutoReturnInterval, cfg.AutoReturnThreshold),
	}, nil
}

// Run запускает HTTP-сервер и воркер автовозврата, блокируется до отмены ctx.
func (a *API) Run(ctx context.Context) error {
	host := a.cfg.AppHost
	if host == "0.0.0.0" {
		host = "localhost"
	}
	base := "http://" + host + ":" + a.cfg.HTTPPort
	a.log.Info("HTTP server listening", zap.String("addr", a.httpSrv.Addr))
	a.log.Info("endpoints",
		zap.String("swagger", base+"/swagger"),
		zap.String("health", base+"/health"),
		zap.String("api", base+"/api/v1/"))

	go func() {
		if err := a.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.log.Error("http", zap.Error(err))
		}
	}()

	go a.sweeper.Run(ctx)

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	if err := a.producer.Close(); err != nil {
		a.log.Warn("kafka close", zap.Error(err))
	}
	_ = a.log.Sync()
	return nil
}
