package cmd

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/psds-microservice/request-service/internal/application"
	"github.com/psds-microservice/request-service/internal/config"
	"github.com/psds-microservice/request-service/internal/database"
	"github.com/psds-microservice/request-service/internal/kafka"
	"github.com/psds-microservice/request-service/internal/service"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one auto-return pass: stale in-progress requests go back to the queue",
	RunE:  runSweep,
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}

func runSweep(cmd *cobra.Command, args []string) error {
	_ = godotenv.Load(".env")
	_ = godotenv.Load("../.env")
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	logger, err := application.NewLogger(cfg)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	db, err := database.Open(cfg.DSN())
	if err != nil {
		return fmt.Errorf("db: %w", err)
	}
	producer := kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopicRequest, logger)
	defer producer.Close()
	svc := service.NewRequestService(db, logger, producer)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	returned, err := svc.AutoReturnStale(ctx, cfg.AutoReturnThreshold)
	if err != nil {
		return fmt.Errorf("sweep: %w", err)
	}
	log.Printf("sweep: returned %d stale requests to the queue", returned)
	return nil
}
