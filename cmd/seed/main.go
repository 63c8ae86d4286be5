package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/prefeitura-rio/app-medrec/internal/config"
	"github.com/prefeitura-rio/app-medrec/internal/logging"
	"github.com/prefeitura-rio/app-medrec/internal/records"
	"go.uber.org/zap"
)

func main() {
	path := flag.String("fixture", "fixtures/demo.json", "JSON fixture with patients and doctors")
	timeout := flag.Duration("timeout", 2*time.Minute, "maximum time to spend loading")
	flag.Parse()

	// Load configuration
	if err := config.LoadConfig(); err != nil {
		log.Fatal("Failed to load config:", err)
	}

	// Initialize logging
	if err := logging.InitLogger(); err != nil {
		log.Fatal("Failed to initialize logger:", err)
	}

	// Initialize MongoDB
	if err := config.InitMongoDB(); err != nil {
		logging.Logger.Fatal("failed to initialize MongoDB", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	defer func() {
		if err := config.MongoDB.Client().Disconnect(context.Background()); err != nil {
			logging.Logger.Error("failed to disconnect from MongoDB", zap.Error(err))
		}
	}()

	repo := records.NewMongoRepository(config.MongoDB, records.CollectionsFromConfig(config.AppConfig), logging.Logger)
	res, err := records.NewFixtureLoader(repo, logging.Logger).LoadFile(ctx, *path)
	if err != nil {
		logging.Logger.Error("failed to load fixture", zap.String("path", *path), zap.Error(err))
		return
	}

	logging.Logger.Info("fixture loaded",
		zap.String("path", *path),
		zap.Int("patients", res.Patients),
		zap.Int("doctors", res.Doctors))
}
