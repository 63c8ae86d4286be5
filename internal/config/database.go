package config

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/prefeitura-rio/app-medrec/internal/logging"
	"github.com/prefeitura-rio/app-medrec/internal/redisclient"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.opentelemetry.io/contrib/instrumentation/go.mongodb.org/mongo-driver/mongo/otelmongo"
	"go.uber.org/zap"
)

var (
	// MongoDB client
	MongoDB *mongo.Database
	// Redis client
	Redis *redisclient.Client
)

// InitMongoDB initializes the MongoDB connection
func InitMongoDB() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	opts := options.Client().
		ApplyURI(AppConfig.MongoURI).
		SetMonitor(otelmongo.NewMonitor()).
		SetMaxPoolSize(50).
		SetMinPoolSize(5).
		SetMaxConnIdleTime(5 * time.Minute).
		SetRetryWrites(true).
		SetRetryReads(true)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	MongoDB = client.Database(AppConfig.MongoDatabase)

	if err := ensureIndexes(); err != nil {
		logging.Logger.Error("failed to ensure indexes on startup", zap.Error(err))
	}

	logging.Logger.Info("connected to MongoDB",
		zap.String("uri", maskMongoURI(AppConfig.MongoURI)),
		zap.String("database", AppConfig.MongoDatabase),
	)
	return nil
}

// InitRedis initializes the Redis connection. A failed ping is logged but
// not fatal: Redis only backs the OTP service token cache.
func InitRedis() {
	redisClient := redis.NewClient(&redis.Options{
		Addr:         AppConfig.RedisURI,
		Password:     AppConfig.RedisPassword,
		DB:           AppConfig.RedisDB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	// Wrap with traced client
	Redis = redisclient.NewClient(redisClient)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := Redis.Ping(ctx).Err(); err != nil {
		logging.Logger.Error("failed to connect to Redis",
			zap.String("uri", AppConfig.RedisURI),
			zap.Error(err))
		return
	}

	logging.Logger.Info("connected to Redis",
		zap.String("uri", AppConfig.RedisURI))
}

// maskMongoURI masks the credentials part of a MongoDB URI
func maskMongoURI(uri string) string {
	at := strings.LastIndex(uri, "@")
	if at < 0 {
		return uri
	}
	scheme := "mongodb://"
	if strings.HasPrefix(uri, "mongodb+srv://") {
		scheme = "mongodb+srv://"
	}
	return scheme + "****:****@" + uri[at+1:]
}

// ensureIndexes creates required indexes if they don't exist
func ensureIndexes() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	indexes := []struct {
		collection string
		model      mongo.IndexModel
	}{
		{
			collection: AppConfig.PatientCollection,
			model: mongo.IndexModel{
				Keys:    bson.D{{Key: "phone_number", Value: 1}},
				Options: options.Index().SetName("phone_number_1"),
			},
		},
		{
			collection: AppConfig.ConsultationCollection,
			model: mongo.IndexModel{
				Keys:    bson.D{{Key: "patient_id", Value: 1}, {Key: "date", Value: -1}},
				Options: options.Index().SetName("patient_id_1_date_-1"),
			},
		},
		{
			collection: AppConfig.PrescriptionCollection,
			model: mongo.IndexModel{
				Keys:    bson.D{{Key: "patient_id", Value: 1}},
				Options: options.Index().SetName("patient_id_1"),
			},
		},
		{
			collection: AppConfig.AuditLogsCollection,
			model: mongo.IndexModel{
				Keys:    bson.D{{Key: "subject_id", Value: 1}, {Key: "timestamp", Value: -1}},
				Options: options.Index().SetName("subject_id_1_timestamp_-1"),
			},
		},
	}

	for _, idx := range indexes {
		if _, err := MongoDB.Collection(idx.collection).Indexes().CreateOne(ctx, idx.model); err != nil {
			logging.Logger.Error("failed to create index",
				zap.String("collection", idx.collection),
				zap.Error(err))
			return err
		}
		logging.Logger.Debug("index ensured", zap.String("collection", idx.collection))
	}

	logging.Logger.Info("all required indexes verified")
	return nil
}
