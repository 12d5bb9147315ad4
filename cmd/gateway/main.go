package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"

	"github.com/illmade-knight/go-sensor-gateway/pkg/archive"
	"github.com/illmade-knight/go-sensor-gateway/pkg/directory"
	"github.com/illmade-knight/go-sensor-gateway/pkg/eventstream"
	"github.com/illmade-knight/go-sensor-gateway/pkg/gateway"
	"github.com/illmade-knight/go-sensor-gateway/pkg/microservice"
	"github.com/illmade-knight/go-sensor-gateway/pkg/presence"
	"github.com/illmade-knight/go-sensor-gateway/pkg/tsstore"
)

const shutdownTimeout = 20 * time.Second

func main() {
	logger := zerolog.New(os.Stderr).With().Timestamp().Str("service", "sensor-gateway").Logger()
	if level, err := zerolog.ParseLevel(os.Getenv("LOG_LEVEL")); err == nil && level != zerolog.NoLevel {
		zerolog.SetGlobalLevel(level)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger); err != nil {
		logger.Fatal().Err(err).Msg("Gateway exited with error.")
	}
	logger.Info().Msg("Gateway shut down cleanly.")
}

func run(ctx context.Context, logger zerolog.Logger) error {
	projectID := os.Getenv("GCP_PROJECT_ID")
	var clientOpts []option.ClientOption
	if credFile := os.Getenv("GCP_CREDENTIALS_FILE"); credFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(credFile))
	}

	// Sensor directory.
	fsClient, err := firestore.NewClient(ctx, projectID, clientOpts...)
	if err != nil {
		return err
	}
	defer func() { _ = fsClient.Close() }()

	collection := os.Getenv("FIRESTORE_COLLECTION")
	if collection == "" {
		collection = "sensors"
	}
	dir, err := directory.NewFirestoreDirectory(&directory.FirestoreConfig{
		ProjectID:      projectID,
		CollectionName: collection,
	}, fsClient, logger)
	if err != nil {
		return err
	}

	// Time series warehouse.
	bqCfg, err := tsstore.LoadBigQueryConfigFromEnv()
	if err != nil {
		return err
	}
	bqClient, err := tsstore.NewProductionBigQueryClient(ctx, bqCfg.ProjectID, bqCfg.CredentialsFile, logger)
	if err != nil {
		return err
	}
	writer, err := tsstore.NewBigQueryWriter(ctx, bqClient, bqCfg, logger)
	if err != nil {
		return err
	}
	appender := tsstore.NewAppender(tsstore.NewAppenderDefaults(), writer, logger)
	appender.Start(ctx)

	// Secondary forwarding, disabled when no topic is configured.
	var stream gateway.EventStreamPublisher = &eventstream.NopPublisher{}
	var psPublisher *eventstream.PubSubPublisher
	if topicID := os.Getenv("PUBSUB_TOPIC_ID"); topicID != "" {
		psClient, err := pubsub.NewClient(ctx, projectID, clientOpts...)
		if err != nil {
			return err
		}
		defer func() { _ = psClient.Close() }()

		psCfg := eventstream.NewPubSubConfigDefaults()
		psCfg.ProjectID = projectID
		psCfg.TopicID = topicID
		psPublisher, err = eventstream.NewPubSubPublisher(ctx, psCfg, psClient, logger)
		if err != nil {
			return err
		}
		stream = psPublisher
	} else {
		logger.Info().Msg("PUBSUB_TOPIC_ID not set, secondary forwarding disabled.")
	}

	// Presence cache, in memory unless Redis is configured.
	var presenceCache presence.Cache
	if redisAddr := os.Getenv("REDIS_ADDR"); redisAddr != "" {
		presenceCache, err = presence.NewRedisCache(ctx, &presence.RedisConfig{
			Addr:     redisAddr,
			Password: os.Getenv("REDIS_PASSWORD"),
			TTL:      24 * time.Hour,
		}, logger)
		if err != nil {
			return err
		}
	} else {
		presenceCache = presence.NewInMemoryCache(24 * time.Hour)
	}
	defer func() { _ = presenceCache.Close() }()

	// Raw payload archive, enabled only when a bucket is configured.
	var archiver *archive.Archiver
	if bucket := os.Getenv("ARCHIVE_BUCKET"); bucket != "" {
		gcsClient, err := storage.NewClient(ctx, clientOpts...)
		if err != nil {
			return err
		}
		defer func() { _ = gcsClient.Close() }()

		archiveCfg := archive.NewConfigDefaults()
		archiveCfg.BucketName = bucket
		archiver, err = archive.NewArchiver(archiveCfg, archive.NewGCSObjectStore(gcsClient), logger)
		if err != nil {
			return err
		}
		archiver.Start(ctx)
	}

	deps := gateway.Deps{
		Directory: dir,
		Store:     appender,
		Stream:    stream,
		Presence:  presence.NewRecorder(presenceCache, logger),
	}
	if archiver != nil {
		deps.Archiver = archiver
	}

	gw, err := gateway.New(gateway.LoadBrokerConfigFromEnv(), deps, logger)
	if err != nil {
		return err
	}
	if err := gw.Connect(ctx); err != nil {
		return err
	}

	httpPort := os.Getenv("HTTP_PORT")
	if httpPort == "" {
		httpPort = ":8080"
	}
	server := microservice.NewBaseServer(logger, httpPort, gw.IsConnected)
	gateway.NewAPI(gw, logger).RegisterHandlers(server.Mux())
	if err := server.Start(); err != nil {
		return err
	}

	<-ctx.Done()
	logger.Info().Msg("Shutdown signal received.")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown failed.")
	}
	if err := gw.Close(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Gateway close failed.")
	}
	if psPublisher != nil {
		psPublisher.Stop()
	}
	if archiver != nil {
		if err := archiver.Stop(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("Archiver shutdown failed.")
		}
	}
	if err := appender.Stop(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Appender shutdown failed.")
	}
	return nil
}
