package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/your-org/metabridge/internal/auth"
	"github.com/your-org/metabridge/internal/mle"
	"github.com/your-org/metabridge/internal/processor"
	"github.com/your-org/metabridge/internal/transform"
	"github.com/your-org/metabridge/internal/webhook"
	"github.com/your-org/metabridge/pkg/config"
	"github.com/your-org/metabridge/pkg/kafka"
	"github.com/your-org/metabridge/pkg/logger"
	"github.com/your-org/metabridge/pkg/storage/objectstore"
	"github.com/your-org/metabridge/pkg/tracing"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logr, err := logger.New(cfg.App.LogLevel, cfg.App.Name)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	traceShutdown, err := tracing.Init(ctx, tracing.Config{
		Endpoint:    cfg.Tracing.Endpoint,
		Insecure:    cfg.Tracing.Insecure,
		SampleRatio: cfg.Tracing.SampleRatio,
		Attributes:  parseResourceAttributes(cfg.Tracing.ResourceAttr),
		ServiceName: cfg.App.Name,
		Version:     cfg.App.Version,
	})
	if err != nil {
		logr.Fatal("init tracing", zap.Error(err))
	}
	defer traceShutdown(context.Background()) //nolint:errcheck

	tokens := auth.NewTokenManager(auth.Config{
		TokenURL:     cfg.OAuth.TokenURL,
		ClientID:     cfg.OAuth.ClientID,
		ClientSecret: cfg.OAuth.ClientSecret,
		Scope:        cfg.OAuth.Scope,
	})

	var syncer mle.Syncer = mle.NewClient(mle.ClientConfig{
		BaseURL:    cfg.MLE.BaseURL,
		APIVersion: cfg.MLE.APIVersion,
		Timeout:    cfg.MLE.Timeout,
	}, tokens, logr)
	syncer = mle.NewRetryingSyncer(syncer, cfg.Sync.MaxAttempts, cfg.Sync.InitialBackoff, logr)

	var publisher processor.Publisher
	var producer *kafka.Producer
	if len(cfg.Kafka.Brokers) > 0 {
		producer = kafka.NewProducer(kafka.ProducerConfig{
			Brokers:      cfg.Kafka.Brokers,
			Topic:        cfg.Kafka.OutcomeTopic,
			BatchSize:    cfg.Kafka.BatchSize,
			BatchTimeout: cfg.Kafka.BatchTimeout,
			Compression:  kafka.CompressionFromString(cfg.Kafka.CompressionCodec),
			RequiredAcks: kafkago.RequireAll,
			MaxAttempts:  cfg.Kafka.Retries,
		})
		publisher = producer
	}

	var archive processor.Archiver
	var store objectstore.Client
	if cfg.Archive.Enabled {
		store, err = objectstore.New(objectstore.Config{
			Provider:  cfg.Archive.Provider,
			Endpoint:  cfg.Archive.Endpoint,
			Region:    cfg.Archive.Region,
			Bucket:    cfg.Archive.Bucket,
			AccessKey: cfg.Archive.AccessKey,
			SecretKey: cfg.Archive.SecretKey,
			UseSSL:    cfg.Archive.UseSSL,
		})
		if err != nil {
			logr.Fatal("init failed-event archive", zap.Error(err))
		}
		archive = store
	}

	proc := processor.New(processor.Params{
		Transformer: transform.NewTransformer(cfg.AEM.AuthorURL, cfg.AEM.PublishURL),
		Syncer:      syncer,
		Publisher:   publisher,
		Archive:     archive,
		Logger:      logr,
	})

	handler := webhook.NewHTTPHandler(webhook.NewVerifier(cfg.Webhook.Secret), proc, logr, cfg.App.Version)

	server := &http.Server{
		Addr:         ":" + cfg.HTTP.Port,
		Handler:      handler.Router(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logr.Error("http server shutdown failed", zap.Error(err))
		}
		if producer != nil {
			if err := producer.Close(shutdownCtx); err != nil {
				logr.Error("kafka producer shutdown failed", zap.Error(err))
			}
		}
		if store != nil {
			if err := store.Close(); err != nil {
				logr.Error("archive shutdown failed", zap.Error(err))
			}
		}
	}()

	logr.Info("metabridge starting",
		zap.String("addr", server.Addr),
		zap.Bool("signature_verification", cfg.Webhook.Secret != ""))
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logr.Fatal("http server failed", zap.Error(err))
	}
}

func parseResourceAttributes(raw string) map[string]string {
	if raw == "" {
		return map[string]string{}
	}
	attrs := map[string]string{}
	pairs := strings.Split(raw, ",")
	for _, pair := range pairs {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		if !strings.Contains(pair, "=") {
			continue
		}
		parts := strings.SplitN(pair, "=", 2)
		attrs[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
	}
	return attrs
}
