// Command gatewayd serves the encrypted container file surface and the
// chat engine over HTTP, wiring config, storage backend, audit logging,
// metrics and the inference engine together.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cadellanderson/omnicore/internal/api"
	"github.com/cadellanderson/omnicore/internal/audit"
	"github.com/cadellanderson/omnicore/internal/config"
	"github.com/cadellanderson/omnicore/internal/container"
	"github.com/cadellanderson/omnicore/internal/crypto"
	"github.com/cadellanderson/omnicore/internal/engine"
	"github.com/cadellanderson/omnicore/internal/kms"
	"github.com/cadellanderson/omnicore/internal/metrics"
	"github.com/cadellanderson/omnicore/internal/middleware"
	"github.com/cadellanderson/omnicore/internal/telemetry"
	"github.com/cadellanderson/omnicore/internal/weights"
	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	password := flag.String("password", os.Getenv("CONTAINER_PASSWORD"), "container encryption password (ignored if -password-envelope is set)")
	passwordEnvelope := flag.String("password-envelope", "", "path to a JSON KMS key envelope to unwrap into the container password")
	weightsPath := flag.String("weights", "", "path to model weights file (omit to serve files only)")
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.WithError(err).Fatal("failed to load config")
	}

	if cfg.Hardware.EnableAESNI || cfg.Hardware.EnableARMv8AES {
		logger.WithField("enabled", crypto.IsHardwareAccelerationEnabled(cfg.Hardware)).Info("hardware acceleration probe")
	}

	shutdown, err := telemetry.Setup(context.Background(), telemetry.Config{
		ServiceName:    "gatewayd",
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		JaegerEndpoint: cfg.Telemetry.JaegerEndpoint,
	})
	if err != nil {
		logger.WithError(err).Fatal("failed to set up telemetry")
	}
	defer shutdown(context.Background())

	m := metrics.NewMetrics()

	auditLogger, err := audit.NewLoggerFromConfig(cfg.Audit)
	if err != nil {
		logger.WithError(err).Fatal("failed to build audit logger")
	}
	defer auditLogger.Close()

	var opts []container.Option
	opts = append(opts, container.WithLogger(logger))

	if cfg.Lock.Enabled {
		redisOpts, err := redis.ParseURL(cfg.Lock.RedisURL)
		if err != nil {
			logger.WithError(err).Fatal("invalid lock redis URL")
		}
		client := redis.NewClient(redisOpts)
		lock := container.NewWriterLock(client, cfg.Storage.BasePath, cfg.Lock.TTL).WithAudit(auditLogger)
		opts = append(opts, container.WithWriterLock(lock))
	}

	resolvedPassword, err := resolvePassword(context.Background(), cfg, *password, *passwordEnvelope)
	if err != nil {
		logger.WithError(err).Fatal("failed to resolve container password")
	}
	*password = resolvedPassword

	backend, err := openBackend(context.Background(), cfg.Storage)
	if err != nil {
		logger.WithError(err).Fatal("failed to open storage backend")
	}

	exists, err := backend.Exists()
	if err != nil {
		logger.WithError(err).Fatal("failed to probe backend")
	}

	var c *container.Container
	if exists {
		c, err = container.Open(backend, *password, opts...)
	} else {
		c, err = container.Create(backend, *password, opts...)
	}
	if err != nil {
		logger.WithError(err).Fatal("failed to open container")
	}
	defer c.Close()

	eng := engine.New()
	if *weightsPath != "" {
		f, err := os.Open(*weightsPath)
		if err != nil {
			logger.WithError(err).Fatal("failed to open weights file")
		}
		w, err := weights.Load(f)
		f.Close()
		if err != nil {
			logger.WithError(err).Fatal("failed to load weights")
		}
		if err := eng.Load(engine.LoadOptions{
			Weights:      w,
			NThreads:     cfg.Engine.NThreads,
			CtxLen:       cfg.Engine.CtxLen,
			TemplateName: cfg.Engine.TemplateName,
		}); err != nil {
			logger.WithError(err).Fatal("failed to load engine")
		}
		logger.WithField("backend", eng.Info().Backend).Info("engine loaded")
	} else {
		logger.Info("no weights supplied, /chat will return 500 until an engine is loaded")
	}

	handler := api.NewHandler(c, eng, logger, m, auditLogger)

	router := mux.NewRouter()
	router.Use(middleware.RecoveryMiddleware(logger))
	router.Use(middleware.LoggingMiddleware(logger))
	router.Use(authMiddleware(cfg.Server.APIKey))
	handler.RegisterRoutes(router)
	router.Handle("/metrics", m.Handler()).Methods("GET")

	srv := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.WithField("addr", srv.Addr).Info("starting gatewayd")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("graceful shutdown failed")
	}
}

// resolvePassword returns the plaintext container password. When
// envelopePath is set and KMS is enabled, the file at that path holds a
// JSON-encoded kms.KeyEnvelope whose ciphertext is unwrapped through the
// configured KMIP server; otherwise raw is used as-is.
func resolvePassword(ctx context.Context, cfg *config.Config, raw, envelopePath string) (string, error) {
	if envelopePath == "" {
		return raw, nil
	}
	if !cfg.KMS.Enabled {
		return "", fmt.Errorf("password-envelope given but kms is not enabled in config")
	}

	data, err := os.ReadFile(envelopePath)
	if err != nil {
		return "", fmt.Errorf("read password envelope: %w", err)
	}
	var env kms.KeyEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", fmt.Errorf("decode password envelope: %w", err)
	}

	mgr, err := kms.NewCosmianKMIPManager(kms.CosmianKMIPOptions{
		Endpoint: cfg.KMS.Endpoint,
		Keys:     []kms.KMIPKeyReference{{ID: cfg.KMS.KeyID, Version: 1}},
		Timeout:  10 * time.Second,
	})
	if err != nil {
		return "", fmt.Errorf("connect to kms: %w", err)
	}
	defer mgr.Close(ctx)

	plaintext, err := mgr.UnwrapKey(ctx, &env, nil)
	if err != nil {
		return "", fmt.Errorf("unwrap password: %w", err)
	}
	return string(plaintext), nil
}

func openBackend(ctx context.Context, cfg config.StorageConfig) (container.Backend, error) {
	switch cfg.Backend {
	case "local":
		return container.NewLocalBackend(cfg.BasePath), nil
	case "s3":
		return container.NewS3Backend(ctx, container.S3BackendConfig{
			Bucket:    cfg.S3.Bucket,
			Key:       cfg.BasePath,
			Region:    cfg.S3.Region,
			Endpoint:  cfg.S3.Endpoint,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
			Provider:  cfg.S3.Provider,
		})
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// authMiddleware rejects requests carrying a bad or stale HMAC signature.
// /health, /ready, /live and /metrics are exempt so orchestrators and
// scrapers can reach them without a key.
func authMiddleware(apiKey string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Path {
			case "/health", "/ready", "/live", "/metrics":
				next.ServeHTTP(w, r)
				return
			}
			if apiKey == "" {
				next.ServeHTTP(w, r)
				return
			}
			if err := api.ValidateRequestSignature(r, apiKey); err != nil {
				http.Error(w, err.Error(), http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
