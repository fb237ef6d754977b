package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"order-payment-service/common/auth"
	apperrors "order-payment-service/common/errors"
	"order-payment-service/common/logger"
	commonmw "order-payment-service/common/middleware"
	"order-payment-service/controllers"
	"order-payment-service/database"
	"order-payment-service/gateway"
	"order-payment-service/kafka"
	"order-payment-service/metrics"
	"order-payment-service/middleware"
	awspkg "order-payment-service/pkg/aws"
	"order-payment-service/repository"
	"order-payment-service/routes"
	"order-payment-service/services"
	"order-payment-service/telemetry"
)

const metricsNamespace = "ECommerce/OrderPayment"

func main() {
	cfg, err := LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// AWS clients are optional; features that need them are disabled without it.
	awsCfg, awsErr := awspkg.LoadAWSConfig(ctx)
	awsReady := awsErr == nil

	var cwWriter *awspkg.CloudWatchLogsClient
	if cfg.CloudWatchEnabled && awsReady {
		cwWriter, err = awspkg.NewCloudWatchLogsClient(ctx, awsCfg, cfg.CloudWatchLogGroup, serviceName)
		if err != nil {
			log.Printf("CloudWatch Logs unavailable, logging to stdout only: %v", err)
			cwWriter = nil
		}
	}

	var zapLogger *zap.Logger
	if cwWriter != nil {
		zapLogger, err = logger.Initialize(cfg.Env, cwWriter)
	} else {
		zapLogger, err = logger.Initialize(cfg.Env, nil)
	}
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer zapLogger.Sync() //nolint:errcheck

	if !awsReady {
		zapLogger.Warn("AWS config unavailable, SNS, SQS and CloudWatch disabled", zap.Error(awsErr))
	}

	if os.Getenv("AWS_USE_SECRETS") == "true" && awsReady {
		cfg.ApplySecrets(ctx, awspkg.NewSecretsClient(awsCfg))
	}
	if err := cfg.Validate(); err != nil {
		zapLogger.Fatal("Invalid configuration", zap.Error(err))
	}

	if cfg.OtelEnabled {
		shutdownTracer, err := telemetry.SetupTracer(ctx, serviceName, cfg.OtelEndpoint, cfg.Env)
		if err != nil {
			zapLogger.Warn("Tracing disabled", zap.Error(err))
		} else {
			defer func() {
				sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdownTracer(sctx); err != nil {
					zapLogger.Warn("Tracer shutdown failed", zap.Error(err))
				}
			}()
		}
	}

	repo, closeStore, err := buildRepository(cfg, awsCfg, awsReady, zapLogger)
	if err != nil {
		zapLogger.Fatal("Failed to initialize order store", zap.Error(err), zap.String("store", cfg.OrderStore))
	}
	defer closeStore()

	paymentGateway := gateway.NewGuarded(buildGateway(cfg), cfg.GatewayTimeout, zapLogger)

	// Event fan-out
	var snsClient awspkg.SNSPublisher
	if awsReady && cfg.OrderSNSTopicARN != "" {
		snsClient = awspkg.NewSNSClient(awsCfg)
	}
	var kafkaPublisher services.EventPublisher
	if len(cfg.KafkaBrokers) > 0 {
		producer := kafka.NewProducer(cfg.KafkaBrokers, cfg.OrderEventsTopic, zapLogger)
		defer producer.Close() //nolint:errcheck
		kafkaPublisher = producer
	}
	notifier := services.NewNotifier(snsClient, cfg.OrderSNSTopicARN, kafkaPublisher, zapLogger)

	var cwMetrics *awspkg.MetricsClient
	if awsReady {
		cwMetrics = awspkg.NewMetricsClient(awsCfg, metricsNamespace, cfg.CloudWatchEnabled)
	}
	recorder := metrics.NewRecorder(cwMetrics, serviceName, zapLogger)

	orderService := services.NewOrderService(repo, paymentGateway, notifier, recorder, services.CheckoutConfig{
		Currency:        cfg.Currency,
		PublicBaseURL:   cfg.PublicBaseURL,
		MerchantName:    cfg.MerchantName,
		InvoiceDuration: cfg.InvoiceDuration,
		StoreTimeout:    cfg.StoreTimeout,
	}, zapLogger)
	processor := services.NewWebhookProcessor(repo, notifier, recorder, cfg.StoreTimeout, zapLogger)

	authorizer, err := auth.NewAuthorizer(cfg.RBACPolicyFile)
	if err != nil {
		zapLogger.Fatal("Failed to initialize authorizer", zap.Error(err))
	}

	if cfg.CallbackQueueURL != "" && awsReady {
		consumer := services.NewSQSCallbackConsumer(
			awspkg.NewSQSConsumer(awsCfg, cfg.CallbackQueueURL, zapLogger),
			paymentGateway, processor, recorder, zapLogger,
		)
		go consumer.Start(ctx)
	}

	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	apperrors.UseJSONFieldNames()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.RequestID())
	r.Use(commonmw.RequestLogger(zapLogger))
	r.Use(commonmw.SecurityHeaders())
	r.Use(commonmw.CORSMiddleware(cfg.AllowedOrigins))
	if cfg.OtelEnabled {
		r.Use(otelgin.Middleware(serviceName))
	}
	r.Use(commonmw.PrometheusMiddleware())
	r.Use(commonmw.MetricsMiddleware(cwMetrics, serviceName))
	r.Use(commonmw.Timeout(cfg.RequestTimeout))

	deps := routes.Deps{
		Authenticate:   middleware.Authenticate(authorizer, []byte(cfg.JWTSecret), cfg.TrustGatewayHeaders, zapLogger),
		OrderLimiter:   commonmw.NewRateLimiter(ctx, rate.Limit(20), 40, 5*time.Minute),
		WebhookLimiter: commonmw.NewRateLimiter(ctx, rate.Limit(50), 100, 5*time.Minute),
	}
	routes.RegisterOpsRoutes(r, serviceName)
	routes.RegisterOrderRoutes(r, controllers.NewOrderController(orderService), deps)
	routes.RegisterWebhookRoutes(r, controllers.NewWebhookController(paymentGateway, processor, recorder, zapLogger), deps)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLogger.Fatal("Server failed", zap.Error(err))
		}
	}()

	zapLogger.Info("Order payment service started",
		zap.String("port", cfg.Port),
		zap.String("store", cfg.OrderStore),
		zap.String("gateway", paymentGateway.Name()),
	)
	<-quit
	zapLogger.Info("Shutting down order payment service...")
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("Server forced to shutdown", zap.Error(err))
	}
	zapLogger.Info("Server exited cleanly")
}

func buildRepository(cfg *Config, awsCfg sdkaws.Config, awsReady bool, logger *zap.Logger) (repository.OrderRepository, func(), error) {
	noop := func() {}

	switch cfg.OrderStore {
	case StoreFile:
		repo, err := repository.NewFileOrderRepository(cfg.OrdersFile)
		return repo, noop, err
	case StorePostgres:
		if err := database.Connect(cfg.Postgres, logger); err != nil {
			return nil, noop, err
		}
		closeDB := func() {
			if err := database.Close(); err != nil {
				logger.Warn("Failed to close database", zap.Error(err))
			}
		}
		return repository.NewGormOrderRepository(database.DB, cfg.StoreTimeout), closeDB, nil
	case StoreDynamoDB:
		if !awsReady {
			return nil, noop, fmt.Errorf("dynamodb store needs AWS config")
		}
		return repository.NewDynamoOrderRepository(awspkg.NewDynamoDBClient(awsCfg), cfg.DynamoDBTable), noop, nil
	default:
		logger.Warn("Using in-memory order store; orders are lost on restart")
		return repository.NewMemoryOrderRepository(), noop, nil
	}
}

func buildGateway(cfg *Config) gateway.PaymentGateway {
	if cfg.PaymentProvider == ProviderStripe {
		return gateway.NewStripeGateway(cfg.StripeAPIKey, cfg.StripeWebhookSecret, nil)
	}
	return gateway.NewXenditGateway(cfg.XenditSecretKey, cfg.XenditCallbackToken, cfg.XenditBaseURL)
}
