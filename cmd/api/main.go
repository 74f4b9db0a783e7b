package main

import (
	"context"
	"log"
	"net/http"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/imrishuroy/storefront-orderflow/internal/aws"
	"github.com/imrishuroy/storefront-orderflow/internal/cart"
	"github.com/imrishuroy/storefront-orderflow/internal/catalog"
	"github.com/imrishuroy/storefront-orderflow/internal/checkout"
	"github.com/imrishuroy/storefront-orderflow/internal/config"
	"github.com/imrishuroy/storefront-orderflow/internal/handlers"
	"github.com/imrishuroy/storefront-orderflow/internal/identity"
	"github.com/imrishuroy/storefront-orderflow/internal/idempotency"
	"github.com/imrishuroy/storefront-orderflow/internal/logging"
	"github.com/imrishuroy/storefront-orderflow/internal/metrics"
	"github.com/imrishuroy/storefront-orderflow/internal/orders"
)

func setupRouter(cfg handlers.HandlerConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	// health
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	handlers.RegisterRoutes(r, cfg)

	return r
}

// wire builds the handler dependencies from configuration and live clients.
func wire(ctx context.Context, cfg config.Config, clients *aws.AWSClients, rdb *redis.Client, logger *zap.Logger) (handlers.HandlerConfig, error) {
	verifier, err := identity.NewFirebaseVerifier(ctx, cfg.FirebaseProjectID, cfg.FirebaseCredentialsFile)
	if err != nil {
		return handlers.HandlerConfig{}, err
	}
	profiles := identity.NewProfileStore(clients.DynamoDB, cfg.Tables.Users)
	resolver := identity.NewResolver(verifier, profiles)

	products := catalog.NewCached(catalog.NewStore(clients.DynamoDB, cfg.Tables.Products), rdb, cfg.CatalogCacheTTL, logger)
	carts := cart.NewService(cart.NewStore(clients.DynamoDB, cfg.Tables.Cart), products, logger)
	orderStore := orders.NewStore(clients.DynamoDB, cfg.Tables.Orders, cfg.Tables.OrderLines)

	committer := checkout.NewCommitter(checkout.Deps{
		Client:      clients.DynamoDB,
		Cart:        carts,
		Orders:      orderStore,
		Idempotency: idempotency.NewStore(clients.DynamoDB, cfg.Tables.Idempotency, cfg.IdempotencyTTL),
		Sessions:    checkout.NewSessionStore(rdb, cfg.ReviewTTL),
		Publisher:   aws.NewPublisher(clients.SQS, cfg.QueueURL),
		Metrics:     metrics.NewRecorder(clients.CloudWatch, cfg.MetricsNamespace, logger),
		Log:         logger,
	})

	return handlers.HandlerConfig{
		Auth:     resolver,
		Catalog:  products,
		Cart:     carts,
		Checkout: committer,
		Orders:   orderStore,
		Profiles: profiles,
		Log:      logger,
	}, nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.RunLocal)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx := context.Background()
	clients, err := aws.NewAWSClients(ctx, aws.Settings{Region: cfg.AWSRegion, EndpointOverride: cfg.EndpointOverride})
	if err != nil {
		logger.Fatal("failed to init aws clients", zap.Error(err))
	}
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer func() { _ = rdb.Close() }()

	hcfg, err := wire(ctx, cfg, clients, rdb, logger)
	if err != nil {
		logger.Fatal("failed to wire handlers", zap.Error(err))
	}
	r := setupRouter(hcfg)

	// if environment variable RUN_LOCAL is set to "true", run local HTTP server for development.
	if cfg.RunLocal {
		logger.Info("running local server", zap.String("addr", cfg.HTTPAddr))
		if err := r.Run(cfg.HTTPAddr); err != nil {
			logger.Fatal("failed to run local server", zap.Error(err))
		}
		return
	}

	adapter := ginadapter.New(r)

	lambda.Start(func(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
		return adapter.ProxyWithContext(ctx, req)
	})
}
