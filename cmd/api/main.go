package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/lilacbloom/api/internal/handlers"
	"github.com/lilacbloom/api/internal/payments"
	"github.com/lilacbloom/api/internal/platform/auth"
	"github.com/lilacbloom/api/internal/platform/config"
	pfirestore "github.com/lilacbloom/api/internal/platform/firestore"
	"github.com/lilacbloom/api/internal/platform/jobs"
	"github.com/lilacbloom/api/internal/platform/observability"
	"github.com/lilacbloom/api/internal/platform/secrets"
	"github.com/lilacbloom/api/internal/repositories"
	firestoreRepo "github.com/lilacbloom/api/internal/repositories/firestore"
	"github.com/lilacbloom/api/internal/services"
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	envValues, err := config.EnvironmentValues()
	if err != nil {
		logger.Fatal("failed to read environment values", zap.Error(err))
	}

	fetcher, err := newSecretFetcher(ctx, logger, envValues)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
		config.WithRequiredSecrets(requiredSecretNames(envValues)...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.Names()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	buildInfo := buildInfoFromEnv(envValues, cfg, startedAt)

	firestoreProvider := pfirestore.NewProvider(cfg.Firestore)
	firestoreClient, err := firestoreProvider.Client(ctx)
	if err != nil {
		logger.Fatal("failed to initialise firestore client", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := firestoreProvider.Close(closeCtx); err != nil {
			logger.Warn("firestore close error", zap.Error(err))
		}
	}()

	authenticator := newAuthenticator(ctx, logger, cfg)

	stripeProvider, err := payments.NewStripeProvider(payments.StripeProviderConfig{
		APIKey:        cfg.Payments.StripeAPIKey,
		WebhookSecret: cfg.Payments.StripeWebhookSecret,
		Logger:        zapEventLogger(logger.Named("payments")),
		Clock:         time.Now,
	})
	if err != nil {
		logger.Fatal("failed to initialise stripe payment provider", zap.Error(err))
	}

	paymentManager, err := payments.NewManager(map[string]payments.Provider{
		"stripe": stripeProvider,
	})
	if err != nil {
		logger.Fatal("failed to initialise payment manager", zap.Error(err))
	}

	var eventPublisher services.EventPublisher
	if cfg.Events.Enabled {
		pubsubClient, err := pubsub.NewClient(ctx, cfg.Events.ProjectID)
		if err != nil {
			logger.Fatal("failed to initialise pubsub client", zap.Error(err))
		}
		defer func() {
			if err := pubsubClient.Close(); err != nil {
				logger.Warn("pubsub close error", zap.Error(err))
			}
		}()
		topic := pubsubClient.Topic(cfg.Events.TopicID)
		defer topic.Stop()
		eventPublisher, err = jobs.NewPubSubEventPublisher(topic)
		if err != nil {
			logger.Fatal("failed to initialise event publisher", zap.Error(err))
		}
	} else {
		logger.Info("domain event publishing disabled")
	}

	orderRepo, err := firestoreRepo.NewOrderRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise order repository", zap.Error(err))
	}
	giftCardRepo, err := firestoreRepo.NewGiftCardRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise gift card repository", zap.Error(err))
	}
	subscriptionRepo, err := firestoreRepo.NewSubscriptionRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise subscription repository", zap.Error(err))
	}
	counterRepo, err := firestoreRepo.NewCounterRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise counter repository", zap.Error(err))
	}

	checkoutService, err := services.NewCheckoutService(services.CheckoutServiceDeps{
		Payments:        paymentManager,
		Subscriptions:   subscriptionRepo,
		SuccessURL:      cfg.Payments.SuccessURL,
		CancelURL:       cfg.Payments.CancelURL,
		DefaultCurrency: cfg.Payments.Currency,
		Clock:           time.Now,
		Logger:          zapEventLogger(logger.Named("checkout")),
	})
	if err != nil {
		logger.Fatal("failed to initialise checkout service", zap.Error(err))
	}

	orderService, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:       orderRepo,
		Counters:     counterRepo,
		Events:       eventPublisher,
		DefaultLimit: cfg.Orders.DefaultListLimit,
		MaxLimit:     cfg.Orders.MaxListLimit,
		Clock:        time.Now,
		Logger:       zapEventLogger(logger.Named("orders")),
	})
	if err != nil {
		logger.Fatal("failed to initialise order service", zap.Error(err))
	}

	giftCardService, err := services.NewGiftCardService(services.GiftCardServiceDeps{
		GiftCards: giftCardRepo,
		Events:    eventPublisher,
		Clock:     time.Now,
		Logger:    zapEventLogger(logger.Named("giftcards")),
	})
	if err != nil {
		logger.Fatal("failed to initialise gift card service", zap.Error(err))
	}

	subscriptionService, err := services.NewSubscriptionService(services.SubscriptionServiceDeps{
		Subscriptions: subscriptionRepo,
		Payments:      paymentManager,
		Events:        eventPublisher,
		Clock:         time.Now,
		Logger:        zapEventLogger(logger.Named("subscriptions")),
	})
	if err != nil {
		logger.Fatal("failed to initialise subscription service", zap.Error(err))
	}

	webhookService, err := services.NewWebhookService(services.WebhookServiceDeps{
		Parser:        stripeProvider,
		Orders:        orderService,
		GiftCards:     giftCardService,
		Subscriptions: subscriptionService,
		Logger:        zapEventLogger(logger.Named("webhooks")),
	})
	if err != nil {
		logger.Fatal("failed to initialise webhook service", zap.Error(err))
	}

	systemService, err := newSystemService(firestoreClient, fetcher, buildInfo)
	if err != nil {
		logger.Warn("health: system service init failed", zap.Error(err))
	}

	checkoutHandlers := handlers.NewCheckoutHandlers(authenticator, checkoutService)
	orderHandlers := handlers.NewOrderHandlers(authenticator, orderService)
	giftCardHandlers := handlers.NewGiftCardHandlers(checkoutService, giftCardService)
	subscriptionHandlers := handlers.NewSubscriptionHandlers(authenticator, checkoutService, subscriptionService)
	webhookHandlers := handlers.NewWebhookHandlers(webhookService)
	healthHandlers := handlers.NewHealthHandlers(systemService)

	projectID := traceProjectID(cfg)
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(projectID),
	}

	router := handlers.NewRouter(
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithCheckoutRoutes(checkoutHandlers.Routes),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithGiftCardRoutes(giftCardHandlers.Routes),
		handlers.WithSubscriptionRoutes(subscriptionHandlers.Routes),
		handlers.WithWebhookRoutes(webhookHandlers.Routes),
		handlers.WithInternalRoutes(reconcileRoutes(subscriptionService)),
		handlers.WithInternalMiddlewares(authenticator.RequireFirebaseAuth("admin")),
	)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("lilac bloom api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

// zapEventLogger adapts a zap logger to the services logging callback.
func zapEventLogger(logger *zap.Logger) func(ctx context.Context, event string, fields map[string]any) {
	return func(_ context.Context, event string, fields map[string]any) {
		zFields := make([]zap.Field, 0, len(fields)+1)
		zFields = append(zFields, zap.String("event", event))
		for k, v := range fields {
			zFields = append(zFields, zap.Any(k, v))
		}
		logger.Debug("service event", zFields...)
	}
}

// newAuthenticator wires the Firebase verifier, degrading to unverified token
// parsing outside production so local stacks work without Google credentials.
func newAuthenticator(ctx context.Context, logger *zap.Logger, cfg config.Config) *auth.Authenticator {
	verifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
	if err == nil {
		return auth.NewAuthenticator(verifier, auth.WithUserGetter(verifier))
	}
	if cfg.Production() {
		logger.Fatal("failed to initialise firebase verifier", zap.Error(err))
	}
	logger.Warn("firebase verifier unavailable; using unverified token parsing", zap.Error(err))
	return auth.NewAuthenticator(auth.UnverifiedVerifier{})
}

// reconcileRoutes exposes the subscription reconciliation trigger for schedulers.
func reconcileRoutes(subs services.SubscriptionService) func(chi.Router) {
	return func(r chi.Router) {
		r.Post("/reconcile/subscriptions", func(w http.ResponseWriter, req *http.Request) {
			synced, err := subs.Reconcile(req.Context(), 25)
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			if err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				_ = json.NewEncoder(w).Encode(map[string]any{"error": "reconcile_failed"})
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"synced": synced})
		})
	}
}

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) services.BuildInfo {
	version := strings.TrimSpace(env["API_BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(env["API_BUILD_COMMIT_SHA"])
	if commit == "" {
		commit = "unknown"
	}
	return services.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: cfg.Environment,
		StartedAt:   started,
	}
}

func newSystemService(client *firestore.Client, fetcher *secrets.Fetcher, build services.BuildInfo) (services.SystemService, error) {
	checks := make([]repositories.DependencyCheck, 0, 2)
	if client != nil {
		c := client
		checks = append(checks, repositories.DependencyCheck{
			Name:    "firestore",
			Timeout: 1500 * time.Millisecond,
			Check: func(ctx context.Context) error {
				iter := c.Collections(ctx)
				_, err := iter.Next()
				if errors.Is(err, iterator.Done) {
					return nil
				}
				return err
			},
		})
	}
	if fetcher != nil {
		const secretHealthReference = "secret://system/healthz?version=latest"
		checks = append(checks, repositories.DependencyCheck{
			Name:    "secretManager",
			Timeout: time.Second,
			Check: func(ctx context.Context) error {
				_, err := fetcher.Resolve(ctx, secretHealthReference)
				if err == nil {
					return nil
				}
				if st, ok := status.FromError(err); ok && st.Code() == codes.NotFound {
					return nil
				}
				return err
			},
		})
	}
	if len(checks) == 0 {
		return nil, errors.New("health: no dependency checks configured")
	}
	repo, err := repositories.NewDependencyHealthRepository(checks)
	if err != nil {
		return nil, err
	}
	return services.NewSystemService(services.SystemServiceDeps{
		HealthRepository: repo,
		Clock:            time.Now,
		Build:            build,
	})
}

// requiredSecretNames lists the secrets the service refuses to start without.
// Local environments may run against Stripe test keys supplied directly.
func requiredSecretNames(env map[string]string) []string {
	envLabel := strings.ToLower(strings.TrimSpace(env["API_ENVIRONMENT"]))
	if envLabel != "production" && envLabel != "prod" {
		return nil
	}
	return []string{
		"Payments.StripeAPIKey",
		"Payments.StripeWebhookSecret",
	}
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		if env == nil {
			return ""
		}
		return strings.TrimSpace(env[key])
	}

	defaultProject := lookup("API_SECRETS_PROJECT_ID")
	if defaultProject == "" {
		defaultProject = lookup("API_FIREBASE_PROJECT_ID")
	}
	fallbackPath := lookup("API_SECRETS_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}
	credentialsFile := lookup("API_FIREBASE_CREDENTIALS_FILE")

	opts := []secrets.Option{
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
	}
	if defaultProject != "" {
		opts = append(opts, secrets.WithDefaultProject(defaultProject))
	}
	if credentialsFile != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}

	return secrets.NewFetcher(ctx, opts...)
}
