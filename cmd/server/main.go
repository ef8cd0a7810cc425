package main

import (
	"log"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"cryptopay_app/internal/handlers"
	appMiddleware "cryptopay_app/internal/middleware"
	"cryptopay_app/internal/services"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment")
	}

	// Initialize Database
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		log.Fatal("DATABASE_URL not set")
	}

	db, err := services.InitDB(databaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	// Run auto-migration
	if err := services.AutoMigrate(db); err != nil {
		log.Fatalf("Failed to run database migrations: %v", err)
	}

	// Pick the persisted cache tier: Redis when configured, otherwise the
	// database-backed table
	var cacheStore services.CacheStore
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		redisStore, err := services.NewRedisCacheStore(redisURL)
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer redisStore.Close()
		cacheStore = redisStore
		log.Println("Using Redis as the persisted cache tier")
	} else {
		cacheStore = services.NewDatabaseCacheStore(db)
		log.Println("REDIS_URL not set, using the database as the persisted cache tier")
	}
	cache := services.NewTieredCache(cacheStore)

	// Initialize Firebase realtime broadcasting
	credPath := os.Getenv("FIREBASE_CREDENTIALS_PATH")
	if credPath == "" {
		credPath = "./firebase-service-account.json"
	}
	realtimeClient, err := services.InitFirebase(credPath, os.Getenv("FIREBASE_DATABASE_URL"))
	if err != nil {
		log.Printf("Warning: Firebase initialization failed: %v", err)
		log.Println("Realtime payment updates will not be broadcast")
	}

	// Services
	gateway := services.NewNowPaymentsService(cache)
	payments := services.NewPaymentService(db, gateway)
	email := services.NewEmailService()
	realtime := services.NewRealtimeService(realtimeClient)
	notifier := services.NewMerchantNotifier()
	reconciler := services.NewReconcileService(db, email, realtime, notifier)

	// Create Echo instance
	e := echo.New()

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	// Initialize handlers
	webhookHandler := handlers.NewWebhookHandler(db, reconciler)
	paymentHandler := handlers.NewPaymentHandler(payments, gateway)
	linkHandler := handlers.NewPaymentLinkHandler(db)
	subscriptionHandler := handlers.NewSubscriptionHandler(db)

	// Gateway callback, rate limited per source IP
	webhookLimiter := appMiddleware.NewRateLimiter(100, time.Minute)
	e.POST("/webhooks/nowpayments", webhookHandler.HandleNowPayments, webhookLimiter.Middleware())

	// Payment routes
	api := e.Group("/api/v1")
	api.POST("/payments", paymentHandler.CreatePayment)
	api.GET("/payments/:id", paymentHandler.GetPayment)
	api.GET("/payments/:id/live", paymentHandler.GetLiveStatus)
	api.GET("/currencies", paymentHandler.ListCurrencies)
	api.GET("/estimate", paymentHandler.GetEstimate)

	// Payment link routes
	api.POST("/payment-links", linkHandler.CreatePaymentLink)
	api.GET("/payment-links", linkHandler.ListPaymentLinks)
	api.GET("/payment-links/:slug", linkHandler.GetPaymentLink)
	api.DELETE("/payment-links/:slug", linkHandler.DeactivatePaymentLink)

	// Subscription routes
	api.POST("/subscriptions", subscriptionHandler.CreateSubscription)
	api.GET("/subscriptions/:id", subscriptionHandler.GetSubscription)
	api.POST("/subscriptions/:id/pause", subscriptionHandler.PauseSubscription)
	api.POST("/subscriptions/:id/resume", subscriptionHandler.ResumeSubscription)
	api.POST("/subscriptions/:id/cancel", subscriptionHandler.CancelSubscription)

	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]interface{}{"status": "ok"})
	})

	// Start server
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	log.Printf("Server starting on port %s", port)
	e.Logger.Fatal(e.Start(":" + port))
}
