// cmd/api/main.go
// Messaging service entry point

package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/skillsphere/messaging-service/internal/attachment"
	"github.com/skillsphere/messaging-service/internal/chat"
	"github.com/skillsphere/messaging-service/internal/common/database"
	"github.com/skillsphere/messaging-service/internal/common/utils"
	"github.com/skillsphere/messaging-service/internal/config"
	"github.com/skillsphere/messaging-service/internal/identity"
	"github.com/skillsphere/messaging-service/internal/platform"
	"github.com/skillsphere/messaging-service/internal/presence"
	"github.com/skillsphere/messaging-service/internal/realtime"
)

const deletedMessageRetention = 30 * 24 * time.Hour

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Storage
	db, err := database.NewPostgresDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := database.RunMigrations(db); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	redisClient, err := database.NewRedisClient(cfg.RedisURL)
	if err != nil {
		log.Printf("Redis unavailable, identity caching disabled: %v", err)
		redisClient = nil
	} else {
		defer redisClient.Close()
	}

	// External services
	userClient := platform.NewUserClient(cfg.UserServiceURL, cfg.ClientTimeout)
	skillClient := platform.NewSkillClient(cfg.SkillServiceURL, cfg.ClientTimeout)
	notifier := platform.NewKafkaNotifier(cfg.KafkaBrokers, cfg.NotificationTopic)
	defer notifier.Close()

	awsSession, err := session.NewSession(&aws.Config{
		Region:      aws.String(cfg.AWSRegion),
		Credentials: credentials.NewStaticCredentials(cfg.AWSAccessKeyID, cfg.AWSSecretAccessKey, ""),
	})
	if err != nil {
		log.Fatalf("Failed to create AWS session: %v", err)
	}

	// Identity
	resolver := identity.NewResolver(userClient, redisClient)
	verifier := identity.NewVerifier(cfg.JWTSecret, resolver)
	authMiddleware := identity.NewMiddleware(verifier)

	// Core services
	repo := chat.NewPostgresRepository(db)
	chatService := chat.NewService(repo, userClient, skillClient, notifier, cfg.MessageEditWindow)

	tracker := presence.NewTracker(cfg.PresenceIdleTimeout)
	hub := realtime.NewHub()

	chatService.SetBroadcaster(hub)
	chatService.SetPresence(tracker)
	tracker.SetListener(hub)

	go hub.Run()
	go tracker.Run(ctx, cfg.PresenceSweepInterval)
	go purgeDeletedMessages(ctx, chatService)

	blobStore := attachment.NewS3Store(awsSession, cfg.S3BucketName)
	attachmentService := attachment.NewService(blobStore, cfg.CDNBaseURL, cfg.MaxUploadSize)

	// HTTP surface
	router := mux.NewRouter()
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		utils.SuccessResponse(w, map[string]string{"status": "healthy"}, http.StatusOK)
	}).Methods("GET")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	api := router.PathPrefix("/api/v1/chat").Subrouter()
	api.Use(authMiddleware.Authenticate)

	chatHandler := chat.NewHandler(chatService, tracker)
	chatHandler.RegisterRoutes(api)

	attachmentHandler := attachment.NewHandler(attachmentService, cfg.MaxUploadSize)
	attachmentHandler.RegisterRoutes(api)

	wsHandler := realtime.NewHandler(hub, chatService, verifier, tracker)
	realtime.RegisterRoutes(router, wsHandler)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Messaging service listening on port %s", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
	hub.Shutdown()

	log.Println("Shutdown complete")
}

// purgeDeletedMessages permanently removes soft-deleted messages past
// the retention window
func purgeDeletedMessages(ctx context.Context, service *chat.Service) {
	ticker := time.NewTicker(6 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			purged, err := service.PurgeDeletedMessages(ctx, deletedMessageRetention)
			if err != nil {
				log.Printf("Deleted message purge failed: %v", err)
				continue
			}
			if purged > 0 {
				log.Printf("Purged %d deleted messages", purged)
			}
		}
	}
}
