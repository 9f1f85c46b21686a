package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"rps-arena/handlers"
	"rps-arena/ledger"
	"rps-arena/middleware"
	"rps-arena/models"
	"rps-arena/services"
	"rps-arena/utils"
	"rps-arena/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, reading environment variables directly")
	}

	app := fiber.New(fiber.Config{
		BodyLimit: 1 * 1024 * 1024, // 1MB — JSON actions only
	})

	// 🔐❗ GLOBAL: Only Gateway requests allowed — no exceptions
	app.Use(middleware.GatewayAuthMiddleware())

	allowedOriginsEnv := os.Getenv("ALLOWED_ORIGINS")
	if allowedOriginsEnv == "" {
		log.Println("⚠️  ALLOWED_ORIGINS environment variable not set, using default: http://localhost:3000")
		allowedOriginsEnv = "http://localhost:3000"
	}
	allowedOriginsList := strings.Split(allowedOriginsEnv, ",")
	for i, origin := range allowedOriginsList {
		allowedOriginsList[i] = strings.TrimSpace(origin)
	}
	allowedOriginsString := strings.Join(allowedOriginsList, ",")

	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOriginsString,
		AllowMethods:     "GET,POST,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID",
		ExposeHeaders:    "Content-Length, Content-Type, X-Request-ID",
		AllowCredentials: true,
		MaxAge:           86400, // 24 hours
	}))

	rpcURL := os.Getenv("RPC_URL")
	if rpcURL == "" {
		log.Fatal("RPC_URL environment variable not set")
	}
	signerAddress := os.Getenv("SIGNER_ADDRESS")
	if signerAddress == "" {
		log.Fatal("SIGNER_ADDRESS environment variable not set")
	}
	publisherAddress := os.Getenv("PUBLISHER_ADDRESS")
	if publisherAddress == "" {
		// The signer publishes its own records unless a dedicated publisher
		// wallet is configured.
		publisherAddress = signerAddress
	}

	client := ledger.NewRPCClient(rpcURL)
	signer := ledger.NewRPCSigner(rpcURL, signerAddress)

	gameService := services.NewGameService(client, signer, publisherAddress)
	payoutService := services.NewPayoutService(gameService)
	listener := services.NewPayoutListener(payoutService, nil)
	listener.WSURL = os.Getenv("WS_RPC_URL")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- OPTIONAL: local read-model mirror (history queries) ---
	var mirror *workers.MirrorWorker
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
		if err != nil {
			log.Fatal("failed to connect to database:", err)
		}
		if err := db.AutoMigrate(&models.ConclusionMirror{}); err != nil {
			log.Fatal("failed to migrate database:", err)
		}
		mirror = workers.NewMirrorWorker(db, payoutService)
		go mirror.Run(ctx)
	} else {
		log.Println("⚠️  DATABASE_URL not set — payout history served from the ledger only")
	}
	// --- END ---

	r2Enabled, err := utils.InitR2()
	if err != nil {
		log.Fatal("failed to initialize R2 client:", err)
	}
	if !r2Enabled {
		log.Println("⚠️  R2 not configured — payout run reports will not be archived")
	}

	if os.Getenv("AUTO_START_LISTENER") == "true" {
		if intervalMs := os.Getenv("LISTENER_INTERVAL_MS"); intervalMs != "" {
			if d, err := time.ParseDuration(intervalMs + "ms"); err == nil {
				listener.SetInterval(d)
			}
		}
		if os.Getenv("LISTENER_MODE") == services.ModeBlocks && listener.WSURL != "" {
			if err := listener.StartBlockDriven(); err != nil {
				log.Fatal("failed to start payout listener:", err)
			}
		} else {
			if err := listener.Start(); err != nil {
				log.Fatal("failed to start payout listener:", err)
			}
		}
	}

	// ✅ Setup routes — enforced Gateway auth, single action endpoint each
	handlers.SetupGameRoutes(app, handlers.NewGameHandler(gameService))
	handlers.SetupPayoutRoutes(app, handlers.NewPayoutHandler(payoutService, listener, mirror))

	port := os.Getenv("PORT")
	if port == "" {
		port = "5300"
	}

	go func() {
		if err := app.Listen(":" + port); err != nil {
			log.Printf("Server error: %v", err)
		}
	}()

	log.Printf("✅ Server running on http://localhost:%s", port)
	log.Printf("✅ Ledger RPC: %s (signer %s, publisher %s)", rpcURL, signerAddress, publisherAddress)
	log.Println("✅ GatewayAuthMiddleware enforced globally — all requests must come from Gateway")
	log.Printf("✅ CORS configured for origins: %s", allowedOriginsString)

	<-ctx.Done()
	log.Println("Shutting down server...")
	listener.Stop()
	if err := app.Shutdown(); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
}
