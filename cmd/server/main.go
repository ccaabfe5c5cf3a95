/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the loyalty engine server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags
  2. Initialize SQLite store
  3. Seed default ranks when none are configured
  4. Assemble the engine (ledger, ranks, rules, vouchers)
  5. Start the expiry sweeper
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port           HTTP server port (default: 8080)
  -db             SQLite database path (default: loyalty.db)
                  Use ":memory:" for in-memory database
  -sweep-interval How often the expiry sweeper runs (default: 1h)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the sweeper
  4. Close database connection
  5. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/loyalty.db"

  # Run with in-memory database
  ./server -db=":memory:"

  # Sweep every ten minutes
  ./server -sweep-interval=10m

SEE ALSO:
  - api/server.go: Router configuration
  - api/sweeper.go: Background expiry sweeps
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/loyalty-engine/api"
	"github.com/warp/loyalty-engine/loyalty"
	"github.com/warp/loyalty-engine/store/sqlite"
)

func main() {
	// Flags
	port := flag.Int("port", 8080, "HTTP server port")
	dbPath := flag.String("db", "loyalty.db", "SQLite database path")
	sweepInterval := flag.Duration("sweep-interval", time.Hour, "expiry sweep interval")
	flag.Parse()

	// Initialize store
	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	ctx := context.Background()

	// A fresh database has no ranks; the engine refuses to start
	// without a valid band set.
	if err := seedDefaultRanks(ctx, store); err != nil {
		log.Fatalf("Failed to seed ranks: %v", err)
	}

	// Assemble the engine
	engine, err := loyalty.NewEngine(ctx, store)
	if err != nil {
		log.Fatalf("Failed to initialize engine: %v", err)
	}

	// Background expiry sweeps
	sweeper := api.NewSweeper(engine)
	sweeper.CheckInterval = *sweepInterval
	sweeper.Start()
	defer sweeper.Stop()

	// Create router
	handler := api.NewHandler(engine)
	router := api.NewRouter(handler)

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("🚀 Server starting on http://localhost:%d", *port)
		log.Printf("📊 API available at http://localhost:%d/api", *port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}

// seedDefaultRanks installs a standard four-tier ladder when the store
// has no ranks configured. Existing configurations are left alone.
func seedDefaultRanks(ctx context.Context, store loyalty.Store) error {
	existing, err := store.ListRanks(ctx)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}

	max := func(v int64) *loyalty.Points {
		p := loyalty.NewPoints(v)
		return &p
	}

	defaults := []loyalty.Rank{
		{ID: "bronze", Name: "Bronze", Level: 1, MinPoints: loyalty.NewPoints(0), MaxPoints: max(1000),
			Multiplier: decimal.NewFromInt(1), DiscountPercent: decimal.Zero, Active: true},
		{ID: "silver", Name: "Silver", Level: 2, MinPoints: loyalty.NewPoints(1000), MaxPoints: max(5000),
			Multiplier: decimal.NewFromFloat(1.25), DiscountPercent: decimal.NewFromInt(3), Active: true},
		{ID: "gold", Name: "Gold", Level: 3, MinPoints: loyalty.NewPoints(5000), MaxPoints: max(20000),
			Multiplier: decimal.NewFromFloat(1.5), DiscountPercent: decimal.NewFromInt(5), Active: true},
		{ID: "platinum", Name: "Platinum", Level: 4, MinPoints: loyalty.NewPoints(20000),
			Multiplier: decimal.NewFromInt(2), DiscountPercent: decimal.NewFromInt(10), Active: true},
	}

	for _, r := range defaults {
		if err := store.SaveRank(ctx, r); err != nil {
			return err
		}
	}
	log.Printf("Seeded %d default ranks", len(defaults))
	return nil
}
