package main

import (
	"context"
	"log"
	"time"

	"edu-billing/internal/config"
	"edu-billing/internal/domain/model"
	"edu-billing/internal/infra/db/postgres"
	"edu-billing/internal/infra/redis"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/oklog/ulid/v2"
)

// This script is for setting up a clean, predictable database state
// for manual end-to-end testing of the payment flow.
func main() {
	ctx := context.Background()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("config load: %v", err)
	}

	// --- Connect to Postgres ---
	pool, err := postgres.NewPgxPool(ctx, cfg.Database.URL, 5)
	if err != nil {
		log.Fatalf("postgres connection failed: %v", err)
	}
	defer pool.Close()

	// --- Connect to Redis ---
	redisClient, err := redis.NewClient(ctx, &cfg.Redis)
	if err != nil {
		log.Fatalf("redis connection failed: %v", err)
	}
	defer redisClient.Close()

	log.Println("--- Starting E2E Environment Setup ---")

	// 1. Clean the Redis cache: rate-limit counters and binding sessions.
	log.Println("[1/3] Wiping Redis cache...")
	if err := redisClient.FlushDB(ctx); err != nil {
		log.Fatalf("failed to flush redis: %v", err)
	}

	// 2. Clean the database completely.
	log.Println("[2/3] Wiping all existing database data...")
	_, err = pool.Exec(ctx, `
		TRUNCATE users, transactions, saved_cards
		RESTART IDENTITY CASCADE;
	`)
	if err != nil {
		log.Fatalf("failed to truncate tables: %v", err)
	}

	// 3. Seed the accounts and transactions the e2e scripts expect.
	log.Println("[3/3] Seeding test users and transactions...")
	seedBillingState(ctx, pool)

	log.Println("--- ✅ E2E Environment Setup Complete ---")
}

// seedBillingState creates one subscribed user, one free user and a stale
// pending invoice for the reconciler to chase.
func seedBillingState(ctx context.Context, pool *pgxpool.Pool) {
	userRepo := postgres.NewPostgresUserRepo(pool)
	txRepo := postgres.NewTransactionRepo(pool)
	now := time.Now()

	// A user mid-subscription, for renewal and refund scenarios.
	subscriber, _ := model.NewUser("e2e-subscriber", "+998901112233", "")
	subscriber.Subscription = model.FreeSubscription().ExtendedBy(
		model.PlanPro, 30, 1, model.SubscriptionSourcePayment, now.Add(-10*24*time.Hour))
	if err := userRepo.Save(ctx, nil, subscriber); err != nil {
		log.Printf("failed to save subscriber: %v", err)
	}

	// A fresh user for first-purchase scenarios.
	newcomer, _ := model.NewUser("e2e-newcomer", "", "newcomer@example.test")
	if err := userRepo.Save(ctx, nil, newcomer); err != nil {
		log.Printf("failed to save newcomer: %v", err)
	}

	// A pending invoice old enough for the reconciler to pick up.
	stale, err := model.NewTransaction(ulid.Make().String(), subscriber.ID, model.GatewayCheckout, model.PlanPro, 1, 45_500_000)
	if err != nil {
		log.Printf("failed to build stale transaction: %v", err)
		return
	}
	stale.CreatedAt = now.Add(-1 * time.Hour)
	stale.UpdatedAt = stale.CreatedAt
	if err := txRepo.Save(ctx, nil, stale); err != nil {
		log.Printf("failed to save stale transaction: %v", err)
	}
	log.Printf("stale pending invoice: %s", stale.InvoiceID)
}
