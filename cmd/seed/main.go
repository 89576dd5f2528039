package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"edu-billing/internal/config"
	"edu-billing/internal/domain"
	"edu-billing/internal/domain/model"
	pg "edu-billing/internal/infra/db/postgres"
	"edu-billing/internal/infra/web"
)

const demoUserID = "demo-user"

// Seeds a demo account and prints a bearer token for it, so the API can be
// exercised with curl before the real account service is in the loop.
func main() {
	// ---- Config ----
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Connect Postgres
	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, 4)
	if err != nil {
		log.Fatalf("postgres: %v", err)
	}
	defer pool.Close()

	userRepo := pg.NewPostgresUserRepo(pool)

	user, err := userRepo.FindByID(ctx, nil, demoUserID)
	switch {
	case err == nil:
		fmt.Printf("demo user already present (plan=%s). No changes.\n", user.Subscription.Plan)
	case errors.Is(err, domain.ErrNotFound):
		user, err = model.NewUser(demoUserID, "+998901234567", "demo@example.test")
		if err != nil {
			log.Fatalf("build demo user: %v", err)
		}
		if err := userRepo.Save(ctx, nil, user); err != nil {
			log.Fatalf("save demo user: %v", err)
		}
		fmt.Printf("seeded: %s (plan=%s)\n", user.ID, user.Subscription.Plan)
	default:
		log.Fatalf("find demo user: %v", err)
	}

	// Print the sellable catalog so there is something to pay for.
	plans := make([]string, 0, len(cfg.Plans))
	for plan := range cfg.Plans {
		plans = append(plans, plan)
	}
	sort.Strings(plans)
	for _, plan := range plans {
		tiers := make([]int, 0, len(cfg.Plans[plan]))
		for months := range cfg.Plans[plan] {
			tiers = append(tiers, months)
		}
		sort.Ints(tiers)
		for _, months := range tiers {
			fmt.Printf("  - %s x%d month(s): %d tiyin\n", plan, months, cfg.Plans[plan][months])
		}
	}

	token, err := web.NewAuthManager(cfg.Auth.JWTSecret, 24*time.Hour).Mint(user.ID)
	if err != nil {
		log.Fatalf("mint token: %v", err)
	}
	fmt.Printf("bearer token (24h):\n%s\n", token)
	fmt.Println("✅ Seeding complete.")
}
