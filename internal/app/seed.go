package app

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/vasiliy-maslov/storefront/internal/catalog"
	"github.com/vasiliy-maslov/storefront/internal/store/memory"
	"github.com/vasiliy-maslov/storefront/internal/user"
	"golang.org/x/crypto/bcrypt"
)

const (
	DemoAdminEmail    = "admin@storefront.local"
	DemoAdminPassword = "admin123"
)

type seedProduct struct {
	name     string
	price    string
	stock    int
	category string
}

var demoProducts = []seedProduct{
	{"Wireless Mouse", "24.99", 50, "Accessories"},
	{"Mechanical Keyboard", "89.90", 20, "Accessories"},
	{"27\" Monitor", "249.00", 8, "Electronics"},
	{"USB-C Hub", "39.50", 35, "Accessories"},
	{"The Go Programming Language", "34.95", 15, "Books"},
}

// SeedDemo fills an empty in-memory store with an admin account and a small
// catalog for local development.
func SeedDemo(ctx context.Context, s *memory.Store) error {
	return s.WithinTx(ctx, func(ctx context.Context) error {
		hash, err := bcrypt.GenerateFromPassword([]byte(DemoAdminPassword), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("failed to hash admin password: %w", err)
		}
		admin := &user.User{
			Email:        DemoAdminEmail,
			PasswordHash: string(hash),
			FirstName:    "Store",
			LastName:     "Admin",
			Role:         user.RoleAdmin,
		}
		if _, err := s.Users().Create(ctx, admin); err != nil {
			return fmt.Errorf("failed to create admin: %w", err)
		}

		electronics := &catalog.Category{Name: "Electronics", Description: "Devices and displays"}
		if err := s.Catalog().CreateCategory(ctx, electronics); err != nil {
			return err
		}
		categories := map[string]*catalog.Category{
			"Electronics": electronics,
			"Accessories": {Name: "Accessories", Description: "Peripherals", ParentID: &electronics.ID},
			"Books":       {Name: "Books", Description: "Printed and digital books"},
		}
		for _, name := range []string{"Accessories", "Books"} {
			if err := s.Catalog().CreateCategory(ctx, categories[name]); err != nil {
				return err
			}
		}

		for _, sp := range demoProducts {
			p := &catalog.Product{
				Name:          sp.name,
				Price:         decimal.RequireFromString(sp.price),
				StockQuantity: sp.stock,
				CategoryID:    &categories[sp.category].ID,
				IsActive:      true,
			}
			if err := s.Catalog().CreateProduct(ctx, p); err != nil {
				return fmt.Errorf("failed to seed product %q: %w", sp.name, err)
			}
		}

		log.Info().Str("admin_email", DemoAdminEmail).Int("products", len(demoProducts)).Msg("Seeded in-memory store")
		return nil
	})
}
