// Package seed loads a storefront catalog from YAML into a store.
package seed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/BTreeMap/CartPipe/internal/models"
	"github.com/BTreeMap/CartPipe/internal/store"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
)

var (
	// ErrInvalidCatalog wraps every validation failure of a catalog file.
	ErrInvalidCatalog = errors.New("invalid catalog")
)

// OrderSeed is an order whose product is referenced by SKU.
type OrderSeed struct {
	models.Order `yaml:",inline"`
	ProductSKU   string `yaml:"product_sku"`
}

// Catalog is the YAML document layout.
type Catalog struct {
	Products   []models.Product   `yaml:"products"`
	Orders     []OrderSeed        `yaml:"orders"`
	Promotions []models.Promotion `yaml:"promotions"`
	FAQs       []models.FAQEntry  `yaml:"faqs"`
}

// Stats counts the rows written by Load.
type Stats struct {
	Products   int
	Orders     int
	Promotions int
	FAQs       int
}

// Parse decodes and validates a catalog document.
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// LoadFile reads and parses a catalog file.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}
	return Parse(data)
}

// Validate checks required fields and that every order names a known SKU.
func (c *Catalog) Validate() error {
	skus := make(map[string]bool, len(c.Products))
	for i, p := range c.Products {
		if strings.TrimSpace(p.SKU) == "" || strings.TrimSpace(p.Name) == "" {
			return fmt.Errorf("%w: product %d needs sku and name", ErrInvalidCatalog, i)
		}
		if p.Price < 0 {
			return fmt.Errorf("%w: product %s has a negative price", ErrInvalidCatalog, p.SKU)
		}
		key := strings.ToUpper(p.SKU)
		if skus[key] {
			return fmt.Errorf("%w: duplicate sku %s", ErrInvalidCatalog, p.SKU)
		}
		skus[key] = true
	}
	for i, o := range c.Orders {
		if o.ID <= 0 {
			return fmt.Errorf("%w: order %d needs a positive id", ErrInvalidCatalog, i)
		}
		if o.ProductSKU != "" && !skus[strings.ToUpper(o.ProductSKU)] {
			return fmt.Errorf("%w: order %d references unknown sku %s", ErrInvalidCatalog, o.ID, o.ProductSKU)
		}
	}
	for i, p := range c.Promotions {
		if strings.TrimSpace(p.Title) == "" {
			return fmt.Errorf("%w: promotion %d needs a title", ErrInvalidCatalog, i)
		}
	}
	for i, f := range c.FAQs {
		if strings.TrimSpace(f.Question) == "" || strings.TrimSpace(f.Answer) == "" {
			return fmt.Errorf("%w: faq %d needs question and answer", ErrInvalidCatalog, i)
		}
	}
	return nil
}

// Load upserts the catalog. Products go first so orders can resolve their
// SKU; orders, promotions and FAQs are then written concurrently.
func Load(ctx context.Context, seeder store.CatalogSeeder, c *Catalog) (Stats, error) {
	var stats Stats
	productIDs := make(map[string]int64, len(c.Products))
	for _, p := range c.Products {
		saved, err := seeder.UpsertProduct(ctx, p)
		if err != nil {
			return stats, fmt.Errorf("failed to upsert product %s: %w", p.SKU, err)
		}
		productIDs[strings.ToUpper(saved.SKU)] = saved.ID
		stats.Products++
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for _, o := range c.Orders {
			order := o.Order
			if o.ProductSKU != "" {
				order.ProductID = productIDs[strings.ToUpper(o.ProductSKU)]
			}
			if err := seeder.UpsertOrder(gctx, order); err != nil {
				return fmt.Errorf("failed to upsert order %d: %w", order.ID, err)
			}
			stats.Orders++
		}
		return nil
	})
	g.Go(func() error {
		for _, p := range c.Promotions {
			if err := seeder.UpsertPromotion(gctx, p); err != nil {
				return fmt.Errorf("failed to upsert promotion %q: %w", p.Title, err)
			}
			stats.Promotions++
		}
		return nil
	})
	g.Go(func() error {
		for _, f := range c.FAQs {
			if err := seeder.UpsertFAQ(gctx, f); err != nil {
				return fmt.Errorf("failed to upsert faq %q: %w", f.Question, err)
			}
			stats.FAQs++
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		slog.Error("seed.Load failed", "error", err)
		return stats, err
	}
	slog.Info("Catalog seeded", "products", stats.Products, "orders", stats.Orders, "promotions", stats.Promotions, "faqs", stats.FAQs)
	return stats, nil
}

// LoadPath parses the file at path and loads it into seeder.
func LoadPath(ctx context.Context, seeder store.CatalogSeeder, path string) (Stats, error) {
	c, err := LoadFile(path)
	if err != nil {
		return Stats{}, err
	}
	return Load(ctx, seeder, c)
}
