/*
Package factory provides JSON to Go catalog conversion.

PURPOSE:
  Converts a JSON product catalog into an investment.Catalog. Products can
  be added or repriced without code changes: existing investments keep the
  terms they were bought with, new purchases see the new terms.

JSON SCHEMA:
  {
    "products": [
      {
        "id": "mrna-1",
        "name": "mRNA-1",
        "category": "Vaccine 1",
        "price": 27000,
        "daily_income": 1134,
        "income_period": 45,
        "weekend_only": false
      }
    ],
    "weekend_categories": ["Super Weekend"]
  }

  A product is weekend-only if it sets weekend_only or its category is
  listed in weekend_categories.

USAGE:
  catalog, err := factory.LoadCatalogFile(cfg.CatalogPath) // "" -> built-in
  controller := investment.NewController(store, catalog, calendar, log)

SEE ALSO:
  - investment/types.go: Catalog interface and Product
  - default_catalog.json: Built-in products
*/
package factory

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"

	"github.com/shopspring/decimal"

	"github.com/warp/referral-ledger/investment"
)

//go:embed default_catalog.json
var defaultCatalogJSON []byte

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// CatalogJSON is the JSON representation of a catalog.
type CatalogJSON struct {
	Products          []ProductJSON `json:"products"`
	WeekendCategories []string      `json:"weekend_categories,omitempty"`
}

// ProductJSON represents one product.
type ProductJSON struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Category     string          `json:"category"`
	Price        decimal.Decimal `json:"price"`
	DailyIncome  decimal.Decimal `json:"daily_income"`
	IncomePeriod int             `json:"income_period"`
	WeekendOnly  bool            `json:"weekend_only,omitempty"`
}

// =============================================================================
// PARSING
// =============================================================================

// ParseCatalog parses and validates a catalog document.
func ParseCatalog(data []byte) (*investment.StaticCatalog, error) {
	var doc CatalogJSON
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("invalid catalog JSON: %w", err)
	}
	if len(doc.Products) == 0 {
		return nil, fmt.Errorf("catalog has no products")
	}

	weekend := make(map[string]bool, len(doc.WeekendCategories))
	for _, c := range doc.WeekendCategories {
		weekend[c] = true
	}

	seen := make(map[string]bool, len(doc.Products))
	products := make([]investment.Product, 0, len(doc.Products))
	for i, pj := range doc.Products {
		if err := validateProduct(pj); err != nil {
			return nil, fmt.Errorf("product %d: %w", i, err)
		}
		if seen[pj.ID] {
			return nil, fmt.Errorf("product %d: duplicate id %q", i, pj.ID)
		}
		seen[pj.ID] = true

		name := pj.Name
		if name == "" {
			name = pj.ID
		}
		products = append(products, investment.Product{
			ID:           pj.ID,
			Name:         name,
			Category:     pj.Category,
			Price:        pj.Price,
			DailyIncome:  pj.DailyIncome,
			IncomePeriod: pj.IncomePeriod,
			WeekendOnly:  pj.WeekendOnly || weekend[pj.Category],
		})
	}

	return investment.NewStaticCatalog(products...), nil
}

func validateProduct(pj ProductJSON) error {
	switch {
	case pj.ID == "":
		return fmt.Errorf("id is required")
	case !pj.Price.IsPositive():
		return fmt.Errorf("%s: price must be positive", pj.ID)
	case !pj.DailyIncome.IsPositive():
		return fmt.Errorf("%s: daily_income must be positive", pj.ID)
	case pj.IncomePeriod < 1:
		return fmt.Errorf("%s: income_period must be at least 1", pj.ID)
	}
	return nil
}

// DefaultCatalog returns the built-in catalog.
func DefaultCatalog() *investment.StaticCatalog {
	c, err := ParseCatalog(defaultCatalogJSON)
	if err != nil {
		panic(fmt.Sprintf("built-in catalog is invalid: %v", err))
	}
	return c
}

// LoadCatalogFile reads a catalog from disk. An empty path returns the
// built-in catalog.
func LoadCatalogFile(path string) (*investment.StaticCatalog, error) {
	if path == "" {
		return DefaultCatalog(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	return ParseCatalog(data)
}
