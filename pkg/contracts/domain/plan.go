package domain

import (
	"github.com/shopspring/decimal"
)

// Product codes carried in the third segment of a license key
const (
	ProductBasic        = "BSC"
	ProductProfessional = "PRO"
	ProductEnterprise   = "ENT"
	ProductPremium      = "PRP"
)

// ProductCodes lists every product code a key may carry
var ProductCodes = []string{ProductBasic, ProductProfessional, ProductEnterprise, ProductPremium}

// Plan is a product tier. The engine only reads plans.
type Plan struct {
	ID         string                 `json:"id" db:"id"`
	Name       string                 `json:"name" db:"name"`
	Identifier string                 `json:"identifier" db:"identifier"`
	Tokens     int64                  `json:"tokens" db:"tokens"`
	Price      decimal.Decimal        `json:"price" db:"price"`
	IsActive   bool                   `json:"isActive" db:"is_active"`
	Features   map[string]interface{} `json:"features,omitempty" db:"features"`
}

// DefaultPlans returns the product tiers every new deployment is seeded with
func DefaultPlans() []Plan {
	return []Plan{
		{
			Name:       "Basic",
			Identifier: ProductBasic,
			Tokens:     100,
			Price:      decimal.RequireFromString("9.99"),
			IsActive:   true,
			Features:   map[string]interface{}{"maxProjects": float64(1), "support": "email"},
		},
		{
			Name:       "Professional",
			Identifier: ProductProfessional,
			Tokens:     500,
			Price:      decimal.RequireFromString("29.99"),
			IsActive:   true,
			Features:   map[string]interface{}{"maxProjects": float64(10), "support": "priority"},
		},
		{
			Name:       "Enterprise",
			Identifier: ProductEnterprise,
			Tokens:     2000,
			Price:      decimal.RequireFromString("99.99"),
			IsActive:   true,
			Features:   map[string]interface{}{"maxProjects": float64(-1), "support": "dedicated"},
		},
	}
}
