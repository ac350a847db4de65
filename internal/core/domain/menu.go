package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// LowStockThreshold marks finite meals whose free units drop below it.
const LowStockThreshold = 5

type MenuItem struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Description    string          `json:"description,omitempty"`
	Category       string          `json:"category"`
	Price          decimal.Decimal `json:"price"`
	MaxPerPerson   int             `json:"max_per_person"`
	UnitsAvailable *int            `json:"units_available"`      // nil means unlimited
	UnitsLeft      *int            `json:"units_left,omitempty"` // free units at read time, not persisted
	IsAvailable    bool            `json:"is_available"`
	Requires       []string        `json:"requires,omitempty"` // meals that must be in the same order
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Validate checks the administrator-supplied fields of a meal.
func (m MenuItem) Validate() error {
	switch {
	case m.Name == "":
		return fmt.Errorf("%w: name is required", ErrInvalidMeal)
	case m.Price.IsNegative():
		return fmt.Errorf("%w: price cannot be negative", ErrInvalidMeal)
	case m.MaxPerPerson < 1:
		return fmt.Errorf("%w: max per person must be at least 1", ErrInvalidMeal)
	case m.UnitsAvailable != nil && *m.UnitsAvailable < 0:
		return fmt.Errorf("%w: units available cannot be negative", ErrInvalidMeal)
	}
	for _, id := range m.Requires {
		if id == m.ID {
			return fmt.Errorf("%w: a meal cannot require itself", ErrInvalidMeal)
		}
	}
	return nil
}

// MealFilter narrows catalog listings.
type MealFilter struct {
	OnlyAvailable bool
	Category      string
}
