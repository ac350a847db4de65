package service

import (
	"fmt"

	"github.com/rl1809/canteen/internal/core/domain"
)

// OrderBuilder turns a cart into a priced order. It never touches inventory:
// stock is only checked when the order is placed.
type OrderBuilder struct{}

func NewOrderBuilder() *OrderBuilder {
	return &OrderBuilder{}
}

// Validate checks every line against catalog and snapshots the current prices.
// Lines for the same meal are merged before the per-person cap is applied.
// Each merged line runs through every per-line rule before the next line is
// looked at, so the first offending line decides the error. Co-item
// requirements span the whole cart and are checked last.
func (b *OrderBuilder) Validate(cart []domain.OrderLine, catalog map[string]domain.MenuItem) (domain.ValidatedOrder, error) {
	if len(cart) == 0 {
		return domain.ValidatedOrder{}, domain.ErrEmptyCart
	}

	merged := make([]domain.OrderLine, 0, len(cart))
	index := make(map[string]int, len(cart))
	invalid := make(map[string]int)
	for _, line := range cart {
		if _, seen := invalid[line.MealID]; !seen && line.Quantity <= 0 {
			invalid[line.MealID] = line.Quantity
		}
		if i, ok := index[line.MealID]; ok {
			merged[i].Quantity += line.Quantity
			continue
		}
		index[line.MealID] = len(merged)
		merged = append(merged, line)
	}

	lines := make([]domain.PricedLine, 0, len(merged))
	for _, line := range merged {
		if quantity, ok := invalid[line.MealID]; ok {
			return domain.ValidatedOrder{}, fmt.Errorf("%w: meal %s quantity %d",
				domain.ErrInvalidQuantity, line.MealID, quantity)
		}
		meal, ok := catalog[line.MealID]
		if !ok {
			return domain.ValidatedOrder{}, fmt.Errorf("%w: %s", domain.ErrMealNotFound, line.MealID)
		}
		if line.Quantity > meal.MaxPerPerson {
			return domain.ValidatedOrder{}, fmt.Errorf("%w: %s allows %d, requested %d",
				domain.ErrExceedsMaxPerPerson, meal.Name, meal.MaxPerPerson, line.Quantity)
		}
		if !meal.IsAvailable {
			return domain.ValidatedOrder{}, fmt.Errorf("%w: %s", domain.ErrMealUnavailable, meal.Name)
		}
		lines = append(lines, domain.PricedLine{
			MealID:    meal.ID,
			Name:      meal.Name,
			Quantity:  line.Quantity,
			UnitPrice: meal.Price,
		})
	}

	for _, line := range lines {
		for _, required := range catalog[line.MealID].Requires {
			if _, ok := index[required]; !ok {
				return domain.ValidatedOrder{}, fmt.Errorf("%w: %s requires %s",
					domain.ErrRequiresCoItem, line.Name, required)
			}
		}
	}

	return domain.ValidatedOrder{
		Lines: lines,
		Total: domain.SumLines(lines),
	}, nil
}
