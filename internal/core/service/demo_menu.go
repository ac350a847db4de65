package service

import (
	"github.com/shopspring/decimal"

	"github.com/rl1809/canteen/internal/core/domain"
)

// DemoMenu is the sample menu loaded when demo seeding is enabled.
func DemoMenu() []domain.MenuItem {
	return []domain.MenuItem{
		{
			ID:             "3",
			Name:           "Chapati",
			Description:    "Soft layered flatbread",
			Category:       "Sides",
			Price:          decimal.NewFromInt(50),
			MaxPerPerson:   2,
			UnitsAvailable: nil,
			IsAvailable:    true,
		},
		{
			ID:             "1",
			Name:           "Beef Stew with Rice",
			Description:    "Slow-cooked beef stew served with steamed rice",
			Category:       "Main Course",
			Price:          decimal.NewFromInt(350),
			MaxPerPerson:   1,
			UnitsAvailable: domain.Units(20),
			IsAvailable:    true,
			Requires:       []string{"3"},
		},
		{
			ID:             "2",
			Name:           "Vegetable Curry",
			Description:    "Mixed vegetables in coconut curry",
			Category:       "Main Course",
			Price:          decimal.NewFromInt(200),
			MaxPerPerson:   1,
			UnitsAvailable: domain.Units(15),
			IsAvailable:    true,
		},
		{
			ID:             "4",
			Name:           "Fruit Salad",
			Description:    "Seasonal fruit, freshly cut",
			Category:       "Dessert",
			Price:          decimal.NewFromInt(150),
			MaxPerPerson:   1,
			UnitsAvailable: domain.Units(10),
			IsAvailable:    false,
		},
		{
			ID:             "5",
			Name:           "Ugali",
			Description:    "Maize flour staple",
			Category:       "Sides",
			Price:          decimal.NewFromInt(80),
			MaxPerPerson:   2,
			UnitsAvailable: nil,
			IsAvailable:    true,
		},
	}
}
