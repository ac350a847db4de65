package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rl1809/canteen/internal/core/domain"
	"github.com/rl1809/canteen/internal/port"
)

// CatalogService serves the menu and lets administrators change it. Stock and
// availability changes are pushed to the ledger, which is the only place
// reservations are checked against.
type CatalogService struct {
	meals  port.CatalogRepository
	ledger port.InventoryLedger
	logger *zap.Logger
	now    func() time.Time
}

func NewCatalogService(meals port.CatalogRepository, ledger port.InventoryLedger, logger *zap.Logger) *CatalogService {
	return &CatalogService{
		meals:  meals,
		ledger: ledger,
		logger: logger,
		now:    time.Now,
	}
}

// MealPatch carries the fields an administrator wants to change. Nil fields are kept.
type MealPatch struct {
	Name         *string
	Description  *string
	Category     *string
	Price        *decimal.Decimal
	MaxPerPerson *int
	Units        *int
	Unlimited    bool // drop the stock cap; takes precedence over Units
	IsAvailable  *bool
	Requires     *[]string
}

// List returns meals with live stock from the ledger.
func (s *CatalogService) List(ctx context.Context, filter domain.MealFilter) ([]domain.MenuItem, error) {
	meals, err := s.meals.ListMeals(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list meals: %w", err)
	}
	for i := range meals {
		if err := s.overlay(ctx, &meals[i]); err != nil {
			return nil, err
		}
	}
	return meals, nil
}

func (s *CatalogService) Get(ctx context.Context, mealID string) (domain.MenuItem, error) {
	meal, err := s.meals.GetMeal(ctx, mealID)
	if err != nil {
		return domain.MenuItem{}, fmt.Errorf("get meal: %w", err)
	}
	if meal == nil {
		return domain.MenuItem{}, fmt.Errorf("%w: %s", domain.ErrMealNotFound, mealID)
	}
	if err := s.overlay(ctx, meal); err != nil {
		return domain.MenuItem{}, err
	}
	return *meal, nil
}

// overlay replaces stored stock with the ledger's view.
func (s *CatalogService) overlay(ctx context.Context, meal *domain.MenuItem) error {
	level, err := s.ledger.Level(ctx, meal.ID)
	if errors.Is(err, domain.ErrMealNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("stock of %s: %w", meal.ID, err)
	}
	meal.UnitsAvailable = level.Units
	meal.IsAvailable = level.Available
	if level.Units != nil {
		meal.UnitsLeft = domain.Units(level.Free())
	}
	return nil
}

// Categories lists the distinct categories of the menu.
func (s *CatalogService) Categories(ctx context.Context) ([]string, error) {
	meals, err := s.meals.ListMeals(ctx, domain.MealFilter{})
	if err != nil {
		return nil, fmt.Errorf("list meals: %w", err)
	}
	seen := make(map[string]struct{})
	categories := []string{}
	for _, m := range meals {
		if _, ok := seen[m.Category]; ok || m.Category == "" {
			continue
		}
		seen[m.Category] = struct{}{}
		categories = append(categories, m.Category)
	}
	sort.Strings(categories)
	return categories, nil
}

func (s *CatalogService) Create(ctx context.Context, caller domain.Caller, meal domain.MenuItem) (domain.MenuItem, error) {
	if !caller.Admin {
		return domain.MenuItem{}, domain.ErrForbidden
	}
	if meal.ID == "" {
		meal.ID = uuid.New().String()
	}
	if err := s.checkMeal(ctx, meal); err != nil {
		return domain.MenuItem{}, err
	}

	now := s.now()
	meal.CreatedAt = now
	meal.UpdatedAt = now
	meal.UnitsLeft = nil

	if err := s.meals.CreateMeal(ctx, meal); err != nil {
		return domain.MenuItem{}, err
	}
	if err := s.ledger.Track(ctx, meal.ID, meal.UnitsAvailable, meal.IsAvailable); err != nil {
		return domain.MenuItem{}, fmt.Errorf("track stock of %s: %w", meal.ID, err)
	}

	s.logger.Info("meal created", zap.String("meal_id", meal.ID), zap.String("admin_id", caller.UserID))
	return s.Get(ctx, meal.ID)
}

func (s *CatalogService) Update(ctx context.Context, caller domain.Caller, mealID string, patch MealPatch) (domain.MenuItem, error) {
	if !caller.Admin {
		return domain.MenuItem{}, domain.ErrForbidden
	}

	stored, err := s.meals.GetMeal(ctx, mealID)
	if err != nil {
		return domain.MenuItem{}, fmt.Errorf("get meal: %w", err)
	}
	if stored == nil {
		return domain.MenuItem{}, fmt.Errorf("%w: %s", domain.ErrMealNotFound, mealID)
	}

	// Stored units are only replaced when the patch sets stock. The ledger's
	// live counters are never read back and rewritten here.
	meal := *stored
	meal.UnitsLeft = nil

	if patch.Name != nil {
		meal.Name = *patch.Name
	}
	if patch.Description != nil {
		meal.Description = *patch.Description
	}
	if patch.Category != nil {
		meal.Category = *patch.Category
	}
	if patch.Price != nil {
		meal.Price = *patch.Price
	}
	if patch.MaxPerPerson != nil {
		meal.MaxPerPerson = *patch.MaxPerPerson
	}
	stockChanged := patch.Unlimited || patch.Units != nil
	switch {
	case patch.Unlimited:
		meal.UnitsAvailable = nil
	case patch.Units != nil:
		meal.UnitsAvailable = domain.Units(*patch.Units)
	}
	if patch.IsAvailable != nil {
		meal.IsAvailable = *patch.IsAvailable
	}
	if patch.Requires != nil {
		meal.Requires = *patch.Requires
	}

	if err := s.checkMeal(ctx, meal); err != nil {
		return domain.MenuItem{}, err
	}

	// The ledger refuses stock below what is already reserved, so it goes first.
	switch {
	case stockChanged:
		if err := s.ledger.Track(ctx, meal.ID, meal.UnitsAvailable, meal.IsAvailable); err != nil {
			return domain.MenuItem{}, fmt.Errorf("track stock of %s: %w", meal.ID, err)
		}
	case patch.IsAvailable != nil:
		if err := s.ledger.SetAvailable(ctx, meal.ID, meal.IsAvailable); err != nil {
			return domain.MenuItem{}, fmt.Errorf("set availability of %s: %w", meal.ID, err)
		}
	}
	meal.UpdatedAt = s.now()
	if err := s.meals.UpdateMeal(ctx, meal); err != nil {
		return domain.MenuItem{}, err
	}

	s.logger.Info("meal updated", zap.String("meal_id", meal.ID), zap.String("admin_id", caller.UserID))
	return s.Get(ctx, meal.ID)
}

func (s *CatalogService) Delete(ctx context.Context, caller domain.Caller, mealID string) error {
	if !caller.Admin {
		return domain.ErrForbidden
	}
	if err := s.meals.DeleteMeal(ctx, mealID); err != nil {
		return err
	}
	if err := s.ledger.Forget(ctx, mealID); err != nil {
		return fmt.Errorf("forget stock of %s: %w", mealID, err)
	}
	s.logger.Info("meal deleted", zap.String("meal_id", mealID), zap.String("admin_id", caller.UserID))
	return nil
}

// checkMeal validates fields and that every required co-item exists.
func (s *CatalogService) checkMeal(ctx context.Context, meal domain.MenuItem) error {
	if err := meal.Validate(); err != nil {
		return err
	}
	for _, id := range meal.Requires {
		other, err := s.meals.GetMeal(ctx, id)
		if err != nil {
			return fmt.Errorf("get meal: %w", err)
		}
		if other == nil {
			return fmt.Errorf("%w: required meal %s does not exist", domain.ErrInvalidMeal, id)
		}
	}
	return nil
}

// Sync makes sure every stored meal is known to the ledger. Meals the ledger
// already tracks keep their counters, since stored units may lag behind commits.
func (s *CatalogService) Sync(ctx context.Context) (int, error) {
	meals, err := s.meals.ListMeals(ctx, domain.MealFilter{})
	if err != nil {
		return 0, fmt.Errorf("list meals: %w", err)
	}

	tracked := 0
	for _, meal := range meals {
		_, err := s.ledger.Level(ctx, meal.ID)
		if err == nil {
			continue
		}
		if !errors.Is(err, domain.ErrMealNotFound) {
			return tracked, fmt.Errorf("stock of %s: %w", meal.ID, err)
		}
		if err := s.ledger.Track(ctx, meal.ID, meal.UnitsAvailable, meal.IsAvailable); err != nil {
			return tracked, fmt.Errorf("track stock of %s: %w", meal.ID, err)
		}
		tracked++
	}
	return tracked, nil
}

// Seed creates meals that do not exist yet.
func (s *CatalogService) Seed(ctx context.Context, meals []domain.MenuItem) error {
	for _, meal := range meals {
		existing, err := s.meals.GetMeal(ctx, meal.ID)
		if err != nil {
			return fmt.Errorf("get meal: %w", err)
		}
		if existing != nil {
			continue
		}
		if _, err := s.Create(ctx, domain.SystemCaller, meal); err != nil {
			return fmt.Errorf("seed %s: %w", meal.ID, err)
		}
	}
	return nil
}
