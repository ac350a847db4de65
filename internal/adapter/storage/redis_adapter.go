package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/rl1809/canteen/internal/core/domain"
	"github.com/rl1809/canteen/internal/port"
)

const (
	mealKeyPrefix        = "meal:"
	reservationKeyPrefix = "reservation:"
	idempotencyKeyTTL    = 24 * time.Hour
	settledTokenTTL      = 7 * 24 * time.Hour
	unlimitedUnits       = -1
)

// Meal hash fields: units (-1 for unlimited), reserved, available ("1" or "0"),
// gen (set once when the hash is created).
// Reservation hash fields: meal, gen, quantity, state. A token only settles
// against the meal hash carrying the same gen.

var reserveScript = redis.NewScript(`
local meal = KEYS[1]
local token = KEYS[2]
local quantity = tonumber(ARGV[1])

if redis.call('EXISTS', meal) == 0 then
	return -1
end
if redis.call('HGET', meal, 'available') ~= '1' then
	return -2
end

local units = tonumber(redis.call('HGET', meal, 'units'))
local reserved = tonumber(redis.call('HGET', meal, 'reserved') or '0')
if units >= 0 and units - reserved < quantity then
	return 0
end

redis.call('HINCRBY', meal, 'reserved', quantity)
local gen = redis.call('HGET', meal, 'gen') or ''
redis.call('HSET', token, 'meal', ARGV[2], 'gen', gen, 'quantity', quantity, 'state', 'held')
return 1
`)

var settleScript = redis.NewScript(`
local token = KEYS[1]
local meal = KEYS[2]
local target = ARGV[1]

local state = redis.call('HGET', token, 'state')
if not state then
	return -1
end
if state ~= 'held' then
	return 0
end

local quantity = tonumber(redis.call('HGET', token, 'quantity'))
local gen = redis.call('HGET', token, 'gen') or ''
if redis.call('EXISTS', meal) == 1 and (redis.call('HGET', meal, 'gen') or '') == gen then
	redis.call('HINCRBY', meal, 'reserved', -quantity)
	if target == 'committed' then
		local units = tonumber(redis.call('HGET', meal, 'units'))
		if units >= 0 then
			redis.call('HINCRBY', meal, 'units', -quantity)
		end
	end
end

redis.call('HSET', token, 'state', target)
redis.call('EXPIRE', token, tonumber(ARGV[2]))
return 1
`)

var trackScript = redis.NewScript(`
local meal = KEYS[1]
local units = tonumber(ARGV[1])

if redis.call('EXISTS', meal) == 0 then
	redis.call('HSET', meal, 'gen', ARGV[3])
end

local reserved = tonumber(redis.call('HGET', meal, 'reserved') or '0')
if units >= 0 and units < reserved then
	return 0
end

redis.call('HSET', meal, 'units', units, 'available', ARGV[2], 'reserved', reserved)
return 1
`)

var availabilityScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return -1
end
redis.call('HSET', KEYS[1], 'available', ARGV[1])
return 1
`)

// RedisLedger keeps stock counters in Redis. Every mutation is a Lua script,
// so check-and-increment is atomic across all service instances.
type RedisLedger struct {
	client *redis.Client
}

func NewRedisLedger(client *redis.Client) *RedisLedger {
	return &RedisLedger{client: client}
}

func (r *RedisLedger) Reserve(ctx context.Context, mealID string, quantity int) (domain.ReservationToken, error) {
	if quantity <= 0 {
		return domain.ReservationToken{}, domain.ErrInvalidQuantity
	}

	token := domain.ReservationToken{
		ID:       uuid.New().String(),
		MealID:   mealID,
		Quantity: quantity,
	}
	keys := []string{mealKeyPrefix + mealID, reservationKeyPrefix + token.ID}

	result, err := reserveScript.Run(ctx, r.client, keys, quantity, mealID).Int()
	if err != nil {
		return domain.ReservationToken{}, fmt.Errorf("reserve stock: %w", err)
	}

	switch result {
	case 1:
		return token, nil
	case -1:
		return domain.ReservationToken{}, fmt.Errorf("%w: %s", domain.ErrMealNotFound, mealID)
	case -2:
		return domain.ReservationToken{}, fmt.Errorf("%w: %s", domain.ErrMealUnavailable, mealID)
	default:
		return domain.ReservationToken{}, fmt.Errorf("%w: %s requested %d", domain.ErrOutOfStock, mealID, quantity)
	}
}

func (r *RedisLedger) Commit(ctx context.Context, token domain.ReservationToken) error {
	return r.settle(ctx, token, domain.ReservationCommitted)
}

func (r *RedisLedger) Release(ctx context.Context, token domain.ReservationToken) error {
	return r.settle(ctx, token, domain.ReservationReleased)
}

func (r *RedisLedger) settle(ctx context.Context, token domain.ReservationToken, to domain.ReservationState) error {
	keys := []string{reservationKeyPrefix + token.ID, mealKeyPrefix + token.MealID}

	result, err := settleScript.Run(ctx, r.client, keys, string(to), int(settledTokenTTL.Seconds())).Int()
	if err != nil {
		return fmt.Errorf("%s reservation: %w", to, err)
	}
	if result == -1 {
		return fmt.Errorf("%w: %s", port.ErrUnknownReservation, token.ID)
	}
	return nil
}

func (r *RedisLedger) Track(ctx context.Context, mealID string, units *int, available bool) error {
	u := unlimitedUnits
	if units != nil {
		u = *units
	}
	ok, err := trackScript.Run(ctx, r.client, []string{mealKeyPrefix + mealID}, u, availableFlag(available), uuid.New().String()).Int()
	if err != nil {
		return fmt.Errorf("track stock: %w", err)
	}
	if ok == 0 {
		return fmt.Errorf("%w: %s has more units reserved than %d", domain.ErrInvalidMeal, mealID, u)
	}
	return nil
}

func (r *RedisLedger) SetAvailable(ctx context.Context, mealID string, available bool) error {
	result, err := availabilityScript.Run(ctx, r.client, []string{mealKeyPrefix + mealID}, availableFlag(available)).Int()
	if err != nil {
		return fmt.Errorf("set availability: %w", err)
	}
	if result == -1 {
		return fmt.Errorf("%w: %s", domain.ErrMealNotFound, mealID)
	}
	return nil
}

func availableFlag(available bool) string {
	if available {
		return "1"
	}
	return "0"
}

func (r *RedisLedger) Forget(ctx context.Context, mealID string) error {
	return r.client.Del(ctx, mealKeyPrefix+mealID).Err()
}

func (r *RedisLedger) Level(ctx context.Context, mealID string) (domain.StockLevel, error) {
	fields, err := r.client.HGetAll(ctx, mealKeyPrefix+mealID).Result()
	if err != nil {
		return domain.StockLevel{}, fmt.Errorf("read stock: %w", err)
	}
	if len(fields) == 0 {
		return domain.StockLevel{}, fmt.Errorf("%w: %s", domain.ErrMealNotFound, mealID)
	}

	units, err := strconv.Atoi(fields["units"])
	if err != nil {
		return domain.StockLevel{}, fmt.Errorf("parse units of %s: %w", mealID, err)
	}
	reserved, err := strconv.Atoi(fields["reserved"])
	if err != nil {
		return domain.StockLevel{}, fmt.Errorf("parse reserved of %s: %w", mealID, err)
	}

	level := domain.StockLevel{
		MealID:    mealID,
		Reserved:  reserved,
		Available: fields["available"] == "1",
	}
	if units != unlimitedUnits {
		level.Units = domain.Units(units)
	}
	return level, nil
}

// RedisIdempotency claims request keys with SETNX.
type RedisIdempotency struct {
	client *redis.Client
}

func NewRedisIdempotency(client *redis.Client) *RedisIdempotency {
	return &RedisIdempotency{client: client}
}

func (r *RedisIdempotency) Claim(ctx context.Context, key string) (bool, error) {
	ok, err := r.client.SetNX(ctx, "idempotency:"+key, 1, idempotencyKeyTTL).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, err
	}
	return ok, nil
}

func (r *RedisIdempotency) Release(ctx context.Context, key string) error {
	return r.client.Del(ctx, "idempotency:"+key).Err()
}
