package credit

import (
	"context"
	"errors"
	"fmt"

	"github.com/Lilith2/darkvsx-hd2-boosting-website-sub001/internal/apperr"
	"github.com/Lilith2/darkvsx-hd2-boosting-website-sub001/internal/redisx"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// KEYS[1]=balance key, ARGV[1]=cents. Returns the new balance, or -1 on shortfall.
const luaDebit = `
local key = KEYS[1]
local amt = tonumber(ARGV[1])
local current = tonumber(redis.call('GET', key) or '0')
if current >= amt then
  return redis.call('DECRBY', key, amt)
else
  return -1
end
`

// RedisLedger stores balances as integer cents.
type RedisLedger struct{ RDB *redis.Client }

func balanceKey(userID string) string { return fmt.Sprintf(redisx.KeyCreditBalance, userID) }

func toCents(d decimal.Decimal) int64   { return d.Shift(2).Round(0).IntPart() }
func fromCents(c int64) decimal.Decimal { return decimal.New(c, -2) }

func (l *RedisLedger) GetBalance(ctx context.Context, userID string) (decimal.Decimal, error) {
	c, err := l.RDB.Get(ctx, balanceKey(userID)).Int64()
	if errors.Is(err, redis.Nil) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, apperr.Persistence("get balance", err)
	}
	return fromCents(c), nil
}

func (l *RedisLedger) Debit(ctx context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error) {
	if err := checkArgs(userID, amount); err != nil {
		return decimal.Zero, err
	}
	res, err := l.RDB.Eval(ctx, luaDebit, []string{balanceKey(userID)}, toCents(amount)).Int64()
	if err != nil {
		return decimal.Zero, apperr.Persistence("debit credits", err)
	}
	if res < 0 {
		avail, gerr := l.GetBalance(ctx, userID)
		if gerr != nil {
			return decimal.Zero, gerr
		}
		return decimal.Zero, &apperr.InsufficientCreditsError{UserID: userID, Requested: amount, Available: avail}
	}
	return fromCents(res), nil
}

func (l *RedisLedger) Credit(ctx context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error) {
	if err := checkArgs(userID, amount); err != nil {
		return decimal.Zero, err
	}
	c, err := l.RDB.IncrBy(ctx, balanceKey(userID), toCents(amount)).Result()
	if err != nil {
		return decimal.Zero, apperr.Persistence("credit credits", err)
	}
	return fromCents(c), nil
}
