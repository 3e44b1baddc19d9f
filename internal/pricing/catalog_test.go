package pricing

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// productRow scans like pgx: NULL only fits pointer and Null* targets.
type productRow []any

func (r productRow) Scan(dest ...any) error {
	if len(dest) != len(r) {
		return fmt.Errorf("scan: %d targets for %d columns", len(dest), len(r))
	}
	for i, v := range r {
		switch d := dest[i].(type) {
		case *string:
			*d = v.(string)
		case *bool:
			*d = v.(bool)
		case *time.Time:
			*d = v.(time.Time)
		case *decimal.Decimal:
			*d = v.(decimal.Decimal)
		case *decimal.NullDecimal:
			*d = decimal.NullDecimal{}
			if v != nil {
				*d = decimal.NewNullDecimal(v.(decimal.Decimal))
			}
		case *int:
			if v == nil {
				return errors.New("cannot scan NULL into *int")
			}
			*d = v.(int)
		case **int:
			*d = nil
			if v != nil {
				n := v.(int)
				*d = &n
			}
		default:
			return fmt.Errorf("scan: unsupported target %T", d)
		}
	}
	return nil
}

func TestScanProductNullBounds(t *testing.T) {
	now := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	p, err := scanProduct(productRow{"boost", "Level boost", "service", dec("10.00"), nil, nil, nil, nil, true, now})
	require.NoError(t, err)

	assert.Equal(t, 0, p.MinQuantity)
	assert.Equal(t, 1, p.MinQty())
	assert.Nil(t, p.MaxQuantity)
	assert.Nil(t, p.SalePrice)
	assert.True(t, p.InBounds(1))
}

func TestScanProductBounds(t *testing.T) {
	now := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	p, err := scanProduct(productRow{"medals", "Medals", "custom_item", dec("1"), nil, dec("0.50"), 10, 500, true, now})
	require.NoError(t, err)

	assert.Equal(t, ProductCustomItem, p.Type)
	assert.Equal(t, 10, p.MinQuantity)
	require.NotNil(t, p.MaxQuantity)
	assert.Equal(t, 500, *p.MaxQuantity)
	require.NotNil(t, p.PricePerUnit)
	assert.True(t, p.PricePerUnit.Equal(dec("0.50")))
}
