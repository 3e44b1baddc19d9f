package pricing

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/Lilith2/darkvsx-hd2-boosting-website-sub001/internal/apperr"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Catalog reads products from Postgres.
type Catalog struct{ DB *pgxpool.Pool }

const productColumns = `id, name, product_type, base_price, sale_price, price_per_unit,
       minimum_quantity, maximum_quantity, active, updated_at`

func scanProduct(row pgx.Row) (Product, error) {
	var (
		p        Product
		sale     decimal.NullDecimal
		perUnit  decimal.NullDecimal
		minQty   *int
		maxQty   *int
		prodType string
	)
	if err := row.Scan(&p.ID, &p.Name, &prodType, &p.BasePrice, &sale, &perUnit,
		&minQty, &maxQty, &p.Active, &p.UpdatedAt); err != nil {
		return Product{}, err
	}
	if minQty != nil {
		p.MinQuantity = *minQty
	}
	p.Type = ProductType(prodType)
	if sale.Valid {
		p.SalePrice = &sale.Decimal
	}
	if perUnit.Valid {
		p.PricePerUnit = &perUnit.Decimal
	}
	p.MaxQuantity = maxQty
	return p, nil
}

func (c *Catalog) GetProduct(ctx context.Context, id string) (Product, error) {
	p, err := scanProduct(c.DB.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, apperr.ErrNotFound
	}
	if err != nil {
		return Product{}, apperr.Persistence("get product", err)
	}
	return p, nil
}

func (c *Catalog) ListProducts(ctx context.Context) ([]Product, error) {
	rows, err := c.DB.Query(ctx, `SELECT `+productColumns+` FROM products WHERE active ORDER BY name`)
	if err != nil {
		return nil, apperr.Persistence("list products", err)
	}
	defer rows.Close()

	var out []Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, apperr.Persistence("scan product", err)
		}
		out = append(out, p)
	}
	return out, apperr.Persistence("list products", rows.Err())
}

// MemoryCatalog is a fixed in-process catalog.
type MemoryCatalog struct {
	mu       sync.RWMutex
	products map[string]Product
}

func NewMemoryCatalog(products ...Product) *MemoryCatalog {
	c := &MemoryCatalog{products: make(map[string]Product, len(products))}
	for _, p := range products {
		c.products[p.ID] = p
	}
	return c
}

func (c *MemoryCatalog) Put(p Product) {
	c.mu.Lock()
	c.products[p.ID] = p
	c.mu.Unlock()
}

func (c *MemoryCatalog) GetProduct(_ context.Context, id string) (Product, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.products[id]
	if !ok {
		return Product{}, apperr.ErrNotFound
	}
	return p, nil
}

func (c *MemoryCatalog) ListProducts(context.Context) ([]Product, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Product, 0, len(c.products))
	for _, p := range c.products {
		if p.Active {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
