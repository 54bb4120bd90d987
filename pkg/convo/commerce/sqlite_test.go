package commerce_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/randalmurphal/convograph/pkg/convo/commerce"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *commerce.SQLiteStore {
	t.Helper()
	store, err := commerce.NewSQLiteStore(filepath.Join(t.TempDir(), "shop.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func sneakers() []commerce.Product {
	return []commerce.Product{
		{Name: "Blue Sneakers", Category: "shoes", Price: 79.99, Gender: "U", Brand: "Acme", Material: "Canvas", Style: "Casual", Pattern: "Solid", Color: "Blue", Unit: "pair"},
		{Name: "Red Sneakers", Category: "shoes", Price: 89.99, Gender: "F", Brand: "Acme", Material: "Canvas", Style: "Sport", Pattern: "Solid", Color: "Red", Unit: "pair"},
		{Name: "Blue Shirt", Category: "clothing", Price: 25, Gender: "M", Brand: "Globex", Material: "Cotton", Style: "Formal", Pattern: "Striped", Color: "Blue"},
	}
}

func TestSearchProducts_Filters(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	_, err := store.InsertProducts(ctx, sneakers())
	require.NoError(t, err)

	tests := []struct {
		name   string
		filter commerce.ProductFilter
		want   []string
	}{
		{"no filter", commerce.ProductFilter{}, []string{"Blue Sneakers", "Red Sneakers", "Blue Shirt"}},
		{"colour is capitalised", commerce.ProductFilter{Color: "blue"}, []string{"Blue Sneakers", "Blue Shirt"}},
		{"gender word maps to code", commerce.ProductFilter{Gender: "female"}, []string{"Red Sneakers"}},
		{"category and price cap", commerce.ProductFilter{Category: "shoes", PriceMax: 80}, []string{"Blue Sneakers"}},
		{"price floor", commerce.ProductFilter{PriceMin: 50}, []string{"Blue Sneakers", "Red Sneakers"}},
		{"brand ignores case", commerce.ProductFilter{Brand: "globex"}, []string{"Blue Shirt"}},
		{"nothing matches", commerce.ProductFilter{Color: "green"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			products, err := store.SearchProducts(ctx, tt.filter, 0)
			require.NoError(t, err)

			var names []string
			for _, p := range products {
				names = append(names, p.Name)
			}
			assert.Equal(t, tt.want, names)
		})
	}
}

func TestSearchProducts_Limit(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	_, err := store.InsertProducts(ctx, commerce.GenerateProducts(25, 7))
	require.NoError(t, err)

	products, err := store.SearchProducts(ctx, commerce.ProductFilter{}, 0)
	require.NoError(t, err)
	assert.Len(t, products, commerce.DefaultSearchLimit)
}

func TestFindProduct(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	_, err := store.InsertProducts(ctx, sneakers())
	require.NoError(t, err)

	p, err := store.FindProduct(ctx, commerce.ProductFilter{Name: "blue sneakers", Brand: "Acme"})
	require.NoError(t, err)
	assert.Equal(t, "Blue Sneakers", p.Name)
	assert.Equal(t, "pair", p.Unit)
	assert.Equal(t, []string{}, p.AvailableSizes)

	_, err = store.FindProduct(ctx, commerce.ProductFilter{Name: "Green Boots"})
	assert.ErrorIs(t, err, commerce.ErrNotFound)
}

func TestUsers(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	created, err := store.CreateUser(ctx, commerce.NewUser{Email: "Ada@Example.com", PasswordHash: "hash", FirstName: "Ada"})
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", created.Email)

	_, err = store.CreateUser(ctx, commerce.NewUser{Email: "ada@example.com", PasswordHash: "other"})
	assert.ErrorIs(t, err, commerce.ErrDuplicateEmail)

	loaded, err := store.UserByEmail(ctx, "ADA@example.com")
	require.NoError(t, err)
	assert.Equal(t, created.ID, loaded.ID)
	assert.Equal(t, "hash", loaded.PasswordHash)

	_, err = store.UserByEmail(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, commerce.ErrNotFound)
}

func TestCart_AddMergesAndRemove(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	products, err := store.InsertProducts(ctx, sneakers())
	require.NoError(t, err)
	user, err := store.CreateUser(ctx, commerce.NewUser{Email: "shopper@example.com", PasswordHash: "x"})
	require.NoError(t, err)

	empty, err := store.CartItems(ctx, user.ID)
	require.NoError(t, err)
	assert.Empty(t, empty)

	line := commerce.CartAdd{ProductID: products[0].ID, Quantity: 1, UnitPrice: products[0].Price, Size: "9", Unit: "pair"}
	_, err = store.AddToCart(ctx, user.ID, line)
	require.NoError(t, err)
	line.Quantity = 2
	items, err := store.AddToCart(ctx, user.ID, line)
	require.NoError(t, err)

	require.Len(t, items, 1)
	assert.Equal(t, 3, items[0].Quantity)
	assert.InDelta(t, 3*79.99, items[0].TotalPrice, 0.001)
	assert.Equal(t, "Blue Sneakers", items[0].ProductName)

	items, err = store.AddToCart(ctx, user.ID, commerce.CartAdd{ProductID: products[1].ID, Quantity: 1, UnitPrice: products[1].Price})
	require.NoError(t, err)
	require.Len(t, items, 2)

	summary := commerce.Summarize(items)
	assert.Equal(t, 2, summary.ItemCount)
	assert.Equal(t, 4, summary.TotalItems)
	assert.InDelta(t, 3*79.99+89.99, summary.TotalValue, 0.001)

	items, err = store.RemoveFromCart(ctx, user.ID, products[0].ID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, products[1].ID, items[0].ProductID)

	_, err = store.RemoveFromCart(ctx, user.ID, products[0].ID)
	assert.ErrorIs(t, err, commerce.ErrNotFound)

	_, err = store.AddToCart(ctx, user.ID, commerce.CartAdd{ProductID: products[1].ID, Quantity: 0, UnitPrice: 1})
	assert.ErrorIs(t, err, commerce.ErrInvalidQuantity)
}

func TestCreateOrder(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	products, err := store.InsertProducts(ctx, sneakers())
	require.NoError(t, err)
	user, err := store.CreateUser(ctx, commerce.NewUser{Email: "buyer@example.com", PasswordHash: "x"})
	require.NoError(t, err)

	order, err := store.CreateOrder(ctx, commerce.Order{UserID: user.ID, ProductID: products[2].ID, Quantity: 1, Price: 25})
	require.NoError(t, err)
	assert.NotZero(t, order.ID)
	assert.Equal(t, commerce.OrderPending, order.Status)

	paid, err := store.CreateOrder(ctx, commerce.Order{UserID: user.ID, ProductID: products[2].ID, Quantity: 1, Price: 25, Status: commerce.OrderPaid})
	require.NoError(t, err)
	assert.Equal(t, commerce.OrderPaid, paid.Status)
	assert.Greater(t, paid.ID, order.ID)
}

func TestSeed_Idempotent(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	n, err := commerce.Seed(ctx, store, 40, 12345)
	require.NoError(t, err)
	assert.Equal(t, 40, n)

	n, err = commerce.Seed(ctx, store, 40, 12345)
	require.NoError(t, err)
	assert.Equal(t, 40, n)

	count, err := store.CountProducts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 40, count)
}

func TestGenerateProducts_Deterministic(t *testing.T) {
	assert.Equal(t, commerce.GenerateProducts(10, 1), commerce.GenerateProducts(10, 1))
	assert.NotEqual(t, commerce.GenerateProducts(10, 1), commerce.GenerateProducts(10, 2))
}

func TestClosedStore(t *testing.T) {
	store := newStore(t)
	require.NoError(t, store.Close())
	require.NoError(t, store.Close())

	_, err := store.SearchProducts(context.Background(), commerce.ProductFilter{}, 0)
	assert.ErrorIs(t, err, commerce.ErrStoreClosed)
}
