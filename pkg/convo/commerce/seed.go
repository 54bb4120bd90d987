package commerce

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
)

type categorySpec struct {
	sizes    []string
	unit     string
	minPrice float64
	maxPrice float64
	names    []string
}

var categories = map[string]categorySpec{
	"clothing": {
		sizes: []string{"XS", "S", "M", "L", "XL", "XXL"}, unit: "piece", minPrice: 20, maxPrice: 200,
		names: []string{"T-Shirt", "Shirt", "Jeans", "Dress", "Sweater", "Jacket", "Hoodie"},
	},
	"shoes": {
		sizes: []string{"6", "7", "8", "9", "10", "11", "12"}, unit: "pair", minPrice: 40, maxPrice: 300,
		names: []string{"Sneakers", "Boots", "Loafers", "Running Shoes"},
	},
	"accessories": {
		sizes: []string{"S", "M", "L"}, unit: "piece", minPrice: 15, maxPrice: 150,
		names: []string{"Watch", "Belt", "Scarf", "Hat", "Sunglasses"},
	},
	"bags": {
		sizes: []string{"Small", "Medium", "Large"}, unit: "piece", minPrice: 30, maxPrice: 400,
		names: []string{"Backpack", "Tote", "Messenger Bag", "Handbag"},
	},
	"jewelry": {
		sizes: []string{"One Size", "Adjustable"}, unit: "piece", minPrice: 50, maxPrice: 1000,
		names: []string{"Necklace", "Ring", "Bracelet", "Earrings"},
	},
}

var (
	categoryOrder = []string{"clothing", "shoes", "accessories", "bags", "jewelry"}
	genders       = []string{"M", "F", "U"}
	brands        = []string{"Acme", "Northwind", "Contoso", "Fabrikam", "Globex", "Initech", "Umbrella"}
	materials     = []string{"Cotton", "Leather", "Wool", "Denim", "Silk", "Polyester", "Canvas"}
	styles        = []string{"Casual", "Formal", "Sport", "Vintage", "Modern"}
	patterns      = []string{"Solid", "Striped", "Checked", "Floral", "Dotted"}
	colors        = []string{"Blue", "Red", "Black", "White", "Green", "Grey", "Brown"}
)

// GenerateProducts builds n deterministic sample products from seed.
func GenerateProducts(n int, seed uint64) []Product {
	r := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	pick := func(xs []string) string { return xs[r.IntN(len(xs))] }

	products := make([]Product, 0, n)
	for i := 0; i < n; i++ {
		category := pick(categoryOrder)
		cat := categories[category]
		color := pick(colors)
		price := cat.minPrice + r.Float64()*(cat.maxPrice-cat.minPrice)

		products = append(products, Product{
			Name:           fmt.Sprintf("%s %s", color, pick(cat.names)),
			Category:       category,
			Price:          math.Round(price*100) / 100,
			Gender:         pick(genders),
			Brand:          pick(brands),
			Material:       pick(materials),
			Style:          pick(styles),
			Pattern:        pick(patterns),
			Color:          color,
			Images:         []string{fmt.Sprintf("https://picsum.photos/seed/%d/400/400", i+1)},
			AvailableSizes: cat.sizes,
			Unit:           cat.unit,
		})
	}
	return products
}

// Seed fills an empty catalogue with n generated products. A catalogue that
// already has products is left alone and the existing count is returned.
func Seed(ctx context.Context, s *SQLiteStore, n int, seed uint64) (int, error) {
	count, err := s.CountProducts(ctx)
	if err != nil {
		return 0, err
	}
	if count > 0 {
		return count, nil
	}

	inserted, err := s.InsertProducts(ctx, GenerateProducts(n, seed))
	if err != nil {
		return 0, fmt.Errorf("seed products: %w", err)
	}
	return len(inserted), nil
}
