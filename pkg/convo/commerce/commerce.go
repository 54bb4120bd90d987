// Package commerce holds the storefront collaborator the conversation
// workflows talk to: the product catalogue, user accounts, carts and orders.
//
// Store is the full contract. SQLiteStore implements it on modernc SQLite and
// is what the server runs against; tests use it via t.TempDir().
package commerce

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Sentinel errors returned by Store implementations.
var (
	// ErrNotFound is returned when a product, user or cart line does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateEmail is returned when signing up with an e-mail already in use.
	ErrDuplicateEmail = errors.New("email already registered")

	// ErrInvalidQuantity is returned for non-positive quantities.
	ErrInvalidQuantity = errors.New("quantity must be positive")

	// ErrStoreClosed is returned by operations on a closed store.
	ErrStoreClosed = errors.New("store is closed")
)

// DefaultSearchLimit caps product search results.
const DefaultSearchLimit = 10

// Product is a catalogue entry.
type Product struct {
	ID             int64    `json:"id"`
	Name           string   `json:"name"`
	Category       string   `json:"category"`
	Price          float64  `json:"price"`
	Gender         string   `json:"gender"`
	Brand          string   `json:"brand"`
	Material       string   `json:"material"`
	Style          string   `json:"style"`
	Pattern        string   `json:"pattern"`
	Color          string   `json:"color"`
	Images         []string `json:"images"`
	AvailableSizes []string `json:"available_sizes"`
	Unit           string   `json:"unit"`
}

// ProductFilter narrows a catalogue query. Zero fields are ignored.
type ProductFilter struct {
	Name     string  `json:"name,omitempty"`
	Category string  `json:"product_category,omitempty"`
	Gender   string  `json:"gender,omitempty"`
	Color    string  `json:"color,omitempty"`
	Brand    string  `json:"brand,omitempty"`
	PriceMin float64 `json:"price_min,omitempty"`
	PriceMax float64 `json:"price_max,omitempty"`
	Size     string  `json:"size,omitempty"`
	Material string  `json:"material,omitempty"`
	Style    string  `json:"style,omitempty"`
	Pattern  string  `json:"pattern,omitempty"`
}

// User is a registered account. The password hash never leaves the store
// through JSON.
type User struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	FirstName    string    `json:"first_name"`
	LastName     string    `json:"last_name"`
	Phone        string    `json:"phone"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// NewUser is the input to CreateUser.
type NewUser struct {
	Email        string
	PasswordHash string
	FirstName    string
	LastName     string
	Phone        string
}

// CartAdd is one line to add to a cart.
type CartAdd struct {
	ProductID int64
	Quantity  int
	UnitPrice float64
	Size      string
	Color     string
	Unit      string
}

// CartItem is one line of a user's active cart.
type CartItem struct {
	ID          int64     `json:"id"`
	ProductID   int64     `json:"product_id"`
	ProductName string    `json:"product_name"`
	Brand       string    `json:"brand"`
	Quantity    int       `json:"quantity"`
	UnitPrice   float64   `json:"unit_price"`
	TotalPrice  float64   `json:"total_price"`
	Size        string    `json:"size,omitempty"`
	Color       string    `json:"color,omitempty"`
	Unit        string    `json:"unit,omitempty"`
	AddedAt     time.Time `json:"added_at"`
}

// CartSummary aggregates a cart.
type CartSummary struct {
	ItemCount  int     `json:"item_count"`
	TotalItems int     `json:"total_items"`
	TotalValue float64 `json:"total_value"`
}

// Summarize totals the given cart lines.
func Summarize(items []CartItem) CartSummary {
	s := CartSummary{ItemCount: len(items)}
	for _, it := range items {
		s.TotalItems += it.Quantity
		s.TotalValue += it.TotalPrice
	}
	return s
}

// Order statuses.
const (
	OrderPending = "pending"
	OrderPaid    = "paid"
)

// Order is a placed order for a single product.
type Order struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	ProductID int64     `json:"product_id"`
	Quantity  int       `json:"quantity"`
	Price     float64   `json:"price"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// Catalog reads products.
type Catalog interface {
	// SearchProducts returns at most limit products matching filter.
	SearchProducts(ctx context.Context, filter ProductFilter, limit int) ([]Product, error)

	// FindProduct returns the first product matching filter, or ErrNotFound.
	FindProduct(ctx context.Context, filter ProductFilter) (Product, error)
}

// Accounts manages users.
type Accounts interface {
	CreateUser(ctx context.Context, u NewUser) (User, error)
	UserByEmail(ctx context.Context, email string) (User, error)
}

// Carts manages each user's single active cart.
type Carts interface {
	// AddToCart merges line into the cart (same product, size, colour and
	// unit accumulate quantity) and returns the updated cart.
	AddToCart(ctx context.Context, userID int64, line CartAdd) ([]CartItem, error)

	// RemoveFromCart drops every line for productID and returns the updated
	// cart, or ErrNotFound if the product was not in the cart.
	RemoveFromCart(ctx context.Context, userID, productID int64) ([]CartItem, error)

	// CartItems returns the active cart, newest line first.
	CartItems(ctx context.Context, userID int64) ([]CartItem, error)
}

// Orders records placed orders.
type Orders interface {
	CreateOrder(ctx context.Context, o Order) (Order, error)
}

// Store is the full storefront contract.
type Store interface {
	Catalog
	Accounts
	Carts
	Orders
	Close() error
}

// normalizeGender maps "male"/"female"/"unisex" (any case) to the stored
// single-letter code.
func normalizeGender(g string) string {
	g = strings.TrimSpace(g)
	if g == "" {
		return ""
	}
	return strings.ToUpper(g[:1])
}

// capitalize upper-cases the first letter and lower-cases the rest.
func capitalize(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	return strings.ToUpper(s[:1]) + strings.ToLower(s[1:])
}
