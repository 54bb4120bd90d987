package commerce

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	email TEXT UNIQUE NOT NULL,
	password_hash TEXT NOT NULL,
	first_name TEXT NOT NULL DEFAULT '',
	last_name TEXT NOT NULL DEFAULT '',
	phone TEXT NOT NULL DEFAULT '',
	is_active BOOLEAN NOT NULL DEFAULT TRUE,
	created_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS products (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	category TEXT NOT NULL,
	price REAL NOT NULL,
	gender TEXT NOT NULL,
	brand TEXT NOT NULL,
	material TEXT NOT NULL,
	style TEXT NOT NULL,
	pattern TEXT NOT NULL,
	color TEXT NOT NULL,
	images TEXT NOT NULL DEFAULT '[]',
	available_sizes TEXT NOT NULL DEFAULT '[]',
	unit TEXT NOT NULL DEFAULT 'piece'
);
CREATE TABLE IF NOT EXISTS user_carts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id INTEGER UNIQUE NOT NULL,
	status TEXT NOT NULL DEFAULT 'active' CHECK(status IN ('active', 'abandoned', 'converted')),
	created_at TEXT NOT NULL,
	FOREIGN KEY (user_id) REFERENCES users (id) ON DELETE CASCADE
);
CREATE TABLE IF NOT EXISTS cart_items (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	cart_id INTEGER NOT NULL,
	product_id INTEGER NOT NULL,
	quantity INTEGER NOT NULL CHECK(quantity > 0),
	unit_price REAL NOT NULL CHECK(unit_price > 0),
	total_price REAL NOT NULL CHECK(total_price > 0),
	size TEXT NOT NULL DEFAULT '',
	color TEXT NOT NULL DEFAULT '',
	unit TEXT NOT NULL DEFAULT '',
	added_at TEXT NOT NULL,
	FOREIGN KEY (cart_id) REFERENCES user_carts (id) ON DELETE CASCADE,
	FOREIGN KEY (product_id) REFERENCES products (id) ON DELETE CASCADE,
	UNIQUE(cart_id, product_id, size, color, unit)
);
CREATE TABLE IF NOT EXISTS orders (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	product_id INTEGER NOT NULL,
	user_id INTEGER NOT NULL,
	quantity INTEGER NOT NULL CHECK(quantity > 0),
	price REAL NOT NULL CHECK(price > 0),
	status TEXT NOT NULL DEFAULT 'pending',
	created_at TEXT NOT NULL,
	FOREIGN KEY (product_id) REFERENCES products (id) ON DELETE CASCADE,
	FOREIGN KEY (user_id) REFERENCES users (id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_products_category ON products(category);
CREATE INDEX IF NOT EXISTS idx_products_brand ON products(brand);
CREATE INDEX IF NOT EXISTS idx_orders_user_id ON orders(user_id);
`

// SQLiteStore implements Store on SQLite.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
	now    func() time.Time
}

// NewSQLiteStore opens (creating if needed) the storefront database at path.
// ":memory:" gives a private in-memory database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA foreign_keys=ON"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &SQLiteStore{db: db, now: time.Now}, nil
}

func (s *SQLiteStore) timestamp() string {
	return s.now().UTC().Format(time.RFC3339Nano)
}

// InsertProducts adds catalogue entries in one transaction and returns them
// with their assigned IDs.
func (s *SQLiteStore) InsertProducts(ctx context.Context, products []Product) ([]Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO products (name, category, price, gender, brand, material, style, pattern, color, images, available_sizes, unit)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return nil, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	out := make([]Product, 0, len(products))
	for _, p := range products {
		images, _ := json.Marshal(nonNil(p.Images))
		sizes, _ := json.Marshal(nonNil(p.AvailableSizes))
		if p.Unit == "" {
			p.Unit = "piece"
		}
		res, err := stmt.ExecContext(ctx, p.Name, p.Category, p.Price, p.Gender, p.Brand,
			p.Material, p.Style, p.Pattern, p.Color, string(images), string(sizes), p.Unit)
		if err != nil {
			return nil, fmt.Errorf("insert product %q: %w", p.Name, err)
		}
		if p.ID, err = res.LastInsertId(); err != nil {
			return nil, fmt.Errorf("insert product %q: %w", p.Name, err)
		}
		out = append(out, p)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return out, nil
}

// CountProducts returns the catalogue size.
func (s *SQLiteStore) CountProducts(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, ErrStoreClosed
	}

	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM products`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count products: %w", err)
	}
	return n, nil
}

// productQuery builds the WHERE clause for filter. Gender is matched on its
// stored single-letter code and colour on its capitalised form.
func productQuery(filter ProductFilter, limit int) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		conds = append(conds, cond)
		args = append(args, arg)
	}

	if filter.Name != "" {
		add("name = ? COLLATE NOCASE", filter.Name)
	}
	if filter.Category != "" {
		add("category = ?", strings.ToLower(filter.Category))
	}
	if g := normalizeGender(filter.Gender); g != "" {
		add("gender = ?", g)
	}
	if c := capitalize(filter.Color); c != "" {
		add("color = ?", c)
	}
	if filter.Brand != "" {
		add("brand = ? COLLATE NOCASE", filter.Brand)
	}
	if filter.PriceMax > 0 {
		add("price <= ?", filter.PriceMax)
	}
	if filter.PriceMin > 0 {
		add("price >= ?", filter.PriceMin)
	}

	query := `SELECT id, name, category, price, gender, brand, material, style, pattern, color, images, available_sizes, unit FROM products`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY id LIMIT ?"
	return query, append(args, limit)
}

// SearchProducts implements Catalog. A non-positive limit means DefaultSearchLimit.
func (s *SQLiteStore) SearchProducts(ctx context.Context, filter ProductFilter, limit int) ([]Product, error) {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	query, args := productQuery(filter, limit)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search products: %w", err)
	}
	defer rows.Close()

	var products []Product
	for rows.Next() {
		var (
			p             Product
			images, sizes string
		)
		if err := rows.Scan(&p.ID, &p.Name, &p.Category, &p.Price, &p.Gender, &p.Brand,
			&p.Material, &p.Style, &p.Pattern, &p.Color, &images, &sizes, &p.Unit); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		_ = json.Unmarshal([]byte(images), &p.Images)
		_ = json.Unmarshal([]byte(sizes), &p.AvailableSizes)
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate products: %w", err)
	}
	return products, nil
}

// FindProduct implements Catalog.
func (s *SQLiteStore) FindProduct(ctx context.Context, filter ProductFilter) (Product, error) {
	products, err := s.SearchProducts(ctx, filter, 1)
	if err != nil {
		return Product{}, err
	}
	if len(products) == 0 {
		return Product{}, ErrNotFound
	}
	return products[0], nil
}

// CreateUser implements Accounts. The new user gets an empty active cart.
func (s *SQLiteStore) CreateUser(ctx context.Context, u NewUser) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return User{}, ErrStoreClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return User{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	now := s.timestamp()
	res, err := tx.ExecContext(ctx, `
		INSERT INTO users (email, password_hash, first_name, last_name, phone, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, strings.ToLower(strings.TrimSpace(u.Email)), u.PasswordHash, u.FirstName, u.LastName, u.Phone, now)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return User{}, fmt.Errorf("%w: %s", ErrDuplicateEmail, u.Email)
		}
		return User{}, fmt.Errorf("create user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return User{}, fmt.Errorf("create user: %w", err)
	}

	if _, err := cartID(ctx, tx, id, now); err != nil {
		return User{}, err
	}

	if err := tx.Commit(); err != nil {
		return User{}, fmt.Errorf("commit: %w", err)
	}

	created, _ := time.Parse(time.RFC3339Nano, now)
	return User{
		ID:           id,
		Email:        strings.ToLower(strings.TrimSpace(u.Email)),
		FirstName:    u.FirstName,
		LastName:     u.LastName,
		Phone:        u.Phone,
		PasswordHash: u.PasswordHash,
		CreatedAt:    created,
	}, nil
}

// UserByEmail implements Accounts. Matching is case-insensitive.
func (s *SQLiteStore) UserByEmail(ctx context.Context, email string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return User{}, ErrStoreClosed
	}

	var (
		u       User
		created string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, password_hash, first_name, last_name, phone, created_at
		FROM users
		WHERE email = ? AND is_active = TRUE
	`, strings.ToLower(strings.TrimSpace(email))).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.FirstName, &u.LastName, &u.Phone, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("load user: %w", err)
	}
	u.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	return u, nil
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// cartID returns the user's active cart, creating it if needed.
func cartID(ctx context.Context, q queryer, userID int64, now string) (int64, error) {
	if _, err := q.ExecContext(ctx, `
		INSERT INTO user_carts (user_id, created_at) VALUES (?, ?)
		ON CONFLICT(user_id) DO NOTHING
	`, userID, now); err != nil {
		return 0, fmt.Errorf("create cart: %w", err)
	}

	var id int64
	if err := q.QueryRowContext(ctx, `SELECT id FROM user_carts WHERE user_id = ?`, userID).Scan(&id); err != nil {
		return 0, fmt.Errorf("load cart: %w", err)
	}
	return id, nil
}

func cartItems(ctx context.Context, q queryer, cart int64) ([]CartItem, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT ci.id, ci.product_id, p.name, p.brand, ci.quantity, ci.unit_price, ci.total_price,
			ci.size, ci.color, ci.unit, ci.added_at
		FROM cart_items ci JOIN products p ON p.id = ci.product_id
		WHERE ci.cart_id = ?
		ORDER BY ci.added_at DESC, ci.id DESC
	`, cart)
	if err != nil {
		return nil, fmt.Errorf("list cart: %w", err)
	}
	defer rows.Close()

	items := []CartItem{}
	for rows.Next() {
		var (
			it    CartItem
			added string
		)
		if err := rows.Scan(&it.ID, &it.ProductID, &it.ProductName, &it.Brand, &it.Quantity,
			&it.UnitPrice, &it.TotalPrice, &it.Size, &it.Color, &it.Unit, &added); err != nil {
			return nil, fmt.Errorf("scan cart item: %w", err)
		}
		it.AddedAt, _ = time.Parse(time.RFC3339Nano, added)
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cart: %w", err)
	}
	return items, nil
}

// AddToCart implements Carts.
func (s *SQLiteStore) AddToCart(ctx context.Context, userID int64, line CartAdd) ([]CartItem, error) {
	if line.Quantity <= 0 {
		return nil, ErrInvalidQuantity
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	now := s.timestamp()
	cart, err := cartID(ctx, tx, userID, now)
	if err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO cart_items (cart_id, product_id, quantity, unit_price, total_price, size, color, unit, added_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(cart_id, product_id, size, color, unit) DO UPDATE SET
			quantity = cart_items.quantity + excluded.quantity,
			total_price = excluded.unit_price * (cart_items.quantity + excluded.quantity)
	`, cart, line.ProductID, line.Quantity, line.UnitPrice, line.UnitPrice*float64(line.Quantity),
		line.Size, line.Color, line.Unit, now); err != nil {
		return nil, fmt.Errorf("add cart item: %w", err)
	}

	items, err := cartItems(ctx, tx, cart)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return items, nil
}

// RemoveFromCart implements Carts.
func (s *SQLiteStore) RemoveFromCart(ctx context.Context, userID, productID int64) ([]CartItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	cart, err := cartID(ctx, tx, userID, s.timestamp())
	if err != nil {
		return nil, err
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM cart_items WHERE cart_id = ? AND product_id = ?`, cart, productID)
	if err != nil {
		return nil, fmt.Errorf("remove cart item: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}

	items, err := cartItems(ctx, tx, cart)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return items, nil
}

// CartItems implements Carts.
func (s *SQLiteStore) CartItems(ctx context.Context, userID int64) ([]CartItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	cart, err := cartID(ctx, s.db, userID, s.timestamp())
	if err != nil {
		return nil, err
	}
	return cartItems(ctx, s.db, cart)
}

// CreateOrder implements Orders. An empty status becomes OrderPending.
func (s *SQLiteStore) CreateOrder(ctx context.Context, o Order) (Order, error) {
	if o.Quantity <= 0 {
		return Order{}, ErrInvalidQuantity
	}
	if o.Status == "" {
		o.Status = OrderPending
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return Order{}, ErrStoreClosed
	}

	now := s.timestamp()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO orders (product_id, user_id, quantity, price, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, o.ProductID, o.UserID, o.Quantity, o.Price, o.Status, now)
	if err != nil {
		return Order{}, fmt.Errorf("create order: %w", err)
	}
	if o.ID, err = res.LastInsertId(); err != nil {
		return Order{}, fmt.Errorf("create order: %w", err)
	}
	o.CreatedAt, _ = time.Parse(time.RFC3339Nano, now)
	return o, nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	return s.db.Close()
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
