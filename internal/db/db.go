package db

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sort"

	"github.com/xtrntr/marketplace/internal/exchange"
	"github.com/xtrntr/marketplace/internal/models"
	"github.com/xtrntr/marketplace/migrations"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DB wraps a PostgreSQL connection pool
type DB struct {
	Pool *pgxpool.Pool
}

// NewDB initializes a new database connection pool
func NewDB(ctx context.Context, connString string) (*DB, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// Close closes the database connection pool
func (db *DB) Close(ctx context.Context) error {
	db.Pool.Close()
	return nil
}

// Migrate applies the embedded schema files in name order. The files are
// idempotent, so this is safe on every start.
func (db *DB) Migrate(ctx context.Context) error {
	names, err := fs.Glob(migrations.FS, "*.sql")
	if err != nil {
		return fmt.Errorf("failed to list migrations: %w", err)
	}
	sort.Strings(names)

	for _, name := range names {
		script, err := migrations.FS.ReadFile(name)
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", name, err)
		}
		if _, err := db.Pool.Exec(ctx, string(script)); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", name, err)
		}
	}
	return nil
}

// Truncate empties every table
func (db *DB) Truncate(ctx context.Context) error {
	_, err := db.Pool.Exec(ctx, "TRUNCATE TABLE trades, orders, items, users RESTART IDENTITY")
	if err != nil {
		return fmt.Errorf("failed to truncate tables: %w", err)
	}
	return nil
}

// CreateUser inserts a new user
func (db *DB) CreateUser(ctx context.Context, name, passwordHash string) (*models.User, error) {
	user := &models.User{}
	err := db.Pool.QueryRow(ctx,
		"INSERT INTO users (name, password_hash) VALUES ($1, $2) RETURNING id, name, password_hash, created_at",
		name, passwordHash).Scan(&user.ID, &user.Name, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

// GetUserByID retrieves a user by id
func (db *DB) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	return db.getUser(ctx, "SELECT id, name, password_hash, created_at FROM users WHERE id = $1", id)
}

// GetUserByName retrieves a user by case-insensitive name
func (db *DB) GetUserByName(ctx context.Context, name string) (*models.User, error) {
	return db.getUser(ctx, "SELECT id, name, password_hash, created_at FROM users WHERE LOWER(name) = LOWER($1)", name)
}

func (db *DB) getUser(ctx context.Context, query string, arg any) (*models.User, error) {
	user := &models.User{}
	err := db.Pool.QueryRow(ctx, query, arg).Scan(&user.ID, &user.Name, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, exchange.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// CreateItem inserts a new item
func (db *DB) CreateItem(ctx context.Context, name string) (*models.Item, error) {
	item := &models.Item{}
	err := db.Pool.QueryRow(ctx,
		"INSERT INTO items (name) VALUES ($1) RETURNING id, name, created_at",
		name).Scan(&item.ID, &item.Name, &item.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create item: %w", err)
	}
	return item, nil
}

// GetItemByID retrieves an item by id
func (db *DB) GetItemByID(ctx context.Context, id int64) (*models.Item, error) {
	return db.getItem(ctx, "SELECT id, name, created_at FROM items WHERE id = $1", id)
}

// GetItemByName retrieves an item by case-insensitive name
func (db *DB) GetItemByName(ctx context.Context, name string) (*models.Item, error) {
	return db.getItem(ctx, "SELECT id, name, created_at FROM items WHERE LOWER(name) = LOWER($1)", name)
}

func (db *DB) getItem(ctx context.Context, query string, arg any) (*models.Item, error) {
	item := &models.Item{}
	err := db.Pool.QueryRow(ctx, query, arg).Scan(&item.ID, &item.Name, &item.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, exchange.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get item: %w", err)
	}
	return item, nil
}
