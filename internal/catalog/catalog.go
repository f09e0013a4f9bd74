// Package catalog manages the users and items that orders refer to.
package catalog

import (
	"context"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/xtrntr/marketplace/internal/exchange"
	"github.com/xtrntr/marketplace/internal/models"
	"go.uber.org/zap"
)

const maxNameLength = 100

var (
	// ErrInvalidName is returned for empty or oversized names
	ErrInvalidName = errors.New("invalid name")
	// ErrExists is returned when registering a name that is taken
	ErrExists = errors.New("already exists")
)

// Store persists catalog records. Lookups return exchange.ErrNotFound for
// unknown ids and names; name matching is case-insensitive.
type Store interface {
	CreateUser(ctx context.Context, name, passwordHash string) (*models.User, error)
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
	GetUserByName(ctx context.Context, name string) (*models.User, error)
	CreateItem(ctx context.Context, name string) (*models.Item, error)
	GetItemByID(ctx context.Context, id int64) (*models.Item, error)
	GetItemByName(ctx context.Context, name string) (*models.Item, error)
}

// Service resolves and creates users and items
type Service struct {
	store  Store
	logger *zap.Logger
}

// NewService creates a catalog service
func NewService(store Store, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, logger: logger}
}

// CreateUser returns the user with the given name, creating it if needed
func (s *Service) CreateUser(ctx context.Context, name string) (*models.User, error) {
	name, err := cleanName(name)
	if err != nil {
		return nil, err
	}
	if u, err := s.store.GetUserByName(ctx, name); err == nil {
		return u, nil
	} else if !errors.Is(err, exchange.ErrNotFound) {
		return nil, errors.Wrapf(err, "failed to look up user %q", name)
	}

	u, err := s.store.CreateUser(ctx, name, "")
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create user %q", name)
	}
	s.logger.Info("user created", zap.Int64("user_id", u.ID), zap.String("name", u.Name))
	return u, nil
}

// RegisterUser creates a user with a password hash. Unlike CreateUser it
// fails with ErrExists when the name is taken.
func (s *Service) RegisterUser(ctx context.Context, name, passwordHash string) (*models.User, error) {
	name, err := cleanName(name)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.GetUserByName(ctx, name); err == nil {
		return nil, errors.Wrapf(ErrExists, "user %q", name)
	} else if !errors.Is(err, exchange.ErrNotFound) {
		return nil, errors.Wrapf(err, "failed to look up user %q", name)
	}

	u, err := s.store.CreateUser(ctx, name, passwordHash)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create user %q", name)
	}
	s.logger.Info("user registered", zap.Int64("user_id", u.ID), zap.String("name", u.Name))
	return u, nil
}

// CreateItem returns the item with the given name, creating it if needed
func (s *Service) CreateItem(ctx context.Context, name string) (*models.Item, error) {
	name, err := cleanName(name)
	if err != nil {
		return nil, err
	}
	if it, err := s.store.GetItemByName(ctx, name); err == nil {
		return it, nil
	} else if !errors.Is(err, exchange.ErrNotFound) {
		return nil, errors.Wrapf(err, "failed to look up item %q", name)
	}

	it, err := s.store.CreateItem(ctx, name)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create item %q", name)
	}
	s.logger.Info("item created", zap.Int64("item_id", it.ID), zap.String("name", it.Name))
	return it, nil
}

// ResolveUser finds a user by numeric id or by name
func (s *Service) ResolveUser(ctx context.Context, ref string) (*models.User, error) {
	ref = strings.TrimSpace(ref)
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		u, err := s.store.GetUserByID(ctx, id)
		return u, errors.Wrapf(err, "user %d", id)
	}
	u, err := s.store.GetUserByName(ctx, ref)
	return u, errors.Wrapf(err, "user %q", ref)
}

// ResolveItem finds an item by numeric id or by name
func (s *Service) ResolveItem(ctx context.Context, ref string) (*models.Item, error) {
	ref = strings.TrimSpace(ref)
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		it, err := s.store.GetItemByID(ctx, id)
		return it, errors.Wrapf(err, "item %d", id)
	}
	it, err := s.store.GetItemByName(ctx, ref)
	return it, errors.Wrapf(err, "item %q", ref)
}

// UserByName looks a user up by exact name, ignoring case
func (s *Service) UserByName(ctx context.Context, name string) (*models.User, error) {
	return s.store.GetUserByName(ctx, strings.TrimSpace(name))
}

// UserName returns the user's name, or "#id" when unknown
func (s *Service) UserName(ctx context.Context, id int64) string {
	if u, err := s.store.GetUserByID(ctx, id); err == nil {
		return u.Name
	}
	return "#" + strconv.FormatInt(id, 10)
}

// ItemName returns the item's name, or "#id" when unknown
func (s *Service) ItemName(ctx context.Context, id int64) string {
	if it, err := s.store.GetItemByID(ctx, id); err == nil {
		return it.Name
	}
	return "#" + strconv.FormatInt(id, 10)
}

func cleanName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.Wrap(ErrInvalidName, "name cannot be empty")
	}
	if len(name) > maxNameLength {
		return "", errors.Wrapf(ErrInvalidName, "name too long (max %d characters)", maxNameLength)
	}
	return name, nil
}
