package store

import (
	"context"
	"fmt"

	"rollcall/internal/attendance"
	"rollcall/internal/config"
)

// Backend is the attendance store selected by STORE_BACKEND together with its lifecycle hooks.
type Backend struct {
	Store   attendance.Store
	Name    string
	Healthy func(ctx context.Context) bool
	// Migrate brings the schema up to date: SQL migrations or Mongo indexes.
	Migrate func(ctx context.Context) error
	Close   func() error
}

// Open connects the configured backend.
func Open(ctx context.Context, cfg config.App) (*Backend, error) {
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		db, err := NewDB(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return &Backend{
			Store:   attendance.NewRepository(db.DB),
			Name:    config.BackendPostgres,
			Healthy: db.Healthy,
			Migrate: db.Migrate,
			Close:   db.Close,
		}, nil
	case config.BackendMongo:
		m, err := NewMongo(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, err
		}
		repo := attendance.NewMongoRepository(m.DB)
		return &Backend{
			Store:   repo,
			Name:    config.BackendMongo,
			Healthy: m.Healthy,
			Migrate: repo.EnsureIndexes,
			Close:   m.Close,
		}, nil
	case config.BackendMemory:
		return &Backend{
			Store:   attendance.NewMemoryStore(),
			Name:    config.BackendMemory,
			Healthy: func(context.Context) bool { return true },
			Migrate: func(context.Context) error { return nil },
			Close:   func() error { return nil },
		}, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}
