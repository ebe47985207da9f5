package store

import (
	"context"
	"fmt"
)

// Migrator creates or upgrades a schema.
type Migrator interface {
	Migrate(ctx context.Context) error
}

// Migrate runs migrators in order and stops at the first failure. Order
// matters where tables reference each other.
func Migrate(ctx context.Context, migrators ...Migrator) error {
	for i, m := range migrators {
		if err := m.Migrate(ctx); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	return nil
}
