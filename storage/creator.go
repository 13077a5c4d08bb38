package storage

import "context"

// DatabaseCreator answers schema lifecycle questions for a list site. Lists are
// managed on the site itself, so the site always exists and always has
// tables, and creating or deleting it does nothing.
type DatabaseCreator struct{}

func (DatabaseCreator) Exists(ctx context.Context) (bool, error) {
	return true, nil
}

func (DatabaseCreator) HasTables(ctx context.Context) (bool, error) {
	return true, nil
}

func (DatabaseCreator) Create(ctx context.Context) error {
	return nil
}

func (DatabaseCreator) Delete(ctx context.Context) error {
	return nil
}

// EnsureCreated reports whether anything was created, which is never.
func (DatabaseCreator) EnsureCreated(ctx context.Context) (bool, error) {
	return false, nil
}

// EnsureDeleted reports whether anything was deleted, which is never.
func (DatabaseCreator) EnsureDeleted(ctx context.Context) (bool, error) {
	return false, nil
}
