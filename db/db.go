// Package db defines the entity connection: inserting, updating,
// deleting and selecting entities of a domain.
package db

import (
	"context"

	"github.com/syssam/relmap/condition"
	"github.com/syssam/relmap/database"
	"github.com/syssam/relmap/domain"
)

// EntityConnection runs entity operations for one user. Operations
// outside an open transaction are committed on success and rolled back
// on failure. An EntityConnection is used by one goroutine at a time.
type EntityConnection interface {
	Domain() *domain.Domain
	User() database.User

	IsConnected() bool
	Disconnect() error

	IsTransactionOpen() bool
	BeginTransaction(ctx context.Context) error
	CommitTransaction(ctx context.Context) error
	RollbackTransaction(ctx context.Context) error

	// ExecuteFunction runs a registered database function.
	ExecuteFunction(ctx context.Context, id string, args ...any) (any, error)
	// ExecuteProcedure runs a registered database procedure.
	ExecuteProcedure(ctx context.Context, id string, args ...any) error

	// Insert inserts the entities and returns their primary keys.
	Insert(ctx context.Context, entities ...*domain.Entity) ([]*domain.Key, error)
	// Update updates the modified columns of the entities and returns
	// them as selected after the update.
	Update(ctx context.Context, entities ...*domain.Entity) ([]*domain.Entity, error)
	// UpdateWhere sets the given column values of the rows matching cond
	// and returns the number of updated rows.
	UpdateWhere(ctx context.Context, entityID string, cond condition.Condition, values map[string]any) (int, error)
	// Delete deletes the rows matching cond and returns their number.
	Delete(ctx context.Context, entityID string, cond condition.Condition) (int, error)
	// DeleteKeys deletes the rows with the given keys. Deleting fewer
	// rows than keys is an error.
	DeleteKeys(ctx context.Context, keys ...*domain.Key) (int, error)

	// SelectByKey returns the entity with the given key.
	SelectByKey(ctx context.Context, key *domain.Key) (*domain.Entity, error)
	// SelectSingleValue returns the single entity whose property equals value.
	SelectSingleValue(ctx context.Context, entityID, pid string, value any) (*domain.Entity, error)
	// SelectSingle returns the single entity selected by sel.
	SelectSingle(ctx context.Context, sel *condition.Select) (*domain.Entity, error)
	// SelectKeys returns the entities with the given keys.
	SelectKeys(ctx context.Context, keys ...*domain.Key) ([]*domain.Entity, error)
	// SelectByValues returns the entities whose property equals one of values.
	SelectByValues(ctx context.Context, entityID, pid string, values ...any) ([]*domain.Entity, error)
	// Select returns the entities selected by sel.
	Select(ctx context.Context, sel *condition.Select) ([]*domain.Entity, error)
	// SelectValues returns the distinct non null values of a column.
	SelectValues(ctx context.Context, entityID, pid string, cond condition.Condition) ([]any, error)
	// RowCount returns the number of rows matching cond.
	RowCount(ctx context.Context, entityID string, cond condition.Condition) (int, error)
	// SelectDependents returns the entities referencing the given ones
	// through foreign keys that are not soft references, by entity id.
	SelectDependents(ctx context.Context, entities ...*domain.Entity) (map[string][]*domain.Entity, error)
	// Iterator returns an iterator over the rows selected by sel. Foreign
	// keys are not fetched.
	Iterator(ctx context.Context, sel *condition.Select) (Iterator, error)

	// ReadBlob returns the blob value of a property of the row with key.
	ReadBlob(ctx context.Context, key *domain.Key, pid string) ([]byte, error)
	// WriteBlob sets the blob value of a property of the row with key.
	WriteBlob(ctx context.Context, key *domain.Key, pid string, data []byte) error
}

// Iterator iterates over selected entities:
//
//	it, err := conn.Iterator(ctx, condition.All("scott.emp"))
//	if err != nil {
//		return err
//	}
//	defer it.Close()
//	for it.Next() {
//		e := it.Entity()
//	}
//	return it.Err()
type Iterator interface {
	Next() bool
	Entity() *domain.Entity
	Err() error
	Close() error
}

// Provider hands out entity connections.
type Provider interface {
	// Do runs fn with a connection and releases it when fn returns.
	Do(ctx context.Context, fn func(context.Context, EntityConnection) error) error
	Close() error
}
