package domain

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/syssam/relmap/dialect"
)

// KeyQuerier runs the queries of key generators on the connection
// performing the insert.
type KeyQuerier interface {
	// Dialect returns the dialect name of the connection.
	Dialect() string
	// QueryInt64 returns the single integer selected by query.
	QueryInt64(ctx context.Context, query string, args ...any) (int64, error)
}

// KeyGenerator fills in the primary key of inserted entities.
type KeyGenerator interface {
	// Manual reports whether the key is set by the application.
	Manual() bool
	// Inserted reports whether the database generates the key on insert,
	// which excludes the key columns from inserts.
	Inserted() bool
	// BeforeInsert sets the key of e before it is inserted.
	BeforeInsert(ctx context.Context, e *Entity, q KeyQuerier) error
	// AfterInsert sets the key of e after it has been inserted.
	AfterInsert(ctx context.Context, e *Entity, q KeyQuerier, res sql.Result) error
}

type manualKeyGenerator struct{}

// ManualKeyGenerator returns the generator of keys set by the application.
func ManualKeyGenerator() KeyGenerator { return manualKeyGenerator{} }

func (manualKeyGenerator) Manual() bool   { return true }
func (manualKeyGenerator) Inserted() bool { return false }

func (manualKeyGenerator) BeforeInsert(context.Context, *Entity, KeyQuerier) error { return nil }

func (manualKeyGenerator) AfterInsert(context.Context, *Entity, KeyQuerier, sql.Result) error {
	return nil
}

// queriedKeyGenerator selects the key before insert when the key is null.
type queriedKeyGenerator struct {
	query func(f dialect.Features, def *Definition) (string, error)
}

func (queriedKeyGenerator) Manual() bool   { return false }
func (queriedKeyGenerator) Inserted() bool { return false }

func (g queriedKeyGenerator) BeforeInsert(ctx context.Context, e *Entity, q KeyQuerier) error {
	if !e.Key().IsNull() {
		return nil
	}
	f, err := dialect.FeaturesOf(q.Dialect())
	if err != nil {
		return err
	}
	query, err := g.query(f, e.def)
	if err != nil {
		return err
	}
	id, err := q.QueryInt64(ctx, query)
	if err != nil {
		return fmt.Errorf("domain: generate key of %s: %w", e.def.id, err)
	}
	return setKey(e, id)
}

func (queriedKeyGenerator) AfterInsert(context.Context, *Entity, KeyQuerier, sql.Result) error {
	return nil
}

// IncrementKeyGenerator returns a generator selecting the maximum value
// of column in table plus one.
func IncrementKeyGenerator(table, column string) KeyGenerator {
	query := "SELECT COALESCE(MAX(" + column + "), 0) + 1 FROM " + table
	return queriedKeyGenerator{query: func(dialect.Features, *Definition) (string, error) {
		return query, nil
	}}
}

// SequenceKeyGenerator returns a generator selecting the next value of
// a database sequence.
func SequenceKeyGenerator(sequence string) KeyGenerator {
	return queriedKeyGenerator{query: func(f dialect.Features, _ *Definition) (string, error) {
		return f.SequenceQuery(sequence)
	}}
}

// QueriedKeyGenerator returns a generator selecting the key with query.
func QueriedKeyGenerator(query string) KeyGenerator {
	return queriedKeyGenerator{query: func(dialect.Features, *Definition) (string, error) {
		return query, nil
	}}
}

type automaticKeyGenerator struct {
	source string
}

// AutomaticKeyGenerator returns the generator of keys assigned by the
// database on insert. source names the sequence or table backing the
// identity on vendors that need one, and may be empty.
func AutomaticKeyGenerator(source string) KeyGenerator {
	return automaticKeyGenerator{source: source}
}

func (automaticKeyGenerator) Manual() bool   { return false }
func (automaticKeyGenerator) Inserted() bool { return true }

func (automaticKeyGenerator) BeforeInsert(context.Context, *Entity, KeyQuerier) error { return nil }

func (g automaticKeyGenerator) AfterInsert(ctx context.Context, e *Entity, q KeyQuerier, res sql.Result) error {
	f, err := dialect.FeaturesOf(q.Dialect())
	if err != nil {
		return err
	}
	if f.LastInsertID && res != nil {
		if id, err := res.LastInsertId(); err == nil {
			return setKey(e, id)
		}
	}
	column := e.def.primaryKey[0].column
	id, err := q.QueryInt64(ctx, f.AutoIncrementQuery(e.def.table, column, g.source))
	if err != nil {
		return fmt.Errorf("domain: read generated key of %s: %w", e.def.id, err)
	}
	return setKey(e, id)
}

func setKey(e *Entity, id int64) error {
	pk := e.def.primaryKey[0]
	v, err := pk.typ.Convert(id)
	if err != nil {
		return err
	}
	return e.put(pk, v, true)
}
