package schema

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/syssam/relmap/database"
	"github.com/syssam/relmap/domain"
)

// ValidationError is a problem found by validation.
type ValidationError struct {
	Table   string
	Column  string
	Message string
	// Breaking marks problems that make selects or inserts fail.
	Breaking bool
}

func (e *ValidationError) Error() string {
	switch {
	case e.Table == "":
		return e.Message
	case e.Column != "":
		return fmt.Sprintf("%s.%s: %s", e.Table, e.Column, e.Message)
	default:
		return fmt.Sprintf("%s: %s", e.Table, e.Message)
	}
}

// ValidationResult holds the results of schema validation.
type ValidationResult struct {
	Errors   []*ValidationError
	Warnings []*ValidationError
}

// HasErrors returns true if there are any validation errors.
func (r *ValidationResult) HasErrors() bool {
	return len(r.Errors) > 0
}

// HasWarnings returns true if there are any validation warnings.
func (r *ValidationResult) HasWarnings() bool {
	return len(r.Warnings) > 0
}

// HasBreakingChanges returns true if any problem is breaking.
func (r *ValidationResult) HasBreakingChanges() bool {
	for _, e := range r.Errors {
		if e.Breaking {
			return true
		}
	}
	for _, w := range r.Warnings {
		if w.Breaking {
			return true
		}
	}
	return false
}

// Err returns the errors joined, or nil.
func (r *ValidationResult) Err() error {
	errs := make([]error, len(r.Errors))
	for i, e := range r.Errors {
		errs[i] = e
	}
	return errors.Join(errs...)
}

func (r *ValidationResult) merge(o *ValidationResult) {
	r.Errors = append(r.Errors, o.Errors...)
	r.Warnings = append(r.Warnings, o.Warnings...)
}

func (r *ValidationResult) warn(table, column, format string, args ...any) {
	r.Warnings = append(r.Warnings, &ValidationError{Table: table, Column: column, Message: fmt.Sprintf(format, args...)})
}

// String returns a human-readable summary of the validation result.
func (r *ValidationResult) String() string {
	var sb strings.Builder
	write := func(title string, problems []*ValidationError) {
		if len(problems) == 0 {
			return
		}
		sb.WriteString(title)
		sb.WriteString(":\n")
		for _, p := range problems {
			sb.WriteString("  - ")
			sb.WriteString(p.Error())
			if p.Breaking {
				sb.WriteString(" [BREAKING]")
			}
			sb.WriteString("\n")
		}
	}
	write("Errors", r.Errors)
	write("Warnings", r.Warnings)
	if !r.HasErrors() && !r.HasWarnings() {
		sb.WriteString("No issues found")
	}
	return sb.String()
}

// ValidateOption configures schema validation.
type ValidateOption func(*validateConfig)

type validateConfig struct {
	skipTables    map[string]bool
	skipLive      bool
	allowUnmapped bool
}

func newConfig(opts []ValidateOption) *validateConfig {
	cfg := &validateConfig{skipTables: make(map[string]bool)}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// SkipTables excludes the tables from the live check.
func SkipTables(tables ...string) ValidateOption {
	return func(c *validateConfig) {
		for _, t := range tables {
			c.skipTables[strings.ToLower(t)] = true
		}
	}
}

// SkipLive validates the definitions only, without a connection.
func SkipLive() ValidateOption {
	return func(c *validateConfig) {
		c.skipLive = true
	}
}

// AllowUnmapped drops the warnings about database columns no entity maps.
func AllowUnmapped() ValidateOption {
	return func(c *validateConfig) {
		c.allowUnmapped = true
	}
}

// Validate checks the definitions of dom and, unless skipped or conn is
// nil, that the mapped tables and columns exist in the database.
//
// Example:
//
//	result, err := schema.Validate(ctx, dom, conn)
//	if err != nil {
//	    return err
//	}
//	if result.HasBreakingChanges() {
//	    log.Fatal("schema mismatch:", result)
//	}
func Validate(ctx context.Context, dom *domain.Domain, conn *database.Connection, opts ...ValidateOption) (*ValidationResult, error) {
	cfg := newConfig(opts)
	result := ValidateDomain(dom)
	if cfg.skipLive || conn == nil {
		return result, nil
	}
	for _, mapped := range Mapped(dom) {
		if cfg.skipTables[strings.ToLower(mapped.Name)] {
			continue
		}
		live, err := Inspect(ctx, conn, mapped.Name)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			result.Errors = append(result.Errors, &ValidationError{
				Table:    mapped.Name,
				Message:  fmt.Sprintf("table not found: %v", errors.Unwrap(err)),
				Breaking: true,
			})
			continue
		}
		result.merge(ValidateTable(live, mapped, opts...))
	}
	return result, nil
}

// ValidateDomain checks the references between the definitions of dom
// and the mapping of each table.
func ValidateDomain(dom *domain.Domain) *ValidationResult {
	result := &ValidationResult{}
	if err := dom.Validate(); err != nil {
		errs := []error{err}
		if joined, ok := err.(interface{ Unwrap() []error }); ok {
			errs = joined.Unwrap()
		}
		for _, e := range errs {
			result.Errors = append(result.Errors, &ValidationError{Message: e.Error(), Breaking: true})
		}
	}
	for _, def := range dom.Definitions() {
		columns := make(map[string]string)
		for _, col := range def.Columns() {
			if _, ok := col.(*domain.MirrorProperty); ok {
				continue
			}
			if _, ok := col.(*domain.SubqueryProperty); ok {
				continue
			}
			name := strings.ToLower(col.ColumnName())
			if other, ok := columns[name]; ok {
				result.Errors = append(result.Errors, &ValidationError{
					Table:   def.Table(),
					Column:  col.ColumnName(),
					Message: fmt.Sprintf("column mapped by both %s and %s of %s", other, col.ID(), def.ID()),
				})
				continue
			}
			columns[name] = col.ID()
		}
	}
	return result
}

// ValidateTable compares the live table with its mapping. A mapped column
// missing from the database is a breaking error. Type, nullability and
// size mismatches, and columns no entity maps, are warnings.
func ValidateTable(live, mapped *Table, opts ...ValidateOption) *ValidationResult {
	cfg := newConfig(opts)
	result := &ValidationResult{}
	for _, m := range mapped.Columns {
		c, ok := live.Column(m.Name)
		if !ok {
			result.Errors = append(result.Errors, &ValidationError{
				Table:    mapped.Name,
				Column:   m.Name,
				Message:  fmt.Sprintf("column of %s not found", m.Entity),
				Breaking: true,
			})
			continue
		}
		if m.property != nil && !compatible(m.property.Type(), c.Type) {
			result.warn(mapped.Name, m.Name, "%s column has database type %s", m.Type, c.Type)
		}
		if c.nullKnown && !c.Nullable && m.Nullable && !hasDefault(m.property) {
			result.warn(mapped.Name, m.Name, "NOT NULL column is nullable in %s", m.Entity)
		}
		if c.Size > 0 && m.Size > c.Size {
			result.warn(mapped.Name, m.Name, "maximum length %d exceeds the column size %d", m.Size, c.Size)
		}
	}
	if !cfg.allowUnmapped {
		for _, c := range live.Columns {
			if _, ok := mapped.Column(c.Name); !ok {
				result.warn(mapped.Name, c.Name, "column is not mapped")
			}
		}
	}
	return result
}

func hasDefault(p domain.Property) bool {
	if c, ok := domain.AsColumn(p); ok {
		return c.HasDefault() || c.IsPrimaryKey()
	}
	return false
}
