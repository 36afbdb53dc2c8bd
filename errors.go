package relmap

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors shared by the connection layers.
var (
	// ErrNotFound is matched by every NotFoundError.
	ErrNotFound = errors.New("relmap: entity not found")

	// ErrNotSingular is matched by every NotSingularError.
	ErrNotSingular = errors.New("relmap: entity not singular")

	// ErrTxStarted is returned by BeginTransaction when a transaction is
	// already open on the connection.
	ErrTxStarted = errors.New("relmap: transaction already open")

	// ErrTxNotStarted is returned when committing or rolling back
	// without an open transaction.
	ErrTxNotStarted = errors.New("relmap: transaction is not open")

	// ErrReadOnly is returned when mutating a read only entity type.
	ErrReadOnly = errors.New("relmap: entity is read only")

	// ErrNoRowsAffected is returned when an update or delete did not
	// touch the expected rows.
	ErrNoRowsAffected = errors.New("relmap: no rows affected")
)

// NotFoundError is returned by single entity selects matching no row.
type NotFoundError struct {
	Entity    string
	Condition string // Rendered condition, may be empty
}

func (e *NotFoundError) Error() string {
	if e.Condition == "" {
		return fmt.Sprintf("relmap: %s not found", e.Entity)
	}
	return fmt.Sprintf("relmap: %s not found (%s)", e.Entity, e.Condition)
}

func (e *NotFoundError) Is(err error) bool { return err == ErrNotFound }

// NewNotFoundError returns a NotFoundError for entity. cond describes what
// was searched for and is formatted with %v when not nil.
func NewNotFoundError(entity string, cond any) *NotFoundError {
	e := &NotFoundError{Entity: entity}
	if cond != nil {
		e.Condition = fmt.Sprint(cond)
	}
	return e
}

// IsNotFound reports whether err is, or wraps, ErrNotFound.
func IsNotFound(err error) bool {
	return err != nil && errors.Is(err, ErrNotFound)
}

// NotSingularError is returned by single entity selects matching more than
// one row.
type NotSingularError struct {
	Entity string
	Rows   int
}

func (e *NotSingularError) Error() string {
	return fmt.Sprintf("relmap: %s not singular (%d rows)", e.Entity, e.Rows)
}

func (e *NotSingularError) Is(err error) bool { return err == ErrNotSingular }

// Count returns the number of rows selected.
func (e *NotSingularError) Count() int { return e.Rows }

// NewNotSingularError returns a NotSingularError for rows selected entities.
func NewNotSingularError(entity string, rows int) *NotSingularError {
	return &NotSingularError{Entity: entity, Rows: rows}
}

// IsNotSingular reports whether err is, or wraps, ErrNotSingular.
func IsNotSingular(err error) bool {
	return err != nil && errors.Is(err, ErrNotSingular)
}

// ConstraintKind classifies a database constraint violation.
type ConstraintKind uint8

// Constraint kinds.
const (
	ConstraintUnknown ConstraintKind = iota
	ConstraintUnique
	ConstraintForeignKey
	ConstraintCheck
)

var constraintNames = [...]string{
	ConstraintUnknown:    "unknown",
	ConstraintUnique:     "unique",
	ConstraintForeignKey: "foreign key",
	ConstraintCheck:      "check",
}

func (k ConstraintKind) String() string {
	if int(k) < len(constraintNames) {
		return constraintNames[k]
	}
	return constraintNames[ConstraintUnknown]
}

// ConstraintError is a database constraint violation, translated from the
// vendor error it wraps.
type ConstraintError struct {
	Kind ConstraintKind
	msg  string
	wrap error
}

func (e ConstraintError) Error() string {
	return fmt.Sprintf("relmap: %s constraint failed: %s", e.Kind, e.msg)
}

func (e ConstraintError) Unwrap() error { return e.wrap }

// NewConstraintError returns a ConstraintError of the given kind.
func NewConstraintError(kind ConstraintKind, msg string, wrap error) error {
	return ConstraintError{Kind: kind, msg: msg, wrap: wrap}
}

// IsConstraintError reports whether err wraps a ConstraintError.
func IsConstraintError(err error) bool {
	var e ConstraintError
	return err != nil && errors.As(err, &e)
}

// IsReferentialIntegrityError reports whether err wraps a foreign key
// ConstraintError.
func IsReferentialIntegrityError(err error) bool {
	var e ConstraintError
	return errors.As(err, &e) && e.Kind == ConstraintForeignKey
}

// ValidationError is returned when a property value is rejected by a
// validator.
type ValidationError struct {
	Name  string // Property id
	Value any
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("relmap: invalid value for %s: %s", e.Name, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// NewValidationError returns a ValidationError for the property name.
func NewValidationError(name string, value any, err error) *ValidationError {
	return &ValidationError{Name: name, Value: value, Err: err}
}

// IsValidationError reports whether err wraps a ValidationError.
func IsValidationError(err error) bool {
	var e *ValidationError
	return err != nil && errors.As(err, &e)
}

// RecordModifiedError is returned by optimistic locking when a row was
// changed or deleted by someone else since it was selected.
type RecordModifiedError struct {
	Entity   string
	Key      string   // Original key of the row
	Modified []string // Properties changed in the database, empty when deleted
}

func (e *RecordModifiedError) Error() string {
	if e.Deleted() {
		return fmt.Sprintf("relmap: %s %s has been deleted", e.Entity, e.Key)
	}
	return fmt.Sprintf("relmap: %s %s has been modified (%s)", e.Entity, e.Key, strings.Join(e.Modified, ", "))
}

// Deleted reports whether the row no longer exists.
func (e *RecordModifiedError) Deleted() bool { return len(e.Modified) == 0 }

// IsRecordModified reports whether err wraps a RecordModifiedError.
func IsRecordModified(err error) bool {
	var e *RecordModifiedError
	return err != nil && errors.As(err, &e)
}

// RollbackError is joined with the error that caused a rollback when the
// rollback itself fails.
type RollbackError struct {
	Err error
}

func (e *RollbackError) Error() string {
	return fmt.Sprintf("relmap: rollback failed: %v", e.Err)
}

func (e *RollbackError) Unwrap() error { return e.Err }

// OpError records the entity operation that failed.
type OpError struct {
	Entity   string
	Op       string // select, count, values, iterator, insert, update or delete
	Mutation bool
	Err      error
}

func (e *OpError) Error() string {
	if e.Mutation {
		return fmt.Sprintf("relmap: %s %s: %v", e.Op, e.Entity, e.Err)
	}
	return fmt.Sprintf("relmap: querying %s (%s): %v", e.Entity, e.Op, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

// NewQueryError returns an OpError for a failed select of entity.
func NewQueryError(entity, op string, err error) *OpError {
	return &OpError{Entity: entity, Op: op, Err: err}
}

// NewMutationError returns an OpError for a failed insert, update or
// delete of entity.
func NewMutationError(entity, op string, err error) *OpError {
	return &OpError{Entity: entity, Op: op, Mutation: true, Err: err}
}

// IsMutationError reports whether err wraps an OpError of a mutation.
func IsMutationError(err error) bool {
	var e *OpError
	return errors.As(err, &e) && e.Mutation
}

// PrivacyError is returned when a privacy policy denies an operation.
type PrivacyError struct {
	Entity string
	Op     string
	Rule   string // Reason given by the denying rule
}

func (e *PrivacyError) Error() string {
	if e.Rule == "" {
		return fmt.Sprintf("relmap: privacy denied %s on %s", e.Op, e.Entity)
	}
	return fmt.Sprintf("relmap: privacy denied %s on %s: %s", e.Op, e.Entity, e.Rule)
}

// NewPrivacyError returns a PrivacyError for op on entity.
func NewPrivacyError(entity, op, rule string) *PrivacyError {
	return &PrivacyError{Entity: entity, Op: op, Rule: rule}
}

// IsPrivacyError reports whether err wraps a PrivacyError.
func IsPrivacyError(err error) bool {
	var e *PrivacyError
	return err != nil && errors.As(err, &e)
}
