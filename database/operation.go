package database

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrUnknownOperation is returned when running an operation that is
	// not registered.
	ErrUnknownOperation = errors.New("database: unknown operation")

	// ErrOperationTx is returned when an operation is started inside an
	// open transaction, or leaves one open.
	ErrOperationTx = errors.New("database: operation transaction misuse")
)

// Function is a database operation returning a value.
type Function func(ctx context.Context, c *Connection, args ...any) (any, error)

// Procedure is a database operation returning nothing.
type Procedure func(ctx context.Context, c *Connection, args ...any) error

// Operations is a registry of functions and procedures by id.
type Operations struct {
	mu         sync.RWMutex
	functions  map[string]Function
	procedures map[string]Procedure
}

// NewOperations returns an empty registry.
func NewOperations() *Operations {
	return &Operations{
		functions:  make(map[string]Function),
		procedures: make(map[string]Procedure),
	}
}

// AddFunction registers f as id, replacing any previous one.
func (o *Operations) AddFunction(id string, f Function) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.functions[id] = f
}

// AddProcedure registers p as id, replacing any previous one.
func (o *Operations) AddProcedure(id string, p Procedure) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.procedures[id] = p
}

// Function returns the function registered as id.
func (o *Operations) Function(id string) (Function, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if f, ok := o.functions[id]; ok {
		return f, nil
	}
	return nil, fmt.Errorf("%w: function %s", ErrUnknownOperation, id)
}

// Procedure returns the procedure registered as id.
func (o *Operations) Procedure(id string) (Procedure, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if p, ok := o.procedures[id]; ok {
		return p, nil
	}
	return nil, fmt.Errorf("%w: procedure %s", ErrUnknownOperation, id)
}

// ExecuteFunction runs the function registered as id. It refuses to
// start inside an open transaction, and rolls back a transaction the
// function leaves open.
func (c *Connection) ExecuteFunction(ctx context.Context, id string, args ...any) (v any, err error) {
	c.log.Access("executeFunction", append([]any{id}, args...)...)
	defer func() { c.logExit("executeFunction", err) }()
	f, err := c.db.operations.Function(id)
	if err != nil {
		return nil, err
	}
	if c.IsTransactionOpen() {
		return nil, fmt.Errorf("%w: function %s called within an open transaction", ErrOperationTx, id)
	}
	v, err = f(ctx, c, args...)
	return v, errors.Join(err, c.closeOperationTx("function", id))
}

// ExecuteProcedure runs the procedure registered as id, like
// ExecuteFunction.
func (c *Connection) ExecuteProcedure(ctx context.Context, id string, args ...any) (err error) {
	c.log.Access("executeProcedure", append([]any{id}, args...)...)
	defer func() { c.logExit("executeProcedure", err) }()
	p, err := c.db.operations.Procedure(id)
	if err != nil {
		return err
	}
	if c.IsTransactionOpen() {
		return fmt.Errorf("%w: procedure %s called within an open transaction", ErrOperationTx, id)
	}
	return errors.Join(p(ctx, c, args...), c.closeOperationTx("procedure", id))
}

func (c *Connection) closeOperationTx(kind, id string) error {
	if !c.IsTransactionOpen() {
		return nil
	}
	return errors.Join(
		fmt.Errorf("%w: %s %s did not end its transaction", ErrOperationTx, kind, id),
		c.RollbackTransaction(),
	)
}
