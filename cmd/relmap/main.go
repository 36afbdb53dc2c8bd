// Command relmap inspects a database through a relmap domain: it checks
// the connection, validates the mapping, selects and counts entities,
// runs database functions and reports pool statistics.
//
//	relmap --config relmap.yaml validate
//	relmap select scott.emp --where job=CLERK --order-by -sal
//	relmap monitor --interval 10s
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
