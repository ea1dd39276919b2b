package backend

import (
	"context"

	"github.com/relabs-tech/gardenbase/core"
	"github.com/relabs-tech/gardenbase/core/gateway"
	"github.com/relabs-tech/gardenbase/core/logger"
)

// EntryHook is an in-band hook which may modify an entry before it is written.
// A returned error aborts the operation; it is reported to the caller as invalid
// value, http.StatusBadRequest.
type EntryHook func(ctx context.Context, table string, entry gateway.Entry) error

func hookKey(table string, operation core.Operation) string {
	return table + ":" + string(operation)
}

// HandleEntry installs an entry hook for a given table and a set of write operations.
// If no operations are specified, the hook is installed for create and update.
// Several hooks for the same table and operation run in installation order.
//
// Hooks apply to the HTTP routes, entries of batch updates are hooked one by one.
func (b *Backend) HandleEntry(table string, hook EntryHook, operations ...core.Operation) {
	if _, ok := b.Registry.Describe(table); !ok {
		logger.Default().Fatalf("handle entry for %s: no such table", table)
	}
	if len(operations) == 0 {
		operations = []core.Operation{core.OperationCreate, core.OperationUpdate}
	}
	for _, operation := range operations {
		key := hookKey(table, operation)
		logger.Default().Debugf("install entry hook for %s", key)
		b.hooks[key] = append(b.hooks[key], hook)
	}
}

func (b *Backend) runHooks(ctx context.Context, table string, operation core.Operation, entry gateway.Entry) error {
	for _, hook := range b.hooks[hookKey(table, operation)] {
		if err := hook(ctx, table, entry); err != nil {
			return err
		}
	}
	return nil
}
