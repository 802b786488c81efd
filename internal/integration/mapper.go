package integration

import (
	"errors"
	"fmt"
)

// lineReference builds the ledger reference of one document line. It is
// stable so a redelivered event maps to the same idempotency key.
func lineReference(prefix, number string, line int) string {
	return fmt.Sprintf("%s:%s:%d", prefix, number, line+1)
}

func rejection(number string, refused []error) error {
	if len(refused) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", ErrStockRejected, number, errors.Join(refused...))
}
