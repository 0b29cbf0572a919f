package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"

	"github.com/lib/pq"

	"github.com/alfredjeanlab/contestfeed/internal/store"
)

// transientClasses are SQLSTATE classes after which a retry can succeed:
// connection exception, transaction rollback (serialization, deadlock),
// insufficient resources and operator intervention (admin shutdown).
var transientClasses = map[pq.ErrorClass]bool{
	"08": true,
	"40": true,
	"53": true,
	"57": true,
}

// classify marks transient failures with store.ErrUnavailable so callers can
// tell them apart from bugs and bad input.
func classify(err error) error {
	if err == nil || errors.Is(err, store.ErrUnavailable) {
		return err
	}
	if isTransient(err) {
		return fmt.Errorf("%w: %w", store.ErrUnavailable, err)
	}
	return err
}

func isTransient(err error) bool {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return transientClasses[pqErr.Code.Class()]
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
