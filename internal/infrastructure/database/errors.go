package database

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// SQLSTATE classes of failures outside the statement itself
const (
	pgClassConnection      = "08"
	pgClassResources       = "53"
	pgClassOperatorAction  = "57"
	pgClassTransactionFail = "40"
)

// IsTransient reports failures caused by the database being unreachable or
// overloaded rather than by the statement itself. Only these count against
// the circuit breaker.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if len(pgErr.Code) < 2 {
			return false
		}
		switch pgErr.Code[:2] {
		case pgClassConnection, pgClassResources, pgClassOperatorAction, pgClassTransactionFail:
			return true
		}
		return false
	}

	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "closed pool")
}
