// Package repositories persists the pipeline's own bookkeeping: run history and the
// stage registration the staged load reads from.
package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"

	"github.com/MarkPhamm/consumer-complaint-pipeline/pkg/database"
)

// NotFound returns a 404 HTTP error with a descriptive message
func NotFound(format string, args ...any) error {
	return httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf(format, args...))
}

// Internal returns a 500 HTTP error
func Internal(message string) error {
	return httperror.NewHTTPError(http.StatusInternalServerError, message)
}

// Repository is embedded by every repository.
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{db: db, logger: logger}
}

func (r *Repository) DB() database.DB {
	return r.db
}

// lookupError converts the error of a single-row lookup of the kind entity identified by
// key: no rows becomes a 404, anything else is logged and becomes a 500.
func (r *Repository) lookupError(ctx context.Context, err error, kind string, key any) error {
	if errors.Is(err, sql.ErrNoRows) {
		return NotFound("%s %v does not exist", kind, key)
	}
	r.logger.WithContext(ctx).WithError(err).WithField(kind, key).Errorf("failed to get %s", kind)
	return Internal(fmt.Sprintf("failed to get %s", kind))
}
