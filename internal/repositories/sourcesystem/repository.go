// Package sourcesystem resolves source system names for event enrichment.
package sourcesystem

import (
	"context"
	"database/sql"
	"errors"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/huandu/go-sqlbuilder"

	"github.com/DiSSCo/dissco-core-digital-specimen-processor/pkg/database"
	"github.com/DiSSCo/dissco-core-digital-specimen-processor/pkg/tracing"
)

// Repository reads source system metadata
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new source system repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{db: db, logger: logger}
}

// GetName returns the display name of a source system.
func (r *Repository) GetName(ctx context.Context, id string) (string, error) {
	ctx, span := tracing.StartSpan(ctx, "sourcesystem.Repository.GetName")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("name")
	sb.From("source_system")
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	var name string
	if err := r.db.GetContext(ctx, &name, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", httperror.NewHTTPErrorf(http.StatusNotFound, "source system %s not found", id)
		}
		r.logger.WithContext(ctx).WithError(err).WithField("id", id).Error("Failed to get source system name")
		return "", httperror.NewHTTPErrorf(http.StatusInternalServerError, "failed to get source system: %v", err)
	}
	return name, nil
}
