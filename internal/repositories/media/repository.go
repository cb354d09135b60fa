// Package media persists digital media records.
package media

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/huandu/go-sqlbuilder"

	"github.com/DiSSCo/dissco-core-digital-specimen-processor/pkg/database"
	"github.com/DiSSCo/dissco-core-digital-specimen-processor/pkg/models"
	"github.com/DiSSCo/dissco-core-digital-specimen-processor/pkg/tracing"
)

const columns = "id, version, access_uri, specimen_id, type, data, original_data, relationships, enrichment_list, force_schedule, created, last_checked"

// Repository handles digital media persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new media repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{db: db, logger: logger}
}

type dao struct {
	ID             string                                      `db:"id"`
	Version        int                                         `db:"version"`
	AccessURI      string                                      `db:"access_uri"`
	SpecimenID     string                                      `db:"specimen_id"`
	Type           string                                      `db:"type"`
	Data           database.JSONB[map[string]any]              `db:"data"`
	OriginalData   database.JSONB[map[string]any]              `db:"original_data"`
	Relationships  database.JSONB[[]models.EntityRelationship] `db:"relationships"`
	EnrichmentList database.JSONB[[]string]                    `db:"enrichment_list"`
	ForceSchedule  bool                                        `db:"force_schedule"`
	Created        time.Time                                   `db:"created"`
	LastChecked    time.Time                                   `db:"last_checked"`
}

func (d dao) toRecord() models.MediaRecord {
	return models.MediaRecord{
		ID:                 d.ID,
		Version:            d.Version,
		AccessURI:          d.AccessURI,
		SpecimenID:         d.SpecimenID,
		Type:               d.Type,
		Attributes:         d.Data.Data,
		OriginalAttributes: d.OriginalData.Data,
		Relationships:      d.Relationships.Data,
		EnrichmentList:     d.EnrichmentList.Data,
		ForceSchedule:      d.ForceSchedule,
		Created:            d.Created,
		LastChecked:        d.LastChecked,
	}
}

func toDao(rec models.MediaRecord) dao {
	return dao{
		ID:             rec.ID,
		Version:        rec.Version,
		AccessURI:      rec.AccessURI,
		SpecimenID:     rec.SpecimenID,
		Type:           rec.Type,
		Data:           database.JSONB[map[string]any]{Data: rec.Attributes},
		OriginalData:   database.JSONB[map[string]any]{Data: rec.OriginalAttributes},
		Relationships:  database.JSONB[[]models.EntityRelationship]{Data: rec.Relationships},
		EnrichmentList: database.JSONB[[]string]{Data: rec.EnrichmentList},
		ForceSchedule:  rec.ForceSchedule,
		Created:        rec.Created,
		LastChecked:    rec.LastChecked,
	}
}

// GetByURIs bulk-fetches current media records by access URI. Missing URIs
// are absent from the result.
func (r *Repository) GetByURIs(ctx context.Context, uris []string) ([]models.MediaRecord, error) {
	ctx, span := tracing.StartSpan(ctx, "media.Repository.GetByURIs")
	defer span.End()

	if len(uris) == 0 {
		return nil, nil
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns)
	sb.From("digital_media")
	sb.Where(sb.In("access_uri", sqlbuilder.Flatten(uris)...))

	query, args := sb.Build()
	var daos []dao
	if err := r.db.SelectContext(ctx, &daos, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"count": len(uris)}).Error("Failed to get media by access uri")
		return nil, httperror.NewHTTPErrorf(http.StatusInternalServerError, "failed to get media: %v", err)
	}

	records := make([]models.MediaRecord, len(daos))
	for i, d := range daos {
		records[i] = d.toRecord()
	}
	return records, nil
}

// BulkUpsert writes all records in one statement; created is only written on
// insert. Returns the number of rows written.
func (r *Repository) BulkUpsert(ctx context.Context, records []models.MediaRecord) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "media.Repository.BulkUpsert")
	defer span.End()

	if len(records) == 0 {
		return 0, nil
	}

	var (
		placeholders []string
		args         []any
	)
	for i, rec := range records {
		d := toDao(rec)
		base := i * 12
		placeholders = append(placeholders, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9, base+10, base+11, base+12,
		))
		args = append(args,
			d.ID, d.Version, d.AccessURI, d.SpecimenID, d.Type,
			d.Data, d.OriginalData, d.Relationships, d.EnrichmentList,
			d.ForceSchedule, d.Created, d.LastChecked,
		)
	}

	query := fmt.Sprintf(`
		INSERT INTO digital_media (%s)
		VALUES %s
		ON CONFLICT (id) DO UPDATE SET
			version = EXCLUDED.version,
			access_uri = EXCLUDED.access_uri,
			specimen_id = EXCLUDED.specimen_id,
			type = EXCLUDED.type,
			data = EXCLUDED.data,
			original_data = EXCLUDED.original_data,
			relationships = EXCLUDED.relationships,
			enrichment_list = EXCLUDED.enrichment_list,
			force_schedule = EXCLUDED.force_schedule,
			last_checked = EXCLUDED.last_checked
	`, columns, strings.Join(placeholders, ", "))

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"count": len(records)}).Error("Failed to bulk upsert media")
		return 0, httperror.NewHTTPErrorf(http.StatusInternalServerError, "failed to upsert media: %v", err)
	}

	rows, _ := result.RowsAffected()
	return int(rows), nil
}

// BumpLastChecked stamps the last-checked timestamp for Equal entities.
func (r *Repository) BumpLastChecked(ctx context.Context, ids []string) error {
	ctx, span := tracing.StartSpan(ctx, "media.Repository.BumpLastChecked")
	defer span.End()

	if len(ids) == 0 {
		return nil
	}

	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update("digital_media")
	sb.Set(sb.Assign("last_checked", time.Now().UTC()))
	sb.Where(sb.In("id", sqlbuilder.Flatten(ids)...))

	query, args := sb.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"count": len(ids)}).Error("Failed to bump last checked")
		return httperror.NewHTTPErrorf(http.StatusInternalServerError, "failed to bump last checked: %v", err)
	}
	return nil
}

// RollbackToVersion rewrites the row to an earlier version of the record.
func (r *Repository) RollbackToVersion(ctx context.Context, rec models.MediaRecord) error {
	ctx, span := tracing.StartSpan(ctx, "media.Repository.RollbackToVersion")
	defer span.End()

	d := toDao(rec)
	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update("digital_media")
	sb.Set(
		sb.Assign("version", d.Version),
		sb.Assign("access_uri", d.AccessURI),
		sb.Assign("specimen_id", d.SpecimenID),
		sb.Assign("data", d.Data),
		sb.Assign("original_data", d.OriginalData),
		sb.Assign("relationships", d.Relationships),
		sb.Assign("enrichment_list", d.EnrichmentList),
		sb.Assign("force_schedule", d.ForceSchedule),
		sb.Assign("last_checked", d.LastChecked),
	)
	sb.Where(sb.Equal("id", d.ID))

	query, args := sb.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"id": rec.ID, "version": rec.Version}).Error("Failed to roll back media version")
		return httperror.NewHTTPErrorf(http.StatusInternalServerError, "failed to roll back media: %v", err)
	}
	return nil
}

// Delete removes the row; deleting an id that is already gone is not an error.
func (r *Repository) Delete(ctx context.Context, id string) error {
	ctx, span := tracing.StartSpan(ctx, "media.Repository.Delete")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewDeleteBuilder()
	sb.DeleteFrom("digital_media")
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"id": id}).Error("Failed to delete media")
		return httperror.NewHTTPErrorf(http.StatusInternalServerError, "failed to delete media: %v", err)
	}
	return nil
}

// UnlinkSpecimen clears the owning specimen on media whose specimen-side
// relationship was tombstoned, without touching the media payload itself.
func (r *Repository) UnlinkSpecimen(ctx context.Context, mediaIDs []string) error {
	ctx, span := tracing.StartSpan(ctx, "media.Repository.UnlinkSpecimen")
	defer span.End()

	if len(mediaIDs) == 0 {
		return nil
	}

	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update("digital_media")
	sb.Set(sb.Assign("specimen_id", models.UnknownSpecimen))
	sb.Where(sb.In("id", sqlbuilder.Flatten(mediaIDs)...))

	query, args := sb.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"count": len(mediaIDs)}).Error("Failed to unlink media from specimen")
		return httperror.NewHTTPErrorf(http.StatusInternalServerError, "failed to unlink media: %v", err)
	}
	return nil
}
