// Package specimen persists digital specimen records. Bulk writes are single
// statements so that one call is one atomic failure point for the saga.
package specimen

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

const columns = "id, version, mids_level, physical_specimen_id, type, data, original_data, relationships, enrichment_list, force_schedule, created, last_checked"

// Repository handles digital specimen persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new specimen repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{db: db, logger: logger}
}

type dao struct {
	ID                 string                                        `db:"id"`
	Version            int                                           `db:"version"`
	MidsLevel          int                                           `db:"mids_level"`
	PhysicalSpecimenID string                                        `db:"physical_specimen_id"`
	Type               string                                        `db:"type"`
	Data               database.JSONB[map[string]any]                `db:"data"`
	OriginalData       database.JSONB[map[string]any]                `db:"original_data"`
	Relationships      database.JSONB[[]models.EntityRelationship]   `db:"relationships"`
	EnrichmentList     database.JSONB[[]string]                      `db:"enrichment_list"`
	ForceSchedule      bool                                          `db:"force_schedule"`
	Created            time.Time                                     `db:"created"`
	LastChecked        time.Time                                     `db:"last_checked"`
}

func (d dao) toRecord() models.SpecimenRecord {
	return models.SpecimenRecord{
		ID:                 d.ID,
		Version:            d.Version,
		MidsLevel:          d.MidsLevel,
		PhysicalSpecimenID: d.PhysicalSpecimenID,
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

func toDao(rec models.SpecimenRecord) dao {
	return dao{
		ID:                 rec.ID,
		Version:            rec.Version,
		MidsLevel:          rec.MidsLevel,
		PhysicalSpecimenID: rec.PhysicalSpecimenID,
		Type:               rec.Type,
		Data:               database.JSONB[map[string]any]{Data: rec.Attributes},
		OriginalData:       database.JSONB[map[string]any]{Data: rec.OriginalAttributes},
		Relationships:      database.JSONB[[]models.EntityRelationship]{Data: rec.Relationships},
		EnrichmentList:     database.JSONB[[]string]{Data: rec.EnrichmentList},
		ForceSchedule:      rec.ForceSchedule,
		Created:            rec.Created,
		LastChecked:        rec.LastChecked,
	}
}

// GetByPhysicalIDs bulk-fetches the current records for a set of physical
// specimen ids. Missing keys are simply absent from the result.
func (r *Repository) GetByPhysicalIDs(ctx context.Context, physicalIDs []string) ([]models.SpecimenRecord, error) {
	ctx, span := tracing.StartSpan(ctx, "specimen.Repository.GetByPhysicalIDs")
	defer span.End()

	if len(physicalIDs) == 0 {
		return nil, nil
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns)
	sb.From("digital_specimen")
	sb.Where(sb.In("physical_specimen_id", sqlbuilder.Flatten(physicalIDs)...))

	query, args := sb.Build()
	var daos []dao
	if err := r.db.SelectContext(ctx, &daos, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"count": len(physicalIDs)}).Error("Failed to get specimens by physical id")
		return nil, httperror.NewHTTPErrorf(http.StatusInternalServerError, "failed to get specimens: %v", err)
	}

	records := make([]models.SpecimenRecord, len(daos))
	for i, d := range daos {
		records[i] = d.toRecord()
	}
	return records, nil
}

// BulkUpsert writes all records in one statement. Created is only written on
// insert; updates keep the original creation timestamp in place. Returns the
// number of rows written.
func (r *Repository) BulkUpsert(ctx context.Context, records []models.SpecimenRecord) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "specimen.Repository.BulkUpsert")
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
			d.ID, d.Version, d.MidsLevel, d.PhysicalSpecimenID, d.Type,
			d.Data, d.OriginalData, d.Relationships, d.EnrichmentList,
			d.ForceSchedule, d.Created, d.LastChecked,
		)
	}

	query := fmt.Sprintf(`
		INSERT INTO digital_specimen (%s)
		VALUES %s
		ON CONFLICT (id) DO UPDATE SET
			version = EXCLUDED.version,
			mids_level = EXCLUDED.mids_level,
			physical_specimen_id = EXCLUDED.physical_specimen_id,
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
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"count": len(records)}).Error("Failed to bulk upsert specimens")
		return 0, httperror.NewHTTPErrorf(http.StatusInternalServerError, "failed to upsert specimens: %v", err)
	}

	rows, _ := result.RowsAffected()
	return int(rows), nil
}

// BumpLastChecked stamps the last-checked timestamp for Equal entities in one
// write; no other system is touched on the Equal path.
func (r *Repository) BumpLastChecked(ctx context.Context, ids []string) error {
	ctx, span := tracing.StartSpan(ctx, "specimen.Repository.BumpLastChecked")
	defer span.End()

	if len(ids) == 0 {
		return nil
	}

	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update("digital_specimen")
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
// Used as the compensating action for a failed update.
func (r *Repository) RollbackToVersion(ctx context.Context, rec models.SpecimenRecord) error {
	ctx, span := tracing.StartSpan(ctx, "specimen.Repository.RollbackToVersion")
	defer span.End()

	d := toDao(rec)
	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update("digital_specimen")
	sb.Set(
		sb.Assign("version", d.Version),
		sb.Assign("mids_level", d.MidsLevel),
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
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"id": rec.ID, "version": rec.Version}).Error("Failed to roll back specimen version")
		return httperror.NewHTTPErrorf(http.StatusInternalServerError, "failed to roll back specimen: %v", err)
	}
	return nil
}

// Delete removes the row entirely. Used as the compensating action for a
// failed create; deleting an id that is already gone is not an error.
func (r *Repository) Delete(ctx context.Context, id string) error {
	ctx, span := tracing.StartSpan(ctx, "specimen.Repository.Delete")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewDeleteBuilder()
	sb.DeleteFrom("digital_specimen")
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"id": id}).Error("Failed to delete specimen")
		return httperror.NewHTTPErrorf(http.StatusInternalServerError, "failed to delete specimen: %v", err)
	}
	return nil
}
