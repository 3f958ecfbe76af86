package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/threatmodelerx/go-api/tmx/postgres/models"
)

// ErrNotFound is returned by Get for an unknown scan id.
var ErrNotFound = errors.New("scan record not found")

// Filters represents filters for listing scan records
type Filters struct {
	Limit     int
	Offset    int
	State     string
	RepoPath  string
	StartTime *time.Time
	EndTime   *time.Time
}

// Summary represents aggregated history statistics
type Summary struct {
	TotalScans int            `json:"total_scans"`
	ByState    map[string]int `json:"by_state"`
	// AverageDuration covers finished scans only.
	AverageDuration time.Duration `json:"average_duration"`
}

// Repository reads and writes scan records.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Upsert inserts record or updates the row with the same scan id.
func (r *Repository) Upsert(ctx context.Context, record *models.ScanRecord) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "scan_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"state", "status_text", "progress", "error", "polls",
				"finished_at", "metadata", "updated_at",
			}),
		}).
		Create(record).Error
	if err != nil {
		return fmt.Errorf("failed to upsert scan record %s: %w", record.ScanID, err)
	}
	return nil
}

// List returns records matching filters, newest first, and the total match count.
func (r *Repository) List(ctx context.Context, filters Filters) ([]models.ScanRecord, int, error) {
	query := r.db.WithContext(ctx).Model(&models.ScanRecord{})

	if filters.State != "" {
		query = query.Where("state = ?", filters.State)
	}
	if filters.RepoPath != "" {
		query = query.Where("repo_path = ?", filters.RepoPath)
	}
	if filters.StartTime != nil {
		query = query.Where("started_at >= ?", filters.StartTime)
	}
	if filters.EndTime != nil {
		query = query.Where("started_at <= ?", filters.EndTime)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count scan records: %w", err)
	}

	filters = normalize(filters)

	var records []models.ScanRecord
	err := query.
		Order("started_at DESC").
		Limit(filters.Limit).
		Offset(filters.Offset).
		Find(&records).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query scan records: %w", err)
	}
	return records, int(total), nil
}

// normalize applies the pagination bounds: default 50, at most 500.
func normalize(filters Filters) Filters {
	if filters.Limit <= 0 {
		filters.Limit = 50
	}
	if filters.Limit > 500 {
		filters.Limit = 500
	}
	if filters.Offset < 0 {
		filters.Offset = 0
	}
	return filters
}

// Get returns the record of scanID.
func (r *Repository) Get(ctx context.Context, scanID string) (*models.ScanRecord, error) {
	var record models.ScanRecord
	err := r.db.WithContext(ctx).Where("scan_id = ?", scanID).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, scanID)
		}
		return nil, fmt.Errorf("failed to get scan record: %w", err)
	}
	return &record, nil
}

// Summarize counts records per state and averages finished scan durations.
func (r *Repository) Summarize(ctx context.Context) (*Summary, error) {
	db := r.db.WithContext(ctx)
	summary := &Summary{ByState: make(map[string]int)}

	var stateCounts []struct {
		State string
		Count int
	}
	if err := db.Model(&models.ScanRecord{}).
		Select("state, COUNT(*) as count").
		Group("state").
		Scan(&stateCounts).Error; err != nil {
		return nil, fmt.Errorf("failed to count by state: %w", err)
	}
	for _, item := range stateCounts {
		summary.ByState[item.State] = item.Count
		summary.TotalScans += item.Count
	}

	var avg struct {
		Seconds *float64
	}
	if err := db.Model(&models.ScanRecord{}).
		Select("AVG(EXTRACT(EPOCH FROM (finished_at - started_at))) as seconds").
		Where("finished_at IS NOT NULL").
		Scan(&avg).Error; err != nil {
		return nil, fmt.Errorf("failed to average durations: %w", err)
	}
	if avg.Seconds != nil {
		summary.AverageDuration = time.Duration(*avg.Seconds * float64(time.Second))
	}
	return summary, nil
}

// DeleteOlderThan removes records started before now minus olderThan.
func (r *Repository) DeleteOlderThan(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	result := r.db.WithContext(ctx).Where("started_at < ?", cutoff).Delete(&models.ScanRecord{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to delete old scan records: %w", result.Error)
	}
	return result.RowsAffected, nil
}
