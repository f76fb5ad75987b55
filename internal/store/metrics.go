package store

import (
	"context"

	"github.com/nebari-dev/labgate/internal/models"
	"gorm.io/gorm/clause"
)

// UpsertMetrics writes the snapshot for (lab, day), overwriting an existing one.
func (s *Store) UpsertMetrics(ctx context.Context, m *models.LabMetrics) error {
	err := s.with(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "lab_id"}, {Name: "asof"}},
		DoUpdates: clause.AssignmentColumns([]string{"utilization", "condition", "activity"}),
	}).Create(m).Error
	return translate(err)
}

// GetMetrics returns the snapshot of a lab for one day.
func (s *Store) GetMetrics(ctx context.Context, labID uint, asOf interface{}) (*models.LabMetrics, error) {
	var m models.LabMetrics
	if err := s.with(ctx).Where("lab_id = ? AND asof = ?", labID, asOf).First(&m).Error; err != nil {
		return nil, translate(err)
	}
	return &m, nil
}

// LatestMetricsByLab returns the most recent snapshot of every lab that has one.
func (s *Store) LatestMetricsByLab(ctx context.Context) (map[uint]models.LabMetrics, error) {
	var rows []models.LabMetrics
	if err := s.with(ctx).Order("lab_id ASC").Order("asof DESC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[uint]models.LabMetrics)
	for _, r := range rows {
		if _, ok := out[r.LabID]; !ok {
			out[r.LabID] = r
		}
	}
	return out, nil
}
