package store

import (
	"context"

	"github.com/nebari-dev/labgate/internal/models"
)

// FindAccess returns the row for (engineer, lab, status). Uniqueness guarantees at most one.
func (s *Store) FindAccess(ctx context.Context, engineerID, labID uint, status models.AccessStatus) (*models.LabAccess, error) {
	var row models.LabAccess
	err := s.with(ctx).
		Where("engineer_id = ? AND lab_id = ? AND status = ?", engineerID, labID, status).
		Order("effective_at DESC").
		First(&row).Error
	if err != nil {
		return nil, translate(err)
	}
	return &row, nil
}

// GetAccess looks up an access row by id.
func (s *Store) GetAccess(ctx context.Context, id uint) (*models.LabAccess, error) {
	var row models.LabAccess
	if err := s.with(ctx).First(&row, id).Error; err != nil {
		return nil, translate(err)
	}
	return &row, nil
}

// ListAccessForPair returns every row of an (engineer, lab) pair, newest first.
func (s *Store) ListAccessForPair(ctx context.Context, engineerID, labID uint) ([]models.LabAccess, error) {
	var rows []models.LabAccess
	err := s.with(ctx).
		Where("engineer_id = ? AND lab_id = ?", engineerID, labID).
		Order("effective_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// ListAccessByStatus returns rows in any of the given states, newest first.
// With no states it returns every row.
func (s *Store) ListAccessByStatus(ctx context.Context, statuses ...models.AccessStatus) ([]models.LabAccess, error) {
	q := s.with(ctx).Order("effective_at DESC").Order("id DESC")
	if len(statuses) > 0 {
		q = q.Where("status IN ?", statuses)
	}
	var rows []models.LabAccess
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// ListAccessForEngineer returns every row of one engineer, newest first.
func (s *Store) ListAccessForEngineer(ctx context.Context, engineerID uint) ([]models.LabAccess, error) {
	var rows []models.LabAccess
	err := s.with(ctx).
		Where("engineer_id = ?", engineerID).
		Order("effective_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// DeleteAccessForPair removes every row of an (engineer, lab) pair.
func (s *Store) DeleteAccessForPair(ctx context.Context, engineerID, labID uint) (int64, error) {
	res := s.with(ctx).
		Where("engineer_id = ? AND lab_id = ?", engineerID, labID).
		Delete(&models.LabAccess{})
	return res.RowsAffected, translate(res.Error)
}
