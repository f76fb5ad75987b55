package store

import (
	"context"

	"github.com/nebari-dev/labgate/internal/models"
)

// LatestCompletion returns the most recent completion of a course by an engineer.
// It returns ErrNotFound when the engineer never completed the course.
func (s *Store) LatestCompletion(ctx context.Context, engineerID, courseID uint) (*models.Completion, error) {
	var c models.Completion
	err := s.with(ctx).
		Where("engineer_id = ? AND course_id = ?", engineerID, courseID).
		Order("date_taken DESC").
		Order("id DESC").
		First(&c).Error
	if err != nil {
		return nil, translate(err)
	}
	return &c, nil
}

// GetCompletion looks up a completion by id.
func (s *Store) GetCompletion(ctx context.Context, id uint) (*models.Completion, error) {
	var c models.Completion
	if err := s.with(ctx).First(&c, id).Error; err != nil {
		return nil, translate(err)
	}
	return &c, nil
}

// ListCompletions returns every completion, newest first.
func (s *Store) ListCompletions(ctx context.Context) ([]models.Completion, error) {
	var rows []models.Completion
	if err := s.with(ctx).Order("date_taken DESC").Order("id DESC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// LatestCompletions returns the newest completion per (engineer, course) pair.
func (s *Store) LatestCompletions(ctx context.Context) ([]models.Completion, error) {
	all, err := s.ListCompletions(ctx)
	if err != nil {
		return nil, err
	}

	type key struct{ engineer, course uint }
	seen := make(map[key]bool, len(all))
	latest := make([]models.Completion, 0, len(all))
	for _, c := range all {
		k := key{c.EngineerID, c.CourseID}
		if seen[k] {
			continue
		}
		seen[k] = true
		latest = append(latest, c)
	}
	return latest, nil
}
