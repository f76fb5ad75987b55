package store

import (
	"context"

	"github.com/nebari-dev/labgate/internal/models"
	"gorm.io/gorm/clause"
)

// GetEngineer looks up an engineer by id.
func (s *Store) GetEngineer(ctx context.Context, id uint) (*models.Engineer, error) {
	var e models.Engineer
	if err := s.with(ctx).First(&e, id).Error; err != nil {
		return nil, translate(err)
	}
	return &e, nil
}

// GetLab looks up a lab by id.
func (s *Store) GetLab(ctx context.Context, id uint) (*models.Lab, error) {
	var l models.Lab
	if err := s.with(ctx).First(&l, id).Error; err != nil {
		return nil, translate(err)
	}
	return &l, nil
}

// GetLabByCode looks up a lab by its unique code.
func (s *Store) GetLabByCode(ctx context.Context, code string) (*models.Lab, error) {
	var l models.Lab
	if err := s.with(ctx).Where("code = ?", code).First(&l).Error; err != nil {
		return nil, translate(err)
	}
	return &l, nil
}

// GetCourse looks up a course by id.
func (s *Store) GetCourse(ctx context.Context, id uint) (*models.Course, error) {
	var c models.Course
	if err := s.with(ctx).First(&c, id).Error; err != nil {
		return nil, translate(err)
	}
	return &c, nil
}

// GetCourseByCode looks up a course by its unique code.
func (s *Store) GetCourseByCode(ctx context.Context, code string) (*models.Course, error) {
	var c models.Course
	if err := s.with(ctx).Where("code = ?", code).First(&c).Error; err != nil {
		return nil, translate(err)
	}
	return &c, nil
}

// GetEngineerByEmployeeNo looks up an engineer by employee number.
func (s *Store) GetEngineerByEmployeeNo(ctx context.Context, employeeNo string) (*models.Engineer, error) {
	var e models.Engineer
	if err := s.with(ctx).Where("employee_no = ?", employeeNo).First(&e).Error; err != nil {
		return nil, translate(err)
	}
	return &e, nil
}

// ListEngineers returns every engineer ordered by name.
func (s *Store) ListEngineers(ctx context.Context) ([]models.Engineer, error) {
	var rows []models.Engineer
	if err := s.with(ctx).Order("name ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// ListLabs returns every lab ordered by name.
func (s *Store) ListLabs(ctx context.Context) ([]models.Lab, error) {
	var rows []models.Lab
	if err := s.with(ctx).Order("name ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// ListCourses returns every course ordered by code.
func (s *Store) ListCourses(ctx context.Context) ([]models.Course, error) {
	var rows []models.Course
	if err := s.with(ctx).Order("code ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// EngineersByID returns all engineers keyed by id.
func (s *Store) EngineersByID(ctx context.Context) (map[uint]models.Engineer, error) {
	rows, err := s.ListEngineers(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[uint]models.Engineer, len(rows))
	for _, r := range rows {
		out[r.ID] = r
	}
	return out, nil
}

// LabsByID returns all labs keyed by id.
func (s *Store) LabsByID(ctx context.Context) (map[uint]models.Lab, error) {
	rows, err := s.ListLabs(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[uint]models.Lab, len(rows))
	for _, r := range rows {
		out[r.ID] = r
	}
	return out, nil
}

// CoursesByID returns all courses keyed by id.
func (s *Store) CoursesByID(ctx context.Context) (map[uint]models.Course, error) {
	rows, err := s.ListCourses(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[uint]models.Course, len(rows))
	for _, r := range rows {
		out[r.ID] = r
	}
	return out, nil
}

// ListRequirements returns the course requirements of a lab.
func (s *Store) ListRequirements(ctx context.Context, labID uint) ([]models.LabRequirement, error) {
	var rows []models.LabRequirement
	if err := s.with(ctx).Where("lab_id = ?", labID).Order("id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// UpsertRequirement inserts a (lab, course) requirement or replaces its override months.
func (s *Store) UpsertRequirement(ctx context.Context, req *models.LabRequirement) error {
	err := s.with(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "lab_id"}, {Name: "course_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"valid_months", "updated_at"}),
	}).Create(req).Error
	return translate(err)
}
