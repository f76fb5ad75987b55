package store

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/nebari-dev/labgate/internal/models"
	"gorm.io/gorm/clause"
)

// GetUser looks up a login identity by id.
func (s *Store) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var u models.User
	if err := s.with(ctx).Where("id = ?", id).First(&u).Error; err != nil {
		return nil, translate(err)
	}
	return &u, nil
}

// GetUserByEmail looks up a login identity by email, case-insensitively.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var u models.User
	err := s.with(ctx).Where("email = ?", strings.ToLower(strings.TrimSpace(email))).First(&u).Error
	if err != nil {
		return nil, translate(err)
	}
	return &u, nil
}

// CreateIfAbsent inserts value unless a row with the same unique key exists.
// It reports whether a row was inserted.
func (s *Store) CreateIfAbsent(ctx context.Context, value interface{}) (bool, error) {
	res := s.with(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(value)
	if res.Error != nil {
		return false, translate(res.Error)
	}
	return res.RowsAffected > 0, nil
}
