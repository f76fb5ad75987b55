package db

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/nebari-dev/labgate/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrSettingNotFound is returned when a server setting has never been written.
var ErrSettingNotFound = errors.New("setting not found")

// GetSetting reads a server-wide setting.
func GetSetting(db *gorm.DB, key string) (string, error) {
	var setting models.ServerConfig
	err := db.Where("key = ?", key).First(&setting).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrSettingNotFound
		}
		return "", fmt.Errorf("failed to query server config: %w", err)
	}
	return setting.Value, nil
}

// PutSetting creates or overwrites a server-wide setting.
func PutSetting(db *gorm.DB, key, value string) error {
	setting := models.ServerConfig{Key: key, Value: value}
	err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&setting).Error
	if err != nil {
		return fmt.Errorf("failed to store setting %s: %w", key, err)
	}
	return nil
}

// GetOrCreateServerID retrieves the server ID, generating and storing one on first start.
func GetOrCreateServerID(db *gorm.DB) (string, error) {
	id, err := GetSetting(db, models.ServerConfigKeyServerID)
	if err == nil {
		slog.Info("Found existing server ID", "server_id", id)
		return id, nil
	}
	if !errors.Is(err, ErrSettingNotFound) {
		return "", err
	}

	id = uuid.New().String()
	if err := db.Create(&models.ServerConfig{Key: models.ServerConfigKeyServerID, Value: id}).Error; err != nil {
		return "", fmt.Errorf("failed to create server ID: %w", err)
	}

	slog.Info("Generated new server ID", "server_id", id)
	return id, nil
}
