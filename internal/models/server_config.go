package models

import (
	"time"
)

// ServerConfig stores server-wide settings as key-value pairs
type ServerConfig struct {
	Key       string    `gorm:"primarykey;not null" json:"key"`
	Value     string    `gorm:"type:text;not null" json:"value"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Known ServerConfig keys
const (
	ServerConfigKeyServerID      = "server_id"
	ServerConfigKeyLastAutocheck = "last_autocheck"
)
