package models

import (
	"time"

	"gorm.io/datatypes"
)

// ConflictStrategy decides who wins when inbound data diverges from local data
type ConflictStrategy string

const (
	StrategyExternalWins ConflictStrategy = "external_wins"
	StrategyLocalWins    ConflictStrategy = "local_wins"
	StrategyNewestWins   ConflictStrategy = "newest_wins"
	StrategyManual       ConflictStrategy = "manual"
)

// Valid reports whether s is a known strategy
func (s ConflictStrategy) Valid() bool {
	switch s {
	case StrategyExternalWins, StrategyLocalWins, StrategyNewestWins, StrategyManual:
		return true
	}
	return false
}

// Shop is a distribution channel backed by an external e-commerce platform
type Shop struct {
	ID       int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	Name     string `gorm:"type:varchar(255);not null" json:"name"`
	APIURL   string `gorm:"type:varchar(500);not null" json:"apiUrl"`
	IsActive bool   `gorm:"not null" json:"isActive"`

	// GCP Secret Manager reference holding the API key
	SecretReference string `gorm:"type:varchar(500)" json:"-"`
	// Inline key for local development when no secret manager is configured
	APIKey string `gorm:"type:varchar(255)" json:"-"`

	// External ids of the platform's structural roots (PrestaShop: 1 Root, 2 Home)
	RootExternalIDs datatypes.JSONSlice[int64] `gorm:"default:'[1,2]'" json:"rootExternalIds"`

	ConflictStrategy ConflictStrategy `gorm:"type:varchar(20);not null;default:'external_wins'" json:"conflictStrategy"`

	CreatedAt time.Time `gorm:"default:CURRENT_TIMESTAMP" json:"createdAt"`
	UpdatedAt time.Time `gorm:"default:CURRENT_TIMESTAMP" json:"updatedAt"`
}

// TableName specifies the table name for Shop
func (Shop) TableName() string {
	return "shops"
}

// IsRootExternal reports whether externalID is one of the shop's root categories
func (s *Shop) IsRootExternal(externalID int64) bool {
	for _, id := range s.RootExternalIDs {
		if id == externalID {
			return true
		}
	}
	return false
}

// Strategy returns the configured strategy, external_wins when unset
func (s *Shop) Strategy() ConflictStrategy {
	if s.ConflictStrategy.Valid() {
		return s.ConflictStrategy
	}
	return StrategyExternalWins
}
