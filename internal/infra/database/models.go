package database

import (
	"time"

	"gorm.io/datatypes"
)

const (
	StatusSetup    = "setup"
	StatusActive   = "active"
	StatusArchived = "archived"
)

// Job is the placeholder row of a running setup pipeline. It is deleted when
// the pipeline completes.
type Job struct {
	ID        string `gorm:"primaryKey;type:varchar(36)"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Store struct {
	ID        string  `gorm:"primaryKey;type:varchar(36)"`
	Name      string  `gorm:"size:255"`
	URL       string  `gorm:"size:2048"`
	Status    string  `gorm:"size:16;default:setup"`
	JobID     *string `gorm:"type:varchar(36);index"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

type StoreMetaData struct {
	StoreID   string `gorm:"primaryKey;type:varchar(36)"`
	Data      datatypes.JSON
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (StoreMetaData) TableName() string { return "stores_metadata" }

type Campaign struct {
	ID        string  `gorm:"primaryKey;type:varchar(36)"`
	StoreID   string  `gorm:"type:varchar(36);index"`
	Name      string  `gorm:"size:255"`
	URL       string  `gorm:"size:2048"`
	Status    string  `gorm:"size:16;default:setup"`
	JobID     *string `gorm:"type:varchar(36);index"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

type CampaignMetaData struct {
	CampaignID string `gorm:"primaryKey;type:varchar(36)"`
	Data       datatypes.JSON
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (CampaignMetaData) TableName() string { return "campaigns_metadata" }
