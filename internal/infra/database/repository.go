package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"jobstream/internal/domain"
	"jobstream/internal/ports"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var _ ports.SetupRepository = (*SetupRepository)(nil)

type SetupRepository struct {
	db *gorm.DB
}

func NewSetupRepository(db *gorm.DB) *SetupRepository {
	return &SetupRepository{db: db}
}

func (r *SetupRepository) CreateStore(ctx context.Context, name, url string) (string, string, error) {
	jobID := uuid.NewString()
	store := Store{ID: uuid.NewString(), Name: name, URL: url, Status: StatusSetup, JobID: &jobID}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&Job{ID: jobID}).Error; err != nil {
			return err
		}
		return tx.Create(&store).Error
	})
	if err != nil {
		return "", "", fmt.Errorf("%w: create store: %w", domain.ErrPersistence, err)
	}
	return store.ID, jobID, nil
}

func (r *SetupRepository) CreateCampaign(ctx context.Context, storeID, name, url string) (string, string, error) {
	jobID := uuid.NewString()
	campaign := Campaign{ID: uuid.NewString(), StoreID: storeID, Name: name, URL: url, Status: StatusSetup, JobID: &jobID}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&Store{}, "id = ?", storeID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: store %s", domain.ErrNotFound, storeID)
			}
			return err
		}
		if err := tx.Create(&Job{ID: jobID}).Error; err != nil {
			return err
		}
		return tx.Create(&campaign).Error
	})
	if errors.Is(err, domain.ErrNotFound) {
		return "", "", err
	}
	if err != nil {
		return "", "", fmt.Errorf("%w: create campaign: %w", domain.ErrPersistence, err)
	}
	return campaign.ID, jobID, nil
}

// CompleteSetup activates the target, upserts its metadata and deletes the job
// row in one transaction. Nothing is written when any step fails.
func (r *SetupRepository) CompleteSetup(ctx context.Context, target domain.Target, jobID string, data json.RawMessage) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := activate(tx, target, data); err != nil {
			return err
		}

		res := tx.Delete(&Job{}, "id = ?", jobID)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: job %s", domain.ErrNotFound, jobID)
		}
		return nil
	})
	if err != nil {
		log.Ctx(ctx).Error().Err(err).
			Str("target", string(target.Kind)).
			Str("target_id", target.ID).
			Str("job_id", jobID).
			Msg("complete setup rolled back")
		return fmt.Errorf("%w: complete %s %s: %w", domain.ErrPersistence, target.Kind, target.ID, err)
	}
	return nil
}

func activate(tx *gorm.DB, target domain.Target, data json.RawMessage) error {
	now := time.Now()
	updates := map[string]any{"status": StatusActive, "job_id": nil, "updated_at": now}

	var model any
	var meta any
	var key string
	switch target.Kind {
	case domain.TargetStore:
		model, key = &Store{}, "store_id"
		meta = &StoreMetaData{StoreID: target.ID, Data: datatypes.JSON(data)}
	case domain.TargetCampaign:
		model, key = &Campaign{}, "campaign_id"
		meta = &CampaignMetaData{CampaignID: target.ID, Data: datatypes.JSON(data)}
	default:
		return fmt.Errorf("%w: unknown target kind %q", domain.ErrInvalidInput, target.Kind)
	}

	res := tx.Model(model).Where("id = ?", target.ID).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s %s", domain.ErrNotFound, target.Kind, target.ID)
	}

	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: key}},
		DoUpdates: clause.AssignmentColumns([]string{"data", "updated_at"}),
	}).Create(meta).Error
}

func (r *SetupRepository) Status(ctx context.Context, target domain.Target) (string, error) {
	var statuses []string
	var q *gorm.DB
	switch target.Kind {
	case domain.TargetStore:
		q = r.db.WithContext(ctx).Model(&Store{})
	case domain.TargetCampaign:
		q = r.db.WithContext(ctx).Model(&Campaign{})
	default:
		return "", fmt.Errorf("%w: unknown target kind %q", domain.ErrInvalidInput, target.Kind)
	}

	if err := q.Where("id = ?", target.ID).Limit(1).Pluck("status", &statuses).Error; err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrPersistence, err)
	}
	if len(statuses) == 0 {
		return "", fmt.Errorf("%w: %s %s", domain.ErrNotFound, target.Kind, target.ID)
	}
	return statuses[0], nil
}

// Metadata returns the saved metadata of an active target.
func (r *SetupRepository) Metadata(ctx context.Context, target domain.Target) (json.RawMessage, error) {
	var data datatypes.JSON
	var err error
	switch target.Kind {
	case domain.TargetStore:
		var m StoreMetaData
		err = r.db.WithContext(ctx).First(&m, "store_id = ?", target.ID).Error
		data = m.Data
	case domain.TargetCampaign:
		var m CampaignMetaData
		err = r.db.WithContext(ctx).First(&m, "campaign_id = ?", target.ID).Error
		data = m.Data
	default:
		return nil, fmt.Errorf("%w: unknown target kind %q", domain.ErrInvalidInput, target.Kind)
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: metadata of %s %s", domain.ErrNotFound, target.Kind, target.ID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrPersistence, err)
	}
	return json.RawMessage(data), nil
}
