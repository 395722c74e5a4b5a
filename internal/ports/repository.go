package ports

import (
	"context"
	"encoding/json"
	"jobstream/internal/domain"
)

type SetupRepository interface {
	CreateStore(ctx context.Context, name, url string) (storeID, jobID string, err error)
	CreateCampaign(ctx context.Context, storeID, name, url string) (campaignID, jobID string, err error)
	// CompleteSetup activates the target, stores data as its metadata and
	// deletes the job row, all in one transaction.
	CompleteSetup(ctx context.Context, target domain.Target, jobID string, data json.RawMessage) error
	Status(ctx context.Context, target domain.Target) (string, error)
	Metadata(ctx context.Context, target domain.Target) (json.RawMessage, error)
}
