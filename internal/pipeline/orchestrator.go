package pipeline

import (
	"context"
	"fmt"
	"jobstream/internal/domain"
	"jobstream/internal/ports"
	"jobstream/internal/usecase"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type Orchestrator struct {
	Enq    usecase.Enqueuer
	Events ports.EventStore
}

func NewOrchestrator(q ports.Queue, events ports.EventStore) *Orchestrator {
	return &Orchestrator{Enq: usecase.Enqueuer{Q: q}, Events: events}
}

// Start enqueues crawl -> extract -> save for target. Every stage reports into
// the job's progress stream and the save task takes the job id as its own, so
// the job's outcome is the save task's status.
func (o *Orchestrator) Start(ctx context.Context, target domain.Target, pageURL, jobID string) (Chain, error) {
	if jobID == "" {
		jobID = uuid.NewString()
	}
	chain := Chain{JobID: jobID, SaveID: jobID}

	if _, err := o.Events.Append(ctx, jobID, domain.Progress{Progress: "Job queued", Stage: PhaseSetup}); err != nil {
		return chain, err
	}

	var err error
	chain.CrawlID, err = o.Enq.Now(ctx, domain.EnqueueRequest{
		Queue:    QueueCrawler,
		Func:     FuncCrawl,
		Args:     CrawlInput{URL: pageURL},
		StreamID: jobID,
	})
	if err != nil {
		return chain, fmt.Errorf("enqueue crawl: %w", err)
	}

	chain.ExtractID, err = o.Enq.After(ctx, domain.EnqueueRequest{
		Queue:    QueueAgents,
		Func:     FuncExtract,
		Args:     ExtractInput{},
		StreamID: jobID,
	}, chain.CrawlID)
	if err != nil {
		return chain, fmt.Errorf("enqueue extract: %w", err)
	}

	_, err = o.Enq.After(ctx, domain.EnqueueRequest{
		Queue:    QueueDefault,
		Func:     FuncSave,
		Args:     SaveInput{Target: target, JobID: jobID},
		TaskID:   jobID,
		StreamID: jobID,
	}, chain.ExtractID)
	if err != nil {
		return chain, fmt.Errorf("enqueue save: %w", err)
	}

	log.Ctx(ctx).Info().
		Str("job_id", jobID).
		Str("target", string(target.Kind)).
		Str("target_id", target.ID).
		Msg("setup pipeline enqueued")
	return chain, nil
}

// Setup creates placeholder entities and starts their pipelines.
type Setup struct {
	Repo         ports.SetupRepository
	Orchestrator *Orchestrator
}

type SetupResult struct {
	ID    string `json:"id"`
	JobID string `json:"job_id"`
}

func (s Setup) CreateStore(ctx context.Context, name, rawURL string) (SetupResult, error) {
	pageURL, err := NormalizeURL(rawURL)
	if err != nil {
		return SetupResult{}, err
	}
	if strings.TrimSpace(name) == "" {
		return SetupResult{}, fmt.Errorf("%w: name is required", domain.ErrInvalidInput)
	}

	storeID, jobID, err := s.Repo.CreateStore(ctx, name, pageURL)
	if err != nil {
		return SetupResult{}, err
	}
	target := domain.Target{Kind: domain.TargetStore, ID: storeID}
	if _, err := s.Orchestrator.Start(ctx, target, pageURL, jobID); err != nil {
		return SetupResult{}, err
	}
	return SetupResult{ID: storeID, JobID: jobID}, nil
}

func (s Setup) CreateCampaign(ctx context.Context, storeID, name, rawURL string) (SetupResult, error) {
	pageURL, err := NormalizeURL(rawURL)
	if err != nil {
		return SetupResult{}, err
	}
	if strings.TrimSpace(name) == "" || storeID == "" {
		return SetupResult{}, fmt.Errorf("%w: name and store_id are required", domain.ErrInvalidInput)
	}

	campaignID, jobID, err := s.Repo.CreateCampaign(ctx, storeID, name, pageURL)
	if err != nil {
		return SetupResult{}, err
	}
	target := domain.Target{Kind: domain.TargetCampaign, ID: campaignID}
	if _, err := s.Orchestrator.Start(ctx, target, pageURL, jobID); err != nil {
		return SetupResult{}, err
	}
	return SetupResult{ID: campaignID, JobID: jobID}, nil
}

// NormalizeURL defaults the scheme to https and rejects urls without a host.
func NormalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("%w: bad url %q", domain.ErrInvalidInput, raw)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%w: unsupported scheme %q", domain.ErrInvalidInput, u.Scheme)
	}
	return u.String(), nil
}
