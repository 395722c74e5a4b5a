package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"jobstream/internal/config"
	"jobstream/internal/domain"
	"jobstream/internal/infra/database"
	"jobstream/internal/infra/redisq"
	"jobstream/internal/testutil"
	"jobstream/internal/usecase"

	"github.com/stretchr/testify/require"
)

type fetchFunc func(ctx context.Context, url string) (string, error)

func (f fetchFunc) FetchPage(ctx context.Context, url string) (string, error) { return f(ctx, url) }

// failingEvents rejects appends whose encoded payload contains match.
type failingEvents struct {
	*redisq.EventStore
	match string
}

func (f failingEvents) Append(ctx context.Context, streamID string, payload any) (string, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	if strings.Contains(string(b), f.match) {
		return "", errors.New("redis blip")
	}
	return f.EventStore.Append(ctx, streamID, payload)
}

type env struct {
	q        *redisq.Client
	events   *redisq.EventStore
	repo     *database.SetupRepository
	setup    Setup
	consumer usecase.Consumer
}

func newEnv(t *testing.T, fetch fetchFunc) *env {
	t.Helper()
	rdb, _ := testutil.NewRedis(t)
	q := redisq.NewFromRedis(rdb, config.Queue{Group: "workers", ResultTTL: time.Hour})
	require.NoError(t, q.Init(context.Background(), Queues()...))
	events := redisq.NewEventStore(rdb)
	repo := database.NewSetupRepository(testutil.NewTestDB(t, database.Models()...))

	registry := usecase.NewRegistry()
	Stages{Fetcher: fetch, Extractor: BasicExtractor{}, Repo: repo}.Register(registry)

	return &env{
		q:      q,
		events: events,
		repo:   repo,
		setup:  Setup{Repo: repo, Orchestrator: NewOrchestrator(q, events)},
		consumer: usecase.Consumer{
			Q:            q,
			Events:       events,
			Registry:     registry,
			Queues:       Queues(),
			ConsumerName: "test",
			Block:        10 * time.Millisecond,
		},
	}
}

// drain processes claimable tasks until every queue is empty and returns the
// functions in the order they ran.
func (e *env) drain(t *testing.T) []string {
	t.Helper()
	ctx := context.Background()
	var ran []string
	for {
		ds, err := e.q.Claim(ctx, Queues(), "test", 10*time.Millisecond)
		require.NoError(t, err)
		if len(ds) == 0 {
			return ran
		}
		for i := range ds {
			ran = append(ran, ds[i].Task.Func)
			e.consumer.Process(ctx, &ds[i])
		}
	}
}

func (e *env) progress(t *testing.T, jobID string) []domain.Progress {
	t.Helper()
	events, err := e.events.Range(context.Background(), jobID, "")
	require.NoError(t, err)
	out := make([]domain.Progress, 0, len(events))
	for _, ev := range events {
		var p domain.Progress
		require.NoError(t, json.Unmarshal([]byte(ev.Data), &p))
		out = append(out, p)
	}
	return out
}

func stagesOf(ps []domain.Progress) []string {
	var out []string
	for _, p := range ps {
		out = append(out, p.Stage)
	}
	return out
}

func TestStoreSetupRunsToCompletion(t *testing.T) {
	e := newEnv(t, func(ctx context.Context, url string) (string, error) {
		require.Equal(t, "https://acme.test", url)
		return "Acme Outfitters\nWarm socks for cold feet\n[IMAGE alt=\"logo\" src=\"https://acme.test/logo.png\"]", nil
	})
	ctx := context.Background()

	res, err := e.setup.CreateStore(ctx, "Acme", "acme.test")
	require.NoError(t, err)

	require.Equal(t, []string{FuncCrawl, FuncExtract, FuncSave}, e.drain(t))

	job, err := e.q.Get(ctx, res.JobID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusFinished, job.Status)
	require.Equal(t, FuncSave, job.Func)

	target := domain.Target{Kind: domain.TargetStore, ID: res.ID}
	status, err := e.repo.Status(ctx, target)
	require.NoError(t, err)
	require.Equal(t, database.StatusActive, status)

	data, err := e.repo.Metadata(ctx, target)
	require.NoError(t, err)
	var meta map[string]any
	require.NoError(t, json.Unmarshal(data, &meta))
	require.Equal(t, "Acme Outfitters", meta["store_name"])
	require.Equal(t, []any{"https://acme.test/logo.png"}, meta["images"])

	ps := e.progress(t, res.JobID)
	require.Equal(t, []string{PhaseSetup, PhaseCrawling, PhaseExtracting, PhaseSaving, PhaseDone}, stagesOf(ps))
	require.Equal(t, domain.ProgressDone, ps[len(ps)-1].Status)
}

func TestCrawlFailureLeavesEntityInSetup(t *testing.T) {
	e := newEnv(t, func(ctx context.Context, url string) (string, error) {
		return "", errors.New("connection refused")
	})
	ctx := context.Background()

	res, err := e.setup.CreateStore(ctx, "Acme", "https://acme.test")
	require.NoError(t, err)

	require.Equal(t, []string{FuncCrawl}, e.drain(t))

	job, err := e.q.Get(ctx, res.JobID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusFailed, job.Status)
	require.True(t, job.StartedAt.IsZero())

	status, err := e.repo.Status(ctx, domain.Target{Kind: domain.TargetStore, ID: res.ID})
	require.NoError(t, err)
	require.Equal(t, database.StatusSetup, status)

	ps := e.progress(t, res.JobID)
	last := ps[len(ps)-1]
	require.Equal(t, domain.ProgressFailed, last.Status)
	require.Equal(t, PhaseCrawling, last.Stage)
	require.Contains(t, last.Reason, "connection refused")
	for _, p := range ps {
		require.NotEqual(t, domain.ProgressDone, p.Status)
	}

	sub := usecase.Subscriber{Events: e.events, PollWindow: 10 * time.Millisecond}
	terminal := func() domain.Event {
		var lastEv domain.Event
		for frame, err := range sub.Subscribe(ctx, res.JobID, "") {
			require.NoError(t, err)
			if frame.Keepalive {
				break
			}
			lastEv = frame.Event
		}
		return lastEv
	}
	require.Equal(t, terminal(), terminal())
}

func TestCampaignSetupRunsToCompletion(t *testing.T) {
	e := newEnv(t, func(ctx context.Context, url string) (string, error) {
		return "Spring sale", nil
	})
	ctx := context.Background()

	store, err := e.setup.CreateStore(ctx, "Acme", "https://acme.test")
	require.NoError(t, err)
	e.drain(t)

	campaign, err := e.setup.CreateCampaign(ctx, store.ID, "Spring", "https://acme.test/spring")
	require.NoError(t, err)
	e.drain(t)

	status, err := e.repo.Status(ctx, domain.Target{Kind: domain.TargetCampaign, ID: campaign.ID})
	require.NoError(t, err)
	require.Equal(t, database.StatusActive, status)
}

func TestOrchestratorChainShape(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()

	target := domain.Target{Kind: domain.TargetStore, ID: "s1"}
	chain, err := e.setup.Orchestrator.Start(ctx, target, "https://acme.test", "job-1")
	require.NoError(t, err)
	require.Equal(t, "job-1", chain.JobID)
	require.Equal(t, "job-1", chain.SaveID)

	crawl, err := e.q.Get(ctx, chain.CrawlID)
	require.NoError(t, err)
	require.Equal(t, QueueCrawler, crawl.Queue)
	require.Equal(t, domain.StatusQueued, crawl.Status)
	require.Equal(t, "job-1", crawl.StreamID)

	extract, err := e.q.Get(ctx, chain.ExtractID)
	require.NoError(t, err)
	require.Equal(t, QueueAgents, extract.Queue)
	require.Equal(t, domain.StatusDeferred, extract.Status)
	require.Equal(t, []string{chain.CrawlID}, extract.DependsOn)

	save, err := e.q.Get(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, QueueDefault, save.Queue)
	require.Equal(t, []string{chain.ExtractID}, save.DependsOn)

	var in SaveInput
	require.NoError(t, json.Unmarshal(save.Args, &in))
	require.Equal(t, target, in.Target)
	require.Equal(t, "job-1", in.JobID)
}

func TestExtractUsesExplicitText(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()

	text := "Given Name\nbody"
	id, err := e.setup.Orchestrator.Enq.Now(ctx, domain.EnqueueRequest{
		Queue: QueueAgents,
		Func:  FuncExtract,
		Args:  ExtractInput{Text: &text},
	})
	require.NoError(t, err)
	e.drain(t)

	task, err := e.q.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, domain.StatusFinished, task.Status)

	var out map[string]any
	require.NoError(t, json.Unmarshal(task.Result, &out))
	require.Equal(t, "Given Name", out["store_name"])
}

func TestNormalizeURL(t *testing.T) {
	got, err := NormalizeURL("acme.test/shop")
	require.NoError(t, err)
	require.Equal(t, "https://acme.test/shop", got)

	got, err = NormalizeURL(" http://acme.test ")
	require.NoError(t, err)
	require.Equal(t, "http://acme.test", got)

	for _, bad := range []string{"", "ftp://acme.test", "https://"} {
		_, err := NormalizeURL(bad)
		require.ErrorIs(t, err, domain.ErrInvalidInput, bad)
	}
}

func TestCreateStoreRejectsBadInput(t *testing.T) {
	e := newEnv(t, nil)
	_, err := e.setup.CreateStore(context.Background(), "", "acme.test")
	require.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestLostDoneEventDoesNotFailCommittedSetup(t *testing.T) {
	e := newEnv(t, func(ctx context.Context, url string) (string, error) {
		return "Acme", nil
	})
	e.consumer.Events = failingEvents{EventStore: e.events, match: `"status":"done"`}
	ctx := context.Background()

	res, err := e.setup.CreateStore(ctx, "Acme", "https://acme.test")
	require.NoError(t, err)
	e.drain(t)

	job, err := e.q.Get(ctx, res.JobID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusFinished, job.Status)

	status, err := e.repo.Status(ctx, domain.Target{Kind: domain.TargetStore, ID: res.ID})
	require.NoError(t, err)
	require.Equal(t, database.StatusActive, status)

	for _, p := range e.progress(t, res.JobID) {
		require.NotEqual(t, domain.ProgressFailed, p.Status)
	}
}

func TestStageErrorsCarryTheirPhase(t *testing.T) {
	e := newEnv(t, func(ctx context.Context, url string) (string, error) {
		return "Acme", nil
	})
	e.consumer.Events = failingEvents{EventStore: e.events, match: `"progress":"Crawling page"`}
	ctx := context.Background()

	res, err := e.setup.CreateStore(ctx, "Acme", "https://acme.test")
	require.NoError(t, err)
	require.Equal(t, []string{FuncCrawl}, e.drain(t))

	ps := e.progress(t, res.JobID)
	last := ps[len(ps)-1]
	require.Equal(t, domain.ProgressFailed, last.Status)
	require.Equal(t, PhaseCrawling, last.Stage)
	require.Contains(t, last.Reason, "redis blip")
}
