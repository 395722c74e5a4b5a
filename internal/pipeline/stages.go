package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"jobstream/internal/domain"
	"jobstream/internal/ports"
	"jobstream/internal/usecase"

	"github.com/rs/zerolog/log"
)

// Stages holds the collaborators the stage bodies delegate to.
type Stages struct {
	Fetcher   Fetcher
	Extractor Extractor
	Repo      ports.SetupRepository
}

func (s Stages) Register(r *usecase.Registry) {
	r.Register(FuncCrawl, inPhase(PhaseCrawling, s.Crawl))
	r.Register(FuncExtract, inPhase(PhaseExtracting, s.Extract))
	r.Register(FuncSave, inPhase(PhaseSaving, s.Save))
}

// inPhase tags every error h returns with phase unless it already carries one.
func inPhase(phase string, h usecase.Handler) usecase.Handler {
	return func(ctx context.Context, exec *usecase.Execution) (any, error) {
		out, err := h(ctx, exec)
		if err != nil {
			var se *domain.StageError
			if !errors.As(err, &se) {
				err = &domain.StageError{Stage: phase, Err: err}
			}
		}
		return out, err
	}
}

func (s Stages) Crawl(ctx context.Context, exec *usecase.Execution) (any, error) {
	if err := exec.AppendProgress(ctx, domain.Progress{Progress: "Crawling page", Stage: PhaseCrawling}); err != nil {
		return nil, err
	}

	var in CrawlInput
	if err := exec.Decode(&in); err != nil {
		return nil, &domain.StageError{Stage: PhaseCrawling, Err: err}
	}
	if in.URL == "" {
		return nil, &domain.StageError{Stage: PhaseCrawling, Err: fmt.Errorf("%w: missing url", domain.ErrInvalidInput)}
	}

	text, err := s.Fetcher.FetchPage(ctx, in.URL)
	if err != nil {
		return nil, &domain.StageError{Stage: PhaseCrawling, Err: err}
	}

	log.Ctx(ctx).Debug().Str("url", in.URL).Int("chars", len(text)).Msg("page crawled")
	return CrawlResult{URL: in.URL, Text: text}, nil
}

func (s Stages) Extract(ctx context.Context, exec *usecase.Execution) (any, error) {
	if err := exec.AppendProgress(ctx, domain.Progress{Progress: "Extracting data", Stage: PhaseExtracting}); err != nil {
		return nil, err
	}

	var in ExtractInput
	if err := exec.Decode(&in); err != nil {
		return nil, &domain.StageError{Stage: PhaseExtracting, Err: err}
	}

	var text string
	if in.Text != nil {
		text = *in.Text
	} else {
		var crawled CrawlResult
		if err := exec.DependencyResult(ctx, &crawled); err != nil {
			return nil, &domain.StageError{Stage: PhaseExtracting, Err: err}
		}
		text = crawled.Text
	}

	data, err := s.Extractor.Extract(ctx, text)
	if err != nil {
		return nil, &domain.StageError{Stage: PhaseExtracting, Err: err}
	}
	return data, nil
}

func (s Stages) Save(ctx context.Context, exec *usecase.Execution) (any, error) {
	if err := exec.AppendProgress(ctx, domain.Progress{Progress: "Saving data", Stage: PhaseSaving}); err != nil {
		return nil, err
	}

	var in SaveInput
	if err := exec.Decode(&in); err != nil {
		return nil, &domain.StageError{Stage: PhaseSaving, Err: err}
	}

	data := in.Data
	if len(data) == 0 {
		if err := exec.DependencyResult(ctx, &data); err != nil {
			return nil, &domain.StageError{Stage: PhaseSaving, Err: err}
		}
	}
	if !json.Valid(data) {
		return nil, &domain.StageError{Stage: PhaseSaving, Err: errors.New("extracted data is not valid json")}
	}

	if err := s.Repo.CompleteSetup(ctx, in.Target, in.JobID, data); err != nil {
		return nil, &domain.StageError{Stage: PhaseSaving, Err: err}
	}

	// The setup is committed; the job succeeded even if the event is lost.
	if err := exec.AppendProgress(ctx, domain.Progress{Status: domain.ProgressDone, Stage: PhaseDone}); err != nil {
		log.Ctx(ctx).Error().Err(err).Str("job_id", in.JobID).Msg("failed to append done event")
	}
	return nil, nil
}
