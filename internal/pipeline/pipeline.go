// Package pipeline wires the crawl, extract and save stages of an onboarding
// job onto the work queue.
package pipeline

import (
	"encoding/json"
	"jobstream/internal/domain"
)

const (
	QueueCrawler = "crawler"
	QueueAgents  = "agents"
	QueueDefault = "default"
)

const (
	FuncCrawl   = "crawl"
	FuncExtract = "extract"
	FuncSave    = "save"
)

// Phases reported in the "stage" field of progress events.
const (
	PhaseSetup      = "setup"
	PhaseCrawling   = "crawling"
	PhaseExtracting = "extracting"
	PhaseSaving     = "saving"
	PhaseDone       = "done"
)

// Queues lists every queue a worker must serve to run a whole chain.
func Queues() []string {
	return []string{QueueCrawler, QueueAgents, QueueDefault}
}

type CrawlInput struct {
	URL string `json:"url"`
}

type CrawlResult struct {
	URL  string `json:"url"`
	Text string `json:"text"`
}

// ExtractInput carries the text to analyse. When Text is nil the result of
// the crawl dependency is used.
type ExtractInput struct {
	Text *string `json:"text,omitempty"`
}

// SaveInput names the entity to complete. When Data is empty the result of
// the extract dependency is saved.
type SaveInput struct {
	Target domain.Target   `json:"target"`
	JobID  string          `json:"job_id"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// Chain holds the ids of one enqueued pipeline. SaveID always equals JobID.
type Chain struct {
	JobID     string `json:"job_id"`
	CrawlID   string `json:"crawl_id"`
	ExtractID string `json:"extract_id"`
	SaveID    string `json:"save_id"`
}
