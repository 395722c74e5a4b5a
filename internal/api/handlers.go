package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"jobstream/internal/domain"
	"jobstream/internal/metrics"
	"jobstream/internal/pipeline"
	"jobstream/internal/ports"
	"jobstream/internal/usecase"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

type Handler struct {
	Queue      ports.Queue
	Repo       ports.SetupRepository
	Setup      pipeline.Setup
	Subscriber usecase.Subscriber
	RetryMs    int
}

type createStoreReq struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

type createCampaignReq struct {
	Name    string `json:"name"`
	URL     string `json:"url"`
	StoreID string `json:"store_id"`
}

type entityResp struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
}

type jobResp struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

func (h *Handler) healthcheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) createStore(w http.ResponseWriter, r *http.Request) {
	var req createStoreReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err))
		return
	}

	res, err := h.Setup.CreateStore(r.Context(), req.Name, req.URL)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *Handler) createCampaign(w http.ResponseWriter, r *http.Request) {
	var req createCampaignReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err))
		return
	}

	res, err := h.Setup.CreateCampaign(r.Context(), req.StoreID, req.Name, req.URL)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *Handler) getStore(w http.ResponseWriter, r *http.Request) {
	h.getEntity(w, r, domain.Target{Kind: domain.TargetStore, ID: chi.URLParam(r, "storeID")})
}

func (h *Handler) getCampaign(w http.ResponseWriter, r *http.Request) {
	h.getEntity(w, r, domain.Target{Kind: domain.TargetCampaign, ID: chi.URLParam(r, "campaignID")})
}

func (h *Handler) getEntity(w http.ResponseWriter, r *http.Request, target domain.Target) {
	status, err := h.Repo.Status(r.Context(), target)
	if err != nil {
		writeError(w, r, err)
		return
	}

	data, err := h.Repo.Metadata(r.Context(), target)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		writeError(w, r, err)
		return
	}
	if len(data) == 0 {
		data = json.RawMessage("null")
	}
	writeJSON(w, http.StatusOK, entityResp{ID: target.ID, Status: status, Data: data})
}

func (h *Handler) getJob(w http.ResponseWriter, r *http.Request) {
	task, err := h.Queue.Get(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, jobResp{ID: task.ID, Status: string(task.Status), Error: task.Error})
}

// jobEvents streams a job's progress as server-sent events. Stored events are
// replayed first; Last-Event-ID resumes after the given entry.
func (h *Handler) jobEvents(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	lastID := r.Header.Get("Last-Event-ID")
	if lastID == "" {
		lastID = r.URL.Query().Get("last_id")
	}
	if !domain.ValidEventID(lastID) {
		writeError(w, r, fmt.Errorf("%w: malformed Last-Event-ID %q", domain.ErrInvalidInput, lastID))
		return
	}
	logger := log.Ctx(r.Context()).With().Str("job_id", jobID).Logger()

	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		logger.Warn().Err(err).Msg("failed to clear write deadline")
	}

	hdr := w.Header()
	hdr.Set("Content-Type", "text/event-stream")
	hdr.Set("Cache-Control", "no-cache")
	hdr.Set("Connection", "keep-alive")
	hdr.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	retry := h.RetryMs
	if retry <= 0 {
		retry = 3000
	}
	if _, err := fmt.Fprintf(w, "retry: %d\n\n", retry); err != nil {
		return
	}
	if err := rc.Flush(); err != nil {
		logger.Error().Err(err).Msg("streaming unsupported")
		return
	}

	metrics.StreamSubscribers.Inc()
	defer metrics.StreamSubscribers.Dec()
	logger.Info().Str("last_id", lastID).Msg("progress stream opened")

	for frame, err := range h.Subscriber.Subscribe(r.Context(), jobID, lastID) {
		if err != nil {
			logger.Error().Err(err).Msg("progress stream read failed")
			return
		}
		if err := writeFrame(w, frame); err != nil {
			logger.Debug().Err(err).Msg("client went away")
			return
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
	logger.Info().Msg("progress stream closed")
}

func writeFrame(w io.Writer, f usecase.Frame) error {
	if f.Keepalive {
		_, err := io.WriteString(w, ": keepalive\n\n")
		return err
	}
	_, err := fmt.Fprintf(w, "id: %s\ndata: %s\n\n", f.Event.ID, f.Event.Data)
	return err
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrTaskNotFound):
		status = http.StatusNotFound
	}

	detail := err.Error()
	if status == http.StatusInternalServerError {
		log.Ctx(r.Context()).Error().Err(err).Msg("request failed")
		detail = "internal server error"
	}
	writeJSON(w, status, map[string]string{"detail": detail})
}
