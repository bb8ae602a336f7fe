package chartapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/opensensing/luxcap/pkg/cache"
	"github.com/opensensing/luxcap/pkg/store"
)

// errorResponse is a standard error payload.
type errorResponse struct {
	Error string `json:"error"`
}

// writeJSON encodes v as JSON and writes it to w.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encoding response", http.StatusInternalServerError)
	}
}

// handleHealth returns server health status.
func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleListExperiments returns all experiment summaries.
func (s *server) handleListExperiments(w http.ResponseWriter, r *http.Request) {
	experiments, err := s.store.ListExperiments(r.Context())
	if err != nil {
		s.log.WithError(err).Error("Listing experiments failed")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"listing experiments failed"})

		return
	}

	writeJSON(w, http.StatusOK, experiments)
}

// readingsResponse is the frame payload served to the rendering page.
type readingsResponse struct {
	ExperimentID uint        `json:"experiment_id"`
	Points       cache.Frame `json:"points"`
	Downsampled  bool        `json:"downsampled"`
}

// handleReadings returns the cached frame for one experiment,
// downsampled for render cost when it is large. An experiment unknown
// to the store is a 404; a known experiment the cache has not seen yet
// yields an empty frame.
func (s *server) handleReadings(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 32)
	if err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"invalid experiment id"})

		return
	}

	expID := uint(id)

	if _, err := s.store.GetExperiment(r.Context(), expID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusNotFound,
				errorResponse{"experiment not found"})

			return
		}

		s.log.WithError(err).Error("Getting experiment failed")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"getting experiment failed"})

		return
	}

	full := s.cache.GetCachedData(expID)
	frame := s.cache.Downsampled(expID)

	if frame == nil {
		frame = cache.Frame{}
	}

	writeJSON(w, http.StatusOK, readingsResponse{
		ExperimentID: expID,
		Points:       frame,
		Downsampled:  len(frame) < len(full),
	})
}

// statusResponse reports cache growth next to the process's resident
// memory so an operator can watch both against their bounds.
type statusResponse struct {
	CachedRows int    `json:"cached_rows"`
	RSSBytes   uint64 `json:"rss_bytes,omitempty"`
}

// handleStatus returns cache size and process memory usage.
func (s *server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := statusResponse{CachedRows: s.cache.Size()}

	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if mem, err := proc.MemoryInfo(); err == nil {
			resp.RSSBytes = mem.RSS
		}
	}

	writeJSON(w, http.StatusOK, resp)
}
