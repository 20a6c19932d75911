package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/categorizer/internal/ingest"
	"github.com/JonMunkholm/categorizer/internal/record"
)

// recordsRequest is the common body of endpoints taking a record sample.
type recordsRequest struct {
	Records  json.RawMessage   `json:"records"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// decodeJSON reads a size-limited JSON body into v.
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Server.MaxUploadSize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return fmt.Errorf("%w: request body over %d bytes", ingest.ErrFileTooLarge, mbe.Limit)
		}
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

// decodeRecords decodes a JSON array of records. Non-object entries are
// kept as malformed records.
func decodeRecords(raw json.RawMessage) ([]record.Record, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: records are required", errBadRequest)
	}
	recs, err := record.FromJSON(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return recs, nil
}

// wellFormed returns the records that carry content, at most limit of them.
func wellFormed(recs []record.Record, limit int) []record.Record {
	var out []record.Record
	for _, r := range recs {
		if len(out) == limit {
			break
		}
		if !r.Malformed() {
			out = append(out, r)
		}
	}
	return out
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.Stats())
}

// handleClearCaches empties the schema and template caches and reports the
// resulting stats.
func (s *Server) handleClearCaches(w http.ResponseWriter, r *http.Request) {
	s.service.ClearCaches(r.Context())
	writeJSON(w, http.StatusOK, s.service.Stats())
}

// handleRecognize infers the schema of a record sample.
func (s *Server) handleRecognize(w http.ResponseWriter, r *http.Request) {
	var req recordsRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err, 0)
		return
	}
	recs, err := decodeRecords(req.Records)
	if err != nil {
		respondError(w, r, err, 0)
		return
	}

	sch, err := s.service.Recognize(r.Context(), wellFormed(recs, s.cfg.Engine.SampleSize), req.Metadata)
	if err != nil {
		respondError(w, r, err, 0)
		return
	}
	writeJSON(w, http.StatusOK, sch)
}

func (s *Server) handleGetSchema(w http.ResponseWriter, r *http.Request) {
	sch, err := s.service.Schema(r.Context(), chi.URLParam(r, "fingerprint"))
	if err != nil {
		respondError(w, r, err, 0)
		return
	}
	writeJSON(w, http.StatusOK, sch)
}
