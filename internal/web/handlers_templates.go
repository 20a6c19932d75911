package web

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/categorizer/internal/record"
	"github.com/JonMunkholm/categorizer/internal/schema"
	"github.com/JonMunkholm/categorizer/internal/taxonomy"
)

// generateRequest carries existing categories either as a tree or as flat
// rows such as ["管道阀门", "控制阀门", "球阀"].
type generateRequest struct {
	recordsRequest
	Fingerprint string          `json:"fingerprint,omitempty"`
	Existing    []taxonomy.Node `json:"existing,omitempty"`
	Categories  [][]string      `json:"categories,omitempty"`
}

type generateResponse struct {
	Schema   *schema.Schema     `json:"schema"`
	Template *taxonomy.Template `json:"template"`
}

// handleGenerateTemplate generates and stores a template. The schema is
// either looked up by fingerprint or recognized from the records.
func (s *Server) handleGenerateTemplate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err, 0)
		return
	}

	var sample []record.Record
	if len(req.Records) > 0 {
		recs, err := decodeRecords(req.Records)
		if err != nil {
			respondError(w, r, err, 0)
			return
		}
		sample = wellFormed(recs, s.cfg.Engine.SampleSize)
	}

	ctx := r.Context()
	var (
		sch *schema.Schema
		err error
	)
	switch {
	case req.Fingerprint != "":
		sch, err = s.service.Schema(ctx, req.Fingerprint)
	case len(sample) > 0:
		sch, err = s.service.Recognize(ctx, sample, req.Metadata)
	default:
		err = fmt.Errorf("%w: records or fingerprint are required", errBadRequest)
	}
	if err != nil {
		respondError(w, r, err, 0)
		return
	}

	existing := append(req.Existing, taxonomy.TreeFromPaths(req.Categories)...)
	tpl, err := s.service.GenerateTemplate(ctx, sch, existing, sample)
	if err != nil {
		respondError(w, r, err, 0)
		return
	}
	writeJSON(w, http.StatusCreated, generateResponse{Schema: sch, Template: tpl})
}

// handleListTemplates lists stored templates, optionally of one industry.
func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	tpls, err := s.service.ListTemplates(r.Context(), r.URL.Query().Get("industry"))
	if err != nil {
		respondError(w, r, err, 0)
		return
	}
	if tpls == nil {
		tpls = []*taxonomy.Template{}
	}
	writeJSON(w, http.StatusOK, tpls)
}

func (s *Server) handleGetTemplate(w http.ResponseWriter, r *http.Request) {
	tpl, err := s.service.Template(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, err, 0)
		return
	}
	writeJSON(w, http.StatusOK, tpl)
}

// handleOptimizeTemplate records accuracy feedback and stores a new revision
// adjusted by all feedback for the current revision.
func (s *Server) handleOptimizeTemplate(w http.ResponseWriter, r *http.Request) {
	var fb taxonomy.Feedback
	if err := s.decodeJSON(w, r, &fb); err != nil {
		respondError(w, r, err, 0)
		return
	}
	if err := validateFeedback(fb); err != nil {
		respondError(w, r, err, 0)
		return
	}

	tpl, err := s.service.OptimizeTemplate(r.Context(), chi.URLParam(r, "id"), fb)
	if err != nil {
		respondError(w, r, err, 0)
		return
	}
	writeJSON(w, http.StatusOK, tpl)
}

// handleRecordPerformance appends reviewed results to a template's history
// without changing the template.
func (s *Server) handleRecordPerformance(w http.ResponseWriter, r *http.Request) {
	var fb taxonomy.Feedback
	if err := s.decodeJSON(w, r, &fb); err != nil {
		respondError(w, r, err, 0)
		return
	}
	if err := validateFeedback(fb); err != nil {
		respondError(w, r, err, 0)
		return
	}

	p, err := s.service.RecordPerformance(r.Context(), chi.URLParam(r, "id"), fb)
	if err != nil {
		respondError(w, r, err, 0)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handlePerformance(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			respondError(w, r, fmt.Errorf("%w: limit must be a non-negative integer", errBadRequest), 0)
			return
		}
		limit = n
	}

	history, err := s.service.Performance(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		respondError(w, r, err, 0)
		return
	}
	if history == nil {
		history = []taxonomy.Performance{}
	}
	writeJSON(w, http.StatusOK, history)
}

func validateFeedback(fb taxonomy.Feedback) error {
	switch {
	case fb.Accuracy < 0 || fb.Accuracy > 1:
		return fmt.Errorf("%w: accuracy must be within [0, 1]", errBadRequest)
	case fb.Records < 0:
		return fmt.Errorf("%w: records must not be negative", errBadRequest)
	}
	return nil
}
