package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/JonMunkholm/categorizer/internal/core"
	"github.com/JonMunkholm/categorizer/internal/ingest"
	"github.com/JonMunkholm/categorizer/internal/record"
)

// multipartMemory is the part of an upload kept in memory before spilling
// to temporary files.
const multipartMemory = 32 << 20

type classifyRequest struct {
	Record      json.RawMessage   `json:"record"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	TemplateID  string            `json:"template_id,omitempty"`
	Fingerprint string            `json:"fingerprint,omitempty"`
}

type batchRequest struct {
	recordsRequest
	TemplateID  string `json:"template_id,omitempty"`
	Fingerprint string `json:"fingerprint,omitempty"`
	BatchSize   int    `json:"batch_size,omitempty"`
	Workers     int    `json:"workers,omitempty"`
}

// handleClassify classifies one record. Without a template id the record is
// recognized and classified as its own sample.
func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	var req classifyRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err, 0)
		return
	}
	var raw any
	if err := json.Unmarshal(req.Record, &raw); err != nil {
		respondError(w, r, fmt.Errorf("%w: record: %v", errBadRequest, err), 0)
		return
	}
	rec, err := record.FromAny(raw)
	if err != nil {
		respondError(w, r, fmt.Errorf("%w: %w", errBadRequest, err), 0)
		return
	}

	ctx := r.Context()
	if req.TemplateID == "" {
		writeJSON(w, http.StatusOK, s.service.ClassifyRecord(ctx, rec, req.Metadata))
		return
	}

	opts, err := s.batchOptions(ctx, req.TemplateID, req.Fingerprint)
	if err != nil {
		respondError(w, r, err, 0)
		return
	}
	writeJSON(w, http.StatusOK, s.service.Classify(ctx, rec, opts.Template, opts.Schema))
}

// handleClassifyBatch classifies a JSON array of records.
func (s *Server) handleClassifyBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err, 0)
		return
	}
	recs, err := decodeRecords(req.Records)
	if err != nil {
		respondError(w, r, err, 0)
		return
	}

	opts, err := s.batchOptions(r.Context(), req.TemplateID, req.Fingerprint)
	if err != nil {
		respondError(w, r, err, 0)
		return
	}
	opts.Metadata = req.Metadata
	opts.BatchSize = req.BatchSize
	opts.Workers = req.Workers
	s.runBatch(w, r, recs, opts)
}

// handleClassifyUpload classifies the records of an uploaded CSV, XLSX or
// JSON file. Form fields: file, metadata (JSON object), template_id,
// fingerprint, batch_size, workers.
func (s *Server) handleClassifyUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Server.MaxUploadSize)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		respondError(w, r, fmt.Errorf("file too large or invalid form: %w", err), http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, r, fmt.Errorf("no file provided: %w", err), http.StatusBadRequest)
		return
	}
	defer file.Close()

	recs, err := ingest.Read(file, header.Filename)
	if err != nil {
		respondError(w, r, err, 0)
		return
	}

	opts, err := s.batchOptions(r.Context(), r.FormValue("template_id"), r.FormValue("fingerprint"))
	if err != nil {
		respondError(w, r, err, 0)
		return
	}
	if meta := r.FormValue("metadata"); meta != "" {
		if err := json.Unmarshal([]byte(meta), &opts.Metadata); err != nil {
			respondError(w, r, fmt.Errorf("%w: metadata: %v", errBadRequest, err), 0)
			return
		}
	}
	opts.BatchSize = formInt(r, "batch_size")
	opts.Workers = formInt(r, "workers")
	s.runBatch(w, r, recs, opts)
}

// batchOptions loads the template and schema named by a request. Either may
// be empty; the batch then resolves it from the records.
func (s *Server) batchOptions(ctx context.Context, templateID, fingerprint string) (core.BatchOptions, error) {
	var opts core.BatchOptions
	if templateID != "" {
		tpl, err := s.service.Template(ctx, templateID)
		if err != nil {
			return opts, err
		}
		opts.Template = tpl
	}
	if fingerprint != "" {
		sch, err := s.service.Schema(ctx, fingerprint)
		if err != nil {
			return opts, err
		}
		opts.Schema = sch
	}
	return opts, nil
}

func (s *Server) runBatch(w http.ResponseWriter, r *http.Request, recs []record.Record, opts core.BatchOptions) {
	switch {
	case len(recs) == 0:
		respondError(w, r, fmt.Errorf("%w: no records", errBadRequest), 0)
		return
	case len(recs) > s.cfg.Batch.MaxRecords:
		respondError(w, r, fmt.Errorf("%w: %d exceeds limit of %d", errTooManyRecords, len(recs), s.cfg.Batch.MaxRecords), 0)
		return
	}

	res, err := s.service.ClassifyBatch(r.Context(), recs, opts)
	if err != nil {
		respondError(w, r, err, 0)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// formInt parses an optional positive integer form value; anything else is 0.
func formInt(r *http.Request, name string) int {
	n, err := strconv.Atoi(r.FormValue(name))
	if err != nil || n < 0 {
		return 0
	}
	return n
}
