package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/pagevault/ingestd/internal/pipeline"
)

type registerURLRequest struct {
	URL            string         `json:"url"`
	Metadata       map[string]any `json:"metadata"`
	Tags           []string       `json:"tags"`
	AutoCreateTags *bool          `json:"auto_create_tags"`
}

func (s *Server) registerURL(w http.ResponseWriter, r *http.Request) {
	var req registerURLRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
		writeError(w, http.StatusBadRequest, "url required")
		return
	}
	normalized, err := pipeline.NormalizeURL(req.URL)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var id string
	if len(req.Tags) > 0 {
		id, err = s.ledger.RegisterWithTags(r.Context(), normalized, req.Metadata, req.Tags, boolOrDefault(req.AutoCreateTags, true))
	} else {
		id, err = s.ledger.Register(r.Context(), normalized, req.Metadata)
	}
	if err != nil {
		switch {
		case errors.Is(err, pipeline.ErrDuplicateURL):
			writeError(w, http.StatusConflict, "url already registered")
		case errors.Is(err, pipeline.ErrTagNotFound):
			writeError(w, http.StatusNotFound, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id, "url": normalized})
}

func (s *Server) listURLs(w http.ResponseWriter, r *http.Request) {
	filter := pipeline.URLFilter{
		Status: pipeline.URLStatus(r.URL.Query().Get("status")),
		Tags:   r.URL.Query()["tag"],
	}
	records, err := s.ledger.List(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"urls": records, "count": len(records)})
}

func (s *Server) getURLInfo(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("url")
	if raw == "" {
		writeError(w, http.StatusBadRequest, "url query parameter required")
		return
	}
	normalized, err := pipeline.NormalizeURL(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	record, err := s.ledger.GetURLInfo(r.Context(), normalized)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if record == nil {
		writeError(w, http.StatusNotFound, "url not tracked")
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) removeURL(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "url_id")
	removed, err := s.ledger.Remove(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !removed {
		writeError(w, http.StatusNotFound, "url not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": "removed"})
}

func (s *Server) tagsForURL(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "url_id")
	tags, err := s.tags.TagsForURL(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tags": tags})
}

type processRequest struct {
	URL            string   `json:"url"`
	Tags           []string `json:"tags"`
	Cleaners       []string `json:"cleaners"`
	SkipUnchanged  *bool    `json:"skip_unchanged_content"`
	AutoCreateTags *bool    `json:"auto_create_tags"`
}

func (r processRequest) options() pipeline.Options {
	return pipeline.Options{
		Tags:                 r.Tags,
		Cleaners:             r.Cleaners,
		SkipUnchangedContent: r.SkipUnchanged,
		AutoCreateTags:       r.AutoCreateTags,
	}
}

func (s *Server) processURL(w http.ResponseWriter, r *http.Request) {
	var req processRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
		writeError(w, http.StatusBadRequest, "url required")
		return
	}
	result := s.orchestrator.ProcessURL(r.Context(), req.URL, req.options())
	status := http.StatusOK
	if result.Error != nil {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, result)
}

type processBatchRequest struct {
	URLs []string `json:"urls"`
	processRequest
}

func (s *Server) processBatch(w http.ResponseWriter, r *http.Request) {
	var req processBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.URLs) == 0 {
		writeError(w, http.StatusBadRequest, "urls required")
		return
	}
	results := s.orchestrator.ProcessURLs(r.Context(), req.URLs, req.options())
	writeJSON(w, http.StatusOK, pipeline.Summarize(results))
}

type processByTagsRequest struct {
	Tags             []string `json:"tags"`
	IncludeChildTags bool     `json:"include_child_tags"`
	RequireAllTags   bool     `json:"require_all_tags"`
	Cleaners         []string `json:"cleaners"`
	SkipUnchanged    *bool    `json:"skip_unchanged_content"`
}

func (s *Server) processByTags(w http.ResponseWriter, r *http.Request) {
	var req processByTagsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Tags) == 0 {
		writeError(w, http.StatusBadRequest, "tags required")
		return
	}
	results, err := s.orchestrator.ProcessURLsByTags(r.Context(), req.Tags, pipeline.BatchTagOptions{
		IncludeChildTags: req.IncludeChildTags,
		RequireAllTags:   req.RequireAllTags,
		Options: pipeline.Options{
			Cleaners:             req.Cleaners,
			SkipUnchangedContent: req.SkipUnchanged,
		},
	})
	if err != nil {
		switch {
		case errors.Is(err, pipeline.ErrTagNotFound):
			writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, pipeline.ErrNoTagSupport):
			writeError(w, http.StatusNotImplemented, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, pipeline.Summarize(results))
}

func (s *Server) createTag(w http.ResponseWriter, r *http.Request) {
	var input pipeline.TagInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil || input.Name == "" {
		writeError(w, http.StatusBadRequest, "tag name required")
		return
	}
	tag, err := s.tags.CreateTag(r.Context(), input)
	if err != nil {
		switch {
		case errors.Is(err, pipeline.ErrDuplicateTagName):
			writeError(w, http.StatusConflict, "tag name already exists")
		case errors.Is(err, pipeline.ErrParentTagNotFound):
			writeError(w, http.StatusNotFound, "parent tag not found")
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusCreated, tag)
}

func (s *Server) listTags(w http.ResponseWriter, r *http.Request) {
	tags, err := s.tags.ListTags(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tags": tags})
}

func (s *Server) childTags(w http.ResponseWriter, r *http.Request) {
	id, err := tagID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid tag id")
		return
	}
	recursive := r.URL.Query().Get("recursive") == "true"
	children, err := s.tags.GetChildTags(r.Context(), id, recursive)
	if err != nil {
		if errors.Is(err, pipeline.ErrTagNotFound) {
			writeError(w, http.StatusNotFound, "tag not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tags": children})
}

func (s *Server) tagPath(w http.ResponseWriter, r *http.Request) {
	id, err := tagID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid tag id")
		return
	}
	path, err := s.tags.GetTagPath(r.Context(), id)
	if err != nil {
		if errors.Is(err, pipeline.ErrTagNotFound) {
			writeError(w, http.StatusNotFound, "tag not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"path": path})
}

func (s *Server) deleteTag(w http.ResponseWriter, r *http.Request) {
	id, err := tagID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid tag id")
		return
	}
	deleteChildren := r.URL.Query().Get("delete_children") == "true"
	deleted, err := s.tags.DeleteTag(r.Context(), id, deleteChildren)
	if err != nil {
		if errors.Is(err, pipeline.ErrTagHasChildren) {
			writeError(w, http.StatusConflict, "tag has children")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, "tag not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "status": "deleted"})
}

func (s *Server) getParameters(w http.ResponseWriter, r *http.Request) {
	if s.params == nil {
		writeError(w, http.StatusNotImplemented, "parameters store not configured")
		return
	}
	raw := r.URL.Query().Get("url")
	if raw == "" {
		writeError(w, http.StatusBadRequest, "url query parameter required")
		return
	}
	params, err := s.params.Get(r.Context(), raw)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if params == nil {
		writeError(w, http.StatusNotFound, "no parameters for url")
		return
	}
	writeJSON(w, http.StatusOK, params)
}

func (s *Server) setParameters(w http.ResponseWriter, r *http.Request) {
	if s.params == nil {
		writeError(w, http.StatusNotImplemented, "parameters store not configured")
		return
	}
	var params pipeline.URLParameters
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil || params.URL == "" {
		writeError(w, http.StatusBadRequest, "url required")
		return
	}
	if err := s.params.Set(r.Context(), params); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": params.URL, "status": "saved"})
}

func (s *Server) searchKnowledge(w http.ResponseWriter, r *http.Request) {
	if s.know == nil {
		writeError(w, http.StatusNotImplemented, "knowledge store not configured")
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, _ = strconv.Atoi(raw)
	}
	docs, err := s.know.Search(r.Context(), r.URL.Query().Get("q"), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": docs, "count": len(docs)})
}

func (s *Server) knowledgeStats(w http.ResponseWriter, r *http.Request) {
	if s.know == nil {
		writeError(w, http.StatusNotImplemented, "knowledge store not configured")
		return
	}
	stats, err := s.know.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func tagID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "tag_id"), 10, 64)
}

func boolOrDefault(ptr *bool, def bool) bool {
	if ptr == nil {
		return def
	}
	return *ptr
}
