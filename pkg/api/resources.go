package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/cuemby/burrow/pkg/errors"
	"github.com/cuemby/burrow/pkg/types"
)

// SubmitResponse is returned by a submission. Error is set when the spec
// was stored but failed validation.
type SubmitResponse struct {
	Record *types.ResourceRecord `json:"record"`
	Error  *errors.Error         `json:"error,omitempty"`
}

func kindKey(r *http.Request) (types.Kind, string) {
	return types.Kind(chi.URLParam(r, "kind")), chi.URLParam(r, "key")
}

func limitParam(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0, errors.ErrValidation.
			WithMsgf("Query parameter is not valid").
			WithCausef("limit must be a non-negative integer, got %q", raw)
	}
	return limit, nil
}

func (s *Server) listResources(w http.ResponseWriter, r *http.Request) {
	records, err := s.manager.List(types.Kind(r.URL.Query().Get("kind")))
	if err != nil {
		s.error(w, err)
		return
	}
	if records == nil {
		records = []*types.ResourceRecord{}
	}
	s.json(w, http.StatusOK, records)
}

func (s *Server) getResource(w http.ResponseWriter, r *http.Request) {
	kind, key := kindKey(r)
	rec, err := s.manager.Query(kind, key)
	if err != nil {
		s.error(w, err)
		return
	}
	s.json(w, http.StatusOK, rec)
}

func (s *Server) submitResource(w http.ResponseWriter, r *http.Request) {
	kind, key := kindKey(r)

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxSpecBytes))
	if err != nil {
		s.error(w, errors.ErrValidation.WithCausef("failed to read spec: %v", err))
		return
	}
	if !json.Valid(body) {
		s.error(w, errors.ErrValidation.WithCausef("spec is not valid JSON"))
		return
	}

	rec, err := s.manager.Submit(kind, key, json.RawMessage(body))
	if err != nil {
		if rec == nil {
			s.error(w, err)
			return
		}
		e := errors.E(err)
		s.json(w, statusFor(e), SubmitResponse{Record: rec, Error: &e})
		return
	}
	s.json(w, http.StatusAccepted, SubmitResponse{Record: rec})
}

func (s *Server) removeResource(w http.ResponseWriter, r *http.Request) {
	kind, key := kindKey(r)
	rec, err := s.manager.Remove(kind, key)
	if err != nil {
		s.error(w, err)
		return
	}
	s.json(w, http.StatusAccepted, rec)
}

func (s *Server) retryResource(w http.ResponseWriter, r *http.Request) {
	kind, key := kindKey(r)
	rec, err := s.manager.Retry(kind, key)
	if err != nil {
		s.error(w, err)
		return
	}
	s.json(w, http.StatusAccepted, rec)
}

func (s *Server) resourceHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := limitParam(r)
	if err != nil {
		s.error(w, err)
		return
	}
	kind, key := kindKey(r)
	attempts, err := s.manager.History(kind, key, limit)
	if err != nil {
		s.error(w, err)
		return
	}
	s.writeAttempts(w, attempts)
}

func (s *Server) getRecord(w http.ResponseWriter, r *http.Request) {
	rec, err := s.manager.QueryByID(chi.URLParam(r, "id"))
	if err != nil {
		s.error(w, err)
		return
	}
	s.json(w, http.StatusOK, rec)
}

func (s *Server) recordHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := limitParam(r)
	if err != nil {
		s.error(w, err)
		return
	}
	attempts, err := s.manager.HistoryByID(chi.URLParam(r, "id"), limit)
	if err != nil {
		s.error(w, err)
		return
	}
	s.writeAttempts(w, attempts)
}

func (s *Server) writeAttempts(w http.ResponseWriter, attempts []*types.Attempt) {
	if attempts == nil {
		attempts = []*types.Attempt{}
	}
	s.json(w, http.StatusOK, attempts)
}
