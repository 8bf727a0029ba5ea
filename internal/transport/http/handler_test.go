package httptransport

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"intake/pkg/domain"
	dErrors "intake/pkg/domain-errors"
	"intake/pkg/platform/sentinel"
)

type fakePipeline struct {
	dedupCalls  []domain.ImportID
	mergeCalls  []domain.ImportID
	runCalls    []domain.ProgramID
	markCalls   []domain.ProgramID
	fetchCalls  []domain.ProgramID
	deleteCalls []domain.ImportID
	reindexed   []domain.ImportID

	err error
}

func (f *fakePipeline) DeduplicateImport(_ context.Context, id domain.ImportID) error {
	f.dedupCalls = append(f.dedupCalls, id)
	return f.err
}

func (f *fakePipeline) MergeImport(_ context.Context, id domain.ImportID) error {
	f.mergeCalls = append(f.mergeCalls, id)
	return f.err
}

func (f *fakePipeline) UploadAndProcessDeduplicationSet(_ context.Context, id domain.ProgramID) error {
	f.runCalls = append(f.runCalls, id)
	return f.err
}

func (f *fakePipeline) MarkProcessing(_ context.Context, id domain.ProgramID) error {
	f.markCalls = append(f.markCalls, id)
	return f.err
}

func (f *fakePipeline) FetchResultsAndProcess(_ context.Context, id domain.ProgramID) error {
	f.fetchCalls = append(f.fetchCalls, id)
	return f.err
}

func (f *fakePipeline) DeleteImport(_ context.Context, id domain.ImportID) error {
	f.deleteCalls = append(f.deleteCalls, id)
	return f.err
}

func (f *fakePipeline) ReindexImport(_ context.Context, id domain.ImportID) error {
	f.reindexed = append(f.reindexed, id)
	return f.err
}

type HandlerSuite struct {
	suite.Suite
	pipeline *fakePipeline
	router   http.Handler
}

func (s *HandlerSuite) SetupTest() {
	s.pipeline = &fakePipeline{}
	handler := NewHandler(
		s.pipeline, s.pipeline, s.pipeline, s.pipeline,
		"hook-secret",
		map[string]HealthChecker{"postgres": func(context.Context) error { return nil }},
		slog.New(slog.DiscardHandler),
	)
	s.router = NewRouter(handler)
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) do(method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *HandlerSuite) TestHealth() {
	rec := s.do(http.MethodGet, "/healthz", "", nil)
	s.Equal(http.StatusOK, rec.Code)
	s.Contains(rec.Body.String(), `"postgres":"ok"`)
}

func (s *HandlerSuite) TestHealthReportsFailingDependency() {
	handler := NewHandler(
		s.pipeline, s.pipeline, s.pipeline, s.pipeline, "hook-secret",
		map[string]HealthChecker{
			"postgres": func(context.Context) error { return nil },
			"redis":    func(context.Context) error { return errors.New("connection refused") },
		},
		slog.New(slog.DiscardHandler),
	)
	s.router = NewRouter(handler)

	rec := s.do(http.MethodGet, "/healthz", "", nil)
	s.Equal(http.StatusServiceUnavailable, rec.Code)
	s.Contains(rec.Body.String(), "connection refused")
}

func (s *HandlerSuite) TestTriggerEndpoints() {
	importID := uuid.NewString()
	programID := uuid.NewString()

	s.Run("deduplicate", func() {
		rec := s.do(http.MethodPost, "/api/imports/"+importID+"/deduplicate", "", nil)
		s.Equal(http.StatusAccepted, rec.Code)
		s.Len(s.pipeline.dedupCalls, 1)
		s.Equal(importID, s.pipeline.dedupCalls[0].String())
	})

	s.Run("merge", func() {
		rec := s.do(http.MethodPost, "/api/imports/"+importID+"/merge", "", nil)
		s.Equal(http.StatusAccepted, rec.Code)
		s.Len(s.pipeline.mergeCalls, 1)
	})

	s.Run("biometric run", func() {
		rec := s.do(http.MethodPost, "/api/programs/"+programID+"/biometric/run", "", nil)
		s.Equal(http.StatusAccepted, rec.Code)
		s.Len(s.pipeline.runCalls, 1)
	})

	s.Run("reindex", func() {
		rec := s.do(http.MethodPost, "/api/imports/"+importID+"/reindex", "", nil)
		s.Equal(http.StatusOK, rec.Code)
		s.Len(s.pipeline.reindexed, 1)
	})

	s.Run("delete", func() {
		rec := s.do(http.MethodDelete, "/api/imports/"+importID, "", nil)
		s.Equal(http.StatusOK, rec.Code)
		s.Len(s.pipeline.deleteCalls, 1)
	})

	s.Run("malformed id", func() {
		rec := s.do(http.MethodPost, "/api/imports/not-a-uuid/merge", "", nil)
		s.Equal(http.StatusBadRequest, rec.Code)
	})
}

func (s *HandlerSuite) TestWebhookSecret() {
	programID := uuid.NewString()
	path := "/api/programs/" + programID + "/deduplication/callback"

	s.Run("missing secret is rejected", func() {
		rec := s.do(http.MethodPost, path, `{"state":"Clean"}`, nil)
		s.Equal(http.StatusUnauthorized, rec.Code)
		s.Empty(s.pipeline.fetchCalls)
	})

	s.Run("wrong secret is rejected", func() {
		rec := s.do(http.MethodPost, path, `{"state":"Clean"}`,
			map[string]string{"X-Webhook-Secret": "guess"})
		s.Equal(http.StatusUnauthorized, rec.Code)
	})

	s.Run("valid secret dispatches on state", func() {
		rec := s.do(http.MethodPost, path, `{"state":"Processing"}`,
			map[string]string{"X-Webhook-Secret": "hook-secret"})
		s.Equal(http.StatusOK, rec.Code)
		s.Len(s.pipeline.markCalls, 1)

		rec = s.do(http.MethodPost, path, `{"state":"Clean"}`,
			map[string]string{"X-Webhook-Secret": "hook-secret"})
		s.Equal(http.StatusOK, rec.Code)
		s.Len(s.pipeline.fetchCalls, 1)
	})

	s.Run("empty configured secret rejects everything", func() {
		handler := NewHandler(
			s.pipeline, s.pipeline, s.pipeline, s.pipeline, "",
			nil, slog.New(slog.DiscardHandler))
		router := NewRouter(handler)
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(`{"state":"Clean"}`))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		s.Equal(http.StatusUnauthorized, rec.Code)
	})
}

func (s *HandlerSuite) TestErrorMapping() {
	importID := uuid.NewString()
	cases := []struct {
		name string
		err  error
		code int
	}{
		{"not found", sentinel.ErrNotFound, http.StatusNotFound},
		{"invariant violation", dErrors.New(dErrors.CodeInvariantViolation, "wrong status"), http.StatusConflict},
		{"already processing", sentinel.ErrAlreadyProcessing, http.StatusConflict},
		{"invalid input", dErrors.New(dErrors.CodeInvalidInput, "bad payload"), http.StatusBadRequest},
		{"engine unavailable", sentinel.ErrUnavailable, http.StatusBadGateway},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		s.Run(tc.name, func() {
			s.pipeline.err = tc.err
			rec := s.do(http.MethodPost, "/api/imports/"+importID+"/merge", "", nil)
			s.Equal(tc.code, rec.Code)
		})
	}
}
