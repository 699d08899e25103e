package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/reminator329/trainingbook/internal/auth"
	"github.com/reminator329/trainingbook/internal/graph"
	"github.com/reminator329/trainingbook/internal/store"
	"github.com/reminator329/trainingbook/internal/training"
)

var authConfig = auth.Config{Secret: "api-secret", Issuer: "trainingbook-test"}

type fixture struct {
	handler  http.Handler
	template *training.ProgramType
	token    string
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()
	s, err := store.Open(ctx, store.NewMemoryBackend(nil), graph.NewCodec(training.NewRegistry()), training.Collections, training.StoreOptions()...)
	require.NoError(t, err)
	svc := training.NewService(s)

	owner := training.Owner{PlatformID: "42", Mention: "@lifter"}
	squat, err := svc.CreateExerciseType(ctx, owner, "Squat")
	require.NoError(t, err)
	template := training.NewProgramType("Legs", training.NewExerciseProgram(squat, 120))
	require.NoError(t, svc.CreateProgramType(ctx, owner, template))

	for i, weight := range []float64{100, 105} {
		session, err := svc.StartSession(ctx, template.ID)
		require.NoError(t, err)
		session.Date = time.Date(2024, 3, i+1, 9, 0, 0, 0, time.UTC)
		require.NoError(t, session.AddResult(training.NewExercise(session.Template.ExercisePrograms[0], weight, 5)))
		require.NoError(t, svc.RecordSession(ctx, owner, session))
	}

	mux := http.NewServeMux()
	NewHandler(s, svc, nil).RegisterRoutes(mux)
	token, err := auth.Sign(authConfig, "tester", []string{auth.ScopeRead}, time.Minute)
	require.NoError(t, err)
	return fixture{handler: auth.NewMiddleware(authConfig).Wrap(mux), template: template, token: token}
}

func (f fixture) get(t *testing.T, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthzIsPublic(t *testing.T) {
	f := newFixture(t)
	rec := f.get(t, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", rec.Body.String())
}

func TestCollectionListsEncodedRecords(t *testing.T) {
	f := newFixture(t)

	rec := f.get(t, "/v1/collections/exerciseTypes", f.token)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Collection string           `json:"collection"`
		Items      []map[string]any `json:"items"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "exerciseTypes", body.Collection)
	require.Len(t, body.Items, 1)
	require.Equal(t, "ExerciseType", body.Items[0]["_class"])
	require.Equal(t, "Squat", body.Items[0]["name"])

	legacy := f.get(t, "/v1/collections/programs", f.token)
	require.Equal(t, http.StatusOK, legacy.Code)
}

func TestCollectionErrors(t *testing.T) {
	f := newFixture(t)

	require.Equal(t, http.StatusUnauthorized, f.get(t, "/v1/collections/users", "").Code)

	noScope, err := auth.Sign(authConfig, "tester", nil, time.Minute)
	require.NoError(t, err)
	require.Equal(t, http.StatusForbidden, f.get(t, "/v1/collections/users", noScope).Code)

	rec := f.get(t, "/v1/collections/bogus", f.token)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Contains(t, rec.Body.String(), "not_found")
}

func TestUserHistory(t *testing.T) {
	f := newFixture(t)
	programID := f.template.ExercisePrograms[0].ID

	rec := f.get(t, "/v1/users/42/history?template="+string(f.template.ID)+"&limit=5", f.token)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		History map[string][]training.HistoryEntry `json:"history"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	entries := body.History[string(programID)]
	require.Len(t, entries, 2)
	require.Equal(t, 105.0, entries[1].Weight)
	require.Equal(t, training.TrendUp, entries[1].WeightTrend)
}

func TestUserHistoryErrors(t *testing.T) {
	f := newFixture(t)

	require.Equal(t, http.StatusBadRequest, f.get(t, "/v1/users/42/history", f.token).Code)
	require.Equal(t, http.StatusBadRequest, f.get(t, "/v1/users/42/history?template=x&limit=-1", f.token).Code)
	require.Equal(t, http.StatusNotFound, f.get(t, "/v1/users/404/history?template=x", f.token).Code)
}
