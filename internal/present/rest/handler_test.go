package rest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/totegamma/checkpoint/internal/entitytype"
	"github.com/totegamma/checkpoint/internal/infra/memstore"
	"github.com/totegamma/checkpoint/internal/metrics"
	"github.com/totegamma/checkpoint/internal/usecase"
)

func newTestServer(t *testing.T) *echo.Echo {
	t.Helper()

	store := memstore.New()
	revisions := memstore.NewRevisionRepository(store)
	checkpointRepo := memstore.NewCheckpointRepository(store)
	timelineRepo := memstore.NewTimelineRepository(store)

	registry := entitytype.NewRegistry("models.")
	require.NoError(t, registry.RegisterKind("post", "Post"))

	m := metrics.New()
	opts := []usecase.Option{usecase.WithMetrics(m)}

	checkpoints := usecase.NewCheckpointUsecase(checkpointRepo, timelineRepo, opts...)
	query := usecase.NewQueryUsecase(revisions, checkpoints, registry, opts...)
	handler := NewHandler(
		usecase.NewChainUsecase(revisions, checkpointRepo, registry, opts...),
		checkpoints,
		query,
		usecase.NewTimelineUsecase(timelineRepo, query, opts...),
		nil,
		m.Handler(),
		zerolog.Nop(),
	)

	e := echo.New()
	handler.RegisterRoutes(e)
	return e
}

func do(t *testing.T, e *echo.Echo, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestRevisionLifecycle(t *testing.T) {
	e := newTestServer(t)

	rec := do(t, e, http.MethodPost, "/checkpoints", `{"title":"v1","checkpointAt":"2024-01-02T00:00:00Z"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	cp := decode[map[string]any](t, rec)
	assert.Equal(t, float64(1), cp["id"])

	rec = do(t, e, http.MethodPost, "/revisions", `{"entityType":"models.post","originalEntityID":10,"entityID":10,"checkpointID":1}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	first := decode[revisionResponse](t, rec)
	assert.Equal(t, "Post", first.EntityType)
	assert.True(t, first.IsNew)

	rec = do(t, e, http.MethodPost, "/revisions", `{"entityType":"Post","originalEntityID":10,"entityID":11}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	second := decode[revisionResponse](t, rec)
	require.NotNil(t, second.PreviousRevisionID)
	assert.Equal(t, first.ID, *second.PreviousRevisionID)

	rec = do(t, e, http.MethodGet, "/revisions/1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[revisionResponse](t, rec)
	assert.True(t, got.IsNew)
	assert.False(t, got.IsLatest)

	rec = do(t, e, http.MethodGet, "/latest", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []int64{second.ID}, decode[[]int64](t, rec))

	rec = do(t, e, http.MethodGet, "/latest?until=checkpoint:1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []int64{first.ID}, decode[[]int64](t, rec))

	rec = do(t, e, http.MethodGet, "/revisions/1/history", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]map[string]any](t, rec), 2)

	rec = do(t, e, http.MethodDelete, "/revisions/2", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, e, http.MethodGet, "/latest", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []int64{first.ID}, decode[[]int64](t, rec))
}

func TestLatestRejectsUnknownBounds(t *testing.T) {
	e := newTestServer(t)

	for _, target := range []string{
		"/latest?until=checkpoint:99",
		"/latest?until=checkpoint:abc",
		"/latest?since=yesterday",
		"/latest?timeline=main",
	} {
		rec := do(t, e, http.MethodGet, target, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
	}
}

func TestErrorMapping(t *testing.T) {
	e := newTestServer(t)

	rec := do(t, e, http.MethodGet, "/revisions/999", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, e, http.MethodGet, "/revisions/abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, e, http.MethodPost, "/revisions", `{"originalEntityID":1,"entityID":1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// an origin must carry its own entity id
	rec = do(t, e, http.MethodPost, "/revisions", `{"entityType":"Post","originalEntityID":1,"entityID":2}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	require.Equal(t, http.StatusCreated, do(t, e, http.MethodPost, "/checkpoints", `{"title":"v1"}`).Code)
	require.Equal(t, http.StatusCreated, do(t, e, http.MethodPost, "/checkpoints", `{"title":"v2"}`).Code)
	require.Equal(t, http.StatusCreated, do(t, e, http.MethodPost, "/revisions", `{"entityType":"Post","entityID":5}`).Code)

	rec = do(t, e, http.MethodPost, "/revisions/1/seal", `{"checkpointID":1}`)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, e, http.MethodPost, "/revisions/1/seal", `{"checkpointID":1}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, e, http.MethodPost, "/revisions/1/seal", `{"checkpointID":2}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCheckpointPartitions(t *testing.T) {
	e := newTestServer(t)

	for _, body := range []string{
		`{"title":"a","checkpointAt":"2024-01-01T00:00:00Z"}`,
		`{"title":"b","checkpointAt":"2024-01-02T00:00:00Z"}`,
		`{"title":"c","checkpointAt":"2024-01-03T00:00:00Z"}`,
	} {
		require.Equal(t, http.StatusCreated, do(t, e, http.MethodPost, "/checkpoints", body).Code)
	}

	rec := do(t, e, http.MethodGet, "/checkpoints/2/older", "")
	require.Equal(t, http.StatusOK, rec.Code)
	older := decode[[]map[string]any](t, rec)
	require.Len(t, older, 2)
	assert.Equal(t, "a", older[0]["title"])
	assert.Equal(t, "b", older[1]["title"])

	rec = do(t, e, http.MethodGet, "/checkpoints/2/newer", "")
	require.Equal(t, http.StatusOK, rec.Code)
	newer := decode[[]map[string]any](t, rec)
	require.Len(t, newer, 1)
	assert.Equal(t, "c", newer[0]["title"])

	rec = do(t, e, http.MethodGet, "/checkpoints/9/older", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, e, http.MethodGet, "/checkpoints", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]map[string]any](t, rec), 3)
}

func TestTimelines(t *testing.T) {
	e := newTestServer(t)

	rec := do(t, e, http.MethodPost, "/timelines", `{"title":" "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, e, http.MethodPost, "/timelines", `{"title":"main"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = do(t, e, http.MethodPost, "/revisions", `{"entityType":"Post","entityID":3,"timelineID":1}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = do(t, e, http.MethodPost, "/revisions", `{"entityType":"Post","entityID":4}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(t, e, http.MethodGet, "/timelines/1/revisions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []int64{1}, decode[[]int64](t, rec))

	rec = do(t, e, http.MethodGet, "/timelines/7/revisions", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, e, http.MethodGet, "/timelines", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]map[string]any](t, rec), 1)
}

func TestMetricsEndpoint(t *testing.T) {
	e := newTestServer(t)

	require.Equal(t, http.StatusCreated, do(t, e, http.MethodPost, "/revisions", `{"entityType":"Post","entityID":1}`).Code)

	rec := do(t, e, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "checkpoint_chain_operations_total")
}
