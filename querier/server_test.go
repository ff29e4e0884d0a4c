package querier

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gigapi/gigapi-insitu/core"
	"github.com/gigapi/gigapi-insitu/insitu"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	dataset  string
	params   *insitu.QueryParameters
	result   *QueryResult
	summary  *insitu.StatisticsSummary
	datasets []string
	err      error
}

func (c *fakeClient) Query(ctx context.Context, dataset string, params *insitu.QueryParameters) (*QueryResult, error) {
	c.dataset, c.params = dataset, params
	return c.result, c.err
}

func (c *fakeClient) Statistics(ctx context.Context, dataset string, params *insitu.QueryParameters) (*insitu.StatisticsSummary, error) {
	c.dataset, c.params = dataset, params
	return c.summary, c.err
}

func (c *fakeClient) Datasets(ctx context.Context) ([]string, error) {
	return c.datasets, c.err
}

func sampleResult() *QueryResult {
	return &QueryResult{
		Total:   7,
		Columns: []string{"latitude", "platform_code", "time_obj"},
		Rows: []map[string]any{
			{"latitude": 1.5, "platform_code": "30", "time_obj": time.Date(2021, 3, 1, 0, 0, 0, 0, time.UTC)},
			{"latitude": 2.5, "platform_code": nil, "time_obj": time.Date(2021, 3, 2, 0, 0, 0, 0, time.UTC)},
		},
	}
}

func TestHandleQuery(t *testing.T) {
	t.Run("GET with url parameters", func(t *testing.T) {
		client := &fakeClient{result: sampleResult()}
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet,
			"/query?dataset=argo&itemsPerPage=2&startTime=2021-03-01T00:00:00Z&minDepth=-10", nil)
		NewServer(client).HandleQuery(w, r)

		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "argo", client.dataset)
		assert.Equal(t, 2, client.params.PageSize)
		assert.Equal(t, -10.0, *client.params.MinDepth)
		assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))

		var resp QueryResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
		assert.Equal(t, int64(7), resp.Total)
		require.Len(t, resp.Results, 2)
		assert.Equal(t, "2021-03-01T00:00:00Z", resp.Results[0]["time_obj"])
		assert.Nil(t, resp.Results[1]["platform_code"])
	})

	t.Run("POST with json document", func(t *testing.T) {
		client := &fakeClient{result: sampleResult()}
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodPost, "/query?dataset=argo",
			strings.NewReader(`{"start_from": 5, "size": 10, "variable": ["TEMP"]}`))
		NewServer(client).HandleQuery(w, r)

		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, 5, client.params.StartIndex)
		assert.Equal(t, []string{"TEMP"}, client.params.Variables)
	})

	t.Run("ndjson", func(t *testing.T) {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/query?dataset=argo&format=ndjson", nil)
		NewServer(&fakeClient{result: sampleResult()}).HandleQuery(w, r)

		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "application/x-ndjson", w.Header().Get("Content-Type"))
		assert.Equal(t, "7", w.Header().Get("X-Total-Count"))
		lines := strings.Split(strings.TrimSpace(w.Body.String()), "\n")
		assert.Len(t, lines, 2)
	})

	t.Run("arrow", func(t *testing.T) {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/query?dataset=argo&format=arrow", nil)
		NewServer(&fakeClient{result: sampleResult()}).HandleQuery(w, r)

		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "application/vnd.apache.arrow.stream", w.Header().Get("Content-Type"))
		assert.NotZero(t, w.Body.Len())
	})

	t.Run("non-finite floats become null", func(t *testing.T) {
		res := &QueryResult{Total: 2, Columns: []string{"TEMP"}, Rows: []map[string]any{
			{"TEMP": math.NaN()},
			{"TEMP": math.Inf(-1)},
		}}
		for _, format := range []string{"json", "ndjson"} {
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodGet, "/query?dataset=argo&format="+format, nil)
			NewServer(&fakeClient{result: res}).HandleQuery(w, r)

			require.Equal(t, http.StatusOK, w.Code, format)
			assert.Equal(t, 2, strings.Count(w.Body.String(), `"TEMP":null`), format)
		}
	})

	t.Run("preflight", func(t *testing.T) {
		w := httptest.NewRecorder()
		NewServer(&fakeClient{}).HandleQuery(w, httptest.NewRequest(http.MethodOptions, "/query", nil))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "GET, POST, OPTIONS", w.Header().Get("Access-Control-Allow-Methods"))
	})

	t.Run("method not allowed", func(t *testing.T) {
		w := httptest.NewRecorder()
		NewServer(&fakeClient{}).HandleQuery(w, httptest.NewRequest(http.MethodDelete, "/query", nil))
		assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	})
}

func TestHandleQueryErrors(t *testing.T) {
	tests := []struct {
		name   string
		method string
		url    string
		body   string
		err    error
		status int
	}{
		{name: "unknown format", method: http.MethodGet, url: "/query?dataset=argo&format=csv", status: http.StatusBadRequest},
		{name: "bad url parameter", method: http.MethodGet, url: "/query?dataset=argo&minDepth=deep", status: http.StatusBadRequest},
		{name: "bad json document", method: http.MethodPost, url: "/query?dataset=argo", body: `{"size": 1}`, status: http.StatusBadRequest},
		{name: "validation from client", method: http.MethodGet, url: "/query",
			err: core.ErrValidation("dataset", "is required"), status: http.StatusBadRequest},
		{name: "index unavailable", method: http.MethodGet, url: "/query?dataset=argo",
			err: &core.IndexUnavailableError{Index: "postgres", Err: errors.New("refused")}, status: http.StatusServiceUnavailable},
		{name: "engine failure", method: http.MethodGet, url: "/query?dataset=argo",
			err: &core.ScanEngineError{Err: errors.New("boom")}, status: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r := httptest.NewRequest(tt.method, tt.url, strings.NewReader(tt.body))
			NewServer(&fakeClient{err: tt.err}).HandleQuery(w, r)

			assert.Equal(t, tt.status, w.Code)
			var resp ErrorResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
			assert.NotEmpty(t, resp.Error)
		})
	}
}

func TestHandleStatistics(t *testing.T) {
	client := &fakeClient{summary: &insitu.StatisticsSummary{
		TotalRows:         5,
		MaxDepth:          3,
		ObservationCounts: map[string]int64{"TEMP": 3, "PSAL": 0},
		FailedVariables:   []string{"PSAL"},
	}}
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/statistics?dataset=argo&variable=TEMP,PSAL", nil)
	NewServer(client).HandleStatistics(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"TEMP", "PSAL"}, client.params.Variables)

	var resp map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, 5.0, resp["total"])
	assert.Equal(t, 3.0, resp["max_depth"])
	assert.Equal(t, []any{"PSAL"}, resp["failed_variables"])

	w = httptest.NewRecorder()
	NewServer(&fakeClient{err: &core.IndexUnavailableError{Index: "s3", Err: errors.New("timeout")}}).
		HandleStatistics(w, httptest.NewRequest(http.MethodGet, "/statistics?dataset=argo", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestHandleDatasets(t *testing.T) {
	w := httptest.NewRecorder()
	NewServer(&fakeClient{datasets: []string{"argo", "glider"}}).
		HandleDatasets(w, httptest.NewRequest(http.MethodGet, "/datasets", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var resp DatasetsResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, []string{"argo", "glider"}, resp.Datasets)
}

func TestRoutes(t *testing.T) {
	mux := http.NewServeMux()
	NewServer(&fakeClient{datasets: []string{"argo"}}).Routes(mux)

	for _, path := range []string{"/health", "/datasets", "/metrics"} {
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, w.Code, path)
	}
}

func TestStatusCode(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, StatusCode(core.ErrValidation("size", "bad")))
	assert.Equal(t, http.StatusServiceUnavailable,
		StatusCode(&core.IndexUnavailableError{Index: "fs", Err: errors.New("x")}))
	assert.Equal(t, http.StatusInternalServerError, StatusCode(errors.New("x")))
}

func TestProcessResultsForJSON(t *testing.T) {
	got := ProcessResultsForJSON([]map[string]any{{
		"n":    int64(42),
		"f":    1.5,
		"s":    []byte("abc"),
		"t":    time.Date(2021, 3, 1, 12, 0, 0, 5, time.FixedZone("x", 3600)),
		"nan":  math.NaN(),
		"inf":  float32(math.Inf(1)),
		"null": nil,
	}})
	assert.Equal(t, []map[string]any{{
		"n":    "42",
		"f":    1.5,
		"s":    "abc",
		"t":    "2021-03-01T11:00:00.000000005Z",
		"nan":  nil,
		"inf":  nil,
		"null": nil,
	}}, got)
}
