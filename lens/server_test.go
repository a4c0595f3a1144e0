package lens

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testUpdateToken = "update-secret"

func newTestServer(t *testing.T, updateToken string) (*Server, *httptest.Server) {
	t.Helper()

	store := NewMemReportStore()
	for _, r := range presenterReports() {
		require.NoError(t, store.SaveReport(r))
	}
	dashboard := NewDashboard([]BuildType{{ID: "bt", Label: "Build"}, {ID: "empty", Label: "Empty"}},
		StoreReportFetcher{Store: store}, ReportOrderNewestFirst, 10)
	require.NoError(t, dashboard.RefreshAll(t.Context()))

	s := NewServer(store, dashboard, updateToken)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		srv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		assert.NoError(t, s.Stop(ctx))
	})
	return s, srv
}

func doRequest(t *testing.T, method, url, token string, body any) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(t.Context(), method, url, reader)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()

	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestServerListTests(t *testing.T) {
	t.Parallel()
	_, srv := newTestServer(t, testUpdateToken)

	resp := doRequest(t, http.MethodGet, srv.URL+"/api/reports/bt/tests?limit=2", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decodeBody[listReportsResponse](t, resp)
	assert.Equal(t, []int{13, 12}, reportIDs(list.Items))

	resp = doRequest(t, http.MethodGet, srv.URL+"/api/reports/missing/tests", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"items":[]}`, string(data))

	resp = doRequest(t, http.MethodGet, srv.URL+"/api/reports/bt/tests?limit=-1", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServerInsertTest(t *testing.T) {
	t.Parallel()

	t.Run("stored_and_presented", func(t *testing.T) {
		s, srv := newTestServer(t, testUpdateToken)

		report := makeReport("bt", 14, 100, nil, nil)
		resp := doRequest(t, http.MethodPost, srv.URL+"/api/reports/tests", testUpdateToken, report)
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		assert.Equal(t, 14, decodeBody[TestReport](t, resp).BuildID)

		p, err := s.dashboard.Presenter("bt")
		require.NoError(t, err)
		assert.Eventually(t, func() bool {
			report, ok := p.State().SelectedReport()
			return ok && report.BuildID == 14
		}, 5*time.Second, 10*time.Millisecond)
	})

	t.Run("unknown_build_type_stored", func(t *testing.T) {
		_, srv := newTestServer(t, testUpdateToken)

		resp := doRequest(t, http.MethodPost, srv.URL+"/api/reports/tests", testUpdateToken,
			makeReport("other", 1, 1, nil, nil))
		require.Equal(t, http.StatusCreated, resp.StatusCode)

		resp = doRequest(t, http.MethodGet, srv.URL+"/api/reports/other/tests", "", nil)
		assert.Equal(t, []int{1}, reportIDs(decodeBody[listReportsResponse](t, resp).Items))
	})

	errorTests := []struct {
		name        string
		serverToken string
		token       string
		body        any
		status      int
	}{
		{"no_token", testUpdateToken, "", makeReport("bt", 15, 1, nil, nil), http.StatusUnauthorized},
		{"wrong_token", testUpdateToken, "guess", makeReport("bt", 15, 1, nil, nil), http.StatusUnauthorized},
		{"inserts_disabled", "", "", makeReport("bt", 15, 1, nil, nil), http.StatusUnauthorized},
		{"invalid_report", testUpdateToken, testUpdateToken, makeReport("", 15, 1, nil, nil), http.StatusBadRequest},
		{"bad_json", testUpdateToken, testUpdateToken, "not a report", http.StatusBadRequest},
	}
	for _, tt := range errorTests {
		t.Run(tt.name, func(t *testing.T) {
			_, srv := newTestServer(t, tt.serverToken)

			resp := doRequest(t, http.MethodPost, srv.URL+"/api/reports/tests", tt.token, tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.NotEmpty(t, decodeBody[map[string]string](t, resp)["error"])
		})
	}
}

func TestServerDashboard(t *testing.T) {
	t.Parallel()
	_, srv := newTestServer(t, "")

	resp := doRequest(t, http.MethodGet, srv.URL+"/api/dashboard", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody[struct {
		BuildTypes []dashboardBuildType `json:"buildTypes"`
	}](t, resp)
	require.Len(t, body.BuildTypes, 2)
	assert.Equal(t, "Build", body.BuildTypes[0].Label)
	assert.True(t, body.BuildTypes[0].Available)
	require.NotNil(t, body.BuildTypes[0].LatestID)
	assert.Equal(t, 13, *body.BuildTypes[0].LatestID)
	assert.False(t, body.BuildTypes[1].Available)
	assert.Nil(t, body.BuildTypes[1].LatestID)

	resp = doRequest(t, http.MethodGet, srv.URL+"/api/dashboard/bt", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	state := decodeBody[PresenterState](t, resp)
	assert.Equal(t, 3, state.Selected)
	assert.Equal(t, ChartKindPie, state.ActiveChart.Kind)
	assert.NotEmpty(t, state.ChartToken)

	resp = doRequest(t, http.MethodGet, srv.URL+"/api/dashboard/unknown", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServerSelections(t *testing.T) {
	t.Parallel()
	_, srv := newTestServer(t, "")
	base := srv.URL + "/api/dashboard/bt"

	resp := doRequest(t, http.MethodGet, base, "", nil)
	pieToken := decodeBody[PresenterState](t, resp).ChartToken

	resp = doRequest(t, http.MethodPost, base+"/select", "", selectionRequest{Row: pieRowFailed, Token: pieToken})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	selected := decodeBody[stateResponse](t, resp)
	assert.True(t, selected.Changed)
	assert.Equal(t, ChartKindTreeMap, selected.State.ActiveChart.Kind)

	resp = doRequest(t, http.MethodPost, base+"/select", "", selectionRequest{Row: 0, Token: pieToken})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	stale := decodeBody[stateResponse](t, resp)
	assert.False(t, stale.Changed)
	assert.Equal(t, selected.State.ChartToken, stale.State.ChartToken)

	resp = doRequest(t, http.MethodGet, base+"/tooltip?row=5", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	tooltip, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(tooltip), "Log : e1")

	resp = doRequest(t, http.MethodGet, base+"/tooltip?row=99", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp = doRequest(t, http.MethodGet, base+"/tooltip", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = doRequest(t, http.MethodPost, base+"/window", "", selectionRequest{From: 0, To: 1})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	windowed := decodeBody[stateResponse](t, resp)
	assert.True(t, windowed.Changed)
	assert.Len(t, windowed.State.TrendChart.Rows, 2)

	resp = doRequest(t, http.MethodPost, base+"/trend/select", "", selectionRequest{Row: 0})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	trendSelected := decodeBody[stateResponse](t, resp)
	assert.True(t, trendSelected.Changed)
	assert.Equal(t, 2, trendSelected.State.Selected) // build 12, oldest visible
	assert.Equal(t, ChartKindPie, trendSelected.State.ActiveChart.Kind)

	resp = doRequest(t, http.MethodPost, base+"/select", "", "garbage")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = doRequest(t, http.MethodPost, base+"/refresh", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	refreshed := decodeBody[stateResponse](t, resp)
	assert.Equal(t, 3, refreshed.State.Selected)
}

func TestServerRefreshFailure(t *testing.T) {
	t.Parallel()

	fetcher := staticFetcher(nil, io.ErrUnexpectedEOF)
	dashboard := NewDashboard([]BuildType{{ID: "bt", Label: "Build"}}, fetcher, ReportOrderNewestFirst, 10)
	srv := httptest.NewServer(NewServer(NewMemReportStore(), dashboard, "").Handler())
	t.Cleanup(srv.Close)

	resp := doRequest(t, http.MethodPost, srv.URL+"/api/dashboard/bt/refresh", "", nil)
	require.Equal(t, http.StatusBadGateway, resp.StatusCode)
	state := decodeBody[stateResponse](t, resp).State
	assert.False(t, state.Available)
	assert.NotEmpty(t, state.LastError)

	resp = doRequest(t, http.MethodGet, srv.URL+"/api/dashboard/bt/chart.svg", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServerCharts(t *testing.T) {
	t.Parallel()
	_, srv := newTestServer(t, "")
	base := srv.URL + "/api/dashboard/bt"

	tests := []struct {
		path        string
		contentType string
	}{
		{"/chart.svg", "image/svg+xml"},
		{"/chart.png", "image/png"},
		{"/trend.svg", "image/svg+xml"},
		{"/trend.png", "image/png"},
		{"/chart.html", "text/html; charset=utf-8"},
	}
	for _, tt := range tests {
		t.Run(strings.TrimPrefix(tt.path, "/"), func(t *testing.T) {
			resp := doRequest(t, http.MethodGet, base+tt.path, "", nil)
			require.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Equal(t, tt.contentType, resp.Header.Get("Content-Type"))
			data, err := io.ReadAll(resp.Body)
			require.NoError(t, err)
			assert.NotEmpty(t, data)
		})
	}

	resp := doRequest(t, http.MethodGet, srv.URL+"/api/dashboard/empty/chart.html", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServerCompare(t *testing.T) {
	t.Parallel()
	_, srv := newTestServer(t, "")

	resp := doRequest(t, http.MethodGet, srv.URL+"/api/dashboard/bt/compare", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	comparison := decodeBody[ReportComparison](t, resp)
	assert.Equal(t, 12, comparison.PreviousBuildID)
	assert.Equal(t, 13, comparison.BuildID)
	assert.Len(t, comparison.NewFailures, 2)

	resp = doRequest(t, http.MethodGet, srv.URL+"/api/dashboard/bt/compare?format=text", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	text, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(text), "new failure")

	resp = doRequest(t, http.MethodGet, srv.URL+"/api/dashboard/empty/compare", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServerWebSocket(t *testing.T) {
	t.Parallel()
	_, srv := newTestServer(t, "")

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/dashboard/bt/ws"
	conn, resp, err := websocket.DefaultDialer.DialContext(t.Context(), wsURL, nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	t.Cleanup(func() { _ = conn.Close() })
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var msg wsMessage
	require.NoError(t, conn.ReadJSON(&msg))
	require.Equal(t, "state", msg.Type)
	require.NotNil(t, msg.State)
	assert.Equal(t, 3, msg.State.Selected)

	require.NoError(t, conn.WriteJSON(selectionRequest{Type: "trendSelect", Row: 2}))
	msg = wsMessage{}
	require.NoError(t, conn.ReadJSON(&msg))
	require.Equal(t, "state", msg.Type)
	assert.Equal(t, 2, msg.State.Selected)
	msg = wsMessage{}
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "ack", msg.Type)
	assert.True(t, msg.Changed)

	require.NoError(t, conn.WriteJSON(selectionRequest{Type: "explode"}))
	msg = wsMessage{}
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "error", msg.Type)
	assert.Contains(t, msg.Error, "explode")

	require.NoError(t, conn.WriteJSON(selectionRequest{Type: "select", Row: 0, Token: "stale"}))
	msg = wsMessage{}
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "error", msg.Type)
}

func TestSameOriginCheck(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		origin string
		host   string
		ok     bool
	}{
		{"no_origin", "", "localhost:8989", true},
		{"same", "http://localhost:8989", "localhost:8989", true},
		{"case", "http://LOCALHOST:8989", "localhost:8989", true},
		{"other", "http://evil.example", "localhost:8989", false},
		{"malformed", "localhost", "localhost", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.Host = tt.host
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			assert.Equal(t, tt.ok, sameOriginCheck(r))
		})
	}
}

func TestServerStartStop(t *testing.T) {
	t.Parallel()

	dashboard := NewDashboard(DefaultBuildTypes(), StoreReportFetcher{Store: NewMemReportStore()}, ReportOrderNewestFirst, 10)
	s := NewServer(NewMemReportStore(), dashboard, "")
	require.NoError(t, s.Start("127.0.0.1:0"))
	require.NotEmpty(t, s.Addr())

	resp := doRequest(t, http.MethodGet, "http://"+s.Addr()+"/api/dashboard", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
}
