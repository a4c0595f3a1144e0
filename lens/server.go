package lens

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-analyze/charts"
	"github.com/gorilla/websocket"
)

const maxInsertBodyBytes = 16 << 20

// Server exposes the report API and the dashboard presenters over HTTP.
type Server struct {
	store       ReportStore
	dashboard   *Dashboard
	updateToken string
	handler     http.Handler
	upgrader    websocket.Upgrader

	server   *http.Server
	listener net.Listener
	err      atomic.Pointer[error]
	bgCtx    context.Context
	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// NewServer builds the HTTP routes. An empty update token disables report inserts.
func NewServer(store ReportStore, dashboard *Dashboard, updateToken string) *Server {
	s := &Server{
		store:       store,
		dashboard:   dashboard,
		updateToken: updateToken,
		upgrader:    websocket.Upgrader{CheckOrigin: sameOriginCheck},
	}
	s.bgCtx, s.bgCancel = context.WithCancel(context.Background())

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/reports/{bt}/tests", s.handleListTests)
	mux.HandleFunc("POST /api/reports/tests", s.handleInsertTest)
	mux.HandleFunc("GET /api/dashboard", s.handleDashboard)
	mux.HandleFunc("GET /api/dashboard/{bt}", s.withPresenter(s.handleState))
	mux.HandleFunc("POST /api/dashboard/{bt}/refresh", s.withPresenter(s.handleRefresh))
	mux.HandleFunc("POST /api/dashboard/{bt}/select", s.withPresenter(s.handleSelect))
	mux.HandleFunc("POST /api/dashboard/{bt}/trend/select", s.withPresenter(s.handleTrendSelect))
	mux.HandleFunc("POST /api/dashboard/{bt}/window", s.withPresenter(s.handleWindow))
	mux.HandleFunc("GET /api/dashboard/{bt}/chart.html", s.withPresenter(s.handleChartHTML))
	mux.HandleFunc("GET /api/dashboard/{bt}/chart.svg", s.withPresenter(s.chartImageHandler(false, charts.ChartOutputSVG)))
	mux.HandleFunc("GET /api/dashboard/{bt}/chart.png", s.withPresenter(s.chartImageHandler(false, charts.ChartOutputPNG)))
	mux.HandleFunc("GET /api/dashboard/{bt}/trend.svg", s.withPresenter(s.chartImageHandler(true, charts.ChartOutputSVG)))
	mux.HandleFunc("GET /api/dashboard/{bt}/trend.png", s.withPresenter(s.chartImageHandler(true, charts.ChartOutputPNG)))
	mux.HandleFunc("GET /api/dashboard/{bt}/compare", s.withPresenter(s.handleCompare))
	mux.HandleFunc("GET /api/dashboard/{bt}/tooltip", s.withPresenter(s.handleTooltip))
	mux.HandleFunc("GET /api/dashboard/{bt}/ws", s.withPresenter(s.handleWebSocket))
	s.handler = mux
	return s
}

// Handler returns the routes of the server.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start listens on addr and serves in the background.
func (s *Server) Start(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s failed: %w", addr, err)
	}
	s.listener = listener
	s.server = &http.Server{Addr: listener.Addr().String(), Handler: s.handler, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.err.Store(&err)
			log.Printf("%sDashboard server error: %v", ErrorLogPrefix, err)
		}
	}()

	log.Printf("Report dashboard started on %s", s.server.Addr)
	return nil
}

// Addr returns the address the server is listening on.
func (s *Server) Addr() string {
	if s.server == nil {
		return ""
	}
	return s.server.Addr
}

func (s *Server) errCheck() error {
	errPtr := s.err.Load()
	if errPtr != nil {
		return *errPtr
	}
	return nil
}

// Stop gracefully shuts down the server and waits for background refreshes.
func (s *Server) Stop(ctx context.Context) error {
	s.bgCancel()
	var err1 error
	if s.server != nil {
		err1 = s.server.Shutdown(ctx)
	}
	s.bgWG.Wait()
	return errors.Join(err1, s.errCheck())
}

func sameOriginCheck(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	_, host, found := strings.Cut(origin, "://")
	return found && strings.EqualFold(host, r.Host)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("%sFailed to encode response: %v", ErrorLogPrefix, err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) authorized(r *http.Request) bool {
	if s.updateToken == "" {
		return false
	}
	token, found := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	return found && subtle.ConstantTimeCompare([]byte(token), []byte(s.updateToken)) == 1
}

func (s *Server) handleListTests(w http.ResponseWriter, r *http.Request) {
	var limit int
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		var err error
		if limit, err = strconv.Atoi(limitStr); err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit: %s", limitStr))
			return
		}
	}
	reports, err := s.store.ListReports(r.PathValue("bt"), limit)
	if err != nil {
		log.Printf("%sFailed to list reports: %v", ErrorLogPrefix, err)
		writeError(w, http.StatusInternalServerError, err)
		return
	} else if reports == nil {
		reports = []TestReport{}
	}
	writeJSON(w, http.StatusOK, listReportsResponse{Items: reports})
}

func (s *Server) handleInsertTest(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		w.Header().Set("WWW-Authenticate", "Bearer")
		writeError(w, http.StatusUnauthorized, errors.New("update token required"))
		return
	}
	defer r.Body.Close()
	var report TestReport
	if err := json.NewDecoder(io.LimitReader(r.Body, maxInsertBodyBytes)).Decode(&report); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode report failed: %w", err))
		return
	}
	if err := s.store.SaveReport(report); errors.Is(err, ErrInvalidReport) {
		writeError(w, http.StatusBadRequest, err)
		return
	} else if err != nil {
		log.Printf("%sFailed to save report: %v", ErrorLogPrefix, err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	log.Printf("Stored report %s #%d", report.BuildTypeID, report.BuildID)
	if p, err := s.dashboard.Presenter(report.BuildTypeID); err == nil {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			ctx, cancel := context.WithTimeout(s.bgCtx, time.Minute)
			defer cancel()
			_ = p.Refresh(ctx) // failures are logged by the presenter
		}()
	}
	writeJSON(w, http.StatusCreated, report)
}

type dashboardBuildType struct {
	BuildType
	Available bool   `json:"available"`
	Loading   bool   `json:"loading"`
	LatestID  *int   `json:"latestBuildId,omitempty"`
	LastError string `json:"lastError,omitempty"`
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	buildTypes := s.dashboard.BuildTypes()
	result := make([]dashboardBuildType, 0, len(buildTypes))
	for _, bt := range buildTypes {
		entry := dashboardBuildType{BuildType: bt}
		if p, err := s.dashboard.Presenter(bt.ID); err == nil {
			state := p.State()
			entry.Available, entry.Loading, entry.LastError = state.Available, state.Loading, state.LastError
			if len(state.Reports) > 0 {
				latest := state.Reports[len(state.Reports)-1].BuildID
				entry.LatestID = &latest
			}
		}
		result = append(result, entry)
	}
	writeJSON(w, http.StatusOK, map[string]any{"buildTypes": result})
}

type presenterHandler func(w http.ResponseWriter, r *http.Request, p *Presenter)

func (s *Server) withPresenter(h presenterHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := s.dashboard.Presenter(r.PathValue("bt"))
		if err != nil {
			writeError(w, http.StatusNotFound, err)
			return
		}
		h(w, r, p)
	}
}

type stateResponse struct {
	Changed bool           `json:"changed"`
	State   PresenterState `json:"state"`
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request, p *Presenter) {
	writeJSON(w, http.StatusOK, p.State())
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request, p *Presenter) {
	if err := p.Refresh(r.Context()); err != nil {
		writeJSON(w, http.StatusBadGateway, stateResponse{Changed: true, State: p.State()})
		return
	}
	writeJSON(w, http.StatusOK, stateResponse{Changed: true, State: p.State()})
}

// selectionRequest is the body of selection and window requests, also used as websocket event.
type selectionRequest struct {
	Type  string `json:"type,omitempty"`
	Row   int    `json:"row"`
	Token string `json:"token,omitempty"`
	From  int    `json:"from"`
	To    int    `json:"to"`
}

func decodeSelection(w http.ResponseWriter, r *http.Request) (selectionRequest, bool) {
	defer r.Body.Close()
	var req selectionRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 4096)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request failed: %w", err))
		return req, false
	}
	return req, true
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request, p *Presenter) {
	req, ok := decodeSelection(w, r)
	if !ok {
		return
	}
	changed, err := p.SelectChartRow(req.Row, req.Token)
	if errors.Is(err, ErrStaleChart) {
		writeJSON(w, http.StatusConflict, stateResponse{State: p.State()})
		return
	}
	writeJSON(w, http.StatusOK, stateResponse{Changed: changed, State: p.State()})
}

func (s *Server) handleTrendSelect(w http.ResponseWriter, r *http.Request, p *Presenter) {
	if req, ok := decodeSelection(w, r); ok {
		changed := p.SelectTrendRow(req.Row)
		writeJSON(w, http.StatusOK, stateResponse{Changed: changed, State: p.State()})
	}
}

func (s *Server) handleWindow(w http.ResponseWriter, r *http.Request, p *Presenter) {
	if req, ok := decodeSelection(w, r); ok {
		changed := p.SetWindow(TrendWindow{From: req.From, To: req.To})
		writeJSON(w, http.StatusOK, stateResponse{Changed: changed, State: p.State()})
	}
}

func (s *Server) chartTitle(p *Presenter, state PresenterState, trend bool) string {
	title := p.BuildTypeID()
	for _, bt := range s.dashboard.BuildTypes() {
		if bt.ID == title {
			title = bt.Label
			break
		}
	}
	if trend {
		return title + " trend"
	} else if report, ok := state.SelectedReport(); ok {
		title += " #" + strconv.Itoa(report.BuildID)
		if state.ActiveChart.TestType != "" {
			title += " " + state.ActiveChart.TestType + " tests"
		}
	}
	return title
}

func (s *Server) handleChartHTML(w http.ResponseWriter, r *http.Request, p *Presenter) {
	state := p.State()
	if !state.Available {
		writeError(w, http.StatusNotFound, errors.New("no reports available"))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := RenderChartHTML(w, state.ActiveChart, s.chartTitle(p, state, false)); err != nil {
		log.Printf("%sFailed to render chart: %v", ErrorLogPrefix, err)
	}
}

func (s *Server) chartImageHandler(trend bool, outputFormat string) presenterHandler {
	contentType := "image/png"
	if outputFormat == charts.ChartOutputSVG {
		contentType = "image/svg+xml"
	}
	return func(w http.ResponseWriter, r *http.Request, p *Presenter) {
		state := p.State()
		if !state.Available {
			writeError(w, http.StatusNotFound, errors.New("no reports available"))
			return
		}
		spec := state.ActiveChart
		if trend {
			spec = state.TrendChart
		}
		buf, err := RenderChartImage(spec, state.ErrorByLabel, s.chartTitle(p, state, trend), outputFormat)
		if err != nil {
			log.Printf("%sFailed to render chart: %v", ErrorLogPrefix, err)
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		w.Header().Set("Content-Type", contentType)
		_, _ = w.Write(buf)
	}
}

func (s *Server) handleCompare(w http.ResponseWriter, r *http.Request, p *Presenter) {
	comparison, ok, err := CompareLatest(p.State().Reports)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	} else if !ok {
		writeError(w, http.StatusNotFound, errors.New("at least two reports are required to compare"))
		return
	}
	if r.URL.Query().Get("format") == "text" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = io.WriteString(w, RenderComparisonTable(comparison))
		return
	}
	writeJSON(w, http.StatusOK, comparison)
}

func (s *Server) handleTooltip(w http.ResponseWriter, r *http.Request, p *Presenter) {
	row, err := strconv.Atoi(r.URL.Query().Get("row"))
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("row parameter required"))
		return
	}
	tooltip, err := p.Tooltip(row)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = io.WriteString(w, tooltip)
}

type wsMessage struct {
	Type    string          `json:"type"`
	State   *PresenterState `json:"state,omitempty"`
	Changed bool            `json:"changed,omitempty"`
	Error   string          `json:"error,omitempty"`
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request, p *Presenter) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return // upgrader already replied
	}
	defer conn.Close()

	var writeMu sync.Mutex
	write := func(msg wsMessage) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		return conn.WriteJSON(msg)
	}
	cancel := p.Subscribe(func(state PresenterState) {
		if err := write(wsMessage{Type: "state", State: &state}); err != nil {
			_ = conn.Close() // unblocks the read loop
		}
	})
	defer cancel()

	state := p.State()
	if err := write(wsMessage{Type: "state", State: &state}); err != nil {
		return
	}
	for {
		var req selectionRequest
		if err := conn.ReadJSON(&req); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("%sWebsocket read failed: %v", ErrorLogPrefix, err)
			}
			return
		}
		var changed bool
		var eventErr error
		switch req.Type {
		case "select":
			changed, eventErr = p.SelectChartRow(req.Row, req.Token)
		case "trendSelect":
			changed = p.SelectTrendRow(req.Row)
		case "window":
			changed = p.SetWindow(TrendWindow{From: req.From, To: req.To})
		case "refresh":
			eventErr = p.Refresh(r.Context())
			changed = true
		default:
			eventErr = fmt.Errorf("unknown event type: %q", req.Type)
		}
		reply := wsMessage{Type: "ack", Changed: changed}
		if eventErr != nil {
			reply = wsMessage{Type: "error", Error: eventErr.Error()}
		}
		if err := write(reply); err != nil {
			return
		}
	}
}
