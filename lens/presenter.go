package lens

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log"
	"strconv"
	"sync"
)

// ErrStaleChart is returned when a selection was made against a chart that is no longer displayed.
var ErrStaleChart = errors.New("chart has changed since selection")

// PresenterState is an immutable snapshot of the dashboard state of one build type. Reducers always build new
// slices and maps rather than modifying those of a previous state.
type PresenterState struct {
	BuildTypeID  string            `json:"buildTypeId"`
	Reports      []TestReport      `json:"reports"` // oldest-first
	Selected     int               `json:"selected"`
	ActiveChart  ChartSpec         `json:"activeChart"`
	ChartToken   string            `json:"chartToken"`
	TrendChart   ChartSpec         `json:"trendChart"`
	Window       TrendWindow       `json:"window"`
	ErrorByLabel map[string]string `json:"-"`
	Loading      bool              `json:"loading"`
	Available    bool              `json:"available"`
	LastError    string            `json:"lastError,omitempty"`
}

// EmptyPresenterState returns the safe state used before any reports are loaded or after a failed fetch.
func EmptyPresenterState(buildTypeID string) PresenterState {
	return PresenterState{
		BuildTypeID:  buildTypeID,
		Selected:     -1,
		ErrorByLabel: map[string]string{},
	}
}

// SelectedReport returns the currently selected report, false if none are loaded.
func (s PresenterState) SelectedReport() (TestReport, bool) {
	if s.Selected < 0 || s.Selected >= len(s.Reports) {
		return TestReport{}, false
	}
	return s.Reports[s.Selected], true
}

// Event is a state changing dashboard action applied through Reduce.
type Event interface {
	isEvent()
}

// FetchStarted marks a report fetch as in flight.
type FetchStarted struct{}

// FetchCompleted carries the oldest-first result of a fetch, or the error it failed with.
type FetchCompleted struct {
	Reports      []TestReport
	Err          error
	StillLoading bool // a newer fetch remains in flight
}

// ChartSelected is a selection of a row on the active chart.
type ChartSelected struct {
	Row int
}

// TrendSelected is a selection of a row on the trend chart, relative to the visible window.
type TrendSelected struct {
	Row int
}

// WindowChanged moves the visible trend window.
type WindowChanged struct {
	Window TrendWindow
}

func (FetchStarted) isEvent()   {}
func (FetchCompleted) isEvent() {}
func (ChartSelected) isEvent()  {}
func (TrendSelected) isEvent()  {}
func (WindowChanged) isEvent()  {}

// Reduce applies an event to a state and returns the next state. The boolean result is false when the event had no
// effect, in which case the returned state equals the input.
func Reduce(state PresenterState, event Event) (PresenterState, bool) {
	switch e := event.(type) {
	case FetchStarted:
		state.Loading = true
		return state, true
	case FetchCompleted:
		return reduceFetchCompleted(state, e), true
	case ChartSelected:
		return reduceChartSelected(state, e.Row)
	case TrendSelected:
		return reduceTrendSelected(state, e.Row)
	case WindowChanged:
		return reduceWindowChanged(state, e.Window)
	default:
		return state, false
	}
}

func reduceFetchCompleted(state PresenterState, e FetchCompleted) PresenterState {
	next := EmptyPresenterState(state.BuildTypeID)
	next.Loading = e.StillLoading
	if e.Err != nil {
		next.LastError = e.Err.Error()
		return next
	} else if len(e.Reports) == 0 {
		return next
	}
	next.Reports = e.Reports
	next.Available = true
	next.Window = FullTrendWindow(len(e.Reports))
	next.TrendChart = NewTrendChart(next.Reports, next.Window)
	return selectReport(next, len(e.Reports)-1)
}

// selectReport changes the selected report, always returning to the summary chart.
func selectReport(state PresenterState, index int) PresenterState {
	state.Selected = index
	return showSummary(state)
}

func showSummary(state PresenterState) PresenterState {
	report, _ := state.SelectedReport()
	state.ActiveChart = NewPieChart(report)
	state.ChartToken = chartToken(report.BuildID, state.ActiveChart)
	state.ErrorByLabel = map[string]string{}
	return state
}

func reduceChartSelected(state PresenterState, row int) (PresenterState, bool) {
	report, ok := state.SelectedReport()
	if !ok {
		return state, false
	}
	switch state.ActiveChart.DrillDownLevel {
	case DrillDownDetail:
		if row != 0 {
			return state, false
		}
		return showSummary(state), true
	case DrillDownSummary:
		if row != pieRowFailed && row != pieRowIgnored {
			return state, false
		}
		spec, errorByLabel, ok := NewDetailChart(report, row == pieRowIgnored)
		if !ok {
			return state, false // nothing to drill into
		}
		state.ActiveChart = spec
		state.ChartToken = chartToken(report.BuildID, spec)
		state.ErrorByLabel = errorByLabel
		return state, true
	default:
		return state, false
	}
}

func reduceTrendSelected(state PresenterState, row int) (PresenterState, bool) {
	if len(state.Reports) == 0 || row < 0 {
		return state, false
	}
	start, end := state.Window.Clamp(len(state.Reports)).Indexes(len(state.Reports))
	index := start + row
	if index > end || index == state.Selected {
		return state, false
	}
	return selectReport(state, index), true
}

func reduceWindowChanged(state PresenterState, window TrendWindow) (PresenterState, bool) {
	if len(state.Reports) == 0 {
		return state, false
	}
	window = window.Clamp(len(state.Reports))
	if window == state.Window {
		return state, false
	}
	state.Window = window
	state.TrendChart = NewTrendChart(state.Reports, window)
	return state, true
}

// Presenter owns the dashboard state of one build type. All state changes go through Reduce while holding the
// presenter lock. Observers are notified afterwards with the resulting snapshot, in the order states were applied.
type Presenter struct {
	buildTypeID string
	fetcher     ReportFetcher
	order       ReportOrder
	limit       int

	mu           sync.Mutex
	state        PresenterState
	startedGen   uint64
	appliedGen   uint64
	appliedSeq   uint64 // count of applied state changes
	observers    map[int]func(PresenterState)
	nextObserver int

	notifyMu    sync.Mutex
	notifyCond  *sync.Cond
	notifiedSeq uint64
}

// NewPresenter creates a presenter in the empty state. The fetcher's results are interpreted with the declared
// order and normalized to oldest-first.
func NewPresenter(buildTypeID string, fetcher ReportFetcher, order ReportOrder, limit int) *Presenter {
	if limit <= 0 {
		limit = DefaultFetchLimit
	}
	p := &Presenter{
		buildTypeID: buildTypeID,
		fetcher:     fetcher,
		order:       order,
		limit:       limit,
		state:       EmptyPresenterState(buildTypeID),
		observers:   make(map[int]func(PresenterState)),
	}
	p.notifyCond = sync.NewCond(&p.notifyMu)
	return p
}

// BuildTypeID returns the build type presented.
func (p *Presenter) BuildTypeID() string {
	return p.buildTypeID
}

// State returns the current state snapshot.
func (p *Presenter) State() PresenterState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Subscribe registers a function invoked with every new state. Observers must not change the presenter state from
// within the callback. The returned function removes the subscription.
func (p *Presenter) Subscribe(fn func(PresenterState)) func() {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := p.nextObserver
	p.nextObserver++
	p.observers[id] = fn
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.observers, id)
	}
}

// stateChange is an applied state waiting to be delivered to the observers registered when it was applied.
type stateChange struct {
	seq       uint64
	state     PresenterState
	observers []func(PresenterState)
}

// applyLocked reduces the event into the presenter state, p.mu must be held. The result is nil if the event had no
// effect.
func (p *Presenter) applyLocked(event Event) *stateChange {
	next, changed := Reduce(p.state, event)
	if !changed {
		return nil
	}
	p.state = next
	p.appliedSeq++
	change := &stateChange{
		seq:       p.appliedSeq,
		state:     next,
		observers: make([]func(PresenterState), 0, len(p.observers)),
	}
	for _, fn := range p.observers {
		change.observers = append(change.observers, fn)
	}
	return change
}

// notify delivers a change once every earlier change has been delivered. Must be called without holding p.mu.
func (p *Presenter) notify(change *stateChange) {
	if change == nil {
		return
	}
	p.notifyMu.Lock()
	for p.notifiedSeq != change.seq-1 {
		p.notifyCond.Wait()
	}
	p.notifyMu.Unlock()
	defer func() {
		p.notifyMu.Lock()
		p.notifiedSeq = change.seq
		p.notifyCond.Broadcast()
		p.notifyMu.Unlock()
	}()

	for _, fn := range change.observers {
		fn(change.state)
	}
}

// dispatch reduces the event under the lock and notifies observers if it changed the state.
func (p *Presenter) dispatch(event Event) bool {
	p.mu.Lock()
	change := p.applyLocked(event)
	p.mu.Unlock()

	p.notify(change)
	return change != nil
}

// Refresh fetches the reports and replaces the presented reports wholesale. Results from a fetch are discarded if a
// fetch started later has already been applied. A failed fetch leaves the presenter in the empty state and the
// error is returned wrapped with ErrFetchFailed.
func (p *Presenter) Refresh(ctx context.Context) error {
	p.mu.Lock()
	p.startedGen++
	gen := p.startedGen
	change := p.applyLocked(FetchStarted{})
	p.mu.Unlock()
	p.notify(change)

	reports, err := p.fetcher.ListReports(ctx, p.buildTypeID, p.limit)
	if err != nil && !errors.Is(err, ErrFetchFailed) {
		err = fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}
	if err == nil {
		reports = NormalizeReportOrder(reports, p.order)
	}

	p.mu.Lock()
	if gen <= p.appliedGen {
		p.mu.Unlock()
		log.Printf("Discarding stale report fetch for %s", p.buildTypeID)
		return nil
	}
	p.appliedGen = gen
	change = p.applyLocked(FetchCompleted{Reports: reports, Err: err, StillLoading: p.startedGen > gen})
	p.mu.Unlock()
	p.notify(change)

	if err != nil {
		log.Printf("%sFetch of %s reports failed: %v", ErrorLogPrefix, p.buildTypeID, err)
		return err
	}
	log.Printf("Loaded %d reports for %s", len(reports), p.buildTypeID)
	return nil
}

// SelectChartRow applies a selection on the active chart. A non-empty token must match the active chart token,
// otherwise ErrStaleChart is returned. The boolean result reports if the displayed chart changed.
func (p *Presenter) SelectChartRow(row int, token string) (bool, error) {
	p.mu.Lock()
	if token != "" && p.state.ChartToken != token {
		p.mu.Unlock()
		return false, ErrStaleChart
	}
	change := p.applyLocked(ChartSelected{Row: row})
	p.mu.Unlock()

	p.notify(change)
	return change != nil, nil
}

// SelectTrendRow selects the report of a trend chart row, relative to the visible window.
func (p *Presenter) SelectTrendRow(row int) bool {
	return p.dispatch(TrendSelected{Row: row})
}

// SetWindow moves the visible trend window.
func (p *Presenter) SetWindow(window TrendWindow) bool {
	return p.dispatch(WindowChanged{Window: window})
}

// Tooltip returns the HTML tooltip of a row of the active chart.
func (p *Presenter) Tooltip(row int) (string, error) {
	return ChartTooltip(p.State(), row)
}

// ChartTooltip builds the HTML tooltip for a row of the state's active chart. Test method rows show the recorded
// error output, other rows show the number of tests they contain.
func ChartTooltip(state PresenterState, row int) (string, error) {
	spec := state.ActiveChart
	if row < 0 || row >= len(spec.Rows) {
		return "", fmt.Errorf("row %d out of range", row)
	}
	label := spec.rowLabel(row)

	var sb []byte
	sb = append(sb, `<div class="tooltip"><span class="label"><b>`...)
	sb = append(sb, html.EscapeString(label)...)
	sb = append(sb, "</b></span><br/>"...)
	switch {
	case spec.Kind != ChartKindTreeMap:
		sb = append(sb, "Number of tests : "+strconv.Itoa(int(spec.rowNumber(row, 1)))...)
	case spec.rowNumber(row, 3) != 0:
		if errorInfo, ok := state.ErrorByLabel[label]; !ok || errorInfo == "" {
			sb = append(sb, "Log unavailable"...)
		} else {
			sb = append(sb, "Log : "+html.EscapeString(errorInfo)...)
		}
	default:
		size := treeMapSubtreeSizes(spec)[row]
		sb = append(sb, "Number of "+spec.TestType+" : "+strconv.Itoa(size)...)
	}
	sb = append(sb, "</div>"...)
	return string(sb), nil
}

// treeMapSubtreeSizes returns for each row the total count of the row and its descendants.
func treeMapSubtreeSizes(spec ChartSpec) []int {
	children := make(map[string][]int, len(spec.Rows))
	for i, row := range spec.Rows {
		if len(row) > 1 {
			if parent, ok := row[1].(string); ok {
				children[parent] = append(children[parent], i)
			}
		}
	}
	sizes := make([]int, len(spec.Rows))
	visited := make([]bool, len(spec.Rows))
	var size func(i int) int
	size = func(i int) int {
		if visited[i] {
			return sizes[i]
		}
		visited[i] = true
		total := int(spec.rowNumber(i, 2))
		for _, c := range children[spec.rowLabel(i)] {
			if c != i {
				total += size(c)
			}
		}
		sizes[i] = total
		return total
	}
	for i := range spec.Rows {
		size(i)
	}
	return sizes
}
