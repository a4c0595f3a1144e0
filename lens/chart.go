package lens

import (
	"github.com/go-analyze/bulk"
)

// ChartKind identifies the widget type a ChartSpec is intended for.
type ChartKind string

const (
	ChartKindPie     ChartKind = "PieChart"
	ChartKindTreeMap ChartKind = "TreeMap"
	ChartKindArea    ChartKind = "AreaChart"
)

// ColumnType is the semantic type of a chart column.
type ColumnType string

const (
	ColumnString ColumnType = "string"
	ColumnNumber ColumnType = "number"
)

const (
	// DrillDownSummary is the pie summary level of the selected report.
	DrillDownSummary = 0
	// DrillDownDetail is the treemap breakdown of failed or ignored tests.
	DrillDownDetail = 1
)

const (
	pieRowPassed  = 0
	pieRowFailed  = 1
	pieRowIgnored = 2

	detailRootLabel = "Global"

	testTypeFailed  = "failed"
	testTypeIgnored = "ignored"
)

// Column describes a single positional column of chart rows.
type Column struct {
	ID    string     `json:"id"`
	Label string     `json:"label"`
	Type  ColumnType `json:"type"`
}

// ChartRow is an ordered set of cell values aligned to the chart columns. Cells are float64, string, or nil.
type ChartRow []any

// ChartSpec is a widget neutral chart description.
type ChartSpec struct {
	Kind           ChartKind    `json:"type"`
	Columns        []Column     `json:"cols"`
	Rows           []ChartRow   `json:"rows"`
	DrillDownLevel int          `json:"drillDownLevel"`
	TestType       string       `json:"testType,omitempty"`
	Options        ChartOptions `json:"options"`
}

var pieColumns = []Column{
	{ID: "type-id", Label: "Type", Type: ColumnString},
	{ID: "number-id", Label: "Number", Type: ColumnNumber},
}

var detailColumns = []Column{
	{ID: "testedPackage", Label: "Tested Package", Type: ColumnString},
	{ID: "parent", Label: "Parent", Type: ColumnString},
	{ID: "nbFails", Label: "Nb fails", Type: ColumnNumber},
	{ID: "correlation", Label: "Correlation", Type: ColumnNumber},
}

var trendColumns = []Column{
	{ID: "build-id", Label: "Build Id", Type: ColumnNumber},
	{ID: "passed-number-id", Label: "Passed", Type: ColumnNumber},
	{ID: "failed-number-id", Label: "Failed", Type: ColumnNumber},
	{ID: "ignored-number-id", Label: "Ignored", Type: ColumnNumber},
}

// PieRows builds the three summary rows (Passed, Failed, Ignored) for a report. Zero counts still produce a row.
func PieRows(report TestReport) []ChartRow {
	return []ChartRow{
		{"Passed", float64(report.NumberOfPassedTests)},
		{"Failed", float64(report.NumberOfFailedTests)},
		{"Ignored", float64(report.NumberOfIgnoredTests)},
	}
}

// DetailRows builds the hierarchical treemap rows for a failed or ignored test collection. Rows are ordered root,
// packages, classes, then methods, each in first seen order. The returned map provides the error output of each
// method row keyed by its (possibly disambiguated) label, and is freshly built on every call.
func DetailRows(tests []FailedTest) ([]ChartRow, map[string]string) {
	errorByLabel := make(map[string]string, len(tests))
	if len(tests) == 0 {
		return nil, errorByLabel
	}

	testsByClass := bulk.SliceToGroupsBy(func(t FailedTest) string {
		return t.ClassName
	}, tests)

	addedPackages := make(map[string]bool)
	addedClasses := make(map[string]bool)
	addedMethods := make(map[string]bool, len(tests))
	var packageRows, classRows []ChartRow
	methodRows := make([]ChartRow, 0, len(tests))
	for _, t := range tests {
		label := t.MethodName
		if addedMethods[t.MethodName] {
			label = t.MethodName + " (" + t.ClassName + ")"
		}
		addedMethods[t.MethodName] = true
		methodRows = append(methodRows, ChartRow{label, t.ClassName, float64(1), float64(len(testsByClass[t.ClassName]))})
		errorByLabel[label] = t.Error

		if !addedClasses[t.ClassName] {
			addedClasses[t.ClassName] = true
			classRows = append(classRows, ChartRow{t.ClassName, t.PackageName, float64(0), float64(0)})
		}
		if !addedPackages[t.PackageName] {
			addedPackages[t.PackageName] = true
			packageRows = append(packageRows, ChartRow{t.PackageName, detailRootLabel, float64(0), float64(0)})
		}
	}

	rows := make([]ChartRow, 0, 1+len(packageRows)+len(classRows)+len(methodRows))
	rows = append(rows, ChartRow{detailRootLabel, nil, float64(0), float64(0)})
	rows = append(rows, packageRows...)
	rows = append(rows, classRows...)
	return append(rows, methodRows...), errorByLabel
}

// TrendWindow selects a range of reports as offsets from the most recent report. From is the offset of the newest
// visible report, To the offset of the oldest.
type TrendWindow struct {
	From int `json:"from"`
	To   int `json:"to"`
}

// FullTrendWindow returns the window covering all reports.
func FullTrendWindow(reportCount int) TrendWindow {
	return TrendWindow{From: 0, To: max(0, reportCount-1)}
}

// Clamp restricts the window to a valid range for the given report count.
func (w TrendWindow) Clamp(reportCount int) TrendWindow {
	if reportCount <= 0 {
		return TrendWindow{}
	}
	last := reportCount - 1
	w.From = min(max(w.From, 0), last)
	w.To = min(max(w.To, 0), last)
	if w.From > w.To {
		w.From, w.To = w.To, w.From
	}
	return w
}

// Indexes converts the window into inclusive start and end indexes over oldest-first reports. The window must
// already be clamped, and reportCount must be positive.
func (w TrendWindow) Indexes(reportCount int) (start, end int) {
	return reportCount - 1 - w.To, reportCount - 1 - w.From
}

// TrendRows builds one (buildId, passed, failed, ignored) row per report in the window along with the horizontal
// gridline count. Reports must be oldest-first so that rows come out in build id order.
func TrendRows(reports []TestReport, window TrendWindow) ([]ChartRow, int) {
	if len(reports) == 0 {
		return nil, 1
	}
	window = window.Clamp(len(reports))
	start, end := window.Indexes(len(reports))
	rows := make([]ChartRow, 0, end-start+1)
	for _, r := range reports[start : end+1] {
		rows = append(rows, ChartRow{
			float64(r.BuildID),
			float64(r.NumberOfPassedTests),
			float64(r.NumberOfFailedTests),
			float64(r.NumberOfIgnoredTests),
		})
	}
	gridlines := reports[end].BuildID - reports[start].BuildID
	if gridlines < 0 {
		gridlines = -gridlines
	}
	return rows, max(1, gridlines+1)
}

// NewPieChart builds the summary chart for a report.
func NewPieChart(report TestReport) ChartSpec {
	return ChartSpec{
		Kind:           ChartKindPie,
		Columns:        pieColumns,
		Rows:           PieRows(report),
		DrillDownLevel: DrillDownSummary,
		Options:        PieChartOptions(),
	}
}

// NewDetailChart builds the treemap drill-down chart for either the failed or ignored tests of a report. The
// boolean result is false when there is no data to drill into.
func NewDetailChart(report TestReport, ignored bool) (ChartSpec, map[string]string, bool) {
	tests, testType, options := report.FailedTests, testTypeFailed, FailedTreeMapOptions()
	if ignored {
		tests, testType, options = report.IgnoredTests, testTypeIgnored, IgnoredTreeMapOptions()
	}
	if len(tests) == 0 {
		return ChartSpec{}, nil, false
	}
	rows, errorByLabel := DetailRows(tests)
	return ChartSpec{
		Kind:           ChartKindTreeMap,
		Columns:        detailColumns,
		Rows:           rows,
		DrillDownLevel: DrillDownDetail,
		TestType:       testType,
		Options:        options,
	}, errorByLabel, true
}

// NewTrendChart builds the area trend chart for the windowed reports.
func NewTrendChart(reports []TestReport, window TrendWindow) ChartSpec {
	rows, gridlines := TrendRows(reports, window)
	return ChartSpec{
		Kind:    ChartKindArea,
		Columns: trendColumns,
		Rows:    rows,
		Options: TrendChartOptions().Merge(ChartOptions{HAxis: &AxisOptions{Gridlines: gridlines}}),
	}
}

// rowLabel returns the first cell of a row as a string, or empty if unavailable.
func (c ChartSpec) rowLabel(row int) string {
	if row < 0 || row >= len(c.Rows) || len(c.Rows[row]) == 0 {
		return ""
	}
	s, _ := c.Rows[row][0].(string)
	return s
}

// rowNumber returns the numeric cell of a row at the given column, or zero if unavailable.
func (c ChartSpec) rowNumber(row, col int) float64 {
	if row < 0 || row >= len(c.Rows) || col >= len(c.Rows[row]) {
		return 0
	}
	f, _ := c.Rows[row][col].(float64)
	return f
}
