package lens

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
)

// RenderTrendTable renders the oldest-first reports as a text table, newest first, marking the selected report.
func RenderTrendTable(reports []TestReport, selected int, now time.Time) string {
	tbl := table.NewWriter()
	tbl.SetStyle(table.StyleLight)
	tbl.AppendHeader(table.Row{"", "Build Id", "Date", "Duration", "Passed", "Failed", "Ignored"})
	for i := len(reports) - 1; i >= 0; i-- {
		r := reports[i]
		var marker string
		if i == selected {
			marker = "*"
		}
		date := "unknown"
		if !r.BuildDate.IsZero() {
			date = humanize.RelTime(r.BuildDate, now, "ago", "from now")
		}
		tbl.AppendRow(table.Row{
			marker, r.BuildID, date, r.FormatDuration(),
			r.NumberOfPassedTests, r.NumberOfFailedTests, r.NumberOfIgnoredTests,
		})
	}
	tbl.AppendFooter(table.Row{"", fmt.Sprintf("Total: %d builds", len(reports))})
	return tbl.Render()
}

// RenderComparisonTable renders the failure changes between two builds.
func RenderComparisonTable(c ReportComparison) string {
	tbl := table.NewWriter()
	tbl.SetStyle(table.StyleLight)
	tbl.Style().Options.SeparateRows = false
	tbl.AppendHeader(table.Row{"Change", "Package", "Class", "Method"})
	for _, t := range c.NewFailures {
		tbl.AppendRow(table.Row{"new failure", t.PackageName, t.ClassName, t.MethodName})
	}
	for _, t := range c.FixedTests {
		tbl.AppendRow(table.Row{"fixed", t.PackageName, t.ClassName, t.MethodName})
	}
	for _, change := range c.StillFailing {
		status := "still failing"
		if change.ErrorDiff != "" {
			status += " (error changed)"
		}
		tbl.AppendRow(table.Row{status, change.Test.PackageName, change.Test.ClassName, change.Test.MethodName})
	}
	tbl.AppendFooter(table.Row{
		"Build " + strconv.Itoa(c.PreviousBuildID) + " -> " + strconv.Itoa(c.BuildID),
		"passed " + signedCount(c.PassedDelta),
		"failed " + signedCount(c.FailedDelta),
		"ignored " + signedCount(c.IgnoredDelta),
	})
	return tbl.Render()
}

func signedCount(v int) string {
	if v > 0 {
		return "+" + humanize.Comma(int64(v))
	}
	return humanize.Comma(int64(v))
}

// ParseCacheSize parses a human readable cache size such as "64MB" into whole megabytes. Empty or "0" disables
// the cache.
func ParseCacheSize(size string) (int, error) {
	trimmed := strings.TrimSpace(size)
	if trimmed == "" || trimmed == "0" {
		return 0, nil
	}
	parsed, err := humanize.ParseBytes(trimmed)
	if err != nil {
		return 0, fmt.Errorf("invalid cache size %q: %w", size, err)
	}
	return int(max(1, parsed/humanize.MByte)), nil
}
