package lens

import (
	"fmt"

	"github.com/go-analyze/bulk"
	"github.com/pmezard/go-difflib/difflib"
)

// TestChange is a failing test that was also failing in the previous build.
type TestChange struct {
	Test      FailedTest `json:"test"`
	ErrorDiff string     `json:"errorDiff,omitempty"` // unified diff of the error output, empty when unchanged
}

// ReportComparison describes how the failing tests changed between two builds of a build type.
type ReportComparison struct {
	BuildTypeID     string       `json:"buildTypeId"`
	PreviousBuildID int          `json:"previousBuildId"`
	BuildID         int          `json:"buildId"`
	NewFailures     []FailedTest `json:"newFailures"`
	FixedTests      []FailedTest `json:"fixedTests"`
	StillFailing    []TestChange `json:"stillFailing"`
	PassedDelta     int          `json:"passedDelta"`
	FailedDelta     int          `json:"failedDelta"`
	IgnoredDelta    int          `json:"ignoredDelta"`
}

func testIdent(t FailedTest) string {
	return t.PackageName + "." + t.ClassName + "#" + t.MethodName
}

// CompareReports compares the failed tests of a report against the previous report of the same build type.
func CompareReports(prev, cur TestReport) (ReportComparison, error) {
	if prev.BuildTypeID != cur.BuildTypeID {
		return ReportComparison{}, fmt.Errorf("cannot compare build types %s and %s", prev.BuildTypeID, cur.BuildTypeID)
	}
	prevByIdent := make(map[string]FailedTest, len(prev.FailedTests))
	for _, t := range prev.FailedTests {
		prevByIdent[testIdent(t)] = t
	}
	curIdents := make(map[string]bool, len(cur.FailedTests))
	for _, t := range cur.FailedTests {
		curIdents[testIdent(t)] = true
	}

	comparison := ReportComparison{
		BuildTypeID:     cur.BuildTypeID,
		PreviousBuildID: prev.BuildID,
		BuildID:         cur.BuildID,
		NewFailures: bulk.SliceFilter(func(t FailedTest) bool {
			_, found := prevByIdent[testIdent(t)]
			return !found
		}, cur.FailedTests),
		FixedTests: bulk.SliceFilter(func(t FailedTest) bool {
			return !curIdents[testIdent(t)]
		}, prev.FailedTests),
		PassedDelta:  cur.NumberOfPassedTests - prev.NumberOfPassedTests,
		FailedDelta:  cur.NumberOfFailedTests - prev.NumberOfFailedTests,
		IgnoredDelta: cur.NumberOfIgnoredTests - prev.NumberOfIgnoredTests,
	}
	for _, t := range cur.FailedTests {
		if prevTest, found := prevByIdent[testIdent(t)]; found {
			comparison.StillFailing = append(comparison.StillFailing, TestChange{
				Test:      t,
				ErrorDiff: errorDiff(prevTest.Error, t.Error),
			})
		}
	}
	return comparison, nil
}

func errorDiff(prevError, curError string) string {
	if prevError == curError {
		return ""
	}
	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(prevError),
		B:        difflib.SplitLines(curError),
		FromFile: "previous",
		ToFile:   "current",
		Context:  2,
	}
	if text, err := difflib.GetUnifiedDiffString(diff); err == nil && text != "" {
		return text
	} else { // fallback to basic format if unexpected diff error
		return fmt.Sprintf("\t'%v'\n!=\n\t'%v'", prevError, curError)
	}
}

// CompareLatest compares the two most recent of the oldest-first reports, false if fewer than two are available.
func CompareLatest(reports []TestReport) (ReportComparison, bool, error) {
	if len(reports) < 2 {
		return ReportComparison{}, false, nil
	}
	comparison, err := CompareReports(reports[len(reports)-2], reports[len(reports)-1])
	return comparison, err == nil, err
}
