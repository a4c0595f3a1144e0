package lens

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// ErrInvalidReport is returned when a report fails validation before being stored.
var ErrInvalidReport = errors.New("invalid test report")

// FailedTest identifies a single failed or ignored test method and its error output.
type FailedTest struct {
	PackageName string `json:"packageName" msgpack:"p"`
	ClassName   string `json:"className" msgpack:"c"`
	MethodName  string `json:"methodName" msgpack:"m"`
	Error       string `json:"error,omitempty" msgpack:"e,omitempty"`
}

// TestReport is the aggregated test outcome of one build.
type TestReport struct {
	BuildTypeID          string       `json:"buildTypeId" msgpack:"bt"`
	BuildID              int          `json:"buildId" msgpack:"id"`
	BuildDate            time.Time    `json:"buildDate" msgpack:"bd"`
	BuildDuration        Millis       `json:"buildDuration" msgpack:"du"`
	NumberOfPassedTests  int          `json:"numberOfPassedTests" msgpack:"np"`
	NumberOfFailedTests  int          `json:"numberOfFailedTests" msgpack:"nf"`
	NumberOfIgnoredTests int          `json:"numberOfIgnoredTests" msgpack:"ni"`
	FailedTests          []FailedTest `json:"failedTests,omitempty" msgpack:"ft,omitempty"`
	IgnoredTests         []FailedTest `json:"ignoredTests,omitempty" msgpack:"it,omitempty"`
}

// Millis is a duration in milliseconds. In JSON it is written as a number and read from either a number or a
// numeric string, the encoding some APIs use for 64-bit integers.
type Millis int64

// UnmarshalJSON accepts 1234, "1234" and null.
func (m *Millis) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	} else if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		data = []byte(s)
	}
	v, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid millisecond value %s: %w", data, err)
	}
	*m = Millis(v)
	return nil
}

// TotalTests returns the sum of the passed, failed and ignored counts.
func (r TestReport) TotalTests() int {
	return r.NumberOfPassedTests + r.NumberOfFailedTests + r.NumberOfIgnoredTests
}

// Validate checks the fields required before a report can be persisted.
func (r TestReport) Validate() error {
	if r.BuildTypeID == "" {
		return fmt.Errorf("%w: buildTypeId cannot be empty", ErrInvalidReport)
	} else if r.BuildID < 0 {
		return fmt.Errorf("%w: negative build id %d", ErrInvalidReport, r.BuildID)
	} else if r.NumberOfPassedTests < 0 || r.NumberOfFailedTests < 0 || r.NumberOfIgnoredTests < 0 {
		return fmt.Errorf("%w: negative test count on build %d", ErrInvalidReport, r.BuildID)
	}
	var errs []error
	for _, tests := range [][]FailedTest{r.FailedTests, r.IgnoredTests} {
		for i, t := range tests {
			if err := t.validate(); err != nil {
				errs = append(errs, fmt.Errorf("test %d: %w", i, err))
			}
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidReport, errors.Join(errs...))
	}
	return nil
}

func (t FailedTest) validate() error {
	if t.PackageName == "" {
		return errors.New("packageName cannot be empty")
	} else if t.ClassName == "" {
		return errors.New("className cannot be empty")
	} else if t.MethodName == "" {
		return errors.New("methodName cannot be empty")
	}
	return nil
}

// FormatDuration renders the build duration as "Xh Ym Zs".
func (r TestReport) FormatDuration() string {
	return formatBuildDuration(time.Duration(r.BuildDuration) * time.Millisecond)
}

func formatBuildDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return strconv.Itoa(h) + "h " + strconv.Itoa(m) + "m " + strconv.Itoa(s) + "s"
}

// SortReportsOldestFirst orders reports by ascending build id in place. The sort is stable so reports
// sharing a build id keep their relative order.
func SortReportsOldestFirst(reports []TestReport) {
	slices.SortStableFunc(reports, func(a, b TestReport) int {
		return a.BuildID - b.BuildID
	})
}

// isOldestFirst reports if build ids never decrease.
func isOldestFirst(reports []TestReport) bool {
	return slices.IsSortedFunc(reports, func(a, b TestReport) int {
		return a.BuildID - b.BuildID
	})
}

// MarshalReport encodes a report into its compact storage form.
func MarshalReport(r TestReport) ([]byte, error) {
	enc := msgpack.GetEncoder()
	defer msgpack.PutEncoder(enc)
	return marshalMsgpack(enc, r)
}

// UnmarshalReport decodes a report stored by MarshalReport.
func UnmarshalReport(data []byte) (TestReport, error) {
	var r TestReport
	if err := msgpack.Unmarshal(data, &r); err != nil {
		return r, fmt.Errorf("decode report failed: %w", err)
	}
	return r, nil
}
