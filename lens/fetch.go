package lens

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"
)

// ErrFetchFailed wraps any failure to retrieve reports from a ReportFetcher.
var ErrFetchFailed = errors.New("reports unavailable")

// DefaultFetchLimit is the number of reports requested by the dashboard per build type.
const DefaultFetchLimit = 10

const maxFetchResponseBytes = 32 << 20

// ReportOrder declares how a report source orders its results.
type ReportOrder string

const (
	ReportOrderNewestFirst ReportOrder = "newest"
	ReportOrderOldestFirst ReportOrder = "oldest"
)

// ParseReportOrder validates a report order name.
func ParseReportOrder(s string) (ReportOrder, error) {
	switch ReportOrder(strings.ToLower(s)) {
	case ReportOrderNewestFirst, "":
		return ReportOrderNewestFirst, nil
	case ReportOrderOldestFirst:
		return ReportOrderOldestFirst, nil
	default:
		return "", fmt.Errorf("unknown report order: %s", s)
	}
}

// ReportFetcher retrieves the most recent reports of a build type.
type ReportFetcher interface {
	ListReports(ctx context.Context, buildTypeID string, limit int) ([]TestReport, error)
}

// NormalizeReportOrder returns the reports oldest-first. Reports from a source declared newest-first are reversed,
// and if the result still does not match the build ids the reports are sorted with a warning.
func NormalizeReportOrder(reports []TestReport, declared ReportOrder) []TestReport {
	result := slices.Clone(reports)
	if declared != ReportOrderOldestFirst {
		slices.Reverse(result)
	}
	if !isOldestFirst(result) {
		log.Printf("%sReport order does not match declared order %q, sorting by build id", ErrorLogPrefix, declared)
		SortReportsOldestFirst(result)
	}
	return result
}

// listReportsResponse matches the endpoint collection envelope.
type listReportsResponse struct {
	Items []TestReport `json:"items"`
}

// HTTPReportFetcher lists reports from a remote reports API.
type HTTPReportFetcher struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPReportFetcher creates a fetcher against the given API base url, for example
// "http://localhost:8989/api/reports". An empty token disables the authorization header.
func NewHTTPReportFetcher(baseURL, token string, timeout time.Duration) *HTTPReportFetcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPReportFetcher{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		client: &http.Client{
			Transport: http.DefaultTransport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return errors.New("redirect not allowed")
			},
			Timeout: timeout,
		},
	}
}

// ListReports requests up to limit reports in the order returned by the API.
func (f *HTTPReportFetcher) ListReports(ctx context.Context, buildTypeID string, limit int) ([]TestReport, error) {
	if limit <= 0 {
		limit = DefaultFetchLimit
	}
	u := f.baseURL + "/" + url.PathEscape(buildTypeID) + "/tests?limit=" + strconv.Itoa(limit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %w", ErrFetchFailed, err)
	}
	req.Header.Set("Accept", "application/json")
	if f.token != "" {
		req.Header.Set("Authorization", "Bearer "+f.token)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: status %d: %s", ErrFetchFailed, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var decoded listReportsResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxFetchResponseBytes)).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("%w: decode response: %w", ErrFetchFailed, err)
	}
	return decoded.Items, nil
}

// StoreReportFetcher lists reports directly from a local ReportStore, newest-first.
type StoreReportFetcher struct {
	Store ReportStore
}

// ListReports reads the most recent reports from the store.
func (f StoreReportFetcher) ListReports(ctx context.Context, buildTypeID string, limit int) ([]TestReport, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}
	reports, err := f.Store.ListReports(buildTypeID, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}
	return reports, nil
}
