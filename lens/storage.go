package lens

import (
	"errors"
	"fmt"
	"log"
	"maps"
	"os"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/dgraph-io/ristretto/v2"
)

const debugStorage = false

// DefaultStoreListLimit is used when a store list request does not specify a limit.
const DefaultStoreListLimit = 20

const reportKeyPrefix = "report;"

// ReportStore defines persistence methods for build test reports.
type ReportStore interface {
	// SaveReport stores a validated report, replacing any report with the same build type and build id.
	SaveReport(report TestReport) error
	// ListReports returns up to limit reports of the build type ordered by build id descending. A limit of zero or
	// less uses DefaultStoreListLimit.
	ListReports(buildTypeID string, limit int) ([]TestReport, error)
	// BuildTypes returns the sorted distinct build types with at least one report.
	BuildTypes() ([]string, error)
	Close() error
}

func reportKey(buildTypeID string, buildID int) string {
	return reportKeyPrefix + buildTypeID + ";" + fmt.Sprintf("%010d", buildID)
}

func reportKeyBuildType(key string) string {
	rest := strings.TrimPrefix(key, reportKeyPrefix)
	if i := strings.LastIndexByte(rest, ';'); i >= 0 {
		return rest[:i]
	}
	return rest
}

func storeListLimit(limit int) int {
	if limit <= 0 {
		return DefaultStoreListLimit
	}
	return limit
}

type memReportStore struct {
	mu      sync.Mutex
	reports map[string][]TestReport // oldest-first per build type
}

// NewMemReportStore returns an in-memory ReportStore implementation.
func NewMemReportStore() ReportStore {
	return &memReportStore{reports: make(map[string][]TestReport)}
}

func (m *memReportStore) SaveReport(report TestReport) error {
	if err := report.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	list := m.reports[report.BuildTypeID]
	i, found := slices.BinarySearchFunc(list, report.BuildID, func(r TestReport, id int) int {
		return r.BuildID - id
	})
	if found {
		list[i] = report
	} else {
		list = slices.Insert(list, i, report)
	}
	m.reports[report.BuildTypeID] = list
	return nil
}

func (m *memReportStore) ListReports(buildTypeID string, limit int) ([]TestReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	list := m.reports[buildTypeID]
	limit = min(storeListLimit(limit), len(list))
	result := make([]TestReport, 0, limit)
	for i := len(list) - 1; i >= len(list)-limit; i-- {
		result = append(result, list[i])
	}
	return result, nil
}

func (m *memReportStore) BuildTypes() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	types := make([]string, 0, len(m.reports))
	for bt, list := range m.reports {
		if len(list) > 0 {
			types = append(types, bt)
		}
	}
	slices.Sort(types)
	return types, nil
}

func (m *memReportStore) Close() error {
	return nil // no resources to free
}

type badgerReportStore struct {
	path string
	db   *badger.DB
}

// NewBadgerReportStore opens a Badger backed ReportStore at the given directory.
func NewBadgerReportStore(path string, maxMemMB int) (ReportStore, error) {
	// ensure directory exists
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("create storage dir failed: %w", err)
	}

	clamp := func(val, lo, high int64) int64 {
		return min(max(val, lo), high)
	}
	memTableSize := clamp(int64(maxMemMB/4), 8, 64) << 20
	// values are zstd compressed before being stored, db level compression would only add overhead
	opts := badger.DefaultOptions(path).
		WithInMemory(false).
		WithCompression(options.None).
		WithNumMemtables(2).
		WithMemTableSize(memTableSize).
		WithBaseTableSize(memTableSize).
		WithIndexCacheSize(clamp(int64(maxMemMB/4), 16, 128) << 20)

	if !debugStorage {
		opts = opts.
			WithLoggingLevel(badger.ERROR).
			WithMetricsEnabled(false)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open storage db failed: %w", err)
	}
	if debugStorage {
		go func() {
			for {
				time.Sleep(60 * time.Second)
				if db.IsClosed() {
					return
				}
				if metrics := db.IndexCacheMetrics(); metrics != nil {
					log.Println("index: " + metrics.String())
					metrics.Clear()
				}
			}
		}()
	}
	return &badgerReportStore{path: path, db: db}, nil
}

func (b *badgerReportStore) SaveReport(report TestReport) error {
	if err := report.Validate(); err != nil {
		return err
	}
	storeBlob, err := encodeReportBlob(report)
	if err != nil {
		return err
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(reportKey(report.BuildTypeID, report.BuildID)), storeBlob)
	})
}

func (b *badgerReportStore) ListReports(buildTypeID string, limit int) ([]TestReport, error) {
	limit = storeListLimit(limit)
	prefix := []byte(reportKeyPrefix + buildTypeID + ";")
	var reports []TestReport
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		seekKey := append(slices.Clone(prefix), 0xFF)
		for it.Seek(seekKey); it.ValidForPrefix(prefix) && len(reports) < limit; it.Next() {
			if reportKeyBuildType(string(it.Item().Key())) != buildTypeID {
				continue // a longer build type sharing this prefix
			}
			var report TestReport
			if err := it.Item().Value(func(v []byte) (err error) {
				report, err = decodeReportBlob(v)
				return err
			}); err != nil {
				return fmt.Errorf("load %s failed: %w", it.Item().Key(), err)
			}
			reports = append(reports, report)
		}
		return nil
	})
	return reports, err
}

func (b *badgerReportStore) BuildTypes() ([]string, error) {
	typeSet := make(map[string]bool)
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		prefix := []byte(reportKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			typeSet[reportKeyBuildType(string(it.Item().Key()))] = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return slices.Sorted(maps.Keys(typeSet)), nil
}

func (b *badgerReportStore) Close() error {
	return b.db.Close()
}

type cachedReportStore struct {
	store ReportStore
	cache *ristretto.Cache[string, []TestReport]
	mu    sync.Mutex
	keys  map[string][]string // build type -> cache keys
	gens  map[string]uint64   // build type -> save count
}

// NewCachedReportStore wraps a store with a read cache of listed reports, bounded by maxMB of estimated report size.
// Saving a report invalidates the cached lists of its build type.
func NewCachedReportStore(store ReportStore, maxMB int) (ReportStore, error) {
	cache, err := ristretto.NewCache(&ristretto.Config[string, []TestReport]{
		NumCounters: 10_000,
		MaxCost:     int64(max(1, maxMB)) << 20,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create report cache failed: %w", err)
	}
	return &cachedReportStore{
		store: store,
		cache: cache,
		keys:  make(map[string][]string),
		gens:  make(map[string]uint64),
	}, nil
}

func (c *cachedReportStore) SaveReport(report TestReport) error {
	if err := c.store.SaveReport(report); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, key := range c.keys[report.BuildTypeID] {
		c.cache.Del(key)
	}
	delete(c.keys, report.BuildTypeID)
	c.gens[report.BuildTypeID]++
	return nil
}

func (c *cachedReportStore) ListReports(buildTypeID string, limit int) ([]TestReport, error) {
	key := buildTypeID + ";" + strconv.Itoa(storeListLimit(limit))
	if reports, ok := c.cache.Get(key); ok {
		return slices.Clone(reports), nil
	}
	c.mu.Lock()
	gen := c.gens[buildTypeID]
	c.mu.Unlock()
	reports, err := c.store.ListReports(buildTypeID, limit)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.gens[buildTypeID] {
		return reports, nil // a save raced with this read, skip caching
	} else if c.cache.Set(key, slices.Clone(reports), reportsCost(reports)) {
		c.cache.Wait()
		if !slices.Contains(c.keys[buildTypeID], key) {
			c.keys[buildTypeID] = append(c.keys[buildTypeID], key)
		}
	}
	return reports, nil
}

func (c *cachedReportStore) BuildTypes() ([]string, error) {
	return c.store.BuildTypes()
}

func (c *cachedReportStore) Close() error {
	c.cache.Close()
	return c.store.Close()
}

// reportsCost estimates the memory held by a report list.
func reportsCost(reports []TestReport) int64 {
	var cost int64
	for _, r := range reports {
		cost += 256
		for _, tests := range [][]FailedTest{r.FailedTests, r.IgnoredTests} {
			for _, t := range tests {
				cost += int64(64 + len(t.PackageName) + len(t.ClassName) + len(t.MethodName) + len(t.Error))
			}
		}
	}
	return max(1, cost)
}

// OpenReportStore opens the badger store at dir, or an in-memory store when dir is empty, and wraps it with a read
// cache when cacheMB is positive.
func OpenReportStore(dir string, cacheMB int) (ReportStore, error) {
	var store ReportStore
	if dir == "" {
		store = NewMemReportStore()
	} else {
		var err error
		if store, err = NewBadgerReportStore(dir, max(cacheMB, 64)); err != nil {
			return nil, err
		}
		log.Printf("Report store opened at %s", dir)
	}
	if cacheMB <= 0 {
		return store, nil
	}
	cached, err := NewCachedReportStore(store, cacheMB)
	if err != nil {
		return nil, errors.Join(err, store.Close())
	}
	return cached, nil
}
