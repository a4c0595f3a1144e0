package lens

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrUnknownBuildType is returned when a build type is not configured on the dashboard.
var ErrUnknownBuildType = errors.New("unknown build type")

// BuildType is a configured build type presented on the dashboard.
type BuildType struct {
	ID    string `yaml:"id" json:"id"`
	Label string `yaml:"label" json:"label"`
}

type buildTypesFile struct {
	BuildTypes []BuildType `yaml:"buildTypes"`
}

// DefaultBuildTypes returns the build types presented when no build type file is configured.
func DefaultBuildTypes() []BuildType {
	return []BuildType{
		{ID: "AppEngineTck_Capedwarf", Label: "CapeDwarf"},
		{ID: "GaeJavaSdk", Label: "GAE Java SDK"},
	}
}

// LoadBuildTypes reads the build type list from a yaml file. Labels default to the build type id.
func LoadBuildTypes(path string) ([]BuildType, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read build types failed: %w", err)
	}
	var file buildTypesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse build types failed: %w", err)
	} else if len(file.BuildTypes) == 0 {
		return nil, fmt.Errorf("no build types defined in %s", path)
	}
	seen := make(map[string]bool, len(file.BuildTypes))
	for i, bt := range file.BuildTypes {
		if bt.ID == "" {
			return nil, fmt.Errorf("build type %d has an empty id", i)
		} else if seen[bt.ID] {
			return nil, fmt.Errorf("duplicate build type: %s", bt.ID)
		}
		seen[bt.ID] = true
		if bt.Label == "" {
			file.BuildTypes[i].Label = bt.ID
		}
	}
	return file.BuildTypes, nil
}

// Config holds the settings of the dashboard server and report tools.
type Config struct {
	ListenAddr, SourceURL, SourceToken, UpdateToken string
	StoreDir, BuildTypesFile, ChartFile, OrderFlag  string
	FetchLimit, CacheMB                             int
	FetchTimeout                                    time.Duration
	// Computed fields
	Order      ReportOrder
	BuildTypes []BuildType
	// Custom flags support - all stored as strings for ease of use
	CustomFlags map[string]string
	// Internal state tracking
	prepared bool
}

// Prepare validates the configuration and resolves the computed fields.
func (c *Config) Prepare() error {
	if c.prepared {
		return errors.New("config has already been prepared")
	}

	if c.ListenAddr == "" {
		return errors.New("listen address is required")
	} else if c.FetchLimit < 1 || c.FetchLimit > 1000 {
		return fmt.Errorf("fetch limit must be between 1 and 1000, got %d", c.FetchLimit)
	} else if c.CacheMB < 0 || c.CacheMB > 10240 { // 10GB limit
		return fmt.Errorf("cache size must be between 0 and 10240 MB, got %d", c.CacheMB)
	} else if c.FetchTimeout < 0 {
		return fmt.Errorf("fetch timeout cannot be negative, got %s", c.FetchTimeout)
	}

	order, err := ParseReportOrder(c.OrderFlag)
	if err != nil {
		return err
	}
	c.Order = order

	if c.BuildTypesFile == "" {
		c.BuildTypes = DefaultBuildTypes()
	} else if err := validateFilePath(c.BuildTypesFile, "yaml"); err != nil {
		return fmt.Errorf("invalid build types file: %w", err)
	} else if c.BuildTypes, err = LoadBuildTypes(c.BuildTypesFile); err != nil {
		return err
	}

	if c.ChartFile != "" {
		if _, err := ChartOutputForPath(c.ChartFile); err != nil {
			return err
		} else if err := validateOutputPath(c.ChartFile); err != nil {
			return fmt.Errorf("invalid chart file path: %w", err)
		}
	}

	c.prepared = true
	return nil
}

// BuildType returns the configured build type with the given id.
func (c *Config) BuildType(id string) (BuildType, error) {
	for _, bt := range c.BuildTypes {
		if bt.ID == id {
			return bt, nil
		}
	}
	return BuildType{}, fmt.Errorf("%w: %s", ErrUnknownBuildType, id)
}

// NewReportFetcher returns the fetcher configured by SourceURL along with the order its results are declared in.
// Without a source url reports are read from the local store, which always lists newest-first.
func (c *Config) NewReportFetcher(store ReportStore) (ReportFetcher, ReportOrder) {
	if c.SourceURL == "" {
		return StoreReportFetcher{Store: store}, ReportOrderNewestFirst
	}
	return NewHTTPReportFetcher(c.SourceURL, c.SourceToken, c.FetchTimeout), c.Order
}

// validateFilePath validates that a file path exists and is readable
func validateFilePath(path, expectedType string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("file does not exist or is not accessible: %w", err)
	} else if info.IsDir() {
		return fmt.Errorf("path is a directory, expected a %s file", expectedType)
	}

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("file is not readable: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("failed to close file: %w", err)
	}
	return nil
}

// validateOutputPath validates that an output file path can be written to
func validateOutputPath(path string) error {
	dir := filepath.Dir(path)

	// Check if directory exists, if not try to create it
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("cannot create output directory '%s': %w", dir, err)
		}
	}

	// Check if we can write to the directory
	testFile := filepath.Join(dir, ".write_test")
	file, err := os.Create(testFile)
	if err != nil {
		return fmt.Errorf("cannot write to output directory '%s': %w", dir, err)
	}
	_ = file.Close()
	return os.Remove(testFile)
}
