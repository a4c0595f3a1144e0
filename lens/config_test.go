package lens

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeBuildTypesFile(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "buildtypes.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadBuildTypes(t *testing.T) {
	t.Parallel()

	t.Run("valid", func(t *testing.T) {
		path := writeBuildTypesFile(t, `
buildTypes:
  - id: AppEngineTck_Capedwarf
    label: CapeDwarf
  - id: Nightly
`)
		types, err := LoadBuildTypes(path)
		require.NoError(t, err)
		assert.Equal(t, []BuildType{
			{ID: "AppEngineTck_Capedwarf", Label: "CapeDwarf"},
			{ID: "Nightly", Label: "Nightly"},
		}, types)
	})

	errorTests := []struct {
		name    string
		content string
	}{
		{"empty", "buildTypes: []\n"},
		{"missing_id", "buildTypes:\n  - label: No Id\n"},
		{"duplicate", "buildTypes:\n  - id: a\n  - id: a\n"},
		{"malformed", "buildTypes: [\n"},
	}
	for _, tt := range errorTests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadBuildTypes(writeBuildTypesFile(t, tt.content))
			require.Error(t, err)
		})
	}

	t.Run("missing_file", func(t *testing.T) {
		_, err := LoadBuildTypes(filepath.Join(t.TempDir(), "none.yaml"))
		require.Error(t, err)
	})
}

func TestConfigPrepare(t *testing.T) {
	t.Parallel()

	validConfig := func() Config {
		return Config{ListenAddr: "localhost:0", FetchLimit: 10, CacheMB: 64, FetchTimeout: time.Second}
	}

	t.Run("defaults", func(t *testing.T) {
		cfg := validConfig()
		require.NoError(t, cfg.Prepare())
		assert.Equal(t, ReportOrderNewestFirst, cfg.Order)
		assert.Equal(t, DefaultBuildTypes(), cfg.BuildTypes)

		require.Error(t, cfg.Prepare()) // only once
	})

	t.Run("build_types_file", func(t *testing.T) {
		cfg := validConfig()
		cfg.BuildTypesFile = writeBuildTypesFile(t, "buildTypes:\n  - id: bt\n    label: Build\n")
		cfg.OrderFlag = "oldest"
		require.NoError(t, cfg.Prepare())
		assert.Equal(t, ReportOrderOldestFirst, cfg.Order)

		bt, err := cfg.BuildType("bt")
		require.NoError(t, err)
		assert.Equal(t, "Build", bt.Label)
		_, err = cfg.BuildType("GaeJavaSdk")
		assert.ErrorIs(t, err, ErrUnknownBuildType)
	})

	t.Run("chart_file", func(t *testing.T) {
		cfg := validConfig()
		cfg.ChartFile = filepath.Join(t.TempDir(), "out", "chart.svg")
		require.NoError(t, cfg.Prepare())
		assert.DirExists(t, filepath.Dir(cfg.ChartFile))
	})

	errorTests := []struct {
		name   string
		modify func(t *testing.T, c *Config)
	}{
		{"no_listen", func(t *testing.T, c *Config) { c.ListenAddr = "" }},
		{"zero_limit", func(t *testing.T, c *Config) { c.FetchLimit = 0 }},
		{"large_limit", func(t *testing.T, c *Config) { c.FetchLimit = 1001 }},
		{"negative_cache", func(t *testing.T, c *Config) { c.CacheMB = -1 }},
		{"large_cache", func(t *testing.T, c *Config) { c.CacheMB = 10241 }},
		{"negative_timeout", func(t *testing.T, c *Config) { c.FetchTimeout = -time.Second }},
		{"bad_order", func(t *testing.T, c *Config) { c.OrderFlag = "random" }},
		{"missing_build_types", func(t *testing.T, c *Config) {
			c.BuildTypesFile = filepath.Join(t.TempDir(), "none.yaml")
		}},
		{"build_types_dir", func(t *testing.T, c *Config) { c.BuildTypesFile = t.TempDir() }},
		{"chart_extension", func(t *testing.T, c *Config) {
			c.ChartFile = filepath.Join(t.TempDir(), "chart.bmp")
		}},
	}
	for _, tt := range errorTests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.modify(t, &cfg)
			require.Error(t, cfg.Prepare())
		})
	}
}

func TestConfigNewReportFetcher(t *testing.T) {
	t.Parallel()

	store := NewMemReportStore()

	cfg := Config{Order: ReportOrderOldestFirst}
	fetcher, order := cfg.NewReportFetcher(store)
	assert.IsType(t, StoreReportFetcher{}, fetcher)
	assert.Equal(t, ReportOrderNewestFirst, order)

	cfg.SourceURL = "http://reports"
	fetcher, order = cfg.NewReportFetcher(store)
	assert.IsType(t, &HTTPReportFetcher{}, fetcher)
	assert.Equal(t, ReportOrderOldestFirst, order)
}
