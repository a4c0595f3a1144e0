package cmd

import (
	"flag"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PatchLens/go-report-lens/lens"
)

// withArgs installs a fresh flag set and command line for the duration of the test.
func withArgs(t *testing.T, args ...string) {
	t.Helper()

	oldArgs := os.Args
	oldCommandLine := flag.CommandLine
	flag.CommandLine = flag.NewFlagSet(os.Args[0], flag.ContinueOnError)
	os.Args = append([]string{os.Args[0]}, args...)
	t.Cleanup(func() {
		os.Args = oldArgs
		flag.CommandLine = oldCommandLine
	})
}

func TestParseFlags(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		withArgs(t)

		cfg, err := ParseFlags(nil)
		require.NoError(t, err)

		assert.Equal(t, "localhost:8989", cfg.ListenAddr)
		assert.Empty(t, cfg.SourceURL)
		assert.Empty(t, cfg.StoreDir)
		assert.Empty(t, cfg.UpdateToken)
		assert.Equal(t, string(lens.ReportOrderNewestFirst), cfg.OrderFlag)
		assert.Equal(t, lens.DefaultFetchLimit, cfg.FetchLimit)
		assert.Equal(t, 64, cfg.CacheMB)
		assert.Equal(t, 10*time.Second, cfg.FetchTimeout)
		assert.NotNil(t, cfg.CustomFlags)
		assert.Empty(t, cfg.CustomFlags)
		// Order is resolved by Config.Prepare(), not ParseFlags
		assert.Empty(t, cfg.Order)
	})

	t.Run("source", func(t *testing.T) {
		withArgs(t, "-source", "http://reports:8989/api/reports", "-sourcetoken", "tok",
			"-order", "oldest", "-limit", "25", "-timeout", "3s")

		cfg, err := ParseFlags(nil)
		require.NoError(t, err)

		assert.Equal(t, "http://reports:8989/api/reports", cfg.SourceURL)
		assert.Equal(t, "tok", cfg.SourceToken)
		assert.Equal(t, "oldest", cfg.OrderFlag)
		assert.Equal(t, 25, cfg.FetchLimit)
		assert.Equal(t, 3*time.Second, cfg.FetchTimeout)
	})

	t.Run("store", func(t *testing.T) {
		dir := t.TempDir()
		withArgs(t, "-store", dir, "-updatetoken", "secret", "-cache", "512MiB", "-listen", ":0")

		cfg, err := ParseFlags(nil)
		require.NoError(t, err)

		assert.Equal(t, dir, cfg.StoreDir)
		assert.Equal(t, "secret", cfg.UpdateToken)
		assert.Equal(t, 536, cfg.CacheMB)
		assert.Equal(t, ":0", cfg.ListenAddr)
	})

	t.Run("cache_disabled", func(t *testing.T) {
		withArgs(t, "-cache", "0")

		cfg, err := ParseFlags(nil)
		require.NoError(t, err)
		assert.Zero(t, cfg.CacheMB)
	})

	t.Run("invalid_cache", func(t *testing.T) {
		withArgs(t, "-cache", "lots")

		_, err := ParseFlags(nil)
		require.Error(t, err)
	})

	t.Run("source_store_conflict", func(t *testing.T) {
		withArgs(t, "-source", "http://reports", "-store", t.TempDir())

		_, err := ParseFlags(nil)
		require.Error(t, err)
	})

	t.Run("custom_flags", func(t *testing.T) {
		withArgs(t, "-str", "val", "-num", "2", "-ok")
		cfs := []CustomFlag{
			{Name: "str", DefaultValue: "", Usage: "", Type: "string"},
			{Name: "num", DefaultValue: 0, Usage: "", Type: "int"},
			{Name: "ok", DefaultValue: false, Usage: "", Type: "bool"},
		}

		cfg, err := ParseFlags(cfs)
		require.NoError(t, err)

		assert.Equal(t, "val", cfg.CustomFlags["str"])
		assert.Equal(t, "2", cfg.CustomFlags["num"])
		assert.Equal(t, "true", cfg.CustomFlags["ok"])
	})

	t.Run("custom_flags_with_defaults", func(t *testing.T) {
		withArgs(t, "-overridebool=false")
		cfs := []CustomFlag{
			{Name: "buildtype", DefaultValue: "GaeJavaSdk", Usage: "build type", Type: "string"},
			{Name: "trend", DefaultValue: 42, Usage: "trend size", Type: "int"},
			{Name: "overridebool", DefaultValue: true, Usage: "test bool", Type: "bool"},
		}

		cfg, err := ParseFlags(cfs)
		require.NoError(t, err)

		assert.Equal(t, "GaeJavaSdk", cfg.CustomFlags["buildtype"])
		assert.Equal(t, "42", cfg.CustomFlags["trend"])
		assert.Equal(t, "false", cfg.CustomFlags["overridebool"])
	})
}
