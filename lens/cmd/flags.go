package cmd

import (
	"errors"
	"flag"
	"strconv"
	"time"

	"github.com/PatchLens/go-report-lens/lens"
)

// CustomFlag defines a custom CLI option.
type CustomFlag struct {
	Name         string
	DefaultValue any
	Usage        string
	Type         string // "string", "int", "bool"
}

// ParseFlags builds Config from standard and custom flags.
func ParseFlags(customFlags []CustomFlag) (*lens.Config, error) {
	config := &lens.Config{CustomFlags: make(map[string]string)}

	// Define all standard flags
	listenAddr := flag.String("listen", "localhost:8989", "Address to serve the dashboard and report API on")
	sourceURL := flag.String("source", "", "Reports API base url to fetch from (e.g., http://host:8989/api/reports), empty reads the local store")
	sourceToken := flag.String("sourcetoken", "", "Bearer token sent to the reports API")
	updateToken := flag.String("updatetoken", "", "Bearer token required to insert reports, empty disables inserts")
	storeDir := flag.String("store", "", "Directory of the persistent report store, empty keeps reports in memory")
	buildTypesFile := flag.String("buildtypes", "", "YAML file listing the build types to present")
	chartFile := flag.String("chart", "", "File to output the chart image (.png or .svg)")
	order := flag.String("order", string(lens.ReportOrderNewestFirst), "Order of fetched reports, values can be: newest (default), oldest")
	fetchLimit := flag.Int("limit", lens.DefaultFetchLimit, "Number of reports fetched per build type")
	cacheSize := flag.String("cache", "64MB", "Report cache memory budget, 0 disables the cache")
	fetchTimeout := flag.Duration("timeout", 10*time.Second, "Timeout for fetching reports")

	// Define custom flags
	customPtrs := make(map[string]interface{})
	for _, cf := range customFlags {
		switch cf.Type {
		case "string":
			customPtrs[cf.Name] = flag.String(cf.Name, cf.DefaultValue.(string), cf.Usage)
		case "int":
			customPtrs[cf.Name] = flag.Int(cf.Name, cf.DefaultValue.(int), cf.Usage)
		case "bool":
			customPtrs[cf.Name] = flag.Bool(cf.Name, cf.DefaultValue.(bool), cf.Usage)
		}
	}

	flag.Parse()

	// Validate standard flags
	if *sourceURL != "" && *storeDir != "" {
		return nil, errors.New("-source and -store are mutually exclusive")
	}
	cacheMB, err := lens.ParseCacheSize(*cacheSize)
	if err != nil {
		return nil, err
	}

	// Populate config
	config.ListenAddr = *listenAddr
	config.SourceURL = *sourceURL
	config.SourceToken = *sourceToken
	config.UpdateToken = *updateToken
	config.StoreDir = *storeDir
	config.BuildTypesFile = *buildTypesFile
	config.ChartFile = *chartFile
	config.OrderFlag = *order
	config.FetchLimit = *fetchLimit
	config.CacheMB = cacheMB
	config.FetchTimeout = *fetchTimeout

	// Populate custom flags - convert all to strings for ease of use
	for name, ptr := range customPtrs {
		switch v := ptr.(type) {
		case *string:
			config.CustomFlags[name] = *v
		case *int:
			config.CustomFlags[name] = strconv.Itoa(*v)
		case *bool:
			config.CustomFlags[name] = strconv.FormatBool(*v)
		}
	}

	return config, nil
}
