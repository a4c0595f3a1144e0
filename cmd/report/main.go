package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/PatchLens/go-report-lens/lens"
	"github.com/PatchLens/go-report-lens/lens/cmd"
)

func main() {
	log.SetFlags(log.LstdFlags | log.LUTC)

	config, err := cmd.ParseFlags([]cmd.CustomFlag{
		{Name: "buildtype", DefaultValue: "", Usage: "Build type to report, defaults to the first configured", Type: "string"},
		{Name: "trend", DefaultValue: false, Usage: "Output the trend chart rather than the selected build summary", Type: "bool"},
		{Name: "compare", DefaultValue: true, Usage: "Print the failure changes of the latest build", Type: "bool"},
	})
	if err != nil {
		log.Fatalf("%s%v", lens.ErrorLogPrefix, err)
	} else if err = config.Prepare(); err != nil {
		log.Fatalf("%s%v", lens.ErrorLogPrefix, err)
	}

	buildTypeID := config.CustomFlags["buildtype"]
	if buildTypeID == "" {
		buildTypeID = config.BuildTypes[0].ID
	}
	buildType, err := config.BuildType(buildTypeID)
	if err != nil {
		log.Fatalf("%s%v", lens.ErrorLogPrefix, err)
	}

	store, err := lens.OpenReportStore(config.StoreDir, 0)
	if err != nil {
		log.Fatalf("%s%v", lens.ErrorLogPrefix, err)
	}
	defer store.Close()

	fetcher, order := config.NewReportFetcher(store)
	presenter := lens.NewPresenter(buildType.ID, fetcher, order, config.FetchLimit)
	ctx, cancel := context.WithTimeout(context.Background(), config.FetchTimeout+time.Second)
	defer cancel()
	if err := presenter.Refresh(ctx); err != nil {
		log.Fatalf("%s%v", lens.ErrorLogPrefix, err)
	}

	state := presenter.State()
	if !state.Available {
		log.Printf("No reports available for %s", buildType.Label)
		return
	}
	fmt.Println(lens.RenderTrendTable(state.Reports, state.Selected, time.Now()))
	if config.CustomFlags["compare"] == "true" {
		if comparison, ok, err := lens.CompareLatest(state.Reports); err != nil {
			log.Printf("%sFailed to compare reports: %v", lens.ErrorLogPrefix, err)
		} else if ok {
			fmt.Println(lens.RenderComparisonTable(comparison))
		}
	}

	if config.ChartFile == "" {
		return
	}
	spec, title := state.ActiveChart, buildType.Label
	if config.CustomFlags["trend"] == "true" {
		spec, title = state.TrendChart, buildType.Label+" trend"
	}
	if err := lens.WriteChartImage(config.ChartFile, spec, state.ErrorByLabel, title); err != nil {
		log.Fatalf("%s%v", lens.ErrorLogPrefix, err)
	}
	log.Println("Chart file wrote: " + config.ChartFile)
}
