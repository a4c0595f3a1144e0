package main

import (
	"context"
	"log"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/PatchLens/go-report-lens/lens"
	"github.com/PatchLens/go-report-lens/lens/cmd"
)

const pprofDebug = false

func main() {
	log.SetFlags(log.LstdFlags)

	if pprofDebug {
		go func() {
			if err := http.ListenAndServe("localhost:6060", nil); err != nil {
				log.Printf("pprof server failure: %v", err)
			}
		}()
	}

	config, err := cmd.ParseFlags(nil) // No custom flags for the standard dashboard
	if err != nil {
		log.Fatalf("%s%v", lens.ErrorLogPrefix, err)
	} else if err = config.Prepare(); err != nil {
		log.Fatalf("%s%v", lens.ErrorLogPrefix, err)
	}

	store, err := lens.OpenReportStore(config.StoreDir, config.CacheMB)
	if err != nil {
		log.Fatalf("%s%v", lens.ErrorLogPrefix, err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Printf("%sFailed to close report store: %v", lens.ErrorLogPrefix, err)
		}
	}()

	fetcher, order := config.NewReportFetcher(store)
	dashboard := lens.NewDashboard(config.BuildTypes, fetcher, order, config.FetchLimit)
	server := lens.NewServer(store, dashboard, config.UpdateToken)
	if err := server.Start(config.ListenAddr); err != nil {
		log.Fatalf("%s%v", lens.ErrorLogPrefix, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := dashboard.RefreshAll(ctx); err != nil {
		log.Printf("%sInitial refresh incomplete: %v", lens.ErrorLogPrefix, err)
	}
	<-ctx.Done()

	log.Println("Shutting down dashboard")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	if err := server.Stop(shutdownCtx); err != nil {
		log.Printf("%sShutdown failed: %v", lens.ErrorLogPrefix, err)
	}
}
