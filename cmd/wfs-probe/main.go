package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/geomonitor/prodes-ingest/internal/config"
	"github.com/geomonitor/prodes-ingest/internal/db"
	"github.com/geomonitor/prodes-ingest/internal/store"
	"github.com/geomonitor/prodes-ingest/internal/wfs"
)

// wfs-probe checks that a layer answers and, when DATABASE_URL is set,
// how many rows the target table already holds.
func main() {
	workspace := flag.String("workspace", "prodes-cerrado-nb", "GeoServer workspace")
	layer := flag.String("layer", "yearly_deforestation", "layer name")
	timeout := flag.Duration("timeout", time.Minute, "overall timeout")
	flag.Parse()

	config.LoadDotEnv()
	cfg, err := config.LoadFromEnv()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	client := wfs.NewClient(cfg.WFSBaseURL)
	res, err := client.Probe(ctx, *workspace, *layer)
	if err != nil {
		log.Fatalf("probe %s:%s: %v", *workspace, *layer, err)
	}
	fmt.Printf("%s:%s status=%d matched=%s returned=%d in %s\n",
		*workspace, *layer, res.StatusCode, res.NumberMatched, res.Returned, res.Duration.Round(time.Millisecond))

	if cfg.DatabaseURL == "" {
		return
	}
	h, err := db.Connect(ctx, cfg.DatabaseURL, db.DefaultOptions())
	if err != nil {
		log.Fatalf("DB connection error: %v", err)
	}
	defer h.Close()

	n, err := store.NewUpserter(h.Pool).Count(ctx, cfg.Table, cfg.Schema)
	if err != nil {
		fmt.Fprintf(os.Stderr, "count %s.%s: %v\n", cfg.Schema, cfg.Table, err)
		return
	}
	fmt.Printf("%s.%s rows=%d\n", cfg.Schema, cfg.Table, n)
}
