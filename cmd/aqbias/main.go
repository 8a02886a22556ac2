package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	kongdotenv "github.com/titusjaka/kong-dotenv-go"
	_ "modernc.org/sqlite"

	"aqbias/internal/grid"
	"aqbias/internal/locations"
	"aqbias/internal/openaq"
	"aqbias/internal/pipeline"
	"aqbias/internal/store"
)

type Globals struct {
	DB          string `help:"Path to the sqlite bookkeeping database." default:"data/aqbias.db"`
	APIURL      string `name:"api-url" help:"Base URL of the station directory API." default:"https://api.openaq.org"`
	APIKey      string `name:"api-key" env:"OPENAQ_API_KEY" help:"API key for the station directory."`
	MetricsAddr string `help:"Expose Prometheus metrics on this address (e.g. :9090)."`
	NoCache     bool   `help:"Disable the sqlite response cache."`
}

type ExtractCmd struct {
	Locations   string `arg:"" help:"CSV of locations of interest (id,city,country,latitude,longitude,timezone[,elevation])." type:"existingfile"`
	Output      string `short:"o" help:"Output directory for observation artifacts." required:""`
	Variable    string `help:"Air-quality variable to extract." required:"" enum:"o3,no2,so2,pm10,pm25"`
	Start       string `help:"Start of the requested range (YYYY-MM-DD)." default:"2019-06-01"`
	End         string `help:"End of the requested range (YYYY-MM-DD)." default:"2021-03-31"`
	Concurrency int    `help:"Locations processed in parallel." default:"1"`
}

func (c *ExtractCmd) Run(ctx context.Context, g *Globals) error {
	return runBatch(ctx, g, batchOptions{
		locationsCSV: c.Locations,
		outputDir:    c.Output,
		variable:     c.Variable,
		start:        c.Start,
		end:          c.End,
		concurrency:  c.Concurrency,
	})
}

type MergeCmd struct {
	Locations   string `arg:"" help:"CSV of locations of interest." type:"existingfile"`
	Output      string `short:"o" help:"Output directory for artifacts." required:""`
	GridDir     string `help:"Directory holding forecast grid files." required:""`
	FTPHost     string `name:"ftp-host" help:"FTP host to download missing grid files from (host:port)."`
	FTPRoot     string `name:"ftp-root" help:"Remote directory on the FTP host."`
	Variable    string `help:"Air-quality variable to merge." required:"" enum:"o3,no2,so2,pm10,pm25"`
	Start       string `help:"Start of the requested range (YYYY-MM-DD)." default:"2019-06-01"`
	End         string `help:"End of the requested range (YYYY-MM-DD)." default:"2021-03-31"`
	Concurrency int    `help:"Locations processed in parallel." default:"1"`
}

func (c *MergeCmd) Run(ctx context.Context, g *Globals) error {
	return runBatch(ctx, g, batchOptions{
		locationsCSV: c.Locations,
		outputDir:    c.Output,
		gridDir:      c.GridDir,
		ftpHost:      c.FTPHost,
		ftpRoot:      c.FTPRoot,
		variable:     c.Variable,
		start:        c.Start,
		end:          c.End,
		concurrency:  c.Concurrency,
	})
}

var cli struct {
	Globals
	Extract ExtractCmd `cmd:"" help:"Download, rank and fetch station observations for each location."`
	Merge   MergeCmd   `cmd:"" help:"Fuse observations and merge them with forecast grids into training tables."`
}

func main() {
	ktx := kong.Parse(&cli,
		kong.Name("aqbias"),
		kong.Description("Prepares per-location air-quality bias-correction training sets from station observations and forecast grids."),
		kong.Configuration(kongdotenv.ENVFileReader, ".env"),
		kong.UsageOnError(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ktx.BindTo(ctx, (*context.Context)(nil))

	ktx.FatalIfErrorf(ktx.Run(&cli.Globals))
}

type batchOptions struct {
	locationsCSV string
	outputDir    string
	gridDir      string
	ftpHost      string
	ftpRoot      string
	variable     string
	start        string
	end          string
	concurrency  int
}

func runBatch(ctx context.Context, g *Globals, opts batchOptions) error {
	start, end, err := parseRange(opts.start, opts.end)
	if err != nil {
		return err
	}

	locs, err := locations.Load(opts.locationsCSV)
	if err != nil {
		return err
	}

	st, err := store.Open(g.DB)
	if err != nil {
		return err
	}
	defer st.Close()
	if err := st.Migrate(); err != nil {
		return err
	}

	client := openaq.NewClient(g.APIURL, g.APIKey)
	if !g.NoCache {
		client.SetCache(st)
	}

	if g.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		go func() {
			if err := http.ListenAndServe(g.MetricsAddr, mux); err != nil {
				log.Printf("metrics server: %v", err)
			}
		}()
	}

	cfg := pipeline.Config{
		OutputDir: opts.outputDir,
		GridDir:   opts.gridDir,
		Store:     st,
	}
	if opts.ftpHost != "" {
		cfg.GridFetcher = grid.NewFetcher(opts.ftpHost, opts.ftpRoot)
	}

	p := pipeline.New(client, cfg)
	br := p.RunBatch(ctx, locs, opts.variable, start, end, opts.concurrency)
	log.Printf("%d out of %d locations processed successfully for variable %s",
		br.Successes, len(locs), opts.variable)
	return nil
}

func parseRange(startStr, endStr string) (time.Time, time.Time, error) {
	start, err := time.Parse("2006-01-02", startStr)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("parse start date %q: %w", startStr, err)
	}
	end, err := time.Parse("2006-01-02", endStr)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("parse end date %q: %w", endStr, err)
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("end date %s is before start date %s", endStr, startStr)
	}
	return start.UTC(), end.UTC(), nil
}
