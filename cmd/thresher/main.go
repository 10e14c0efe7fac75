package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"thresher/internal/analysis"
	"thresher/internal/backend"
	"thresher/internal/backend/memory"
	"thresher/internal/frame"
	"thresher/internal/history"
	"thresher/internal/ingest"
	"thresher/internal/metrics"
	"thresher/internal/metrics/datadog"
	"thresher/internal/threshold"

	// register all query-pushdown backends with the factory.
	_ "thresher/internal/backend/all"
)

// analysisConfig is the JSON run configuration: what to analyze, against
// which columns, plus ingestion hints.
type analysisConfig struct {
	SelectedColumns []string                    `json:"selected_columns"`
	Thresholds      map[string]threshold.Config `json:"thresholds"`
	IDColumn        string                      `json:"id_column"`
	ResultColumns   []string                    `json:"result_columns"`
	MinMatchingRows int                         `json:"min_matching_rows"`
	SampleLimit     int                         `json:"sample_limit"`
	CombinationCap  int                         `json:"combination_cap"`

	// ColumnTypes declares ingestion kinds; undeclared columns are inferred.
	ColumnTypes map[string]frame.Kind `json:"column_types"`

	// Ingestion hints.
	HTMLSelector string `json:"html_selector"`
	CSVComma     string `json:"csv_comma"`
	CSVEncoding  string `json:"csv_encoding"`
}

func main() {
	var (
		inputPath         string
		configPath        string
		outputPath        string
		backendKind       string
		dsn               string
		relation          string
		historyDSN        string
		datasetName       string
		workers           int
		force             bool
		metricsBackendFlg string
	)

	flag.StringVar(&inputPath, "input", "", "input data path (.csv, .html)")
	flag.StringVar(&configPath, "analysis", "", "analysis config JSON path")
	flag.StringVar(&outputPath, "output", "-", "result CSV path ('-' for stdout)")
	flag.StringVar(&backendKind, "backend", "memory", "evaluation backend (memory, sqlite, postgres, mssql)")
	flag.StringVar(&dsn, "dsn", "", "database DSN for query-pushdown backends")
	flag.StringVar(&relation, "relation", "observations", "relation name the snapshot is loaded into")
	flag.StringVar(&historyDSN, "history", "", "history SQLite path (empty disables caching)")
	flag.StringVar(&datasetName, "dataset", "", "dataset name in history (defaults to the input file name)")
	flag.IntVar(&workers, "workers", 1, "evaluation concurrency")
	flag.BoolVar(&force, "force", false, "evaluate even when a cached result exists")
	flag.StringVar(&metricsBackendFlg, "metrics-backend", "", "metrics backend to use (datadog, none)")
	verbose := flag.Bool("v", false, "enable verbose logs")

	flag.Parse()

	if inputPath == "" || configPath == "" {
		fatalf("usage: thresher -input data.csv -analysis config.json [flags]")
	}

	closeMetrics := initMetrics(metricsBackendFlg, *verbose)
	defer closeMetrics()

	cfg, err := loadConfig(configPath)
	if err != nil {
		fatalf("load analysis config: %v", err)
	}

	snap, err := loadSnapshot(inputPath, cfg)
	if err != nil {
		fatalf("ingest %s: %v", inputPath, err)
	}
	if *verbose {
		log.Printf("ingested rows=%d columns=%d", snap.NumRows(), snap.NumColumns())
	}

	ctx := context.Background()
	start := time.Now()

	status := "ok"
	if err := run(ctx, snap, cfg, runOptions{
		backendKind: backendKind,
		dsn:         dsn,
		relation:    relation,
		historyDSN:  historyDSN,
		datasetName: resolveDatasetName(datasetName, inputPath),
		outputPath:  outputPath,
		workers:     workers,
		force:       force,
		verbose:     *verbose,
	}); err != nil {
		status = "error"
		metrics.IncCounter("analysis.runs.total", 1, metrics.Labels{"status": status})
		metrics.ObserveHistogram("analysis.run.duration_seconds", time.Since(start).Seconds(), metrics.Labels{"status": status})
		closeMetrics()
		log.Fatalf("%v", err)
	}

	metrics.IncCounter("analysis.runs.total", 1, metrics.Labels{"status": status})
	metrics.ObserveHistogram("analysis.run.duration_seconds", time.Since(start).Seconds(), metrics.Labels{"status": status})

	if *verbose {
		log.Printf("completed in %s", time.Since(start).Truncate(time.Millisecond))
	}
}

type runOptions struct {
	backendKind string
	dsn         string
	relation    string
	historyDSN  string
	datasetName string
	outputPath  string
	workers     int
	force       bool
	verbose     bool
}

func run(ctx context.Context, snap *frame.Snapshot, cfg analysisConfig, opts runOptions) error {
	req := analysis.Request{
		SelectedColumns: cfg.SelectedColumns,
		Thresholds:      cfg.Thresholds,
		IDColumn:        cfg.IDColumn,
		ResultColumns:   cfg.ResultColumns,
		MinMatchingRows: cfg.MinMatchingRows,
		SampleLimit:     cfg.SampleLimit,
	}

	var store *history.Store
	var datasetID int64
	configHash := ""
	if opts.historyDSN != "" {
		var err error
		store, err = history.Open(ctx, opts.historyDSN)
		if err != nil {
			return fmt.Errorf("open history: %w", err)
		}
		defer store.Close()

		if datasetID, err = store.RegisterDataset(ctx, opts.datasetName, snap); err != nil {
			return err
		}
		if configHash, err = analysis.ConfigHash(req, snap.ColumnTypes()); err != nil {
			return err
		}

		if !opts.force {
			rec, hit, err := store.LookupCompleted(ctx, datasetID, configHash)
			if err != nil {
				return err
			}
			if hit && rec.Result != nil {
				if opts.verbose {
					log.Printf("cache hit: run=%d from %s", rec.ID, rec.CreatedAt.Format(time.RFC3339))
				}
				return writeRecords(opts.outputPath, rec.Result.Header, rec.Result.Records)
			}
		}
	}

	ev, err := openEvaluator(ctx, snap, cfg, opts)
	if err != nil {
		return err
	}
	defer ev.Close()

	runner := &analysis.Runner{
		Evaluator:      ev,
		Workers:        opts.workers,
		CombinationCap: cfg.CombinationCap,
	}
	if opts.verbose {
		runner.Logger = log.Default()
	}

	table, err := runner.Run(ctx, snap, req)
	if err != nil {
		if store != nil && configHash != "" {
			if herr := store.SaveFailed(ctx, datasetID, configHash, err); herr != nil {
				log.Printf("history: %v", herr)
			}
		}
		return err
	}

	if store != nil {
		if _, err := store.SaveCompleted(ctx, datasetID, table); err != nil {
			log.Printf("history: %v", err)
		}
	}

	if opts.verbose {
		log.Printf("result: %s", table.Summary())
	}
	return writeRecords(opts.outputPath, table.Header(), table.Records())
}

// openEvaluator builds the configured backend. Query-pushdown backends get
// the snapshot loaded into their relation before the run.
func openEvaluator(ctx context.Context, snap *frame.Snapshot, cfg analysisConfig, opts runOptions) (backend.Evaluator, error) {
	if opts.backendKind == "" || opts.backendKind == "memory" {
		return memory.New(snap), nil
	}

	ev, err := backend.New(ctx, backend.Config{
		Kind:     opts.backendKind,
		DSN:      opts.dsn,
		Relation: opts.relation,
	})
	if err != nil {
		return nil, err
	}

	loader, ok := ev.(backend.RelationLoader)
	if !ok {
		ev.Close()
		return nil, fmt.Errorf("backend %s cannot load relations", opts.backendKind)
	}
	if err := loader.LoadSnapshot(ctx, snap, cfg.IDColumn); err != nil {
		ev.Close()
		return nil, err
	}
	return ev, nil
}

func loadConfig(path string) (analysisConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return analysisConfig{}, err
	}
	defer f.Close()

	var cfg analysisConfig
	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return analysisConfig{}, err
	}
	return cfg, nil
}

func loadSnapshot(path string, cfg analysisConfig) (*frame.Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".html", ".htm":
		return ingest.ReadHTMLTable(f, ingest.HTMLOptions{
			Selector: cfg.HTMLSelector,
			Types:    cfg.ColumnTypes,
		})
	default:
		var comma rune
		if cfg.CSVComma != "" {
			comma = []rune(cfg.CSVComma)[0]
		}
		return ingest.ReadCSV(f, ingest.CSVOptions{
			Comma:    comma,
			Encoding: cfg.CSVEncoding,
			Types:    cfg.ColumnTypes,
		})
	}
}

func resolveDatasetName(name, inputPath string) string {
	if name != "" {
		return name
	}
	return filepath.Base(inputPath)
}

func writeRecords(path string, header []string, records [][]string) error {
	out := os.Stdout
	if path != "" && path != "-" {
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}

	w := csv.NewWriter(out)
	if err := w.Write(header); err != nil {
		return err
	}
	for _, rec := range records {
		if err := w.Write(rec); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

// initMetrics wires the metrics backend: flag → env → disabled. The returned
// closer performs the final flush; fatal paths call it before exiting.
func initMetrics(backendName string, verbose bool) func() {
	noop := func() {}
	if backendName == "" {
		backendName = os.Getenv("METRICS_BACKEND")
	}
	switch backendName {
	case "datadog":
		b, err := datadog.NewBackend(context.Background(), datadog.Options{
			JobName: "thresher",
			Tags:    datadog.ParseTagsCSV(os.Getenv("METRICS_TAGS")),
		})
		if err != nil {
			log.Printf("metrics: failed to init datadog backend: %v; metrics disabled", err)
			return noop
		}
		metrics.SetBackend(b)
		return func() {
			if err := b.Close(); err != nil {
				log.Printf("metrics: close: %v", err)
			}
		}

	case "", "none":
		if verbose {
			log.Printf("metrics: disabled (backend=%q)", backendName)
		}

	default:
		log.Printf("metrics: unknown backend %q; metrics disabled", backendName)
	}
	return noop
}
