// Command medallion runs bronze, silver, and gold pipelines described by a
// YAML or JSON file, and inspects the tables they produce.
//
// Usage:
//
//	medallion -c configs/pipelines/sales.yaml validate
//	medallion -c configs/pipelines/sales.yaml run [--layer silver]
//	medallion -c configs/pipelines/sales.yaml tables gold
//	medallion -c configs/pipelines/sales.yaml show gold dim_product
//	medallion -c configs/pipelines/sales.yaml serve --addr :8080
package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"medallion/internal/config"
	"medallion/internal/logger"
	"medallion/internal/pipeline"
	"medallion/internal/server"
	"medallion/internal/storage"
	"medallion/internal/table"

	"github.com/urfave/cli/v2"

	// Register every storage backend; the pipeline file picks one per layer.
	_ "medallion/internal/storage/all"
)

var version = "dev"

func main() {
	if err := newApp(os.Stdout, os.Stderr).Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		code := 1
		var ec cli.ExitCoder
		if errors.As(err, &ec) {
			code = ec.ExitCode()
		}
		os.Exit(code)
	}
}

func newApp(stdout, stderr io.Writer) *cli.App {
	return &cli.App{
		Name:      "medallion",
		Usage:     "bronze → silver → gold batch pipelines",
		Version:   version,
		Writer:    stdout,
		ErrWriter: stderr,
		// main maps errors to exit codes; the default handler would exit
		// from inside Run.
		ExitErrHandler: func(*cli.Context, error) {},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "configs/pipelines/sales.yaml",
				Usage:   "pipeline file (.yaml, .yml or .json)",
				EnvVars: []string{"MEDALLION_CONFIG"},
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "enable debug logs",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "validate",
				Usage:  "lint the pipeline file and exit",
				Action: validateCmd,
			},
			{
				Name:   "run",
				Usage:  "run the pipeline",
				Action: runCmd,
				Flags: []cli.Flag{
					&cli.StringSliceFlag{
						Name:  "layer",
						Usage: "run only these layers (bronze, silver, gold); repeatable",
					},
					&cli.BoolFlag{
						Name:  "no-progress",
						Usage: "disable the progress bar",
					},
				},
			},
			{
				Name:      "tables",
				Usage:     "list the tables stored in a layer",
				ArgsUsage: "<layer>",
				Action:    tablesCmd,
			},
			{
				Name:      "show",
				Usage:     "print a stored table",
				ArgsUsage: "<layer> <table>",
				Action:    showCmd,
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "limit", Value: 20, Usage: "rows to print; 0 prints all"},
					&cli.StringFlag{Name: "format", Value: "csv", Usage: "csv or json"},
				},
			},
			{
				Name:   "serve",
				Usage:  "serve the layer tables over a read-only HTTP API",
				Action: serveCmd,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "addr", Value: ":8080", Usage: "listen address"},
				},
			},
		},
	}
}

func newLogger(c *cli.Context) *slog.Logger {
	level := slog.LevelInfo
	if c.Bool("verbose") {
		level = slog.LevelDebug
	}
	return logger.NewWriter(c.App.ErrWriter, level)
}

// loadPipeline loads and lints the pipeline file. Warnings are printed;
// errors make it fail.
func loadPipeline(c *cli.Context) (config.Pipeline, error) {
	path := c.String("config")
	p, err := config.Load(path)
	if err != nil {
		return config.Pipeline{}, err
	}
	issues := config.ValidatePipeline(p)
	for _, iss := range issues {
		fmt.Fprintln(c.App.ErrWriter, iss.Error())
	}
	if config.HasErrors(issues) {
		return config.Pipeline{}, cli.Exit(fmt.Sprintf("configuration is invalid: %s", path), 1)
	}
	return p, nil
}

func validateCmd(c *cli.Context) error {
	if _, err := loadPipeline(c); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "configuration is valid: %s\n", c.String("config"))
	return nil
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func runCmd(c *cli.Context) error {
	p, err := loadPipeline(c)
	if err != nil {
		return err
	}
	log := newLogger(c)
	layers := c.StringSlice("layer")
	for _, l := range layers {
		if !slices.Contains(pipeline.Layers(), l) {
			return cli.Exit(fmt.Sprintf("unknown layer %q", l), 2)
		}
	}

	flush, err := pipeline.SetupMetrics(p.Metrics, p.Job)
	if err != nil {
		return err
	}
	defer func() {
		if err := flush(); err != nil {
			log.Warn("metrics flush failed", "err", err)
		}
	}()

	ctx, cancel := signalContext(c.Context)
	defer cancel()

	opts := []pipeline.Option{pipeline.WithLogger(log)}
	var bar *progress
	if !c.Bool("no-progress") {
		bar = newProgress(c.App.ErrWriter)
		opts = append(opts, pipeline.WithProgress(bar.Step))
	}
	r, err := pipeline.New(ctx, p, opts...)
	if err != nil {
		return err
	}
	defer r.Close()

	sum, err := r.Run(ctx, layers...)
	if bar != nil {
		bar.Finish()
	}
	printSummary(c.App.Writer, sum)
	if err != nil {
		return err
	}
	if n := len(sum.Failed()); n > 0 {
		return cli.Exit(fmt.Sprintf("%d of %d steps failed", n, len(sum.Steps)), 3)
	}
	return nil
}

func printSummary(w io.Writer, sum pipeline.Summary) {
	fmt.Fprintf(w, "run %s (%s) finished in %s\n", sum.RunID, sum.Job, sum.Duration.Round(time.Millisecond))
	for _, st := range sum.Steps {
		status := "ok"
		if st.Err != nil {
			status = "FAILED: " + st.Err.Error()
		}
		fmt.Fprintf(w, "  %-6s %-32s %8d rows  %s\n", st.Layer, st.Step, st.Rows, status)
	}
}

// openLayer opens the configured sink of one layer.
func openLayer(c *cli.Context, p config.Pipeline, layer string) (storage.Sink, error) {
	sc, ok := p.Storage.Layer(layer)
	if !ok {
		return nil, cli.Exit(fmt.Sprintf("unknown layer %q", layer), 2)
	}
	return storage.New(c.Context, sc)
}

func tablesCmd(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("usage: medallion tables <layer>", 2)
	}
	p, err := loadPipeline(c)
	if err != nil {
		return err
	}
	sink, err := openLayer(c, p, c.Args().First())
	if err != nil {
		return err
	}
	defer sink.Close()

	names, err := sink.List(c.Context)
	if err != nil {
		return err
	}
	for _, n := range names {
		fmt.Fprintln(c.App.Writer, n)
	}
	return nil
}

func showCmd(c *cli.Context) error {
	if c.NArg() != 2 {
		return cli.Exit("usage: medallion show <layer> <table>", 2)
	}
	p, err := loadPipeline(c)
	if err != nil {
		return err
	}
	sink, err := openLayer(c, p, c.Args().Get(0))
	if err != nil {
		return err
	}
	defer sink.Close()

	t, err := sink.Read(c.Context, c.Args().Get(1))
	if err != nil {
		return err
	}
	if limit := c.Int("limit"); limit > 0 && t.RowCount() > limit {
		idx := make([]int, limit)
		for i := range idx {
			idx[i] = i
		}
		t = t.Take(idx)
	}
	return writeTable(c.App.Writer, t, c.String("format"))
}

func writeTable(w io.Writer, t *table.Table, format string) error {
	switch format {
	case "csv":
		cw := csv.NewWriter(w)
		if err := cw.Write(t.ColumnNames()); err != nil {
			return err
		}
		rec := make([]string, t.NumColumns())
		for i := 0; i < t.RowCount(); i++ {
			for j := range rec {
				rec[j] = table.FormatValue(t.Value(i, j))
			}
			if err := cw.Write(rec); err != nil {
				return err
			}
		}
		cw.Flush()
		return cw.Error()
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(t.Records())
	}
	return cli.Exit(fmt.Sprintf("unsupported format %q", format), 2)
}

func serveCmd(c *cli.Context) error {
	p, err := loadPipeline(c)
	if err != nil {
		return err
	}
	log := newLogger(c)

	sinks := map[string]storage.Sink{}
	defer func() {
		for _, s := range sinks {
			_ = s.Close()
		}
	}()
	for _, layer := range pipeline.Layers() {
		s, err := openLayer(c, p, layer)
		if err != nil {
			return fmt.Errorf("open %s storage: %w", layer, err)
		}
		sinks[layer] = s
	}

	ctx, cancel := signalContext(c.Context)
	defer cancel()
	return server.New(server.Config{Addr: c.String("addr")}, sinks, pipeline.Layers(), log).ListenAndServe(ctx)
}
