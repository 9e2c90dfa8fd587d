package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/razeghi71/dqflow/engine"
	"github.com/razeghi71/dqflow/loader"
	"github.com/razeghi71/dqflow/parser"
	"github.com/razeghi71/dqflow/table"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newApp().Run(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:      "dqflow",
		Usage:     "run a JSON workflow of filter and aggregation steps over a table",
		ArgsUsage: "input [output]",
		Description: "Reads input (.tsv, .csv, .json, .jsonl, .avro, .parquet), applies the workflow " +
			"and writes the result to output (.tsv, .csv, .json, .jsonl, .avro). " +
			"Output \"-\" writes TSV to stdout; without output the result is printed as a table.",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "workflow",
				Aliases:  []string{"w"},
				Usage:    "workflow JSON file",
				Required: true,
			},
			&cli.IntFlag{
				Name:    "workers",
				Value:   1,
				Usage:   "groups aggregated in parallel",
				Sources: cli.EnvVars("DQFLOW_WORKERS"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Value:   "warn",
				Usage:   "panic, fatal, error, warn, info, debug or trace",
				Sources: cli.EnvVars("DQFLOW_LOG_LEVEL"),
			},
			&cli.StringFlag{
				Name:    "log-format",
				Value:   "text",
				Usage:   "text or json",
				Sources: cli.EnvVars("DQFLOW_LOG_FORMAT"),
			},
			&cli.BoolFlag{
				Name:  "check",
				Usage: "only parse and validate the workflow",
			},
		},
		Action: run,
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	log, err := newLogger(cmd.ErrWriter, cmd.String("log-level"), cmd.String("log-format"))
	if err != nil {
		return err
	}

	wf, err := parser.ParseFile(cmd.String("workflow"))
	if err != nil {
		return fmt.Errorf("workflow %s: %w", cmd.String("workflow"), err)
	}
	if cmd.Bool("check") {
		fmt.Fprintf(cmd.Writer, "%s: ok (%d steps)\n", cmd.String("workflow"), len(wf.Steps))
		return nil
	}

	if cmd.NArg() < 1 || cmd.NArg() > 2 {
		return fmt.Errorf("usage: %s -w workflow.json %s", cmd.Name, cmd.ArgsUsage)
	}
	inPath, outPath := cmd.Args().Get(0), cmd.Args().Get(1)

	input, err := loader.Load(inPath)
	if err != nil {
		return fmt.Errorf("load: %w", err)
	}
	log.WithFields(logrus.Fields{"file": inPath, "rows": len(input.Rows), "columns": len(input.Columns)}).Debug("input loaded")

	eng := engine.New(engine.Options{Workers: int(cmd.Int("workers")), Logger: log})
	result, err := eng.Execute(ctx, wf, input)
	if err != nil {
		return err
	}

	switch outPath {
	case "":
		printTable(cmd.Writer, result)
		return nil
	case "-":
		return loader.Write(cmd.Writer, result)
	}
	if err := loader.Save(outPath, result); err != nil {
		return fmt.Errorf("save: %w", err)
	}
	log.WithFields(logrus.Fields{"file": outPath, "rows": len(result.Rows)}).Info("output written")
	return nil
}

func newLogger(w io.Writer, level, format string) (*logrus.Logger, error) {
	log := logrus.New()
	if w != nil {
		log.SetOutput(w)
	}

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	log.SetLevel(lvl)

	switch format {
	case "text":
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{})
	default:
		return nil, fmt.Errorf("unknown log format %q (want text or json)", format)
	}
	return log, nil
}

func printTable(w io.Writer, t *table.Table) {
	if len(t.Columns) == 0 {
		return
	}

	// Calculate column widths
	widths := make([]int, len(t.Columns))
	for i, col := range t.Columns {
		widths[i] = len(col)
	}

	cells := make([][]string, len(t.Rows))
	for i, row := range t.Rows {
		cells[i] = make([]string, len(t.Columns))
		for j := range t.Columns {
			cells[i][j] = row.Values[j].AsString()
			if len(cells[i][j]) > widths[j] {
				widths[j] = len(cells[i][j])
			}
		}
	}

	headerParts := make([]string, len(t.Columns))
	for i, col := range t.Columns {
		headerParts[i] = padRight(col, widths[i])
	}
	fmt.Fprintln(w, strings.Join(headerParts, " | "))

	sepParts := make([]string, len(t.Columns))
	for i := range t.Columns {
		sepParts[i] = strings.Repeat("-", widths[i])
	}
	fmt.Fprintln(w, strings.Join(sepParts, "-+-"))

	for _, row := range cells {
		parts := make([]string, len(t.Columns))
		for i := range t.Columns {
			parts[i] = padRight(row[i], widths[i])
		}
		fmt.Fprintln(w, strings.Join(parts, " | "))
	}
}

func padRight(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return s + strings.Repeat(" ", width-len(s))
}
