package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/JonMunkholm/categorizer/internal/core"
	"github.com/JonMunkholm/categorizer/internal/logging"
	"github.com/JonMunkholm/categorizer/internal/record"
	"github.com/JonMunkholm/categorizer/internal/store"
	"github.com/JonMunkholm/categorizer/internal/vocab"
)

// options are the flags shared by all subcommands.
type options struct {
	store      string
	vocabulary string
	metadata   map[string]string
	output     string
	logLevel   string
	workers    int
	batchSize  int
	sampleSize int
}

type app struct {
	opts   options
	stdout io.Writer
	stderr io.Writer
}

// newRootCmd builds the command tree writing results to stdout and logs to
// stderr.
func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	a := &app{stdout: stdout, stderr: stderr}

	root := &cobra.Command{
		Use:   "categorize",
		Short: "Schema-driven record categorization",
		Long: `categorize recognizes the schema of a record file (CSV, XLSX or JSON),
generates a classification template for it and classifies its records.

Examples:
  categorize recognize items.csv
  categorize generate items.xlsx --store sqlite:./categorizer.db
  categorize classify items.csv --metadata source_id=erp --workers 8
  categorize templates list --industry manufacturing --store sqlite:./categorizer.db
  categorize cache clear --server http://localhost:8080`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	f := root.PersistentFlags()
	f.StringVar(&a.opts.store, "store", "memory", "Store: memory, sqlite:<path> or a postgres:// URL")
	f.StringVar(&a.opts.vocabulary, "vocabulary", "", "Vocabulary YAML file (default: built-in)")
	f.StringToStringVar(&a.opts.metadata, "metadata", nil, "Source metadata as key=value pairs")
	f.StringVarP(&a.opts.output, "output", "o", "json", "Output format (json, yaml)")
	f.StringVar(&a.opts.logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	f.IntVar(&a.opts.sampleSize, "sample-size", core.DefaultSampleSize, "Records used for schema recognition")

	root.AddCommand(a.recognizeCmd(), a.generateCmd(), a.classifyCmd(), a.templatesCmd(), a.cacheCmd())
	return root
}

// service opens the store and builds the orchestrator. The returned
// function closes the store.
func (a *app) service(ctx context.Context) (*core.Service, func(), error) {
	switch a.opts.output {
	case "json", "yaml":
	default:
		return nil, nil, fmt.Errorf("unknown output format %q", a.opts.output)
	}
	if a.opts.sampleSize <= 0 {
		return nil, nil, fmt.Errorf("--sample-size must be positive")
	}

	v, err := loadVocabulary(a.opts.vocabulary)
	if err != nil {
		return nil, nil, fmt.Errorf("load vocabulary: %w", err)
	}

	driver, dsn := store.ParseURL(a.opts.store)
	st, err := store.Open(ctx, driver, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}

	logger := logging.New(a.stderr, a.opts.logLevel, "text")
	svc := core.NewService(st, v, core.Options{
		AutoGenerate: true,
		SampleSize:   a.opts.sampleSize,
		BatchSize:    a.opts.batchSize,
		Workers:      a.opts.workers,
	}, logger)

	closeStore := func() {
		if err := st.Close(); err != nil {
			logger.Warn("close store", "error", err)
		}
	}
	return svc, closeStore, nil
}

func loadVocabulary(path string) (*vocab.Vocabulary, error) {
	if path == "" {
		return vocab.Default()
	}
	return vocab.Load(path)
}

// sample returns the leading well-formed records, at most the sample size.
func (a *app) sample(recs []record.Record) []record.Record {
	var out []record.Record
	for _, r := range recs {
		if len(out) == a.opts.sampleSize {
			break
		}
		if !r.Malformed() {
			out = append(out, r)
		}
	}
	return out
}

// print writes v in the selected format. YAML output is produced from the
// JSON form so both formats share field names.
func (a *app) print(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}

	if a.opts.output == "yaml" {
		var generic any
		if err := json.Unmarshal(data, &generic); err != nil {
			return fmt.Errorf("encode output: %w", err)
		}
		enc := yaml.NewEncoder(a.stdout)
		enc.SetIndent(2)
		if err := enc.Encode(generic); err != nil {
			return fmt.Errorf("encode output: %w", err)
		}
		return enc.Close()
	}

	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	buf.WriteByte('\n')
	_, err = buf.WriteTo(a.stdout)
	return err
}
