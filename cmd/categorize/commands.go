package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/categorizer/internal/core"
	"github.com/JonMunkholm/categorizer/internal/ingest"
	"github.com/JonMunkholm/categorizer/internal/record"
	"github.com/JonMunkholm/categorizer/internal/schema"
	"github.com/JonMunkholm/categorizer/internal/taxonomy"
)

func (a *app) recognizeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "recognize <file>",
		Short: "Infer the schema of a record file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, closeStore, err := a.service(cmd.Context())
			if err != nil {
				return err
			}
			defer closeStore()

			_, sch, err := a.recognize(cmd, svc, args[0])
			if err != nil {
				return err
			}
			return a.print(sch)
		},
	}
}

func (a *app) generateCmd() *cobra.Command {
	var categories string

	cmd := &cobra.Command{
		Use:   "generate <file>",
		Short: "Generate and store a classification template for a record file",
		Long: `generate recognizes the file's schema and builds a template for it.
The template is stored, replacing any previous template for the same source.

--categories names a CSV, XLSX or JSON file of existing categories with one
row per category: category_level1, category_level2, category_level3 (or
一级分类, 二级分类, 三级分类). New top-level categories are added to the
industry's hierarchy.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var existing []taxonomy.Node
			if categories != "" {
				rows, err := ingest.ReadFile(categories)
				if err != nil {
					return fmt.Errorf("read %s: %w", categories, err)
				}
				paths := taxonomy.CategoryPaths(rows)
				if len(paths) == 0 {
					return fmt.Errorf("%s: no category rows found", categories)
				}
				existing = taxonomy.TreeFromPaths(paths)
			}

			svc, closeStore, err := a.service(cmd.Context())
			if err != nil {
				return err
			}
			defer closeStore()

			sample, sch, err := a.recognize(cmd, svc, args[0])
			if err != nil {
				return err
			}
			tpl, err := svc.GenerateTemplate(cmd.Context(), sch, existing, sample)
			if err != nil {
				return fmt.Errorf("generate template: %w", err)
			}
			return a.print(tpl)
		},
	}
	cmd.Flags().StringVar(&categories, "categories", "", "File of existing category rows to merge into the hierarchy")
	return cmd
}

func (a *app) templatesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "templates",
		Short: "Inspect stored templates",
	}

	var industry string
	list := &cobra.Command{
		Use:   "list",
		Short: "List stored templates, most recently updated first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, closeStore, err := a.service(cmd.Context())
			if err != nil {
				return err
			}
			defer closeStore()

			tpls, err := svc.ListTemplates(cmd.Context(), industry)
			if err != nil {
				return fmt.Errorf("list templates: %w", err)
			}
			summaries := make([]templateSummary, len(tpls))
			for i, tpl := range tpls {
				summaries[i] = summarize(tpl)
			}
			return a.print(summaries)
		},
	}
	list.Flags().StringVar(&industry, "industry", "", "Only list templates of this industry")

	var limit int
	history := &cobra.Command{
		Use:   "history <template-id>",
		Short: "Show the recorded performance of a template, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, closeStore, err := a.service(cmd.Context())
			if err != nil {
				return err
			}
			defer closeStore()

			entries, err := svc.Performance(cmd.Context(), args[0], limit)
			if err != nil {
				return fmt.Errorf("template history: %s", core.FormatUserError(err))
			}
			if entries == nil {
				entries = []taxonomy.Performance{}
			}
			return a.print(entries)
		},
	}
	history.Flags().IntVar(&limit, "limit", 0, "Maximum entries (default: all)")

	cmd.AddCommand(list, history)
	return cmd
}

// templateSummary is the listing view of a template.
type templateSummary struct {
	ID        string    `json:"id"`
	Industry  string    `json:"industry"`
	Revision  int       `json:"revision"`
	Rules     int       `json:"rules"`
	Threshold float64   `json:"confidence_threshold"`
	UpdatedAt time.Time `json:"updated_at"`
}

func summarize(tpl *taxonomy.Template) templateSummary {
	return templateSummary{
		ID:        tpl.ID,
		Industry:  tpl.Industry,
		Revision:  tpl.Revision,
		Rules:     len(tpl.Rules),
		Threshold: tpl.Threshold,
		UpdatedAt: tpl.UpdatedAt,
	}
}

func (a *app) classifyCmd() *cobra.Command {
	var summary bool

	cmd := &cobra.Command{
		Use:   "classify <file>",
		Short: "Classify every record of a file",
		Long: `classify recognizes the file's schema, loads or generates its template and
classifies all records. Records that cannot be classified are reported as
failed in the output; the command itself only fails when the batch cannot run.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, closeStore, err := a.service(cmd.Context())
			if err != nil {
				return err
			}
			defer closeStore()

			recs, err := ingest.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read %s: %w", args[0], err)
			}
			res, err := svc.ClassifyBatch(cmd.Context(), recs, core.BatchOptions{
				Metadata:  a.opts.metadata,
				BatchSize: a.opts.batchSize,
				Workers:   a.opts.workers,
			})
			if err != nil {
				return fmt.Errorf("classify: %s", core.FormatUserError(err))
			}
			if summary {
				res.Results = nil
			}
			return a.print(res)
		},
	}

	f := cmd.Flags()
	f.IntVar(&a.opts.workers, "workers", 0, "Concurrent chunks (default: number of CPUs)")
	f.IntVar(&a.opts.batchSize, "batch-size", core.DefaultBatchSize, "Records per chunk")
	f.BoolVar(&summary, "summary", false, "Print counters and histograms without per-record results")
	return cmd
}

// recognize reads path and infers its schema from the leading records.
func (a *app) recognize(cmd *cobra.Command, svc *core.Service, path string) ([]record.Record, *schema.Schema, error) {
	recs, err := ingest.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read %s: %w", path, err)
	}
	sample := a.sample(recs)
	sch, err := svc.Recognize(cmd.Context(), sample, a.opts.metadata)
	if err != nil {
		return nil, nil, fmt.Errorf("recognize: %w", err)
	}
	return sample, sch, nil
}
