package commands

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/54b3r/triage-go/internal/ingestion"
	"github.com/54b3r/triage-go/internal/logging"
)

// NewIngestCmd constructs the `triage ingest` command, which stores feedback
// items and queues them for the next clustering pass.
func NewIngestCmd() *cobra.Command {
	var (
		format string
		source string
		texts  []string
		embed  bool
	)

	cmd := &cobra.Command{
		Use:   "ingest [file | - | url]...",
		Short: "Store feedback items and queue them for clustering",
		Long: `Read feedback items and add them to the unclustered backlog.

Input is JSON Lines by default, one {"id","text","source","created_at"} object
per line; only "text" is required. With --format text every non-blank line is
one item. Inputs may be file paths, "-" for stdin, or http(s) URLs.

Items without an id get one derived from their source and text, so ingesting
the same file twice does not duplicate items. When --source is not given and a
record has no source, it is inferred from the text (bug report, support
ticket, survey or plain feedback).

With --embed each item is embedded at ingest time and stored in the vector
index without a cluster, so the next pass can absorb it into a new cluster.

Examples:
  triage ingest feedback.jsonl
  cat tickets.txt | triage ingest --format text --source support_ticket -
  triage ingest --text "Login page hangs after the last update"
  triage ingest --embed https://example.com/export.jsonl`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.FromContext(ctx)

			if len(args) == 0 && len(texts) == 0 {
				return fmt.Errorf("ingest: give at least one input or --text")
			}
			f, err := ingestion.ParseFormat(format)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}

			var records []ingestion.Record
			for _, t := range texts {
				records = append(records, ingestion.Record{Text: t, Source: source})
			}
			for _, loc := range args {
				rc, err := ingestion.Open(ctx, nil, loc)
				if err != nil {
					return fmt.Errorf("ingest: %w", err)
				}
				recs, err := ingestion.Read(rc, f, source)
				_ = rc.Close()
				if err != nil {
					return fmt.Errorf("ingest: %s: %w", loc, err)
				}
				log.Info("input read", slog.String("input", loc), slog.Int("records", len(recs)))
				records = append(records, recs...)
			}

			st, err := openStack(ctx, log, stackOptions{})
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			defer st.close()

			pipeline, err := ingestion.NewPipeline(st.items, st.meta, st.embedder, st.vectors, ingestion.Config{
				Keys:        st.keys(),
				CallTimeout: st.rt.CallTimeout,
				Embed:       embed,
			})
			if err != nil {
				return fmt.Errorf("ingest: failed to create pipeline: %w", err)
			}

			res, err := pipeline.Ingest(ctx, records, func(msg string) { log.Debug(msg) })
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "jsonl", "Input format: jsonl or text")
	cmd.Flags().StringVarP(&source, "source", "s", "", "Source for records without one (feedback, bug_report, support_ticket, survey)")
	cmd.Flags().StringArrayVar(&texts, "text", nil, "Ingest this text as one item (repeatable)")
	cmd.Flags().BoolVar(&embed, "embed", false, "Embed items now instead of during the next pass")

	return cmd
}
