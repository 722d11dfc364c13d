package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/54b3r/triage-go/internal/audit"
	"github.com/54b3r/triage-go/internal/feedback"
	"github.com/54b3r/triage-go/internal/logging"
	"github.com/54b3r/triage-go/internal/orchestrator"
)

// NewClusterCmd constructs the `triage cluster` command group.
func NewClusterCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cluster",
		Short: "Run clustering passes and inspect clusters",
	}
	cmd.AddCommand(
		newClusterRunCmd(),
		newClusterListCmd(),
		newClusterGetCmd(),
		newClusterStatusCmd(),
		newClusterResetCmd(),
		newClusterVerifyCmd(),
		newClusterSearchCmd(),
	)
	return cmd
}

func newClusterRunCmd() *cobra.Command {
	var (
		threshold float64
		batchSize int
		itemIDs   []string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one clustering pass over the unclustered backlog",
		Long: `Assign every unclustered item to an existing cluster, a new cluster or a
singleton, then regenerate the title and summary of every touched cluster.

The pass prints a JSON summary. Per-item failures are counted and leave the
item queued for the next pass; only a failed final commit exits non-zero.

Examples:
  triage cluster run
  triage cluster run --threshold 0.85
  triage cluster run --items a1b2,c3d4`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			log := logging.FromContext(ctx)

			st, err := openStack(ctx, log, stackOptions{summarize: true, batchSize: batchSize})
			if err != nil {
				return fmt.Errorf("cluster run: %w", err)
			}
			defer st.close()

			if !cmd.Flags().Changed("threshold") {
				threshold = st.rt.Threshold
			}
			if err := feedback.ValidateThreshold(threshold); err != nil {
				return fmt.Errorf("cluster run: %w", err)
			}

			log.Info("clustering pass starting",
				slog.Float64("threshold", threshold),
				slog.Int("batch_size", st.rt.BatchSize),
				slog.Int("explicit_items", len(itemIDs)),
			)

			var sum orchestrator.Summary
			if len(itemIDs) > 0 {
				sum, err = st.orch.ProcessItems(ctx, itemIDs, threshold)
			} else {
				sum, err = st.orch.RunClusteringPass(ctx, threshold)
			}
			if err != nil {
				return fmt.Errorf("cluster run: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), sum)
		},
	}

	cmd.Flags().Float64VarP(&threshold, "threshold", "t", 0, "Similarity threshold in (0, 1) (default: CLUSTER_THRESHOLD or 0.80)")
	cmd.Flags().IntVarP(&batchSize, "batch-size", "b", 0, "Items per batch (default: CLUSTER_BATCH_SIZE or 50)")
	cmd.Flags().StringSliceVar(&itemIDs, "items", nil, "Process only these item IDs instead of the whole backlog")
	return cmd
}

func newClusterListCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List clusters, most recently updated first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			st, err := openStack(ctx, logging.FromContext(ctx), stackOptions{})
			if err != nil {
				return fmt.Errorf("cluster list: %w", err)
			}
			defer st.close()

			clusters, err := st.orch.ListClusters(ctx)
			if err != nil {
				return fmt.Errorf("cluster list: %w", err)
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), clusters)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSTATUS\tUPDATED\tTITLE")
			for _, c := range clusters {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", c.ID, c.Status, c.UpdatedAt.Format("2006-01-02 15:04"), c.Title)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of a table")
	return cmd
}

func newClusterGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <cluster-id>",
		Short: "Show one cluster with its members",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, err := openStack(ctx, logging.FromContext(ctx), stackOptions{})
			if err != nil {
				return fmt.Errorf("cluster get: %w", err)
			}
			defer st.close()

			d, err := st.orch.GetCluster(ctx, args[0])
			if err != nil {
				return fmt.Errorf("cluster get: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"id":        d.ID,
				"title":     d.Title,
				"summary":   d.Summary,
				"status":    d.Status,
				"createdAt": d.CreatedAt,
				"updatedAt": d.UpdatedAt,
				"members":   d.Members,
				"extra":     d.Extra,
			})
		},
	}
}

func newClusterStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <cluster-id> <new|fixing|resolved|failed>",
		Short: "Set a cluster's workflow status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			status, err := feedback.ParseStatus(strings.ToLower(args[1]))
			if err != nil {
				return fmt.Errorf("cluster status: %w", err)
			}
			st, err := openStack(ctx, logging.FromContext(ctx), stackOptions{})
			if err != nil {
				return fmt.Errorf("cluster status: %w", err)
			}
			defer st.close()

			if err := st.orch.SetClusterStatus(ctx, args[0], status); err != nil {
				return fmt.Errorf("cluster status: %w", err)
			}
			audit.LogMutation(ctx, logging.FromContext(ctx), audit.Mutation{
				Action: "status", ClusterID: args[0], Detail: string(status), Origin: "cli",
			})
			fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s\n", args[0], status)
			return nil
		},
	}
}

func newClusterResetCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete every cluster and return all items to the backlog",
		Long: `Delete every cluster record, return every member to the unclustered set and
delete their vectors, so the next pass rebuilds clusters from scratch.
Item bodies are kept.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return fmt.Errorf("cluster reset: refusing to run without --yes")
			}
			ctx := cmd.Context()
			st, err := openStack(ctx, logging.FromContext(ctx), stackOptions{})
			if err != nil {
				return fmt.Errorf("cluster reset: %w", err)
			}
			defer st.close()

			res, err := st.orch.Reset(ctx)
			if err != nil {
				return fmt.Errorf("cluster reset: %w", err)
			}
			audit.LogMutation(ctx, logging.FromContext(ctx), audit.Mutation{
				Action: "reset", Detail: fmt.Sprintf("%d clusters, %d items", res.Clusters, res.Items), Origin: "cli",
			})
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm the reset")
	return cmd
}

func newClusterVerifyCmd() *cobra.Command {
	var repair bool

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check that cluster memberships match the vector index",
		Long: `Compare every cluster's member set in the metadata store with the cluster
IDs carried by the vector index and print the disagreements as JSON.

With --repair, vectors carrying the wrong cluster are re-tagged, lost vectors
are re-embedded and items only the index knows about are queued again.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			st, err := openStack(ctx, logging.FromContext(ctx), stackOptions{})
			if err != nil {
				return fmt.Errorf("cluster verify: %w", err)
			}
			defer st.close()

			rep, err := st.orch.Verify(ctx, repair)
			if err != nil {
				return fmt.Errorf("cluster verify: %w", err)
			}
			if repair && len(rep.Drift) > 0 {
				audit.LogMutation(ctx, logging.FromContext(ctx), audit.Mutation{
					Action: "repair", Detail: fmt.Sprintf("%d drift entries", len(rep.Drift)), Origin: "cli",
				})
			}
			return printJSON(cmd.OutOrStdout(), rep)
		},
	}
	cmd.Flags().BoolVar(&repair, "repair", false, "Fix the drift that was found")
	return cmd
}

func newClusterSearchCmd() *cobra.Command {
	var top int

	cmd := &cobra.Command{
		Use:   "search <cluster-id> <text>",
		Short: "Rank a cluster's members by similarity to a text",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, err := openStack(ctx, logging.FromContext(ctx), stackOptions{})
			if err != nil {
				return fmt.Errorf("cluster search: %w", err)
			}
			defer st.close()

			matches, err := st.orch.SearchCluster(ctx, args[0], args[1], top)
			if err != nil {
				return fmt.Errorf("cluster search: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), matches)
		},
	}
	cmd.Flags().IntVar(&top, "top", 0, "Number of members to return (default: CLUSTER_TOP_K or 10)")
	return cmd
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
