package cmd

import (
	"fmt"
	"io"

	"github.com/CodeMonkeyCybersecurity/oidhunt/pkg/objectid"
	"github.com/spf13/cobra"
)

var candidatesCmd = &cobra.Command{
	Use:   "candidates [base-id]",
	Short: "List guessed identifiers in probe order without sending requests",
	Long: `List the identifiers a hunt would request, in the order it requests them.

Each line holds the identifier followed by the timestamp and counter
decrements that produced it. Nothing is sent over the network.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 1 {
			cfg.Search.BaseID = args[0]
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}

		base, err := objectid.Parse(cfg.Search.BaseID)
		if err != nil {
			return fmt.Errorf("invalid base identifier %q: %w", cfg.Search.BaseID, err)
		}

		limit, _ := cmd.Flags().GetInt("limit")
		ranges := objectid.Ranges{
			TimestampMax: cfg.Search.TimestampMax,
			CounterMax:   cfg.Search.CounterMax,
		}

		n, err := printCandidates(cmd.OutOrStdout(), base, ranges, limit)
		if err != nil {
			return err
		}
		log.Infow("Listed candidates", "base_id", base.String(), "count", n, "limit", limit)
		return nil
	},
}

// printCandidates writes up to limit candidates (all when limit <= 0) and
// returns how many were written.
func printCandidates(w io.Writer, base objectid.ID, ranges objectid.Ranges, limit int) (int, error) {
	n := 0
	for c := range objectid.Candidates(base, ranges) {
		if limit > 0 && n >= limit {
			break
		}
		id, err := objectid.Construct(c.ID.Timestamp, c.ID.RandomHex(), c.ID.Counter)
		if err != nil {
			return n, fmt.Errorf("failed to render candidate: %w", err)
		}
		fmt.Fprintf(w, "%s\t-%ds\t-%d\n", id, c.TimestampDelta, c.CounterDelta)
		n++
	}
	return n, nil
}

func init() {
	candidatesCmd.Flags().Int("limit", 0, "stop after this many candidates (0 lists all)")
	rootCmd.AddCommand(candidatesCmd)
}
