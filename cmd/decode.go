package cmd

import (
	"fmt"
	"io"

	"github.com/CodeMonkeyCybersecurity/oidhunt/pkg/objectid"
	"github.com/spf13/cobra"
)

var decodeCmd = &cobra.Command{
	Use:   "decode <id>",
	Short: "Show the timestamp, random segment and counter of an identifier",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := objectid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid identifier %q: %w", args[0], err)
		}

		log.Debugw("Decoded identifier", "id", id.String(), "timestamp", id.Timestamp, "counter", id.Counter)
		printDecoded(cmd.OutOrStdout(), id)
		return nil
	},
}

func printDecoded(w io.Writer, id objectid.ID) {
	fmt.Fprintf(w, "Identifier:  %s\n", id)
	fmt.Fprintf(w, "Timestamp:   %d (%s)\n", id.Timestamp, formatTime(id.Time()))
	fmt.Fprintf(w, "Random:      %s\n", id.RandomHex())
	fmt.Fprintf(w, "Counter:     %d (0x%06x)\n", id.Counter, id.Counter)
}

func init() {
	rootCmd.AddCommand(decodeCmd)
}
