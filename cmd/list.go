package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/anitier/anitier/pkg/board"
	"github.com/anitier/anitier/pkg/tiers"
	"github.com/spf13/cobra"
)

// listCmd represents the list command
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "Print the tier list",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		tier, _ := cmd.Flags().GetString("tier")
		asJSON, _ := cmd.Flags().GetBool("json")
		return withBoard(cmd.Context(), false, func(b *board.Board) error {
			labels := b.Tiers().Labels()
			if tier != "" {
				if !b.Tiers().Has(tiers.Label(tier)) {
					return fmt.Errorf("unknown tier: %s", tier)
				}
				labels = []tiers.Label{tiers.Label(tier)}
			}
			if asJSON {
				return printTiersJSON(os.Stdout, b.Tiers(), labels)
			}
			printTiers(os.Stdout, b.Tiers(), labels)
			return nil
		})
	},
}

func printTiers(out io.Writer, ts *tiers.Store, labels []tiers.Label) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIER\tSLOT\tTITLE\tIMAGE\tSOURCE\t")
	for _, l := range labels {
		for _, s := range ts.Entries(l) {
			image := s.Entry.ImageURL
			if s.Entry.ImageHash != "" {
				image = "local:" + shortHash(s.Entry.ImageHash)
			}
			fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\t\n", l, s.Index, s.Entry.Title, image, s.Entry.Source)
		}
	}
	w.Flush()
}

func printTiersJSON(out io.Writer, ts *tiers.Store, labels []tiers.Label) error {
	all := ts.Snapshot()
	picked := make(tiers.Data, len(labels))
	for _, l := range labels {
		picked[l] = all[l]
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(picked)
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

func init() {
	rootCmd.AddCommand(listCmd)
	listCmd.Flags().StringP("tier", "t", "", "Only print this tier")
	listCmd.Flags().Bool("json", false, "Print the stored layout, empty slots included")
}
