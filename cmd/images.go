package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/anitier/anitier/internal/utils"
	"github.com/anitier/anitier/pkg/board"
	"github.com/spf13/cobra"
)

// imagesCmd represents the images command
var imagesCmd = &cobra.Command{
	Use:   "images",
	Short: "Inspect and maintain locally stored cover images",
}

var imagesStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Prints how many images are stored and how many are still referenced.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBoard(cmd.Context(), false, func(b *board.Board) error {
			st := b.ImageStats()
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.AlignRight)
			fmt.Fprintln(w, "TOTAL\tUSED\tUNUSED\tBYTES\t")
			fmt.Fprintf(w, "%d\t%d\t%d\t%d\t\n", st.Total, st.Used, st.Unused, st.TotalSizeBytes)
			return w.Flush()
		})
	},
}

var imagesCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete images no entry refers to",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		reconcile, _ := cmd.Flags().GetBool("reconcile")
		return withBoard(cmd.Context(), true, func(b *board.Board) error {
			if reconcile {
				fixed, err := b.Reconcile(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Printf("Repaired %d refcounts\n", fixed)
			}
			n, err := b.Cleanup(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("Removed %d unused images\n", n)
			return nil
		})
	},
}

var imagesGetCmd = &cobra.Command{
	Use:   "get <hash>",
	Short: "Write a stored image to a file or stdout",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		outPath, _ := cmd.Flags().GetString("output")
		return withBoard(cmd.Context(), false, func(b *board.Board) error {
			payload, ok := b.Image(args[0])
			if !ok {
				return fmt.Errorf("image not found: %s", args[0])
			}
			if outPath == "" {
				_, err := os.Stdout.Write(payload)
				return err
			}
			path, err := utils.ExpandPath(outPath)
			if err != nil {
				return err
			}
			if err := os.WriteFile(path, payload, 0o644); err != nil {
				return err
			}
			utils.Log.WithField("bytes", len(payload)).Infof("Wrote %s", path)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(imagesCmd)
	imagesCmd.AddCommand(imagesStatsCmd)
	imagesCmd.AddCommand(imagesCleanupCmd)
	imagesCmd.AddCommand(imagesGetCmd)

	imagesCleanupCmd.Flags().Bool("reconcile", false, "Recount references from the tiers before sweeping")
	imagesGetCmd.Flags().StringP("output", "o", "", "Output file (default: stdout)")
}
