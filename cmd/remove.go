package cmd

import (
	"fmt"

	"github.com/anitier/anitier/pkg/board"
	"github.com/anitier/anitier/pkg/tiers"
	"github.com/spf13/cobra"
)

// removeCmd represents the remove command
var removeCmd = &cobra.Command{
	Use:   "remove",
	Short: "Remove an entry, shifting later entries left",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		tier, _ := cmd.Flags().GetString("tier")
		index, _ := cmd.Flags().GetInt("index")
		return withBoard(cmd.Context(), true, func(b *board.Board) error {
			ok, err := b.Remove(cmd.Context(), tiers.Label(tier), index)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("nothing removed: %s[%d] is empty or unknown", tier, index)
			}
			fmt.Printf("Removed %s[%d]\n", tier, index)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(removeCmd)
	removeCmd.Flags().StringP("tier", "t", "", "Tier label")
	removeCmd.Flags().IntP("index", "i", 0, "Slot index inside the tier")
	removeCmd.MarkFlagRequired("tier")
}
