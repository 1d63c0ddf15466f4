package cmd

import (
	"fmt"

	"github.com/anitier/anitier/pkg/board"
	"github.com/anitier/anitier/pkg/tiers"
	"github.com/spf13/cobra"
)

// moveCmd represents the move command
var moveCmd = &cobra.Command{
	Use:   "move",
	Short: "Move an entry to another slot, in the same tier or another one",
	Long: `Move an entry the way a drag and drop does: the source slot is removed, then the
entry is inserted before whatever occupied the target slot. Moving forward within
one tier accounts for the removed slot.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		from, _ := cmd.Flags().GetString("from")
		fromIndex, _ := cmd.Flags().GetInt("from-index")
		to, _ := cmd.Flags().GetString("to")
		toIndex, _ := cmd.Flags().GetInt("to-index")
		if to == "" {
			to = from
		}
		return withBoard(cmd.Context(), true, func(b *board.Board) error {
			res, err := b.Move(cmd.Context(), tiers.Label(from), fromIndex, tiers.Label(to), toIndex)
			if err != nil {
				return err
			}
			if res.Recover {
				return fmt.Errorf("nothing moved: %s[%d] -> %s[%d] is not a valid move", from, fromIndex, to, toIndex)
			}
			kind := "within"
			if res.CrossTier {
				kind = "across"
			}
			fmt.Printf("Moved %s[%d] -> %s[%d] (%s tiers)\n", from, fromIndex, to, toIndex, kind)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(moveCmd)

	moveCmd.Flags().String("from", "", "Source tier label")
	moveCmd.Flags().Int("from-index", 0, "Source slot index")
	moveCmd.Flags().String("to", "", "Destination tier label (default: source tier)")
	moveCmd.Flags().Int("to-index", 0, "Destination slot index")
	moveCmd.MarkFlagRequired("from")
}
