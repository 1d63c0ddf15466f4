package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/anitier/anitier/pkg/board"
	"github.com/anitier/anitier/pkg/comments"
	"github.com/spf13/cobra"
)

// commentCmd represents the comment command
var commentCmd = &cobra.Command{
	Use:   "comment",
	Short: "Manage short reviews attached to ranked titles",
}

var commentAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a comment to a title",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		title, _ := cmd.Flags().GetString("title")
		cover, _ := cmd.Flags().GetString("cover")
		text, _ := cmd.Flags().GetString("text")
		style, _ := cmd.Flags().GetString("style")
		return withBoard(cmd.Context(), true, func(b *board.Board) error {
			c, err := b.AddComment(cmd.Context(), title, cover, text, style)
			if err != nil {
				return err
			}
			fmt.Printf("Added comment %s (style %s)\n", c.ID, c.Style)
			return nil
		})
	},
}

var commentListCmd = &cobra.Command{
	Use:   "list",
	Short: "List comments, optionally for one title",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		title, _ := cmd.Flags().GetString("title")
		return withBoard(cmd.Context(), false, func(b *board.Board) error {
			items := b.Comments().List()
			if title != "" {
				items = b.CommentsFor(title)
			}
			if len(items) == 0 {
				fmt.Println("No comments yet.")
				return nil
			}
			printComments(items)
			return nil
		})
	},
}

func printComments(items []comments.Comment) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCREATED\tSTYLE\tTITLE\tTEXT\t")
	for _, c := range items {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t\n", c.ID, c.CreatedAt.Format("2006-01-02 15:04:05"), c.Style, c.Title, c.Text)
	}
	w.Flush()
}

var commentEditCmd = &cobra.Command{
	Use:   "edit <id>",
	Short: "Change the text or style of a comment",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		text, _ := cmd.Flags().GetString("text")
		style, _ := cmd.Flags().GetString("style")
		return withBoard(cmd.Context(), true, func(b *board.Board) error {
			ok, err := b.EditComment(cmd.Context(), args[0], text, style)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("comment not found: %s", args[0])
			}
			fmt.Printf("Updated comment %s\n", args[0])
			return nil
		})
	},
}

var commentRmCmd = &cobra.Command{
	Use:     "rm <id>",
	Aliases: []string{"delete"},
	Short:   "Delete a comment",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBoard(cmd.Context(), true, func(b *board.Board) error {
			ok, err := b.DeleteComment(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("comment not found: %s", args[0])
			}
			fmt.Printf("Deleted comment %s\n", args[0])
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(commentCmd)
	commentCmd.AddCommand(commentAddCmd)
	commentCmd.AddCommand(commentListCmd)
	commentCmd.AddCommand(commentEditCmd)
	commentCmd.AddCommand(commentRmCmd)

	commentAddCmd.Flags().String("title", "", "Title the comment is about")
	commentAddCmd.Flags().String("cover", "", "Cover URL shown on the comment card")
	commentAddCmd.Flags().String("text", "", "Comment text")
	commentAddCmd.Flags().String("style", comments.StyleRandom, "Card style: 1-4 or random")
	commentAddCmd.MarkFlagRequired("title")

	commentListCmd.Flags().String("title", "", "Only list comments for this title")

	commentEditCmd.Flags().String("text", "", "New comment text")
	commentEditCmd.Flags().String("style", comments.StyleRandom, "Card style: 1-4 or random")
}
