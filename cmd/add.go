package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/anitier/anitier/internal/utils"
	"github.com/anitier/anitier/pkg/board"
	"github.com/anitier/anitier/pkg/tiers"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// addCmd represents the add command
var addCmd = &cobra.Command{
	Use:   "add",
	Short: "Insert an entry into a tier, shifting later entries right",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return writeEntry(cmd.Context(), cmd.Flags(), board.ModeAdd)
	},
}

// replaceCmd represents the replace command
var replaceCmd = &cobra.Command{
	Use:   "replace",
	Short: "Overwrite the entry in a tier slot",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return writeEntry(cmd.Context(), cmd.Flags(), board.ModeReplace)
	},
}

// draftFromFlags builds a draft and reads the cover file, if any. It does not
// touch the board, so the file read happens before the slot is committed.
func draftFromFlags(flags *pflag.FlagSet) (board.Draft, error) {
	title, _ := flags.GetString("title")
	imageURL, _ := flags.GetString("image-url")
	imageFile, _ := flags.GetString("image-file")
	externalID, _ := flags.GetString("external-id")
	source, _ := flags.GetString("source")

	if title == "" {
		return board.Draft{}, fmt.Errorf("please provide a title via --title")
	}
	if (imageURL == "") == (imageFile == "") {
		return board.Draft{}, fmt.Errorf("please provide exactly one of --image-url or --image-file")
	}

	d := board.Draft{
		Title:      title,
		ExternalID: externalID,
		Source:     source,
		ImageURL:   imageURL,
	}
	if imageFile != "" {
		path, err := utils.ExpandPath(imageFile)
		if err != nil {
			return board.Draft{}, err
		}
		payload, err := os.ReadFile(path)
		if err != nil {
			return board.Draft{}, fmt.Errorf("cannot read image: %w", err)
		}
		d.Image = payload
	}
	return d, nil
}

func writeEntry(ctx context.Context, flags *pflag.FlagSet, mode board.Mode) error {
	tier, _ := flags.GetString("tier")
	index, _ := flags.GetInt("index")

	return withBoard(ctx, true, func(b *board.Board) error {
		target := b.Select(tiers.Label(tier), index, mode)
		d, err := draftFromFlags(flags)
		if err != nil {
			return err
		}
		ok, err := b.Commit(ctx, target, d)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("nothing written: tier %q or index %d is not valid", tier, index)
		}
		e, _ := b.Tiers().At(tiers.Label(tier), index)
		fmt.Printf("%s %q at %s[%d]\n", mode, e.Title, tier, index)
		return nil
	})
}

func addEntryFlags(c *cobra.Command) {
	c.Flags().StringP("tier", "t", "", "Tier label, e.g. 9.5")
	c.Flags().IntP("index", "i", 0, "Slot index inside the tier")
	c.Flags().String("title", "", "Entry title")
	c.Flags().String("image-url", "", "Remote cover URL (not stored locally)")
	c.Flags().String("image-file", "", "Local cover file, stored in the image store")
	c.Flags().String("external-id", "", "Identifier in an external catalogue")
	c.Flags().String("source", tiers.SourceCustom, "Provenance tag")
	c.MarkFlagRequired("tier")
}

func init() {
	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(replaceCmd)
	addEntryFlags(addCmd)
	addEntryFlags(replaceCmd)
}
