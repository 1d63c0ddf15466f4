package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/anitier/anitier/internal/utils"
	"github.com/anitier/anitier/pkg/board"
	"github.com/spf13/cobra"
)

var exportCmd = &cobra.Command{
	Use:   "export [file]",
	Short: "Export the whole board, images and comments included, as JSON",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBoard(cmd.Context(), false, func(b *board.Board) error {
			if len(args) == 0 {
				return b.Export(os.Stdout)
			}
			path, err := utils.ExpandPath(args[0])
			if err != nil {
				return err
			}
			f, err := os.Create(path)
			if err != nil {
				return err
			}
			if err := b.Export(f); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			utils.Log.Infof("Exported %s to %s", b, path)
			return nil
		})
	},
}

var importCmd = &cobra.Command{
	Use:   "import [file]",
	Short: "Replace the board with a previously exported JSON file",
	Long: `Replace the board with a previously exported JSON file. Reads stdin when no file is
given. A malformed file leaves the board untouched.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var r io.Reader = os.Stdin
		if len(args) == 1 {
			path, err := utils.ExpandPath(args[0])
			if err != nil {
				return err
			}
			f, err := os.Open(path)
			if err != nil {
				return err
			}
			defer f.Close()
			r = f
		}
		return withBoard(cmd.Context(), true, func(b *board.Board) error {
			if err := b.Import(cmd.Context(), r); err != nil {
				return fmt.Errorf("import failed: %w", err)
			}
			fmt.Printf("Imported %s\n", b)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)
}
