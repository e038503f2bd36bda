package main

import (
	"strings"

	"github.com/spf13/cobra"
)

// searchCmd searches notes. The vault keyword is intercepted before the
// note search runs, so the vault never appears in results.
var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Searches your notes",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		query := strings.Join(args, " ")

		if gate.MatchesKeyword(query) {
			if err := unlockVault(ctx); err != nil {
				return err
			}
			return printVaultItems(ctx)
		}

		notes, err := db.SearchNotes(ctx, query)
		if err != nil {
			return err
		}
		if len(notes) == 0 {
			cmd.Println("No notes found.")
			return nil
		}
		for _, n := range notes {
			printNoteLine(cmd, n)
		}
		return nil
	},
}
