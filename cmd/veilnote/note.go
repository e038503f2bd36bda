package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/veilnote/veilnote/pkg/store"
)

var (
	noteTitle    string
	noteCategory string
	noteGateway  bool
)

var noteCmd = &cobra.Command{
	Use:   "note",
	Short: "Manage notes",
}

func init() {
	noteCmd.AddCommand(noteAddCmd)
	noteCmd.AddCommand(noteListCmd)
	noteCmd.AddCommand(noteOpenCmd)
	noteCmd.AddCommand(noteRemoveCmd)

	noteAddCmd.Flags().StringVar(&noteTitle, "title", "", "Note title (required)")
	noteAddCmd.Flags().StringVar(&noteCategory, "category", "", "Note category")
	noteAddCmd.Flags().BoolVar(&noteGateway, "gateway", false, "Mark as the vault gateway note")
	_ = noteAddCmd.MarkFlagRequired("title")
}

// noteAddCmd creates a note, reading content from stdin.
var noteAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Adds a note, content read from standard input",
	RunE: func(cmd *cobra.Command, args []string) error {
		content, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("failed to read note content: %w", err)
		}

		note := &store.Note{
			ID:       uuid.New().String(),
			Title:    noteTitle,
			Content:  strings.TrimRight(string(content), "\n"),
			Category: noteCategory,
			Gateway:  noteGateway,
		}
		if err := db.SaveNote(cmd.Context(), note); err != nil {
			return err
		}
		cmd.Printf("Added note %s\n", shortID(note.ID))
		return nil
	},
}

var noteListCmd = &cobra.Command{
	Use:   "ls",
	Short: "Lists notes",
	RunE: func(cmd *cobra.Command, args []string) error {
		notes, err := db.ListNotes(cmd.Context())
		if err != nil {
			return err
		}
		if len(notes) == 0 {
			cmd.Println("No notes yet.")
			return nil
		}
		for _, n := range notes {
			printNoteLine(cmd, n)
		}
		return nil
	},
}

// noteOpenCmd shows a note. Opening the gateway note is the second
// discovery gesture: it triggers the unlock flow instead of showing
// content.
var noteOpenCmd = &cobra.Command{
	Use:   "open <id>",
	Short: "Shows a note",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		note, err := findNote(ctx, args[0])
		if err != nil {
			return err
		}

		if note.Gateway {
			if err := unlockVault(ctx); err != nil {
				return err
			}
			return printVaultItems(ctx)
		}

		cmd.Printf("%s\n", note.Title)
		if note.Category != "" {
			cmd.Printf("[%s]\n", note.Category)
		}
		cmd.Println()
		cmd.Println(note.Content)
		return nil
	},
}

var noteRemoveCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Deletes a note",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		note, err := findNote(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if err := db.DeleteNote(cmd.Context(), note.ID); err != nil {
			return err
		}
		cmd.Printf("Deleted note %s\n", shortID(note.ID))
		return nil
	},
}

func printNoteLine(cmd *cobra.Command, n *store.Note) {
	marker := " "
	if n.Pinned {
		marker = "*"
	}
	updated := time.UnixMilli(n.UpdatedAt).Format("2006-01-02 15:04")
	cmd.Printf("%s %s  %-30s  %s\n", marker, shortID(n.ID), n.Title, updated)
}

// findNote resolves a note by ID prefix.
func findNote(ctx context.Context, idPrefix string) (*store.Note, error) {
	notes, err := db.ListNotes(ctx)
	if err != nil {
		return nil, err
	}
	var match *store.Note
	for _, n := range notes {
		if strings.HasPrefix(n.ID, idPrefix) {
			if match != nil {
				return nil, fmt.Errorf("note id %q is ambiguous", idPrefix)
			}
			match = n
		}
	}
	if match == nil {
		return nil, fmt.Errorf("no note with id %q", idPrefix)
	}
	return match, nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
