package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/veilnote/veilnote/pkg/audit"
	"github.com/veilnote/veilnote/pkg/store"
)

var (
	hideType  string
	purgeTTL  time.Duration
	wipeForce bool
)

var vaultCmd = &cobra.Command{
	Use:   "vault",
	Short: "Manage the hidden vault",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Cobra runs only the closest PersistentPreRunE, so the app
		// must be opened here, not in root.
		if err := openApp(cmd.Context()); err != nil {
			return err
		}
		return unlockVault(cmd.Context())
	},
}

func init() {
	vaultCmd.AddCommand(vaultListCmd)
	vaultCmd.AddCommand(vaultHideCmd)
	vaultCmd.AddCommand(vaultUnhideCmd)
	vaultCmd.AddCommand(vaultRemoveCmd)
	vaultCmd.AddCommand(vaultViewCmd)
	vaultCmd.AddCommand(vaultLockCmd)
	vaultCmd.AddCommand(vaultPinCmd)
	vaultCmd.AddCommand(vaultKeywordCmd)
	vaultCmd.AddCommand(vaultBiometricCmd)
	vaultCmd.AddCommand(vaultWipeCmd)
	vaultCmd.AddCommand(vaultPurgeTempCmd)

	vaultPinCmd.AddCommand(vaultPinSetCmd)

	vaultHideCmd.Flags().StringVar(&hideType, "type", "", "Item type: image, video, audio, document, other (default: by extension)")
	vaultWipeCmd.Flags().BoolVarP(&wipeForce, "force", "f", false, "Skip confirmation prompt")
	vaultPurgeTempCmd.Flags().DurationVar(&purgeTTL, "ttl", 30*time.Minute, "Purge temp files older than this")
}

var vaultListCmd = &cobra.Command{
	Use:   "ls",
	Short: "Lists vault items",
	RunE: func(cmd *cobra.Command, args []string) error {
		return printVaultItems(cmd.Context())
	},
}

var vaultHideCmd = &cobra.Command{
	Use:   "hide <file>...",
	Short: "Encrypts files into the vault and removes the originals",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		s := newSpinner("Hiding files...")
		s.Start()

		// Group by detected type so each file lands in the right
		// public directory on unhide.
		byType := map[store.ItemType][]string{}
		for _, path := range args {
			typ := parseItemType(hideType, path)
			byType[typ] = append(byType[typ], path)
		}

		succeeded, total := 0, len(args)
		for typ, handles := range byType {
			batch, err := manager.HideAll(ctx, handles, typ)
			if err != nil {
				s.Stop()
				return err
			}
			succeeded += batch.Succeeded
		}
		s.Stop()

		if succeeded == total {
			color.Green("Hidden %d of %d files", succeeded, total)
		} else {
			color.Yellow("Hidden %d of %d files (see log for failures)", succeeded, total)
		}
		return nil
	},
}

var vaultUnhideCmd = &cobra.Command{
	Use:   "unhide <id>",
	Short: "Restores an item to public storage and removes it from the vault",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		item, err := findItem(ctx, args[0])
		if err != nil {
			return err
		}

		s := newSpinner("Restoring...")
		s.Start()
		target, err := manager.Unhide(ctx, item)
		s.Stop()
		if err != nil {
			return err
		}
		color.Green("Restored to %s", target)
		return nil
	},
}

var vaultRemoveCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Permanently deletes a vault item",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		item, err := findItem(ctx, args[0])
		if err != nil {
			return err
		}
		if err := manager.DeletePermanently(ctx, item); err != nil {
			return err
		}
		color.Green("Deleted %s", item.OriginalName)
		return nil
	},
}

var vaultViewCmd = &cobra.Command{
	Use:   "view <id>",
	Short: "Decrypts an item to a temporary file for viewing",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		item, err := findItem(ctx, args[0])
		if err != nil {
			return err
		}

		tf, err := manager.OpenForViewing(ctx, item)
		if err != nil {
			return fmt.Errorf("item unavailable: %w", err)
		}
		defer tf.Close()

		cmd.Printf("Decrypted to %s\n", tf.Path())
		cmd.Println("Press Enter when done viewing (the file will be deleted).")
		if _, err := readLine(cmd.InOrStdin()); err != nil {
			return err
		}
		return nil
	},
}

var vaultLockCmd = &cobra.Command{
	Use:   "lock",
	Short: "Locks the vault",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := auditLog.Success(audit.OpLock, ""); err != nil {
			log.Warn(cmd.Context(), "audit write failed", "error", err)
		}
		cmd.Println("Vault locked.")
		return nil
	},
}

var vaultPinCmd = &cobra.Command{
	Use:   "pin",
	Short: "Manage the vault PIN",
}

var vaultPinSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Sets a 4-digit vault PIN",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Print("New PIN (4 digits): ")
		pin1, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err != nil {
			return fmt.Errorf("failed to read PIN: %w", err)
		}
		fmt.Print("Confirm PIN: ")
		pin2, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err != nil {
			return fmt.Errorf("failed to read PIN: %w", err)
		}
		if string(pin1) != string(pin2) {
			return fmt.Errorf("PINs do not match")
		}
		if err := gate.SetPin(string(pin1)); err != nil {
			return err
		}
		color.Green("PIN set")
		return nil
	},
}

var vaultKeywordCmd = &cobra.Command{
	Use:   "keyword <phrase>...",
	Short: "Sets the vault discovery keyword",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		keyword := strings.Join(args, " ")
		if err := gate.SetVaultKeyword(keyword); err != nil {
			return err
		}
		color.Green("Keyword updated")
		return nil
	},
}

var vaultBiometricCmd = &cobra.Command{
	Use:       "biometric on|off",
	Short:     "Enables or disables biometric unlock",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"on", "off"},
	RunE: func(cmd *cobra.Command, args []string) error {
		enabled := args[0] == "on"
		if err := gate.SetBiometricEnabled(enabled); err != nil {
			return err
		}
		if enabled {
			color.Green("Biometric unlock enabled")
		} else {
			color.Green("Biometric unlock disabled")
		}
		return nil
	},
}

var vaultWipeCmd = &cobra.Command{
	Use:   "wipe",
	Short: "Deletes all vault items and resets credentials",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if !wipeForce {
			fmt.Print("This permanently deletes every vault item. Type 'wipe' to confirm: ")
			answer, err := readLine(cmd.InOrStdin())
			if err != nil {
				return err
			}
			if answer != "wipe" {
				cmd.Println("Aborted.")
				return nil
			}
		}

		items, err := db.ListItems(ctx)
		if err != nil {
			return err
		}
		for _, item := range items {
			if err := manager.DeletePermanently(ctx, item); err != nil {
				log.Warn(ctx, "wipe: item delete failed", "id", item.ID, "error", err)
			}
		}
		if err := gate.Wipe(); err != nil {
			return err
		}
		if err := auditLog.Success(audit.OpWipe, ""); err != nil {
			log.Warn(ctx, "audit write failed", "error", err)
		}
		color.Green("Vault wiped")
		return nil
	},
}

var vaultPurgeTempCmd = &cobra.Command{
	Use:   "purge-temp",
	Short: "Removes stale decrypted temp files",
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := manager.PurgeStaleTemp(cmd.Context(), purgeTTL)
		if err != nil {
			return err
		}
		cmd.Printf("Removed %d temp files\n", n)
		return nil
	},
}

func printVaultItems(ctx context.Context) error {
	items, err := db.ListItems(ctx)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		fmt.Println("Vault is empty.")
		return nil
	}
	for _, item := range items {
		updated := time.UnixMilli(item.UpdatedAt).Format("2006-01-02 15:04")
		fmt.Printf("%s  %-8s  %-30s  %8s  %s\n",
			shortID(item.ID), item.Type, item.OriginalName, formatSize(item.FileSize), updated)
	}
	return nil
}

// findItem resolves a vault item by ID prefix.
func findItem(ctx context.Context, idPrefix string) (*store.VaultItem, error) {
	items, err := db.ListItems(ctx)
	if err != nil {
		return nil, err
	}
	var match *store.VaultItem
	for _, item := range items {
		if strings.HasPrefix(item.ID, idPrefix) {
			if match != nil {
				return nil, fmt.Errorf("item id %q is ambiguous", idPrefix)
			}
			match = item
		}
	}
	if match == nil {
		return nil, fmt.Errorf("no vault item with id %q", idPrefix)
	}
	return match, nil
}

func parseItemType(flag, path string) store.ItemType {
	switch strings.ToLower(flag) {
	case "image":
		return store.TypeImage
	case "video":
		return store.TypeVideo
	case "audio":
		return store.TypeAudio
	case "document":
		return store.TypeDocument
	case "other":
		return store.TypeOther
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg", ".png", ".gif", ".webp", ".bmp", ".heic":
		return store.TypeImage
	case ".mp4", ".mov", ".mkv", ".avi", ".webm":
		return store.TypeVideo
	case ".mp3", ".wav", ".flac", ".ogg", ".m4a":
		return store.TypeAudio
	case ".pdf", ".doc", ".docx", ".txt", ".md", ".odt":
		return store.TypeDocument
	}
	return store.TypeOther
}

func formatSize(n int64) string {
	switch {
	case n >= 1<<30:
		return fmt.Sprintf("%.1f GB", float64(n)/(1<<30))
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(n)/(1<<10))
	}
	return fmt.Sprintf("%d B", n)
}

func newSpinner(suffix string) *spinner.Spinner {
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	s.Suffix = " " + suffix
	return s
}
