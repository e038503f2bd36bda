package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/veilnote/veilnote/internal/logging"
	"github.com/veilnote/veilnote/pkg/audit"
	"github.com/veilnote/veilnote/pkg/creds"
	"github.com/veilnote/veilnote/pkg/prefs"
	"github.com/veilnote/veilnote/pkg/store"
	"github.com/veilnote/veilnote/pkg/vaultfs"
)

const (
	appDirName  = ".veilnote"
	keyFileName = "vault.key"
	logFileName = "veilnote.log"
)

var (
	appDir   string
	settings *prefs.Store
	db       *store.Store
	gate     *creds.Gate
	auditLog *audit.Logger
	manager  *vaultfs.Manager
	log      logging.Logger = logging.Nop()

	logFile *os.File
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:           "veilnote",
	Short:         "veilnote is a personal notes app with a hidden vault",
	Long:          `A notes CLI that conceals files in an encrypted vault, unlocked by a search keyword.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		switch cmd.Name() {
		case "init", "help", "completion":
			return nil
		}
		return openApp(cmd.Context())
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		closeApp()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(noteCmd)
	rootCmd.AddCommand(vaultCmd)
}

// openApp wires the stores and the vault file manager. Every command
// except init goes through here.
func openApp(ctx context.Context) error {
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get user home directory: %w", err)
	}
	appDir = filepath.Join(home, appDirName)
	if _, err := os.Stat(appDir); os.IsNotExist(err) {
		return fmt.Errorf("no veilnote data at %s, run 'veilnote init' first", appDir)
	}

	log = openLogger()

	settings, err = prefs.Open(filepath.Join(appDir, "settings.yaml"))
	if err != nil {
		return err
	}
	gate = creds.New(settings)
	if err := gate.EnsureDefaults(); err != nil {
		return err
	}

	db, err = store.Open(filepath.Join(appDir, "meta.db"))
	if err != nil {
		return err
	}

	password, err := readVaultKey()
	if err != nil {
		return err
	}

	auditLog = audit.NewLogger(filepath.Join(appDir, "audit"))
	if err := auditLog.SetKey(password); err != nil {
		return err
	}

	manager, err = vaultfs.New(vaultfs.Config{
		Store:      db,
		Audit:      auditLog,
		Logger:     log,
		VaultDir:   filepath.Join(appDir, "vault"),
		RestoreDir: home,
		Password:   password,
	})
	if err != nil {
		return err
	}

	// Decrypted copies left behind by a killed process get swept on
	// every start.
	if n, err := manager.PurgeStaleTemp(ctx, vaultfs.DefaultTempTTL); err != nil {
		log.Warn(ctx, "temp purge failed", "error", err)
	} else if n > 0 {
		log.Info(ctx, "purged stale temp files", "count", n)
	}
	return nil
}

func closeApp() {
	if settings != nil {
		settings.Close()
	}
	if db != nil {
		db.Close()
	}
	if logFile != nil {
		logFile.Close()
	}
}

func openLogger() logging.Logger {
	f, err := os.OpenFile(filepath.Join(appDir, logFileName), os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0600)
	if err != nil {
		return logging.Nop()
	}
	logFile = f

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(f, &slog.HandlerOptions{Level: level})
	return logging.NewSlogLogger(slog.New(handler))
}

func readVaultKey() ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(appDir, keyFileName))
	if err != nil {
		return nil, fmt.Errorf("failed to read vault key: %w", err)
	}
	key, err := hex.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("vault key file is corrupt: %w", err)
	}
	return key, nil
}

// initCmd sets up the app directory, generates the internal vault key
// and creates the stores.
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initializes the notes app and its hidden vault",
	RunE: func(cmd *cobra.Command, args []string) error {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get user home directory: %w", err)
		}
		appDir = filepath.Join(home, appDirName)

		keyPath := filepath.Join(appDir, keyFileName)
		if _, err := os.Stat(keyPath); err == nil {
			return fmt.Errorf("already initialized at %s", appDir)
		}

		if err := os.MkdirAll(appDir, 0700); err != nil {
			return fmt.Errorf("failed to create app directory: %w", err)
		}

		// Per-install random data-at-rest key. Separate from the PIN,
		// which only gates the UI.
		key := make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return fmt.Errorf("failed to generate vault key: %w", err)
		}
		if err := os.WriteFile(keyPath, []byte(hex.EncodeToString(key)+"\n"), 0600); err != nil {
			return fmt.Errorf("failed to write vault key: %w", err)
		}

		settings, err := prefs.Open(filepath.Join(appDir, "settings.yaml"))
		if err != nil {
			return err
		}
		defer settings.Close()
		if err := creds.New(settings).EnsureDefaults(); err != nil {
			return err
		}

		db, err := store.Open(filepath.Join(appDir, "meta.db"))
		if err != nil {
			return err
		}
		defer db.Close()

		color.Green("Initialized veilnote at %s", appDir)
		fmt.Printf("Vault keyword is %q. Search for it to open the vault.\n", creds.DefaultKeyword)
		fmt.Println("Set a PIN with 'veilnote vault pin set'.")
		return nil
	},
}

// readLine reads one trimmed line from r.
func readLine(r io.Reader) (string, error) {
	var line strings.Builder
	buf := make([]byte, 1)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if buf[0] == '\n' {
				break
			}
			line.WriteByte(buf[0])
		}
		if err != nil {
			if err == io.EOF {
				break
			}
			return "", err
		}
	}
	return strings.TrimSpace(line.String()), nil
}
