// Package vaultfs moves files across the public/private trust boundary.
// Hiding a file encrypts it into the private vault directory and removes
// the public original; unhiding reverses this. Every operation keeps
// exactly one authoritative copy: the original is never deleted before
// the ciphertext is verified, and a metadata failure rolls the
// ciphertext back.
package vaultfs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/veilnote/veilnote/internal/logging"
	"github.com/veilnote/veilnote/pkg/audit"
	"github.com/veilnote/veilnote/pkg/crypto"
	"github.com/veilnote/veilnote/pkg/store"
)

var (
	// ErrBusy is returned when another vault file operation is in
	// flight. Callers retry after the current operation completes.
	ErrBusy = errors.New("vaultfs: vault operation already in progress")

	ErrInsufficientSpace = errors.New("vaultfs: insufficient disk space")
	ErrVerifyFailed      = errors.New("vaultfs: ciphertext verification failed")
)

// MinFreeSpaceBytes is the free-space floor checked before writing
// ciphertext.
const MinFreeSpaceBytes = 10 * 1024 * 1024

// restoreSubdir namespaces restored files inside the public media
// directories.
const restoreSubdir = "VeilNote"

// Config wires a Manager. Store, VaultDir and Password are required;
// everything else gets a sensible default.
type Config struct {
	Store    *store.Store
	Resolver ContentResolver
	Indexer  MediaIndexer
	Audit    *audit.Logger
	Logger   logging.Logger

	// VaultDir holds ciphertext and thumbnails. Exclusively owned by
	// the Manager.
	VaultDir string
	// RestoreDir is the public root that unhide writes under
	// (Pictures/, Movies/, ...).
	RestoreDir string
	// TempDir holds decrypted copies for viewing. Defaults to a
	// subdirectory of os.TempDir().
	TempDir string

	// Password is the vault's internal encryption secret. It gates the
	// data at rest and is distinct from the user's PIN.
	Password []byte
}

// Manager orchestrates the hide/unhide/delete lifecycle. Mutating
// operations are serialized: a second concurrent call gets ErrBusy.
type Manager struct {
	store    *store.Store
	resolver ContentResolver
	indexer  MediaIndexer
	audit    *audit.Logger
	log      logging.Logger

	vaultDir   string
	restoreDir string
	tempDir    string
	password   []byte

	mu sync.Mutex
}

// New validates cfg, creates the private directories and returns a
// ready Manager.
func New(cfg Config) (*Manager, error) {
	if cfg.Store == nil {
		return nil, errors.New("vaultfs: store is required")
	}
	if cfg.VaultDir == "" {
		return nil, errors.New("vaultfs: vault directory is required")
	}
	if len(cfg.Password) == 0 {
		return nil, errors.New("vaultfs: password is required")
	}
	if cfg.Resolver == nil {
		cfg.Resolver = OSResolver{}
	}
	if cfg.Indexer == nil {
		cfg.Indexer = NopIndexer{}
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop()
	}
	if cfg.TempDir == "" {
		cfg.TempDir = filepath.Join(os.TempDir(), "veilnote")
	}

	if err := os.MkdirAll(cfg.VaultDir, 0700); err != nil {
		return nil, fmt.Errorf("vaultfs: failed to create vault directory: %w", err)
	}
	if err := os.MkdirAll(cfg.TempDir, 0700); err != nil {
		return nil, fmt.Errorf("vaultfs: failed to create temp directory: %w", err)
	}

	password := make([]byte, len(cfg.Password))
	copy(password, cfg.Password)

	return &Manager{
		store:      cfg.Store,
		resolver:   cfg.Resolver,
		indexer:    cfg.Indexer,
		audit:      cfg.Audit,
		log:        cfg.Logger,
		vaultDir:   cfg.VaultDir,
		restoreDir: cfg.RestoreDir,
		tempDir:    cfg.TempDir,
		password:   password,
	}, nil
}

// HideResult reports the outcome for one handle in a batch.
type HideResult struct {
	Handle string
	Item   *store.VaultItem
	Err    error
}

// BatchResult aggregates a batch hide.
type BatchResult struct {
	Results   []HideResult
	Succeeded int
}

// Hide encrypts the source behind handle into the vault, removes the
// public original and persists a metadata record. The original is only
// deleted after the ciphertext verifies and the record is saved.
func (m *Manager) Hide(ctx context.Context, handle string, typ store.ItemType) (*store.VaultItem, error) {
	if !m.mu.TryLock() {
		return nil, ErrBusy
	}
	defer m.mu.Unlock()
	return m.hide(ctx, handle, typ)
}

// HideAll hides each handle independently. One handle's failure never
// aborts the rest; the result carries a success count and per-handle
// errors.
func (m *Manager) HideAll(ctx context.Context, handles []string, typ store.ItemType) (*BatchResult, error) {
	if !m.mu.TryLock() {
		return nil, ErrBusy
	}
	defer m.mu.Unlock()

	batch := &BatchResult{Results: make([]HideResult, 0, len(handles))}
	for _, handle := range handles {
		item, err := m.hide(ctx, handle, typ)
		if err != nil {
			m.log.Warn(ctx, "hide failed", "handle", handle, "error", err)
		} else {
			batch.Succeeded++
		}
		batch.Results = append(batch.Results, HideResult{Handle: handle, Item: item, Err: err})
	}
	return batch, nil
}

func (m *Manager) hide(ctx context.Context, handle string, typ store.ItemType) (*store.VaultItem, error) {
	name, err := m.resolver.DisplayName(handle)
	if err != nil || name == "" {
		name = fmt.Sprintf("hidden_%d", time.Now().UnixMilli())
	}

	base := fmt.Sprintf("%d_%s", time.Now().UnixMilli(), uuid.New().String())
	encPath := filepath.Join(m.vaultDir, base+".enc")
	thumbPath := m.makeThumbnail(ctx, handle, typ, filepath.Join(m.vaultDir, base+".thumb"))

	written, err := m.encryptToVault(ctx, handle, encPath)
	if err != nil {
		removeIfPresent(thumbPath)
		m.auditFailure(ctx, audit.OpItemHide, "", err)
		return nil, err
	}

	item := &store.VaultItem{
		ID:            uuid.New().String(),
		Title:         name,
		Type:          typ,
		EncryptedPath: encPath,
		OriginalName:  name,
		FileSize:      written,
		ThumbnailPath: thumbPath,
	}
	if err := m.store.SaveItem(ctx, item); err != nil {
		// Metadata failure: roll the ciphertext back, leave the
		// original untouched.
		removeIfPresent(encPath)
		removeIfPresent(thumbPath)
		err = fmt.Errorf("vaultfs: failed to persist item metadata: %w", err)
		m.auditFailure(ctx, audit.OpItemHide, "", err)
		return nil, err
	}

	if !m.resolver.Delete(handle) {
		// Can't remove the public original; undo everything so no
		// second copy lingers in the vault.
		if derr := m.store.DeleteItem(ctx, item.ID); derr != nil {
			m.log.Error(ctx, "rollback of item record failed", "id", item.ID, "error", derr)
		}
		removeIfPresent(encPath)
		removeIfPresent(thumbPath)
		err := fmt.Errorf("vaultfs: failed to delete source %q", handle)
		m.auditFailure(ctx, audit.OpItemHide, item.ID, err)
		return nil, err
	}

	m.auditSuccess(ctx, audit.OpItemHide, item.ID)
	m.log.Info(ctx, "item hidden", "id", item.ID, "type", string(typ), "bytes", written)
	return item, nil
}

// encryptToVault stream-encrypts the source into encPath and verifies
// the result. On any failure the partial ciphertext is removed.
func (m *Manager) encryptToVault(ctx context.Context, handle, encPath string) (int64, error) {
	free, err := freeDiskSpace(m.vaultDir)
	if err != nil {
		return 0, err
	}
	if free < MinFreeSpaceBytes {
		return 0, ErrInsufficientSpace
	}

	src, err := m.resolver.Open(handle)
	if err != nil {
		return 0, err
	}
	defer src.Close()

	dst, err := os.OpenFile(encPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return 0, fmt.Errorf("vaultfs: failed to create ciphertext file: %w", err)
	}

	written, err := crypto.EncryptStream(dst, src, m.password)
	if err != nil {
		dst.Close()
		removeIfPresent(encPath)
		return 0, err
	}
	if err := dst.Close(); err != nil {
		removeIfPresent(encPath)
		return 0, fmt.Errorf("vaultfs: failed to close ciphertext file: %w", err)
	}

	info, err := os.Stat(encPath)
	if err != nil || info.Size() == 0 || info.Size() != written {
		removeIfPresent(encPath)
		return 0, ErrVerifyFailed
	}
	return written, nil
}

// Unhide decrypts the item back into its public location, then removes
// the vault copy and its record. Any decrypt or verify failure leaves
// the vault copy intact.
func (m *Manager) Unhide(ctx context.Context, item *store.VaultItem) (string, error) {
	if !m.mu.TryLock() {
		return "", ErrBusy
	}
	defer m.mu.Unlock()

	dir := m.restoreDirFor(item.Type)
	if err := os.MkdirAll(dir, 0755); err != nil {
		err = fmt.Errorf("vaultfs: failed to create restore directory: %w", err)
		m.auditFailure(ctx, audit.OpItemUnhide, item.ID, err)
		return "", err
	}

	target, err := m.restoreFile(item, dir)
	if err != nil {
		m.auditFailure(ctx, audit.OpItemUnhide, item.ID, err)
		return "", err
	}

	if err := m.store.DeleteItem(ctx, item.ID); err != nil {
		// Keep the vault copy authoritative: drop the restored file.
		removeIfPresent(target)
		err = fmt.Errorf("vaultfs: failed to delete item record: %w", err)
		m.auditFailure(ctx, audit.OpItemUnhide, item.ID, err)
		return "", err
	}
	if err := os.Remove(item.EncryptedPath); err != nil && !os.IsNotExist(err) {
		m.log.Warn(ctx, "failed to remove ciphertext after unhide", "path", item.EncryptedPath, "error", err)
	}
	removeIfPresent(item.ThumbnailPath)

	m.indexer.Notify(target)
	m.auditSuccess(ctx, audit.OpItemUnhide, item.ID)
	m.log.Info(ctx, "item restored", "id", item.ID, "target", target)
	return target, nil
}

// restoreFile decrypts the ciphertext into dir under the item's
// original name, via a temp file renamed into place after verification.
func (m *Manager) restoreFile(item *store.VaultItem, dir string) (string, error) {
	src, err := os.Open(item.EncryptedPath)
	if err != nil {
		return "", fmt.Errorf("vaultfs: failed to open ciphertext: %w", err)
	}
	defer src.Close()

	tmp, err := os.CreateTemp(dir, ".restore-*")
	if err != nil {
		return "", fmt.Errorf("vaultfs: failed to create restore file: %w", err)
	}
	tmpPath := tmp.Name()

	n, err := crypto.DecryptStream(tmp, src, m.password)
	if err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("vaultfs: failed to close restore file: %w", err)
	}

	info, err := os.Stat(tmpPath)
	if err != nil || info.Size() != n {
		os.Remove(tmpPath)
		return "", ErrVerifyFailed
	}

	target := uniqueTarget(dir, item.OriginalName)
	if err := os.Chmod(tmpPath, 0644); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("vaultfs: failed to set restore permissions: %w", err)
	}
	if err := os.Rename(tmpPath, target); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("vaultfs: failed to move restored file: %w", err)
	}
	return target, nil
}

// DeletePermanently removes the item's ciphertext, thumbnail and
// metadata record. Irreversible; confirmation belongs to the caller.
func (m *Manager) DeletePermanently(ctx context.Context, item *store.VaultItem) error {
	if !m.mu.TryLock() {
		return ErrBusy
	}
	defer m.mu.Unlock()

	if err := os.Remove(item.EncryptedPath); err != nil && !os.IsNotExist(err) {
		err = fmt.Errorf("vaultfs: failed to remove ciphertext: %w", err)
		m.auditFailure(ctx, audit.OpItemDelete, item.ID, err)
		return err
	}
	removeIfPresent(item.ThumbnailPath)

	if err := m.store.DeleteItem(ctx, item.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
		m.auditFailure(ctx, audit.OpItemDelete, item.ID, err)
		return fmt.Errorf("vaultfs: failed to delete item record: %w", err)
	}

	m.auditSuccess(ctx, audit.OpItemDelete, item.ID)
	m.log.Info(ctx, "item deleted", "id", item.ID)
	return nil
}

// OpenForViewing decrypts the item into the temp directory for
// ephemeral display. The returned handle deletes the file on Close.
func (m *Manager) OpenForViewing(ctx context.Context, item *store.VaultItem) (*TempFile, error) {
	if !m.mu.TryLock() {
		return nil, ErrBusy
	}
	defer m.mu.Unlock()

	src, err := os.Open(item.EncryptedPath)
	if err != nil {
		m.auditFailure(ctx, audit.OpItemView, item.ID, err)
		return nil, fmt.Errorf("vaultfs: failed to open ciphertext: %w", err)
	}
	defer src.Close()

	tmp, err := os.CreateTemp(m.tempDir, tempPrefix+"*"+filepath.Ext(item.OriginalName))
	if err != nil {
		m.auditFailure(ctx, audit.OpItemView, item.ID, err)
		return nil, fmt.Errorf("vaultfs: failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := crypto.DecryptStream(tmp, src, m.password); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		m.auditFailure(ctx, audit.OpItemView, item.ID, err)
		return nil, err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		m.auditFailure(ctx, audit.OpItemView, item.ID, err)
		return nil, fmt.Errorf("vaultfs: failed to close temp file: %w", err)
	}

	m.auditSuccess(ctx, audit.OpItemView, item.ID)
	return &TempFile{path: tmpPath}, nil
}

// restoreDirFor maps an item type to its public media directory, under
// an app-namespaced subfolder.
func (m *Manager) restoreDirFor(typ store.ItemType) string {
	var class string
	switch typ {
	case store.TypeImage:
		class = "Pictures"
	case store.TypeVideo:
		class = "Movies"
	case store.TypeAudio:
		class = "Music"
	case store.TypeDocument:
		class = "Documents"
	default:
		class = "Downloads"
	}
	return filepath.Join(m.restoreDir, class, restoreSubdir)
}

// uniqueTarget returns dir/name, suffixing the stem with a counter when
// the name is already taken.
func uniqueTarget(dir, name string) string {
	target := filepath.Join(dir, name)
	if _, err := os.Stat(target); os.IsNotExist(err) {
		return target
	}

	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for i := 1; ; i++ {
		target = filepath.Join(dir, fmt.Sprintf("%s_%d%s", stem, i, ext))
		if _, err := os.Stat(target); os.IsNotExist(err) {
			return target
		}
	}
}

func removeIfPresent(path string) {
	if path == "" {
		return
	}
	_ = os.Remove(path)
}

func (m *Manager) auditSuccess(ctx context.Context, op, itemID string) {
	if m.audit == nil {
		return
	}
	if err := m.audit.Success(op, itemID); err != nil {
		m.log.Warn(ctx, "audit write failed", "op", op, "error", err)
	}
}

func (m *Manager) auditFailure(ctx context.Context, op, itemID string, opErr error) {
	if m.audit == nil {
		return
	}
	if err := m.audit.Failure(op, itemID, opErr.Error()); err != nil {
		m.log.Warn(ctx, "audit write failed", "op", op, "error", err)
	}
}
