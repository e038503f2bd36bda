package creds

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/veilnote/veilnote/pkg/prefs"
)

func newGate(t *testing.T) *Gate {
	t.Helper()
	store, err := prefs.Open(filepath.Join(t.TempDir(), "settings.yaml"))
	if err != nil {
		t.Fatalf("prefs.Open() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })

	g := New(store)
	if err := g.EnsureDefaults(); err != nil {
		t.Fatalf("EnsureDefaults() error = %v", err)
	}
	return g
}

// TestFirstRunDefaults verifies the keyword is seeded and no PIN exists.
func TestFirstRunDefaults(t *testing.T) {
	g := newGate(t)

	if g.IsPinSet() {
		t.Error("IsPinSet() = true on first run")
	}
	if g.IsBiometricEnabled() {
		t.Error("IsBiometricEnabled() = true on first run")
	}
	if got := g.VaultKeyword(); got != DefaultKeyword {
		t.Errorf("VaultKeyword() = %q, want %q", got, DefaultKeyword)
	}
}

// TestPinSetVerify covers validation and constant-time verification.
func TestPinSetVerify(t *testing.T) {
	g := newGate(t)

	for _, bad := range []string{"", "123", "12345", "12a4", "12 4", "１２３４"} {
		if err := g.SetPin(bad); !errors.Is(err, ErrInvalidPIN) {
			t.Errorf("SetPin(%q) error = %v, want ErrInvalidPIN", bad, err)
		}
	}

	if g.VerifyPin("0000") {
		t.Error("VerifyPin() = true with no PIN configured")
	}

	if err := g.SetPin("4321"); err != nil {
		t.Fatalf("SetPin() error = %v", err)
	}
	if !g.IsPinSet() {
		t.Error("IsPinSet() = false after SetPin")
	}
	if !g.VerifyPin("4321") {
		t.Error("VerifyPin(correct) = false")
	}
	if g.VerifyPin("1234") {
		t.Error("VerifyPin(wrong) = true")
	}

	if err := g.ClearPin(); err != nil {
		t.Fatalf("ClearPin() error = %v", err)
	}
	if g.IsPinSet() {
		t.Error("IsPinSet() = true after ClearPin")
	}
}

// TestKeywordMatchingCaseInsensitive covers the documented candidates for a
// keyword configured as "OPEN VAULT".
func TestKeywordMatchingCaseInsensitive(t *testing.T) {
	g := newGate(t)

	if err := g.SetVaultKeyword("OPEN VAULT"); err != nil {
		t.Fatalf("SetVaultKeyword() error = %v", err)
	}

	for _, candidate := range []string{"open vault", "Open Vault", "OPEN VAULT", "  open vault  "} {
		if !g.MatchesKeyword(candidate) {
			t.Errorf("MatchesKeyword(%q) = false, want true", candidate)
		}
	}
	for _, candidate := range []string{"", "open", "open  vault", "openvault", "close vault"} {
		if g.MatchesKeyword(candidate) {
			t.Errorf("MatchesKeyword(%q) = true, want false", candidate)
		}
	}
}

// TestKeywordValidation rejects empty phrases.
func TestKeywordValidation(t *testing.T) {
	g := newGate(t)

	for _, bad := range []string{"", "   ", "\t"} {
		if err := g.SetVaultKeyword(bad); !errors.Is(err, ErrEmptyKeyword) {
			t.Errorf("SetVaultKeyword(%q) error = %v, want ErrEmptyKeyword", bad, err)
		}
	}
}

// TestBiometricFlag round-trips the shortcut toggle.
func TestBiometricFlag(t *testing.T) {
	g := newGate(t)

	if err := g.SetBiometricEnabled(true); err != nil {
		t.Fatalf("SetBiometricEnabled() error = %v", err)
	}
	if !g.IsBiometricEnabled() {
		t.Error("IsBiometricEnabled() = false after enabling")
	}
	if err := g.SetBiometricEnabled(false); err != nil {
		t.Fatalf("SetBiometricEnabled() error = %v", err)
	}
	if g.IsBiometricEnabled() {
		t.Error("IsBiometricEnabled() = true after disabling")
	}
}

// TestFailedAttemptsAndCooldown verifies the counter, the escalation
// thresholds and the reset.
func TestFailedAttemptsAndCooldown(t *testing.T) {
	g := newGate(t)

	if got := g.FailedAttemptCount(); got != 0 {
		t.Errorf("FailedAttemptCount() = %d, want 0", got)
	}
	if err := g.CheckCooldown(); err != nil {
		t.Errorf("CheckCooldown() = %v with no failures", err)
	}

	var lastCooldown int64
	for i := 1; i <= CooldownThreshold1; i++ {
		d, err := g.RecordFailedAttempt()
		if err != nil {
			t.Fatalf("RecordFailedAttempt() error = %v", err)
		}
		lastCooldown = int64(d)
	}

	if got := g.FailedAttemptCount(); got != CooldownThreshold1 {
		t.Errorf("FailedAttemptCount() = %d, want %d", got, CooldownThreshold1)
	}
	if lastCooldown != int64(CooldownDuration1) {
		t.Errorf("cooldown after %d failures = %v, want %v",
			CooldownThreshold1, lastCooldown, CooldownDuration1)
	}
	if err := g.CheckCooldown(); !errors.Is(err, ErrCooldownActive) {
		t.Errorf("CheckCooldown() = %v, want ErrCooldownActive", err)
	}

	if err := g.ResetFailedAttempts(); err != nil {
		t.Fatalf("ResetFailedAttempts() error = %v", err)
	}
	if got := g.FailedAttemptCount(); got != 0 {
		t.Errorf("FailedAttemptCount() after reset = %d, want 0", got)
	}
	if err := g.CheckCooldown(); err != nil {
		t.Errorf("CheckCooldown() after reset = %v", err)
	}
}

// TestWipe clears every field atomically.
func TestWipe(t *testing.T) {
	g := newGate(t)

	if err := g.SetPin("9876"); err != nil {
		t.Fatalf("SetPin() error = %v", err)
	}
	if err := g.SetBiometricEnabled(true); err != nil {
		t.Fatalf("SetBiometricEnabled() error = %v", err)
	}
	if err := g.SetVaultKeyword("hidden door"); err != nil {
		t.Fatalf("SetVaultKeyword() error = %v", err)
	}
	if _, err := g.RecordFailedAttempt(); err != nil {
		t.Fatalf("RecordFailedAttempt() error = %v", err)
	}

	if err := g.Wipe(); err != nil {
		t.Fatalf("Wipe() error = %v", err)
	}

	if g.IsPinSet() {
		t.Error("IsPinSet() = true after Wipe")
	}
	if g.IsBiometricEnabled() {
		t.Error("IsBiometricEnabled() = true after Wipe")
	}
	if got := g.FailedAttemptCount(); got != 0 {
		t.Errorf("FailedAttemptCount() after Wipe = %d, want 0", got)
	}
	// Keyword falls back to the fixed first-run phrase.
	if got := g.VaultKeyword(); got != DefaultKeyword {
		t.Errorf("VaultKeyword() after Wipe = %q, want %q", got, DefaultKeyword)
	}
}
