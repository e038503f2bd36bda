// Package creds implements the credential gate guarding vault entry: the
// optional 4-digit PIN, the biometric shortcut flag, the discovery keyword,
// and the failed-attempt cooldown policy.
//
// The gate persists through a prefs.Store, so every setter is durable before
// it returns and any other component reading the store afterwards observes
// the new value. The PIN gates access to the vault surface only; it does not
// derive the data-at-rest key.
package creds

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/cases"

	"github.com/veilnote/veilnote/pkg/prefs"
)

// Preference keys owned by the gate.
const (
	KeyPIN            = "vault.pin"
	KeyBiometric      = "vault.biometric"
	KeyKeyword        = "vault.keyword"
	KeyFailedAttempts = "vault.failed_attempts"
	KeyLastFailed     = "vault.last_failed"
)

// DefaultKeyword is the discovery phrase configured on first run, before the
// user picks their own.
const DefaultKeyword = "open vault"

// PINLength is the required PIN length.
const PINLength = 4

// Escalating cooldown after repeated failures:
// 5 attempts -> 30s, 10 attempts -> 5min, 20 attempts -> 30min.
const (
	CooldownThreshold1 = 5
	CooldownThreshold2 = 10
	CooldownThreshold3 = 20

	CooldownDuration1 = 30 * time.Second
	CooldownDuration2 = 5 * time.Minute
	CooldownDuration3 = 30 * time.Minute
)

// Errors returned by the gate.
var (
	// ErrInvalidPIN indicates the PIN is not exactly four digits.
	ErrInvalidPIN = errors.New("creds: pin must be exactly four digits")

	// ErrEmptyKeyword indicates an empty or whitespace-only keyword.
	ErrEmptyKeyword = errors.New("creds: keyword must not be empty")

	// ErrCooldownActive indicates too many failed attempts recently.
	ErrCooldownActive = errors.New("creds: cooldown period active")
)

// foldKeyword normalizes a keyword for case-insensitive matching beyond
// ASCII (so a keyword set as "Straße" matches "STRASSE"). A Caser is
// stateful, hence one per call rather than a package-level instance.
func foldKeyword(s string) string {
	return cases.Fold().String(strings.TrimSpace(s))
}

// Gate stores and verifies unlock factors.
type Gate struct {
	store *prefs.Store
}

// New wraps a preference store. EnsureDefaults should be called once at
// startup to seed the first-run keyword.
func New(store *prefs.Store) *Gate {
	return &Gate{store: store}
}

// EnsureDefaults seeds the discovery keyword on first run. No PIN is set
// until the user opts in; the vault is keyword-gated only until then.
func (g *Gate) EnsureDefaults() error {
	if g.store.Has(KeyKeyword) {
		return nil
	}
	return g.store.Set(KeyKeyword, DefaultKeyword)
}

// IsPinSet reports whether a PIN has been configured.
func (g *Gate) IsPinSet() bool {
	return g.store.Has(KeyPIN)
}

// SetPin configures the 4-digit PIN.
func (g *Gate) SetPin(pin string) error {
	if !validPIN(pin) {
		return ErrInvalidPIN
	}
	return g.store.Set(KeyPIN, pin)
}

// ClearPin removes the PIN, returning the vault to keyword-only gating.
func (g *Gate) ClearPin() error {
	return g.store.Delete(KeyPIN)
}

// VerifyPin checks a candidate against the stored PIN in constant time. A
// missing PIN never verifies.
func (g *Gate) VerifyPin(candidate string) bool {
	stored := g.store.GetString(KeyPIN, "")
	if stored == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(candidate)) == 1
}

// SetBiometricEnabled toggles the biometric shortcut. Biometric is only ever
// a shortcut to the PIN, never a replacement credential.
func (g *Gate) SetBiometricEnabled(enabled bool) error {
	return g.store.Set(KeyBiometric, enabled)
}

// IsBiometricEnabled reports whether the biometric shortcut is on.
func (g *Gate) IsBiometricEnabled() bool {
	return g.store.GetBool(KeyBiometric, false)
}

// SetVaultKeyword configures the discovery phrase typed into the ordinary
// search box to reveal the vault.
func (g *Gate) SetVaultKeyword(keyword string) error {
	if strings.TrimSpace(keyword) == "" {
		return ErrEmptyKeyword
	}
	return g.store.Set(KeyKeyword, keyword)
}

// VaultKeyword returns the configured discovery phrase.
func (g *Gate) VaultKeyword() string {
	return g.store.GetString(KeyKeyword, DefaultKeyword)
}

// MatchesKeyword reports whether candidate equals the configured keyword,
// ignoring case and surrounding whitespace.
func (g *Gate) MatchesKeyword(candidate string) bool {
	keyword := strings.TrimSpace(g.VaultKeyword())
	if keyword == "" {
		return false
	}
	return foldKeyword(keyword) == foldKeyword(candidate)
}

// RecordFailedAttempt increments the failure counter and stamps the time.
// It returns the cooldown now in force, if any.
func (g *Gate) RecordFailedAttempt() (time.Duration, error) {
	n := g.store.GetInt(KeyFailedAttempts, 0) + 1
	err := g.store.SetAll(map[string]any{
		KeyFailedAttempts: n,
		KeyLastFailed:     time.Now().UnixMilli(),
	})
	if err != nil {
		return 0, err
	}
	return cooldownFor(n), nil
}

// ResetFailedAttempts clears the failure counter after a successful unlock.
func (g *Gate) ResetFailedAttempts() error {
	return g.store.Delete(KeyFailedAttempts, KeyLastFailed)
}

// FailedAttemptCount returns the current failure counter.
func (g *Gate) FailedAttemptCount() int {
	return int(g.store.GetInt(KeyFailedAttempts, 0))
}

// RemainingCooldown returns how much longer unlock attempts are refused, or
// zero when none is in force.
func (g *Gate) RemainingCooldown() time.Duration {
	n := g.store.GetInt(KeyFailedAttempts, 0)
	d := cooldownFor(n)
	if d == 0 {
		return 0
	}
	last := time.UnixMilli(g.store.GetInt(KeyLastFailed, 0))
	remaining := d - time.Since(last)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// CheckCooldown returns ErrCooldownActive while a cooldown is in force.
func (g *Gate) CheckCooldown() error {
	if remaining := g.RemainingCooldown(); remaining > 0 {
		return fmt.Errorf("%w: retry in %v", ErrCooldownActive, remaining.Round(time.Second))
	}
	return nil
}

// Wipe clears every credential field atomically: PIN, biometric flag,
// keyword and attempt counters. Used by the emergency wipe flow only.
func (g *Gate) Wipe() error {
	return g.store.Delete(KeyPIN, KeyBiometric, KeyKeyword, KeyFailedAttempts, KeyLastFailed)
}

func cooldownFor(attempts int64) time.Duration {
	switch {
	case attempts >= CooldownThreshold3:
		return CooldownDuration3
	case attempts >= CooldownThreshold2:
		return CooldownDuration2
	case attempts >= CooldownThreshold1:
		return CooldownDuration1
	}
	return 0
}

func validPIN(pin string) bool {
	if len(pin) != PINLength {
		return false
	}
	for _, r := range pin {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
