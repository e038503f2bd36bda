// Package unlock implements the state machine that takes a user from the
// public note-taking surface into the vault.
//
// The machine is driven by the discovery gesture (keyword match in the
// search box, or opening the gateway note) and sequences the credential
// checks: biometric shortcut first when available, then the PIN. There is
// one gate per process and transitions are expected to be driven from a
// single event loop; the mutex only protects against accidental cross-
// goroutine use.
package unlock

import (
	"errors"
	"sync"

	"github.com/veilnote/veilnote/pkg/creds"
)

// State of the unlock flow.
type State int

const (
	// StateLocked is the resting state: the vault is invisible.
	StateLocked State = iota

	// StateCheckingPinConfigured is the transient state entered by the
	// discovery gesture while the machine decides which factor to ask for.
	StateCheckingPinConfigured

	// StateAwaitingBiometric waits for the biometric prompt's outcome.
	StateAwaitingBiometric

	// StateAwaitingPin waits for a 4-digit entry.
	StateAwaitingPin

	// StateUnlocked grants access to the vault surface.
	StateUnlocked
)

// String returns the state name for logs and tests.
func (s State) String() string {
	switch s {
	case StateLocked:
		return "Locked"
	case StateCheckingPinConfigured:
		return "CheckingPinConfigured"
	case StateAwaitingBiometric:
		return "AwaitingBiometric"
	case StateAwaitingPin:
		return "AwaitingPin"
	case StateUnlocked:
		return "Unlocked"
	default:
		return "Unknown"
	}
}

// BiometricOutcome is the result of a biometric prompt.
type BiometricOutcome int

const (
	// BiometricSuccess means the user authenticated.
	BiometricSuccess BiometricOutcome = iota

	// BiometricFailed means the sensor rejected the user.
	BiometricFailed

	// BiometricError means the prompt errored or was cancelled.
	BiometricError
)

// BiometricProvider is the platform capability interface. Implementations
// must not block inside IsAvailable.
type BiometricProvider interface {
	// IsAvailable reports whether biometric hardware is enrolled and usable.
	IsAvailable() bool

	// Prompt shows the platform prompt and returns the outcome.
	Prompt(title, subtitle string) BiometricOutcome
}

// Feedback receives user-feedback cues from the flow.
type Feedback interface {
	// WrongPin is invoked on a PIN mismatch (haptic/vibration cue).
	WrongPin()
}

// Unavailable is a BiometricProvider for platforms without biometrics.
type Unavailable struct{}

func (Unavailable) IsAvailable() bool                   { return false }
func (Unavailable) Prompt(_, _ string) BiometricOutcome { return BiometricError }

// NopFeedback discards feedback cues.
type NopFeedback struct{}

func (NopFeedback) WrongPin() {}

// Errors returned by the flow.
var (
	// ErrNotDiscovered is returned when submitting credentials before the
	// discovery gesture.
	ErrNotDiscovered = errors.New("unlock: vault not discovered")

	// ErrCooldownActive mirrors the gate's cooldown.
	ErrCooldownActive = creds.ErrCooldownActive
)

// Flow is the unlock state machine.
type Flow struct {
	gate      *creds.Gate
	biometric BiometricProvider
	feedback  Feedback

	mu      sync.Mutex
	state   State
	errFlag bool
	lastErr string
}

// New builds a flow in the Locked state. provider and feedback may be nil,
// in which case biometrics are unavailable and cues are discarded.
func New(gate *creds.Gate, provider BiometricProvider, feedback Feedback) *Flow {
	if provider == nil {
		provider = Unavailable{}
	}
	if feedback == nil {
		feedback = NopFeedback{}
	}
	return &Flow{
		gate:      gate,
		biometric: provider,
		feedback:  feedback,
		state:     StateLocked,
	}
}

// State returns the current state.
func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// ErrorFlag reports whether the last PIN entry failed, and the message.
// Reading does not clear the flag; the next entry does.
func (f *Flow) ErrorFlag() (bool, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.errFlag, f.lastErr
}

// DiscoverKeyword feeds a search-box entry to the flow. A keyword match
// triggers discovery and returns true; anything else leaves the flow locked
// so the caller can run an ordinary note search.
func (f *Flow) DiscoverKeyword(candidate string) bool {
	if !f.gate.MatchesKeyword(candidate) {
		return false
	}
	f.discover()
	return true
}

// DiscoverGateway triggers discovery via the gateway note.
func (f *Flow) DiscoverGateway() {
	f.discover()
}

// discover runs Locked -> CheckingPinConfigured and immediately resolves the
// transient state to Unlocked, AwaitingBiometric or AwaitingPin.
func (f *Flow) discover() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state != StateLocked {
		return
	}
	f.state = StateCheckingPinConfigured
	f.errFlag = false
	f.lastErr = ""

	switch {
	case !f.gate.IsPinSet():
		// First-run convenience: keyword-gated only until a PIN is set.
		f.state = StateUnlocked
	case f.gate.IsBiometricEnabled() && f.biometric.IsAvailable():
		f.state = StateAwaitingBiometric
	default:
		f.state = StateAwaitingPin
	}
}

// PromptBiometric runs the biometric prompt while in AwaitingBiometric and
// applies the outcome: success unlocks, everything else falls back to the
// PIN entry.
func (f *Flow) PromptBiometric(title, subtitle string) State {
	f.mu.Lock()
	if f.state != StateAwaitingBiometric {
		defer f.mu.Unlock()
		return f.state
	}
	f.mu.Unlock()

	outcome := f.biometric.Prompt(title, subtitle)
	return f.ResolveBiometric(outcome)
}

// ResolveBiometric applies a biometric outcome obtained by the caller.
func (f *Flow) ResolveBiometric(outcome BiometricOutcome) State {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state != StateAwaitingBiometric {
		return f.state
	}
	if outcome == BiometricSuccess {
		f.state = StateUnlocked
	} else {
		f.state = StateAwaitingPin
	}
	return f.state
}

// SubmitPin applies a 4-digit entry while in AwaitingPin. A match unlocks
// and clears the failure counter. A mismatch keeps the state, raises the
// error flag, fires the haptic cue and records the failed attempt; the entry
// buffer is the caller's and is cleared by virtue of the error flag.
func (f *Flow) SubmitPin(candidate string) (State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state != StateAwaitingPin {
		return f.state, ErrNotDiscovered
	}
	if err := f.gate.CheckCooldown(); err != nil {
		return f.state, err
	}

	if f.gate.VerifyPin(candidate) {
		f.state = StateUnlocked
		f.errFlag = false
		f.lastErr = ""
		if err := f.gate.ResetFailedAttempts(); err != nil {
			// The unlock itself succeeded; counter cleanup is best-effort.
			return f.state, nil
		}
		return f.state, nil
	}

	f.errFlag = true
	f.lastErr = "incorrect PIN"
	f.feedback.WrongPin()
	if _, err := f.gate.RecordFailedAttempt(); err != nil {
		return f.state, err
	}
	return f.state, nil
}

// Lock returns the flow to Locked. There is no implicit timeout lock; the
// user locks explicitly by navigating out.
func (f *Flow) Lock() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = StateLocked
	f.errFlag = false
	f.lastErr = ""
}
