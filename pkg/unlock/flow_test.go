package unlock

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veilnote/veilnote/pkg/creds"
	"github.com/veilnote/veilnote/pkg/prefs"
)

// fakeBiometric scripts the platform capability.
type fakeBiometric struct {
	available bool
	outcome   BiometricOutcome
	prompted  int
}

func (f *fakeBiometric) IsAvailable() bool { return f.available }
func (f *fakeBiometric) Prompt(_, _ string) BiometricOutcome {
	f.prompted++
	return f.outcome
}

// countingFeedback counts haptic cues.
type countingFeedback struct {
	wrongPin int
}

func (c *countingFeedback) WrongPin() { c.wrongPin++ }

func newGate(t *testing.T) *creds.Gate {
	t.Helper()
	store, err := prefs.Open(filepath.Join(t.TempDir(), "settings.yaml"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	g := creds.New(store)
	require.NoError(t, g.EnsureDefaults())
	require.NoError(t, g.SetVaultKeyword("open vault"))
	return g
}

func TestNoPinUnlocksOnKeyword(t *testing.T) {
	g := newGate(t)
	f := New(g, nil, nil)

	assert.Equal(t, StateLocked, f.State())
	assert.False(t, f.DiscoverKeyword("what was that recipe"), "ordinary search must not discover")
	assert.Equal(t, StateLocked, f.State())

	assert.True(t, f.DiscoverKeyword("Open Vault"))
	assert.Equal(t, StateUnlocked, f.State())
}

func TestPinGateScenario(t *testing.T) {
	g := newGate(t)
	require.NoError(t, g.SetPin("4321"))
	require.NoError(t, g.SetBiometricEnabled(false))

	fb := &countingFeedback{}
	f := New(g, nil, fb)

	require.True(t, f.DiscoverKeyword("open vault"))
	assert.Equal(t, StateAwaitingPin, f.State())

	// Wrong entry: state held, error flag raised, haptic cue fired.
	state, err := f.SubmitPin("1234")
	require.NoError(t, err)
	assert.Equal(t, StateAwaitingPin, state)
	flagged, msg := f.ErrorFlag()
	assert.True(t, flagged)
	assert.NotEmpty(t, msg)
	assert.Equal(t, 1, fb.wrongPin)
	assert.Equal(t, 1, g.FailedAttemptCount())

	// Correct entry unlocks and clears the counter.
	state, err = f.SubmitPin("4321")
	require.NoError(t, err)
	assert.Equal(t, StateUnlocked, state)
	flagged, _ = f.ErrorFlag()
	assert.False(t, flagged)
	assert.Zero(t, g.FailedAttemptCount())
}

func TestBiometricShortcutSuccess(t *testing.T) {
	g := newGate(t)
	require.NoError(t, g.SetPin("4321"))
	require.NoError(t, g.SetBiometricEnabled(true))

	bio := &fakeBiometric{available: true, outcome: BiometricSuccess}
	f := New(g, bio, nil)

	require.True(t, f.DiscoverKeyword("open vault"))
	assert.Equal(t, StateAwaitingBiometric, f.State())

	state := f.PromptBiometric("Unlock", "Confirm it's you")
	assert.Equal(t, StateUnlocked, state)
	assert.Equal(t, 1, bio.prompted)
}

func TestBiometricFallsBackToPin(t *testing.T) {
	g := newGate(t)
	require.NoError(t, g.SetPin("4321"))
	require.NoError(t, g.SetBiometricEnabled(true))

	for _, outcome := range []BiometricOutcome{BiometricFailed, BiometricError} {
		bio := &fakeBiometric{available: true, outcome: outcome}
		f := New(g, bio, nil)

		require.True(t, f.DiscoverKeyword("open vault"))
		assert.Equal(t, StateAwaitingBiometric, f.State())

		state := f.PromptBiometric("Unlock", "")
		assert.Equal(t, StateAwaitingPin, state)

		state, err := f.SubmitPin("4321")
		require.NoError(t, err)
		assert.Equal(t, StateUnlocked, state)
	}
}

func TestBiometricUnavailableSkipsToPin(t *testing.T) {
	g := newGate(t)
	require.NoError(t, g.SetPin("4321"))
	require.NoError(t, g.SetBiometricEnabled(true))

	// Enabled in settings, but no enrolled hardware.
	bio := &fakeBiometric{available: false}
	f := New(g, bio, nil)

	require.True(t, f.DiscoverKeyword("open vault"))
	assert.Equal(t, StateAwaitingPin, f.State())
	assert.Zero(t, bio.prompted)
}

func TestGatewayDiscovery(t *testing.T) {
	g := newGate(t)
	f := New(g, nil, nil)

	f.DiscoverGateway()
	assert.Equal(t, StateUnlocked, f.State(), "no PIN configured: gateway goes straight to Unlocked")
}

func TestExplicitLock(t *testing.T) {
	g := newGate(t)
	f := New(g, nil, nil)

	require.True(t, f.DiscoverKeyword("open vault"))
	require.Equal(t, StateUnlocked, f.State())

	f.Lock()
	assert.Equal(t, StateLocked, f.State())

	// Relocking requires rediscovery.
	_, err := f.SubmitPin("0000")
	assert.ErrorIs(t, err, ErrNotDiscovered)
}

func TestSubmitPinBeforeDiscovery(t *testing.T) {
	g := newGate(t)
	require.NoError(t, g.SetPin("4321"))
	f := New(g, nil, nil)

	_, err := f.SubmitPin("4321")
	assert.ErrorIs(t, err, ErrNotDiscovered)
	assert.Equal(t, StateLocked, f.State())
}

func TestCooldownBlocksPinEntry(t *testing.T) {
	g := newGate(t)
	require.NoError(t, g.SetPin("4321"))

	f := New(g, nil, nil)
	require.True(t, f.DiscoverKeyword("open vault"))

	for i := 0; i < creds.CooldownThreshold1; i++ {
		_, err := f.SubmitPin("0000")
		require.NoError(t, err)
	}

	// Even the correct PIN is refused while cooling down.
	_, err := f.SubmitPin("4321")
	assert.ErrorIs(t, err, ErrCooldownActive)
	assert.Equal(t, StateAwaitingPin, f.State())
}
