package main

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"time"

	"github.com/fatih/color"
	"golang.org/x/term"

	"github.com/veilnote/veilnote/pkg/audit"
	"github.com/veilnote/veilnote/pkg/unlock"
)

const maxPinPrompts = 5

// terminalFeedback rings the terminal bell in place of a haptic cue.
type terminalFeedback struct{}

func (terminalFeedback) WrongPin() { fmt.Print("\a") }

// unlockVault runs the unlock state machine against the terminal. The
// CLI has no biometric hardware, so a configured PIN always falls
// through to PIN entry.
func unlockVault(ctx context.Context) error {
	flow := unlock.New(gate, unlock.Unavailable{}, terminalFeedback{})
	flow.DiscoverGateway()

	for prompts := 0; flow.State() != unlock.StateUnlocked; prompts++ {
		if prompts >= maxPinPrompts {
			return errors.New("too many PIN attempts")
		}

		if cooldown := gate.RemainingCooldown(); cooldown > 0 {
			return fmt.Errorf("vault is cooling down, retry in %s", cooldown.Round(time.Second))
		}

		fmt.Print("Enter PIN: ")
		pin, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err != nil {
			return fmt.Errorf("failed to read PIN: %w", err)
		}

		state, err := flow.SubmitPin(string(pin))
		if err != nil {
			if errors.Is(err, unlock.ErrCooldownActive) {
				return fmt.Errorf("vault is cooling down, retry in %s", gate.RemainingCooldown().Round(time.Second))
			}
			return err
		}
		if state != unlock.StateUnlocked {
			if flagged, msg := flow.ErrorFlag(); flagged {
				color.Red("%s", msg)
			}
			if err := auditLog.Failure(audit.OpUnlockFailed, "", "wrong pin"); err != nil {
				log.Warn(ctx, "audit write failed", "error", err)
			}
		}
	}

	if err := auditLog.Success(audit.OpUnlock, ""); err != nil {
		log.Warn(ctx, "audit write failed", "error", err)
	}
	return nil
}
