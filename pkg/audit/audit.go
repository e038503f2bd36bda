// Package audit provides an append-only log of vault operations with an HMAC
// chain for tamper detection.
//
// Records are JSON lines in monthly files. Each record carries a sequence
// number, the previous record's HMAC and its own HMAC, so deletion,
// reordering or edits anywhere in the history break the chain. Item ids are
// HMACed before logging so the log itself discloses nothing about what is
// concealed.
package audit

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"golang.org/x/crypto/hkdf"
)

// Operation types recorded in the log.
const (
	OpUnlock       = "vault.unlock"
	OpUnlockFailed = "vault.unlock_failed"
	OpLock         = "vault.lock"
	OpWipe         = "vault.wipe"

	OpItemHide   = "item.hide"
	OpItemUnhide = "item.unhide"
	OpItemDelete = "item.delete"
	OpItemView   = "item.view"
)

// Result indicates the outcome of an operation.
const (
	ResultSuccess = "success"
	ResultError   = "error"
)

// genesis is the chain value before the first record.
const genesis = "genesis"

// ErrKeyNotSet is returned when logging before SetKey.
var ErrKeyNotSet = errors.New("audit: HMAC key not set")

// Event is a single audit record.
type Event struct {
	Version   int    `json:"v"`
	ID        string `json:"id"`
	Timestamp string `json:"ts"` // RFC 3339 nanosecond precision
	Operation string `json:"op"`
	ItemHMAC  string `json:"item,omitempty"` // HMAC of the item id
	SessionID string `json:"session"`
	Result    string `json:"result"`
	Detail    string `json:"detail,omitempty"` // error detail, never plaintext
	Chain     Chain  `json:"chain"`
}

// Chain links a record to its predecessor.
type Chain struct {
	Sequence int64  `json:"seq"`
	PrevHash string `json:"prev"`
	HMAC     string `json:"hmac"`
}

// chainState is persisted between processes so the chain continues across
// runs.
type chainState struct {
	Sequence int64  `json:"seq"`
	PrevHash string `json:"prev"`
}

// Logger appends HMAC-chained events to monthly JSONL files.
type Logger struct {
	path string

	mu        sync.Mutex
	hmacKey   []byte
	keySet    bool
	sequence  int64
	prevHash  string
	sessionID string
}

// NewLogger creates a logger writing under dir. SetKey must be called before
// the first Log.
func NewLogger(dir string) *Logger {
	return &Logger{
		path:      dir,
		prevHash:  genesis,
		sessionID: newSessionID(),
	}
}

// SetKey derives the HMAC key from the vault master secret via HKDF-SHA256
// and loads the persisted chain position.
func (l *Logger) SetKey(masterSecret []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	r := hkdf.New(sha256.New, masterSecret, nil, []byte("veilnote-audit-v1"))
	l.hmacKey = make([]byte, 32)
	if _, err := r.Read(l.hmacKey); err != nil {
		return fmt.Errorf("audit: failed to derive HMAC key: %w", err)
	}
	l.keySet = true

	if err := l.loadChainState(); err != nil {
		// First run, or the state file is gone; start a new chain.
		l.sequence = 0
		l.prevHash = genesis
	}
	return nil
}

// Log appends a record. itemID may be empty for vault-level operations.
func (l *Logger) Log(op, result, itemID, detail string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.keySet {
		return ErrKeyNotSet
	}
	if err := os.MkdirAll(l.path, 0700); err != nil {
		return fmt.Errorf("audit: failed to create directory: %w", err)
	}

	event := Event{
		Version:   1,
		ID:        newEventID(),
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Operation: op,
		SessionID: l.sessionID,
		Result:    result,
		Detail:    detail,
	}
	if itemID != "" {
		mac := hmac.New(sha256.New, l.hmacKey)
		mac.Write([]byte(itemID))
		event.ItemHMAC = hex.EncodeToString(mac.Sum(nil))
	}

	l.sequence++
	event.Chain.Sequence = l.sequence
	event.Chain.PrevHash = l.prevHash

	mac := hmac.New(sha256.New, l.hmacKey)
	mac.Write(recordData(&event))
	event.Chain.HMAC = hex.EncodeToString(mac.Sum(nil))
	l.prevHash = event.Chain.HMAC

	if err := l.writeEvent(&event); err != nil {
		return err
	}
	return l.saveChainState()
}

// Success records a successful operation.
func (l *Logger) Success(op, itemID string) error {
	return l.Log(op, ResultSuccess, itemID, "")
}

// Failure records a failed operation with a short diagnostic detail.
func (l *Logger) Failure(op, itemID, detail string) error {
	return l.Log(op, ResultError, itemID, detail)
}

// recordData serializes the fields covered by the record HMAC.
func recordData(e *Event) []byte {
	return []byte(fmt.Sprintf("%d|%s|%s|%s|%s|%s|%s|%s|%d|%s",
		e.Version, e.ID, e.Timestamp, e.Operation, e.ItemHMAC,
		e.SessionID, e.Result, e.Detail, e.Chain.Sequence, e.Chain.PrevHash))
}

func (l *Logger) writeEvent(event *Event) error {
	name := time.Now().UTC().Format("2006-01") + ".jsonl"
	f, err := os.OpenFile(filepath.Join(l.path, name), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("audit: failed to open log file: %w", err)
	}
	defer f.Close()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("audit: failed to marshal event: %w", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("audit: failed to write event: %w", err)
	}
	return nil
}

func (l *Logger) loadChainState() error {
	data, err := os.ReadFile(filepath.Join(l.path, "audit.meta"))
	if err != nil {
		return err
	}
	var state chainState
	if err := json.Unmarshal(data, &state); err != nil {
		return err
	}
	l.sequence = state.Sequence
	l.prevHash = state.PrevHash
	return nil
}

func (l *Logger) saveChainState() error {
	data, err := json.Marshal(chainState{Sequence: l.sequence, PrevHash: l.prevHash})
	if err != nil {
		return fmt.Errorf("audit: failed to marshal chain state: %w", err)
	}
	if err := os.WriteFile(filepath.Join(l.path, "audit.meta"), data, 0600); err != nil {
		return fmt.Errorf("audit: failed to save chain state: %w", err)
	}
	return nil
}

// VerifyResult reports the outcome of a chain verification pass.
type VerifyResult struct {
	Valid   bool     `json:"valid"`
	Records int      `json:"records"`
	Errors  []string `json:"errors,omitempty"`
}

// Verify walks every log file in chronological order and revalidates the
// whole chain.
func (l *Logger) Verify() (*VerifyResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.keySet {
		return nil, ErrKeyNotSet
	}

	files, err := filepath.Glob(filepath.Join(l.path, "*.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("audit: failed to list log files: %w", err)
	}
	sort.Strings(files) // YYYY-MM names sort chronologically

	result := &VerifyResult{Valid: true}
	expectedPrev := genesis
	var expectedSeq int64 = 1

	for _, file := range files {
		events, err := readLogFile(file)
		if err != nil {
			return nil, fmt.Errorf("audit: failed to read %s: %w", file, err)
		}
		for _, event := range events {
			result.Records++

			if event.Chain.Sequence != expectedSeq {
				result.Valid = false
				result.Errors = append(result.Errors, fmt.Sprintf(
					"sequence gap at record %s: expected %d, got %d",
					event.ID, expectedSeq, event.Chain.Sequence))
			}
			if event.Chain.PrevHash != expectedPrev {
				result.Valid = false
				result.Errors = append(result.Errors, fmt.Sprintf(
					"chain broken at record %s", event.ID))
			}

			mac := hmac.New(sha256.New, l.hmacKey)
			mac.Write(recordData(&event))
			if event.Chain.HMAC != hex.EncodeToString(mac.Sum(nil)) {
				result.Valid = false
				result.Errors = append(result.Errors, fmt.Sprintf(
					"HMAC mismatch at record %s: possible tampering", event.ID))
			}

			expectedPrev = event.Chain.HMAC
			expectedSeq++
		}
	}
	return result, nil
}

func readLogFile(path string) ([]Event, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var events []Event
	for _, line := range splitLines(data) {
		var event Event
		if err := json.Unmarshal(line, &event); err != nil {
			return nil, fmt.Errorf("failed to parse line: %w", err)
		}
		events = append(events, event)
	}
	return events, nil
}

func splitLines(data []byte) [][]byte {
	var lines [][]byte
	start := 0
	for i, b := range data {
		if b == '\n' {
			if i > start {
				lines = append(lines, data[start:i])
			}
			start = i + 1
		}
	}
	if start < len(data) {
		lines = append(lines, data[start:])
	}
	return lines
}

func newSessionID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("session-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}

// newEventID builds a time-sortable unique id: 48 bits of unix millis plus
// 80 random bits.
func newEventID() string {
	ts := time.Now().UnixMilli()
	b := make([]byte, 16)
	for i := 5; i >= 0; i-- {
		b[i] = byte(ts & 0xFF)
		ts >>= 8
	}
	if _, err := rand.Read(b[6:]); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}
