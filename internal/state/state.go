// Package state persists the last consensus record and decides whether a new
// record differs from what was stored before.
package state

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"

	"go.uber.org/zap"

	"github.com/JakeFAU/polla-consensus/internal/artifacts"
	"github.com/JakeFAU/polla-consensus/internal/polla"
)

// Mode selects how previous records are matched.
type Mode int

// Comparison modes.
const (
	// ModeDraw matches on sorteo and compares premios.
	ModeDraw Mode = iota
	// ModeJackpot matches on sorteo and fecha and compares premios and pozos.
	ModeJackpot
)

const maxLineBytes = 4 << 20

// Tracker reads and writes the state log, an NDJSON file whose last line is
// the most recent record.
type Tracker struct {
	path   string
	logger *zap.Logger
}

// NewTracker builds a Tracker for path.
func NewTracker(path string, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{path: path, logger: logger}
}

// Path returns the state log location.
func (t *Tracker) Path() string {
	return t.path
}

// Load returns every record in the state log, oldest first. A missing file
// yields no records; malformed lines are logged and skipped.
func (t *Tracker) Load() ([]polla.ConsensusRecord, error) {
	data, err := os.ReadFile(t.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read state: %w", err)
	}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	var records []polla.ConsensusRecord
	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		var rec polla.ConsensusRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			t.logger.Warn("skipping malformed state line", zap.String("path", t.path), zap.Int("line", line), zap.Error(err))
			continue
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan state: %w", err)
	}
	return records, nil
}

// Save overwrites the state log with record.
func (t *Tracker) Save(record polla.ConsensusRecord) error {
	if err := artifacts.WriteNDJSON(t.path, record); err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	return nil
}

// EnsureExists creates an empty state log if none exists yet.
func (t *Tracker) EnsureExists() error {
	if err := artifacts.Touch(t.path); err != nil {
		return fmt.Errorf("ensure state: %w", err)
	}
	return nil
}

// PrizesChanged reports whether current differs from every matching record in
// previous. In draw mode a record without a sorteo is always treated as
// changed; aggregator pages often omit it, so jackpot mode matches a missing
// sorteo against a missing sorteo.
func PrizesChanged(current polla.ConsensusRecord, previous []polla.ConsensusRecord, mode Mode) bool {
	return lastMatch(current, previous, mode) == nil
}

// AlreadyPublished reports whether a record equal to current was persisted by
// a run that published it. A quarantined record does not count.
func AlreadyPublished(current polla.ConsensusRecord, previous []polla.ConsensusRecord, mode Mode) bool {
	match := lastMatch(current, previous, mode)
	return match != nil && Published(*match)
}

// Published reports whether the run that persisted record published it, or
// skipped it as already published. Records without a decision count as
// published.
func Published(record polla.ConsensusRecord) bool {
	status := record.Provenance.Decision
	return status == "" || status == polla.StatusSkip || status.Publishable()
}

// lastMatch returns the newest record in previous equal to current, or nil.
func lastMatch(current polla.ConsensusRecord, previous []polla.ConsensusRecord, mode Mode) *polla.ConsensusRecord {
	if current.Sorteo == nil && mode == ModeDraw {
		return nil
	}
	for i := len(previous) - 1; i >= 0; i-- {
		candidate := previous[i]
		if !sameSorteo(candidate.Sorteo, current.Sorteo) {
			continue
		}
		if mode == ModeJackpot && !sameDate(candidate.Fecha, current.Fecha) {
			continue
		}
		if !equalPrizes(candidate.SortedPrizes(), current.SortedPrizes()) {
			continue
		}
		if mode == ModeJackpot && !equalPozos(candidate.PozosProximo, current.PozosProximo) {
			continue
		}
		return &previous[i]
	}
	return nil
}

func sameSorteo(a, b *int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func sameDate(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func equalPrizes(a, b []polla.PrizeKey) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func equalPozos(a, b map[string]int64) bool {
	if len(a) != len(b) {
		return false
	}
	keys := make([]string, 0, len(a))
	for k := range a {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v, ok := b[k]
		if !ok || v != a[k] {
			return false
		}
	}
	return true
}
