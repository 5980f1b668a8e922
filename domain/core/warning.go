package core

import (
	"fmt"
	"sort"
	"sync"
)

// WarningCode classifies recoverable data-quality findings
type WarningCode string

const (
	WarnDegenerateDirection WarningCode = "DEGENERATE_DIRECTION"
	WarnOddCrossings        WarningCode = "ODD_CROSSINGS"
	WarnRayFailed           WarningCode = "RAY_FAILED"
	WarnNonPositiveLambda   WarningCode = "NON_POSITIVE_DECAY_LENGTH"
	WarnOverlap             WarningCode = "OVERLAP"
	WarnLowStatistics       WarningCode = "LOW_STAT"
	WarnMissingBR           WarningCode = "MISSING_BR"
	WarnMissingTauBR        WarningCode = "MISSING_TAU_BR"
	WarnMissingXsec         WarningCode = "MISSING_XSEC"
	WarnNoContribution      WarningCode = "NO_CONTRIBUTION"
	WarnMalformedDecayRows  WarningCode = "MALFORMED_DECAY_ROWS"
	WarnDecayMassMismatch   WarningCode = "DECAY_MASS_MISMATCH"
	WarnDecayFallback       WarningCode = "DECAY_SOURCE_FALLBACK"
	WarnInvalidRow          WarningCode = "INVALID_ROW"
)

// Warning is one itemized data-quality finding with the number of affected rows
type Warning struct {
	Code    WarningCode `json:"code"`
	Message string      `json:"message"`
	Count   int         `json:"count"`
}

func (w Warning) String() string {
	if w.Count > 0 {
		return fmt.Sprintf("[%s] %s (affected=%d)", w.Code, w.Message, w.Count)
	}
	return fmt.Sprintf("[%s] %s", w.Code, w.Message)
}

// Warnings collects findings; safe for concurrent use
type Warnings struct {
	mu    sync.Mutex
	items []Warning
}

// Add records a finding
func (ws *Warnings) Add(code WarningCode, count int, format string, args ...interface{}) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	ws.items = append(ws.items, Warning{Code: code, Message: fmt.Sprintf(format, args...), Count: count})
}

// Merge appends findings from another list
func (ws *Warnings) Merge(items []Warning) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	ws.items = append(ws.items, items...)
}

// Items returns a copy of the recorded findings
func (ws *Warnings) Items() []Warning {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	out := make([]Warning, len(ws.items))
	copy(out, ws.items)
	return out
}

// Total sums the affected counts per code
func (ws *Warnings) Total(code WarningCode) int {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	n := 0
	for _, w := range ws.items {
		if w.Code == code {
			n += w.Count
		}
	}
	return n
}

// Codes lists the distinct codes in sorted order
func (ws *Warnings) Codes() []WarningCode {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	seen := make(map[WarningCode]bool)
	for _, w := range ws.items {
		seen[w.Code] = true
	}
	out := make([]WarningCode, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
