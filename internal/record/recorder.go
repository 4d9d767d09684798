// Package record appends pipeline artifacts (bars, signals, fills) as JSON
// lines for later analysis. Every stream is optional; an empty path disables
// it and the write methods become no-ops.
package record

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"barbot-go/internal/execution"
	"barbot-go/internal/features"
	"barbot-go/internal/market"
	"barbot-go/internal/strategy"
)

// Writer appends JSON lines to one file.
type Writer struct {
	mu   sync.Mutex
	file *os.File
	enc  *json.Encoder
}

// NewWriter creates the parent directory if needed and opens the target
// file in append mode.
func NewWriter(path string) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &Writer{file: file, enc: json.NewEncoder(file)}, nil
}

// Write encodes one value as a JSON line. Safe on a nil receiver.
func (w *Writer) Write(v any) error {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.enc.Encode(v)
}

// Close closes the underlying file. Safe on a nil receiver and idempotent.
func (w *Writer) Close() error {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

// Streams bundles the four pipeline outputs.
type Streams struct {
	bars      *Writer
	snapshots *Writer
	signals   *Writer
	fills     *Writer
}

// Open opens a writer per non-empty path. On error it closes whatever was
// already opened so no handles leak.
func Open(barsPath, snapshotsPath, signalsPath, fillsPath string) (*Streams, error) {
	s := &Streams{}
	open := func(path string) (*Writer, error) {
		if path == "" {
			return nil, nil
		}
		return NewWriter(path)
	}
	var err error
	if s.bars, err = open(barsPath); err != nil {
		return nil, err
	}
	if s.snapshots, err = open(snapshotsPath); err != nil {
		s.Close()
		return nil, err
	}
	if s.signals, err = open(signalsPath); err != nil {
		s.Close()
		return nil, err
	}
	if s.fills, err = open(fillsPath); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

type snapshotLine struct {
	Symbol string            `json:"symbol"`
	Ts     time.Time         `json:"ts"`
	Snap   features.Snapshot `json:"snapshot"`
}

type signalLine struct {
	Symbol string    `json:"symbol"`
	Action string    `json:"action"`
	Reason string    `json:"reason"`
	Price  float64   `json:"price"`
	Qty    float64   `json:"qty"`
	Ts     time.Time `json:"ts"`
}

// Bar appends a closed bar after a final OHLC consistency check.
func (s *Streams) Bar(bar market.Bar) error {
	if s == nil || s.bars == nil {
		return nil
	}
	if err := market.CheckBar(bar); err != nil {
		return err
	}
	return s.bars.Write(bar)
}

// Snapshot appends the feature vector derived from a closed bar.
func (s *Streams) Snapshot(symbol string, ts time.Time, snap features.Snapshot) error {
	if s == nil {
		return nil
	}
	return s.snapshots.Write(snapshotLine{Symbol: symbol, Ts: ts, Snap: snap})
}

// Signal appends an evaluated signal, holds included.
func (s *Streams) Signal(symbol string, sig strategy.Signal) error {
	if s == nil {
		return nil
	}
	return s.signals.Write(signalLine{
		Symbol: symbol,
		Action: sig.Action.String(),
		Reason: sig.Reason.String(),
		Price:  sig.Price,
		Qty:    sig.Qty,
		Ts:     sig.BarTs,
	})
}

// Fill appends an accepted fill.
func (s *Streams) Fill(fill execution.Fill) error {
	if s == nil {
		return nil
	}
	return s.fills.Write(fill)
}

// Close closes all open writers and reports the first error.
func (s *Streams) Close() error {
	if s == nil {
		return nil
	}
	return errors.Join(s.bars.Close(), s.snapshots.Close(), s.signals.Close(), s.fills.Close())
}
