package record

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"barbot-go/internal/execution"
	"barbot-go/internal/features"
	"barbot-go/internal/market"
	"barbot-go/internal/strategy"
)

func readLines(t *testing.T, path string) []string {
	t.Helper()
	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer file.Close()
	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines
}

func TestStreamsWriteJSONLines(t *testing.T) {
	tmp := t.TempDir()
	barsPath := filepath.Join(tmp, "bars.jsonl")
	snapshotsPath := filepath.Join(tmp, "snapshots.jsonl")
	signalsPath := filepath.Join(tmp, "signals.jsonl")
	fillsPath := filepath.Join(tmp, "fills.jsonl")

	streams, err := Open(barsPath, snapshotsPath, signalsPath, fillsPath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	end := time.UnixMilli(1_700_000_000_000)
	bar := market.Bar{Symbol: "BTCUSDT", Open: 100, High: 101, Low: 99, Close: 100.5, Volume: 3, TradeCount: 3, End: end}
	if err := streams.Bar(bar); err != nil {
		t.Fatalf("Bar: %v", err)
	}
	snap := features.Snapshot{Close: 100.5, Momentum: features.Indicator{Value: 0.004, Valid: true}}
	if err := streams.Snapshot("BTCUSDT", end, snap); err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	sig := strategy.Signal{Action: strategy.ActionEnterLong, Reason: strategy.ReasonMomentum, Price: 100.5, Qty: 2, BarTs: end}
	if err := streams.Signal("BTCUSDT", sig); err != nil {
		t.Fatalf("Signal: %v", err)
	}
	fill := execution.Fill{ID: "f1", Symbol: "BTCUSDT", Side: execution.Buy, Qty: 2, Price: 100.7, Ts: end}
	if err := streams.Fill(fill); err != nil {
		t.Fatalf("Fill: %v", err)
	}
	if err := streams.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	var gotBar market.Bar
	if err := json.Unmarshal([]byte(readLines(t, barsPath)[0]), &gotBar); err != nil {
		t.Fatalf("decode bar: %v", err)
	}
	if gotBar.Symbol != "BTCUSDT" || gotBar.Close != 100.5 {
		t.Fatalf("unexpected bar line: %+v", gotBar)
	}

	var gotSnap snapshotLine
	if err := json.Unmarshal([]byte(readLines(t, snapshotsPath)[0]), &gotSnap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if gotSnap.Symbol != "BTCUSDT" || !gotSnap.Snap.Momentum.Valid || gotSnap.Snap.Momentum.Value != 0.004 {
		t.Fatalf("unexpected snapshot line: %+v", gotSnap)
	}

	var gotSig signalLine
	if err := json.Unmarshal([]byte(readLines(t, signalsPath)[0]), &gotSig); err != nil {
		t.Fatalf("decode signal: %v", err)
	}
	if gotSig.Action != "ENTER_LONG" || gotSig.Reason != "momentum" {
		t.Fatalf("unexpected signal line: %+v", gotSig)
	}

	var gotFill execution.Fill
	if err := json.Unmarshal([]byte(readLines(t, fillsPath)[0]), &gotFill); err != nil {
		t.Fatalf("decode fill: %v", err)
	}
	if gotFill.ID != "f1" || gotFill.Side != execution.Buy {
		t.Fatalf("unexpected fill line: %+v", gotFill)
	}
}

func TestDisabledStreamsAreNoOps(t *testing.T) {
	streams, err := Open("", "", "", "")
	if err != nil {
		t.Fatalf("Open with empty paths: %v", err)
	}
	if err := streams.Bar(market.Bar{}); err != nil {
		t.Fatalf("disabled bar stream: %v", err)
	}
	if err := streams.Snapshot("X", time.Time{}, features.Snapshot{}); err != nil {
		t.Fatalf("disabled snapshot stream: %v", err)
	}
	if err := streams.Signal("X", strategy.Signal{}); err != nil {
		t.Fatalf("disabled signal stream: %v", err)
	}
	if err := streams.Fill(execution.Fill{}); err != nil {
		t.Fatalf("disabled fill stream: %v", err)
	}
	if err := streams.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	var nilStreams *Streams
	if err := nilStreams.Bar(market.Bar{}); err != nil {
		t.Fatalf("nil streams should be safe: %v", err)
	}
}

func TestWriterAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.jsonl")
	for i := 0; i < 2; i++ {
		w, err := NewWriter(path)
		if err != nil {
			t.Fatalf("NewWriter: %v", err)
		}
		if err := w.Write(map[string]int{"run": i}); err != nil {
			t.Fatalf("Write: %v", err)
		}
		if err := w.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
	}
	if got := len(readLines(t, path)); got != 2 {
		t.Fatalf("expected 2 appended lines, got %d", got)
	}
}
