package models

import (
	"testing"
	"time"
)

func TestJSONBRoundTrip(t *testing.T) {
	in := JSONB{"scan_types": []any{"sast"}, "polls": float64(3)}
	v, err := in.Value()
	if err != nil {
		t.Fatalf("❌ Value failed: %v", err)
	}

	var out JSONB
	if err := out.Scan([]byte(v.(string))); err != nil {
		t.Fatalf("❌ Scan failed: %v", err)
	}
	if out["polls"] != float64(3) {
		t.Errorf("❌ Unexpected scanned value %+v", out)
	}

	if err := out.Scan(nil); err != nil || out != nil {
		t.Errorf("❌ Expected nil jsonb, got %+v (%v)", out, err)
	}
	if err := out.Scan(42); err == nil {
		t.Error("❌ Expected unsupported source error")
	}
	if v, _ := JSONB(nil).Value(); v != nil {
		t.Errorf("❌ Expected nil value, got %v", v)
	}
}

func TestScanRecordDuration(t *testing.T) {
	start := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	r := ScanRecord{StartedAt: start}
	if r.Finished() || r.Duration() != 0 {
		t.Error("❌ Running record must have no duration")
	}
	end := start.Add(90 * time.Second)
	r.FinishedAt = &end
	if !r.Finished() || r.Duration() != 90*time.Second {
		t.Errorf("❌ Unexpected duration %v", r.Duration())
	}
}
