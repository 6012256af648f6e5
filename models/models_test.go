package models

import (
	"encoding/json"
	"testing"
	"time"
)

func TestPeriodKeyLabels(t *testing.T) {
	ts := time.Date(2024, 1, 1, 23, 45, 12, 0, time.UTC)

	day := DayKey(ts)
	if day.Label() != "2024-01-01" {
		t.Fatalf("unexpected day label: %s", day.Label())
	}
	if !day.End().Equal(time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected day end: %s", day.End())
	}

	hour := HourKey(ts, "BTC")
	if hour.Label() != "2024-01-01T23:00:00" {
		t.Fatalf("unexpected hour label: %s", hour.Label())
	}
	if hour.String() != "2024-01-01T23:00:00/BTC" {
		t.Fatalf("unexpected hour string: %s", hour.String())
	}
	if !hour.End().Equal(time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected hour end: %s", hour.End())
	}
}

func TestParseSourceKind(t *testing.T) {
	cases := []struct {
		in   string
		want SourceKind
		ok   bool
	}{
		{"HyperliquidAssetCtxs", SourceAssetCtxs, true},
		{"hyperliquidl2orderbook", SourceL2Orderbook, true},
		{"asset_ctxs", SourceAssetCtxs, true},
		{" l2_book ", SourceL2Orderbook, true},
		{"trades", "", false},
	}
	for _, c := range cases {
		got, err := ParseSourceKind(c.in)
		if (err == nil) != c.ok {
			t.Errorf("ParseSourceKind(%q) err = %v", c.in, err)
			continue
		}
		if got != c.want {
			t.Errorf("ParseSourceKind(%q) = %q, want %q", c.in, got, c.want)
		}
	}
	if SourceL2Orderbook.Granularity() != Hourly || SourceAssetCtxs.Granularity() != Daily {
		t.Fatalf("unexpected granularity mapping")
	}
}

func TestRecordSizeMatchesLine(t *testing.T) {
	ts := time.Date(2023, 4, 15, 0, 0, 7, 400_000_000, time.UTC)
	rec := NewRecord("l2_snapshot", ts).
		WithSymbol("ticker", "BTC").
		WithSymbol("side", "bid").
		WithInt("level", 0).
		WithFloat("price", 30439).
		WithFloat("quantity", 0.08236)

	line := "l2_snapshot,ticker=BTC,side=bid level=0i,price=30439,quantity=0.08236 1681516807400000000\n"
	if rec.Size() != len(line) {
		t.Fatalf("Size() = %d, want %d", rec.Size(), len(line))
	}
}

func TestNewRecordTruncatesToMicros(t *testing.T) {
	ts := time.Date(2024, 1, 1, 0, 0, 0, 123_456_789, time.UTC)
	rec := NewRecord("market_data", ts)
	if rec.Timestamp.Nanosecond() != 123_456_000 {
		t.Fatalf("timestamp not truncated: %d", rec.Timestamp.Nanosecond())
	}
	if !time.UnixMicro(rec.Timestamp.UnixMicro()).Equal(rec.Timestamp) {
		t.Fatalf("timestamp does not round trip through microseconds")
	}
}

func TestBackfillResultJSON(t *testing.T) {
	res := NewBackfillResult("run")
	res.RecordSkipped("2024-01-01")
	res.RecordFailed("2024-01-02: Fetch error: missing", 0)
	res.RecordSucceeded("2024-01-03", 12)

	data, err := json.Marshal(res)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out map[string]interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, key := range []string{"dates_ok", "dates_err", "dates_skipped", "total_ok", "total_err", "total_skipped", "rows_inserted"} {
		if _, ok := out[key]; !ok {
			t.Errorf("missing key %s in %s", key, data)
		}
	}
	if res.TotalOK != 1 || res.TotalErr != 1 || res.TotalSkipped != 1 || res.RowsInserted != 12 {
		t.Fatalf("unexpected totals: %+v", res)
	}

	empty, _ := json.Marshal(NewBackfillResult("x"))
	var emptyOut map[string]interface{}
	_ = json.Unmarshal(empty, &emptyOut)
	if list, ok := emptyOut["dates_ok"].([]interface{}); !ok || len(list) != 0 {
		t.Fatalf("expected empty list, got %v", emptyOut["dates_ok"])
	}
}
