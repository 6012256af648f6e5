package writer

import (
	"strings"
	"testing"
	"time"

	"github.com/kanekoshoyu/anysignal/internal/questdb"
	"github.com/kanekoshoyu/anysignal/models"
)

func collect(rows Rows) []models.Record {
	var out []models.Record
	for i := 0; i < rows.Len(); i++ {
		rows.Fanout(i, func(r models.Record) { out = append(out, r) })
	}
	return out
}

func symbol(r models.Record, name string) string {
	for _, s := range r.Symbols {
		if s.Name == name {
			return s.Value
		}
	}
	return ""
}

func TestAssetContextsFanout(t *testing.T) {
	ts := time.Date(2024, 1, 1, 0, 0, 0, 123456789, time.UTC)
	rows := AssetContexts{
		{Time: ts, Coin: "ETH", Funding: 0.1, OpenInterest: 2, MarkPx: 3, OraclePx: 4, PrevDayPx: 5, DayNtlVlm: 6},
		{Time: ts, Coin: "ETH", MidPx: ptr(7), Premium: ptr(0)},
	}

	got := collect(rows)
	if len(got) != 6+8 {
		t.Fatalf("expected 14 records, got %d", len(got))
	}

	wantCategories := []string{"open_interest", "funding", "mark_px", "oracle_px", "prev_day_px", "day_ntl_vlm"}
	for i, c := range wantCategories {
		if symbol(got[i], "category") != c {
			t.Fatalf("record %d category = %s, want %s", i, symbol(got[i], "category"), c)
		}
	}
	if got[0].Columns[0].Float != 2 || got[1].Columns[0].Float != 0.1 {
		t.Fatalf("metric values out of order: %+v %+v", got[0], got[1])
	}
	if symbol(got[12], "category") != "mid_px" || symbol(got[13], "category") != "premium" {
		t.Fatalf("optional metrics missing or out of order")
	}
	if got[13].Columns[0].Float != 0 {
		t.Fatalf("present zero premium must be written as 0")
	}

	first := got[0]
	if first.Table != "market_data" || symbol(first, "ticker") != "ETH" || symbol(first, "source") != "HYPERLIQUID_S3" {
		t.Fatalf("unexpected record %+v", first)
	}
	if first.Symbols[0].Name != "category" || first.Symbols[1].Name != "ticker" || first.Symbols[2].Name != "source" {
		t.Fatalf("symbol order changed: %+v", first.Symbols)
	}
	if !first.Timestamp.Equal(ts.Truncate(time.Microsecond)) {
		t.Fatalf("timestamp not truncated to micros: %v", first.Timestamp)
	}
}

func TestL2SnapshotsFanout(t *testing.T) {
	rows := L2Snapshots{{
		Coin:   "BTC",
		TimeMs: 1681516807400,
		Bids:   []models.L2Level{{Px: 30439, Sz: 0.08236, N: 2}, {Px: 30438, Sz: 1, N: 1}},
		Asks:   []models.L2Level{{Px: 30440, Sz: 3, N: 4}},
	}}

	got := collect(rows)
	if len(got) != 3 {
		t.Fatalf("expected 3 records, got %d", len(got))
	}

	wantSides := []string{"bid", "bid", "ask"}
	wantLevels := []int64{0, 1, 0}
	for i, r := range got {
		if r.Table != "l2_snapshot" || symbol(r, "ticker") != "BTC" {
			t.Fatalf("unexpected record %+v", r)
		}
		if symbol(r, "side") != wantSides[i] {
			t.Fatalf("record %d side = %s", i, symbol(r, "side"))
		}
		if r.Columns[0].Name != "level" || r.Columns[0].Int != wantLevels[i] {
			t.Fatalf("record %d level = %+v", i, r.Columns[0])
		}
		if r.Timestamp.UnixMicro() != 1681516807400000 {
			t.Fatalf("timestamp = %d", r.Timestamp.UnixMicro())
		}
	}
	if got[0].Columns[1].Float != 30439 || got[0].Columns[2].Float != 0.08236 {
		t.Fatalf("price/quantity mismatch: %+v", got[0].Columns)
	}
}

func TestRowsCount(t *testing.T) {
	assets := AssetContexts{{Coin: "BTC", MidPx: ptr(1), Premium: ptr(2)}, {Coin: "ETH"}}
	if assets.Count() != 2 {
		t.Fatalf("asset contexts count CSV rows, got %d", assets.Count())
	}
	if len(collect(assets)) != 14 {
		t.Fatalf("fan-out changed")
	}

	books := L2Snapshots{
		{Coin: "BTC", Bids: make([]models.L2Level, 2), Asks: make([]models.L2Level, 3)},
		{Coin: "BTC", Bids: make([]models.L2Level, 1)},
	}
	if books.Count() != 6 || len(collect(books)) != 6 {
		t.Fatalf("l2 count = %d, records = %d", books.Count(), len(collect(books)))
	}
}

// Every column a record carries must be declared by the table the store
// creates, or QuestDB would add it with a guessed type.
func TestRecordsMatchTableDDL(t *testing.T) {
	ddl := func(table string) string {
		for _, stmt := range questdb.TableDDL {
			if strings.Contains(stmt, "EXISTS "+table+" (") {
				return stmt
			}
		}
		t.Fatalf("no DDL for %s", table)
		return ""
	}

	batches := []Rows{
		AssetContexts{{Coin: "BTC", MidPx: ptr(1), Premium: ptr(2)}},
		L2Snapshots{{Coin: "BTC", Bids: make([]models.L2Level, 1), Asks: make([]models.L2Level, 1)}},
	}
	for _, rows := range batches {
		stmt := ddl(rows.Table())
		for _, r := range collect(rows) {
			for _, sym := range r.Symbols {
				if !strings.Contains(stmt, sym.Name+" SYMBOL") {
					t.Fatalf("%s: symbol %s not declared", r.Table, sym.Name)
				}
			}
			for _, c := range r.Columns {
				want := c.Name + " DOUBLE"
				if c.Kind == models.IntColumn {
					want = c.Name + " LONG"
				}
				if !strings.Contains(stmt, want) {
					t.Fatalf("%s: column %q not declared", r.Table, want)
				}
			}
		}
	}
}
