package writer

import (
	"time"

	"github.com/kanekoshoyu/anysignal/internal/questdb"
	"github.com/kanekoshoyu/anysignal/models"
)

// Rows is a batch of parsed source rows. Fanout renders row i into the wire
// records it produces, in order. Count is the number reported as inserted
// once the whole batch has loaded.
type Rows interface {
	Table() string
	Len() int
	Count() int
	Fanout(i int, emit func(models.Record))
}

// assetCtxMetrics are always written; mid_px and premium follow only when
// the archive carried them.
var assetCtxMetrics = []struct {
	category string
	value    func(models.AssetContextRow) float64
}{
	{"open_interest", func(r models.AssetContextRow) float64 { return r.OpenInterest }},
	{"funding", func(r models.AssetContextRow) float64 { return r.Funding }},
	{"mark_px", func(r models.AssetContextRow) float64 { return r.MarkPx }},
	{"oracle_px", func(r models.AssetContextRow) float64 { return r.OraclePx }},
	{"prev_day_px", func(r models.AssetContextRow) float64 { return r.PrevDayPx }},
	{"day_ntl_vlm", func(r models.AssetContextRow) float64 { return r.DayNtlVlm }},
}

// AssetContexts fans each row out into one market_data record per metric.
type AssetContexts []models.AssetContextRow

func (a AssetContexts) Table() string { return questdb.AssetCtxsTable }
func (a AssetContexts) Len() int      { return len(a) }

// Count is the number of archive CSV rows, not metric records.
func (a AssetContexts) Count() int { return len(a) }

func (a AssetContexts) Fanout(i int, emit func(models.Record)) {
	row := a[i]
	metric := func(category string, v float64) models.Record {
		return models.NewRecord(questdb.AssetCtxsTable, row.Time).
			WithSymbol("category", category).
			WithSymbol("ticker", row.Coin).
			WithSymbol("source", questdb.ArchiveSource).
			WithFloat("value", v)
	}

	for _, m := range assetCtxMetrics {
		emit(metric(m.category, m.value(row)))
	}
	if row.MidPx != nil {
		emit(metric("mid_px", *row.MidPx))
	}
	if row.Premium != nil {
		emit(metric("premium", *row.Premium))
	}
}

// L2Snapshots fans each snapshot out into one l2_snapshot record per level
// per side. Level indexes are 0-based within their side.
type L2Snapshots []models.L2Snapshot

func (s L2Snapshots) Table() string { return questdb.L2Table }
func (s L2Snapshots) Len() int      { return len(s) }

// Count is the number of level records.
func (s L2Snapshots) Count() int {
	n := 0
	for _, snap := range s {
		n += len(snap.Bids) + len(snap.Asks)
	}
	return n
}

func (s L2Snapshots) Fanout(i int, emit func(models.Record)) {
	snap := s[i]
	ts := time.UnixMicro(snap.TimeMs * 1000)
	side := func(name string, levels []models.L2Level) {
		for idx, lvl := range levels {
			emit(models.NewRecord(questdb.L2Table, ts).
				WithSymbol("ticker", snap.Coin).
				WithSymbol("side", name).
				WithInt("level", int64(idx)).
				WithFloat("price", lvl.Px).
				WithFloat("quantity", lvl.Sz))
		}
	}
	side("bid", snap.Bids)
	side("ask", snap.Asks)
}
