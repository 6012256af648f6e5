package processor

import (
	"encoding/csv"
	"errors"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/kanekoshoyu/anysignal/internal/apperr"
	"github.com/kanekoshoyu/anysignal/models"
)

const (
	colTime         = "time"
	colCoin         = "coin"
	colFunding      = "funding"
	colOpenInterest = "open_interest"
	colPrevDayPx    = "prev_day_px"
	colDayNtlVlm    = "day_ntl_vlm"
	colPremium      = "premium"
	colOraclePx     = "oracle_px"
	colMarkPx       = "mark_px"
	colMidPx        = "mid_px"
	colImpactBidPx  = "impact_bid_px"
	colImpactAskPx  = "impact_ask_px"
)

var requiredAssetCtxColumns = []string{
	colTime, colCoin, colFunding, colOpenInterest, colPrevDayPx, colDayNtlVlm, colOraclePx, colMarkPx,
}

// ParseAssetCtxs decodes the daily asset context CSV. Columns are matched by
// header name; a missing required column fails the whole body and a
// header-only body yields no rows.
func ParseAssetCtxs(text string) ([]models.AssetContextRow, error) {
	r := csv.NewReader(strings.NewReader(text))
	r.ReuseRecord = true

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return []models.AssetContextRow{}, nil
	}
	if err != nil {
		return nil, apperr.Parserf(err, "failed to read asset_ctxs header")
	}

	idx := make(map[string]int, len(header))
	for i, name := range header {
		idx[strings.TrimSpace(name)] = i
	}
	for _, name := range requiredAssetCtxColumns {
		if _, ok := idx[name]; !ok {
			return nil, apperr.Parserf(nil, "asset_ctxs header is missing required column %q", name)
		}
	}

	rows := make([]models.AssetContextRow, 0, 256)
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, apperr.Parserf(err, "failed to read asset_ctxs row")
		}
		line, _ := r.FieldPos(0)
		d := rowDecoder{idx: idx, record: record, line: line}

		row := models.AssetContextRow{
			Time:         d.time(colTime),
			Coin:         d.text(colCoin),
			Funding:      d.float(colFunding),
			OpenInterest: d.float(colOpenInterest),
			PrevDayPx:    d.float(colPrevDayPx),
			DayNtlVlm:    d.float(colDayNtlVlm),
			Premium:      d.optFloat(colPremium),
			OraclePx:     d.float(colOraclePx),
			MarkPx:       d.float(colMarkPx),
			MidPx:        d.optFloat(colMidPx),
			ImpactBidPx:  d.optFloat(colImpactBidPx),
			ImpactAskPx:  d.optFloat(colImpactAskPx),
		}
		if d.err != nil {
			return nil, d.err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// rowDecoder keeps the first decode error of a row so the field list above
// reads as a plain struct literal.
type rowDecoder struct {
	idx    map[string]int
	record []string
	line   int
	err    error
}

func (d *rowDecoder) raw(col string) (string, bool) {
	i, ok := d.idx[col]
	if !ok || i >= len(d.record) {
		return "", false
	}
	return strings.TrimSpace(d.record[i]), true
}

func (d *rowDecoder) fail(col, value string, err error) {
	if d.err == nil {
		d.err = apperr.Parserf(err, "line %d column %s: invalid value %q", d.line, col, value)
	}
}

func (d *rowDecoder) text(col string) string {
	v, _ := d.raw(col)
	return v
}

func (d *rowDecoder) time(col string) time.Time {
	v, _ := d.raw(col)
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		d.fail(col, v, err)
	}
	return t.UTC()
}

func (d *rowDecoder) float(col string) float64 {
	v, _ := d.raw(col)
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		d.fail(col, v, err)
	}
	return f
}

// optFloat maps "" and "null" (any case) to nil; any other text must be a
// number.
func (d *rowDecoder) optFloat(col string) *float64 {
	v, ok := d.raw(col)
	if !ok || v == "" || strings.EqualFold(v, "null") {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		d.fail(col, v, err)
		return nil
	}
	return &f
}
