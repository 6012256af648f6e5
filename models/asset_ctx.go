package models

import "time"

// AssetContextRow is one line of the daily asset context archive. The
// optional fields are nil when the archive leaves them empty or "null";
// zero is a legitimate value for them.
type AssetContextRow struct {
	Time         time.Time `json:"time"`
	Coin         string    `json:"coin"`
	Funding      float64   `json:"funding"`
	OpenInterest float64   `json:"open_interest"`
	PrevDayPx    float64   `json:"prev_day_px"`
	DayNtlVlm    float64   `json:"day_ntl_vlm"`
	Premium      *float64  `json:"premium,omitempty"`
	OraclePx     float64   `json:"oracle_px"`
	MarkPx       float64   `json:"mark_px"`
	MidPx        *float64  `json:"mid_px,omitempty"`
	ImpactBidPx  *float64  `json:"impact_bid_px,omitempty"`
	ImpactAskPx  *float64  `json:"impact_ask_px,omitempty"`
}
