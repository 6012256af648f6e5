package models

// L2Level is a single aggregated price level of an order book side.
type L2Level struct {
	Px float64 `json:"px"`
	Sz float64 `json:"sz"`
	N  int64   `json:"n"`
}

// L2Snapshot is one order book snapshot from the hourly l2Book archive.
// Bids are ordered best (highest) first, asks best (lowest) first.
type L2Snapshot struct {
	Time   string    `json:"time"`
	Coin   string    `json:"coin"`
	TimeMs int64     `json:"time_ms"`
	Bids   []L2Level `json:"bids"`
	Asks   []L2Level `json:"asks"`
}
