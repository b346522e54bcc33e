package models

// WatchedContract is an address of interest, read-only context for ingestion
type WatchedContract struct {
	ID      int64  `json:"id" db:"id"`
	Address string `json:"address" db:"address"`
	Label   string `json:"label" db:"label"`
}
