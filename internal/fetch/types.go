// Package fetch aggregates the per-account tool calls into one consistent
// snapshot and gates it on real data being present.
package fetch

import "time"

// Result is the aggregate snapshot returned for one account. It is built
// fresh on every fetch; the core never caches it.
type Result struct {
	Segments     []map[string]any `json:"segments"`
	Campaigns    []map[string]any `json:"campaigns"`
	Flows        []map[string]any `json:"flows"`
	Metrics      []map[string]any `json:"metrics"`
	Lists        []map[string]any `json:"lists"`
	CatalogItems []map[string]any `json:"catalog_items"`
	Meta         Metadata         `json:"metadata"`
}

// Metadata records the fetch context alongside the data.
type Metadata struct {
	Account   string         `json:"account"`
	StartDate string         `json:"start_date,omitempty"`
	EndDate   string         `json:"end_date,omitempty"`
	FetchedAt time.Time      `json:"fetched_at"`
	Platform  string         `json:"platform"`
	Counts    map[string]int `json:"counts"`
}
