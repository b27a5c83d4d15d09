package odkafka

// ODReadyEvent announces that a new OD batch for Date has landed and is
// ready to be aggregated; Source is whatever pointer the external
// fetcher already resolved it to (a file path or URL this process
// passes straight through to its OD loader).
type ODReadyEvent struct {
	Date   string `json:"date"`
	Rows   int    `json:"rows"`
	Source string `json:"source"`
}
