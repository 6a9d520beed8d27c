package domain

// OrderColumn is the sparse integer ordering column maintained on every
// managed table. Rows are positioned by midpoint insertion into the gaps;
// a full rebalance rewrites the column when a gap is exhausted.
const OrderColumn = "_row_id"

// ShardInfo describes one persisted partition of a table's rows.
type ShardInfo struct {
	Index int    `json:"index"`
	Path  string `json:"path"`
	Rows  int64  `json:"rows"`
}

// ShardManifest is the metadata record listing a table's shards. A
// manifest is the unit of atomic publication: transforms build a new
// manifest id and swap it over the published id only on full success.
type ShardManifest struct {
	SnapshotID    string       `json:"snapshot_id"`
	Table         string       `json:"table"`
	Shards        []ShardInfo  `json:"shards"`
	TotalRows     int64        `json:"total_rows"`
	Columns       []ColumnInfo `json:"columns"`
	OrderByColumn string       `json:"order_by_column,omitempty"`
}
