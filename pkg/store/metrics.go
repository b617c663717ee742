package store

// CacheStats is a small slice of pebble's internal metrics, enough for
// the telemetry gauges without exporting the whole metrics tree.
type CacheStats struct {
	DiskUsageBytes uint64
	MemtableBytes  uint64
	Compactions    int64
}

func Stats() CacheStats {
	if db == nil {
		return CacheStats{}
	}
	m := db.Metrics()
	return CacheStats{
		DiskUsageBytes: m.DiskSpaceUsage(),
		MemtableBytes:  m.MemTable.Size,
		Compactions:    m.Compact.Count,
	}
}
