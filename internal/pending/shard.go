package pending

import "hash/fnv"

// ShardFor deterministically assigns an alert to one of numShards
// partitions. FNV-1a over the identifier bytes is stable across runs and
// processes, so every sweep sees the same partitioning and two different
// shard sweeps can never claim the same alert.
func ShardFor(alertID string, numShards int) int {
	h := fnv.New64a()
	h.Write([]byte(alertID))
	return int(h.Sum64() % uint64(numShards))
}
