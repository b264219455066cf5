package dispatch

// Shard splits ids into consecutive groups of at most size, yielding
// ceil(len(ids)/size) shards. Order is preserved.
func Shard(ids []int64, size int) [][]int64 {
	if len(ids) == 0 {
		return nil
	}
	if size <= 0 {
		size = len(ids)
	}
	shards := make([][]int64, 0, (len(ids)+size-1)/size)
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		shards = append(shards, ids[start:end:end])
	}
	return shards
}
