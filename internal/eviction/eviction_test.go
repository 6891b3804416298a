package eviction

var (
	_ Policy = (*lru)(nil)
	_ Policy = (*lfu)(nil)
	_ Policy = (*arc)(nil)
)
