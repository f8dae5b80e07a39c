package pagination

// sample draws min(n, len(items)) distinct elements with a partial
// Fisher-Yates shuffle over a copy of items. intN(k) must return a uniform
// value in [0, k).
func sample[T any](items []T, n int, intN func(int) int) []T {
	if n < 0 {
		n = 0
	}
	k := min(n, len(items))

	pool := cloneItems(items)
	for i := 0; i < k; i++ {
		j := i + intN(len(pool)-i)
		pool[i], pool[j] = pool[j], pool[i]
	}
	return pool[:k:k]
}
