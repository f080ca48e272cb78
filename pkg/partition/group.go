package partition

import "fmt"

// Group splits items into n contiguous groups whose sizes differ by at most one.
// The first len(items)%n groups get the extra element. The groups share the
// backing array of items, so concatenating them in order yields items again.
// Group panics if n < 1.
func Group[T any](n int, items []T) [][]T {
	if n < 1 {
		panic(fmt.Sprintf("partition: group count must be positive, got %d", n))
	}

	remainder := len(items) % n
	segment := len(items) / n
	groups := make([][]T, 0, n)

	offset := 0
	for range n {
		size := segment
		if remainder > 0 {
			size++
			remainder--
		}
		groups = append(groups, items[offset:offset+size:offset+size])
		offset += size
	}
	return groups
}

// Sizes returns the group sizes Group would produce for total items.
func Sizes(n, total int) []int {
	if n < 1 {
		panic(fmt.Sprintf("partition: group count must be positive, got %d", n))
	}
	sizes := make([]int, n)
	for i := range sizes {
		sizes[i] = total / n
		if i < total%n {
			sizes[i]++
		}
	}
	return sizes
}
