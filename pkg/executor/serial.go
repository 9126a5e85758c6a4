package executor

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// batchSize converts one serial entry, a count or a percentage of total, to a
// host count of at least one.
func batchSize(entry string, total int) (int, error) {
	entry = strings.TrimSpace(entry)
	if pct, isPct := strings.CutSuffix(entry, "%"); isPct {
		value, err := strconv.ParseFloat(strings.TrimSpace(pct), 64)
		if err != nil || value < 0 {
			return 0, fmt.Errorf("invalid serial percentage %q", entry)
		}
		size := int(math.Floor(float64(total) * value / 100))
		return max(size, 1), nil
	}
	size, err := strconv.Atoi(entry)
	if err != nil || size < 0 {
		return 0, fmt.Errorf("invalid serial value %q", entry)
	}
	if size == 0 {
		return total, nil
	}
	return size, nil
}

// Batches splits total hosts into rolling batch sizes. Entries apply in
// order and the last entry repeats until every host is covered. An empty
// serial list yields one batch.
func Batches(serial []string, total int) ([]int, error) {
	if total == 0 {
		return nil, nil
	}
	if len(serial) == 0 {
		return []int{total}, nil
	}

	var sizes []int
	remaining := total
	for i := 0; remaining > 0; i++ {
		entry := serial[min(i, len(serial)-1)]
		size, err := batchSize(entry, total)
		if err != nil {
			return nil, err
		}
		size = min(size, remaining)
		sizes = append(sizes, size)
		remaining -= size
	}
	return sizes, nil
}
