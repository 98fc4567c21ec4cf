package rangehttp

import "fmt"

// MinPartSize is the smallest share a worker is given before the worker
// count is reduced.
const MinPartSize = 50 * 1024

// Range is an inclusive byte span of the source.
type Range struct {
	Start int64
	End   int64
}

func (r Range) Len() int64 {
	return r.End - r.Start + 1
}

func (r Range) String() string {
	return fmt.Sprintf("[%d-%d]", r.Start, r.End)
}

// EffectiveWorkers clamps requested to [1, totalSize] and lowers it further
// so that no worker is handed less than MinPartSize.
func EffectiveWorkers(totalSize int64, requested int) int {
	if totalSize <= 0 {
		return 0
	}
	count := int64(max(requested, 1))
	count = min(count, totalSize)
	if count > 1 && totalSize/count < MinPartSize {
		count = max(1, totalSize/MinPartSize)
	}
	return int(count)
}

// Partition splits totalSize into contiguous ranges whose lengths differ by
// at most one byte, the longer ones first.
func Partition(totalSize int64, requested int) []Range {
	if totalSize <= 0 {
		return nil
	}
	count := int64(EffectiveWorkers(totalSize, requested))
	perPart := totalSize / count
	remainder := totalSize % count
	ranges := make([]Range, 0, count)
	var start int64
	for i := int64(0); i < count; i++ {
		size := perPart
		if i < remainder {
			size++
		}
		if size <= 0 || start >= totalSize {
			continue
		}
		end := min(start+size-1, totalSize-1)
		ranges = append(ranges, Range{Start: start, End: end})
		start = end + 1
	}
	if len(ranges) == 0 {
		return []Range{{Start: 0, End: totalSize - 1}}
	}
	return ranges
}
