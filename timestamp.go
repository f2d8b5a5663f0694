package rtmp

// CompareTimestamps compares two 32-bit timestamps as unsigned values.
// It returns -1 if a < b, 0 if they are equal and 1 if a > b.
func CompareTimestamps(a, b uint32) int {
	switch {
	case a == b:
		return 0
	case a < b:
		return -1
	default:
		return 1
	}
}

// TimestampDifference returns the forward distance from b to a, (a - b) mod 2^32.
// The result is correct even if the 32-bit counter wrapped between b and a.
func TimestampDifference(a, b uint32) uint64 {
	return uint64(a-b) & 0xFFFFFFFF
}

// RolloverDelta returns the number of ticks elapsed between previous and current, adding 2^32 if
// the counter rolled over. Used when encoding chunk timestamp deltas.
func RolloverDelta(current, previous uint32) uint32 {
	delta := int64(current) - int64(previous)
	if delta < 0 {
		delta += 1 << 32
	}
	return uint32(delta)
}
