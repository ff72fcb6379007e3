package ist

// Numeric constrains the key type a Tree can be built over. Interpolation
// search needs both a total order and a distance computable as a
// float64, so the constraint is limited to the built-in numeric kinds.
type Numeric interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 |
		~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 | ~uintptr |
		~float32 | ~float64
}

// toFloat widens a key to float64 for the interpolation fraction. Losing
// precision at the extreme end of uint64/int64 is acceptable: the result
// only steers which child is probed first, a later key comparison at the
// leaf always decides membership exactly.
func toFloat[K Numeric](k K) float64 {
	return float64(k)
}
