package experiment

// deriveSeed gives every (problem, attempt) pair its own random stream.
// Grid cells share the streams of their problem, so two cells compare on
// the same starting populations.
func deriveSeed(base int64, problemIndex, attemptIndex int) int64 {
	h := splitmix(uint64(base))
	h = splitmix(h ^ uint64(problemIndex))
	h = splitmix(h ^ uint64(attemptIndex))
	return int64(h >> 1)
}

// splitmix is the SplitMix64 finalizer.
func splitmix(x uint64) uint64 {
	x += 0x9e3779b97f4a7c15
	x = (x ^ (x >> 30)) * 0xbf58476d1ce4e5b9
	x = (x ^ (x >> 27)) * 0x94d049bb133111eb
	return x ^ (x >> 31)
}
