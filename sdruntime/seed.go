package sdruntime

import (
	"crypto/rand"
	"encoding/binary"

	"photomaker/core"
)

// MaxSeed is the largest seed the pipeline generator accepts (int32 max).
const MaxSeed = core.MaxSeed

// RandomSeed returns a uniformly distributed seed in [0, MaxSeed].
func RandomSeed() int64 {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// crypto/rand does not fail on supported platforms
		return 42
	}
	return int64(binary.LittleEndian.Uint64(buf[:]) % (uint64(MaxSeed) + 1))
}

// ResolveSeed returns *seed when set and a fresh random seed otherwise.
func ResolveSeed(seed *int64) int64 {
	if seed != nil {
		return *seed
	}
	return RandomSeed()
}
