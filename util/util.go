package util

import "log"

const Debug uint64 = 0

func DPrintf(level uint64, format string, a ...interface{}) {
	if level <= Debug {
		log.Printf(format, a...)
	}
}

// RoundUp divides n by sz, rounding up.
func RoundUp(n int64, sz int64) int64 {
	return (n + sz - 1) / sz
}

func Min(n int64, m int64) int64 {
	if n < m {
		return n
	}
	return m
}

// RoundUpPow2 returns the smallest power of two >= n (and 1 for n <= 1).
func RoundUpPow2(n int64) int64 {
	p := int64(1)
	for p < n {
		p <<= 1
	}
	return p
}

func CloneByteSlice(s []byte) []byte {
	s2 := make([]byte, len(s))
	copy(s2, s)
	return s2
}
