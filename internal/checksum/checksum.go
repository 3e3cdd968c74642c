// Package checksum implements the RFC 1071 Internet checksum used by both the
// IPv4 header and the TCP segment.
package checksum

import "encoding/binary"

// Checksum returns the one's-complement of the folded 16-bit one's-complement
// sum of b. An odd trailing byte is summed as if b were padded with a single
// zero byte. Checksum(nil) is 0xffff.
func Checksum(b []byte) uint16 {
	return Fold(Partial(b, 0))
}

// Partial adds the 16-bit big-endian words of b to initial without folding,
// so that several spans (e.g. pseudo-header then segment) can be summed in
// turn. Only the last span passed may have odd length.
func Partial(b []byte, initial uint32) uint32 {
	sum := initial
	for i := 0; i+1 < len(b); i += 2 {
		sum += uint32(binary.BigEndian.Uint16(b[i : i+2]))
	}
	if len(b)%2 == 1 {
		sum += uint32(b[len(b)-1]) << 8
	}
	return sum
}

// Fold folds the carries of sum back into its low 16 bits and returns the
// complement.
func Fold(sum uint32) uint16 {
	for (sum >> 16) != 0 {
		sum = (sum & 0xffff) + (sum >> 16)
	}
	return ^uint16(sum)
}

// Valid reports whether b, with its checksum field already filled in, sums to
// zero.
func Valid(b []byte) bool {
	return Checksum(b) == 0
}
