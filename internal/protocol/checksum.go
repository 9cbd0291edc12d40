package protocol

// ChecksumSeed is the initial value of the DATA payload checksum.
const ChecksumSeed = 0xEF

// Checksum computes the checksum carried in the header of DATA commands.
// It is the XOR of every payload byte folded into ChecksumSeed.
func Checksum(payload []byte) uint32 {
	var checksum byte = ChecksumSeed
	for _, b := range payload {
		checksum ^= b
	}
	return uint32(checksum)
}

// VerifyChecksum reports whether want matches the checksum of payload.
func VerifyChecksum(payload []byte, want uint32) bool {
	return Checksum(payload) == want
}
