package wsendpoint

import "crypto/rand"

// defaultRandRead is the secure random source used for both
// GenerateClientKey and per-frame mask generation. RFC 6455 requires
// masks to be unpredictable; the source this library replaces seeds a
// non-cryptographic PRNG for both, which section 9's design notes flag
// as a bug to fix rather than reproduce.
func defaultRandRead(p []byte) (int, error) {
	return rand.Read(p)
}

// MaskBytes applies the RFC 6455 Section 5.3 masking algorithm to data in
// place: output[i] = input[i] XOR key[i mod 4], with key treated as four
// big-endian bytes. The operation is its own inverse, so the same function
// both masks and unmasks a payload.
//
// Grounded on the teacher's maskBytesDefault (shockwave/pkg/shockwave/
// websocket/protocol.go): an 8-bytes-at-a-time XOR fast path with a
// byte-by-byte fallback for short payloads. The teacher also offers an
// AVX2 assembly path gated on golang.org/x/sys/cpu; the assembly file
// implementing it was not part of the retrieval pack, so only the portable
// scalar path is carried here (see DESIGN.md).
func MaskBytes(data []byte, key [4]byte) {
	if len(data) < 8 {
		for i := range data {
			data[i] ^= key[i%4]
		}
		return
	}

	key64 := uint64(key[0]) |
		uint64(key[1])<<8 |
		uint64(key[2])<<16 |
		uint64(key[3])<<24 |
		uint64(key[0])<<32 |
		uint64(key[1])<<40 |
		uint64(key[2])<<48 |
		uint64(key[3])<<56

	i := 0
	for ; i+8 <= len(data); i += 8 {
		v := uint64(data[i]) |
			uint64(data[i+1])<<8 |
			uint64(data[i+2])<<16 |
			uint64(data[i+3])<<24 |
			uint64(data[i+4])<<32 |
			uint64(data[i+5])<<40 |
			uint64(data[i+6])<<48 |
			uint64(data[i+7])<<56
		v ^= key64
		data[i] = byte(v)
		data[i+1] = byte(v >> 8)
		data[i+2] = byte(v >> 16)
		data[i+3] = byte(v >> 24)
		data[i+4] = byte(v >> 32)
		data[i+5] = byte(v >> 40)
		data[i+6] = byte(v >> 48)
		data[i+7] = byte(v >> 56)
	}
	for ; i < len(data); i++ {
		data[i] ^= key[i%4]
	}
}
