package common

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
)

// The returned string has no 0x prefix
func ByteSliceToPureHexStr(b []byte) string {
	return hex.EncodeToString(b)
}

// Decode a hex string (with/without prefix 0x) to a byte slice.
// Malformed input yields an empty slice.
func HexStrToByteSlice(hexStr string) []byte {
	b, err := hex.DecodeString(Trim0xPrefix(hexStr))
	if err != nil {
		return []byte{}
	}
	return b
}

// HexStrToBytes32 converts a hex string (with/without prefix 0x) to [32]byte
func HexStrToBytes32(hexStr string) [32]byte {
	var bytes32 [32]byte
	copy(bytes32[:], HexStrToByteSlice(hexStr))
	return bytes32
}

// Trim 0x or 0X prefix off the string.
func Trim0xPrefix(str string) string {
	s := strings.TrimPrefix(str, "0x")
	return strings.TrimPrefix(s, "0X")
}

// RandBytes32 generates [32]byte with random values
func RandBytes32() [32]byte {
	var b [32]byte
	n, err := rand.Read(b[:])
	if err != nil || n != 32 {
		return [32]byte{}
	}
	return b
}

// RandBytes generates a random byte slice of length n
func RandBytes(n int) []byte {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return make([]byte, n)
	}
	return b
}

// Shorten cuts a hex string for log display, keeping n chars of each end.
func Shorten(hexStr string, n int) string {
	if len(hexStr) <= 2*n {
		return hexStr
	}
	return hexStr[:n] + ".." + hexStr[len(hexStr)-n:]
}

// CompareSlices reports whether two byte slices hold the same content.
func CompareSlices(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
