package wld

// hashKey is the rotating XOR key applied to the string table and to the
// encoded filename strings inside texture definition fragments.
var hashKey = [8]byte{0x95, 0x3A, 0xC5, 0x2A, 0x95, 0x7A, 0x95, 0x6A}

// decodeString XORs encoded string bytes in place-copy with the rotating key.
func decodeString(data []byte) []byte {
	out := make([]byte, len(data))
	for i, b := range data {
		out[i] = b ^ hashKey[i%len(hashKey)]
	}
	return out
}

// cstring returns the NUL-terminated string starting at off, or "" when off
// is out of range.
func cstring(data []byte, off int) string {
	if off < 0 || off >= len(data) {
		return ""
	}
	end := off
	for end < len(data) && data[end] != 0 {
		end++
	}
	return string(data[off:end])
}
