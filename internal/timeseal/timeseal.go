// Package timeseal reverses the keystroke scrambling applied by FICS timeseal
// clients to the lines they send to the server.
package timeseal

import "bytes"

// Key is the fixed key every timeseal client XORs its output with.
const Key = "Timestamp (FICS) v1.0 - programmed by Henrik Gram."

const (
	blockSize   = 12
	stampMarker = 0x18
	offsetBase  = 0x80
)

// HasTrailer reports whether buf ends the way a timeseal line does: an offset
// byte with the high bit set followed by a line feed.
func HasTrailer(buf []byte) bool {
	n := len(buf)
	return n >= 2 && buf[n-1] == '\n' && buf[n-2] >= offsetBase
}

// Decode unscrambles the first line of buf in place and returns the recovered
// text, which aliases buf. The embedded timestamp suffix is cut off.
//
// It returns false and leaves buf untouched when no usable trailer precedes the
// first line feed.
func Decode(buf []byte) ([]byte, bool) {
	s := cString(buf)
	lf := bytes.IndexByte(s, '\n')
	if lf < 1 || s[lf-1] < offsetBase {
		return nil, false
	}
	l := lf - 1
	offset := int(s[l] - offsetBase)

	for n := 0; n < l; n++ {
		s[n] = ((s[n] + 32) ^ Key[(n+offset)%len(Key)]) & 0x7f
	}
	swapBlocks(s[:l])

	out := s[:l]
	if i := bytes.IndexByte(out, stampMarker); i >= 0 {
		out = out[:i]
	}
	return out, true
}

// Encode scrambles plain the way a timeseal client does, appending stamp as
// the timestamp suffix. offset selects the key rotation and must be below 0x80.
func Encode(plain []byte, stamp string, offset byte) []byte {
	offset &= 0x7f
	s := make([]byte, 0, len(plain)+len(stamp)+blockSize+2)
	s = append(s, plain...)
	s = append(s, stampMarker)
	s = append(s, stamp...)
	for len(s)%blockSize != 0 {
		s = append(s, '1')
	}

	swapBlocks(s)
	for n := range s {
		s[n] = ((s[n] | 0x80) ^ Key[(n+int(offset))%len(Key)]) - 32
	}
	return append(s, offsetBase|offset, '\n')
}

// swapBlocks exchanges bytes 0/11, 2/9 and 4/7 of every complete 12-byte
// block. A trailing partial block is left alone.
func swapBlocks(s []byte) {
	for n := 0; n+blockSize <= len(s); n += blockSize {
		t := s[n]
		s[n] = s[n+11]
		s[n+11] = t

		t = s[n+2]
		s[n+2] = s[n+9]
		s[n+9] = t

		t = s[n+4]
		s[n+4] = s[n+7]
		s[n+7] = t
	}
}

// cString returns buf up to its first NUL byte.
func cString(buf []byte) []byte {
	if i := bytes.IndexByte(buf, 0); i >= 0 {
		return buf[:i]
	}
	return buf
}
