package utils

import "strings"

const hexd = "0123456789ABCDEF"

// Hex4 formats a uint16 as a 4-character hexadecimal string (e.g., "EC05").
func Hex4(v uint16) string {
	return string([]byte{
		hexd[(v>>12)&0xF],
		hexd[(v>>8)&0xF],
		hexd[(v>>4)&0xF],
		hexd[v&0xF],
	})
}

// BytesToHex converts a byte slice to a hexadecimal string
func BytesToHex(b []byte) string {
	out := make([]byte, 0, len(b)*2)
	for _, x := range b {
		out = append(out, hexd[x>>4], hexd[x&0x0F])
	}
	return string(out)
}

// GroupedHex renders b as hex with a space between consecutive groups of
// the given widths. Bytes beyond the listed widths form a final group.
func GroupedHex(b []byte, widths ...int) string {
	var sb strings.Builder
	for _, w := range widths {
		if len(b) == 0 {
			break
		}
		if w > len(b) {
			w = len(b)
		}
		if sb.Len() > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(BytesToHex(b[:w]))
		b = b[w:]
	}
	if len(b) > 0 {
		if sb.Len() > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(BytesToHex(b))
	}
	return sb.String()
}
