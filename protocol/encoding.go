package protocol

import (
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// The server's single-byte ("ANSI") code page.
var ansi = charmap.Windows1251

// EncodeAnsi converts text to cp1251. Runes outside the code page become '?'.
func EncodeAnsi(text string) []byte {
	return AppendAnsi(make([]byte, 0, len(text)), text)
}

// AppendAnsi appends the cp1251 form of text to dst.
func AppendAnsi(dst []byte, text string) []byte {
	for i := 0; i < len(text); {
		c := text[i]
		if c < utf8.RuneSelf {
			dst = append(dst, c)
			i++
			continue
		}
		r, size := utf8.DecodeRuneInString(text[i:])
		i += size
		if b, ok := ansi.EncodeRune(r); ok {
			dst = append(dst, b)
		} else {
			dst = append(dst, '?')
		}
	}
	return dst
}

// DecodeAnsi converts cp1251 bytes to a Go string.
func DecodeAnsi(data []byte) string {
	ascii := true
	for _, b := range data {
		if b >= utf8.RuneSelf {
			ascii = false
			break
		}
	}
	if ascii {
		return string(data)
	}

	buf := make([]byte, 0, len(data)*2)
	for _, b := range data {
		buf = utf8.AppendRune(buf, ansi.DecodeByte(b))
	}
	return string(buf)
}

// DecodeUtf converts UTF-8 bytes to a string.
func DecodeUtf(data []byte) string {
	return string(data)
}
