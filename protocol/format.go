package protocol

import (
	"strings"
	"unicode/utf8"
)

// PrepareFormat cleans a display format before it is sent to the server.
//
// Outside quotes ('...', "..." or |...|) control characters become spaces and
// a "/*" comment is dropped up to the end of its line. Inside a quote
// everything is kept verbatim until the matching quote character.
func PrepareFormat(text string) string {
	if text == "" {
		return text
	}

	var sb strings.Builder
	sb.Grow(len(text))

	var quote rune
	for i := 0; i < len(text); {
		r, size := utf8.DecodeRuneInString(text[i:])

		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
			sb.WriteRune(r)

		case r == '\'' || r == '"' || r == '|':
			quote = r
			sb.WriteRune(r)

		case r == '/' && i+1 < len(text) && text[i+1] == '*':
			eol := strings.IndexAny(text[i:], "\r\n")
			if eol < 0 {
				return sb.String()
			}
			// the line break itself goes through the control-character rule
			i += eol
			continue

		case r < ' ':
			sb.WriteByte(' ')

		default:
			sb.WriteRune(r)
		}

		i += size
	}

	return sb.String()
}
