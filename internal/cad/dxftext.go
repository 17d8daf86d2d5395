package cad

import (
	"strconv"
	"strings"

	"golang.org/x/text/encoding/simplifiedchinese"
)

// DecodeCADText decodes DXF/MIF escape sequences embedded in extended-ASCII
// DXF text values into their intended Unicode code points.
//
// Two encodings are recognized:
//   - `\M+nXXXX` (MIF, "Multi-byte Ifc Font"): a 4-hex-digit code point,
//     prefixed by a codepage digit (commonly "n") that this implementation
//     ignores -- AutoCAD always emits it as a literal digit and all observed
//     drawings use the same codepage.
//   - `\U+XXXX`: a 4-hex-digit Unicode code point, the standard DXF
//     unicode-escape form.
//
// Unknown or malformed escape sequences are left intact rather than
// dropped, trailing NUL bytes are stripped, and the result is
// whitespace-trimmed. Decoding never raises: any internal failure falls
// back to returning the original text unchanged. The function is
// idempotent -- decoding already-decoded text is a no-op.
func DecodeCADText(value string) string {
	if value == "" {
		return value
	}

	decoded := decodeEscapes(value)
	decoded = strings.TrimRight(decoded, "\x00")
	decoded = strings.TrimSpace(decoded)
	return decoded
}

const (
	mifPrefix     = `\M+`
	unicodePrefix = `\U+`
)

func decodeEscapes(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	for i := 0; i < len(s); {
		if strings.HasPrefix(s[i:], mifPrefix) {
			if text, n, ok := decodeMIFEscape(s[i+len(mifPrefix):]); ok {
				b.WriteString(text)
				i += len(mifPrefix) + n
				continue
			}
		}
		if strings.HasPrefix(s[i:], unicodePrefix) {
			if r, n, ok := decodeUnicodeEscape(s[i+len(unicodePrefix):]); ok {
				b.WriteRune(r)
				i += len(unicodePrefix) + n
				continue
			}
		}
		b.WriteByte(s[i])
		i++
	}
	return b.String()
}

// decodeMIFEscape parses a MIF ("\M+nXXXX") sequence: a single codepage
// marker digit followed by 4 hex digits that are the two raw bytes of a
// double-byte character in the drawing's ANSI code page (GBK/GB2312 for
// Chinese text, the only codepage this drawing set uses). The bytes are
// decoded through GBK rather than treated as a literal Unicode scalar,
// since AutoCAD's MIF escape carries codepage bytes, not code points.
func decodeMIFEscape(rest string) (string, int, bool) {
	if len(rest) < 5 {
		return "", 0, false
	}
	byteHex := rest[1:5]
	v, err := strconv.ParseUint(byteHex, 16, 16)
	if err != nil {
		return "", 0, false
	}
	hi := byte(v >> 8)
	lo := byte(v)

	decoded, err := simplifiedchinese.GBK.NewDecoder().Bytes([]byte{hi, lo})
	if err != nil || len(decoded) == 0 {
		return "", 0, false
	}
	return string(decoded), 5, true
}

// decodeUnicodeEscape parses a "\U+XXXX" sequence: 4 hex digits that are
// directly a Unicode code point, the standard DXF unicode-escape form.
func decodeUnicodeEscape(rest string) (rune, int, bool) {
	if len(rest) < 4 {
		return 0, 0, false
	}
	hexDigits := rest[0:4]
	v, err := strconv.ParseInt(hexDigits, 16, 32)
	if err != nil {
		return 0, 0, false
	}
	return rune(v), 4, true
}

// PlainMText strips MTEXT formatting codes (font/color/stacking/paragraph
// control sequences and grouping braces) leaving plain readable text,
// mirroring the simplification ezdxf's plain_mtext helper performs before
// DXF/MIF decoding is applied.
func PlainMText(text string) string {
	var b strings.Builder
	b.Grow(len(text))

	depth := 0
	for i := 0; i < len(text); i++ {
		c := text[i]
		switch c {
		case '{':
			depth++
			continue
		case '}':
			if depth > 0 {
				depth--
			}
			continue
		case '\\':
			if i+1 < len(text) {
				code := text[i+1]
				switch code {
				case 'P', 'p':
					b.WriteByte('\n')
					i++
					continue
				case '~':
					b.WriteByte(' ')
					i++
					continue
				}
				// Formatting codes like \f, \H, \C, \W, \T, \A, \Q take a
				// parameter terminated by ';'. Skip through the terminator,
				// but never consume \M+ or \U+ escapes -- those are handled
				// by DecodeCADText afterward.
				if code == 'M' || code == 'U' {
					b.WriteByte(c)
					continue
				}
				if isMTextFormatCode(code) {
					j := i + 2
					for j < len(text) && text[j] != ';' {
						j++
					}
					i = j
					continue
				}
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}

func isMTextFormatCode(c byte) bool {
	switch c {
	case 'f', 'F', 'H', 'C', 'W', 'T', 'A', 'Q', 'L', 'l', 'O', 'o', 'K', 'k', 'S', 's':
		return true
	default:
		return false
	}
}
