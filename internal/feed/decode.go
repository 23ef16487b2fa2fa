package feed

import (
	"mime"
	"strings"
	"unicode/utf8"

	"github.com/gogs/chardet"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/korean"
	"golang.org/x/text/encoding/unicode"
)

// toUTF8 converts a response body to UTF-8. A charset declared in the
// Content-Type wins; otherwise valid UTF-8 is kept and anything else goes
// through detection, then the legacy encodings the feeds are known to use.
func toUTF8(data []byte, contentType string) []byte {
	if _, params, err := mime.ParseMediaType(contentType); err == nil {
		if enc := encodingByName(params["charset"]); enc != nil {
			if decoded, err := enc.NewDecoder().Bytes(data); err == nil {
				return decoded
			}
		}
	}

	if utf8.Valid(data) {
		return data
	}

	minConfidence := 30
	if len(data) > 50 {
		minConfidence = 50
	}
	detector := chardet.NewTextDetector()
	result, err := detector.DetectBest(data)
	if err == nil && result.Confidence >= minConfidence {
		if enc := encodingByName(result.Charset); enc != nil {
			decoded, err := enc.NewDecoder().Bytes(data)
			if err == nil && utf8.Valid(decoded) {
				return decoded
			}
		}
	}

	// Korean public feeds are EUC-KR/CP949 when they are not UTF-8.
	for _, enc := range []encoding.Encoding{korean.EUCKR, charmap.Windows1252} {
		decoded, err := enc.NewDecoder().Bytes(data)
		if err == nil && utf8.Valid(decoded) {
			return decoded
		}
	}
	return []byte(strings.ToValidUTF8(string(data), "�"))
}

// encodingByName returns the encoding for an IANA charset name. UTF-8 and
// unknown names return nil.
func encodingByName(name string) encoding.Encoding {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "euc-kr", "euckr", "cp949", "ks_c_5601-1987", "uhc":
		return korean.EUCKR
	case "utf-16le":
		return unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)
	case "utf-16be":
		return unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM)
	case "windows-1252", "cp1252":
		return charmap.Windows1252
	case "iso-8859-1", "latin1", "latin-1":
		return charmap.ISO8859_1
	default:
		return nil
	}
}
