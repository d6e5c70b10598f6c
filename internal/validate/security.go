package validate

import (
	"bytes"
	"unicode/utf8"
)

// scriptPatterns are the script-injection byte sequences the security scan
// rejects in non-executable formats, per spec §4.2(e).
var scriptPatterns = [][]byte{
	[]byte("<script"),
	[]byte("javascript:"),
	[]byte("vbscript:"),
	[]byte("onload="),
	[]byte("onerror="),
	[]byte("eval("),
	[]byte("exec("),
}

// containsScriptInjection reports whether any of scriptPatterns appear
// (case-insensitively) in raw.
func containsScriptInjection(raw []byte) bool {
	lower := bytes.ToLower(raw)
	for _, pat := range scriptPatterns {
		if bytes.Contains(lower, bytes.ToLower(pat)) {
			return true
		}
	}
	return false
}

func validUTF8NonEmpty(b []byte) bool {
	return len(b) > 0 && utf8.Valid(b)
}
