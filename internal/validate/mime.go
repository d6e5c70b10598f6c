package validate

import (
	"bytes"
	"net/http"
)

// sniffMIME wraps net/http's content sniffer. No third-party MIME sniffer is
// wired here: none of the teacher's or the rest of the example pack's
// dependencies expose one, and the stdlib sniffer plus the explicit
// magic-byte tables below mirror what the original validator's own
// magic-byte checks do.
func sniffMIME(b []byte) string {
	n := len(b)
	if n > 512 {
		n = 512
	}
	return http.DetectContentType(b[:n])
}

// contentSignature reports whether b's leading bytes match the documented
// magic signature for cat, per spec §4.2's content-check column.
func contentSignature(cat FileCategory, ext string, b []byte) bool {
	switch cat {
	case CategoryPDF:
		return bytes.HasPrefix(b, []byte("%PDF"))
	case CategoryOffice:
		// OOXML containers are zip archives; PK\x03\x04 is the local file
		// header signature common to all of docx/xlsx/pptx/docm/xlsm.
		return bytes.HasPrefix(b, []byte("PK\x03\x04"))
	case CategoryImage:
		switch ext {
		case ".jpg", ".jpeg":
			return bytes.HasPrefix(b, []byte{0xFF, 0xD8, 0xFF})
		case ".png":
			return bytes.HasPrefix(b, []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1A, '\n'})
		case ".gif":
			return bytes.HasPrefix(b, []byte("GIF8"))
		case ".webp":
			return len(b) >= 12 && bytes.HasPrefix(b, []byte("RIFF")) && bytes.Equal(b[8:12], []byte("WEBP"))
		}
		return false
	case CategoryVideo:
		switch ext {
		case ".mp4":
			return len(b) >= 8 && bytes.Contains(b[4:8], []byte("ftyp"))
		case ".mov":
			return len(b) >= 8 && (bytes.Contains(b[4:8], []byte("ftyp")) || bytes.Contains(b[4:8], []byte("moov")) || bytes.Contains(b[4:8], []byte("mdat")))
		case ".avi":
			return len(b) >= 12 && bytes.HasPrefix(b, []byte("RIFF")) && bytes.Equal(b[8:12], []byte("AVI "))
		}
		return false
	case CategoryAudio:
		switch ext {
		case ".wav":
			return len(b) >= 12 && bytes.HasPrefix(b, []byte("RIFF")) && bytes.Equal(b[8:12], []byte("WAVE"))
		case ".mp3":
			return bytes.HasPrefix(b, []byte("ID3")) || (len(b) >= 2 && b[0] == 0xFF && b[1]&0xE0 == 0xE0)
		case ".m4a":
			return len(b) >= 8 && bytes.Contains(b[4:8], []byte("ftyp"))
		}
		return false
	case CategoryText:
		return validUTF8NonEmpty(b)
	}
	return false
}
