package retrieve

import (
	"regexp"
	"strconv"
	"strings"
)

// maxSpeechLength caps speech-shaped output, per spec §4.6 step 8.
const maxSpeechLength = 400
const minSpeechLength = 300

var numberedListRE = regexp.MustCompile(`(?m)^\s*(\d+)[.)]\s*`)

// ShapeForSpeech transforms a composed response's steps into a spoken
// narration: numbered markers become "Step N,", and the result is truncated
// to 300-400 characters at a sentence boundary.
func ShapeForSpeech(r Response) string {
	var b strings.Builder
	b.WriteString(r.TaskTitle)
	b.WriteString(". ")
	for i, step := range r.Steps {
		b.WriteString("Step ")
		b.WriteString(strconv.Itoa(i + 1))
		b.WriteString(", ")
		b.WriteString(stripListMarker(step))
		b.WriteString(". ")
	}
	return truncateAtSentence(strings.TrimSpace(b.String()), maxSpeechLength)
}

func stripListMarker(s string) string {
	return numberedListRE.ReplaceAllString(s, "")
}

func truncateAtSentence(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := s[:maxLen]
	if idx := strings.LastIndexAny(cut, ".!?"); idx+1 >= minSpeechLength {
		return cut[:idx+1]
	}
	if idx := strings.LastIndex(cut, " "); idx > 0 {
		return cut[:idx] + "."
	}
	return cut
}
