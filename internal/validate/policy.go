package validate

import "strings"

// FileCategory is the closed set of supported upload categories, each with
// its own size cap and content-shape check, per spec §4.2's policy table.
type FileCategory string

const (
	CategoryPDF   FileCategory = "pdf"
	CategoryOffice FileCategory = "office"
	CategoryImage FileCategory = "image"
	CategoryVideo FileCategory = "video"
	CategoryAudio FileCategory = "audio"
	CategoryText  FileCategory = "text"
)

// Policy describes the size cap and extension set for one FileCategory.
type Policy struct {
	Category   FileCategory
	Extensions []string
	MaxBytes   int64
}

// policies is the closed per-type table from spec §4.2. Office and video
// spans use the upper bound of their documented 10-25MiB / 50-100MiB ranges
// per extension, matching the per-format max_size entries in the original
// validator's SUPPORTED_FORMATS table.
var policies = []Policy{
	{Category: CategoryPDF, Extensions: []string{".pdf"}, MaxBytes: 10 * mib},
	{Category: CategoryOffice, Extensions: []string{".docx", ".docm"}, MaxBytes: 10 * mib},
	{Category: CategoryOffice, Extensions: []string{".xlsx", ".xlsm"}, MaxBytes: 10 * mib},
	{Category: CategoryOffice, Extensions: []string{".pptx"}, MaxBytes: 25 * mib},
	{Category: CategoryImage, Extensions: []string{".jpg", ".jpeg"}, MaxBytes: 5 * mib},
	{Category: CategoryImage, Extensions: []string{".png"}, MaxBytes: 5 * mib},
	{Category: CategoryImage, Extensions: []string{".gif"}, MaxBytes: 10 * mib},
	{Category: CategoryImage, Extensions: []string{".webp"}, MaxBytes: 5 * mib},
	{Category: CategoryVideo, Extensions: []string{".mp4"}, MaxBytes: 100 * mib},
	{Category: CategoryVideo, Extensions: []string{".mov"}, MaxBytes: 50 * mib},
	{Category: CategoryVideo, Extensions: []string{".avi"}, MaxBytes: 50 * mib},
	{Category: CategoryAudio, Extensions: []string{".wav"}, MaxBytes: 25 * mib},
	{Category: CategoryAudio, Extensions: []string{".mp3"}, MaxBytes: 10 * mib},
	{Category: CategoryAudio, Extensions: []string{".m4a"}, MaxBytes: 10 * mib},
	{Category: CategoryText, Extensions: []string{".txt"}, MaxBytes: 1 * mib},
	{Category: CategoryText, Extensions: []string{".md"}, MaxBytes: 1 * mib},
	{Category: CategoryText, Extensions: []string{".csv"}, MaxBytes: 5 * mib},
}

const mib int64 = 1024 * 1024

// PolicyForExtension returns the Policy whose Extensions contain ext
// (case-insensitive, dot-prefixed), and whether one was found.
func PolicyForExtension(ext string) (Policy, bool) {
	ext = strings.ToLower(ext)
	for _, p := range policies {
		for _, e := range p.Extensions {
			if e == ext {
				return p, true
			}
		}
	}
	return Policy{}, false
}
