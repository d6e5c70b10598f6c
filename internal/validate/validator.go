package validate

import (
	"path/filepath"
	"strings"
)

// Result is the closed outcome of validating one upload.
type Result string

const (
	ResultValid           Result = "valid"
	ResultInvalidType     Result = "invalid_type"
	ResultInvalidSize     Result = "invalid_size"
	ResultInvalidContent  Result = "invalid_content"
	ResultSecurityRisk    Result = "security_risk"
	ResultCorrupted       Result = "corrupted"
)

// Metadata carries the per-format detail spec §4.2 requires in the output:
// page count and text-extractable flag for PDFs, line count for text
// formats, and detected MIME / resolved category for everything.
type Metadata struct {
	DetectedMIME    string
	Category        FileCategory
	PageCount       int
	TextExtractable bool
	LineCount       int
}

// Outcome is the full result of Validate: a Result plus detail and, on
// success, Metadata.
type Outcome struct {
	Result   Result
	Detail   string
	Metadata Metadata
}

// PDFInspector is the narrow collaborator the validator consults for PDF
// page count and text extractability. PDF parsing itself is out of core
// scope (per spec §1's non-goals); a host wires a concrete implementation.
type PDFInspector interface {
	Inspect(b []byte) (pageCount int, textExtractable bool, err error)
}

// Validator runs the layered checks from spec §4.2 in order: filename
// safety, extension/size, MIME sniff, content shape, and security scan.
type Validator struct {
	PDF PDFInspector
}

// New constructs a Validator. pdf may be nil, in which case PDF content
// checks fall back to the %PDF magic-byte prefix only.
func New(pdf PDFInspector) *Validator {
	return &Validator{PDF: pdf}
}

// Validate runs every layered check against filename and its raw bytes.
func (v *Validator) Validate(filename string, data []byte) Outcome {
	safeName, err := SafeFilename(filename)
	if err != nil {
		return Outcome{Result: ResultInvalidType, Detail: "unsafe filename"}
	}

	ext := strings.ToLower(filepath.Ext(safeName))
	policy, ok := PolicyForExtension(ext)
	if !ok {
		return Outcome{Result: ResultInvalidType, Detail: "unsupported extension " + ext}
	}

	if len(data) == 0 {
		return Outcome{Result: ResultInvalidSize, Detail: "file is empty"}
	}
	if int64(len(data)) > policy.MaxBytes {
		return Outcome{Result: ResultInvalidSize, Detail: "file exceeds maximum size for " + string(policy.Category)}
	}

	detectedMIME := sniffMIME(data)
	if !mimeConsistent(policy.Category, ext, detectedMIME) {
		return Outcome{Result: ResultInvalidType, Detail: "detected MIME " + detectedMIME + " inconsistent with extension " + ext}
	}

	meta := Metadata{DetectedMIME: detectedMIME, Category: policy.Category}

	switch policy.Category {
	case CategoryPDF:
		if !strings.HasPrefix(string(data), "%PDF") {
			return Outcome{Result: ResultCorrupted, Detail: "missing %PDF header"}
		}
		if v.PDF != nil {
			pages, extractable, err := v.PDF.Inspect(data)
			if err != nil {
				return Outcome{Result: ResultCorrupted, Detail: "pdf inspection failed"}
			}
			meta.PageCount = pages
			meta.TextExtractable = extractable
			if !extractable {
				return Outcome{Result: ResultInvalidContent, Detail: "pdf yielded no extractable text"}
			}
		}
	case CategoryText:
		if !validUTF8NonEmpty(data) {
			return Outcome{Result: ResultInvalidContent, Detail: "not valid non-empty UTF-8"}
		}
		meta.LineCount = strings.Count(string(data), "\n") + 1
	default:
		if !contentSignature(policy.Category, ext, data) {
			return Outcome{Result: ResultInvalidContent, Detail: "content signature mismatch for " + ext}
		}
	}

	if policy.Category != CategoryVideo && policy.Category != CategoryAudio && policy.Category != CategoryImage {
		if containsScriptInjection(data) {
			return Outcome{Result: ResultSecurityRisk, Detail: "script-injection pattern detected"}
		}
	}

	return Outcome{Result: ResultValid, Metadata: meta}
}

// mimeConsistent allows the documented exceptions: Office files permitted to
// sniff as generic zip, text files permitted to sniff as binary if UTF-8
// decode succeeds (checked separately by the content-shape step).
func mimeConsistent(cat FileCategory, ext, detected string) bool {
	switch cat {
	case CategoryPDF:
		return strings.Contains(detected, "pdf") || strings.Contains(detected, "octet-stream")
	case CategoryOffice:
		return strings.Contains(detected, "zip") || strings.Contains(detected, "octet-stream") || strings.Contains(detected, "openxmlformats")
	case CategoryText:
		return true
	case CategoryImage:
		return strings.Contains(detected, "image/") || strings.Contains(detected, "octet-stream")
	case CategoryVideo:
		return strings.Contains(detected, "video/") || strings.Contains(detected, "octet-stream")
	case CategoryAudio:
		return strings.Contains(detected, "audio/") || strings.Contains(detected, "octet-stream") || strings.Contains(detected, "video/")
	}
	return false
}
