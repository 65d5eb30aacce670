package constants

import "strings"

// Source formats understood by the text provider.
const (
	PDF   = "PDF"
	IMAGE = "IMAGE"
	TXT   = "TXT"
)

// AllowedExtensions holds the default allowed file extensions for invoice discovery.
var AllowedExtensions = map[string]struct{}{
	"pdf":  {},
	"txt":  {},
	"png":  {},
	"jpg":  {},
	"jpeg": {},
	"heic": {},
	"heif": {},
}

// DefaultInputPattern matches every allowed extension below the input root.
const DefaultInputPattern = "**/*.{pdf,txt,png,jpg,jpeg,heic,heif}"

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// IsAllowedExt reports whether a normalized extension is ingestible.
func IsAllowedExt(ext string) bool {
	_, ok := AllowedExtensions[NormalizeExt(ext)]
	return ok
}

// MapExtToFormat maps a normalized extension to PDF, IMAGE or TXT; "" when unknown.
func MapExtToFormat(ext string) string {
	switch NormalizeExt(ext) {
	case "pdf":
		return PDF
	case "png", "jpg", "jpeg", "heic", "heif":
		return IMAGE
	case "txt":
		return TXT
	default:
		return ""
	}
}

// IsHEICExt reports whether ext is a HEIC/HEIF photo, which tesseract cannot read directly.
func IsHEICExt(ext string) bool {
	switch NormalizeExt(ext) {
	case "heic", "heif":
		return true
	}
	return false
}
