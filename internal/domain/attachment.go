package domain

import "strings"

var allowedExtensions = map[string]struct{}{
	"doc": {}, "docx": {}, "xls": {}, "xlsx": {}, "ppt": {}, "pptx": {}, "pdf": {},
	"jpg": {}, "jpeg": {}, "png": {}, "webp": {}, "bmp": {},
	"zip": {}, "rar": {}, "7z": {},
}

// NormalizeExtension lower-cases ext and strips a leading dot.
func NormalizeExtension(ext string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
}

// AttachmentAllowed reports whether ext is on the attachment allow-list.
func AttachmentAllowed(ext string) bool {
	_, ok := allowedExtensions[NormalizeExtension(ext)]
	return ok
}
