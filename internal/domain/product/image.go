package product

import "strings"

const uploadsPrefix = "/uploads/"

// ImagePath normalizes a stored image reference into a path served under
// /uploads/. Absolute URLs are returned unchanged.
func ImagePath(stored string) string {
	switch {
	case stored == "":
		return ""
	case strings.HasPrefix(stored, "http://"), strings.HasPrefix(stored, "https://"):
		return stored
	case strings.HasPrefix(stored, uploadsPrefix):
		return stored
	default:
		return uploadsPrefix + strings.TrimPrefix(stored, "/")
	}
}
