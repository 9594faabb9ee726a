package conversion

import "sort"

// TargetExtension is the container every conversion produces.
const TargetExtension = ".m4b"

var supportedExtensions = map[string]struct{}{
	".mp3":  {},
	".m4a":  {},
	".aac":  {},
	".ogg":  {},
	".opus": {},
	".flac": {},
	".wma":  {},
	".wav":  {},
	".aiff": {},
}

// coverExtensions are formats whose embedded art ffmpeg can lift without a
// full decode; extraction is only attempted for these.
var coverExtensions = map[string]struct{}{
	".mp3":  {},
	".m4a":  {},
	".flac": {},
}

// SupportedExtension reports whether files with the extension can be
// submitted for conversion.
func SupportedExtension(ext string) bool {
	_, ok := supportedExtensions[ext]
	return ok
}

// CoverExtension reports whether cover extraction is attempted for the
// extension.
func CoverExtension(ext string) bool {
	_, ok := coverExtensions[ext]
	return ok
}

// SupportedExtensions returns the sorted list of accepted source extensions.
func SupportedExtensions() []string {
	out := make([]string, 0, len(supportedExtensions))
	for ext := range supportedExtensions {
		out = append(out, ext)
	}
	sort.Strings(out)
	return out
}
