package utils

import (
	"mime"
	"path"
	"strings"
)

// plain text formats that mime does not know or maps to a download type
var textExtensions = map[string]bool{
	".md":   true,
	".txt":  true,
	".yaml": true,
	".yml":  true,
	".toml": true,
	".ini":  true,
	".csv":  true,
}

// ContentType guesses the media type of a document from its path.
func ContentType(docPath string) string {
	ext := strings.ToLower(path.Ext(docPath))
	if textExtensions[ext] {
		return "text/plain; charset=utf-8"
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return "application/octet-stream"
}
