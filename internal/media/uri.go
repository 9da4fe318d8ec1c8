package media

import (
	"fmt"
	"mime"
	"path"
	"regexp"
	"strings"
	"time"
)

// URI renders a gs:// URI.
func URI(bucket, object string) string {
	return "gs://" + bucket + "/" + object
}

// ParseURI splits gs://bucket/object.
func ParseURI(uri string) (bucket, object string, err error) {
	if !strings.HasPrefix(uri, "gs://") {
		return "", "", fmt.Errorf("invalid GCS URI: %s", uri)
	}
	parts := strings.SplitN(strings.TrimPrefix(uri, "gs://"), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid GCS URI (no object path): %s", uri)
	}
	return parts[0], parts[1], nil
}

// FilenameFromURI returns the last path element of the object.
// e.g., "gs://bucket/folder/file.pdf" → "file.pdf"
func FilenameFromURI(uri string) string {
	trimmed := strings.TrimPrefix(uri, "gs://")
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) < 2 {
		return trimmed
	}
	return path.Base(parts[1])
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// ObjectName lays out an attachment as <user>/<yyyy-mm-dd>/<message>-<file>.
// A missing filename is derived from the MIME type.
func ObjectName(user, messageID, filename, mimeType string, receivedAt time.Time) string {
	if filename == "" {
		filename = "attachment"
		if exts, err := mime.ExtensionsByType(mimeType); err == nil && len(exts) > 0 {
			filename += exts[0]
		}
	}
	clean := func(s string) string {
		s = unsafeChars.ReplaceAllString(s, "_")
		if s == "" {
			return "_"
		}
		return s
	}
	return path.Join(
		clean(user),
		receivedAt.UTC().Format("2006-01-02"),
		clean(messageID)+"-"+clean(filename),
	)
}
