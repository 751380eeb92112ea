// Package tree builds and prunes document trees mirrored from a remote
// file store.
package tree

import (
	"path"
	"strings"
	"time"
)

// Node represents a file or folder in the mirrored document tree.
// Folders carry Children; files carry size, mime type, modification time
// and a derived icon tag.
type Node struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	IsFolder     bool      `json:"is_folder"`
	MimeType     string    `json:"mime_type,omitempty"`
	SizeBytes    int64     `json:"size_bytes,omitempty"`
	ModifiedTime time.Time `json:"modified_time,omitzero"`
	IconTag      string    `json:"icon_tag,omitempty"`
	Children     []*Node   `json:"children,omitempty"`
}

// CountNodes counts all nodes in a forest.
func CountNodes(nodes []*Node) int {
	count := 0
	for _, n := range nodes {
		count++
		count += CountNodes(n.Children)
	}
	return count
}

// MaxModifiedTime returns the latest file modification time in a forest.
// The zero time means the forest contains no files.
func MaxModifiedTime(nodes []*Node) time.Time {
	var max time.Time
	for _, n := range nodes {
		if n.IsFolder {
			if t := MaxModifiedTime(n.Children); t.After(max) {
				max = t
			}
			continue
		}
		if n.ModifiedTime.After(max) {
			max = n.ModifiedTime
		}
	}
	return max
}

// FolderIDs returns the IDs of all folders in a forest.
func FolderIDs(nodes []*Node) []string {
	var ids []string
	for _, n := range nodes {
		if n.IsFolder {
			ids = append(ids, n.ID)
			ids = append(ids, FolderIDs(n.Children)...)
		}
	}
	return ids
}

// extension-keyed icon tags. Extensions win over mime types when both are
// present and disagree: user-visible names are the more reliable signal.
var iconByExt = map[string]string{
	".pdf":  "pdf",
	".doc":  "word",
	".docx": "word",
	".odt":  "word",
	".rtf":  "word",
	".xls":  "excel",
	".xlsx": "excel",
	".ods":  "excel",
	".csv":  "excel",
	".ppt":  "powerpoint",
	".pptx": "powerpoint",
	".odp":  "powerpoint",
	".png":  "image",
	".jpg":  "image",
	".jpeg": "image",
	".gif":  "image",
	".webp": "image",
	".svg":  "image",
	".txt":  "text",
	".md":   "text",
	".zip":  "archive",
	".tar":  "archive",
	".gz":   "archive",
	".7z":   "archive",
	".mp3":  "audio",
	".wav":  "audio",
	".mp4":  "video",
	".mov":  "video",
	".avi":  "video",
}

var iconByMimePrefix = []struct {
	prefix string
	tag    string
}{
	{"application/pdf", "pdf"},
	{"application/msword", "word"},
	{"application/vnd.openxmlformats-officedocument.wordprocessingml", "word"},
	{"application/vnd.ms-excel", "excel"},
	{"application/vnd.openxmlformats-officedocument.spreadsheetml", "excel"},
	{"application/vnd.ms-powerpoint", "powerpoint"},
	{"application/vnd.openxmlformats-officedocument.presentationml", "powerpoint"},
	{"image/", "image"},
	{"text/", "text"},
	{"audio/", "audio"},
	{"video/", "video"},
	{"application/zip", "archive"},
	{"application/x-tar", "archive"},
	{"application/gzip", "archive"},
}

// IconTag derives a display category from a file name and mime type.
// The name's extension takes precedence; the mime type is consulted only
// when the extension is unknown. Unclassifiable files get "generic".
func IconTag(name, mimeType string) string {
	if ext := strings.ToLower(path.Ext(name)); ext != "" {
		if tag, ok := iconByExt[ext]; ok {
			return tag
		}
	}
	if mimeType != "" {
		// Strip any mime parameters before matching.
		mt := strings.ToLower(strings.TrimSpace(strings.SplitN(mimeType, ";", 2)[0]))
		for _, m := range iconByMimePrefix {
			if strings.HasPrefix(mt, m.prefix) {
				return m.tag
			}
		}
	}
	return "generic"
}
