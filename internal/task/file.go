package task

import (
	"encoding/json"
	"fmt"
)

// File is a workspace-relative file produced by a handler.
type File struct {
	Path    string `json:"path" mapstructure:"path"`
	Content string `json:"content" mapstructure:"content"`
}

// FilesFrom converts a "files" value into descriptors. Elements that are not
// mappings are skipped. The second return reports whether v was a list at
// all.
func FilesFrom(v any) ([]File, bool) {
	switch t := v.(type) {
	case []File:
		return append([]File(nil), t...), true
	case []map[string]any:
		out := make([]File, 0, len(t))
		for _, item := range t {
			out = append(out, fileFromMap(item))
		}
		return out, true
	case []any:
		out := make([]File, 0, len(t))
		for _, item := range t {
			switch f := item.(type) {
			case File:
				out = append(out, f)
			case map[string]any:
				out = append(out, fileFromMap(f))
			}
		}
		return out, true
	}
	return nil, false
}

// FilesFromJSON parses a JSON array of {path, content} objects.
func FilesFromJSON(raw string) ([]File, error) {
	var items []any
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil, fmt.Errorf("decode files json: %w", err)
	}
	files, _ := FilesFrom(items)
	return files, nil
}

func fileFromMap(m map[string]any) File {
	return File{
		Path:    stringify(m["path"]),
		Content: stringify(m["content"]),
	}
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}
