// Package zip bundles job results into a single download.
package zip

import (
	"archive/zip"
	"bytes"
	"fmt"
	"path"
	"strings"
	"time"
)

// Entry is one file in an archive.
type Entry struct {
	Name     string
	Data     []byte
	Modified time.Time
}

// Archive writes entries into a zip file. Duplicate names get a numeric
// suffix so no entry shadows another.
func Archive(entries []Entry) ([]byte, error) {
	buf := &bytes.Buffer{}
	zw := zip.NewWriter(buf)
	used := make(map[string]int, len(entries))
	for _, e := range entries {
		name := uniqueName(cleanName(e.Name), used)
		hdr := &zip.FileHeader{Name: name, Method: zip.Deflate}
		if !e.Modified.IsZero() {
			hdr.Modified = e.Modified
		}
		w, err := zw.CreateHeader(hdr)
		if err != nil {
			return nil, fmt.Errorf("zip: create %s: %w", name, err)
		}
		if _, err := w.Write(e.Data); err != nil {
			return nil, fmt.Errorf("zip: write %s: %w", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("zip: close: %w", err)
	}
	return buf.Bytes(), nil
}

func cleanName(name string) string {
	name = path.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	if name == "." || name == "/" || name == "" {
		return "file"
	}
	return name
}

func uniqueName(name string, used map[string]int) string {
	n := used[name]
	used[name] = n + 1
	if n == 0 {
		return name
	}
	ext := path.Ext(name)
	candidate := fmt.Sprintf("%s (%d)%s", strings.TrimSuffix(name, ext), n+1, ext)
	if _, taken := used[candidate]; taken {
		return uniqueName(candidate, used)
	}
	used[candidate] = 1
	return candidate
}
