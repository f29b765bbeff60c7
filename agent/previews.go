package main

import (
	"bytes"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"
)

const (
	previewMaxLines = 20
	previewMaxBytes = 4096
)

// BuildPreviews produces one bounded preview per uploaded file, sorted by
// name so prompts are deterministic. Previews live only for the duration of
// one pipeline run.
func BuildPreviews(files map[string][]byte) []FilePreview {
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	previews := make([]FilePreview, 0, len(names))
	for _, name := range names {
		previews = append(previews, buildPreview(name, files[name]))
	}
	return previews
}

func buildPreview(name string, content []byte) FilePreview {
	if isImageFile(name, content) {
		return FilePreview{
			Name:    name,
			Kind:    KindImage,
			Preview: fmt.Sprintf("Image file, Size: %d bytes (content extracted separately)", len(content)),
		}
	}

	if utf8.Valid(content) {
		text := string(content)
		lines := strings.Split(text, "\n")
		truncated := false
		if len(lines) > previewMaxLines {
			lines = lines[:previewMaxLines]
			truncated = true
		}
		preview := strings.Join(lines, "\n")
		if len(preview) > previewMaxBytes {
			preview = preview[:previewMaxBytes]
			truncated = true
		}
		if truncated {
			preview += "\n... (file truncated)"
		}
		return FilePreview{Name: name, Kind: KindText, Preview: preview}
	}

	return FilePreview{
		Name:    name,
		Kind:    KindBinary,
		Preview: fmt.Sprintf("Binary file, Size: %d bytes", len(content)),
	}
}

var imageMagic = [][]byte{
	[]byte("\x89PNG\r\n\x1a\n"),
	[]byte("\xff\xd8\xff"),
	[]byte("GIF87a"),
	[]byte("GIF89a"),
}

func isImageFile(name string, content []byte) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".png", ".jpg", ".jpeg", ".gif", ".webp", ".bmp":
		return true
	}
	for _, magic := range imageMagic {
		if bytes.HasPrefix(content, magic) {
			return true
		}
	}
	// RIFF....WEBP
	return len(content) >= 12 && bytes.HasPrefix(content, []byte("RIFF")) && bytes.Equal(content[8:12], []byte("WEBP"))
}

// FormatPreviews renders previews in the section format the prompts expect.
func FormatPreviews(previews []FilePreview) string {
	if len(previews) == 0 {
		return "(no data files uploaded)"
	}
	var sb strings.Builder
	for _, p := range previews {
		sb.WriteString(fmt.Sprintf("--- File: %s ---\n", p.Name))
		sb.WriteString(p.Preview)
		sb.WriteString("\n")
		sb.WriteString(strings.Repeat("-", len(p.Name)+10))
		sb.WriteString("\n")
	}
	return sb.String()
}

// HasImages reports whether any preview is an image.
func HasImages(previews []FilePreview) bool {
	for _, p := range previews {
		if p.Kind == KindImage {
			return true
		}
	}
	return false
}
