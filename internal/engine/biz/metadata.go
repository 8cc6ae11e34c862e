package biz

import (
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/kart-io/ragcore/pkg/errors"
)

// Metadata keys produced by the extractor.
const (
	MetaTitle     = "title"
	MetaDates     = "dates"
	MetaTags      = "tags"
	MetaLanguage  = "language"
	MetaFileName  = "file_name"
	MetaFileSize  = "file_size"
	MetaFileExt   = "file_ext"
	MetaWordCount = "word_count"
)

var (
	dateRegex = regexp.MustCompile(`\b\d{4}[-/]\d{1,2}[-/]\d{1,2}\b`)
	tagRegex  = regexp.MustCompile(`(?:^|\s)#([\p{L}\p{N}_-]{2,32})`)
	tagsLine  = regexp.MustCompile(`(?mi)^tags?\s*[:：]\s*(.+)$`)
)

// MetadataExtractor derives structured metadata from raw document content.
// Extraction is best-effort: unrecognized fields are omitted, never errors.
type MetadataExtractor struct{}

// NewMetadataExtractor creates a metadata extractor.
func NewMetadataExtractor() *MetadataExtractor {
	return &MetadataExtractor{}
}

// Extract derives metadata from content and, when sourcePath is non-empty,
// file attributes from the filesystem.
func (e *MetadataExtractor) Extract(content, sourcePath string) map[string]string {
	meta := make(map[string]string)

	if title := extractTitle(content); title != "" {
		meta[MetaTitle] = title
	}
	if dates := dateRegex.FindAllString(content, 5); len(dates) > 0 {
		meta[MetaDates] = strings.Join(dedupe(dates), ",")
	}
	if tags := extractTags(content); len(tags) > 0 {
		meta[MetaTags] = strings.Join(tags, ",")
	}
	meta[MetaLanguage] = detectLanguage(content)
	meta[MetaWordCount] = strconv.Itoa(len(strings.Fields(content)))

	if sourcePath != "" {
		meta[MetaFileName] = filepath.Base(sourcePath)
		if ext := filepath.Ext(sourcePath); ext != "" {
			meta[MetaFileExt] = ext
		}
		if info, err := os.Stat(sourcePath); err == nil {
			meta[MetaFileSize] = strconv.FormatInt(info.Size(), 10)
		}
	}

	return meta
}

// ValidateSchema checks metadata against a caller-supplied schema of
// field name to expected kind ("string", "int", "date"). Fields present
// in the schema must exist and parse; extra metadata fields are ignored.
func (e *MetadataExtractor) ValidateSchema(meta map[string]string, schema map[string]string) error {
	for field, kind := range schema {
		value, ok := meta[field]
		if !ok {
			return errors.ErrValidation.WithMessagef("metadata field %q is required", field)
		}
		switch kind {
		case "string":
			// any value is acceptable
		case "int":
			if _, err := strconv.Atoi(value); err != nil {
				return errors.ErrValidation.WithMessagef("metadata field %q: %q is not an integer", field, value)
			}
		case "date":
			if !dateRegex.MatchString(value) {
				return errors.ErrValidation.WithMessagef("metadata field %q: %q is not a date", field, value)
			}
		default:
			return errors.ErrValidation.WithMessagef("unknown schema kind %q for field %q", kind, field)
		}
	}
	return nil
}

// extractTitle returns the first markdown heading, or the first
// non-empty line as a fallback.
func extractTitle(content string) string {
	if m := headerRegex.FindStringSubmatch(content); len(m) > 2 {
		return strings.TrimSpace(m[2])
	}
	for _, line := range strings.Split(content, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			if len([]rune(line)) > 120 {
				return string([]rune(line)[:120])
			}
			return line
		}
	}
	return ""
}

func extractTags(content string) []string {
	var tags []string
	if m := tagsLine.FindStringSubmatch(content); len(m) > 1 {
		for _, tag := range strings.Split(m[1], ",") {
			if tag = strings.TrimSpace(tag); tag != "" {
				tags = append(tags, tag)
			}
		}
	}
	for _, m := range tagRegex.FindAllStringSubmatch(content, 10) {
		tags = append(tags, m[1])
	}
	return dedupe(tags)
}

// detectLanguage 根据 CJK 字符占比粗略判定语言。
func detectLanguage(content string) string {
	total := 0
	cjk := 0
	for _, r := range content {
		if r == ' ' || r == '\n' || r == '\t' {
			continue
		}
		total++
		if r >= 0x2E80 && r <= 0x9FFF {
			cjk++
		}
	}
	if total == 0 {
		return "unknown"
	}
	if float64(cjk)/float64(total) > 0.2 {
		return "zh"
	}
	return "en"
}

func dedupe(items []string) []string {
	seen := make(map[string]struct{}, len(items))
	var out []string
	for _, item := range items {
		key := strings.ToLower(item)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, item)
	}
	return out
}

// mergeMetadata merges document-level and chunk-local metadata; chunk
// values win on conflict.
func mergeMetadata(docMeta, chunkMeta map[string]string) map[string]string {
	if len(docMeta) == 0 && len(chunkMeta) == 0 {
		return nil
	}
	merged := make(map[string]string, len(docMeta)+len(chunkMeta))
	for k, v := range docMeta {
		merged[k] = v
	}
	for k, v := range chunkMeta {
		merged[k] = v
	}
	return merged
}
