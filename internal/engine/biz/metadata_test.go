package biz

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/ragcore/pkg/errors"
)

func TestMetadataExtract(t *testing.T) {
	extractor := NewMetadataExtractor()

	content := "# Release Notes\n\nReleased on 2024-03-15 and updated 2024/04/01.\n\ntags: release, notes\n\nThe #changelog covers every change."
	meta := extractor.Extract(content, "")

	assert.Equal(t, "Release Notes", meta[MetaTitle])
	assert.Contains(t, meta[MetaDates], "2024-03-15")
	assert.Contains(t, meta[MetaDates], "2024/04/01")
	assert.Contains(t, meta[MetaTags], "changelog")
	assert.Contains(t, meta[MetaTags], "release")
	assert.Equal(t, "en", meta[MetaLanguage])
	assert.NotEmpty(t, meta[MetaWordCount])
}

func TestMetadataExtractTitleFallback(t *testing.T) {
	extractor := NewMetadataExtractor()

	meta := extractor.Extract("Plain first line without heading.\nSecond line.", "")
	assert.Equal(t, "Plain first line without heading.", meta[MetaTitle])
}

func TestMetadataExtractLanguage(t *testing.T) {
	extractor := NewMetadataExtractor()

	zh := extractor.Extract("检索增强生成是一种结合检索与生成的技术架构。", "")
	assert.Equal(t, "zh", zh[MetaLanguage])

	en := extractor.Extract("Retrieval augmented generation combines search with generation.", "")
	assert.Equal(t, "en", en[MetaLanguage])
}

func TestMetadataExtractFileAttributes(t *testing.T) {
	extractor := NewMetadataExtractor()

	meta := extractor.Extract("content", "/data/docs/guide.md")
	assert.Equal(t, "guide.md", meta[MetaFileName])
	assert.Equal(t, ".md", meta[MetaFileExt])
}

func TestMetadataValidateSchema(t *testing.T) {
	extractor := NewMetadataExtractor()

	meta := map[string]string{
		"author":    "alice",
		"revision":  "42",
		"published": "2024-03-15",
	}

	t.Run("valid", func(t *testing.T) {
		err := extractor.ValidateSchema(meta, map[string]string{
			"author":    "string",
			"revision":  "int",
			"published": "date",
		})
		assert.NoError(t, err)
	})

	t.Run("missing field", func(t *testing.T) {
		err := extractor.ValidateSchema(meta, map[string]string{"category": "string"})
		require.Error(t, err)
		assert.True(t, errors.IsCode(err, errors.GetCode(errors.ErrValidation)))
	})

	t.Run("bad int", func(t *testing.T) {
		err := extractor.ValidateSchema(meta, map[string]string{"author": "int"})
		require.Error(t, err)
	})

	t.Run("bad date", func(t *testing.T) {
		err := extractor.ValidateSchema(meta, map[string]string{"author": "date"})
		require.Error(t, err)
	})

	t.Run("unknown kind", func(t *testing.T) {
		err := extractor.ValidateSchema(meta, map[string]string{"author": "uuid"})
		require.Error(t, err)
	})
}

func TestMergeMetadata(t *testing.T) {
	docMeta := map[string]string{"title": "Doc", "language": "en"}
	chunkMeta := map[string]string{"section": "Setup", "language": "zh"}

	merged := mergeMetadata(docMeta, chunkMeta)
	assert.Equal(t, "Doc", merged["title"])
	assert.Equal(t, "Setup", merged["section"])
	// 块级元数据覆盖文档级
	assert.Equal(t, "zh", merged["language"])

	// 原始 map 不被修改
	assert.Equal(t, "en", docMeta["language"])
}
