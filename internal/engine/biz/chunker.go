// Package biz provides business logic for the ragcore engine.
package biz

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/kart-io/ragcore/internal/pkg/textutil"
	"github.com/kart-io/ragcore/pkg/errors"
)

// ChunkStrategy 分块策略。
type ChunkStrategy string

// 支持的分块策略。
const (
	StrategyFixed     ChunkStrategy = "fixed"
	StrategySentence  ChunkStrategy = "sentence"
	StrategyParagraph ChunkStrategy = "paragraph"
	StrategySemantic  ChunkStrategy = "semantic"
)

// ValidChunkStrategy reports whether s is a known chunking strategy.
func ValidChunkStrategy(s ChunkStrategy) bool {
	switch s {
	case StrategyFixed, StrategySentence, StrategyParagraph, StrategySemantic:
		return true
	}
	return false
}

// ChunkerConfig 分块器配置。
type ChunkerConfig struct {
	// Strategy 分块策略。
	Strategy ChunkStrategy
	// ChunkSize 目标块大小（按 rune 计）。
	ChunkSize int
	// MinSize 最小块大小，校验阶段丢弃更短的块。
	MinSize int
	// MaxSize 最大块大小，校验阶段强制重切更长的块。
	MaxSize int
	// Overlap fixed 策略下相邻块的重叠大小。
	Overlap int
}

// DefaultChunkerConfig 返回默认分块配置。
func DefaultChunkerConfig() *ChunkerConfig {
	return &ChunkerConfig{
		Strategy:  StrategySentence,
		ChunkSize: 512,
		MinSize:   10,
		MaxSize:   2048,
		Overlap:   50,
	}
}

// Piece 是分块器产出的一个文本片段。
type Piece struct {
	// Text 片段内容。
	Text string
	// Section 片段所属章节（semantic 策略下由标题推导）。
	Section string
}

// Chunker 按配置的策略将文档内容切分为可检索的片段。
type Chunker struct {
	config *ChunkerConfig
}

// NewChunker 创建分块器实例。
func NewChunker(config *ChunkerConfig) *Chunker {
	if config == nil {
		config = DefaultChunkerConfig()
	}
	return &Chunker{config: config}
}

var headerRegex = regexp.MustCompile(`(?m)^(#{1,6})\s+(.+)$`)

// Chunk 切分文档内容并执行校验。
func (c *Chunker) Chunk(content string) ([]Piece, error) {
	if strings.TrimSpace(content) == "" {
		return nil, errors.ErrChunking.WithMessage("document content is empty")
	}
	if !ValidChunkStrategy(c.config.Strategy) {
		return nil, errors.ErrInvalidStrategy.WithMessagef("unknown chunk strategy: %s", c.config.Strategy)
	}

	var pieces []Piece
	switch c.config.Strategy {
	case StrategyFixed:
		pieces = toPieces(c.splitFixed(content), "")
	case StrategySentence:
		pieces = toPieces(c.splitSentences(content), "")
	case StrategyParagraph:
		pieces = toPieces(c.splitParagraphs(content), "")
	case StrategySemantic:
		pieces = c.splitSemantic(content)
	}

	pieces = c.validate(pieces)
	if len(pieces) == 0 {
		return nil, errors.ErrChunking.WithMessage("no chunks produced from content")
	}
	return pieces, nil
}

// splitFixed 以目标大小切分，块边界回退到最近的词边界，相邻块重叠
// Overlap 个 rune。去掉每块开头的 Overlap 个 rune 后拼接可还原原文。
func (c *Chunker) splitFixed(text string) []string {
	runes := []rune(text)
	size := c.config.ChunkSize
	overlap := c.config.Overlap
	if overlap >= size {
		overlap = size / 4
	}

	if len(runes) <= size {
		return []string{text}
	}

	var chunks []string
	start := 0
	for start < len(runes) {
		end := start + size
		if end >= len(runes) {
			chunks = append(chunks, string(runes[start:]))
			break
		}

		// 回退到词边界，避免截断单词
		boundary := end
		for boundary > start+overlap && !unicode.IsSpace(runes[boundary-1]) {
			boundary--
		}
		if boundary > start+overlap {
			end = boundary
		}

		chunks = append(chunks, string(runes[start:end]))
		start = end - overlap
	}
	return chunks
}

// splitSentences 按句子边界切分，贪心打包直到达到目标大小。
func (c *Chunker) splitSentences(text string) []string {
	sentences := textutil.SplitSentences(text)
	if len(sentences) == 0 {
		return nil
	}

	// ChunkSize 按 rune 计，多字节文本不能用字节数比较
	var chunks []string
	var current strings.Builder
	currentRunes := 0
	for _, sentence := range sentences {
		sentenceRunes := utf8.RuneCountInString(sentence)
		if currentRunes > 0 && currentRunes+sentenceRunes+1 > c.config.ChunkSize {
			chunks = append(chunks, current.String())
			current.Reset()
			currentRunes = 0
		}
		if currentRunes > 0 {
			current.WriteString(" ")
			currentRunes++
		}
		current.WriteString(sentence)
		currentRunes += sentenceRunes
	}
	if currentRunes > 0 {
		chunks = append(chunks, current.String())
	}
	return chunks
}

// splitParagraphs 按空行切分，超长段落递归回退到句子切分。
func (c *Chunker) splitParagraphs(text string) []string {
	paragraphs := textutil.SplitParagraphs(text)

	var chunks []string
	for _, paragraph := range paragraphs {
		if len([]rune(paragraph)) > c.config.ChunkSize {
			chunks = append(chunks, c.splitSentences(paragraph)...)
		} else {
			chunks = append(chunks, paragraph)
		}
	}
	return chunks
}

// splitSemantic 按标题等结构标记切分，无标题时回退到段落切分。
func (c *Chunker) splitSemantic(content string) []Piece {
	headers := headerRegex.FindAllStringSubmatch(content, -1)
	if len(headers) == 0 {
		return toPieces(c.splitParagraphs(content), "")
	}

	sections := headerRegex.Split(content, -1)
	var pieces []Piece
	currentSection := "Introduction"
	for i, section := range sections {
		if i > 0 && i-1 < len(headers) {
			currentSection = headers[i-1][2]
		}
		section = strings.TrimSpace(section)
		if section == "" {
			continue
		}
		for _, text := range c.splitParagraphs(section) {
			pieces = append(pieces, Piece{Text: text, Section: currentSection})
		}
	}
	return pieces
}

// validate 丢弃过短的块，并用 fixed 策略强制重切过长的块。
func (c *Chunker) validate(pieces []Piece) []Piece {
	maxSize := c.config.MaxSize
	if maxSize <= 0 {
		maxSize = 4 * c.config.ChunkSize
	}

	var out []Piece
	for _, piece := range pieces {
		runeLen := len([]rune(piece.Text))
		if runeLen < c.config.MinSize {
			continue
		}
		if runeLen <= maxSize {
			out = append(out, piece)
			continue
		}
		resplitter := &Chunker{config: &ChunkerConfig{
			Strategy:  StrategyFixed,
			ChunkSize: maxSize,
			Overlap:   c.config.Overlap,
		}}
		for _, text := range resplitter.splitFixed(piece.Text) {
			out = append(out, Piece{Text: text, Section: piece.Section})
		}
	}
	return out
}

func toPieces(texts []string, section string) []Piece {
	pieces := make([]Piece, 0, len(texts))
	for _, text := range texts {
		pieces = append(pieces, Piece{Text: text, Section: section})
	}
	return pieces
}
