package extraction

import (
	"strings"

	apperrors "z-doc-extract-api/pkg/errors"
)

// Chunk 发往 LLM 的一个有界文档分块
type Chunk struct {
	Index int
	Text  string
}

// Chunker 按 rune 预算切分文档。
// 优先在预算附近的段落/句子边界切分，回退窗口内找不到边界时硬切。
// 同样的输入和配置必须产出同样的分块序列。
type Chunker struct {
	// ChunkSize 单块最大 rune 数
	ChunkSize int
	// Overlap 相邻分块的重叠 rune 数，保留跨块上下文
	Overlap int
	// BoundaryTolerance 从预算上限向前回溯寻找边界的窗口大小
	BoundaryTolerance int
}

// NewChunker 创建分块器，非法参数回退到安全值
func NewChunker(chunkSize, overlap, boundaryTolerance int) *Chunker {
	if chunkSize <= 0 {
		chunkSize = 12000
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= chunkSize {
		overlap = chunkSize / 10
	}
	if boundaryTolerance < 0 || boundaryTolerance >= chunkSize {
		boundaryTolerance = chunkSize / 10
	}
	return &Chunker{
		ChunkSize:         chunkSize,
		Overlap:           overlap,
		BoundaryTolerance: boundaryTolerance,
	}
}

// Split 将文本切分为有序的非空分块序列。
// 空白输入无法切分，返回 ErrChunkingFailed。
func (c *Chunker) Split(text string) ([]Chunk, error) {
	if strings.TrimSpace(text) == "" {
		return nil, apperrors.ErrChunkingFailed.WithDetail("content is empty")
	}

	runes := []rune(text)
	if len(runes) <= c.ChunkSize {
		return []Chunk{{Index: 0, Text: text}}, nil
	}

	chunks := make([]Chunk, 0, len(runes)/c.ChunkSize+1)
	start := 0
	for start < len(runes) {
		end := start + c.ChunkSize
		if end >= len(runes) {
			end = len(runes)
		} else {
			end = c.cutPoint(runes, start, end)
		}

		chunks = append(chunks, Chunk{Index: len(chunks), Text: string(runes[start:end])})
		if end >= len(runes) {
			break
		}

		next := end - c.Overlap
		if next <= start {
			// 重叠不能吞掉前进量，否则死循环
			next = end
		}
		start = next
	}
	return chunks, nil
}

// cutPoint 在 [hardEnd-tolerance, hardEnd) 内从后向前寻找切分点：
// 优先段落边界（空行），其次句子边界，找不到则在 hardEnd 硬切。
func (c *Chunker) cutPoint(runes []rune, start, hardEnd int) int {
	lowest := hardEnd - c.BoundaryTolerance
	if lowest <= start {
		lowest = start + 1
	}

	// 段落边界：连续两个换行
	for i := hardEnd - 1; i >= lowest; i-- {
		if runes[i] == '\n' && i > start && runes[i-1] == '\n' {
			return i + 1
		}
	}

	// 句子边界：句终符或单个换行
	for i := hardEnd - 1; i >= lowest; i-- {
		if isSentenceBoundary(runes[i]) {
			return i + 1
		}
	}

	return hardEnd
}

func isSentenceBoundary(r rune) bool {
	switch r {
	case '\n', '。', '！', '？', '.', '!', '?', ';', '；':
		return true
	}
	return false
}
