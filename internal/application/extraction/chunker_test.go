package extraction

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	apperrors "z-doc-extract-api/pkg/errors"
)

func TestChunkerEmptyInput(t *testing.T) {
	c := NewChunker(100, 10, 20)

	_, err := c.Split("")
	require.Error(t, err)
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, apperrors.CodeChunkingFailed, appErr.Code)

	_, err = c.Split("   \n\t  ")
	require.Error(t, err)
}

func TestChunkerSingleChunkWhenUnderBudget(t *testing.T) {
	c := NewChunker(100, 10, 20)

	chunks, err := c.Split("short document")
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	require.Equal(t, 0, chunks[0].Index)
	require.Equal(t, "short document", chunks[0].Text)
}

func TestChunkerRespectsBudgetAndOrdering(t *testing.T) {
	c := NewChunker(50, 0, 10)
	text := strings.Repeat("a", 500)

	chunks, err := c.Split(text)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)

	var rebuilt strings.Builder
	for i, ch := range chunks {
		require.Equal(t, i, ch.Index)
		require.LessOrEqual(t, len([]rune(ch.Text)), 50)
		rebuilt.WriteString(ch.Text)
	}
	// 无重叠时分块必须无缝覆盖原文
	require.Equal(t, text, rebuilt.String())
}

func TestChunkerPrefersParagraphBoundary(t *testing.T) {
	c := NewChunker(40, 0, 20)
	text := strings.Repeat("a", 25) + "\n\n" + strings.Repeat("b", 60)

	chunks, err := c.Split(text)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)
	// 第一块应该在空行处结束，而不是硬切在第 40 个字符
	require.True(t, strings.HasSuffix(chunks[0].Text, "\n\n"), "first chunk should end at paragraph boundary, got %q", chunks[0].Text)
	require.True(t, strings.HasPrefix(chunks[1].Text, "b"))
}

func TestChunkerPrefersSentenceBoundary(t *testing.T) {
	c := NewChunker(40, 0, 20)
	text := strings.Repeat("a", 30) + "." + strings.Repeat("b", 60)

	chunks, err := c.Split(text)
	require.NoError(t, err)
	require.True(t, strings.HasSuffix(chunks[0].Text, "."), "first chunk should end at sentence boundary, got %q", chunks[0].Text)
}

func TestChunkerHardCutWithoutBoundary(t *testing.T) {
	c := NewChunker(40, 0, 10)
	text := strings.Repeat("x", 100)

	chunks, err := c.Split(text)
	require.NoError(t, err)
	require.Equal(t, 40, len([]rune(chunks[0].Text)))
}

func TestChunkerOverlapDuplicatesTail(t *testing.T) {
	c := NewChunker(40, 10, 5)
	text := strings.Repeat("x", 100)

	chunks, err := c.Split(text)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)

	first := []rune(chunks[0].Text)
	second := []rune(chunks[1].Text)
	require.Equal(t, string(first[len(first)-10:]), string(second[:10]))
}

func TestChunkerDeterministic(t *testing.T) {
	c := NewChunker(64, 8, 16)
	text := strings.Repeat("第一段。\n\n第二段内容比较长一些。", 50)

	a, err := c.Split(text)
	require.NoError(t, err)
	b, err := c.Split(text)
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func TestChunkerMultibyteRunesNotSplit(t *testing.T) {
	c := NewChunker(10, 0, 3)
	text := strings.Repeat("中文字符测试", 10)

	chunks, err := c.Split(text)
	require.NoError(t, err)
	for _, ch := range chunks {
		// 按 rune 切分不会产生残缺的 UTF-8 序列
		require.True(t, strings.ToValidUTF8(ch.Text, "") == ch.Text)
		require.LessOrEqual(t, len([]rune(ch.Text)), 10)
	}
}
