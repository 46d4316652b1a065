package backend

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func feedAll(chunks ...string) ([]string, string) {
	var b LineBuffer
	var lines []string
	for _, c := range chunks {
		lines = append(lines, b.Feed(c)...)
	}
	return lines, b.Remainder()
}

func TestLineBuffer_Basic(t *testing.T) {
	lines, rest := feedAll("data: a\ndata: b\n")
	require.Equal(t, []string{"data: a", "data: b"}, lines)
	require.Empty(t, rest)

	lines, rest = feedAll("data: a\ndata: b")
	require.Equal(t, []string{"data: a"}, lines)
	require.Equal(t, "data: b", rest)
}

func TestLineBuffer_EmptyLinesAndChunks(t *testing.T) {
	var b LineBuffer
	require.Nil(t, b.Feed(""))
	require.Equal(t, []string{"", ""}, b.Feed("\n\n"))
	require.Empty(t, b.Feed("abc"))
	require.Equal(t, []string{"abc"}, b.Feed("\n"))
	require.Empty(t, b.Remainder())
}

// 任意切分位置得到的行序列都与整体输入一次性切分的结果一致。
func TestLineBuffer_PartitionInvariance(t *testing.T) {
	input := "data: {\"a\":1}\n\ndata: 你好，世界\r\n: comment\ndata: tail"
	want, wantRest := feedAll(input)
	require.Equal(t, strings.Split(input, "\n")[:4], want)
	require.Equal(t, "data: tail", wantRest)

	for i := 0; i <= len(input); i++ {
		for j := i; j <= len(input); j++ {
			got, rest := feedAll(input[:i], input[i:j], input[j:])
			require.Equal(t, want, got, "split at %d,%d", i, j)
			require.Equal(t, wantRest, rest, "split at %d,%d", i, j)
		}
	}
}

func TestLineBuffer_ByteByByte(t *testing.T) {
	input := "data: 多字节\ndata: x\n"
	chunks := make([]string, 0, len(input))
	for i := 0; i < len(input); i++ {
		chunks = append(chunks, input[i:i+1])
	}
	lines, rest := feedAll(chunks...)
	require.Equal(t, []string{"data: 多字节", "data: x"}, lines)
	require.Empty(t, rest)
}
