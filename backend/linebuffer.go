package backend

import "strings"

// LineBuffer 把任意边界的分块拼接成完整的 '\n' 分隔行，未结束的尾部片段留到下一次 Feed。
// 零值可直接使用，不可跨调用共享。
type LineBuffer struct {
	remainder string
}

// Feed 追加 chunk 并返回其中所有完整的行（不含换行符），顺序与到达顺序一致。
func (b *LineBuffer) Feed(chunk string) []string {
	if chunk == "" {
		return nil
	}
	data := b.remainder + chunk
	lines := strings.Split(data, "\n")
	b.remainder = lines[len(lines)-1]
	return lines[:len(lines)-1]
}

// Remainder 返回尚未以换行结束的片段。流结束时该片段不是完整记录，会被丢弃。
func (b *LineBuffer) Remainder() string {
	return b.remainder
}
