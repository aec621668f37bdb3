// Package indexer 负责把归一化文档切分为段落并构建带向量的可检索单元。
package indexer

// Chunk 是文档切分出的一个片段。Offset 是片段首字符在原文中的字符（rune）偏移。
type Chunk struct {
	Text   string
	Offset int
}

// SplitText 把文本按固定字符窗口切分，相邻窗口重叠 overlap 个字符。
// 切分按 rune 计数，对同一输入的结果是确定的。
func SplitText(text string, size, overlap int) []Chunk {
	if size <= 0 {
		return nil
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}

	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}
	if len(runes) <= size {
		return []Chunk{{Text: text, Offset: 0}}
	}

	step := size - overlap
	var chunks []Chunk
	for start := 0; start < len(runes); start += step {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, Chunk{Text: string(runes[start:end]), Offset: start})
		if end == len(runes) {
			break
		}
	}
	return chunks
}
