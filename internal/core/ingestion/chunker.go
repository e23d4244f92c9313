package ingestion

const (
	// DefaultChunkSize はチャンクの文字数（デフォルト: 1000）
	DefaultChunkSize = 1000
	// DefaultChunkOverlap は連続チャンク間のオーバーラップ文字数（デフォルト: 200）
	DefaultChunkOverlap = 200
)

// Chunker はテキストを固定長の重なり付きウィンドウに分割します。
// ウィンドウはストライド size-overlap で先頭からスライドし、
// 末尾のウィンドウはsizeに満たなくても空でなければ保持する。
// 分割は決定的で、同じ入力からは常に同じチャンク列が得られる
type Chunker struct {
	size    int
	overlap int
}

// NewChunker は新しいChunkerを作成する。
// overlap >= size の場合はデフォルト値にフォールバックする
func NewChunker(size, overlap int) *Chunker {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = DefaultChunkOverlap
		if overlap >= size {
			overlap = size / 5
		}
	}
	return &Chunker{size: size, overlap: overlap}
}

// Stride はウィンドウの開始位置間隔を返す
func (c *Chunker) Stride() int {
	return c.size - c.overlap
}

// Split はテキストをチャンクに分割する。
// 空文字列からは空のスライスが返る
func (c *Chunker) Split(text string) []string {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}

	stride := c.Stride()
	chunks := make([]string, 0, (len(runes)+stride-1)/stride)

	for start := 0; start < len(runes); start += stride {
		end := start + c.size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
	}

	return chunks
}
