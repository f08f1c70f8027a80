package semcache

import (
	"crypto/md5"
	"encoding/binary"
	"encoding/hex"
	"math"
)

// encodeEmbedding 按 float32 小端序列化，保证可逐位还原
func encodeEmbedding(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	return buf
}

// decodeEmbedding 还原向量；dim > 0 时同时校验维度
func decodeEmbedding(id int64, raw []byte, dim int) ([]float32, error) {
	if len(raw)%4 != 0 {
		return nil, &CorruptEmbeddingError{ID: id, Bytes: len(raw)}
	}
	if dim > 0 && len(raw)/4 != dim {
		return nil, &CorruptEmbeddingError{ID: id, Bytes: len(raw), Expected: dim}
	}
	vec := make([]float32, len(raw)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:]))
	}
	return vec, nil
}

// hashText 文本内容的 md5 十六进制摘要
func hashText(text string) string {
	sum := md5.Sum([]byte(text))
	return hex.EncodeToString(sum[:])
}
