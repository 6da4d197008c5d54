package ingestion

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
)

// vectorKeyPrefix は VectorCache のキー名前空間
const vectorKeyPrefix = "vector_"

// KeyScheme はファイルパスからキャッシュキーを導出する
type KeyScheme interface {
	// RecordKey は FileCache のキーを返す
	RecordKey(path string) string
	// VectorKey は VectorCache のキーを返す（RecordKey とは別の名前空間）
	VectorKey(path string) string
}

// BaseNameKeys はファイル名だけをキーにする
// 異なるディレクトリの同名ファイルは衝突する（既知の制約として許容）
// "vector_x" という名前のファイルの RecordKey は "x" の VectorKey と同じになり、
// 互いに上書きして x が毎回 Embedding される。避けるには HashedKeys を使う
// （CACHE_KEY_SCHEME=hashed）
type BaseNameKeys struct{}

// RecordKey は FileCache のキーを返す
func (BaseNameKeys) RecordKey(path string) string {
	return filepath.Base(path)
}

// VectorKey は VectorCache のキーを返す
func (BaseNameKeys) VectorKey(path string) string {
	return vectorKeyPrefix + filepath.Base(path)
}

// HashedKeys はファイル名にパスとバージョンのハッシュを付与する
// トークナイザーやモデルを変更すると別キーになり、古いエントリは参照されなくなる
type HashedKeys struct {
	RecordVersion string // 例: トークナイザーのエンコーディング名
	VectorVersion string // 例: Embedding モデル名
}

// RecordKey は FileCache のキーを返す
func (k HashedKeys) RecordKey(path string) string {
	return filepath.Base(path) + "." + shortHash(path, k.RecordVersion)
}

// VectorKey は VectorCache のキーを返す
func (k HashedKeys) VectorKey(path string) string {
	return vectorKeyPrefix + filepath.Base(path) + "." + shortHash(path, k.VectorVersion)
}

func shortHash(parts ...string) string {
	h := sha256.New()
	for _, part := range parts {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))[:12]
}
