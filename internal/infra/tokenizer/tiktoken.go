package tokenizer

import (
	"errors"
	"fmt"
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"

	"github.com/jinford/codeindex/internal/core/ingestion"
)

// DefaultEncoding は text-embedding-3 系モデルと同じエンコーディング
const DefaultEncoding = "cl100k_base"

// ErrInvalidUTF8 はテキストが UTF-8 として不正な場合のエラー
var ErrInvalidUTF8 = errors.New("text is not valid UTF-8")

var setLoaderOnce sync.Once

// TokenCounter は tiktoken でトークン数をカウントする
type TokenCounter struct {
	encoding *tiktoken.Tiktoken
	name     string
}

// NewTokenCounter は新しい TokenCounter を作成する
// BPE ファイルはバイナリに埋め込まれたものを使い、ネットワークには接続しない
func NewTokenCounter(encodingName string) (*TokenCounter, error) {
	if encodingName == "" {
		encodingName = DefaultEncoding
	}

	setLoaderOnce.Do(func() {
		tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
	})

	encoding, err := tiktoken.GetEncoding(encodingName)
	if err != nil {
		return nil, fmt.Errorf("failed to get tiktoken encoding %q: %w", encodingName, err)
	}

	return &TokenCounter{
		encoding: encoding,
		name:     encodingName,
	}, nil
}

// CountTokens はテキストのトークン数をカウントする
// バイナリファイルなど UTF-8 として解釈できないテキストはエラーにする
func (tc *TokenCounter) CountTokens(text string) (int, error) {
	if !utf8.ValidString(text) {
		return 0, ErrInvalidUTF8
	}
	return len(tc.encoding.Encode(text, nil, nil)), nil
}

// Encoding はエンコーディング名を返す
func (tc *TokenCounter) Encoding() string {
	return tc.name
}

var _ ingestion.TokenCounter = (*TokenCounter)(nil)
