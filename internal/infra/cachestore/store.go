// Package cachestore はキャッシュエントリの永続化バックエンドを提供する。
//
// エントリは消去しない。同じキーへの Put は上書きになる。
package cachestore

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidKey はファイル名として使えないキーの場合のエラー
var ErrInvalidKey = errors.New("invalid cache key")

// validateKey はキーがディレクトリを跨がない単一の名前であることを確認する
func validateKey(key string) error {
	if key == "" || key == "." || key == ".." || strings.ContainsAny(key, `/\`) || strings.ContainsRune(key, 0) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}
