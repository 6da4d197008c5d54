package ingestion

import "fmt"

// TokenFilter はトークン予算によるアドミッション制御を行う
type TokenFilter struct {
	budget int
}

// NewTokenFilter は新しい TokenFilter を作成する
// 予算が0以下の場合は全件通過を防ぐためエラーにする
func NewTokenFilter(budget int) (*TokenFilter, error) {
	if budget <= 0 {
		return nil, fmt.Errorf("token budget must be positive, got %d", budget)
	}
	return &TokenFilter{budget: budget}, nil
}

// Admit はトークン数が予算以内（以下）なら true を返す
func (f *TokenFilter) Admit(tokenCount int) bool {
	return tokenCount <= f.budget
}

// Budget は予算を返す
func (f *TokenFilter) Budget() int {
	return f.budget
}
