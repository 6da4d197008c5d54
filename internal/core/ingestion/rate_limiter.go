package ingestion

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// RateLimiter は1分あたりのリクエスト数をトークンバケットで制限する
type RateLimiter struct {
	mu sync.Mutex

	// maxRequestsPerMinute は1分あたりの最大リクエスト数
	maxRequestsPerMinute int

	// tokens はトークンバケット
	tokens int

	// lastRefill は最後にトークンを補充した時刻
	lastRefill time.Time

	// waitQueue は待機中のリクエスト数
	waitQueue int
}

// NewRateLimiter は新しいRateLimiterを作成する
func NewRateLimiter(maxRequestsPerMinute int) *RateLimiter {
	return &RateLimiter{
		maxRequestsPerMinute: maxRequestsPerMinute,
		tokens:               maxRequestsPerMinute,
		lastRefill:           time.Now(),
	}
}

// Wait はレート制限に従って待機し、実行権限を取得する
// contextがキャンセルされた場合はエラーを返す
func (rl *RateLimiter) Wait(ctx context.Context) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	for {
		rl.refillTokens()

		if rl.tokens > 0 {
			rl.tokens--
			return nil
		}

		// トークンがない場合は待機
		rl.waitQueue++
		rl.mu.Unlock()

		select {
		case <-time.After(time.Second):
		case <-ctx.Done():
			rl.mu.Lock()
			rl.waitQueue--
			return ctx.Err()
		}

		rl.mu.Lock()
		rl.waitQueue--
	}
}

// refillTokens はトークンを補充する（呼び出し側でロック取得済みであること）
func (rl *RateLimiter) refillTokens() {
	elapsed := time.Since(rl.lastRefill)
	if elapsed < time.Minute {
		return
	}

	minutes := int(elapsed.Minutes())
	rl.tokens = min(rl.tokens+minutes*rl.maxRequestsPerMinute, rl.maxRequestsPerMinute)
	rl.lastRefill = rl.lastRefill.Add(time.Duration(minutes) * time.Minute)
}

// GetStatus は現在の状態を返す（デバッグ・監視用）
func (rl *RateLimiter) GetStatus() RateLimiterStatus {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.refillTokens()

	return RateLimiterStatus{
		MaxRequestsPerMinute: rl.maxRequestsPerMinute,
		AvailableTokens:      rl.tokens,
		WaitingRequests:      rl.waitQueue,
	}
}

// RateLimiterStatus はレート制限の状態
type RateLimiterStatus struct {
	MaxRequestsPerMinute int
	AvailableTokens      int
	WaitingRequests      int
}

// String はステータスを文字列表現で返す
func (s RateLimiterStatus) String() string {
	return fmt.Sprintf(
		"RateLimiter: max=%d/min, available=%d, waiting=%d",
		s.MaxRequestsPerMinute,
		s.AvailableTokens,
		s.WaitingRequests,
	)
}

// ThrottledEmbedder はレート制限付きの Embedder
type ThrottledEmbedder struct {
	embedder    Embedder
	rateLimiter *RateLimiter
}

// NewThrottledEmbedder はレート制限付きの Embedder を作成する
func NewThrottledEmbedder(embedder Embedder, maxRequestsPerMinute int) *ThrottledEmbedder {
	return &ThrottledEmbedder{
		embedder:    embedder,
		rateLimiter: NewRateLimiter(maxRequestsPerMinute),
	}
}

// Embed はレート制限に従って Embedding API を呼び出す
func (te *ThrottledEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := te.rateLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter wait failed: %w", err)
	}
	return te.embedder.Embed(ctx, text)
}

// ModelName は内側の Embedder のモデル名を返す
func (te *ThrottledEmbedder) ModelName() string {
	return te.embedder.ModelName()
}
