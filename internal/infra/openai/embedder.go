package openai

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jinford/codeindex/internal/core/ingestion"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// Embedder は OpenAI API を使用してテキストをベクトルに変換する
type Embedder struct {
	client    openai.Client
	model     string
	dimension int
}

const (
	// DefaultEmbeddingModel はモデル未指定時のデフォルトモデル
	DefaultEmbeddingModel = "text-embedding-3-small"
	// MaxBatchSize は1リクエストで送れる最大件数
	MaxBatchSize = 100
)

type embedderOptions struct {
	model          string
	dimension      int
	baseURL        string
	maxRetries     int
	requestTimeout time.Duration
}

// EmbedderOption は Embedder のオプション設定
type EmbedderOption func(*embedderOptions)

// WithEmbeddingModel はモデル名を上書きする
func WithEmbeddingModel(model string) EmbedderOption {
	return func(o *embedderOptions) {
		if model != "" {
			o.model = model
		}
	}
}

// WithEmbeddingDimension はベクトル次元を指定する（0 の場合はモデルのデフォルト）
func WithEmbeddingDimension(dimension int) EmbedderOption {
	return func(o *embedderOptions) {
		o.dimension = dimension
	}
}

// WithBaseURL は API のエンドポイントを上書きする（互換サーバー向け）
func WithBaseURL(baseURL string) EmbedderOption {
	return func(o *embedderOptions) {
		o.baseURL = baseURL
	}
}

// WithMaxRetries は SDK によるリトライ回数を指定する
func WithMaxRetries(maxRetries int) EmbedderOption {
	return func(o *embedderOptions) {
		o.maxRetries = maxRetries
	}
}

// WithRequestTimeout は1リクエストあたりのタイムアウトを指定する
func WithRequestTimeout(timeout time.Duration) EmbedderOption {
	return func(o *embedderOptions) {
		o.requestTimeout = timeout
	}
}

// NewEmbedder は新しい Embedder を作成する
func NewEmbedder(apiKey string, opts ...EmbedderOption) *Embedder {
	options := embedderOptions{
		model:      DefaultEmbeddingModel,
		maxRetries: 2,
	}
	for _, opt := range opts {
		opt(&options)
	}

	clientOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(options.maxRetries),
	}
	if options.baseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(options.baseURL))
	}
	if options.requestTimeout > 0 {
		clientOpts = append(clientOpts, option.WithRequestTimeout(options.requestTimeout))
	}

	return &Embedder{
		client:    openai.NewClient(clientOpts...),
		model:     options.model,
		dimension: options.dimension,
	}
}

// Embed は単一テキストの Embedding を生成する
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := e.BatchEmbed(ctx, []string{text})
	if err != nil {
		return nil, err
	}

	if len(embeddings) == 0 {
		return nil, fmt.Errorf("no embeddings generated")
	}

	return embeddings[0], nil
}

// BatchEmbed はバッチで Embedding を生成する（最大100件）
// 戻り値の順序は texts の順序と一致する
func (e *Embedder) BatchEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("no texts provided")
	}

	if len(texts) > MaxBatchSize {
		return nil, fmt.Errorf("batch size exceeds maximum of %d", MaxBatchSize)
	}

	params := openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(e.model),
	}

	if len(texts) == 1 {
		params.Input = openai.EmbeddingNewParamsInputUnion{
			OfString: openai.String(texts[0]),
		}
	} else {
		params.Input = openai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: texts,
		}
	}

	if e.dimension > 0 {
		params.Dimensions = openai.Int(int64(e.dimension))
	}

	resp, err := e.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("failed to generate embeddings: %w", err)
	}

	data := resp.Data
	sort.Slice(data, func(i, j int) bool { return data[i].Index < data[j].Index })

	embeddings := make([][]float32, 0, len(data))
	for _, d := range data {
		vector := make([]float32, len(d.Embedding))
		for i, v := range d.Embedding {
			vector[i] = float32(v)
		}
		embeddings = append(embeddings, vector)
	}

	return embeddings, nil
}

// ModelName はモデル名を返す
func (e *Embedder) ModelName() string {
	return e.model
}

// Dimension は要求するベクトル次元数を返す（0 はモデルのデフォルト）
func (e *Embedder) Dimension() int {
	return e.dimension
}

// インターフェース実装の確認
var _ ingestion.Embedder = (*Embedder)(nil)
