package qdrant

import (
	"context"
	"fmt"

	"github.com/qdrant/go-client/qdrant"

	"github.com/jinford/codeindex/internal/core/ingestion"
)

// Config は Qdrant 接続設定
type Config struct {
	Host   string
	Port   int
	APIKey string
	UseTLS bool
}

// client は Store が使う go-client の操作（テスト時に差し替える）
type client interface {
	ListCollections(ctx context.Context) ([]string, error)
	CreateCollection(ctx context.Context, request *qdrant.CreateCollection) error
	Upsert(ctx context.Context, request *qdrant.UpsertPoints) (*qdrant.UpdateResult, error)
}

// Store は Qdrant を使ったベクトルDB実装
type Store struct {
	client client
	closer func() error
}

// NewStore は gRPC クライアントを作成して Store を返す
func NewStore(cfg Config) (*Store, error) {
	c, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}
	return &Store{client: c, closer: c.Close}, nil
}

// Close はクライアント接続を閉じる
func (s *Store) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}

// ListCollections はコレクション一覧を返す
func (s *Store) ListCollections(ctx context.Context) ([]ingestion.CollectionInfo, error) {
	names, err := s.client.ListCollections(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list collections: %w", err)
	}

	collections := make([]ingestion.CollectionInfo, 0, len(names))
	for _, name := range names {
		collections = append(collections, ingestion.CollectionInfo{Name: name})
	}
	return collections, nil
}

// CreateCollection は単一の名前なしベクトルを持つコレクションを作成する
func (s *Store) CreateCollection(ctx context.Context, name string, params ingestion.CollectionParams) error {
	if params.Size <= 0 {
		return fmt.Errorf("%w: collection %q", ingestion.ErrMissingVectorSize, name)
	}
	distance, err := toDistance(params.Distance)
	if err != nil {
		return err
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(params.Size),
			Distance: distance,
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to create collection %q: %w", name, err)
	}
	return nil
}

// Upsert はバッチを書き込み、サーバー側で反映されるまで待つ
func (s *Store) Upsert(ctx context.Context, collection string, batch ingestion.PointBatch) error {
	points, err := toPoints(batch)
	if err != nil {
		return err
	}
	if len(points) == 0 {
		return nil
	}

	_, err = s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collection,
		Wait:           qdrant.PtrOf(true),
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert %d points: %w", len(points), err)
	}
	return nil
}

// toPoints は並列配列を Qdrant のポイントに変換する
// 空のベクトルもそのまま送り、受け入れるかはサーバーに任せる
func toPoints(batch ingestion.PointBatch) ([]*qdrant.PointStruct, error) {
	if len(batch.IDs) != len(batch.Payloads) || len(batch.IDs) != len(batch.Vectors) {
		return nil, fmt.Errorf("batch arrays differ in length: ids=%d payloads=%d vectors=%d",
			len(batch.IDs), len(batch.Payloads), len(batch.Vectors))
	}

	points := make([]*qdrant.PointStruct, 0, batch.Len())
	for i, id := range batch.IDs {
		payload, err := qdrant.TryValueMap(batch.Payloads[i].Map())
		if err != nil {
			return nil, fmt.Errorf("failed to convert payload for id %d: %w", id, err)
		}
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDNum(id),
			Vectors: qdrant.NewVectors(batch.Vectors[i]...),
			Payload: payload,
		})
	}
	return points, nil
}

func toDistance(distance ingestion.Distance) (qdrant.Distance, error) {
	switch distance {
	case ingestion.DistanceCosine, "":
		return qdrant.Distance_Cosine, nil
	case ingestion.DistanceEuclid:
		return qdrant.Distance_Euclid, nil
	case ingestion.DistanceDot:
		return qdrant.Distance_Dot, nil
	default:
		return qdrant.Distance_UnknownDistance, fmt.Errorf("unsupported distance %q", distance)
	}
}

var _ ingestion.VectorStore = (*Store)(nil)
