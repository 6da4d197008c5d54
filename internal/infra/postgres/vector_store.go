package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/jinford/codeindex/internal/core/ingestion"
	"github.com/jinford/codeindex/internal/platform/database"
)

var (
	// ErrCollectionNotFound はコレクションが登録されていない場合のエラー
	ErrCollectionNotFound = errors.New("collection not found")
	// ErrDimensionMismatch はベクトルの次元がコレクションと一致しない場合のエラー
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	// ErrInvalidCollectionName はテーブル名に使えないコレクション名の場合のエラー
	ErrInvalidCollectionName = errors.New("invalid collection name")
)

var collectionNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,48}$`)

const registrySchema = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS vector_collections (
	name       TEXT PRIMARY KEY,
	table_name TEXT NOT NULL UNIQUE,
	dimension  INTEGER NOT NULL CHECK (dimension > 0),
	distance   TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);`

// VectorStore は pgvector を使ったベクトルDB実装
// コレクションごとにテーブルを1つ作成し、vector_collections に登録する
type VectorStore struct {
	pool *pgxpool.Pool
}

// NewVectorStore は拡張と登録テーブルを準備して VectorStore を返す
func NewVectorStore(ctx context.Context, pool *pgxpool.Pool) (*VectorStore, error) {
	lockID := GenerateLockID("codeindex", "schema")
	err := database.Transact(ctx, pool, func(tx pgx.Tx) error {
		if err := acquireXactLock(ctx, tx, lockID); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, registrySchema)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to prepare vector schema: %w", err)
	}
	return &VectorStore{pool: pool}, nil
}

// ListCollections は登録済みのコレクションを名前順に返す
func (s *VectorStore) ListCollections(ctx context.Context) ([]ingestion.CollectionInfo, error) {
	rows, err := s.pool.Query(ctx, "SELECT name FROM vector_collections ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("failed to list collections: %w", err)
	}

	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to scan collections: %w", err)
	}

	collections := make([]ingestion.CollectionInfo, 0, len(names))
	for _, name := range names {
		collections = append(collections, ingestion.CollectionInfo{Name: name})
	}
	return collections, nil
}

// CreateCollection はコレクション用のテーブルと HNSW インデックスを作成する
// 同名のコレクションが既にある場合は何もしない
func (s *VectorStore) CreateCollection(ctx context.Context, name string, params ingestion.CollectionParams) error {
	if !collectionNamePattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidCollectionName, name)
	}
	if params.Size <= 0 {
		return fmt.Errorf("%w: collection %q", ingestion.ErrMissingVectorSize, name)
	}
	opClass, err := operatorClass(params.Distance)
	if err != nil {
		return err
	}

	table := tableName(name)
	ident := pgx.Identifier{table}.Sanitize()
	index := pgx.Identifier{table + "_embedding_idx"}.Sanitize()

	return database.Transact(ctx, s.pool, func(tx pgx.Tx) error {
		// 複数プロセスからの同時作成を直列化する
		if err := acquireXactLock(ctx, tx, GenerateLockID("collection", name)); err != nil {
			return err
		}

		var exists bool
		if err := tx.QueryRow(ctx,
			"SELECT EXISTS(SELECT 1 FROM vector_collections WHERE name = $1)", name,
		).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check collection: %w", err)
		}
		if exists {
			return nil
		}

		createTable := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id         BIGINT PRIMARY KEY,
	payload    JSONB NOT NULL,
	embedding  vector(%d),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`, ident, params.Size)
		if _, err := tx.Exec(ctx, createTable); err != nil {
			return fmt.Errorf("failed to create collection table: %w", err)
		}

		createIndex := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s USING hnsw (embedding %s)", index, ident, opClass)
		if _, err := tx.Exec(ctx, createIndex); err != nil {
			return fmt.Errorf("failed to create vector index: %w", err)
		}

		if _, err := tx.Exec(ctx,
			"INSERT INTO vector_collections (name, table_name, dimension, distance) VALUES ($1, $2, $3, $4)",
			name, table, params.Size, string(params.Distance),
		); err != nil {
			return fmt.Errorf("failed to register collection: %w", err)
		}
		return nil
	})
}

// Upsert はバッチ全体を1トランザクションで書き込む
// 空のベクトルは NULL として保存し、次元が合わないベクトルを含む場合はバッチ全体を拒否する
func (s *VectorStore) Upsert(ctx context.Context, collection string, batch ingestion.PointBatch) error {
	if len(batch.IDs) != len(batch.Payloads) || len(batch.IDs) != len(batch.Vectors) {
		return fmt.Errorf("batch arrays differ in length: ids=%d payloads=%d vectors=%d",
			len(batch.IDs), len(batch.Payloads), len(batch.Vectors))
	}
	if batch.Len() == 0 {
		return nil
	}

	table, dimension, err := s.lookup(ctx, collection)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`INSERT INTO %s (id, payload, embedding, updated_at)
VALUES ($1, $2, $3, now())
ON CONFLICT (id) DO UPDATE SET
	payload = EXCLUDED.payload,
	embedding = EXCLUDED.embedding,
	updated_at = now()`, pgx.Identifier{table}.Sanitize())

	pgBatch := &pgx.Batch{}
	for i, id := range batch.IDs {
		payload, err := json.Marshal(batch.Payloads[i])
		if err != nil {
			return fmt.Errorf("failed to marshal payload for id %d: %w", id, err)
		}

		embedding, err := toEmbedding(batch.Vectors[i], dimension)
		if err != nil {
			return fmt.Errorf("id %d: %w", id, err)
		}

		pgBatch.Queue(query, int64(id), payload, embedding)
	}

	return database.Transact(ctx, s.pool, func(tx pgx.Tx) error {
		results := tx.SendBatch(ctx, pgBatch)
		for i := range batch.IDs {
			if _, err := results.Exec(); err != nil {
				results.Close()
				return fmt.Errorf("failed to upsert id %d: %w", batch.IDs[i], err)
			}
		}
		return results.Close()
	})
}

// Count はコレクションのポイント数を返す
func (s *VectorStore) Count(ctx context.Context, collection string) (int64, error) {
	table, _, err := s.lookup(ctx, collection)
	if err != nil {
		return 0, err
	}

	var count int64
	query := fmt.Sprintf("SELECT count(*) FROM %s", pgx.Identifier{table}.Sanitize())
	if err := s.pool.QueryRow(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count points: %w", err)
	}
	return count, nil
}

func (s *VectorStore) lookup(ctx context.Context, collection string) (string, int, error) {
	var table string
	var dimension int
	err := s.pool.QueryRow(ctx,
		"SELECT table_name, dimension FROM vector_collections WHERE name = $1", collection,
	).Scan(&table, &dimension)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", 0, fmt.Errorf("%w: %q", ErrCollectionNotFound, collection)
	}
	if err != nil {
		return "", 0, fmt.Errorf("failed to look up collection: %w", err)
	}
	return table, dimension, nil
}

// toEmbedding はベクトルを SQL パラメータに変換する（空なら NULL）
func toEmbedding(vector []float32, dimension int) (any, error) {
	if len(vector) == 0 {
		return nil, nil
	}
	if len(vector) != dimension {
		return nil, fmt.Errorf("%w: got %d, collection expects %d", ErrDimensionMismatch, len(vector), dimension)
	}
	return pgvector.NewVector(vector), nil
}

func tableName(collection string) string {
	return "collection_" + collection
}

func operatorClass(distance ingestion.Distance) (string, error) {
	switch distance {
	case ingestion.DistanceCosine, "":
		return "vector_cosine_ops", nil
	case ingestion.DistanceEuclid:
		return "vector_l2_ops", nil
	case ingestion.DistanceDot:
		return "vector_ip_ops", nil
	default:
		return "", fmt.Errorf("unsupported distance %q", distance)
	}
}

var _ ingestion.VectorStore = (*VectorStore)(nil)
