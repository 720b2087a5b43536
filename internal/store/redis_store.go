package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/danghamo/passport/internal/domain/shared"
)

// RedisStore implements Store using Redis hashes with per-field index sets
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a new Redis-based document store
func NewRedisStore(client *redis.Client) Store {
	return &RedisStore{
		client: client,
	}
}

func docKey(collection, key string) string {
	return fmt.Sprintf("doc:%s:%s", collection, key)
}

func fieldIndexKey(collection, field, value string) string {
	return fmt.Sprintf("idx:doc:%s:%s:%s", collection, field, value)
}

// QueryByField returns every document whose top-level field equals value
func (s *RedisStore) QueryByField(ctx context.Context, collection, field, value string) ([]Document, error) {
	keys, err := s.client.SMembers(ctx, fieldIndexKey(collection, field, value)).Result()
	if err != nil {
		return nil, err
	}

	if len(keys) == 0 {
		return []Document{}, nil
	}

	docs := make([]Document, 0, len(keys))
	for _, key := range keys {
		data, err := s.client.HGet(ctx, docKey(collection, key), "data").Result()
		if err == redis.Nil {
			// Index entry outlived its document, skip it
			continue
		}
		if err != nil {
			return nil, err
		}
		docs = append(docs, Document{Key: key, Data: json.RawMessage(data)})
	}

	return docs, nil
}

// Add inserts a new document and returns its generated key
func (s *RedisStore) Add(ctx context.Context, collection string, data interface{}) (string, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return "", err
	}

	fields, err := indexableFields(payload)
	if err != nil {
		return "", err
	}

	key := shared.NewID().String()

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, docKey(collection, key), "data", string(payload))
		for field, value := range fields {
			pipe.SAdd(ctx, fieldIndexKey(collection, field, value), key)
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	return key, nil
}

// DeleteByKey removes a document and its index entries
func (s *RedisStore) DeleteByKey(ctx context.Context, collection, key string) error {
	k := docKey(collection, key)

	return s.client.Watch(ctx, func(tx *redis.Tx) error {
		data := tx.HGet(ctx, k, "data")
		if data.Err() == redis.Nil {
			return shared.ErrNotFound("document")
		}
		if data.Err() != nil {
			return data.Err()
		}

		fields, err := indexableFields([]byte(data.Val()))
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, k)
			for field, value := range fields {
				pipe.SRem(ctx, fieldIndexKey(collection, field, value), key)
			}
			return nil
		})
		return err
	}, k)
}

// indexableFields extracts top-level scalar string fields for secondary indexing
func indexableFields(payload []byte) (map[string]string, error) {
	var doc map[string]interface{}
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, err
	}

	fields := make(map[string]string)
	for k, v := range doc {
		if s, ok := v.(string); ok && s != "" {
			fields[k] = s
		}
	}
	return fields, nil
}
