package store

import (
	"context"
	"encoding/json"
)

// Document is a stored record: an opaque JSON payload under a generated key
type Document struct {
	Key  string          `json:"key"`
	Data json.RawMessage `json:"data"`
}

// Decode deserializes the document payload into v
func (d Document) Decode(v interface{}) error {
	return json.Unmarshal(d.Data, v)
}

// Store defines the capability set of the external document store:
// collection-scoped query-by-field, add-document and delete-by-key.
// All operations are asynchronous calls that return a result set or fail;
// there is no uniqueness constraint and no transaction spanning calls.
type Store interface {
	// QueryByField returns every document in the collection whose top-level
	// field equals value. An empty result is not an error.
	QueryByField(ctx context.Context, collection, field, value string) ([]Document, error)

	// Add inserts a new document and returns its generated key
	Add(ctx context.Context, collection string, data interface{}) (string, error)

	// DeleteByKey removes a document by its key
	DeleteByKey(ctx context.Context, collection, key string) error
}
