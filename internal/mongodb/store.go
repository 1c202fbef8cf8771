// Package mongodb implements types.Storage on MongoDB. Each entity maps to a
// collection; the identifier is stored as _id and every other column as a
// top-level field of the same name.
package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	mopt "go.mongodb.org/mongo-driver/mongo/options"

	"github.com/mesh-intelligence/stowage/pkg/types"
)

// Store is the MongoDB storage backend.
type Store struct {
	client  *mongo.Client
	db      *mongo.Database
	mapping types.Metadata
}

// Open connects to uri, pings the server, and uses database for every
// collection.
func Open(ctx context.Context, uri, database string, mapping types.Metadata) (*Store, error) {
	if database == "" {
		return nil, types.ErrDatabaseRequired
	}
	opts := mopt.Client().ApplyURI(uri)
	opts.SetConnectTimeout(10 * time.Second).SetServerSelectionTimeout(10 * time.Second)
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return &Store{client: client, db: client.Database(database), mapping: mapping}, nil
}

// Close disconnects the client.
func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func (s *Store) coll(meta *types.EntityMeta) *mongo.Collection {
	return s.db.Collection(meta.Table)
}

// CreateSchema indexes every join column so inverse lookups do not scan.
func (s *Store) CreateSchema(ctx context.Context, metas ...*types.EntityMeta) error {
	for _, meta := range metas {
		for _, a := range meta.Associations {
			if !a.IsOwningSide() {
				continue
			}
			model := mongo.IndexModel{Keys: bson.D{{Key: a.JoinColumn, Value: 1}}}
			if _, err := s.coll(meta).Indexes().CreateOne(ctx, model); err != nil {
				return fmt.Errorf("indexing %s.%s: %w", meta.Table, a.JoinColumn, err)
			}
		}
	}
	return nil
}

// Load returns the document with the given identifier.
func (s *Store) Load(ctx context.Context, meta *types.EntityMeta, id any) (types.Row, error) {
	kinds := types.ColumnKinds(s.mapping, meta)
	key, err := coerce(kinds, meta, meta.IDColumn(), id)
	if err != nil {
		return nil, err
	}
	var doc bson.M
	err = s.coll(meta).FindOne(ctx, bson.M{"_id": key}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", meta.Table, err)
	}
	return toRow(kinds, meta, doc)
}

// LoadBy returns the documents whose column equals value, ordered by _id.
func (s *Store) LoadBy(ctx context.Context, meta *types.EntityMeta, column string, value any) ([]types.Row, error) {
	kinds := types.ColumnKinds(s.mapping, meta)
	v, err := coerce(kinds, meta, column, value)
	if err != nil {
		return nil, err
	}
	field := column
	if column == meta.IDColumn() {
		field = "_id"
	}
	cur, err := s.coll(meta).Find(ctx, bson.M{field: v}, mopt.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", meta.Table, err)
	}
	var docs []bson.M
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("reading %s: %w", meta.Table, err)
	}
	out := make([]types.Row, 0, len(docs))
	for _, doc := range docs {
		row, err := toRow(kinds, meta, doc)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, nil
}

// Insert writes a new document. Returns ErrDuplicateRow if _id is taken.
func (s *Store) Insert(ctx context.Context, meta *types.EntityMeta, row types.Row) error {
	doc, err := toDocument(types.ColumnKinds(s.mapping, meta), meta, row)
	if err != nil {
		return err
	}
	if _, err := s.coll(meta).InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: %s %v", types.ErrDuplicateRow, meta.Table, doc["_id"])
		}
		return fmt.Errorf("inserting into %s: %w", meta.Table, err)
	}
	return nil
}

// Update sets the changed columns of an existing document.
func (s *Store) Update(ctx context.Context, meta *types.EntityMeta, id any, changes types.Row) error {
	kinds := types.ColumnKinds(s.mapping, meta)
	key, err := coerce(kinds, meta, meta.IDColumn(), id)
	if err != nil {
		return err
	}
	set := bson.M{}
	for col, v := range changes {
		if col == meta.IDColumn() {
			return fmt.Errorf("%w: %s", types.ErrIdentifierChanged, meta.Table)
		}
		c, err := coerce(kinds, meta, col, v)
		if err != nil {
			return err
		}
		set[col] = c
	}
	if len(set) == 0 {
		_, err := s.Load(ctx, meta, id)
		return err
	}
	res, err := s.coll(meta).UpdateOne(ctx, bson.M{"_id": key}, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("updating %s: %w", meta.Table, err)
	}
	if res.MatchedCount == 0 {
		return types.ErrNotFound
	}
	return nil
}

// Delete removes a document.
func (s *Store) Delete(ctx context.Context, meta *types.EntityMeta, id any) error {
	key, err := coerce(types.ColumnKinds(s.mapping, meta), meta, meta.IDColumn(), id)
	if err != nil {
		return err
	}
	res, err := s.coll(meta).DeleteOne(ctx, bson.M{"_id": key})
	if err != nil {
		return fmt.Errorf("deleting from %s: %w", meta.Table, err)
	}
	if res.DeletedCount == 0 {
		return types.ErrNotFound
	}
	return nil
}

// toDocument renders a row as a document keyed by _id.
func toDocument(kinds map[string]types.FieldKind, meta *types.EntityMeta, row types.Row) (bson.M, error) {
	doc := bson.M{}
	for _, col := range meta.Columns() {
		v, err := coerce(kinds, meta, col, row[col])
		if err != nil {
			return nil, err
		}
		if col == meta.IDColumn() {
			if v == nil {
				return nil, fmt.Errorf("%w: %s row has no identifier", types.ErrInvalidID, meta.Table)
			}
			doc["_id"] = v
			continue
		}
		doc[col] = v
	}
	return doc, nil
}

// toRow maps a decoded document back onto the entity's columns. Fields the
// mapping does not know are dropped; missing fields read as nil.
func toRow(kinds map[string]types.FieldKind, meta *types.EntityMeta, doc bson.M) (types.Row, error) {
	row := make(types.Row, len(kinds))
	for _, col := range meta.Columns() {
		raw := doc[col]
		if col == meta.IDColumn() {
			raw = doc["_id"]
		}
		if dt, ok := raw.(primitive.DateTime); ok {
			raw = dt.Time()
		}
		v, err := types.Coerce(kinds[col], raw)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", meta.Table, col, err)
		}
		row[col] = v
	}
	return row, nil
}

func coerce(kinds map[string]types.FieldKind, meta *types.EntityMeta, col string, v any) (any, error) {
	kind, ok := kinds[col]
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", types.ErrUnknownField, meta.Table, col)
	}
	c, err := types.Coerce(kind, v)
	if err != nil {
		return nil, fmt.Errorf("%s.%s: %w", meta.Table, col, err)
	}
	return c, nil
}
