package storage

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/staywise/dwh-pipeline/pkg/models"
)

// MongoStore keeps every partition in a single collection, one document
// per record, tagged with the partition key. Insertion order (by _id)
// preserves append order within a partition.
type MongoStore struct {
	coll *mongo.Collection
}

type partitionDoc struct {
	Partition string    `bson:"partition"`
	Data      bson.M    `bson:"data"`
	WrittenAt time.Time `bson:"written_at"`
}

// NewMongoStore uses database db, collection "partitions", and creates
// the partition index lazily on first use.
func NewMongoStore(client *mongo.Client, db string) *MongoStore {
	return &MongoStore{coll: client.Database(db).Collection("partitions")}
}

func (s *MongoStore) Append(ctx context.Context, partition string, records []models.Record) error {
	if len(records) == 0 {
		return nil
	}
	docs := make([]interface{}, 0, len(records))
	now := time.Now().UTC()
	for _, rec := range records {
		docs = append(docs, partitionDoc{Partition: partition, Data: bson.M(rec), WrittenAt: now})
	}
	if _, err := s.coll.InsertMany(ctx, docs); err != nil {
		return fmt.Errorf("append %s: %w", partition, err)
	}
	return nil
}

func (s *MongoStore) Read(ctx context.Context, partition string) ([]models.Record, error) {
	opts := options.Find().SetSort(bson.M{"_id": 1})
	cursor, err := s.coll.Find(ctx, bson.M{"partition": partition}, opts)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", partition, err)
	}
	defer cursor.Close(ctx)

	var records []models.Record
	for cursor.Next(ctx) {
		var doc partitionDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("read %s: decode: %w", partition, err)
		}
		records = append(records, fromBSON(doc.Data))
	}
	return records, cursor.Err()
}

// WriteReplace swaps the partition's contents wholesale. Used only for
// snapshot and quarantine partitions; staging always appends.
func (s *MongoStore) WriteReplace(ctx context.Context, partition string, records []models.Record) error {
	if _, err := s.coll.DeleteMany(ctx, bson.M{"partition": partition}); err != nil {
		return fmt.Errorf("replace %s: clear: %w", partition, err)
	}
	return s.Append(ctx, partition, records)
}

func (s *MongoStore) List(ctx context.Context, prefix string) ([]string, error) {
	filter := bson.M{"partition": bson.M{"$regex": "^" + regexEscape(prefix)}}
	raw, err := s.coll.Distinct(ctx, "partition", filter)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}
	keys := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			keys = append(keys, s)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func regexEscape(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '.', '+', '*', '?', '(', ')', '[', ']', '{', '}', '^', '$', '|', '\\':
			out = append(out, '\\')
		}
		out = append(out, s[i])
	}
	return string(out)
}
