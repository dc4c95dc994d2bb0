package storage

import (
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/staywise/dwh-pipeline/pkg/models"
)

// fromBSON rebuilds a pipeline record from a decoded BSON document,
// mapping driver types back onto the plain Go types the engine works
// with (primitive.DateTime -> time.Time, primitive.A -> []interface{}).
func fromBSON(doc bson.M) models.Record {
	rec := make(models.Record, len(doc))
	for k, v := range doc {
		rec[k] = fromBSONValue(v)
	}
	return rec
}

func fromBSONValue(v interface{}) interface{} {
	switch val := v.(type) {
	case primitive.DateTime:
		return val.Time().UTC()
	case primitive.A:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = fromBSONValue(item)
		}
		return out
	case bson.M:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[k] = fromBSONValue(item)
		}
		return out
	case bson.D:
		out := make(map[string]interface{}, len(val))
		for _, elem := range val {
			out[elem.Key] = fromBSONValue(elem.Value)
		}
		return out
	case int32:
		return int64(val)
	case time.Time:
		return val.UTC()
	default:
		return v
	}
}
