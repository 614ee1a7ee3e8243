package mongo

import (
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"
)

// DecodeDocument converts one native document into the engine value domain:
// map[string]any objects, []any arrays, string, int64 (the long kind,
// int32 widens into it), float64, bool and nil.
func DecodeDocument(raw bson.Raw) (map[string]any, error) {
	elements, err := raw.Elements()
	if err != nil {
		return nil, fmt.Errorf("malformed document: %w", err)
	}
	doc := make(map[string]any, len(elements))
	for _, elem := range elements {
		v, err := decodeRawValue(elem.Value())
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", elem.Key(), err)
		}
		doc[elem.Key()] = v
	}
	return doc, nil
}

// DecodeValue extracts the row value from one streamed document. When the
// plan reported Wrapped the value sits under the reserved "value" field;
// otherwise the document itself is the value. The second result is false
// when the wrapped field is absent, which marks a row with no value.
func DecodeValue(raw bson.Raw, wrapped bool) (any, bool, error) {
	if !wrapped {
		doc, err := DecodeDocument(raw)
		if err != nil {
			return nil, false, err
		}
		return doc, true, nil
	}
	rv, err := raw.LookupErr(valueField)
	if err != nil {
		if errors.Is(err, bsoncore.ErrElementNotFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("malformed document: %w", err)
	}
	v, err := decodeRawValue(rv)
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func decodeRawValue(rv bson.RawValue) (any, error) {
	switch rv.Type {
	case bsontype.String:
		return rv.StringValue(), nil
	case bsontype.Int32:
		return int64(rv.Int32()), nil
	case bsontype.Int64:
		return rv.Int64(), nil
	case bsontype.Double:
		return rv.Double(), nil
	case bsontype.Boolean:
		return rv.Boolean(), nil
	case bsontype.Null, bsontype.Undefined:
		return nil, nil
	case bsontype.ObjectID:
		return rv.ObjectID().Hex(), nil
	case bsontype.DateTime:
		return rv.Time(), nil
	case bsontype.EmbeddedDocument:
		return DecodeDocument(rv.Document())
	case bsontype.Array:
		values, err := rv.Array().Values()
		if err != nil {
			return nil, fmt.Errorf("malformed array: %w", err)
		}
		arr := make([]any, 0, len(values))
		for _, v := range values {
			decoded, err := decodeRawValue(v)
			if err != nil {
				return nil, err
			}
			arr = append(arr, decoded)
		}
		return arr, nil
	default:
		var out any
		if err := rv.Unmarshal(&out); err != nil {
			return nil, fmt.Errorf("unsupported value type %s: %w", rv.Type, err)
		}
		return out, nil
	}
}
