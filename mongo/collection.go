package mongo

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	driver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Collection is the handle one evaluation borrows from the connection
// provider. Implementations open a fresh cursor per call; the evaluator
// never retains cursor state across calls.
type Collection interface {
	Name() string
	// Aggregate executes an aggregation pipeline, fetching results in
	// batches of at most batchSize documents.
	Aggregate(ctx context.Context, pipeline []bson.D, batchSize int32) (Cursor, error)
	// Scan opens an unfiltered cursor over the whole collection.
	Scan(ctx context.Context, batchSize int32) (Cursor, error)
}

// driverCollection adapts a *mongo.Collection to the Collection seam.
type driverCollection struct {
	coll *driver.Collection
}

// NewCollection wraps a driver collection handle.
func NewCollection(coll *driver.Collection) Collection {
	return &driverCollection{coll: coll}
}

func (c *driverCollection) Name() string {
	return c.coll.Name()
}

func (c *driverCollection) Aggregate(ctx context.Context, pipeline []bson.D, batchSize int32) (Cursor, error) {
	if pipeline == nil {
		pipeline = []bson.D{}
	}
	cur, err := c.coll.Aggregate(ctx, pipeline, options.Aggregate().SetBatchSize(batchSize))
	if err != nil {
		return nil, err
	}
	return &driverCursor{cur: cur}, nil
}

func (c *driverCollection) Scan(ctx context.Context, batchSize int32) (Cursor, error) {
	cur, err := c.coll.Find(ctx, bson.D{}, options.Find().SetBatchSize(batchSize))
	if err != nil {
		return nil, err
	}
	return &driverCursor{cur: cur}, nil
}

type driverCursor struct {
	cur *driver.Cursor
}

func (c *driverCursor) Next(ctx context.Context) bool { return c.cur.Next(ctx) }

func (c *driverCursor) Current() bson.Raw { return c.cur.Current }

func (c *driverCursor) Err() error { return c.cur.Err() }

func (c *driverCursor) Close(ctx context.Context) error { return c.cur.Close(ctx) }
