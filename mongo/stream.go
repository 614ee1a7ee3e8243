package mongo

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"
)

// Cursor abstracts the driver cursor so the streaming layer can be
// exercised against collaborator stubs.
type Cursor interface {
	Next(ctx context.Context) bool
	Current() bson.Raw
	Err() error
	Close(ctx context.Context) error
}

// DocumentStream is a lazy, single-pass sequence of native documents drawn
// from a server-side cursor. Fetches are demand-driven and bounded by the
// batch size the cursor was opened with; no document is requested before
// the caller consumes the previous one. The underlying cursor is released
// exactly once, whether the stream is exhausted, errs, or is closed early.
type DocumentStream struct {
	cursor  Cursor
	logger  *zap.Logger
	current bson.Raw
	err     error
	closed  bool
}

func newDocumentStream(cursor Cursor, logger *zap.Logger) *DocumentStream {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DocumentStream{cursor: cursor, logger: logger}
}

// Next advances to the next document, fetching a new batch from the server
// only when the previous one is drained. It returns false on exhaustion or
// error, releasing the cursor; check Err afterwards.
func (s *DocumentStream) Next(ctx context.Context) bool {
	if s.closed {
		return false
	}
	if s.cursor.Next(ctx) {
		// The driver reuses the cursor's buffer, so the document must be
		// copied before the next advance.
		s.current = append(bson.Raw(nil), s.cursor.Current()...)
		return true
	}
	s.err = s.cursor.Err()
	if cerr := s.release(ctx); cerr != nil && s.err == nil {
		s.err = cerr
	}
	return false
}

// Document returns the document delivered by the last successful Next.
func (s *DocumentStream) Document() bson.Raw {
	return s.current
}

// Err returns the error that terminated the stream, if any. Documents
// delivered before the error remain valid.
func (s *DocumentStream) Err() error {
	return s.err
}

// Close releases the server-side cursor without waiting for exhaustion.
// It is idempotent and safe to defer alongside normal consumption.
func (s *DocumentStream) Close(ctx context.Context) error {
	return s.release(ctx)
}

func (s *DocumentStream) release(ctx context.Context) error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.logger.Debug("releasing document stream cursor")
	return s.cursor.Close(ctx)
}
