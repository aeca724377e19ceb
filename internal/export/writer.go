// Package export writes rendered conversation documents to the object
// store under date-partitioned paths, keeping every artifact for one
// conversation co-located.
package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/candela-labs/convoscope/internal/conversation"
	"github.com/candela-labs/convoscope/internal/storage"
	"github.com/candela-labs/convoscope/internal/transform"
)

type Writer struct {
	store  storage.ObjectStore
	logger *slog.Logger
	now    func() time.Time
}

func NewWriter(store storage.ObjectStore, logger *slog.Logger) *Writer {
	return &Writer{store: store, logger: logger, now: time.Now}
}

// Path returns the storage key for one document:
// exports/<year>/<month>/<day>/<conversation_id>/<filename>, partitioned
// by the conversation's start time.
func Path(conv *conversation.ConversationUnit, filename string) string {
	ts := conv.StartTimestamp.UTC()
	return fmt.Sprintf("exports/%04d/%02d/%02d/%s/%s",
		ts.Year(), int(ts.Month()), ts.Day(), conv.ConversationID, filename)
}

// Write persists every document and returns {format: storage_url} for the
// ones that landed. Individual failures are logged and folded into the
// returned error; they never stop the remaining documents from being
// written, and callers treat the error as soft.
func (w *Writer) Write(ctx context.Context, conv *conversation.ConversationUnit, docs []transform.Document) (map[string]string, error) {
	urls := make(map[string]string, len(docs))
	var errs []error

	for _, doc := range docs {
		key := Path(conv, doc.Filename)
		tags := map[string]string{
			"conversation_id": conv.ConversationID,
			"format":          doc.Format,
			"exported_at":     w.now().UTC().Format(time.RFC3339),
		}
		url, err := w.store.Put(ctx, key, doc.Body, doc.ContentType, tags)
		if err != nil {
			w.logger.Error("export write failed",
				"conversation_id", conv.ConversationID, "format", doc.Format, "key", key, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", doc.Format, err))
			continue
		}
		urls[doc.Format] = url
	}

	w.logger.Info("conversation exported",
		"conversation_id", conv.ConversationID, "written", len(urls), "failed", len(errs))
	return urls, errors.Join(errs...)
}
