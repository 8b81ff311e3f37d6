// Package archive uploads rows removed by the retention sweep to S3 as
// JSON lines.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"
)

const contentTypeJSONLines = "application/x-ndjson"

// Uploader stores one object. Client implements it.
type Uploader interface {
	Put(ctx context.Context, key string, body []byte, contentType string) error
}

// Archiver writes batches of rows as JSON lines objects.
type Archiver struct {
	uploader Uploader
	prefix   string
	now      func() time.Time
}

func NewArchiver(uploader Uploader, prefix string) *Archiver {
	return &Archiver{uploader: uploader, prefix: prefix, now: time.Now}
}

// Archive encodes rows one per line and uploads them. Empty batches are skipped.
func (a *Archiver) Archive(ctx context.Context, table string, rows []any) error {
	if len(rows) == 0 {
		return nil
	}
	body, err := EncodeJSONLines(rows)
	if err != nil {
		return fmt.Errorf("encode %s archive: %w", table, err)
	}
	return a.uploader.Put(ctx, ObjectKey(a.prefix, table, a.now()), body, contentTypeJSONLines)
}

// EncodeJSONLines renders rows as newline separated JSON documents.
func EncodeJSONLines(rows []any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, row := range rows {
		if err := enc.Encode(row); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}
