// Package archive exports a chat's query history to the object store as a
// parquet file.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"sort"
	"strconv"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/querychat/querychat/internal/storage"
	"github.com/querychat/querychat/internal/store"
)

const ContentType = "application/vnd.apache.parquet"

var ErrNothingToExport = errors.New("chat has no query records")

// Row is the parquet layout of one exported query record.
type Row struct {
	QueryID         int64   `parquet:"query_id"`
	ChatID          int64   `parquet:"chat_id"`
	DatabaseID      *int64  `parquet:"db_id,optional"`
	DatabaseName    *string `parquet:"db_name,optional"`
	Question        string  `parquet:"natural_language_query"`
	GeneratedSQL    *string `parquet:"generated_sql,optional"`
	Result          *string `parquet:"result,optional"`
	Outcome         string  `parquet:"outcome"`
	CreatedAtUnixMs int64   `parquet:"created_at_unix_ms"`
}

type Export struct {
	ChatID      int64     `json:"chat_id"`
	Name        string    `json:"name"`
	Key         string    `json:"key"`
	RecordCount int       `json:"record_count"`
	SizeBytes   int64     `json:"size_bytes"`
	ETag        string    `json:"etag,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type Exporter struct {
	Records store.QueryAuditStore
	Objects storage.ObjectStore
	Logger  *slog.Logger
	Clock   func() time.Time
}

func (e *Exporter) ExportChat(ctx context.Context, chatID int64) (Export, error) {
	clock := e.Clock
	if clock == nil {
		clock = time.Now
	}

	records, err := e.Records.ListRecords(ctx, chatID)
	if err != nil {
		return Export{}, fmt.Errorf("list query records: %w", err)
	}
	if len(records) == 0 {
		return Export{}, ErrNothingToExport
	}

	data, err := EncodeRecords(records)
	if err != nil {
		return Export{}, err
	}

	now := clock().UTC()
	key, err := storage.BuildExportPath(chatID, now)
	if err != nil {
		return Export{}, fmt.Errorf("build export path: %w", err)
	}
	info, err := e.Objects.Put(ctx, key, bytes.NewReader(data), int64(len(data)), storage.PutOptions{
		ContentType: ContentType,
		Metadata: map[string]string{
			storage.MetaChatID:      strconv.FormatInt(chatID, 10),
			storage.MetaRecordCount: strconv.Itoa(len(records)),
		},
	})
	if err != nil {
		return Export{}, fmt.Errorf("put export object: %w", err)
	}

	if e.Logger != nil {
		e.Logger.InfoContext(ctx, "chat history exported",
			slog.Int64("chat_id", chatID),
			slog.String("key", key),
			slog.Int("records", len(records)),
		)
	}
	return Export{
		ChatID:      chatID,
		Name:        path.Base(key),
		Key:         key,
		RecordCount: len(records),
		SizeBytes:   int64(len(data)),
		ETag:        info.ETag,
		CreatedAt:   now,
	}, nil
}

// ListExports returns the export files of chatID, oldest first. RecordCount
// is only known for entries whose listing carried upload metadata.
func (e *Exporter) ListExports(ctx context.Context, chatID int64) ([]Export, error) {
	objects, err := e.Objects.List(ctx, storage.ExportPrefix(chatID))
	if err != nil {
		return nil, fmt.Errorf("list exports: %w", err)
	}
	exports := make([]Export, 0, len(objects))
	for _, object := range objects {
		name, ok := storage.ExportName(chatID, object.Key)
		if !ok {
			continue
		}
		createdAt, _ := storage.ExportTime(name)
		count, _ := strconv.Atoi(object.Metadata[storage.MetaRecordCount])
		exports = append(exports, Export{
			ChatID:      chatID,
			Name:        name,
			Key:         object.Key,
			RecordCount: count,
			SizeBytes:   object.Size,
			ETag:        object.ETag,
			CreatedAt:   createdAt,
		})
	}
	sort.Slice(exports, func(i, j int) bool { return exports[i].CreatedAt.Before(exports[j].CreatedAt) })
	return exports, nil
}

// Open returns a previously exported file of chatID by its base name.
func (e *Exporter) Open(ctx context.Context, chatID int64, name string) (io.ReadCloser, storage.ObjectInfo, error) {
	key, err := storage.ExportObjectPath(chatID, name)
	if err != nil {
		return nil, storage.ObjectInfo{}, err
	}
	info, err := e.Objects.Stat(ctx, key)
	if err != nil {
		return nil, storage.ObjectInfo{}, err
	}
	body, err := e.Objects.Get(ctx, key)
	if err != nil {
		return nil, storage.ObjectInfo{}, err
	}
	return body, info, nil
}

func EncodeRecords(records []store.QueryRecord) ([]byte, error) {
	if len(records) == 0 {
		return nil, ErrNothingToExport
	}
	rows := make([]Row, 0, len(records))
	for _, record := range records {
		rows = append(rows, Row{
			QueryID:         record.QueryID,
			ChatID:          record.ChatID,
			DatabaseID:      record.DatabaseID,
			DatabaseName:    record.DatabaseName,
			Question:        record.Question,
			GeneratedSQL:    record.GeneratedSQL,
			Result:          record.Result,
			Outcome:         record.Outcome,
			CreatedAtUnixMs: record.CreatedAt.UnixMilli(),
		})
	}

	buf := bytes.NewBuffer(nil)
	writer := parquet.NewGenericWriter[Row](buf)
	if _, err := writer.Write(rows); err != nil {
		return nil, fmt.Errorf("write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close parquet writer: %w", err)
	}
	return buf.Bytes(), nil
}
