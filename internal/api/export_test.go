package api

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/querychat/querychat/internal/archive"
	"github.com/querychat/querychat/internal/storage"
	"github.com/querychat/querychat/internal/store"
	"github.com/querychat/querychat/internal/store/memory"
)

func TestExportChatUploadsHistory(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()
	chat, _ := repo.CreateChat(ctx, "alice", "")
	_, _ = repo.InsertRecord(ctx, store.InsertRecordInput{ChatID: chat.ChatID, Question: "List tables", Outcome: "success"})
	objects := &memoryObjects{objects: map[string][]byte{}}
	exporter := &archive.Exporter{Records: repo, Objects: objects, Clock: func() time.Time { return time.Unix(1700000000, 0) }}
	h := NewHandler(loadConfig(t, nil), Dependencies{Chats: repo, Exporter: exporter})

	rr := doJSON(t, h, http.MethodPost, chatPath(chat.ChatID, "export"), "alice", "")
	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d, body=%s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	key, _ := body["key"].(string)
	if _, ok := objects.objects[key]; !ok || body["record_count"] != float64(1) {
		t.Fatalf("body = %#v, objects = %v", body, objects.keys())
	}

	rr = doJSON(t, h, http.MethodGet, chatPath(chat.ChatID, "exports/queries-1700000000000.parquet"), "alice", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("download status = %d, body=%s", rr.Code, rr.Body.String())
	}
	if rr.Header().Get("Content-Type") != archive.ContentType || !bytes.Equal(rr.Body.Bytes(), objects.objects[key]) {
		t.Fatalf("download headers = %v", rr.Header())
	}

	rr = doJSON(t, h, http.MethodGet, chatPath(chat.ChatID, "exports/queries-1600000000000.parquet"), "alice", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("missing export status = %d", rr.Code)
	}
	rr = doJSON(t, h, http.MethodGet, chatPath(chat.ChatID, "exports/secrets.txt"), "alice", "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("invalid export status = %d", rr.Code)
	}

	rr = doJSON(t, h, http.MethodGet, chatPath(chat.ChatID, "exports"), "alice", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("list status = %d, body=%s", rr.Code, rr.Body.String())
	}
	listed, _ := decodeBody(t, rr)["exports"].([]any)
	if len(listed) != 1 {
		t.Fatalf("exports = %#v", listed)
	}
	if entry, _ := listed[0].(map[string]any); entry["name"] != "queries-1700000000000.parquet" {
		t.Fatalf("export entry = %#v", entry)
	}

	rr = doJSON(t, h, http.MethodGet, chatPath(chat.ChatID, "exports"), "bob", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("foreign list status = %d", rr.Code)
	}
}

func TestExportChatWithoutRecordsConflicts(t *testing.T) {
	repo := memory.New()
	chat, _ := repo.CreateChat(context.Background(), "alice", "")
	exporter := &archive.Exporter{Records: repo, Objects: &memoryObjects{objects: map[string][]byte{}}}
	h := NewHandler(loadConfig(t, nil), Dependencies{Chats: repo, Exporter: exporter})

	rr := doJSON(t, h, http.MethodPost, chatPath(chat.ChatID, "export"), "alice", "")
	if rr.Code != http.StatusConflict {
		t.Fatalf("status = %d", rr.Code)
	}
	assertErrorCode(t, rr, "NOTHING_TO_EXPORT")
}

func TestExportNotConfigured(t *testing.T) {
	repo := memory.New()
	chat, _ := repo.CreateChat(context.Background(), "alice", "")
	h := NewHandler(loadConfig(t, nil), Dependencies{Chats: repo})

	rr := doJSON(t, h, http.MethodPost, chatPath(chat.ChatID, "export"), "alice", "")
	if rr.Code != http.StatusNotImplemented {
		t.Fatalf("status = %d", rr.Code)
	}
}

type memoryObjects struct {
	objects map[string][]byte
}

func (m *memoryObjects) Put(_ context.Context, key string, body io.Reader, size int64, _ storage.PutOptions) (storage.ObjectInfo, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	if int64(len(data)) != size {
		return storage.ObjectInfo{}, errors.New("size mismatch")
	}
	m.objects[key] = data
	return storage.ObjectInfo{Key: key, Size: size}, nil
}

func (m *memoryObjects) Get(_ context.Context, key string) (io.ReadCloser, error) {
	data, ok := m.objects[key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memoryObjects) Stat(_ context.Context, key string) (storage.ObjectInfo, error) {
	data, ok := m.objects[key]
	if !ok {
		return storage.ObjectInfo{}, storage.ErrObjectNotFound
	}
	return storage.ObjectInfo{Key: key, Size: int64(len(data))}, nil
}

func (m *memoryObjects) List(_ context.Context, prefix string) ([]storage.ObjectInfo, error) {
	listed := make([]storage.ObjectInfo, 0)
	for _, key := range m.keys() {
		if strings.HasPrefix(key, prefix) {
			listed = append(listed, storage.ObjectInfo{Key: key, Size: int64(len(m.objects[key]))})
		}
	}
	return listed, nil
}

func (m *memoryObjects) keys() []string {
	keys := make([]string, 0, len(m.objects))
	for key := range m.objects {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
