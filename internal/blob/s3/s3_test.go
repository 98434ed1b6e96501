package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/swapkeeper/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type putCall struct {
	path        string
	contentType string
	body        []byte
	multipart   bool
}

type fakeWriter struct {
	calls []putCall
	err   error
}

func (w *fakeWriter) Put(_ context.Context, path string, data io.Reader, contentType string) error {
	if w.err != nil {
		return w.err
	}
	b, _ := io.ReadAll(data)
	w.calls = append(w.calls, putCall{path: path, contentType: contentType, body: b})
	return nil
}

func (w *fakeWriter) PutMultipart(_ context.Context, path string, data io.Reader, _ int64) error {
	b, _ := io.ReadAll(data)
	w.calls = append(w.calls, putCall{path: path, body: b, multipart: true})
	return nil
}

type fakeAudit struct {
	events []string
	detail []map[string]any
}

func (a *fakeAudit) Log(_ context.Context, event string, detail map[string]any) error {
	a.events = append(a.events, event)
	a.detail = append(a.detail, detail)
	return nil
}

func (a *fakeAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

func closedPosition(id string, closedAt time.Time) domain.Position {
	pnl := decimal.NewFromInt(20)
	return domain.Position{
		ID:          id,
		Status:      domain.PositionStatusClosed,
		ExitReason:  domain.ExitReasonTrailingStop,
		RealizedPnL: &pnl,
		ClosedAt:    &closedAt,
		Symbol:      "SOL",
		EntryPrice:  decimal.NewFromInt(100),
		EntryAmount: decimal.NewFromInt(1),
	}
}

func TestArchivePositionsWritesJSONL(t *testing.T) {
	w := &fakeWriter{}
	audit := &fakeAudit{}
	a := NewArchiver(w, audit)

	closedAt := time.Date(2025, 3, 14, 23, 0, 0, 0, time.UTC)
	err := a.ArchivePositions(context.Background(), []domain.Position{
		closedPosition("p-1", closedAt),
		closedPosition("p-2", closedAt.Add(time.Minute)),
	})
	require.NoError(t, err)

	require.Len(t, w.calls, 1)
	call := w.calls[0]
	require.Equal(t, "archive/positions/2025-03-14/p-1.jsonl", call.path)
	require.Equal(t, "application/x-ndjson", call.contentType)

	var ids []string
	sc := bufio.NewScanner(bytes.NewReader(call.body))
	for sc.Scan() {
		var p domain.Position
		require.NoError(t, json.Unmarshal(sc.Bytes(), &p))
		ids = append(ids, p.ID)
	}
	require.Equal(t, []string{"p-1", "p-2"}, ids)

	require.Equal(t, []string{"archive.positions"}, audit.events)
	require.Equal(t, 2, audit.detail[0]["count"])
}

func TestArchivePositionsEmptyIsNoop(t *testing.T) {
	w := &fakeWriter{}
	require.NoError(t, NewArchiver(w, nil).ArchivePositions(context.Background(), nil))
	require.Empty(t, w.calls)
}

func TestArchivePositionsUploadError(t *testing.T) {
	boom := errors.New("boom")
	audit := &fakeAudit{}
	a := NewArchiver(&fakeWriter{err: boom}, audit)

	err := a.ArchivePositions(context.Background(), []domain.Position{closedPosition("p-1", time.Now())})
	require.ErrorIs(t, err, boom)
	require.Empty(t, audit.events)
}

func TestNormaliseEndpoint(t *testing.T) {
	require.Equal(t, "https://minio:9000", normaliseEndpoint("minio:9000", true))
	require.Equal(t, "http://minio:9000", normaliseEndpoint("minio:9000", false))
	require.Equal(t, "http://localhost:9000", normaliseEndpoint("http://localhost:9000", true))
	require.Equal(t, "https://r2.example.com", normaliseEndpoint("https://r2.example.com", false))
	require.Equal(t, "https://storage.local", normaliseEndpoint("storage.local", true))
	require.Equal(t, "http://10.0.0.5:9000", normaliseEndpoint("10.0.0.5:9000", false))
}

func TestNewRequiresBucketAndRegion(t *testing.T) {
	_, err := New(context.Background(), ClientConfig{Region: "us-east-1"})
	require.Error(t, err)
	_, err = New(context.Background(), ClientConfig{Bucket: "archive"})
	require.Error(t, err)
}

func TestWriterPutAgainstS3Compatible(t *testing.T) {
	var (
		mu    sync.Mutex
		paths []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.Method+" "+r.URL.Path)
		mu.Unlock()
		_, _ = io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c, err := New(context.Background(), ClientConfig{
		Endpoint:       srv.URL,
		Region:         "us-east-1",
		Bucket:         "archive",
		AccessKey:      "key",
		SecretKey:      "secret",
		ForcePathStyle: true,
	})
	require.NoError(t, err)
	require.Equal(t, "archive", c.Bucket())

	w := NewWriter(c)
	require.NoError(t, w.Put(context.Background(), "archive/positions/x.jsonl", strings.NewReader("{}\n"), "application/x-ndjson"))

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"PUT /archive/archive/positions/x.jsonl"}, paths)
}
