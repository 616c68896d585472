package export

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentprobe_api/internal/auth"
	"agentprobe_api/internal/clock"
)

var testSecret = []byte("test-secret-key-for-testing")

func TestLocalStoreRoundTrip(t *testing.T) {
	clk := clock.NewFake(time.Now())
	store := NewLocalStore(10, time.Hour, testSecret, "/api/v1/export/download/", clk)

	link, expiresAt, err := store.Put(context.Background(), "export.csv", "text/csv; charset=utf-8", []byte("a,b\n"))
	require.NoError(t, err)
	assert.Equal(t, clk.Now().Add(time.Hour), expiresAt)
	require.True(t, strings.HasPrefix(link, "/api/v1/export/download/"))

	token := strings.TrimPrefix(link, "/api/v1/export/download/")
	d, err := store.Open(token)
	require.NoError(t, err)
	assert.Equal(t, "export.csv", d.Name)
	assert.Equal(t, "text/csv; charset=utf-8", d.ContentType)
	assert.Equal(t, []byte("a,b\n"), d.Content)
}

func TestLocalStoreRejects(t *testing.T) {
	clk := clock.NewFake(time.Now())
	store := NewLocalStore(1, time.Hour, testSecret, "", clk)
	ctx := context.Background()

	_, err := store.Open("not-a-token")
	assert.ErrorIs(t, err, ErrExportNotFound)

	foreign, err := auth.GenerateDownloadToken("some-id", time.Now().Add(time.Hour), []byte("other-secret"))
	require.NoError(t, err)
	_, err = store.Open(foreign)
	assert.ErrorIs(t, err, ErrExportNotFound)

	unknown, err := auth.GenerateDownloadToken("never-stored", time.Now().Add(time.Hour), testSecret)
	require.NoError(t, err)
	_, err = store.Open(unknown)
	assert.ErrorIs(t, err, ErrExportNotFound)

	first, _, err := store.Put(ctx, "first.json", "application/json", []byte("[]"))
	require.NoError(t, err)
	second, _, err := store.Put(ctx, "second.json", "application/json", []byte("[]"))
	require.NoError(t, err)

	_, err = store.Open(first)
	assert.ErrorIs(t, err, ErrExportNotFound, "evicted by capacity")
	_, err = store.Open(second)
	require.NoError(t, err)

	clk.Advance(time.Hour + time.Second)
	_, err = store.Open(second)
	assert.ErrorIs(t, err, ErrExportNotFound, "expired link")
}

type fakeS3 struct {
	mu          sync.Mutex
	method      string
	path        string
	contentType string
	disposition string
	body        string
	status      int
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	body, _ := io.ReadAll(r.Body)
	f.method = r.Method
	f.path = r.URL.Path
	f.contentType = r.Header.Get("Content-Type")
	f.disposition = r.Header.Get("Content-Disposition")
	f.body = string(body)

	if f.status != 0 {
		w.WriteHeader(f.status)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func newTestS3Store(t *testing.T, handler http.Handler) (*S3Store, *httptest.Server) {
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client := s3.New(s3.Options{
		Region:                     "us-east-1",
		Credentials:                credentials.NewStaticCredentialsProvider("test-access", "test-secret", ""),
		BaseEndpoint:               aws.String(srv.URL),
		UsePathStyle:               true,
		RetryMaxAttempts:           1,
		RequestChecksumCalculation: aws.RequestChecksumCalculationWhenRequired,
		ResponseChecksumValidation: aws.ResponseChecksumValidationWhenRequired,
	})
	clk := clock.NewFake(time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC))
	return NewS3StoreFromClient(client, "exports-bucket", "exports/", time.Hour, clk), srv
}

func TestS3StorePut(t *testing.T) {
	fake := &fakeS3{}
	store, srv := newTestS3Store(t, fake)

	link, expiresAt, err := store.Put(context.Background(), "agentprobe-export-1.csv", "text/csv; charset=utf-8", []byte("tool\ngit\n"))
	require.NoError(t, err)

	assert.Equal(t, http.MethodPut, fake.method)
	assert.Equal(t, "/exports-bucket/exports/2025/03/10/agentprobe-export-1.csv", fake.path)
	assert.Equal(t, "text/csv; charset=utf-8", fake.contentType)
	assert.Equal(t, `attachment; filename="agentprobe-export-1.csv"`, fake.disposition)
	assert.Equal(t, "tool\ngit\n", fake.body)
	assert.Equal(t, time.Date(2025, 3, 10, 13, 0, 0, 0, time.UTC), expiresAt)

	u, err := url.Parse(link)
	require.NoError(t, err)
	assert.Equal(t, strings.TrimPrefix(srv.URL, "http://"), u.Host)
	assert.Equal(t, "/exports-bucket/exports/2025/03/10/agentprobe-export-1.csv", u.Path)
	assert.Equal(t, "3600", u.Query().Get("X-Amz-Expires"))
	assert.NotEmpty(t, u.Query().Get("X-Amz-Signature"))
}

func TestS3StorePutError(t *testing.T) {
	store, _ := newTestS3Store(t, &fakeS3{status: http.StatusForbidden})

	_, _, err := store.Put(context.Background(), "x.json", "application/json", []byte("[]"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to upload to S3")
}
