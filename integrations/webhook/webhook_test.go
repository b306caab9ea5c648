package webhook

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rewardkit/core"
)

func TestSink_OnEventPostsToEndpoints(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		_, _ = io.ReadAll(r.Body)
		_ = r.Body.Close()
	}))
	defer srv.Close()

	sink := New([]string{srv.URL, srv.URL})
	sink.OnEvent(context.Background(), core.NewPointsAdded("u1", core.CategoryXP, 5, 5))

	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}

func TestSink_SignsBody(t *testing.T) {
	var sig string
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sig = r.Header.Get(SignatureHeader)
		body, _ = io.ReadAll(r.Body)
	}))
	defer srv.Close()

	New([]string{srv.URL}, WithSecret("s3cret")).OnEvent(context.Background(), core.NewBadgeAwarded("u1", "b"))

	require.NotEmpty(t, body)
	assert.Equal(t, Sign([]byte("s3cret"), body), sig)
}

func TestSink_TypeFilter(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	}))
	defer srv.Close()

	sink := New([]string{srv.URL}, WithTypes(core.EventLevelUp))
	sink.OnEvent(context.Background(), core.NewBadgeAwarded("u1", "b"))
	sink.OnEvent(context.Background(), core.NewLevelUp("u1", core.CategoryXP, 2))

	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestSink_LogsFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	New([]string{srv.URL}, WithLogger(logger)).OnEvent(context.Background(), core.NewBadgeAwarded("u1", "b"))

	assert.Contains(t, buf.String(), "webhook delivery failed")
	assert.Contains(t, buf.String(), "Bad Gateway")
}
