package ingest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-asset/pkg/simpleasset"
)

func TestIngestBatch(t *testing.T) {
	body := pngBytes(t, 8, 8)
	var inFlight, peak, hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		if r.URL.Path == "/missing.png" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	p, store := newTestPipeline(t, srv.Client(), WithMaxConcurrentIngest(2))

	var urls []string
	for i := 0; i < 6; i++ {
		urls = append(urls, srv.URL+"/img"+strconv.Itoa(i)+".png")
	}
	urls = append(urls, srv.URL+"/missing.png", urls[0])

	items := p.IngestBatch(context.Background(), urls, simpleasset.PreviewNamespace(previewID))
	require.Len(t, items, len(urls))

	for i := 0; i < 6; i++ {
		assert.Equal(t, urls[i], items[i].Source)
		require.NoError(t, items[i].Err)
		assert.True(t, store.Has(items[i].Result.Path))
	}
	assert.ErrorIs(t, items[6].Err, simpleasset.ErrInvalidInput)
	assert.NotEmpty(t, items[6].Error)
	assert.Nil(t, items[6].Result)

	assert.Equal(t, items[0].Result, items[7].Result, "repeated url reuses the first result")
	assert.Equal(t, int32(7), hits.Load())
	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.Len(t, store.Paths(), 6)
}

func TestIngestBatch_Empty(t *testing.T) {
	p, _ := newTestPipeline(t, nil)
	assert.Empty(t, p.IngestBatch(context.Background(), nil, simpleasset.PreviewNamespace(previewID)))
}
