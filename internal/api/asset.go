package api

import (
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/patrickwarner/neonshell/internal/middleware"
)

// NotFoundBody is the fixed body sent with every 404.
const NotFoundBody = "404 - Not Found"

const streamChunkSize = 32 * 1024

var chunkPool = sync.Pool{
	New: func() any {
		b := make([]byte, streamChunkSize)
		return &b
	},
}

// AssetHandler resolves the request path against the bundle and streams the
// resource body. Every failure is answered with a 404.
func (s *Server) AssetHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	logger := middleware.LoggerFromRequest(r, s.Logger)

	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		s.notFound(w, r)
		return
	}

	if err := s.streams.Acquire(r.Context(), 1); err != nil {
		// client went away while waiting for a stream slot
		s.Metrics.IncrementAssetRequests(r.Method, "canceled")
		return
	}
	defer s.streams.Release(1)

	res, err := s.Resolver.Resolve(r.URL.Path)
	if err != nil {
		logger.Debug("asset not found", zap.String("path", r.URL.Path), zap.Error(err))
		s.notFound(w, r)
		return
	}

	body, err := res.Open()
	if err != nil {
		logger.Warn("asset open failed", zap.String("path", res.Path), zap.Error(err))
		s.notFound(w, r)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", res.ContentType)
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	var written int64
	if r.Method == http.MethodGet {
		bufp := chunkPool.Get().(*[]byte)
		// hide ReaderFrom/WriterTo so the body is always copied through the fixed buffer
		written, err = io.CopyBuffer(struct{ io.Writer }{w}, struct{ io.Reader }{body}, *bufp)
		chunkPool.Put(bufp)
		if err != nil {
			// headers are already sent; the renderer sees a truncated body
			logger.Warn("asset stream interrupted",
				zap.String("path", res.Path),
				zap.Int64("written", written),
				zap.Error(err),
			)
		}
	}

	s.Metrics.AddAssetBytes(res.ContentType, written)
	s.Metrics.IncrementAssetRequests(r.Method, "200")
	s.Metrics.RecordAssetLatency("200", time.Since(start))
	if s.sampler.Sample() {
		logger.Debug("Serving asset",
			zap.String("path", res.Path),
			zap.String("content_type", res.ContentType),
			zap.Int64("bytes", written),
			zap.Duration("elapsed", time.Since(start)),
		)
	}
}

// notFound writes the fixed 404 response.
func (s *Server) notFound(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.Header().Set("Content-Length", strconv.Itoa(len(NotFoundBody)))
	w.WriteHeader(http.StatusNotFound)
	if r.Method != http.MethodHead {
		_, _ = io.WriteString(w, NotFoundBody)
	}
	s.Metrics.IncrementAssetRequests(r.Method, "404")
}
