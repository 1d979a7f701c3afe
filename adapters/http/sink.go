package http

import (
	"net/http"

	"github.com/artpar/poolgate/ports"
)

// responseSink streams an upstream answer to the client.
type responseSink struct {
	w       http.ResponseWriter
	flusher http.Flusher
	sent    bool
}

func newResponseSink(w http.ResponseWriter) *responseSink {
	f, _ := w.(http.Flusher)
	return &responseSink{w: w, flusher: f}
}

// WriteHeader commits status and headers once.
func (s *responseSink) WriteHeader(status int, headers map[string]string) {
	if s.sent {
		return
	}
	for k, v := range headers {
		s.w.Header().Set(k, v)
	}
	// Disable buffering for streaming
	s.w.Header().Set("X-Accel-Buffering", "no")
	s.w.WriteHeader(status)
	s.sent = true
}

func (s *responseSink) Write(p []byte) (int, error) {
	if !s.sent {
		s.WriteHeader(http.StatusOK, nil)
	}
	return s.w.Write(p)
}

func (s *responseSink) Flush() {
	if s.flusher != nil {
		s.flusher.Flush()
	}
}

func (s *responseSink) HeadersSent() bool {
	return s.sent
}

var _ ports.StreamSink = (*responseSink)(nil)
