package web

import "net/http"

// capturingResponseWriter remembers the first status code and the size of
// the body written through it.
type capturingResponseWriter struct {
	http.ResponseWriter
	status   int
	written  int
	didWrite bool
}

func newCapturingResponseWriter(w http.ResponseWriter) *capturingResponseWriter {
	return &capturingResponseWriter{
		ResponseWriter: w,
		status:         http.StatusOK,
	}
}

func (crw *capturingResponseWriter) Write(b []byte) (int, error) {
	crw.didWrite = true
	n, err := crw.ResponseWriter.Write(b)
	crw.written += n
	return n, err
}

func (crw *capturingResponseWriter) WriteHeader(statusCode int) {
	if !crw.didWrite {
		crw.status = statusCode
		crw.didWrite = true
	}
	crw.ResponseWriter.WriteHeader(statusCode)
}

func (crw *capturingResponseWriter) Unwrap() http.ResponseWriter {
	return crw.ResponseWriter
}
