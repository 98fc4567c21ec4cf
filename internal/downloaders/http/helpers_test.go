package rangehttp

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tanq16/rangedl/internal/utils"
)

type rangeHook func(w http.ResponseWriter, r *http.Request, start, end int64) bool

type testServer struct {
	*httptest.Server
	data       []byte
	chunkDelay time.Duration
	hook       rangeHook

	mu     sync.Mutex
	ranges []string
}

func testData(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte((i * 7) % 251)
	}
	return data
}

func newTestServer(t *testing.T, data []byte, configure ...func(*testServer)) *testServer {
	t.Helper()
	s := &testServer{data: data}
	for _, c := range configure {
		c(s)
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)
	return s
}

func (s *testServer) serve(w http.ResponseWriter, r *http.Request) {
	size := int64(len(s.data))
	if r.Method == http.MethodHead {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
		w.Header().Set("Accept-Ranges", "bytes")
		return
	}
	header := r.Header.Get("Range")
	s.mu.Lock()
	s.ranges = append(s.ranges, header)
	s.mu.Unlock()
	if header == "" {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
		w.WriteHeader(http.StatusOK)
		s.write(w, s.data)
		return
	}
	parts := strings.SplitN(strings.TrimPrefix(header, "bytes="), "-", 2)
	start, _ := strconv.ParseInt(parts[0], 10, 64)
	end, _ := strconv.ParseInt(parts[1], 10, 64)
	if s.hook != nil && s.hook(w, r, start, end) {
		return
	}
	end = min(end, size-1)
	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, size))
	w.Header().Set("Content-Length", strconv.FormatInt(end-start+1, 10))
	w.WriteHeader(http.StatusPartialContent)
	s.write(w, s.data[start:end+1])
}

func (s *testServer) write(w http.ResponseWriter, body []byte) {
	if s.chunkDelay == 0 {
		w.Write(body)
		return
	}
	flusher, _ := w.(http.Flusher)
	for len(body) > 0 {
		n := min(len(body), 4096)
		if _, err := w.Write(body[:n]); err != nil {
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
		body = body[n:]
		time.Sleep(s.chunkDelay)
	}
}

func (s *testServer) rangeHeaders() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.ranges...)
}

func testClient() *utils.HTTPClient {
	return utils.NewHTTPClient(utils.HTTPClientConfig{Timeout: 5 * time.Second, ReadTimeout: 5 * time.Second})
}

func leftoverFiles(t *testing.T, outputPath string) []string {
	t.Helper()
	files, err := utils.FindPartFiles(outputPath)
	require.NoError(t, err)
	return files
}

func tempOutput(t *testing.T, name string) string {
	t.Helper()
	return filepath.Join(t.TempDir(), name)
}

func readFile(t *testing.T, path string) []byte {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return data
}

// splitAroundStep serves the first 4 KiB of a range, waits for step, sends
// another 4 KiB and ends the body cleanly. Only the first request is
// intercepted; later ones get the normal 206 response.
func splitAroundStep(data []byte, step <-chan struct{}) rangeHook {
	var calls atomic.Int32
	return func(w http.ResponseWriter, r *http.Request, start, end int64) bool {
		if calls.Add(1) > 1 {
			return false
		}
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, len(data)))
		w.WriteHeader(http.StatusPartialContent)
		flusher := w.(http.Flusher)
		w.Write(data[start : start+4096])
		flusher.Flush()
		select {
		case <-step:
		case <-r.Context().Done():
			return true
		}
		w.Write(data[start+4096 : start+8192])
		flusher.Flush()
		return true
	}
}
