package scheduler

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	rangehttp "github.com/tanq16/rangedl/internal/downloaders/http"
	"github.com/tanq16/rangedl/internal/output"
	"github.com/tanq16/rangedl/internal/utils"
)

type slowReader struct {
	*bytes.Reader
	delay time.Duration
}

func (r *slowReader) Read(p []byte) (int, error) {
	if len(p) > 4096 {
		p = p[:4096]
	}
	time.Sleep(r.delay)
	return r.Reader.Read(p)
}

func payload(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i % 253)
	}
	return data
}

// fileServer serves data with range support on every path except /missing.
func fileServer(t *testing.T, data []byte, delay time.Duration) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		var content io.ReadSeeker = bytes.NewReader(data)
		if delay > 0 {
			content = &slowReader{Reader: bytes.NewReader(data), delay: delay}
		}
		http.ServeContent(w, r, "", time.Time{}, content)
	}))
	t.Cleanup(server.Close)
	return server
}

// pathServer serves a different payload under each path prefix.
func pathServer(t *testing.T, files map[string][]byte, delay time.Duration) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for prefix, data := range files {
			if strings.HasPrefix(r.URL.Path, prefix) {
				http.ServeContent(w, r, "", time.Time{}, &slowReader{Reader: bytes.NewReader(data), delay: delay})
				return
			}
		}
		http.NotFound(w, r)
	}))
	t.Cleanup(server.Close)
	return server
}

func quietScheduler(workers int) *Scheduler {
	display := output.NewManager()
	display.SetWriter(io.Discard)
	return New(workers, display)
}

func testJob(url, output string) utils.DownloadJob {
	return utils.DownloadJob{
		URL:              url,
		OutputPath:       output,
		Connections:      2,
		HTTPClientConfig: utils.HTTPClientConfig{Timeout: 5 * time.Second, ReadTimeout: 5 * time.Second},
	}
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		line string
		want Command
	}{
		{"p", Command{Kind: CommandPause}},
		{"PAUSE", Command{Kind: CommandPause}},
		{"r", Command{Kind: CommandResume}},
		{" resume ", Command{Kind: CommandResume}},
		{"l 2MB", Command{Kind: CommandLimit, Limit: 2 << 20}},
		{"limit 0", Command{Kind: CommandLimit, Limit: 0}},
	}
	for _, tt := range tests {
		got, err := ParseCommand(tt.line)
		require.NoError(t, err, tt.line)
		assert.Equal(t, tt.want, got, tt.line)
	}

	for _, bad := range []string{"", "x", "l", "l fast", "l 1 2"} {
		_, err := ParseCommand(bad)
		assert.Error(t, err, bad)
	}
}

func TestNewJob(t *testing.T) {
	base := utils.DownloadJob{MaxRedirects: 3}
	job, err := NewJob(utils.DownloadEntry{URL: "https://example.com/a", OutputPath: "a.bin", Limit: "1KB"}, base)
	require.NoError(t, err)
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, "https://example.com/a", job.URL)
	assert.Equal(t, "a.bin", job.OutputPath)
	assert.Equal(t, int64(1024), job.SpeedLimit)
	assert.Equal(t, 3, job.MaxRedirects)
	assert.Equal(t, utils.DefaultConnections, job.Connections)

	other, err := NewJob(utils.DownloadEntry{URL: "https://example.com/b"}, base)
	require.NoError(t, err)
	assert.NotEqual(t, job.ID, other.ID)

	_, err = NewJob(utils.DownloadEntry{URL: "https://example.com/c", Limit: "soon"}, base)
	assert.ErrorIs(t, err, utils.ErrInvalidSpeed)
}

func TestRunDownloadsAllJobs(t *testing.T) {
	data := payload(300000)
	server := fileServer(t, data, 0)
	dir := t.TempDir()
	jobs := []utils.DownloadJob{
		testJob(server.URL+"/one", filepath.Join(dir, "one.bin")),
		testJob(server.URL+"/two", filepath.Join(dir, "two.bin")),
		testJob(server.URL+"/three", filepath.Join(dir, "three.bin")),
	}

	require.NoError(t, quietScheduler(2).Run(context.Background(), jobs))
	for _, name := range []string{"one.bin", "two.bin", "three.bin"} {
		got, err := os.ReadFile(filepath.Join(dir, name))
		require.NoError(t, err)
		assert.Equal(t, data, got, name)
	}
}

func TestRunReportsFailures(t *testing.T) {
	data := payload(1000)
	server := fileServer(t, data, 0)
	dir := t.TempDir()
	jobs := []utils.DownloadJob{
		testJob(server.URL+"/missing", filepath.Join(dir, "missing.bin")),
		testJob(server.URL+"/ok", filepath.Join(dir, "ok.bin")),
	}

	err := quietScheduler(2).Run(context.Background(), jobs)
	assert.ErrorIs(t, err, ErrJobsFailed)
	assert.Contains(t, err.Error(), "1 of 2")
	assert.FileExists(t, filepath.Join(dir, "ok.bin"))
	assert.NoFileExists(t, filepath.Join(dir, "missing.bin"))
}

func TestSameInferredNameGetsSeparateFiles(t *testing.T) {
	first, second := payload(120000), bytes.Repeat([]byte("y"), 90000)
	server := pathServer(t, map[string][]byte{"/x/": first, "/y/": second}, time.Millisecond)
	dir := t.TempDir()
	t.Chdir(dir)
	jobs := []utils.DownloadJob{
		testJob(server.URL+"/x/file.bin", ""),
		testJob(server.URL+"/y/file.bin", ""),
	}

	require.NoError(t, quietScheduler(2).Run(context.Background(), jobs))
	a, err := os.ReadFile(filepath.Join(dir, "file.bin"))
	require.NoError(t, err)
	b, err := os.ReadFile(filepath.Join(dir, "file-(1).bin"))
	require.NoError(t, err)
	assert.ElementsMatch(t, [][]byte{first, second}, [][]byte{a, b})
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2, "no part or merge files left behind")
}

func TestDuplicateOutputPathIsRenamed(t *testing.T) {
	first, second := payload(100000), bytes.Repeat([]byte("z"), 80000)
	server := pathServer(t, map[string][]byte{"/a": first, "/b": second}, time.Millisecond)
	dir := t.TempDir()
	output := filepath.Join(dir, "same.bin")
	jobs := []utils.DownloadJob{
		testJob(server.URL+"/a", output),
		testJob(server.URL+"/b", output),
	}

	require.NoError(t, quietScheduler(2).Run(context.Background(), jobs))
	a, err := os.ReadFile(output)
	require.NoError(t, err)
	b, err := os.ReadFile(filepath.Join(dir, "same-(1).bin"))
	require.NoError(t, err)
	assert.ElementsMatch(t, [][]byte{first, second}, [][]byte{a, b})
}

func TestClaimPath(t *testing.T) {
	dir := t.TempDir()
	s := quietScheduler(2)
	path := filepath.Join(dir, "f.txt")
	assert.Equal(t, path, s.claimPath(path))
	assert.Equal(t, filepath.Join(dir, "f-(1).txt"), s.claimPath(path))
	assert.Equal(t, filepath.Join(dir, "f-(2).txt"), s.claimPath(filepath.Join(dir, ".", "f.txt")))
}

func TestPauseBeforeDownloadStarts(t *testing.T) {
	data := payload(50000)
	server := fileServer(t, data, 0)
	output := filepath.Join(t.TempDir(), "late.bin")
	s := quietScheduler(1)
	job := testJob(server.URL, output)
	opts := s.downloaderOptions(job)
	require.NotNil(t, opts.StartPaused)
	assert.False(t, opts.StartPaused())

	// the job already left the queue when the pause lands
	s.Pause()
	d := rangehttp.New(opts)
	s.track(job.ID, d)
	result := make(chan error, 1)
	go func() { result <- d.Run(context.Background()) }()
	require.Eventually(t, func() bool { return d.Job() != nil }, 5*time.Second, 5*time.Millisecond)
	assert.True(t, d.Paused())
	time.Sleep(100 * time.Millisecond)
	assert.NoFileExists(t, output)

	s.Resume()
	select {
	case err := <-result:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("download did not finish")
	}
	got, err := os.ReadFile(output)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestPauseHoldsQueuedJobs(t *testing.T) {
	data := payload(1000)
	server := fileServer(t, data, 0)
	output := filepath.Join(t.TempDir(), "held.bin")
	s := quietScheduler(1)
	s.Pause()
	assert.True(t, s.Paused())

	result := make(chan error, 1)
	go func() { result <- s.Run(context.Background(), []utils.DownloadJob{testJob(server.URL, output)}) }()
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 0, s.Active())
	assert.NoFileExists(t, output)

	s.Resume()
	select {
	case err := <-result:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("run did not finish")
	}
	assert.FileExists(t, output)
}

func TestControlsReachActiveDownloads(t *testing.T) {
	data := payload(200000)
	server := fileServer(t, data, 20*time.Millisecond)
	output := filepath.Join(t.TempDir(), "slow.bin")
	s := quietScheduler(1)

	result := make(chan error, 1)
	go func() { result <- s.Run(context.Background(), []utils.DownloadJob{testJob(server.URL, output)}) }()
	require.Eventually(t, func() bool {
		started := false
		s.each(func(d *rangehttp.Downloader) { started = d.Job() != nil })
		return started
	}, 5*time.Second, 5*time.Millisecond)

	s.ListenCommands(context.Background(), strings.NewReader("p\n"))
	s.each(func(d *rangehttp.Downloader) { assert.True(t, d.Paused()) })

	s.ListenCommands(context.Background(), strings.NewReader("bogus\nl 1MB\nr\n"))
	assert.False(t, s.Paused())
	assert.Equal(t, int64(1<<20), s.limit.Load())
	s.each(func(d *rangehttp.Downloader) { assert.False(t, d.Paused()) })

	select {
	case err := <-result:
		require.NoError(t, err)
	case <-time.After(20 * time.Second):
		t.Fatal("run did not finish")
	}
	got, err := os.ReadFile(output)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}
