package fetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/mbargull/bioconda-repodata-archive/internal/cache"
	"github.com/mbargull/bioconda-repodata-archive/internal/channel"
	"github.com/mbargull/bioconda-repodata-archive/internal/clock"
	"github.com/mbargull/bioconda-repodata-archive/internal/metrics"
	"github.com/mbargull/bioconda-repodata-archive/internal/repodata"
)

const payload = `{"info":{"subdir":"noarch"},"packages":{"a-1-0.tar.bz2":{"name":"a","md5":"m","depends":[]}},"packages.conda":{}}`

var fixedNow = time.Date(2021, 2, 3, 4, 5, 6, 0, time.UTC)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		// 客户端空闲连接由连接池持有
		goleak.IgnoreAnyFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreAnyFunction("net/http.(*persistConn).writeLoop"),
	)
}

// repoServer 按路径返回固定状态码与内容，并统计请求次数。
type repoServer struct {
	mu       sync.Mutex
	status   map[string]int
	headers  map[string]http.Header
	requests map[string]int
	lastReq  map[string]*http.Request
}

func newRepoServer(t *testing.T) (*repoServer, *httptest.Server) {
	t.Helper()

	rs := &repoServer{
		status:   make(map[string]int),
		headers:  make(map[string]http.Header),
		requests: make(map[string]int),
		lastReq:  make(map[string]*http.Request),
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rs.mu.Lock()
		rs.requests[r.URL.Path]++
		rs.lastReq[r.URL.Path] = r.Clone(context.Background())
		code, ok := rs.status[r.URL.Path]
		hdr := rs.headers[r.URL.Path]
		rs.mu.Unlock()

		if !ok {
			code = http.StatusNotFound
		}
		for k, vs := range hdr {
			for _, v := range vs {
				w.Header().Add(k, v)
			}
		}
		if code == http.StatusNotModified && r.Header.Get("If-None-Match") == "" {
			code = http.StatusOK
		}
		w.WriteHeader(code)
		if code == http.StatusOK {
			_, _ = w.Write([]byte(payload))
		}
	}))
	t.Cleanup(srv.Close)
	return rs, srv
}

func (rs *repoServer) set(path string, code int) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.status[path] = code
}

func (rs *repoServer) count(path string) int {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.requests[path]
}

func testConfig(t *testing.T, channels ...string) Config {
	t.Helper()

	return Config{
		Channels:     channels,
		Subdirs:      []string{"noarch", "linux-64"},
		Output:       filepath.Join(t.TempDir(), "repodata"),
		Concurrency:  4,
		RetryMax:     2,
		RetryWaitMin: time.Millisecond,
		RetryWaitMax: 5 * time.Millisecond,
	}
}

func TestFetch_WritesRepodataAndTimestamps(t *testing.T) {
	rs, srv := newRepoServer(t)
	rs.set("/ch1/noarch/repodata.json", http.StatusOK)
	rs.set("/ch1/linux-64/repodata.json", http.StatusOK)
	rs.set("/ch2/noarch/repodata.json", http.StatusOK)

	cfg := testConfig(t, srv.URL+"/ch1", srv.URL+"/ch2/")
	cfg.TrimKeys = []string{"md5"}
	m := metrics.New()

	f, err := New(cfg, clock.Fixed(fixedNow), nil, m)
	require.NoError(t, err)

	res, err := f.Fetch(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "2021-02-03T04:05:06+00:00", res.Timestamp)
	assert.Equal(t, 3, res.Count(Written))
	assert.Equal(t, 1, res.Count(NotFound))
	assert.Empty(t, res.Unfetched)

	path := filepath.Join(channel.OutputDir(cfg.Output, srv.URL+"/ch1", "noarch"), repodata.FileName)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t,
		"{\n\"info\":{\n\"subdir\":\"noarch\"\n},\n"+
			"\"packages\":{\n\"a-1-0.tar.bz2\":{\n\"depends\":[],\n\"name\":\"a\"\n}\n},\n"+
			"\"packages.conda\":{}\n}",
		string(data),
	)

	ts, err := repodata.ReadTimestamp(path + repodata.TimeSuffix)
	require.NoError(t, err)
	assert.Equal(t, res.Timestamp, ts)

	rootTS, err := repodata.ReadTimestamp(filepath.Join(cfg.Output, RootTimeFile))
	require.NoError(t, err)
	assert.Equal(t, res.Timestamp, rootTS)

	missing := filepath.Join(channel.OutputDir(cfg.Output, srv.URL+"/ch2", "linux-64"), repodata.FileName)
	assert.NoFileExists(t, missing)

	assert.Equal(t, 3.0, testutil.ToFloat64(m.FetchTotal.WithLabelValues(metrics.ResultWritten)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FetchTotal.WithLabelValues(metrics.ResultNotFound)))
	assert.Equal(t, float64(fixedNow.Unix()), testutil.ToFloat64(m.LastSuccess))
}

func TestFetch_SendsUserAgent(t *testing.T) {
	rs, srv := newRepoServer(t)
	rs.set("/ch/noarch/repodata.json", http.StatusOK)

	cfg := testConfig(t, srv.URL+"/ch")
	cfg.Subdirs = []string{"noarch"}
	f, err := New(cfg, clock.Fixed(fixedNow), nil, nil)
	require.NoError(t, err)

	_, err = f.Fetch(context.Background())
	require.NoError(t, err)

	rs.mu.Lock()
	ua := rs.lastReq["/ch/noarch/repodata.json"].Header.Get("User-Agent")
	rs.mu.Unlock()
	assert.True(t, strings.HasSuffix(ua, UserAgentSuffix), "unexpected user agent %q", ua)
}

func TestFetch_ChannelWithoutAnySubdir_Fails(t *testing.T) {
	rs, srv := newRepoServer(t)
	rs.set("/ch1/noarch/repodata.json", http.StatusOK)

	cfg := testConfig(t, srv.URL+"/ch1", srv.URL+"/empty")
	f, err := New(cfg, clock.Fixed(fixedNow), nil, nil)
	require.NoError(t, err)

	res, err := f.Fetch(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnfetched))
	require.NotNil(t, res)
	assert.Equal(t, []string{srv.URL + "/empty"}, res.Unfetched)

	// 失败时不写根目录时间戳
	assert.NoFileExists(t, filepath.Join(cfg.Output, RootTimeFile))
}

func TestFetch_ServerError_RetriesThenFails(t *testing.T) {
	rs, srv := newRepoServer(t)
	rs.set("/ch/noarch/repodata.json", http.StatusInternalServerError)

	cfg := testConfig(t, srv.URL+"/ch")
	cfg.Subdirs = []string{"noarch"}
	m := metrics.New()
	f, err := New(cfg, clock.Fixed(fixedNow), nil, m)
	require.NoError(t, err)

	_, err = f.Fetch(context.Background())
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrUnfetched))
	assert.Equal(t, cfg.RetryMax+1, rs.count("/ch/noarch/repodata.json"))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FetchTotal.WithLabelValues(metrics.ResultError)))
	assert.NoFileExists(t, filepath.Join(cfg.Output, RootTimeFile))
}

func TestFetch_NotFoundIsNotRetried(t *testing.T) {
	rs, srv := newRepoServer(t)
	rs.set("/ch/noarch/repodata.json", http.StatusOK)

	cfg := testConfig(t, srv.URL+"/ch")
	f, err := New(cfg, clock.Fixed(fixedNow), nil, nil)
	require.NoError(t, err)

	_, err = f.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rs.count("/ch/linux-64/repodata.json"))
}

// withETag 让 path 的响应带上固定 ETag。
func (rs *repoServer) withETag(path, etag string) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.headers[path] = http.Header{"Etag": []string{etag}}
}

func (rs *repoServer) conditional(path string) string {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.lastReq[path].Header.Get("If-None-Match")
}

func TestFetch_NotModifiedKeepsFile(t *testing.T) {
	rs, srv := newRepoServer(t)
	p := "/ch/noarch/repodata.json"
	rs.set(p, http.StatusOK)
	rs.withETag(p, `"v1"`)

	cfg := testConfig(t, srv.URL+"/ch")
	cfg.Subdirs = []string{"noarch"}
	cfg.Cache = &cache.Store{Dir: t.TempDir()}

	first, err := New(cfg, clock.Fixed(fixedNow), nil, nil)
	require.NoError(t, err)
	res, err := first.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Count(Written))

	target := res.Items[0].Path
	before, err := os.ReadFile(target)
	require.NoError(t, err)

	rs.set(p, http.StatusNotModified)
	later := fixedNow.Add(time.Hour)
	second, err := New(cfg, clock.Fixed(later), nil, nil)
	require.NoError(t, err)
	res, err = second.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Count(NotModified))
	assert.Equal(t, `"v1"`, rs.conditional(p))

	after, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after))

	ts, err := repodata.ReadTimestamp(target + repodata.TimeSuffix)
	require.NoError(t, err)
	assert.Equal(t, clock.Format(later), ts)
}

func TestFetch_LocallyChangedFileIsFetchedInFull(t *testing.T) {
	rs, srv := newRepoServer(t)
	p := "/ch/noarch/repodata.json"
	rs.set(p, http.StatusOK)
	rs.withETag(p, `"v1"`)

	cfg := testConfig(t, srv.URL+"/ch")
	cfg.Subdirs = []string{"noarch"}
	cfg.Cache = &cache.Store{Dir: t.TempDir()}

	first, err := New(cfg, clock.Fixed(fixedNow), nil, nil)
	require.NoError(t, err)
	res, err := first.Fetch(context.Background())
	require.NoError(t, err)

	target := res.Items[0].Path
	require.NoError(t, os.WriteFile(target, []byte(`{"stale":true}`), 0o644))

	rs.set(p, http.StatusNotModified)
	second, err := New(cfg, clock.Fixed(fixedNow.Add(time.Hour)), nil, nil)
	require.NoError(t, err)
	res, err = second.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Count(Written))
	assert.Empty(t, rs.conditional(p))

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "stale")
	assert.Contains(t, string(data), `"name":"a"`)
}

func TestFetch_ChangedTrimKeysRewriteFile(t *testing.T) {
	rs, srv := newRepoServer(t)
	p := "/ch/noarch/repodata.json"
	rs.set(p, http.StatusOK)
	rs.withETag(p, `"v1"`)

	cfg := testConfig(t, srv.URL+"/ch")
	cfg.Subdirs = []string{"noarch"}
	cfg.Cache = &cache.Store{Dir: t.TempDir()}

	untrimmed, err := New(cfg, clock.Fixed(fixedNow), nil, nil)
	require.NoError(t, err)
	res, err := untrimmed.Fetch(context.Background())
	require.NoError(t, err)

	target := res.Items[0].Path
	data, err := os.ReadFile(target)
	require.NoError(t, err)
	require.Contains(t, string(data), `"md5":"m"`)

	rs.set(p, http.StatusNotModified)
	cfg.TrimKeys = repodata.DefaultTrimKeys
	trimmed, err := New(cfg, clock.Fixed(fixedNow.Add(time.Hour)), nil, nil)
	require.NoError(t, err)
	res, err = trimmed.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Count(Written))
	assert.Empty(t, rs.conditional(p))

	data, err = os.ReadFile(target)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "md5")

	// 参数不变时再次抓取恢复条件请求
	again, err := New(cfg, clock.Fixed(fixedNow.Add(2*time.Hour)), nil, nil)
	require.NoError(t, err)
	res, err = again.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Count(NotModified))
	assert.Equal(t, `"v1"`, rs.conditional(p))
}

func TestFetch_ChangedFormatRewritesFile(t *testing.T) {
	rs, srv := newRepoServer(t)
	p := "/ch/noarch/repodata.json"
	rs.set(p, http.StatusOK)
	rs.withETag(p, `"v1"`)

	cfg := testConfig(t, srv.URL+"/ch")
	cfg.Subdirs = []string{"noarch"}
	cfg.Cache = &cache.Store{Dir: t.TempDir()}

	first, err := New(cfg, clock.Fixed(fixedNow), nil, nil)
	require.NoError(t, err)
	_, err = first.Fetch(context.Background())
	require.NoError(t, err)

	rs.set(p, http.StatusNotModified)
	cfg.Indent = 2
	second, err := New(cfg, clock.Fixed(fixedNow.Add(time.Hour)), nil, nil)
	require.NoError(t, err)
	res, err := second.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Count(Written))

	data, err := os.ReadFile(res.Items[0].Path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "{\n  \"info\":{\n    \"subdir\":\"noarch\""), string(data))
}

func TestFetch_CanceledContext(t *testing.T) {
	rs, srv := newRepoServer(t)
	rs.set("/ch/noarch/repodata.json", http.StatusOK)

	cfg := testConfig(t, srv.URL+"/ch")
	f, err := New(cfg, clock.Fixed(fixedNow), nil, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = f.Fetch(ctx)
	assert.Error(t, err)
}

func TestFetch_ConcurrencyLimit(t *testing.T) {
	var inFlight, peak int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&inFlight, 1)
		defer atomic.AddInt32(&inFlight, -1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		_, _ = w.Write([]byte(payload))
	}))
	t.Cleanup(srv.Close)

	cfg := testConfig(t, srv.URL+"/a", srv.URL+"/b", srv.URL+"/c")
	cfg.Concurrency = 2
	f, err := New(cfg, clock.Fixed(fixedNow), nil, nil)
	require.NoError(t, err)

	res, err := f.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 6, res.Count(Written))
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
}

func TestNew_Validation(t *testing.T) {
	base := Config{Channels: []string{"https://example.com/ch"}, Subdirs: []string{"noarch"}, Output: "out"}

	_, err := New(base, nil, nil, nil)
	require.NoError(t, err)

	noChannels := base
	noChannels.Channels = nil
	_, err = New(noChannels, nil, nil, nil)
	assert.ErrorIs(t, err, errNoChannels)

	noSubdirs := base
	noSubdirs.Subdirs = []string{" "}
	_, err = New(noSubdirs, nil, nil, nil)
	assert.ErrorIs(t, err, errNoSubdirs)

	noOutput := base
	noOutput.Output = ""
	_, err = New(noOutput, nil, nil, nil)
	assert.ErrorIs(t, err, errNoOutput)

	badIndent := base
	badIndent.Indent = -1
	_, err = New(badIndent, nil, nil, nil)
	assert.Error(t, err)

	badSeparators := base
	badSeparators.Separators = ", :"
	_, err = New(badSeparators, nil, nil, nil)
	assert.Error(t, err)

	badChannel := base
	badChannel.Channels = []string{"ftp://x"}
	_, err = New(badChannel, nil, nil, nil)
	assert.Error(t, err)
}

func TestNew_Defaults(t *testing.T) {
	f, err := New(Config{Channels: []string{"https://example.com/ch"}, Subdirs: []string{"noarch"}, Output: "out", RetryMax: -1}, nil, nil, nil)
	require.NoError(t, err)

	cfg := f.Config()
	assert.GreaterOrEqual(t, cfg.Concurrency, 1)
	assert.Equal(t, defaultRetryMax, cfg.RetryMax)
	assert.Equal(t, defaultRetryWaitMin, cfg.RetryWaitMin)
	assert.Contains(t, cfg.UserAgent, UserAgentSuffix)
	assert.Equal(t, repodata.DefaultSeparators, cfg.Separators)
	assert.Equal(t, repodata.DefaultFormat(), f.format)
}

func TestOutputVariant(t *testing.T) {
	format := repodata.DefaultFormat()

	assert.Equal(t, outputVariant(format, []string{"md5", "arch"}), outputVariant(format, []string{"arch", "md5"}))
	assert.NotEqual(t, outputVariant(format, nil), outputVariant(format, []string{"md5"}))

	indented := format
	indented.Indent = 2
	assert.NotEqual(t, outputVariant(format, nil), outputVariant(indented, nil))
}

func TestUnfetchedChannels(t *testing.T) {
	items := []Item{
		{Channel: "b", Outcome: NotFound},
		{Channel: "a", Outcome: NotModified},
		{Channel: "c", Outcome: NotFound},
		{Channel: "c", Outcome: Written},
	}
	assert.Equal(t, []string{"b", "d"}, unfetchedChannels([]string{"d", "c", "b", "a"}, items))
}
