// Package fetcher 并发下载各频道子目录的 repodata.json，裁剪后写入输出目录。
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mbargull/bioconda-repodata-archive/internal/cache"
	"github.com/mbargull/bioconda-repodata-archive/internal/channel"
	"github.com/mbargull/bioconda-repodata-archive/internal/clock"
	"github.com/mbargull/bioconda-repodata-archive/internal/metrics"
	"github.com/mbargull/bioconda-repodata-archive/internal/repodata"
)

// UserAgentSuffix 附加在 User-Agent 末尾，便于上游识别归档任务。
const UserAgentSuffix = "https://github.com/bioconda/bioconda-repodata"

// RootTimeFile 是输出根目录下记录本次运行时间戳的文件名。
const RootTimeFile = ".time"

var (
	// ErrUnfetched 表示某些频道的所有子目录都没有 repodata.json。
	ErrUnfetched = errors.New("no repodata.json found for any subdir in channels")

	errNoChannels = errors.New("no channels given")
	errNoSubdirs  = errors.New("no subdirs given")
	errNoOutput   = errors.New("output directory must be set")
)

// Config 控制一次抓取。
type Config struct {
	Channels []string
	Subdirs  []string
	Output   string
	Indent   int
	// Separators 是两个字符的分隔符串，为空时使用 ",:"。
	Separators string
	// TrimKeys 为空时不裁剪。
	TrimKeys []string

	Concurrency int
	// RetryMax 为负数时使用默认的 5 次。
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
	// Timeout 为 0 时不限制单次请求时长，仅受 ctx 约束。
	Timeout   time.Duration
	UserAgent string

	// Cache 为 nil 时不发送条件请求。
	Cache    *cache.Store
	Progress bool
}

// DefaultConfig 返回与定时任务一致的默认配置。
func DefaultConfig() Config {
	return Config{
		Channels:     channel.Defaults,
		Subdirs:      channel.Subdirs,
		Output:       "repodata",
		Separators:   repodata.DefaultSeparators,
		Concurrency:  runtime.NumCPU(),
		RetryMax:     defaultRetryMax,
		RetryWaitMin: defaultRetryWaitMin,
		RetryWaitMax: defaultRetryWaitMax,
		Progress:     true,
	}
}

// Outcome 是单个频道子目录的抓取结果。
type Outcome int

const (
	Written Outcome = iota
	NotModified
	NotFound
)

func (o Outcome) String() string {
	switch o {
	case Written:
		return metrics.ResultWritten
	case NotModified:
		return metrics.ResultNotModified
	case NotFound:
		return metrics.ResultNotFound
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Item 记录单个频道子目录的处理情况。
type Item struct {
	Channel string
	Subdir  string
	URL     string
	Path    string
	Outcome Outcome
	Bytes   int64
}

// Result 是一次抓取的汇总。
type Result struct {
	Timestamp string
	Items     []Item
	// Unfetched 是没有任何子目录成功抓取的频道，已排序。
	Unfetched []string
}

// Count 返回指定结果的数量。
func (r *Result) Count(o Outcome) int {
	n := 0
	for _, it := range r.Items {
		if it.Outcome == o {
			n++
		}
	}
	return n
}

// Fetcher 下载并落盘 repodata。
type Fetcher struct {
	cfg     Config
	format  repodata.Format
	variant string
	clock   clock.Source
	log     *zap.Logger
	metrics *metrics.Metrics
	client  *retryablehttp.Client
}

// New 校验配置并创建 Fetcher。log 和 m 可以为 nil。
func New(cfg Config, src clock.Source, log *zap.Logger, m *metrics.Metrics) (*Fetcher, error) {
	channels, err := channel.Dedupe(cfg.Channels)
	if err != nil {
		return nil, err
	}
	if len(channels) == 0 {
		return nil, errNoChannels
	}
	cfg.Channels = channels

	cfg.Subdirs = channel.CleanSubdirs(cfg.Subdirs)
	if len(cfg.Subdirs) == 0 {
		return nil, errNoSubdirs
	}

	cfg.Output = strings.TrimSpace(cfg.Output)
	if cfg.Output == "" {
		return nil, errNoOutput
	}
	if cfg.Indent < 0 {
		return nil, fmt.Errorf("indent must be >= 0, got %d", cfg.Indent)
	}
	if cfg.Separators == "" {
		cfg.Separators = repodata.DefaultSeparators
	}
	format, err := repodata.NewFormat(cfg.Indent, cfg.Separators)
	if err != nil {
		return nil, err
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = runtime.NumCPU()
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = defaultRetryMax
	}
	if cfg.RetryWaitMin <= 0 {
		cfg.RetryWaitMin = defaultRetryWaitMin
	}
	if cfg.RetryWaitMax <= 0 {
		cfg.RetryWaitMax = defaultRetryWaitMax
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "repodata-archive " + UserAgentSuffix
	}

	if src == nil {
		src = clock.System{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	if m == nil {
		m = metrics.New()
	}

	return &Fetcher{
		cfg:     cfg,
		format:  format,
		variant: outputVariant(format, cfg.TrimKeys),
		clock:   src,
		log:     log,
		metrics: m,
		client:  newHTTPClient(cfg, log),
	}, nil
}

// Config 返回规范化后的配置。
func (f *Fetcher) Config() Config {
	return f.cfg
}

// Fetch 抓取所有 subdir × channel 组合。
// 任一请求出现 404 以外的错误时立即取消其余请求并返回错误；
// 全部成功后才写入输出根目录的 .time 文件。
func (f *Fetcher) Fetch(ctx context.Context) (*Result, error) {
	now, err := f.clock.Now(ctx)
	if err != nil {
		return nil, fmt.Errorf("get timestamp: %w", err)
	}
	timestamp := clock.Format(now)

	total := len(f.cfg.Channels) * len(f.cfg.Subdirs)
	f.log.Info("fetching repodata",
		zap.String("timestamp", timestamp),
		zap.Int("channels", len(f.cfg.Channels)),
		zap.Int("subdirs", len(f.cfg.Subdirs)),
		zap.Int("concurrency", f.cfg.Concurrency),
	)

	var bar interface{ Add(int) error }
	if f.cfg.Progress {
		if pb := newProgressBar(total); pb != nil {
			defer func() { _ = pb.Finish() }()
			bar = pb
		}
	}

	var (
		mu    sync.Mutex // 保护 items 和进度条
		items = make([]Item, 0, total)
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.cfg.Concurrency)
	for _, subdir := range f.cfg.Subdirs {
		for _, ch := range f.cfg.Channels {
			g.Go(func() error {
				item, err := f.fetchOne(gctx, timestamp, ch, subdir)

				mu.Lock()
				defer mu.Unlock()
				if bar != nil {
					_ = bar.Add(1)
				}
				if err != nil {
					f.metrics.FetchTotal.WithLabelValues(metrics.ResultError).Inc()
					return err
				}
				f.metrics.FetchTotal.WithLabelValues(item.Outcome.String()).Inc()
				items = append(items, item)
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(items, func(i, j int) bool {
		if items[i].Channel != items[j].Channel {
			return items[i].Channel < items[j].Channel
		}
		return items[i].Subdir < items[j].Subdir
	})

	result := &Result{
		Timestamp: timestamp,
		Items:     items,
		Unfetched: unfetchedChannels(f.cfg.Channels, items),
	}
	f.metrics.UnfetchedTotal.Set(float64(len(result.Unfetched)))
	if len(result.Unfetched) > 0 {
		return result, fmt.Errorf("%w: %s", ErrUnfetched, strings.Join(result.Unfetched, ", "))
	}

	if err := os.MkdirAll(f.cfg.Output, 0o755); err != nil {
		return result, err
	}
	if err := repodata.WriteTimestamp(filepath.Join(f.cfg.Output, RootTimeFile), timestamp); err != nil {
		return result, fmt.Errorf("write %s: %w", RootTimeFile, err)
	}
	f.metrics.LastSuccess.Set(float64(now.Unix()))

	f.log.Info("fetch finished",
		zap.Int("written", result.Count(Written)),
		zap.Int("not_modified", result.Count(NotModified)),
		zap.Int("not_found", result.Count(NotFound)),
	)
	return result, nil
}

// fetchOne 抓取单个频道子目录。404 视为该子目录不存在，不算错误。
func (f *Fetcher) fetchOne(ctx context.Context, timestamp, ch, subdir string) (Item, error) {
	start := time.Now()
	dir := channel.OutputDir(f.cfg.Output, ch, subdir)
	item := Item{
		Channel: ch,
		Subdir:  subdir,
		URL:     channel.RepodataURL(ch, subdir),
		Path:    filepath.Join(dir, repodata.FileName),
	}
	log := f.log.With(zap.String("url", item.URL))
	log.Info("fetching")

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, item.URL, nil)
	if err != nil {
		return item, fmt.Errorf("new request %s: %w", item.URL, err)
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	key := cache.Key{URL: item.URL}
	f.setValidators(log, req, key, item.Path)

	resp, err := f.client.Do(req)
	if err != nil {
		return item, fmt.Errorf("fetch %s: %w", item.URL, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		log.Warn("no repodata.json found", zap.String("channel", ch), zap.String("subdir", subdir))
		item.Outcome = NotFound
		return item, nil
	case resp.StatusCode == http.StatusNotModified:
		if err := repodata.WriteTimestamp(item.Path+repodata.TimeSuffix, timestamp); err != nil {
			return item, err
		}
		log.Debug("not modified")
		item.Outcome = NotModified
		return item, nil
	case !isSuccess(resp.StatusCode):
		return item, fmt.Errorf("fetch %s: unexpected status %s", item.URL, resp.Status)
	}

	doc, err := repodata.Decode(resp.Body)
	if err != nil {
		return item, fmt.Errorf("fetch %s: %w", item.URL, err)
	}
	doc = repodata.Trim(doc, f.cfg.TrimKeys)

	log.Info("writing", zap.String("path", item.Path))
	digest, err := repodata.WriteFile(dir, doc, timestamp, f.format)
	if err != nil {
		return item, fmt.Errorf("write %s: %w", item.Path, err)
	}
	if st, err := os.Stat(item.Path); err == nil {
		item.Bytes = st.Size()
		f.metrics.BytesWritten.Add(float64(st.Size()))
	}
	f.saveValidators(log, key, resp.Header, digest)

	item.Outcome = Written
	f.metrics.FetchDuration.Observe(time.Since(start).Seconds())
	return item, nil
}

// setValidators 仅在缓存条目与本地文件内容及输出参数都一致时附带条件请求头，
// 否则发送普通 GET 重新写入文件。
func (f *Fetcher) setValidators(log *zap.Logger, req *retryablehttp.Request, key cache.Key, path string) {
	if f.cfg.Cache == nil {
		return
	}
	entry, err := f.cfg.Cache.Load(key)
	if err != nil || entry.Empty() {
		return
	}
	digest, err := repodata.FileDigest(path)
	if err != nil {
		return
	}
	if !entry.Matches(digest, f.variant) {
		log.Debug("cache entry does not match local file, fetching in full")
		return
	}
	if entry.ETag != "" {
		req.Header.Set("If-None-Match", entry.ETag)
	}
	if entry.LastModified != "" {
		req.Header.Set("If-Modified-Since", entry.LastModified)
	}
}

func (f *Fetcher) saveValidators(log *zap.Logger, key cache.Key, h http.Header, digest string) {
	if f.cfg.Cache == nil {
		return
	}
	etag, lastModified := h.Get("ETag"), h.Get("Last-Modified")
	var err error
	if etag == "" && lastModified == "" {
		err = f.cfg.Cache.Delete(key)
	} else {
		err = f.cfg.Cache.Save(cache.Entry{
			Key:          key,
			ETag:         etag,
			LastModified: lastModified,
			Digest:       digest,
			Variant:      f.variant,
		})
	}
	if err != nil {
		log.Warn("update cache", zap.Error(err))
	}
}

// outputVariant 描述影响文件内容的参数，裁剪字段排序后参与比较。
func outputVariant(format repodata.Format, trimKeys []string) string {
	keys := append([]string(nil), trimKeys...)
	sort.Strings(keys)
	return fmt.Sprintf("%s trim=%s", format, strings.Join(keys, ","))
}

// unfetchedChannels 返回没有任何子目录写入或未变更的频道。
func unfetchedChannels(channels []string, items []Item) []string {
	fetched := make(map[string]struct{}, len(channels))
	for _, it := range items {
		if it.Outcome != NotFound {
			fetched[it.Channel] = struct{}{}
		}
	}

	var out []string
	for _, ch := range channels {
		if _, ok := fetched[ch]; !ok {
			out = append(out, ch)
		}
	}
	sort.Strings(out)
	return out
}
