package fetcher

import (
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

// newHTTPClient 创建带重试的 HTTP 客户端。
// 5xx、429 与连接错误按指数退避重试，404 等客户端错误不重试。
func newHTTPClient(cfg Config, log *zap.Logger) *retryablehttp.Client {
	c := retryablehttp.NewClient()
	c.RetryMax = cfg.RetryMax
	c.RetryWaitMin = cfg.RetryWaitMin
	c.RetryWaitMax = cfg.RetryWaitMax
	c.Logger = leveledLogger{log.Sugar()}
	c.HTTPClient.Timeout = cfg.Timeout
	return c
}

// leveledLogger 把 retryablehttp 的日志转给 zap。
// 单次请求日志降为 debug，避免大量抓取时刷屏。
type leveledLogger struct {
	s *zap.SugaredLogger
}

func (l leveledLogger) Error(msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, keysAndValues...)
}

func (l leveledLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l leveledLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l leveledLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.s.Warnw(msg, keysAndValues...)
}

var _ retryablehttp.LeveledLogger = leveledLogger{}

func isSuccess(code int) bool {
	return code >= http.StatusOK && code < http.StatusMultipleChoices
}

// 重试等待从 0.1s 起按指数增长。
const (
	defaultRetryMax     = 5
	defaultRetryWaitMin = 100 * time.Millisecond
	defaultRetryWaitMax = 10 * time.Second
)
