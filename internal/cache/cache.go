// Package cache 提供基于 JSON 文件的 HTTP 条件请求缓存。
// 每个 repodata.json 地址对应一个缓存文件，记录上次响应的 ETag 与 Last-Modified，
// 以及当时写入的本地文件摘要和输出格式，以主机名 + 地址哈希命名。
package cache

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Key 唯一标识一个被缓存的远端文件。
type Key struct {
	URL string
}

// Entry 是持久化到磁盘的缓存条目。
type Entry struct {
	Key          Key    `json:"key"`
	ETag         string `json:"etag,omitempty"`
	LastModified string `json:"last_modified,omitempty"`
	// Digest 是收到该响应后写入的本地文件的 sha256。
	Digest string `json:"digest"`
	// Variant 描述写入时的裁剪与排版参数。
	Variant   string    `json:"variant"`
	CreatedAt time.Time `json:"created_at"`
}

// Empty 表示条目中没有任何可用于条件请求的校验值。
func (e *Entry) Empty() bool {
	return e == nil || (e.ETag == "" && e.LastModified == "")
}

// Matches 判断条目是否描述了摘要为 digest、以 variant 写入的本地文件。
// 只有匹配时才能用条目里的校验值发送条件请求。
func (e *Entry) Matches(digest, variant string) bool {
	return !e.Empty() && e.Digest != "" && e.Digest == digest && e.Variant == variant
}

// String 返回稳定的短文件名，格式为 "{host}_{hash}.json"。
func (k Key) String() string {
	normalized := normalizeKey(k)
	host := "repodata"
	if u, err := url.Parse(normalized.URL); err == nil {
		if name := sanitizeFileComponent(u.Host); name != "" {
			host = name
		}
	}
	digest := sha256.Sum256([]byte(normalized.URL))
	return fmt.Sprintf("%s_%x.json", host, digest[:8])
}

// Store 把缓存条目保存在 Dir 目录下。
type Store struct {
	Dir string
}

// DefaultDir 返回 ~/.cache/repodata-archive。
func DefaultDir() (string, error) {
	dir, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "repodata-archive"), nil
}

// Load 从磁盘读取一条缓存。
// 缓存未命中时返回 os.ErrNotExist。
func (s *Store) Load(key Key) (*Entry, error) {
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		return nil, err
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

// Save 写入一条缓存，使用 tmp + rename 的原子策略。CreatedAt 由 Save 填写。
func (s *Store) Save(entry Entry) error {
	path := s.path(entry.Key)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}

	entry.Key = normalizeKey(entry.Key)
	entry.CreatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return err
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return nil
}

// Delete 删除一条缓存，不存在时静默成功。
func (s *Store) Delete(key Key) error {
	err := os.Remove(s.path(key))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (s *Store) path(key Key) string {
	return filepath.Join(s.Dir, key.String())
}

func normalizeKey(key Key) Key {
	return Key{URL: strings.TrimSpace(key.URL)}
}

// sanitizeFileComponent 把路径分隔符、空格、冒号替换为下划线。
func sanitizeFileComponent(name string) string {
	name = strings.TrimSpace(name)
	if name == "" || name == "." {
		return ""
	}
	replacer := strings.NewReplacer(
		"/", "_",
		string(filepath.Separator), "_",
		" ", "_",
		":", "_",
	)
	return replacer.Replace(name)
}
