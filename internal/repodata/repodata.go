// Package repodata 负责 repodata.json 的裁剪、确定性序列化与落盘。
package repodata

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const (
	// FileName 是每个频道子目录下的索引文件名。
	FileName = "repodata.json"
	// TimeSuffix 是时间戳伴随文件的后缀。
	TimeSuffix = ".time"
)

// packagesKeys 是 repodata 中保存包记录的两个字段。
var packagesKeys = []string{"packages", "packages.conda"}

// DefaultTrimKeys 是 --trim 时默认删除的包元数据字段。
var DefaultTrimKeys = []string{
	"md5",
	"subdir",
	"license_family",
	"app_entry",
	"app_own_environment",
	"app_type",
	"arch",
	"icon",
	"platform",
	"summary",
	"type",
}

// ErrEmptyTimestamp 表示 .time 文件没有可用内容。
var ErrEmptyTimestamp = errors.New("empty timestamp file")

// Document 是解码后的 repodata.json。
type Document map[string]any

// Decode 解码 JSON，数字保留原始字面量。
func Decode(r io.Reader) (Document, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	var doc Document
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode repodata: %w", err)
	}
	if doc == nil {
		return nil, errors.New("decode repodata: document is null")
	}
	return doc, nil
}

// Trim 返回删除了指定包字段的副本，不修改输入。
// keys 为空时原样返回。
func Trim(doc Document, keys []string) Document {
	if len(keys) == 0 {
		return doc
	}

	drop := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		drop[k] = struct{}{}
	}

	out := make(Document, len(doc))
	for k, v := range doc {
		out[k] = v
	}

	for _, packagesKey := range packagesKeys {
		packages, ok := doc[packagesKey].(map[string]any)
		if !ok {
			continue
		}
		trimmed := make(map[string]any, len(packages))
		for filename, record := range packages {
			fields, ok := record.(map[string]any)
			if !ok {
				trimmed[filename] = record
				continue
			}
			kept := make(map[string]any, len(fields))
			for key, value := range fields {
				if _, ok := drop[key]; ok {
					continue
				}
				kept[key] = value
			}
			trimmed[filename] = kept
		}
		out[packagesKey] = trimmed
	}
	return out
}

// WriteFile 在 dir 下写入 repodata.json 及其时间戳文件，返回写入内容的 sha256。
// 先写时间戳，再通过 tmp + rename 原子写入 repodata.json。
func WriteFile(dir string, doc Document, timestamp string, format Format) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	path := filepath.Join(dir, FileName)
	if err := WriteTimestamp(path+TimeSuffix, timestamp); err != nil {
		return "", err
	}

	tmpPath := path + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	if err := Encode(io.MultiWriter(f, h), doc, format); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return "", err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return "", err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// FileDigest 返回文件内容的 sha256（十六进制）。
func FileDigest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// WriteTimestamp 写入单行时间戳文件。
func WriteTimestamp(path, timestamp string) error {
	return os.WriteFile(path, []byte(timestamp+"\n"), 0o644)
}

// ReadTimestamp 读取时间戳文件的第一行。
func ReadTimestamp(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return "", err
		}
		return "", fmt.Errorf("%s: %w", path, ErrEmptyTimestamp)
	}
	line := strings.TrimSpace(scanner.Text())
	if line == "" {
		return "", fmt.Errorf("%s: %w", path, ErrEmptyTimestamp)
	}
	return line, nil
}
