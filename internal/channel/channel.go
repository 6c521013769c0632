package channel

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
)

var errEmptyChannel = errors.New("empty channel url")

// Archive 是定时任务实际镜像的频道列表。
var Archive = []string{
	"https://conda.anaconda.org/bioconda",
	"https://conda.anaconda.org/bioconda/label/main",
	"https://conda.anaconda.org/bioconda/label/broken",
	"https://conda.anaconda.org/conda-forge",
	"https://conda.anaconda.org/conda-forge/label/main",
	"https://conda.anaconda.org/conda-forge/label/broken",
	"https://conda-static.anaconda.org/bioconda",
	"https://conda-static.anaconda.org/conda-forge",
	"https://conda-web.anaconda.org/bioconda",
	"https://conda-web.anaconda.org/conda-forge",
	"https://conda.anaconda.org/anaconda",
	"https://repo.anaconda.com/pkgs/main",
	"https://repo.anaconda.com/pkgs/msys2",
	"https://repo.anaconda.com/pkgs/free",
	"https://repo.anaconda.com/pkgs/r",
}

// Defaults 是 fetch 命令未指定 --channel 时使用的频道。
var Defaults = []string{
	"https://conda.anaconda.org/bioconda",
	"https://conda.anaconda.org/conda-forge",
	"https://repo.anaconda.com/pkgs/main",
	"https://repo.anaconda.com/pkgs/free",
	"https://repo.anaconda.com/pkgs/r",
}

// Subdirs 是默认抓取的平台子目录。
var Subdirs = []string{
	"noarch",
	"linux-64",
	"linux-aarch64",
	"linux-ppc64le",
	"osx-64",
	"osx-arm64",
	"win-64",
}

// Normalize 标准化频道 URL：去除首尾空白和末尾的 "/"，
// 并要求使用 http/https 协议且包含主机名。
func Normalize(raw string) (string, error) {
	raw = strings.TrimRight(strings.TrimSpace(raw), "/")
	if raw == "" {
		return "", errEmptyChannel
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse channel %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("channel %q: unsupported scheme %q", raw, u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("channel %q: missing host", raw)
	}
	return raw, nil
}

// Dedupe 标准化并去重频道列表，保持首次出现的顺序。
func Dedupe(channels []string) ([]string, error) {
	seen := make(map[string]struct{}, len(channels))
	out := make([]string, 0, len(channels))
	for _, c := range channels {
		normalized, err := Normalize(c)
		if err != nil {
			return nil, err
		}
		if _, ok := seen[normalized]; ok {
			continue
		}
		seen[normalized] = struct{}{}
		out = append(out, normalized)
	}
	return out, nil
}

// CleanSubdirs 去除空白项并去重。
func CleanSubdirs(subdirs []string) []string {
	seen := make(map[string]struct{}, len(subdirs))
	out := make([]string, 0, len(subdirs))
	for _, s := range subdirs {
		s = strings.Trim(strings.TrimSpace(s), "/")
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// Prefix 返回 "{channel}/{subdir}"。
func Prefix(channel, subdir string) string {
	return channel + "/" + subdir
}

// RepodataURL 返回指定频道子目录下 repodata.json 的地址。
func RepodataURL(channel, subdir string) string {
	return Prefix(channel, subdir) + "/repodata.json"
}

// EncodePath 把 "{channel}/{subdir}" 编码为相对输出路径（使用 "/" 分隔）。
func EncodePath(channel, subdir string) string {
	return strings.ReplaceAll(quote(Prefix(channel, subdir)), "//", "%2F/")
}

// OutputDir 返回 root 下对应频道子目录的输出目录。
func OutputDir(root, channel, subdir string) string {
	return filepath.Join(root, filepath.FromSlash(EncodePath(channel, subdir)))
}
