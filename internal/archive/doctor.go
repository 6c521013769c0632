package archive

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"
)

const (
	pairCountWarnThreshold  = 200
	outputSizeWarnThreshold = int64(1 << 30) // 1GB
)

// CheckRepository 检查仓库 HEAD 是否可达（有提交），以及指定远端是否存在。
func CheckRepository(repoPath string, remote string) error {
	r, err := git.PlainOpenWithOptions(repoPath, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return fmt.Errorf("cannot open repo: %w", err)
	}

	headRef, err := r.Head()
	if err != nil {
		return fmt.Errorf("cannot resolve HEAD: %w", err)
	}
	if headRef.Hash().IsZero() {
		return fmt.Errorf("HEAD has no commits")
	}
	if _, err := r.CommitObject(headRef.Hash()); err != nil {
		return fmt.Errorf("HEAD commit is unreachable: %w", err)
	}

	remote = strings.TrimSpace(remote)
	if remote == "" {
		return nil
	}
	if _, err := r.Remote(remote); err != nil {
		return fmt.Errorf("remote %q not found", remote)
	}

	return nil
}

// CheckOutputWritable 检查输出目录可写；目录不存在时检查最近的已存在父目录。
func CheckOutputWritable(dir string) error {
	dir, err := NormalizePath(dir)
	if err != nil {
		return err
	}

	for {
		info, err := os.Stat(dir)
		if err == nil {
			if !info.IsDir() {
				return fmt.Errorf("%s is not a directory", dir)
			}
			break
		}
		if !os.IsNotExist(err) {
			return fmt.Errorf("cannot stat %s: %w", dir, err)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return fmt.Errorf("no existing parent for output directory")
		}
		dir = parent
	}

	f, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		return fmt.Errorf("cannot write to %s: %w", dir, err)
	}
	name := f.Name()
	_ = f.Close()
	_ = os.Remove(name)
	return nil
}

// CheckPerformance 检查性能预警项：抓取组合数量与输出目录大小。
func CheckPerformance(pairs int, output string) []string {
	warnings := make([]string, 0)

	if pairs > pairCountWarnThreshold {
		warnings = append(warnings, fmt.Sprintf("large number of channel/subdir pairs (%d) may slow down fetching", pairs))
	}

	size, err := dirSize(output)
	if err == nil && size > outputSizeWarnThreshold {
		warnings = append(warnings, fmt.Sprintf("%s is large (%.1f GB), commits may be slow", output, float64(size)/float64(1<<30)))
	}

	return warnings
}

func dirSize(root string) (int64, error) {
	var size int64

	err := filepath.Walk(root, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	return size, nil
}
