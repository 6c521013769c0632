package archive

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"go.uber.org/zap"

	"github.com/mbargull/bioconda-repodata-archive/internal/fetcher"
	"github.com/mbargull/bioconda-repodata-archive/internal/repodata"
	"github.com/mbargull/bioconda-repodata-archive/internal/version"
)

// CommitPrefix 是每次归档提交信息的前缀，后接时间戳。
const CommitPrefix = "Update repodata "

// tokenUser 是使用 GITHUB_TOKEN 推送时的 HTTP Basic 用户名。
const tokenUser = "x-access-token"

var (
	errDetachedHead  = errors.New("cannot push from a detached HEAD")
	errOutsideOfRepo = errors.New("output directory is outside of the repository")
	errTagOnRemote   = errors.New("tag already exists on remote")
)

// Archive 包装一个打开的 git 仓库。
type Archive struct {
	repo *git.Repository
	root string
	log  *zap.Logger
}

// PublishOptions 控制一次归档发布。
type PublishOptions struct {
	Output      string
	Version     version.Version
	AuthorName  string
	AuthorEmail string
	Push        bool
	Remote      string
	Token       string
	// Now 返回提交时间，为空时使用 time.Now。
	Now func() time.Time
}

// PublishResult 记录一次发布的结果。
type PublishResult struct {
	Timestamp string
	Commit    plumbing.Hash
	Committed bool
	Staged    int
	Tags      []string
	Skipped   []string
	Pushed    bool
}

// Open 打开包含 path 的仓库（向上查找 .git）。
func Open(path string, log *zap.Logger) (*Archive, error) {
	abs, err := NormalizePath(path)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}

	r, err := git.PlainOpenWithOptions(abs, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, fmt.Errorf("open repository %s: %w", abs, err)
	}
	wt, err := r.Worktree()
	if err != nil {
		return nil, fmt.Errorf("open worktree: %w", err)
	}

	return &Archive{repo: r, root: wt.Filesystem.Root(), log: log}, nil
}

// Root 返回工作区根目录。
func (a *Archive) Root() string {
	return a.root
}

// Repository 返回底层 go-git 仓库。
func (a *Archive) Repository() *git.Repository {
	return a.repo
}

// Publish 提交输出目录的变更并打标签，可选推送到远端。
func (a *Archive) Publish(ctx context.Context, opts PublishOptions) (*PublishResult, error) {
	output, err := NormalizePath(opts.Output)
	if err != nil {
		return nil, err
	}
	rel, err := filepath.Rel(a.root, output)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return nil, fmt.Errorf("%w: %s", errOutsideOfRepo, output)
	}

	timestamp, err := repodata.ReadTimestamp(filepath.Join(output, fetcher.RootTimeFile))
	if err != nil {
		return nil, fmt.Errorf("read timestamp: %w", err)
	}
	tags, err := version.Tags(opts.Version, timestamp)
	if err != nil {
		return nil, err
	}

	res := &PublishResult{Timestamp: timestamp}
	log := a.log.With(zap.String("timestamp", timestamp))

	// 工作区可能是不带标签的浅克隆，推送时以远端已有标签为准
	var onRemote map[string]struct{}
	if opts.Push {
		onRemote, err = a.remoteTags(ctx, opts.Remote, opts.Token)
		if err != nil {
			return nil, err
		}
		if _, ok := onRemote[tags.Full]; ok {
			return nil, fmt.Errorf("%w: %s", errTagOnRemote, tags.Full)
		}
	}

	wt, err := a.repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("open worktree: %w", err)
	}
	res.Staged, err = stage(wt, filepath.ToSlash(rel))
	if err != nil {
		return nil, err
	}

	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	sig := &object.Signature{Name: opts.AuthorName, Email: opts.AuthorEmail, When: now()}

	var hash plumbing.Hash
	if res.Staged > 0 {
		hash, err = wt.Commit(CommitPrefix+timestamp, &git.CommitOptions{Author: sig, Committer: sig})
		if err != nil && !errors.Is(err, git.ErrEmptyCommit) {
			return nil, fmt.Errorf("commit: %w", err)
		}
		res.Committed = err == nil
	}
	if res.Committed {
		log.Info("committed repodata", zap.String("commit", hash.String()), zap.Int("files", res.Staged))
	} else {
		head, err := a.repo.Head()
		if err != nil {
			return nil, fmt.Errorf("resolve HEAD: %w", err)
		}
		hash = head.Hash()
		log.Info("no changes to commit, tagging HEAD", zap.String("commit", hash.String()))
	}
	res.Commit = hash

	if _, err := a.repo.CreateTag(tags.Full, hash, nil); err != nil {
		return res, fmt.Errorf("create tag %s: %w", tags.Full, err)
	}
	res.Tags = append(res.Tags, tags.Full)

	for _, name := range []string{tags.Date, tags.Bare} {
		if _, ok := onRemote[name]; ok {
			log.Warn("skipping tag", zap.String("tag", name), zap.Error(errTagOnRemote))
			res.Skipped = append(res.Skipped, name)
			continue
		}
		if _, err := a.repo.CreateTag(name, hash, nil); err != nil {
			log.Warn("skipping tag", zap.String("tag", name), zap.Error(err))
			res.Skipped = append(res.Skipped, name)
			continue
		}
		res.Tags = append(res.Tags, name)
	}
	log.Info("tagged", zap.Strings("tags", res.Tags))

	if !opts.Push {
		return res, nil
	}
	if err := a.push(ctx, opts.Remote, opts.Token, res.Tags); err != nil {
		return res, err
	}
	res.Pushed = true
	return res, nil
}

// stage 把 prefix 下所有变更（新增、修改、删除）加入暂存区，返回变更文件数。
func stage(wt *git.Worktree, prefix string) (int, error) {
	status, err := wt.Status()
	if err != nil {
		return 0, fmt.Errorf("worktree status: %w", err)
	}

	files := make([]string, 0, len(status))
	for file := range status {
		if underPrefix(file, prefix) {
			files = append(files, file)
		}
	}
	sort.Strings(files)

	n := 0
	for _, file := range files {
		st := status[file]
		switch st.Worktree {
		case git.Unmodified:
			if st.Staging != git.Unmodified {
				n++
			}
			continue
		case git.Deleted:
			_, err = wt.Remove(file)
		default:
			_, err = wt.Add(file)
		}
		if err != nil {
			return n, fmt.Errorf("stage %s: %w", file, err)
		}
		n++
	}
	return n, nil
}

func underPrefix(file, prefix string) bool {
	if prefix == "." || prefix == "" {
		return true
	}
	return file == prefix || strings.HasPrefix(file, prefix+"/")
}

// remoteTags 列出远端已有的标签名。远端为空仓库时返回空集合。
func (a *Archive) remoteTags(ctx context.Context, remote, token string) (map[string]struct{}, error) {
	if remote == "" {
		remote = git.DefaultRemoteName
	}
	r, err := a.repo.Remote(remote)
	if err != nil {
		return nil, fmt.Errorf("remote %s: %w", remote, err)
	}

	tags := make(map[string]struct{})
	refs, err := r.ListContext(ctx, &git.ListOptions{Auth: tokenAuth(token), PeelingOption: git.IgnorePeeled})
	if errors.Is(err, transport.ErrEmptyRemoteRepository) {
		return tags, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", remote, err)
	}
	for _, ref := range refs {
		if ref.Name().IsTag() {
			tags[ref.Name().Short()] = struct{}{}
		}
	}
	return tags, nil
}

// push 推送当前分支和本次新建的标签。tags 中不能包含远端已有的标签，
// 否则远端标签会被快进到新提交。
func (a *Archive) push(ctx context.Context, remote, token string, tags []string) error {
	head, err := a.repo.Head()
	if err != nil {
		return fmt.Errorf("resolve HEAD: %w", err)
	}
	if !head.Name().IsBranch() {
		return errDetachedHead
	}
	if remote == "" {
		remote = git.DefaultRemoteName
	}

	specs := []gitconfig.RefSpec{gitconfig.RefSpec(head.Name() + ":" + head.Name())}
	for _, tag := range tags {
		ref := plumbing.NewTagReferenceName(tag)
		specs = append(specs, gitconfig.RefSpec(ref+":"+ref))
	}

	err = a.repo.PushContext(ctx, &git.PushOptions{RemoteName: remote, RefSpecs: specs, Auth: tokenAuth(token)})
	if errors.Is(err, git.NoErrAlreadyUpToDate) {
		a.log.Info("remote already up to date", zap.String("remote", remote))
		return nil
	}
	if err != nil {
		return fmt.Errorf("push to %s: %w", remote, err)
	}
	a.log.Info("pushed", zap.String("remote", remote), zap.String("branch", head.Name().Short()), zap.Strings("tags", tags))
	return nil
}

func tokenAuth(token string) transport.AuthMethod {
	if token == "" {
		return nil
	}
	return &githttp.BasicAuth{Username: tokenUser, Password: token}
}
