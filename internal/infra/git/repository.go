package git

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	giturls "github.com/whilp/git-urls"

	"github.com/jinford/codeindex/internal/core/ingestion"
)

// RemoteName は参照するリモート名
const RemoteName = "origin"

// Inspector はスキャン対象が属する Git リポジトリの情報を読み取る
type Inspector struct{}

// NewInspector は新しい Inspector を作成する
func NewInspector() *Inspector {
	return &Inspector{}
}

// Inspect は dir を含むリポジトリの HEAD コミットと origin の URL を返す
// Git 管理下でない場合は空の情報を返す（エラーにしない）
func (i *Inspector) Inspect(ctx context.Context, dir string) (ingestion.RepositoryInfo, error) {
	if err := ctx.Err(); err != nil {
		return ingestion.RepositoryInfo{}, err
	}

	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return ingestion.RepositoryInfo{}, nil
		}
		return ingestion.RepositoryInfo{}, fmt.Errorf("failed to open repository: %w", err)
	}

	var info ingestion.RepositoryInfo

	head, err := repo.Head()
	switch {
	case err == nil:
		info.Commit = head.Hash().String()
	case errors.Is(err, plumbing.ErrReferenceNotFound):
		// コミットがまだない
	default:
		return ingestion.RepositoryInfo{}, fmt.Errorf("failed to get HEAD: %w", err)
	}

	remote, err := repo.Remote(RemoteName)
	switch {
	case err == nil:
		if urls := remote.Config().URLs; len(urls) > 0 {
			normalized, err := NormalizeRemoteURL(urls[0])
			if err != nil {
				return ingestion.RepositoryInfo{}, err
			}
			info.Remote = normalized
		}
	case errors.Is(err, git.ErrRemoteNotFound):
	default:
		return ingestion.RepositoryInfo{}, fmt.Errorf("failed to get remote: %w", err)
	}

	return info, nil
}

// NormalizeRemoteURL は Git URL を host/owner/repo 形式に変換する
// 認証情報やポート、.git 接尾辞は含めない
func NormalizeRemoteURL(gitURL string) (string, error) {
	u, err := giturls.Parse(gitURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse git URL: %w", err)
	}

	hostname := u.Hostname()
	if hostname == "" {
		hostname = u.Host
	}

	p := strings.TrimPrefix(u.Path, "/")
	p = strings.TrimSuffix(p, "/")
	p = strings.TrimSuffix(p, ".git")

	if hostname == "" {
		return p, nil
	}
	return path.Join(hostname, p), nil
}
