package chunker

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	gh "github.com/google/go-github/v80/github"

	"tandem/internal/logging"
)

// githubRefPattern matches owner/repo or owner/repo@ref shorthand.
var githubRefPattern = regexp.MustCompile(`^[\w.-]+/[\w.-]+(@[\w./-]+)?$`)

func isGitHubRef(path string) bool {
	if isRemoteURL(path) {
		u, err := url.Parse(path)
		return err == nil && u.Host == "github.com" && strings.Count(strings.Trim(u.Path, "/"), "/") == 1
	}
	if _, err := os.Stat(path); err == nil {
		return false // an existing local path wins over the shorthand
	}
	return githubRefPattern.MatchString(path)
}

func isRemoteURL(path string) bool {
	return strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://")
}

// githubFetcher materializes repository snapshots into a temp directory so
// the regular directory walk can chunk them.
type githubFetcher struct {
	client *gh.Client
}

func newGitHubFetcher(token string) *githubFetcher {
	client := gh.NewClient(&http.Client{Timeout: 60 * time.Second})
	if token != "" {
		client = client.WithAuthToken(token)
	}
	return &githubFetcher{client: client}
}

// parseGitHubRef splits "owner/repo[@ref]" or a github.com URL into parts.
func parseGitHubRef(path string) (owner, repo, ref string, err error) {
	spec := path
	if isRemoteURL(path) {
		u, perr := url.Parse(path)
		if perr != nil {
			return "", "", "", perr
		}
		spec = strings.Trim(u.Path, "/")
	}
	if at := strings.IndexByte(spec, '@'); at >= 0 {
		ref = spec[at+1:]
		spec = spec[:at]
	}
	parts := strings.Split(strings.TrimSuffix(spec, ".git"), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", "", fmt.Errorf("invalid github reference: %s", path)
	}
	return parts[0], parts[1], ref, nil
}

// chunkGitHubRepo downloads a snapshot of the repository tree and chunks it
// like a local directory. Per-file download failures are logged and skipped.
func (c *Chunker) chunkGitHubRepo(ctx context.Context, path string) ([]Chunk, error) {
	owner, repo, ref, err := parseGitHubRef(path)
	if err != nil {
		return nil, err
	}
	if ref == "" {
		repository, _, err := c.gh.client.Repositories.Get(ctx, owner, repo)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve %s/%s: %w", owner, repo, err)
		}
		ref = repository.GetDefaultBranch()
	}

	tree, _, err := c.gh.client.Git.GetTree(ctx, owner, repo, ref, true)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch tree for %s/%s@%s: %w", owner, repo, ref, err)
	}

	tmp, err := os.MkdirTemp("", "tandem-repo-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create snapshot dir: %w", err)
	}
	defer os.RemoveAll(tmp)

	written := 0
	for _, entry := range tree.Entries {
		if entry.GetType() != "blob" {
			continue
		}
		rel := entry.GetPath()
		if underDeniedDir(rel) {
			continue
		}
		blob, _, err := c.gh.client.Git.GetBlob(ctx, owner, repo, entry.GetSHA())
		if err != nil {
			logging.Get(logging.CategoryChunker).Errorf("blob fetch failed for %s: %v", rel, err)
			continue
		}
		data, err := decodeBlob(blob)
		if err != nil {
			logging.Get(logging.CategoryChunker).Errorf("blob decode failed for %s: %v", rel, err)
			continue
		}
		dst := filepath.Join(tmp, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
			continue
		}
		if err := os.WriteFile(dst, data, 0644); err != nil {
			continue
		}
		written++
	}
	logging.Chunker("snapshot %s/%s@%s: %d files", owner, repo, ref, written)

	chunks, err := c.ChunkDirectory(ctx, tmp)
	if err != nil {
		return nil, err
	}
	// Rewrite temp paths to repo-anchored ones so chunk rows stay meaningful
	// after the snapshot dir is gone.
	prefix := fmt.Sprintf("%s/%s/", owner, repo)
	for i := range chunks {
		rel, err := filepath.Rel(tmp, chunks[i].FilePath)
		if err == nil {
			chunks[i].FilePath = prefix + filepath.ToSlash(rel)
		}
	}
	return chunks, nil
}

func decodeBlob(blob *gh.Blob) ([]byte, error) {
	content := blob.GetContent()
	if blob.GetEncoding() == "base64" {
		// go-github keeps base64 blobs raw; GetContents-style decode.
		decoded, err := decodeBase64(content)
		if err != nil {
			return nil, err
		}
		return decoded, nil
	}
	return []byte(content), nil
}

// chunkRemoteFile fetches one individually addressable file over HTTP.
func (c *Chunker) chunkRemoteFile(ctx context.Context, rawURL string) ([]Chunk, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s returned status %d", rawURL, resp.StatusCode)
	}

	content, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", rawURL, err)
	}
	if isBinary(content) {
		logging.ChunkerDebug("skipping binary remote file: %s", rawURL)
		return nil, nil
	}

	u, _ := url.Parse(rawURL)
	name := rawURL
	if u != nil {
		name = u.Path
	}
	chunks, err := c.chunkSource(ctx, name, content)
	if err != nil {
		return nil, err
	}
	for i := range chunks {
		chunks[i].FilePath = rawURL
	}
	return dedupe(chunks), nil
}

// decodeBase64 handles the newline-wrapped base64 GitHub returns for blobs.
func decodeBase64(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(strings.ReplaceAll(s, "\n", ""))
}

// underDeniedDir reports whether any parent directory of rel is denied. The
// final component is a file name and is never checked.
func underDeniedDir(rel string) bool {
	parts := strings.Split(filepath.ToSlash(rel), "/")
	for _, part := range parts[:len(parts)-1] {
		if deniedDirs[part] {
			return true
		}
	}
	return false
}
