// Package chunker splits source units into semantically bounded fragments.
// Recognized languages are parsed with tree-sitter grammars and emit one
// chunk per allow-listed CST node; everything else falls back to a single
// whole-file chunk. Directories and repository snapshots are walked
// recursively with a deny-list prune; binary files yield no chunks.
package chunker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	sitter "github.com/smacker/go-tree-sitter"
	"golang.org/x/sync/errgroup"

	"tandem/internal/logging"
)

// Chunk is one semantically bounded fragment of a source file.
// Line numbers are 0-based and taken from the CST node span.
type Chunk struct {
	ChunkType string `json:"chunk_type"`
	Content   string `json:"content"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
	FilePath  string `json:"file_path"`
}

// Source filetypes, persisted on parent-context rows.
const (
	FiletypeLocal     = "local"
	FiletypeLocalDir  = "local_directory"
	FiletypeGitHub    = "github_repo"
	FiletypeRemote    = "remote"
	chunkTypeUnknown  = "unknown"
	binarySniffBytes  = 1024
	walkWorkers       = 8
)

// deniedDirs are pruned from every recursive walk: build artifacts,
// dependency caches and VCS metadata.
var deniedDirs = map[string]bool{
	".git":         true,
	".hg":          true,
	".svn":         true,
	"node_modules": true,
	"__pycache__":  true,
	".venv":        true,
	"venv":         true,
	"vendor":       true,
	"target":       true,
	"dist":         true,
	"build":        true,
	".idea":        true,
	".vscode":      true,
	".tandem":      true,
}

// Chunker produces chunks from local and remote source units.
type Chunker struct {
	gh *githubFetcher
}

// New creates a Chunker. The GitHub token may be empty for anonymous access.
func New(githubToken string) *Chunker {
	return &Chunker{gh: newGitHubFetcher(githubToken)}
}

// ChunkPath dispatches on the shape of path: local file, local directory,
// GitHub repository reference (owner/repo[@ref]) or remote file URL.
// It returns the chunks together with the detected filetype.
func (c *Chunker) ChunkPath(ctx context.Context, path string) ([]Chunk, string, error) {
	switch {
	case isGitHubRef(path):
		chunks, err := c.chunkGitHubRepo(ctx, path)
		return chunks, FiletypeGitHub, err
	case isRemoteURL(path):
		chunks, err := c.chunkRemoteFile(ctx, path)
		return chunks, FiletypeRemote, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		chunks, err := c.ChunkDirectory(ctx, path)
		return chunks, FiletypeLocalDir, err
	}
	chunks, err := c.ChunkFile(ctx, path)
	return chunks, FiletypeLocal, err
}

// ChunkPathSince is ChunkPath restricted to local files modified after
// since. It also returns the paths considered modified so the caller can
// evict their stale chunks even when re-chunking yields nothing. Remote
// sources carry no modification times and are always fully re-chunked.
func (c *Chunker) ChunkPathSince(ctx context.Context, path string, since time.Time) ([]Chunk, []string, string, error) {
	switch {
	case isGitHubRef(path):
		chunks, err := c.chunkGitHubRepo(ctx, path)
		return chunks, chunkPaths(chunks), FiletypeGitHub, err
	case isRemoteURL(path):
		chunks, err := c.chunkRemoteFile(ctx, path)
		return chunks, chunkPaths(chunks), FiletypeRemote, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, nil, "", fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		chunks, modified, err := c.chunkDirectorySince(ctx, path, since)
		return chunks, modified, FiletypeLocalDir, err
	}
	if !info.ModTime().After(since) {
		return nil, nil, FiletypeLocal, nil
	}
	chunks, err := c.ChunkFile(ctx, path)
	return chunks, []string{path}, FiletypeLocal, err
}

func chunkPaths(chunks []Chunk) []string {
	seen := make(map[string]bool, len(chunks))
	var out []string
	for _, ch := range chunks {
		if !seen[ch.FilePath] {
			seen[ch.FilePath] = true
			out = append(out, ch.FilePath)
		}
	}
	return out
}

// ChunkFile chunks a single local file. Binary files return no chunks.
func (c *Chunker) ChunkFile(ctx context.Context, path string) ([]Chunk, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if isBinary(content) {
		logging.ChunkerDebug("skipping binary file: %s", path)
		return nil, nil
	}
	chunks, err := c.chunkSource(ctx, path, content)
	if err != nil {
		return nil, err
	}
	return dedupe(chunks), nil
}

// ChunkDirectory walks root recursively, pruning denied directories, and
// chunks every non-binary file. Files are parsed concurrently; chunks within
// one file stay in source order.
func (c *Chunker) ChunkDirectory(ctx context.Context, root string) ([]Chunk, error) {
	chunks, _, err := c.chunkDirectorySince(ctx, root, time.Time{})
	return chunks, err
}

// chunkDirectorySince chunks only files whose modification time is after
// since, returning both their chunks and the modified paths themselves.
func (c *Chunker) chunkDirectorySince(ctx context.Context, root string, since time.Time) ([]Chunk, []string, error) {
	var files []string
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if deniedDirs[info.Name()] && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		if info.Mode().IsRegular() && info.ModTime().After(since) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to walk %s: %w", root, err)
	}

	var mu sync.Mutex
	perFile := make(map[string][]Chunk, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(walkWorkers)
	for _, path := range files {
		g.Go(func() error {
			content, err := os.ReadFile(path)
			if err != nil {
				// Unreadable files are skipped, not fatal to the walk.
				logging.ChunkerDebug("skipping unreadable file %s: %v", path, err)
				return nil
			}
			if isBinary(content) {
				return nil
			}
			chunks, err := c.chunkSource(gctx, path, content)
			if err != nil {
				logging.Get(logging.CategoryChunker).Errorf("chunking %s failed: %v", path, err)
				return nil
			}
			mu.Lock()
			perFile[path] = chunks
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	// Stable file order keeps output deterministic for identical trees.
	paths := make([]string, 0, len(perFile))
	for p := range perFile {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var all []Chunk
	for _, p := range paths {
		all = append(all, perFile[p]...)
	}
	logging.Chunker("chunked directory %s: %d files, %d chunks", root, len(paths), len(all))
	sort.Strings(files)
	return dedupe(all), files, nil
}

// chunkSource parses content with the grammar registered for the file's
// extension, emitting one chunk per allow-listed node. Unrecognized
// extensions produce one whole-file chunk of type "unknown".
func (c *Chunker) chunkSource(ctx context.Context, path string, content []byte) ([]Chunk, error) {
	spec := specForPath(path)
	if spec == nil {
		return []Chunk{wholeFileChunk(path, content)}, nil
	}

	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(spec.language)

	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return nil, fmt.Errorf("%s parse failed for %s: %w", spec.name, path, err)
	}
	defer tree.Close()

	var chunks []Chunk
	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		if chunkType, ok := spec.allow[n.Type()]; ok {
			chunks = append(chunks, Chunk{
				ChunkType: chunkType,
				Content:   n.Content(content),
				StartLine: int(n.StartPoint().Row),
				EndLine:   int(n.EndPoint().Row),
				FilePath:  path,
			})
			// Emitted nodes are not descended into; nested definitions
			// ride along inside their parent chunk.
			return
		}
		for i := 0; i < int(n.ChildCount()); i++ {
			walk(n.Child(i))
		}
	}
	walk(tree.RootNode())

	if len(chunks) == 0 {
		// Parsed fine but nothing allow-listed (e.g. a script of bare
		// statements): keep the file retrievable as a whole.
		return []Chunk{wholeFileChunk(path, content)}, nil
	}
	return chunks, nil
}

func wholeFileChunk(path string, content []byte) Chunk {
	lines := strings.Count(string(content), "\n")
	return Chunk{
		ChunkType: chunkTypeUnknown,
		Content:   string(content),
		StartLine: 0,
		EndLine:   lines,
		FilePath:  path,
	}
}

// isBinary samples the first 1024 bytes for content that is neither
// printable, whitespace, nor valid UTF-8.
func isBinary(content []byte) bool {
	sample := content
	if len(sample) > binarySniffBytes {
		sample = sample[:binarySniffBytes]
	}
	for i := 0; i < len(sample); {
		b := sample[i]
		if b == '\t' || b == '\n' || b == '\r' {
			i++
			continue
		}
		if b < 0x20 || b == 0x7f {
			return true
		}
		if b < 0x80 {
			i++
			continue
		}
		r, size := utf8.DecodeRune(sample[i:])
		if r == utf8.RuneError && size == 1 {
			// Could be a rune truncated by the sample boundary.
			if len(sample)-i < utf8.UTFMax && i+size >= len(sample) {
				break
			}
			return true
		}
		i += size
	}
	return false
}

// dedupe collapses chunks with byte-identical content within one pass,
// keeping the first occurrence.
func dedupe(chunks []Chunk) []Chunk {
	seen := make(map[string]bool, len(chunks))
	out := chunks[:0]
	for _, ch := range chunks {
		if seen[ch.Content] {
			continue
		}
		seen[ch.Content] = true
		out = append(out, ch)
	}
	return out
}

func normalizeExt(path string) string {
	return strings.ToLower(filepath.Ext(path))
}
