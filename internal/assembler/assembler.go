// Package assembler builds the retrieval-augmented context string handed to
// the model: recent chat history, nearest chat embeddings and nearest code
// chunks, deduplicated, reranked against the active prompt and rendered.
package assembler

import (
	"context"
	"fmt"
	"strings"

	"tandem/internal/embedding"
	"tandem/internal/logging"
	"tandem/internal/reranker"
	"tandem/internal/store"
	"tandem/internal/vecindex"
)

// Separator delimits context blocks in the rendered string.
const Separator = "----------CONTEXT----------\n"

const (
	recentChatCount = 4
	chatCandidates  = 100
	codeCandidates  = 10
)

// Assembler wires the retrieval pipeline's read path.
type Assembler struct {
	chats    *store.ChatStore
	vectors  *vecindex.Manager
	embedder embedding.Engine
	reranker reranker.Reranker
}

// New creates an Assembler.
func New(chats *store.ChatStore, vectors *vecindex.Manager, emb embedding.Engine, rr reranker.Reranker) *Assembler {
	return &Assembler{chats: chats, vectors: vectors, embedder: emb, reranker: rr}
}

// MakeContext renders the context string for a prompt within a session.
// Any stage failure fails the whole call; there is no degraded path.
func (a *Assembler) MakeContext(ctx context.Context, sessionID, prompt string, topN int) (string, error) {
	recent, err := a.chats.FetchLastNChats(sessionID, recentChatCount)
	if err != nil {
		return "", fmt.Errorf("failed to fetch recent chats: %w", err)
	}

	queryVec, err := a.embedder.Embed(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("failed to embed prompt: %w", err)
	}

	// The chat vector table is globally ranked; filter to this session here.
	nearest, err := a.chats.QueryNearestEmbeddings(queryVec, chatCandidates)
	if err != nil {
		return "", fmt.Errorf("failed to query chat embeddings: %w", err)
	}
	var chatHits []string
	for _, hit := range nearest {
		if hit.SessionID == sessionID {
			chatHits = append(chatHits, hit.CompressedResponse)
		}
	}

	keys := a.vectors.Search(sessionID, queryVec, codeCandidates)
	codeHits, err := a.chats.GetChunksByIDs(keys)
	if err != nil {
		return "", fmt.Errorf("failed to hydrate code chunks: %w", err)
	}

	candidates := dedupeUnion(recent, chatHits, codeHits)

	ranked := candidates
	if len(candidates) > 0 {
		ranked, err = a.reranker.Rerank(ctx, prompt, candidates)
		if err != nil {
			return "", fmt.Errorf("failed to rerank context: %w", err)
		}
	}
	if len(ranked) > topN {
		ranked = ranked[:topN]
	}
	logging.Assembler("assembled context for session %s: %d candidates, %d kept",
		sessionID, len(candidates), len(ranked))

	return render(ranked, mostRecent(recent)), nil
}

// dedupeUnion merges the three candidate sources by exact string equality.
// Ordering within the union is discarded; the reranker decides order.
func dedupeUnion(recent, chatHits []string, codeHits []store.ChunkHit) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(s string) {
		if s == "" || seen[s] {
			return
		}
		seen[s] = true
		out = append(out, s)
	}
	for _, s := range recent {
		add(s)
	}
	for _, s := range chatHits {
		add(s)
	}
	for _, h := range codeHits {
		add(h.Content)
	}
	return out
}

func mostRecent(recent []string) string {
	if len(recent) == 0 {
		return ""
	}
	return recent[0]
}

// render produces the final string. With ranked context the blocks are
// joined under the separator and the latest chat is appended; without it
// only the prior chat line is emitted.
func render(ranked []string, priorChat string) string {
	if len(ranked) == 0 {
		return "prior_chat: " + priorChat
	}
	var b strings.Builder
	b.WriteString(Separator)
	b.WriteString(strings.Join(ranked, Separator))
	b.WriteString("\nprior_chat: ")
	b.WriteString(priorChat)
	return b.String()
}
