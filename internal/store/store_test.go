package store

import (
	"path/filepath"
	"testing"
	"time"

	"tandem/internal/types"
)

func newChatStore(t *testing.T) *ChatStore {
	t.Helper()
	s, err := NewChatStore(filepath.Join(t.TempDir(), "chats.db"))
	if err != nil {
		t.Fatalf("NewChatStore failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newPairStore(t *testing.T) *PairStore {
	t.Helper()
	s, err := NewPairStore(filepath.Join(t.TempDir(), "pair.db"))
	if err != nil {
		t.Fatalf("NewPairStore failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveChatTurnLinksVector(t *testing.T) {
	s := newChatStore(t)
	turn := &types.ChatTurn{
		UserID:                   "u1",
		SessionID:                "s1",
		Prompt:                   "how do I read a file",
		CompressedPromptResponse: "read file os.ReadFile",
		Response:                 "use os.ReadFile",
		RequestType:              "chat",
		Timestamp:                time.Now().Unix(),
	}
	if err := s.SaveChatTurn(turn, []float32{1, 0, 0}); err != nil {
		t.Fatalf("SaveChatTurn failed: %v", err)
	}
	if turn.ID == 0 || turn.VectorRowID == 0 {
		t.Errorf("ids not filled in: id=%d vec=%d", turn.ID, turn.VectorRowID)
	}
}

func TestFetchLastNChatsOrder(t *testing.T) {
	s := newChatStore(t)
	for i, txt := range []string{"first", "second", "third"} {
		turn := &types.ChatTurn{
			UserID: "u1", SessionID: "s1",
			Prompt: txt, CompressedPromptResponse: txt, Response: txt,
			RequestType: "chat", Timestamp: int64(1000 + i),
		}
		if err := s.SaveChatTurn(turn, []float32{float32(i), 1}); err != nil {
			t.Fatalf("SaveChatTurn failed: %v", err)
		}
	}
	// A different session must not leak in.
	other := &types.ChatTurn{UserID: "u1", SessionID: "s2", Prompt: "x",
		CompressedPromptResponse: "other", Response: "x", RequestType: "chat", Timestamp: 2000}
	if err := s.SaveChatTurn(other, []float32{9, 9}); err != nil {
		t.Fatalf("SaveChatTurn failed: %v", err)
	}

	got, err := s.FetchLastNChats("s1", 2)
	if err != nil {
		t.Fatalf("FetchLastNChats failed: %v", err)
	}
	if len(got) != 2 || got[0] != "third" || got[1] != "second" {
		t.Errorf("unexpected result: %v", got)
	}
}

func TestQueryNearestEmbeddingsRanksByDistance(t *testing.T) {
	s := newChatStore(t)
	vectors := map[string][]float32{
		"east":  {1, 0},
		"north": {0, 1},
		"mix":   {0.7, 0.7},
	}
	for name, vec := range vectors {
		turn := &types.ChatTurn{UserID: "u1", SessionID: "s-" + name, Prompt: name,
			CompressedPromptResponse: name, Response: name, RequestType: "chat", Timestamp: 1}
		if err := s.SaveChatTurn(turn, vec); err != nil {
			t.Fatalf("SaveChatTurn failed: %v", err)
		}
	}

	hits, err := s.QueryNearestEmbeddings([]float32{1, 0}, 3)
	if err != nil {
		t.Fatalf("QueryNearestEmbeddings failed: %v", err)
	}
	if len(hits) != 3 {
		t.Fatalf("expected 3 hits, got %d", len(hits))
	}
	if hits[0].Prompt != "east" {
		t.Errorf("closest hit should be east, got %q (dist %f)", hits[0].Prompt, hits[0].Distance)
	}
	if hits[2].Prompt != "north" {
		t.Errorf("farthest hit should be north, got %q", hits[2].Prompt)
	}
	// Global ranking: hits span sessions.
	if hits[0].SessionID != "s-east" {
		t.Errorf("session id not hydrated: %q", hits[0].SessionID)
	}
}

func TestParentContextRoundTrip(t *testing.T) {
	s := newChatStore(t)
	got, err := s.GetParentContext("u1", "s1", "/repo")
	if err != nil {
		t.Fatalf("GetParentContext failed: %v", err)
	}
	if got != nil {
		t.Fatal("expected nil for unknown path")
	}

	pc := &ParentContext{Path: "/repo", Filetype: "local_directory", Category: "code",
		LastIndexed: 111, UserID: "u1", SessionID: "s1"}
	if err := s.UpsertParentContext(pc); err != nil {
		t.Fatalf("UpsertParentContext failed: %v", err)
	}
	pc.LastIndexed = 222
	if err := s.UpsertParentContext(pc); err != nil {
		t.Fatalf("second upsert failed: %v", err)
	}

	got, err = s.GetParentContext("u1", "s1", "/repo")
	if err != nil {
		t.Fatalf("GetParentContext failed: %v", err)
	}
	if got == nil || got.LastIndexed != 222 {
		t.Errorf("upsert did not update: %+v", got)
	}
}

func TestDeleteChunksForPathsReturnsIDs(t *testing.T) {
	s := newChatStore(t)
	rows := []ChunkRow{
		{ChunkID: 101, SessionID: "s1", FilePath: "a.go", ChunkType: "function", Content: "func A() {}"},
		{ChunkID: 102, SessionID: "s1", FilePath: "a.go", ChunkType: "type", Content: "type A struct{}"},
		{ChunkID: 103, SessionID: "s1", FilePath: "b.go", ChunkType: "function", Content: "func B() {}"},
		{ChunkID: 104, SessionID: "s2", FilePath: "a.go", ChunkType: "function", Content: "func C() {}"},
	}
	if err := s.InsertChunks(rows); err != nil {
		t.Fatalf("InsertChunks failed: %v", err)
	}

	ids, err := s.DeleteChunksForPaths("s1", []string{"a.go"})
	if err != nil {
		t.Fatalf("DeleteChunksForPaths failed: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("expected 2 deleted ids, got %v", ids)
	}

	// b.go in s1 and a.go in s2 must survive.
	hits, err := s.GetChunksByIDs([]uint64{101, 102, 103, 104})
	if err != nil {
		t.Fatalf("GetChunksByIDs failed: %v", err)
	}
	if len(hits) != 2 {
		t.Errorf("expected 2 surviving chunks, got %d", len(hits))
	}
}

func TestGetChunksByIDsHydrates(t *testing.T) {
	s := newChatStore(t)
	if err := s.InsertChunks([]ChunkRow{{
		ChunkID: 7, SessionID: "s1", FilePath: "x.go", ChunkType: "function",
		Content: "func X() {}", CompressedContent: "func X", StartLine: 3, EndLine: 5,
	}}); err != nil {
		t.Fatalf("InsertChunks failed: %v", err)
	}
	hits, err := s.GetChunksByIDs([]uint64{7, 999})
	if err != nil {
		t.Fatalf("GetChunksByIDs failed: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("expected 1 hit, got %d", len(hits))
	}
	if hits[0].FilePath != "x.go" || hits[0].Content != "func X() {}" || hits[0].SessionID != "s1" {
		t.Errorf("bad hydration: %+v", hits[0])
	}
}

func planSession() *types.PairSession {
	return &types.PairSession{
		ID: "pp-1", UserID: "u1", SessionID: "s1", Task: "build a config loader",
		Steps: []types.Step{
			{StepNumber: 1, Heading: "create config", Tool: types.ToolEditFile, Action: "create"},
			{StepNumber: 2, Heading: "write script", Tool: types.ToolEditFile, Action: "create"},
			{StepNumber: 3, Heading: "run tests", Tool: types.ToolSystemCommand, Action: "run",
				Details: types.StepDetails{Command: "go test ./..."}},
		},
	}
}

func TestCreateSessionInitializesStepStates(t *testing.T) {
	s := newPairStore(t)
	if err := s.CreateSession(planSession()); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	sess, err := s.GetSession("pp-1")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if len(sess.Steps) != 3 {
		t.Fatalf("expected 3 steps, got %d", len(sess.Steps))
	}
	states, err := s.GetStepStates(sess)
	if err != nil {
		t.Fatalf("GetStepStates failed: %v", err)
	}
	for _, st := range states {
		if st.Executed || st.Response != "" || len(st.Chat) != 0 {
			t.Errorf("step %d not initialized cleanly: %+v", st.StepNumber, st)
		}
	}
}

func TestGetSessionNotFound(t *testing.T) {
	s := newPairStore(t)
	if _, err := s.GetSession("missing"); err != ErrSessionNotFound {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestMarkExecutedOverwritesResponse(t *testing.T) {
	s := newPairStore(t)
	if err := s.CreateSession(planSession()); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if err := s.MarkExecuted("pp-1", 1, "first run"); err != nil {
		t.Fatalf("MarkExecuted failed: %v", err)
	}
	if err := s.MarkExecuted("pp-1", 1, "second run"); err != nil {
		t.Fatalf("re-execute failed: %v", err)
	}
	st, err := s.GetStepState("pp-1", 1)
	if err != nil {
		t.Fatalf("GetStepState failed: %v", err)
	}
	if !st.Executed || st.Response != "second run" {
		t.Errorf("re-execution must overwrite: %+v", st)
	}

	// Other steps stay untouched.
	st2, _ := s.GetStepState("pp-1", 2)
	if st2.Executed {
		t.Error("step 2 must remain unexecuted")
	}
}

func TestAppendStepChatIsAppendOnly(t *testing.T) {
	s := newPairStore(t)
	if err := s.CreateSession(planSession()); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	entries := []types.ChatEntry{
		{Prompt: "use async instead", Response: "switched to async"},
		{Prompt: "add retries", Response: "added retries"},
	}
	for _, e := range entries {
		if err := s.AppendStepChat("pp-1", 2, e); err != nil {
			t.Fatalf("AppendStepChat failed: %v", err)
		}
	}

	st, err := s.GetStepState("pp-1", 2)
	if err != nil {
		t.Fatalf("GetStepState failed: %v", err)
	}
	if len(st.Chat) != 2 {
		t.Fatalf("expected 2 chat entries, got %d", len(st.Chat))
	}
	if st.Chat[0] != entries[0] || st.Chat[1] != entries[1] {
		t.Errorf("chat order not preserved: %+v", st.Chat)
	}
	if st.Executed {
		t.Error("chat must not touch executed flag")
	}
}

func TestEncodeDecodeVector(t *testing.T) {
	in := []float32{0.5, -1.25, 3}
	out, err := DecodeVector(EncodeVector(in))
	if err != nil {
		t.Fatalf("DecodeVector failed: %v", err)
	}
	for i := range in {
		if in[i] != out[i] {
			t.Errorf("round trip mismatch at %d: %f != %f", i, in[i], out[i])
		}
	}
	if _, err := DecodeVector([]byte{1, 2, 3}); err == nil {
		t.Error("expected error for truncated blob")
	}
}

func TestSettingsStore(t *testing.T) {
	s, err := NewSettingsStore(filepath.Join(t.TempDir(), "settings.db"))
	if err != nil {
		t.Fatalf("NewSettingsStore failed: %v", err)
	}
	defer s.Close()

	if v, err := s.Get("missing"); err != nil || v != "" {
		t.Errorf("unset key should return empty: %q %v", v, err)
	}
	if err := s.Set("mode", "local"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := s.Set("mode", "cloud"); err != nil {
		t.Fatalf("overwrite failed: %v", err)
	}
	if v, _ := s.Get("mode"); v != "cloud" {
		t.Errorf("expected cloud, got %q", v)
	}
}
