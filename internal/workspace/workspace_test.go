package workspace

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/inkwell-labs/inkwell/internal/apperr"
	"github.com/inkwell-labs/inkwell/internal/config"
	"github.com/inkwell-labs/inkwell/internal/event"
	"github.com/inkwell-labs/inkwell/internal/publish"
	"github.com/inkwell-labs/inkwell/internal/query"
	"github.com/inkwell-labs/inkwell/internal/store"
	"github.com/inkwell-labs/inkwell/internal/visibility"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Workspace.Path = t.TempDir()
	return cfg
}

func testWorkspace(t *testing.T) *Workspace {
	t.Helper()
	w, err := Open(testConfig(t), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })
	return w
}

// publishBody saves a draft and publishes it in one step.
func publishBody(t *testing.T, w *Workspace, noteID, body, clientToken string, cols ...string) publish.Response {
	t.Helper()
	if len(cols) == 0 {
		cols = []string{"inbox"}
	}
	_, err := w.SaveDraft(noteID, body, nil)
	require.NoError(t, err)
	resp, err := w.Publish(publish.Request{
		NoteID:      noteID,
		Collections: cols,
		ClientToken: clientToken,
	})
	require.NoError(t, err)
	return resp
}

func await(t *testing.T, w *Workspace, versionID string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := w.AwaitVisible(ctx, versionID)
	require.NoError(t, err)
}

func TestDraftPublishSearch(t *testing.T) {
	// Registered before testWorkspace so it runs after the workspace's
	// Close cleanup.
	t.Cleanup(func() { goleak.VerifyNone(t) })
	w := testWorkspace(t)

	_, err := w.CreateCollection("Research", "")
	require.NoError(t, err)
	note, err := w.CreateNote("Local-first notes", nil)
	require.NoError(t, err)

	body := "# Local-first notes\n\nDocuments stay under user control."
	_, err = w.SaveDraft(note.ID, body, nil)
	require.NoError(t, err)

	// Drafts are invisible to search.
	resp, err := w.Search(query.Request{Text: "user control"})
	require.NoError(t, err)
	require.Empty(t, resp.Results)
	require.Equal(t, query.ReasonInsufficientEvidence, resp.NoAnswerReason)

	pr, err := w.Publish(publish.Request{
		NoteID:      note.ID,
		Collections: []string{"Research"},
		ClientToken: "tok-s1",
	})
	require.NoError(t, err)
	require.Equal(t, publish.StatusVersionCreated, pr.Status)
	require.False(t, pr.Reused)
	require.Greater(t, pr.EstimatedSearchableIn, int64(0))
	await(t, w, pr.VersionID)

	resp, err = w.Search(query.Request{Text: "user control"})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	require.Equal(t, pr.VersionID, resp.Results[0].VersionID)
	require.Equal(t, "/local-first-notes", resp.Results[0].StructurePath)
	require.Contains(t, resp.Results[0].Snippet, "user control")

	require.NotNil(t, resp.Answer)
	require.Len(t, resp.Answer.Citations, 1)
	require.Equal(t, pr.VersionID, resp.Answer.Citations[0].VersionID)
	require.Equal(t, "/local-first-notes", resp.Answer.Citations[0].Anchor.StructurePath)

	// Publish consumed the draft.
	_, err = w.GetDraft(note.ID)
	require.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestRollbackCreatesNewHead(t *testing.T) {
	w := testWorkspace(t)
	_, err := w.CreateCollection("inbox", "")
	require.NoError(t, err)
	note, err := w.CreateNote("history", nil)
	require.NoError(t, err)

	v1 := publishBody(t, w, note.ID, "Alpha", "tok-1")
	await(t, w, v1.VersionID)
	v2 := publishBody(t, w, note.ID, "Beta", "tok-2")
	await(t, w, v2.VersionID)

	rb, err := w.Rollback(note.ID, v1.VersionID, "tok-3")
	require.NoError(t, err)
	require.Equal(t, v1.VersionID, rb.TargetVersionID)
	await(t, w, rb.NewVersionID)

	versions, total, err := w.ListVersions(note.ID, 0, 10)
	require.NoError(t, err)
	require.Equal(t, 3, total)
	require.Equal(t, []string{rb.NewVersionID, v2.VersionID, v1.VersionID},
		[]string{versions[0].ID, versions[1].ID, versions[2].ID})

	v3 := versions[0]
	require.Equal(t, v1.VersionID, v3.ParentVersionID, "rollback parent is the target, not the head")
	require.Equal(t, store.LabelMajor, v3.Label)
	require.Equal(t, "Alpha", v3.BodyMD)

	// The restored content is what search serves now.
	resp, err := w.Search(query.Request{Text: "alpha"})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	require.Equal(t, rb.NewVersionID, resp.Results[0].VersionID)
}

func TestPerNoteCommitOrder(t *testing.T) {
	w := testWorkspace(t)
	_, err := w.CreateCollection("inbox", "")
	require.NoError(t, err)
	note, err := w.CreateNote("ordered", nil)
	require.NoError(t, err)

	var ids []string
	for i := 0; i < 3; i++ {
		r := publishBody(t, w, note.ID, fmt.Sprintf("revision number %d", i), fmt.Sprintf("tok-%d", i))
		ids = append(ids, r.VersionID)
	}
	// Per-note FIFO: the last commit implies all earlier ones.
	await(t, w, ids[2])

	// ListEvents is newest first.
	envs, err := w.ListEvents(event.TypeIndexUpdateCommitted, 10)
	require.NoError(t, err)
	require.Len(t, envs, 3)
	var committed []string
	for i := len(envs) - 1; i >= 0; i-- {
		var p map[string]string
		require.NoError(t, json.Unmarshal(envs[i].Payload, &p))
		committed = append(committed, p["version_id"])
	}
	require.Equal(t, ids, committed)

	// Only the newest revision is in the corpus.
	resp, err := w.Search(query.Request{Text: "revision"})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	require.Equal(t, ids[2], resp.Results[0].VersionID)
}

func TestManyNotesAllBecomeSearchable(t *testing.T) {
	w := testWorkspace(t)
	_, err := w.CreateCollection("inbox", "")
	require.NoError(t, err)

	var versions []string
	for i := 0; i < 8; i++ {
		note, err := w.CreateNote(fmt.Sprintf("note %d", i), nil)
		require.NoError(t, err)
		r := publishBody(t, w, note.ID,
			fmt.Sprintf("shared corpus phrase, variant %d", i), fmt.Sprintf("tok-%d", i))
		versions = append(versions, r.VersionID)
	}
	for _, v := range versions {
		await(t, w, v)
	}

	resp, err := w.Search(query.Request{Text: "corpus phrase", PageSize: 20})
	require.NoError(t, err)
	require.Equal(t, 8, resp.TotalCount)
}

func TestAnchorSurvivesAndDriftsAcrossVersions(t *testing.T) {
	w := testWorkspace(t)
	_, err := w.CreateCollection("inbox", "")
	require.NoError(t, err)
	note, err := w.CreateNote("drifting", nil)
	require.NoError(t, err)

	v1 := publishBody(t, w, note.ID, "The moon landing happened in 1969 according to records.", "tok-1")
	await(t, w, v1.VersionID)

	resp, err := w.Search(query.Request{Text: "moon landing"})
	require.NoError(t, err)
	require.NotNil(t, resp.Answer)
	a := resp.Answer.Citations[0].Anchor

	// Against its own version the anchor resolves exactly.
	res, err := w.ResolveAnchor(v1.VersionID, a)
	require.NoError(t, err)
	require.True(t, res.Resolved)
	require.Contains(t, res.Text, "moon landing")

	// A rewrite that keeps the sentence re-anchors; a full rewrite does
	// not resolve.
	v2 := publishBody(t, w, note.ID,
		"Preface added. The moon landing happened in 1969 according to records.", "tok-2")
	await(t, w, v2.VersionID)
	res, err = w.ResolveAnchor(v2.VersionID, a)
	require.NoError(t, err)
	require.True(t, res.Resolved)
	require.True(t, res.Reanchored)

	v3 := publishBody(t, w, note.ID, "Entirely different content now.", "tok-3")
	await(t, w, v3.VersionID)
	res, err = w.ResolveAnchor(v3.VersionID, a)
	require.NoError(t, err)
	require.False(t, res.Resolved)
}

func TestPublishIdempotentReplay(t *testing.T) {
	w := testWorkspace(t)
	_, err := w.CreateCollection("inbox", "")
	require.NoError(t, err)
	note, err := w.CreateNote("once", nil)
	require.NoError(t, err)

	_, err = w.SaveDraft(note.ID, "publish me exactly once", nil)
	require.NoError(t, err)
	req := publish.Request{NoteID: note.ID, Collections: []string{"inbox"}, ClientToken: "tok-same"}

	first, err := w.Publish(req)
	require.NoError(t, err)
	await(t, w, first.VersionID)

	second, err := w.Publish(req)
	require.NoError(t, err)
	require.True(t, second.Reused)
	require.Equal(t, first.VersionID, second.VersionID)

	_, total, err := w.ListVersions(note.ID, 0, 10)
	require.NoError(t, err)
	require.Equal(t, 1, total)

	envs, err := w.ListEvents(event.TypeVisibilityEvent, 10)
	require.NoError(t, err)
	require.Len(t, envs, 1)
}

func TestPublishWithoutCollectionRejected(t *testing.T) {
	w := testWorkspace(t)
	note, err := w.CreateNote("uncollected", nil)
	require.NoError(t, err)
	_, err = w.SaveDraft(note.ID, "body", nil)
	require.NoError(t, err)

	_, err = w.Publish(publish.Request{NoteID: note.ID, ClientToken: "tok"})
	require.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = w.Publish(publish.Request{
		NoteID: note.ID, Collections: []string{"ghost"}, ClientToken: "tok",
	})
	require.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestDeleteNoteLeavesNoOrphans(t *testing.T) {
	w := testWorkspace(t)
	_, err := w.CreateCollection("inbox", "")
	require.NoError(t, err)
	note, err := w.CreateNote("doomed", nil)
	require.NoError(t, err)
	r := publishBody(t, w, note.ID, "a uniquely doomed phrase", "tok-1")
	await(t, w, r.VersionID)

	require.NoError(t, w.DeleteNote(note.ID))

	resp, err := w.Search(query.Request{Text: "doomed"})
	require.NoError(t, err)
	require.Empty(t, resp.Results)
	require.Zero(t, w.passages.Len())
}

func TestReopenRebuildsIndex(t *testing.T) {
	cfg := testConfig(t)
	w, err := Open(cfg, zap.NewNop())
	require.NoError(t, err)

	_, err = w.CreateCollection("inbox", "")
	require.NoError(t, err)
	note, err := w.CreateNote("durable", nil)
	require.NoError(t, err)
	r := publishBody(t, w, note.ID, "content that survives restarts", "tok-1")
	await(t, w, r.VersionID)
	require.NoError(t, w.Close())

	w, err = Open(cfg, zap.NewNop())
	require.NoError(t, err)
	defer w.Close()

	resp, err := w.Search(query.Request{Text: "survives restarts"})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	require.Equal(t, r.VersionID, resp.Results[0].VersionID)

	// The scheduler never saw this version, but the corpus did.
	st, err := w.VisibilityStatus(r.VersionID)
	require.NoError(t, err)
	require.Equal(t, visibility.StageCommitted, st.Stage)
}

func TestWorkspaceStatus(t *testing.T) {
	w := testWorkspace(t)
	_, err := w.CreateCollection("inbox", "")
	require.NoError(t, err)
	note, err := w.CreateNote("counted", nil)
	require.NoError(t, err)
	r := publishBody(t, w, note.ID, "some counted content", "tok-1")
	await(t, w, r.VersionID)

	st, err := w.Status()
	require.NoError(t, err)
	require.Equal(t, 1, st.Stats.Notes)
	require.Equal(t, 1, st.Stats.Versions)
	require.Equal(t, 1, st.Passages)
	require.GreaterOrEqual(t, st.IndexGeneration, uint64(2), "bootstrap plus one commit")
}

func TestSecondWorkspaceLockedOut(t *testing.T) {
	cfg := testConfig(t)
	w, err := Open(cfg, zap.NewNop())
	require.NoError(t, err)
	defer w.Close()

	_, err = Open(cfg, zap.NewNop())
	require.True(t, apperr.Is(err, apperr.KindConflict), "got %v", err)
}

func TestSearchScopedToCollections(t *testing.T) {
	w := testWorkspace(t)
	_, err := w.CreateCollection("work", "")
	require.NoError(t, err)
	_, err = w.CreateCollection("personal", "")
	require.NoError(t, err)

	workNote, err := w.CreateNote("work note", nil)
	require.NoError(t, err)
	persNote, err := w.CreateNote("personal note", nil)
	require.NoError(t, err)

	r1 := publishBody(t, w, workNote.ID, "quarterly planning shared theme", "tok-1", "work")
	r2 := publishBody(t, w, persNote.ID, "garden planning shared theme", "tok-2", "personal")
	await(t, w, r1.VersionID)
	await(t, w, r2.VersionID)

	resp, err := w.Search(query.Request{Text: "planning theme", Collections: []string{"work"}})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	require.Equal(t, r1.VersionID, resp.Results[0].VersionID)

	all, err := w.Search(query.Request{Text: "planning theme"})
	require.NoError(t, err)
	require.Equal(t, 2, all.TotalCount)
}

func TestLongNoteChunksAndStaysCited(t *testing.T) {
	w := testWorkspace(t)
	_, err := w.CreateCollection("inbox", "")
	require.NoError(t, err)
	note, err := w.CreateNote("long", nil)
	require.NoError(t, err)

	var sb strings.Builder
	sb.WriteString("# Long document\n\n")
	for i := 0; i < 120; i++ {
		fmt.Fprintf(&sb, "Sentence %d pads the body with ordinary filler words. ", i)
	}
	sb.WriteString("The needle hides near the end of the document.")

	r := publishBody(t, w, note.ID, sb.String(), "tok-1")
	await(t, w, r.VersionID)

	resp, err := w.Search(query.Request{Text: "needle hides"})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)
	require.NotNil(t, resp.Answer)
	require.Equal(t, r.VersionID, resp.Answer.Citations[0].VersionID)

	res, err := w.ResolveAnchor(r.VersionID, resp.Answer.Citations[0].Anchor)
	require.NoError(t, err)
	require.True(t, res.Resolved)
	require.Contains(t, res.Text, "needle")
}
