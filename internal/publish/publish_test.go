package publish

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/inkwell-labs/inkwell/internal/apperr"
	"github.com/inkwell-labs/inkwell/internal/event"
	"github.com/inkwell-labs/inkwell/internal/store"
)

type fakeSubmitter struct {
	submitted []event.Visibility
	err       error
}

func (f *fakeSubmitter) Submit(ev event.Visibility) error {
	if f.err != nil {
		return f.err
	}
	f.submitted = append(f.submitted, ev)
	return nil
}

func (f *fakeSubmitter) Depths() (int, int) { return len(f.submitted), 0 }

func harness(t *testing.T) (*Coordinator, *store.DB, *fakeSubmitter) {
	t.Helper()
	db, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	sub := &fakeSubmitter{}
	return NewCoordinator(db, sub, nil), db, sub
}

func seedNote(t *testing.T, db *store.DB, body string) (store.Note, store.Collection) {
	t.Helper()
	col, err := db.CreateCollection("inbox", "")
	require.NoError(t, err)
	note, err := db.CreateNote("seed", nil)
	require.NoError(t, err)
	_, err = db.SaveDraft(note.ID, body, nil)
	require.NoError(t, err)
	return note, col
}

func TestPublishEmitsOneVisibilityEvent(t *testing.T) {
	c, db, sub := harness(t)
	note, col := seedNote(t, db, "hello world")

	resp, err := c.Publish(Request{
		NoteID: note.ID, Collections: []string{col.Name}, ClientToken: "tok-1",
	})
	require.NoError(t, err)
	require.Equal(t, StatusVersionCreated, resp.Status)
	require.False(t, resp.Reused)

	require.Len(t, sub.submitted, 1)
	ev := sub.submitted[0]
	require.Equal(t, resp.VersionID, ev.VersionID)
	require.Equal(t, event.OpPublish, ev.Op)
	require.Equal(t, []string{col.ID}, ev.Collections)

	// Replay: same outcome, nothing new submitted.
	again, err := c.Publish(Request{
		NoteID: note.ID, Collections: []string{col.Name}, ClientToken: "tok-1",
	})
	require.NoError(t, err)
	require.True(t, again.Reused)
	require.Equal(t, resp.VersionID, again.VersionID)
	require.Len(t, sub.submitted, 1)
}

func TestPublishValidation(t *testing.T) {
	c, db, _ := harness(t)
	note, col := seedNote(t, db, "hello")

	for name, req := range map[string]Request{
		"missing token":       {NoteID: note.ID, Collections: []string{col.Name}},
		"no collections":      {NoteID: note.ID, ClientToken: "t"},
		"unknown collections": {NoteID: note.ID, Collections: []string{"ghost"}, ClientToken: "t"},
		"bad label": {NoteID: note.ID, Collections: []string{col.Name},
			Label: "huge", ClientToken: "t"},
	} {
		_, err := c.Publish(req)
		require.True(t, apperr.Is(err, apperr.KindValidation), "%s: %v", name, err)
	}

	_, err := c.Publish(Request{
		NoteID: "note_missing", Collections: []string{col.Name}, ClientToken: "t",
	})
	require.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestPublishRequiresDraft(t *testing.T) {
	c, db, _ := harness(t)
	note, col := seedNote(t, db, "only once")

	_, err := c.Publish(Request{
		NoteID: note.ID, Collections: []string{col.Name}, ClientToken: "tok-1",
	})
	require.NoError(t, err)

	// The draft was consumed; publishing again needs a new one.
	_, err = c.Publish(Request{
		NoteID: note.ID, Collections: []string{col.Name}, ClientToken: "tok-2",
	})
	require.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestRollbackTargetsParent(t *testing.T) {
	c, db, sub := harness(t)
	note, col := seedNote(t, db, "Alpha")

	v1, err := c.Publish(Request{
		NoteID: note.ID, Collections: []string{col.Name}, ClientToken: "tok-1",
	})
	require.NoError(t, err)
	_, err = db.SaveDraft(note.ID, "Beta", nil)
	require.NoError(t, err)
	v2, err := c.Publish(Request{
		NoteID: note.ID, Collections: []string{col.Name}, ClientToken: "tok-2",
	})
	require.NoError(t, err)

	rb, err := c.Rollback(note.ID, v1.VersionID, "tok-3")
	require.NoError(t, err)
	require.NotEqual(t, v1.VersionID, rb.NewVersionID)
	require.NotEqual(t, v2.VersionID, rb.NewVersionID)

	v3, err := db.GetVersion(rb.NewVersionID)
	require.NoError(t, err)
	require.Equal(t, v1.VersionID, v3.ParentVersionID)
	require.Equal(t, store.LabelMajor, v3.Label)
	require.Equal(t, "Alpha", v3.BodyMD)

	require.Equal(t, event.OpRollback, sub.submitted[len(sub.submitted)-1].Op)

	// Cross-note target is rejected.
	other, err := db.CreateNote("other", nil)
	require.NoError(t, err)
	_, err = c.Rollback(other.ID, v1.VersionID, "tok-4")
	require.True(t, apperr.Is(err, apperr.KindValidation))
}
