package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlas-foundry/xpatch-go/loader"
	"github.com/atlas-foundry/xpatch-go/patch"
	"github.com/atlas-foundry/xpatch-go/profile"
	"github.com/atlas-foundry/xpatch-go/task"
	"github.com/atlas-foundry/xpatch-go/xmldoc"
)

const defs = `<Defs>
  <ThingDef Name="BaseGun" Abstract="True"><thingClass>ThingWithComps</thingClass></ThingDef>
  <ThingDef ParentName="BaseGun"><defName>Gun_Revolver</defName><label>revolver</label></ThingDef>
</Defs>`

// stubLoader returns doc or err, optionally blocking until release is closed.
type stubLoader struct {
	doc     *xmldoc.Document
	err     error
	release chan struct{}
}

func (l *stubLoader) Load(ctx context.Context, _ []loader.Source) (*xmldoc.Document, error) {
	if l.release != nil {
		select {
		case <-l.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if l.err != nil {
		return nil, l.err
	}
	return l.doc.Clone(), nil
}

func parse(t *testing.T) *xmldoc.Document {
	t.Helper()
	doc, err := xmldoc.ParseString(defs)
	require.NoError(t, err)
	return doc
}

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func ready(t *testing.T) *Session {
	t.Helper()
	s := New(Config{Loader: &stubLoader{doc: parse(t)}})
	_, err := s.Regenerate(context.Background(), nil, nil)
	require.NoError(t, err)
	require.NoError(t, s.Wait(waitCtx(t)))
	require.True(t, s.Ready())
	return s
}

func TestNotReadyBeforeLoad(t *testing.T) {
	s := New(Config{Loader: &stubLoader{doc: parse(t)}})
	assert.False(t, s.Ready())
	_, err := s.Query("//ThingDef")
	assert.ErrorIs(t, err, ErrNotReady)
	_, err = s.Simulate()
	assert.ErrorIs(t, err, ErrNotReady)
	_, err = s.ProfileAsync(context.Background(), "//ThingDef", profile.DefaultOptions(), nil, nil)
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestRegenerateGuardsConcurrentLoads(t *testing.T) {
	stub := &stubLoader{doc: parse(t), release: make(chan struct{})}
	s := New(Config{Loader: stub})
	loaded := make(chan *xmldoc.Document, 1)
	_, err := s.Regenerate(context.Background(), func(d *xmldoc.Document) { loaded <- d }, nil)
	require.NoError(t, err)

	assert.True(t, s.Regenerating())
	assert.False(t, s.Ready())
	_, err = s.Regenerate(context.Background(), nil, nil)
	assert.ErrorIs(t, err, task.ErrBusy)
	_, err = s.Query("//ThingDef")
	assert.ErrorIs(t, err, ErrNotReady)

	close(stub.release)
	require.NoError(t, s.Wait(waitCtx(t)))
	assert.NotNil(t, <-loaded)
	assert.True(t, s.Ready())
}

func TestFailedRegenerationWithdrawsDocument(t *testing.T) {
	stub := &stubLoader{doc: parse(t)}
	s := New(Config{Loader: stub})
	_, err := s.Regenerate(context.Background(), nil, nil)
	require.NoError(t, err)
	require.NoError(t, s.Wait(waitCtx(t)))
	require.True(t, s.Ready())

	boom := errors.New("disk gone")
	stub.err = boom
	errs := make(chan error, 1)
	_, err = s.Regenerate(context.Background(), nil, func(err error) { errs <- err })
	require.NoError(t, err)
	require.NoError(t, s.Wait(waitCtx(t)))

	assert.ErrorIs(t, <-errs, boom)
	assert.False(t, s.Ready())
	assert.ErrorIs(t, s.LoadError(), boom)
	_, err = s.Document()
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestRegenerationOutcomeVisibleOnceIdle(t *testing.T) {
	stub := &stubLoader{doc: parse(t)}
	s := New(Config{Loader: stub})
	old := parse(t)
	s.Publish(old)

	boom := errors.New("disk gone")
	stub.err = boom
	hold := make(chan struct{})
	_, err := s.Regenerate(context.Background(), nil, func(error) { <-hold })
	require.NoError(t, err)

	require.Eventually(t, func() bool { return !s.Regenerating() }, 5*time.Second, time.Millisecond)
	assert.False(t, s.Ready(), "a failed load is withdrawn before the slot goes idle")
	_, err = s.Document()
	assert.ErrorIs(t, err, ErrNotReady)
	assert.ErrorIs(t, s.LoadError(), boom)
	close(hold)
	require.NoError(t, s.Wait(waitCtx(t)))

	stub.err = nil
	hold = make(chan struct{})
	_, err = s.Regenerate(context.Background(), func(*xmldoc.Document) { <-hold }, nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return !s.Regenerating() }, 5*time.Second, time.Millisecond)
	doc, err := s.Document()
	require.NoError(t, err)
	assert.NotSame(t, old, doc)
	assert.NoError(t, s.LoadError())
	close(hold)
	require.NoError(t, s.Wait(waitCtx(t)))
}

func TestSetFieldAndSimulateConcurrently(t *testing.T) {
	s := ready(t)
	require.NoError(t, s.SelectKind(patch.KindAttributeSet))
	require.NoError(t, s.SetFieldText("xpath", `/Defs/ThingDef[defName="Gun_Revolver"]`))
	require.NoError(t, s.SetFieldText("attribute", "ParentName"))

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			if err := s.SetFieldText("value", "BaseWeapon"); err != nil {
				t.Errorf("set value: %v", err)
				return
			}
		}
	}()
	for i := 0; i < 50; i++ {
		_, err := s.Simulate()
		require.NoError(t, err)
	}
	<-done
	res, err := s.Simulate()
	require.NoError(t, err)
	assert.Contains(t, res.After, `ParentName="BaseWeapon"`)
}

func TestQueryRendersMatches(t *testing.T) {
	s := ready(t)
	res, err := s.Query(`//ThingDef[defName="Gun_Revolver"]/label`)
	require.NoError(t, err)
	require.Len(t, res.Matches, 1)
	assert.Equal(t, "<label>revolver</label>\n", res.Summary)
	assert.False(t, res.Truncated)

	last, ok := s.LastQuery()
	require.True(t, ok)
	assert.Equal(t, res.Query, last.Query)

	_, err = s.Query("//ThingDef[")
	assert.ErrorIs(t, err, xmldoc.ErrInvalidQuery)
}

func TestSelectKindAndSetField(t *testing.T) {
	s := ready(t)
	assert.Nil(t, s.Operation())
	assert.ErrorIs(t, s.SetFieldText("xpath", "//a"), ErrNoOperation)
	assert.Equal(t, patch.DefaultRegistry.Kinds(), s.Kinds())

	require.ErrorIs(t, s.SelectKind("PatchOperationNope"), patch.ErrUnknownKind)
	require.NoError(t, s.SelectKind(patch.KindAttributeAdd))
	require.NoError(t, s.SetFieldText("xpath", `/Defs/ThingDef[defName="Gun_Revolver"]`))

	last, ok := s.LastQuery()
	require.True(t, ok, "setting xpath re-runs the query")
	assert.Len(t, last.Matches, 1)

	err := s.SetFieldText("bogus", "x")
	assert.ErrorIs(t, err, patch.ErrUnknownField)
	err = s.SetFieldText("success", "Sometimes")
	assert.ErrorIs(t, err, patch.ErrInvalidValue)

	require.NoError(t, s.SelectKind(patch.KindRemove))
	require.NoError(t, s.SelectKind(patch.KindAttributeAdd))
	v, err := s.Operation().Get("xpath")
	require.NoError(t, err)
	assert.Equal(t, `/Defs/ThingDef[defName="Gun_Revolver"]`, v.Text(), "field values survive reselection")
}

func TestSimulateStagedOperation(t *testing.T) {
	s := ready(t)
	_, err := s.Simulate()
	require.ErrorIs(t, err, ErrNoOperation)

	require.NoError(t, s.SelectKind(patch.KindAttributeSet))
	require.NoError(t, s.SetFieldText("xpath", `/Defs/ThingDef[defName="Gun_Revolver"]`))
	require.NoError(t, s.SetFieldText("attribute", "ParentName"))
	require.NoError(t, s.SetFieldText("value", "BaseWeapon"))

	res, err := s.Simulate()
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.True(t, res.Changed())
	assert.Contains(t, res.After, `ParentName="BaseWeapon"`)

	doc, err := s.Document()
	require.NoError(t, err)
	assert.NotContains(t, doc.String(), "BaseWeapon", "live document is never mutated")
}

func TestProfileAsyncRecordsHistory(t *testing.T) {
	store, err := profile.OpenStore(":memory:")
	require.NoError(t, err)
	defer store.Close()

	s := New(Config{Loader: &stubLoader{doc: parse(t)}, History: store})
	_, err = s.Regenerate(context.Background(), nil, nil)
	require.NoError(t, err)
	require.NoError(t, s.Wait(waitCtx(t)))

	_, err = s.ProfileAsync(context.Background(), "//ThingDef[", profile.DefaultOptions(), nil, nil)
	require.ErrorIs(t, err, xmldoc.ErrInvalidQuery)

	results := make(chan profile.Result, 1)
	_, err = s.ProfileAsync(context.Background(), "//ThingDef", profile.Options{SampleSize: 5}, func(r profile.Result) { results <- r }, nil)
	require.NoError(t, err)
	require.NoError(t, s.Wait(waitCtx(t)))
	res := <-results
	assert.Equal(t, 5, res.SamplesRun)
	assert.Equal(t, 2, res.MatchCount)
	assert.False(t, s.Profiling())

	runs, err := store.Recent(context.Background(), "//ThingDef", 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, 5, runs[0].SamplesRun)
}

func TestWatcherRegeneratesOnChange(t *testing.T) {
	dir := t.TempDir()
	defsDir := filepath.Join(dir, "Defs")
	require.NoError(t, os.MkdirAll(filepath.Join(defsDir, "Sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(defsDir, "A.xml"), []byte(`<Defs><ThingDef><defName>A</defName></ThingDef></Defs>`), 0o644))

	s := New(Config{Sources: []loader.Source{{Name: "Mod", Dir: dir}}})
	w, err := NewWatcher(s, 20*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 2, w.Dirs())

	reloads := make(chan *xmldoc.Document, 4)
	w.OnReload = func(doc *xmldoc.Document, err error) {
		if err != nil {
			return
		}
		select {
		case reloads <- doc:
		default:
		}
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	tmp := filepath.Join(defsDir, "Sub", "B.tmp")
	require.NoError(t, os.WriteFile(tmp, []byte(`<Defs><ThingDef><defName>B</defName></ThingDef></Defs>`), 0o644))
	require.NoError(t, os.Rename(tmp, filepath.Join(defsDir, "Sub", "B.xml")))
	require.NoError(t, os.WriteFile(filepath.Join(defsDir, "notes.txt"), []byte("ignored"), 0o644))

	deadline := time.After(5 * time.Second)
	for found := false; !found; {
		select {
		case doc := <-reloads:
			nodes, err := doc.Select("/Defs/ThingDef/defName")
			require.NoError(t, err)
			found = len(nodes) == 2
		case <-deadline:
			t.Fatal("no regeneration picked up the new file")
		}
	}
	require.NoError(t, s.Wait(waitCtx(t)))
	assert.True(t, s.Ready())

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
