package loader

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func fixture(t *testing.T) []Source {
	t.Helper()
	root := t.TempDir()
	core := filepath.Join(root, "Core")
	mod := filepath.Join(root, "GunMod")
	writeFile(t, filepath.Join(core, "Defs", "ThingDefs", "B_Weapons.xml"),
		`<Defs><ThingDef><defName>Gun_B</defName></ThingDef></Defs>`)
	writeFile(t, filepath.Join(core, "Defs", "A_Races.xml"),
		`<?xml version="1.0" encoding="utf-8"?>
<Defs>
  <!-- races -->
  <ThingDef><defName>Human</defName></ThingDef>
  <PawnKindDef><defName>Colonist</defName></PawnKindDef>
</Defs>`)
	writeFile(t, filepath.Join(core, "Defs", "notes.txt"), "not xml")
	writeFile(t, filepath.Join(mod, "Defs", "Guns.XML"),
		`<Defs><ThingDef><defName>Gun_Mod</defName></ThingDef></Defs>`)
	writeFile(t, filepath.Join(mod, "Defs", "Broken.xml"), `<Defs><ThingDef></Defs>`)
	return []Source{{Name: "Core", Dir: core}, {Name: "GunMod", Dir: mod}, {Name: "Empty", Dir: filepath.Join(root, "Empty")}}
}

func defNames(t *testing.T, l *Loader, sources []Source) []string {
	t.Helper()
	doc, err := l.Load(context.Background(), sources)
	require.NoError(t, err)
	nodes, err := doc.Select("/Defs/*/defName")
	require.NoError(t, err)
	var out []string
	for _, n := range nodes {
		out = append(out, n.InnerText())
	}
	return out
}

func TestLoadMergesInSourceAndPathOrder(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	l := &Loader{Logger: zap.New(core), Concurrency: 2}
	names := defNames(t, l, fixture(t))
	assert.Equal(t, []string{"Human", "Colonist", "Gun_B", "Gun_Mod"}, names)

	warnings := logs.FilterMessage("skipping definition file").All()
	require.Len(t, warnings, 1)
	assert.Equal(t, "GunMod", warnings[0].ContextMap()["source"])
}

func TestLoadStats(t *testing.T) {
	l := &Loader{}
	doc, stats, err := l.LoadWithStats(context.Background(), fixture(t))
	require.NoError(t, err)
	assert.Equal(t, Stats{Files: 4, Skipped: 1, Nodes: 4}, stats)
	assert.Equal(t, RootName, doc.DocumentElement().Name)
	assert.Equal(t, 9, doc.Count())
}

func TestLoadStrictFailsWithoutDocument(t *testing.T) {
	l := &Loader{Strict: true}
	doc, err := l.Load(context.Background(), fixture(t))
	require.Error(t, err)
	assert.Nil(t, doc)
	var ferr *FileError
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, "GunMod", ferr.Source)
	assert.Equal(t, "Broken.xml", filepath.Base(ferr.Path))
}

func TestLoadNoSources(t *testing.T) {
	_, err := (&Loader{}).Load(context.Background(), nil)
	require.ErrorIs(t, err, ErrNoSources)
}

func TestLoadCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	doc, err := (&Loader{}).Load(ctx, fixture(t))
	require.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, doc)
}

func TestLoadKeepsComments(t *testing.T) {
	l := &Loader{}
	l.Parse.KeepComments = true
	doc, err := l.Load(context.Background(), fixture(t))
	require.NoError(t, err)
	comments, err := doc.Select("/Defs/comment()")
	require.NoError(t, err)
	assert.Len(t, comments, 1)
}

func TestSourcesFromDirs(t *testing.T) {
	got := SourcesFromDirs("/games/RimWorld/Data/Core/", "mods/GunMod")
	assert.Equal(t, []Source{
		{Name: "Core", Dir: "/games/RimWorld/Data/Core/"},
		{Name: "GunMod", Dir: "mods/GunMod"},
	}, got)
}
