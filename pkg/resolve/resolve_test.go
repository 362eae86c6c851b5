package resolve

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paulschiretz/pgl-dedup/pkg/duplicates"
	"github.com/paulschiretz/pgl-dedup/pkg/identitycache"
)

func member(path string, mtime int64) identitycache.FileRecord {
	return identitycache.FileRecord{
		Side:  identitycache.SideSource,
		Path:  path,
		Size:  100,
		Mtime: mtime,
		Hash:  "aaaa000000000000",
	}
}

func setOf(members ...identitycache.FileRecord) duplicates.Set {
	return duplicates.Set{Hash: "aaaa000000000000", Size: 100, Members: members}
}

func TestResolveDirectoryMarkerBeatsFilenameMarker(t *testing.T) {
	r := NewResolver("keep")
	d := r.Resolve(setOf(
		member("/data/photos-keep.bin", 1),
		member("/data/KEEP/photo.bin", 1),
	))
	assert.Equal(t, "/data/KEEP/photo.bin", d.Keep.Path)
	assert.Equal(t, []string{`keep marker "keep" in directory`}, d.Rationale)
	require.Len(t, d.Delete, 1)
	assert.Equal(t, "/data/photos-keep.bin", d.Delete[0].Path)
}

func TestResolveClosestDirectoryMarkerWins(t *testing.T) {
	r := NewResolver("keep")
	d := r.Resolve(setOf(
		member("/keep/deep/nested/a.bin", 1),
		member("/data/keep/a.bin", 1),
	))
	// The marker directly above the file beats the one three levels up.
	assert.Equal(t, "/data/keep/a.bin", d.Keep.Path)
}

func TestResolveFilenameMarkerBeatsNoMarker(t *testing.T) {
	r := NewResolver("keep")
	d := r.Resolve(setOf(
		member("/data/a.bin", 9),
		member("/data/a-keep.bin", 1),
	))
	assert.Equal(t, "/data/a-keep.bin", d.Keep.Path)
	assert.Equal(t, []string{`keep marker "keep" in filename`}, d.Rationale)
}

func TestResolveMarkerIsCaseInsensitive(t *testing.T) {
	r := NewResolver("KEEP")
	d := r.Resolve(setOf(
		member("/data/a.bin", 1),
		member("/data/Keep/a.bin", 1),
	))
	assert.Equal(t, "/data/Keep/a.bin", d.Keep.Path)
}

func TestResolveDepthTier(t *testing.T) {
	r := NewResolver("keep")
	d := r.Resolve(setOf(
		member("/data/a.bin", 9),
		member("/data/sorted/albums/a.bin", 1),
	))
	assert.Equal(t, "/data/sorted/albums/a.bin", d.Keep.Path)
	// Every evaluated tier leaves its outcome, in cascade order.
	assert.Equal(t, []string{"keep marker: none", "deepest path"}, d.Rationale)
}

func TestResolveRecencyTier(t *testing.T) {
	r := NewResolver("keep")
	d := r.Resolve(setOf(
		member("/data/old.bin", 100),
		member("/data/new.bin", 200),
	))
	assert.Equal(t, "/data/new.bin", d.Keep.Path)
	assert.Equal(t, []string{"keep marker: none", "depth tied", "newest modification time"}, d.Rationale)
}

func TestResolveFinalTiebreakIsPathOrder(t *testing.T) {
	r := NewResolver("keep")
	d := r.Resolve(setOf(
		member("/data/b.bin", 100),
		member("/data/a.bin", 100),
	))
	assert.Equal(t, "/data/a.bin", d.Keep.Path)
	assert.Equal(t, []string{"keep marker: none", "depth tied", "modification time tied", "first by path order"}, d.Rationale)
}

func TestResolveIsOrderIndependent(t *testing.T) {
	r := NewResolver("keep")
	a := member("/data/x/a.bin", 5)
	b := member("/data/y/b.bin", 7)
	c := member("/data/z/c.bin", 7)

	d1 := r.Resolve(setOf(a, b, c))
	d2 := r.Resolve(setOf(c, a, b))
	d3 := r.Resolve(setOf(b, c, a))

	assert.Equal(t, d1.Keep.Path, d2.Keep.Path)
	assert.Equal(t, d1.Keep.Path, d3.Keep.Path)
	assert.Equal(t, d1.Rationale, d2.Rationale)
}

func TestResolveEmptyMarkerDisablesTierOne(t *testing.T) {
	r := NewResolver("")
	d := r.Resolve(setOf(
		member("/data/keep/a.bin", 1),
		member("/data/deeper/nested/a.bin", 1),
	))
	assert.Equal(t, "/data/deeper/nested/a.bin", d.Keep.Path)
}

func TestResolveSingleMember(t *testing.T) {
	r := NewResolver("keep")
	d := r.Resolve(setOf(member("/data/a.bin", 1)))
	assert.Equal(t, "/data/a.bin", d.Keep.Path)
	assert.Empty(t, d.Delete)
}

func TestResolveAllPreservesSetOrder(t *testing.T) {
	r := NewResolver("keep")
	sets := []duplicates.Set{
		setOf(member("/a/1.bin", 1), member("/a/2.bin", 1)),
		setOf(member("/b/1.bin", 1), member("/b/2.bin", 1)),
	}
	decisions := r.ResolveAll(sets)
	require.Len(t, decisions, 2)
	assert.Equal(t, "/a/1.bin", decisions[0].Keep.Path)
	assert.Equal(t, "/b/1.bin", decisions[1].Keep.Path)
}

func TestResolveIgnoresMemberSides(t *testing.T) {
	r := NewResolver("keep")

	src := member("/src/a.bin", 9)
	dst := identitycache.FileRecord{Side: identitycache.SideDest, Path: "/dst/keep/a.bin", Size: 100, Mtime: 1, Hash: "aaaa000000000000"}

	// The marker tier outranks everything, even when the marked copy sits in
	// the other tree.
	d := r.Resolve(setOf(src, dst))
	assert.Equal(t, identitycache.SideDest, d.Keep.Side)
	assert.Equal(t, "/dst/keep/a.bin", d.Keep.Path)
	require.Len(t, d.Delete, 1)
	assert.Equal(t, "/src/a.bin", d.Delete[0].Path)
}

func TestResolveDeletesMaySpanSides(t *testing.T) {
	r := NewResolver("keep")

	src1 := member("/src/keep/a.bin", 1)
	src2 := member("/src/spare/a.bin", 1)
	dst := identitycache.FileRecord{Side: identitycache.SideDest, Path: "/dst/a.bin", Size: 100, Mtime: 1, Hash: "aaaa000000000000"}

	d := r.Resolve(setOf(dst, src1, src2))
	assert.Equal(t, "/src/keep/a.bin", d.Keep.Path)
	require.Len(t, d.Delete, 2)
	assert.Equal(t, "/dst/a.bin", d.Delete[0].Path)
	assert.Equal(t, "/src/spare/a.bin", d.Delete[1].Path)
}
