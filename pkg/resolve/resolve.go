// Package resolve decides which member of a duplicate set survives. The
// policy is a fixed cascade: an explicit keep marker in the path wins, then
// the more deeply nested copy, then the most recently modified one. Members
// are always ordered by path first, so the outcome is reproducible across
// runs and platforms regardless of enumeration order.
package resolve

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/paulschiretz/pgl-dedup/pkg/duplicates"
	"github.com/paulschiretz/pgl-dedup/pkg/identitycache"
	"github.com/paulschiretz/pgl-dedup/pkg/util"
)

// Decision names the surviving member of a duplicate set and the redundant
// copies to remove. Rationale records the outcome of every tier evaluated on
// the way to the keeper, in cascade order.
type Decision struct {
	Keep      identitycache.FileRecord
	Delete    []identitycache.FileRecord
	Rationale []string
}

// Resolver applies the keep policy. The marker token is matched
// case-insensitively as a substring of path components; an empty marker
// disables the marker tier.
type Resolver struct {
	marker string
}

func NewResolver(marker string) *Resolver {
	return &Resolver{marker: strings.ToLower(strings.TrimSpace(marker))}
}

// markerKind classifies where in a path the keep marker was found.
type markerKind int

const (
	markerNone markerKind = iota
	markerFilename
	markerDirectory
)

// markerScore is the tier-1 ranking of one member. For directory markers,
// distance counts the components between the marked directory and the file;
// the marker closest to the file wins.
type markerScore struct {
	kind     markerKind
	distance int
}

func (r *Resolver) scoreMarker(path string) markerScore {
	if r.marker == "" {
		return markerScore{kind: markerNone}
	}
	cleaned := filepath.Clean(path)
	dir, file := filepath.Split(cleaned)

	components := strings.FieldsFunc(dir, func(c rune) bool {
		return c == '/' || c == '\\'
	})
	// Walk directory components from the file outwards.
	for i := len(components) - 1; i >= 0; i-- {
		if strings.Contains(strings.ToLower(components[i]), r.marker) {
			return markerScore{kind: markerDirectory, distance: len(components) - 1 - i}
		}
	}
	if strings.Contains(strings.ToLower(file), r.marker) {
		return markerScore{kind: markerFilename}
	}
	return markerScore{kind: markerNone}
}

// better reports whether a beats b in the marker tier.
func (a markerScore) better(b markerScore) bool {
	if a.kind != b.kind {
		return a.kind > b.kind
	}
	if a.kind == markerDirectory {
		return a.distance < b.distance
	}
	return false
}

// Resolve picks the keeper of one duplicate set. Sets with fewer than two
// members yield a keep-only decision.
func (r *Resolver) Resolve(set duplicates.Set) Decision {
	members := make([]identitycache.FileRecord, len(set.Members))
	copy(members, set.Members)
	// Sorting is not cosmetic: every later tier breaks its final tie by
	// input position, so the input order must itself be deterministic.
	sort.Slice(members, func(i, j int) bool { return members[i].Path < members[j].Path })

	if len(members) < 2 {
		var keep identitycache.FileRecord
		if len(members) == 1 {
			keep = members[0]
		}
		return Decision{Keep: keep, Rationale: []string{"no redundant copies"}}
	}

	keep, rationale := r.pickKeeper(members)

	deletes := make([]identitycache.FileRecord, 0, len(members)-1)
	for _, m := range members {
		if m.Path != keep.Path || m.Side != keep.Side {
			deletes = append(deletes, m)
		}
	}
	return Decision{Keep: keep, Delete: deletes, Rationale: rationale}
}

// pickKeeper runs the tier cascade over path-sorted members.
func (r *Resolver) pickKeeper(members []identitycache.FileRecord) (identitycache.FileRecord, []string) {
	candidates := members
	var rationale []string

	// Tier 1: keep marker. A marker in a directory component outranks one in
	// the filename; among directory markers the one closest to the file wins.
	if r.marker != "" {
		best := r.scoreMarker(candidates[0].Path)
		for _, m := range candidates[1:] {
			if s := r.scoreMarker(m.Path); s.better(best) {
				best = s
			}
		}
		if best.kind == markerNone {
			rationale = append(rationale, "keep marker: none")
		} else {
			var tied []identitycache.FileRecord
			for _, m := range candidates {
				s := r.scoreMarker(m.Path)
				if s.kind == best.kind && (s.kind != markerDirectory || s.distance == best.distance) {
					tied = append(tied, m)
				}
			}
			candidates = tied
			where := "filename"
			if best.kind == markerDirectory {
				where = "directory"
			}
			if len(candidates) == 1 {
				return candidates[0], append(rationale, fmt.Sprintf("keep marker %q in %s", r.marker, where))
			}
			rationale = append(rationale, fmt.Sprintf("keep marker %q in %s tied", r.marker, where))
		}
	}

	// Tier 2: depth. The deeper copy is assumed to be the deliberately
	// organized one.
	maxDepth := util.PathDepth(candidates[0].Path)
	for _, m := range candidates[1:] {
		if d := util.PathDepth(m.Path); d > maxDepth {
			maxDepth = d
		}
	}
	var tied []identitycache.FileRecord
	for _, m := range candidates {
		if util.PathDepth(m.Path) == maxDepth {
			tied = append(tied, m)
		}
	}
	candidates = tied
	if len(candidates) == 1 {
		return candidates[0], append(rationale, "deepest path")
	}
	rationale = append(rationale, "depth tied")

	// Tier 3: recency.
	maxMtime := candidates[0].Mtime
	for _, m := range candidates[1:] {
		if m.Mtime > maxMtime {
			maxMtime = m.Mtime
		}
	}
	tied = nil
	for _, m := range candidates {
		if m.Mtime == maxMtime {
			tied = append(tied, m)
		}
	}
	candidates = tied
	if len(candidates) == 1 {
		return candidates[0], append(rationale, "newest modification time")
	}
	rationale = append(rationale, "modification time tied")

	// Final tiebreak: first in (path-sorted) input order.
	return candidates[0], append(rationale, "first by path order")
}

// ResolveAll resolves every set, preserving set order. The cascade never
// looks at a member's side, so sets spanning two trees resolve exactly like
// single-tree ones.
func (r *Resolver) ResolveAll(sets []duplicates.Set) []Decision {
	decisions := make([]Decision, 0, len(sets))
	for _, set := range sets {
		decisions = append(decisions, r.Resolve(set))
	}
	return decisions
}
