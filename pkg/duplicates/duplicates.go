// Package duplicates groups hashed file records into duplicate sets.
// Fingerprint equality is treated as content equality; the optional verify
// pass confirms it byte for byte for callers that want the guarantee.
package duplicates

import (
	"bytes"
	"io"
	"os"
	"sort"

	"github.com/paulschiretz/pgl-dedup/pkg/identitycache"
	"github.com/paulschiretz/pgl-dedup/pkg/plog"
)

// Set is one group of files with identical content.
type Set struct {
	Hash    string
	Size    int64
	Members []identitycache.FileRecord
}

// WastedBytes returns how many bytes the redundant copies of this set occupy.
func (s Set) WastedBytes() int64 {
	if len(s.Members) < 2 {
		return 0
	}
	return s.Size * int64(len(s.Members)-1)
}

// Spans reports whether the set contains members from both given sides.
func (s Set) Spans(a, b identitycache.Side) bool {
	var hasA, hasB bool
	for _, m := range s.Members {
		switch m.Side {
		case a:
			hasA = true
		case b:
			hasB = true
		}
	}
	return hasA && hasB
}

// SideMembers returns the members belonging to one side, preserving order.
func (s Set) SideMembers(side identitycache.Side) []identitycache.FileRecord {
	var out []identitycache.FileRecord
	for _, m := range s.Members {
		if m.Side == side {
			out = append(out, m)
		}
	}
	return out
}

// Group partitions hashed records by fingerprint and returns the groups with
// two or more members. Records without a fingerprint are ignored. The result
// is deterministic: members are sorted by path, sets by descending wasted
// bytes with the fingerprint as tiebreak.
func Group(records []identitycache.FileRecord) []Set {
	byHash := make(map[string][]identitycache.FileRecord)
	for _, rec := range records {
		if !rec.HasHash() {
			continue
		}
		byHash[rec.Hash] = append(byHash[rec.Hash], rec)
	}

	sets := make([]Set, 0)
	for hash, members := range byHash {
		if len(members) < 2 {
			continue
		}
		sort.Slice(members, func(i, j int) bool { return members[i].Path < members[j].Path })
		sets = append(sets, Set{Hash: hash, Size: members[0].Size, Members: members})
	}

	sort.Slice(sets, func(i, j int) bool {
		if sets[i].WastedBytes() != sets[j].WastedBytes() {
			return sets[i].WastedBytes() > sets[j].WastedBytes()
		}
		return sets[i].Hash < sets[j].Hash
	})
	return sets
}

// Verify re-reads the files of each set and splits groups whose members are
// not actually byte-identical. Fingerprint collisions are astronomically
// rare, so this is an opt-in pass for callers that cannot tolerate them.
// Unreadable members are dropped from their set with a warning.
func Verify(sets []Set, bufferSize int) []Set {
	if bufferSize < 1 {
		bufferSize = 256 * 1024
	}
	var out []Set
	for _, set := range sets {
		classes := splitByContent(set, bufferSize)
		for _, class := range classes {
			if len(class) < 2 {
				continue
			}
			out = append(out, Set{Hash: set.Hash, Size: set.Size, Members: class})
		}
	}
	return out
}

// splitByContent partitions the members of one set into byte-equal classes.
func splitByContent(set Set, bufferSize int) [][]identitycache.FileRecord {
	var classes [][]identitycache.FileRecord

memberLoop:
	for _, member := range set.Members {
		for i, class := range classes {
			equal, err := filesEqual(class[0].Path, member.Path, bufferSize)
			if err != nil {
				plog.Warn("Failed to verify duplicate", "path", member.Path, "error", err)
				continue memberLoop
			}
			if equal {
				classes[i] = append(classes[i], member)
				continue memberLoop
			}
		}
		classes = append(classes, []identitycache.FileRecord{member})
	}
	return classes
}

// filesEqual compares two files byte for byte.
func filesEqual(pathA, pathB string, bufferSize int) (bool, error) {
	fa, err := os.Open(pathA)
	if err != nil {
		return false, err
	}
	defer fa.Close()
	fb, err := os.Open(pathB)
	if err != nil {
		return false, err
	}
	defer fb.Close()

	bufA := make([]byte, bufferSize)
	bufB := make([]byte, bufferSize)
	for {
		na, errA := io.ReadFull(fa, bufA)
		nb, errB := io.ReadFull(fb, bufB)
		if na != nb || !bytes.Equal(bufA[:na], bufB[:nb]) {
			return false, nil
		}
		if errA == io.EOF || errA == io.ErrUnexpectedEOF {
			return errB == io.EOF || errB == io.ErrUnexpectedEOF, nil
		}
		if errA != nil {
			return false, errA
		}
		if errB != nil {
			return false, errB
		}
	}
}
