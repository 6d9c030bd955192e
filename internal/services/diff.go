package services

import "sort"

// FolderDiff partitions a folder's current remote listing against what was
// indexed last build. Slices are sorted for stable logs and tests.
type FolderDiff struct {
	Added     []string
	Removed   []string
	Unchanged []string
}

// DiffVideoIDs compares two id sets. Duplicates within either input are
// collapsed; order of the inputs does not matter.
func DiffVideoIDs(remote, indexed []string) FolderDiff {
	remoteSet := make(map[string]struct{}, len(remote))
	for _, id := range remote {
		if id != "" {
			remoteSet[id] = struct{}{}
		}
	}
	indexedSet := make(map[string]struct{}, len(indexed))
	for _, id := range indexed {
		if id != "" {
			indexedSet[id] = struct{}{}
		}
	}

	var diff FolderDiff
	for id := range remoteSet {
		if _, ok := indexedSet[id]; ok {
			diff.Unchanged = append(diff.Unchanged, id)
		} else {
			diff.Added = append(diff.Added, id)
		}
	}
	for id := range indexedSet {
		if _, ok := remoteSet[id]; !ok {
			diff.Removed = append(diff.Removed, id)
		}
	}

	sort.Strings(diff.Added)
	sort.Strings(diff.Removed)
	sort.Strings(diff.Unchanged)
	return diff
}
