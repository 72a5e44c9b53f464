package feed

import (
	"sort"

	"github.com/charlesng35/smallworld/internal/models"
)

// Less orders posts newest first with ties broken by ascending id.
func Less(a, b models.Post) bool {
	ac := models.NormalizeTime(a.CreatedAt)
	bc := models.NormalizeTime(b.CreatedAt)
	if !ac.Equal(bc) {
		return ac.After(bc)
	}
	return a.ID < b.ID
}

// Sort orders posts in feed order in place.
func Sort(posts []models.Post) {
	sort.SliceStable(posts, func(i, j int) bool { return Less(posts[i], posts[j]) })
}

// Merge combines independently sorted sources into one feed-ordered slice of at most limit posts,
// dropping duplicates by id. hasMore reports whether any source still held posts past the limit.
func Merge(limit int, sources ...[]models.Post) (merged []models.Post, hasMore bool) {
	total := 0
	for _, source := range sources {
		total += len(source)
	}
	all := make([]models.Post, 0, total)
	for _, source := range sources {
		all = append(all, source...)
	}
	Sort(all)

	seen := make(map[string]struct{}, len(all))
	merged = make([]models.Post, 0, min(limit, len(all)))
	for _, post := range all {
		if _, dup := seen[post.ID]; dup {
			continue
		}
		seen[post.ID] = struct{}{}
		if len(merged) == limit {
			return merged, true
		}
		merged = append(merged, post)
	}
	return merged, false
}
