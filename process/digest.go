package process

import (
	"sort"

	"ewintr.nl/tubedigest/model"
)

// Assemble keeps the successful results, newest first. Videos published at
// the same time keep their input order.
func Assemble(results []model.VideoResult) []model.DigestEntry {
	entries := make([]model.DigestEntry, 0, len(results))
	for _, r := range results {
		if !r.OK() {
			continue
		}
		entries = append(entries, model.DigestEntry{
			Video:   r.Video,
			Summary: *r.Summary,
		})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Video.PublishedAt.After(entries[j].Video.PublishedAt)
	})

	return entries
}
