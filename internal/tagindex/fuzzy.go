package tagindex

import (
	"slices"
	"strings"

	"github.com/junegunn/fzf/src/algo"
	"github.com/junegunn/fzf/src/util"

	"github.com/starford/raido/internal/digest"
)

func init() {
	// Selects fzf's default bonus scheme (word-boundary weighting).
	algo.Init("default")
}

// Match is one fuzzy search hit: an item and the score of its
// best-matching tag. Higher scores are better matches.
type Match struct {
	Digest digest.Digest
	Score  int
}

// SearchFuzzy ranks items by how well their tags match the query.
// Matching tolerates partial and out-of-order characters ("lndscp"
// matches "landscape"). Cost is proportional to the number of
// distinct tags times the query length, not the item count, so it
// stays interactive on large libraries. Items are deduplicated by
// best-scoring tag; ties break by most recent creation first, then by
// digest for determinism. limit <= 0 returns all matches.
func (ix *Index) SearchFuzzy(query string, limit int) []Match {
	pattern := []rune(strings.ToLower(strings.TrimSpace(query)))
	if len(pattern) == 0 {
		return nil
	}

	slab := util.MakeSlab(100*1024, 2048)
	best := make(map[digest.Digest]int)

	for t, digests := range ix.tagSets() {
		chars := util.ToChars([]byte(t))
		result, _ := algo.FuzzyMatchV2(false, true, true, &chars, pattern, false, slab)
		if result.Score <= 0 {
			continue
		}
		for _, d := range digests {
			if result.Score > best[d] {
				best[d] = result.Score
			}
		}
	}

	out := make([]Match, 0, len(best))
	for d, score := range best {
		out = append(out, Match{Digest: d, Score: score})
	}
	slices.SortFunc(out, func(a, b Match) int {
		if a.Score != b.Score {
			return b.Score - a.Score
		}
		ca, cb := ix.createdAt(a.Digest), ix.createdAt(b.Digest)
		if !ca.Equal(cb) {
			if ca.After(cb) {
				return -1
			}
			return 1
		}
		return strings.Compare(digest.Format(a.Digest), digest.Format(b.Digest))
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
