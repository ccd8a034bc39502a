package retriever

import (
	"legisrag/internal/domain"
)

// TermsFunc extracts the comparable terms of a passage.
type TermsFunc func(text string) []string

// MMRReranker implements Maximal Marginal Relevance for result diversification.
type MMRReranker struct {
	lambda       float64
	dedupJaccard float64
	terms        TermsFunc
}

// NewMMRReranker creates a new MMR reranker. Passage similarity is the
// Jaccard overlap of terms(text).
func NewMMRReranker(lambda, dedupJaccard float64, terms TermsFunc) *MMRReranker {
	return &MMRReranker{
		lambda:       lambda,
		dedupJaccard: dedupJaccard,
		terms:        terms,
	}
}

// Rerank applies MMR to diversify the results.
// MMR(c) = λ * relevance(c) - (1-λ) * max_similarity(c, selected)
func (r *MMRReranker) Rerank(candidates []domain.SearchHit, k int) []domain.SearchHit {
	if len(candidates) == 0 {
		return nil
	}

	if k > len(candidates) {
		k = len(candidates)
	}

	// Normalize scores to [0, 1] for fair comparison
	maxScore := candidates[0].Score
	for _, c := range candidates {
		if c.Score > maxScore {
			maxScore = c.Score
		}
	}
	if maxScore <= 0 {
		maxScore = 1
	}

	type candidate struct {
		hit   domain.SearchHit
		terms []string
	}
	remaining := make([]candidate, len(candidates))
	for i, c := range candidates {
		remaining[i] = candidate{hit: c, terms: r.terms(c.Text())}
	}

	selected := make([]candidate, 0, k)

	for len(selected) < k && len(remaining) > 0 {
		bestIdx := -1
		bestMMR := -1e9

		for i, cand := range remaining {
			relevance := cand.hit.Score / maxScore

			// Maximum similarity to already selected items
			maxSim := 0.0
			for _, sel := range selected {
				sim := jaccardSimilarity(cand.terms, sel.terms)
				if sim > maxSim {
					maxSim = sim
				}
			}

			// near-duplicates of a selected passage are dropped outright
			if len(selected) > 0 && maxSim > r.dedupJaccard {
				continue
			}

			mmr := r.lambda*relevance - (1-r.lambda)*maxSim
			if mmr > bestMMR {
				bestMMR = mmr
				bestIdx = i
			}
		}

		if bestIdx == -1 {
			// All remaining candidates are too similar, stop
			break
		}

		selected = append(selected, remaining[bestIdx])
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
	}

	out := make([]domain.SearchHit, len(selected))
	for i, s := range selected {
		out[i] = s.hit
	}
	return out
}

// jaccardSimilarity computes the Jaccard similarity between two token sets.
func jaccardSimilarity(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}

	setA := make(map[string]struct{}, len(a))
	for _, t := range a {
		setA[t] = struct{}{}
	}

	setB := make(map[string]struct{}, len(b))
	for _, t := range b {
		setB[t] = struct{}{}
	}

	intersection := 0
	for t := range setA {
		if _, exists := setB[t]; exists {
			intersection++
		}
	}

	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0.0
	}

	return float64(intersection) / float64(union)
}

// JaccardSimilarity is exported for testing.
func JaccardSimilarity(a, b []string) float64 {
	return jaccardSimilarity(a, b)
}
