package port

import "legisrag/internal/domain"

type DiversityReranker interface {
	Rerank(hits []domain.SearchHit, k int) []domain.SearchHit
}
