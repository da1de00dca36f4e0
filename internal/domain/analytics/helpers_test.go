package analytics

import (
	"fmt"
	"time"

	"crypto-risk-intelligence/internal/domain/entity"
)

var baseTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

var txSeq int

func edge(from, to string, ts time.Time) *entity.Edge {
	txSeq++
	return &entity.Edge{
		TxHash:    fmt.Sprintf("0x%064x", txSeq),
		From:      from,
		To:        to,
		Timestamp: ts,
		Value:     1,
	}
}

// pairs builds one edge per pair, all at baseTime
func pairs(p ...[2]string) []*entity.Edge {
	edges := make([]*entity.Edge, 0, len(p))
	for _, pr := range p {
		edges = append(edges, edge(pr[0], pr[1], baseTime))
	}
	return edges
}

func twoTriangles() []*entity.Edge {
	return pairs(
		[2]string{"a", "b"}, [2]string{"b", "c"}, [2]string{"a", "c"},
		[2]string{"c", "d"},
		[2]string{"d", "e"}, [2]string{"e", "f"}, [2]string{"d", "f"},
	)
}
