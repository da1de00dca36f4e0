package service

import (
	"context"

	"crypto-risk-intelligence/internal/domain/entity"
)

// IndexingService defines the interface for ingesting confirmed transactions
type IndexingService interface {
	// ProcessTransaction records one transaction and rescores its endpoints
	ProcessTransaction(ctx context.Context, tx *entity.Transaction) error

	// ProcessTransactionBatch records transactions in one store round trip,
	// then rescores every touched entity
	ProcessTransactionBatch(ctx context.Context, transactions []*entity.Transaction) error
}
