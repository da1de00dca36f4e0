package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"crypto-risk-intelligence/internal/domain/entity"
	"crypto-risk-intelligence/internal/domain/service"
	"crypto-risk-intelligence/internal/infrastructure/logger"
)

// BatchProcessor groups incoming transactions by size or time and hands
// each batch to a pool of workers
type BatchProcessor struct {
	indexer   service.IndexingService
	batchSize int
	interval  time.Duration
	workers   int
	logger    *logger.Logger
}

// NewBatchProcessor creates a batch processor
func NewBatchProcessor(indexer service.IndexingService, batchSize int, interval time.Duration, workers int, logger *logger.Logger) *BatchProcessor {
	if workers <= 0 {
		workers = 1
	}
	return &BatchProcessor{
		indexer:   indexer,
		batchSize: batchSize,
		interval:  interval,
		workers:   workers,
		logger:    logger.WithComponent("batch-processor"),
	}
}

// Run consumes in until it is closed or ctx is done. The pending partial
// batch is flushed on exit and Run returns once every worker has finished.
func (p *BatchProcessor) Run(ctx context.Context, in <-chan *entity.Transaction) {
	jobs := make(chan []*entity.Transaction, p.workers)
	var wg sync.WaitGroup

	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for batch := range jobs {
				// Batches already pulled off the stream are finished even
				// during shutdown.
				if err := p.indexer.ProcessTransactionBatch(context.WithoutCancel(ctx), batch); err != nil {
					p.logger.Error("Failed to process transaction batch",
						zap.Int("worker_id", workerID),
						zap.Int("batch_size", len(batch)),
						zap.Error(err))
				}
			}
		}(i)
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	batch := make([]*entity.Transaction, 0, p.batchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		jobs <- batch
		batch = make([]*entity.Transaction, 0, p.batchSize)
	}
	stop := func() {
		flush()
		close(jobs)
		wg.Wait()
	}

	for {
		select {
		case <-ctx.Done():
			stop()
			return

		case tx, ok := <-in:
			if !ok {
				stop()
				return
			}
			batch = append(batch, tx)
			if len(batch) >= p.batchSize {
				flush()
			}

		case <-ticker.C:
			flush()
		}
	}
}
