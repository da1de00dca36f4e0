package service

import (
	"fmt"
	"time"

	"crypto-risk-intelligence/internal/domain/entity"
	"crypto-risk-intelligence/internal/infrastructure/database"
	"crypto-risk-intelligence/internal/infrastructure/logger"
)

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func addr(n int) string {
	return fmt.Sprintf("0x%040x", n)
}

func walletID(n int) string {
	return entity.Key(entity.DefaultChain, addr(n))
}

func hash(n int) string {
	return fmt.Sprintf("0x%064x", n)
}

var txCounter int

func transfer(from, to int, at time.Time, value string) *entity.Transaction {
	txCounter++
	return &entity.Transaction{
		Hash:      hash(txCounter),
		From:      addr(from),
		To:        addr(to),
		Value:     value,
		GasPrice:  "20000000000",
		Timestamp: at,
		Status:    entity.TxStatusSuccess,
		Chain:     entity.DefaultChain,
	}
}

func wallet(n int, tags ...string) *entity.Entity {
	return &entity.Entity{
		ID:         walletID(n),
		Type:       entity.EntityTypeWallet,
		Chain:      entity.DefaultChain,
		Address:    addr(n),
		FirstSeen:  testNow.Add(-90 * 24 * time.Hour),
		LastActive: testNow,
		Tags:       tags,
		Wallet:     &entity.WalletDetails{WalletType: entity.WalletTypeEOA},
	}
}

func withRisk(e *entity.Entity, score float64) *entity.Entity {
	e.RiskScore = &score
	e.RiskCategory = entity.CategoryForScore(score)
	return e
}

func newScoringFixture(store *database.MemoryEntityStore) *RiskScoringService {
	nop := logger.NewNop()
	views := NewGraphViewBuilder(store, 500, nop)
	svc := NewRiskScoringService(store, views, DefaultScoringConfig(), nop)
	svc.now = func() time.Time { return testNow }
	return svc
}

func newAlertFixture(store *database.MemoryEntityStore, config AlertingConfig, notifiers ...AlertNotifier) *AlertManager {
	m := NewAlertManager(store, config, notifiers, logger.NewNop())
	m.now = func() time.Time { return testNow }
	return m
}
