package entity

import (
	"math/big"
	"strconv"
	"strings"
	"time"
)

// TxStatus is the execution outcome of a confirmed transaction
type TxStatus string

const (
	TxStatusSuccess TxStatus = "success"
	TxStatusFailed  TxStatus = "failed"
)

// Transaction is a confirmed transfer as delivered by the ingestion stream.
// Amounts stay in base units as decimal or 0x-hex strings.
type Transaction struct {
	Hash        string    `json:"hash"`
	From        string    `json:"from"`
	To          string    `json:"to"`
	Value       string    `json:"value"`
	Data        string    `json:"data,omitempty"`
	BlockNumber string    `json:"block_number,omitempty"`
	BlockHash   string    `json:"block_hash,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	Status      TxStatus  `json:"status,omitempty"`
	GasUsed     string    `json:"gas_used,omitempty"`
	GasPrice    string    `json:"gas_price,omitempty"`
	Chain       string    `json:"chain,omitempty"`
	RiskScore   *float64  `json:"risk_score,omitempty"`
}

// Clone returns a deep copy
func (t *Transaction) Clone() *Transaction {
	if t == nil {
		return nil
	}
	cp := *t
	if t.RiskScore != nil {
		s := *t.RiskScore
		cp.RiskScore = &s
	}
	return &cp
}

// ChainOrDefault returns the transaction chain, falling back to DefaultChain
func (t *Transaction) ChainOrDefault() string {
	if t.Chain == "" {
		return DefaultChain
	}
	return strings.ToLower(t.Chain)
}

// ID returns the entity id of the transaction itself
func (t *Transaction) ID() string {
	return Key(t.ChainOrDefault(), t.Hash)
}

// FromID returns the entity id of the sender
func (t *Transaction) FromID() string {
	return Key(t.ChainOrDefault(), t.From)
}

// ToID returns the entity id of the recipient
func (t *Transaction) ToID() string {
	return Key(t.ChainOrDefault(), t.To)
}

// Failed reports whether the transaction reverted
func (t *Transaction) Failed() bool {
	return t.Status == TxStatusFailed
}

// Edge converts the transaction into a directed, timestamped graph edge
func (t *Transaction) Edge() *Edge {
	return &Edge{
		TxHash:    strings.ToLower(t.Hash),
		From:      t.FromID(),
		To:        t.ToID(),
		Timestamp: t.Timestamp,
		Value:     ParseAmount(t.Value),
		GasPrice:  ParseAmount(t.GasPrice),
		Status:    t.Status,
	}
}

// Entities returns the wallet entities of both endpoints and the
// transaction entity itself. The recipient is left out for contract
// creations, which have no To address.
func (t *Transaction) Entities() []*Entity {
	chain := t.ChainOrDefault()
	endpoint := func(address string) *Entity {
		return &Entity{
			ID:         Key(chain, address),
			Type:       EntityTypeWallet,
			Chain:      chain,
			Address:    strings.ToLower(address),
			FirstSeen:  t.Timestamp,
			LastActive: t.Timestamp,
			Wallet:     &WalletDetails{WalletType: WalletTypeEOA},
		}
	}

	out := []*Entity{endpoint(t.From)}
	if t.To != "" {
		out = append(out, endpoint(t.To))
	}
	out = append(out, &Entity{
		ID:          t.ID(),
		Type:        EntityTypeTransaction,
		Chain:       chain,
		Address:     strings.ToLower(t.Hash),
		FirstSeen:   t.Timestamp,
		LastActive:  t.Timestamp,
		Transaction: t.Clone(),
	})
	return out
}

// Edge is one transaction between two entities. Parallel edges between the
// same pair are kept; the graph is a multigraph keyed by TxHash.
type Edge struct {
	TxHash    string    `json:"tx_hash"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
	GasPrice  float64   `json:"gas_price"`
	Status    TxStatus  `json:"status,omitempty"`
}

// IsSelfLoop reports whether the edge starts and ends at the same entity
func (e *Edge) IsSelfLoop() bool {
	return e.From == e.To
}

// Touches reports whether id is one of the edge endpoints
func (e *Edge) Touches(id string) bool {
	return e.From == id || e.To == id
}

// Other returns the endpoint opposite to id
func (e *Edge) Other(id string) string {
	if e.From == id {
		return e.To
	}
	return e.From
}

// ParseAmount converts a base-unit amount (decimal, 0x-hex or float text)
// to float64. Unparseable input yields 0.
func ParseAmount(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	if n, ok := new(big.Int).SetString(s, 0); ok {
		f, _ := new(big.Float).SetInt(n).Float64()
		return f
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}
