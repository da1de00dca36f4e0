package entity

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// EntityType discriminates the closed set of entity variants
type EntityType string

const (
	EntityTypeWallet      EntityType = "wallet"
	EntityTypeContract    EntityType = "contract"
	EntityTypeTransaction EntityType = "transaction"
)

// Valid reports whether t is one of the known variants
func (t EntityType) Valid() bool {
	switch t {
	case EntityTypeWallet, EntityTypeContract, EntityTypeTransaction:
		return true
	}
	return false
}

// DefaultChain is used when an event does not name its chain
const DefaultChain = "ethereum"

// evmChains use 20-byte hex addresses and 32-byte hex transaction hashes
var evmChains = map[string]bool{
	"ethereum": true,
	"polygon":  true,
	"bsc":      true,
	"arbitrum": true,
	"optimism": true,
	"base":     true,
	"sepolia":  true,
}

// Entity is a wallet, contract or transaction tracked by the risk core.
// Exactly one of Wallet, Contract or Transaction is set and it must match
// Type. Chain-specific extras live in Metadata.
type Entity struct {
	ID         string     `json:"id"`
	Type       EntityType `json:"type"`
	Chain      string     `json:"chain"`
	Address    string     `json:"address"`
	FirstSeen  time.Time  `json:"first_seen"`
	LastActive time.Time  `json:"last_active"`
	Tags       []string   `json:"tags,omitempty"`

	// Risk state is written only by a scoring pass. A nil RiskScore means
	// the entity has never been scored or its last pass had no factors.
	RiskScore         *float64     `json:"risk_score"`
	RiskCategory      RiskCategory `json:"risk_category,omitempty"`
	RiskFactors       []RiskFactor `json:"risk_factors,omitempty"`
	EvaluationVersion int64        `json:"evaluation_version"`
	LastEvaluated     time.Time    `json:"last_evaluated,omitempty"`

	Wallet      *WalletDetails   `json:"wallet,omitempty"`
	Contract    *ContractDetails `json:"contract,omitempty"`
	Transaction *Transaction     `json:"transaction,omitempty"`

	Metadata map[string]any `json:"metadata,omitempty"`
}

// Key builds the canonical entity id "<chain>:<address|hash>"
func Key(chain, address string) string {
	return strings.ToLower(strings.TrimSpace(chain)) + ":" + strings.ToLower(strings.TrimSpace(address))
}

// ParseKey splits an entity id into chain and address
func ParseKey(id string) (chain, address string, err error) {
	chain, address, ok := strings.Cut(id, ":")
	if !ok || chain == "" || address == "" {
		return "", "", fmt.Errorf("%w: malformed entity id %q", ErrInvalidInput, id)
	}
	return chain, address, nil
}

// IsEVMChain reports whether addresses on chain follow the 20-byte hex format
func IsEVMChain(chain string) bool {
	return evmChains[strings.ToLower(chain)]
}

// ValidateAddress checks an account address for chains whose format is known
func ValidateAddress(chain, address string) error {
	if strings.TrimSpace(address) == "" {
		return fmt.Errorf("%w: empty address", ErrInvalidInput)
	}
	if IsEVMChain(chain) && !common.IsHexAddress(address) {
		return fmt.Errorf("%w: %q is not a valid %s address", ErrInvalidInput, address, chain)
	}
	return nil
}

// ValidateHash checks a transaction hash for chains whose format is known
func ValidateHash(chain, hash string) error {
	if strings.TrimSpace(hash) == "" {
		return fmt.Errorf("%w: empty transaction hash", ErrInvalidInput)
	}
	if !IsEVMChain(chain) {
		return nil
	}
	if !strings.HasPrefix(hash, "0x") && !strings.HasPrefix(hash, "0X") {
		return fmt.Errorf("%w: transaction hash %q must be 0x-prefixed", ErrInvalidInput, hash)
	}
	if len(hash) != 2+2*common.HashLength || len(common.FromHex(hash)) != common.HashLength {
		return fmt.Errorf("%w: %q is not a valid %s transaction hash", ErrInvalidInput, hash, chain)
	}
	return nil
}

// ValidateID checks that id is well formed and its address matches its chain
func ValidateID(id string) error {
	chain, address, err := ParseKey(id)
	if err != nil {
		return err
	}
	if len(address) == 2+2*common.HashLength {
		return ValidateHash(chain, address)
	}
	return ValidateAddress(chain, address)
}

// Validate enforces the variant invariant
func (e *Entity) Validate() error {
	if !e.Type.Valid() {
		return fmt.Errorf("%w: unknown entity type %q", ErrInvalidInput, e.Type)
	}
	if e.ID != Key(e.Chain, e.Address) {
		return fmt.Errorf("%w: entity id %q does not match chain/address", ErrInvalidInput, e.ID)
	}

	set := 0
	if e.Wallet != nil {
		set++
		if e.Type != EntityTypeWallet {
			return fmt.Errorf("%w: wallet details on %s entity", ErrInvalidInput, e.Type)
		}
	}
	if e.Contract != nil {
		set++
		if e.Type != EntityTypeContract {
			return fmt.Errorf("%w: contract details on %s entity", ErrInvalidInput, e.Type)
		}
	}
	if e.Transaction != nil {
		set++
		if e.Type != EntityTypeTransaction {
			return fmt.Errorf("%w: transaction details on %s entity", ErrInvalidInput, e.Type)
		}
	}
	if set > 1 {
		return fmt.Errorf("%w: entity %s carries more than one variant", ErrInvalidInput, e.ID)
	}

	if e.Type == EntityTypeTransaction {
		return ValidateHash(e.Chain, e.Address)
	}
	return ValidateAddress(e.Chain, e.Address)
}

// HasRisk reports whether the last scoring pass produced a score
func (e *Entity) HasRisk() bool {
	return e.RiskScore != nil
}

// Clone returns a deep copy so stores never hand out shared state
func (e *Entity) Clone() *Entity {
	if e == nil {
		return nil
	}
	cp := *e
	if e.RiskScore != nil {
		s := *e.RiskScore
		cp.RiskScore = &s
	}
	if e.Tags != nil {
		cp.Tags = append([]string(nil), e.Tags...)
	}
	if e.RiskFactors != nil {
		cp.RiskFactors = append([]RiskFactor(nil), e.RiskFactors...)
	}
	if e.Wallet != nil {
		w := *e.Wallet
		cp.Wallet = &w
	}
	if e.Contract != nil {
		c := *e.Contract
		c.Vulnerabilities = append([]Vulnerability(nil), e.Contract.Vulnerabilities...)
		cp.Contract = &c
	}
	if e.Transaction != nil {
		cp.Transaction = e.Transaction.Clone()
	}
	if e.Metadata != nil {
		cp.Metadata = make(map[string]any, len(e.Metadata))
		for k, v := range e.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}
