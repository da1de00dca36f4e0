package entity

// WalletType distinguishes externally owned accounts from contract-backed wallets
type WalletType string

const (
	WalletTypeEOA      WalletType = "EOA"
	WalletTypeContract WalletType = "contract"
	WalletTypeMultisig WalletType = "multisig"
)

// WalletDetails holds the wallet variant of an entity
type WalletDetails struct {
	Balance    string     `json:"balance"`
	WalletType WalletType `json:"wallet_type"`
}
