package entity

import "strings"

// NodeType is a classification tag attached to an entity by upstream
// labelling (exchanges, threat feeds, manual review)
type NodeType string

const (
	// Wallet classifications
	NodeTypeEOA               NodeType = "EOA"
	NodeTypeExchangeWallet    NodeType = "EXCHANGE_WALLET"
	NodeTypeBridgeWallet      NodeType = "BRIDGE_WALLET"
	NodeTypeMixerWallet       NodeType = "MIXER_WALLET"
	NodeTypeMEVBot            NodeType = "MEV_BOT"
	NodeTypeWhale             NodeType = "WHALE"
	NodeTypeSuspiciousWallet  NodeType = "SUSPICIOUS_WALLET"
	NodeTypeBlacklistedWallet NodeType = "BLACKLISTED_WALLET"

	// Contract classifications
	NodeTypeDEXContract      NodeType = "DEX_CONTRACT"
	NodeTypeBridgeContract   NodeType = "BRIDGE_CONTRACT"
	NodeTypePonziContract    NodeType = "PONZI_CONTRACT"
	NodeTypePrivacyContract  NodeType = "PRIVACY_CONTRACT"
	NodeTypeGamblingContract NodeType = "GAMBLING_CONTRACT"

	// Threat intelligence
	NodeTypeScam               NodeType = "SCAM"
	NodeTypePhishing           NodeType = "PHISHING"
	NodeTypeHack               NodeType = "HACK"
	NodeTypeExploit            NodeType = "EXPLOIT"
	NodeTypeDarkWeb            NodeType = "DARKWEB"
	NodeTypeRansomware         NodeType = "RANSOMWARE"
	NodeTypeTerroristFinancing NodeType = "TERRORIST_FINANCING"
	NodeTypeMoneyLaundering    NodeType = "MONEY_LAUNDERING"
	NodeTypeSanctioned         NodeType = "SANCTIONED"

	NodeTypeUnknown NodeType = "UNKNOWN"
)

// highRiskNodeTypes flag an entity on their own, regardless of behaviour
var highRiskNodeTypes = map[NodeType]bool{
	NodeTypeMixerWallet:        true,
	NodeTypeSuspiciousWallet:   true,
	NodeTypeBlacklistedWallet:  true,
	NodeTypePonziContract:      true,
	NodeTypeScam:               true,
	NodeTypePhishing:           true,
	NodeTypeHack:               true,
	NodeTypeExploit:            true,
	NodeTypeDarkWeb:            true,
	NodeTypeRansomware:         true,
	NodeTypeTerroristFinancing: true,
	NodeTypeMoneyLaundering:    true,
	NodeTypeSanctioned:         true,
}

// tagAliases maps the short free-form tags used by feeds onto node types
var tagAliases = map[string]NodeType{
	"MIXER":       NodeTypeMixerWallet,
	"SUSPICIOUS":  NodeTypeSuspiciousWallet,
	"BLACKLISTED": NodeTypeBlacklistedWallet,
	"PONZI":       NodeTypePonziContract,
}

// ParseNodeType normalises a free-form tag ("money-laundering",
// "Mixer", "sanctioned") into a NodeType
func ParseNodeType(tag string) NodeType {
	norm := strings.ToUpper(strings.TrimSpace(tag))
	norm = strings.NewReplacer("-", "_", " ", "_").Replace(norm)
	if alias, ok := tagAliases[norm]; ok {
		return alias
	}
	if norm == "" {
		return NodeTypeUnknown
	}
	return NodeType(norm)
}

// IsHighRisk reports whether the node type marks a bad actor
func (t NodeType) IsHighRisk() bool {
	return highRiskNodeTypes[t]
}

// HighRiskTags returns the entity tags that mark a bad actor, in input order
func HighRiskTags(tags []string) []string {
	var flagged []string
	for _, tag := range tags {
		if ParseNodeType(tag).IsHighRisk() {
			flagged = append(flagged, tag)
		}
	}
	return flagged
}
