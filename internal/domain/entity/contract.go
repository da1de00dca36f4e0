package entity

import "time"

// Vulnerability is a finding reported for a contract by an external analyzer
type Vulnerability struct {
	Type        string   `json:"type"`
	Severity    Severity `json:"severity"`
	Description string   `json:"description"`
}

// ContractDetails holds the contract variant of an entity
type ContractDetails struct {
	Creator         string          `json:"creator"`
	Verified        bool            `json:"verified"`
	CreatedAt       time.Time       `json:"created_at,omitempty"`
	Vulnerabilities []Vulnerability `json:"vulnerabilities,omitempty"`
}

// vulnerabilityWeights scores findings by severity; the sum is capped at
// MaxVulnerabilityScore.
var vulnerabilityWeights = map[Severity]float64{
	SeverityCritical: 10,
	SeverityHigh:     7,
	SeverityMedium:   4,
	SeverityLow:      1,
}

// MaxVulnerabilityScore caps the weighted vulnerability sum
const MaxVulnerabilityScore = 40.0

// VulnerabilityScore returns the uncapped weighted sum of findings
func (c *ContractDetails) VulnerabilityScore() float64 {
	var total float64
	for _, v := range c.Vulnerabilities {
		total += vulnerabilityWeights[v.Severity]
	}
	return total
}

// CountBySeverity tallies findings per severity level
func (c *ContractDetails) CountBySeverity() map[Severity]int {
	counts := make(map[Severity]int)
	for _, v := range c.Vulnerabilities {
		counts[v.Severity]++
	}
	return counts
}
