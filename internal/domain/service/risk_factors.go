package service

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"crypto-risk-intelligence/internal/domain/analytics"
	"crypto-risk-intelligence/internal/domain/entity"
)

// Risk factor names
const (
	FactorTxBurst            = "tx_burst"
	FactorValueAnomaly       = "value_anomaly"
	FactorGasPriceAnomaly    = "gas_price_anomaly"
	FactorRecipientNovelty   = "recipient_novelty"
	FactorVulnerabilities    = "vulnerabilities"
	FactorUnverifiedContract = "unverified_contract"
	FactorContractRecency    = "contract_recency"
	FactorBridgingCentrality = "bridging_centrality"
	FactorFlaggedCommunity   = "flagged_community"
	FactorCentralityShift    = "centrality_shift"
	FactorRiskyNeighbors     = "risky_neighbors"
	FactorFlaggedTags        = "flagged_tags"
	FactorFailedTransaction  = "failed_transaction"
)

const (
	minBurstHistory   = 2
	minAnomalyHistory = 3
	// saturatedZScore stands in for a deviation from a constant history
	saturatedZScore = 5.0

	newContractAge          = 7 * 24 * time.Hour
	staleContractAge        = 90 * 24 * time.Hour
	verifiedRecencyDiscount = 0.25

	maxAssociationHops = 2
	secondHopDecay     = 0.5
)

// DefaultFactorWeights returns the weight of every known factor
func DefaultFactorWeights() map[string]float64 {
	return map[string]float64{
		FactorTxBurst:            2,
		FactorValueAnomaly:       1.5,
		FactorGasPriceAnomaly:    1,
		FactorRecipientNovelty:   1,
		FactorVulnerabilities:    3,
		FactorUnverifiedContract: 3,
		FactorContractRecency:    1.5,
		FactorBridgingCentrality: 1,
		FactorFlaggedCommunity:   1,
		FactorCentralityShift:    1,
		FactorRiskyNeighbors:     2,
		FactorFlaggedTags:        2,
		FactorFailedTransaction:  0.5,
	}
}

// applicableFactors lists, per entity type, the factors a pass tries to
// collect, in collection order
var applicableFactors = map[entity.EntityType][]string{
	entity.EntityTypeWallet: {
		FactorTxBurst, FactorValueAnomaly, FactorGasPriceAnomaly, FactorRecipientNovelty,
		FactorBridgingCentrality, FactorFlaggedCommunity, FactorCentralityShift,
		FactorRiskyNeighbors, FactorFlaggedTags,
	},
	entity.EntityTypeContract: {
		FactorTxBurst, FactorVulnerabilities, FactorUnverifiedContract, FactorContractRecency,
		FactorBridgingCentrality, FactorFlaggedCommunity, FactorCentralityShift,
		FactorRiskyNeighbors, FactorFlaggedTags,
	},
	entity.EntityTypeTransaction: {
		FactorValueAnomaly, FactorGasPriceAnomaly, FactorRecipientNovelty,
		FactorFailedTransaction, FactorRiskyNeighbors, FactorFlaggedTags,
	},
}

// factorInput is what the collectors of one scoring pass read. For a
// transaction the actor is its sender and the reference time its
// timestamp; otherwise both are the entity itself and the pass clock.
type factorInput struct {
	subject   *entity.Entity
	actor     string
	reference time.Time
	txEdge    *entity.Edge
	// history holds edges touching actor within the lookback
	history   []*entity.Edge
	view      *analytics.GraphView
	seeds     []string
	neighbors map[string]*entity.Entity
	config    ScoringConfig
}

// factorFunc computes one factor. An error wrapping
// entity.ErrInsufficientData or entity.ErrAlgorithmUndefined means the
// factor is absent from this pass.
type factorFunc func(ctx context.Context, in *factorInput) (entity.RiskFactor, error)

var factorFuncs = map[string]factorFunc{
	FactorTxBurst:            txBurst,
	FactorValueAnomaly:       valueAnomaly,
	FactorGasPriceAnomaly:    gasPriceAnomaly,
	FactorRecipientNovelty:   recipientNovelty,
	FactorVulnerabilities:    vulnerabilities,
	FactorUnverifiedContract: unverifiedContract,
	FactorContractRecency:    contractRecency,
	FactorBridgingCentrality: bridgingCentrality,
	FactorFlaggedCommunity:   flaggedCommunity,
	FactorCentralityShift:    centralityShift,
	FactorRiskyNeighbors:     riskyNeighbors,
	FactorFlaggedTags:        flaggedTags,
	FactorFailedTransaction:  failedTransaction,
}

func absent(format string, args ...any) error {
	return fmt.Errorf("%w: %s", entity.ErrInsufficientData, fmt.Sprintf(format, args...))
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// outgoing returns the actor's outgoing edges up to the reference time,
// oldest first
func (in *factorInput) outgoing() []*entity.Edge {
	var out []*entity.Edge
	for _, e := range in.history {
		if e.From == in.actor && !e.IsSelfLoop() && !e.Timestamp.After(in.reference) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].TxHash < out[j].TxHash
	})
	return out
}

// txBurst compares activity in the burst window with the actor's rate
// over the rest of the lookback
func txBurst(_ context.Context, in *factorInput) (entity.RiskFactor, error) {
	burst := in.config.BurstWindow
	cutoff := in.reference.Add(-burst)
	lookbackStart := in.reference.Add(-in.config.Lookback)

	recent, historical := 0, 0
	var oldest time.Time
	for _, e := range in.history {
		switch {
		case e.Timestamp.After(cutoff):
			recent++
		case !e.Timestamp.Before(lookbackStart):
			historical++
			if oldest.IsZero() || e.Timestamp.Before(oldest) {
				oldest = e.Timestamp
			}
		}
	}
	if historical < minBurstHistory {
		return entity.RiskFactor{}, absent("%d historical transactions, need %d", historical, minBurstHistory)
	}

	span := cutoff.Sub(oldest)
	if span < burst {
		span = burst
	}
	baseline := float64(historical) * float64(burst) / float64(span)
	ratio := float64(recent) / baseline

	normalized := 0.0
	if ratio > 1 {
		normalized = clamp01(math.Log10(ratio) / 2)
	}
	return entity.RiskFactor{
		Name:            FactorTxBurst,
		RawValue:        ratio,
		NormalizedValue: normalized,
		Detail:          fmt.Sprintf("%d transactions in the last %s against a baseline of %.2f", recent, burst, baseline),
	}, nil
}

func valueAnomaly(_ context.Context, in *factorInput) (entity.RiskFactor, error) {
	return anomaly(in, FactorValueAnomaly, func(e *entity.Edge) (float64, bool) {
		return e.Value, true
	})
}

func gasPriceAnomaly(_ context.Context, in *factorInput) (entity.RiskFactor, error) {
	return anomaly(in, FactorGasPriceAnomaly, func(e *entity.Edge) (float64, bool) {
		return e.GasPrice, e.GasPrice > 0
	})
}

// anomaly scores the z-score of the latest outgoing value against the
// prior ones; only upward deviations count
func anomaly(in *factorInput, name string, pick func(*entity.Edge) (float64, bool)) (entity.RiskFactor, error) {
	outgoing := in.outgoing()

	latest := in.txEdge
	var prior []*entity.Edge
	if latest != nil {
		for _, e := range outgoing {
			if e.TxHash != latest.TxHash {
				prior = append(prior, e)
			}
		}
	} else {
		if len(outgoing) == 0 {
			return entity.RiskFactor{}, absent("no outgoing transactions")
		}
		latest = outgoing[len(outgoing)-1]
		prior = outgoing[:len(outgoing)-1]
	}

	current, ok := pick(latest)
	if !ok {
		return entity.RiskFactor{}, absent("latest transaction carries no %s input", name)
	}
	var values []float64
	for _, e := range prior {
		if v, ok := pick(e); ok {
			values = append(values, v)
		}
	}
	if len(values) < minAnomalyHistory {
		return entity.RiskFactor{}, absent("%d prior values, need %d", len(values), minAnomalyHistory)
	}

	mean, std := meanStd(values)
	var z float64
	switch {
	case std > 0:
		z = (current - mean) / std
	case current > mean:
		z = saturatedZScore
	}
	return entity.RiskFactor{
		Name:            name,
		RawValue:        z,
		NormalizedValue: clamp01((z - 1) / 4),
		Detail:          fmt.Sprintf("z-score %.2f against %d prior transactions", z, len(values)),
	}, nil
}

func meanStd(values []float64) (float64, float64) {
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))
	variance := 0.0
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	return mean, math.Sqrt(variance / float64(len(values)))
}

// recipientNovelty is the share of recent outgoing transactions sent to
// counterparties the actor never dealt with before
func recipientNovelty(_ context.Context, in *factorInput) (entity.RiskFactor, error) {
	var recent []*entity.Edge
	if in.txEdge != nil {
		recent = []*entity.Edge{in.txEdge}
	} else {
		outgoing := in.outgoing()
		cutoff := in.reference.Add(-in.config.BurstWindow)
		for _, e := range outgoing {
			if e.Timestamp.After(cutoff) {
				recent = append(recent, e)
			}
		}
		if len(recent) == 0 && len(outgoing) > 0 {
			recent = outgoing[len(outgoing)-1:]
		}
	}
	if len(recent) == 0 {
		return entity.RiskFactor{}, absent("no outgoing transactions")
	}

	novel := 0
	for _, r := range recent {
		seen := false
		for _, e := range in.history {
			if e.TxHash != r.TxHash && e.Timestamp.Before(r.Timestamp) && e.Touches(r.To) {
				seen = true
				break
			}
		}
		if !seen {
			novel++
		}
	}
	share := float64(novel) / float64(len(recent))
	return entity.RiskFactor{
		Name:            FactorRecipientNovelty,
		RawValue:        float64(novel),
		NormalizedValue: share,
		Detail:          fmt.Sprintf("%d of %d recent recipients are first-time counterparties", novel, len(recent)),
	}, nil
}

func vulnerabilities(_ context.Context, in *factorInput) (entity.RiskFactor, error) {
	c := in.subject.Contract
	if c == nil {
		return entity.RiskFactor{}, absent("no contract details")
	}
	score := c.VulnerabilityScore()
	counts := c.CountBySeverity()
	return entity.RiskFactor{
		Name:            FactorVulnerabilities,
		RawValue:        score,
		NormalizedValue: score / entity.MaxVulnerabilityScore,
		Detail: fmt.Sprintf("%d critical, %d high, %d medium, %d low",
			counts[entity.SeverityCritical], counts[entity.SeverityHigh],
			counts[entity.SeverityMedium], counts[entity.SeverityLow]),
	}, nil
}

func unverifiedContract(_ context.Context, in *factorInput) (entity.RiskFactor, error) {
	c := in.subject.Contract
	if c == nil {
		return entity.RiskFactor{}, absent("no contract details")
	}
	f := entity.RiskFactor{Name: FactorUnverifiedContract, Detail: "source verified"}
	if !c.Verified {
		f.RawValue, f.NormalizedValue, f.Detail = 1, 1, "source not verified"
	}
	return f, nil
}

// contractRecency is 1 for contracts younger than a week, decaying to 0 at
// 90 days; verified contracts get a quarter of it
func contractRecency(_ context.Context, in *factorInput) (entity.RiskFactor, error) {
	c := in.subject.Contract
	if c == nil || c.CreatedAt.IsZero() {
		return entity.RiskFactor{}, absent("contract creation time unknown")
	}
	age := in.reference.Sub(c.CreatedAt)

	var v float64
	switch {
	case age < newContractAge:
		v = 1
	case age >= staleContractAge:
		v = 0
	default:
		v = 1 - float64(age-newContractAge)/float64(staleContractAge-newContractAge)
	}
	if c.Verified {
		v *= verifiedRecencyDiscount
	}
	return entity.RiskFactor{
		Name:            FactorContractRecency,
		RawValue:        age.Hours() / 24,
		NormalizedValue: v,
		Detail:          fmt.Sprintf("created %.1f days ago", age.Hours()/24),
	}, nil
}

// bridgingCentrality is the higher of the betweenness and PageRank
// percentiles of the entity within its neighbourhood
func bridgingCentrality(ctx context.Context, in *factorInput) (entity.RiskFactor, error) {
	if !in.view.HasNode(in.subject.ID) {
		return entity.RiskFactor{}, absent("entity has no transactions in its neighbourhood view")
	}
	res, err := analytics.Centrality(ctx, in.view, analytics.CentralityOptions{
		Algorithms:         []string{analytics.AlgorithmBetweenness, analytics.AlgorithmPageRank},
		Normalized:         true,
		BetweennessTimeout: in.config.BetweennessTimeout,
	})
	if err != nil {
		return entity.RiskFactor{}, err
	}

	best, found := 0.0, false
	var parts []string
	for _, alg := range []string{analytics.AlgorithmBetweenness, analytics.AlgorithmPageRank} {
		p, ok := analytics.PercentileRank(res.Values[alg], in.subject.ID)
		if !ok {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s percentile %.2f", alg, p))
		if !found || p > best {
			best, found = p, true
		}
	}
	if !found {
		return entity.RiskFactor{}, fmt.Errorf("%w: no centrality percentile available", entity.ErrAlgorithmUndefined)
	}
	return entity.RiskFactor{
		Name:            FactorBridgingCentrality,
		RawValue:        best,
		NormalizedValue: best,
		Detail:          strings.Join(parts, ", "),
	}, nil
}

// flaggedCommunity is the share of the entity's community already at High
// or Critical, capped so that association alone cannot dominate the score
func flaggedCommunity(ctx context.Context, in *factorInput) (entity.RiskFactor, error) {
	if !in.view.HasNode(in.subject.ID) {
		return entity.RiskFactor{}, absent("entity has no transactions in its neighbourhood view")
	}
	res, err := analytics.DetectCommunities(ctx, in.view, in.config.CommunityAlgorithm)
	if err != nil {
		return entity.RiskFactor{}, err
	}

	members, flagged := 0, 0
	for _, m := range res.CommunityOf(in.subject.ID) {
		if m == in.subject.ID {
			continue
		}
		members++
		if n := in.neighbors[m]; n != nil && n.RiskCategory.IsHighRisk() {
			flagged++
		}
	}
	if members == 0 {
		return entity.RiskFactor{}, absent("entity is alone in its community")
	}
	share := float64(flagged) / float64(members)
	return entity.RiskFactor{
		Name:            FactorFlaggedCommunity,
		RawValue:        share,
		NormalizedValue: math.Min(share, in.config.CommunityCap),
		Detail:          fmt.Sprintf("%d of %d community members at high or critical risk", flagged, members),
	}, nil
}

func centralityShift(_ context.Context, in *factorInput) (entity.RiskFactor, error) {
	shift, err := analytics.ComputeCentralityShift(in.view, in.subject.ID, in.config.ShiftWindow)
	if err != nil {
		return entity.RiskFactor{}, err
	}
	ratio := *shift.Ratio
	return entity.RiskFactor{
		Name:            FactorCentralityShift,
		RawValue:        ratio,
		NormalizedValue: clamp01((ratio - 1) / 3),
		Detail:          fmt.Sprintf("degree %.0f in the latest window, %.0f in the one before", shift.Current, shift.Previous),
	}, nil
}

// riskyNeighbors takes the strongest High or Critical neighbour within two
// hops, halved at the second hop. A transaction's own endpoints are its
// first hop.
func riskyNeighbors(_ context.Context, in *factorInput) (entity.RiskFactor, error) {
	offset := 0
	if in.subject.Type == entity.EntityTypeTransaction {
		offset = 1
	}
	dist := analytics.HopDistances(in.view, in.seeds, maxAssociationHops-offset)

	ids := make([]string, 0, len(dist))
	for id := range dist {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	considered := 0
	best, bestID, bestHop := 0.0, "", 0
	for _, id := range ids {
		hop := dist[id] + offset
		if hop < 1 || id == in.subject.ID {
			continue
		}
		considered++
		n := in.neighbors[id]
		if n == nil || n.RiskScore == nil || !n.RiskCategory.IsHighRisk() {
			continue
		}
		decay := 1.0
		if hop == 2 {
			decay = secondHopDecay
		}
		if v := clamp01(*n.RiskScore/100) * decay; v > best {
			best, bestID, bestHop = v, id, hop
		}
	}
	if considered == 0 {
		return entity.RiskFactor{}, absent("no counterparties within %d hops", maxAssociationHops)
	}

	f := entity.RiskFactor{
		Name:            FactorRiskyNeighbors,
		RawValue:        best,
		NormalizedValue: best,
		Detail:          fmt.Sprintf("none of %d neighbours at high or critical risk", considered),
	}
	if bestID != "" {
		f.Detail = fmt.Sprintf("%s at %d hop(s)", bestID, bestHop)
	}
	return f, nil
}

func flaggedTags(_ context.Context, in *factorInput) (entity.RiskFactor, error) {
	tags := entity.HighRiskTags(in.subject.Tags)
	if len(tags) == 0 {
		return entity.RiskFactor{}, absent("no high-risk tags")
	}
	return entity.RiskFactor{
		Name:            FactorFlaggedTags,
		RawValue:        float64(len(tags)),
		NormalizedValue: 1,
		Detail:          strings.Join(tags, ","),
	}, nil
}

func failedTransaction(_ context.Context, in *factorInput) (entity.RiskFactor, error) {
	tx := in.subject.Transaction
	if tx == nil {
		return entity.RiskFactor{}, absent("no transaction details")
	}
	f := entity.RiskFactor{Name: FactorFailedTransaction, Detail: "succeeded"}
	if tx.Failed() {
		f.RawValue, f.NormalizedValue, f.Detail = 1, 1, "reverted"
	}
	return f, nil
}
