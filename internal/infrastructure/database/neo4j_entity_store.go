package database

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"crypto-risk-intelligence/internal/domain/entity"
	"crypto-risk-intelligence/internal/domain/repository"
	"crypto-risk-intelligence/internal/infrastructure/logger"
)

// Neo4JEntityStore keeps entities as (:Entity) nodes, transactions as
// [:SENT_TO] relationships keyed by tx hash and alerts as (:Alert) nodes.
// Variant details, factors and alert context are stored as JSON strings.
type Neo4JEntityStore struct {
	client *Neo4JClient
	logger *logger.Logger
}

// NewNeo4JEntityStore creates a new Neo4J entity store
func NewNeo4JEntityStore(client *Neo4JClient, logger *logger.Logger) *Neo4JEntityStore {
	return &Neo4JEntityStore{
		client: client,
		logger: logger.WithComponent("neo4j-entity-store"),
	}
}

// entityDetails is the JSON shape of the variant payload
type entityDetails struct {
	Wallet      *entity.WalletDetails   `json:"wallet,omitempty"`
	Contract    *entity.ContractDetails `json:"contract,omitempty"`
	Transaction *entity.Transaction     `json:"transaction,omitempty"`
}

func (s *Neo4JEntityStore) read(ctx context.Context, query string, params map[string]any) ([]*neo4j.Record, error) {
	session := s.client.NewSession(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, query, params)
		if err != nil {
			return nil, err
		}
		return res.Collect(ctx)
	})
	if err != nil {
		return nil, err
	}
	return result.([]*neo4j.Record), nil
}

func (s *Neo4JEntityStore) write(ctx context.Context, work func(tx neo4j.ManagedTransaction) (any, error)) (any, error) {
	session := s.client.NewSession(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)
	return session.ExecuteWrite(ctx, work)
}

// singleRecord reads the one row a locking MATCH returns. An empty result
// is entity.ErrNotFound; driver failures pass through so they stay
// retryable.
func singleRecord(ctx context.Context, res neo4j.ResultWithContext, what string) (*neo4j.Record, error) {
	if res.Next(ctx) {
		return res.Record(), nil
	}
	if err := res.Err(); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("%w: %s", entity.ErrNotFound, what)
}

func (s *Neo4JEntityStore) GetEntity(ctx context.Context, id string) (*entity.Entity, error) {
	records, err := s.read(ctx, `MATCH (e:Entity {id: $id}) RETURN e`, map[string]any{
		"id": strings.ToLower(id),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get entity %s: %w", id, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: entity %s", entity.ErrNotFound, id)
	}
	return entityFromRecord(records[0], "e")
}

func (s *Neo4JEntityStore) GetEntities(ctx context.Context, filter repository.EntityFilter) ([]*entity.Entity, error) {
	query := `
		MATCH (e:Entity)
		WHERE ($ids IS NULL OR e.id IN $ids)
		  AND ($types IS NULL OR e.type IN $types)
		  AND ($categories IS NULL OR e.risk_category IN $categories)
		  AND ($chain = '' OR e.chain = $chain)
		RETURN e
		ORDER BY e.id
	`
	params := map[string]any{
		"ids":        nil,
		"types":      nil,
		"categories": nil,
		"chain":      strings.ToLower(filter.Chain),
	}
	if len(filter.IDs) > 0 {
		ids := make([]string, len(filter.IDs))
		for i, id := range filter.IDs {
			ids[i] = strings.ToLower(id)
		}
		params["ids"] = ids
	}
	if len(filter.Types) > 0 {
		types := make([]string, len(filter.Types))
		for i, t := range filter.Types {
			types[i] = string(t)
		}
		params["types"] = types
	}
	if len(filter.Categories) > 0 {
		categories := make([]string, len(filter.Categories))
		for i, c := range filter.Categories {
			categories[i] = string(c)
		}
		params["categories"] = categories
	}
	if filter.Limit > 0 {
		query += " LIMIT $limit"
		params["limit"] = filter.Limit
	}

	records, err := s.read(ctx, query, params)
	if err != nil {
		return nil, fmt.Errorf("failed to get entities: %w", err)
	}
	out := make([]*entity.Entity, 0, len(records))
	for _, record := range records {
		e, err := entityFromRecord(record, "e")
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

const edgeReturn = `
	RETURN DISTINCT a.id AS from, b.id AS to, r.tx_hash AS tx_hash, r.timestamp AS timestamp,
	       r.value AS value, r.gas_price AS gas_price, r.status AS status
`

const edgeWhere = `
	($chain = '' OR r.chain = $chain)
	AND ($from IS NULL OR r.timestamp >= $from)
	AND ($to IS NULL OR r.timestamp <= $to)
`

// GetEdges walks the neighbourhood one hop per round inside a single read
// transaction, so every hop sees the same snapshot.
func (s *Neo4JEntityStore) GetEdges(ctx context.Context, filter repository.EdgeFilter, timeRange repository.TimeRange, limit int) ([]*entity.Edge, error) {
	params := map[string]any{
		"chain": strings.ToLower(filter.Chain),
		"from":  nil,
		"to":    nil,
	}
	if !timeRange.From.IsZero() {
		params["from"] = timeRange.From.UTC()
	}
	if !timeRange.To.IsZero() {
		params["to"] = timeRange.To.UTC()
	}

	session := s.client.NewSession(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if len(filter.Seeds) == 0 {
			query := `MATCH (a:Entity)-[r:SENT_TO]->(b:Entity) WHERE ` + edgeWhere + edgeReturn +
				` ORDER BY timestamp DESC, tx_hash ASC`
			if limit > 0 {
				query += " LIMIT $limit"
				params["limit"] = limit
			}
			res, err := tx.Run(ctx, query, params)
			if err != nil {
				return nil, err
			}
			return res.Collect(ctx)
		}
		return expandEdges(ctx, tx, filter, params)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get edges: %w", err)
	}

	seen := make(map[string]bool)
	var edges []*entity.Edge
	for _, record := range result.([]*neo4j.Record) {
		e := edgeFromRecord(record)
		if seen[e.TxHash] {
			continue
		}
		seen[e.TxHash] = true
		edges = append(edges, e)
	}
	sort.Slice(edges, func(i, j int) bool {
		if !edges[i].Timestamp.Equal(edges[j].Timestamp) {
			return edges[i].Timestamp.After(edges[j].Timestamp)
		}
		return edges[i].TxHash < edges[j].TxHash
	})
	if limit > 0 && len(edges) > limit {
		edges = edges[:limit]
	}
	return edges, nil
}

func expandEdges(ctx context.Context, tx neo4j.ManagedTransaction, filter repository.EdgeFilter, params map[string]any) ([]*neo4j.Record, error) {
	hops := filter.Hops
	if hops <= 0 {
		hops = 1
	}
	query := `
		MATCH (n:Entity)-[r:SENT_TO]-(:Entity)
		WHERE n.id IN $frontier AND ` + edgeWhere + `
		MATCH (a:Entity)-[r]->(b:Entity)` + edgeReturn

	visited := make(map[string]bool)
	var frontier []string
	for _, seed := range filter.Seeds {
		seed = strings.ToLower(seed)
		if !visited[seed] {
			visited[seed] = true
			frontier = append(frontier, seed)
		}
	}

	var all []*neo4j.Record
	for depth := 0; depth < hops && len(frontier) > 0; depth++ {
		params["frontier"] = frontier
		res, err := tx.Run(ctx, query, params)
		if err != nil {
			return nil, err
		}
		records, err := res.Collect(ctx)
		if err != nil {
			return nil, err
		}
		all = append(all, records...)

		var next []string
		for _, record := range records {
			for _, key := range []string{"from", "to"} {
				id := recordString(record, key)
				if !visited[id] {
					visited[id] = true
					next = append(next, id)
				}
			}
		}
		frontier = next
	}
	return all, nil
}

// UpsertEntityRisk locks the node, checks the version and writes in one
// transaction
func (s *Neo4JEntityStore) UpsertEntityRisk(ctx context.Context, update repository.RiskUpdate) (int64, error) {
	factors, err := json.Marshal(update.Factors)
	if err != nil {
		return 0, fmt.Errorf("failed to encode risk factors: %w", err)
	}
	id := strings.ToLower(update.ID)

	result, err := s.write(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
			MATCH (e:Entity {id: $id})
			SET e._lock = true
			REMOVE e._lock
			RETURN coalesce(e.evaluation_version, 0) AS version
		`, map[string]any{"id": id})
		if err != nil {
			return nil, err
		}
		record, err := singleRecord(ctx, res, "entity "+id)
		if err != nil {
			return nil, err
		}
		current := recordInt64(record, "version")
		if current != update.ExpectedVersion {
			return nil, fmt.Errorf("%w: entity %s is at version %d, pass started at %d",
				entity.ErrConcurrentModification, id, current, update.ExpectedVersion)
		}

		var score any
		if update.Score != nil {
			score = *update.Score
		}
		var category any
		if update.Category != "" {
			category = string(update.Category)
		}
		next := current + 1
		_, err = tx.Run(ctx, `
			MATCH (e:Entity {id: $id})
			SET e.risk_score = $score,
			    e.risk_category = $category,
			    e.risk_factors_json = $factors,
			    e.last_evaluated = $evaluated_at,
			    e.evaluation_version = $version
		`, map[string]any{
			"id":           id,
			"score":        score,
			"category":     category,
			"factors":      string(factors),
			"evaluated_at": update.EvaluatedAt.UTC(),
			"version":      next,
		})
		if err != nil {
			return nil, err
		}
		return next, nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to upsert risk for %s: %w", id, err)
	}
	return result.(int64), nil
}

// upsertEntityQuery merges descriptive fields. Risk fields are only
// initialised on create. An endpoint row, or a plain wallet row hitting a
// richer variant, keeps the stored type and details.
const upsertEntityQuery = `
	UNWIND $rows AS row
	MERGE (e:Entity {id: row.id})
	ON CREATE SET e.evaluation_version = 0
	WITH e, row,
	     e.type IS NOT NULL AND (row.endpoint OR (row.type = 'wallet' AND e.type <> 'wallet')) AS keep
	SET e.details_json = CASE WHEN keep THEN e.details_json ELSE row.details_json END,
	    e.type = CASE WHEN keep THEN e.type ELSE row.type END,
	    e.chain = row.chain,
	    e.address = row.address,
	    e.tags = CASE WHEN size(row.tags) = 0 THEN coalesce(e.tags, []) ELSE row.tags END,
	    e.metadata_json = coalesce(row.metadata_json, e.metadata_json),
	    e.first_seen = CASE
	        WHEN row.first_seen IS NULL THEN e.first_seen
	        WHEN e.first_seen IS NULL OR row.first_seen < e.first_seen THEN row.first_seen
	        ELSE e.first_seen END,
	    e.last_active = CASE
	        WHEN row.last_active IS NULL THEN e.last_active
	        WHEN e.last_active IS NULL OR row.last_active > e.last_active THEN row.last_active
	        ELSE e.last_active END
`

func (s *Neo4JEntityStore) UpsertEntities(ctx context.Context, entities []*entity.Entity) error {
	rows := make([]map[string]any, 0, len(entities))
	for _, e := range entities {
		if err := e.Validate(); err != nil {
			return err
		}
		row, err := entityRow(e, false)
		if err != nil {
			return err
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return nil
	}

	_, err := s.write(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return tx.Run(ctx, upsertEntityQuery, map[string]any{"rows": rows})
	})
	if err != nil {
		return fmt.Errorf("failed to upsert %d entities: %w", len(rows), err)
	}
	return nil
}

func (s *Neo4JEntityStore) UpsertTransactions(ctx context.Context, transactions []*entity.Transaction) error {
	var rows, edges []map[string]any
	for _, tx := range transactions {
		for _, e := range tx.Entities() {
			row, err := entityRow(e, e.Type == entity.EntityTypeWallet)
			if err != nil {
				return err
			}
			rows = append(rows, row)
		}
		if tx.To == "" {
			continue
		}
		edge := tx.Edge()
		edges = append(edges, map[string]any{
			"from":      edge.From,
			"to":        edge.To,
			"tx_hash":   edge.TxHash,
			"timestamp": edge.Timestamp.UTC(),
			"value":     edge.Value,
			"gas_price": edge.GasPrice,
			"status":    string(edge.Status),
			"chain":     tx.ChainOrDefault(),
		})
	}
	if len(rows) == 0 {
		return nil
	}

	_, err := s.write(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if _, err := tx.Run(ctx, upsertEntityQuery, map[string]any{"rows": rows}); err != nil {
			return nil, err
		}
		if len(edges) == 0 {
			return nil, nil
		}
		return tx.Run(ctx, `
			UNWIND $edges AS row
			MATCH (a:Entity {id: row.from})
			MATCH (b:Entity {id: row.to})
			MERGE (a)-[r:SENT_TO {tx_hash: row.tx_hash}]->(b)
			ON CREATE SET r.timestamp = row.timestamp,
			              r.value = row.value,
			              r.gas_price = row.gas_price,
			              r.status = row.status,
			              r.chain = row.chain
		`, map[string]any{"edges": edges})
	})
	if err != nil {
		return fmt.Errorf("failed to upsert %d transactions: %w", len(transactions), err)
	}
	s.logger.Debug("Upserted transactions",
		zap.Int("transactions", len(transactions)),
		zap.Int("edges", len(edges)))
	return nil
}

// AppendAlert merges on the alert id so a retried append does not fail
// on the uniqueness constraint
func (s *Neo4JEntityStore) AppendAlert(ctx context.Context, alert *entity.Alert) error {
	params, err := alertParams(alert)
	if err != nil {
		return err
	}
	_, err = s.write(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return tx.Run(ctx, `
			MERGE (a:Alert {id: $id})
			ON CREATE SET a.timestamp = $timestamp,
			              a.updated_at = $updated_at,
			              a.severity = $severity,
			              a.type = $type,
			              a.entity = $entity,
			              a.entity_type = $entity_type,
			              a.description = $description,
			              a.context_json = $context_json,
			              a.status = $status,
			              a.occurrences = $occurrences
			WITH a
			OPTIONAL MATCH (e:Entity {id: $entity})
			FOREACH (_ IN CASE WHEN e IS NULL THEN [] ELSE [1] END | MERGE (a)-[:RAISED_FOR]->(e))
		`, params)
	})
	if err != nil {
		return fmt.Errorf("failed to append alert %s: %w", alert.ID, err)
	}
	return nil
}

func (s *Neo4JEntityStore) FindOpenAlert(ctx context.Context, entityID string, alertType entity.AlertType) (*entity.Alert, error) {
	records, err := s.read(ctx, `
		MATCH (a:Alert {entity: $entity, type: $type, status: $status})
		RETURN a
		ORDER BY a.timestamp DESC
		LIMIT 1
	`, map[string]any{
		"entity": strings.ToLower(entityID),
		"type":   string(alertType),
		"status": string(entity.AlertStatusNew),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to find open alert: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}
	return alertFromRecord(records[0], "a")
}

// UpdateAlert locks the alert node, checks the expected status and the
// lifecycle, then applies the non-nil fields
func (s *Neo4JEntityStore) UpdateAlert(ctx context.Context, id string, update repository.AlertUpdate) (*entity.Alert, error) {
	result, err := s.write(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
			MATCH (a:Alert {id: $id})
			SET a._lock = true
			REMOVE a._lock
			RETURN a
		`, map[string]any{"id": id})
		if err != nil {
			return nil, err
		}
		record, err := singleRecord(ctx, res, "alert "+id)
		if err != nil {
			return nil, err
		}
		current, err := alertFromRecord(record, "a")
		if err != nil {
			return nil, err
		}
		if update.ExpectStatus != nil && current.Status != *update.ExpectStatus {
			return nil, fmt.Errorf("%w: alert %s is %s, expected %s",
				entity.ErrConcurrentModification, id, current.Status, *update.ExpectStatus)
		}
		if update.Status != nil && *update.Status != current.Status && !current.Status.CanTransitionTo(*update.Status) {
			return nil, fmt.Errorf("%w: alert %s cannot move from %s to %s",
				entity.ErrInvalidTransition, id, current.Status, *update.Status)
		}

		sets := []string{}
		params := map[string]any{"id": id}
		if update.Severity != nil {
			sets = append(sets, "a.severity = $severity")
			params["severity"] = string(*update.Severity)
		}
		if update.Description != nil {
			sets = append(sets, "a.description = $description")
			params["description"] = *update.Description
		}
		if update.Context != nil {
			raw, err := json.Marshal(update.Context)
			if err != nil {
				return nil, fmt.Errorf("failed to encode alert context: %w", err)
			}
			sets = append(sets, "a.context_json = $context_json")
			params["context_json"] = string(raw)
		}
		if update.Status != nil {
			sets = append(sets, "a.status = $status")
			params["status"] = string(*update.Status)
		}
		if update.Occurrences != nil {
			sets = append(sets, "a.occurrences = $occurrences")
			params["occurrences"] = int64(*update.Occurrences)
		}
		if !update.UpdatedAt.IsZero() {
			sets = append(sets, "a.updated_at = $updated_at")
			params["updated_at"] = update.UpdatedAt.UTC()
		}
		if len(sets) == 0 {
			return current, nil
		}

		res, err = tx.Run(ctx, "MATCH (a:Alert {id: $id}) SET "+strings.Join(sets, ", ")+" RETURN a", params)
		if err != nil {
			return nil, err
		}
		record, err = res.Single(ctx)
		if err != nil {
			return nil, err
		}
		return alertFromRecord(record, "a")
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update alert %s: %w", id, err)
	}
	return result.(*entity.Alert), nil
}

func (s *Neo4JEntityStore) GetAlert(ctx context.Context, id string) (*entity.Alert, error) {
	records, err := s.read(ctx, `MATCH (a:Alert {id: $id}) RETURN a`, map[string]any{"id": id})
	if err != nil {
		return nil, fmt.Errorf("failed to get alert %s: %w", id, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: alert %s", entity.ErrNotFound, id)
	}
	return alertFromRecord(records[0], "a")
}

func (s *Neo4JEntityStore) ListAlerts(ctx context.Context, filter repository.AlertFilter) ([]*entity.Alert, error) {
	query := `
		MATCH (a:Alert)
		WHERE ($entity = '' OR a.entity = $entity)
		  AND ($type = '' OR a.type = $type)
		  AND ($status = '' OR a.status = $status)
		RETURN a
		ORDER BY a.timestamp DESC, a.id ASC
	`
	params := map[string]any{
		"entity": strings.ToLower(filter.Entity),
		"type":   string(filter.Type),
		"status": string(filter.Status),
	}
	if filter.Limit > 0 {
		query += " LIMIT $limit"
		params["limit"] = filter.Limit
	}

	records, err := s.read(ctx, query, params)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	out := make([]*entity.Alert, 0, len(records))
	for _, record := range records {
		a, err := alertFromRecord(record, "a")
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func (s *Neo4JEntityStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx)
}

var _ repository.EntityStore = (*Neo4JEntityStore)(nil)

func entityRow(e *entity.Entity, endpoint bool) (map[string]any, error) {
	details, err := json.Marshal(entityDetails{Wallet: e.Wallet, Contract: e.Contract, Transaction: e.Transaction})
	if err != nil {
		return nil, fmt.Errorf("failed to encode details of %s: %w", e.ID, err)
	}
	row := map[string]any{
		"id":            strings.ToLower(e.ID),
		"type":          string(e.Type),
		"chain":         strings.ToLower(e.Chain),
		"address":       strings.ToLower(e.Address),
		"tags":          append([]string{}, e.Tags...),
		"details_json":  string(details),
		"metadata_json": nil,
		"first_seen":    nil,
		"last_active":   nil,
		"endpoint":      endpoint,
	}
	if len(e.Metadata) > 0 {
		raw, err := json.Marshal(e.Metadata)
		if err != nil {
			return nil, fmt.Errorf("failed to encode metadata of %s: %w", e.ID, err)
		}
		row["metadata_json"] = string(raw)
	}
	if !e.FirstSeen.IsZero() {
		row["first_seen"] = e.FirstSeen.UTC()
	}
	if !e.LastActive.IsZero() {
		row["last_active"] = e.LastActive.UTC()
	}
	return row, nil
}

func alertParams(a *entity.Alert) (map[string]any, error) {
	raw, err := json.Marshal(a.Context)
	if err != nil {
		return nil, fmt.Errorf("failed to encode alert context: %w", err)
	}
	return map[string]any{
		"id":           a.ID,
		"timestamp":    a.Timestamp.UTC(),
		"updated_at":   a.UpdatedAt.UTC(),
		"severity":     string(a.Severity),
		"type":         string(a.Type),
		"entity":       strings.ToLower(a.Entity),
		"entity_type":  string(a.EntityType),
		"description":  a.Description,
		"context_json": string(raw),
		"status":       string(a.Status),
		"occurrences":  int64(a.Occurrences),
	}, nil
}

func nodeProps(record *neo4j.Record, key string) (map[string]any, error) {
	val, ok := record.Get(key)
	if !ok {
		return nil, fmt.Errorf("record has no %q column", key)
	}
	node, ok := val.(neo4j.Node)
	if !ok {
		return nil, fmt.Errorf("column %q is %T, not a node", key, val)
	}
	return node.Props, nil
}

func entityFromRecord(record *neo4j.Record, key string) (*entity.Entity, error) {
	props, err := nodeProps(record, key)
	if err != nil {
		return nil, err
	}
	e := &entity.Entity{
		ID:                propString(props, "id"),
		Type:              entity.EntityType(propString(props, "type")),
		Chain:             propString(props, "chain"),
		Address:           propString(props, "address"),
		FirstSeen:         propTime(props, "first_seen"),
		LastActive:        propTime(props, "last_active"),
		Tags:              propStrings(props, "tags"),
		RiskCategory:      entity.RiskCategory(propString(props, "risk_category")),
		EvaluationVersion: propInt64(props, "evaluation_version"),
		LastEvaluated:     propTime(props, "last_evaluated"),
	}
	if v, ok := props["risk_score"]; ok && v != nil {
		if f, ok := v.(float64); ok {
			e.RiskScore = &f
		}
	}
	if raw := propString(props, "risk_factors_json"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &e.RiskFactors); err != nil {
			return nil, fmt.Errorf("failed to decode risk factors of %s: %w", e.ID, err)
		}
	}
	if raw := propString(props, "details_json"); raw != "" {
		var d entityDetails
		if err := json.Unmarshal([]byte(raw), &d); err != nil {
			return nil, fmt.Errorf("failed to decode details of %s: %w", e.ID, err)
		}
		e.Wallet, e.Contract, e.Transaction = d.Wallet, d.Contract, d.Transaction
	}
	if raw := propString(props, "metadata_json"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &e.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode metadata of %s: %w", e.ID, err)
		}
	}
	return e, nil
}

func alertFromRecord(record *neo4j.Record, key string) (*entity.Alert, error) {
	props, err := nodeProps(record, key)
	if err != nil {
		return nil, err
	}
	a := &entity.Alert{
		ID:          propString(props, "id"),
		Timestamp:   propTime(props, "timestamp"),
		UpdatedAt:   propTime(props, "updated_at"),
		Severity:    entity.Severity(propString(props, "severity")),
		Type:        entity.AlertType(propString(props, "type")),
		Entity:      propString(props, "entity"),
		EntityType:  entity.EntityType(propString(props, "entity_type")),
		Description: propString(props, "description"),
		Status:      entity.AlertStatus(propString(props, "status")),
		Occurrences: int(propInt64(props, "occurrences")),
	}
	if raw := propString(props, "context_json"); raw != "" && raw != "null" {
		if err := json.Unmarshal([]byte(raw), &a.Context); err != nil {
			return nil, fmt.Errorf("failed to decode context of alert %s: %w", a.ID, err)
		}
	}
	return a, nil
}

func edgeFromRecord(record *neo4j.Record) *entity.Edge {
	return &entity.Edge{
		TxHash:    recordString(record, "tx_hash"),
		From:      recordString(record, "from"),
		To:        recordString(record, "to"),
		Timestamp: recordTime(record, "timestamp"),
		Value:     recordFloat64(record, "value"),
		GasPrice:  recordFloat64(record, "gas_price"),
		Status:    entity.TxStatus(recordString(record, "status")),
	}
}

// Helper functions to safely extract values from node properties and records

func propString(props map[string]any, key string) string {
	if s, ok := props[key].(string); ok {
		return s
	}
	return ""
}

func propInt64(props map[string]any, key string) int64 {
	switch v := props[key].(type) {
	case int64:
		return v
	case float64:
		return int64(v)
	}
	return 0
}

func propTime(props map[string]any, key string) time.Time {
	switch v := props[key].(type) {
	case time.Time:
		return v.UTC()
	case neo4j.LocalDateTime:
		return v.Time().UTC()
	case string:
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			return t
		}
	}
	return time.Time{}
}

func propStrings(props map[string]any, key string) []string {
	list, ok := props[key].([]any)
	if !ok || len(list) == 0 {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func recordString(record *neo4j.Record, key string) string {
	if val, ok := record.Get(key); ok && val != nil {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}

func recordInt64(record *neo4j.Record, key string) int64 {
	if val, ok := record.Get(key); ok && val != nil {
		return propInt64(map[string]any{key: val}, key)
	}
	return 0
}

func recordFloat64(record *neo4j.Record, key string) float64 {
	if val, ok := record.Get(key); ok && val != nil {
		if f, ok := val.(float64); ok {
			return f
		}
		if i, ok := val.(int64); ok {
			return float64(i)
		}
	}
	return 0
}

func recordTime(record *neo4j.Record, key string) time.Time {
	if val, ok := record.Get(key); ok && val != nil {
		return propTime(map[string]any{key: val}, key)
	}
	return time.Time{}
}
