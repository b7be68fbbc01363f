package neo4j

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/yairfalse/sift/pkg/domain"
)

// Statement is one parameterized Cypher query
type Statement struct {
	Name   string
	Cypher string
	Params map[string]any
}

// Executor runs statements against a graph database. *Client implements it.
type Executor interface {
	Write(ctx context.Context, statements []Statement) error
	Read(ctx context.Context, st Statement) ([]map[string]any, error)
}

// GraphStore mirrors investigations and their correlations as a graph:
//
//	(:Investigation)-[:HAS_EVENT]->(:ForensicEvent)-[:CORRELATES_WITH]->(:OSINTItem)<-[:HAS_ITEM]-(:Investigation)
type GraphStore struct {
	exec   Executor
	logger *zap.Logger
}

// NewGraphStore creates a graph store on top of an executor
func NewGraphStore(exec Executor, logger *zap.Logger) (*GraphStore, error) {
	if exec == nil {
		return nil, fmt.Errorf("neo4j executor is required")
	}
	return &GraphStore{exec: exec, logger: logger}, nil
}

// EnsureSchema creates constraints and indexes; safe to call repeatedly
func (g *GraphStore) EnsureSchema(ctx context.Context) error {
	g.logger.Info("Initializing Neo4j schema")
	for _, st := range SchemaStatements() {
		if err := g.exec.Write(ctx, []Statement{st}); err != nil {
			return fmt.Errorf("neo4j schema %s: %w", st.Name, err)
		}
	}
	return nil
}

// SyncRun replaces the graph for one investigation with the given run output
func (g *GraphStore) SyncRun(ctx context.Context, inv *domain.Investigation, events []domain.ForensicEvent, items []domain.OSINTItem, correlations []domain.Correlation) error {
	start := time.Now()
	if err := g.exec.Write(ctx, SyncStatements(inv, events, items, correlations)); err != nil {
		return fmt.Errorf("sync investigation %s to neo4j: %w", inv.ID, err)
	}
	g.logger.Debug("Synced investigation graph",
		zap.String("investigation_id", string(inv.ID)),
		zap.Int("events", len(events)),
		zap.Int("items", len(items)),
		zap.Int("correlations", len(correlations)),
		zap.Duration("duration", time.Since(start)))
	return nil
}

// DeleteInvestigation removes the investigation subgraph
func (g *GraphStore) DeleteInvestigation(ctx context.Context, id domain.InvestigationID) error {
	return g.exec.Write(ctx, []Statement{{
		Name: "delete investigation",
		Cypher: `MATCH (i:Investigation {id: $investigation_id})
OPTIONAL MATCH (i)-[:HAS_EVENT|HAS_ITEM]->(n)
DETACH DELETE i, n`,
		Params: map[string]any{"investigation_id": string(id)},
	}})
}

// CorrelationEdge is a CORRELATES_WITH relationship read back from the graph
type CorrelationEdge struct {
	EventID  string
	ItemID   string
	FilePath string
	Title    string
	Strength float64
}

// TopCorrelations returns the strongest edges of an investigation
func (g *GraphStore) TopCorrelations(ctx context.Context, id domain.InvestigationID, limit int) ([]CorrelationEdge, error) {
	rows, err := g.exec.Read(ctx, Statement{
		Name: "top correlations",
		Cypher: `MATCH (:Investigation {id: $investigation_id})-[:HAS_EVENT]->(e:ForensicEvent)-[r:CORRELATES_WITH]->(o:OSINTItem)
RETURN e.id AS event_id, o.id AS item_id, e.file_path AS file_path, o.title AS title, r.strength AS strength
ORDER BY r.rank
LIMIT $limit`,
		Params: map[string]any{"investigation_id": string(id), "limit": int64(limit)},
	})
	if err != nil {
		return nil, err
	}

	edges := make([]CorrelationEdge, 0, len(rows))
	for _, row := range rows {
		edge := CorrelationEdge{}
		edge.EventID, _ = row["event_id"].(string)
		edge.ItemID, _ = row["item_id"].(string)
		edge.FilePath, _ = row["file_path"].(string)
		edge.Title, _ = row["title"].(string)
		edge.Strength, _ = row["strength"].(float64)
		edges = append(edges, edge)
	}
	return edges, nil
}

// SchemaStatements returns the uniqueness constraints and lookup indexes
func SchemaStatements() []Statement {
	return []Statement{
		{
			Name: "investigation_id_unique",
			Cypher: `CREATE CONSTRAINT investigation_id_unique IF NOT EXISTS
FOR (i:Investigation) REQUIRE i.id IS UNIQUE`,
		},
		{
			Name: "forensic_event_key",
			Cypher: `CREATE CONSTRAINT forensic_event_key IF NOT EXISTS
FOR (e:ForensicEvent) REQUIRE (e.investigation_id, e.id) IS UNIQUE`,
		},
		{
			Name: "osint_item_key",
			Cypher: `CREATE CONSTRAINT osint_item_key IF NOT EXISTS
FOR (o:OSINTItem) REQUIRE (o.investigation_id, o.id) IS UNIQUE`,
		},
		{
			Name: "forensic_event_timestamp",
			Cypher: `CREATE INDEX forensic_event_timestamp IF NOT EXISTS
FOR (e:ForensicEvent) ON (e.timestamp)`,
		},
		{
			Name: "correlation_strength",
			Cypher: `CREATE INDEX correlation_strength IF NOT EXISTS
FOR ()-[r:CORRELATES_WITH]-() ON (r.strength)`,
		},
	}
}

// SyncStatements builds the write batch for SyncRun. Previous correlation
// edges are dropped so the graph reflects only the latest run.
func SyncStatements(inv *domain.Investigation, events []domain.ForensicEvent, items []domain.OSINTItem, correlations []domain.Correlation) []Statement {
	id := string(inv.ID)

	invParams := map[string]any{
		"investigation_id": id,
		"name":             inv.Name,
		"status":           string(inv.Status),
		"location_name":    inv.LocationName,
	}
	addCoordinate(invParams, inv.Location)

	eventRows := make([]map[string]any, len(events))
	for i := range events {
		e := &events[i]
		row := map[string]any{
			"id":         e.ID,
			"file_path":  e.FilePath,
			"event_type": string(e.Type),
			"extension":  e.Extension(),
			"timestamp":  timeParam(e.Timestamp),
		}
		addCoordinate(row, e.Location)
		eventRows[i] = row
	}

	itemRows := make([]map[string]any, len(items))
	for i := range items {
		it := &items[i]
		row := map[string]any{
			"id":        it.ID,
			"source":    string(it.Source),
			"title":     it.Title,
			"url":       it.URL,
			"author":    it.Author,
			"timestamp": timeParam(it.Timestamp),
		}
		addCoordinate(row, it.Location)
		itemRows[i] = row
	}

	correlationRows := make([]map[string]any, len(correlations))
	for i := range correlations {
		c := &correlations[i]
		row := map[string]any{
			"id":         c.ID,
			"event_id":   c.EventID,
			"item_id":    c.ItemID,
			"rank":       int64(i),
			"strength":   c.Strength,
			"confidence": string(domain.ConfidenceOf(c.Strength)),
			"temporal":   scoreParam(c.Temporal),
			"spatial":    scoreParam(c.Spatial),
			"content":    scoreParam(c.Content),
			"narrative":  nil,
		}
		if c.Narrative != nil {
			row["narrative"] = *c.Narrative
		}
		correlationRows[i] = row
	}

	return []Statement{
		{
			Name: "merge investigation",
			Cypher: `MERGE (i:Investigation {id: $investigation_id})
SET i.name = $name, i.status = $status, i.location_name = $location_name,
    i.lat = $lat, i.lon = $lon`,
			Params: invParams,
		},
		{
			Name: "merge events",
			Cypher: `MATCH (i:Investigation {id: $investigation_id})
UNWIND $events AS ev
MERGE (e:ForensicEvent {investigation_id: $investigation_id, id: ev.id})
SET e.file_path = ev.file_path, e.event_type = ev.event_type, e.extension = ev.extension,
    e.timestamp = ev.timestamp, e.lat = ev.lat, e.lon = ev.lon
MERGE (i)-[:HAS_EVENT]->(e)`,
			Params: map[string]any{"investigation_id": id, "events": eventRows},
		},
		{
			Name: "merge items",
			Cypher: `MATCH (i:Investigation {id: $investigation_id})
UNWIND $items AS it
MERGE (o:OSINTItem {investigation_id: $investigation_id, id: it.id})
SET o.source = it.source, o.title = it.title, o.url = it.url, o.author = it.author,
    o.timestamp = it.timestamp, o.lat = it.lat, o.lon = it.lon
MERGE (i)-[:HAS_ITEM]->(o)`,
			Params: map[string]any{"investigation_id": id, "items": itemRows},
		},
		{
			Name: "clear correlations",
			Cypher: `MATCH (:Investigation {id: $investigation_id})-[:HAS_EVENT]->(:ForensicEvent)-[r:CORRELATES_WITH]->()
DELETE r`,
			Params: map[string]any{"investigation_id": id},
		},
		{
			Name: "create correlations",
			Cypher: `UNWIND $correlations AS c
MATCH (e:ForensicEvent {investigation_id: $investigation_id, id: c.event_id})
MATCH (o:OSINTItem {investigation_id: $investigation_id, id: c.item_id})
CREATE (e)-[r:CORRELATES_WITH {id: c.id}]->(o)
SET r.rank = c.rank, r.strength = c.strength, r.confidence = c.confidence,
    r.temporal = c.temporal, r.spatial = c.spatial, r.content = c.content, r.narrative = c.narrative`,
			Params: map[string]any{"investigation_id": id, "correlations": correlationRows},
		},
	}
}

func addCoordinate(params map[string]any, c *domain.Coordinate) {
	if c == nil {
		params["lat"], params["lon"] = nil, nil
		return
	}
	params["lat"], params["lon"] = c.Lat, c.Lon
}

func timeParam(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func scoreParam(s domain.Score) any {
	if v, ok := s.Value(); ok {
		return v
	}
	return nil
}
