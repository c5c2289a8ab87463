// Package knowledge mirrors the document/section/topic structure of the
// ingested corpus into Neo4j. The query path reads it back to enrich cited
// sources, and the reconcile flow uses it to inspect what a document looked
// like at the last sync.
package knowledge

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

type Document struct {
	Name     string
	URL      string
	Version  string
	Type     string
	Topics   []string
	Sections []Section
}

type Section struct {
	Breadcrumb string
	Title      string
	Depth      int
	Order      int
	Hash       string
}

// Insight is the per-document summary attached to cited sources.
type Insight struct {
	SectionCount int
	Topics       []string
	Version      string
	URL          string
}

type Graph interface {
	SyncDocument(ctx context.Context, doc Document) error
	DocumentInsights(ctx context.Context, names []string) (map[string]Insight, error)
}

type Neo4jGraph struct {
	driver neo4j.DriverWithContext
}

func NewNeo4jGraph(driver neo4j.DriverWithContext) *Neo4jGraph {
	return &Neo4jGraph{driver: driver}
}

var _ Graph = (*Neo4jGraph)(nil)

// SyncDocument replaces the stored structure of one document with the current
// revision. Sections and topics of earlier revisions are detached first so a
// shrunken tree does not leave stale nodes behind.
func (g *Neo4jGraph) SyncDocument(ctx context.Context, doc Document) error {
	if g.driver == nil {
		return fmt.Errorf("neo4j driver is nil")
	}

	session := g.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if _, err := tx.Run(ctx, `
			MERGE (d:Document {name: $name})
			SET d.url = $url,
			    d.version = $version,
			    d.type = $type
			WITH d
			OPTIONAL MATCH (d)-[:HAS_SECTION]->(s:Section)
			DETACH DELETE s
		`, map[string]any{
			"name":    doc.Name,
			"url":     doc.URL,
			"version": doc.Version,
			"type":    doc.Type,
		}); err != nil {
			return nil, err
		}

		if _, err := tx.Run(ctx, `
			MATCH (d:Document {name: $name})
			OPTIONAL MATCH (d)-[r:HAS_TOPIC]->(:Topic)
			DELETE r
		`, map[string]any{"name": doc.Name}); err != nil {
			return nil, err
		}

		for _, section := range doc.Sections {
			if _, err := tx.Run(ctx, `
				MATCH (d:Document {name: $name})
				CREATE (s:Section {breadcrumb: $breadcrumb, title: $title, depth: $depth, hash: $hash})
				CREATE (d)-[:HAS_SECTION {order: $order}]->(s)
			`, map[string]any{
				"name":       doc.Name,
				"breadcrumb": section.Breadcrumb,
				"title":      section.Title,
				"depth":      section.Depth,
				"hash":       section.Hash,
				"order":      section.Order,
			}); err != nil {
				return nil, err
			}
		}

		for _, topic := range doc.Topics {
			if _, err := tx.Run(ctx, `
				MATCH (d:Document {name: $name})
				MERGE (t:Topic {name: $topic})
				MERGE (d)-[:HAS_TOPIC]->(t)
			`, map[string]any{"name": doc.Name, "topic": topic}); err != nil {
				return nil, err
			}
		}

		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("sync document %q: %w", doc.Name, err)
	}
	return nil
}

func (g *Neo4jGraph) DocumentInsights(ctx context.Context, names []string) (map[string]Insight, error) {
	if g.driver == nil {
		return nil, fmt.Errorf("neo4j driver is nil")
	}
	if len(names) == 0 {
		return map[string]Insight{}, nil
	}

	session := g.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.Run(ctx, `
		MATCH (d:Document)
		WHERE d.name IN $names
		OPTIONAL MATCH (d)-[:HAS_SECTION]->(s:Section)
		OPTIONAL MATCH (d)-[:HAS_TOPIC]->(t:Topic)
		WITH d, count(DISTINCT s) AS sectionCount, collect(DISTINCT t.name) AS topicNames
		RETURN d.name AS name,
		       d.url AS url,
		       d.version AS version,
		       sectionCount,
		       [t IN topicNames WHERE t IS NOT NULL] AS topics
	`, map[string]any{"names": names})
	if err != nil {
		return nil, fmt.Errorf("run insights query: %w", err)
	}

	insights := make(map[string]Insight, len(names))
	for result.Next(ctx) {
		record := result.Record()
		nameVal, _ := record.Get("name")
		name, ok := nameVal.(string)
		if !ok {
			continue
		}

		var insight Insight
		if v, _ := record.Get("url"); v != nil {
			insight.URL, _ = v.(string)
		}
		if v, _ := record.Get("version"); v != nil {
			insight.Version, _ = v.(string)
		}
		if v, _ := record.Get("sectionCount"); v != nil {
			switch count := v.(type) {
			case int64:
				insight.SectionCount = int(count)
			case int32:
				insight.SectionCount = int(count)
			}
		}
		if v, _ := record.Get("topics"); v != nil {
			if raw, ok := v.([]any); ok {
				for _, item := range raw {
					if topic, ok := item.(string); ok && topic != "" {
						insight.Topics = append(insight.Topics, topic)
					}
				}
			}
		}

		insights[name] = insight
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("insights result: %w", err)
	}
	return insights, nil
}
