// Package neo4j backs the document retrieval capability with a Neo4j
// full-text index over logistics policy documents.
package neo4j

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"golang.org/x/sync/errgroup"
)

const DefaultDatabase = "neo4j"

// fulltextIndex is the index over Document.title and Document.content.
const fulltextIndex = "document_content"

// Retriever implements workflow.Retriever over a Neo4j full-text index.
type Retriever struct {
	driver   neo4j.DriverWithContext
	database string
	log      *slog.Logger
}

// NewRetriever creates a retriever and verifies connectivity.
func NewRetriever(ctx context.Context, log *slog.Logger, uri, database, username, password string) (*Retriever, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("verify neo4j connectivity: %w", err)
	}
	if database == "" {
		database = DefaultDatabase
	}
	log.Info("neo4j retriever initialized", "uri", uri, "database", database)
	return &Retriever{driver: driver, database: database, log: log}, nil
}

// Close releases the underlying driver.
func (r *Retriever) Close(ctx context.Context) error {
	return r.driver.Close(ctx)
}

// EnsureIndex creates the full-text index if it does not exist.
func (r *Retriever) EnsureIndex(ctx context.Context) error {
	sess := r.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: r.database})
	defer sess.Close(ctx)

	_, err := sess.Run(ctx, fmt.Sprintf(
		`CREATE FULLTEXT INDEX %s IF NOT EXISTS FOR (d:Document) ON EACH [d.title, d.content]`,
		fulltextIndex), nil)
	if err != nil {
		return fmt.Errorf("ensure fulltext index: %w", err)
	}
	return nil
}

// Retrieve returns up to k passages ranked by full-text relevance.
func (r *Retriever) Retrieve(ctx context.Context, query string, k int) ([]string, error) {
	if k <= 0 {
		k = 3
	}
	sess := r.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: r.database})
	defer sess.Close(ctx)

	records, err := neo4j.ExecuteRead(ctx, sess, func(tx neo4j.ManagedTransaction) ([]*neo4j.Record, error) {
		res, err := tx.Run(ctx, fmt.Sprintf(`
			CALL db.index.fulltext.queryNodes('%s', $query)
			YIELD node, score
			RETURN node.title AS title, node.content AS content
			ORDER BY score DESC
			LIMIT $k`, fulltextIndex),
			map[string]any{"query": fulltextQuery(query), "k": k})
		if err != nil {
			return nil, err
		}
		return res.Collect(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("fulltext search: %w", err)
	}

	passages := make([]string, 0, len(records))
	for _, rec := range records {
		title, _ := rec.Get("title")
		content, _ := rec.Get("content")
		passages = append(passages, fmt.Sprintf("[%v]\n%v", title, content))
	}
	r.log.Debug("documents retrieved", "query", query, "count", len(passages))
	return passages, nil
}

// fulltextQuery turns free text into a Lucene OR query, escaping
// special characters.
func fulltextQuery(text string) string {
	replacer := strings.NewReplacer(
		"+", " ", "-", " ", "&", " ", "|", " ", "!", " ", "(", " ", ")", " ",
		"{", " ", "}", " ", "[", " ", "]", " ", "^", " ", "\"", " ", "~", " ",
		"*", " ", "?", " ", ":", " ", "\\", " ", "/", " ",
	)
	terms := strings.Fields(replacer.Replace(text))
	return strings.Join(terms, " OR ")
}

// AddDocument upserts a policy document node; used by indexing jobs and
// integration tests.
func (r *Retriever) AddDocument(ctx context.Context, title, content string) error {
	sess := r.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: r.database})
	defer sess.Close(ctx)

	_, err := neo4j.ExecuteWrite(ctx, sess, func(tx neo4j.ManagedTransaction) (any, error) {
		return tx.Run(ctx, `
			MERGE (d:Document {title: $title})
			SET d.content = $content`,
			map[string]any{"title": title, "content": content})
	})
	if err != nil {
		return fmt.Errorf("add document: %w", err)
	}
	return nil
}

// Document is a title/content pair for bulk loading.
type Document struct {
	Title   string
	Content string
}

// LoadDocuments upserts documents concurrently.
func (r *Retriever) LoadDocuments(ctx context.Context, docs []Document) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, doc := range docs {
		g.Go(func() error {
			return r.AddDocument(ctx, doc.Title, doc.Content)
		})
	}
	return g.Wait()
}
