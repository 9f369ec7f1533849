// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package knowledge

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rtolwani/iacuc-protocol-generator/internal/pipeline"
)

// Search returns ranked snippets for a stage's declared query,
// satisfying the pipeline's Searcher interface. Query terms match with
// OR semantics so a partially matching guideline still surfaces; tags
// filter with AND semantics. An empty query lists by id.
func (s *Store) Search(ctx context.Context, query string, tags []string, topK int) ([]pipeline.Snippet, error) {
	if topK <= 0 {
		topK = s.maxResults
	}

	var (
		qb     strings.Builder
		args   []any
		match  = matchExpr(query)
		useFTS = match != ""
	)

	if useFTS {
		qb.WriteString(
			`SELECT g.id, g.title, g.body, g.tags, guidelines_fts.rank
			FROM guidelines_fts
			JOIN guidelines g ON g.rowid = guidelines_fts.rowid
			WHERE guidelines_fts MATCH ?`)
		args = append(args, match)
	} else {
		qb.WriteString(
			`SELECT g.id, g.title, g.body, g.tags, 0 AS rank
			FROM guidelines g
			WHERE 1=1`)
	}

	for _, tag := range tags {
		qb.WriteString(` AND EXISTS (SELECT 1 FROM json_each(g.tags) WHERE value = ?)`)
		args = append(args, tag)
	}

	if useFTS {
		qb.WriteString(` ORDER BY guidelines_fts.rank`)
	} else {
		qb.WriteString(` ORDER BY g.id`)
	}
	qb.WriteString(` LIMIT ?`)
	args = append(args, topK)

	rows, err := s.db.QueryContext(ctx, qb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("querying knowledge base: %w", err)
	}
	defer rows.Close()

	var snippets []pipeline.Snippet
	for rows.Next() {
		var (
			snip     pipeline.Snippet
			tagsJSON sql.NullString
			rank     float64
		)
		if err := rows.Scan(&snip.ID, &snip.Title, &snip.Body, &tagsJSON, &rank); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		if tagsJSON.Valid {
			json.Unmarshal([]byte(tagsJSON.String), &snip.Tags)
		}
		// bm25 rank is negative for better matches.
		snip.Score = -rank
		snippets = append(snippets, snip)
	}
	return snippets, rows.Err()
}

// matchExpr turns a free-text query into an FTS5 match expression.
// Terms are quoted so punctuation in answer values cannot break the
// match syntax.
func matchExpr(query string) string {
	fields := strings.Fields(query)
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		terms = append(terms, `"`+strings.ReplaceAll(f, `"`, ``)+`"`)
	}
	return strings.Join(terms, " OR ")
}
