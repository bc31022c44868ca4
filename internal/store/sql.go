package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/ngram-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/ngram-search/pkg/postgres"
)

// dialect captures what differs between the PostgreSQL and SQLite backends:
// DDL and placeholder syntax. Queries are written with '?' placeholders.
type dialect struct {
	name    string
	schema  string
	numbers bool
}

func (d dialect) bind(query string) string {
	if !d.numbers {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

const (
	upsertDocumentSQL = `INSERT INTO ngs_documents (namespace, id, content) VALUES (?, ?, ?)
ON CONFLICT (namespace, id) DO UPDATE SET content = excluded.content`
	selectDocumentSQL = `SELECT content FROM ngs_documents WHERE namespace = ? AND id = ?`
	deleteDocumentSQL = `DELETE FROM ngs_documents WHERE namespace = ?`

	upsertTermSQL = `INSERT INTO ngs_terms (namespace, term, position, postings) VALUES (?, ?, ?, ?)
ON CONFLICT (namespace, term) DO UPDATE SET position = excluded.position, postings = excluded.postings`
	selectTermSQL = `SELECT position, postings FROM ngs_terms WHERE namespace = ? AND term = ?`
	deleteTermSQL = `DELETE FROM ngs_terms WHERE namespace = ?`

	listNamespacesSQL = `SELECT namespace FROM ngs_documents WHERE namespace LIKE ?
UNION SELECT namespace FROM ngs_terms WHERE namespace LIKE ?`
)

// sqlProvider is shared by the PostgreSQL and SQLite backends. Every row
// carries its namespace so generations live side by side in the same tables.
type sqlProvider struct {
	db      *sql.DB
	dialect dialect
	prefix  string
	close   func() error
}

func newSQLProvider(ctx context.Context, db *sql.DB, d dialect, prefix string, closeFn func() error) (*sqlProvider, error) {
	if d.schema != "" {
		if _, err := db.ExecContext(ctx, d.schema); err != nil {
			return nil, fmt.Errorf("initializing %s schema: %w", d.name, err)
		}
	}
	if prefix == "" {
		prefix = "ngs"
	}
	return &sqlProvider{db: db, dialect: d, prefix: prefix, close: closeFn}, nil
}

func (p *sqlProvider) Open(_ context.Context, namespace string) (*Stores, error) {
	ns := p.prefix + ":" + namespace
	return &Stores{
		Documents: &sqlDocuments{db: p.db, d: p.dialect, ns: ns},
		Terms:     &sqlTerms{db: p.db, d: p.dialect, ns: ns},
	}, nil
}

// ListNamespaces returns every namespace under the provider's prefix that
// still has rows.
func (p *sqlProvider) ListNamespaces(ctx context.Context) ([]string, error) {
	head := p.prefix + ":"
	pattern := head + "%"
	rows, err := p.db.QueryContext(ctx, p.dialect.bind(listNamespacesSQL), pattern, pattern)
	if err != nil {
		return nil, fmt.Errorf("listing namespaces: %w", err)
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var ns string
		if err := rows.Scan(&ns); err != nil {
			return nil, fmt.Errorf("scanning namespace: %w", err)
		}
		// LIKE treats '_' in the prefix as a wildcard.
		if name, ok := strings.CutPrefix(ns, head); ok {
			names = append(names, name)
		}
	}
	return names, rows.Err()
}

func (p *sqlProvider) Name() string { return p.dialect.name }

func (p *sqlProvider) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

func (p *sqlProvider) Close() error {
	if p.close != nil {
		return p.close()
	}
	return p.db.Close()
}

type sqlDocuments struct {
	db *sql.DB
	d  dialect
	ns string
}

func (s *sqlDocuments) Put(ctx context.Context, id int, content string) error {
	if _, err := s.db.ExecContext(ctx, s.d.bind(upsertDocumentSQL), s.ns, id, content); err != nil {
		return fmt.Errorf("storing document %d: %w", id, err)
	}
	return nil
}

func (s *sqlDocuments) Get(ctx context.Context, id int) (string, error) {
	var content string
	err := s.db.QueryRowContext(ctx, s.d.bind(selectDocumentSQL), s.ns, id).Scan(&content)
	if errors.Is(err, sql.ErrNoRows) {
		return "", documentNotFound(id)
	}
	if err != nil {
		return "", fmt.Errorf("loading document %d: %w", id, err)
	}
	return content, nil
}

func (s *sqlDocuments) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, s.d.bind(deleteDocumentSQL), s.ns); err != nil {
		return fmt.Errorf("clearing documents: %w", err)
	}
	return nil
}

type sqlTerms struct {
	db *sql.DB
	d  dialect
	ns string
}

func (s *sqlTerms) Put(ctx context.Context, entry index.TermEntry) error {
	postings, err := json.Marshal(entry.Postings)
	if err != nil {
		return fmt.Errorf("marshaling postings for term %q: %w", entry.Term, err)
	}
	if _, err := s.db.ExecContext(ctx, s.d.bind(upsertTermSQL), s.ns, entry.Term, entry.Position, string(postings)); err != nil {
		return fmt.Errorf("storing term %q: %w", entry.Term, err)
	}
	return nil
}

// PutMany writes entries inside one transaction with a prepared statement.
func (s *sqlTerms) PutMany(ctx context.Context, entries []index.TermEntry) error {
	return postgres.InTx(ctx, s.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, s.d.bind(upsertTermSQL))
		if err != nil {
			return fmt.Errorf("preparing term upsert: %w", err)
		}
		defer stmt.Close()
		for _, entry := range entries {
			postings, err := json.Marshal(entry.Postings)
			if err != nil {
				return fmt.Errorf("marshaling postings for term %q: %w", entry.Term, err)
			}
			if _, err := stmt.ExecContext(ctx, s.ns, entry.Term, entry.Position, string(postings)); err != nil {
				return fmt.Errorf("storing term %q: %w", entry.Term, err)
			}
		}
		return nil
	})
}

func (s *sqlTerms) Get(ctx context.Context, term string) (index.TermEntry, error) {
	var (
		position int
		raw      string
	)
	err := s.db.QueryRowContext(ctx, s.d.bind(selectTermSQL), s.ns, term).Scan(&position, &raw)
	if errors.Is(err, sql.ErrNoRows) {
		return index.TermEntry{}, termNotFound(term)
	}
	if err != nil {
		return index.TermEntry{}, fmt.Errorf("loading term %q: %w", term, err)
	}
	var postings index.PostingList
	if err := json.Unmarshal([]byte(raw), &postings); err != nil {
		return index.TermEntry{}, fmt.Errorf("decoding postings for term %q: %w", term, err)
	}
	return index.TermEntry{Term: term, Position: position, Postings: postings}, nil
}

func (s *sqlTerms) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, s.d.bind(deleteTermSQL), s.ns); err != nil {
		return fmt.Errorf("clearing terms: %w", err)
	}
	return nil
}
