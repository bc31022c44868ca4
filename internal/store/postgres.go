package store

import (
	"context"

	"github.com/Adithya-Monish-Kumar-K/ngram-search/pkg/postgres"
)

var postgresDialect = dialect{name: "postgres", numbers: true}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS ngs_documents (
	namespace TEXT    NOT NULL,
	id        INTEGER NOT NULL,
	content   TEXT    NOT NULL,
	PRIMARY KEY (namespace, id)
);
CREATE TABLE IF NOT EXISTS ngs_terms (
	namespace TEXT    NOT NULL,
	term      TEXT    NOT NULL,
	position  INTEGER NOT NULL,
	postings  JSONB   NOT NULL,
	PRIMARY KEY (namespace, term)
);`

// NewPostgresProvider creates the tables if needed and returns a provider
// that owns client.
func NewPostgresProvider(ctx context.Context, client *postgres.Client, prefix string) (Provider, error) {
	if err := client.Migrate(ctx, "ngs_store", postgresSchema); err != nil {
		return nil, err
	}
	return newSQLProvider(ctx, client.DB, postgresDialect, prefix, client.Close)
}
