package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"fleet-tracker/internal/fleet"
	"fleet-tracker/internal/topology"
)

func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

func Ping(ctx context.Context, db *sql.DB) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return db.PingContext(ctx)
}

const schema = `
CREATE TABLE IF NOT EXISTS redes (
  id         TEXT PRIMARY KEY,
  nome       TEXT NOT NULL DEFAULT '',
  descricao  TEXT NOT NULL DEFAULT '',
  json       TEXT NOT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// Provider reads network topologies from the redes table. Each row stores the
// topology document as JSON next to its display metadata.
type Provider struct {
	db *sql.DB
}

func NewProvider(db *sql.DB) *Provider {
	return &Provider{db: db}
}

// EnsureSchema creates the redes table when it does not exist.
func (p *Provider) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create redes table: %w", err)
	}
	return nil
}

func (p *Provider) Load(ctx context.Context, id string) (*fleet.Network, error) {
	q := `SELECT COALESCE(nome, ''), COALESCE(descricao, ''), json FROM redes WHERE id = $1`
	var name, desc string
	var raw []byte
	if err := p.db.QueryRowContext(ctx, q, id).Scan(&name, &desc, &raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", topology.ErrNotFound, id)
		}
		return nil, fmt.Errorf("query network %s: %w", id, err)
	}
	return decodeRow(id, name, desc, raw)
}

func (p *Provider) List(ctx context.Context) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id FROM redes ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query networks: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// decodeRow builds the network from a stored document. Column metadata wins
// over the copy embedded in the document.
func decodeRow(id, name, desc string, raw []byte) (*fleet.Network, error) {
	doc, err := topology.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("network %s: %w", id, err)
	}
	if name != "" {
		doc.Name = name
	}
	if desc != "" {
		doc.Description = desc
	}
	return doc.Network(id)
}
