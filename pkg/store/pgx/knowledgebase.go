package pgx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sd8capricon/graph-rag/pkg/common"

	pgxv5 "github.com/jackc/pgx/v5"
)

const getKnowledgeBaseSQL = `
SELECT id, name, description, extraction_prompt, ontology
FROM knowledge_bases
WHERE id = $1;
`

// The stored ontology is kept when the incoming one is NULL so a registry
// update without an ontology does not erase the resolved one.
const upsertKnowledgeBaseSQL = `
INSERT INTO knowledge_bases (id, name, description, extraction_prompt, ontology)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (id) DO UPDATE
SET name              = EXCLUDED.name,
    description       = EXCLUDED.description,
    extraction_prompt = EXCLUDED.extraction_prompt,
    ontology          = COALESCE(EXCLUDED.ontology, knowledge_bases.ontology),
    updated_at        = now()
RETURNING (xmax = 0) AS created;
`

const listKnowledgeBasesSQL = `
SELECT id, name, description, extraction_prompt, ontology
FROM knowledge_bases
ORDER BY created_at, id;
`

// GetByID returns nil and no error when the knowledge base does not exist.
func (s *Store) GetByID(ctx context.Context, id string) (*common.KnowledgeBase, error) {
	kb, err := scanKnowledgeBase(s.conn.QueryRow(ctx, getKnowledgeBaseSQL, id))
	if errors.Is(err, pgxv5.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get knowledge base %s: %w", id, err)
	}
	return kb, nil
}

// MustGet is GetByID with ErrKnowledgeBaseNotFound for a missing row.
func (s *Store) MustGet(ctx context.Context, id string) (*common.KnowledgeBase, error) {
	kb, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if kb == nil {
		return nil, fmt.Errorf("%w: %s", ErrKnowledgeBaseNotFound, id)
	}
	return kb, nil
}

// Upsert inserts or updates the registry row.
func (s *Store) Upsert(ctx context.Context, kb *common.KnowledgeBase) error {
	_, err := s.UpsertKnowledgeBase(ctx, kb)
	return err
}

// UpsertKnowledgeBase is Upsert that also reports whether the row was new.
func (s *Store) UpsertKnowledgeBase(ctx context.Context, kb *common.KnowledgeBase) (bool, error) {
	if kb == nil || kb.ID == "" {
		return false, errors.New("knowledge base id is empty")
	}
	ontology, err := encodeOntology(kb.Ontology)
	if err != nil {
		return false, err
	}

	var created bool
	err = s.conn.QueryRow(ctx, upsertKnowledgeBaseSQL,
		kb.ID, kb.Name, kb.Description, kb.ExtractionPrompt, ontology,
	).Scan(&created)
	if err != nil {
		return false, fmt.Errorf("upsert knowledge base %s: %w", kb.ID, err)
	}
	return created, nil
}

func (s *Store) ListKnowledgeBases(ctx context.Context) ([]common.KnowledgeBase, error) {
	rows, err := s.conn.Query(ctx, listKnowledgeBasesSQL)
	if err != nil {
		return nil, fmt.Errorf("list knowledge bases: %w", err)
	}
	defer rows.Close()

	out := make([]common.KnowledgeBase, 0)
	for rows.Next() {
		kb, err := scanKnowledgeBase(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *kb)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanKnowledgeBase(row rowScanner) (*common.KnowledgeBase, error) {
	var (
		kb       common.KnowledgeBase
		ontology []byte
	)
	if err := row.Scan(&kb.ID, &kb.Name, &kb.Description, &kb.ExtractionPrompt, &ontology); err != nil {
		return nil, err
	}
	o, err := decodeOntology(ontology)
	if err != nil {
		return nil, fmt.Errorf("knowledge base %s: %w", kb.ID, err)
	}
	kb.Ontology = o
	return &kb, nil
}

// encodeOntology returns nil for a nil ontology so the column stays NULL.
func encodeOntology(o *common.Ontology) ([]byte, error) {
	if o == nil {
		return nil, nil
	}
	b, err := json.Marshal(o)
	if err != nil {
		return nil, fmt.Errorf("encode ontology: %w", err)
	}
	return b, nil
}

func decodeOntology(b []byte) (*common.Ontology, error) {
	if len(b) == 0 || string(b) == "null" {
		return nil, nil
	}
	var o common.Ontology
	if err := json.Unmarshal(b, &o); err != nil {
		return nil, fmt.Errorf("decode ontology: %w", err)
	}
	return &o, nil
}
