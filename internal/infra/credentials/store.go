// Package credentials reads and rotates third-party service tokens kept in
// the integration_tokens table.
package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"mediaflow/internal/infra"
	"mediaflow/internal/sqlinline"
)

const (
	ProviderRemoveBG = "removebg"
)

type Store struct {
	sql infra.SQLExecutor
}

func NewStore(sql infra.SQLExecutor) *Store {
	return &Store{sql: sql}
}

// RemoveBGToken returns the segmentation service key, or "" when none is set.
func (s *Store) RemoveBGToken(ctx context.Context) (string, error) {
	return s.Token(ctx, ProviderRemoveBG)
}

func (s *Store) Token(ctx context.Context, provider string) (string, error) {
	row := s.sql.QueryRow(ctx, sqlinline.QSelectIntegrationToken, provider)
	var token string
	if err := row.Scan(&token); err != nil {
		if infra.IsNoRows(err) {
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(token), nil
}

// SetToken stores token for provider, replacing the previous one.
func (s *Store) SetToken(ctx context.Context, provider, token string, props map[string]any) error {
	provider = strings.TrimSpace(provider)
	token = strings.TrimSpace(token)
	if provider == "" {
		return errors.New("provider is required")
	}
	if token == "" {
		return errors.New(provider + " token is required")
	}
	return s.upsert(ctx, provider, token, props)
}

func (s *Store) upsert(ctx context.Context, provider, token string, props map[string]any) error {
	payload := props
	if payload == nil {
		payload = map[string]any{}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = s.sql.Exec(ctx, sqlinline.QUpsertIntegrationToken, provider, token, raw)
	return err
}
