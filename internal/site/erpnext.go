package site

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/benchops/agent/internal/runner"
)

// CreateUser provisions a system manager account on the site.
func (s *Site) CreateUser(ctx context.Context, email, firstName, lastName string) (*runner.Result, error) {
	return s.BenchExecute(ctx, fmt.Sprintf(
		"add-system-manager %s --first-name %s --last-name %s", email, firstName, lastName))
}

// UpdateERPNextConfig merges additions into the site's journeys config
// document, persisting it in the same canonical form as the site config.
func (s *Site) UpdateERPNextConfig(additions map[string]any) (map[string]any, error) {
	path := filepath.Join(s.Directory, "journeys_config.json")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read journeys config: %w", err)
	}
	doc := map[string]any{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse journeys config: %w", err)
	}
	for key, value := range additions {
		doc[key] = value
	}
	if err := writeDocument(path, doc); err != nil {
		return nil, err
	}
	return doc, nil
}
