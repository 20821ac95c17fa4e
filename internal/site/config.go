package site

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// ReadConfig reads the site's configuration document fresh from disk.
func (s *Site) ReadConfig() (map[string]any, error) {
	data, err := os.ReadFile(s.ConfigFile)
	if err != nil {
		return nil, fmt.Errorf("read site config: %w", err)
	}
	doc := map[string]any{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse site config: %w", err)
	}
	return doc, nil
}

// UpdateConfig merges additions into the current document, then removes the
// listed keys (removal of an absent key is a no-op), then persists the result
// in canonical form. Returns the persisted document.
func (s *Site) UpdateConfig(additions map[string]any, removals []string) (map[string]any, error) {
	doc, err := s.ReadConfig()
	if err != nil {
		return nil, err
	}
	for key, value := range additions {
		doc[key] = value
	}
	for _, key := range removals {
		delete(doc, key)
	}
	if err := s.writeConfig(doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// writeConfig persists the document with sorted keys and single-space indent,
// so a semantically identical update rewrites identical bytes.
func (s *Site) writeConfig(doc map[string]any) error {
	return writeDocument(s.ConfigFile, doc)
}

func writeDocument(path string, doc map[string]any) error {
	data, err := json.MarshalIndent(doc, "", " ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	data = append(data, '\n')
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}

// Domains returns the configured domain list.
func (s *Site) Domains() ([]string, error) {
	cfg, err := s.ReadConfig()
	if err != nil {
		return nil, err
	}
	return domainList(cfg), nil
}

// AddDomain adds domain to the configured set. Adding an existing domain
// leaves the set unchanged.
func (s *Site) AddDomain(domain string) error {
	cfg, err := s.ReadConfig()
	if err != nil {
		return err
	}
	domains := domainSet(cfg)
	domains[domain] = struct{}{}
	_, err = s.UpdateConfig(map[string]any{"domains": sortedKeys(domains)}, nil)
	return err
}

// RemoveDomain removes domain from the configured set. Removing an absent
// domain is a no-op that still rewrites the document.
func (s *Site) RemoveDomain(domain string) error {
	cfg, err := s.ReadConfig()
	if err != nil {
		return err
	}
	domains := domainSet(cfg)
	delete(domains, domain)
	_, err = s.UpdateConfig(map[string]any{"domains": sortedKeys(domains)}, nil)
	return err
}

func domainList(cfg map[string]any) []string {
	raw, _ := cfg["domains"].([]any)
	domains := make([]string, 0, len(raw))
	for _, entry := range raw {
		if domain, ok := entry.(string); ok {
			domains = append(domains, domain)
		}
	}
	return domains
}

func domainSet(cfg map[string]any) map[string]struct{} {
	set := map[string]struct{}{}
	for _, domain := range domainList(cfg) {
		set[domain] = struct{}{}
	}
	return set
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for key := range set {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
