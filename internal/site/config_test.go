package site

import (
	"bytes"
	"os"
	"reflect"
	"testing"
)

func TestUpdateConfigMergeThenRemove(t *testing.T) {
	s, _ := newTestSite(t)

	doc, err := s.UpdateConfig(map[string]any{"maintenance_mode": 1, "host_name": "https://alpha.example.com"}, nil)
	if err != nil {
		t.Fatalf("UpdateConfig: %v", err)
	}
	if doc["maintenance_mode"] != 1 {
		t.Fatalf("addition not merged: %v", doc)
	}
	if doc["db_name"] != "testdb" {
		t.Fatalf("existing key lost: %v", doc)
	}

	doc, err = s.UpdateConfig(nil, []string{"maintenance_mode", "never_existed"})
	if err != nil {
		t.Fatalf("UpdateConfig remove: %v", err)
	}
	if _, ok := doc["maintenance_mode"]; ok {
		t.Fatalf("removal not applied: %v", doc)
	}

	persisted, err := s.ReadConfig()
	if err != nil {
		t.Fatalf("ReadConfig: %v", err)
	}
	if persisted["host_name"] != "https://alpha.example.com" {
		t.Fatalf("persisted document missing addition: %v", persisted)
	}
}

func TestUpdateConfigRemovalWinsOverAddition(t *testing.T) {
	s, _ := newTestSite(t)
	doc, err := s.UpdateConfig(map[string]any{"pause_scheduler": 1}, []string{"pause_scheduler"})
	if err != nil {
		t.Fatalf("UpdateConfig: %v", err)
	}
	if _, ok := doc["pause_scheduler"]; ok {
		t.Fatalf("removed key survived: %v", doc)
	}
}

func TestUpdateConfigCanonicalBytes(t *testing.T) {
	s, _ := newTestSite(t)

	if _, err := s.UpdateConfig(map[string]any{"b_key": "two", "a_key": "one"}, nil); err != nil {
		t.Fatalf("UpdateConfig: %v", err)
	}
	first, err := os.ReadFile(s.ConfigFile)
	if err != nil {
		t.Fatalf("read config: %v", err)
	}

	// A semantically empty update must rewrite identical bytes.
	if _, err := s.UpdateConfig(nil, nil); err != nil {
		t.Fatalf("empty UpdateConfig: %v", err)
	}
	second, err := os.ReadFile(s.ConfigFile)
	if err != nil {
		t.Fatalf("read config: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Fatalf("canonical form unstable:\n%s\n---\n%s", first, second)
	}
	if second[len(second)-1] != '\n' {
		t.Fatalf("document missing trailing newline")
	}
}

func TestAddDomainIsSetSemantics(t *testing.T) {
	s, _ := newTestSite(t)

	for _, domain := range []string{"shop.example.com", "shop.example.com", "api.example.com"} {
		if err := s.AddDomain(domain); err != nil {
			t.Fatalf("AddDomain(%s): %v", domain, err)
		}
	}
	domains, err := s.Domains()
	if err != nil {
		t.Fatalf("Domains: %v", err)
	}
	want := []string{"api.example.com", "shop.example.com"}
	if !reflect.DeepEqual(domains, want) {
		t.Fatalf("domains = %v, want %v", domains, want)
	}
}

func TestRemoveAbsentDomainIsNoop(t *testing.T) {
	s, _ := newTestSite(t)

	if err := s.AddDomain("shop.example.com"); err != nil {
		t.Fatalf("AddDomain: %v", err)
	}
	if err := s.RemoveDomain("never-added.example.com"); err != nil {
		t.Fatalf("RemoveDomain: %v", err)
	}
	domains, err := s.Domains()
	if err != nil {
		t.Fatalf("Domains: %v", err)
	}
	if !reflect.DeepEqual(domains, []string{"shop.example.com"}) {
		t.Fatalf("domains = %v", domains)
	}

	if err := s.RemoveDomain("shop.example.com"); err != nil {
		t.Fatalf("RemoveDomain: %v", err)
	}
	domains, err = s.Domains()
	if err != nil {
		t.Fatalf("Domains: %v", err)
	}
	if len(domains) != 0 {
		t.Fatalf("domains not empty: %v", domains)
	}
}
