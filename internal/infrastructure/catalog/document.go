package catalog

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/riskibarqy/statharvest/internal/domain/inventory"
	"github.com/riskibarqy/statharvest/internal/domain/record"
	"gopkg.in/yaml.v3"
)

// Document is the on-disk shape of the expected inventory.
//
//	resource_types:
//	  - name: boxscore
//	    patterns: ["games/**"]
//	    expected_kinds: [GAME, TEAM_STATS, PLAYER_STATS]
//	sources:
//	  courtside:
//	    resources:
//	      - key: games/401
//	        date: 2025-03-01
//	        priority: 2
type Document struct {
	ResourceTypes []ResourceType            `yaml:"resource_types"`
	Sources       map[string]SourceDocument `yaml:"sources"`
}

type ResourceType struct {
	Name          string   `yaml:"name"`
	Patterns      []string `yaml:"patterns"`
	ExpectedKinds []string `yaml:"expected_kinds"`
}

type SourceDocument struct {
	Resources []ResourceDocument `yaml:"resources"`
}

type ResourceDocument struct {
	Key           string   `yaml:"key"`
	Type          string   `yaml:"type"`
	Date          string   `yaml:"date"`
	Priority      int      `yaml:"priority"`
	RefreshAfter  string   `yaml:"refresh_after"`
	ExpectedKinds []string `yaml:"expected_kinds"`
}

var dateLayouts = []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"}

// Parse decodes and validates a YAML document into a static catalog.
func Parse(data []byte) (*Static, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode catalog yaml: %w", err)
	}
	return Build(doc)
}

// Build resolves resource types and dates of doc.
func Build(doc Document) (*Static, error) {
	types := make(map[string]ResourceType, len(doc.ResourceTypes))
	for _, rt := range doc.ResourceTypes {
		name := strings.TrimSpace(rt.Name)
		if name == "" {
			return nil, fmt.Errorf("resource type name is required")
		}
		if _, dup := types[name]; dup {
			return nil, fmt.Errorf("resource type %q declared twice", name)
		}
		for _, pattern := range rt.Patterns {
			if !doublestar.ValidatePattern(pattern) {
				return nil, fmt.Errorf("resource type %q: invalid pattern %q", name, pattern)
			}
		}
		if _, err := parseKinds(rt.ExpectedKinds); err != nil {
			return nil, fmt.Errorf("resource type %q: %w", name, err)
		}
		types[name] = rt
	}

	sourceIDs := make([]string, 0, len(doc.Sources))
	for sourceID := range doc.Sources {
		sourceIDs = append(sourceIDs, sourceID)
	}
	sort.Strings(sourceIDs)

	resources := make([]inventory.ExpectedResource, 0)
	for _, sourceID := range sourceIDs {
		if strings.TrimSpace(sourceID) == "" {
			return nil, fmt.Errorf("source id is required")
		}
		for i, res := range doc.Sources[sourceID].Resources {
			exp, err := buildResource(sourceID, res, doc.ResourceTypes, types)
			if err != nil {
				return nil, fmt.Errorf("sources.%s.resources[%d]: %w", sourceID, i, err)
			}
			resources = append(resources, exp)
		}
	}

	return NewStatic(sourceIDs, resources...), nil
}

func buildResource(sourceID string, res ResourceDocument, ordered []ResourceType, types map[string]ResourceType) (inventory.ExpectedResource, error) {
	key := strings.Trim(strings.TrimSpace(res.Key), "/")
	if key == "" {
		return inventory.ExpectedResource{}, fmt.Errorf("key is required")
	}

	exp := inventory.ExpectedResource{
		SourceID:    sourceID,
		ResourceKey: key,
		Priority:    res.Priority,
	}

	rt, ok := resolveType(key, res.Type, ordered, types)
	if res.Type != "" && !ok {
		return inventory.ExpectedResource{}, fmt.Errorf("unknown resource type %q", res.Type)
	}
	if ok {
		exp.ResourceType = rt.Name
		exp.ExpectedKinds, _ = parseKinds(rt.ExpectedKinds)
	}
	if len(res.ExpectedKinds) > 0 {
		kinds, err := parseKinds(res.ExpectedKinds)
		if err != nil {
			return inventory.ExpectedResource{}, err
		}
		exp.ExpectedKinds = kinds
	}

	if res.Date != "" {
		date, err := parseDate(res.Date)
		if err != nil {
			return inventory.ExpectedResource{}, fmt.Errorf("date: %w", err)
		}
		exp.Date = &date
	}
	if res.RefreshAfter != "" {
		refresh, err := parseDate(res.RefreshAfter)
		if err != nil {
			return inventory.ExpectedResource{}, fmt.Errorf("refresh_after: %w", err)
		}
		exp.RefreshAfter = &refresh
	}
	return exp, nil
}

// resolveType prefers an explicit type name, then the first declared type
// with a pattern matching key.
func resolveType(key, explicit string, ordered []ResourceType, types map[string]ResourceType) (ResourceType, bool) {
	if explicit != "" {
		rt, ok := types[explicit]
		return rt, ok
	}
	for _, rt := range ordered {
		for _, pattern := range rt.Patterns {
			if ok, _ := doublestar.Match(pattern, key); ok {
				return rt, true
			}
		}
	}
	return ResourceType{}, false
}

func parseKinds(values []string) ([]record.Kind, error) {
	if len(values) == 0 {
		return nil, nil
	}
	kinds := make([]record.Kind, 0, len(values))
	for _, v := range values {
		kind := record.Kind(strings.ToUpper(strings.TrimSpace(v)))
		if !kind.Valid() {
			return nil, fmt.Errorf("unknown record kind %q", v)
		}
		kinds = append(kinds, kind)
	}
	return kinds, nil
}

func parseDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", value)
}
