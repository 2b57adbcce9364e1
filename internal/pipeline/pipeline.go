// Package pipeline declares the step templates for each report kind. The
// builtin library covers the standard report types; deployments can override
// or extend it from a YAML file.
package pipeline

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/KareOne/MarketNavigator2.0-sub000/pkg/mnapi"
)

// StepDef is one step template. Weight is relative; definitions are
// normalized so weights sum to 100 when a run starts.
type StepDef struct {
	Key      string         `yaml:"key"`
	Title    string         `yaml:"title"`
	Weight   float64        `yaml:"weight"`
	Category mnapi.Category `yaml:"category"`
}

type Definition struct {
	Kind  string    `yaml:"kind"`
	Steps []StepDef `yaml:"steps"`
}

type Library struct {
	defs map[string]Definition
}

// Builtin returns the standard report pipelines.
func Builtin() *Library {
	defs := []Definition{
		{
			Kind: "company_profile",
			Steps: []StepDef{
				{Key: "search_keywords", Title: "Derive search keywords", Weight: 10, Category: mnapi.CategoryCompanyDB},
				{Key: "company_lookup", Title: "Company database lookup", Weight: 30, Category: mnapi.CategoryCompanyDB},
				{Key: "competitor_scan", Title: "Competitor scan", Weight: 25, Category: mnapi.CategoryMarketIntel},
				{Key: "profile_summary", Title: "Profile summary", Weight: 35, Category: mnapi.CategoryCompanyDB},
			},
		},
		{
			Kind: "market_intelligence",
			Steps: []StepDef{
				{Key: "search_keywords", Title: "Derive search keywords", Weight: 10, Category: mnapi.CategoryMarketIntel},
				{Key: "source_discovery", Title: "Source discovery", Weight: 20, Category: mnapi.CategoryMarketIntel},
				{Key: "market_scan", Title: "Market scan", Weight: 40, Category: mnapi.CategoryMarketIntel},
				{Key: "trend_analysis", Title: "Trend analysis", Weight: 30, Category: mnapi.CategoryMarketIntel},
			},
		},
		{
			Kind: "social_presence",
			Steps: []StepDef{
				{Key: "account_discovery", Title: "Account discovery", Weight: 20, Category: mnapi.CategorySocial},
				{Key: "activity_scan", Title: "Activity scan", Weight: 40, Category: mnapi.CategorySocial},
				{Key: "sentiment_summary", Title: "Sentiment summary", Weight: 40, Category: mnapi.CategorySocial},
			},
		},
	}
	lib := &Library{defs: make(map[string]Definition, len(defs))}
	for _, d := range defs {
		lib.defs[d.Kind] = d
	}
	return lib
}

// LoadFile reads extra definitions from a YAML file and merges them over the
// builtin set. A file kind with the same name replaces the builtin one.
func LoadFile(path string) (*Library, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pipeline file: %w", err)
	}
	var doc struct {
		Pipelines []Definition `yaml:"pipelines"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse pipeline file: %w", err)
	}
	lib := Builtin()
	for _, d := range doc.Pipelines {
		if err := validate(d); err != nil {
			return nil, fmt.Errorf("pipeline %q: %w", d.Kind, err)
		}
		lib.defs[d.Kind] = d
	}
	return lib, nil
}

func validate(d Definition) error {
	if d.Kind == "" {
		return fmt.Errorf("missing kind")
	}
	if len(d.Steps) == 0 {
		return fmt.Errorf("no steps")
	}
	seen := make(map[string]bool, len(d.Steps))
	for i, s := range d.Steps {
		if s.Key == "" {
			return fmt.Errorf("step %d: missing key", i)
		}
		if seen[s.Key] {
			return fmt.Errorf("duplicate step key %q", s.Key)
		}
		seen[s.Key] = true
		if s.Weight <= 0 {
			return fmt.Errorf("step %q: weight must be positive", s.Key)
		}
		if !s.Category.Valid() {
			return fmt.Errorf("step %q: unknown category %q", s.Key, s.Category)
		}
	}
	return nil
}

func (l *Library) Get(kind string) (Definition, bool) {
	d, ok := l.defs[kind]
	return d, ok
}

func (l *Library) Kinds() []string {
	out := make([]string, 0, len(l.defs))
	for k := range l.defs {
		out = append(out, k)
	}
	return out
}
