package metadata

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Tier is the quality classification of a reference's origin domain.
type Tier string

const (
	TierPrimary       Tier = "primary"
	TierAuthoritative Tier = "authoritative"
	TierQuality       Tier = "quality"
	TierGeneral       Tier = "general"
	TierLow           Tier = "low"
)

// Tiers lists every tier from best to worst.
var Tiers = []Tier{TierPrimary, TierAuthoritative, TierQuality, TierGeneral, TierLow}

// Scores returned when no rule decides the outcome.
const (
	UnmatchedScore   = 5
	UnparseableScore = 3
	MinAssessedScore = 1
	MaxAssessedScore = 10
)

// Valid reports whether t is one of the known tiers.
func (t Tier) Valid() bool {
	for _, known := range Tiers {
		if t == known {
			return true
		}
	}
	return false
}

// TierRule maps a set of domain patterns to one tier and score.
type TierRule struct {
	Tier        Tier   `yaml:"tier"`
	Score       int    `yaml:"score"`
	Description string `yaml:"description,omitempty"`
	// Suffixes match the end of the host, e.g. ".gov" or ".ac.uk".
	Suffixes []string `yaml:"suffixes,omitempty"`
	// Domains match exactly or on a subdomain boundary.
	Domains []string `yaml:"domains,omitempty"`
	// Prefixes match the start of the host, e.g. "docs.".
	Prefixes []string `yaml:"prefixes,omitempty"`
}

// QualityTable is an ordered list of rules; the first matching rule wins.
type QualityTable struct {
	Rules []TierRule `yaml:"rules"`
}

// Validate checks tiers and score ranges.
func (t *QualityTable) Validate() error {
	if t == nil || len(t.Rules) == 0 {
		return fmt.Errorf("quality table has no rules")
	}
	for i, rule := range t.Rules {
		if !rule.Tier.Valid() {
			return fmt.Errorf("rule %d: unknown tier %q", i, rule.Tier)
		}
		if rule.Score < MinAssessedScore || rule.Score > MaxAssessedScore {
			return fmt.Errorf("rule %d: score %d out of range", i, rule.Score)
		}
		if len(rule.Suffixes)+len(rule.Domains)+len(rule.Prefixes) == 0 {
			return fmt.Errorf("rule %d (%s): no patterns", i, rule.Tier)
		}
	}
	return nil
}

func (r *TierRule) matches(host string) bool {
	for _, suffix := range r.Suffixes {
		suffix = strings.ToLower(suffix)
		if strings.HasSuffix(host, suffix) || host == strings.TrimPrefix(suffix, ".") {
			return true
		}
	}
	for _, domain := range r.Domains {
		if domainMatches(host, domain) {
			return true
		}
	}
	for _, prefix := range r.Prefixes {
		if strings.HasPrefix(host, strings.ToLower(prefix)) {
			return true
		}
	}
	return false
}

// domainMatches is true for an exact match or a subdomain of pattern.
func domainMatches(host, pattern string) bool {
	pattern = strings.ToLower(pattern)
	return host == pattern || strings.HasSuffix(host, "."+pattern)
}

// DefaultQualityTable returns the built-in classification table.
func DefaultQualityTable() *QualityTable {
	return &QualityTable{Rules: []TierRule{
		{
			Tier:        TierPrimary,
			Score:       10,
			Description: "government and education TLDs",
			Suffixes:    []string{".gov", ".edu", ".mil", ".gov.uk", ".ac.uk", ".edu.au", ".gc.ca", ".europa.eu"},
		},
		{
			Tier:        TierPrimary,
			Score:       10,
			Description: "preprint servers and journals",
			Domains: []string{
				"arxiv.org", "biorxiv.org", "medrxiv.org", "ssrn.com", "nature.com", "science.org",
				"sciencedirect.com", "springer.com", "link.springer.com", "wiley.com", "plos.org",
				"jstor.org", "acm.org", "ieee.org", "cell.com", "thelancet.com", "nejm.org",
				"semanticscholar.org", "researchgate.net",
			},
		},
		{
			Tier:        TierPrimary,
			Score:       10,
			Description: "standards bodies",
			Domains:     []string{"w3.org", "ietf.org", "iso.org", "rfc-editor.org", "ecma-international.org", "unicode.org", "whatwg.org"},
		},
		{
			Tier:        TierPrimary,
			Score:       10,
			Description: "code hosting and official documentation",
			Domains:     []string{"github.com", "gitlab.com", "bitbucket.org", "pkg.go.dev", "developer.mozilla.org", "learn.microsoft.com", "kubernetes.io", "python.org", "go.dev", "rust-lang.org"},
			Prefixes:    []string{"docs.", "developer.", "developers."},
		},
		{
			Tier:        TierPrimary,
			Score:       10,
			Description: "AI research organizations",
			Domains:     []string{"openai.com", "anthropic.com", "deepmind.com", "deepmind.google", "research.google", "ai.google", "ai.meta.com", "huggingface.co", "allenai.org"},
		},
		{
			Tier:        TierAuthoritative,
			Score:       8,
			Description: "encyclopedias, wire services and major newspapers",
			Domains: []string{
				"wikipedia.org", "britannica.com", "reuters.com", "apnews.com", "bbc.com", "bbc.co.uk",
				"nytimes.com", "washingtonpost.com", "theguardian.com", "wsj.com", "ft.com",
				"economist.com", "bloomberg.com", "npr.org",
			},
		},
		{
			Tier:        TierQuality,
			Score:       7,
			Description: "technical Q&A and tech journalism",
			Domains: []string{
				"stackoverflow.com", "stackexchange.com", "serverfault.com", "superuser.com",
				"techcrunch.com", "arstechnica.com", "wired.com", "theverge.com", "zdnet.com",
				"infoq.com", "thenewstack.io", "venturebeat.com", "technologyreview.com",
			},
		},
		{
			Tier:        TierGeneral,
			Score:       5,
			Description: "blogging and publishing platforms",
			Domains:     []string{"medium.com", "substack.com", "dev.to", "hashnode.dev", "wordpress.com", "blogspot.com", "hackernoon.com", "towardsdatascience.com"},
		},
		{
			Tier:        TierLow,
			Score:       3,
			Description: "social media and SEO-heavy domains",
			Domains: []string{
				"facebook.com", "twitter.com", "x.com", "instagram.com", "tiktok.com", "pinterest.com",
				"reddit.com", "quora.com", "linkedin.com", "ehow.com", "wikihow.com", "answers.com",
				"ezinearticles.com", "hubpages.com",
			},
		},
	}}
}

// ParseQualityTable decodes and validates a YAML table.
func ParseQualityTable(data []byte) (*QualityTable, error) {
	var table QualityTable
	if err := yaml.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("failed to parse quality table: %w", err)
	}
	if err := table.Validate(); err != nil {
		return nil, err
	}
	return &table, nil
}

// QualityAssessor classifies URLs by origin domain. Assess is a pure function
// of the active table; the table can be swapped at runtime.
type QualityAssessor struct {
	mu     sync.RWMutex
	table  *QualityTable
	logger *zap.Logger
}

// NewQualityAssessor returns an assessor backed by the default table.
func NewQualityAssessor(logger *zap.Logger) *QualityAssessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QualityAssessor{table: DefaultQualityTable(), logger: logger}
}

// Assess returns the score (1-10) and tier for rawURL. Unparseable URLs are
// (3, low); URLs matching no rule are (5, general).
func (a *QualityAssessor) Assess(rawURL string) (int, Tier) {
	host, err := ExtractDomain(rawURL)
	if err != nil {
		return UnparseableScore, TierLow
	}

	a.mu.RLock()
	table := a.table
	a.mu.RUnlock()

	for i := range table.Rules {
		if table.Rules[i].matches(host) {
			return table.Rules[i].Score, table.Rules[i].Tier
		}
	}
	return UnmatchedScore, TierGeneral
}

// SetTable replaces the active table after validation.
func (a *QualityAssessor) SetTable(table *QualityTable) error {
	if err := table.Validate(); err != nil {
		return err
	}
	a.mu.Lock()
	a.table = table
	a.mu.Unlock()
	a.logger.Info("Quality table updated", zap.Int("rules", len(table.Rules)))
	return nil
}

// LoadFile reads a YAML table from path and activates it. On error the
// previous table stays active.
func (a *QualityAssessor) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read quality table %s: %w", path, err)
	}
	table, err := ParseQualityTable(data)
	if err != nil {
		a.logger.Warn("Rejected quality table", zap.String("path", path), zap.Error(err))
		return err
	}
	return a.SetTable(table)
}
