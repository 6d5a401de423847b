// Package providers assembles the default search and fetch adapters.
package providers

import (
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/research/internal/providers/fetch"
	"github.com/Kocoro-lab/Shannon/go/research/internal/providers/search"
	"github.com/Kocoro-lab/Shannon/go/research/internal/ratecontrol"
	"github.com/Kocoro-lab/Shannon/go/research/internal/research"
)

// New returns the collaborators a LeadResearcher needs. Search and fetch
// share one pacer so provider and host budgets hold process-wide.
func New(searchCfg search.Config, fetchCfg fetch.Config, pacer *ratecontrol.Pacer, assessor research.Assessor, logger *zap.Logger) research.Dependencies {
	if logger == nil {
		logger = zap.NewNop()
	}
	var provider research.SearchProvider
	switch searchCfg.Provider {
	case "duckduckgo":
		provider = search.NewDuckDuckGo(searchCfg.Endpoint, fetchCfg.UserAgent, pacer, logger)
	default:
		provider = search.NewClient(searchCfg, pacer, logger)
	}
	return research.Dependencies{
		Search:   provider,
		Fetcher:  fetch.NewFetcher(fetchCfg, pacer, logger),
		Assessor: assessor,
	}
}
