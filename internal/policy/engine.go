package policy

import (
	"container/list"
	"context"
	"crypto/md5"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/open-policy-agent/opa/rego"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/research/internal/metrics"
)

// Engine defines the admission evaluation interface
type Engine interface {
	Evaluate(ctx context.Context, input *AdmissionInput) (*Decision, error)
	LoadPolicies() error
	IsEnabled() bool
	// Mode returns the current enforcement mode (off|dry-run|enforce)
	Mode() Mode
}

// AdmissionInput is what the policy sees about a session request.
type AdmissionInput struct {
	Topic     string `json:"topic"`
	Depth     string `json:"depth"`
	ClientID  string `json:"client_id,omitempty"`
	IPAddress string `json:"ip_address,omitempty"`
}

// Decision represents the policy evaluation result
type Decision struct {
	Allow  bool   `json:"allow"`
	Reason string `json:"reason,omitempty"`

	// WouldDeny is set in dry-run mode when the policy denied but the
	// request was let through.
	WouldDeny     bool   `json:"would_deny,omitempty"`
	PolicyVersion string `json:"policy_version,omitempty"`
}

// OPAEngine implements the Engine interface using OPA rego
type OPAEngine struct {
	config *Config
	logger *zap.Logger

	mu       sync.RWMutex
	compiled *rego.PreparedEvalQuery
	version  string
	enabled  bool

	cache *decisionCache
}

// NewOPAEngine creates a new OPA-based policy engine
func NewOPAEngine(config *Config, logger *zap.Logger) (*OPAEngine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := *config
	cfg.Normalize()

	engine := &OPAEngine{
		config:  &cfg,
		logger:  logger,
		enabled: cfg.Enabled,
		cache:   newDecisionCache(1000, 5*time.Minute),
	}

	if engine.enabled {
		if err := engine.LoadPolicies(); err != nil {
			if cfg.FailClosed {
				return nil, fmt.Errorf("failed to load policies in fail-closed mode: %w", err)
			}
			logger.Warn("Failed to load policies, running in fail-open mode", zap.Error(err))
		}
	}

	return engine, nil
}

// LoadPolicies compiles the built-in policy, or every .rego file under the
// configured path when one is set. The previous policy stays active when
// compilation fails.
func (e *OPAEngine) LoadPolicies() error {
	if !e.enabled {
		return nil
	}

	policies := map[string]string{"builtin/admission.rego": defaultPolicy}
	if e.config.Path != "" {
		loaded, err := readPolicyDir(e.config.Path, e.logger)
		if err != nil {
			return err
		}
		if len(loaded) == 0 {
			return fmt.Errorf("no policy files found in %s", e.config.Path)
		}
		policies = loaded
	}

	opts := []func(*rego.Rego){rego.Query(DecisionQuery)}
	for name, content := range policies {
		opts = append(opts, rego.Module(name, content))
	}
	compiled, err := rego.New(opts...).PrepareForEval(context.Background())
	if err != nil {
		return fmt.Errorf("failed to compile policies: %w", err)
	}

	version := policyVersion(policies)
	e.mu.Lock()
	e.compiled = &compiled
	e.version = version
	e.mu.Unlock()
	e.cache.Clear()

	e.logger.Info("Policies loaded and compiled successfully",
		zap.Int("policy_count", len(policies)),
		zap.String("decision_query", DecisionQuery),
		zap.String("version", version),
	)
	return nil
}

func readPolicyDir(dir string, logger *zap.Logger) (map[string]string, error) {
	policies := make(map[string]string)
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !strings.HasSuffix(info.Name(), ".rego") {
			return nil
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read policy file %s: %w", path, err)
		}
		rel, _ := filepath.Rel(dir, path)
		policies[rel] = string(content)
		logger.Debug("Loaded policy file", zap.String("path", path))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk policy directory: %w", err)
	}
	return policies, nil
}

// Evaluate decides whether a session may be created. In dry-run mode a
// denial is logged and counted but the request is allowed.
func (e *OPAEngine) Evaluate(ctx context.Context, input *AdmissionInput) (*Decision, error) {
	mode := string(e.config.Mode)

	e.mu.RLock()
	compiled, version := e.compiled, e.version
	e.mu.RUnlock()

	if !e.enabled {
		return &Decision{Allow: true, Reason: "policy disabled"}, nil
	}
	if compiled == nil {
		d := &Decision{Allow: !e.config.FailClosed, Reason: "no policies loaded"}
		metrics.AdmissionDecisions.WithLabelValues(decisionLabel(d), mode).Inc()
		return d, nil
	}

	if d, ok := e.cache.Get(input); ok {
		metrics.AdmissionDecisions.WithLabelValues(decisionLabel(d), mode).Inc()
		return d, nil
	}

	results, err := compiled.Eval(ctx, rego.EvalInput(inputMap(input)))
	if err != nil {
		e.logger.Error("Policy evaluation failed", zap.Error(err))
		metrics.AdmissionDecisions.WithLabelValues("error", mode).Inc()
		if e.config.FailClosed {
			return &Decision{Allow: false, Reason: "policy evaluation error"}, err
		}
		return &Decision{Allow: true, Reason: "policy evaluation error"}, nil
	}

	decision := parseResults(results)
	decision.PolicyVersion = version
	if !decision.Allow && e.config.Mode == ModeDryRun {
		decision.Allow = true
		decision.WouldDeny = true
		e.logger.Info("Dry-run policy denial",
			zap.String("reason", decision.Reason),
			zap.String("client_id", input.ClientID),
		)
	}

	metrics.AdmissionDecisions.WithLabelValues(decisionLabel(decision), mode).Inc()
	e.logger.Debug("Policy evaluated",
		zap.Bool("allow", decision.Allow),
		zap.String("reason", decision.Reason),
		zap.String("client_id", input.ClientID),
	)

	e.cache.Set(input, decision)
	return decision, nil
}

// IsEnabled returns whether the policy engine is enabled and ready
func (e *OPAEngine) IsEnabled() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.enabled && e.compiled != nil
}

// Mode returns the configured enforcement mode for the engine
func (e *OPAEngine) Mode() Mode { return e.config.Mode }

func decisionLabel(d *Decision) string {
	switch {
	case d.WouldDeny:
		return "would_deny"
	case d.Allow:
		return "allow"
	default:
		return "deny"
	}
}

func inputMap(input *AdmissionInput) map[string]interface{} {
	return map[string]interface{}{
		"topic":      input.Topic,
		"depth":      input.Depth,
		"client_id":  input.ClientID,
		"ip_address": input.IPAddress,
	}
}

// parseResults parses OPA evaluation results into a Decision
func parseResults(results rego.ResultSet) *Decision {
	decision := &Decision{Allow: false, Reason: "no matching policy rules"}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return decision
	}

	value := results[0].Expressions[0].Value
	if valueMap, ok := value.(map[string]interface{}); ok {
		if allow, ok := valueMap["allow"].(bool); ok {
			decision.Allow = allow
		}
		if reason, ok := valueMap["reason"].(string); ok {
			decision.Reason = reason
		}
	} else if allow, ok := value.(bool); ok {
		decision.Allow = allow
		if allow {
			decision.Reason = "allowed by policy"
		} else {
			decision.Reason = "denied by policy"
		}
	}
	return decision
}

func policyVersion(policies map[string]string) string {
	names := make([]string, 0, len(policies))
	for name := range policies {
		names = append(names, name)
	}
	sort.Strings(names)
	h := md5.New()
	for _, name := range names {
		h.Write([]byte(name))
		h.Write([]byte(policies[name]))
	}
	return fmt.Sprintf("%x", h.Sum(nil))[:12]
}

// --- decision cache (LRU with TTL) ---

type decisionCache struct {
	cap    int
	ttl    time.Duration
	mu     sync.Mutex
	list   *list.List               // MRU at front
	m      map[string]*list.Element // key -> element
	hits   int64
	misses int64
}

type cacheEntry struct {
	key       string
	expiresAt time.Time
	decision  *Decision
}

func newDecisionCache(cap int, ttl time.Duration) *decisionCache {
	if cap <= 0 {
		cap = 1024
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &decisionCache{
		cap:  cap,
		ttl:  ttl,
		list: list.New(),
		m:    make(map[string]*list.Element),
	}
}

func (c *decisionCache) makeKey(input *AdmissionInput) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(input.Topic))
	return fmt.Sprintf("%s|%s|%s|%x", input.Depth, input.ClientID, input.IPAddress, h.Sum64())
}

func (c *decisionCache) Get(input *AdmissionInput) (*Decision, bool) {
	key := c.makeKey(input)
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.m[key]; ok {
		ce := el.Value.(cacheEntry)
		if ce.expiresAt.After(now) {
			c.list.MoveToFront(el)
			atomic.AddInt64(&c.hits, 1)
			d := *ce.decision
			return &d, true
		}
		c.list.Remove(el)
		delete(c.m, key)
	}
	atomic.AddInt64(&c.misses, 1)
	return nil, false
}

func (c *decisionCache) Set(input *AdmissionInput, d *Decision) {
	key := c.makeKey(input)
	cp := *d
	c.mu.Lock()
	defer c.mu.Unlock()
	entry := cacheEntry{key: key, expiresAt: time.Now().Add(c.ttl), decision: &cp}
	if el, ok := c.m[key]; ok {
		el.Value = entry
		c.list.MoveToFront(el)
		return
	}
	c.m[key] = c.list.PushFront(entry)
	if c.list.Len() > c.cap {
		if lru := c.list.Back(); lru != nil {
			delete(c.m, lru.Value.(cacheEntry).key)
			c.list.Remove(lru)
		}
	}
}

// Clear drops every cached decision, used after a policy reload.
func (c *decisionCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.list.Init()
	c.m = make(map[string]*list.Element)
}

// Stats returns cumulative cache hit/miss counts
func (c *decisionCache) Stats() (hits, misses int64) {
	return atomic.LoadInt64(&c.hits), atomic.LoadInt64(&c.misses)
}
