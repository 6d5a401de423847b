package db

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Kocoro-lab/Shannon/go/research/internal/research"
)

// JSONB is a JSON document column (jsonb on postgres, TEXT on sqlite).
type JSONB map[string]interface{}

// Value implements the driver.Valuer interface
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// Scan implements the sql.Scanner interface
func (j *JSONB) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*j = nil
		return nil
	case []byte:
		return json.Unmarshal(v, j)
	case string:
		return json.Unmarshal([]byte(v), j)
	default:
		return fmt.Errorf("cannot scan %T into JSONB", value)
	}
}

// SessionRecord is one archived research session.
type SessionRecord struct {
	ID             string       `db:"id" json:"id"`
	Topic          string       `db:"topic" json:"topic"`
	Depth          string       `db:"depth" json:"depth"`
	Status         string       `db:"status" json:"status"`
	CoverageScore  int          `db:"coverage_score" json:"coverage_score"`
	SourceCount    int          `db:"source_count" json:"source_count"`
	IterationCount int          `db:"iteration_count" json:"iteration_count"`
	ExitReason     string       `db:"exit_reason" json:"exit_reason"`
	Report         string       `db:"report" json:"report"`
	Metadata       JSONB        `db:"metadata" json:"metadata"`
	CreatedAt      time.Time    `db:"created_at" json:"created_at"`
	CompletedAt    sql.NullTime `db:"completed_at" json:"-"`
}

// RecordFromSession flattens a session into its archive row. Source content
// is not archived; the metadata keeps the plan, coverage and references.
func RecordFromSession(s *research.Session) *SessionRecord {
	rec := &SessionRecord{
		ID:             s.ID,
		Topic:          s.Topic,
		Depth:          string(s.Depth),
		Status:         string(s.Status),
		CoverageScore:  s.CoverageScore(),
		SourceCount:    len(s.Sources),
		IterationCount: len(s.Memory.History),
		ExitReason:     s.ExitReason,
		Report:         s.Report,
		CreatedAt:      s.CreatedAt,
	}
	if s.CompletedAt != nil {
		rec.CompletedAt = sql.NullTime{Time: *s.CompletedAt, Valid: true}
	}

	covered := make([]string, 0, len(s.Memory.Plan))
	for _, aspect := range s.Memory.Plan {
		if s.Memory.IsCovered(aspect) {
			covered = append(covered, aspect)
		}
	}
	sources := make([]map[string]interface{}, 0, len(s.Sources))
	for _, src := range s.Sources {
		sources = append(sources, map[string]interface{}{
			"url":           src.URL,
			"title":         src.Title,
			"tier":          string(src.Tier),
			"quality_score": src.QualityScore,
			"citation_id":   src.CitationID,
			"aspect":        src.Aspect,
		})
	}
	rec.Metadata = JSONB{
		"plan":       s.Memory.Plan,
		"covered":    covered,
		"sources":    sources,
		"subagents":  len(s.Subagents),
		"iterations": s.Memory.History,
	}
	if s.Error != "" {
		rec.Metadata["error"] = s.Error
	}
	return rec
}
