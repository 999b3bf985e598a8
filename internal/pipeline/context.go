// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Finsight Contributors

package pipeline

import (
	"strings"
	"time"

	"github.com/google/uuid"

	finerr "github.com/finsight-dev/finsight/pkg/errors"
)

// Status is the lifecycle state of one analysis run.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// validTransitions is the authoritative status machine. Completed is
// terminal; a failed run may re-enter running so a persisted run can be
// resumed from its last incomplete stage.
var validTransitions = map[Status]map[Status]bool{
	StatusPending: {StatusRunning: true},
	StatusRunning: {StatusCompleted: true, StatusFailed: true},
	StatusFailed:  {StatusRunning: true},
}

// ValidTransition reports whether from -> to is an allowed status change.
func ValidTransition(from, to Status) bool {
	return validTransitions[from][to]
}

// Profile describes the user whose finances are being analyzed.
type Profile struct {
	Age           int      `json:"age"`
	Income        float64  `json:"income"`
	RiskTolerance string   `json:"risk_tolerance"`
	Horizon       string   `json:"horizon"`
	Goals         []string `json:"goals,omitempty"`
}

// Validate checks the profile fields that stages depend on.
func (p Profile) Validate() error {
	if p.Age < 18 || p.Age > 120 {
		return finerr.Errorf(finerr.CodePipelineInvalidInput, "age %d outside 18-120", p.Age)
	}
	if p.Income < 0 {
		return finerr.New(finerr.CodePipelineInvalidInput, "income must be non-negative")
	}
	switch strings.ToLower(p.RiskTolerance) {
	case "conservative", "moderate", "aggressive":
	default:
		return finerr.Errorf(finerr.CodePipelineInvalidInput,
			"risk tolerance %q not one of conservative, moderate, aggressive", p.RiskTolerance)
	}
	switch strings.ToLower(p.Horizon) {
	case "", "short-term", "medium-term", "long-term":
	default:
		return finerr.Errorf(finerr.CodePipelineInvalidInput,
			"horizon %q not one of short-term, medium-term, long-term", p.Horizon)
	}
	return nil
}

// StageResult is the outcome of one stage. Narrative is the only field
// that may vary between runs with the same inputs; everything else,
// Raw included, must reproduce byte-for-byte so resumed and rerun
// sessions persist identical results. Wall-clock timing lives in the
// run history, not here.
type StageResult struct {
	Stage      string         `json:"stage"`
	Raw        map[string]any `json:"raw"`
	Narrative  string         `json:"narrative,omitempty"`
	Degraded   bool           `json:"degraded"`
	Issues     []string       `json:"issues,omitempty"`
	Confidence float64        `json:"confidence"`
	Attempts   int            `json:"attempts"`
}

// Event is one append-only history entry. History is never rewritten;
// retries and failures each add their own entry.
type Event struct {
	Time       time.Time `json:"time"`
	Stage      string    `json:"stage"`
	Attempt    int       `json:"attempt"`
	Outcome    string    `json:"outcome"`
	Detail     string    `json:"detail,omitempty"`
	DurationMS int64     `json:"duration_ms,omitempty"`
}

const (
	OutcomeStarted   = "started"
	OutcomeSucceeded = "succeeded"
	OutcomeRetried   = "retried"
	OutcomeFailed    = "failed"
	OutcomeDegraded  = "degraded"
)

// Context is the full state of one analysis run. It is what the result
// store persists, so a partially completed run can be inspected after a
// failure. Stages preserves insertion order.
type Context struct {
	SessionID string        `json:"session_id"`
	Request   string        `json:"request"`
	Profile   Profile       `json:"profile"`
	Status    Status        `json:"status"`
	Stages    []StageResult `json:"stages"`
	History   []Event       `json:"history"`
	Error     string        `json:"error,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// NewContext creates a pending run. An empty sessionID gets a fresh UUID.
func NewContext(sessionID, request string, profile Profile) *Context {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	now := time.Now().UTC()
	return &Context{
		SessionID: sessionID,
		Request:   request,
		Profile:   profile,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// StageResult returns the result for the named stage, if it ran.
func (c *Context) StageResult(name string) (StageResult, bool) {
	for _, sr := range c.Stages {
		if sr.Stage == name {
			return sr, true
		}
	}
	return StageResult{}, false
}

// rawFloat pulls a numeric field out of a prior stage's Raw payload.
// JSON round-trips turn numbers into float64, so both forms are handled.
func (c *Context) rawFloat(stage, key string) (float64, bool) {
	sr, ok := c.StageResult(stage)
	if !ok {
		return 0, false
	}
	switch v := sr.Raw[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}

// rawString pulls a string field out of a prior stage's Raw payload.
func (c *Context) rawString(stage, key string) (string, bool) {
	sr, ok := c.StageResult(stage)
	if !ok {
		return "", false
	}
	s, ok := sr.Raw[key].(string)
	return s, ok
}

// transition moves the run to a new status or reports the invalid change.
func (c *Context) transition(to Status) error {
	if !ValidTransition(c.Status, to) {
		return finerr.Errorf(finerr.CodePipelineStateInvalid,
			"cannot transition run from %s to %s", c.Status, to)
	}
	c.Status = to
	c.UpdatedAt = time.Now().UTC()
	return nil
}

// record appends a history event. Elapsed is zero for events that do
// not close out an attempt.
func (c *Context) record(stage string, attempt int, outcome, detail string, elapsed time.Duration) {
	c.History = append(c.History, Event{
		Time:       time.Now().UTC(),
		Stage:      stage,
		Attempt:    attempt,
		Outcome:    outcome,
		Detail:     detail,
		DurationMS: elapsed.Milliseconds(),
	})
	c.UpdatedAt = time.Now().UTC()
}
