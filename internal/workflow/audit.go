package workflow

import (
	"fmt"
	"math"
	"strings"
)

const (
	auditKindConstant          = "audit.git"
	auditSchemaVersionConstant = "v1"
	auditValidationTemplate    = "audit artifact validation failed: %s"
	requiredFieldTemplate      = "%s is required"
	unexpectedValueTemplate    = "%s must be one of %s, got %q"
	valueSeparatorConstant     = ", "
	levelRangeTemplate         = "%s must be between 0 and 1, got %g"
)

var (
	auditStatuses     = []string{"ok", "warn", "error"}
	routineRisks      = []string{"low", "medium", "high"}
	uncertaintyMetas  = []string{"productive", "avoidable", "systemic"}
	auditKinds        = []string{auditKindConstant}
	auditSchemaLabels = []string{auditSchemaVersionConstant}
)

// AuditFacts are the raw observations behind an audit.
type AuditFacts struct {
	HeadSHA             *string         `json:"head_sha"`
	HeadRef             *string         `json:"head_ref"`
	IsDetachedHead      bool            `json:"is_detached_head"`
	LocalBranch         *string         `json:"local_branch"`
	Upstream            map[string]any  `json:"upstream"`
	Remotes             []string        `json:"remotes"`
	RemoteDefaultBranch *string         `json:"remote_default_branch"`
	RemoteRefs          map[string]bool `json:"remote_refs"`
	WorkingTree         map[string]any  `json:"working_tree"`
	AheadBehind         map[string]int  `json:"ahead_behind"`
}

// AuditCheck is one evaluated rule.
type AuditCheck struct {
	ID       string         `json:"id"`
	Status   string         `json:"status"`
	Message  string         `json:"message"`
	Evidence map[string]any `json:"evidence,omitempty"`
}

// SuggestedRoutine names a routine the audit recommends.
type SuggestedRoutine struct {
	ID              string   `json:"id"`
	Risk            string   `json:"risk"`
	Mutating        bool     `json:"mutating"`
	DryRunSupported bool     `json:"dry_run_supported"`
	Reason          string   `json:"reason"`
	Requires        []string `json:"requires"`
}

// Uncertainty summarizes how confident the audit is.
type Uncertainty struct {
	Level  float64             `json:"level"`
	Causes []map[string]string `json:"causes"`
	Meta   string              `json:"meta"`
}

// AuditGit is the audit.git v1 artifact.
type AuditGit struct {
	Kind              string             `json:"kind"`
	SchemaVersion     string             `json:"schema_version"`
	Timestamp         string             `json:"ts"`
	Repo              string             `json:"repo"`
	WorkingDirectory  string             `json:"cwd"`
	Status            string             `json:"status"`
	Facts             AuditFacts         `json:"facts"`
	Checks            []AuditCheck       `json:"checks"`
	Uncertainty       Uncertainty        `json:"uncertainty"`
	SuggestedRoutines []SuggestedRoutine `json:"suggested_routines"`
	CorrelationID     string             `json:"correlation_id,omitempty"`
	ExitCode          *int               `json:"_exit_code,omitempty"`
}

// ValidationError reports an artifact that does not match the audit.git v1 shape.
type ValidationError struct {
	Reason string
}

// Error describes the violation.
func (validationError ValidationError) Error() string {
	return fmt.Sprintf(auditValidationTemplate, validationError.Reason)
}

// Validate checks required fields and enumerations. Kind and schema version
// default to audit.git and v1 when absent.
func (audit *AuditGit) Validate() error {
	if len(audit.Kind) == 0 {
		audit.Kind = auditKindConstant
	}
	if len(audit.SchemaVersion) == 0 {
		audit.SchemaVersion = auditSchemaVersionConstant
	}
	checks := []error{
		requireOneOf("kind", audit.Kind, auditKinds),
		requireOneOf("schema_version", audit.SchemaVersion, auditSchemaLabels),
		requireValue("ts", audit.Timestamp),
		requireValue("repo", audit.Repo),
		requireValue("cwd", audit.WorkingDirectory),
		requireOneOf("status", audit.Status, auditStatuses),
		requireUnitInterval("uncertainty.level", audit.Uncertainty.Level),
		requireOneOf("uncertainty.meta", audit.Uncertainty.Meta, uncertaintyMetas),
	}
	for _, check := range audit.Checks {
		checks = append(checks, requireValue("checks.id", check.ID), requireOneOf("checks.status", check.Status, auditStatuses))
	}
	for _, routine := range audit.SuggestedRoutines {
		checks = append(checks, requireValue("suggested_routines.id", routine.ID), requireOneOf("suggested_routines.risk", routine.Risk, routineRisks))
	}
	for _, checkError := range checks {
		if checkError != nil {
			return checkError
		}
	}
	return nil
}

func requireValue(field string, value string) error {
	if len(strings.TrimSpace(value)) == 0 {
		return ValidationError{Reason: fmt.Sprintf(requiredFieldTemplate, field)}
	}
	return nil
}

func requireUnitInterval(field string, value float64) error {
	if value < 0 || value > 1 || math.IsNaN(value) {
		return ValidationError{Reason: fmt.Sprintf(levelRangeTemplate, field, value)}
	}
	return nil
}

func requireOneOf(field string, value string, allowed []string) error {
	for _, candidate := range allowed {
		if value == candidate {
			return nil
		}
	}
	return ValidationError{Reason: fmt.Sprintf(unexpectedValueTemplate, field, strings.Join(allowed, valueSeparatorConstant), value)}
}
