package skills

import (
	"context"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/ashita-ai/vesper/internal/errkind"
)

// explicitInvocationPattern matches spec §4.5 rule 1.
var explicitInvocationPattern = regexp.MustCompile(`(?i)\b(use|invoke|run|execute)\s+(skill\s+)?(.+)`)

// idReferencePattern matches spec §4.5 rule 4.
var idReferencePattern = regexp.MustCompile(`skill_[a-f0-9-]+`)

// previousReferencePattern matches spec §4.5 rule 3.
var previousReferencePattern = regexp.MustCompile(`(?i)\b(like before|same as (last|before)|as (we|i) did (before|last time))\b`)

// InvocationResult reports whether a query string invokes a skill, and with
// what confidence, per spec §4.5's five ordered rules (first match wins).
type InvocationResult struct {
	IsInvocation bool
	SkillID      uuid.UUID
	Confidence   float64
	Rule         string
}

// DetectInvocation evaluates query against the five ordered invocation
// rules. lastUsedSkillID may be uuid.Nil if no skill has been used yet.
func (l *Library) DetectInvocation(ctx context.Context, namespace, query string, lastUsedSkillID uuid.UUID) (InvocationResult, error) {
	if m := idReferencePattern.FindString(query); m != "" {
		// Rule 4 (direct id reference) takes precedence: it is the only
		// exact, unambiguous signal.
		if id, err := resolveSkillIDToken(m); err == nil {
			if _, err := l.LoadFull(ctx, id); err == nil {
				return InvocationResult{IsInvocation: true, SkillID: id, Confidence: 1.0, Rule: "id_reference"}, nil
			}
		}
	}

	if matches := explicitInvocationPattern.FindStringSubmatch(query); matches != nil {
		name := strings.TrimSpace(matches[3])
		if id, ok, err := l.findSkillByName(ctx, namespace, name); err != nil {
			return InvocationResult{}, err
		} else if ok {
			return InvocationResult{IsInvocation: true, SkillID: id, Confidence: 0.95, Rule: "explicit"}, nil
		}
	}

	summaries, err := l.Summaries(ctx, namespace, -1, "")
	if err != nil {
		return InvocationResult{}, err
	}
	if id, ok, err := l.matchTriggerSubstring(ctx, namespace, query, summaries); err != nil {
		return InvocationResult{}, err
	} else if ok {
		return InvocationResult{IsInvocation: true, SkillID: id, Confidence: 0.75, Rule: "trigger_substring"}, nil
	}

	if previousReferencePattern.MatchString(query) && lastUsedSkillID != uuid.Nil {
		return InvocationResult{IsInvocation: true, SkillID: lastUsedSkillID, Confidence: 0.80, Rule: "previous_reference"}, nil
	}

	return InvocationResult{IsInvocation: false}, nil
}

func resolveSkillIDToken(token string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimPrefix(token, "skill_"))
	if err != nil {
		return uuid.UUID{}, errkind.New(errkind.InvalidInput, false, "skills: malformed skill id token")
	}
	return id, nil
}

func (l *Library) findSkillByName(ctx context.Context, namespace, name string) (uuid.UUID, bool, error) {
	row := l.db.QueryRowContext(ctx, `SELECT id FROM skills WHERE namespace = ? AND name = ? AND is_archived = 0`, namespace, name)
	var idStr string
	if err := row.Scan(&idStr); err != nil {
		return uuid.UUID{}, false, nil
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return uuid.UUID{}, false, err
	}
	return id, true, nil
}

func (l *Library) matchTriggerSubstring(ctx context.Context, namespace, query string, summaries []Summary) (uuid.UUID, bool, error) {
	lowered := strings.ToLower(query)
	for _, sum := range summaries {
		sk, err := l.LoadFull(ctx, sum.ID)
		if err != nil {
			continue
		}
		for _, trig := range sk.Triggers {
			if trig != "" && strings.Contains(lowered, strings.ToLower(trig)) {
				return sk.ID, true, nil
			}
		}
	}
	return uuid.UUID{}, false, nil
}
