package workflow

import (
	"encoding/json"
	"maps"
	"math"
	"strconv"
	"strings"

	id "grc/pkg/domain"
)

// RequestData is the request payload, persisted verbatim. The engine only
// reads a handful of recognised keys from it.
type RequestData map[string]any

const (
	keyApprovalType     = "approval_type"
	keyVendorID         = "vendor_id"
	keyBusinessObjectID = "business_object_id"
	keyQuestionnaireID  = "questionnaire_id"
	keyAssignmentID     = "questionnaire_assignment_id"
)

// ApprovalType returns the declared approval type, defaulting to generic.
func (d RequestData) ApprovalType() ApprovalType {
	if s, ok := d[keyApprovalType].(string); ok {
		if t := ApprovalType(strings.TrimSpace(s)); t.IsValid() {
			return t
		}
	}
	return ApprovalGeneric
}

// VendorID looks for vendor_id or business_object_id at the top level, then
// inside the nested objects clients commonly send.
func (d RequestData) VendorID() (id.VendorID, bool) {
	for _, key := range []string{keyVendorID, keyBusinessObjectID} {
		if n, ok := positiveInt(d[key]); ok {
			return id.VendorID(n), true
		}
	}
	for _, parent := range []string{"vendor", "business_object", "assignment_summary", "vendor_info"} {
		nested, ok := d[parent].(map[string]any)
		if !ok {
			continue
		}
		for _, key := range []string{"id", keyVendorID, keyBusinessObjectID} {
			if n, ok := positiveInt(nested[key]); ok {
				return id.VendorID(n), true
			}
		}
	}
	return 0, false
}

func (d RequestData) QuestionnaireID() (id.QuestionnaireID, bool) {
	n, ok := positiveInt(d[keyQuestionnaireID])
	if !ok {
		if summary, isMap := d["assignment_summary"].(map[string]any); isMap {
			n, ok = positiveInt(summary[keyQuestionnaireID])
		}
	}
	return id.QuestionnaireID(n), ok
}

func (d RequestData) AssignmentID() (id.AssignmentID, bool) {
	n, ok := positiveInt(d[keyAssignmentID])
	if !ok {
		if summary, isMap := d["assignment_summary"].(map[string]any); isMap {
			n, ok = positiveInt(summary["assignment_id"])
		}
	}
	return id.AssignmentID(n), ok
}

func (d RequestData) Clone() RequestData {
	return RequestData(cloneJSON(d))
}

// ResponseData is a stage's reviewer payload. Unknown keys are carried
// through every write.
type ResponseData map[string]any

const (
	KeyDecision        = "decision"
	KeyComments        = "comments"
	KeyRejectionReason = "rejection_reason"
	KeyIsDraft         = "is_draft"
	KeyReviewerScores  = "reviewer_scores"
	KeyTotalScore      = "total_score"
	KeyDraftSavedAt    = "draft_saved_at"
	KeyScoresSavedAt   = "scores_saved_at"
)

// ReviewerScore is one reviewer's score for one question.
type ReviewerScore struct {
	Score   float64 `json:"score"`
	Comment string  `json:"comment"`
}

// EmptyResponse is the standardized form of a stage nobody has acted on.
func EmptyResponse() ResponseData {
	return ResponseData{
		KeyDecision:        "",
		KeyComments:        "",
		KeyRejectionReason: "",
		KeyIsDraft:         false,
		KeyReviewerScores:  map[string]any{},
	}
}

// Merge overlays input onto a copy of r. Reviewer scores merge per question
// so a partial update never drops other questions' scores.
func (r ResponseData) Merge(input map[string]any) ResponseData {
	out := ResponseData(cloneJSON(r))
	for k, v := range cloneJSON(input) {
		if k == KeyReviewerScores {
			existing, _ := out[k].(map[string]any)
			incoming, ok := v.(map[string]any)
			if ok {
				merged := maps.Clone(existing)
				if merged == nil {
					merged = map[string]any{}
				}
				maps.Copy(merged, incoming)
				out[k] = merged
				continue
			}
		}
		out[k] = v
	}
	return out
}

// Standardize coerces the recognised keys into their canonical types and
// fills in missing ones. Unknown keys and total_score are kept as they are.
func (r ResponseData) Standardize() ResponseData {
	out := ResponseData(cloneJSON(r))

	decision, _ := out[KeyDecision].(string)
	decision = strings.ToUpper(strings.TrimSpace(decision))
	if !Action(decision).IsValid() {
		decision = ""
	}
	out[KeyDecision] = decision

	for _, key := range []string{KeyComments, KeyRejectionReason} {
		s, _ := out[key].(string)
		out[key] = s
	}

	draft, _ := out[KeyIsDraft].(bool)
	out[KeyIsDraft] = draft

	raw, _ := out[KeyReviewerScores].(map[string]any)
	scores := make(map[string]any, len(raw))
	for qid, v := range raw {
		scores[qid] = scoreEntry(v)
	}
	out[KeyReviewerScores] = scores
	return out
}

// scoreEntry shapes one reviewer_scores value as a map with a float score
// and a string comment. A score that is not a number is kept as given, as
// are any other keys of the entry.
func scoreEntry(v any) map[string]any {
	entry, ok := v.(map[string]any)
	if !ok {
		return map[string]any{"score": coerceScore(v), "comment": ""}
	}
	out := maps.Clone(entry)
	out["score"] = coerceScore(entry["score"])
	comment, _ := entry["comment"].(string)
	out["comment"] = comment
	return out
}

func coerceScore(v any) any {
	if f, ok := number(v); ok {
		return f
	}
	return v
}

// ApplyDecision records a reviewer decision on standardized data.
func (r ResponseData) ApplyDecision(action Action, comments, rejectionReason string) {
	r[KeyDecision] = string(action)
	if comments != "" {
		r[KeyComments] = comments
	}
	r[KeyRejectionReason] = rejectionReason
	r[KeyIsDraft] = false
}

func (r ResponseData) Decision() Action {
	s, _ := r[KeyDecision].(string)
	return Action(s)
}

// ReviewerScores parses reviewer_scores for aggregation. Entries without a
// numeric score are skipped but stay in the stored data. A bare number is
// accepted as {score: n}.
func (r ResponseData) ReviewerScores() map[string]ReviewerScore {
	raw, _ := r[KeyReviewerScores].(map[string]any)
	out := make(map[string]ReviewerScore, len(raw))
	for qid, v := range raw {
		switch entry := v.(type) {
		case map[string]any:
			score, ok := number(entry["score"])
			if !ok {
				continue
			}
			comment, _ := entry["comment"].(string)
			out[qid] = ReviewerScore{Score: score, Comment: comment}
		default:
			if score, ok := number(entry); ok {
				out[qid] = ReviewerScore{Score: score}
			}
		}
	}
	return out
}

// SetReviewerScores merges scores into reviewer_scores and recomputes
// total_score over the questions with a numeric score. Entries it does not
// touch, and extra keys of the ones it does, are kept.
func (r ResponseData) SetReviewerScores(scores map[string]ReviewerScore) {
	existing, _ := r[KeyReviewerScores].(map[string]any)
	raw := make(map[string]any, len(existing)+len(scores))
	for qid, v := range existing {
		raw[qid] = scoreEntry(v)
	}
	for qid, s := range scores {
		entry, _ := raw[qid].(map[string]any)
		if entry == nil {
			entry = map[string]any{}
		}
		entry["score"] = s.Score
		entry["comment"] = s.Comment
		raw[qid] = entry
	}
	r[KeyReviewerScores] = raw

	total := 0.0
	for _, s := range r.ReviewerScores() {
		total += s.Score
	}
	r[KeyTotalScore] = total
}

func cloneJSON(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	b, err := json.Marshal(m)
	if err != nil {
		return maps.Clone(m)
	}
	out := map[string]any{}
	if err := json.Unmarshal(b, &out); err != nil {
		return maps.Clone(m)
	}
	return out
}

func number(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func positiveInt(v any) (int64, bool) {
	f, ok := number(v)
	if !ok || f <= 0 || f != math.Trunc(f) {
		return 0, false
	}
	return int64(f), true
}
