package handler

type ConsolidateRequest struct {
	Label   string         `json:"version_label" validate:"required,max=200"`
	Summary string         `json:"changes_summary"`
	Reason  string         `json:"change_reason"`
	Payload map[string]any `json:"json_payload"`
}
