package handler

import (
	"time"

	"grc/internal/lifecycle"
)

type AdvanceRequest struct {
	Stage string `json:"lifecycle_stage" validate:"required"`

	stage lifecycle.StageCode
}

func (r *AdvanceRequest) Validate() error {
	stage, err := lifecycle.ParseStage(r.Stage)
	if err != nil {
		return err
	}
	r.stage = stage
	return nil
}

type StageResponse struct {
	Code  lifecycle.StageCode `json:"code"`
	Name  string              `json:"name"`
	Order int                 `json:"order"`
}

// EntryResponse adds the stage name and the time spent in the stage, in
// whole seconds, to a lifecycle entry.
type EntryResponse struct {
	*lifecycle.Entry
	StageName       string `json:"stage_name"`
	DurationSeconds int64  `json:"duration_seconds"`
}

func toEntryResponse(e *lifecycle.Entry, now time.Time) EntryResponse {
	return EntryResponse{
		Entry:           e,
		StageName:       e.Stage.Name(),
		DurationSeconds: int64(e.Duration(now) / time.Second),
	}
}
