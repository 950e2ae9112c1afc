package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "grc/pkg/domain"
	dErrors "grc/pkg/domain-errors"
)

func TestParseEvidence_KeepsOrderAndDuplicates(t *testing.T) {
	ev := ParseEvidence("https://s3/a.pdf; ;#linked-event-file_op_17;;https://s3/a.pdf")
	assert.Equal(t, Evidence{"https://s3/a.pdf", "#linked-event-file_op_17", "https://s3/a.pdf"}, ev)
	assert.Equal(t, 3, ev.Count())
	assert.Equal(t, "https://s3/a.pdf;#linked-event-file_op_17;https://s3/a.pdf", ev.String())

	assert.Empty(t, ParseEvidence(""))
	assert.Equal(t, 1, Evidence{"", "x", " "}.Count())
}

func TestEvidence_AddRemove(t *testing.T) {
	ev := ParseEvidence("a;b;a")

	added := ev.Add("c")
	assert.Equal(t, Evidence{"a", "b", "a", "c"}, added)
	assert.Equal(t, Evidence{"a", "b", "a"}, ev, "Add must not alias the receiver")

	out, removed := added.Remove("a")
	assert.True(t, removed)
	assert.Equal(t, Evidence{"b", "c"}, out)

	_, removed = out.Remove("zzz")
	assert.False(t, removed)
}

func TestFileOperationTokens(t *testing.T) {
	assert.Equal(t, "#linked-event-file_op_17", FileOperationToken(17))

	fid, ok := ParseFileOperationToken("#linked-event-file_op_17")
	require.True(t, ok)
	assert.Equal(t, id.FileOperationID(17), fid)

	for _, bad := range []string{"#linked-event-file_op_", "#linked-event-file_op_x", "#linked-event-file_op_-3", "https://s3/a.pdf"} {
		_, ok := ParseFileOperationToken(bad)
		assert.False(t, ok, bad)
	}

	ev := ParseEvidence("#linked-event-file_op_9;https://x/y.pdf;#linked-event-file_op_2;#linked-event-file_op_9")
	assert.Equal(t, []id.FileOperationID{9, 2}, ev.FileOperationIDs())
}

func TestValidateToken(t *testing.T) {
	require.NoError(t, ValidateToken("https://s3/a.pdf"))
	require.NoError(t, ValidateToken("#linked-event-file_op_4"))
	for _, bad := range []string{"", "  ", "a;b", "#linked-event-file_op_zz"} {
		err := ValidateToken(bad)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation), bad)
	}
}

func TestURLDetail(t *testing.T) {
	d := URLDetail("https://bucket.s3/t1/events/Policy.PDF?X-Amz-Signature=abc")
	assert.Equal(t, "Policy.PDF", d.Filename)
	assert.Equal(t, "pdf", d.FileType)
	assert.Equal(t, SourceS3, d.Source)
	assert.Equal(t, "https://bucket.s3/t1/events/Policy.PDF?X-Amz-Signature=abc", d.URL)
}

func TestEventReviewRules(t *testing.T) {
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	owner := id.NewUserID()
	e := NewEvent(id.NewTenantID(), owner, now)
	assert.Equal(t, StatusUnderReview, e.Status)
	assert.Equal(t, owner, e.OwnerID)

	assert.True(t, dErrors.HasCode(e.CanReview(), dErrors.CodeInvariantViolation), "no reviewer yet")

	reviewer := id.NewUserID()
	require.NoError(t, e.CanAssign())
	e.Assign(reviewer, now)
	assert.True(t, e.IsReviewer(reviewer))
	assert.False(t, e.IsReviewer(owner))
	require.NoError(t, e.CanReview())

	e.Review(StatusRejected, "missing signature", now)
	assert.Equal(t, now, *e.ReviewedAt)
	assert.Error(t, e.CanReview())

	e.SetEvidence(ParseEvidence("https://s3/signed.pdf"), now)
	assert.Equal(t, StatusPendingReview, e.Status)
	assert.Equal(t, 1, e.EvidenceCount)
	require.NoError(t, e.CanReview())

	e.Archive(now)
	assert.Error(t, e.CanArchive())
	assert.Error(t, e.CanAssign())
	assert.Error(t, e.CanEditEvidence())
}

func TestTemplatesAreNotReviewed(t *testing.T) {
	e := NewEvent(id.NewTenantID(), id.NewUserID(), time.Now())
	e.IsTemplate = true
	e.Assign(id.NewUserID(), time.Now())
	assert.True(t, dErrors.HasCode(e.CanReview(), dErrors.CodeInvariantViolation))
}

func TestAddLinkedEvidence_DedupesOnURL(t *testing.T) {
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	ia := NewIncidentApproval(id.NewTenantID(), 7, now)
	ia.ExtractedInfo["summary"] = "phishing"
	ia.ExtractedInfo["linked_evidence"] = []any{map[string]any{"url": "https://s3/a.pdf"}}

	added := ia.AddLinkedEvidence([]LinkedEvidence{
		{EventID: 1, URL: "https://s3/a.pdf", Filename: "a.pdf"},
		{EventID: 1, URL: "https://s3/b.pdf", Filename: "b.pdf", FileSize: 10},
		{EventID: 2, URL: "https://s3/b.pdf", Filename: "b.pdf"},
		{EventID: 2, URL: ""},
	}, now)

	require.Len(t, added, 1)
	assert.Equal(t, "b.pdf", added[0].Filename)
	assert.Equal(t, 2, ia.LinkedEvidenceCount())
	assert.Equal(t, "phishing", ia.ExtractedInfo["summary"])
}

func TestParseStatus(t *testing.T) {
	s, err := ParseStatus("pending review")
	require.NoError(t, err)
	assert.Equal(t, StatusPendingReview, s)

	_, err = ParseStatus("Closed")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
}
