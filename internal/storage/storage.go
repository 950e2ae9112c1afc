// Package storage defines the object storage port used for evidence files and
// the upload constraints every implementation enforces.
package storage

import (
	"context"
	"fmt"
	"path"
	"strings"

	id "grc/pkg/domain"
	dErrors "grc/pkg/domain-errors"
)

// MaxUploadSize is the largest accepted object, in bytes.
const MaxUploadSize = 10 << 20

var allowedTypes = map[string]string{
	".pdf":  "application/pdf",
	".csv":  "text/csv",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".xls":  "application/vnd.ms-excel",
	".doc":  "application/msword",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".txt":  "text/plain",
}

// S3Client is the object store. Upload returns the public URL, the object key
// and the generated stored name.
type S3Client interface {
	Upload(ctx context.Context, in UploadInput) (*UploadResult, error)
	Download(ctx context.Context, key, name string, userID id.UserID) ([]byte, error)
	TestConnection(ctx context.Context) error
}

type UploadInput struct {
	TenantID    id.TenantID
	UserID      id.UserID
	Module      string
	FileName    string
	ContentType string
	Data        []byte
}

type UploadResult struct {
	S3URL      string `json:"s3_url"`
	S3Key      string `json:"s3_key"`
	StoredName string `json:"stored_name"`
	FileType   string `json:"file_type"`
	FileSize   int64  `json:"file_size"`
}

// FileType returns the normalised type of a file name: its extension without
// the dot, lowercased.
func FileType(name string) string {
	return strings.TrimPrefix(strings.ToLower(path.Ext(name)), ".")
}

// ValidateUpload enforces the size limit and the allowed file types. The
// declared content type is accepted when it matches the extension or is
// text/plain for a .txt file; an empty content type defers to the extension.
func ValidateUpload(in UploadInput) error {
	if strings.TrimSpace(in.FileName) == "" {
		return dErrors.New(dErrors.CodeValidation, "file name is required")
	}
	if len(in.Data) == 0 {
		return dErrors.New(dErrors.CodeValidation, "file is empty")
	}
	if len(in.Data) > MaxUploadSize {
		return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("file exceeds %d bytes", MaxUploadSize))
	}
	ext := strings.ToLower(path.Ext(in.FileName))
	want, ok := allowedTypes[ext]
	if !ok {
		return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("file type %q is not allowed", ext))
	}
	ct := strings.TrimSpace(strings.SplitN(in.ContentType, ";", 2)[0])
	if ct == "" || ct == "application/octet-stream" || strings.EqualFold(ct, want) {
		return nil
	}
	if ext == ".csv" && strings.EqualFold(ct, "text/plain") {
		return nil
	}
	return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("content type %q does not match %s", ct, ext))
}

// ObjectKey lays objects out per tenant and module. The stored name is
// prefixed so two uploads of the same file never collide.
func ObjectKey(tenantID id.TenantID, module, storedName string) string {
	return path.Join(tenantID.String(), module, storedName)
}
