// Package risk triggers vendor risk generation on the external risk-analysis
// service once a response approval completes.
package risk

import id "grc/pkg/domain"

const StatusStarted = "started"

// Ack is returned as soon as generation has been scheduled. ThreadName
// identifies the background job in logs.
type Ack struct {
	Status     string `json:"status"`
	ThreadName string `json:"thread_name"`
}

// GenerateRequest is the body sent to the risk-analysis service.
type GenerateRequest struct {
	TenantID   id.TenantID   `json:"tenant_id"`
	ApprovalID id.ApprovalID `json:"approval_id"`
	VendorID   *id.VendorID  `json:"vendor_id,omitempty"`
}

// GenerateResponse is the service's reply.
type GenerateResponse struct {
	RisksCreated int    `json:"risks_created"`
	Message      string `json:"message"`
}
