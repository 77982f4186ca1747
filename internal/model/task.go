package model

import "time"

// RequestParams is what the user asked the generation service for. Immutable once submitted.
type RequestParams struct {
	Prompt       string `json:"prompt" validate:"required,min=1,max=3000"`
	Style        string `json:"style,omitempty" validate:"max=200"`
	Instrumental bool   `json:"instrumental"`
	Mode         Mode   `json:"mode" validate:"required,oneof=simple advanced"`
	Title        string `json:"title,omitempty" validate:"max=120"`
	VocalGender  string `json:"vocalGender,omitempty" validate:"omitempty,oneof=m f"`
}

// GenerationTask is one user-initiated request, keyed by the service-issued task id.
type GenerationTask struct {
	TaskID          string         `json:"taskId"`
	UserID          string         `json:"userId"`
	Params          *RequestParams `json:"params,omitempty"` // nil when rebuilt from the ledger
	TransactionHash string         `json:"transactionHash,omitempty"`
	ChainStatus     ChainStatus    `json:"chainStatus"`
	ServiceStatus   ServiceStatus  `json:"serviceStatus"`
	State           TaskState      `json:"state"`
	FailureReason   FailureReason  `json:"failureReason,omitempty"`
	FailureMessage  string         `json:"failureMessage,omitempty"`
	ManualOverride  bool           `json:"manualOverride,omitempty"`
	CreatedAt       time.Time      `json:"createdAt"`
	LastCheckedAt   *time.Time     `json:"lastCheckedAt,omitempty"`
	CompletedAt     *time.Time     `json:"completedAt,omitempty"`
	PollFailures    int            `json:"pollFailures"`
	NextPollAt      time.Time      `json:"-"`
}

// Clone returns a copy that shares no pointers with t.
func (t *GenerationTask) Clone() GenerationTask {
	c := *t
	if t.Params != nil {
		p := *t.Params
		c.Params = &p
	}
	if t.LastCheckedAt != nil {
		ts := *t.LastCheckedAt
		c.LastCheckedAt = &ts
	}
	if t.CompletedAt != nil {
		ts := *t.CompletedAt
		c.CompletedAt = &ts
	}
	return c
}

// SubmitResponse is returned once the fee transaction has been broadcast.
type SubmitResponse struct {
	TaskID          string      `json:"taskId"`
	TransactionHash string      `json:"transactionHash"`
	State           TaskState   `json:"state"`
	ChainStatus     ChainStatus `json:"chainStatus"`
	Fee             string      `json:"fee"`
	CreatedAt       time.Time   `json:"createdAt"`
}
