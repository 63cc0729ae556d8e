package model

import "time"

// Response is the standard API response envelope.
type Response struct {
	Status    string    `json:"status"`
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
	List      *ListMeta `json:"list,omitempty"`
	Error     *APIError `json:"error"`
}

// ListMeta describes a list response. More is set when the limit cut the
// result short.
type ListMeta struct {
	Count int  `json:"count"`
	Limit int  `json:"limit"`
	More  bool `json:"more"`
}
