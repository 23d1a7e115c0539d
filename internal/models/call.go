package models

import "strings"

// CallStatus mirrors the CallStatus values Twilio posts to status callbacks.
type CallStatus string

const (
	CallStatusQueued     CallStatus = "queued"
	CallStatusInitiated  CallStatus = "initiated"
	CallStatusRinging    CallStatus = "ringing"
	CallStatusInProgress CallStatus = "in-progress"
	CallStatusCompleted  CallStatus = "completed"
	CallStatusBusy       CallStatus = "busy"
	CallStatusFailed     CallStatus = "failed"
	CallStatusNoAnswer   CallStatus = "no-answer"
	CallStatusCanceled   CallStatus = "canceled"
)

// ParseCallStatus normalizes a raw status callback value.
func ParseCallStatus(s string) CallStatus {
	return CallStatus(strings.ToLower(strings.TrimSpace(s)))
}

// IsTerminal reports whether no further events are expected for the call.
func (s CallStatus) IsTerminal() bool {
	switch s {
	case CallStatusCompleted, CallStatusBusy, CallStatusFailed, CallStatusNoAnswer, CallStatusCanceled:
		return true
	default:
		return false
	}
}

// ConversationUpload is the body posted to the backend's save-conversation endpoint.
type ConversationUpload struct {
	CallSID      string         `json:"call_sid"`
	UserInfo     *CallerProfile `json:"user_info"`
	Conversation []Message      `json:"conversation"`
}
