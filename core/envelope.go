package core

import "time"

// Envelope is the uniform API response shape. Every route, success or failure,
// returns one; offline clients rely on it to classify outcomes.
type Envelope struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Errors    interface{} `json:"errors,omitempty"`
	Message   string      `json:"message,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

func NewEnvelope(data interface{}) Envelope {
	return Envelope{Success: true, Data: data, Timestamp: UTCNow()}
}

func NewErrorEnvelope(message string, errs interface{}) Envelope {
	return Envelope{Success: false, Message: message, Errors: errs, Timestamp: UTCNow()}
}
