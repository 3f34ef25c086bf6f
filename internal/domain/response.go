package domain

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Response is a fully read reply from the export API.
type Response struct {
	StatusCode int
	Reason     string
	Body       []byte
}

// ErrorBody is the payload of non-200 export and status responses.
type ErrorBody struct {
	Error string `json:"error"`
}

// StatusBody is the payload of a 200 status.json response.
type StatusBody struct {
	Status      ExportStatus `json:"status"`
	Info        string       `json:"info"`
	DownloadURL string       `json:"download_url"`
	ExportedAt  string       `json:"exported_at"`
}

// NewResponse builds a response with the standard reason phrase for code.
func NewResponse(code int, body []byte) Response {
	return Response{StatusCode: code, Reason: http.StatusText(code), Body: body}
}

// OK reports a 200 status code.
func (r Response) OK() bool {
	return r.StatusCode == http.StatusOK
}

// ErrorMessage decodes the error field. An empty body yields an empty message.
func (r Response) ErrorMessage() (string, error) {
	if len(r.Body) == 0 {
		return "", nil
	}
	var body ErrorBody
	if err := json.Unmarshal(r.Body, &body); err != nil {
		return "", fmt.Errorf("decode error body: %w", err)
	}
	return body.Error, nil
}

// Status decodes a status.json payload.
func (r Response) Status() (StatusBody, error) {
	var body StatusBody
	if err := json.Unmarshal(r.Body, &body); err != nil {
		return StatusBody{}, fmt.Errorf("decode status body: %w", err)
	}
	return body, nil
}

// Error messages returned by downloads/export.json and status.json.
const (
	PendingExportMessage   = "Cannot start data export because there is another data export pending"
	InvalidTokenMessage    = "Data export information not found. Invalid token?"
	OnlyOneExportMessage   = "Only one data export per topic allowed every 24 h"
	UnexpectedErrorMessage = "An unexpected error occurred. Please try again by starting a new data export"
)
