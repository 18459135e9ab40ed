// Package handlers provides HTTP handlers for the PhotoSync API.
package handlers

import (
	"encoding/json"
	"net/http"
)

// Problem represents an RFC 7807 "problem details" response.
// https://tools.ietf.org/html/rfc7807
//
// Code carries the machine-readable error code clients branch on
// (QUOTA_EXCEEDED, SUBSCRIPTION_EXPIRED, ...). Quota rejections attach
// the usage extension members so the client can size its retry.
type Problem struct {
	// Type is a URI reference that identifies the problem type.
	// If not set, defaults to "about:blank".
	Type string `json:"type,omitempty"`

	// Title is a short, human-readable summary of the problem type.
	Title string `json:"title"`

	// Status is the HTTP status code for this occurrence of the problem.
	Status int `json:"status"`

	// Detail is a human-readable explanation specific to this occurrence.
	Detail string `json:"detail,omitempty"`

	// Code is the stable machine-readable error code.
	Code string `json:"code,omitempty"`

	// Quota extension members, present on QUOTA_EXCEEDED responses.
	QuotaBytes     *int64 `json:"quotaBytes,omitempty"`
	UsedBytes      *int64 `json:"usedBytes,omitempty"`
	RemainingBytes *int64 `json:"remainingBytes,omitempty"`
}

// ContentTypeProblemJSON is the Content-Type for RFC 7807 problem responses.
const ContentTypeProblemJSON = "application/problem+json"

func writeProblem(w http.ResponseWriter, p *Problem) {
	if p.Type == "" {
		p.Type = "about:blank"
	}
	w.Header().Set("Content-Type", ContentTypeProblemJSON)
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

// WriteProblem writes an RFC 7807 problem response.
func WriteProblem(w http.ResponseWriter, status int, title, detail string) {
	writeProblem(w, &Problem{Title: title, Status: status, Detail: detail})
}

// Common problem helper functions for standard HTTP errors.

// BadRequest writes a 400 Bad Request problem response.
func BadRequest(w http.ResponseWriter, detail string) {
	WriteProblem(w, http.StatusBadRequest, "Bad Request", detail)
}

// Unauthorized writes a 401 Unauthorized problem response.
func Unauthorized(w http.ResponseWriter, detail string) {
	WriteProblem(w, http.StatusUnauthorized, "Unauthorized", detail)
}

// Forbidden writes a 403 Forbidden problem response.
func Forbidden(w http.ResponseWriter, detail string) {
	WriteProblem(w, http.StatusForbidden, "Forbidden", detail)
}

// NotFound writes a 404 Not Found problem response.
func NotFound(w http.ResponseWriter, detail string) {
	WriteProblem(w, http.StatusNotFound, "Not Found", detail)
}

// Conflict writes a 409 Conflict problem response.
func Conflict(w http.ResponseWriter, detail string) {
	WriteProblem(w, http.StatusConflict, "Conflict", detail)
}

// LengthRequired writes a 411 problem response.
func LengthRequired(w http.ResponseWriter, detail string) {
	WriteProblem(w, http.StatusLengthRequired, "Length Required", detail)
}

// PayloadTooLarge writes a 413 problem response.
func PayloadTooLarge(w http.ResponseWriter, detail string) {
	WriteProblem(w, http.StatusRequestEntityTooLarge, "Payload Too Large", detail)
}

// QuotaExceeded writes the 413 QUOTA_EXCEEDED response with usage numbers.
func QuotaExceeded(w http.ResponseWriter, quotaBytes, usedBytes, remainingBytes int64) {
	writeProblem(w, &Problem{
		Title:          "Payload Too Large",
		Status:         http.StatusRequestEntityTooLarge,
		Detail:         "storage quota exceeded",
		Code:           "QUOTA_EXCEEDED",
		QuotaBytes:     &quotaBytes,
		UsedBytes:      &usedBytes,
		RemainingBytes: &remainingBytes,
	})
}

// InternalServerError writes a 500 Internal Server Error problem response.
func InternalServerError(w http.ResponseWriter, detail string) {
	WriteProblem(w, http.StatusInternalServerError, "Internal Server Error", detail)
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// WriteJSONOK writes a 200 OK JSON response.
func WriteJSONOK(w http.ResponseWriter, data any) {
	WriteJSON(w, http.StatusOK, data)
}

// WriteJSONCreated writes a 201 Created JSON response.
func WriteJSONCreated(w http.ResponseWriter, data any) {
	WriteJSON(w, http.StatusCreated, data)
}
