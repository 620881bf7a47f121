package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"
)

// Envelope results.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

// RequestIDHeader carries the correlation ID. A client-supplied value is
// echoed back; otherwise one is generated.
const RequestIDHeader = "X-Request-ID"

// Response is the JSON envelope of every /api/v1 reply. Snapshot and health
// payloads go in Data; failures set Code and Message.
type Response struct {
	Result        string `json:"result"`
	Data          any    `json:"data,omitempty"`
	Code          string `json:"code,omitempty"`
	Message       string `json:"message,omitempty"`
	CorrelationID string `json:"correlationId"`
}

// WriteSuccess replies 200 with data.
func WriteSuccess(w http.ResponseWriter, r *http.Request, data any) {
	writeResponse(w, r, http.StatusOK, Response{Result: ResultOK, Data: data})
}

// WriteError replies with status and an error code.
func WriteError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeResponse(w, r, status, Response{Result: ResultError, Code: code, Message: message})
}

// allowGet rejects anything but GET. It reports whether the handler may go on.
func allowGet(w http.ResponseWriter, r *http.Request) bool {
	if r.Method == http.MethodGet {
		return true
	}
	w.Header().Set("Allow", http.MethodGet)
	WriteError(w, r, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Only GET method is allowed")
	return false
}

func writeResponse(w http.ResponseWriter, r *http.Request, status int, resp Response) {
	resp.CorrelationID = requestID(r)
	w.Header().Set(RequestIDHeader, resp.CorrelationID)
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)

	// The status is already sent; an encode failure means the client left.
	_ = json.NewEncoder(w).Encode(resp)
}

var requestSeq atomic.Uint64

func requestID(r *http.Request) string {
	if id := r.Header.Get(RequestIDHeader); id != "" && len(id) <= 128 {
		return id
	}
	return strconv.FormatInt(time.Now().UnixMilli(), 36) + "-" + strconv.FormatUint(requestSeq.Add(1), 36)
}
