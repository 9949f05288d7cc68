package core

import (
	"encoding/json"
	"net/http"

	"smsdispatch/internal/types"
)

// APIErrorResponse is the error envelope written by middleware.
type APIErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail is the structured error returned to clients.
type ErrorDetail struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
}

// JSON writes data with the given status. A marshalling failure becomes a
// 500 with internal_unexpected_error.
func JSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	body, err := json.Marshal(data)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(APIErrorResponse{
			Error: ErrorDetail{
				Code:      string(types.ErrCodeInternalUnexpected),
				Message:   "failed to marshal response",
				RequestID: types.GetRequestID(r.Context()),
			},
		})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
