package middleware

import (
	"encoding/json"
	"net/http"

	"gig-chat/internal/utils"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// WriteError maps err to a status through its AppError code. Anything else
// is a 500 with no detail.
func WriteError(w http.ResponseWriter, err error) {
	if appErr, ok := utils.AsAppError(err); ok {
		WriteJSON(w, utils.AppErrorToHTTPStatus(appErr.Code), &ErrorResponse{Code: appErr.Code, Message: appErr.Message})
		return
	}
	WriteJSON(w, http.StatusInternalServerError, &ErrorResponse{Code: utils.ErrInternal, Message: "internal server error"})
}
