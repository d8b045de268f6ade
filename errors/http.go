package errors

import (
	"encoding/json"
	"net/http"
)

var (
	HttpMap = map[Code]int{
		CodeConflict:        http.StatusConflict,
		CodeInternal:        http.StatusInternalServerError,
		CodeInvalidArgument: http.StatusBadRequest,
		CodeNotFound:        http.StatusNotFound,
		CodeAborted:         http.StatusInternalServerError,
		CodeCanceled:        499,
		CodeTimeout:         http.StatusRequestTimeout,
	}
)

// JSONResponse writes err as a JSON status body with the mapped http code.
// Errors that are not a Status are reported as internal without leaking
// their message.
func JSONResponse(w http.ResponseWriter, err error) error {
	status := AsStatus(err)
	if status == nil {
		status = Internal("internal error")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status.Http())
	return json.NewEncoder(w).Encode(status)
}
