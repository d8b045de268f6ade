package errors

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestJSONResponse(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantBody Code
	}{
		{name: "not found", err: NotFound("lock missing"), wantCode: http.StatusNotFound, wantBody: CodeNotFound},
		{name: "timeout", err: Timeout("lease expired"), wantCode: http.StatusRequestTimeout, wantBody: CodeTimeout},
		{name: "plain error", err: New("boom"), wantCode: http.StatusInternalServerError, wantBody: CodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			if err := JSONResponse(w, tt.err); err != nil {
				t.Fatalf("JSONResponse() error = %v", err)
			}
			if w.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", w.Code, tt.wantCode)
			}
			var body Status
			if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
				t.Fatalf("decode error = %v", err)
			}
			if body.Code != tt.wantBody {
				t.Errorf("code = %v, want %v", body.Code, tt.wantBody)
			}
		})
	}
}

func TestHttpStatusPlainError(t *testing.T) {
	if got := HttpStatus(New("boom")); got != http.StatusInternalServerError {
		t.Fatalf("HttpStatus() = %d, want 500", got)
	}
}
