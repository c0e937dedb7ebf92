package httptransport

import (
	"encoding/json"
	"errors"
	"net/http"

	dErrors "github.com/coronasafe/care-abdm/pkg/domain-errors"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError translates domain errors to the JSON error envelope. Correlation
// misses map to 202: the callback is acknowledged and dropped, since it may
// belong to another instance.
func writeError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	message := "unexpected failure"
	var de *dErrors.Error
	if errors.As(err, &de) {
		message = de.Message
	}
	writeJSON(w, dErrors.ToHTTPStatus(code), map[string]any{
		"error": map[string]string{
			"code":    string(code),
			"message": message,
		},
	})
}
