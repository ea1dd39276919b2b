package backend

import (
	"errors"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/relabs-tech/gardenbase/core/gateway"
	"github.com/relabs-tech/gardenbase/core/logger"
)

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	jsonData, err := json.MarshalWithOption(body, json.DisableHTMLEscape())
	if err != nil {
		http.Error(w, "Error 4739", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(jsonData)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, message string) {
	writeJSON(w, status, map[string]interface{}{"error": message})
}

// writeGatewayError translates an error of the gateway into a response. Expected
// errors are returned to the caller, everything else is logged with code and only
// the code is returned.
func writeGatewayError(w http.ResponseWriter, r *http.Request, err error, code string) {
	var incomplete *gateway.IncompleteEntryError
	switch {
	case errors.As(err, &incomplete):
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error":         err.Error(),
			"missingFields": incomplete.MissingFields,
		})
	case errors.Is(err, gateway.ErrNotFound), errors.Is(err, gateway.ErrNoMatch):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, gateway.ErrAmbiguousMatch):
		logger.FromContext(r.Context()).WithError(err).Warnln("primary key is not unique")
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, gateway.ErrUnknownColumn),
		errors.Is(err, gateway.ErrInvalidValue),
		errors.Is(err, gateway.ErrMissingPrimaryKey):
		writeError(w, r, http.StatusBadRequest, err.Error())
	default:
		logger.FromContext(r.Context()).WithError(err).Errorf("%s: %s %s", code, r.Method, r.URL.Path)
		writeError(w, r, http.StatusInternalServerError, code)
	}
}
