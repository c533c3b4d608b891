package httpapi

import (
	"net/http"

	"cruiseline/internal/core"

	"go.uber.org/zap"
)

const authReadyMessage = "Auth API ready. Use POST to validate."

func (a *API) handleAuthReady(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: authReadyMessage})
}

// handleAuthCheck reports the access level granted by the submitted
// passphrase. An unmatched passphrase is a successful check with a null level.
func (a *API) handleAuthCheck(w http.ResponseWriter, r *http.Request) {
	body, err := parseBody(r)
	if err != nil {
		a.logger.Error("auth check failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	passphrase := core.NormalisePassphrase(body)
	if passphrase == "" {
		writeError(w, http.StatusBadRequest, "Passphrase required")
		return
	}
	level := core.CheckAccess(passphrase, a.secrets)
	a.metrics.observeAccess(level)
	writeJSON(w, http.StatusOK, levelEnvelope{Success: true, Level: level})
}
