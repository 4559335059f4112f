package apiserver

import "net/http"

// HealthHandler 返回 {"status":"ok"}。
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSONResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}
