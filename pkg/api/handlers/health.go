package handlers

import "net/http"

// Health is the liveness probe.
func Health(w http.ResponseWriter, r *http.Request) {
	WriteJSONOK(w, map[string]bool{"ok": true})
}

// Root refuses unauthenticated discovery of the server.
func Root(w http.ResponseWriter, r *http.Request) {
	Forbidden(w, "forbidden")
}
