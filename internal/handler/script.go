package handler

import (
	"bytes"
	"net/http"
	"strconv"
	"time"
)

// ScriptHandler serves the embeddable tracker script.
type ScriptHandler struct {
	script  []byte
	maxAge  time.Duration
	modTime time.Time
}

// NewScriptHandler serves script with the given cache lifetime.
func NewScriptHandler(script []byte, maxAge time.Duration) *ScriptHandler {
	return &ScriptHandler{
		script:  script,
		maxAge:  maxAge,
		modTime: time.Now().UTC().Truncate(time.Second),
	}
}

// Serve handles GET /tracker.js. Any site may load and execute the script.
func (h *ScriptHandler) Serve(w http.ResponseWriter, r *http.Request) {
	header := w.Header()
	header.Set("Content-Type", "application/javascript; charset=utf-8")
	header.Set("Cache-Control", "public, max-age="+strconv.Itoa(int(h.maxAge.Seconds())))
	header.Set("Access-Control-Allow-Origin", "*")
	header.Set("Cross-Origin-Resource-Policy", "cross-origin")

	http.ServeContent(w, r, "tracker.js", h.modTime, bytes.NewReader(h.script))
}
