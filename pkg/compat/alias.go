package compat

import (
	"bytes"
	"encoding/json"
	"mime"
	"net/http"
	"strconv"
)

// DefaultAliases maps current response field names to the names pre-migration
// clients read.
var DefaultAliases = map[string]string{
	"featureSet":     "features",
	"status":         "subscriptionStatus",
	"planId":         "plan",
	"subscriptionId": "subscription",
	"trialEndDate":   "trialEnd",
	"blockAccess":    "accessBlocked",
}

// LegacyAliases rewrites JSON responses so the response document carries the
// legacy alias of each current field name. The document is the top-level
// object, or the object under "data" when the response uses the envelope.
// Nested objects and arrays are not rewritten. An alias already present is
// left untouched. Non-JSON responses pass through unchanged.
func LegacyAliases(aliases map[string]string) func(http.Handler) http.Handler {
	if aliases == nil {
		aliases = DefaultAliases
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bw := &bufferedWriter{ResponseWriter: w}
			next.ServeHTTP(bw, r)
			bw.flush(aliases)
		})
	}
}

// Shape adds aliases to body and reports whether anything changed.
func Shape(body []byte, aliases map[string]string) ([]byte, bool) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return body, false
	}
	if !addAliases(v, aliases) {
		return body, false
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return body, false
	}
	return buf.Bytes(), true
}

func addAliases(v any, aliases map[string]string) bool {
	root, ok := v.(map[string]any)
	if !ok {
		return false
	}
	changed := aliasObject(root, aliases)
	if data, ok := root["data"].(map[string]any); ok && aliasObject(data, aliases) {
		changed = true
	}
	return changed
}

func aliasObject(obj map[string]any, aliases map[string]string) bool {
	changed := false
	for current, legacy := range aliases {
		val, ok := obj[current]
		if !ok {
			continue
		}
		if _, exists := obj[legacy]; exists {
			continue
		}
		obj[legacy] = val
		changed = true
	}
	return changed
}

type bufferedWriter struct {
	http.ResponseWriter
	status int
	buf    bytes.Buffer
}

func (w *bufferedWriter) WriteHeader(status int) {
	if w.status == 0 {
		w.status = status
	}
}

func (w *bufferedWriter) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.buf.Write(p)
}

func (w *bufferedWriter) flush(aliases map[string]string) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	body := w.buf.Bytes()
	if isJSON(w.Header().Get("Content-Type")) && len(body) > 0 {
		if shaped, ok := Shape(body, aliases); ok {
			body = shaped
			w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		}
	}
	w.ResponseWriter.WriteHeader(w.status)
	_, _ = w.ResponseWriter.Write(body)
}

func isJSON(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	return err == nil && mt == "application/json"
}
