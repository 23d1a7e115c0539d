package api

import (
	"errors"
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/twilio/twilio-go/client"

	"github.com/BTreeMap/DialPipe/internal/voice"
)

// SignatureHeader carries Twilio's HMAC of the request URL and form.
const SignatureHeader = "X-Twilio-Signature"

var errMissingSignature = errors.New("missing " + SignatureHeader + " header")

// twilioSignature rejects webhook requests that were not signed with the account's auth token. The
// signed URL is the public base URL plus the request URI, since Twilio signs the address it called.
func (s *Server) twilioSignature(next http.Handler) http.Handler {
	validator := client.NewRequestValidator(s.authToken)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.tunnel == nil {
			slog.Warn("Server.twilioSignature: no public URL, skipping validation", "path", r.URL.Path)
			next.ServeHTTP(w, r)
			return
		}
		base, err := s.tunnel.PublicURL(r.Context())
		if err != nil {
			slog.Warn("Server.twilioSignature: public URL unavailable, skipping validation", "error", err)
			next.ServeHTTP(w, r)
			return
		}

		signature := r.Header.Get(SignatureHeader)
		if signature == "" {
			slog.Warn("Server.twilioSignature: rejected request", "path", r.URL.Path, "error", errMissingSignature)
			writeText(w, http.StatusForbidden, "Forbidden")
			return
		}
		if err := r.ParseForm(); err != nil {
			slog.Warn("Server.twilioSignature: failed to parse form", "error", err)
			writeText(w, http.StatusBadRequest, "Bad Request")
			return
		}
		params := make(map[string]string, len(r.PostForm))
		for k, v := range r.PostForm {
			if len(v) > 0 {
				params[k] = v[0]
			}
		}
		if !validator.Validate(base+r.URL.RequestURI(), params, signature) {
			slog.Warn("Server.twilioSignature: signature mismatch", "path", r.URL.Path)
			writeText(w, http.StatusForbidden, "Forbidden")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// twimlRecoverer turns a handler panic into the fallback TwiML document so the caller hears an apology
// instead of Twilio's application error message.
func twimlRecoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				slog.Error("Server.twimlRecoverer: handler panicked", "path", r.URL.Path, "panic", rec, "stack", string(debug.Stack()))
				writeTwiML(w, voice.Fallback())
			}
		}()
		next.ServeHTTP(w, r)
	})
}
