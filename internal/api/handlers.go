package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/BTreeMap/DialPipe/internal/callstate"
	"github.com/BTreeMap/DialPipe/internal/models"
	"github.com/BTreeMap/DialPipe/internal/signals"
	"github.com/BTreeMap/DialPipe/internal/voice"
)

// uploadTimeout bounds the history upload run from the status callback.
const uploadTimeout = 20 * time.Second

// healthTimeout bounds the store probe.
const healthTimeout = 3 * time.Second

// Upload claim key for callstate.Tracker.Claim.
const claimUpload = "upload"

// HealthStatus is the result payload of GET /health.
type HealthStatus struct {
	Store       string `json:"store"`
	ActiveCalls int    `json:"active_calls"`
}

func (s *Server) profileFor(callSID string, phones ...string) *models.CallerProfile {
	if s.profiles == nil {
		return nil
	}
	return s.profiles.Lookup(callSID, phones...)
}

// voiceHandler answers a new or redirected call with the introduction and a speech gather.
func (s *Server) voiceHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		slog.Warn("Server.voiceHandler: failed to parse form", "error", err)
		writeTwiML(w, voice.Fallback())
		return
	}
	callSID := strings.TrimSpace(r.PostFormValue("CallSid"))
	from := r.PostFormValue("From")
	to := r.PostFormValue("To")
	slog.Debug("Server.voiceHandler: incoming call", "call_sid", callSID, "from", from, "to", to)

	if callSID == "" {
		slog.Warn("Server.voiceHandler: missing CallSid")
		writeTwiML(w, voice.Fallback())
		return
	}
	if !s.calls.Transition(callSID, callstate.StateGreeting) {
		slog.Info("Server.voiceHandler: call already ended", "call_sid", callSID)
		writeTwiML(w, voice.Hangup())
		return
	}

	profile := s.profileFor(callSID, from, to)
	reply := s.dialogue.GenerateIntroduction(r.Context(), callSID, profile)
	if reply.Fallback {
		slog.Warn("Server.voiceHandler: using fallback introduction", "call_sid", callSID, "error", reply.Err)
	}

	if !s.calls.Transition(callSID, callstate.StateGathering) {
		writeTwiML(w, voice.Hangup())
		return
	}
	slog.Info("Server.voiceHandler: introduction sent", "call_sid", callSID)
	writeTwiML(w, s.voice.Listen(reply.Text))
}

// transcribeHandler takes one speech result and either responds and keeps listening, or closes the call.
func (s *Server) transcribeHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		slog.Warn("Server.transcribeHandler: failed to parse form", "error", err)
		writeTwiML(w, voice.Fallback())
		return
	}
	callSID := strings.TrimSpace(r.PostFormValue("CallSid"))
	speech := strings.TrimSpace(r.PostFormValue("SpeechResult"))
	slog.Debug("Server.transcribeHandler: speech received", "call_sid", callSID, "speech", speech)

	if callSID == "" {
		slog.Warn("Server.transcribeHandler: missing CallSid")
		writeTwiML(w, voice.Fallback())
		return
	}
	if s.calls.IsEnded(callSID) {
		slog.Info("Server.transcribeHandler: call already ended", "call_sid", callSID)
		writeTwiML(w, voice.Hangup())
		return
	}
	if speech == "" {
		slog.Debug("Server.transcribeHandler: empty transcript, prompting again", "call_sid", callSID)
		s.calls.Transition(callSID, callstate.StateGathering)
		writeTwiML(w, s.voice.Reprompt())
		return
	}

	profile := s.profileFor(callSID, r.PostFormValue("From"), r.PostFormValue("To"))

	if signals.DetectsEnd(speech) {
		reply := s.dialogue.GenerateClosing(r.Context(), callSID, profile)
		if reply.Fallback {
			slog.Warn("Server.transcribeHandler: using fallback closing", "call_sid", callSID, "error", reply.Err)
		}
		if !s.calls.End(callSID) {
			writeTwiML(w, voice.Hangup())
			return
		}
		slog.Info("Server.transcribeHandler: caller ended the conversation", "call_sid", callSID)
		writeTwiML(w, s.voice.Close(reply.Text))
		return
	}

	if !s.calls.Transition(callSID, callstate.StateProcessing) {
		writeTwiML(w, voice.Hangup())
		return
	}
	reply := s.dialogue.GenerateResponse(r.Context(), speech, callSID, profile)
	if reply.Fallback {
		slog.Warn("Server.transcribeHandler: using fallback response", "call_sid", callSID, "error", reply.Err)
	}
	if !s.calls.Transition(callSID, callstate.StateGathering) {
		slog.Info("Server.transcribeHandler: call ended while responding", "call_sid", callSID)
		writeTwiML(w, voice.Hangup())
		return
	}
	writeTwiML(w, s.voice.Listen(reply.Text))
}

// callStatusHandler records status callbacks. A terminal status ends the call and uploads its history once.
func (s *Server) callStatusHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		slog.Warn("Server.callStatusHandler: failed to parse form", "error", err)
		writeText(w, http.StatusOK, "OK")
		return
	}
	callSID := strings.TrimSpace(r.PostFormValue("CallSid"))
	status := models.ParseCallStatus(r.PostFormValue("CallStatus"))
	from := r.PostFormValue("From")
	slog.Info("Server.callStatusHandler: status update", "call_sid", callSID, "status", status, "from", from)

	if callSID == "" {
		writeText(w, http.StatusOK, "OK")
		return
	}

	if !status.IsTerminal() {
		if s.calls.Get(callSID) == callstate.StateUnknown {
			s.calls.Transition(callSID, callstate.StateRinging)
		}
		writeText(w, http.StatusOK, "OK")
		return
	}

	s.calls.End(callSID)
	if s.uploader != nil && s.calls.Claim(callSID, claimUpload) {
		profile := s.profileFor(callSID, from, r.PostFormValue("To"))
		ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), uploadTimeout)
		defer cancel()
		history := s.dialogue.History(ctx, callSID, profile)
		res, err := s.uploader.Upload(ctx, callSID, profile, history)
		if err != nil {
			slog.Error("Server.callStatusHandler: failed to upload conversation", "call_sid", callSID, "error", err)
		} else {
			slog.Info("Server.callStatusHandler: conversation uploaded", "call_sid", callSID, "status_code", res.StatusCode, "messages", len(history))
		}
	}
	if s.profiles != nil {
		s.profiles.Forget(callSID)
	}
	writeText(w, http.StatusOK, "OK")
}

// triggerCallHandler places an outbound call to the phone query parameter.
func (s *Server) triggerCallHandler(w http.ResponseWriter, r *http.Request) {
	phone := strings.TrimSpace(r.URL.Query().Get("phone"))
	if phone == "" {
		slog.Warn("Server.triggerCallHandler: phone missing")
		writeJSONError(w, http.StatusBadRequest, "Phone is required")
		return
	}
	if s.initiator == nil {
		slog.Error("Server.triggerCallHandler: no call initiator configured")
		writeJSONError(w, http.StatusInternalServerError, "Outbound calling is not configured")
		return
	}
	if err := s.initiator.ValidatePhone(phone); err != nil {
		slog.Warn("Server.triggerCallHandler: invalid phone", "phone", phone, "error", err)
		writeJSONError(w, http.StatusBadRequest, "Invalid phone number")
		return
	}
	if s.tunnel == nil {
		slog.Error("Server.triggerCallHandler: no public URL provisioner configured")
		writeJSONError(w, http.StatusInternalServerError, "Failed to start tunnel")
		return
	}
	baseURL, err := s.tunnel.PublicURL(r.Context())
	if err != nil {
		slog.Error("Server.triggerCallHandler: failed to obtain public URL", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "Failed to start tunnel")
		return
	}

	profile := s.profileFor("", phone)
	sid, err := s.initiator.PlaceCall(r.Context(), phone, baseURL, profile)
	if err != nil {
		slog.Error("Server.triggerCallHandler: failed to place call", "phone", phone, "error", err)
		writeJSONError(w, http.StatusBadGateway, "Failed to initiate call")
		return
	}
	s.calls.Transition(sid, callstate.StateRinging)
	slog.Info("Server.triggerCallHandler: call initiated", "phone", phone, "call_sid", sid)
	writeJSONResponse(w, http.StatusOK, models.TriggerCallResponse{Status: models.APIStatusInitiated, CallSID: sid})
}

// healthHandler reports store reachability and the number of live calls.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	result := HealthStatus{Store: "ok", ActiveCalls: s.calls.Active()}
	if s.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()
		if err := s.health.Ping(ctx); err != nil {
			slog.Error("Server.healthHandler: store unreachable", "error", err)
			result.Store = "unreachable"
			resp := models.Error("store unreachable")
			resp.Result = result
			writeJSONResponse(w, http.StatusServiceUnavailable, resp)
			return
		}
	}
	writeJSONResponse(w, http.StatusOK, models.Success(result))
}

