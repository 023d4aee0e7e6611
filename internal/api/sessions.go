package api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/adclip/adclip/internal/catalog"
	"github.com/adclip/adclip/internal/session"
)

func mountSessions(r chi.Router, cfg ServerConfig) {
	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", createSessionHandler(cfg))
		r.Get("/", listSessionsHandler(cfg))

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", sessionAction(cfg, nil))
			r.Delete("/", deleteSessionHandler(cfg))
			r.Put("/settings", sessionAction(cfg, updateSettings))
			r.Put("/transcript", sessionAction(cfg, setReviewTranscript))
			r.Post("/transcribe", sessionAction(cfg, transcribe))
			r.Post("/summarize", sessionAction(cfg, summarize))
			r.Post("/topics", sessionAction(cfg, groupByTopic))
			r.Post("/topics/check", sessionAction(cfg, checkLine))
			r.Post("/select", sessionAction(cfg, selectLines))
			r.Post("/generate", sessionAction(cfg, generate))
		})
	})
}

func createSessionHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateSessionRequest
		if err := decodeCallable(w, r, &req); err != nil {
			writeServiceError(w, cfg, err)
			return
		}
		if req.FullPath == "" {
			WriteError(w, http.StatusBadRequest, "full_path is required", "BAD_REQUEST")
			return
		}
		settings := session.DefaultSettings()
		if req.Settings != nil {
			settings = *req.Settings
		}
		s := cfg.Sessions.Create(req.FullPath, settings)
		WriteJSON(w, http.StatusCreated, s.Snapshot())
	}
}

func listSessionsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, SessionsResponse{Sessions: cfg.Sessions.List()})
	}
}

func deleteSessionHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cfg.Sessions.Delete(chi.URLParam(r, "id"))
		w.WriteHeader(http.StatusNoContent)
	}
}

// sessionStep runs one step against a session. The response is always the
// session state after the step.
type sessionStep func(w http.ResponseWriter, r *http.Request, s *session.Session) error

func sessionAction(cfg ServerConfig, step sessionStep) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := cfg.Sessions.Get(chi.URLParam(r, "id"))
		if err != nil {
			writeServiceError(w, cfg, err)
			return
		}
		if step != nil {
			if err := step(w, r, s); err != nil {
				writeServiceError(w, cfg, err)
				return
			}
		}
		WriteJSON(w, http.StatusOK, s.Snapshot())
	}
}

func updateSettings(w http.ResponseWriter, r *http.Request, s *session.Session) error {
	var settings session.Settings
	if err := decodeCallable(w, r, &settings); err != nil {
		return err
	}
	if settings.MinDuration < 0 || settings.MaxDuration < 0 ||
		(settings.MaxDuration > 0 && settings.MinDuration > settings.MaxDuration) {
		return fmt.Errorf("%w: invalid duration range", catalog.ErrInvalidRequest)
	}
	s.UpdateSettings(settings)
	return nil
}

func setReviewTranscript(w http.ResponseWriter, r *http.Request, s *session.Session) error {
	var req ReviewTranscriptRequest
	if err := decodeCallable(w, r, &req); err != nil {
		return err
	}
	s.SetReviewTranscript(req.Transcript)
	return nil
}

func transcribe(_ http.ResponseWriter, r *http.Request, s *session.Session) error {
	return s.Transcribe(r.Context())
}

func summarize(_ http.ResponseWriter, r *http.Request, s *session.Session) error {
	_, err := s.SummarizeByDuration(r.Context())
	return err
}

func groupByTopic(_ http.ResponseWriter, r *http.Request, s *session.Session) error {
	_, err := s.GroupByTopic(r.Context())
	return err
}

func checkLine(w http.ResponseWriter, r *http.Request, s *session.Session) error {
	var req CheckLineRequest
	if err := decodeCallable(w, r, &req); err != nil {
		return err
	}
	if err := s.SetChecked(req.Topic, req.LineNumber, req.Checked); err != nil {
		return fmt.Errorf("%w: %v", catalog.ErrInvalidRequest, err)
	}
	return nil
}

func selectLines(_ http.ResponseWriter, _ *http.Request, s *session.Session) error {
	s.SelectTopicLines()
	return nil
}

func generate(_ http.ResponseWriter, r *http.Request, s *session.Session) error {
	_, err := s.GenerateVideos(r.Context())
	return err
}
