package main

import (
	"embed"
	"encoding/json"
	"errors"
	"html/template"
	"io"
	"net/http"
	"strconv"
	"strings"

	"cartoonize/cartoon"
	"cartoonize/config"
	"cartoonize/domain"
	"cartoonize/imageproc"
	"cartoonize/middleware"
	"cartoonize/style"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/sessions"
	"github.com/rs/zerolog"
)

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

// multipartOverhead is the allowance for form fields around the upload.
const multipartOverhead = 1 << 20

type server struct {
	cfg      *config.Config
	catalog  *style.Catalog
	pipeline *cartoon.Pipeline
	registry *cartoon.Registry
	store    sessions.Store
	logger   zerolog.Logger
}

func newRouter(s *server) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID, chimw.RealIP, chimw.Recoverer, middleware.Logger(s.logger))

	r.Get("/healthz", s.health)
	r.Get("/login", s.loginPage)
	r.Post("/login", middleware.Login(s.cfg.Settings.WebPassword, s.store, s.logger))

	r.Group(func(r chi.Router) {
		r.Use(middleware.WebAuth(s.cfg.Settings.WebPassword, s.store, s.logger))
		r.Use(middleware.Sessions(s.registry, s.store, s.logger))

		r.Get("/", s.index)
		r.Route("/api", func(r chi.Router) {
			r.Get("/options", s.options)
			r.Post("/credentials", s.credentials)
			r.Post("/cartoonize", s.cartoonize)
			r.Get("/results/{id}", s.result)
			r.Get("/results/{id}/source", s.source)
			r.Post("/session/end", s.endSession)
		})
	})
	return r
}

func (s *server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "sessions": s.registry.Len()})
}

func (s *server) index(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := templates.ExecuteTemplate(w, "index.html", nil); err != nil {
		s.logger.Error().Err(err).Msg("failed to render index")
	}
}

func (s *server) loginPage(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := templates.ExecuteTemplate(w, "login.html", nil); err != nil {
		s.logger.Error().Err(err).Msg("failed to render login")
	}
}

type backendOption struct {
	Name        string                     `json:"name"`
	Source      string                     `json:"source"`
	Ratios      []domain.AspectRatioOption `json:"ratios"`
	Missing     []string                   `json:"missing_credentials"`
	UsesTuning  bool                       `json:"uses_tuning"`
	MinPrompt   int                        `json:"min_prompt_length,omitempty"`
	MaxUploadMB float64                    `json:"max_upload_mb,omitempty"`
}

type optionsResponse struct {
	Backends []backendOption      `json:"backends"`
	Styles   []domain.StyleOption `json:"styles"`
	Strength tuning               `json:"strength"`
	Guidance tuning               `json:"guidance"`
	Language string               `json:"language"`
}

type tuning struct {
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Default float64 `json:"default"`
}

func (s *server) options(w http.ResponseWriter, r *http.Request) {
	sess, _ := middleware.SessionFrom(r.Context())
	resp := optionsResponse{
		Styles:   s.catalog.Styles(),
		Strength: tuning{Min: domain.MinStrength, Max: domain.MaxStrength, Default: s.cfg.Generation.DefaultStrength},
		Guidance: tuning{Min: domain.MinGuidance, Max: domain.MaxGuidance, Default: s.cfg.Generation.DefaultGuidance},
		Language: s.cfg.Settings.Language,
	}
	for _, kind := range domain.BackendKinds() {
		opt := backendOption{
			Name:       kind.String(),
			Source:     kind.SourceKind().String(),
			Ratios:     style.Ratios(kind),
			Missing:    sess.Credentials.Missing(kind, s.cfg.Generation.RemoteProvider),
			UsesTuning: kind.UsesStrength(),
		}
		if kind.SourceKind() == domain.SourceText {
			opt.MinPrompt = imageproc.MinPromptLength
		} else {
			opt.MaxUploadMB = float64(s.cfg.Settings.MaxUploadBytes) / (1 << 20)
		}
		resp.Backends = append(resp.Backends, opt)
	}
	writeJSON(w, http.StatusOK, resp)
}

type credentialsRequest struct {
	OpenAIKey           string `json:"openai_api_key"`
	ReplicateToken      string `json:"replicate_api_token"`
	CloudflareAccountID string `json:"cloudflare_account_id"`
	CloudflareAPIToken  string `json:"cloudflare_api_token"`
}

// credentials starts a new session context with the submitted secrets laid
// over the current ones. The response lists what is still missing, never the
// values.
func (s *server) credentials(w http.ResponseWriter, r *http.Request) {
	sess, _ := middleware.SessionFrom(r.Context())

	var req credentialsRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 64<<10)).Decode(&req); err != nil {
		writeError(w, s.logger, domain.Validationf("invalid request body"))
		return
	}

	next := s.registry.Replace(sess.ID, config.Credentials{
		OpenAIKey:           strings.TrimSpace(req.OpenAIKey),
		ReplicateToken:      strings.TrimSpace(req.ReplicateToken),
		CloudflareAccountID: strings.TrimSpace(req.CloudflareAccountID),
		CloudflareAPIToken:  strings.TrimSpace(req.CloudflareAPIToken),
	})
	if err := middleware.Bind(w, r, s.store, next.ID); err != nil {
		s.logger.Error().Err(err).Msg("failed to save session")
		http.Error(w, "Could not save session", http.StatusInternalServerError)
		return
	}

	missing := make(map[string][]string)
	for _, kind := range domain.BackendKinds() {
		missing[kind.String()] = next.Credentials.Missing(kind, s.cfg.Generation.RemoteProvider)
	}
	writeJSON(w, http.StatusOK, map[string]any{"missing_credentials": missing})
}

type cartoonizeResponse struct {
	ID          string `json:"id"`
	Provider    string `json:"provider"`
	ResultURL   string `json:"result_url,omitempty"`
	DownloadURL string `json:"download_url"`
	SourceURL   string `json:"source_url,omitempty"`
	Caption     string `json:"caption"`
	Description string `json:"description,omitempty"`
}

func (s *server) cartoonize(w http.ResponseWriter, r *http.Request) {
	sess, _ := middleware.SessionFrom(r.Context())
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Settings.MaxUploadBytes+multipartOverhead)

	if err := r.ParseMultipartForm(s.cfg.Settings.MaxUploadBytes + multipartOverhead); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, s.logger, domain.Validationf("upload exceeds %d bytes", s.cfg.Settings.MaxUploadBytes))
			return
		}
		writeError(w, s.logger, domain.Validationf("could not parse multipart form"))
		return
	}

	action, err := s.actionFromForm(r)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	stored, err := s.pipeline.Run(r.Context(), sess, action)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	resp := cartoonizeResponse{
		ID:          stored.ID,
		Provider:    stored.Result.Provider,
		ResultURL:   stored.Result.URL,
		DownloadURL: "/api/results/" + stored.ID + "?format=png",
		Caption:     stored.Result.Caption,
		Description: stored.Result.Description,
	}
	if stored.Source.Kind == domain.SourceImage {
		resp.SourceURL = "/api/results/" + stored.ID + "/source"
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *server) actionFromForm(r *http.Request) (cartoon.Action, error) {
	kind, err := domain.ParseBackendKind(r.FormValue("backend"))
	if err != nil {
		return cartoon.Action{}, err
	}
	rotation, err := imageproc.ParseRotation(r.FormValue("rotation"))
	if err != nil {
		return cartoon.Action{}, err
	}
	strength, err := parseFloat(r.FormValue("strength"), "strength")
	if err != nil {
		return cartoon.Action{}, err
	}
	guidance, err := parseFloat(r.FormValue("guidance"), "guidance")
	if err != nil {
		return cartoon.Action{}, err
	}

	action := cartoon.Action{
		Backend:  kind,
		Rotation: rotation,
		Prompt:   r.FormValue("prompt"),
		Style:    r.FormValue("style"),
		Ratio:    r.FormValue("ratio"),
		Strength: strength,
		Guidance: guidance,
	}
	if kind.SourceKind() == domain.SourceImage {
		file, header, err := r.FormFile("image")
		if errors.Is(err, http.ErrMissingFile) {
			return action, nil
		}
		if err != nil {
			return cartoon.Action{}, domain.Validationf("could not read image upload")
		}
		defer file.Close()
		if action.Upload, err = io.ReadAll(file); err != nil {
			return cartoon.Action{}, domain.Validationf("could not read image upload")
		}
		action.Filename = header.Filename
		action.DeclaredSize = header.Size
	}
	return action, nil
}

func (s *server) result(w http.ResponseWriter, r *http.Request) {
	sess, _ := middleware.SessionFrom(r.Context())
	id := chi.URLParam(r, "id")
	format := strings.ToLower(r.URL.Query().Get("format"))

	data, contentType, err := s.pipeline.Download(r.Context(), sess, id, format)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	ext := strings.TrimPrefix(contentType, "image/")
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `attachment; filename="cartoon-`+id+"."+ext+`"`)
	w.Write(data)
}

func (s *server) source(w http.ResponseWriter, r *http.Request) {
	sess, _ := middleware.SessionFrom(r.Context())
	stored, ok := sess.Result(chi.URLParam(r, "id"))
	if !ok || stored.Source == nil || len(stored.Source.Encoded) == 0 {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Write(stored.Source.Encoded)
}

func (s *server) endSession(w http.ResponseWriter, r *http.Request) {
	sess, _ := middleware.SessionFrom(r.Context())
	s.registry.End(sess.ID)
	if err := middleware.Bind(w, r, s.store, ""); err != nil {
		s.logger.Error().Err(err).Msg("failed to clear session")
	}
	w.WriteHeader(http.StatusNoContent)
}

func parseFloat(v, name string) (float64, error) {
	if strings.TrimSpace(v) == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, domain.Validationf("%s must be a number", name)
	}
	return f, nil
}

// statusOf maps an error kind to the HTTP status returned to the client.
func statusOf(err error) int {
	switch domain.KindOf(err) {
	case domain.ErrValidation:
		return http.StatusBadRequest
	case domain.ErrCredentialMissing:
		return http.StatusUnauthorized
	case domain.ErrUpload, domain.ErrGeneration, domain.ErrProvider:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, logger zerolog.Logger, err error) {
	status := statusOf(err)
	kind := "internal"
	if k := domain.KindOf(err); k != nil {
		kind = k.Error()
	}
	if status >= http.StatusInternalServerError {
		logger.Error().Err(err).Int("status", status).Msg("request failed")
	}
	writeJSON(w, status, map[string]string{"error": err.Error(), "kind": kind})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
