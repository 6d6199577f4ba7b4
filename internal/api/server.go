package api

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"net/http/pprof"
	"net/url"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"taskminder/internal/domain"
	"taskminder/internal/notify"
	"taskminder/internal/service"
)

//go:embed templates/*.html
var templateFS embed.FS

type Server struct {
	r         *chi.Mux
	tasks     *service.TaskService
	pending   func() int
	templates *template.Template
}

func NewServer(tasks *service.TaskService, pending func() int) http.Handler {
	return NewServerWithDebug(tasks, pending, false)
}

func NewServerWithDebug(tasks *service.TaskService, pending func() int, enableDebug bool) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)

	// local shows a stored instant in the zone form input is parsed in.
	loc := tasks.Location()
	templates := template.Must(template.New("").Funcs(template.FuncMap{
		"local":   func(t time.Time) time.Time { return t.In(loc) },
		"due":     notify.FormatDue,
		"ago":     humanize.Time,
		"taskURL": service.TaskURL,
		"escape":  url.PathEscape,
	}).ParseFS(templateFS, "templates/*.html"))

	if pending == nil {
		pending = func() int { return 0 }
	}
	s := &Server{r: r, tasks: tasks, pending: pending, templates: templates}

	r.Get("/health", s.health)
	r.Get("/metrics", s.metrics)

	// JSON API
	r.Get("/api/tasks", s.listTasks)
	r.Post("/api/tasks", s.createTask)
	r.Get("/api/tasks/{id}", s.getTask)
	r.Put("/api/tasks/{id}", s.editTask)
	r.Delete("/api/tasks/{id}", s.deleteTask)

	// Routes used by the pages' scripts and forms.
	r.Post("/check-title", s.checkTitle)
	r.Post("/create", s.createTask)
	r.Delete("/delete/{id}", s.deleteTask)
	r.Post("/reorder", s.reorder)

	// Pages
	r.Get("/", s.index)
	r.Get("/file/{id}", s.showTask)
	r.Get("/edit/{id}", s.editForm)
	r.Post("/edit/{id}", s.submitEdit)

	if enableDebug {
		r.HandleFunc("/debug/pprof/", pprof.Index)
		r.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		r.HandleFunc("/debug/pprof/profile", pprof.Profile)
		r.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		r.HandleFunc("/debug/pprof/trace", pprof.Trace)
		r.Handle("/debug/pprof/goroutine", pprof.Handler("goroutine"))
		r.Handle("/debug/pprof/heap", pprof.Handler("heap"))
	}

	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) metrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("content-type", "text/plain; version=0.0.4")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "taskminder_up 1\ntaskminder_reminders_pending %d\n", s.pending())
}

type taskReq struct {
	Title   string `json:"title"`
	Email   string `json:"email"`
	DueDate string `json:"dueDate"`
	Details string `json:"details"`
}

type taskResp struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Email   string `json:"email"`
	DueDate string `json:"dueDate"`
	Details string `json:"details"`
	URL     string `json:"url"`
}

func toResp(t domain.Task) taskResp {
	return taskResp{
		ID:      t.ID,
		Title:   t.Title,
		Email:   t.Email,
		DueDate: t.DueDate.UTC().Format("2006-01-02T15:04:05Z07:00"),
		Details: t.Details,
		URL:     service.TaskURL(t.ID),
	}
}

type listResp struct {
	Tasks  []taskResp             `json:"tasks"`
	Events []domain.CalendarEvent `json:"events"`
}

func isJSON(r *http.Request) bool {
	return strings.HasPrefix(r.Header.Get("Content-Type"), "application/json")
}

// decodeTaskInput reads a JSON body or a regular form post.
func decodeTaskInput(r *http.Request) (service.TaskInput, error) {
	if isJSON(r) {
		var req taskReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return service.TaskInput{}, fmt.Errorf("%w: malformed JSON body", domain.ErrValidation)
		}
		return service.TaskInput(req), nil
	}
	if err := r.ParseForm(); err != nil {
		return service.TaskInput{}, fmt.Errorf("%w: malformed form body", domain.ErrValidation)
	}
	return service.TaskInput{
		Title:   r.FormValue("title"),
		Email:   r.FormValue("email"),
		DueDate: r.FormValue("dueDate"),
		Details: r.FormValue("details"),
	}, nil
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.tasks.ListTasks(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	resp := listResp{Tasks: make([]taskResp, 0, len(tasks)), Events: service.CalendarEvents(tasks)}
	for _, t := range tasks {
		resp.Tasks = append(resp.Tasks, toResp(t))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) createTask(w http.ResponseWriter, r *http.Request) {
	in, err := decodeTaskInput(r)
	if err != nil {
		writeError(w, err)
		return
	}
	t, err := s.tasks.CreateTask(r.Context(), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toResp(t))
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	t, err := s.tasks.GetTask(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toResp(t))
}

func (s *Server) editTask(w http.ResponseWriter, r *http.Request) {
	in, err := decodeTaskInput(r)
	if err != nil {
		writeError(w, err)
		return
	}
	t, err := s.tasks.EditTask(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toResp(t))
}

func (s *Server) deleteTask(w http.ResponseWriter, r *http.Request) {
	if err := s.tasks.DeleteTask(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Task deleted successfully"})
}

type checkTitleReq struct {
	Title   string `json:"title"`
	Exclude string `json:"exclude"`
}

func (s *Server) checkTitle(w http.ResponseWriter, r *http.Request) {
	var req checkTitleReq
	if isJSON(r) {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "malformed JSON body", http.StatusBadRequest)
			return
		}
	} else {
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		req = checkTitleReq{Title: r.FormValue("title"), Exclude: r.FormValue("exclude")}
	}
	exists, err := s.tasks.CheckTitleExists(r.Context(), req.Title, req.Exclude)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"exists": exists})
}

type reorderReq struct {
	Order []any `json:"order"`
}

func (s *Server) reorder(w http.ResponseWriter, r *http.Request) {
	var req reorderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Order == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid order format"})
		return
	}
	ids := make([]string, 0, len(req.Order))
	for _, v := range req.Order {
		id, ok := v.(string)
		if !ok {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid order format"})
			return
		}
		ids = append(ids, id)
	}
	order, err := s.tasks.Reorder(r.Context(), ids)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Order updated successfully", "order": order})
}

// Pages

type indexPage struct {
	Tasks       []domain.Task
	Events      []domain.CalendarEvent
	InitialView string
}

func (s *Server) index(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.tasks.ListTasks(r.Context())
	if err != nil {
		http.Error(w, "Error fetching tasks", http.StatusInternalServerError)
		return
	}
	view := "list"
	if r.URL.Query().Get("view") == "calendar" {
		view = "calendar"
	}
	s.render(w, "index.html", indexPage{Tasks: tasks, Events: service.CalendarEvents(tasks), InitialView: view})
}

func (s *Server) showTask(w http.ResponseWriter, r *http.Request) {
	t, err := s.tasks.GetTask(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		pageError(w, err)
		return
	}
	s.render(w, "show.html", t)
}

type editPage struct {
	Task domain.Task
	View string
}

func (s *Server) editForm(w http.ResponseWriter, r *http.Request) {
	t, err := s.tasks.GetTask(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		pageError(w, err)
		return
	}
	s.render(w, "edit.html", editPage{Task: t, View: viewParam(r)})
}

func (s *Server) submitEdit(w http.ResponseWriter, r *http.Request) {
	in, err := decodeTaskInput(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if _, err := s.tasks.EditTask(r.Context(), chi.URLParam(r, "id"), in); err != nil {
		writeError(w, err)
		return
	}
	http.Redirect(w, r, "/?view="+viewParam(r), http.StatusSeeOther)
}

func viewParam(r *http.Request) string {
	if r.URL.Query().Get("view") == "calendar" {
		return "calendar"
	}
	return "list"
}

func (s *Server) render(w http.ResponseWriter, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.templates.ExecuteTemplate(w, name, data); err != nil {
		log.Error().Err(err).Str("template", name).Msg("render failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func pageError(w http.ResponseWriter, err error) {
	if errors.Is(err, domain.ErrNotFound) {
		http.Error(w, "Task not found", http.StatusNotFound)
		return
	}
	http.Error(w, "Error fetching task", http.StatusInternalServerError)
}

func writeError(w http.ResponseWriter, err error) {
	code, msg := http.StatusInternalServerError, "internal error"
	switch {
	case errors.Is(err, domain.ErrValidation):
		code, msg = http.StatusBadRequest, err.Error()
	case errors.Is(err, domain.ErrAlreadyExists):
		code, msg = http.StatusBadRequest, "Task title already exists"
	case errors.Is(err, domain.ErrNotFound):
		code, msg = http.StatusNotFound, "Task not found"
	default:
		log.Error().Err(err).Msg("request failed")
	}
	writeJSON(w, code, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
