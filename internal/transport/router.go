package transport

import "net/http"

type Handler interface {
	health(w http.ResponseWriter, r *http.Request)
	sessions(w http.ResponseWriter, r *http.Request)
	programmes(w http.ResponseWriter, r *http.Request)
	semesters(w http.ResponseWriter, r *http.Request)
	graduates(w http.ResponseWriter, r *http.Request)
	generate(w http.ResponseWriter, r *http.Request)
	task(w http.ResponseWriter, r *http.Request)
	events(w http.ResponseWriter, r *http.Request)
	download(w http.ResponseWriter, r *http.Request)
}

type Credentials struct {
	User     string
	Password string
}

type router struct {
	h     Handler
	admin Credentials
}

func NewRouter(h Handler, admin Credentials) *router {
	return &router{h: h, admin: admin}
}

func (r *router) MountRoutes(mux *http.ServeMux) *http.ServeMux {
	mux.HandleFunc("GET /healthz", r.h.health)

	api := http.NewServeMux()
	api.HandleFunc("GET /api/sessions", r.h.sessions)
	api.HandleFunc("GET /api/programmes", r.h.programmes)
	api.HandleFunc("GET /api/semesters", r.h.semesters)
	api.HandleFunc("GET /api/graduates", r.h.graduates)
	api.HandleFunc("POST /api/generate", r.h.generate)
	api.HandleFunc("GET /api/tasks/{id}", r.h.task)
	api.HandleFunc("GET /api/tasks/{id}/events", r.h.events)
	api.HandleFunc("GET /api/tasks/{id}/download", r.h.download)

	mux.Handle("/api/", WithBasicAuth(r.admin.User, r.admin.Password, api))

	return mux
}
