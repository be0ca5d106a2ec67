package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"identity-service/backend/internal/apperr"
	"identity-service/backend/internal/identity/service"
	"identity-service/backend/internal/media"
	"identity-service/backend/internal/server/middleware"
	"identity-service/backend/internal/server/respond"
	userdomain "identity-service/backend/internal/user/domain"
)

const (
	maxJSONBody     = 1 << 20
	maxMemoryBuffer = 1 << 20
	avatarField     = "avatar"
)

// Service is the identity flow surface the routes call. *service.AuthService satisfies it.
type Service interface {
	Login(ctx context.Context, email, password string) (*service.AuthResult, error)
	Signup(ctx context.Context, in service.SignupInput) error
	LoginSocial(ctx context.Context, accessToken string, method userdomain.AuthMethod) (*service.AuthResult, error)
	Edit(ctx context.Context, caller *userdomain.Profile, in service.EditInput) error
}

// Handler serves the /user routes.
type Handler struct {
	svc     Service
	uploads media.Store
}

// NewHandler returns a Handler. uploads may be nil, in which case avatar files are ignored.
func NewHandler(svc Service, uploads media.Store) *Handler {
	return &Handler{svc: svc, uploads: uploads}
}

// Register mounts the routes on r. auth guards the routes that need a session.
func (h *Handler) Register(r *mux.Router, auth func(http.Handler) http.Handler) {
	r.HandleFunc("/hello", h.hello).Methods(http.MethodGet)

	u := r.PathPrefix("/user").Subrouter()
	// A subrouter without its own handlers reports a method mismatch as a plain 404.
	u.NotFoundHandler = r.NotFoundHandler
	u.MethodNotAllowedHandler = r.MethodNotAllowedHandler
	u.HandleFunc("/login", h.login).Methods(http.MethodPost)
	u.HandleFunc("/signup", h.signup).Methods(http.MethodPost)
	u.HandleFunc("/login-social", h.loginSocial).Methods(http.MethodPost)
	u.Handle("/edit", auth(http.HandlerFunc(h.edit))).Methods(http.MethodPut)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type socialRequest struct {
	AccessToken string `json:"accessToken"`
	Method      string `json:"method"`
}

// profileRequest is the body of signup and edit.
type profileRequest struct {
	Email    string          `json:"email"`
	Password string          `json:"password"`
	Name     string          `json:"name"`
	Info     json.RawMessage `json:"info"`
	Mobile   string          `json:"mobile"`
}

type tokenData struct {
	AccessToken string `json:"accessToken"`
}

func (h *Handler) hello(w http.ResponseWriter, r *http.Request) {
	respond.JSON(w, http.StatusOK, map[string]string{"mes": "xxx"})
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		respond.Error(w, err)
		return
	}
	res, err := h.svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		respond.Error(w, err)
		return
	}
	respond.OK(w, http.StatusOK, "Succeed", tokenData{AccessToken: res.AccessToken})
}

func (h *Handler) signup(w http.ResponseWriter, r *http.Request) {
	req, avatar, err := h.decodeProfile(r)
	if err != nil {
		respond.Error(w, err)
		return
	}
	err = h.svc.Signup(r.Context(), service.SignupInput{
		Email:    req.Email,
		Password: req.Password,
		Name:     req.Name,
		Info:     req.Info,
		Mobile:   req.Mobile,
		Avatar:   avatar,
	})
	if err != nil {
		respond.Error(w, err)
		return
	}
	respond.OK(w, http.StatusCreated, "Created", struct{}{})
}

func (h *Handler) loginSocial(w http.ResponseWriter, r *http.Request) {
	var req socialRequest
	if err := decodeJSON(r, &req); err != nil {
		respond.Error(w, err)
		return
	}
	method := userdomain.AuthMethod(strings.ToUpper(strings.TrimSpace(req.Method)))
	res, err := h.svc.LoginSocial(r.Context(), req.AccessToken, method)
	if err != nil {
		respond.Error(w, err)
		return
	}
	respond.OK(w, http.StatusOK, "Succeed", tokenData{AccessToken: res.AccessToken})
}

func (h *Handler) edit(w http.ResponseWriter, r *http.Request) {
	caller := middleware.CallerFrom(r.Context())
	req, avatar, err := h.decodeProfile(r)
	if err != nil {
		respond.Error(w, err)
		return
	}
	err = h.svc.Edit(r.Context(), caller, service.EditInput{
		Name:   req.Name,
		Info:   req.Info,
		Mobile: req.Mobile,
		Avatar: avatar,
	})
	if err != nil {
		respond.Error(w, err)
		return
	}
	respond.OK(w, http.StatusOK, "Edit succeed", nil)
}

// decodeProfile reads a JSON or multipart profile body. A multipart avatar file is stored
// and its reference returned.
func (h *Handler) decodeProfile(r *http.Request) (*profileRequest, *string, error) {
	var req profileRequest
	if !isMultipart(r) {
		if err := decodeJSON(r, &req); err != nil {
			return nil, nil, err
		}
		return &req, nil, nil
	}
	if err := r.ParseMultipartForm(maxMemoryBuffer); err != nil {
		return nil, nil, apperr.Validation(apperr.MsgInvalidRequest, err)
	}
	req.Email = r.FormValue("email")
	req.Password = r.FormValue("password")
	req.Name = r.FormValue("name")
	req.Mobile = r.FormValue("mobile")
	req.Info = formJSON(r.FormValue("info"))

	file, header, err := r.FormFile(avatarField)
	if errors.Is(err, http.ErrMissingFile) || h.uploads == nil {
		return &req, nil, nil
	}
	if err != nil {
		return nil, nil, apperr.Upload(err)
	}
	defer file.Close()
	ref, err := h.uploads.Save(r.Context(), media.Upload{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Body:        file,
	})
	if err != nil {
		return nil, nil, apperr.Upload(err)
	}
	return &req, &ref, nil
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return apperr.Validation(apperr.MsgInvalidRequest, err)
	}
	return nil
}

func isMultipart(r *http.Request) bool {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mt == "multipart/form-data"
}

// formJSON keeps a form value that is already JSON and quotes anything else.
func formJSON(v string) json.RawMessage {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	if json.Valid([]byte(v)) {
		return json.RawMessage(v)
	}
	b, _ := json.Marshal(v)
	return b
}
