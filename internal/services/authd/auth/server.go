package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/NordCoder/authd/internal/obs"
	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const (
	maxBodyBytes     = 1 << 20
	maxEmailLen      = 254
	maxPasswordBytes = 72

	msgLoggedOut = "Logged out successfully. Please discard your token."
)

type Server struct {
	uc      *Usecase
	log     *zap.Logger
	prefix  string
	metrics *obs.HTTPMetrics
}

type Opts struct {
	Logger      *zap.Logger
	RoutePrefix string
	Metrics     *obs.HTTPMetrics
}

func NewServer(uc *Usecase, o Opts) *Server {
	log := o.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		uc:      uc,
		log:     log,
		prefix:  normalizePrefix(o.RoutePrefix),
		metrics: o.Metrics,
	}
}

func normalizePrefix(p string) string {
	p = strings.Trim(strings.TrimSpace(p), "/")
	if p == "" {
		return ""
	}
	return "/" + p
}

// Mount registers the auth endpoints on mux under the configured prefix.
func (s *Server) Mount(mux *runtime.ServeMux) error {
	routes := []struct {
		method, path string
		h            runtime.HandlerFunc
	}{
		{http.MethodPost, "/register", s.Register},
		{http.MethodPost, "/login", s.Login},
		{http.MethodPost, "/refresh", s.Refresh},
		{http.MethodGet, "/me", RequireAccount(s.uc, s.writeError, s.Me)},
		{http.MethodPost, "/logout", s.Logout},
	}
	for _, rt := range routes {
		path := s.prefix + rt.path
		if err := mux.HandlePath(rt.method, path, s.instrument(path, rt.h)); err != nil {
			return fmt.Errorf("mount %s %s: %w", rt.method, path, err)
		}
	}
	return nil
}

func (s *Server) instrument(route string, h runtime.HandlerFunc) runtime.HandlerFunc {
	if s.metrics == nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		s.metrics.Wrap(route, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h(w, r, params)
		})).ServeHTTP(w, r)
	}
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (r credentialsRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, validation.Length(0, maxEmailLen), is.Email),
		validation.Field(&r.Password, validation.Required, validation.By(maxBytes(maxPasswordBytes))),
	)
}

func maxBytes(n int) validation.RuleFunc {
	return func(value interface{}) error {
		if s, _ := value.(string); len(s) > n {
			return fmt.Errorf("must be at most %d bytes", n)
		}
		return nil
	}
}

type messageResponse struct {
	Message string `json:"message"`
}

type accessTokenResponse struct {
	AccessToken string `json:"access_token"`
}

func (s *Server) Register(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req credentialsRequest
	if err := decodeCredentials(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	a, err := s.uc.Register(r.Context(), req.Email, req.Password)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, messageResponse{
		Message: fmt.Sprintf("User %s created successfully.", a.Email),
	})
}

func (s *Server) Login(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req credentialsRequest
	if err := decodeCredentials(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	pair, err := s.uc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

func (s *Server) Refresh(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	token, err := bearerToken(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	access, err := s.uc.Refresh(r.Context(), token)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, accessTokenResponse{AccessToken: access})
}

func (s *Server) Me(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	a, ok := AccountFromContext(r.Context())
	if !ok {
		s.writeError(w, r, ErrUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) Logout(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	if err := s.uc.Logout(r.Context()); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: msgLoggedOut})
}

// inputError is a request rejected before it reaches the use case.
type inputError struct {
	msg    string
	fields map[string]string
}

func (e *inputError) Error() string { return e.msg }

func decodeCredentials(w http.ResponseWriter, r *http.Request, dst *credentialsRequest) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return &inputError{msg: "request body is empty"}
		}
		return &inputError{msg: "malformed JSON body"}
	}
	if dec.More() {
		return &inputError{msg: "malformed JSON body"}
	}

	if err := dst.Validate(); err != nil {
		ie := &inputError{msg: "invalid input"}
		var verrs validation.Errors
		if errors.As(err, &verrs) {
			ie.fields = make(map[string]string, len(verrs))
			for field, ferr := range verrs {
				ie.fields[field] = ferr.Error()
			}
		}
		return ie
	}
	return nil
}

type errorResponse struct {
	Code    string            `json:"code"`
	Error   string            `json:"error"`
	Details map[string]string `json:"details,omitempty"`
}

// errorTable is checked in order; the first match wins. Anything unmatched
// is an internal failure.
var errorTable = []struct {
	target error
	status int
	code   string
}{
	{ErrDuplicateEmail, http.StatusConflict, "duplicate_email"},
	{ErrInvalidCredentials, http.StatusUnauthorized, "invalid_credentials"},
	{ErrUnauthorized, http.StatusUnauthorized, "unauthorized"},
	{ErrInvalidToken, http.StatusUnauthorized, "invalid_token"},
	{bcrypt.ErrPasswordTooLong, http.StatusBadRequest, "invalid_input"},
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var ie *inputError
	if errors.As(err, &ie) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Code: "invalid_input", Error: ie.msg, Details: ie.fields})
		return
	}

	for _, e := range errorTable {
		if errors.Is(err, e.target) {
			writeJSON(w, e.status, errorResponse{Code: e.code, Error: e.target.Error()})
			return
		}
	}

	obs.WithTrace(r.Context(), s.log).Error("request failed",
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.Error(err),
	)
	writeJSON(w, http.StatusInternalServerError, errorResponse{Code: "internal", Error: "internal server error"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
