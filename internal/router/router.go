// Package router exposes the account, link and internal endpoints over HTTP.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	validator "github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/patric-chuzhbe/minurl/internal/auth"
	"github.com/patric-chuzhbe/minurl/internal/authenticator"
	"github.com/patric-chuzhbe/minurl/internal/gzippedhttp"
	"github.com/patric-chuzhbe/minurl/internal/logger"
	"github.com/patric-chuzhbe/minurl/internal/models"
	"github.com/patric-chuzhbe/minurl/internal/service"
)

const (
	signupMessage = "User registered successfully"
	loginMessage  = "Logged in successfully"
	tokenType     = "Bearer"

	corsMaxAge = 300
)

type accountsService interface {
	Signup(ctx context.Context, username, email, password string) (string, error)
	Login(ctx context.Context, email, password string) (string, error)
}

type linksService interface {
	Shorten(ctx context.Context, originalURL string, owner auth.Principal) (*models.Link, error)
	Resolve(ctx context.Context, shortCode string) (*models.Link, error)
	RecordAccess(ctx context.Context, link *models.Link) error
	ListByOwner(ctx context.Context, owner auth.Principal) ([]*models.Link, error)
	ShortURL(shortCode string) string
}

type internalService interface {
	Ping(ctx context.Context) error
	GetInternalStats(ctx context.Context) (models.InternalStatsResponse, error)
}

type shortenerService interface {
	accountsService
	linksService
	internalService
}

type trustedNetworkGuard interface {
	TrustedOnly(h http.Handler) http.Handler
}

// Router holds the handlers of the service.
type Router struct {
	svc      shortenerService
	validate *validator.Validate
}

type routerOptions struct {
	allowedOrigins []string
}

// Option configures New.
type Option func(*routerOptions)

// WithAllowedOrigins sets the origins browsers may call the API from.
// "*" allows any origin.
func WithAllowedOrigins(origins []string) Option {
	return func(options *routerOptions) {
		if len(origins) > 0 {
			options.allowedOrigins = origins
		}
	}
}

// New builds the chi router with its middleware stack. CORS pre-flight
// requests are answered before authentication and routing.
func New(
	svc shortenerService,
	authMiddleware authenticator.Authenticator,
	trustedNetwork trustedNetworkGuard,
	optionsProto ...Option,
) *chi.Mux {
	options := &routerOptions{
		allowedOrigins: []string{"*"},
	}
	for _, protoOption := range optionsProto {
		protoOption(options)
	}

	myRouter := Router{
		svc:      svc,
		validate: validator.New(),
	}

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		logger.WithLoggingHTTPMiddleware,
		middleware.Recoverer,
		cors.Handler(cors.Options{
			AllowedOrigins:   options.allowedOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
			AllowedHeaders:   []string{"Authorization", "Content-Type", "Accept"},
			AllowCredentials: true,
			MaxAge:           corsMaxAge,
		}),
		gzippedhttp.UngzipRequest,
		gzippedhttp.GzipResponse,
		authMiddleware.Authenticate,
	)

	router.Post(`/auth/signup`, myRouter.PostAuthsignup)
	router.Post(`/auth/login`, myRouter.PostAuthlogin)

	router.Group(func(r chi.Router) {
		r.Use(auth.RequirePrincipal)
		r.Post(`/url/shorten`, myRouter.PostUrlshorten)
		r.Get(`/url/list`, myRouter.GetUrllist)
	})

	router.Group(func(r chi.Router) {
		r.Use(trustedNetwork.TrustedOnly)
		r.Get(`/api/internal/stats`, myRouter.GetApiinternalstats)
		r.Get(`/api/internal/ping`, myRouter.GetApiinternalping)
	})

	router.Get(`/{shortCode}`, myRouter.GetRedirecttofullurl)

	return router
}

// PostAuthsignup registers a user and answers with a bearer token.
func (router *Router) PostAuthsignup(response http.ResponseWriter, request *http.Request) {
	var requestDTO models.SignupRequest
	if !router.decodeAndValidate(response, request, &requestDTO) {
		return
	}

	token, err := router.svc.Signup(request.Context(), requestDTO.Username, requestDTO.Email, requestDTO.Password)
	if err != nil {
		logger.Log.Debugln("Error calling the `router.svc.Signup()`: ", zap.Error(err))
		writeError(response, err)
		return
	}

	writeJSON(response, http.StatusCreated, models.AuthResponse{
		Message:   signupMessage,
		Token:     token,
		TokenType: tokenType,
	})
}

// PostAuthlogin exchanges credentials for a bearer token.
func (router *Router) PostAuthlogin(response http.ResponseWriter, request *http.Request) {
	var requestDTO models.LoginRequest
	if !router.decodeAndValidate(response, request, &requestDTO) {
		return
	}

	token, err := router.svc.Login(request.Context(), requestDTO.Email, requestDTO.Password)
	if err != nil {
		logger.Log.Debugln("Error calling the `router.svc.Login()`: ", zap.Error(err))
		writeError(response, err)
		return
	}

	writeJSON(response, http.StatusOK, models.AuthResponse{
		Message:   loginMessage,
		Token:     token,
		TokenType: tokenType,
	})
}

func (router *Router) PostUrlshorten(response http.ResponseWriter, request *http.Request) {
	principal, _ := auth.PrincipalFromContext(request.Context())

	var requestDTO models.ShortenRequest
	if !router.decodeAndValidate(response, request, &requestDTO) {
		return
	}

	link, err := router.svc.Shorten(request.Context(), requestDTO.URL(), principal)
	if err != nil {
		logger.Log.Debugln("Error calling the `router.svc.Shorten()`: ", zap.Error(err))
		writeError(response, err)
		return
	}

	writeJSON(response, http.StatusCreated, models.ShortenResponse{
		OriginalURL: link.OriginalURL,
		ShortURL:    router.svc.ShortURL(link.ShortCode),
	})
}

func (router *Router) GetUrllist(response http.ResponseWriter, request *http.Request) {
	principal, _ := auth.PrincipalFromContext(request.Context())

	links, err := router.svc.ListByOwner(request.Context(), principal)
	if err != nil {
		logger.Log.Debugln("Error calling the `router.svc.ListByOwner()`: ", zap.Error(err))
		writeError(response, err)
		return
	}

	if links == nil {
		links = []*models.Link{}
	}

	writeJSON(response, http.StatusOK, models.UserLinksResponse{URLs: links})
}

// GetRedirecttofullurl redirects to the original URL and counts the access.
// Nothing is counted when the code is unknown or the redirect is not sent.
func (router *Router) GetRedirecttofullurl(response http.ResponseWriter, request *http.Request) {
	shortCode := chi.URLParam(request, "shortCode")

	link, err := router.svc.Resolve(request.Context(), shortCode)
	if err != nil {
		logger.Log.Debugln("Error calling the `router.svc.Resolve()`: ", zap.Error(err))
		writeError(response, err)
		return
	}

	if err := router.svc.RecordAccess(request.Context(), link); err != nil {
		logger.Log.Debugln("Error calling the `router.svc.RecordAccess()`: ", zap.Error(err))
		writeError(response, err)
		return
	}

	http.Redirect(response, request, link.OriginalURL, http.StatusFound)
}

func (router *Router) GetApiinternalstats(response http.ResponseWriter, request *http.Request) {
	stats, err := router.svc.GetInternalStats(request.Context())
	if err != nil {
		logger.Log.Debugln("Error calling the `router.svc.GetInternalStats()`: ", zap.Error(err))
		writeError(response, err)
		return
	}

	writeJSON(response, http.StatusOK, stats)
}

func (router *Router) GetApiinternalping(response http.ResponseWriter, request *http.Request) {
	if err := router.svc.Ping(request.Context()); err != nil {
		logger.Log.Debugln("Error calling the `router.svc.Ping()`: ", zap.Error(err))
		writeError(response, err)
		return
	}

	response.WriteHeader(http.StatusOK)
}

// decodeAndValidate writes 400 for an undecodable body and 422 for a body
// that fails validation.
func (router *Router) decodeAndValidate(response http.ResponseWriter, request *http.Request, requestDTO interface{}) bool {
	if err := json.NewDecoder(request.Body).Decode(requestDTO); err != nil {
		logger.Log.Debugln("Error calling the `json.NewDecoder(request.Body).Decode()`: ", zap.Error(err))
		writeJSON(response, http.StatusBadRequest, models.ErrorResponse{Error: "malformed request body"})
		return false
	}

	if err := router.validate.Struct(requestDTO); err != nil {
		writeJSON(response, http.StatusUnprocessableEntity, models.ErrorResponse{Error: validationMessage(err)})
		return false
	}

	return true
}

func validationMessage(err error) string {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) || len(validationErrors) == 0 {
		return service.ErrValidation.Error()
	}

	first := validationErrors[0]

	return fmt.Sprintf("field %s failed the %q rule", first.Field(), first.Tag())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, service.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrValidation):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeError(response http.ResponseWriter, err error) {
	status := statusFor(err)

	message := http.StatusText(status)
	switch status {
	case http.StatusUnauthorized:
		message = service.ErrUnauthorized.Error()
	case http.StatusNotFound:
		message = "short link not found"
	case http.StatusConflict, http.StatusUnprocessableEntity:
		message = err.Error()
	}

	writeJSON(response, status, models.ErrorResponse{Error: message})
}

func writeJSON(response http.ResponseWriter, status int, body interface{}) {
	response.Header().Set("Content-Type", "application/json")
	response.WriteHeader(status)

	if err := json.NewEncoder(response).Encode(body); err != nil {
		logger.Log.Debugln("Error calling the `json.NewEncoder(response).Encode()`: ", zap.Error(err))
	}
}
