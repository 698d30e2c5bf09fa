package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/GyroTools/mainzelhandler-connector-go/internals/callback"
	"github.com/GyroTools/mainzelhandler-connector-go/internals/mainzelliste"
	"github.com/GyroTools/mainzelhandler-connector-go/internals/utils"
	"github.com/GyroTools/mainzelhandler-connector-go/mainzelhandler/models"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// MaxTokens limits the tokens handed out by a single addPatient request.
const MaxTokens = 1000

// TokenIssuer creates the single use URLs of the Mainzelliste.
type TokenIssuer interface {
	AddPatientTokens(ctx context.Context, amount int) (*models.PseudonymizationURLResponse, error)
	ReadPatientsToken(ctx context.Context, pseudonyms []string, resultFields []string) (*models.DepseudonymizationURLResponse, error)
}

// SessionIssuer opens a new Mainzelliste session for every request.
type SessionIssuer struct {
	Conn *mainzelliste.Connection
}

func (s *SessionIssuer) AddPatientTokens(ctx context.Context, amount int) (*models.PseudonymizationURLResponse, error) {
	session, err := s.Conn.CreateSession(ctx)
	if err != nil {
		return nil, err
	}
	return session.CreateAddPatientTokens(ctx, amount)
}

func (s *SessionIssuer) ReadPatientsToken(ctx context.Context, pseudonyms []string, resultFields []string) (*models.DepseudonymizationURLResponse, error) {
	session, err := s.Conn.CreateSession(ctx)
	if err != nil {
		return nil, err
	}
	return session.CreateReadPatientsToken(ctx, pseudonyms, resultFields)
}

type Options struct {
	// Prefix is prepended to every route, e.g. "/api".
	Prefix string
	// APIKey protects every route except the health check and the
	// callback of the Mainzelliste.
	APIKey      string
	UseCallback bool
}

type Server struct {
	Echo *echo.Echo

	tokens    TokenIssuer
	repo      PatientRepository
	callbacks *callback.Manager
	opts      Options
	logger    zerolog.Logger
}

func New(tokens TokenIssuer, repo PatientRepository, callbacks *callback.Manager, opts Options, logger zerolog.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{Echo: e, tokens: tokens, repo: repo, callbacks: callbacks, opts: opts, logger: logger}

	e.Use(Recovery(logger))
	e.Use(RequestID())
	e.Use(Logger(logger))

	g := e.Group(strings.TrimRight(opts.Prefix, "/"))
	g.GET("/"+models.HealthURL, s.health)
	g.POST("/"+models.CallbackURL, s.acceptPseudonym)

	g.POST("/"+models.AddPatientTokenURL, s.addPatientTokens, s.authenticate)
	g.POST("/"+models.ReadPatientsTokenURL, s.readPatientsToken, s.authenticate)
	g.POST("/"+models.PatientSendURL, s.sendPatients, s.authenticate)
	g.POST("/"+models.PatientRequestURL, s.requestPatients, s.authenticate)
	return s
}

func (s *Server) Start(address string) error {
	s.logger.Info().Str("address", address).Str("prefix", s.opts.Prefix).Bool("use_callback", s.opts.UseCallback).Msg("starting server")
	return s.Echo.Start(address)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.Echo.Shutdown(ctx)
}

func (s *Server) authenticate(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if s.opts.APIKey == "" {
			return next(c)
		}
		if c.Request().Header.Get("Authorization") != "X-Mainzelhandler-Api-Key "+s.opts.APIKey {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid api key")
		}
		return next(c)
	}
}

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// addPatientRequest accepts the amount sent by the javascript clients as
// well as the count used by older backends.
type addPatientRequest struct {
	Amount int `json:"amount"`
	Count  int `json:"count"`
}

func (s *Server) addPatientTokens(c echo.Context) error {
	var req addPatientRequest
	if err := decode(c, &req); err != nil {
		return err
	}
	amount := req.Amount
	if amount == 0 {
		amount = req.Count
	}
	if amount < 1 || amount > MaxTokens {
		return echo.NewHTTPError(http.StatusBadRequest, "amount must be between 1 and 1000")
	}

	tokens, err := s.tokens.AddPatientTokens(c.Request().Context(), amount)
	if err != nil {
		return s.unavailable(err)
	}
	return c.JSON(http.StatusOK, tokens)
}

func (s *Server) readPatientsToken(c echo.Context) error {
	var req models.DepseudonymizationURLRequest
	if err := decode(c, &req); err != nil {
		return err
	}
	pseudonyms := utils.Dedupe(req.Pseudonyms)
	if len(pseudonyms) == 0 {
		return c.JSON(http.StatusOK, models.DepseudonymizationURLResponse{InvalidPseudonyms: []string{}})
	}

	token, err := s.tokens.ReadPatientsToken(c.Request().Context(), pseudonyms, req.ResultFields)
	if err != nil {
		return s.unavailable(err)
	}
	return c.JSON(http.StatusOK, token)
}

func (s *Server) sendPatients(c echo.Context) error {
	var entries []models.SendEntry
	if err := decode(c, &entries); err != nil {
		return err
	}
	s.logger.Info().Int("patients", len(entries)).Msg("received patients")

	result, err := s.callbacks.ProcessPatients(c.Request().Context(), entries, s.opts.UseCallback, s.repo.Accept)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

func (s *Server) acceptPseudonym(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	s.logger.Info().Msg("received pseudonym from the Mainzelliste")
	if err := s.callbacks.PutCallback(c.Request().Context(), body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.NoContent(http.StatusOK)
}

func (s *Server) requestPatients(c echo.Context) error {
	var ids []string
	if err := decode(c, &ids); err != nil {
		return err
	}
	s.logger.Info().Int("patients", len(ids)).Msg("requesting patients")

	entries, err := s.callbacks.ProcessRequest(c.Request().Context(), ids, s.opts.UseCallback, s.repo.Find)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, entries)
}

// unavailable maps errors of the Mainzelliste to 503 with the message as
// body.
func (s *Server) unavailable(err error) error {
	var connErr *mainzelliste.ConnectionError
	var runtimeErr *mainzelliste.RuntimeError
	if errors.As(err, &connErr) || errors.As(err, &runtimeErr) {
		s.logger.Error().Err(err).Msg("Mainzelliste unavailable")
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}
	return err
}

func decode(c echo.Context, target interface{}) error {
	if err := json.NewDecoder(c.Request().Body).Decode(target); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body: "+err.Error())
	}
	return nil
}
