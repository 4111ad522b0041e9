package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/medlink/clinic-core/internal/consent"
	"github.com/medlink/clinic-core/internal/principal"
	"github.com/medlink/clinic-core/internal/queue"
)

// TokenService is the queue surface the handlers need.
type TokenService interface {
	Book(ctx context.Context, req queue.BookRequest) (*queue.VisitToken, error)
	Transition(ctx context.Context, tokenID uuid.UUID, target queue.Status, actor queue.Actor) (*queue.VisitToken, error)
	Snapshot(ctx context.Context, clinicID uuid.UUID, day string) ([]queue.QueueEntry, error)
	ActiveVisit(ctx context.Context, patientID uuid.UUID, day string) (*queue.ActiveVisit, error)
	VisitHistory(ctx context.Context, patientID uuid.UUID, limit int) ([]queue.VisitToken, error)
}

// ConsentService is the consent surface the handlers need.
type ConsentService interface {
	RequestAccess(ctx context.Context, doctorID, patientID uuid.UUID, clinicID *uuid.UUID) (*consent.Grant, bool, error)
	Verify(ctx context.Context, grantID uuid.UUID, code string) (*consent.Grant, error)
	Respond(ctx context.Context, grantID uuid.UUID, action, code string) (*consent.Grant, error)
	CheckAccess(ctx context.Context, doctorID, patientID uuid.UUID) (bool, error)
	GrantsForPatient(ctx context.Context, patientID uuid.UUID) ([]consent.Grant, error)
}

// AuthService covers login OTP issue/verify and walk-in registration.
type AuthService interface {
	IssueLoginOTP(ctx context.Context, mobile, name string) (*principal.Principal, error)
	VerifyLoginOTP(ctx context.Context, mobile, code string) (*principal.Principal, error)
	EnsurePatient(ctx context.Context, mobile, name string) (*principal.Principal, error)
}

type RouterConfig struct {
	Tokens   TokenService
	Consents ConsentService
	Auth     AuthService
	PgPool   *pgxpool.Pool
	Redis    *redis.Client
	Env      string
	Version  string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware)

	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	r.Post("/tokens", bookTokenHandler(cfg.Tokens, cfg.Auth))
	r.Post("/tokens/{id}/transition", transitionTokenHandler(cfg.Tokens))
	r.Get("/queue", queueSnapshotHandler(cfg.Tokens))
	r.Get("/patients/{id}/active", activeVisitHandler(cfg.Tokens))
	r.Get("/patients/{id}/tokens", visitHistoryHandler(cfg.Tokens))

	r.Post("/consents/request", requestConsentHandler(cfg.Consents))
	r.Post("/consents/{id}/verify", verifyConsentHandler(cfg.Consents))
	r.Post("/consents/{id}/respond", respondConsentHandler(cfg.Consents))
	r.Get("/consents/access", checkAccessHandler(cfg.Consents))
	r.Get("/patients/{id}/consents", patientConsentsHandler(cfg.Consents))

	r.Post("/auth/otp/send", sendLoginOTPHandler(cfg.Auth))
	r.Post("/auth/otp/verify", verifyLoginOTPHandler(cfg.Auth))

	return r
}
