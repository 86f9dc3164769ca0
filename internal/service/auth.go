package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sakif/care-assign/internal/apperror"
	"github.com/sakif/care-assign/internal/auth"
	"github.com/sakif/care-assign/internal/model"
	"github.com/sakif/care-assign/internal/repository"
)

// AuthService logs operators in and provisions their accounts.
type AuthService struct {
	operators repository.OperatorRepository
	tokens    *auth.TokenService
	passwords *auth.PasswordService
	logger    *slog.Logger
}

func NewAuthService(
	operators repository.OperatorRepository,
	tokens *auth.TokenService,
	passwords *auth.PasswordService,
	logger *slog.Logger,
) *AuthService {
	return &AuthService{
		operators: operators,
		tokens:    tokens,
		passwords: passwords,
		logger:    logger,
	}
}

// LoginResult bundles the operator and the issued JWT so the handler can set
// the cookie and respond in one step.
type LoginResult struct {
	Operator  *model.Operator `json:"operator"`
	Token     string          `json:"token"`
	ExpiresAt time.Time       `json:"expiresAt"`
}

// Login checks the credentials and issues an access token. An unknown login
// and a wrong password produce the same Unauthorized error.
func (s *AuthService) Login(ctx context.Context, login, password string) (*LoginResult, error) {
	login = strings.TrimSpace(login)
	if login == "" || password == "" {
		return nil, apperror.ValidationFailed("login", "login and password are required")
	}

	op, err := s.operators.GetOperatorByLogin(ctx, login)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			s.logger.Info("login rejected", slog.String("login", login))
			return nil, apperror.Unauthorized("invalid login or password")
		}
		return nil, fmt.Errorf("service/auth: loading operator %s: %w", login, err)
	}

	if err := s.passwords.Verify(op.PasswordHash, password); err != nil {
		if !errors.Is(err, auth.ErrInvalidPassword) {
			s.logger.Error("failed to verify password",
				slog.String("login", login),
				slog.String("error", err.Error()),
			)
		}
		s.logger.Info("login rejected", slog.String("login", login))
		return nil, apperror.Unauthorized("invalid login or password")
	}

	expires := time.Now().Add(s.tokens.TTL())
	token, err := s.tokens.Generate(auth.Actor{
		OperatorID:  op.ID,
		Login:       op.Login,
		Permissions: op.Permissions,
	})
	if err != nil {
		return nil, fmt.Errorf("service/auth: generating token for %s: %w", op.ID, err)
	}

	s.logger.Info("operator logged in", slog.String("operator_id", op.ID), slog.String("login", op.Login))
	return &LoginResult{Operator: op, Token: token, ExpiresAt: expires}, nil
}

// EnsureOperator creates login with the given password and permissions, or
// resets them if the operator already exists. The server calls it at start-up
// for the configured administrator.
func (s *AuthService) EnsureOperator(ctx context.Context, login, password string, permissions []string) (*model.Operator, error) {
	login = strings.TrimSpace(login)
	if login == "" {
		return nil, apperror.ValidationFailed("login", "login is required")
	}

	hash, err := s.passwords.Hash(password)
	if err != nil {
		return nil, apperror.ValidationFailed("password", err.Error())
	}

	op := &model.Operator{
		Login:        login,
		PasswordHash: hash,
		Permissions:  permissions,
	}
	if err := s.operators.UpsertOperator(ctx, op); err != nil {
		return nil, fmt.Errorf("service/auth: upserting operator %s: %w", login, err)
	}

	s.logger.Info("operator provisioned",
		slog.String("operator_id", op.ID),
		slog.String("login", op.Login),
		slog.Int("permissions", len(op.Permissions)),
	)
	return op, nil
}
