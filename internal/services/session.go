package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/yungbote/bilirag-backend/internal/clients/bilibili"
	"github.com/yungbote/bilirag-backend/internal/platform/logger"
	"github.com/yungbote/bilirag-backend/internal/repos"
	"github.com/yungbote/bilirag-backend/internal/types"
)

// ErrSessionNotFound is returned for unknown or deactivated session IDs.
var ErrSessionNotFound = errors.New("session not found")

// LoginAPI is the slice of the platform client the login flow needs.
type LoginAPI interface {
	GenerateQRCode(ctx context.Context) (*bilibili.QRCode, error)
	PollQRCode(ctx context.Context, qrcodeKey string) (*bilibili.QRPollResult, error)
	GetUserInfo(ctx context.Context, cookies bilibili.Cookies) (*bilibili.NavInfo, error)
}

// LoginPollResult is what the frontend sees while polling. The session ID is
// set only once the scan is confirmed.
type LoginPollResult struct {
	Status    bilibili.QRLoginStatus `json:"status"`
	Message   string                 `json:"message"`
	SessionID string                 `json:"session_id,omitempty"`
	Mid       int64                  `json:"mid,omitempty"`
	Uname     string                 `json:"uname,omitempty"`
	Face      string                 `json:"face,omitempty"`
}

// SessionService runs the QR login flow and owns the stored cookie jars.
type SessionService interface {
	GenerateLoginQRCode(ctx context.Context) (*bilibili.QRCode, error)
	PollLogin(ctx context.Context, qrcodeKey string) (*LoginPollResult, error)
	GetActiveSession(ctx context.Context, sessionID string) (*types.UserSession, error)
	Logout(ctx context.Context, sessionID string) error
}

type sessionService struct {
	log         *logger.Logger
	bili        LoginAPI
	sessionRepo repos.UserSessionRepo
}

func NewSessionService(log *logger.Logger, bili LoginAPI, sessionRepo repos.UserSessionRepo) (SessionService, error) {
	return &sessionService{
		log:         log.With("service", "SessionService"),
		bili:        bili,
		sessionRepo: sessionRepo,
	}, nil
}

func (s *sessionService) GenerateLoginQRCode(ctx context.Context) (*bilibili.QRCode, error) {
	return s.bili.GenerateQRCode(ctx)
}

func (s *sessionService) PollLogin(ctx context.Context, qrcodeKey string) (*LoginPollResult, error) {
	poll, err := s.bili.PollQRCode(ctx, qrcodeKey)
	if err != nil {
		return nil, err
	}
	result := &LoginPollResult{Status: poll.Status, Message: poll.Message}
	if poll.Status != bilibili.QRConfirmed {
		return result, nil
	}

	if poll.Cookies["SESSDATA"] == "" {
		return nil, fmt.Errorf("login confirmed but no SESSDATA cookie received")
	}

	nav, err := s.bili.GetUserInfo(ctx, poll.Cookies)
	if err != nil {
		return nil, fmt.Errorf("fetch user info after login: %w", err)
	}
	if !nav.IsLogin {
		return nil, fmt.Errorf("cookies rejected by upstream after login")
	}

	cookieJSON, err := json.Marshal(poll.Cookies)
	if err != nil {
		return nil, fmt.Errorf("encode cookies: %w", err)
	}
	session := &types.UserSession{
		SessionID: uuid.NewString(),
		Mid:       nav.Mid,
		Uname:     nav.Uname,
		Face:      nav.Face,
		Cookies:   cookieJSON,
		Active:    true,
	}
	if _, err := s.sessionRepo.Create(ctx, nil, session); err != nil {
		return nil, fmt.Errorf("persist session: %w", err)
	}

	s.log.Info("Login confirmed", "session_id", session.SessionID, "mid", nav.Mid)
	result.SessionID = session.SessionID
	result.Mid = nav.Mid
	result.Uname = nav.Uname
	result.Face = nav.Face
	return result, nil
}

func (s *sessionService) GetActiveSession(ctx context.Context, sessionID string) (*types.UserSession, error) {
	if sessionID == "" {
		return nil, ErrSessionNotFound
	}
	session, err := s.sessionRepo.GetByID(ctx, nil, sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil || !session.Active {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

func (s *sessionService) Logout(ctx context.Context, sessionID string) error {
	session, err := s.GetActiveSession(ctx, sessionID)
	if err != nil {
		return err
	}
	return s.sessionRepo.Deactivate(ctx, nil, session.SessionID)
}
