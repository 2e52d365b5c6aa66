// Package otp issues and verifies short-lived verification codes. Codes are
// stored hashed, delivered through the dispatcher, consumed on success or
// after too many failed attempts.
package otp

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"math/big"

	"github.com/sirupsen/logrus"

	"agentgate/internal/constants"
	"agentgate/internal/database"
	"agentgate/internal/dispatch"
	apperrors "agentgate/internal/errors"
	"agentgate/internal/models"
	"agentgate/internal/sanitize"
)

// IssueRequest asks for a code to be generated and delivered.
type IssueRequest struct {
	AgentID  string `json:"agent_id"`
	Channel  string `json:"channel"`
	To       string `json:"to"`
	Purpose  string `json:"purpose"`
	Timezone string `json:"timezone,omitempty"`
}

// VerifyRequest checks a code the contact typed back.
type VerifyRequest struct {
	To      string `json:"to"`
	Purpose string `json:"purpose"`
	Code    string `json:"code"`
}

// Service issues and verifies codes.
type Service struct {
	db         *database.Database
	dispatcher *dispatch.Dispatcher
	logger     *logrus.Logger
}

// NewService wires the code store and the delivery path.
func NewService(db *database.Database, dispatcher *dispatch.Dispatcher, logger *logrus.Logger) *Service {
	return &Service{db: db, dispatcher: dispatcher, logger: logger}
}

// Issue generates a code, stores its hash, and delivers it over sms or
// email. A live code for the same contact and purpose is superseded.
func (s *Service) Issue(ctx context.Context, principal *models.Principal, req *IssueRequest) error {
	if req.Channel != string(models.ChannelSMS) && req.Channel != string(models.ChannelEmail) {
		return apperrors.BadInput("channel", "otp delivery supports sms and email")
	}
	if err := sanitize.Destination(models.Channel(req.Channel), req.To); err != nil {
		return err
	}
	if req.Purpose == "" {
		return apperrors.BadInput("purpose", "purpose is required")
	}
	if err := sanitize.Field("purpose", req.Purpose); err != nil {
		return err
	}
	purpose := req.Purpose

	code, err := generateCode()
	if err != nil {
		return apperrors.Internal(err)
	}
	if err := s.db.InsertOTP(ctx, req.To, HashCode(code), purpose, constants.OTPTTL); err != nil {
		return apperrors.Internal(err)
	}

	send := &models.SendRequest{
		AgentID:  req.AgentID,
		Channel:  models.Channel(req.Channel),
		To:       req.To,
		Body:     fmt.Sprintf("Your verification code is %s. It expires in %d minutes.", code, int(constants.OTPTTL.Minutes())),
		Timezone: req.Timezone,
	}
	if send.Channel == models.ChannelEmail {
		send.Subject = "Your verification code"
	}
	if _, err := s.dispatcher.Send(ctx, principal, send); err != nil {
		// The stored code is unusable if delivery never happened.
		if rec, getErr := s.db.GetOTP(ctx, req.To, purpose); getErr == nil && rec != nil {
			if delErr := s.db.DeleteOTP(ctx, rec.ID); delErr != nil {
				s.logger.WithError(delErr).Warn("failed to discard undelivered otp")
			}
		}
		return err
	}
	return nil
}

// Verify consumes the code on success. Each mismatch counts an attempt;
// the code is destroyed after the limit.
func (s *Service) Verify(ctx context.Context, req *VerifyRequest) error {
	rec, err := s.db.GetOTP(ctx, req.To, req.Purpose)
	if err != nil {
		return apperrors.Internal(err)
	}
	if rec == nil {
		return apperrors.AuthDenied("no verification code outstanding")
	}
	if rec.Expired() {
		if err := s.db.DeleteOTP(ctx, rec.ID); err != nil {
			s.logger.WithError(err).Warn("failed to delete expired otp")
		}
		return apperrors.AuthDenied("verification code expired")
	}

	if subtle.ConstantTimeCompare([]byte(rec.CodeHash), []byte(HashCode(req.Code))) != 1 {
		if rec.Attempts+1 >= constants.OTPMaxAttempts {
			if err := s.db.DeleteOTP(ctx, rec.ID); err != nil {
				s.logger.WithError(err).Warn("failed to delete exhausted otp")
			}
			return apperrors.AuthDenied("too many attempts, code destroyed")
		}
		if err := s.db.IncrementOTPAttempts(ctx, rec.ID); err != nil {
			return apperrors.Internal(err)
		}
		return apperrors.AuthDenied("verification code mismatch")
	}

	if err := s.db.DeleteOTP(ctx, rec.ID); err != nil {
		return apperrors.Internal(err)
	}
	return nil
}

// HashCode returns the stored form of a code.
func HashCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}

func generateCode() (string, error) {
	max := big.NewInt(1)
	for i := 0; i < constants.OTPLength; i++ {
		max.Mul(max, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", constants.OTPLength, n), nil
}
