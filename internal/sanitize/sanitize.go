// Package sanitize screens untrusted textual input and destination
// addresses before any database read or provider call.
package sanitize

import (
	"regexp"
	"strings"

	"agentgate/internal/constants"
	apperrors "agentgate/internal/errors"
	"agentgate/internal/models"
)

var (
	e164Pattern  = regexp.MustCompile(`^\+[1-9]\d{1,14}$`)
	emailPattern = regexp.MustCompile(`^[a-zA-Z0-9.!#$%&'*+/=?^_` + "`" + `{|}~-]+@[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(?:\.[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)+$`)

	scriptPattern    = regexp.MustCompile(`(?i)<\s*script|javascript\s*:|\bon(?:load|error|click|mouseover)\s*=`)
	sqlPattern       = regexp.MustCompile(`(?i)('\s*;\s*drop\b|\bor\s+1\s*=\s*1\b|\bunion\s+select\b|;\s*(?:drop|delete|insert|update)\b)`)
	shellPattern     = regexp.MustCompile(`;\s*(?:rm|curl|wget|sh|bash|nc)\b|\$\(|` + "`")
	traversalPattern = regexp.MustCompile(`\.\./|\.\.\\`)
)

// Field validates a single untrusted text value. It rejects script markup,
// SQL fragments in syntactic positions, shell metacharacters, path
// traversal sequences, and any CR or LF. The field name is carried into the
// error so callers can report which input failed without echoing its value.
func Field(field, value string) error {
	if strings.ContainsAny(value, "\r\n") {
		return apperrors.BadInput(field, "value must not contain CR or LF")
	}
	for _, r := range value {
		if (r < 0x20 && r != '\t') || r == 0x7f {
			return apperrors.BadInput(field, "value contains control characters")
		}
	}
	if scriptPattern.MatchString(value) {
		return apperrors.BadInput(field, "value contains disallowed script markup")
	}
	if sqlPattern.MatchString(value) {
		return apperrors.BadInput(field, "value contains disallowed SQL fragments")
	}
	if traversalPattern.MatchString(value) {
		return apperrors.BadInput(field, "value contains path traversal sequences")
	}
	if len(value) > constants.MaxFieldLength {
		return apperrors.BadInput(field, "value exceeds length limit")
	}
	return nil
}

// Body validates an outbound message body. Bodies additionally reject shell
// metacharacters and carry a larger length bound.
func Body(body string) (string, error) {
	if strings.TrimSpace(body) == "" {
		return "", apperrors.BadInput("body", "message body is required")
	}
	if strings.ContainsAny(body, "\r\n") {
		return "", apperrors.BadInput("body", "body must not contain CR or LF")
	}
	if scriptPattern.MatchString(body) {
		return "", apperrors.BadInput("body", "body contains disallowed script markup")
	}
	if sqlPattern.MatchString(body) {
		return "", apperrors.BadInput("body", "body contains disallowed SQL fragments")
	}
	if shellPattern.MatchString(body) {
		return "", apperrors.BadInput("body", "body contains disallowed shell metacharacters")
	}
	if traversalPattern.MatchString(body) {
		return "", apperrors.BadInput("body", "body contains path traversal sequences")
	}
	if len(body) > constants.MaxBodyLength {
		return "", apperrors.BadInput("body", "body exceeds length limit")
	}
	return strings.TrimSpace(body), nil
}

// Subject validates an email subject line. Email sends always carry a
// subject; a blank one is rejected before any provider call.
func Subject(subject string) (string, error) {
	if strings.TrimSpace(subject) == "" {
		return "", apperrors.BadInput("subject", "subject is required")
	}
	if strings.ContainsAny(subject, "\r\n") {
		return "", apperrors.BadInput("subject", "subject must not contain CR or LF")
	}
	if len(subject) > constants.MaxSubjectLength {
		return "", apperrors.BadInput("subject", "subject exceeds length limit")
	}
	if scriptPattern.MatchString(subject) {
		return "", apperrors.BadInput("subject", "subject contains disallowed script markup")
	}
	return strings.TrimSpace(subject), nil
}

// Destination validates the target address for the channel: E.164 for
// phone-bound channels, address shape for email. LINE recipient ids are
// provider-opaque and only screened as generic fields.
func Destination(channel models.Channel, to string) error {
	if to == "" {
		return apperrors.BadInput("to", "destination is required")
	}
	switch channel {
	case models.ChannelSMS, models.ChannelWhatsApp, models.ChannelVoice:
		if !e164Pattern.MatchString(to) {
			return apperrors.BadInput("to", "destination must be E.164 (+ followed by 2-15 digits)")
		}
	case models.ChannelEmail:
		if !emailPattern.MatchString(to) {
			return apperrors.BadInput("to", "destination is not a valid email address")
		}
	case models.ChannelLine:
		if err := Field("to", to); err != nil {
			return err
		}
	default:
		return apperrors.BadInput("channel", "unknown channel")
	}
	return nil
}

// IsE164 reports whether s is a well-formed E.164 number.
func IsE164(s string) bool {
	return e164Pattern.MatchString(s)
}

// IsEmail reports whether s is a well-formed email address.
func IsEmail(s string) bool {
	return emailPattern.MatchString(s)
}
