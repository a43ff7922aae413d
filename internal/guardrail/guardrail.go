package guardrail

import (
	"fmt"
	"net/mail"
	"regexp"
	"strings"
)

// injectionPatterns are heuristics for instruction-override attempts
// embedded in email bodies. Matched case-insensitively against the
// combined subject and body.
var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`ignore (all|previous|prior) instructions`),
	regexp.MustCompile(`system prompt`),
	regexp.MustCompile(`developer message`),
	regexp.MustCompile(`you are now`),
	regexp.MustCompile(`act as`),
	regexp.MustCompile(`jailbreak`),
	regexp.MustCompile(`do anything now`),
}

// Violation describes a failed guardrail check. It is returned as a
// value so callers can decide between retry, fallback, and escalation.
type Violation struct {
	Field  string
	Reason string
}

func (v *Violation) Error() string {
	if v.Field == "" {
		return v.Reason
	}
	return fmt.Sprintf("%s: %s", v.Field, v.Reason)
}

// CheckedEmail is a sanitized email plus the flags raised while
// checking it. A flagged email is still usable; the pipeline decides
// how much to trust it.
type CheckedEmail struct {
	Sender  string
	Subject string
	Body    string

	// InjectionFlagged is set when the subject or body matched an
	// instruction-override pattern. The run proceeds but sensitive
	// actions (refund approval) are forced to human review.
	InjectionFlagged  bool
	InjectionPatterns []string

	// Truncated is set when the body exceeded the size cap.
	Truncated bool
}

// Validator applies input and output guardrails.
type Validator struct {
	maxBodyBytes int
}

// NewValidator creates a validator. maxBodyBytes caps email body size;
// zero or negative means 20000.
func NewValidator(maxBodyBytes int) *Validator {
	if maxBodyBytes <= 0 {
		maxBodyBytes = 20000
	}
	return &Validator{maxBodyBytes: maxBodyBytes}
}

// ValidateEmail checks an inbound email before any pipeline step runs.
// Hard failures (empty or malformed fields) return a Violation and no
// email. Soft failures (injection patterns, oversized body) are
// recorded on the returned CheckedEmail and the run proceeds.
func (v *Validator) ValidateEmail(sender, subject, body string) (CheckedEmail, *Violation) {
	sender = sanitize(sender)
	subject = sanitize(subject)
	body = sanitize(body)

	if sender == "" {
		return CheckedEmail{}, &Violation{Field: "sender_email", Reason: "sender email is empty"}
	}
	if _, err := mail.ParseAddress(sender); err != nil {
		return CheckedEmail{}, &Violation{Field: "sender_email", Reason: fmt.Sprintf("malformed email address %q", sender)}
	}
	if body == "" {
		return CheckedEmail{}, &Violation{Field: "body", Reason: "email body is empty"}
	}

	checked := CheckedEmail{Sender: sender, Subject: subject, Body: body}

	if len(checked.Body) > v.maxBodyBytes {
		checked.Body = checked.Body[:v.maxBodyBytes]
		checked.Truncated = true
	}

	low := strings.ToLower(subject + "\n" + checked.Body)
	for _, pat := range injectionPatterns {
		if pat.MatchString(low) {
			checked.InjectionFlagged = true
			checked.InjectionPatterns = append(checked.InjectionPatterns, pat.String())
		}
	}

	return checked, nil
}

// sanitize strips NUL bytes and surrounding whitespace.
func sanitize(s string) string {
	return strings.TrimSpace(strings.ReplaceAll(s, "\x00", ""))
}
