// Package notify abstracts outbound message delivery. The executor only sees
// the Sender interface; adapters map it onto concrete providers.
package notify

import (
	"context"
	"log"

	"github.com/google/uuid"
)

// Delivery statuses.
const (
	StatusSent   = "sent"
	StatusFailed = "failed"
)

// Correlation identifies the enrollment a message belongs to. Adapters embed
// it in provider metadata so delivery callbacks can be routed back.
type Correlation struct {
	EnrollmentID uuid.UUID
	StepLogID    uuid.UUID
	AutomationID uuid.UUID
}

// Result describes one delivery attempt. ExternalID is the provider message
// id used to match later webhook callbacks.
type Result struct {
	Status     string
	ExternalID string
	Error      string
}

func (r Result) Sent() bool {
	return r.Status == StatusSent
}

// Sender delivers a personalized message over one channel.
type Sender interface {
	SendEmail(ctx context.Context, shopDomain, to, subject, htmlBody string, corr Correlation) Result
	SendSMS(ctx context.Context, shopDomain, phone, body string, corr Correlation) Result
}

// EmailProvider is a concrete email backend (SES in production).
type EmailProvider interface {
	SendEmail(ctx context.Context, to, subject, htmlBody string, corr Correlation) (string, error)
}

// SMSProvider is a concrete SMS backend.
type SMSProvider interface {
	SendSMS(ctx context.Context, phone, body string, corr Correlation) (string, error)
}

// ProviderSender routes channels to their configured providers. A channel
// without a provider fails fast with a descriptive error instead of
// panicking mid-run.
type ProviderSender struct {
	email EmailProvider
	sms   SMSProvider
}

func NewProviderSender(email EmailProvider, sms SMSProvider) *ProviderSender {
	return &ProviderSender{email: email, sms: sms}
}

func (p *ProviderSender) SendEmail(ctx context.Context, shopDomain, to, subject, htmlBody string, corr Correlation) Result {
	if p.email == nil {
		return Result{Status: StatusFailed, Error: "no email provider configured"}
	}
	externalID, err := p.email.SendEmail(ctx, to, subject, htmlBody, corr)
	if err != nil {
		return Result{Status: StatusFailed, Error: err.Error()}
	}
	return Result{Status: StatusSent, ExternalID: externalID}
}

func (p *ProviderSender) SendSMS(ctx context.Context, shopDomain, phone, body string, corr Correlation) Result {
	if p.sms == nil {
		return Result{Status: StatusFailed, Error: "no sms provider configured"}
	}
	externalID, err := p.sms.SendSMS(ctx, phone, body, corr)
	if err != nil {
		return Result{Status: StatusFailed, Error: err.Error()}
	}
	return Result{Status: StatusSent, ExternalID: externalID}
}

// LogSender writes messages to the process log and reports success. Used in
// development and as the default when no providers are configured.
type LogSender struct{}

func (LogSender) SendEmail(_ context.Context, shopDomain, to, subject, _ string, corr Correlation) Result {
	id := uuid.New().String()
	log.Printf("[Notify] (dev) email to %s via %s: %q enrollment=%s msg=%s",
		to, shopDomain, subject, corr.EnrollmentID, id)
	return Result{Status: StatusSent, ExternalID: id}
}

func (LogSender) SendSMS(_ context.Context, shopDomain, phone, body string, corr Correlation) Result {
	id := uuid.New().String()
	log.Printf("[Notify] (dev) sms to %s via %s (%d chars) enrollment=%s msg=%s",
		phone, shopDomain, len(body), corr.EnrollmentID, id)
	return Result{Status: StatusSent, ExternalID: id}
}
