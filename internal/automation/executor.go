package automation

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/lifecycle-engine/internal/abtest"
	"github.com/ignite/lifecycle-engine/internal/notify"
	"github.com/ignite/lifecycle-engine/internal/personalize"
	"github.com/ignite/lifecycle-engine/internal/shopdata"
	"github.com/ignite/lifecycle-engine/internal/templates"
)

// StepOutcome is what a handler reports back for the step log.
type StepOutcome struct {
	Status            string
	Channel           string
	ExternalMessageID string
	ErrorMessage      string
}

// StepHandler executes one step type. The step log id is allocated before the
// handler runs so providers can correlate callbacks to it.
type StepHandler interface {
	Execute(ctx context.Context, shopDomain string, e *Enrollment, step *Step, stepLogID uuid.UUID) StepOutcome
}

// ConditionEvaluator decides whether an enrollment passes a condition step.
// The default passes everyone through; deployments plug in their own rules.
type ConditionEvaluator interface {
	Evaluate(ctx context.Context, e *Enrollment, conditions json.RawMessage) (bool, error)
}

// PassThroughEvaluator approves every enrollment.
type PassThroughEvaluator struct{}

func (PassThroughEvaluator) Evaluate(context.Context, *Enrollment, json.RawMessage) (bool, error) {
	return true, nil
}

// VariantAssigner is the slice of the A/B test engine the executor uses.
type VariantAssigner interface {
	AssignVariant(ctx context.Context, enrollmentID, automationID uuid.UUID, stepID *uuid.UUID) (*abtest.Variant, error)
}

// ContextSource builds personalization contexts for enrollments.
type ContextSource interface {
	ForEnrollment(ctx context.Context, in personalize.EnrollmentData) (*personalize.Context, error)
}

// TemplateSource resolves stored email templates.
type TemplateSource interface {
	ByID(ctx context.Context, id uuid.UUID) (*templates.EmailTemplate, error)
}

// TemplateRenderer renders a template body against Liquid variables.
type TemplateRenderer interface {
	Render(body string, vars map[string]interface{}) (string, error)
}

// PhoneDirectory resolves customer ids to records for the SMS channel.
type PhoneDirectory interface {
	CustomerByID(ctx context.Context, id uuid.UUID) (*shopdata.Customer, error)
}

// executorStore is the slice of Store the executor writes through.
type executorStore interface {
	CreateStepLog(ctx context.Context, l *StepLog) error
	SetEnrollmentVariant(ctx context.Context, enrollmentID, variantID uuid.UUID) error
}

// Executor runs due steps and records an immutable log row per attempt.
type Executor struct {
	store        executorStore
	personalizer *personalize.Engine
	contexts     ContextSource
	variants     VariantAssigner
	templates    TemplateSource
	renderer     TemplateRenderer
	sender       notify.Sender
	customers    PhoneDirectory
	conditions   ConditionEvaluator

	handlers map[string]StepHandler
	now      func() time.Time
}

// ExecutorDeps bundles the executor's collaborators. Optional fields may be
// nil: without a variant assigner tests are skipped, without a template
// source steps fall back to inline bodies.
type ExecutorDeps struct {
	Personalizer *personalize.Engine
	Contexts     ContextSource
	Variants     VariantAssigner
	Templates    TemplateSource
	Renderer     TemplateRenderer
	Sender       notify.Sender
	Customers    PhoneDirectory
	Conditions   ConditionEvaluator
}

func NewExecutor(store executorStore, deps ExecutorDeps) *Executor {
	x := &Executor{
		store:        store,
		personalizer: deps.Personalizer,
		contexts:     deps.Contexts,
		variants:     deps.Variants,
		templates:    deps.Templates,
		renderer:     deps.Renderer,
		sender:       deps.Sender,
		customers:    deps.Customers,
		conditions:   deps.Conditions,
		now:          time.Now,
	}
	if x.conditions == nil {
		x.conditions = PassThroughEvaluator{}
	}
	x.handlers = map[string]StepHandler{
		StepTypeEmail:     &emailHandler{x},
		StepTypeSMS:       &smsHandler{x},
		StepTypeDelay:     delayHandler{},
		StepTypeCondition: &conditionHandler{x},
	}
	return x
}

// RegisterHandler installs or overrides the handler for a step type.
func (x *Executor) RegisterHandler(stepType string, h StepHandler) {
	x.handlers[stepType] = h
}

// ExecuteStep runs one due step, writes its log row, and reports whether the
// enrollment may advance. Skipped steps advance; failed ones do not.
func (x *Executor) ExecuteStep(ctx context.Context, shopDomain string, e *Enrollment, step *Step) (bool, error) {
	stepLogID := uuid.New()

	handler, ok := x.handlers[step.StepType]
	var out StepOutcome
	if !ok {
		out = StepOutcome{Status: LogFailed, ErrorMessage: "unknown step type: " + step.StepType}
	} else {
		out = handler.Execute(ctx, shopDomain, e, step, stepLogID)
	}

	executedAt := x.now().UTC()
	entry := &StepLog{
		ID:                stepLogID,
		EnrollmentID:      e.ID,
		StepID:            step.ID,
		Status:            out.Status,
		Channel:           out.Channel,
		ScheduledAt:       e.NextStepAt,
		ExecutedAt:        &executedAt,
		ExternalMessageID: out.ExternalMessageID,
		ErrorMessage:      out.ErrorMessage,
	}
	if err := x.store.CreateStepLog(ctx, entry); err != nil {
		return false, fmt.Errorf("write step log: %w", err)
	}

	if out.Status == LogFailed {
		log.Printf("[Executor] step %s (%s) failed for enrollment %s: %s",
			step.ID, step.StepType, e.ID, out.ErrorMessage)
	}
	return out.Status == LogSent || out.Status == LogSkipped, nil
}

func (x *Executor) buildContext(ctx context.Context, shopDomain string, e *Enrollment) (*personalize.Context, error) {
	return x.contexts.ForEnrollment(ctx, personalize.EnrollmentData{
		ShopDomain: shopDomain,
		Email:      e.Email,
		CustomerID: e.CustomerID,
		OrderID:    e.OrderID,
		CheckoutID: e.AbandonedCheckoutID,
		Metadata:   e.Metadata,
	})
}

// ---- email ----

type emailHandler struct {
	x *Executor
}

func (h *emailHandler) Execute(ctx context.Context, shopDomain string, e *Enrollment, step *Step, stepLogID uuid.UUID) StepOutcome {
	if e.Email == "" {
		return StepOutcome{Status: LogSkipped, Channel: "email", ErrorMessage: "enrollment has no email address"}
	}

	pc, err := h.x.buildContext(ctx, shopDomain, e)
	if err != nil {
		return StepOutcome{Status: LogFailed, Channel: "email", ErrorMessage: err.Error()}
	}

	subject, body := step.Subject, step.Body

	if step.TemplateID != nil && h.x.templates != nil {
		tpl, err := h.x.templates.ByID(ctx, *step.TemplateID)
		if err != nil {
			return StepOutcome{Status: LogFailed, Channel: "email", ErrorMessage: fmt.Sprintf("load template: %v", err)}
		}
		if tpl != nil {
			rendered, err := h.x.renderer.Render(tpl.Body, templates.Vars(pc))
			if err != nil {
				return StepOutcome{Status: LogFailed, Channel: "email", ErrorMessage: fmt.Sprintf("render template: %v", err)}
			}
			body = rendered
			if subject == "" {
				subject = tpl.Subject
			}
		}
	}

	if step.IsABTestEnabled && h.x.variants != nil {
		stepID := step.ID
		variant, err := h.x.variants.AssignVariant(ctx, e.ID, step.AutomationID, &stepID)
		if err != nil {
			// A broken test must not block the send; fall back to step content.
			log.Printf("[Executor] assign variant for enrollment %s: %v", e.ID, err)
		} else if variant != nil {
			if variant.Subject != "" {
				subject = variant.Subject
			}
			if variant.Body != "" {
				body = variant.Body
			}
			vid := variant.ID
			e.ABTestVariantID = &vid
			if err := h.x.store.SetEnrollmentVariant(ctx, e.ID, variant.ID); err != nil {
				log.Printf("[Executor] persist variant for enrollment %s: %v", e.ID, err)
			}
		}
	}

	subject = h.x.personalizer.Personalize(subject, pc)
	body = h.x.personalizer.Personalize(body, pc)

	res := h.x.sender.SendEmail(ctx, shopDomain, e.Email, subject, body, notify.Correlation{
		EnrollmentID: e.ID,
		StepLogID:    stepLogID,
		AutomationID: e.AutomationID,
	})
	if !res.Sent() {
		return StepOutcome{Status: LogFailed, Channel: "email", ErrorMessage: res.Error}
	}
	return StepOutcome{Status: LogSent, Channel: "email", ExternalMessageID: res.ExternalID}
}

// ---- sms ----

type smsHandler struct {
	x *Executor
}

func (h *smsHandler) Execute(ctx context.Context, shopDomain string, e *Enrollment, step *Step, stepLogID uuid.UUID) StepOutcome {
	if e.CustomerID == nil || h.x.customers == nil {
		return StepOutcome{Status: LogSkipped, Channel: "sms", ErrorMessage: "enrollment has no customer record"}
	}

	customer, err := h.x.customers.CustomerByID(ctx, *e.CustomerID)
	if err != nil {
		return StepOutcome{Status: LogFailed, Channel: "sms", ErrorMessage: err.Error()}
	}
	if customer == nil || customer.Phone == "" {
		return StepOutcome{Status: LogSkipped, Channel: "sms", ErrorMessage: "customer has no phone number"}
	}

	pc, err := h.x.buildContext(ctx, shopDomain, e)
	if err != nil {
		return StepOutcome{Status: LogFailed, Channel: "sms", ErrorMessage: err.Error()}
	}

	body := h.x.personalizer.Personalize(step.SMSBody, pc)
	res := h.x.sender.SendSMS(ctx, shopDomain, customer.Phone, body, notify.Correlation{
		EnrollmentID: e.ID,
		StepLogID:    stepLogID,
		AutomationID: e.AutomationID,
	})
	if !res.Sent() {
		return StepOutcome{Status: LogFailed, Channel: "sms", ErrorMessage: res.Error}
	}
	return StepOutcome{Status: LogSent, Channel: "sms", ExternalMessageID: res.ExternalID}
}

// ---- delay ----

// delayHandler is a no-op. The wait already happened: delays are applied to
// next_step_at when the enrollment arrives at the step.
type delayHandler struct{}

func (delayHandler) Execute(context.Context, string, *Enrollment, *Step, uuid.UUID) StepOutcome {
	return StepOutcome{Status: LogSent, Channel: "delay"}
}

// ---- condition ----

type conditionHandler struct {
	x *Executor
}

func (h *conditionHandler) Execute(ctx context.Context, _ string, e *Enrollment, step *Step, _ uuid.UUID) StepOutcome {
	ok, err := h.x.conditions.Evaluate(ctx, e, step.Conditions)
	if err != nil {
		return StepOutcome{Status: LogFailed, Channel: "condition", ErrorMessage: err.Error()}
	}
	if !ok {
		return StepOutcome{Status: LogSkipped, Channel: "condition", ErrorMessage: "condition not met"}
	}
	return StepOutcome{Status: LogSent, Channel: "condition"}
}
