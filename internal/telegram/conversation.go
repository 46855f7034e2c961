package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/shelter-registry/shelter-registry/internal/db/models"
	"github.com/shelter-registry/shelter-registry/internal/lifecycle"
	"github.com/shelter-registry/shelter-registry/internal/telemetry"
)

// Step is the field a registration conversation is waiting for.
type Step string

const (
	StepName       Step = "awaiting_name"
	StepEmail      Step = "awaiting_email"
	StepPhone      Step = "awaiting_phone"
	StepAddress    Step = "awaiting_address"
	StepCity       Step = "awaiting_city"
	StepRegion     Step = "awaiting_region"
	StepPostalCode Step = "awaiting_postal_code"
	StepPassword   Step = "awaiting_password"
	StepDone       Step = "done"
)

// steps is the fixed order of a registration conversation.
var steps = []Step{StepName, StepEmail, StepPhone, StepAddress, StepCity, StepRegion, StepPostalCode, StepPassword, StepDone}

// Next returns the step after s. StepDone and unknown steps return StepDone.
func (s Step) Next() Step {
	for i, st := range steps {
		if st == s && i+1 < len(steps) {
			return steps[i+1]
		}
	}
	return StepDone
}

// optional reports whether the step may be skipped with "-".
func (s Step) optional() bool {
	switch s {
	case StepPhone, StepAddress, StepCity, StepRegion, StepPostalCode:
		return true
	}
	return false
}

var prompts = map[Step]string{
	StepName:       "What is the name of your association?",
	StepEmail:      "What email address should we use to contact you?",
	StepPhone:      "Contact phone number? (send - to skip)",
	StepAddress:    "Street address? (send - to skip)",
	StepCity:       "City? (send - to skip)",
	StepRegion:     "Region or province? (send - to skip)",
	StepPostalCode: "Postal code? (send - to skip)",
	StepPassword:   "Finally, choose a password for your account (at least 8 characters).",
}

// Draft holds the fields collected so far. The password is never stored: it is
// the last step and is handed straight to registration.
type Draft struct {
	Name       string `json:"name,omitempty"`
	Email      string `json:"email,omitempty"`
	Phone      string `json:"phone,omitempty"`
	Address    string `json:"address,omitempty"`
	City       string `json:"city,omitempty"`
	Region     string `json:"region,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
}

func (d *Draft) set(step Step, value string) {
	switch step {
	case StepName:
		d.Name = value
	case StepEmail:
		d.Email = value
	case StepPhone:
		d.Phone = value
	case StepAddress:
		d.Address = value
	case StepCity:
		d.City = value
	case StepRegion:
		d.Region = value
	case StepPostalCode:
		d.PostalCode = value
	}
}

// Input builds a registration request from the draft and password.
func (d Draft) Input(password string) lifecycle.RegistrationInput {
	return lifecycle.RegistrationInput{
		Name:       d.Name,
		Email:      d.Email,
		Phone:      d.Phone,
		Address:    d.Address,
		City:       d.City,
		Region:     d.Region,
		PostalCode: d.PostalCode,
		Password:   password,
	}
}

// Conversation is the persisted state of one chat's registration.
type Conversation struct {
	ChatID    int64     `json:"chat_id"`
	Step      Step      `json:"step"`
	Draft     Draft     `json:"draft"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Registrar creates pending associations.
type Registrar interface {
	Register(ctx context.Context, in lifecycle.RegistrationInput) (*models.Association, error)
}

// Conversations drives chat registrations.
type Conversations struct {
	store     ConversationStore
	registrar Registrar
	now       func() time.Time
}

// NewConversations creates the registration flow.
func NewConversations(store ConversationStore, registrar Registrar) *Conversations {
	return &Conversations{store: store, registrar: registrar, now: time.Now}
}

const helpText = "Hello! Send /register to register your association, or /cancel to abort a registration in progress."

// Handle processes one text message and returns the reply to send.
func (c *Conversations) Handle(ctx context.Context, chatID int64, text string) (string, error) {
	text = strings.TrimSpace(text)

	switch command(text) {
	case "/start", "/help":
		return helpText, nil
	case "/register":
		conv := &Conversation{ChatID: chatID, Step: StepName}
		if err := c.save(ctx, conv); err != nil {
			return "", err
		}
		return "Let's register your association. You can send /cancel at any time.\n\n" + prompts[StepName], nil
	case "/cancel":
		conv, err := c.store.Get(ctx, chatID)
		if err != nil {
			return "", err
		}
		if conv == nil {
			return "There is no registration in progress.", nil
		}
		if err := c.store.Delete(ctx, chatID); err != nil {
			return "", err
		}
		return "Registration cancelled.", nil
	}

	conv, err := c.store.Get(ctx, chatID)
	if err != nil {
		return "", err
	}
	if conv == nil || conv.Step == StepDone {
		return helpText, nil
	}
	return c.advance(ctx, conv, text)
}

func (c *Conversations) advance(ctx context.Context, conv *Conversation, text string) (string, error) {
	step := conv.Step
	if text == "" || strings.HasPrefix(text, "/") {
		return prompts[step], nil
	}
	if text == "-" {
		if !step.optional() {
			return "This field is required. " + prompts[step], nil
		}
		text = ""
	}

	if step == StepEmail {
		if addr, err := mail.ParseAddress(text); err != nil || addr.Address != text {
			return "That does not look like a valid email address. " + prompts[step], nil
		}
	}

	if step == StepPassword {
		return c.finish(ctx, conv, text)
	}

	conv.Draft.set(step, text)
	conv.Step = step.Next()
	if err := c.save(ctx, conv); err != nil {
		return "", err
	}
	return prompts[conv.Step], nil
}

// finish registers the association. A rejected field sends the conversation back
// to the step that collects it.
func (c *Conversations) finish(ctx context.Context, conv *Conversation, password string) (string, error) {
	a, err := c.registrar.Register(ctx, conv.Draft.Input(password))

	var verr *lifecycle.ValidationError
	switch {
	case err == nil:
		telemetry.AssociationRegistrationsTotal.WithLabelValues("telegram", "created").Inc()
		if err := c.store.Delete(ctx, conv.ChatID); err != nil {
			slog.Warn("failed to clear finished conversation", "chat_id", conv.ChatID, "error", err)
		}
		return fmt.Sprintf("Thank you! %s is registered and awaiting approval. We will email %s once it has been reviewed.",
			a.Name, a.Email), nil

	case errors.Is(err, lifecycle.ErrDuplicateName):
		telemetry.AssociationRegistrationsTotal.WithLabelValues("telegram", "duplicate").Inc()
		conv.Step = StepName
		if err := c.save(ctx, conv); err != nil {
			return "", err
		}
		return "An association with that name is already registered. " + prompts[StepName], nil

	case errors.As(err, &verr):
		telemetry.AssociationRegistrationsTotal.WithLabelValues("telegram", "invalid").Inc()
		conv.Step = stepForField(verr.Field)
		if err := c.save(ctx, conv); err != nil {
			return "", err
		}
		return fmt.Sprintf("The %s %s. %s", strings.ReplaceAll(verr.Field, "_", " "), verr.Message, prompts[conv.Step]), nil

	default:
		telemetry.AssociationRegistrationsTotal.WithLabelValues("telegram", "error").Inc()
		return "", fmt.Errorf("register from chat %d: %w", conv.ChatID, err)
	}
}

func (c *Conversations) save(ctx context.Context, conv *Conversation) error {
	conv.UpdatedAt = c.now().UTC()
	return c.store.Save(ctx, conv)
}

func stepForField(field string) Step {
	switch field {
	case "name":
		return StepName
	case "email":
		return StepEmail
	case "phone":
		return StepPhone
	case "address":
		return StepAddress
	case "city":
		return StepCity
	case "region":
		return StepRegion
	case "postal_code":
		return StepPostalCode
	default:
		return StepPassword
	}
}

// command returns the bot command in text, without any @botname suffix.
func command(text string) string {
	if !strings.HasPrefix(text, "/") {
		return ""
	}
	cmd := strings.Fields(text)[0]
	if i := strings.IndexByte(cmd, '@'); i > 0 {
		cmd = cmd[:i]
	}
	return strings.ToLower(cmd)
}
