package emails

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const brevoAPI = "https://api.brevo.com/v3/smtp/email"

// BrevoSendRequest matches Brevo API v3 send transactional email body.
type BrevoSendRequest struct {
	Sender      BrevoSender `json:"sender"`
	To          []BrevoTo   `json:"to"`
	Subject     string      `json:"subject"`
	HTMLContent string      `json:"htmlContent"`
}

type BrevoSender struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

type BrevoTo struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// Sender delivers the welcome and project status emails.
type Sender interface {
	SendWelcome(ctx context.Context, toEmail, name string) error
	SendStatusChanged(ctx context.Context, toEmail, name, projectTitle, oldStatus, newStatus string) error
}

// BrevoClient posts transactional emails to the Brevo (Sendinblue) v3 API. An empty APIKey turns
// every send into a no-op so local environments need no mail account.
type BrevoClient struct {
	APIKey   string
	MailFrom string
	Endpoint string // defaults to the public Brevo API
	Client   *http.Client
}

func (c *BrevoClient) from() string {
	if c.MailFrom != "" {
		return c.MailFrom
	}
	return "noreply@commissions.local"
}

func (c *BrevoClient) endpoint() string {
	if c.Endpoint != "" {
		return c.Endpoint
	}
	return brevoAPI
}

var defaultHTTPClient = &http.Client{Timeout: 15 * time.Second}

func (c *BrevoClient) httpClient() *http.Client {
	if c.Client != nil {
		return c.Client
	}
	return defaultHTTPClient
}

func (c *BrevoClient) send(ctx context.Context, toEmail, name, subject, html string) error {
	payload, err := json.Marshal(BrevoSendRequest{
		Sender:      BrevoSender{Email: c.from(), Name: "Commissions"},
		To:          []BrevoTo{{Email: toEmail, Name: name}},
		Subject:     subject,
		HTMLContent: html,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(), bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("api-key", c.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return fmt.Errorf("brevo send: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("brevo send: status %d", resp.StatusCode)
	}
	return nil
}

// SendWelcome is sent after self-registration.
func (c *BrevoClient) SendWelcome(ctx context.Context, toEmail, name string) error {
	if c.APIKey == "" {
		return nil
	}
	if name == "" {
		name = "there"
	}
	html, err := render(message{
		Heading: "Welcome, " + name + "!",
		Lines: []string{
			"Your account is ready. Submit a project for a quote or, as a fulfiller, wait for your first assignment.",
			"If you did not sign up for this account, please contact support.",
		},
	})
	if err != nil {
		return err
	}
	return c.send(ctx, toEmail, name, "Welcome to Commissions", html)
}

// SendStatusChanged tells a project participant that the project moved to a new state.
func (c *BrevoClient) SendStatusChanged(ctx context.Context, toEmail, name, projectTitle, oldStatus, newStatus string) error {
	if c.APIKey == "" {
		return nil
	}
	if name == "" {
		name = "there"
	}
	html, err := render(message{
		Heading:  "Project update",
		Greeting: name,
		Change:   &statusChange{Title: projectTitle, From: humanStatus(oldStatus), To: humanStatus(newStatus)},
		Lines:    []string{"Open the app to see what is needed next."},
	})
	if err != nil {
		return err
	}
	return c.send(ctx, toEmail, name, fmt.Sprintf("%s is now %s", projectTitle, humanStatus(newStatus)), html)
}
