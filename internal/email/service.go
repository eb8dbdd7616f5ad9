// Package email sends change request notifications over SMTP.
package email

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"net/smtp"
	"sort"
	"strings"
	"time"
)

// Config holds SMTP configuration
type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
	// BaseURL is the web address requests link to, e.g. https://tally.example.com.
	BaseURL string
}

// SendFunc is smtp.SendMail bounded by a context.
type SendFunc func(ctx context.Context, addr string, a smtp.Auth, from string, to []string, msg []byte) error

type Service struct {
	config Config
	server string
	auth   smtp.Auth
	send   SendFunc
}

func NewService(config Config) *Service {
	var auth smtp.Auth
	if config.Username != "" {
		auth = smtp.PlainAuth("", config.Username, config.Password, config.Host)
	}
	return &Service{
		config: config,
		server: config.Host + ":" + config.Port,
		auth:   auth,
		send:   sendMail,
	}
}

// WithSendFunc replaces the SMTP transport, mostly for tests.
func (s *Service) WithSendFunc(send SendFunc) *Service {
	if send != nil {
		s.send = send
	}
	return s
}

// IsConfigured returns true if email is configured
func (s *Service) IsConfigured() bool {
	return s.config.Host != "" && s.config.Port != "" && s.config.From != ""
}

// SendHTMLEmail sends an HTML email with a plain text fallback part. The
// SMTP conversation is abandoned once ctx is done.
func (s *Service) SendHTMLEmail(ctx context.Context, to []string, subject, textBody, htmlBody string) error {
	if !s.IsConfigured() {
		return fmt.Errorf("email not configured")
	}
	if len(to) == 0 {
		return nil
	}

	from := s.config.From
	if s.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)
	}

	boundary := "boundary-tally"

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	fmt.Fprintf(&msg, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=\"%s\"\r\n", boundary)
	fmt.Fprintf(&msg, "\r\n")

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/plain; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "%s\r\n", textBody)
	fmt.Fprintf(&msg, "\r\n")

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/html; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "%s\r\n", htmlBody)
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "--%s--\r\n", boundary)

	return s.send(ctx, s.server, s.auth, s.config.From, to, msg.Bytes())
}

// FieldChange is one line of the old/new table in a message.
type FieldChange struct {
	Field string
	Old   string
	New   string
}

type ProposalData struct {
	AppName       string
	RecipientName string
	RequesterName string
	ItemTitle     string
	Kind          string
	Reason        string
	Changes       []FieldChange
	ExpiresAt     time.Time
	RequestURL    string
}

type ResolutionData struct {
	AppName          string
	RecipientName    string
	ItemTitle        string
	Kind             string
	Status           string
	ResolutionReason string
	RequestURL       string
}

// SendProposal asks one member to vote on a change request.
func (s *Service) SendProposal(ctx context.Context, to string, data ProposalData) error {
	data.AppName = "Tally"
	subject := fmt.Sprintf("%s proposed a change to %s", data.RequesterName, data.ItemTitle)
	html, err := renderTemplate(proposalEmailTemplate, data)
	if err != nil {
		return fmt.Errorf("render proposal template: %w", err)
	}
	text := fmt.Sprintf("%s proposed a %s change to %s. Vote before %s: %s",
		data.RequesterName, data.Kind, data.ItemTitle, data.ExpiresAt.UTC().Format(time.RFC1123), data.RequestURL)
	return s.SendHTMLEmail(ctx, []string{to}, subject, text, html)
}

// SendResolution tells the requester how their change request ended.
func (s *Service) SendResolution(ctx context.Context, to string, data ResolutionData) error {
	data.AppName = "Tally"
	subject := fmt.Sprintf("Your change to %s was %s", data.ItemTitle, strings.ReplaceAll(data.Status, "_", "-"))
	html, err := renderTemplate(resolutionEmailTemplate, data)
	if err != nil {
		return fmt.Errorf("render resolution template: %w", err)
	}
	text := fmt.Sprintf("Your %s change to %s is %s: %s", data.Kind, data.ItemTitle, data.Status, data.ResolutionReason)
	return s.SendHTMLEmail(ctx, []string{to}, subject, text, html)
}

// RequestURL links to a change request in the web app, or "" without a base URL.
func (s *Service) RequestURL(requestID string) string {
	if s.config.BaseURL == "" {
		return ""
	}
	return strings.TrimRight(s.config.BaseURL, "/") + "/requests/" + requestID
}

// FieldChanges pairs old and new values by field, sorted by field name.
func FieldChanges(oldValues, newValues map[string]any) []FieldChange {
	fields := make(map[string]struct{}, len(newValues))
	for field := range oldValues {
		fields[field] = struct{}{}
	}
	for field := range newValues {
		fields[field] = struct{}{}
	}
	names := make([]string, 0, len(fields))
	for field := range fields {
		names = append(names, field)
	}
	sort.Strings(names)

	changes := make([]FieldChange, 0, len(names))
	for _, field := range names {
		changes = append(changes, FieldChange{Field: field, Old: display(oldValues[field]), New: display(newValues[field])})
	}
	return changes
}

func display(value any) string {
	if value == nil {
		return "-"
	}
	return fmt.Sprint(value)
}

func renderTemplate(tmpl string, data interface{}) (string, error) {
	t := template.Must(template.New("email").Parse(tmpl))
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const proposalEmailTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Change proposed in {{.AppName}}</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { border-bottom: 2px solid #2f855a; padding-bottom: 10px; margin-bottom: 20px; }
        .button { display: inline-block; padding: 12px 24px; background: #2f855a; color: white; text-decoration: none; border-radius: 4px; margin: 20px 0; }
        table { border-collapse: collapse; width: 100%; }
        td, th { border-bottom: 1px solid #eee; padding: 6px; text-align: left; }
        .footer { margin-top: 30px; padding-top: 20px; border-top: 1px solid #eee; font-size: 12px; color: #666; }
    </style>
</head>
<body>
    <div class="header">
        <h1>{{.AppName}}</h1>
    </div>

    <p>Hi {{.RecipientName}},</p>

    <p>{{.RequesterName}} proposed a {{.Kind}} change to <strong>{{.ItemTitle}}</strong>.</p>
    {{if .Reason}}<p>Reason: {{.Reason}}</p>{{end}}

    <table>
        <tr><th>Field</th><th>Current</th><th>Proposed</th></tr>
        {{range .Changes}}<tr><td>{{.Field}}</td><td>{{.Old}}</td><td>{{.New}}</td></tr>
        {{end}}
    </table>

    {{if .RequestURL}}<p>
        <a href="{{.RequestURL}}" class="button">Review the change</a>
    </p>{{end}}

    <div class="footer">
        <p>If nobody objects, the change is applied automatically on {{.ExpiresAt.UTC.Format "Mon, 02 Jan 2006 15:04 MST"}}.</p>
    </div>
</body>
</html>`

const resolutionEmailTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Change request {{.Status}}</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { border-bottom: 2px solid #2f855a; padding-bottom: 10px; margin-bottom: 20px; }
        .status { background: #f0fff4; padding: 12px; border-radius: 4px; margin: 20px 0; }
    </style>
</head>
<body>
    <div class="header">
        <h1>{{.AppName}}</h1>
    </div>

    <p>Hi {{.RecipientName}},</p>

    <div class="status">
        Your {{.Kind}} change to <strong>{{.ItemTitle}}</strong> is <strong>{{.Status}}</strong>.
        {{if .ResolutionReason}}<br>{{.ResolutionReason}}{{end}}
    </div>

    {{if .RequestURL}}<p><a href="{{.RequestURL}}">View the request</a></p>{{end}}
</body>
</html>`
