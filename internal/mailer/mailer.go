// Package mailer sends the transactional emails of the platform: the welcome
// message after signup and the password reset link.
package mailer

import (
	"bytes"
	"context"
	"fmt"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"

	"github.com/wneessen/go-mail"

	"github.com/patric-chuzhbe/toursapi/internal/logger"
	"github.com/patric-chuzhbe/toursapi/internal/models"
)

// Subjects of the emails.
const (
	SubjectWelcome       = "Welcome to the Natours Family!"
	SubjectPasswordReset = "Your password reset token (valid for only 10 minutes)"
)

// Email is a composed message.
type Email struct {
	To      string
	Subject string
	Text    string
	HTML    string
}

type emailData struct {
	FirstName string
	URL       string
}

var (
	textTemplates = map[string]*texttemplate.Template{
		SubjectWelcome: texttemplate.Must(texttemplate.New("welcome").Parse(
			"Hi {{.FirstName}},\n\n" +
				"Welcome to Natours, we're glad to have you!\n" +
				"Upload your user photo to get started: {{.URL}}\n",
		)),
		SubjectPasswordReset: texttemplate.Must(texttemplate.New("reset").Parse(
			"Hi {{.FirstName}},\n\n" +
				"Forgot your password? Submit a PATCH request with your new password and passwordConfirm to: {{.URL}}\n" +
				"If you didn't forget your password, please ignore this email!\n",
		)),
	}

	htmlTemplates = map[string]*htmltemplate.Template{
		SubjectWelcome: htmltemplate.Must(htmltemplate.New("welcome").Parse(
			`<p>Hi {{.FirstName}},</p>` +
				`<p>Welcome to Natours, we're glad to have you!</p>` +
				`<p><a href="{{.URL}}">Upload user photo</a></p>`,
		)),
		SubjectPasswordReset: htmltemplate.Must(htmltemplate.New("reset").Parse(
			`<p>Hi {{.FirstName}},</p>` +
				`<p>Forgot your password? Submit a PATCH request with your new password and passwordConfirm to:</p>` +
				`<p><a href="{{.URL}}">{{.URL}}</a></p>` +
				`<p>If you didn't forget your password, please ignore this email!</p>`,
		)),
	}
)

// Compose renders the email with the given subject for usr.
func Compose(subject string, usr *models.User, url string) (*Email, error) {
	data := emailData{FirstName: firstName(usr.Name), URL: url}

	var text bytes.Buffer
	if err := textTemplates[subject].Execute(&text, data); err != nil {
		return nil, fmt.Errorf("in internal/mailer/mailer.go/Compose(): error while `Execute()` calling: %w", err)
	}

	var html bytes.Buffer
	if err := htmlTemplates[subject].Execute(&html, data); err != nil {
		return nil, fmt.Errorf("in internal/mailer/mailer.go/Compose(): error while `Execute()` calling: %w", err)
	}

	return &Email{
		To:      usr.Email,
		Subject: subject,
		Text:    text.String(),
		HTML:    html.String(),
	}, nil
}

func firstName(name string) string {
	fields := strings.Fields(name)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

type sender interface {
	Send(ctx context.Context, email *Email) error
}

// Mailer composes the emails and hands them to a sender.
type Mailer struct {
	sender sender
}

// New returns a mailer delivering through s.
func New(s sender) *Mailer {
	return &Mailer{sender: s}
}

func (m *Mailer) send(ctx context.Context, subject string, usr *models.User, url string) error {
	email, err := Compose(subject, usr, url)
	if err != nil {
		return err
	}
	return m.sender.Send(ctx, email)
}

// SendWelcome greets a new user.
func (m *Mailer) SendWelcome(ctx context.Context, to *models.User, url string) error {
	return m.send(ctx, SubjectWelcome, to, url)
}

// SendPasswordReset mails the reset link.
func (m *Mailer) SendPasswordReset(ctx context.Context, to *models.User, url string) error {
	return m.send(ctx, SubjectPasswordReset, to, url)
}

// LogSender writes emails to the log instead of delivering them.
type LogSender struct{}

// Send logs the email.
func (LogSender) Send(ctx context.Context, email *Email) error {
	logger.Log.Infow("email", "to", email.To, "subject", email.Subject, "text", email.Text)
	return nil
}

// SMTPSettings configure the SMTP relay.
type SMTPSettings struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPSender delivers emails through an SMTP relay.
type SMTPSender struct {
	client *mail.Client
	from   string
}

// NewSMTPSender returns a sender for the relay. Authentication is used when
// a username is configured.
func NewSMTPSender(settings SMTPSettings) (*SMTPSender, error) {
	options := []mail.Option{
		mail.WithPort(settings.Port),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
	}
	if settings.Username != "" {
		options = append(options,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(settings.Username),
			mail.WithPassword(settings.Password),
		)
	}

	client, err := mail.NewClient(settings.Host, options...)
	if err != nil {
		return nil, fmt.Errorf("in internal/mailer/mailer.go/NewSMTPSender(): error while `mail.NewClient()` calling: %w", err)
	}

	return &SMTPSender{client: client, from: settings.From}, nil
}

// Message converts email into a go-mail message.
func (s *SMTPSender) Message(email *Email) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.From(s.from); err != nil {
		return nil, fmt.Errorf("in internal/mailer/mailer.go/Message(): error while `msg.From()` calling: %w", err)
	}
	if err := msg.To(email.To); err != nil {
		return nil, fmt.Errorf("in internal/mailer/mailer.go/Message(): error while `msg.To()` calling: %w", err)
	}
	msg.Subject(email.Subject)
	msg.SetBodyString(mail.TypeTextPlain, email.Text)
	msg.AddAlternativeString(mail.TypeTextHTML, email.HTML)
	return msg, nil
}

// Send delivers the email.
func (s *SMTPSender) Send(ctx context.Context, email *Email) error {
	msg, err := s.Message(email)
	if err != nil {
		return err
	}
	if err := s.client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("in internal/mailer/mailer.go/Send(): error while `s.client.DialAndSendWithContext()` calling: %w", err)
	}
	return nil
}
