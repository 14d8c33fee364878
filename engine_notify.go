package walletauth

import (
	"bytes"
	"context"
	"fmt"
	htmltemplate "html/template"
	"text/template"
	"time"

	"go.uber.org/zap"
)

const otpEmailHTML = `
<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>Your sign-in code</title>
</head>
<body style="font-family: Arial, sans-serif; background-color: #f9f9f9; padding: 20px;">
  <div style="max-width: 600px; margin: auto; background: #fff; padding: 20px; border-radius: 8px;">
    <h2 style="color: #2E86C1;">{{.AppName}} sign-in code</h2>
    <p>Use this code to sign in:</p>
    <p style="font-size: 28px; letter-spacing: 6px;"><strong>{{.Code}}</strong></p>
    <p>The code expires in {{.Minutes}} minutes. If you did not request it, you can ignore this email.</p>
  </div>
</body>
</html>
`

const otpEmailText = `Your {{.AppName}} sign-in code is {{.Code}}

It expires in {{.Minutes}} minutes. If you did not request it, you can ignore this email.
`

const loginAlertHTML = `
<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>New sign-in</title>
</head>
<body style="font-family: Arial, sans-serif; background-color: #f9f9f9; padding: 20px;">
  <div style="max-width: 600px; margin: auto; background: #fff; padding: 20px; border-radius: 8px;">
    <h2 style="color: #2E86C1;">New sign-in to {{.AppName}}</h2>
    <p>Your account was signed in with {{.Method}} at {{.Time}}.</p>
    {{if .IP}}<p><strong>IP address:</strong> {{.IP}}</p>{{end}}
    {{if .UserAgent}}<p><strong>Device:</strong> {{.UserAgent}}</p>{{end}}
    <p>If this was not you, contact support.</p>
  </div>
</body>
</html>
`

const loginAlertText = `New sign-in to {{.AppName}}

Your account was signed in with {{.Method}} at {{.Time}}.
{{if .IP}}IP address: {{.IP}}
{{end}}{{if .UserAgent}}Device: {{.UserAgent}}
{{end}}
If this was not you, contact support.
`

var (
	otpHTMLTpl        = htmltemplate.Must(htmltemplate.New("otp_html").Parse(otpEmailHTML))
	otpTextTpl        = template.Must(template.New("otp_text").Parse(otpEmailText))
	loginAlertHTMLTpl = htmltemplate.Must(htmltemplate.New("login_alert_html").Parse(loginAlertHTML))
	loginAlertTextTpl = template.Must(template.New("login_alert_text").Parse(loginAlertText))
)

type otpEmailData struct {
	AppName string
	Code    string
	Minutes int
}

type loginAlertData struct {
	AppName   string
	Method    string
	Time      string
	IP        string
	UserAgent string
}

func render(html *htmltemplate.Template, text *template.Template, data any) (string, string, error) {
	var h, t bytes.Buffer
	if err := html.Execute(&h, data); err != nil {
		return "", "", err
	}
	if err := text.Execute(&t, data); err != nil {
		return "", "", err
	}
	return h.String(), t.String(), nil
}

func (e *Engine) otpMessage(email, code string) (EmailMessage, error) {
	minutes := int(e.config.OTP.TTL.Round(time.Minute) / time.Minute)
	if minutes < 1 {
		minutes = 1
	}
	html, text, err := render(otpHTMLTpl, otpTextTpl, otpEmailData{
		AppName: e.config.Notify.AppName,
		Code:    code,
		Minutes: minutes,
	})
	if err != nil {
		return EmailMessage{}, err
	}
	return EmailMessage{
		To:       email,
		Subject:  fmt.Sprintf("Your %s sign-in code", e.config.Notify.AppName),
		HTMLBody: html,
		TextBody: text,
		Category: "otp",
	}, nil
}

// sendLoginAlert notifies the user of a new sign-in without blocking the
// login. Placeholder addresses are skipped; failures are logged and counted.
func (e *Engine) sendLoginAlert(ctx context.Context, user *User, method LoginMethod) {
	if !e.config.Notify.SendLoginAlerts || user == nil {
		return
	}
	to := user.ContactEmail()
	if to == "" {
		return
	}

	methodLabel := "an email code"
	if method == LoginMethodWallet {
		methodLabel = "a wallet signature"
	}
	data := loginAlertData{
		AppName:   e.config.Notify.AppName,
		Method:    methodLabel,
		Time:      e.now().UTC().Format(time.RFC1123),
		IP:        clientIPFromContext(ctx),
		UserAgent: userAgentFromContext(ctx),
	}

	// The request may finish before the mail goes out.
	sendCtx := context.WithoutCancel(ctx)
	userID := user.ID

	// Add must not race with the Wait in Close.
	e.notifyMu.Lock()
	if e.closed {
		e.notifyMu.Unlock()
		e.logger.Debug("engine closed; login alert skipped", zap.String("user_id", userID))
		return
	}
	e.notifyWG.Add(1)
	e.notifyMu.Unlock()

	go func() {
		defer e.notifyWG.Done()

		html, text, err := render(loginAlertHTMLTpl, loginAlertTextTpl, data)
		if err != nil {
			e.logger.Error("render login alert", zap.Error(err))
			return
		}

		if timeout := e.config.Notify.AlertTimeout; timeout > 0 {
			var cancel context.CancelFunc
			sendCtx, cancel = context.WithTimeout(sendCtx, timeout)
			defer cancel()
		}

		_, err = e.mailer.Send(sendCtx, EmailMessage{
			To:       to,
			Subject:  fmt.Sprintf("New sign-in to %s", e.config.Notify.AppName),
			HTMLBody: html,
			TextBody: text,
			Category: "login_alert",
		})
		if err != nil {
			e.metricInc(MetricLoginAlertFailure)
			e.logger.Warn("login alert not sent", zap.String("user_id", userID), zap.Error(err))
			e.emitAudit(sendCtx, auditEventLoginAlertSendFailure, false, userID, "", ErrEmailSendFailed, nil)
		}
	}()
}
