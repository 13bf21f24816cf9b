// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PartForge Contributors

// Package email delivers verification and password reset mails.
package email

import (
	"strings"
	"text/template"

	"github.com/samber/oops"
)

// Message is a rendered mail ready for delivery.
type Message struct {
	From    string
	To      string
	Subject string
	Body    string
}

var signupTemplate = template.Must(template.New("signup").Parse(
	`Welcome to PartForge!

Confirm your email address by opening this link:

  {{.Link}}

The link expires in {{.Expiry}}. If you did not create an account,
you can ignore this mail.
`))

var resetTemplate = template.Must(template.New("reset").Parse(
	`A password reset was requested for your PartForge account.

Open this link to choose a new password:

  {{.Link}}

The link expires in {{.Expiry}} and can be used once. If you did not
request a reset, you can ignore this mail; your password is unchanged.
`))

type linkData struct {
	Link   string
	Expiry string
}

func render(tmpl *template.Template, data linkData) (string, error) {
	var sb strings.Builder
	if err := tmpl.Execute(&sb, data); err != nil {
		return "", oops.Code("EMAIL_TEMPLATE_FAILED").
			With("template", tmpl.Name()).
			Wrap(err)
	}
	return sb.String(), nil
}

// SignupMessage renders the signup verification mail.
func SignupMessage(from, to, link string) (Message, error) {
	body, err := render(signupTemplate, linkData{Link: link, Expiry: "24 hours"})
	if err != nil {
		return Message{}, err
	}
	return Message{
		From:    from,
		To:      to,
		Subject: "Confirm your PartForge account",
		Body:    body,
	}, nil
}

// PasswordResetMessage renders the password reset mail.
func PasswordResetMessage(from, to, link string) (Message, error) {
	body, err := render(resetTemplate, linkData{Link: link, Expiry: "20 minutes"})
	if err != nil {
		return Message{}, err
	}
	return Message{
		From:    from,
		To:      to,
		Subject: "Reset your PartForge password",
		Body:    body,
	}, nil
}
