package mailer

import (
	"strings"
	"text/template"
)

var confirmTmpl = template.Must(template.New("confirm").Parse(`Hello,

A retrieval of the archived file "{{.File}}" was requested for this
email address. If that was you, confirm the request by opening the
link below:

{{.ConfirmURL}}

The link expires shortly. If you did not request this file, ignore
this message; nothing will be retrieved without your confirmation.
`))

func renderBody(confirmURL, file string) (string, error) {
	var b strings.Builder
	err := confirmTmpl.Execute(&b, struct {
		File       string
		ConfirmURL string
	}{File: file, ConfirmURL: confirmURL})
	if err != nil {
		return "", err
	}
	return b.String(), nil
}
