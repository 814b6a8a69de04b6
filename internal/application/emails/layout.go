package emails

import (
	"bytes"
	"html/template"
	"strings"
	"time"
)

// statusChange renders as "<title> moved from <from> to <to>".
type statusChange struct {
	Title string
	From  string
	To    string
}

// message is the content of one transactional email. All fields are escaped by the template.
type message struct {
	Heading  string
	Greeting string
	Change   *statusChange
	Lines    []string
	Year     int
}

var layout = template.Must(template.New("email").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <meta name="viewport" content="width=device-width, initial-scale=1.0">
  <title>Commissions</title>
  <style>
    body { margin: 0; padding: 0; background-color: #F3F4F6; font-family: -apple-system, 'Segoe UI', Roboto, Helvetica, Arial, sans-serif; color: #1F2937; }
    .content p { margin: 0 0 20px 0; font-size: 16px; line-height: 1.6; }
    .content h1 { font-size: 22px; margin: 0 0 18px 0; }
    .status { display: inline-block; padding: 2px 10px; border-radius: 12px; background-color: #3B5BDB; color: #FFFFFF; font-size: 13px; }
    .footer { color: #6B7280; font-size: 13px; }
  </style>
</head>
<body>
  <table role="presentation" width="100%" cellspacing="0" cellpadding="0">
    <tr><td align="center" style="padding: 40px 0;">
      <table role="presentation" width="600" cellspacing="0" cellpadding="0" style="background-color: #FFFFFF; border-radius: 8px;">
        <tr><td class="content" style="padding: 40px 48px 24px 48px;">
          <h1>{{.Heading}}</h1>
          {{- if .Greeting}}
          <p>Hi {{.Greeting}},</p>
          {{- end}}
          {{- with .Change}}
          <p><strong>{{.Title}}</strong> moved from <span class="status">{{.From}}</span> to <span class="status">{{.To}}</span>.</p>
          {{- end}}
          {{- range .Lines}}
          <p>{{.}}</p>
          {{- end}}
        </td></tr>
        <tr><td align="center" style="padding: 0 48px 32px 48px;">
          <p class="footer">&copy; {{.Year}} Commissions. You receive this email because you take part in a project.</p>
        </td></tr>
      </table>
    </td></tr>
  </table>
</body>
</html>`))

func render(m message) (string, error) {
	if m.Year == 0 {
		m.Year = time.Now().Year()
	}
	var buf bytes.Buffer
	if err := layout.Execute(&buf, m); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// humanStatus turns a status value like "delivered_to_client" into "delivered to client".
func humanStatus(s string) string {
	return strings.ReplaceAll(s, "_", " ")
}
