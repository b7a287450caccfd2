package emailsvc

import (
	"net/mail"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/masomo-proctor/assets"
	"github.com/trezcool/masomo-proctor/core"
)

var conf = &core.Config{AppName: "Masomo Proctor", FrontendBaseURL: "https://quiz.example.com"}

func alert() *core.EmailMessage {
	return &core.EmailMessage{
		To:           []mail.Address{{Name: "Proctor", Address: "proctor@example.com"}},
		Subject:      "Critical violation in quiz quiz-1",
		TemplateName: "violation_alert",
		TemplateData: map[string]interface{}{
			"QuizID":      "quiz-1",
			"StudentID":   "42",
			"SessionID":   "s1",
			"Type":        "location_violation",
			"Severity":    "critical",
			"Description": "Location check failed: PERMISSION_DENIED",
			"Timestamp":   "Fri, 01 Mar 2024 09:00:00 UTC",
			"Device":      "Firefox 123.0 on Windows 10.0 (Computer)",
		},
	}
}

func TestConsoleService(t *testing.T) {
	core.ParseEmailTemplates(assets.FS, core.NewNopLogger())

	out := new(strings.Builder)
	svc := NewConsoleServiceMock(conf, out)
	svc.SendMessages(alert())

	sent := svc.Sent()
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0].TextContent, "Location check failed: PERMISSION_DENIED")
	assert.Contains(t, sent[0].TextContent, "https://quiz.example.com")
	assert.NotEmpty(t, sent[0].HTMLContent)

	body := out.String()
	assert.Contains(t, body, "Subject: [Masomo Proctor] Critical violation in quiz quiz-1")
	assert.Contains(t, body, `To: "Proctor" <proctor@example.com>`)
	assert.Contains(t, body, "text/html")
}

func TestConsoleService_Skips(t *testing.T) {
	core.ParseEmailTemplates(assets.FS, core.NewNopLogger())
	out := new(strings.Builder)
	svc := NewConsoleServiceMock(conf, out)

	noRecipient := alert()
	noRecipient.To = nil
	missingTemplate := alert()
	missingTemplate.TemplateName = "nope"
	missingData := alert()
	missingData.TemplateData = map[string]interface{}{"QuizID": "quiz-1"}

	svc.SendMessages(noRecipient, missingTemplate, missingData)
	assert.Empty(t, svc.Sent())
	assert.Empty(t, out.String())
}

func TestSendgridService_Prepare(t *testing.T) {
	svc := NewSendgridService(conf, core.NewNopLogger())
	msg := core.EmailMessage{
		To:          []mail.Address{{Address: "a@example.com"}},
		Cc:          []mail.Address{{Address: "b@example.com"}},
		Subject:     "hi",
		TextContent: "hello",
	}

	m := svc.prepare(msg)
	require.Len(t, m.Personalizations, 1)
	assert.Equal(t, "[Masomo Proctor] hi", m.Personalizations[0].Subject)
	assert.Len(t, m.Personalizations[0].To, 1)
	assert.Len(t, m.Personalizations[0].CC, 1)
	require.Len(t, m.Content, 1)
	assert.Equal(t, "text/plain", m.Content[0].Type)
}
