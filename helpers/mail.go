package helpers

import (
	"bytes"
	"html/template"
	"sort"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"gopkg.in/gomail.v2"
)

type Sender interface {
	DialAndSend(m ...*gomail.Message) error
}

type EmailData struct {
	EmailTo   []string
	EmailFrom string
	NameFrom  string
	Subject   string
	Template  *template.Template
	SMTP      Sender
}

func (ed *EmailData) SendEmail(data interface{}) error {
	var tpl bytes.Buffer
	if err := ed.Template.Execute(&tpl, data); err != nil {
		return errors.Wrap(err, "failed rendering email")
	}

	m := gomail.NewMessage()
	m.SetHeader("From", m.FormatAddress(ed.EmailFrom, ed.NameFrom))
	m.SetHeader("To", ed.EmailTo...)
	m.SetHeader("Subject", ed.Subject)
	m.SetBody("text/html", tpl.String())
	if err := ed.SMTP.DialAndSend(m); err != nil {
		return errors.Wrap(err, "failed sending email")
	}
	return nil
}

var alertTemplate = template.Must(template.New("alert").Parse(`<h3>{{.Subject}}</h3>
<table>
{{range .Fields}}<tr><td><b>{{.Key}}</b></td><td>{{.Value}}</td></tr>
{{end}}</table>`))

type alertField struct {
	Key   string
	Value interface{}
}

// OperatorAlerter logs every alert at error level and mails it to the operators when SMTP is configured.
// Mail goes out on its own goroutine so callers holding a payment lock are not held up by SMTP.
type OperatorAlerter struct {
	SMTP      Sender
	EmailFrom string
	NameFrom  string
	EmailTo   []string
	Prefix    string

	wg sync.WaitGroup
}

func (a *OperatorAlerter) Alert(subject string, fields map[string]interface{}) error {
	log.WithFields(log.Fields(fields)).WithField("alert", subject).Error("operator alert")

	if a.SMTP == nil || len(a.EmailTo) == 0 {
		return nil
	}

	sorted := make([]alertField, 0, len(fields))
	for k, v := range fields {
		sorted = append(sorted, alertField{Key: k, Value: v})
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Key < sorted[j].Key })

	ed := &EmailData{
		EmailTo:   a.EmailTo,
		EmailFrom: a.EmailFrom,
		NameFrom:  a.NameFrom,
		Subject:   a.Prefix + subject,
		Template:  alertTemplate,
		SMTP:      a.SMTP,
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		err := ed.SendEmail(struct {
			Subject string
			Fields  []alertField
		}{subject, sorted})
		if err != nil {
			log.WithFields(log.Fields{
				"alert": subject,
				"error": err,
			}).Error("failed mailing operator alert")
		}
	}()
	return nil
}

// Flush waits for alert mail still in flight.
func (a *OperatorAlerter) Flush() {
	a.wg.Wait()
}
