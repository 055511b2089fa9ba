package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"reminderq/internal/domain"
	"reminderq/internal/ports"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
)

const (
	MaxSubjectLength = 200
	MaxBodyLength    = 10000

	dueLayout = "January 02, 2006 at 03:04 PM"
	noDueDate = "No due date set"
)

var (
	ErrGenerationDisabled = errors.New("generation disabled")
	ErrEmptyGeneration    = errors.New("generation returned empty body")
)

var priorityPrefix = map[domain.Priority]string{
	domain.PriorityHigh:   "🔴 URGENT",
	domain.PriorityMedium: "🟡",
	domain.PriorityLow:    "📋",
}

// GenerationResult is either a generated body or the reason there is none.
type GenerationResult struct {
	Body    string
	Failure error
}

func (r GenerationResult) OK() bool { return r.Failure == nil }

type Composer struct {
	Generator  ports.Generator
	Timeout    time.Duration
	SenderName string
	AppURL     string
}

// Compose builds the notification for task. It never fails: when generation
// is unavailable the body comes from a fixed template.
func (c Composer) Compose(ctx context.Context, task domain.Task, to domain.Recipient) domain.Content {
	p := promptFor(task, to)
	content := domain.Content{Subject: Subject(task)}

	res := c.Generate(ctx, p)
	if res.OK() {
		content.Body = res.Body
	} else {
		log.Ctx(ctx).Warn().
			Err(res.Failure).
			Str("task_id", task.ID).
			Msg("generation unavailable, using template body")
		content.Body = c.FallbackBody(task, to)
		content.Fallback = true
	}
	content.Body = truncate(content.Body, MaxBodyLength)
	content.HTML = c.htmlBody(task, to, content.Body)
	return content
}

// Generate calls the generator under its own timeout. Any failure is
// reported in the result, never as a panic or error return.
func (c Composer) Generate(ctx context.Context, p ports.Prompt) GenerationResult {
	if c.Generator == nil {
		return GenerationResult{Failure: ErrGenerationDisabled}
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	gctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	body, err := c.Generator.Generate(gctx, p)
	if err != nil {
		return GenerationResult{Failure: err}
	}
	body = strings.TrimSpace(body)
	if body == "" {
		return GenerationResult{Failure: ErrEmptyGeneration}
	}
	return GenerationResult{Body: body}
}

// Subject is built from the priority prefix, the recurrence tag and the title.
func Subject(task domain.Task) string {
	prefix, ok := priorityPrefix[task.Priority]
	if !ok {
		prefix = priorityPrefix[domain.PriorityLow]
	}
	var b strings.Builder
	b.WriteString(prefix)
	b.WriteString(" Reminder")
	if task.Recurrence.Recurring() {
		b.WriteString(" [")
		b.WriteString(titleCase(string(task.Recurrence)))
		b.WriteString("]")
	}
	b.WriteString(": ")
	b.WriteString(strings.TrimSpace(task.Title))
	return truncate(b.String(), MaxSubjectLength)
}

func (c Composer) FallbackBody(task domain.Task, to domain.Recipient) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Hi %s,\n\n", displayName(to))
	fmt.Fprintf(&b, "This is a friendly reminder about your task: %q.\n\n", strings.TrimSpace(task.Title))
	fmt.Fprintf(&b, "Due: %s\n", formatDue(task.DueAt))
	fmt.Fprintf(&b, "Priority: %s\n", priorityName(task.Priority))
	if d := strings.TrimSpace(task.Description); d != "" {
		fmt.Fprintf(&b, "Description: %s\n", d)
	}
	b.WriteString("\nStay organized and keep up the great work!\n\nBest regards,\n")
	sender := c.SenderName
	if sender == "" {
		sender = "Todo Reminder Bot"
	}
	b.WriteString(sender)
	return b.String()
}

var htmlTmpl = template.Must(template.New("reminder").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333;">
<div style="max-width: 600px; margin: 0 auto; padding: 20px;">
<h2 style="color: #4F46E5;">Task Reminder</h2>
<p>Hi {{.Name}},</p>
<div style="background: #f8f9fa; padding: 15px; margin: 15px 0; white-space: pre-line;">{{.Message}}</div>
<div style="border-left: 4px solid #4F46E5; padding: 15px; margin: 15px 0;">
<h3>{{.Title}}</h3>
<p><strong>Due:</strong> {{.Due}}</p>
<p><strong>Priority:</strong> {{.Priority}}</p>
{{if .Description}}<p><strong>Description:</strong> {{.Description}}</p>{{end}}
</div>
{{if .Link}}<a href="{{.Link}}">View Task</a>{{end}}
</div>
</body>
</html>`))

func (c Composer) htmlBody(task domain.Task, to domain.Recipient, body string) string {
	var link string
	if base := strings.TrimRight(c.AppURL, "/"); base != "" {
		link = base + "/tasks/" + task.ID
	}
	var buf bytes.Buffer
	err := htmlTmpl.Execute(&buf, map[string]string{
		"Name":        displayName(to),
		"Message":     body,
		"Title":       task.Title,
		"Due":         formatDue(task.DueAt),
		"Priority":    priorityName(task.Priority),
		"Description": task.Description,
		"Link":        link,
	})
	if err != nil {
		return ""
	}
	return buf.String()
}

func promptFor(task domain.Task, to domain.Recipient) ports.Prompt {
	return ports.Prompt{
		RecipientName: displayName(to),
		Title:         truncate(task.Title, 200),
		Description:   truncate(task.Description, 1000),
		Tags:          task.Tags,
		Due:           formatDue(task.DueAt),
		Priority:      priorityName(task.Priority),
		Recurrence:    string(task.Recurrence),
	}
}

func formatDue(due *time.Time) string {
	if due == nil || due.IsZero() {
		return noDueDate
	}
	return due.Format(dueLayout)
}

func displayName(to domain.Recipient) string {
	if n := strings.TrimSpace(to.DisplayName); n != "" {
		return n
	}
	return "there"
}

func priorityName(p domain.Priority) string {
	if p == "" {
		return string(domain.PriorityMedium)
	}
	return string(p)
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	r, n := utf8.DecodeRuneInString(s)
	return strings.ToUpper(string(r)) + s[n:]
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	return string(r[:max])
}
