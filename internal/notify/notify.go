// Package notify delivers reminder messages over email and optional
// side channels.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"

	"taskminder/internal/domain"
)

// Message is a rendered reminder ready for delivery.
type Message struct {
	TaskID  string    `json:"taskId"`
	Title   string    `json:"title"`
	To      string    `json:"to"`
	Subject string    `json:"subject"`
	Body    string    `json:"body"`
	Due     time.Time `json:"due"`
}

// Notifier sends one message.
type Notifier interface {
	Notify(ctx context.Context, m Message) error
}

// NewReminder renders the reminder for t, formatting the due date in loc.
func NewReminder(t domain.Task, loc *time.Location) Message {
	if loc == nil {
		loc = time.Local
	}
	return Message{
		TaskID:  t.ID,
		Title:   t.Title,
		To:      t.Email,
		Subject: "Task Reminder: " + t.Title,
		Body:    fmt.Sprintf("Reminder for task: %s\nDetails: %s\nDue: %s", t.Title, t.Details, FormatDue(t.DueDate.In(loc))),
		Due:     t.DueDate,
	}
}

// FormatDue renders a due date as "October 17th 2026, 9:30 am".
func FormatDue(t time.Time) string {
	return fmt.Sprintf("%s %s %d, %s", t.Format("January"), humanize.Ordinal(t.Day()), t.Year(), t.Format("3:04 pm"))
}

// Multi fans a message out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, msg Message) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Log writes the message to the log instead of delivering it. Used when
// no SMTP server is configured.
type Log struct{}

func (Log) Notify(_ context.Context, m Message) error {
	log.Info().
		Str("task_id", m.TaskID).
		Str("to", m.To).
		Str("subject", m.Subject).
		Msg("reminder (no mail transport configured)")
	return nil
}
