package domain

import (
	"errors"
	"time"
)

// Task is a titled, dated reminder record.
type Task struct {
	ID      string    `json:"id" yaml:"id"`
	Title   string    `json:"title" yaml:"title"`
	Email   string    `json:"email" yaml:"email"`
	DueDate time.Time `json:"dueDate" yaml:"due_date"`
	Details string    `json:"details" yaml:"details"`

	// RemindedAt is when the reminder for DueDate fired; zero until then.
	RemindedAt time.Time `json:"remindedAt,omitempty" yaml:"reminded_at,omitempty"`
}

// CalendarEvent is the calendar view projection of a task.
type CalendarEvent struct {
	Title   string `json:"title"`
	Start   string `json:"start"`
	URL     string `json:"url"`
	Details string `json:"details"`
}

var (
	ErrValidation    = errors.New("validation failed")
	ErrNotFound      = errors.New("task not found")
	ErrAlreadyExists = errors.New("task title already exists")
	ErrStorage       = errors.New("storage failure")
	ErrScheduling    = errors.New("scheduling failure")
)
