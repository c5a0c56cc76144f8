// Package birthdays holds the per-user birthday records behind the popup
// list, plus the days-until arithmetic the list is sorted and badged with.
package birthdays

import "time"

// DefaultReminderDays is used when a record is created without a reminder
// window.
const DefaultReminderDays = 7

// Birthday is one tracked birthday record.
type Birthday struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Date         string    `json:"date"` // ISO date, YYYY-MM-DD
	Notes        string    `json:"notes,omitempty"`
	ReminderDays int       `json:"reminderDays,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// CreateBirthday is the creation payload.
type CreateBirthday struct {
	Name         string `json:"name"`
	Date         string `json:"date"`
	Notes        string `json:"notes,omitempty"`
	ReminderDays int    `json:"reminderDays,omitempty"`
}

// UpdateBirthday carries partial updates; nil fields are left unchanged.
type UpdateBirthday struct {
	Name         *string `json:"name,omitempty"`
	Date         *string `json:"date,omitempty"`
	Notes        *string `json:"notes,omitempty"`
	ReminderDays *int    `json:"reminderDays,omitempty"`
}

// WithDaysUntil decorates a record with the countdown the UI renders.
type WithDaysUntil struct {
	Birthday
	DaysUntil int  `json:"daysUntil"`
	IsToday   bool `json:"isToday"`
	IsSoon    bool `json:"isSoon"` // within ReminderDays
}
