package birthdays

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const dateLayout = "2006-01-02"

// Service provides the birthday operations behind the popup UI.
type Service struct {
	repo    Repo
	nowTime func() time.Time // nowTime function (injectable for testing)
}

// ServiceOption defines a function type to modify the Service instance.
type ServiceOption func(*Service)

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) ServiceOption {
	return func(s *Service) {
		s.nowTime = nowFunc
	}
}

// NewService initializes a new Service with the given repository.
func NewService(repo Repo, options ...ServiceOption) (*Service, error) {
	if repo == nil {
		return nil, errors.New("[birthdays.NewService] repo is required")
	}

	service := &Service{
		repo:    repo,
		nowTime: time.Now,
	}

	for _, opt := range options {
		opt(service)
	}
	return service, nil
}

// Add creates a record for the user.
func (s *Service) Add(ctx context.Context, userID string, create CreateBirthday) (*Birthday, error) {
	if userID == "" {
		return nil, ErrNotAuthenticated
	}
	if create.Name == "" {
		return nil, errors.New("[Service.Add] name is required")
	}
	if _, err := time.Parse(dateLayout, create.Date); err != nil {
		return nil, errors.Wrap(err, "[Service.Add] invalid date")
	}

	reminderDays := create.ReminderDays
	if reminderDays <= 0 {
		reminderDays = DefaultReminderDays
	}

	now := s.nowTime()
	birthday := &Birthday{
		ID:           uuid.New().String(),
		Name:         create.Name,
		Date:         create.Date,
		Notes:        create.Notes,
		ReminderDays: reminderDays,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.repo.Create(ctx, userID, birthday); err != nil {
		return nil, errors.Wrap(err, "[Service.Add] repo.Create")
	}
	return birthday, nil
}

// List returns the user's records, newest first, decorated with the
// days-until countdown.
func (s *Service) List(ctx context.Context, userID string) ([]*WithDaysUntil, error) {
	records, err := s.repo.List(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "[Service.List] repo.List")
	}

	now := s.nowTime()
	list := make([]*WithDaysUntil, 0, len(records))
	for _, record := range records {
		list = append(list, decorate(record, now))
	}
	return list, nil
}

// Update applies a partial update to a record.
func (s *Service) Update(ctx context.Context, userID, id string, update UpdateBirthday) (*Birthday, error) {
	records, err := s.repo.List(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "[Service.Update] repo.List")
	}

	var existing *Birthday
	for _, record := range records {
		if record.ID == id {
			existing = record
			break
		}
	}
	if existing == nil {
		return nil, ErrNotFound
	}

	if update.Name != nil {
		existing.Name = *update.Name
	}
	if update.Date != nil {
		if _, err := time.Parse(dateLayout, *update.Date); err != nil {
			return nil, errors.Wrap(err, "[Service.Update] invalid date")
		}
		existing.Date = *update.Date
	}
	if update.Notes != nil {
		existing.Notes = *update.Notes
	}
	if update.ReminderDays != nil && *update.ReminderDays > 0 {
		existing.ReminderDays = *update.ReminderDays
	}
	existing.UpdatedAt = s.nowTime()

	if err := s.repo.Update(ctx, userID, existing); err != nil {
		return nil, errors.Wrap(err, "[Service.Update] repo.Update")
	}
	return existing, nil
}

// Remove deletes a record.
func (s *Service) Remove(ctx context.Context, userID, id string) error {
	if err := s.repo.Delete(ctx, userID, id); err != nil {
		return errors.Wrap(err, "[Service.Remove] repo.Delete")
	}
	return nil
}

func decorate(record *Birthday, now time.Time) *WithDaysUntil {
	days := DaysUntil(record.Date, now)
	return &WithDaysUntil{
		Birthday:  *record,
		DaysUntil: days,
		IsToday:   days == 0,
		IsSoon:    days > 0 && days <= record.ReminderDays,
	}
}

// DaysUntil returns the number of days from now until the next occurrence
// of the birthday. A birthday on Feb 29 is observed on Mar 1 in non-leap
// years, which falls out of date normalization.
func DaysUntil(date string, now time.Time) int {
	parsed, err := time.Parse(dateLayout, date)
	if err != nil {
		return 0
	}

	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	next := time.Date(today.Year(), parsed.Month(), parsed.Day(), 0, 0, 0, 0, time.UTC)
	if next.Before(today) {
		next = time.Date(today.Year()+1, parsed.Month(), parsed.Day(), 0, 0, 0, 0, time.UTC)
	}
	return int(next.Sub(today).Hours() / 24)
}
