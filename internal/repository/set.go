package repository

import (
	"time"

	"github.com/basket/bujo/internal/model"
	"github.com/basket/bujo/internal/persistence"
)

// Set bundles one repository per partition over a shared store.
type Set struct {
	Tasks    *Tasks
	Expenses *Repository[model.Expense, *model.Expense]
	Sleep    *Daily[model.SleepInfo, *model.SleepInfo]
	Mood     *Daily[model.MoodInfo, *model.MoodInfo]
	Journals *Journals
	Goals    *Goals
	Notes    *Repository[model.CalendarNote, *model.CalendarNote]
	Profiles *Profiles
	Sessions *Repository[model.AISession, *model.AISession]
	Messages *Messages
}

type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides the time source used for ids, timers and updatedAt.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func New(store *persistence.Store, opts ...Option) *Set {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return &Set{
		Tasks:    &Tasks{newRepository[model.Task, *model.Task](store, persistence.Tasks, o.now)},
		Expenses: newRepository[model.Expense, *model.Expense](store, persistence.Expenses, o.now),
		Sleep:    &Daily[model.SleepInfo, *model.SleepInfo]{newRepository[model.SleepInfo, *model.SleepInfo](store, persistence.Sleep, o.now)},
		Mood:     &Daily[model.MoodInfo, *model.MoodInfo]{newRepository[model.MoodInfo, *model.MoodInfo](store, persistence.Mood, o.now)},
		Journals: &Journals{newRepository[model.DailyJournal, *model.DailyJournal](store, persistence.Journals, o.now)},
		Goals:    &Goals{newRepository[model.Goal, *model.Goal](store, persistence.Goals, o.now)},
		Notes:    newRepository[model.CalendarNote, *model.CalendarNote](store, persistence.CalendarNotes, o.now),
		Profiles: &Profiles{store: store, now: o.now},
		Sessions: newRepository[model.AISession, *model.AISession](store, persistence.AISessions, o.now),
		Messages: &Messages{newRepository[model.AIMessage, *model.AIMessage](store, persistence.AIMessages, o.now)},
	}
}
