package model

import "time"

// Keyed is implemented by pointers to every user-owned entity. Repositories
// use it to assign ids, owners and timestamps without reflection.
type Keyed interface {
	Key() string
	SetKey(id string)
	Owner() string
	SetOwner(userID string)
	Touch(at time.Time)
	Validate() error
}

// Dated entities are indexed by day.
type Dated interface {
	Keyed
	Day() string
}

// SoftDeletable entities are hidden, not removed, on delete.
type SoftDeletable interface {
	Dated
	Deleted() bool
	SetDeleted(at *time.Time)
}

func touch(created, updated *time.Time, at time.Time) {
	if created.IsZero() {
		*created = at
	}
	*updated = at
}

func (t *Task) Key() string            { return t.ID }
func (t *Task) SetKey(id string)       { t.ID = id }
func (t *Task) Owner() string          { return t.UserID }
func (t *Task) SetOwner(userID string) { t.UserID = userID }
func (t *Task) Touch(at time.Time)     { touch(&t.CreatedAt, &t.UpdatedAt, at) }
func (t *Task) Day() string            { return t.Date }

func (e *Expense) Key() string            { return e.ID }
func (e *Expense) SetKey(id string)       { e.ID = id }
func (e *Expense) Owner() string          { return e.UserID }
func (e *Expense) SetOwner(userID string) { e.UserID = userID }
func (e *Expense) Touch(at time.Time)     { touch(&e.CreatedAt, &e.UpdatedAt, at) }
func (e *Expense) Day() string            { return e.Date }

func (s *SleepInfo) Key() string              { return s.ID }
func (s *SleepInfo) SetKey(id string)         { s.ID = id }
func (s *SleepInfo) Owner() string            { return s.UserID }
func (s *SleepInfo) SetOwner(userID string)   { s.UserID = userID }
func (s *SleepInfo) Touch(at time.Time)       { touch(&s.CreatedAt, &s.UpdatedAt, at) }
func (s *SleepInfo) Day() string              { return s.Date }
func (s *SleepInfo) Deleted() bool            { return s.DeletedAt != nil }
func (s *SleepInfo) SetDeleted(at *time.Time) { s.DeletedAt = at }

func (m *MoodInfo) Key() string              { return m.ID }
func (m *MoodInfo) SetKey(id string)         { m.ID = id }
func (m *MoodInfo) Owner() string            { return m.UserID }
func (m *MoodInfo) SetOwner(userID string)   { m.UserID = userID }
func (m *MoodInfo) Touch(at time.Time)       { touch(&m.CreatedAt, &m.UpdatedAt, at) }
func (m *MoodInfo) Day() string              { return m.Date }
func (m *MoodInfo) Deleted() bool            { return m.DeletedAt != nil }
func (m *MoodInfo) SetDeleted(at *time.Time) { m.DeletedAt = at }

func (j *DailyJournal) Key() string            { return j.ID }
func (j *DailyJournal) SetKey(id string)       { j.ID = id }
func (j *DailyJournal) Owner() string          { return j.UserID }
func (j *DailyJournal) SetOwner(userID string) { j.UserID = userID }
func (j *DailyJournal) Touch(at time.Time)     { touch(&j.CreatedAt, &j.UpdatedAt, at) }
func (j *DailyJournal) Day() string            { return j.Date }

func (g *Goal) Key() string            { return g.ID }
func (g *Goal) SetKey(id string)       { g.ID = id }
func (g *Goal) Owner() string          { return g.UserID }
func (g *Goal) SetOwner(userID string) { g.UserID = userID }
func (g *Goal) Touch(at time.Time)     { touch(&g.CreatedAt, &g.UpdatedAt, at) }

func (n *CalendarNote) Key() string            { return n.ID }
func (n *CalendarNote) SetKey(id string)       { n.ID = id }
func (n *CalendarNote) Owner() string          { return n.UserID }
func (n *CalendarNote) SetOwner(userID string) { n.UserID = userID }
func (n *CalendarNote) Touch(at time.Time)     { touch(&n.CreatedAt, &n.UpdatedAt, at) }
func (n *CalendarNote) Day() string            { return n.Date }

func (s *AISession) Key() string            { return s.ID }
func (s *AISession) SetKey(id string)       { s.ID = id }
func (s *AISession) Owner() string          { return s.UserID }
func (s *AISession) SetOwner(userID string) { s.UserID = userID }
func (s *AISession) Touch(at time.Time)     { touch(&s.CreatedAt, &s.UpdatedAt, at) }

func (m *AIMessage) Key() string            { return m.ID }
func (m *AIMessage) SetKey(id string)       { m.ID = id }
func (m *AIMessage) Owner() string          { return m.UserID }
func (m *AIMessage) SetOwner(userID string) { m.UserID = userID }
func (m *AIMessage) Touch(at time.Time)     { touch(&m.CreatedAt, &m.UpdatedAt, at) }
