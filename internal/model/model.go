// Package model defines the journal entities and their JSON wire format.
// Field names are camelCase; the same documents are stored locally, written
// into backups and exchanged with the sync server.
package model

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalid is wrapped by every Validate failure.
var ErrInvalid = errors.New("invalid entity")

type TaskStatus string

const (
	TaskTodo       TaskStatus = "todo"
	TaskInProgress TaskStatus = "in-progress"
	TaskDone       TaskStatus = "done"
)

type TimeLogType string

const (
	TimeLogTimer  TimeLogType = "timer"
	TimeLogManual TimeLogType = "manual"
)

// TimeLog is one entry of a task's time audit trail.
type TimeLog struct {
	ID        string      `json:"id"`
	Type      TimeLogType `json:"type"`
	Minutes   int         `json:"minutes"`
	StartedAt *time.Time  `json:"startedAt,omitempty"`
	EndedAt   *time.Time  `json:"endedAt,omitempty"`
	Note      string      `json:"note,omitempty"`
	CreatedAt time.Time   `json:"createdAt"`
}

type Task struct {
	ID              string     `json:"id"`
	UserID          string     `json:"userId"`
	Title           string     `json:"title"`
	Status          TaskStatus `json:"status"`
	Date            string     `json:"date"`
	SpentTime       int        `json:"spentTime"`
	TimeLogs        []TimeLog  `json:"timeLogs"`
	TimerStart      *time.Time `json:"timerStart"`
	EstimatedTime   *int       `json:"estimatedTime"`
	Useful          *bool      `json:"useful"`
	CopyToNextDay   bool       `json:"copyToNextDay"`
	CopiedToNextDay bool       `json:"copiedToNextDay,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// LoggedMinutes sums the time log. SpentTime stays authoritative; this is a
// cross-check only.
func (t Task) LoggedMinutes() int {
	total := 0
	for _, l := range t.TimeLogs {
		total += l.Minutes
	}
	return total
}

func (t Task) Validate() error {
	if err := requireIDs("task", t.ID, t.UserID); err != nil {
		return err
	}
	switch t.Status {
	case TaskTodo, TaskInProgress, TaskDone:
	default:
		return fmt.Errorf("%w: task %s: unknown status %q", ErrInvalid, t.ID, t.Status)
	}
	if err := validDate(t.Date); err != nil {
		return fmt.Errorf("%w: task %s: %v", ErrInvalid, t.ID, err)
	}
	if t.SpentTime < 0 {
		return fmt.Errorf("%w: task %s: negative spentTime", ErrInvalid, t.ID)
	}
	for _, l := range t.TimeLogs {
		if l.Type != TimeLogTimer && l.Type != TimeLogManual {
			return fmt.Errorf("%w: task %s: unknown time log type %q", ErrInvalid, t.ID, l.Type)
		}
	}
	return nil
}

type ExpenseType string

const (
	ExpenseIncome  ExpenseType = "income"
	ExpenseExpense ExpenseType = "expense"
)

type Expense struct {
	ID        string      `json:"id"`
	UserID    string      `json:"userId"`
	Title     string      `json:"title"`
	Amount    float64     `json:"amount"`
	Type      ExpenseType `json:"type"`
	Date      string      `json:"date"`
	Category  string      `json:"category,omitempty"`
	CreatedAt time.Time   `json:"createdAt"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

func (e Expense) Validate() error {
	if err := requireIDs("expense", e.ID, e.UserID); err != nil {
		return err
	}
	if e.Type != ExpenseIncome && e.Type != ExpenseExpense {
		return fmt.Errorf("%w: expense %s: unknown type %q", ErrInvalid, e.ID, e.Type)
	}
	if err := validDate(e.Date); err != nil {
		return fmt.Errorf("%w: expense %s: %v", ErrInvalid, e.ID, err)
	}
	return nil
}

type SleepInfo struct {
	ID         string     `json:"id"`
	UserID     string     `json:"userId"`
	Date       string     `json:"date"`
	SleepTime  string     `json:"sleepTime,omitempty"`
	WakeTime   string     `json:"wakeTime,omitempty"`
	HoursSlept float64    `json:"hoursSlept"`
	Quality    int        `json:"quality"`
	Notes      string     `json:"notes,omitempty"`
	DeletedAt  *time.Time `json:"deletedAt,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

func (s SleepInfo) Validate() error {
	if err := requireIDs("sleep", s.ID, s.UserID); err != nil {
		return err
	}
	if err := validDate(s.Date); err != nil {
		return fmt.Errorf("%w: sleep %s: %v", ErrInvalid, s.ID, err)
	}
	if s.Quality < 0 || s.Quality > 10 {
		return fmt.Errorf("%w: sleep %s: quality %d out of range", ErrInvalid, s.ID, s.Quality)
	}
	for _, hm := range []string{s.SleepTime, s.WakeTime} {
		if hm == "" {
			continue
		}
		if _, err := time.Parse("15:04", hm); err != nil {
			return fmt.Errorf("%w: sleep %s: bad clock time %q", ErrInvalid, s.ID, hm)
		}
	}
	return nil
}

type MoodInfo struct {
	ID           string     `json:"id"`
	UserID       string     `json:"userId"`
	Date         string     `json:"date"`
	Rating       int        `json:"rating"`
	DayScore     int        `json:"dayScore,omitempty"`
	Notes        string     `json:"notes,omitempty"`
	WaterIntake  int        `json:"waterIntake,omitempty"`
	StudyMinutes int        `json:"studyMinutes,omitempty"`
	DeletedAt    *time.Time `json:"deletedAt,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

func (m MoodInfo) Validate() error {
	if err := requireIDs("mood", m.ID, m.UserID); err != nil {
		return err
	}
	if err := validDate(m.Date); err != nil {
		return fmt.Errorf("%w: mood %s: %v", ErrInvalid, m.ID, err)
	}
	if m.Rating < 0 || m.Rating > 10 {
		return fmt.Errorf("%w: mood %s: rating %d out of range", ErrInvalid, m.ID, m.Rating)
	}
	return nil
}

// DailyJournal references the day's records. Tasks and Expenses are
// string-encoded JSON arrays of ids, see DecodeRefs.
type DailyJournal struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Date      string    `json:"date"`
	Tasks     string    `json:"tasks"`
	Expenses  string    `json:"expenses"`
	SleepID   string    `json:"sleepId,omitempty"`
	MoodID    string    `json:"moodId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (j DailyJournal) Validate() error {
	if err := requireIDs("journal", j.ID, j.UserID); err != nil {
		return err
	}
	if err := validDate(j.Date); err != nil {
		return fmt.Errorf("%w: journal %s: %v", ErrInvalid, j.ID, err)
	}
	if _, err := DecodeRefs(j.Tasks); err != nil {
		return fmt.Errorf("%w: journal %s: tasks: %v", ErrInvalid, j.ID, err)
	}
	if _, err := DecodeRefs(j.Expenses); err != nil {
		return fmt.Errorf("%w: journal %s: expenses: %v", ErrInvalid, j.ID, err)
	}
	return nil
}

type CalendarNote struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Date      string    `json:"date"`
	Note      string    `json:"note"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (n CalendarNote) Validate() error {
	if err := requireIDs("calendar note", n.ID, n.UserID); err != nil {
		return err
	}
	if err := validDate(n.Date); err != nil {
		return fmt.Errorf("%w: calendar note %s: %v", ErrInvalid, n.ID, err)
	}
	return nil
}

// UserProfile is keyed by the user id itself.
type UserProfile struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	JobTitle  string    `json:"jobTitle,omitempty"`
	MBTI      string    `json:"mbti,omitempty"`
	Bio       string    `json:"bio,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (p UserProfile) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("%w: profile: missing id", ErrInvalid)
	}
	return nil
}

type AISession struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Title     string    `json:"title"`
	Provider  string    `json:"provider,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (s AISession) Validate() error {
	return requireIDs("ai session", s.ID, s.UserID)
}

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type AIMessage struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	SessionID string    `json:"sessionId"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (m AIMessage) Validate() error {
	if err := requireIDs("ai message", m.ID, m.UserID); err != nil {
		return err
	}
	if m.SessionID == "" {
		return fmt.Errorf("%w: ai message %s: missing sessionId", ErrInvalid, m.ID)
	}
	switch m.Role {
	case RoleSystem, RoleUser, RoleAssistant:
	default:
		return fmt.Errorf("%w: ai message %s: unknown role %q", ErrInvalid, m.ID, m.Role)
	}
	return nil
}

func requireIDs(kind, id, userID string) error {
	if id == "" {
		return fmt.Errorf("%w: %s: missing id", ErrInvalid, kind)
	}
	if userID == "" {
		return fmt.Errorf("%w: %s %s: missing userId", ErrInvalid, kind, id)
	}
	return nil
}
