package repository

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/basket/bujo/internal/model"
)

// TaskDetail is the per-task row of a TaskAnalytics report.
type TaskDetail struct {
	ID            string           `json:"id"`
	Date          string           `json:"date"`
	Status        model.TaskStatus `json:"status"`
	SpentTime     int              `json:"spentTime"`
	EstimatedTime *int             `json:"estimatedTime"`
	Useful        *bool            `json:"useful"`
}

// TaskAnalytics summarizes a user's tasks dated within one period. Time
// values are minutes.
type TaskAnalytics struct {
	PeriodType          model.GoalType `json:"periodType"`
	Start               string         `json:"start"`
	End                 string         `json:"end"`
	TotalTasksCreated   int            `json:"totalTasksCreated"`
	TotalTasksCompleted int            `json:"totalTasksCompleted"`
	TotalTimeSpent      int            `json:"totalTimeSpent"`
	ActiveDays          int            `json:"activeDays"`
	CompletedByDay      map[string]int `json:"completedTasksByDay"`
	TimeSpentByDay      map[string]int `json:"timeSpentByDay"`
	Tasks               []TaskDetail   `json:"tasks"`
}

// Analytics reports on the tasks dated inside the weekly or monthly period.
// A day is active when any of its tasks has spent time.
func (t *Tasks) Analytics(ctx context.Context, userID string, periodType model.GoalType, year, period int) (TaskAnalytics, error) {
	start, end, err := model.PeriodRange(periodType, year, period)
	if err != nil {
		return TaskAnalytics{}, err
	}
	all, err := t.GetAll(ctx, userID)
	if err != nil {
		return TaskAnalytics{}, fmt.Errorf("task analytics %s %d/%d: %w", periodType, year, period, err)
	}

	rep := TaskAnalytics{
		PeriodType:     periodType,
		Start:          start,
		End:            end,
		CompletedByDay: map[string]int{},
		TimeSpentByDay: map[string]int{},
		Tasks:          []TaskDetail{},
	}
	for _, task := range all {
		if task.Date < start || task.Date > end {
			continue
		}
		rep.TotalTasksCreated++
		if task.Status == model.TaskDone {
			rep.TotalTasksCompleted++
			rep.CompletedByDay[task.Date]++
		}
		if task.SpentTime > 0 {
			rep.TotalTimeSpent += task.SpentTime
			rep.TimeSpentByDay[task.Date] += task.SpentTime
		}
		rep.Tasks = append(rep.Tasks, TaskDetail{
			ID:            task.ID,
			Date:          task.Date,
			Status:        task.Status,
			SpentTime:     task.SpentTime,
			EstimatedTime: task.EstimatedTime,
			Useful:        task.Useful,
		})
	}
	rep.ActiveDays = len(rep.TimeSpentByDay)
	slices.SortStableFunc(rep.Tasks, func(a, b TaskDetail) int { return strings.Compare(a.Date, b.Date) })
	return rep, nil
}
