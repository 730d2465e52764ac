package graph

import (
	"context"
	"iter"

	"github.com/Sternrassler/o365-graph-client/pkg/pagination"
)

// Task is a planner task.
type Task struct {
	ID              string `json:"id"`
	PlanID          string `json:"planId"`
	BucketID        string `json:"bucketId"`
	Title           string `json:"title"`
	PercentComplete int    `json:"percentComplete"`
	DueDateTime     string `json:"dueDateTime"`
	CreatedDateTime string `json:"createdDateTime"`
}

// Planner reads planner plans.
type Planner struct {
	session Session
}

// NewPlanner returns a planner reader.
func NewPlanner(session Session) *Planner {
	return &Planner{session: session}
}

// Tasks iterates over the tasks of a plan.
func (p *Planner) Tasks(planID string) *pagination.Cursor {
	return p.session.GetNextItem(p.session.URL("planner", "plans", planID, "tasks"), nil)
}

// ReadTasks yields the tasks of a plan decoded.
func (p *Planner) ReadTasks(ctx context.Context, planID string) iter.Seq2[Task, error] {
	return Items[Task](ctx, p.Tasks(planID))
}
