package scheduler

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const TaskAssignmentNotify = "visits.assignment.notify"

const TaskTechnicianResetDaily = "technicians.reset_daily"

type AssignmentNotifyPayload struct {
	VisitID      string `json:"visitId"`
	TechnicianID string `json:"technicianId"`
}

func NewAssignmentNotifyTask(payload AssignmentNotifyPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAssignmentNotify, data), nil
}

func ParseAssignmentNotifyPayload(task *asynq.Task) (AssignmentNotifyPayload, error) {
	var payload AssignmentNotifyPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return AssignmentNotifyPayload{}, err
	}
	return payload, nil
}

func NewTechnicianResetDailyTask() *asynq.Task {
	return asynq.NewTask(TaskTechnicianResetDaily, nil)
}
