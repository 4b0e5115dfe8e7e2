package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/hassanrakib/zitbo-server/internal/broadcast"
	"github.com/hassanrakib/zitbo-server/internal/domain"
	apperrors "github.com/hassanrakib/zitbo-server/internal/errors"
	"github.com/hassanrakib/zitbo-server/internal/metrics"
	"github.com/hassanrakib/zitbo-server/internal/tracker"
)

const publishTimeout = 5 * time.Second

// eventEnvelope is one client frame: an event name, the client's ack
// correlation id, and the event-specific payload.
type eventEnvelope struct {
	Event string          `json:"event"`
	AckID int64           `json:"ackId"`
	Data  json.RawMessage `json:"data"`
}

type ackEnvelope struct {
	Event string `json:"event"`
	AckID int64  `json:"ackId"`
	OK    bool   `json:"ok"`
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

// --- Event payloads ---

type roomStateUpdatePayload struct {
	ActiveTaskID string `json:"activeTaskId"`
}

type tasksCreatePayload struct {
	Name     string `json:"name"`
	DayIndex int    `json:"dayIndex"`
}

type tasksReadPayload struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

type tasksDeletePayload struct {
	TaskID    string `json:"taskId"`
	WasActive bool   `json:"wasActive"`
	DayIndex  int    `json:"dayIndex"`
}

type taskNameUpdatePayload struct {
	TaskID   string `json:"taskId"`
	NewName  string `json:"newName"`
	DayIndex int    `json:"dayIndex"`
}

type intervalStartPayload struct {
	TaskID   string `json:"taskId"`
	DayIndex int    `json:"dayIndex"`
}

type intervalEndPayload struct {
	TaskID          string     `json:"taskId"`
	IntervalID      string     `json:"intervalId"`
	EndTime         *time.Time `json:"endTime,omitempty"`
	WasDisconnected bool       `json:"wasDisconnected"`
	DayIndex        int        `json:"dayIndex"`
}

type intervalContinuePayload struct {
	StartTime time.Time `json:"startTime"`
}

type intervalDeletePayload struct {
	TaskID      string   `json:"taskId"`
	IntervalIDs []string `json:"intervalIds"`
	DayIndex    int      `json:"dayIndex"`
}

type totalsReadPayload struct {
	From     time.Time `json:"from"`
	To       time.Time `json:"to"`
	Buckets  int       `json:"buckets"`
	Timezone string    `json:"timezone"`
}

type datesReadPayload struct {
	Timezone string `json:"timezone"`
}

// handleEvent processes one client frame to completion: dispatch, ack,
// then broadcast. The ack is sent BEFORE the change notice is
// published, so the acting client always learns its own outcome before
// any sibling device reacts to it. Returns false when the connection
// should be torn down.
func (s *Server) handleEvent(ctx context.Context, client *broadcast.Client, limiter *rate.Limiter, message []byte) bool {
	var envelope eventEnvelope
	if err := json.Unmarshal(message, &envelope); err != nil {
		metrics.EventsTotal.WithLabelValues("unknown", "error").Inc()
		return s.sendAck(client, ackEnvelope{Event: "ack", OK: false, Error: "malformed event frame"})
	}

	if !limiter.Allow() {
		metrics.EventsTotal.WithLabelValues(envelope.Event, "throttled").Inc()
		return s.sendAck(client, ackEnvelope{Event: "ack", AckID: envelope.AckID, OK: false, Error: "too many events"})
	}

	start := time.Now()
	data, notice, err := s.dispatchEvent(ctx, client.Username, envelope)
	metrics.EventDuration.WithLabelValues(envelope.Event).Observe(time.Since(start).Seconds())

	if err != nil {
		structured := apperrors.AsStructuredError(err)
		metrics.EventsTotal.WithLabelValues(envelope.Event, "error").Inc()
		slog.Warn("Event failed",
			"event", envelope.Event,
			"username", client.Username,
			"error_type", structured.Type,
			"error", err,
		)
		return s.sendAck(client, ackEnvelope{Event: "ack", AckID: envelope.AckID, OK: false, Error: structured.Message})
	}

	metrics.EventsTotal.WithLabelValues(envelope.Event, "ok").Inc()

	// Ack first. Only after the caller has its answer does the change
	// notice go out to sibling devices.
	if !s.sendAck(client, ackEnvelope{Event: "ack", AckID: envelope.AckID, OK: true, Data: data}) {
		return false
	}

	if notice != nil {
		notice.SenderConnID = client.ConnID
		pubCtx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		if err := s.notifier.Publish(pubCtx, *notice); err != nil {
			// Fire and forget: siblings converge on the next read.
			slog.Error("Change notice publish failed", "username", client.Username, "error", err)
		}
	}

	return true
}

// sendAck enqueues the ack on the client's writer. A full buffer means
// the client cannot keep up and the connection is dropped.
func (s *Server) sendAck(client *broadcast.Client, ack ackEnvelope) bool {
	payload, err := json.Marshal(ack)
	if err != nil {
		slog.Error("Failed to marshal ack", "error", err)
		return true
	}
	if !client.Send(payload) {
		slog.Warn("Dropping slow client", "username", client.Username, "connection_id", client.ConnID)
		return false
	}
	return true
}

func (s *Server) dispatchEvent(ctx context.Context, username string, envelope eventEnvelope) (any, *domain.ChangeNotice, error) {
	switch envelope.Event {
	case "roomState:update":
		return s.eventRoomStateUpdate(ctx, username, envelope.Data)
	case "roomState:read":
		return s.eventRoomStateRead(ctx, username)
	case "tasks:create":
		return s.eventTasksCreate(ctx, username, envelope.Data)
	case "tasks:read":
		return s.eventTasksRead(ctx, username, envelope.Data)
	case "tasks:delete":
		return s.eventTasksDelete(ctx, username, envelope.Data)
	case "taskName:update":
		return s.eventTaskNameUpdate(ctx, username, envelope.Data)
	case "workedTimeSpan:start":
		return s.eventIntervalStart(ctx, username, envelope.Data)
	case "workedTimeSpan:end":
		return s.eventIntervalEnd(ctx, username, envelope.Data)
	case "workedTimeSpan:continue":
		return s.eventIntervalContinue(envelope.Data)
	case "workedTimeSpan:delete":
		return s.eventIntervalDelete(ctx, username, envelope.Data)
	case "totalCompletedTimes:read":
		return s.eventTotalsRead(ctx, username, envelope.Data)
	case "existingDates:read":
		return s.eventDatesRead(ctx, username, envelope.Data)
	default:
		return nil, nil, apperrors.ValidationError(fmt.Sprintf("unknown event %q", envelope.Event))
	}
}

func (s *Server) eventRoomStateUpdate(ctx context.Context, username string, data json.RawMessage) (any, *domain.ChangeNotice, error) {
	var p roomStateUpdatePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, nil, apperrors.ValidationError("invalid roomState:update payload")
	}

	if err := s.app.UpdateRoomState(ctx, username, p.ActiveTaskID); err != nil {
		return nil, nil, apperrors.UnavailableError("failed to update room state", err)
	}
	return map[string]string{"status": "ok"}, nil, nil
}

func (s *Server) eventRoomStateRead(ctx context.Context, username string) (any, *domain.ChangeNotice, error) {
	state, err := s.app.ReadRoomState(ctx, username)
	if err != nil {
		return nil, nil, apperrors.UnavailableError("failed to read room state", err)
	}
	return state, nil, nil
}

func (s *Server) eventTasksCreate(ctx context.Context, username string, data json.RawMessage) (any, *domain.ChangeNotice, error) {
	var p tasksCreatePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, nil, apperrors.ValidationError("invalid tasks:create payload")
	}
	if p.Name == "" {
		return nil, nil, apperrors.ValidationError("task name is required")
	}

	task, notice, err := s.app.CreateTask(ctx, username, p.Name, p.DayIndex)
	if err != nil {
		return nil, nil, apperrors.UnavailableError("failed to create task", err)
	}
	return task, notice, nil
}

func (s *Server) eventTasksRead(ctx context.Context, username string, data json.RawMessage) (any, *domain.ChangeNotice, error) {
	var p tasksReadPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, nil, apperrors.ValidationError("invalid tasks:read payload")
	}
	if !p.To.After(p.From) {
		return nil, nil, apperrors.ValidationError("date range is empty")
	}

	tasks, err := s.app.TasksInRange(ctx, username, p.From, p.To)
	if err != nil {
		return nil, nil, apperrors.UnavailableError("failed to read tasks", err)
	}
	return tasks, nil, nil
}

func (s *Server) eventTasksDelete(ctx context.Context, username string, data json.RawMessage) (any, *domain.ChangeNotice, error) {
	var p tasksDeletePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, nil, apperrors.ValidationError("invalid tasks:delete payload")
	}
	taskID, err := uuid.Parse(p.TaskID)
	if err != nil {
		return nil, nil, apperrors.ValidationError("invalid task id")
	}

	notice, err := s.app.DeleteTask(ctx, username, taskID, p.WasActive, p.DayIndex)
	if err != nil {
		return nil, nil, mapTaskError(err, "failed to delete task")
	}
	return map[string]string{"status": "ok"}, notice, nil
}

func (s *Server) eventTaskNameUpdate(ctx context.Context, username string, data json.RawMessage) (any, *domain.ChangeNotice, error) {
	var p taskNameUpdatePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, nil, apperrors.ValidationError("invalid taskName:update payload")
	}
	taskID, err := uuid.Parse(p.TaskID)
	if err != nil {
		return nil, nil, apperrors.ValidationError("invalid task id")
	}
	if p.NewName == "" {
		return nil, nil, apperrors.ValidationError("task name is required")
	}

	notice, err := s.app.RenameTask(ctx, username, taskID, p.NewName, p.DayIndex)
	if err != nil {
		return nil, nil, mapTaskError(err, "failed to rename task")
	}
	return map[string]string{"status": "ok"}, notice, nil
}

func (s *Server) eventIntervalStart(ctx context.Context, username string, data json.RawMessage) (any, *domain.ChangeNotice, error) {
	var p intervalStartPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, nil, apperrors.ValidationError("invalid workedTimeSpan:start payload")
	}
	taskID, err := uuid.Parse(p.TaskID)
	if err != nil {
		return nil, nil, apperrors.ValidationError("invalid task id")
	}

	interval, notice, err := s.app.StartInterval(ctx, username, taskID, p.DayIndex)
	if err != nil {
		return nil, nil, mapTaskError(err, "failed to start work interval")
	}
	return interval, notice, nil
}

func (s *Server) eventIntervalEnd(ctx context.Context, username string, data json.RawMessage) (any, *domain.ChangeNotice, error) {
	var p intervalEndPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, nil, apperrors.ValidationError("invalid workedTimeSpan:end payload")
	}
	taskID, err := uuid.Parse(p.TaskID)
	if err != nil {
		return nil, nil, apperrors.ValidationError("invalid task id")
	}
	intervalID, err := uuid.Parse(p.IntervalID)
	if err != nil {
		return nil, nil, apperrors.ValidationError("invalid interval id")
	}

	req := tracker.EndRequest{
		TaskID:          taskID,
		IntervalID:      intervalID,
		EndTime:         p.EndTime,
		WasDisconnected: p.WasDisconnected,
	}
	activeTaskID, notice, err := s.app.EndInterval(ctx, username, req, p.DayIndex)
	if err != nil {
		return nil, nil, apperrors.UnavailableError("failed to end work interval", err)
	}
	return map[string]string{"activeTaskId": activeTaskID}, notice, nil
}

func (s *Server) eventIntervalContinue(data json.RawMessage) (any, *domain.ChangeNotice, error) {
	var p intervalContinuePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, nil, apperrors.ValidationError("invalid workedTimeSpan:continue payload")
	}

	start, now := s.app.ContinuePulse(p.StartTime)
	return map[string]time.Time{"startTime": start, "now": now}, nil, nil
}

func (s *Server) eventIntervalDelete(ctx context.Context, username string, data json.RawMessage) (any, *domain.ChangeNotice, error) {
	var p intervalDeletePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, nil, apperrors.ValidationError("invalid workedTimeSpan:delete payload")
	}
	taskID, err := uuid.Parse(p.TaskID)
	if err != nil {
		return nil, nil, apperrors.ValidationError("invalid task id")
	}
	intervalIDs := make([]uuid.UUID, 0, len(p.IntervalIDs))
	for _, raw := range p.IntervalIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, nil, apperrors.ValidationError("invalid interval id")
		}
		intervalIDs = append(intervalIDs, id)
	}

	notice, err := s.app.DeleteIntervals(ctx, username, taskID, intervalIDs, p.DayIndex)
	if err != nil {
		return nil, nil, apperrors.UnavailableError("failed to delete work intervals", err)
	}
	return map[string]string{"status": "ok"}, notice, nil
}

func (s *Server) eventTotalsRead(ctx context.Context, username string, data json.RawMessage) (any, *domain.ChangeNotice, error) {
	var p totalsReadPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, nil, apperrors.ValidationError("invalid totalCompletedTimes:read payload")
	}

	series, err := s.app.DailyTotals(ctx, username, p.From, p.To, p.Buckets, p.Timezone)
	if err != nil {
		return nil, nil, apperrors.ValidationError(err.Error())
	}
	return series, nil, nil
}

func (s *Server) eventDatesRead(ctx context.Context, username string, data json.RawMessage) (any, *domain.ChangeNotice, error) {
	var p datesReadPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, nil, apperrors.ValidationError("invalid existingDates:read payload")
	}

	dates, err := s.app.ExistingDates(ctx, username, p.Timezone)
	if err != nil {
		return nil, nil, apperrors.ValidationError(err.Error())
	}
	return dates, nil, nil
}

// mapTaskError keeps not-found distinct from transient storage failure
// in the caller's ack.
func mapTaskError(err error, message string) error {
	switch {
	case isNotFound(err):
		return apperrors.NotFoundError("task not found")
	default:
		return apperrors.UnavailableError(message, err)
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, domain.ErrTaskNotFound) || errors.Is(err, domain.ErrIntervalNotFound)
}
