package web

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"lifecal/internal/model"
	"lifecal/internal/task"
)

// taskBody carries the editable task fields. Absent fields keep their
// current value; an empty string clears an optional field, including
// due_date.
type taskBody struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	OperationID *string `json:"operation_id"`
	Status      *string `json:"status"`
	Priority    *string `json:"priority"`
	DueDate     *string `json:"due_date"`
	Assignee    *string `json:"assignee"`
}

func (s *Server) applyTask(b taskBody, t model.Task) (model.Task, error) {
	if b.Title != nil {
		t.Title = *b.Title
	}
	if b.Status != nil {
		t.Status = parseStatusLoose(*b.Status)
	}
	if b.Priority != nil {
		t.Priority = parsePriorityLoose(*b.Priority)
	}
	if b.DueDate != nil {
		if strings.TrimSpace(*b.DueDate) == "" {
			t.DueDate = nil
		} else {
			due, err := parseDay(*b.DueDate, s.app.Location())
			if err != nil {
				return t, &model.ValidationError{Field: "due_date", Reason: err.Error()}
			}
			t.DueDate = &due
		}
	}
	setOptional(&t.Description, b.Description)
	setOptional(&t.OperationID, b.OperationID)
	setOptional(&t.Assignee, b.Assignee)
	return t, nil
}

// parseStatusLoose normalizes known spellings and passes anything else
// through for validation to reject.
func parseStatusLoose(v string) model.TaskStatus {
	if st, ok := model.ParseStatus(v); ok {
		return st
	}
	return model.TaskStatus(v)
}

func parsePriorityLoose(v string) model.Priority {
	if p, ok := model.ParsePriority(v); ok {
		return p
	}
	return model.Priority(v)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	tasks, err := s.app.QueryTasks(r.Context(), f)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tasks":         tasks,
		"filter_active": f.IsActive(),
	})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	t, err := s.app.Task(r.Context(), r.PathValue("id"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleTaskEvent(w http.ResponseWriter, r *http.Request) {
	ev, err := s.app.LinkedEvent(r.Context(), r.PathValue("id"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var body taskBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	draft, err := s.applyTask(body, model.Task{})
	if err != nil {
		writeAppError(w, err)
		return
	}
	t, err := s.app.CreateTask(r.Context(), draft)
	s.writeTaskResult(w, http.StatusCreated, t, err)
}

func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	var body taskBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	current, err := s.app.Task(r.Context(), r.PathValue("id"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	edited, err := s.applyTask(body, current)
	if err != nil {
		writeAppError(w, err)
		return
	}
	t, err := s.app.UpdateTask(r.Context(), edited)
	s.writeTaskResult(w, http.StatusOK, t, err)
}

func (s *Server) handleSetStatus(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status string `json:"status"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	t, err := s.app.SetTaskStatus(r.Context(), r.PathValue("id"), parseStatusLoose(body.Status))
	s.writeTaskResult(w, http.StatusOK, t, err)
}

func (s *Server) handleSetPriority(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Priority string `json:"priority"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	t, err := s.app.SetTaskPriority(r.Context(), r.PathValue("id"), parsePriorityLoose(body.Priority))
	s.writeTaskResult(w, http.StatusOK, t, err)
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	t, err := s.app.DeleteTask(r.Context(), r.PathValue("id"), confirmed(r))
	if err != nil && t.ID == "" {
		writeAppError(w, err)
		return
	}
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"deleted": t, "warning": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": t})
}

// writeTaskResult reports a saved task whose linked event failed to sync
// as a success with a warning.
func (s *Server) writeTaskResult(w http.ResponseWriter, status int, t model.Task, err error) {
	switch {
	case err != nil && t.ID == "":
		writeAppError(w, err)
	case err != nil:
		writeJSON(w, status, map[string]any{"task": t, "warning": err.Error()})
	default:
		writeJSON(w, status, map[string]any{"task": t})
	}
}

// parseFilter reads a task filter from query parameters. List parameters
// may repeat or hold comma-separated values.
func parseFilter(q url.Values) (task.Filter, error) {
	f := task.DefaultFilter()

	for _, v := range listParam(q, "status") {
		st, ok := model.ParseStatus(v)
		if !ok {
			return f, fmt.Errorf("unknown status %q", v)
		}
		f.Statuses = append(f.Statuses, st)
	}
	for _, v := range listParam(q, "priority") {
		p, ok := model.ParsePriority(v)
		if !ok {
			return f, fmt.Errorf("unknown priority %q", v)
		}
		f.Priorities = append(f.Priorities, p)
	}
	f.Assignees = listParam(q, "assignee")
	f.OperationIDs = listParam(q, "operation")
	f.SearchQuery = q.Get("q")

	if v := q.Get("due"); v != "" {
		f.DueDate = task.DueDateFilter(enumParam(v))
		if !f.DueDate.Valid() {
			return f, fmt.Errorf("unknown due date filter %q", v)
		}
	}
	if v := q.Get("sort"); v != "" {
		f.SortBy = task.SortBy(enumParam(v))
		if !f.SortBy.Valid() {
			return f, fmt.Errorf("unknown sort key %q", v)
		}
	}
	switch strings.ToLower(q.Get("order")) {
	case "":
	case "asc":
		f.SortOrder = task.Asc
	case "desc":
		f.SortOrder = task.Desc
	default:
		return f, fmt.Errorf("unknown sort order %q", q.Get("order"))
	}
	if v := q.Get("completed"); v != "" {
		show, err := strconv.ParseBool(v)
		if err != nil {
			return f, fmt.Errorf("invalid completed flag %q", v)
		}
		f.ShowCompleted = show
	}
	return f, nil
}

func listParam(q url.Values, key string) []string {
	var out []string
	for _, raw := range q[key] {
		for _, v := range strings.Split(raw, ",") {
			if v = strings.TrimSpace(v); v != "" {
				out = append(out, v)
			}
		}
	}
	return out
}

func enumParam(v string) string {
	v = strings.ToUpper(strings.TrimSpace(v))
	return strings.NewReplacer("-", "_", " ", "_").Replace(v)
}
