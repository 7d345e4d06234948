package web

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/yuin/goldmark"

	"github.com/arctek/taskflow"
	"github.com/arctek/taskflow/workflow"
)

// actorFromRequest reads the optional actor fields of a request body.
// Absent or unknown actors default to the anonymous user.
func actorFrom(kind, agentID string) workflow.Actor {
	switch workflow.ActorKind(kind) {
	case workflow.ActorSystem:
		return workflow.SystemActor()
	case workflow.ActorAgent:
		return workflow.AgentActor(agentID)
	default:
		return workflow.UserActor()
	}
}

// apiGetBoard returns the full board state as JSON.
func (s *Server) apiGetBoard(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.store.GetAllTasks()
	if err != nil {
		s.jsonError(w, "Failed to get tasks", http.StatusInternalServerError)
		return
	}
	epics, err := s.store.GetAllEpics()
	if err != nil {
		s.jsonError(w, "Failed to get epics", http.StatusInternalServerError)
		return
	}

	columns := make(map[workflow.Status][]workflow.Task)
	for _, task := range tasks {
		columns[task.Status] = append(columns[task.Status], task)
	}

	s.jsonResponse(w, map[string]interface{}{
		"columns":   columns,
		"epics":     epics,
		"updatedAt": time.Now(),
	})
}

// apiGetStats returns task counts per status.
func (s *Server) apiGetStats(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.store.GetAllTasks()
	if err != nil {
		s.jsonError(w, "Failed to get tasks", http.StatusInternalServerError)
		return
	}
	stats := make(map[workflow.Status]int)
	for _, task := range tasks {
		stats[task.Status]++
	}
	s.jsonResponse(w, stats)
}

// apiGetTasks returns tasks, optionally filtered by status.
func (s *Server) apiGetTasks(w http.ResponseWriter, r *http.Request) {
	var tasks []workflow.Task
	var err error
	if filter := r.URL.Query().Get("status"); filter != "" {
		tasks, err = s.store.GetTasksByStatus(workflow.Status(filter))
	} else {
		tasks, err = s.store.GetAllTasks()
	}
	if err != nil {
		s.jsonError(w, "Failed to get tasks", http.StatusInternalServerError)
		return
	}
	s.jsonResponse(w, tasks)
}

// apiGetTask returns a single task by ID.
func (s *Server) apiGetTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.store.GetTask(r.PathValue("id"))
	if err != nil {
		s.domainError(w, err)
		return
	}
	s.jsonResponse(w, task)
}

// apiCreateTask creates a new task.
func (s *Server) apiCreateTask(w http.ResponseWriter, r *http.Request) {
	var req struct {
		taskflow.CreateTaskRequest
		ActorKind  string `json:"actorKind"`
		ActorAgent string `json:"actorAgent"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.jsonError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Actor.IsZero() {
		req.Actor = actorFrom(req.ActorKind, req.ActorAgent)
	}

	task, err := s.engine.CreateTask(req.CreateTaskRequest)
	if err != nil {
		s.domainError(w, err)
		return
	}
	s.jsonCreated(w, task)
}

// apiDeleteTask deletes a task with cascade cleanup.
func (s *Server) apiDeleteTask(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ActorKind  string `json:"actorKind"`
		ActorAgent string `json:"actorAgent"`
	}
	// Body is optional for deletes
	json.NewDecoder(r.Body).Decode(&req)

	if err := s.engine.DeleteTask(r.PathValue("id"), actorFrom(req.ActorKind, req.ActorAgent)); err != nil {
		s.domainError(w, err)
		return
	}
	s.jsonResponse(w, map[string]string{"status": "deleted"})
}

// apiUpdateStatus applies a workflow transition.
func (s *Server) apiUpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status     string `json:"status"`
		ActorKind  string `json:"actorKind"`
		ActorAgent string `json:"actorAgent"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.jsonError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	id := r.PathValue("id")
	err := s.engine.UpdateStatus(id, workflow.Status(req.Status), actorFrom(req.ActorKind, req.ActorAgent))
	if err != nil {
		s.domainError(w, err)
		return
	}
	task, err := s.store.GetTask(id)
	if err != nil {
		s.domainError(w, err)
		return
	}
	s.jsonResponse(w, task)
}

// apiRenderDescription returns the task description rendered as HTML.
func (s *Server) apiRenderDescription(w http.ResponseWriter, r *http.Request) {
	task, err := s.store.GetTask(r.PathValue("id"))
	if err != nil {
		s.domainError(w, err)
		return
	}

	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(task.Description), &buf); err != nil {
		s.jsonError(w, "Failed to render description", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(buf.Bytes())
}

// apiAddDependency records a blocking edge.
func (s *Server) apiAddDependency(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BlockerID  string `json:"blockerId"`
		ActorKind  string `json:"actorKind"`
		ActorAgent string `json:"actorAgent"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.jsonError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	id := r.PathValue("id")
	if err := s.engine.AddDependency(id, req.BlockerID, actorFrom(req.ActorKind, req.ActorAgent)); err != nil {
		s.domainError(w, err)
		return
	}
	task, err := s.store.GetTask(id)
	if err != nil {
		s.domainError(w, err)
		return
	}
	s.jsonResponse(w, task)
}

// apiRemoveDependency removes a blocking edge.
func (s *Server) apiRemoveDependency(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	blockerID := r.PathValue("blockerID")

	if err := s.engine.RemoveDependency(id, blockerID, workflow.UserActor()); err != nil {
		s.domainError(w, err)
		return
	}
	task, err := s.store.GetTask(id)
	if err != nil {
		s.domainError(w, err)
		return
	}
	s.jsonResponse(w, task)
}

// apiGetDependencies returns the transitive blocker closure.
func (s *Server) apiGetDependencies(w http.ResponseWriter, r *http.Request) {
	ids, err := s.engine.TransitiveDependencies(r.PathValue("id"))
	if err != nil {
		s.domainError(w, err)
		return
	}
	s.jsonResponse(w, map[string]interface{}{"taskIds": ids})
}

// apiGetDependents returns the transitive dependent closure.
func (s *Server) apiGetDependents(w http.ResponseWriter, r *http.Request) {
	ids, err := s.engine.TransitiveDependents(r.PathValue("id"))
	if err != nil {
		s.domainError(w, err)
		return
	}
	s.jsonResponse(w, map[string]interface{}{"taskIds": ids})
}

// apiGetCriticalPath returns the longest blocker chain for a task.
func (s *Server) apiGetCriticalPath(w http.ResponseWriter, r *http.Request) {
	path, err := s.engine.CriticalPath(r.PathValue("id"))
	if err != nil {
		s.domainError(w, err)
		return
	}
	s.jsonResponse(w, map[string]interface{}{"path": path, "length": len(path)})
}

// apiAssign replaces a task's assignee set.
func (s *Server) apiAssign(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AssigneeIDs []string `json:"assigneeIds"`
		ActorKind   string   `json:"actorKind"`
		ActorAgent  string   `json:"actorAgent"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.jsonError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	id := r.PathValue("id")
	if err := s.engine.Assign(id, req.AssigneeIDs, actorFrom(req.ActorKind, req.ActorAgent)); err != nil {
		s.domainError(w, err)
		return
	}
	task, err := s.store.GetTask(id)
	if err != nil {
		s.domainError(w, err)
		return
	}
	s.jsonResponse(w, task)
}

// apiSmartAssign picks the best-matching agent for an unassigned task.
func (s *Server) apiSmartAssign(w http.ResponseWriter, r *http.Request) {
	agent, err := s.engine.SmartAssign(r.PathValue("id"))
	if err != nil {
		s.domainError(w, err)
		return
	}
	s.jsonResponse(w, agent)
}

// apiAutoAssignBacklog auto-assigns unassigned backlog tasks.
func (s *Server) apiAutoAssignBacklog(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Limit int `json:"limit"`
	}
	json.NewDecoder(r.Body).Decode(&req)

	results, err := s.engine.AutoAssignBacklog(req.Limit)
	if err != nil {
		s.domainError(w, err)
		return
	}
	s.jsonResponse(w, map[string]interface{}{"assigned": results, "count": len(results)})
}

// apiPostComment posts a comment with mention/broadcast fan-out.
func (s *Server) apiPostComment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Content    string   `json:"content"`
		Mentions   []string `json:"mentions"`
		Broadcast  bool     `json:"broadcast"`
		ActorKind  string   `json:"actorKind"`
		ActorAgent string   `json:"actorAgent"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.jsonError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	comment, err := s.engine.PostComment(r.PathValue("id"),
		actorFrom(req.ActorKind, req.ActorAgent), req.Content, req.Mentions, req.Broadcast)
	if err != nil {
		s.domainError(w, err)
		return
	}
	s.jsonCreated(w, comment)
}

// apiGetComments returns a task's thread.
func (s *Server) apiGetComments(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.store.GetTask(id); err != nil {
		s.domainError(w, err)
		return
	}
	comments, err := s.store.GetCommentsForTask(id)
	if err != nil {
		s.jsonError(w, "Failed to get comments", http.StatusInternalServerError)
		return
	}
	s.jsonResponse(w, comments)
}

// apiGetTaskActivity returns a task's audit trail.
func (s *Server) apiGetTaskActivity(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.store.GetTask(id); err != nil {
		s.domainError(w, err)
		return
	}
	activities, err := s.store.GetActivitiesForTask(id)
	if err != nil {
		s.jsonError(w, "Failed to get activity", http.StatusInternalServerError)
		return
	}
	s.jsonResponse(w, activities)
}

// apiGetRecentActivity returns the newest audit entries across all tasks.
func (s *Server) apiGetRecentActivity(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	activities, err := s.store.GetRecentActivities(limit)
	if err != nil {
		s.jsonError(w, "Failed to get activity", http.StatusInternalServerError)
		return
	}
	s.jsonResponse(w, activities)
}

// apiGetEpics returns all epics.
func (s *Server) apiGetEpics(w http.ResponseWriter, r *http.Request) {
	epics, err := s.store.GetAllEpics()
	if err != nil {
		s.jsonError(w, "Failed to get epics", http.StatusInternalServerError)
		return
	}
	s.jsonResponse(w, epics)
}

// apiGetEpic returns one epic with its member tasks.
func (s *Server) apiGetEpic(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	epic, err := s.store.GetEpic(id)
	if err != nil {
		s.domainError(w, err)
		return
	}
	tasks, err := s.store.GetTasksByEpic(id)
	if err != nil {
		s.jsonError(w, "Failed to get epic tasks", http.StatusInternalServerError)
		return
	}
	s.jsonResponse(w, map[string]interface{}{"epic": epic, "tasks": tasks})
}

// apiCreateEpic creates an epic.
func (s *Server) apiCreateEpic(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BusinessID string `json:"businessId"`
		Title      string `json:"title"`
		ActorKind  string `json:"actorKind"`
		ActorAgent string `json:"actorAgent"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.jsonError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	epic, err := s.engine.CreateEpic(req.BusinessID, req.Title, actorFrom(req.ActorKind, req.ActorAgent))
	if err != nil {
		s.domainError(w, err)
		return
	}
	s.jsonCreated(w, epic)
}

// apiDeleteEpic deletes an empty epic.
func (s *Server) apiDeleteEpic(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ActorKind  string `json:"actorKind"`
		ActorAgent string `json:"actorAgent"`
	}
	// Body is optional for deletes
	json.NewDecoder(r.Body).Decode(&req)

	if err := s.engine.DeleteEpic(r.PathValue("id"), actorFrom(req.ActorKind, req.ActorAgent)); err != nil {
		s.domainError(w, err)
		return
	}
	s.jsonResponse(w, map[string]string{"status": "deleted"})
}

// apiSetTaskEpic moves a task between epics.
func (s *Server) apiSetTaskEpic(w http.ResponseWriter, r *http.Request) {
	var req struct {
		EpicID     string `json:"epicId"`
		ActorKind  string `json:"actorKind"`
		ActorAgent string `json:"actorAgent"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.jsonError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	id := r.PathValue("id")
	if err := s.engine.SetTaskEpic(id, req.EpicID, actorFrom(req.ActorKind, req.ActorAgent)); err != nil {
		s.domainError(w, err)
		return
	}
	task, err := s.store.GetTask(id)
	if err != nil {
		s.domainError(w, err)
		return
	}
	s.jsonResponse(w, task)
}

// apiGetAgents returns the roster.
func (s *Server) apiGetAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := s.store.GetAllAgents()
	if err != nil {
		s.jsonError(w, "Failed to get agents", http.StatusInternalServerError)
		return
	}
	s.jsonResponse(w, agents)
}

// apiCreateAgent adds a roster entry.
func (s *Server) apiCreateAgent(w http.ResponseWriter, r *http.Request) {
	var agent workflow.Agent
	if err := json.NewDecoder(r.Body).Decode(&agent); err != nil {
		s.jsonError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if agent.ID == "" || agent.Name == "" {
		s.jsonError(w, "Agent id and name are required", http.StatusBadRequest)
		return
	}

	if err := s.store.CreateAgent(&agent); err != nil {
		s.jsonError(w, "Failed to create agent", http.StatusInternalServerError)
		return
	}
	s.jsonCreated(w, agent)
}

// apiGetNotifications returns notifications for a recipient.
func (s *Server) apiGetNotifications(w http.ResponseWriter, r *http.Request) {
	recipient := r.URL.Query().Get("recipient")
	if recipient == "" {
		s.jsonError(w, "Missing recipient", http.StatusBadRequest)
		return
	}
	unreadOnly := r.URL.Query().Get("unread") == "true"

	notifications, err := s.store.GetNotifications(recipient, unreadOnly)
	if err != nil {
		s.jsonError(w, "Failed to get notifications", http.StatusInternalServerError)
		return
	}
	s.jsonResponse(w, notifications)
}

// apiMarkNotificationRead marks one notification read.
func (s *Server) apiMarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	if err := s.store.MarkNotificationRead(r.PathValue("id")); err != nil {
		s.domainError(w, err)
		return
	}
	s.jsonResponse(w, map[string]string{"status": "read"})
}

// apiRunMigrations runs all data migration steps to completion.
func (s *Server) apiRunMigrations(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BatchSize int `json:"batchSize"`
	}
	json.NewDecoder(r.Body).Decode(&req)

	if err := s.engine.RunAllMigrations(req.BatchSize); err != nil {
		s.domainError(w, err)
		return
	}
	s.jsonResponse(w, map[string]string{"status": "complete"})
}

// apiGetSweeps returns background sweep statuses.
func (s *Server) apiGetSweeps(w http.ResponseWriter, r *http.Request) {
	if s.sweeps == nil {
		s.jsonResponse(w, []taskflow.SweepStatus{})
		return
	}
	s.jsonResponse(w, s.sweeps.GetStatuses())
}

// domainError maps workflow error kinds to HTTP statuses.
func (s *Server) domainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, workflow.ErrNotFound):
		s.jsonError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, workflow.ErrValidation):
		s.jsonError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, workflow.ErrInvalidTransition):
		s.jsonError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, workflow.ErrCircularDependency):
		s.jsonError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, workflow.ErrUnauthorized):
		s.jsonError(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, workflow.ErrRateLimited):
		s.jsonError(w, err.Error(), http.StatusTooManyRequests)
	default:
		s.logger.Error("Request failed", "error", err)
		s.jsonError(w, "Internal error", http.StatusInternalServerError)
	}
}

// jsonResponse writes a JSON response.
func (s *Server) jsonResponse(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("Failed to encode JSON response", "error", err)
	}
}

// jsonCreated writes a JSON response with a 201 status.
func (s *Server) jsonCreated(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("Failed to encode JSON response", "error", err)
	}
}

// jsonError writes a JSON error response.
func (s *Server) jsonError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
