package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/careertrack/backend/internal/tracker"
	"github.com/gin-gonic/gin"
)

type internshipPayload struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Company  string `json:"company"`
	Location string `json:"location"`
	ApplyURL string `json:"apply_url"`
}

type trackRequestPayload struct {
	Internship internshipPayload `json:"internship"`
	Status     string            `json:"status"`
}

type statusRequestPayload struct {
	Status string `json:"status"`
	Note   string `json:"note"`
}

type notesRequestPayload struct {
	Notes string `json:"notes"`
}

type deadlineRequestPayload struct {
	Deadline string `json:"deadline"`
}

type documentRequestPayload struct {
	Name string `json:"name"`
	URL  string `json:"url"`
	Kind string `json:"kind"`
}

type timelineEntryPayload struct {
	Status string    `json:"status"`
	Date   time.Time `json:"date"`
	Note   string    `json:"note"`
}

type documentPayload struct {
	Name    string    `json:"name"`
	URL     string    `json:"url"`
	Kind    string    `json:"kind"`
	AddedAt time.Time `json:"added_at"`
}

type applicationPayload struct {
	ID           string                 `json:"id"`
	InternshipID string                 `json:"internship_id"`
	Title        string                 `json:"title"`
	Company      string                 `json:"company"`
	Location     string                 `json:"location"`
	ApplyURL     string                 `json:"apply_url"`
	Status       string                 `json:"status"`
	Timeline     []timelineEntryPayload `json:"timeline"`
	Notes        string                 `json:"notes"`
	Deadline     string                 `json:"deadline"`
	Documents    []documentPayload      `json:"documents"`
	CreatedAt    time.Time              `json:"created_at"`
	UpdatedAt    time.Time              `json:"updated_at"`
	Version      int64                  `json:"version"`
}

type stageCountsPayload struct {
	Saved     int `json:"saved"`
	Applied   int `json:"applied"`
	Interview int `json:"interview"`
	Offer     int `json:"offer"`
	Joined    int `json:"joined"`
	Rejected  int `json:"rejected"`
	Total     int `json:"total"`
}

type listResponsePayload struct {
	Applications []applicationPayload `json:"applications"`
	Counts       stageCountsPayload   `json:"counts"`
}

// profilePayload omits xp and level when experience is kept by an external service.
type profilePayload struct {
	UserID       string `json:"user_id"`
	Experience   *int64 `json:"xp,omitempty"`
	Level        *int64 `json:"level,omitempty"`
	Applications int64  `json:"applications"`
}

func (h *httpHandler) handleList(c *gin.Context) {
	applications, err := h.tracker.List(c.Request.Context(), tracker.UserID(c.GetString(userIDContextKey)))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, listResponsePayload{
		Applications: toApplicationPayloads(applications),
		Counts:       toStageCountsPayload(tracker.CountStages(applications)),
	})
}

func (h *httpHandler) handleTrack(c *gin.Context) {
	var request trackRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errorReasonInvalid})
		return
	}
	internship, err := tracker.NewInternshipSnapshot(tracker.InternshipSnapshotConfig{
		ID:       request.Internship.ID,
		Title:    request.Internship.Title,
		Company:  request.Internship.Company,
		Location: request.Internship.Location,
		ApplyURL: request.Internship.ApplyURL,
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errorReasonInvalid})
		return
	}
	initialStatus := tracker.StatusSaved
	if request.Status != "" {
		initialStatus, err = tracker.ParseStatus(request.Status)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": errorReasonInvalid})
			return
		}
	}
	created, err := h.tracker.Track(c.Request.Context(), tracker.UserID(c.GetString(userIDContextKey)), internship, initialStatus)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toApplicationPayload(created))
}

func (h *httpHandler) handleGet(c *gin.Context) {
	applicationID, ok := bindApplicationID(c)
	if !ok {
		return
	}
	application, err := h.tracker.Get(c.Request.Context(), tracker.UserID(c.GetString(userIDContextKey)), applicationID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toApplicationPayload(application))
}

func (h *httpHandler) handleRemove(c *gin.Context) {
	applicationID, ok := bindApplicationID(c)
	if !ok {
		return
	}
	if err := h.tracker.Remove(c.Request.Context(), tracker.UserID(c.GetString(userIDContextKey)), applicationID); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleChangeStatus(c *gin.Context) {
	applicationID, ok := bindApplicationID(c)
	if !ok {
		return
	}
	var request statusRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errorReasonInvalid})
		return
	}
	status, err := tracker.ParseStatus(request.Status)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errorReasonInvalid})
		return
	}
	updated, err := h.tracker.ChangeStatus(c.Request.Context(), tracker.UserID(c.GetString(userIDContextKey)), applicationID, status, request.Note)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toApplicationPayload(updated))
}

func (h *httpHandler) handleUpdateNotes(c *gin.Context) {
	applicationID, ok := bindApplicationID(c)
	if !ok {
		return
	}
	var request notesRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errorReasonInvalid})
		return
	}
	updated, err := h.tracker.UpdateNotes(c.Request.Context(), tracker.UserID(c.GetString(userIDContextKey)), applicationID, request.Notes)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toApplicationPayload(updated))
}

func (h *httpHandler) handleUpdateDeadline(c *gin.Context) {
	applicationID, ok := bindApplicationID(c)
	if !ok {
		return
	}
	var request deadlineRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errorReasonInvalid})
		return
	}
	updated, err := h.tracker.UpdateDeadline(c.Request.Context(), tracker.UserID(c.GetString(userIDContextKey)), applicationID, request.Deadline)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toApplicationPayload(updated))
}

func (h *httpHandler) handleAddDocument(c *gin.Context) {
	applicationID, ok := bindApplicationID(c)
	if !ok {
		return
	}
	var request documentRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errorReasonInvalid})
		return
	}
	document, err := tracker.NewDocument(tracker.DocumentConfig{Name: request.Name, URL: request.URL, Kind: request.Kind})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errorReasonInvalid})
		return
	}
	updated, err := h.tracker.AddDocument(c.Request.Context(), tracker.UserID(c.GetString(userIDContextKey)), applicationID, document)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toApplicationPayload(updated))
}

func (h *httpHandler) handleIsTracked(c *gin.Context) {
	internshipID, err := tracker.NewInternshipID(c.Param("internshipId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errorReasonInvalid})
		return
	}
	tracked, err := h.tracker.IsTracked(c.Request.Context(), tracker.UserID(c.GetString(userIDContextKey)), internshipID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tracked": tracked})
}

func (h *httpHandler) handleStats(c *gin.Context) {
	counts, err := h.tracker.StageCounts(c.Request.Context(), tracker.UserID(c.GetString(userIDContextKey)))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toStageCountsPayload(counts))
}

func bindApplicationID(c *gin.Context) (tracker.ApplicationID, bool) {
	applicationID, err := tracker.NewApplicationID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errorReasonInvalid})
		return "", false
	}
	return applicationID, true
}

// respondError maps tracker sentinels onto HTTP statuses. The service has
// already logged the failure.
func (h *httpHandler) respondError(c *gin.Context, err error) {
	status := http.StatusServiceUnavailable
	reason := "store_unavailable"
	switch {
	case errors.Is(err, tracker.ErrUnauthenticated):
		status, reason = http.StatusUnauthorized, errorReasonUnauthorized
	case errors.Is(err, tracker.ErrRecordNotFound):
		status, reason = http.StatusNotFound, "record_not_found"
	case errors.Is(err, tracker.ErrDuplicateTracking):
		status, reason = http.StatusConflict, "duplicate_tracking"
	case errors.Is(err, tracker.ErrIllegalTransition):
		status, reason = http.StatusConflict, "illegal_transition"
	case errors.Is(err, tracker.ErrConcurrentModification):
		status, reason = http.StatusConflict, "concurrent_modification"
	case errors.Is(err, tracker.ErrInvalidStatus),
		errors.Is(err, tracker.ErrInvalidInternship),
		errors.Is(err, tracker.ErrInvalidDocument),
		errors.Is(err, tracker.ErrInvalidField),
		errors.Is(err, tracker.ErrInvalidApplicationID),
		errors.Is(err, tracker.ErrInvalidInternshipID):
		status, reason = http.StatusBadRequest, errorReasonInvalid
	}
	body := gin.H{"error": reason}
	var serviceErr *tracker.ServiceError
	if errors.As(err, &serviceErr) {
		body["code"] = serviceErr.Code()
	}
	c.JSON(status, body)
}

func toApplicationPayloads(applications []tracker.TrackedApplication) []applicationPayload {
	payloads := make([]applicationPayload, 0, len(applications))
	for _, application := range applications {
		payloads = append(payloads, toApplicationPayload(application))
	}
	return payloads
}

func toApplicationPayload(application tracker.TrackedApplication) applicationPayload {
	timeline := make([]timelineEntryPayload, 0, len(application.Timeline))
	for _, entry := range application.Timeline {
		timeline = append(timeline, timelineEntryPayload{
			Status: entry.Status.String(),
			Date:   entry.Date,
			Note:   entry.Note,
		})
	}
	documents := make([]documentPayload, 0, len(application.Documents))
	for _, document := range application.Documents {
		documents = append(documents, documentPayload{
			Name:    document.Name,
			URL:     document.URL,
			Kind:    document.Kind,
			AddedAt: document.AddedAt,
		})
	}
	return applicationPayload{
		ID:           application.ID.String(),
		InternshipID: application.InternshipID.String(),
		Title:        application.Title,
		Company:      application.Company,
		Location:     application.Location,
		ApplyURL:     application.ApplyURL,
		Status:       application.Status.String(),
		Timeline:     timeline,
		Notes:        application.Notes,
		Deadline:     application.Deadline,
		Documents:    documents,
		CreatedAt:    application.CreatedAt,
		UpdatedAt:    application.UpdatedAt,
		Version:      application.Version,
	}
}

func toStageCountsPayload(counts tracker.StageCounts) stageCountsPayload {
	return stageCountsPayload{
		Saved:     counts.Saved,
		Applied:   counts.Applied,
		Interview: counts.Interview,
		Offer:     counts.Offer,
		Joined:    counts.Joined,
		Rejected:  counts.Rejected,
		Total:     counts.Total,
	}
}
