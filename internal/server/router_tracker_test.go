package server

import (
	"net/http"
	"testing"
)

func TestTrackerRoutesRequireSession(t *testing.T) {
	env := newTestEnvironment(t)

	recorder := env.do(t, http.MethodGet, "/tracker", "", nil)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", recorder.Code)
	}
}

func TestTrackAndListApplications(t *testing.T) {
	env := newTestEnvironment(t)

	recorder := env.do(t, http.MethodPost, "/tracker", testUserID, trackPayload("i1"))
	if recorder.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", recorder.Code, recorder.Body.String())
	}
	var created applicationPayload
	decodeBody(t, recorder, &created)
	if created.ID == "" || created.Status != "saved" || len(created.Timeline) != 1 {
		t.Fatalf("unexpected created payload %+v", created)
	}

	recorder = env.do(t, http.MethodGet, "/tracker", testUserID, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	var listed listResponsePayload
	decodeBody(t, recorder, &listed)
	if len(listed.Applications) != 1 || listed.Applications[0].ID != created.ID {
		t.Fatalf("unexpected list %+v", listed.Applications)
	}
	if listed.Counts.Total != 1 || listed.Counts.Saved != 1 {
		t.Fatalf("unexpected counts %+v", listed.Counts)
	}

	recorder = env.do(t, http.MethodGet, "/tracker", "user-2", nil)
	var otherList listResponsePayload
	decodeBody(t, recorder, &otherList)
	if len(otherList.Applications) != 0 {
		t.Fatalf("expected other user to see nothing, got %d", len(otherList.Applications))
	}
}

func TestTrackDuplicateReturnsConflict(t *testing.T) {
	env := newTestEnvironment(t)
	env.do(t, http.MethodPost, "/tracker", testUserID, trackPayload("i1"))

	recorder := env.do(t, http.MethodPost, "/tracker", testUserID, trackPayload("i1"))
	if recorder.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", recorder.Code)
	}
	var body map[string]string
	decodeBody(t, recorder, &body)
	if body["error"] != "duplicate_tracking" || body["code"] != "tracker.track.duplicate_tracking" {
		t.Fatalf("unexpected error body %+v", body)
	}
}

func TestTrackRejectsIncompleteInternship(t *testing.T) {
	env := newTestEnvironment(t)
	payload := trackPayload("i1")
	payload.Internship.Company = ""

	recorder := env.do(t, http.MethodPost, "/tracker", testUserID, payload)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", recorder.Code)
	}
}

func TestChangeStatusFlow(t *testing.T) {
	env := newTestEnvironment(t)
	recorder := env.do(t, http.MethodPost, "/tracker", testUserID, trackPayload("i1"))
	var created applicationPayload
	decodeBody(t, recorder, &created)

	recorder = env.do(t, http.MethodPost, "/tracker/"+created.ID+"/status", testUserID, statusRequestPayload{Status: "Applied"})
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	var updated applicationPayload
	decodeBody(t, recorder, &updated)
	if updated.Status != "applied" || len(updated.Timeline) != 2 {
		t.Fatalf("unexpected updated payload %+v", updated)
	}
	if updated.Timeline[1].Note != "Status changed to applied" {
		t.Fatalf("unexpected default note %q", updated.Timeline[1].Note)
	}

	recorder = env.do(t, http.MethodPost, "/tracker/"+created.ID+"/status", testUserID, statusRequestPayload{Status: "hired"})
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown status, got %d", recorder.Code)
	}

	env.service.Close()
	recorder = env.do(t, http.MethodGet, "/gamification/profile", testUserID, nil)
	var profile profilePayload
	decodeBody(t, recorder, &profile)
	if profile.Experience == nil || *profile.Experience != 50 || profile.Applications != 1 {
		t.Fatalf("unexpected profile %+v", profile)
	}
	if profile.Level == nil || *profile.Level != 1 {
		t.Fatalf("expected level 1, got %v", profile.Level)
	}
}

func TestProfileOmitsExperienceWhenOwnedExternally(t *testing.T) {
	env := newTestEnvironment(t, func(deps *Dependencies) {
		deps.ExternalExperience = true
	})

	recorder := env.do(t, http.MethodPost, "/tracker", testUserID, trackRequestPayload{
		Internship: trackPayload("i1").Internship,
		Status:     "applied",
	})
	if recorder.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", recorder.Code, recorder.Body.String())
	}
	env.service.Close()

	recorder = env.do(t, http.MethodGet, "/gamification/profile", testUserID, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	var body map[string]any
	decodeBody(t, recorder, &body)
	if _, ok := body["xp"]; ok {
		t.Fatalf("expected xp to be omitted, got %v", body)
	}
	if _, ok := body["level"]; ok {
		t.Fatalf("expected level to be omitted, got %v", body)
	}
	if applications, ok := body["applications"].(float64); !ok || applications != 1 {
		t.Fatalf("expected one counted application, got %v", body["applications"])
	}
}

func TestMutationsOnMissingApplicationReturnNotFound(t *testing.T) {
	env := newTestEnvironment(t)

	recorder := env.do(t, http.MethodPost, "/tracker/missing/status", testUserID, statusRequestPayload{Status: "applied"})
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", recorder.Code)
	}
	var body map[string]string
	decodeBody(t, recorder, &body)
	if body["code"] != "tracker.change_status.record_not_found" {
		t.Fatalf("unexpected code %q", body["code"])
	}

	recorder = env.do(t, http.MethodDelete, "/tracker/missing", testUserID, nil)
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404 on delete, got %d", recorder.Code)
	}
}

func TestFieldUpdatesAndRemoval(t *testing.T) {
	env := newTestEnvironment(t)
	recorder := env.do(t, http.MethodPost, "/tracker", testUserID, trackPayload("i1"))
	var created applicationPayload
	decodeBody(t, recorder, &created)
	base := "/tracker/" + created.ID

	recorder = env.do(t, http.MethodPut, base+"/notes", testUserID, notesRequestPayload{Notes: "call back"})
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200 for notes, got %d", recorder.Code)
	}
	recorder = env.do(t, http.MethodPut, base+"/deadline", testUserID, deadlineRequestPayload{Deadline: "2026-04-01"})
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200 for deadline, got %d", recorder.Code)
	}
	recorder = env.do(t, http.MethodPost, base+"/documents", testUserID, documentRequestPayload{Name: "resume.pdf", Kind: "pdf"})
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200 for document, got %d", recorder.Code)
	}

	recorder = env.do(t, http.MethodGet, base, testUserID, nil)
	var loaded applicationPayload
	decodeBody(t, recorder, &loaded)
	if loaded.Notes != "call back" || loaded.Deadline != "2026-04-01" || len(loaded.Documents) != 1 {
		t.Fatalf("unexpected application %+v", loaded)
	}

	recorder = env.do(t, http.MethodGet, "/tracker/internships/i1", testUserID, nil)
	var tracked map[string]bool
	decodeBody(t, recorder, &tracked)
	if !tracked["tracked"] {
		t.Fatalf("expected internship to be tracked")
	}

	recorder = env.do(t, http.MethodDelete, base, testUserID, nil)
	if recorder.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", recorder.Code)
	}
	recorder = env.do(t, http.MethodGet, "/tracker/internships/i1", testUserID, nil)
	decodeBody(t, recorder, &tracked)
	if tracked["tracked"] {
		t.Fatalf("expected internship to be untracked after removal")
	}
}

func TestStatsRoute(t *testing.T) {
	env := newTestEnvironment(t)
	recorder := env.do(t, http.MethodPost, "/tracker", testUserID, trackPayload("i1"))
	var created applicationPayload
	decodeBody(t, recorder, &created)
	env.do(t, http.MethodPost, "/tracker", testUserID, trackPayload("i2"))
	env.do(t, http.MethodPost, "/tracker/"+created.ID+"/status", testUserID, statusRequestPayload{Status: "interview"})

	recorder = env.do(t, http.MethodGet, "/tracker/stats", testUserID, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	var counts stageCountsPayload
	decodeBody(t, recorder, &counts)
	expected := stageCountsPayload{Saved: 2, Applied: 1, Interview: 1, Total: 2}
	if counts != expected {
		t.Fatalf("expected %+v, got %+v", expected, counts)
	}
}

func TestHealthz(t *testing.T) {
	env := newTestEnvironment(t)
	recorder := env.do(t, http.MethodGet, "/healthz", "", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
}
