//go:build integration

package integration

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bissquit/oncall-garden/internal/testutil"
)

func TestIncidentOperatorLifecycle(t *testing.T) {
	admin := newAdminClient(t)
	serviceID := createService(t, admin, "frontend")
	apiKey := issueKey(t, admin, serviceID)

	incidentID := triggerIncident(t, apiKey, serviceID, "edge-5xx", "Edge 5xx spike")

	// Acknowledge assigns the acting operator when nobody owns the incident.
	resp, err := admin.POST("/api/v1/incidents/"+incidentID+"/acknowledge", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var ack struct {
		Data incidentView `json:"data"`
	}
	testutil.DecodeJSON(t, resp, &ack)
	assert.Equal(t, "ACKNOWLEDGED", ack.Data.Status)
	require.NotNil(t, ack.Data.AssigneeID)
	assert.Equal(t, adminUserID, *ack.Data.AssigneeID)

	// Acknowledging twice stays 200 and changes nothing.
	resp, err = admin.POST("/api/v1/incidents/"+incidentID+"/acknowledge", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// A too-short resolution note is rejected.
	resp, err = admin.POST("/api/v1/incidents/"+incidentID+"/resolve", map[string]string{
		"note": "fixed",
	})
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Resolve with a proper note.
	resp, err = admin.POST("/api/v1/incidents/"+incidentID+"/resolve", map[string]string{
		"note": "Rolled back the bad deploy, error rate recovered.",
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var resolved struct {
		Data incidentView `json:"data"`
	}
	testutil.DecodeJSON(t, resp, &resolved)
	assert.Equal(t, "RESOLVED", resolved.Data.Status)

	// Reopening a resolved incident through the operator API is forbidden;
	// only a fresh trigger may revive it.
	resp, err = admin.POST("/api/v1/incidents/"+incidentID+"/reopen", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	timeline := getTimeline(t, admin, incidentID)
	assert.Equal(t, 1, countTimelineKind(timeline, "note"))
	assert.GreaterOrEqual(t, countTimelineKind(timeline, "status_change"), 2)
}

func TestIncidentSnooze(t *testing.T) {
	admin := newAdminClient(t)
	serviceID := createService(t, admin, "cron")
	apiKey := issueKey(t, admin, serviceID)

	incidentID := triggerIncident(t, apiKey, serviceID, "job-late", "Nightly job late")

	// Snoozing into the past is rejected.
	resp, err := admin.POST("/api/v1/incidents/"+incidentID+"/snooze", map[string]interface{}{
		"until": time.Now().Add(-time.Hour).UTC().Format(time.RFC3339),
	})
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	until := time.Now().Add(2 * time.Hour).UTC()
	resp, err = admin.POST("/api/v1/incidents/"+incidentID+"/snooze", map[string]interface{}{
		"until": until.Format(time.RFC3339),
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var snoozed struct {
		Data incidentView `json:"data"`
	}
	testutil.DecodeJSON(t, resp, &snoozed)
	assert.Equal(t, "SNOOZED", snoozed.Data.Status)
	require.NotNil(t, snoozed.Data.SnoozedUntil)
	assert.Nil(t, snoozed.Data.NextEscalationAt)

	resp, err = admin.POST("/api/v1/incidents/"+incidentID+"/unsnooze", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var reopened struct {
		Data incidentView `json:"data"`
	}
	testutil.DecodeJSON(t, resp, &reopened)
	assert.Equal(t, "OPEN", reopened.Data.Status)
	assert.Nil(t, reopened.Data.SnoozedUntil)
}

func TestIncidentReassign(t *testing.T) {
	admin := newAdminClient(t)
	serviceID := createService(t, admin, "db")
	apiKey := issueKey(t, admin, serviceID)
	userID, _ := seedUser(t, "carol", nil)

	incidentID := triggerIncident(t, apiKey, serviceID, "replica-lag", "Replica lag")

	// A reassign must name a target.
	resp, err := admin.POST("/api/v1/incidents/"+incidentID+"/reassign", map[string]interface{}{})
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = admin.POST("/api/v1/incidents/"+incidentID+"/reassign", map[string]interface{}{
		"user_id": userID,
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var result struct {
		Data incidentView `json:"data"`
	}
	testutil.DecodeJSON(t, resp, &result)
	require.NotNil(t, result.Data.AssigneeID)
	assert.Equal(t, userID, *result.Data.AssigneeID)
}

func TestIncidentBulkAcknowledge(t *testing.T) {
	admin := newAdminClient(t)
	serviceID := createService(t, admin, "bulk")
	apiKey := issueKey(t, admin, serviceID)

	first := triggerIncident(t, apiKey, serviceID, "bulk-1", "Alert one")
	second := triggerIncident(t, apiKey, serviceID, "bulk-2", "Alert two")
	third := triggerIncident(t, apiKey, serviceID, "bulk-3", "Alert three")

	// Resolve one of them so the bulk ack skips it.
	resp, err := admin.POST("/api/v1/incidents/"+third+"/resolve", map[string]string{
		"note": "False positive, silenced the alert rule.",
	})
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = admin.POST("/api/v1/incidents/acknowledge", map[string]interface{}{
		"incident_ids": []string{first, second, third},
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var result struct {
		Data struct {
			Acknowledged int64 `json:"acknowledged"`
		} `json:"data"`
	}
	testutil.DecodeJSON(t, resp, &result)
	assert.Equal(t, int64(2), result.Data.Acknowledged)

	assert.Equal(t, "ACKNOWLEDGED", getIncident(t, admin, first).Status)
	assert.Equal(t, "ACKNOWLEDGED", getIncident(t, admin, second).Status)
	assert.Equal(t, "RESOLVED", getIncident(t, admin, third).Status)
}

func TestIncidentListFilters(t *testing.T) {
	admin := newAdminClient(t)
	serviceID := createService(t, admin, "filters")
	apiKey := issueKey(t, admin, serviceID)

	open := triggerIncident(t, apiKey, serviceID, "f-1", "Open incident")
	acked := triggerIncident(t, apiKey, serviceID, "f-2", "Acked incident")

	resp, err := admin.POST("/api/v1/incidents/"+acked+"/acknowledge", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = admin.GET("/api/v1/incidents?service_id=" + serviceID + "&status=OPEN")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var result struct {
		Data []incidentView `json:"data"`
	}
	testutil.DecodeJSON(t, resp, &result)
	require.Len(t, result.Data, 1)
	assert.Equal(t, open, result.Data[0].ID)

	// Unknown status values are rejected rather than silently ignored.
	resp, err = admin.GET("/api/v1/incidents?status=BROKEN")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestIncidentAPIRequiresAuth(t *testing.T) {
	resp, err := newTestClient().GET("/api/v1/incidents")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, err = newTestClient().GET("/api/v1/incidents/" + "00000000-0000-0000-0000-000000000000")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestIncidentNotFound(t *testing.T) {
	admin := newAdminClient(t)
	resp, err := admin.GET("/api/v1/incidents/00000000-0000-0000-0000-000000000000")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
