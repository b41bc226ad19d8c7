//go:build integration

package integration

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEscalationNotifiesAndAssignsFirstResponder(t *testing.T) {
	require.NoError(t, mailpitClient.DeleteAllMessages())

	admin := newAdminClient(t)
	aliceID, aliceEmail := seedUser(t, "alice", nil)

	policyID := createPolicy(t, admin, "primary-oncall")
	addStep(t, admin, policyID, 0, "USER", aliceID)
	addStep(t, admin, policyID, 10, "USER", aliceID)

	serviceID := createService(t, admin, "api-gateway", withPolicy(policyID))
	apiKey := issueKey(t, admin, serviceID)

	incidentID := triggerIncident(t, apiKey, serviceID, "gw-down", "Gateway down")

	inc := getIncident(t, admin, incidentID)
	require.Equal(t, "PENDING", inc.EscalationState)
	require.Equal(t, 0, inc.EscalationStep)
	require.NotNil(t, inc.NextEscalationAt)
	firstDue := *inc.NextEscalationAt

	testApp.Scheduler().Sweep(context.Background())

	inc = getIncident(t, admin, incidentID)
	assert.Equal(t, "IN_PROGRESS", inc.EscalationState)
	assert.Equal(t, 1, inc.EscalationStep)
	require.NotNil(t, inc.AssigneeID)
	assert.Equal(t, aliceID, *inc.AssigneeID)

	// The next timer is cumulative from the previous one, not from the
	// sweep instant.
	require.NotNil(t, inc.NextEscalationAt)
	assert.WithinDuration(t, firstDue.Add(10*time.Minute), *inc.NextEscalationAt, time.Second)

	// The step landed as a real email.
	messages, err := mailpitClient.WaitForRecipient(aliceEmail, 1, 10*time.Second)
	require.NoError(t, err)
	assert.Contains(t, messages[0].Subject, "[HIGH]")
	assert.Contains(t, messages[0].Subject, "Gateway down")

	// And as a SENT delivery record on the incident.
	records := getNotifications(t, admin, incidentID)
	require.Len(t, records, 1)
	assert.Equal(t, "EMAIL", records[0].Channel)
	assert.Equal(t, aliceEmail, records[0].Recipient)
	assert.Equal(t, "SENT", records[0].Status)
	require.NotNil(t, records[0].UserID)
	assert.Equal(t, aliceID, *records[0].UserID)

	// A second sweep finds nothing due; the step fires at most once.
	testApp.Scheduler().Sweep(context.Background())
	assert.Len(t, getNotifications(t, admin, incidentID), 1)

	timeline := getTimeline(t, admin, incidentID)
	assert.Equal(t, 1, countTimelineKind(timeline, "escalated"))
	assert.Equal(t, 1, countTimelineKind(timeline, "assigned"))
}

func TestEscalationStopsOnAcknowledge(t *testing.T) {
	admin := newAdminClient(t)
	bobID, _ := seedUser(t, "bob", nil)

	policyID := createPolicy(t, admin, "secondary-oncall")
	addStep(t, admin, policyID, 0, "USER", bobID)

	serviceID := createService(t, admin, "worker-fleet", withPolicy(policyID))
	apiKey := issueKey(t, admin, serviceID)

	incidentID := triggerIncident(t, apiKey, serviceID, "fleet-degraded", "Worker fleet degraded")

	// Acknowledge before the sweep: the due step must not fire.
	resp, err := admin.POST("/api/v1/incidents/"+incidentID+"/acknowledge", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	testApp.Scheduler().Sweep(context.Background())

	inc := getIncident(t, admin, incidentID)
	assert.Equal(t, "COMPLETED", inc.EscalationState)
	assert.Nil(t, inc.NextEscalationAt)
	assert.Empty(t, getNotifications(t, admin, incidentID))
}

func TestEscalationTeamStepNotifiesAllMembers(t *testing.T) {
	require.NoError(t, mailpitClient.DeleteAllMessages())

	admin := newAdminClient(t)
	daveID, daveEmail := seedUser(t, "dave", nil)
	erinID, erinEmail := seedUser(t, "erin", nil)
	teamID := seedTeam(t, "platform", daveID, daveID, erinID)

	policyID := createPolicy(t, admin, "team-escalation")
	addStep(t, admin, policyID, 0, "TEAM", teamID)

	serviceID := createService(t, admin, "metrics-pipeline", withPolicy(policyID), withTeam(teamID))
	apiKey := issueKey(t, admin, serviceID)

	incidentID := triggerIncident(t, apiKey, serviceID, "pipeline-stall", "Metrics pipeline stalled")

	testApp.Scheduler().Sweep(context.Background())

	records := getNotifications(t, admin, incidentID)
	require.Len(t, records, 2)

	recipients := map[string]bool{}
	for _, r := range records {
		recipients[r.Recipient] = true
	}
	assert.True(t, recipients[daveEmail])
	assert.True(t, recipients[erinEmail])

	// The whole chain completes after the last step.
	inc := getIncident(t, admin, incidentID)
	assert.Equal(t, "COMPLETED", inc.EscalationState)
	assert.Nil(t, inc.NextEscalationAt)
}

func TestEscalationSnoozedIncidentReopensWhenTimerExpires(t *testing.T) {
	admin := newAdminClient(t)
	frankID, _ := seedUser(t, "frank", nil)

	policyID := createPolicy(t, admin, "snooze-chain")
	addStep(t, admin, policyID, 0, "USER", frankID)

	serviceID := createService(t, admin, "queues", withPolicy(policyID))
	apiKey := issueKey(t, admin, serviceID)

	incidentID := triggerIncident(t, apiKey, serviceID, "queue-backlog", "Queue backlog")

	resp, err := admin.POST("/api/v1/incidents/"+incidentID+"/snooze", map[string]interface{}{
		"until": time.Now().Add(time.Hour).UTC().Format(time.RFC3339),
	})
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Expire the snooze directly; the next sweep reopens and rearms.
	_, err = testDB.Exec(context.Background(),
		`UPDATE incidents SET snoozed_until = now() - interval '1 minute' WHERE id = $1`, incidentID)
	require.NoError(t, err)

	testApp.Scheduler().Sweep(context.Background())

	inc := getIncident(t, admin, incidentID)
	assert.Equal(t, "OPEN", inc.Status)
	assert.Nil(t, inc.SnoozedUntil)

	timeline := getTimeline(t, admin, incidentID)
	assert.GreaterOrEqual(t, countTimelineKind(timeline, "status_change"), 2)
}
