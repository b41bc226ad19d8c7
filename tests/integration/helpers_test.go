//go:build integration

package integration

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/bissquit/oncall-garden/internal/testutil"
)

// uniqueName appends a random suffix so parallel reruns never collide on
// unique columns (emails, service slugs).
func uniqueName(prefix string) string {
	return fmt.Sprintf("%s-%s", prefix, uuid.NewString()[:8])
}

// seedUser inserts a responder directly. There is no user management API;
// the directory is provisioned out of band.
func seedUser(t *testing.T, name string, phone *string) (id, email string) {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte("secret123"), bcrypt.MinCost)
	require.NoError(t, err)

	id = uuid.NewString()
	email = uniqueName(name) + "@example.com"
	_, err = testDB.Exec(context.Background(),
		`INSERT INTO users (id, name, email, phone, role, password_hash) VALUES ($1, $2, $3, $4, $5, $6)`,
		id, name, email, phone, "responder", string(hash))
	require.NoError(t, err)
	return id, email
}

// seedTeam inserts a team with the given members. leadID may be empty.
func seedTeam(t *testing.T, name, leadID string, memberIDs ...string) string {
	t.Helper()

	ctx := context.Background()
	id := uuid.NewString()

	var lead *string
	if leadID != "" {
		lead = &leadID
	}
	_, err := testDB.Exec(ctx,
		`INSERT INTO teams (id, name, lead_id) VALUES ($1, $2, $3)`, id, uniqueName(name), lead)
	require.NoError(t, err)

	for _, userID := range memberIDs {
		_, err := testDB.Exec(ctx,
			`INSERT INTO team_members (team_id, user_id) VALUES ($1, $2)`, id, userID)
		require.NoError(t, err)
	}
	return id
}

// backdateIncident rewinds an incident's creation time so SLA deadlines can
// be crossed without sleeping in tests.
func backdateIncident(t *testing.T, incidentID string, by time.Duration) {
	t.Helper()
	_, err := testDB.Exec(context.Background(),
		`UPDATE incidents SET created_at = created_at - $2 WHERE id = $1`,
		incidentID, by)
	require.NoError(t, err)
}

type serviceOption func(map[string]interface{})

func withPolicy(policyID string) serviceOption {
	return func(m map[string]interface{}) {
		m["escalation_policy_id"] = policyID
	}
}

func withSLATargets(ackMinutes, resolveMinutes int) serviceOption {
	return func(m map[string]interface{}) {
		m["target_ack_minutes"] = ackMinutes
		m["target_resolve_minutes"] = resolveMinutes
	}
}

func withBreachNotifications(channel string) serviceOption {
	return func(m map[string]interface{}) {
		m["notify_on_sla_breach"] = true
		m["breach_channel"] = channel
	}
}

func withTeam(teamID string) serviceOption {
	return func(m map[string]interface{}) {
		m["team_id"] = teamID
	}
}

// createService creates a service through the API and returns its ID.
func createService(t *testing.T, client *testutil.Client, name string, opts ...serviceOption) string {
	t.Helper()

	payload := map[string]interface{}{
		"name": uniqueName(name),
	}
	for _, opt := range opts {
		opt(payload)
	}

	resp, err := client.POST("/api/v1/services", payload)
	require.NoError(t, err)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create service: status=%d body=%s", resp.StatusCode, testutil.ReadBody(t, resp))
	}

	var result struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	testutil.DecodeJSON(t, resp, &result)
	return result.Data.ID
}

// createPolicy creates an escalation policy through the API.
func createPolicy(t *testing.T, client *testutil.Client, name string) string {
	t.Helper()

	resp, err := client.POST("/api/v1/policies", map[string]interface{}{
		"name": uniqueName(name),
	})
	require.NoError(t, err)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create policy: status=%d body=%s", resp.StatusCode, testutil.ReadBody(t, resp))
	}

	var result struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	testutil.DecodeJSON(t, resp, &result)
	return result.Data.ID
}

// addStep appends a step to a policy through the API.
func addStep(t *testing.T, client *testutil.Client, policyID string, delayMinutes int, targetType, targetID string) string {
	t.Helper()

	resp, err := client.POST("/api/v1/policies/"+policyID+"/steps", map[string]interface{}{
		"delay_minutes": delayMinutes,
		"target_type":   targetType,
		"target_id":     targetID,
	})
	require.NoError(t, err)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("add step: status=%d body=%s", resp.StatusCode, testutil.ReadBody(t, resp))
	}

	var result struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	testutil.DecodeJSON(t, resp, &result)
	return result.Data.ID
}

// issueKey creates an integration key and returns its plaintext.
func issueKey(t *testing.T, client *testutil.Client, serviceID string) string {
	t.Helper()

	resp, err := client.POST("/api/v1/services/"+serviceID+"/integration-keys", map[string]interface{}{
		"name": "test key",
	})
	require.NoError(t, err)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("issue key: status=%d body=%s", resp.StatusCode, testutil.ReadBody(t, resp))
	}

	var result struct {
		Data struct {
			Key string `json:"key"`
		} `json:"data"`
	}
	testutil.DecodeJSON(t, resp, &result)
	require.NotEmpty(t, result.Data.Key)
	return result.Data.Key
}

// eventResult is the intake envelope's result payload. Action reports what
// intake did with the event (created, deduplicated, reopened, ...).
type eventResult struct {
	Action     string  `json:"action"`
	IncidentID *string `json:"incident_id"`
	DedupKey   string  `json:"dedup_key"`
}

// sendEvent posts an integration event and returns the response status and
// decoded result. The envelope status field is asserted here for every 202.
func sendEvent(t *testing.T, apiKey, serviceID string, event map[string]interface{}) (int, eventResult) {
	t.Helper()

	client := newTestClient().WithAPIKey(apiKey)
	resp, err := client.POST("/api/v1/services/"+serviceID+"/events", event)
	require.NoError(t, err)

	if resp.StatusCode != http.StatusAccepted {
		resp.Body.Close()
		return resp.StatusCode, eventResult{}
	}

	var envelope struct {
		Status string      `json:"status"`
		Result eventResult `json:"result"`
	}
	testutil.DecodeJSON(t, resp, &envelope)
	require.Equal(t, "success", envelope.Status)
	return http.StatusAccepted, envelope.Result
}

// triggerIncident sends a trigger event and returns the incident ID.
func triggerIncident(t *testing.T, apiKey, serviceID, dedupKey, summary string) string {
	t.Helper()

	status, result := sendEvent(t, apiKey, serviceID, map[string]interface{}{
		"event_action": "trigger",
		"dedup_key":    dedupKey,
		"payload": map[string]interface{}{
			"summary":  summary,
			"severity": "critical",
		},
	})
	require.Equal(t, http.StatusAccepted, status)
	require.Equal(t, "created", result.Action)
	require.NotNil(t, result.IncidentID)
	return *result.IncidentID
}

// incidentView mirrors the incident JSON returned by the operator API.
type incidentView struct {
	ID               string     `json:"id"`
	ServiceID        string     `json:"service_id"`
	Title            string     `json:"title"`
	Description      *string    `json:"description"`
	Urgency          string     `json:"urgency"`
	Status           string     `json:"status"`
	DedupKey         *string    `json:"dedup_key"`
	AssigneeID       *string    `json:"assignee_id"`
	EscalationState  string     `json:"escalation_state"`
	EscalationStep   int        `json:"escalation_step"`
	NextEscalationAt *time.Time `json:"next_escalation_at"`
	SnoozedUntil     *time.Time `json:"snoozed_until"`
	AcknowledgedAt   *time.Time `json:"acknowledged_at"`
	ResolvedAt       *time.Time `json:"resolved_at"`
	CreatedAt        time.Time  `json:"created_at"`
}

// getIncident fetches one incident through the operator API.
func getIncident(t *testing.T, client *testutil.Client, id string) incidentView {
	t.Helper()

	resp, err := client.GET("/api/v1/incidents/" + id)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result struct {
		Data incidentView `json:"data"`
	}
	testutil.DecodeJSON(t, resp, &result)
	return result.Data
}

// timelineEvent mirrors the audit entry JSON.
type timelineEvent struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// getTimeline fetches an incident's audit trail.
func getTimeline(t *testing.T, client *testutil.Client, id string) []timelineEvent {
	t.Helper()

	resp, err := client.GET("/api/v1/incidents/" + id + "/events")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result struct {
		Data []timelineEvent `json:"data"`
	}
	testutil.DecodeJSON(t, resp, &result)
	return result.Data
}

// countTimelineKind counts audit entries of one kind.
func countTimelineKind(events []timelineEvent, kind string) int {
	n := 0
	for _, e := range events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

// notificationView mirrors the delivery record JSON.
type notificationView struct {
	ID        string  `json:"id"`
	Channel   string  `json:"channel"`
	Recipient string  `json:"recipient"`
	Subject   string  `json:"subject"`
	Status    string  `json:"status"`
	Attempts  int     `json:"attempts"`
	UserID    *string `json:"user_id"`
}

// getNotifications fetches an incident's delivery history.
func getNotifications(t *testing.T, client *testutil.Client, incidentID string) []notificationView {
	t.Helper()

	resp, err := client.GET("/api/v1/incidents/" + incidentID + "/notifications")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result struct {
		Data []notificationView `json:"data"`
	}
	testutil.DecodeJSON(t, resp, &result)
	return result.Data
}
