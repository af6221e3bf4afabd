// ABOUTME: Tests for helper registration and verification

package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medforce/intake-gateway/internal/diary"
	"github.com/medforce/intake-gateway/internal/event"
)

func registerHelper(t *testing.T, a *HelpersAgent, d *diary.Diary, payload map[string]any) *diary.Helper {
	t.Helper()
	env := event.NewHandoff(event.TypeHelperRegistration, d.PatientID, "api", payload, "")
	res, err := a.Process(context.Background(), env, d)
	require.NoError(t, err)
	require.Len(t, res.Responses, 1)
	require.Len(t, d.Helpers, 1)
	for _, h := range d.Helpers {
		return h
	}
	return nil
}

func TestHelperRegistration(t *testing.T) {
	a := NewHelpersAgent(nil)
	d := diary.New("patient-1")

	h := registerHelper(t, a, d, map[string]any{
		"name": "Mary Smith", "phone": "07700 900456", "relationship": "daughter",
	})

	assert.Contains(t, h.ID, "helper-")
	assert.Equal(t, "Mary Smith", h.Name)
	assert.False(t, h.Verified)
	assert.Empty(t, h.Permissions)
}

func TestHelperRegistrationNeedsContact(t *testing.T) {
	a := NewHelpersAgent(nil)
	d := diary.New("patient-1")

	env := event.NewHandoff(event.TypeHelperRegistration, d.PatientID, "api",
		map[string]any{"name": "Mary Smith"}, "")
	_, err := a.Process(context.Background(), env, d)
	assert.ErrorIs(t, err, ErrUnhandledEvent)
}

func TestHelperVerification(t *testing.T) {
	a := NewHelpersAgent(nil)
	d := diary.New("patient-1")
	h := registerHelper(t, a, d, map[string]any{
		"name": "Mary Smith", "email": "mary@example.com",
	})

	env := event.NewHandoff(event.TypeHelperVerified, d.PatientID, "api", map[string]any{
		"helper_id":   h.ID,
		"permissions": []any{"send_messages", "manage_booking"},
	}, "")
	res, err := a.Process(context.Background(), env, d)
	require.NoError(t, err)
	require.Len(t, res.Responses, 1)

	assert.True(t, h.Verified)
	assert.Equal(t, []string{"send_messages", "manage_booking"}, h.Permissions)
	assert.True(t, h.HasPermission("manage_booking"))
	assert.False(t, h.HasPermission("upload_documents"))
}

func TestHelperVerificationDefaultsToMessaging(t *testing.T) {
	a := NewHelpersAgent(nil)
	d := diary.New("patient-1")
	h := registerHelper(t, a, d, map[string]any{"phone": "07700 900456"})

	env := event.NewHandoff(event.TypeHelperVerified, d.PatientID, "api",
		map[string]any{"helper_id": h.ID}, "")
	_, err := a.Process(context.Background(), env, d)
	require.NoError(t, err)

	assert.Equal(t, []string{"send_messages"}, h.Permissions)
}

func TestHelperVerificationUnknownID(t *testing.T) {
	a := NewHelpersAgent(nil)
	d := diary.New("patient-1")

	env := event.NewHandoff(event.TypeHelperVerified, d.PatientID, "api",
		map[string]any{"helper_id": "helper-ghost"}, "")
	_, err := a.Process(context.Background(), env, d)
	assert.ErrorIs(t, err, ErrUnhandledEvent)
}
