package authkit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfirmationHappyPath(t *testing.T) {
	ctx := context.Background()
	repo := testRepo(t)
	mailer := &capturingMailer{}
	workflow := NewConfirmationWorkflow(repo, testConfig()).WithMailer(mailer)

	user := createTestUser(t, repo, "old@example.com", "password123")

	token, err := workflow.RequestEmailChange(ctx, user, "new@example.com")
	require.NoError(t, err)
	require.NotEmpty(t, token)
	assert.Equal(t, []string{"new@example.com"}, mailer.confirmations)
	assert.Equal(t, "old@example.com", user.Email, "login identifier must not move yet")
	assert.False(t, user.Confirmed())

	require.NoError(t, workflow.Confirm(ctx, user, token))

	assert.Equal(t, "new@example.com", user.Email)
	assert.True(t, user.Confirmed())

	// Token retired in storage too.
	reloaded, err := repo.Users().GetByID(ctx, user.ID.String())
	require.NoError(t, err)
	assert.Equal(t, "new@example.com", reloaded.Email)
	assert.Empty(t, reloaded.ConfirmationToken)
}

func TestConfirmationRejectsBadToken(t *testing.T) {
	ctx := context.Background()
	repo := testRepo(t)
	workflow := NewConfirmationWorkflow(repo, testConfig())

	user := createTestUser(t, repo, "victim@example.com", "password123")
	_, err := workflow.RequestEmailChange(ctx, user, "target@example.com")
	require.NoError(t, err)

	for _, bad := range []string{"", "guessed-token", "almost" + user.ConfirmationToken} {
		err := workflow.Confirm(ctx, user, bad)
		assert.ErrorIs(t, err, ErrInvalidToken)
	}

	assert.Equal(t, "victim@example.com", user.Email)
	assert.NotEmpty(t, user.ConfirmationToken)
}

func TestConfirmationExpiredTokenLeavesStateIntact(t *testing.T) {
	ctx := context.Background()
	repo := testRepo(t)
	issuedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	workflow := NewConfirmationWorkflow(repo, testConfig()).WithClock(fixedClock(issuedAt))

	user := createTestUser(t, repo, "slow@example.com", "password123")
	token, err := workflow.RequestEmailChange(ctx, user, "later@example.com")
	require.NoError(t, err)

	workflow.WithClock(fixedClock(issuedAt.Add(73 * time.Hour)))

	err = workflow.Confirm(ctx, user, token)
	assert.ErrorIs(t, err, ErrInvalidToken)
	assert.Equal(t, "slow@example.com", user.Email)
	assert.Equal(t, "later@example.com", user.ConfirmationEmail)
	assert.Equal(t, token, user.ConfirmationToken)
}

func TestConfirmationCollisionPreservesToken(t *testing.T) {
	ctx := context.Background()
	repo := testRepo(t)
	workflow := NewConfirmationWorkflow(repo, testConfig())

	user := createTestUser(t, repo, "first@example.com", "password123")
	token, err := workflow.RequestEmailChange(ctx, user, "contested@example.com")
	require.NoError(t, err)

	// The contested address gets registered between request and confirm.
	createTestUser(t, repo, "contested@example.com", "password123")

	err = workflow.Confirm(ctx, user, token)
	require.Error(t, err)
	assert.True(t, IsIntegrityConflict(err))

	// Nothing moved and the token survives for a retry.
	assert.Equal(t, "first@example.com", user.Email)
	assert.Equal(t, token, user.ConfirmationToken)

	reloaded, err := repo.Users().GetByID(ctx, user.ID.String())
	require.NoError(t, err)
	assert.Equal(t, "first@example.com", reloaded.Email)
	assert.Equal(t, token, reloaded.ConfirmationToken)
}

func TestConfirmationRequestOwnConfirmedEmailIsNoop(t *testing.T) {
	ctx := context.Background()
	repo := testRepo(t)
	mailer := &capturingMailer{}
	workflow := NewConfirmationWorkflow(repo, testConfig()).WithMailer(mailer)

	user := createTestUser(t, repo, "settled@example.com", "password123")

	token, err := workflow.RequestEmailChange(ctx, user, "settled@example.com")
	require.NoError(t, err)
	assert.Empty(t, token)
	assert.Empty(t, mailer.confirmations)
	assert.True(t, user.Confirmed())
}

func TestConfirmationResendKeepsLiveToken(t *testing.T) {
	ctx := context.Background()
	repo := testRepo(t)
	mailer := &capturingMailer{}
	workflow := NewConfirmationWorkflow(repo, testConfig()).WithMailer(mailer)

	user := createTestUser(t, repo, "resend@example.com", "password123")

	first, err := workflow.RequestEmailChange(ctx, user, "pending@example.com")
	require.NoError(t, err)

	second, err := workflow.RequestEmailChange(ctx, user, "pending@example.com")
	require.NoError(t, err)

	assert.Equal(t, first, second, "a live token is resent, not rotated")
	assert.Len(t, mailer.confirmations, 2)
}

func TestConfirmationRequestTakenAddressFailsFast(t *testing.T) {
	ctx := context.Background()
	repo := testRepo(t)
	workflow := NewConfirmationWorkflow(repo, testConfig())

	createTestUser(t, repo, "taken@example.com", "password123")
	user := createTestUser(t, repo, "wants-taken@example.com", "password123")

	_, err := workflow.RequestEmailChange(ctx, user, "taken@example.com")
	require.Error(t, err)
	assert.True(t, IsValidationError(err))
	assert.Empty(t, user.ConfirmationToken)
}

func TestConfirmationRequestInvalidAddress(t *testing.T) {
	ctx := context.Background()
	repo := testRepo(t)
	workflow := NewConfirmationWorkflow(repo, testConfig())
	user := createTestUser(t, repo, "typo@example.com", "password123")

	for _, bad := range []string{"", "not-an-email", "@nope"} {
		_, err := workflow.RequestEmailChange(ctx, user, bad)
		assert.True(t, IsValidationError(err), "address %q must be rejected", bad)
	}
}

func TestArmConfirmationForFreshSignup(t *testing.T) {
	ctx := context.Background()
	repo := testRepo(t)
	mailer := &capturingMailer{}
	workflow := NewConfirmationWorkflow(repo, testConfig()).WithMailer(mailer)

	user := createTestUser(t, repo, "fresh@example.com", "password123")

	token, err := workflow.ArmConfirmation(ctx, user)
	require.NoError(t, err)
	require.NotEmpty(t, token)
	assert.False(t, user.Confirmed())

	require.NoError(t, workflow.Confirm(ctx, user, token))
	assert.True(t, user.Confirmed())
	assert.Equal(t, "fresh@example.com", user.Email)
}
