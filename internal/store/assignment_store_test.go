package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to string
		wantErr  string
	}{
		{StatusNew, StatusInProgress, ""},
		{StatusInProgress, StatusCompleted, ""},
		{StatusCompleted, StatusAccepted, ""},

		{StatusNew, StatusCompleted, "cannot skip from NEW to COMPLETED"},
		{StatusNew, StatusAccepted, "cannot accept a task that is not completed"},
		{StatusInProgress, StatusAccepted, "cannot accept a task that is not completed"},

		{StatusInProgress, StatusNew, "cannot move status back from IN_PROGRESS to NEW"},
		{StatusCompleted, StatusInProgress, "cannot move status back from COMPLETED to IN_PROGRESS"},
		{StatusAccepted, StatusCompleted, "cannot move status back from ACCEPTED to COMPLETED"},
		{StatusAccepted, StatusNew, "cannot move status back from ACCEPTED to NEW"},

		{StatusNew, StatusNew, "cannot move status back from NEW to NEW"},
		{StatusAccepted, StatusAccepted, "cannot accept a task that is not completed"},

		{"BOGUS", StatusInProgress, `unknown status "BOGUS"`},
		{StatusNew, "BOGUS", `unknown status "BOGUS"`},
	}

	for _, tt := range tests {
		t.Run(tt.from+"_to_"+tt.to, func(t *testing.T) {
			err := CanTransition(tt.from, tt.to)
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Equal(t, tt.wantErr, err.Error())
			}
		})
	}
}

func TestTransitionRole(t *testing.T) {
	role, err := TransitionRole(StatusInProgress)
	require.NoError(t, err)
	assert.Equal(t, RoleContractor, role)

	role, err = TransitionRole(StatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, RoleContractor, role)

	role, err = TransitionRole(StatusAccepted)
	require.NoError(t, err)
	assert.Equal(t, RoleClient, role)

	_, err = TransitionRole(StatusNew)
	assert.Error(t, err)
}

func TestAssignmentStore_Create(t *testing.T) {
	db := setupTestDatabase(t)

	assignment, client, contractor := createTestAssignment(t, db)

	assert.NotEmpty(t, assignment.ID)
	assert.Equal(t, client.ID, assignment.ClientID)
	assert.Equal(t, contractor.ID, assignment.ContractorID)
	assert.Equal(t, StatusNew, assignment.Status)
	assert.Nil(t, assignment.CompletedAt)
	assert.Nil(t, assignment.AcceptedAt)
}

func TestAssignmentStore_Create_OnlyOnePerTask(t *testing.T) {
	db := setupTestDatabase(t)
	assignments := NewAssignmentStore(db)

	assignment, client, _ := createTestAssignment(t, db)
	other := createTestUser(t, db, RoleContractor)

	_, err := assignments.Create(ctx(), assignment.TaskID, client.ID, other.ID)
	require.ErrorIs(t, err, ErrConflict)
}

func TestAssignmentStore_Create_NotTaskOwner(t *testing.T) {
	db := setupTestDatabase(t)
	assignments := NewAssignmentStore(db)

	client := createTestUser(t, db, RoleClient)
	stranger := createTestUser(t, db, RoleClient)
	contractor := createTestUser(t, db, RoleContractor)
	task := createTestTask(t, db, client.ID, 2000)

	_, err := assignments.Create(ctx(), task.ID, stranger.ID, contractor.ID)
	require.ErrorIs(t, err, ErrForbidden)
}

func TestAssignmentStore_Create_RejectsNonContractor(t *testing.T) {
	db := setupTestDatabase(t)
	assignments := NewAssignmentStore(db)

	client := createTestUser(t, db, RoleClient)
	otherClient := createTestUser(t, db, RoleClient)
	task := createTestTask(t, db, client.ID, 2000)

	_, err := assignments.Create(ctx(), task.ID, client.ID, otherClient.ID)
	require.ErrorIs(t, err, ErrConflict)
}

func TestAssignmentStore_Create_RejectsSelfAssignment(t *testing.T) {
	db := setupTestDatabase(t)
	assignments := NewAssignmentStore(db)

	client := createTestUser(t, db, RoleClient)
	task := createTestTask(t, db, client.ID, 2000)

	_, err := assignments.Create(ctx(), task.ID, client.ID, client.ID)
	require.ErrorIs(t, err, ErrConflict)
}

func TestAssignmentStore_Create_RejectsArchivedTask(t *testing.T) {
	db := setupTestDatabase(t)

	client := createTestUser(t, db, RoleClient)
	contractor := createTestUser(t, db, RoleContractor)
	task := createTestTask(t, db, client.ID, 2000)

	_, err := NewTaskStore(db).Archive(ctx(), task.ID, client.ID)
	require.NoError(t, err)

	_, err = NewAssignmentStore(db).Create(ctx(), task.ID, client.ID, contractor.ID)
	require.ErrorIs(t, err, ErrConflict)
}

func TestAssignmentStore_UpdateStatus_FullLifecycle(t *testing.T) {
	db := setupTestDatabase(t)
	assignments := NewAssignmentStore(db)

	assignment, client, contractor := createTestAssignment(t, db)

	a, err := assignments.UpdateStatus(ctx(), assignment.ID, contractor.ID, StatusInProgress)
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, a.Status)

	a, err = assignments.UpdateStatus(ctx(), assignment.ID, contractor.ID, StatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, a.Status)
	require.NotNil(t, a.CompletedAt)

	a, err = assignments.UpdateStatus(ctx(), assignment.ID, client.ID, StatusAccepted)
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, a.Status)
	require.NotNil(t, a.AcceptedAt)
	assert.False(t, a.AcceptedAt.Before(*a.CompletedAt))
}

func TestAssignmentStore_UpdateStatus_WrongParty(t *testing.T) {
	db := setupTestDatabase(t)
	assignments := NewAssignmentStore(db)

	assignment, client, contractor := createTestAssignment(t, db)

	// The client cannot start or complete the work.
	_, err := assignments.UpdateStatus(ctx(), assignment.ID, client.ID, StatusInProgress)
	require.ErrorIs(t, err, ErrForbidden)

	_, err = assignments.UpdateStatus(ctx(), assignment.ID, contractor.ID, StatusInProgress)
	require.NoError(t, err)
	_, err = assignments.UpdateStatus(ctx(), assignment.ID, contractor.ID, StatusCompleted)
	require.NoError(t, err)

	// The contractor cannot accept their own work.
	_, err = assignments.UpdateStatus(ctx(), assignment.ID, contractor.ID, StatusAccepted)
	require.ErrorIs(t, err, ErrForbidden)
}

func TestAssignmentStore_UpdateStatus_NoSkips(t *testing.T) {
	db := setupTestDatabase(t)
	assignments := NewAssignmentStore(db)

	assignment, client, contractor := createTestAssignment(t, db)

	_, err := assignments.UpdateStatus(ctx(), assignment.ID, contractor.ID, StatusCompleted)
	require.ErrorIs(t, err, ErrConflict)

	_, err = assignments.UpdateStatus(ctx(), assignment.ID, client.ID, StatusAccepted)
	require.ErrorIs(t, err, ErrConflict)
	assert.Contains(t, err.Error(), "cannot accept a task that is not completed")
}

func TestAssignmentStore_UpdateStatus_NoRegression(t *testing.T) {
	db := setupTestDatabase(t)
	assignments := NewAssignmentStore(db)

	assignment, _, contractor := createTestAssignment(t, db)

	_, err := assignments.UpdateStatus(ctx(), assignment.ID, contractor.ID, StatusInProgress)
	require.NoError(t, err)

	_, err = assignments.UpdateStatus(ctx(), assignment.ID, contractor.ID, StatusInProgress)
	require.ErrorIs(t, err, ErrConflict)
}

func TestAssignmentStore_ListForUser(t *testing.T) {
	db := setupTestDatabase(t)
	assignments := NewAssignmentStore(db)

	assignment, client, contractor := createTestAssignment(t, db)
	stranger := createTestUser(t, db, RoleContractor)

	forClient, err := assignments.ListForUser(ctx(), client.ID, "")
	require.NoError(t, err)
	require.Len(t, forClient, 1)
	assert.Equal(t, assignment.ID, forClient[0].ID)

	forContractor, err := assignments.ListForUser(ctx(), contractor.ID, StatusNew)
	require.NoError(t, err)
	require.Len(t, forContractor, 1)

	done, err := assignments.ListForUser(ctx(), contractor.ID, StatusAccepted)
	require.NoError(t, err)
	assert.Empty(t, done)

	none, err := assignments.ListForUser(ctx(), stranger.ID, "")
	require.NoError(t, err)
	assert.Empty(t, none)
}
