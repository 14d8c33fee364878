// Package directorytest is a conformance suite every walletauth.UserDirectory
// implementation must pass.
package directorytest

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	walletauth "github.com/MrEthical07/walletauth"
)

// Factory returns an empty directory. It is called once per subtest.
type Factory func(t *testing.T) walletauth.UserDirectory

const (
	walletA = "0x52908400098527886e0f7030069857d2e4169ee7"
	walletB = "0x8617e340b3d01fa5f11f306f4090fd50e238070d"
)

// Run executes the suite against directories produced by newDir.
func Run(t *testing.T, newDir Factory) {
	tests := []struct {
		name string
		fn   func(*testing.T, walletauth.UserDirectory)
	}{
		{"CreateAndFind", testCreateAndFind},
		{"FindMissing", testFindMissing},
		{"EmailConflict", testEmailConflict},
		{"WalletConflict", testWalletConflict},
		{"UpdateFields", testUpdateFields},
		{"UpdateUnknown", testUpdateUnknown},
		{"UpdateConflict", testUpdateConflict},
		{"UnlinkFreesWallet", testUnlinkFreesWallet},
		{"ConcurrentCreate", testConcurrentCreate},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tc.fn(t, newDir(t))
		})
	}
}

func testCreateAndFind(t *testing.T, dir walletauth.UserDirectory) {
	ctx := context.Background()
	login := time.Now().UTC().Truncate(time.Millisecond)

	created, err := dir.Create(ctx, walletauth.CreateUserInput{
		Email:         "Ada@Example.com ",
		WalletAddress: strings.ToUpper(walletA[:2]) + strings.ToUpper(walletA[2:]),
		IsVerified:    true,
		Roles:         []string{"scholar", "admin"},
		LastLogin:     login,
	})
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)
	require.Equal(t, "ada@example.com", created.Email)
	require.Equal(t, walletA, created.WalletAddress)
	require.True(t, created.IsVerified)
	require.Equal(t, []string{"scholar", "admin"}, created.Roles)
	require.WithinDuration(t, login, created.LastLogin, time.Millisecond)
	require.False(t, created.CreatedAt.IsZero())

	byEmail, err := dir.FindByEmail(ctx, " ADA@example.com")
	require.NoError(t, err)
	require.NotNil(t, byEmail)
	require.Equal(t, created.ID, byEmail.ID)

	byWallet, err := dir.FindByWallet(ctx, strings.ToUpper(walletA))
	require.NoError(t, err)
	require.NotNil(t, byWallet)
	require.Equal(t, created.ID, byWallet.ID)

	byID, err := dir.FindByID(ctx, created.ID)
	require.NoError(t, err)
	require.NotNil(t, byID)
	require.Equal(t, created.Roles, byID.Roles)
}

func testFindMissing(t *testing.T, dir walletauth.UserDirectory) {
	ctx := context.Background()

	u, err := dir.FindByEmail(ctx, "nobody@example.com")
	require.NoError(t, err)
	require.Nil(t, u)

	u, err = dir.FindByWallet(ctx, walletB)
	require.NoError(t, err)
	require.Nil(t, u)

	u, err = dir.FindByID(ctx, "not-a-uuid")
	require.NoError(t, err)
	require.Nil(t, u)

	u, err = dir.FindByID(ctx, "7b0c6f02-41a5-4b0e-8f59-9c9f3b3f0d11")
	require.NoError(t, err)
	require.Nil(t, u)
}

func testEmailConflict(t *testing.T, dir walletauth.UserDirectory) {
	ctx := context.Background()

	_, err := dir.Create(ctx, walletauth.CreateUserInput{Email: "dup@example.com", Roles: []string{"scholar"}})
	require.NoError(t, err)

	_, err = dir.Create(ctx, walletauth.CreateUserInput{Email: "DUP@example.com", Roles: []string{"scholar"}})
	require.ErrorIs(t, err, walletauth.ErrUserConflict)
}

func testWalletConflict(t *testing.T, dir walletauth.UserDirectory) {
	ctx := context.Background()

	_, err := dir.Create(ctx, walletauth.CreateUserInput{Email: walletauth.PlaceholderEmail(walletA), WalletAddress: walletA})
	require.NoError(t, err)

	_, err = dir.Create(ctx, walletauth.CreateUserInput{Email: "other@example.com", WalletAddress: walletA})
	require.ErrorIs(t, err, walletauth.ErrUserConflict)
}

func testUpdateFields(t *testing.T, dir walletauth.UserDirectory) {
	ctx := context.Background()

	u, err := dir.Create(ctx, walletauth.CreateUserInput{Email: "up@example.com", Roles: []string{"scholar"}})
	require.NoError(t, err)
	require.False(t, u.IsVerified)
	require.Empty(t, u.WalletAddress)

	verified := true
	wallet := walletB
	login := time.Now().UTC().Truncate(time.Millisecond)
	updated, err := dir.Update(ctx, u.ID, walletauth.UserPatch{
		IsVerified:    &verified,
		WalletAddress: &wallet,
		LastLogin:     &login,
		Roles:         []string{"scholar", "mentor"},
	})
	require.NoError(t, err)
	require.Equal(t, u.ID, updated.ID)
	require.True(t, updated.IsVerified)
	require.Equal(t, walletB, updated.WalletAddress)
	require.Equal(t, []string{"scholar", "mentor"}, updated.Roles)
	require.WithinDuration(t, login, updated.LastLogin, time.Millisecond)
	require.Equal(t, "up@example.com", updated.Email)
	require.False(t, updated.UpdatedAt.Before(u.UpdatedAt))

	// An empty patch leaves fields alone.
	same, err := dir.Update(ctx, u.ID, walletauth.UserPatch{})
	require.NoError(t, err)
	require.Equal(t, updated.WalletAddress, same.WalletAddress)
	require.Equal(t, updated.Roles, same.Roles)
}

func testUpdateUnknown(t *testing.T, dir walletauth.UserDirectory) {
	verified := true
	_, err := dir.Update(context.Background(), "7b0c6f02-41a5-4b0e-8f59-9c9f3b3f0d11", walletauth.UserPatch{IsVerified: &verified})
	require.ErrorIs(t, err, walletauth.ErrUserNotFound)

	_, err = dir.Update(context.Background(), "garbage", walletauth.UserPatch{IsVerified: &verified})
	require.ErrorIs(t, err, walletauth.ErrUserNotFound)
}

func testUpdateConflict(t *testing.T, dir walletauth.UserDirectory) {
	ctx := context.Background()

	_, err := dir.Create(ctx, walletauth.CreateUserInput{Email: "holder@example.com", WalletAddress: walletA})
	require.NoError(t, err)
	other, err := dir.Create(ctx, walletauth.CreateUserInput{Email: "other@example.com"})
	require.NoError(t, err)

	wallet := walletA
	_, err = dir.Update(ctx, other.ID, walletauth.UserPatch{WalletAddress: &wallet})
	require.ErrorIs(t, err, walletauth.ErrUserConflict)
}

func testUnlinkFreesWallet(t *testing.T, dir walletauth.UserDirectory) {
	ctx := context.Background()

	first, err := dir.Create(ctx, walletauth.CreateUserInput{Email: "first@example.com", WalletAddress: walletA})
	require.NoError(t, err)

	empty := ""
	cleared, err := dir.Update(ctx, first.ID, walletauth.UserPatch{WalletAddress: &empty})
	require.NoError(t, err)
	require.Empty(t, cleared.WalletAddress)

	found, err := dir.FindByWallet(ctx, walletA)
	require.NoError(t, err)
	require.Nil(t, found)

	// Two accounts without a wallet must not collide on the wallet index.
	_, err = dir.Create(ctx, walletauth.CreateUserInput{Email: "second@example.com"})
	require.NoError(t, err)

	_, err = dir.Create(ctx, walletauth.CreateUserInput{Email: "third@example.com", WalletAddress: walletA})
	require.NoError(t, err)
}

func testConcurrentCreate(t *testing.T, dir walletauth.UserDirectory) {
	ctx := context.Background()

	const workers = 8
	var wins, conflicts atomic.Int32
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			_, err := dir.Create(ctx, walletauth.CreateUserInput{
				Email:         walletauth.PlaceholderEmail(walletB),
				WalletAddress: walletB,
				IsVerified:    true,
			})
			switch {
			case err == nil:
				wins.Add(1)
			case walletauth.KindOf(err) == walletauth.KindConflict:
				conflicts.Add(1)
			}
		}()
	}
	wg.Wait()

	require.EqualValues(t, 1, wins.Load())
	require.EqualValues(t, workers-1, conflicts.Load())
}
