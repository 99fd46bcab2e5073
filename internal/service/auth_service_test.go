package service

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tshla-medical/phicore/internal/domain"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

type memUserRepo struct {
	mu    sync.Mutex
	users map[uuid.UUID]*domain.User
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{users: make(map[uuid.UUID]*domain.User)}
}

func (r *memUserRepo) Create(_ context.Context, u *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.users {
		if strings.EqualFold(existing.Email, u.Email) {
			return ErrEmailTaken
		}
	}
	cp := *u
	r.users[u.ID] = &cp
	return nil
}

func (r *memUserRepo) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if strings.EqualFold(u.Email, email) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrUserNotFound
}

func (r *memUserRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *memUserRepo) Update(_ context.Context, u *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[u.ID]; !ok {
		return ErrUserNotFound
	}
	cp := *u
	r.users[u.ID] = &cp
	return nil
}

type authEnv struct {
	*sessionEnv
	auth *AuthService
	repo *memUserRepo
}

const strongPassword = "Str0ng!Passw0rd"

func newAuthEnv(t *testing.T) *authEnv {
	t.Helper()
	env := newSessionEnv(t)
	repo := newMemUserRepo()

	// MinCost keeps the bcrypt rounds out of the test runtime
	a := NewAuthService(repo, env.svc, env.svc.auditSvc, zap.NewNop(), nil, bcrypt.MinCost, "phicore-test")
	a.now = func() time.Time { return env.current }

	return &authEnv{sessionEnv: env, auth: a, repo: repo}
}

func (e *authEnv) register(t *testing.T, email string, role domain.Role) *RegisterResult {
	t.Helper()
	res, err := e.auth.Register(context.Background(), email, strongPassword, role)
	require.NoError(t, err)
	return res
}

func (e *authEnv) code(t *testing.T, secret string, at time.Time) string {
	t.Helper()
	code, err := totp.GenerateCode(secret, at)
	require.NoError(t, err)
	return code
}

func TestRegister(t *testing.T) {
	env := newAuthEnv(t)

	res := env.register(t, "dr.chen@example.org", domain.RolePhysician)
	assert.NotEmpty(t, res.MFASecret)
	assert.Contains(t, res.MFAEnrollmentURL, "phicore-test")
	assert.False(t, res.User.MFAEnabled, "enrollment is not complete until a code is verified")
	assert.NotEqual(t, strongPassword, res.User.PasswordHash)
	assert.NotContains(t, res.User.PasswordHash, strongPassword)
}

func TestRegister_WeakPasswords(t *testing.T) {
	env := newAuthEnv(t)

	cases := map[string]string{
		"too short":    "Ab1!",
		"no uppercase": "lowercase-0nly-pw!",
		"no lowercase": "UPPERCASE-0NLY-PW!",
		"no digit":     "No-Digits-Here!!",
		"no symbol":    "NoSymbolsHere123",
	}

	for name, password := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := env.auth.Register(context.Background(), "weak@example.org", password, domain.RoleNurse)
			var weak *WeakPasswordError
			require.ErrorAs(t, err, &weak)
			assert.NotEmpty(t, weak.Missing)
		})
	}
}

func TestRegister_DuplicateEmail(t *testing.T) {
	env := newAuthEnv(t)
	env.register(t, "dup@example.org", domain.RoleNurse)

	_, err := env.auth.Register(context.Background(), "dup@example.org", strongPassword, domain.RoleNurse)
	assert.ErrorIs(t, err, ErrEmailTaken)
}

func TestRegister_InvalidRole(t *testing.T) {
	env := newAuthEnv(t)
	_, err := env.auth.Register(context.Background(), "x@example.org", strongPassword, domain.Role("superuser"))
	assert.ErrorIs(t, err, ErrRoleInvalid)
}

func TestLogin_Success(t *testing.T) {
	env := newAuthEnv(t)
	env.register(t, "dr.chen@example.org", domain.RolePhysician)

	res, err := env.auth.Login(context.Background(), "dr.chen@example.org", strongPassword, "10.0.0.9")
	require.NoError(t, err)
	assert.False(t, res.MFARequired)
	assert.False(t, res.PasswordChangeRequired)

	resolved, err := env.svc.Resolve(res.Token)
	require.NoError(t, err)
	assert.Equal(t, domain.RolePhysician, resolved.Session.Role)
	assert.True(t, resolved.Session.HasPermission(domain.PermReadPatientData))
}

func TestLogin_GenericFailure(t *testing.T) {
	env := newAuthEnv(t)
	env.register(t, "dr.chen@example.org", domain.RolePhysician)

	// unknown email and wrong password must be indistinguishable
	_, unknownErr := env.auth.Login(context.Background(), "nobody@example.org", strongPassword, "10.0.0.9")
	_, wrongErr := env.auth.Login(context.Background(), "dr.chen@example.org", "Wrong-Passw0rd!", "10.0.0.9")

	assert.ErrorIs(t, unknownErr, ErrInvalidCredentials)
	assert.ErrorIs(t, wrongErr, ErrInvalidCredentials)
	assert.Equal(t, unknownErr.Error(), wrongErr.Error())
}

func TestLogin_LockoutAfterRepeatedFailures(t *testing.T) {
	env := newAuthEnv(t)
	env.register(t, "dr.chen@example.org", domain.RolePhysician)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := env.auth.Login(ctx, "dr.chen@example.org", "Wrong-Passw0rd!", "10.0.0.9")
		assert.ErrorIs(t, err, ErrInvalidCredentials, "attempt %d", i+1)
	}

	// the correct password is refused while the lockout holds
	_, err := env.auth.Login(ctx, "dr.chen@example.org", strongPassword, "10.0.0.9")
	assert.ErrorIs(t, err, ErrAccountLocked)

	// and accepted once the lockout lapses, with the counter reset
	env.advance(30*time.Minute + time.Second)
	_, err = env.auth.Login(ctx, "dr.chen@example.org", strongPassword, "10.0.0.9")
	require.NoError(t, err)

	_, err = env.auth.Login(ctx, "dr.chen@example.org", "Wrong-Passw0rd!", "10.0.0.9")
	assert.ErrorIs(t, err, ErrInvalidCredentials, "one failure after a reset must not lock")
	_, err = env.auth.Login(ctx, "dr.chen@example.org", strongPassword, "10.0.0.9")
	assert.NoError(t, err)
}

func TestLogin_DeactivatedAccount(t *testing.T) {
	env := newAuthEnv(t)
	res := env.register(t, "dr.chen@example.org", domain.RolePhysician)
	ctx := context.Background()

	user, err := env.repo.GetByID(ctx, res.User.ID)
	require.NoError(t, err)
	user.IsActive = false
	require.NoError(t, env.repo.Update(ctx, user))

	// the correct password must not authenticate a deactivated account, and
	// the refusal must look exactly like a bad password
	_, err = env.auth.Login(ctx, "dr.chen@example.org", strongPassword, "10.0.0.9")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestDeactivationRevokesAccountOperations(t *testing.T) {
	env := newAuthEnv(t)
	res := env.register(t, "dr.chen@example.org", domain.RolePhysician)
	ctx := context.Background()

	require.NoError(t, env.auth.EnableMFA(ctx, res.User.ID, env.code(t, res.MFASecret, env.current)))
	login, err := env.auth.Login(ctx, "dr.chen@example.org", strongPassword, "10.0.0.9")
	require.NoError(t, err)

	user, err := env.repo.GetByID(ctx, res.User.ID)
	require.NoError(t, err)
	user.IsActive = false
	require.NoError(t, env.repo.Update(ctx, user))

	// a still-valid session token stops working for account operations once
	// the account is deactivated
	_, err = env.auth.VerifyMFA(ctx, login.Token, env.code(t, res.MFASecret, env.current))
	assert.ErrorIs(t, err, ErrAuthenticationRequired)

	err = env.auth.ChangePassword(ctx, res.User.ID, strongPassword, "New!Passw0rd-2026")
	assert.ErrorIs(t, err, ErrAuthenticationRequired)

	err = env.auth.EnableMFA(ctx, res.User.ID, env.code(t, res.MFASecret, env.current))
	assert.ErrorIs(t, err, ErrAuthenticationRequired)
}

func TestLogin_StalePasswordRequiresChange(t *testing.T) {
	env := newAuthEnv(t)
	res := env.register(t, "dr.chen@example.org", domain.RolePhysician)
	ctx := context.Background()

	user, err := env.repo.GetByID(ctx, res.User.ID)
	require.NoError(t, err)
	user.PasswordChangedAt = env.current.Add(-91 * 24 * time.Hour)
	require.NoError(t, env.repo.Update(ctx, user))

	login, err := env.auth.Login(ctx, "dr.chen@example.org", strongPassword, "10.0.0.9")
	require.NoError(t, err)
	assert.True(t, login.PasswordChangeRequired)
}

func TestEnableMFA_ThenVerify(t *testing.T) {
	env := newAuthEnv(t)
	res := env.register(t, "dr.chen@example.org", domain.RolePhysician)
	ctx := context.Background()

	// enrollment requires proving possession of the secret
	require.ErrorIs(t, env.auth.EnableMFA(ctx, res.User.ID, "000000"), ErrMFAInvalid)
	require.NoError(t, env.auth.EnableMFA(ctx, res.User.ID, env.code(t, res.MFASecret, env.current)))

	login, err := env.auth.Login(ctx, "dr.chen@example.org", strongPassword, "10.0.0.9")
	require.NoError(t, err)
	assert.True(t, login.MFARequired)
	assert.False(t, login.Session.MFAVerified)

	elevated, err := env.auth.VerifyMFA(ctx, login.Token, env.code(t, res.MFASecret, env.current))
	require.NoError(t, err)
	assert.True(t, elevated.Session.MFAVerified)

	resolved, err := env.svc.Resolve(elevated.Token)
	require.NoError(t, err)
	assert.True(t, resolved.Session.MFAVerified)
}

func TestVerifyMFA_WrongCode(t *testing.T) {
	env := newAuthEnv(t)
	res := env.register(t, "dr.chen@example.org", domain.RolePhysician)
	ctx := context.Background()

	require.NoError(t, env.auth.EnableMFA(ctx, res.User.ID, env.code(t, res.MFASecret, env.current)))
	login, err := env.auth.Login(ctx, "dr.chen@example.org", strongPassword, "10.0.0.9")
	require.NoError(t, err)

	_, err = env.auth.VerifyMFA(ctx, login.Token, "000000")
	assert.ErrorIs(t, err, ErrMFAInvalid)
}

func TestVerifyMFA_NotEnrolled(t *testing.T) {
	env := newAuthEnv(t)
	env.register(t, "dr.chen@example.org", domain.RolePhysician)
	ctx := context.Background()

	login, err := env.auth.Login(ctx, "dr.chen@example.org", strongPassword, "10.0.0.9")
	require.NoError(t, err)

	_, err = env.auth.VerifyMFA(ctx, login.Token, "123456")
	assert.ErrorIs(t, err, ErrMFANotEnabled)
}

func TestVerifyMFA_ClockSkewWindow(t *testing.T) {
	env := newAuthEnv(t)
	res := env.register(t, "dr.chen@example.org", domain.RolePhysician)
	ctx := context.Background()

	// align the verifier clock to a step boundary so the skew math is exact
	env.current = env.current.Truncate(30 * time.Second)
	require.NoError(t, env.auth.EnableMFA(ctx, res.User.ID, env.code(t, res.MFASecret, env.current)))

	login := func(t *testing.T) string {
		t.Helper()
		r, err := env.auth.Login(ctx, "dr.chen@example.org", strongPassword, "10.0.0.9")
		require.NoError(t, err)
		return r.Token
	}

	// codes from two steps away in either direction still pass
	for _, offset := range []time.Duration{-60 * time.Second, 60 * time.Second} {
		_, err := env.auth.VerifyMFA(ctx, login(t), env.code(t, res.MFASecret, env.current.Add(offset)))
		assert.NoError(t, err, "offset %s", offset)
	}

	// three steps away does not
	for _, offset := range []time.Duration{-90 * time.Second, 90 * time.Second} {
		_, err := env.auth.VerifyMFA(ctx, login(t), env.code(t, res.MFASecret, env.current.Add(offset)))
		assert.ErrorIs(t, err, ErrMFAInvalid, "offset %s", offset)
	}
}

func TestChangePassword(t *testing.T) {
	env := newAuthEnv(t)
	res := env.register(t, "dr.chen@example.org", domain.RolePhysician)
	ctx := context.Background()

	err := env.auth.ChangePassword(ctx, res.User.ID, "Wrong-Passw0rd!", "New!Passw0rd-2026")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	err = env.auth.ChangePassword(ctx, res.User.ID, strongPassword, "short")
	var weak *WeakPasswordError
	assert.ErrorAs(t, err, &weak)

	require.NoError(t, env.auth.ChangePassword(ctx, res.User.ID, strongPassword, "New!Passw0rd-2026"))

	_, err = env.auth.Login(ctx, "dr.chen@example.org", strongPassword, "10.0.0.9")
	assert.ErrorIs(t, err, ErrInvalidCredentials, "the old password must stop working")
	_, err = env.auth.Login(ctx, "dr.chen@example.org", "New!Passw0rd-2026", "10.0.0.9")
	assert.NoError(t, err)
}
