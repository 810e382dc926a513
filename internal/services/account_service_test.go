package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/BradenHooton/authemail/internal/models"
	pkgauth "github.com/BradenHooton/authemail/pkg/auth"
	pkghttp "github.com/BradenHooton/authemail/pkg/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lastCode(t *testing.T, h *accountHarness) string {
	t.Helper()
	mail, ok := h.mailer.Last()
	require.True(t, ok, "no mail sent")
	require.NotEmpty(t, mail.Data["code"])
	return mail.Data["code"]
}

func signupVerified(t *testing.T, h *accountHarness, email string) *models.Account {
	t.Helper()
	ctx := context.Background()

	_, err := h.svc.Signup(ctx, SignupInput{Email: email, Password: testPassword, FirstName: "Ada"}, testMeta)
	require.NoError(t, err)
	account, _, err := h.svc.SignupVerify(ctx, lastCode(t, h), testMeta)
	require.NoError(t, err)
	return account
}

func putAccount(t *testing.T, h *accountHarness, email string, verified, active bool) *models.Account {
	t.Helper()
	hash, err := pkgauth.HashPassword(testPassword)
	require.NoError(t, err)
	return h.store.putAccount(models.Account{Email: email, PasswordHash: hash, IsVerified: verified, IsActive: active})
}

func TestSignup_NewAccount(t *testing.T) {
	h := newAccountHarness(t, verifyingOptions())

	account, err := h.svc.Signup(context.Background(), SignupInput{
		Email:     "  A@Co.com ",
		Password:  testPassword,
		FirstName: "Ada",
		LastName:  "Lovelace",
	}, testMeta)
	require.NoError(t, err)

	assert.Equal(t, "a@co.com", account.Email)
	assert.False(t, account.IsVerified)
	assert.True(t, account.IsActive)
	assert.NotEqual(t, testPassword, account.PasswordHash)
	assert.Equal(t, 1, h.store.codeCount(models.CodeKindSignup, account.ID))
	assert.Equal(t, 1, h.store.auditCount(account.ID, models.AuditEventAccountSignup))

	mail, ok := h.mailer.Last()
	require.True(t, ok)
	assert.Equal(t, TemplateSignup, mail.Template)
	assert.Equal(t, "a@co.com", mail.Recipient)
	assert.Equal(t, "Ada", mail.Data["first_name"])
	assert.Len(t, mail.Data["code"], 40)

	code, err := h.store.Codes().GetByAccount(context.Background(), models.CodeKindSignup, account.ID)
	require.NoError(t, err)
	require.NotNil(t, code.IPAddress)
	assert.Equal(t, "203.0.113.7", *code.IPAddress)

	entry, err := h.audit.MostRecent(context.Background(), account.ID, models.AuditEventAccountSignup)
	require.NoError(t, err)
	require.NotNil(t, entry.Fingerprint)
	assert.Equal(t, testUA, entry.Fingerprint.UserAgent)
}

func TestSignup_VerifiedEmailTaken(t *testing.T) {
	h := newAccountHarness(t, verifyingOptions())
	existing := putAccount(t, h, "a@co.com", true, true)

	_, err := h.svc.Signup(context.Background(), SignupInput{Email: "a@co.com", Password: testPassword}, testMeta)

	assert.ErrorIs(t, err, models.ErrEmailTaken)
	assert.ErrorIs(t, err, models.ErrConflict)
	assert.Equal(t, 0, h.store.codeCount(models.CodeKindSignup, existing.ID))
	assert.Empty(t, h.mailer.Sent())
}

func TestSignup_TwiceBeforeVerifying(t *testing.T) {
	h := newAccountHarness(t, verifyingOptions())
	ctx := context.Background()

	first, err := h.svc.Signup(ctx, SignupInput{Email: "a@co.com", Password: testPassword, FirstName: "Ada"}, testMeta)
	require.NoError(t, err)
	firstCode := lastCode(t, h)

	second, err := h.svc.Signup(ctx, SignupInput{Email: "a@co.com", FirstName: "Grace", LastName: "Hopper"}, testMeta)
	require.NoError(t, err)
	secondCode := lastCode(t, h)

	assert.Equal(t, first.ID, second.ID)
	assert.NotEqual(t, firstCode, secondCode)
	assert.Equal(t, 1, h.store.codeCount(models.CodeKindSignup, first.ID))
	assert.Equal(t, "Grace", second.FirstName)
	assert.Equal(t, "Hopper", second.LastName)
	assert.Equal(t, first.PasswordHash, second.PasswordHash, "password kept when not given")

	_, _, err = h.svc.SignupVerify(ctx, firstCode, testMeta)
	assert.ErrorIs(t, err, models.ErrVerificationFailed)
}

func TestSignup_WithoutEmailVerification(t *testing.T) {
	h := newAccountHarness(t, AccountOptions{PasswordPolicy: pkgauth.DefaultPasswordPolicy()})

	account, err := h.svc.Signup(context.Background(), SignupInput{Email: "a@co.com", Password: testPassword}, testMeta)
	require.NoError(t, err)

	assert.True(t, account.IsVerified)
	assert.Equal(t, 0, h.store.codeCount(models.CodeKindSignup, account.ID))
	assert.Equal(t, 0, h.store.auditCount(account.ID, models.AuditEventAccountSignup))

	mail, ok := h.mailer.Last()
	require.True(t, ok)
	assert.Equal(t, TemplateWelcome, mail.Template)
	assert.Equal(t, map[string]string{"email": "a@co.com"}, mail.Data)
}

func TestSignup_WeakPasswordRejected(t *testing.T) {
	h := newAccountHarness(t, verifyingOptions())

	_, err := h.svc.Signup(context.Background(), SignupInput{Email: "a@co.com", Password: "short"}, testMeta)

	var verr *models.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "password", verr.Field)
	assert.Empty(t, h.mailer.Sent())
}

func TestSignup_MailFailureDoesNotFail(t *testing.T) {
	h := newAccountHarness(t, verifyingOptions())
	h.mailer.err = errors.New("smtp down")

	account, err := h.svc.Signup(context.Background(), SignupInput{Email: "a@co.com", Password: testPassword}, testMeta)

	require.NoError(t, err)
	assert.Equal(t, 1, h.store.codeCount(models.CodeKindSignup, account.ID))
}

func TestSignupVerify(t *testing.T) {
	h := newAccountHarness(t, verifyingOptions())
	ctx := context.Background()

	created, err := h.svc.Signup(ctx, SignupInput{Email: "a@co.com", Password: testPassword}, testMeta)
	require.NoError(t, err)
	code := lastCode(t, h)

	_, _, err = h.svc.SignupVerify(ctx, "wrong", testMeta)
	assert.ErrorIs(t, err, models.ErrVerificationFailed)

	account, token, err := h.svc.SignupVerify(ctx, code, testMeta)
	require.NoError(t, err)
	assert.True(t, account.IsVerified)
	assert.Equal(t, "token-"+created.ID, token)
	require.NotNil(t, account.LastLogin)
	assert.Equal(t, 0, h.store.codeCount(models.CodeKindSignup, created.ID))

	_, _, err = h.svc.SignupVerify(ctx, code, testMeta)
	assert.ErrorIs(t, err, models.ErrVerificationFailed)
}

func TestSignupVerify_ExpiredCodeDeleted(t *testing.T) {
	h := newAccountHarness(t, verifyingOptions())
	ctx := context.Background()

	created, err := h.svc.Signup(ctx, SignupInput{Email: "a@co.com", Password: testPassword}, testMeta)
	require.NoError(t, err)
	code := lastCode(t, h)

	h.clock.Set(h.clock.Now().AddDate(0, 0, 4))

	_, _, err = h.svc.SignupVerify(ctx, code, testMeta)
	assert.ErrorIs(t, err, models.ErrVerificationFailed)
	assert.Equal(t, 0, h.store.codeCount(models.CodeKindSignup, created.ID))

	stored, err := h.store.Accounts().GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsVerified)
}

func TestSignupVerify_StrictUserAgent(t *testing.T) {
	opts := verifyingOptions()
	opts.StrictUserAgent = true

	t.Run("same user agent", func(t *testing.T) {
		h := newAccountHarness(t, opts)
		_, err := h.svc.Signup(context.Background(), SignupInput{Email: "a@co.com"}, testMeta)
		require.NoError(t, err)

		_, _, err = h.svc.SignupVerify(context.Background(), lastCode(t, h), testMeta)
		assert.NoError(t, err)
	})

	t.Run("different user agent keeps the code", func(t *testing.T) {
		h := newAccountHarness(t, opts)
		account, err := h.svc.Signup(context.Background(), SignupInput{Email: "a@co.com"}, testMeta)
		require.NoError(t, err)

		other := pkghttp.RequestMeta{IPAddress: testMeta.IPAddress, UserAgent: "curl/8.4.0"}
		_, _, err = h.svc.SignupVerify(context.Background(), lastCode(t, h), other)
		assert.ErrorIs(t, err, models.ErrVerificationFailed)
		assert.Equal(t, 1, h.store.codeCount(models.CodeKindSignup, account.ID))
	})

	t.Run("absent user agent on both sides", func(t *testing.T) {
		h := newAccountHarness(t, opts)
		bare := pkghttp.RequestMeta{IPAddress: testMeta.IPAddress}
		_, err := h.svc.Signup(context.Background(), SignupInput{Email: "a@co.com"}, bare)
		require.NoError(t, err)

		_, _, err = h.svc.SignupVerify(context.Background(), lastCode(t, h), bare)
		assert.NoError(t, err)
	})

	t.Run("latest signup entry wins", func(t *testing.T) {
		h := newAccountHarness(t, opts)
		_, err := h.svc.Signup(context.Background(), SignupInput{Email: "a@co.com"}, testMeta)
		require.NoError(t, err)

		phone := pkghttp.RequestMeta{UserAgent: "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X)"}
		_, err = h.svc.Signup(context.Background(), SignupInput{Email: "a@co.com"}, phone)
		require.NoError(t, err)
		code := lastCode(t, h)

		_, _, err = h.svc.SignupVerify(context.Background(), code, testMeta)
		assert.ErrorIs(t, err, models.ErrVerificationFailed)
		_, _, err = h.svc.SignupVerify(context.Background(), code, phone)
		assert.NoError(t, err)
	})
}

func TestLogin(t *testing.T) {
	tests := []struct {
		name     string
		verified bool
		active   bool
		password string
		wantErr  error
	}{
		{"success", true, true, testPassword, nil},
		{"wrong password", true, true, "not-the-password", models.ErrInvalidCredentials},
		{"wrong password beats not verified", false, false, "not-the-password", models.ErrInvalidCredentials},
		{"not verified", false, true, testPassword, models.ErrAccountNotVerified},
		{"not verified beats not active", false, false, testPassword, models.ErrAccountNotVerified},
		{"not active", true, false, testPassword, models.ErrAccountNotActive},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newAccountHarness(t, verifyingOptions())
			account := putAccount(t, h, "a@co.com", tt.verified, tt.active)

			got, token, err := h.svc.Login(context.Background(), "A@co.com", tt.password, testMeta)

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.ErrorIs(t, err, models.ErrUnauthorized)
				assert.Empty(t, token)
				assert.Equal(t, 0, h.store.auditCount(account.ID, models.AuditEventLogin))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, account.ID, got.ID)
			assert.NotEmpty(t, token)
			assert.NotNil(t, got.LastLogin)
			assert.Equal(t, 1, h.store.auditCount(account.ID, models.AuditEventLogin))
		})
	}
}

func TestLogin_UnknownEmail(t *testing.T) {
	h := newAccountHarness(t, verifyingOptions())

	_, _, err := h.svc.Login(context.Background(), "nobody@co.com", testPassword, testMeta)

	assert.ErrorIs(t, err, models.ErrInvalidCredentials)
}

func TestLogout_RotatesTokenKey(t *testing.T) {
	h := newAccountHarness(t, verifyingOptions())
	account := putAccount(t, h, "a@co.com", true, true)

	require.NoError(t, h.svc.Logout(context.Background(), account))

	stored, err := h.store.Accounts().GetByID(context.Background(), account.ID)
	require.NoError(t, err)
	assert.NotEqual(t, account.TokenKey, stored.TokenKey)
}

func TestPasswordResetRequest_EnumerationResistance(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(t *testing.T, h *accountHarness) *models.Account
		wantCode bool
	}{
		{"no account", func(t *testing.T, h *accountHarness) *models.Account { return nil }, false},
		{"unverified", func(t *testing.T, h *accountHarness) *models.Account { return putAccount(t, h, "a@co.com", false, true) }, false},
		{"inactive", func(t *testing.T, h *accountHarness) *models.Account { return putAccount(t, h, "a@co.com", true, false) }, false},
		{"verified and active", func(t *testing.T, h *accountHarness) *models.Account { return putAccount(t, h, "a@co.com", true, true) }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newAccountHarness(t, verifyingOptions())
			account := tt.setup(t, h)

			err := h.svc.PasswordResetRequest(context.Background(), "a@co.com", testMeta)
			require.NoError(t, err)

			if !tt.wantCode {
				assert.Empty(t, h.mailer.Sent())
				if account != nil {
					assert.Equal(t, 0, h.store.codeCount(models.CodeKindPasswordReset, account.ID))
					assert.Equal(t, 0, h.store.auditCount(account.ID, models.AuditEventResetPasswordRequest))
				}
				return
			}
			assert.Equal(t, 1, h.store.codeCount(models.CodeKindPasswordReset, account.ID))
			assert.Equal(t, 1, h.store.auditCount(account.ID, models.AuditEventResetPasswordRequest))
			mail, ok := h.mailer.Last()
			require.True(t, ok)
			assert.Equal(t, TemplatePasswordReset, mail.Template)
		})
	}
}

func TestPasswordResetRequest_InvalidatesOldCodeForUnverified(t *testing.T) {
	h := newAccountHarness(t, verifyingOptions())
	account := putAccount(t, h, "a@co.com", false, true)
	_, err := h.codes.Issue(context.Background(), models.CodeKindPasswordReset, account.ID, models.CodePayload{})
	require.NoError(t, err)

	require.NoError(t, h.svc.PasswordResetRequest(context.Background(), "a@co.com", testMeta))

	assert.Equal(t, 0, h.store.codeCount(models.CodeKindPasswordReset, account.ID))
}

func TestPasswordReset_Flow(t *testing.T) {
	h := newAccountHarness(t, verifyingOptions())
	ctx := context.Background()
	account := putAccount(t, h, "a@co.com", true, true)

	require.NoError(t, h.svc.PasswordResetRequest(ctx, "a@co.com", testMeta))
	code := lastCode(t, h)

	require.NoError(t, h.svc.PasswordResetVerify(ctx, code))
	require.NoError(t, h.svc.PasswordResetVerify(ctx, code), "verify does not consume")

	require.NoError(t, h.svc.PasswordResetVerified(ctx, code, "a-brand-new-secret", testMeta))
	assert.ErrorIs(t, h.svc.PasswordResetVerify(ctx, code), models.ErrVerificationFailed)
	assert.ErrorIs(t, h.svc.PasswordResetVerified(ctx, code, "another-new-secret", testMeta), models.ErrVerificationFailed)

	assert.Equal(t, 1, h.store.auditCount(account.ID, models.AuditEventPasswordUpdated))
	_, _, err := h.svc.Login(ctx, "a@co.com", "a-brand-new-secret", testMeta)
	assert.NoError(t, err)
}

func TestPasswordResetVerified_InvalidPasswordKeepsCode(t *testing.T) {
	h := newAccountHarness(t, verifyingOptions())
	ctx := context.Background()
	account := putAccount(t, h, "a@co.com", true, true)
	require.NoError(t, h.svc.PasswordResetRequest(ctx, "a@co.com", testMeta))

	err := h.svc.PasswordResetVerified(ctx, lastCode(t, h), "short", testMeta)

	assert.ErrorIs(t, err, models.ErrValidation)
	assert.Equal(t, 1, h.store.codeCount(models.CodeKindPasswordReset, account.ID))
}

func TestPasswordResetVerified_ExpiredCodeDeleted(t *testing.T) {
	h := newAccountHarness(t, verifyingOptions())
	ctx := context.Background()
	account := putAccount(t, h, "a@co.com", true, true)
	require.NoError(t, h.svc.PasswordResetRequest(ctx, "a@co.com", testMeta))
	code := lastCode(t, h)

	h.clock.Set(h.clock.Now().AddDate(0, 0, 4))

	err := h.svc.PasswordResetVerified(ctx, code, "a-brand-new-secret", testMeta)
	assert.ErrorIs(t, err, models.ErrVerificationFailed)
	assert.Equal(t, 0, h.store.codeCount(models.CodeKindPasswordReset, account.ID))
	assert.Equal(t, 0, h.store.auditCount(account.ID, models.AuditEventPasswordUpdated))

	_, _, err = h.svc.Login(ctx, "a@co.com", testPassword, testMeta)
	assert.NoError(t, err, "old password still valid")
}

func TestPasswordResetVerify_Expired(t *testing.T) {
	h := newAccountHarness(t, verifyingOptions())
	ctx := context.Background()
	account := putAccount(t, h, "a@co.com", true, true)
	require.NoError(t, h.svc.PasswordResetRequest(ctx, "a@co.com", testMeta))
	code := lastCode(t, h)

	h.clock.Set(h.clock.Now().AddDate(0, 0, 3))
	require.NoError(t, h.svc.PasswordResetVerify(ctx, code), "exactly the window is still valid")

	h.clock.Set(h.clock.Now().AddDate(0, 0, 1))
	assert.ErrorIs(t, h.svc.PasswordResetVerify(ctx, code), models.ErrVerificationFailed)
	assert.Equal(t, 0, h.store.codeCount(models.CodeKindPasswordReset, account.ID))
}

func TestPasswordChange(t *testing.T) {
	h := newAccountHarness(t, verifyingOptions())
	ctx := context.Background()
	account := putAccount(t, h, "a@co.com", true, true)

	require.NoError(t, h.svc.PasswordChange(ctx, account, "a-brand-new-secret", testMeta))
	assert.Equal(t, 1, h.store.auditCount(account.ID, models.AuditEventPasswordUpdated))

	_, _, err := h.svc.Login(ctx, "a@co.com", "a-brand-new-secret", testMeta)
	assert.NoError(t, err)
}

func TestPasswordChange_RejectsPasswordOverBcryptLimit(t *testing.T) {
	h := newAccountHarness(t, verifyingOptions())
	ctx := context.Background()
	account := putAccount(t, h, "a@co.com", true, true)

	err := h.svc.PasswordChange(ctx, account, strings.Repeat("x", 100), testMeta)

	assert.ErrorIs(t, err, models.ErrValidation)
	var verr *models.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "password", verr.Field)
	assert.Equal(t, 0, h.store.auditCount(account.ID, models.AuditEventPasswordUpdated))

	require.NoError(t, h.svc.PasswordChange(ctx, account, strings.Repeat("x", 72), testMeta))
}

func TestEmailChangeRequest_WrongPassword(t *testing.T) {
	h := newAccountHarness(t, verifyingOptions())
	account := putAccount(t, h, "a@co.com", true, true)

	err := h.svc.EmailChangeRequest(context.Background(), account, "nope-nope-nope", "b@co.com", testMeta)

	assert.ErrorIs(t, err, models.ErrInvalidCredentials)
	assert.Equal(t, 0, h.store.codeCount(models.CodeKindEmailChange, account.ID))
}

func TestEmailChangeRequest_TakenByVerified(t *testing.T) {
	h := newAccountHarness(t, verifyingOptions())
	ctx := context.Background()
	a := putAccount(t, h, "a@co.com", true, true)
	putAccount(t, h, "taken@co.com", true, true)

	require.NoError(t, h.svc.EmailChangeRequest(ctx, a, testPassword, "pending@co.com", testMeta))
	require.Equal(t, 1, h.store.codeCount(models.CodeKindEmailChange, a.ID))
	mailsBefore := len(h.mailer.Sent())

	err := h.svc.EmailChangeRequest(ctx, a, testPassword, "taken@co.com", testMeta)

	assert.ErrorIs(t, err, models.ErrEmailTaken)
	assert.Equal(t, 0, h.store.codeCount(models.CodeKindEmailChange, a.ID), "pending code invalidated")
	assert.Len(t, h.mailer.Sent(), mailsBefore)
}

func TestEmailChange_StealsFromUnverified(t *testing.T) {
	h := newAccountHarness(t, verifyingOptions())
	ctx := context.Background()
	a := putAccount(t, h, "a@co.com", true, true)
	c := putAccount(t, h, "free@co.com", false, true)

	require.NoError(t, h.svc.EmailChangeRequest(ctx, a, testPassword, "Free@co.com", testMeta))

	sent := h.mailer.Sent()
	require.Len(t, sent, 2)
	assert.Equal(t, TemplateEmailChangeNotifyPrevious, sent[0].Template)
	assert.Equal(t, "a@co.com", sent[0].Recipient)
	assert.Equal(t, TemplateEmailChangeConfirmNew, sent[1].Template)
	assert.Equal(t, "free@co.com", sent[1].Recipient)
	assert.Equal(t, sent[0].Data["code"], sent[1].Data["code"])
	assert.Equal(t, "free@co.com", sent[1].Data["email_new"])
	assert.Equal(t, 1, h.store.auditCount(a.ID, models.AuditEventChangeEmailRequest))

	require.NoError(t, h.svc.EmailChangeVerify(ctx, sent[1].Data["code"], testMeta))

	_, err := h.store.Accounts().GetByID(ctx, c.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)

	updated, err := h.store.Accounts().GetByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "free@co.com", updated.Email)
	assert.Equal(t, 0, h.store.codeCount(models.CodeKindEmailChange, a.ID))
	assert.Equal(t, 1, h.store.auditCount(a.ID, models.AuditEventEmailUpdated))
}

func TestEmailChangeVerify_HolderVerifiedMeanwhile(t *testing.T) {
	h := newAccountHarness(t, verifyingOptions())
	ctx := context.Background()
	a := putAccount(t, h, "a@co.com", true, true)

	require.NoError(t, h.svc.EmailChangeRequest(ctx, a, testPassword, "b@co.com", testMeta))
	code := lastCode(t, h)
	putAccount(t, h, "b@co.com", true, true)

	err := h.svc.EmailChangeVerify(ctx, code, testMeta)

	assert.ErrorIs(t, err, models.ErrEmailTaken)
	assert.Equal(t, 0, h.store.codeCount(models.CodeKindEmailChange, a.ID), "code dropped on conflict")
	stored, err := h.store.Accounts().GetByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "a@co.com", stored.Email)
}

func TestEmailChangeVerify_UnknownOrExpired(t *testing.T) {
	h := newAccountHarness(t, verifyingOptions())
	ctx := context.Background()
	a := putAccount(t, h, "a@co.com", true, true)

	assert.ErrorIs(t, h.svc.EmailChangeVerify(ctx, "missing", testMeta), models.ErrVerificationFailed)

	require.NoError(t, h.svc.EmailChangeRequest(ctx, a, testPassword, "b@co.com", testMeta))
	code := lastCode(t, h)
	h.clock.Set(h.clock.Now().Add(4 * 24 * time.Hour))

	assert.ErrorIs(t, h.svc.EmailChangeVerify(ctx, code, testMeta), models.ErrVerificationFailed)
	assert.Equal(t, 0, h.store.codeCount(models.CodeKindEmailChange, a.ID))
}

func TestSignupVerify_FullScenario(t *testing.T) {
	h := newAccountHarness(t, verifyingOptions())

	account := signupVerified(t, h, "a@co.com")

	assert.True(t, account.IsVerified)
	_, token, err := h.svc.Login(context.Background(), "a@co.com", testPassword, testMeta)
	require.NoError(t, err)
	assert.NotEmpty(t, token)
}

func TestVerifyAccount(t *testing.T) {
	h := newAccountHarness(t, verifyingOptions())
	ctx := context.Background()
	created, err := h.svc.Signup(ctx, SignupInput{Email: "a@co.com", Password: testPassword}, testMeta)
	require.NoError(t, err)

	account, err := h.svc.VerifyAccount(ctx, created.ID)
	require.NoError(t, err)

	assert.True(t, account.IsVerified)
	assert.Equal(t, 0, h.store.codeCount(models.CodeKindSignup, created.ID))

	_, err = h.svc.VerifyAccount(ctx, "00000000-0000-0000-0000-000000000000")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestBootstrapSuperuser(t *testing.T) {
	h := newAccountHarness(t, verifyingOptions())
	ctx := context.Background()

	created, err := h.svc.BootstrapSuperuser(ctx, "Admin@co.com", testPassword)
	require.NoError(t, err)
	assert.True(t, created.IsSuperuser)
	assert.True(t, created.IsStaff)
	assert.True(t, created.IsVerified)

	again, err := h.svc.BootstrapSuperuser(ctx, "admin@co.com", "another-strong-secret")
	require.NoError(t, err)
	assert.Equal(t, created.ID, again.ID)

	_, _, err = h.svc.Login(ctx, "admin@co.com", "another-strong-secret", testMeta)
	assert.NoError(t, err)
}
