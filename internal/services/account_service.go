package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/authemail/internal/auth"
	"github.com/BradenHooton/authemail/internal/models"
	pkgauth "github.com/BradenHooton/authemail/pkg/auth"
	pkghttp "github.com/BradenHooton/authemail/pkg/http"
	pkglogger "github.com/BradenHooton/authemail/pkg/logger"
	"github.com/BradenHooton/authemail/pkg/useragent"
)

// TokenIssuer mints bearer tokens for an account
type TokenIssuer interface {
	Issue(account *models.Account) (string, error)
}

// AccountOptions are the feature switches of the account flows
type AccountOptions struct {
	// EmailVerification requires a signup code before the account can log in
	EmailVerification bool
	// StrictUserAgent rejects signup verification from a different user agent than signup
	StrictUserAgent bool
	PasswordPolicy  pkgauth.PasswordPolicy
}

// AccountService implements the account lifecycle: signup, verification, login,
// password reset and change, and email change.
type AccountService struct {
	tx          TxManager
	accounts    AccountRepository
	codes       *VerificationCodeService
	audit       *AuditService
	tokens      TokenIssuer
	mailer      Mailer
	timing      *auth.TimingDelay
	auditLogger *pkglogger.AuditLogger
	logger      *slog.Logger
	opts        AccountOptions
	now         func() time.Time
}

// AccountServiceDeps groups the collaborators of AccountService
type AccountServiceDeps struct {
	Tx          TxManager
	Accounts    AccountRepository
	Codes       *VerificationCodeService
	Audit       *AuditService
	Tokens      TokenIssuer
	Mailer      Mailer
	Timing      *auth.TimingDelay
	AuditLogger *pkglogger.AuditLogger
	Logger      *slog.Logger
}

func NewAccountService(deps AccountServiceDeps, opts AccountOptions) *AccountService {
	if opts.PasswordPolicy.MinLength == 0 {
		opts.PasswordPolicy = pkgauth.DefaultPasswordPolicy()
	}
	return &AccountService{
		tx:          deps.Tx,
		accounts:    deps.Accounts,
		codes:       deps.Codes,
		audit:       deps.Audit,
		tokens:      deps.Tokens,
		mailer:      deps.Mailer,
		timing:      deps.Timing,
		auditLogger: deps.AuditLogger,
		logger:      deps.Logger,
		opts:        opts,
		now:         time.Now,
	}
}

// SignupInput carries the signup form. Password and names are optional.
type SignupInput struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
}

// Signup creates an account or refreshes a pending unverified one.
// A verified holder of the email fails with models.ErrEmailTaken.
func (s *AccountService) Signup(ctx context.Context, in SignupInput, meta pkghttp.RequestMeta) (*models.Account, error) {
	email := models.NormalizeEmail(in.Email)
	if email == "" {
		return nil, &models.ValidationError{Field: "email", Message: "This field is required."}
	}

	var hash string
	if in.Password != "" {
		var err error
		if hash, err = s.hashPassword(in.Password); err != nil {
			return nil, err
		}
	}

	var account *models.Account
	var code *models.VerificationCode
	err := s.tx.WithinTx(ctx, func(r Repos) error {
		existing, err := r.Accounts.GetByEmail(ctx, email)
		switch {
		case err == nil && existing.IsVerified:
			return models.ErrEmailTaken
		case err == nil:
			if err := s.codes.WithRepository(r.Codes).Invalidate(ctx, models.CodeKindSignup, existing.ID); err != nil {
				return err
			}
			if hash != "" {
				existing.PasswordHash = hash
			}
			existing.FirstName = in.FirstName
			existing.LastName = in.LastName
			account = existing
		case errors.Is(err, models.ErrNotFound):
			account = &models.Account{
				Email:        email,
				PasswordHash: hash,
				FirstName:    in.FirstName,
				LastName:     in.LastName,
				IsActive:     true,
			}
		default:
			return fmt.Errorf("lookup account: %w", err)
		}

		if !s.opts.EmailVerification {
			account.IsVerified = true
		}

		if account.ID == "" {
			account, err = r.Accounts.Create(ctx, account)
		} else {
			account, err = r.Accounts.Update(ctx, account)
		}
		if errors.Is(err, models.ErrConflict) {
			// lost a race with a concurrent signup for the same address
			return models.ErrEmailTaken
		}
		if err != nil {
			return fmt.Errorf("save account: %w", err)
		}

		if !s.opts.EmailVerification {
			return nil
		}

		if _, err := s.audit.WithRepository(r.Audit).Record(ctx, account.ID, models.AuditEventAccountSignup, meta); err != nil {
			return err
		}
		code, err = s.codes.WithRepository(r.Codes).Issue(ctx, models.CodeKindSignup, account.ID, models.CodePayload{IPAddress: meta.IPAddress})
		return err
	})
	if err != nil {
		if errors.Is(err, models.ErrEmailTaken) {
			s.logger.InfoContext(ctx, "signup rejected: email taken",
				slog.String("email", pkglogger.SanitizedEmail(email)))
		}
		return nil, err
	}

	if code != nil {
		s.send(ctx, TemplateSignup, codeMailData(account, code.Code), account.Email)
	} else {
		s.send(ctx, TemplateWelcome, map[string]string{"email": account.Email}, account.Email)
	}

	s.logger.InfoContext(ctx, "account signed up",
		slog.String("account_id", account.ID),
		slog.Bool("verified", account.IsVerified))
	return account, nil
}

// SignupVerify consumes a signup code, marks the account verified and logs it in
func (s *AccountService) SignupVerify(ctx context.Context, code string, meta pkghttp.RequestMeta) (*models.Account, string, error) {
	if s.opts.StrictUserAgent {
		if err := s.checkSignupUserAgent(ctx, code, meta.UserAgent); err != nil {
			return nil, "", err
		}
	}

	var account *models.Account
	var rejected bool
	err := s.tx.WithinTx(ctx, func(r Repos) error {
		taken, err := s.codes.WithRepository(r.Codes).Consume(ctx, models.CodeKindSignup, code)
		if errors.Is(err, models.ErrNotFound) {
			// commit so an expired code taken by Consume stays deleted
			rejected = true
			return nil
		}
		if err != nil {
			return fmt.Errorf("consume signup code: %w", err)
		}

		account, err = r.Accounts.GetByID(ctx, taken.AccountID)
		if err != nil {
			return fmt.Errorf("load account: %w", err)
		}
		account.IsVerified = true
		if account, err = r.Accounts.Update(ctx, account); err != nil {
			return fmt.Errorf("verify account: %w", err)
		}

		now := s.now().UTC()
		if err := r.Accounts.UpdateLastLogin(ctx, account.ID, now); err != nil {
			return fmt.Errorf("update last login: %w", err)
		}
		account.LastLogin = &now
		return nil
	})
	if err != nil {
		return nil, "", err
	}
	if rejected {
		s.auditLogger.LogAuthFailure(ctx, "signup_verify", "", meta.IPAddress, "invalid_code")
		return nil, "", models.ErrVerificationFailed
	}

	token, err := s.tokens.Issue(account)
	if err != nil {
		return nil, "", fmt.Errorf("issue token: %w", err)
	}

	s.logger.InfoContext(ctx, "account verified", slog.String("account_id", account.ID))
	return account, token, nil
}

// checkSignupUserAgent compares the request's user agent with the one recorded at signup.
// The code is left untouched on mismatch.
func (s *AccountService) checkSignupUserAgent(ctx context.Context, code, userAgent string) error {
	found, err := s.codes.Peek(ctx, models.CodeKindSignup, code)
	if errors.Is(err, models.ErrNotFound) {
		return models.ErrVerificationFailed
	}
	if err != nil {
		return fmt.Errorf("lookup signup code: %w", err)
	}

	entry, err := s.audit.MostRecent(ctx, found.AccountID, models.AuditEventAccountSignup)
	if err != nil {
		return err
	}
	if entry == nil {
		s.logger.WarnContext(ctx, "signup verification without signup audit entry",
			slog.String("account_id", found.AccountID))
		return models.ErrVerificationFailed
	}

	var recorded, current string
	if entry.Fingerprint != nil {
		recorded = entry.Fingerprint.Identifier
	}
	if userAgent != "" {
		current = useragent.Hash(userAgent)
	}
	if recorded != current {
		s.logger.WarnContext(ctx, "signup verification from a different user agent",
			slog.String("account_id", found.AccountID))
		return models.ErrVerificationFailed
	}
	return nil
}

// Login checks credentials and returns a bearer token.
// Failures are, in order: bad credentials, not verified, not active.
func (s *AccountService) Login(ctx context.Context, email, password string, meta pkghttp.RequestMeta) (*models.Account, string, error) {
	start := time.Now()
	email = models.NormalizeEmail(email)

	fail := func(err error, reason string) (*models.Account, string, error) {
		s.auditLogger.LogAuthFailure(ctx, "login", email, meta.IPAddress, reason)
		s.timing.WaitFrom(ctx, start, false)
		return nil, "", err
	}

	account, err := s.accounts.GetByEmail(ctx, email)
	if errors.Is(err, models.ErrNotFound) {
		return fail(models.ErrInvalidCredentials, "invalid_credentials")
	}
	if err != nil {
		return nil, "", fmt.Errorf("lookup account: %w", err)
	}

	if !account.HasUsablePassword() {
		return fail(models.ErrInvalidCredentials, "no_password")
	}
	if err := pkgauth.ComparePassword(account.PasswordHash, password); err != nil {
		return fail(models.ErrInvalidCredentials, "invalid_credentials")
	}
	if !account.IsVerified {
		return fail(models.ErrAccountNotVerified, "not_verified")
	}
	if !account.IsActive {
		return fail(models.ErrAccountNotActive, "not_active")
	}

	err = s.tx.WithinTx(ctx, func(r Repos) error {
		now := s.now().UTC()
		if err := r.Accounts.UpdateLastLogin(ctx, account.ID, now); err != nil {
			return fmt.Errorf("update last login: %w", err)
		}
		account.LastLogin = &now
		_, err := s.audit.WithRepository(r.Audit).Record(ctx, account.ID, models.AuditEventLogin, meta)
		return err
	})
	if err != nil {
		return nil, "", err
	}

	token, err := s.tokens.Issue(account)
	if err != nil {
		return nil, "", fmt.Errorf("issue token: %w", err)
	}

	s.timing.WaitFrom(ctx, start, true)
	return account, token, nil
}

// Logout revokes every token issued to the account
func (s *AccountService) Logout(ctx context.Context, account *models.Account) error {
	if _, err := s.accounts.RotateTokenKey(ctx, account.ID); err != nil {
		return fmt.Errorf("rotate token key: %w", err)
	}
	s.logger.InfoContext(ctx, "account logged out", slog.String("account_id", account.ID))
	return nil
}

// PasswordResetRequest issues a reset code when the email belongs to a verified, active account.
// The result is the same for every other case so callers cannot probe for accounts.
func (s *AccountService) PasswordResetRequest(ctx context.Context, email string, meta pkghttp.RequestMeta) error {
	start := time.Now()
	email = models.NormalizeEmail(email)

	account, err := s.accounts.GetByEmail(ctx, email)
	if errors.Is(err, models.ErrNotFound) {
		s.timing.WaitFrom(ctx, start, false)
		return nil
	}
	if err != nil {
		return fmt.Errorf("lookup account: %w", err)
	}

	var code *models.VerificationCode
	err = s.tx.WithinTx(ctx, func(r Repos) error {
		codes := s.codes.WithRepository(r.Codes)
		if err := codes.Invalidate(ctx, models.CodeKindPasswordReset, account.ID); err != nil {
			return err
		}
		if !account.IsVerified || !account.IsActive {
			return nil
		}

		var err error
		code, err = codes.Issue(ctx, models.CodeKindPasswordReset, account.ID, models.CodePayload{})
		if err != nil {
			return err
		}
		_, err = s.audit.WithRepository(r.Audit).Record(ctx, account.ID, models.AuditEventResetPasswordRequest, meta)
		return err
	})
	if err != nil {
		return err
	}

	if code == nil {
		s.timing.WaitFrom(ctx, start, false)
		return nil
	}

	s.send(ctx, TemplatePasswordReset, codeMailData(account, code.Code), account.Email)
	s.timing.WaitFrom(ctx, start, false)
	return nil
}

// PasswordResetVerify confirms a reset code is usable without consuming it
func (s *AccountService) PasswordResetVerify(ctx context.Context, code string) error {
	_, err := s.codes.Peek(ctx, models.CodeKindPasswordReset, code)
	if errors.Is(err, models.ErrNotFound) {
		return models.ErrVerificationFailed
	}
	return err
}

// PasswordResetVerified consumes a reset code and sets the new password
func (s *AccountService) PasswordResetVerified(ctx context.Context, code, password string, meta pkghttp.RequestMeta) error {
	hash, err := s.hashPassword(password)
	if err != nil {
		return err
	}

	var accountID string
	var rejected bool
	err = s.tx.WithinTx(ctx, func(r Repos) error {
		taken, err := s.codes.WithRepository(r.Codes).Consume(ctx, models.CodeKindPasswordReset, code)
		if errors.Is(err, models.ErrNotFound) {
			rejected = true
			return nil
		}
		if err != nil {
			return fmt.Errorf("consume password reset code: %w", err)
		}
		accountID = taken.AccountID

		return s.setPassword(ctx, r, taken.AccountID, hash, meta)
	})
	if err != nil {
		return err
	}
	if rejected {
		return models.ErrVerificationFailed
	}

	s.logger.InfoContext(ctx, "password reset", slog.String("account_id", accountID))
	return nil
}

// PasswordChange sets a new password for an authenticated account.
// Only the password policy can make it fail.
func (s *AccountService) PasswordChange(ctx context.Context, account *models.Account, password string, meta pkghttp.RequestMeta) error {
	hash, err := s.hashPassword(password)
	if err != nil {
		return err
	}

	err = s.tx.WithinTx(ctx, func(r Repos) error {
		return s.setPassword(ctx, r, account.ID, hash, meta)
	})
	if err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "password changed", slog.String("account_id", account.ID))
	return nil
}

func (s *AccountService) setPassword(ctx context.Context, r Repos, accountID, hash string, meta pkghttp.RequestMeta) error {
	account, err := r.Accounts.GetByID(ctx, accountID)
	if err != nil {
		return fmt.Errorf("load account: %w", err)
	}
	account.PasswordHash = hash
	if _, err := r.Accounts.Update(ctx, account); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	_, err = s.audit.WithRepository(r.Audit).Record(ctx, accountID, models.AuditEventPasswordUpdated, meta)
	return err
}

// EmailChangeRequest issues an email change code for newEmail and notifies both addresses.
// Pending codes are invalidated even when newEmail turns out to be taken.
func (s *AccountService) EmailChangeRequest(ctx context.Context, account *models.Account, currentPassword, newEmail string, meta pkghttp.RequestMeta) error {
	if err := pkgauth.ComparePassword(account.PasswordHash, currentPassword); err != nil {
		s.auditLogger.LogAuthFailure(ctx, "email_change", account.Email, meta.IPAddress, "invalid_credentials")
		return models.ErrInvalidCredentials
	}

	newEmail = models.NormalizeEmail(newEmail)
	if newEmail == "" {
		return &models.ValidationError{Field: "email", Message: "This field is required."}
	}

	var taken bool
	var code *models.VerificationCode
	err := s.tx.WithinTx(ctx, func(r Repos) error {
		codes := s.codes.WithRepository(r.Codes)
		if err := codes.Invalidate(ctx, models.CodeKindEmailChange, account.ID); err != nil {
			return err
		}

		holder, err := r.Accounts.GetByEmail(ctx, newEmail)
		switch {
		case err == nil && holder.IsVerified:
			taken = true
			return nil
		case err != nil && !errors.Is(err, models.ErrNotFound):
			return fmt.Errorf("lookup account: %w", err)
		}

		code, err = codes.Issue(ctx, models.CodeKindEmailChange, account.ID, models.CodePayload{Email: newEmail})
		if err != nil {
			return err
		}
		_, err = s.audit.WithRepository(r.Audit).Record(ctx, account.ID, models.AuditEventChangeEmailRequest, meta)
		return err
	})
	if err != nil {
		return err
	}
	if taken {
		return models.ErrEmailTaken
	}

	data := codeMailData(account, code.Code)
	data["email_new"] = newEmail
	s.send(ctx, TemplateEmailChangeNotifyPrevious, data, account.Email)
	s.send(ctx, TemplateEmailChangeConfirmNew, data, newEmail)
	return nil
}

// EmailChangeVerify applies a pending email change. An unverified account still holding
// the new address is deleted; a verified one makes the change fail and the code is dropped.
// The delete, the email update and the code removal commit together.
func (s *AccountService) EmailChangeVerify(ctx context.Context, code string, meta pkghttp.RequestMeta) error {
	// Peek first so that an expired code is deleted even though the verification fails
	if _, err := s.codes.Peek(ctx, models.CodeKindEmailChange, code); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrVerificationFailed
		}
		return fmt.Errorf("lookup email change code: %w", err)
	}

	var taken, rejected bool
	var accountID string
	err := s.tx.WithinTx(ctx, func(r Repos) error {
		pending, err := s.codes.WithRepository(r.Codes).Consume(ctx, models.CodeKindEmailChange, code)
		if errors.Is(err, models.ErrNotFound) {
			rejected = true
			return nil
		}
		if err != nil {
			return fmt.Errorf("consume email change code: %w", err)
		}
		newEmail := pending.Payload().Email
		accountID = pending.AccountID

		holder, err := r.Accounts.GetByEmail(ctx, newEmail)
		switch {
		case err == nil && holder.IsVerified:
			taken = true
			return nil
		case err == nil:
			if err := r.Accounts.Delete(ctx, holder.ID); err != nil {
				return fmt.Errorf("delete unverified holder: %w", err)
			}
			s.logger.WarnContext(ctx, "unverified account deleted by email change",
				slog.String("deleted_account_id", holder.ID),
				slog.String("account_id", pending.AccountID))
		case !errors.Is(err, models.ErrNotFound):
			return fmt.Errorf("lookup account: %w", err)
		}

		account, err := r.Accounts.GetByID(ctx, pending.AccountID)
		if err != nil {
			return fmt.Errorf("load account: %w", err)
		}
		account.Email = newEmail
		if _, err := r.Accounts.Update(ctx, account); err != nil {
			if errors.Is(err, models.ErrConflict) {
				return models.ErrEmailTaken
			}
			return fmt.Errorf("update email: %w", err)
		}

		_, err = s.audit.WithRepository(r.Audit).Record(ctx, account.ID, models.AuditEventEmailUpdated, meta)
		return err
	})
	if err != nil {
		return err
	}
	if rejected {
		return models.ErrVerificationFailed
	}
	if taken {
		return models.ErrEmailTaken
	}

	s.logger.InfoContext(ctx, "email changed", slog.String("account_id", accountID))
	return nil
}

// GetAccount returns the account by id
func (s *AccountService) GetAccount(ctx context.Context, id string) (*models.Account, error) {
	return s.accounts.GetByID(ctx, id)
}

// AuditTrail returns the account's own audit entries, newest first
func (s *AccountService) AuditTrail(ctx context.Context, account *models.Account, types []models.AuditEventType, limit, offset int) ([]*models.AuditEntry, error) {
	return s.audit.List(ctx, account.ID, types, limit, offset)
}

// VerifyAccount is the staff override of signup verification. Pending signup codes are dropped.
func (s *AccountService) VerifyAccount(ctx context.Context, id string) (*models.Account, error) {
	var account *models.Account
	err := s.tx.WithinTx(ctx, func(r Repos) error {
		var err error
		account, err = r.Accounts.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if err := s.codes.WithRepository(r.Codes).Invalidate(ctx, models.CodeKindSignup, id); err != nil {
			return err
		}
		if account.IsVerified {
			return nil
		}
		account.IsVerified = true
		account, err = r.Accounts.Update(ctx, account)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "account verified by staff", slog.String("account_id", id))
	return account, nil
}

// BootstrapSuperuser makes sure a verified, active superuser exists for email.
// An existing account is promoted and gets the given password.
func (s *AccountService) BootstrapSuperuser(ctx context.Context, email, password string) (*models.Account, error) {
	email = models.NormalizeEmail(email)
	if email == "" || password == "" {
		return nil, &models.ValidationError{Message: "admin email and password are required"}
	}
	hash, err := s.hashPassword(password)
	if err != nil {
		return nil, err
	}

	var account *models.Account
	err = s.tx.WithinTx(ctx, func(r Repos) error {
		existing, err := r.Accounts.GetByEmail(ctx, email)
		if err != nil && !errors.Is(err, models.ErrNotFound) {
			return fmt.Errorf("lookup account: %w", err)
		}
		if existing == nil {
			existing = &models.Account{Email: email}
		}
		existing.PasswordHash = hash
		existing.IsActive = true
		existing.IsVerified = true
		existing.IsStaff = true
		existing.IsSuperuser = true

		if existing.ID == "" {
			account, err = r.Accounts.Create(ctx, existing)
		} else {
			account, err = r.Accounts.Update(ctx, existing)
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("bootstrap superuser: %w", err)
	}
	return account, nil
}

func (s *AccountService) hashPassword(password string) (string, error) {
	if err := s.opts.PasswordPolicy.ValidatePassword(password); err != nil {
		return "", &models.ValidationError{Field: "password", Message: err.Error()}
	}
	hash, err := pkgauth.HashPassword(password)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return hash, nil
}

// send delivers mail best effort. The primary operation has already committed.
func (s *AccountService) send(ctx context.Context, template TemplateID, data map[string]string, recipient string) {
	if s.mailer == nil {
		return
	}
	if err := s.mailer.Send(ctx, template, data, recipient); err != nil {
		s.logger.ErrorContext(ctx, "failed to send email",
			slog.String("template", string(template)),
			slog.String("to", pkglogger.SanitizedEmail(recipient)),
			slog.Any("error", err))
	}
}

func codeMailData(account *models.Account, code string) map[string]string {
	return map[string]string{
		"code":       code,
		"account_id": account.ID,
		"email":      account.Email,
		"first_name": account.FirstName,
		"last_name":  account.LastName,
		"full_name":  account.FullName(),
	}
}
