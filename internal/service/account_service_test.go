package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"golang.org/x/crypto/bcrypt"

	"authgate/internal/domain"
	"authgate/internal/identity"
	"authgate/internal/repository"
)

type mockAccountRepo struct {
	byID    map[int64]domain.Account
	byEmail map[string]int64
	nextID  int64

	createErr error
}

func newMockAccountRepo() *mockAccountRepo {
	return &mockAccountRepo{
		byID:    make(map[int64]domain.Account),
		byEmail: make(map[string]int64),
	}
}

func (m *mockAccountRepo) Create(_ context.Context, account domain.Account) (domain.Account, error) {
	if m.createErr != nil {
		return domain.Account{}, m.createErr
	}
	if _, exists := m.byEmail[account.Email]; exists {
		return domain.Account{}, repository.ErrDuplicateEmail
	}
	m.nextID++
	account.ID = m.nextID
	m.byID[account.ID] = account
	m.byEmail[account.Email] = account.ID
	return account, nil
}

func (m *mockAccountRepo) GetByID(_ context.Context, id int64) (domain.Account, error) {
	account, ok := m.byID[id]
	if !ok {
		return domain.Account{}, pgx.ErrNoRows
	}
	return account, nil
}

func (m *mockAccountRepo) GetByEmail(_ context.Context, email string) (domain.Account, error) {
	id, ok := m.byEmail[email]
	if !ok {
		return domain.Account{}, pgx.ErrNoRows
	}
	return m.byID[id], nil
}

func (m *mockAccountRepo) Update(_ context.Context, account domain.Account) error {
	if _, ok := m.byID[account.ID]; !ok {
		return pgx.ErrNoRows
	}
	m.byID[account.ID] = account
	m.byEmail[account.Email] = account.ID
	return nil
}

type sentMail struct {
	to      string
	subject string
	body    string
}

type channelSender struct {
	mails chan sentMail
	fail  bool
}

func newChannelSender() *channelSender {
	return &channelSender{mails: make(chan sentMail, 8)}
}

func (s *channelSender) Send(_ context.Context, to, subject, htmlBody string) error {
	if s.fail {
		return errors.New("smtp down")
	}
	s.mails <- sentMail{to: to, subject: subject, body: htmlBody}
	return nil
}

func (s *channelSender) wait(t *testing.T) sentMail {
	t.Helper()
	select {
	case m := <-s.mails:
		return m
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for mail")
		return sentMail{}
	}
}

type allowAll struct{}

func (allowAll) Allow(string) bool { return true }

type denyAll struct{}

func (denyAll) Allow(string) bool { return false }

func newTestAccountService(repo repository.AccountRepository, sender *channelSender, limiter RateLimiter) (*AccountService, *TokenService) {
	tokens := newTestTokenService()
	notifier := NewNotificationService(nil, sender, "http://localhost:8080")
	return NewAccountService(nil, repo, tokens, notifier, limiter), tokens
}

func TestAccountService_RegisterCreatesUnverified(t *testing.T) {
	repo := newMockAccountRepo()
	sender := newChannelSender()
	svc, _ := newTestAccountService(repo, sender, allowAll{})

	account, err := svc.Register(context.Background(), "alice@example.com", "password123", "Alice")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if account.IsVerified {
		t.Fatalf("local signup must start unverified")
	}
	if !account.IsActive {
		t.Fatalf("expected active account")
	}
	if !account.HasPassword() {
		t.Fatalf("expected password hash")
	}
	if *account.PasswordHash == "password123" {
		t.Fatalf("password stored in clear")
	}

	mail := sender.wait(t)
	if mail.to != "alice@example.com" {
		t.Fatalf("unexpected recipient: %s", mail.to)
	}
	if !strings.Contains(mail.body, "/auth/verify?token=") {
		t.Fatalf("verification mail without link: %s", mail.body)
	}
}

func TestAccountService_RegisterValidation(t *testing.T) {
	repo := newMockAccountRepo()
	svc, _ := newTestAccountService(repo, newChannelSender(), allowAll{})

	if _, err := svc.Register(context.Background(), "not-an-email", "password123", ""); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for bad email, got %v", err)
	}
	if _, err := svc.Register(context.Background(), "bob@example.com", "short", ""); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for short password, got %v", err)
	}
	if len(repo.byID) != 0 {
		t.Fatalf("validation failures must not create accounts")
	}
}

func TestAccountService_RegisterDuplicate(t *testing.T) {
	repo := newMockAccountRepo()
	sender := newChannelSender()
	svc, _ := newTestAccountService(repo, sender, allowAll{})

	if _, err := svc.Register(context.Background(), "bob@example.com", "password123", ""); err != nil {
		t.Fatalf("register: %v", err)
	}
	sender.wait(t)

	if _, err := svc.Register(context.Background(), "bob@example.com", "password456", ""); !errors.Is(err, ErrDuplicateAccount) {
		t.Fatalf("expected ErrDuplicateAccount, got %v", err)
	}
}

func TestAccountService_RegisterRaceLosesCleanly(t *testing.T) {
	// El índice único decide la carrera: el lookup previo no vio nada pero
	// el insert choca igual.
	repo := newMockAccountRepo()
	repo.createErr = repository.ErrDuplicateEmail
	svc, _ := newTestAccountService(repo, newChannelSender(), allowAll{})

	if _, err := svc.Register(context.Background(), "bob@example.com", "password123", ""); !errors.Is(err, ErrDuplicateAccount) {
		t.Fatalf("expected ErrDuplicateAccount from unique index, got %v", err)
	}
}

func TestAccountService_ResolveExternalCreatesVerified(t *testing.T) {
	repo := newMockAccountRepo()
	svc, _ := newTestAccountService(repo, newChannelSender(), allowAll{})

	picture := "https://example.com/p.png"
	account, err := svc.ResolveExternal(context.Background(), "google", identity.Profile{
		Email:   "carol@example.com",
		Name:    "Carol",
		Picture: &picture,
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !account.IsVerified {
		t.Fatalf("provider accounts must be verified at creation")
	}
	if account.HasPassword() {
		t.Fatalf("provider accounts must not carry a password hash")
	}
	if account.Name != "Carol" || account.Picture == nil {
		t.Fatalf("profile fields not stored: %+v", account)
	}
}

func TestAccountService_ResolveExternalRefreshesProfile(t *testing.T) {
	repo := newMockAccountRepo()
	sender := newChannelSender()
	svc, _ := newTestAccountService(repo, sender, allowAll{})

	created, err := svc.Register(context.Background(), "dave@example.com", "password123", "")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	sender.wait(t)

	resolved, err := svc.ResolveExternal(context.Background(), "google", identity.Profile{
		Email: "dave@example.com",
		Name:  "Dave",
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.ID != created.ID {
		t.Fatalf("expected same account, got %d vs %d", resolved.ID, created.ID)
	}
	if resolved.Name != "Dave" {
		t.Fatalf("profile name not refreshed")
	}
	if !resolved.HasPassword() {
		t.Fatalf("existing password hash must survive a provider login")
	}
	if resolved.IsVerified {
		t.Fatalf("provider resolution must not flip is_verified on its own")
	}
}

func TestAccountService_AuthenticateGatingOrder(t *testing.T) {
	repo := newMockAccountRepo()
	hash, _ := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.DefaultCost)
	h := string(hash)

	seed := func(active, verified bool) {
		repo.byID = map[int64]domain.Account{1: {
			ID: 1, Email: "eve@example.com", PasswordHash: &h,
			IsActive: active, IsVerified: verified,
		}}
		repo.byEmail = map[string]int64{"eve@example.com": 1}
	}
	svc, _ := newTestAccountService(repo, newChannelSender(), allowAll{})
	ctx := context.Background()

	seed(true, true)
	if _, err := svc.Authenticate(ctx, "eve@example.com", "wrong-password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := svc.Authenticate(ctx, "nobody@example.com", "password123"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("unknown email must look like bad credentials, got %v", err)
	}

	// Contraseña correcta pero cuenta inactiva y sin verificar: inactiva gana.
	seed(false, false)
	if _, err := svc.Authenticate(ctx, "eve@example.com", "password123"); !errors.Is(err, ErrAccountInactive) {
		t.Fatalf("expected ErrAccountInactive, got %v", err)
	}

	seed(true, false)
	if _, err := svc.Authenticate(ctx, "eve@example.com", "password123"); !errors.Is(err, ErrAccountNotVerified) {
		t.Fatalf("expected ErrAccountNotVerified, got %v", err)
	}

	seed(true, true)
	if _, err := svc.Authenticate(ctx, "eve@example.com", "password123"); err != nil {
		t.Fatalf("authenticate: %v", err)
	}
}

func TestAccountService_AuthenticateRejectsProviderOnly(t *testing.T) {
	repo := newMockAccountRepo()
	svc, _ := newTestAccountService(repo, newChannelSender(), allowAll{})

	if _, err := svc.ResolveExternal(context.Background(), "vipps", identity.Profile{Email: "frank@example.com"}); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if _, err := svc.Authenticate(context.Background(), "frank@example.com", "whatever1"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("provider-only account must fail password login, got %v", err)
	}
}

func TestAccountService_ConfirmEmail(t *testing.T) {
	repo := newMockAccountRepo()
	sender := newChannelSender()
	svc, tokens := newTestAccountService(repo, sender, allowAll{})

	account, err := svc.Register(context.Background(), "gina@example.com", "password123", "")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	sender.wait(t)

	token, err := tokens.Mint(KindVerification, account.ID)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	confirmed, err := svc.ConfirmEmail(context.Background(), token)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if !confirmed.IsVerified {
		t.Fatalf("expected verified account")
	}

	// Repetir la transición es un no-op, nunca un error.
	again, err := svc.ConfirmEmail(context.Background(), token)
	if err != nil {
		t.Fatalf("confirm twice: %v", err)
	}
	if !again.IsVerified {
		t.Fatalf("is_verified must stay true")
	}
}

func TestAccountService_ConfirmEmailErrors(t *testing.T) {
	repo := newMockAccountRepo()
	svc, tokens := newTestAccountService(repo, newChannelSender(), allowAll{})

	if _, err := svc.ConfirmEmail(context.Background(), "garbage"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}

	sessionToken, _ := tokens.Mint(KindSession, 1)
	if _, err := svc.ConfirmEmail(context.Background(), sessionToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("a session token must never verify an email, got %v", err)
	}

	orphan, _ := tokens.Mint(KindVerification, 999)
	if _, err := svc.ConfirmEmail(context.Background(), orphan); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestAccountService_ResetPasswordFlow(t *testing.T) {
	repo := newMockAccountRepo()
	sender := newChannelSender()
	svc, tokens := newTestAccountService(repo, sender, allowAll{})
	ctx := context.Background()

	account, err := svc.Register(ctx, "hank@example.com", "password123", "")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	sender.wait(t)

	verifyToken, _ := tokens.Mint(KindVerification, account.ID)
	if _, err := svc.ConfirmEmail(ctx, verifyToken); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	if err := svc.RequestPasswordReset(ctx, "hank@example.com"); err != nil {
		t.Fatalf("request reset: %v", err)
	}
	mail := sender.wait(t)
	if !strings.Contains(mail.body, "/auth/reset-password?token=") {
		t.Fatalf("reset mail without link: %s", mail.body)
	}

	resetToken, _ := tokens.Mint(KindReset, account.ID)
	if err := svc.CheckResetToken(ctx, resetToken); err != nil {
		t.Fatalf("check reset token: %v", err)
	}
	if err := svc.ResetPassword(ctx, resetToken, "newpassword456"); err != nil {
		t.Fatalf("reset: %v", err)
	}

	if _, err := svc.Authenticate(ctx, "hank@example.com", "password123"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("old password must stop working, got %v", err)
	}
	if _, err := svc.Authenticate(ctx, "hank@example.com", "newpassword456"); err != nil {
		t.Fatalf("login with new password: %v", err)
	}
}

func TestAccountService_ResetPasswordErrors(t *testing.T) {
	repo := newMockAccountRepo()
	sender := newChannelSender()
	svc, tokens := newTestAccountService(repo, sender, allowAll{})
	ctx := context.Background()

	account, err := svc.Register(ctx, "iris@example.com", "password123", "")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	sender.wait(t)

	verificationToken, _ := tokens.Mint(KindVerification, account.ID)
	if err := svc.ResetPassword(ctx, verificationToken, "newpassword456"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("a verification token must never authorize a reset, got %v", err)
	}

	resetToken, _ := tokens.Mint(KindReset, account.ID)
	if err := svc.ResetPassword(ctx, resetToken, "short"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}

	orphan, _ := tokens.Mint(KindReset, 999)
	if err := svc.ResetPassword(ctx, orphan, "newpassword456"); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestAccountService_RequestsHideEnumeration(t *testing.T) {
	repo := newMockAccountRepo()
	sender := newChannelSender()
	svc, _ := newTestAccountService(repo, sender, allowAll{})
	ctx := context.Background()

	if err := svc.RequestPasswordReset(ctx, "unknown@example.com"); err != nil {
		t.Fatalf("unknown email must be absorbed, got %v", err)
	}
	if err := svc.RequestVerification(ctx, "unknown@example.com"); err != nil {
		t.Fatalf("unknown email must be absorbed, got %v", err)
	}
	select {
	case m := <-sender.mails:
		t.Fatalf("no mail expected for unknown email, got %+v", m)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestAccountService_RequestsRateLimited(t *testing.T) {
	repo := newMockAccountRepo()
	svc, _ := newTestAccountService(repo, newChannelSender(), denyAll{})

	if err := svc.RequestPasswordReset(context.Background(), "a@example.com"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if err := svc.RequestVerification(context.Background(), "a@example.com"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}

func TestAccountService_RequestVerificationSkipsVerified(t *testing.T) {
	repo := newMockAccountRepo()
	sender := newChannelSender()
	svc, _ := newTestAccountService(repo, sender, allowAll{})

	if _, err := svc.ResolveExternal(context.Background(), "google", identity.Profile{Email: "judy@example.com"}); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if err := svc.RequestVerification(context.Background(), "judy@example.com"); err != nil {
		t.Fatalf("request verification: %v", err)
	}
	select {
	case m := <-sender.mails:
		t.Fatalf("verified account must not get verification mail, got %+v", m)
	case <-time.After(50 * time.Millisecond):
	}
}
