package service

import (
	"context"
	"errors"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"authgate/internal/domain"
	"authgate/internal/identity"
	"authgate/internal/repository"
)

var (
	ErrAccountNotFound    = errors.New("account not found")
	ErrAccountNotVerified = errors.New("account not verified")
	ErrAccountInactive    = errors.New("account inactive")
	ErrDuplicateAccount   = errors.New("account already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrValidation         = errors.New("validation failed")
	ErrRateLimited        = errors.New("rate limited")
)

const minPasswordLength = 8

// AccountService coordina el alta, la resolución de identidad y las
// transiciones de verificación y reset sobre cuentas.
type AccountService struct {
	logger   *zap.Logger
	accounts repository.AccountRepository
	tokens   *TokenService
	notifier *NotificationService
	limiter  RateLimiter
}

func NewAccountService(
	logger *zap.Logger,
	accounts repository.AccountRepository,
	tokens *TokenService,
	notifier *NotificationService,
	limiter RateLimiter,
) *AccountService {
	if limiter == nil {
		limiter = NewMailRateLimiter(10*time.Minute, 3)
	}
	return &AccountService{
		logger:   logger,
		accounts: accounts,
		tokens:   tokens,
		notifier: notifier,
		limiter:  limiter,
	}
}

// Register da de alta una cuenta local sin verificar y dispara el correo de
// verificación en background.
func (s *AccountService) Register(ctx context.Context, emailAddr, password, name string) (domain.Account, error) {
	emailAddr = strings.TrimSpace(emailAddr)
	password = strings.TrimSpace(password)
	name = strings.TrimSpace(name)

	if err := validation.Validate(emailAddr, validation.Required, is.Email); err != nil {
		return domain.Account{}, errValidation(err)
	}
	if err := validation.Validate(password, validation.Required, validation.Length(minPasswordLength, 0)); err != nil {
		return domain.Account{}, errValidation(err)
	}

	_, err := s.accounts.GetByEmail(ctx, emailAddr)
	if err == nil {
		return domain.Account{}, ErrDuplicateAccount
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.Account{}, err
	}

	hashBytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return domain.Account{}, err
	}
	hash := string(hashBytes)

	account := domain.Account{
		Email:        emailAddr,
		PasswordHash: &hash,
		IsActive:     true,
		IsVerified:   false,
		Name:         name,
		CreatedAt:    time.Now().UTC(),
	}
	account, err = s.accounts.Create(ctx, account)
	if err != nil {
		// El índice único decide la carrera de registros simultáneos.
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return domain.Account{}, ErrDuplicateAccount
		}
		return domain.Account{}, err
	}

	s.sendVerification(account)
	return account, nil
}

// ResolveExternal resuelve una aserción de identidad externa a una cuenta
// local: la crea verificada y sin contraseña si no existe, o refresca los
// campos de perfil si ya existe. Nunca degrada is_verified ni pisa una
// contraseña existente.
func (s *AccountService) ResolveExternal(ctx context.Context, provider string, profile identity.Profile) (domain.Account, error) {
	emailAddr := strings.TrimSpace(profile.Email)
	if emailAddr == "" {
		return domain.Account{}, errors.New("provider assertion without email")
	}

	account, err := s.accounts.GetByEmail(ctx, emailAddr)
	if err == nil {
		return s.refreshProfile(ctx, account, profile)
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.Account{}, err
	}

	account = domain.Account{
		Email:      emailAddr,
		IsActive:   true,
		IsVerified: true,
		Name:       strings.TrimSpace(profile.Name),
		Picture:    profile.Picture,
		CreatedAt:  time.Now().UTC(),
	}
	account, err = s.accounts.Create(ctx, account)
	if err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			// Perdimos la carrera contra otro callback: la cuenta ya está.
			existing, getErr := s.accounts.GetByEmail(ctx, emailAddr)
			if getErr != nil {
				return domain.Account{}, getErr
			}
			return s.refreshProfile(ctx, existing, profile)
		}
		return domain.Account{}, err
	}

	if s.logger != nil {
		s.logger.Info("account created from provider",
			zap.String("provider", provider),
			zap.Int64("account_id", account.ID),
		)
	}
	return account, nil
}

func (s *AccountService) refreshProfile(ctx context.Context, account domain.Account, profile identity.Profile) (domain.Account, error) {
	changed := false
	if name := strings.TrimSpace(profile.Name); name != "" && name != account.Name {
		account.Name = name
		changed = true
	}
	if profile.Picture != nil {
		account.Picture = profile.Picture
		changed = true
	}
	if !changed {
		return account, nil
	}
	if err := s.accounts.Update(ctx, account); err != nil {
		return domain.Account{}, err
	}
	return account, nil
}

// Authenticate verifica credenciales locales. El orden de chequeo es
// contraseña, luego is_active, luego is_verified; todo fallo de credencial
// colapsa en ErrInvalidCredentials.
func (s *AccountService) Authenticate(ctx context.Context, emailAddr, password string) (domain.Account, error) {
	emailAddr = strings.TrimSpace(emailAddr)
	password = strings.TrimSpace(password)
	if emailAddr == "" || password == "" {
		return domain.Account{}, ErrInvalidCredentials
	}

	account, err := s.accounts.GetByEmail(ctx, emailAddr)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Account{}, ErrInvalidCredentials
		}
		return domain.Account{}, err
	}
	if !account.HasPassword() {
		return domain.Account{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(*account.PasswordHash), []byte(password)); err != nil {
		return domain.Account{}, ErrInvalidCredentials
	}
	if !account.IsActive {
		return domain.Account{}, ErrAccountInactive
	}
	if !account.IsVerified {
		return domain.Account{}, ErrAccountNotVerified
	}
	return account, nil
}

// ConfirmEmail consume un token de verificación y marca la cuenta como
// verificada. Sobre una cuenta ya verificada es un no-op idempotente.
func (s *AccountService) ConfirmEmail(ctx context.Context, token string) (domain.Account, error) {
	claims, err := s.tokens.Validate(token, KindVerification)
	if err != nil {
		return domain.Account{}, err
	}

	account, err := s.accounts.GetByID(ctx, claims.AccountID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Account{}, ErrAccountNotFound
		}
		return domain.Account{}, err
	}
	if account.IsVerified {
		return account, nil
	}

	account.IsVerified = true
	if err := s.accounts.Update(ctx, account); err != nil {
		return domain.Account{}, err
	}
	return account, nil
}

// RequestVerification reenvía el correo de verificación. Un email
// desconocido o ya verificado se absorbe en silencio para no dar un oráculo
// de enumeración.
func (s *AccountService) RequestVerification(ctx context.Context, emailAddr string) error {
	emailAddr = strings.TrimSpace(emailAddr)
	if emailAddr == "" {
		return errValidation(errors.New("email is required"))
	}
	if s.limiter != nil && !s.limiter.Allow(strings.ToLower(emailAddr)) {
		return ErrRateLimited
	}

	account, err := s.accounts.GetByEmail(ctx, emailAddr)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		return err
	}
	if account.IsVerified {
		return nil
	}

	s.sendVerification(account)
	return nil
}

// RequestPasswordReset dispara el correo de reset. La respuesta no
// distingue emails registrados de desconocidos.
func (s *AccountService) RequestPasswordReset(ctx context.Context, emailAddr string) error {
	emailAddr = strings.TrimSpace(emailAddr)
	if emailAddr == "" {
		return errValidation(errors.New("email is required"))
	}
	if s.limiter != nil && !s.limiter.Allow(strings.ToLower(emailAddr)) {
		return ErrRateLimited
	}

	account, err := s.accounts.GetByEmail(ctx, emailAddr)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		return err
	}

	token, err := s.tokens.Mint(KindReset, account.ID)
	if err != nil {
		return err
	}
	if s.notifier != nil {
		s.notifier.NotifyReset(account, token)
	}
	return nil
}

// CheckResetToken valida un token de reset sin consumirlo, para que el
// formulario pueda renderizarse antes del envío.
func (s *AccountService) CheckResetToken(ctx context.Context, token string) error {
	claims, err := s.tokens.Validate(token, KindReset)
	if err != nil {
		return err
	}
	if _, err := s.accounts.GetByID(ctx, claims.AccountID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrAccountNotFound
		}
		return err
	}
	return nil
}

// ResetPassword consume un token de reset y reemplaza la contraseña. No hay
// marca de consumo: la expiración del token es la única mitigación de replay.
func (s *AccountService) ResetPassword(ctx context.Context, token, newPassword string) error {
	claims, err := s.tokens.Validate(token, KindReset)
	if err != nil {
		return err
	}

	newPassword = strings.TrimSpace(newPassword)
	if err := validation.Validate(newPassword, validation.Required, validation.Length(minPasswordLength, 0)); err != nil {
		return errValidation(err)
	}

	account, err := s.accounts.GetByID(ctx, claims.AccountID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrAccountNotFound
		}
		return err
	}

	hashBytes, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	hash := string(hashBytes)
	account.PasswordHash = &hash
	return s.accounts.Update(ctx, account)
}

// GetAccount busca una cuenta por id.
func (s *AccountService) GetAccount(ctx context.Context, id int64) (domain.Account, error) {
	account, err := s.accounts.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Account{}, ErrAccountNotFound
		}
		return domain.Account{}, err
	}
	return account, nil
}

func (s *AccountService) sendVerification(account domain.Account) {
	token, err := s.tokens.Mint(KindVerification, account.ID)
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("mint verification token failed", zap.Error(err), zap.Int64("account_id", account.ID))
		}
		return
	}
	if s.notifier != nil {
		s.notifier.NotifyVerification(account, token)
	}
}

func errValidation(err error) error {
	return errors.Join(ErrValidation, err)
}
