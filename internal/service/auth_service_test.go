package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/attendance-core-api/internal/models"
	"github.com/noah-isme/attendance-core-api/pkg/config"
	appErrors "github.com/noah-isme/attendance-core-api/pkg/errors"
)

type authRepoStub struct {
	users     map[string]*models.User
	lastLogin *time.Time
	logs      []*models.AuditLog
}

func (s *authRepoStub) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	if user, ok := s.users[email]; ok {
		return user, nil
	}
	return nil, sql.ErrNoRows
}

func (s *authRepoStub) FindByID(ctx context.Context, id string) (*models.User, error) {
	for _, user := range s.users {
		if user.ID == id {
			return user, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (s *authRepoStub) UpdateLastLogin(ctx context.Context, id string, ts time.Time) error {
	s.lastLogin = &ts
	return nil
}

func (s *authRepoStub) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	s.logs = append(s.logs, log)
	return nil
}

func jwtTestConfig() config.JWTConfig {
	return config.JWTConfig{
		Secret:     "test-secret",
		Expiration: time.Hour,
		Issuer:     "attendance-core",
	}
}

func newAuthFixture(t *testing.T) (*AuthService, *authRepoStub) {
	hash, err := bcrypt.GenerateFromPassword([]byte("correct-horse"), bcrypt.MinCost)
	require.NoError(t, err)
	repo := &authRepoStub{users: map[string]*models.User{
		"teacher@school.test": {
			ID:           "user-1",
			Email:        "teacher@school.test",
			PasswordHash: string(hash),
			FullName:     "Dina Verhoeven",
			Role:         models.RoleTeacher,
			Active:       true,
		},
	}}
	return NewAuthService(repo, nil, nil, jwtTestConfig()), repo
}

func TestAuthLoginIssuesValidToken(t *testing.T) {
	svc, repo := newAuthFixture(t)

	resp, err := svc.Login(context.Background(), models.LoginRequest{
		Email:    "teacher@school.test",
		Password: "correct-horse",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.AccessToken)
	assert.Equal(t, int64(3600), resp.ExpiresIn)
	assert.Equal(t, models.RoleTeacher, resp.User.Role)
	assert.NotNil(t, repo.lastLogin)
	require.Len(t, repo.logs, 1)
	assert.Equal(t, models.AuditActionLogin, repo.logs[0].Action)

	claims, err := svc.ValidateToken(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, models.RoleTeacher, claims.Role)
	assert.Equal(t, "attendance-core", claims.Issuer)
}

func TestAuthLoginWrongPassword(t *testing.T) {
	svc, _ := newAuthFixture(t)
	_, err := svc.Login(context.Background(), models.LoginRequest{
		Email:    "teacher@school.test",
		Password: "wrong",
	})
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidCredentials))
}

func TestAuthLoginUnknownEmail(t *testing.T) {
	svc, _ := newAuthFixture(t)
	_, err := svc.Login(context.Background(), models.LoginRequest{
		Email:    "nobody@school.test",
		Password: "correct-horse",
	})
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidCredentials))
}

func TestAuthLoginInactiveAccount(t *testing.T) {
	svc, repo := newAuthFixture(t)
	repo.users["teacher@school.test"].Active = false

	_, err := svc.Login(context.Background(), models.LoginRequest{
		Email:    "teacher@school.test",
		Password: "correct-horse",
	})
	assert.True(t, appErrors.Is(err, appErrors.ErrInactiveAccount))
}

func TestAuthValidateTokenWrongSecret(t *testing.T) {
	svc, _ := newAuthFixture(t)
	resp, err := svc.Login(context.Background(), models.LoginRequest{
		Email:    "teacher@school.test",
		Password: "correct-horse",
	})
	require.NoError(t, err)

	other := NewAuthService(&authRepoStub{}, nil, nil, config.JWTConfig{
		Secret:     "different-secret",
		Expiration: time.Hour,
	})
	_, err = other.ValidateToken(resp.AccessToken)
	assert.True(t, appErrors.Is(err, appErrors.ErrUnauthorized))
}
