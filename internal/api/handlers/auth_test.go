package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/asmiverse/capsule-server/internal/models"
	"github.com/asmiverse/capsule-server/internal/repositories"
	"github.com/asmiverse/capsule-server/internal/utils"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// sqlite can't express the postgres uuid_generate_v4() default, so the test
// schema fakes one with randomblob.
const userSchema = `
CREATE TABLE users (
	id                  TEXT PRIMARY KEY DEFAULT (lower(
	                        hex(randomblob(4)) || '-' || hex(randomblob(2)) || '-' ||
	                        hex(randomblob(2)) || '-' || hex(randomblob(2)) || '-' ||
	                        hex(randomblob(6)))),
	name                TEXT NOT NULL,
	email               TEXT NOT NULL UNIQUE,
	password            TEXT NOT NULL,
	is_verified         NUMERIC DEFAULT false,
	is_admin            NUMERIC DEFAULT false,
	is_banned           NUMERIC DEFAULT false,
	verify_token        TEXT,
	verify_token_expiry DATETIME,
	reset_token         TEXT,
	reset_token_expiry  DATETIME,
	created_at          DATETIME,
	updated_at          DATETIME
)`

func newAuthTestDB(t *testing.T) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	// Every pooled connection to :memory: would otherwise see its own
	// empty database.
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.Exec(userSchema).Error)

	prevDB, prevMail := repositories.DB, Mail
	repositories.DB = db
	t.Cleanup(func() {
		repositories.DB = prevDB
		Mail = prevMail
	})
}

// stubMailer records the tokens the handlers would have emailed. Channels
// double as synchronization with the fire-and-forget send goroutines.
type stubMailer struct {
	verifyTokens chan string
	resetTokens  chan string
	welcomes     chan string
}

func newStubMailer() *stubMailer {
	return &stubMailer{
		verifyTokens: make(chan string, 1),
		resetTokens:  make(chan string, 1),
		welcomes:     make(chan string, 1),
	}
}

func (s *stubMailer) SendVerification(ctx context.Context, toEmail, token string) error {
	s.verifyTokens <- token
	return nil
}

func (s *stubMailer) SendPasswordReset(ctx context.Context, toEmail, token string) error {
	s.resetTokens <- token
	return nil
}

func (s *stubMailer) SendWelcome(ctx context.Context, toEmail, name string) error {
	s.welcomes <- toEmail
	return nil
}

func (s *stubMailer) SendCreationConfirmation(ctx context.Context, ownerEmail string, c *models.Capsule) error {
	return nil
}

func awaitMail(t *testing.T, ch chan string) string {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		t.Fatal("expected an email to be sent")
		return ""
	}
}

func postJSON(handler http.HandlerFunc, body any) *httptest.ResponseRecorder {
	raw, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(raw))
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func TestRegisterStoresVerifyTokenDigest(t *testing.T) {
	newAuthTestDB(t)
	mail := newStubMailer()
	Mail = mail

	rec := postJSON(RegisterUser, map[string]string{
		"name":     "Asmi",
		"email":    "asmi@example.com",
		"password": "secret123",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	emailed := awaitMail(t, mail.verifyTokens)

	var user models.User
	require.NoError(t, repositories.DB.Where("email = ?", "asmi@example.com").First(&user).Error)
	assert.NotEqual(t, emailed, user.VerifyToken, "the emailed token must never be stored")
	assert.Equal(t, utils.HashToken(emailed), user.VerifyToken)

	// The stored digest is not itself a usable credential.
	rec = postJSON(VerifyEmail, map[string]string{"token": user.VerifyToken})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = postJSON(VerifyEmail, map[string]string{"token": emailed})
	require.Equal(t, http.StatusOK, rec.Code)
	awaitMail(t, mail.welcomes)

	require.NoError(t, repositories.DB.Where("email = ?", "asmi@example.com").First(&user).Error)
	assert.True(t, user.IsVerified)
	assert.Empty(t, user.VerifyToken)
	assert.Nil(t, user.VerifyTokenExpiry)
}

func TestPasswordResetUsesTokenDigest(t *testing.T) {
	newAuthTestDB(t)
	mail := newStubMailer()
	Mail = mail

	hashed, err := bcrypt.GenerateFromPassword([]byte("old-password"), bcrypt.MinCost)
	require.NoError(t, err)
	user := models.User{
		ID:         uuid.New(),
		Name:       "Asmi",
		Email:      "asmi@example.com",
		Password:   string(hashed),
		IsVerified: true,
	}
	require.NoError(t, repositories.DB.Create(&user).Error)

	rec := postJSON(ForgotPassword, map[string]string{"email": "asmi@example.com"})
	require.Equal(t, http.StatusOK, rec.Code)

	emailed := awaitMail(t, mail.resetTokens)

	var stored models.User
	require.NoError(t, repositories.DB.First(&stored, "id = ?", user.ID).Error)
	assert.NotEqual(t, emailed, stored.ResetToken, "the emailed token must never be stored")
	assert.Equal(t, utils.HashToken(emailed), stored.ResetToken)

	// A leaked digest cannot reset the password.
	rec = postJSON(ResetPassword, map[string]string{
		"token":    stored.ResetToken,
		"password": "new-password",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = postJSON(ResetPassword, map[string]string{
		"token":    emailed,
		"password": "new-password",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	require.NoError(t, repositories.DB.First(&stored, "id = ?", user.ID).Error)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(stored.Password), []byte("new-password")))
	assert.Empty(t, stored.ResetToken)
	assert.Nil(t, stored.ResetTokenExpiry)
}

func TestHashTokenIsDeterministicAndOpaque(t *testing.T) {
	tok, err := utils.GenerateSecureToken(32)
	require.NoError(t, err)

	digest := utils.HashToken(tok)
	assert.Len(t, digest, 64)
	assert.NotEqual(t, tok, digest)
	assert.Equal(t, digest, utils.HashToken(tok))
	assert.NotEqual(t, digest, utils.HashToken(tok+"x"))
}
