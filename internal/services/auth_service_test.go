package services

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
)

func setArgon2TestParams() {
	viper.Set("argon2.time", 1)
	viper.Set("argon2.memory", 1024)
	viper.Set("argon2.threads", 1)
	viper.Set("argon2.key_length", 32)
	viper.Set("argon2.salt_length", 16)
	viper.Set("jwt.secret_key", "test-secret")
	viper.Set("jwt.expiry_hours", 1)
}

func TestPasswordHashing(t *testing.T) {
	setArgon2TestParams()
	defer viper.Reset()

	hashed, err := hashPassword("s3cret-password")
	assert.NoError(t, err)
	assert.NotContains(t, hashed, "s3cret-password")

	assert.True(t, verifyPassword("s3cret-password", hashed))
	assert.False(t, verifyPassword("wrong-password", hashed))
	assert.False(t, verifyPassword("s3cret-password", "malformed-hash"))

	// Same password hashes differently each time (random salt)
	again, err := hashPassword("s3cret-password")
	assert.NoError(t, err)
	assert.NotEqual(t, hashed, again)
}

func TestAuthService_Login(t *testing.T) {
	setArgon2TestParams()
	defer viper.Reset()

	db, dbmock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewAuthService(db, nil)

	t.Run("successful login returns token", func(t *testing.T) {
		hashed, err := hashPassword("s3cret-password")
		assert.NoError(t, err)

		dbmock.ExpectQuery("SELECT id, email, name, role, password FROM admins WHERE email = \\$1").
			WithArgs("ops@commispay.in").
			WillReturnRows(sqlmock.NewRows([]string{"id", "email", "name", "role", "password"}).
				AddRow(1, "ops@commispay.in", "Operations Desk", "payout_admin", hashed))

		body, _ := json.Marshal(LoginRequest{Email: "ops@commispay.in", Password: "s3cret-password"})
		req := httptest.NewRequest("POST", "/api/v1/auth/login", bytes.NewReader(body))
		rec := httptest.NewRecorder()

		service.Login(rec, req)

		assert.Equal(t, 200, rec.Code)
		var resp AuthResponse
		assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.NotEmpty(t, resp.Token)
		assert.Equal(t, "payout_admin", resp.Admin.Role)
	})

	t.Run("wrong password rejected", func(t *testing.T) {
		hashed, err := hashPassword("s3cret-password")
		assert.NoError(t, err)

		dbmock.ExpectQuery("SELECT id, email, name, role, password FROM admins WHERE email = \\$1").
			WithArgs("ops@commispay.in").
			WillReturnRows(sqlmock.NewRows([]string{"id", "email", "name", "role", "password"}).
				AddRow(1, "ops@commispay.in", "Operations Desk", "payout_admin", hashed))

		body, _ := json.Marshal(LoginRequest{Email: "ops@commispay.in", Password: "wrong-password"})
		req := httptest.NewRequest("POST", "/api/v1/auth/login", bytes.NewReader(body))
		rec := httptest.NewRecorder()

		service.Login(rec, req)
		assert.Equal(t, 401, rec.Code)
	})

	t.Run("unknown admin rejected without detail", func(t *testing.T) {
		dbmock.ExpectQuery("SELECT id, email, name, role, password FROM admins WHERE email = \\$1").
			WithArgs("nobody@commispay.in").
			WillReturnRows(sqlmock.NewRows([]string{"id", "email", "name", "role", "password"}))

		body, _ := json.Marshal(LoginRequest{Email: "nobody@commispay.in", Password: "irrelevant1"})
		req := httptest.NewRequest("POST", "/api/v1/auth/login", bytes.NewReader(body))
		rec := httptest.NewRecorder()

		service.Login(rec, req)
		assert.Equal(t, 401, rec.Code)

		var resp ErrorResponse
		assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "Invalid credentials", resp.Error)
	})

	t.Run("malformed payload rejected", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/api/v1/auth/login", bytes.NewReader([]byte(`{"email": 42}`)))
		rec := httptest.NewRecorder()

		service.Login(rec, req)
		assert.Equal(t, 400, rec.Code)
	})
}
