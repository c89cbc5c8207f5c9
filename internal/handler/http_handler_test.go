package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/TechSanzo/chaturbate/internal/domain"
	"github.com/TechSanzo/chaturbate/internal/repository"
	"github.com/TechSanzo/chaturbate/internal/session"
)

func newAuthRig(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&session.CredentialModel{}, &domain.UserModel{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	tokens, err := session.NewTokenManager(time.Hour, "test")
	if err != nil {
		t.Fatalf("token manager: %v", err)
	}
	creds := session.NewJWTCredentials(db, tokens, session.NewMemoryTokenStore())
	users := repository.NewGormUserRepository(db)

	h := NewHandler(creds, tokens, users, nil, nil, nil, nil, nil,
		NewAuthMiddleware(tokens, users),
		session.Config{InitialViewerCredits: 100})

	r := gin.New()
	r.POST("/api/v1/auth/signup", h.SignUp)
	return r
}

func postSignUp(t *testing.T, r *gin.Engine, email, username string) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(map[string]string{
		"email":    email,
		"password": "secret1",
		"username": username,
		"role":     "viewer",
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/signup", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

type signUpEnvelope struct {
	Success bool `json:"success"`
	Data    struct {
		Token             string       `json:"token"`
		User              *domain.User `json:"user"`
		ProfileIncomplete bool         `json:"profile_incomplete"`
		ProfileError      string       `json:"profile_error"`
	} `json:"data"`
}

func TestSignUpPartialSetupReportsReason(t *testing.T) {
	r := newAuthRig(t)

	w := postSignUp(t, r, "alice@example.com", "alice")
	if w.Code != http.StatusCreated {
		t.Fatalf("first signup status = %d, body %s", w.Code, w.Body.String())
	}
	var first signUpEnvelope
	if err := json.Unmarshal(w.Body.Bytes(), &first); err != nil {
		t.Fatalf("decode first: %v", err)
	}
	if first.Data.User == nil || first.Data.ProfileIncomplete {
		t.Fatalf("first signup = %+v, want complete profile", first.Data)
	}

	// Same username, fresh email: the credential goes through, the
	// profile hits the uniqueness constraint.
	w = postSignUp(t, r, "bob@example.com", "alice")
	if w.Code != http.StatusCreated {
		t.Fatalf("partial signup status = %d, body %s", w.Code, w.Body.String())
	}
	var partial signUpEnvelope
	if err := json.Unmarshal(w.Body.Bytes(), &partial); err != nil {
		t.Fatalf("decode partial: %v", err)
	}

	if !partial.Data.ProfileIncomplete {
		t.Error("profile_incomplete not set on partial signup")
	}
	if partial.Data.Token == "" {
		t.Error("partial signup dropped the token needed to retry the profile")
	}
	if !strings.Contains(partial.Data.ProfileError, "username") || !strings.Contains(partial.Data.ProfileError, "already taken") {
		t.Errorf("profile_error = %q, want the username conflict reason", partial.Data.ProfileError)
	}
}

func TestSignUpPartialSetupHidesInternalFailures(t *testing.T) {
	err := profileErrorMessage(gorm.ErrInvalidDB)
	if err != "profile setup failed" {
		t.Fatalf("internal failure message = %q, want opaque", err)
	}

	conflict := &domain.ConflictError{Resource: "username", Reason: "already taken", Err: domain.ErrUsernameExists}
	if got := profileErrorMessage(conflict); !strings.Contains(got, "already taken") {
		t.Fatalf("conflict message = %q, want the reason", got)
	}
}
