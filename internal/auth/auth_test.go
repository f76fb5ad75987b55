package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/nebari-dev/labgate/internal/audit"
	"github.com/nebari-dev/labgate/internal/db"
	"github.com/nebari-dev/labgate/internal/models"
	"github.com/nebari-dev/labgate/internal/store"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupAuth(t *testing.T) (*Authenticator, *gorm.DB) {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.Migrate(gdb); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	hash, err := HashPassword("Manager123!")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	user := models.User{Email: "manager@example.com", PasswordHash: hash, Role: models.RoleManager, IsActive: true}
	if err := gdb.Create(&user).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}

	rec := audit.NewRecorder(nil, audit.NewDBSink(gdb))
	return NewAuthenticator(store.New(gdb), "test-secret", time.Hour, rec), gdb
}

func TestLogin(t *testing.T) {
	a, gdb := setupAuth(t)
	ctx := context.Background()

	resp, err := a.Login(ctx, " Manager@Example.com", "Manager123!")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if resp.Token == "" || resp.User.Role != models.RoleManager {
		t.Errorf("unexpected response %+v", resp)
	}

	if _, err := a.Login(ctx, "manager@example.com", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("expected ErrInvalidCredentials for wrong password, got %v", err)
	}
	if _, err := a.Login(ctx, "nobody@example.com", "x"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("expected ErrInvalidCredentials for unknown email, got %v", err)
	}

	var ok, failed int64
	gdb.Model(&models.AuditLog{}).Where("action = ?", audit.ActionLogin).Count(&ok)
	gdb.Model(&models.AuditLog{}).Where("action = ?", audit.ActionLoginFailed).Count(&failed)
	if ok != 1 || failed != 2 {
		t.Errorf("expected 1 login and 2 failures audited, got %d and %d", ok, failed)
	}
}

func TestLogin_InactiveUser(t *testing.T) {
	a, gdb := setupAuth(t)
	gdb.Model(&models.User{}).Where("email = ?", "manager@example.com").Update("is_active", false)

	if _, err := a.Login(context.Background(), "manager@example.com", "Manager123!"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestLogin_CreatedInactive(t *testing.T) {
	a, gdb := setupAuth(t)
	hash, err := HashPassword("Engineer123!")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	user := models.User{Email: "former@example.com", PasswordHash: hash, Role: models.RoleEngineer, IsActive: false}
	if err := gdb.Create(&user).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}

	var stored models.User
	if err := gdb.First(&stored, "email = ?", "former@example.com").Error; err != nil {
		t.Fatalf("load user: %v", err)
	}
	if stored.IsActive {
		t.Fatal("user created inactive was stored as active")
	}
	if _, err := a.Login(context.Background(), "former@example.com", "Engineer123!"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("expected ErrInvalidCredentials, got %v", err)
	}
}

func newTestRouter(a *Authenticator) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/me", a.Middleware(), func(c *gin.Context) {
		u, err := GetUserFromContext(c)
		if err != nil {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.JSON(http.StatusOK, gin.H{"email": u.Email})
	})
	return r
}

func TestMiddleware(t *testing.T) {
	a, _ := setupAuth(t)
	resp, err := a.Login(context.Background(), "manager@example.com", "Manager123!")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	r := newTestRouter(a)

	tests := []struct {
		name   string
		setup  func(*http.Request)
		status int
	}{
		{"bearer", func(req *http.Request) { req.Header.Set("Authorization", "Bearer "+resp.Token) }, http.StatusOK},
		{"cookie", func(req *http.Request) { req.AddCookie(&http.Cookie{Name: CookieName, Value: resp.Token}) }, http.StatusOK},
		{"missing", func(req *http.Request) {}, http.StatusUnauthorized},
		{"malformed header", func(req *http.Request) { req.Header.Set("Authorization", "Token "+resp.Token) }, http.StatusUnauthorized},
		{"garbage token", func(req *http.Request) { req.Header.Set("Authorization", "Bearer abc.def.ghi") }, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			tt.setup(req)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if w.Code != tt.status {
				t.Errorf("expected %d, got %d: %s", tt.status, w.Code, w.Body.String())
			}
		})
	}
}

func TestMiddleware_ExpiredToken(t *testing.T) {
	a, _ := setupAuth(t)
	a.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	resp, err := a.Login(context.Background(), "manager@example.com", "Manager123!")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	a.now = time.Now

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+resp.Token)
	w := httptest.NewRecorder()
	newTestRouter(a).ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for expired token, got %d", w.Code)
	}
}

func TestMiddleware_WrongSecret(t *testing.T) {
	a, _ := setupAuth(t)
	resp, _ := a.Login(context.Background(), "manager@example.com", "Manager123!")

	other := NewAuthenticator(a.store, "another-secret", time.Hour, nil)
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+resp.Token)
	w := httptest.NewRecorder()
	newTestRouter(other).ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for token signed with another secret, got %d", w.Code)
	}
}
