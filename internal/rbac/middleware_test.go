package rbac

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"leadgen-platform/internal/auth"

	"github.com/gin-gonic/gin"
)

func serveWithIdentity(userID, role string, chain ...gin.HandlerFunc) int {
	gin.SetMode(gin.TestMode)

	handlers := []gin.HandlerFunc{func(c *gin.Context) {
		ctx := auth.WithIdentity(c.Request.Context(), userID, role)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}}
	handlers = append(handlers, chain...)
	handlers = append(handlers, func(c *gin.Context) { c.Status(http.StatusOK) })

	r := gin.New()
	r.GET("/x", handlers...)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	return w.Code
}

func TestRequireAnyRole_SuperAdminBypasses(t *testing.T) {
	code := serveWithIdentity("u", RoleSuperAdmin, RequireUser(), RequireAnyRole(RoleAdmin))
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
}

func TestRequireAnyRole_ServiceDeniedUnlessAllowed(t *testing.T) {
	if code := serveWithIdentity("svc", RoleService, RequireAnyRole(RoleSubscriber)); code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", code)
	}
	if code := serveWithIdentity("svc", RoleService, RequireAnyRole(RoleService)); code != http.StatusOK {
		t.Fatalf("expected 200 when service is allowed, got %d", code)
	}
}

func TestRequireAnyRole_SubscriberCannotReachAdmin(t *testing.T) {
	if code := serveWithIdentity("u", RoleSubscriber, RequireAnyRole(RoleAdmin)); code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", code)
	}
}

func TestRequireUser_Required(t *testing.T) {
	if code := serveWithIdentity("", RoleSubscriber, RequireUser(), RequireAnyRole(RoleSubscriber)); code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", code)
	}
}

func TestIsKnownRole(t *testing.T) {
	for _, r := range []string{RoleSubscriber, RoleAdmin, RoleSuperAdmin, RoleService} {
		if !IsKnownRole(r) {
			t.Fatalf("expected %q to be known", r)
		}
	}
	if IsKnownRole("owner") {
		t.Fatalf("expected owner to be unknown")
	}
}
