package auth_test

import (
	"strings"
	"testing"
	"time"

	"github.com/casetrack/notify-gateway/internal/auth"
	"github.com/casetrack/notify-gateway/internal/domain"
)

func TestHMACAuthenticator(t *testing.T) {
	a := auth.NewHMACAuthenticator([]byte("test-secret"))

	t.Run("valid token round trips", func(t *testing.T) {
		token := a.IssueToken("investigator-7", time.Minute)
		got, err := a.Authenticate(token)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != "investigator-7" {
			t.Fatalf("expected investigator-7, got %q", got)
		}
	})

	t.Run("expired token rejected", func(t *testing.T) {
		token := a.IssueToken("investigator-7", -time.Minute)
		if _, err := a.Authenticate(token); err != domain.ErrUnauthorized {
			t.Fatalf("expected ErrUnauthorized, got %v", err)
		}
	})

	t.Run("tampered token rejected", func(t *testing.T) {
		token := a.IssueToken("investigator-7", time.Minute)
		parts := strings.SplitN(token, ".", 2)
		tampered := parts[0] + "x." + parts[1]
		if _, err := a.Authenticate(tampered); err != domain.ErrUnauthorized {
			t.Fatalf("expected ErrUnauthorized, got %v", err)
		}
	})

	t.Run("wrong secret rejected", func(t *testing.T) {
		other := auth.NewHMACAuthenticator([]byte("other-secret"))
		token := other.IssueToken("investigator-7", time.Minute)
		if _, err := a.Authenticate(token); err != domain.ErrUnauthorized {
			t.Fatalf("expected ErrUnauthorized, got %v", err)
		}
	})

	t.Run("garbage rejected", func(t *testing.T) {
		if _, err := a.Authenticate("not-a-token"); err != domain.ErrUnauthorized {
			t.Fatalf("expected ErrUnauthorized, got %v", err)
		}
	})
}
