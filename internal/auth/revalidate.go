package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/famis-lga/famis-portal/internal/session"
	"github.com/famis-lga/famis-portal/internal/shared"
)

const checkedAtKey = "identity_checked_at"

func markChecked(sess *shared.Session, at time.Time) {
	sess.Set(checkedAtKey, strconv.FormatInt(at.Unix(), 10))
}

func lastChecked(sess *shared.Session) time.Time {
	raw := sess.Get(checkedAtKey)
	if raw == "" {
		return time.Time{}
	}
	unix, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(unix, 0)
}

// RevalidateEvery re-fetches the signed-in user from the backend once interval has passed since
// the last check, so role and permission changes reach open sessions. A revoked token logs the
// session out before the request continues. A non-positive interval disables the check.
func (s *Service) RevalidateEvery(interval time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if interval <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			store := session.FromContext(r.Context())
			sess := shared.SessionFromContext(r.Context())
			if store == nil || sess == nil || !store.IsAuthenticated() {
				next.ServeHTTP(w, r)
				return
			}
			now := s.now()
			if checked := lastChecked(sess); !checked.IsZero() && now.Sub(checked) < interval {
				next.ServeHTTP(w, r)
				return
			}
			err := s.Revalidate(r.Context(), store)
			switch {
			case err == nil:
				markChecked(sess, now)
			case errors.Is(err, ErrSessionRevoked):
				sess.Delete(checkedAtKey)
				sess.AddFlash(shared.FlashMessage{Kind: "info", Message: "Your session has ended. Please sign in again."})
			default:
				s.logger.WarnContext(r.Context(), "identity revalidation", slog.Any("error", err))
			}
			next.ServeHTTP(w, r)
		})
	}
}
