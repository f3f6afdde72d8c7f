package controllers

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"github.com/RealZimboGuy/reguaflow/internal/util"
	"github.com/RealZimboGuy/reguaflow/pkg/reguaflow/core"
	"github.com/RealZimboGuy/reguaflow/pkg/reguaflow/models"
)

// AuthController checks the X-API-Key header against a list of bcrypt hashes.
// With no hashes configured every request is let through.
type AuthController struct {
	hashes [][]byte

	mu       sync.RWMutex
	verified map[[sha256.Size]byte]string
}

func NewAuthController(hashes []string) *AuthController {
	a := &AuthController{verified: make(map[[sha256.Size]byte]string)}
	for _, h := range hashes {
		a.hashes = append(a.hashes, []byte(h))
	}
	return a
}

// tag returns a stable label for the key that matched, or "" when none did.
func (a *AuthController) tag(apiKey string) string {
	digest := sha256.Sum256([]byte(apiKey))
	a.mu.RLock()
	tag, ok := a.verified[digest]
	a.mu.RUnlock()
	if ok {
		return tag
	}

	for i, h := range a.hashes {
		if bcrypt.CompareHashAndPassword(h, []byte(apiKey)) == nil {
			tag = fmt.Sprintf("key-%d", i)
			a.mu.Lock()
			a.verified[digest] = tag
			a.mu.Unlock()
			return tag
		}
	}
	return ""
}

func (a *AuthController) RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if len(a.hashes) == 0 {
			next(w, r)
			return
		}
		apiKey := r.Header.Get("X-API-Key")
		if apiKey == "" {
			util.WriteJSONResponse(w, http.StatusUnauthorized, models.ErrorResponse{Error: "missing X-API-Key header"})
			return
		}
		tag := a.tag(apiKey)
		if tag == "" {
			slog.WarnContext(r.Context(), "Rejected request with unknown api key", "path", r.URL.Path, "remote", r.RemoteAddr)
			util.WriteJSONResponse(w, http.StatusUnauthorized, models.ErrorResponse{Error: "invalid api key"})
			return
		}
		ctx := context.WithValue(r.Context(), core.CtxKeyApiKeyTag, tag)
		next(w, r.WithContext(ctx))
	}
}
