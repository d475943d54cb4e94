// internal/credentials/cookie.go
package credentials

import (
	"net/http"
	"time"
)

// CookieName carries the encrypted provider credential between the OAuth
// callback and the account-creation request.
const CookieName = "gk_ext_credential"

// Cookies writes and reads the credential cookie. The cookie is HTTP-only
// and SameSite=Lax with a TTL on the order of minutes; it is deleted as soon
// as the credential is consumed.
type Cookies struct {
	box    *Box
	ttl    time.Duration
	secure bool
}

func NewCookies(box *Box, ttl time.Duration, secure bool) *Cookies {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Cookies{box: box, ttl: ttl, secure: secure}
}

// Set encrypts plaintext and writes the credential cookie.
func (c *Cookies) Set(w http.ResponseWriter, plaintext string) error {
	opaque, err := c.box.Encrypt(plaintext)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    opaque,
		Path:     "/",
		MaxAge:   int(c.ttl.Seconds()),
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// Read decrypts the credential cookie. A missing cookie or a failed
// decryption both report ErrDecryptionFailed; callers treat either as
// "no credential".
func (c *Cookies) Read(r *http.Request) (string, error) {
	ck, err := r.Cookie(CookieName)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return c.box.Decrypt(ck.Value)
}

// Clear deletes the credential cookie. Called right after the credential is
// consumed by account creation, and on logout.
func (c *Cookies) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
	})
}
