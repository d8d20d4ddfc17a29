package remoteapi

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"

	"github.com/weibackapp/weiback"
)

// SessionFileAuth is the stub AuthClient this program wires. It can tell
// whether a session file is present and hand its contents to the HTTP
// client, but it does not perform the SMS code exchange itself — signing
// requests and completing login are left to whatever actually holds the
// weibo account credentials.
type SessionFileAuth struct {
	path string

	mu      sync.RWMutex
	session string
}

func NewSessionFileAuth(path string) *SessionFileAuth {
	a := &SessionFileAuth{path: path}
	if data, err := os.ReadFile(path); err == nil {
		a.session = strings.TrimSpace(string(data))
	}
	return a
}

func (a *SessionFileAuth) Current() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.session
}

func (a *SessionFileAuth) LoginState(ctx context.Context) (bool, error) {
	return a.Current() != "", nil
}

func (a *SessionFileAuth) RequestSMSCode(ctx context.Context, phone string) error {
	return errors.New("weiback: SMS code delivery is not implemented by this command adapter")
}

func (a *SessionFileAuth) Login(ctx context.Context, phone, code string) (string, error) {
	return "", weiback.ErrAuthRequired
}
