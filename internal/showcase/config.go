// Package showcase is a small application built on the framework: a
// configuration type with factories, a repository, three controllers, two
// filters and an interceptor.
package showcase

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Clock tells the time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Greeter formats greetings.
type Greeter struct {
	Salutation string
}

// Greet greets name.
func (g *Greeter) Greet(name string, excited bool) string {
	if name == "" {
		name = "stranger"
	}
	msg := fmt.Sprintf("%s, %s", g.Salutation, name)
	if excited {
		return strings.ToUpper(msg) + "!"
	}
	return msg + "."
}

// AdminTokens holds the tokens accepted by AuthFilter.
type AdminTokens struct {
	tokens map[string]bool
}

// Allows reports whether token is accepted.
func (t *AdminTokens) Allows(token string) bool { return token != "" && t.tokens[token] }

// AdminTokenEnv lists comma-separated admin tokens.
const AdminTokenEnv = "SWITCHYARD_ADMIN_TOKENS"

// DefaultAdminToken is accepted when AdminTokenEnv is unset.
const DefaultAdminToken = "switchyard"

// AppConfig produces the application's shared services.
type AppConfig struct{}

func (AppConfig) Clock() Clock { return systemClock{} }

func (AppConfig) Greeter() *Greeter { return &Greeter{Salutation: "Hello"} }

func (AppConfig) AdminTokens() (*AdminTokens, error) {
	raw := os.Getenv(AdminTokenEnv)
	if raw == "" {
		raw = DefaultAdminToken
	}
	t := &AdminTokens{tokens: make(map[string]bool)}
	for _, tok := range strings.Split(raw, ",") {
		if tok = strings.TrimSpace(tok); tok != "" {
			t.tokens[tok] = true
		}
	}
	if len(t.tokens) == 0 {
		return nil, fmt.Errorf("%s holds no tokens", AdminTokenEnv)
	}
	return t, nil
}
