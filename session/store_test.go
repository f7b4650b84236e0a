package session

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/recoverydesk/authapi"
	"github.com/jmcleod/recoverydesk/identity"
)

func checkInvariants(t *testing.T, s Session) {
	t.Helper()
	if s.IsAuthenticated() {
		assert.NotNil(t, s.User)
		assert.NotEmpty(t, s.Token)
		assert.False(t, s.Requires2FA, "authenticated and requires2FA at once")
	}
	if s.Requires2FA {
		assert.NotEmpty(t, s.TempToken)
		assert.Nil(t, s.User)
		assert.Empty(t, s.Token)
	}
}

func loggedIn(t *testing.T, api *fakeAPI, opts ...Option) *Store {
	t.Helper()
	api.login = func(_, _ string) (*authapi.AuthResult, error) {
		return credentials(testUser("u1", identity.RoleUser), "tok")
	}
	s := New(api, opts...)
	_, err := s.Login(context.Background(), "u1@x.com", "p")
	require.NoError(t, err)
	require.True(t, s.Snapshot().IsAuthenticated())
	return s
}

// TestTwoFactorScenario drives the real HTTP client so the access_token
// spelling of the verify response is exercised end to end.
func TestTwoFactorScenario(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/auth/login":
			assert.Equal(t, "u@x.com", body["email"])
			assert.Equal(t, "p", body["password"])
			io.WriteString(w, `{"requiresTwoFactor":true,"tempToken":"abc"}`) //nolint:errcheck
		case "/auth/2fa/verify":
			assert.Equal(t, "abc", body["tempToken"])
			assert.Equal(t, "123456", body["code"])
			io.WriteString(w, `{"user":{"id":"u1","email":"u@x.com","role":"user"},"access_token":"tok"}`) //nolint:errcheck
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	client, err := authapi.New(srv.URL)
	require.NoError(t, err)
	persister := &MemoryPersister{}
	s := New(client, WithPersister(persister))
	ctx := context.Background()

	res, err := s.Login(ctx, "u@x.com", "p")
	require.NoError(t, err)
	assert.Equal(t, LoginResult{RequiresTwoFactor: true}, res)

	snap := s.Snapshot()
	assert.Equal(t, Session{Requires2FA: true, TempToken: "abc"}, snap)
	assert.NotContains(t, string(persister.Raw()), "abc", "temp token must never be persisted")

	require.NoError(t, s.Verify2FA(ctx, "123456"))
	snap = s.Snapshot()
	assert.True(t, snap.IsAuthenticated())
	assert.Equal(t, identity.RoleUser, snap.User.Role)
	assert.Equal(t, "tok", snap.Token)
	assert.False(t, snap.Requires2FA)
	assert.Empty(t, snap.TempToken)

	var p Persisted
	require.NoError(t, json.Unmarshal(persister.Raw(), &p))
	assert.True(t, p.IsAuthenticated)
	assert.Equal(t, "tok", p.Token)
}

func TestLoginRequiresVerification(t *testing.T) {
	api := &fakeAPI{login: func(email, _ string) (*authapi.AuthResult, error) {
		return &authapi.AuthResult{RequiresVerification: true, Email: email}, nil
	}}
	s := New(api)

	res, err := s.Login(context.Background(), "u@x.com", "p")
	require.NoError(t, err)
	assert.Equal(t, LoginResult{RequiresVerification: true, Email: "u@x.com"}, res)

	snap := s.Snapshot()
	assert.False(t, snap.IsAuthenticated())
	assert.Nil(t, snap.User)
	assert.Empty(t, snap.Token)
}

func TestLoginFailure(t *testing.T) {
	api := &fakeAPI{}
	s := loggedIn(t, api)
	before := s.Snapshot()

	api.login = func(_, _ string) (*authapi.AuthResult, error) {
		return nil, apiError(http.StatusUnauthorized, "Invalid credentials")
	}
	_, err := s.Login(context.Background(), "u1@x.com", "wrong")
	require.Error(t, err)
	assert.True(t, authapi.IsStatus(err, http.StatusUnauthorized))

	after := s.Snapshot()
	assert.Equal(t, "Invalid credentials", after.Error)
	after.Error = ""
	assert.Equal(t, before, after, "failure must not change anything but the error")

	api.login = func(_, _ string) (*authapi.AuthResult, error) {
		return nil, errors.New("dial tcp: connection refused")
	}
	_, err = s.Login(context.Background(), "u1@x.com", "p")
	require.Error(t, err)
	assert.Equal(t, "Login failed", s.Snapshot().Error)
}

func TestVerify2FA(t *testing.T) {
	t.Run("without challenge", func(t *testing.T) {
		s := New(&fakeAPI{})
		assert.ErrorIs(t, s.Verify2FA(context.Background(), "123456"), ErrNoChallenge)
	})

	t.Run("failure keeps challenge", func(t *testing.T) {
		api := &fakeAPI{
			login: func(_, _ string) (*authapi.AuthResult, error) {
				return &authapi.AuthResult{RequiresTwoFactor: true, TempToken: "abc"}, nil
			},
			verify2FA: func(_, _ string) (*authapi.AuthResult, error) {
				return nil, apiError(http.StatusUnauthorized, "Invalid 2FA code")
			},
		}
		s := New(api)
		ctx := context.Background()
		_, err := s.Login(ctx, "u@x.com", "p")
		require.NoError(t, err)

		require.Error(t, s.Verify2FA(ctx, "000000"))
		snap := s.Snapshot()
		assert.True(t, snap.Requires2FA)
		assert.Equal(t, "abc", snap.TempToken)
		assert.Equal(t, "Invalid 2FA code", snap.Error)

		api.verify2FA = func(tempToken, _ string) (*authapi.AuthResult, error) {
			assert.Equal(t, "abc", tempToken)
			return credentials(testUser("u1", identity.RoleUser), "tok")
		}
		require.NoError(t, s.Verify2FA(ctx, "123456"))
		snap = s.Snapshot()
		assert.True(t, snap.IsAuthenticated())
		assert.Empty(t, snap.Error)
	})

	t.Run("non-credential answer", func(t *testing.T) {
		api := &fakeAPI{
			login: func(_, _ string) (*authapi.AuthResult, error) {
				return &authapi.AuthResult{RequiresTwoFactor: true, TempToken: "abc"}, nil
			},
			verify2FA: func(_, _ string) (*authapi.AuthResult, error) {
				return &authapi.AuthResult{RequiresTwoFactor: true, TempToken: "again"}, nil
			},
		}
		s := New(api)
		_, err := s.Login(context.Background(), "u@x.com", "p")
		require.NoError(t, err)
		assert.ErrorIs(t, s.Verify2FA(context.Background(), "123456"), ErrUnexpectedResponse)
		assert.Equal(t, "abc", s.Snapshot().TempToken)
	})
}

func TestLoginSequencesKeepInvariants(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	api := &fakeAPI{}
	s := New(api)
	ctx := context.Background()

	for i := 0; i < 500; i++ {
		switch rng.Intn(5) {
		case 0:
			api.login = func(_, _ string) (*authapi.AuthResult, error) {
				return &authapi.AuthResult{RequiresTwoFactor: true, TempToken: "t"}, nil
			}
		case 1:
			api.login = func(_, _ string) (*authapi.AuthResult, error) {
				return credentials(testUser("u1", identity.RoleAdmin), "tok")
			}
		case 2:
			api.login = func(_, _ string) (*authapi.AuthResult, error) {
				return &authapi.AuthResult{RequiresVerification: true, Email: "u@x.com"}, nil
			}
		case 3:
			api.login = func(_, _ string) (*authapi.AuthResult, error) {
				return nil, apiError(http.StatusUnauthorized, "nope")
			}
		case 4:
			api.verify2FA = func(_, _ string) (*authapi.AuthResult, error) {
				if rng.Intn(2) == 0 {
					return nil, apiError(http.StatusUnauthorized, "bad code")
				}
				return credentials(testUser("u1", identity.RoleUser), "tok2")
			}
			_ = s.Verify2FA(ctx, "123456")
			checkInvariants(t, s.Snapshot())
			continue
		}
		_, _ = s.Login(ctx, "u@x.com", "p")
		checkInvariants(t, s.Snapshot())
	}
}

func TestRegister(t *testing.T) {
	ctx := context.Background()
	req := authapi.RegisterRequest{Email: "u@x.com", Password: "p", FirstName: "A", LastName: "B"}

	t.Run("direct session", func(t *testing.T) {
		s := New(&fakeAPI{register: func(authapi.RegisterRequest) (*authapi.AuthResult, error) {
			return credentials(testUser("u1", identity.RoleUser), "tok")
		}})
		res, err := s.Register(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, LoginResult{}, res)
		assert.True(t, s.Snapshot().IsAuthenticated())
	})

	t.Run("verification", func(t *testing.T) {
		s := New(&fakeAPI{register: func(r authapi.RegisterRequest) (*authapi.AuthResult, error) {
			return &authapi.AuthResult{RequiresVerification: true, Email: r.Email}, nil
		}})
		res, err := s.Register(ctx, req)
		require.NoError(t, err)
		assert.True(t, res.RequiresVerification)
		assert.True(t, s.Snapshot().Empty())
	})

	t.Run("two factor answer rejected", func(t *testing.T) {
		s := New(&fakeAPI{register: func(authapi.RegisterRequest) (*authapi.AuthResult, error) {
			return &authapi.AuthResult{RequiresTwoFactor: true, TempToken: "abc"}, nil
		}})
		_, err := s.Register(ctx, req)
		assert.ErrorIs(t, err, ErrUnexpectedResponse)
		snap := s.Snapshot()
		assert.False(t, snap.Requires2FA)
		assert.Equal(t, "Registration failed", snap.Error)
	})

	t.Run("conflict", func(t *testing.T) {
		s := New(&fakeAPI{register: func(authapi.RegisterRequest) (*authapi.AuthResult, error) {
			return nil, apiError(http.StatusConflict, "Email already registered")
		}})
		_, err := s.Register(ctx, req)
		assert.True(t, authapi.IsStatus(err, http.StatusConflict))
		assert.Equal(t, "Email already registered", s.Snapshot().Error)
	})
}

func TestLogoutFromAnyState(t *testing.T) {
	ctx := context.Background()

	t.Run("authenticated", func(t *testing.T) {
		api := &fakeAPI{logout: func(string) error { return errors.New("server down") }}
		persister := &MemoryPersister{}
		s := loggedIn(t, api, WithPersister(persister))
		s.Logout(ctx)
		assert.Equal(t, Session{}, s.Snapshot())
		assert.Equal(t, []string{"tok"}, api.logouts())

		var p Persisted
		require.NoError(t, json.Unmarshal(persister.Raw(), &p))
		assert.Equal(t, Persisted{}, p)
	})

	t.Run("mid challenge", func(t *testing.T) {
		api := &fakeAPI{login: func(_, _ string) (*authapi.AuthResult, error) {
			return &authapi.AuthResult{RequiresTwoFactor: true, TempToken: "abc"}, nil
		}}
		s := New(api)
		_, err := s.Login(ctx, "u@x.com", "p")
		require.NoError(t, err)
		s.Logout(ctx)
		assert.Equal(t, Session{}, s.Snapshot())
		assert.Empty(t, api.logouts(), "no token, no server call")
	})

	t.Run("error", func(t *testing.T) {
		s := New(&fakeAPI{})
		_, err := s.Login(ctx, "u@x.com", "p")
		require.Error(t, err)
		require.NotEmpty(t, s.Snapshot().Error)
		s.Logout(ctx)
		assert.Equal(t, Session{}, s.Snapshot())
	})
}

func TestRefreshUser(t *testing.T) {
	ctx := context.Background()

	t.Run("not authenticated", func(t *testing.T) {
		s := New(&fakeAPI{})
		assert.ErrorIs(t, s.RefreshUser(ctx), ErrNotAuthenticated)
	})

	t.Run("success replaces user", func(t *testing.T) {
		api := &fakeAPI{}
		s := loggedIn(t, api)
		api.getProfile = func(_ context.Context, token string) (*identity.User, error) {
			assert.Equal(t, "tok", token)
			u := testUser("u1", identity.RoleUser)
			u.FirstName = "Fresh"
			return u, nil
		}
		require.NoError(t, s.RefreshUser(ctx))
		assert.Equal(t, "Fresh", s.Snapshot().User.FirstName)
	})

	t.Run("failure logs out", func(t *testing.T) {
		for _, err := range []error{
			apiError(http.StatusUnauthorized, "expired"),
			apiError(http.StatusInternalServerError, "boom"),
			errors.New("network unreachable"),
		} {
			api := &fakeAPI{}
			s := loggedIn(t, api)
			api.getProfile = func(context.Context, string) (*identity.User, error) { return nil, err }
			assert.Equal(t, err, s.RefreshUser(ctx))
			assert.Equal(t, Session{}, s.Snapshot())
			assert.Equal(t, []string{"tok"}, api.logouts())
		}
	})
}

// blockingProfile makes GetProfile wait until release is closed.
func blockingProfile(api *fakeAPI, started chan<- struct{}, release <-chan struct{}, user *identity.User, err error) {
	api.getProfile = func(context.Context, string) (*identity.User, error) {
		close(started)
		<-release
		return user, err
	}
}

func TestStaleRefreshAfterLogoutIsDiscarded(t *testing.T) {
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		api := &fakeAPI{}
		s := loggedIn(t, api)
		started, release := make(chan struct{}), make(chan struct{})
		blockingProfile(api, started, release, testUser("u1", identity.RoleUser), nil)

		done := make(chan error, 1)
		go func() { done <- s.RefreshUser(ctx) }()
		<-started
		s.Logout(ctx)
		close(release)

		assert.ErrorIs(t, <-done, ErrSuperseded)
		assert.Equal(t, Session{}, s.Snapshot())
	})

	t.Run("failure", func(t *testing.T) {
		api := &fakeAPI{}
		s := loggedIn(t, api)
		started, release := make(chan struct{}), make(chan struct{})
		boom := apiError(http.StatusUnauthorized, "expired")
		blockingProfile(api, started, release, nil, boom)

		done := make(chan error, 1)
		go func() { done <- s.RefreshUser(ctx) }()
		<-started
		s.Logout(ctx)

		// A new session is established before the stale failure lands.
		api.login = func(_, _ string) (*authapi.AuthResult, error) {
			return credentials(testUser("u2", identity.RoleAdmin), "tok2")
		}
		_, err := s.Login(ctx, "u2@x.com", "p")
		require.NoError(t, err)
		close(release)

		assert.Equal(t, boom, <-done)
		snap := s.Snapshot()
		assert.Equal(t, "tok2", snap.Token, "stale failure must not log out the newer session")
		assert.Equal(t, []string{"tok"}, api.logouts(), "stale failure must not trigger a second logout")
	})
}

func TestStaleLoginIsDiscarded(t *testing.T) {
	ctx := context.Background()
	started, release := make(chan struct{}), make(chan struct{})
	var calls int
	var mu sync.Mutex
	api := &fakeAPI{login: func(email, _ string) (*authapi.AuthResult, error) {
		mu.Lock()
		calls++
		first := calls == 1
		mu.Unlock()
		if first {
			close(started)
			<-release
			return credentials(testUser("old", identity.RoleUser), "old-tok")
		}
		return credentials(testUser("new", identity.RoleAdmin), "new-tok")
	}}
	s := New(api)

	done := make(chan error, 1)
	go func() {
		_, err := s.Login(ctx, "old@x.com", "p")
		done <- err
	}()
	<-started

	_, err := s.Login(ctx, "new@x.com", "p")
	require.NoError(t, err)
	close(release)

	assert.ErrorIs(t, <-done, ErrSuperseded)
	assert.Equal(t, "new-tok", s.Snapshot().Token)
}

func TestProfileAndTwoFactorManagement(t *testing.T) {
	ctx := context.Background()
	api := &fakeAPI{}
	s := loggedIn(t, api)

	name := "Ada"
	api.updateProfile = func(token string, u authapi.ProfileUpdate) (*identity.User, error) {
		assert.Equal(t, "tok", token)
		out := testUser("u1", identity.RoleUser)
		out.FirstName = *u.FirstName
		out.LastName = "Canonical"
		return out, nil
	}
	require.NoError(t, s.UpdateProfile(ctx, authapi.ProfileUpdate{FirstName: &name}))
	assert.Equal(t, "Canonical", s.Snapshot().User.LastName, "user is replaced by the server record")

	api.enable2FA = func(string) (*authapi.TwoFactorSetup, error) {
		return &authapi.TwoFactorSetup{Secret: "SECRET", QRCode: "otpauth://totp/x"}, nil
	}
	before := s.Snapshot()
	setup, err := s.Enable2FA(ctx)
	require.NoError(t, err)
	assert.Equal(t, "SECRET", setup.Secret)
	assert.Equal(t, before, s.Snapshot())

	api.verify2FASetup = func(_, code string) (string, error) {
		if code != "123456" {
			return "", apiError(http.StatusBadRequest, "Invalid code")
		}
		return "enabled", nil
	}
	require.Error(t, s.Verify2FASetup(ctx, "000000"))
	assert.False(t, s.Snapshot().User.TwoFactorEnabled)
	assert.Equal(t, "Invalid code", s.Snapshot().Error)

	require.NoError(t, s.Verify2FASetup(ctx, "123456"))
	assert.True(t, s.Snapshot().User.TwoFactorEnabled)
	assert.Empty(t, s.Snapshot().Error)

	api.disable2FA = func(_, _ string) (string, error) { return "disabled", nil }
	require.NoError(t, s.Disable2FA(ctx, "123456"))
	assert.False(t, s.Snapshot().User.TwoFactorEnabled)

	s.Logout(ctx)
	assert.ErrorIs(t, s.UpdateProfile(ctx, authapi.ProfileUpdate{}), ErrNotAuthenticated)
	_, err = s.Enable2FA(ctx)
	assert.ErrorIs(t, err, ErrNotAuthenticated)
	assert.ErrorIs(t, s.Disable2FA(ctx, "1"), ErrNotAuthenticated)
}

func TestPassThroughs(t *testing.T) {
	ctx := context.Background()
	var seen []string
	api := &fakeAPI{message: func(op, arg string) (string, error) {
		seen = append(seen, op+":"+arg)
		if arg == "bad" {
			return "", apiError(http.StatusBadRequest, "Invalid or expired token")
		}
		return "ok", nil
	}}
	s := New(api)

	msg, err := s.ForgotPassword(ctx, "u@x.com")
	require.NoError(t, err)
	assert.Equal(t, "ok", msg)

	_, err = s.ResetPassword(ctx, "bad", "new-password")
	require.Error(t, err)
	assert.Equal(t, "Invalid or expired token", s.Snapshot().Error)

	_, err = s.VerifyEmail(ctx, "vt")
	require.NoError(t, err)
	assert.Empty(t, s.Snapshot().Error)

	_, err = s.ResendVerification(ctx, "u@x.com")
	require.NoError(t, err)

	assert.Equal(t, []string{"forgot:u@x.com", "reset:bad", "verify-email:vt", "resend:u@x.com"}, seen)
}

func TestSubscribe(t *testing.T) {
	api := &fakeAPI{login: func(_, _ string) (*authapi.AuthResult, error) {
		return &authapi.AuthResult{RequiresTwoFactor: true, TempToken: "abc"}, nil
	}}
	s := New(api)

	var got []Session
	cancel := s.Subscribe(func(sess Session) { got = append(got, sess) })

	_, err := s.Login(context.Background(), "u@x.com", "p")
	require.NoError(t, err)
	s.Logout(context.Background())
	cancel()
	_, _ = s.Login(context.Background(), "u@x.com", "p")

	require.Len(t, got, 2)
	assert.True(t, got[0].Requires2FA)
	assert.Equal(t, Session{}, got[1])
}
