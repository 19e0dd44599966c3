package handlers

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/upb/identity-authority/app"
	"github.com/upb/identity-authority/middleware"
	"github.com/upb/identity-authority/models"
	"github.com/upb/identity-authority/services/authz"
	"github.com/upb/identity-authority/services/registry"
)

// MeResponse describes the caller: principal, scope and effective permissions
type MeResponse struct {
	User        *models.User `json:"user"`
	Scope       authz.Scope  `json:"scope"`
	ServiceID   *uuid.UUID   `json:"service_id,omitempty"`
	Roles       []string     `json:"roles"`
	Permissions []string     `json:"permissions"`
}

func newMeResponse(ac *authz.AuthContext) MeResponse {
	return MeResponse{
		User:        ac.User,
		Scope:       ac.Scope(),
		ServiceID:   ac.ServiceID(),
		Roles:       ac.RoleNames(),
		Permissions: ac.Permissions.List(),
	}
}

// RegisterHandler creates a pending principal and sends a verification credential
func RegisterHandler(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req RegisterRequest
		if !decodeAndValidate(deps, w, r, &req) {
			return
		}

		user, err := deps.Users.Register(r.Context(), registry.RegisterInput{
			Username:  req.Username,
			Email:     req.Email,
			Password:  req.Password,
			Name:      req.Name,
			ServiceID: req.ServiceID,
		}, originFrom(r))
		if err != nil {
			HandleServiceError(w, err, requestLogger(deps, r))
			return
		}

		middleware.SetAuditSubject(r.Context(), &user.ID, req.ServiceID)
		writeCreated(deps, w, user)
	}
}

// LoginHandler exchanges a password for an access token and a refresh credential
func LoginHandler(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req LoginRequest
		if !decodeAndValidate(deps, w, r, &req) {
			return
		}

		pair, ac, err := deps.Sessions.Login(r.Context(), authz.LoginInput{
			Login:     req.Login,
			Password:  req.Password,
			ServiceID: req.ServiceID,
		}, originFrom(r))
		if err != nil {
			HandleServiceError(w, err, requestLogger(deps, r))
			return
		}

		middleware.SetAuditSubject(r.Context(), ac.UserID(), ac.ServiceID())
		setAuthCookie(deps, w, pair)
		writeOK(deps, w, pair)
	}
}

// RefreshHandler rotates a refresh credential
func RefreshHandler(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req RefreshRequest
		if !decodeAndValidate(deps, w, r, &req) {
			return
		}

		pair, ac, err := deps.Sessions.Refresh(r.Context(), req.RefreshToken, originFrom(r))
		if err != nil {
			HandleServiceError(w, err, requestLogger(deps, r))
			return
		}

		middleware.SetAuditSubject(r.Context(), ac.UserID(), ac.ServiceID())
		setAuthCookie(deps, w, pair)
		writeOK(deps, w, pair)
	}
}

// LogoutHandler revokes the caller's refresh credentials, or only the one in the body
func LogoutHandler(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ac := middleware.GetAuthContextFromContext(r.Context())

		var req LogoutRequest
		if r.ContentLength != 0 {
			if !decodeAndValidate(deps, w, r, &req) {
				return
			}
		}

		revoked, err := deps.Sessions.Logout(r.Context(), ac.User.ID, req.RefreshToken)
		if err != nil {
			HandleServiceError(w, err, requestLogger(deps, r))
			return
		}

		clearAuthCookie(deps, w)
		writeOK(deps, w, map[string]int64{"revoked": revoked})
	}
}

// VerifyEmailHandler consumes a verification credential
func VerifyEmailHandler(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req TokenRequest
		if !decodeAndValidate(deps, w, r, &req) {
			return
		}

		user, err := deps.Users.VerifyEmail(r.Context(), req.Token)
		if err != nil {
			HandleServiceError(w, err, requestLogger(deps, r))
			return
		}

		middleware.SetAuditSubject(r.Context(), &user.ID, nil)
		writeOK(deps, w, user)
	}
}

// ResendVerificationHandler replaces a pending verification credential.
// The response never reveals whether the address is registered.
func ResendVerificationHandler(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req EmailRequest
		if !decodeAndValidate(deps, w, r, &req) {
			return
		}

		if err := deps.Users.ResendVerification(r.Context(), req.Email, originFrom(r)); err != nil {
			HandleServiceError(w, err, requestLogger(deps, r))
			return
		}
		writeMessage(deps, w, "If the address is registered and unverified, a new verification email has been sent")
	}
}

// ForgotPasswordHandler issues a password reset credential.
// The response never reveals whether the address is registered.
func ForgotPasswordHandler(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req EmailRequest
		if !decodeAndValidate(deps, w, r, &req) {
			return
		}

		if err := deps.Users.RequestPasswordReset(r.Context(), req.Email, originFrom(r)); err != nil {
			HandleServiceError(w, err, requestLogger(deps, r))
			return
		}
		writeMessage(deps, w, "If the address is registered, a password reset email has been sent")
	}
}

// ResetPasswordHandler consumes a reset credential and sets a new password
func ResetPasswordHandler(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ResetPasswordRequest
		if !decodeAndValidate(deps, w, r, &req) {
			return
		}

		user, err := deps.Users.ResetPassword(r.Context(), req.Token, req.NewPassword)
		if err != nil {
			HandleServiceError(w, err, requestLogger(deps, r))
			return
		}

		middleware.SetAuditSubject(r.Context(), &user.ID, nil)
		writeMessage(deps, w, "Password has been reset")
	}
}

// ChangePasswordHandler changes the caller's password after checking the current one
func ChangePasswordHandler(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ac := middleware.GetAuthContextFromContext(r.Context())

		var req ChangePasswordRequest
		if !decodeAndValidate(deps, w, r, &req) {
			return
		}

		if err := deps.Users.ChangePassword(r.Context(), ac.User.ID, req.CurrentPassword, req.NewPassword); err != nil {
			HandleServiceError(w, err, requestLogger(deps, r))
			return
		}
		writeMessage(deps, w, "Password has been changed")
	}
}

// MeHandler returns the caller's identity and effective permissions
func MeHandler(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ac := middleware.GetAuthContextFromContext(r.Context())
		writeOK(deps, w, newMeResponse(ac))
	}
}

// UpdateMeHandler updates the caller's own profile
func UpdateMeHandler(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ac := middleware.GetAuthContextFromContext(r.Context())

		var req ProfileRequest
		if !decodeAndValidate(deps, w, r, &req) {
			return
		}

		user, err := deps.Users.UpdateProfile(r.Context(), ac.User.ID, registry.ProfileInput{
			Name:     req.Name,
			Metadata: req.Metadata,
		})
		if err != nil {
			HandleServiceError(w, err, requestLogger(deps, r))
			return
		}
		writeOK(deps, w, user)
	}
}

func setAuthCookie(deps *app.Dependencies, w http.ResponseWriter, pair *authz.TokenPair) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.AuthTokenCookieName,
		Value:    pair.AccessToken,
		Path:     "/",
		MaxAge:   int(pair.ExpiresIn),
		HttpOnly: true,
		Secure:   secureCookies(deps),
		SameSite: http.SameSiteStrictMode,
	})
}

func clearAuthCookie(deps *app.Dependencies, w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.AuthTokenCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   secureCookies(deps),
		SameSite: http.SameSiteStrictMode,
	})
}

func secureCookies(deps *app.Dependencies) bool {
	return deps.Config.Server.TLS.Enabled || deps.Config.IsProduction()
}
