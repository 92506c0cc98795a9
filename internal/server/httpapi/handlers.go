package httpapi

import (
	"encoding/json"
	"net"
	"net/http"
)

// clientIP strips the ephemeral port so device fingerprints stay stable
// across connections. Behind a proxy the RealIP middleware has already
// rewritten RemoteAddr to a bare address.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

type registerRequest struct {
	Username    string `json:"username"`
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"displayName,omitempty"`
}

type verifyEmailRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

type resendVerificationRequest struct {
	Email string `json:"email"`
}

type loginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

type verifyLoginRequest struct {
	Email       string `json:"email"`
	Code        string `json:"code"`
	TrustDevice bool   `json:"trustDevice,omitempty"`
	DeviceName  string `json:"deviceName,omitempty"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type socialLoginRequest struct {
	IDToken string `json:"idToken"`
}

type emailChangeRequest struct {
	NewEmail string `json:"newEmail"`
}

type verifyEmailChangeRequest struct {
	Code string `json:"code"`
}

type updateProfileRequest struct {
	DisplayName    *string `json:"displayName"`
	ProfilePicture *string `json:"profilePicture"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type logoutAllResponse struct {
	Revoked int64 `json:"revoked"`
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return false
	}
	return true
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decode(w, r, &req) {
		return
	}

	user, err := s.users.Register(r.Context(), req.Username, req.Email, req.Password, req.DisplayName)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

// handleVerifyEmail confirms the registration code and logs the account
// straight in, so clients go from signup to a session in one hop.
func (s *Server) handleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req verifyEmailRequest
	if !decode(w, r, &req) {
		return
	}

	resp, err := s.users.VerifyEmail(r.Context(), req.Email, req.Code, r.UserAgent())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleResendVerification(w http.ResponseWriter, r *http.Request) {
	var req resendVerificationRequest
	if !decode(w, r, &req) {
		return
	}

	if err := s.users.ResendVerification(r.Context(), req.Email); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "verification code sent"})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decode(w, r, &req) {
		return
	}

	result, err := s.login.Initiate(r.Context(), req.Identifier, req.Password, r.UserAgent(), clientIP(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleVerifyLogin(w http.ResponseWriter, r *http.Request) {
	var req verifyLoginRequest
	if !decode(w, r, &req) {
		return
	}

	resp, err := s.login.VerifyLogin(r.Context(), req.Email, req.Code, req.TrustDevice, req.DeviceName)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !decode(w, r, &req) {
		return
	}

	result, err := s.login.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleLogout is idempotent: revoking an already-revoked grant is fine.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !decode(w, r, &req) {
		return
	}

	if err := s.login.Logout(r.Context(), req.RefreshToken); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "logged out"})
}

func (s *Server) handleGoogleLogin(w http.ResponseWriter, r *http.Request) {
	var req socialLoginRequest
	if !decode(w, r, &req) {
		return
	}

	resp, err := s.social.GoogleLogin(r.Context(), req.IDToken, r.UserAgent())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAppleLogin(w http.ResponseWriter, r *http.Request) {
	var req socialLoginRequest
	if !decode(w, r, &req) {
		return
	}

	resp, err := s.social.AppleLogin(r.Context(), req.IDToken, r.UserAgent())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())

	user, err := s.users.FindUserByUsername(r.Context(), claims.Username)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user.Public())
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req updateProfileRequest
	if !decode(w, r, &req) {
		return
	}
	claims := claimsFrom(r.Context())

	user, err := s.users.UpdateProfile(r.Context(), claims.Username, req.DisplayName, req.ProfilePicture)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleRequestEmailChange(w http.ResponseWriter, r *http.Request) {
	var req emailChangeRequest
	if !decode(w, r, &req) {
		return
	}
	claims := claimsFrom(r.Context())

	if err := s.users.RequestEmailChange(r.Context(), claims.Username, req.NewEmail); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "verification code sent to new address"})
}

func (s *Server) handleVerifyEmailChange(w http.ResponseWriter, r *http.Request) {
	var req verifyEmailChangeRequest
	if !decode(w, r, &req) {
		return
	}
	claims := claimsFrom(r.Context())

	user, err := s.users.VerifyEmailChange(r.Context(), claims.Username, req.Code)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// handleForgetDevice drops trust for the device making the request, matched
// by the same user-agent and address fingerprint the login flow uses.
func (s *Server) handleForgetDevice(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())

	if err := s.login.ForgetDevice(r.Context(), claims.UserID, r.UserAgent(), clientIP(r)); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleLogoutAll revokes every refresh grant for the caller. Cached token
// projections are not swept here; they age out within the session ceiling.
func (s *Server) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())

	n, err := s.login.LogoutAll(r.Context(), claims.UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, logoutAllResponse{Revoked: n})
}
