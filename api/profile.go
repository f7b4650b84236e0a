package api

import (
	"net/http"
	"net/url"
	"strings"
)

// GetProfile handles GET /users/profile.
func (a *API) GetProfile(w http.ResponseWriter, r *http.Request) {
	rec := accountFromContext(r.Context())
	if rec == nil {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	writeJSON(w, http.StatusOK, rec.user())
}

// UpdateProfile handles PATCH /users/profile. Only the fields present in the
// body change; email, role and status are not editable here.
func (a *API) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	rec := accountFromContext(r.Context())
	if rec == nil {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	req, ok := decodeJSON[UpdateProfileRequest](w, r, maxAuthBodySize)
	if !ok {
		return
	}
	if err := applyProfileUpdate(rec, req); err != nil {
		mapError(w, err)
		return
	}
	if err := a.saveAccount(rec); err != nil {
		mapError(w, err)
		return
	}
	a.audit.logEvent(AuditProfileUpdated, r, rec.ID)
	writeJSON(w, http.StatusOK, rec.user())
}

// applyProfileUpdate validates req and copies it onto rec. rec is untouched
// on error.
func applyProfileUpdate(rec *accountRecord, req UpdateProfileRequest) error {
	first, last := rec.FirstName, rec.LastName
	phone, avatar := rec.Phone, rec.Avatar
	var err error
	if req.FirstName != nil {
		if first, err = validateName("first name", *req.FirstName); err != nil {
			return err
		}
	}
	if req.LastName != nil {
		if last, err = validateName("last name", *req.LastName); err != nil {
			return err
		}
	}
	if req.Phone != nil {
		phone = strings.TrimSpace(*req.Phone)
		if len(phone) > maxPhoneLen {
			return validationError("phone number is too long")
		}
	}
	if req.Avatar != nil {
		if avatar, err = validateAvatar(*req.Avatar); err != nil {
			return err
		}
	}
	rec.FirstName, rec.LastName = first, last
	rec.Phone, rec.Avatar = phone, avatar
	return nil
}

// validateAvatar accepts an absolute http(s) URL, or empty to clear.
func validateAvatar(raw string) (string, error) {
	avatar := strings.TrimSpace(raw)
	if avatar == "" {
		return "", nil
	}
	if len(avatar) > maxAvatarLen {
		return "", validationError("avatar URL is too long")
	}
	u, err := url.Parse(avatar)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", validationError("avatar must be an http or https URL")
	}
	return avatar, nil
}
