package httpapi

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/lukasbauer/interviewer/internal/notifications"
	"github.com/lukasbauer/interviewer/internal/store"
)

// APNs tokens are opaque bytes; 32 today, and Apple reserves up to 100.
const (
	minDeviceTokenBytes = 32
	maxDeviceTokenBytes = 100
)

var errBadDeviceToken = errors.New("token must be an APNs device token in hex")

// normalizeDeviceToken accepts the hex form and the "<abcd ef01 ...>" form
// NSData prints, and returns lower-case hex.
func normalizeDeviceToken(raw string) (string, error) {
	t := strings.ToLower(strings.NewReplacer("<", "", ">", "", " ", "").Replace(raw))
	b, err := hex.DecodeString(t)
	if err != nil || len(b) < minDeviceTokenBytes || len(b) > maxDeviceTokenBytes {
		return "", errBadDeviceToken
	}
	return t, nil
}

type deviceBody struct {
	Token    string `json:"token"`
	Platform string `json:"platform"`
}

// decodeDeviceBody reads and validates the request body. It writes the error
// response and returns false when the body is unusable.
func decodeDeviceBody(w http.ResponseWriter, req *http.Request) (deviceBody, bool) {
	var body deviceBody
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		http.Error(w, `{"error": "invalid request body"}`, http.StatusBadRequest)
		return body, false
	}
	if body.Token == "" {
		http.Error(w, `{"error": "token is required"}`, http.StatusBadRequest)
		return body, false
	}
	// Completion pushes only go through APNs.
	if body.Platform != "" && body.Platform != store.PlatformIOS {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "only ios devices receive interview notifications"})
		return body, false
	}
	token, err := normalizeDeviceToken(body.Token)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return body, false
	}
	body.Token = token
	body.Platform = store.PlatformIOS
	return body, true
}

func (r *Router) handleListDevices(w http.ResponseWriter, req *http.Request) {
	user := getAuthUser(req.Context())
	if user == nil {
		http.Error(w, `{"error": "unauthorized"}`, http.StatusUnauthorized)
		return
	}

	devices, err := r.store.ListOwnerDevices(req.Context(), user.ID)
	if err != nil {
		r.logger.Printf("push: failed to list devices: %v", err)
		http.Error(w, `{"error": "failed to list devices"}`, http.StatusInternalServerError)
		return
	}
	if devices == nil {
		devices = []store.OwnerDevice{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "push_enabled": r.apns != nil})
}

// handleRegisterDevice subscribes the caller's phone to completion pushes
// for every interview they own.
func (r *Router) handleRegisterDevice(w http.ResponseWriter, req *http.Request) {
	user := getAuthUser(req.Context())
	if user == nil {
		http.Error(w, `{"error": "unauthorized"}`, http.StatusUnauthorized)
		return
	}
	body, ok := decodeDeviceBody(w, req)
	if !ok {
		return
	}

	device, err := r.store.SaveOwnerDevice(req.Context(), user.ID, body.Token)
	if err != nil {
		r.logger.Printf("push: failed to save device for user %s: %v", user.ID, err)
		captureError(req, err, "push: save device")
		http.Error(w, `{"error": "failed to register device"}`, http.StatusInternalServerError)
		return
	}

	r.logger.Printf("push: device %s registered for user %s", device.ID, user.ID)
	writeJSON(w, http.StatusCreated, map[string]any{"device": device, "push_enabled": r.apns != nil})
}

func (r *Router) handleUnregisterDevice(w http.ResponseWriter, req *http.Request) {
	user := getAuthUser(req.Context())
	if user == nil {
		http.Error(w, `{"error": "unauthorized"}`, http.StatusUnauthorized)
		return
	}
	body, ok := decodeDeviceBody(w, req)
	if !ok {
		return
	}

	removed, err := r.store.RemoveOwnerDevice(req.Context(), user.ID, body.Token)
	if err != nil {
		r.logger.Printf("push: failed to remove device for user %s: %v", user.ID, err)
		http.Error(w, `{"error": "failed to unregister device"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"removed": removed})
}

// handleTestPush rings every registered device of the caller so the owner
// can check that completion pushes reach them.
func (r *Router) handleTestPush(w http.ResponseWriter, req *http.Request) {
	user := getAuthUser(req.Context())
	if user == nil {
		http.Error(w, `{"error": "unauthorized"}`, http.StatusUnauthorized)
		return
	}
	if r.apns == nil {
		http.Error(w, `{"error": "push notifications are not configured"}`, http.StatusServiceUnavailable)
		return
	}

	devices, err := r.store.ListOwnerDevices(req.Context(), user.ID)
	if err != nil {
		r.logger.Printf("push: failed to list devices: %v", err)
		http.Error(w, `{"error": "failed to list devices"}`, http.StatusInternalServerError)
		return
	}
	if len(devices) == 0 {
		http.Error(w, `{"error": "no registered devices"}`, http.StatusNotFound)
		return
	}

	sent := r.pushToDevices(req.Context(), devices, func(token string) error {
		return r.apns.SendTestNotification(token, "Finished interviews will show up here.")
	})
	writeJSON(w, http.StatusOK, map[string]int{"devices": len(devices), "sent": sent})
}

// pushToDevices calls send once per device and forgets the tokens APNs has
// retired. It returns how many deliveries succeeded.
func (r *Router) pushToDevices(ctx context.Context, devices []store.OwnerDevice, send func(token string) error) int {
	sent := 0
	for _, d := range devices {
		err := send(d.Token)
		switch {
		case err == nil:
			sent++
		case errors.Is(err, notifications.ErrDeviceGone):
			r.logger.Printf("push: forgetting device %s of user %s: %v", d.ID, d.OwnerID, err)
			if err := r.store.ForgetDeviceToken(ctx, d.Token); err != nil {
				r.logger.Printf("push: failed to forget device %s: %v", d.ID, err)
			}
		default:
			r.logger.Printf("push: delivery to device %s failed: %v", d.ID, err)
		}
	}
	return sent
}
