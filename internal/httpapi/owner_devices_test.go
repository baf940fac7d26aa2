package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/lukasbauer/interviewer/internal/store"
)

var deviceHex = strings.Repeat("0f", 32)

func TestNormalizeDeviceToken(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{"hex", deviceHex, deviceHex, false},
		{"upper case", strings.ToUpper(deviceHex), deviceHex, false},
		{"NSData description", "<" + strings.Repeat("0f0f0f0f ", 8)[:71] + ">", deviceHex, false},
		{"too short", "0f0f", "", true},
		{"odd length", deviceHex + "0", "", true},
		{"not hex", strings.Repeat("zz", 32), "", true},
		{"firebase token", "dQw4w9WgXcQ:APA91bHun4MxP5egoKMwt2KZFBaFUH", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := normalizeDeviceToken(tt.raw)
			if (err != nil) != tt.wantErr {
				t.Fatalf("normalizeDeviceToken(%q) error = %v, wantErr %v", tt.raw, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("normalizeDeviceToken(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestRegisterDevice_Rejections(t *testing.T) {
	st := newMemStore()
	r := newTestRouter(t, st, noVoice)
	token := ownerToken(t, "user-1")

	tests := []struct {
		name      string
		auth      bool
		body      string
		wantCode  int
		wantError string
	}{
		{"no auth", false, `{"token": "` + deviceHex + `"}`, http.StatusUnauthorized, "missing authorization"},
		{"invalid json", true, `{`, http.StatusBadRequest, "invalid request body"},
		{"missing token", true, `{"platform": "ios"}`, http.StatusBadRequest, "token is required"},
		{"android", true, `{"token": "` + deviceHex + `", "platform": "android"}`, http.StatusBadRequest, "only ios devices"},
		{"malformed token", true, `{"token": "device-token"}`, http.StatusBadRequest, "APNs device token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/push/register", strings.NewReader(tt.body))
			if tt.auth {
				req = authed(req, token)
			}
			rec := httptest.NewRecorder()
			r.mux.ServeHTTP(rec, req)

			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d, body: %s", rec.Code, tt.wantCode, rec.Body.String())
			}
			var resp map[string]string
			_ = json.NewDecoder(rec.Body).Decode(&resp)
			if !strings.Contains(resp["error"], tt.wantError) {
				t.Errorf("error = %q, should mention %q", resp["error"], tt.wantError)
			}
		})
	}

	if devices, _ := st.ListOwnerDevices(context.Background(), "user-1"); len(devices) != 0 {
		t.Errorf("rejected registrations stored devices: %+v", devices)
	}
}

func TestOwnerDevices_Lifecycle(t *testing.T) {
	st := newMemStore()
	r := newTestRouter(t, st, noVoice)
	token := ownerToken(t, "user-1")

	do := func(method, path, body string) *httptest.ResponseRecorder {
		t.Helper()
		req := authed(httptest.NewRequest(method, path, strings.NewReader(body)), token)
		rec := httptest.NewRecorder()
		r.mux.ServeHTTP(rec, req)
		return rec
	}

	rec := do(http.MethodPost, "/api/push/register", `{"token": "`+strings.ToUpper(deviceHex)+`"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("register status = %d, body: %s", rec.Code, rec.Body.String())
	}
	var registered struct {
		Device      store.OwnerDevice `json:"device"`
		PushEnabled bool              `json:"push_enabled"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&registered); err != nil {
		t.Fatal(err)
	}
	if registered.Device.Token != deviceHex || registered.Device.Platform != store.PlatformIOS {
		t.Errorf("device = %+v", registered.Device)
	}
	if registered.PushEnabled {
		t.Error("push_enabled without an APNs client")
	}

	// Registering the same phone twice keeps one device.
	do(http.MethodPost, "/api/push/register", `{"token": "`+deviceHex+`", "platform": "ios"}`)
	rec = do(http.MethodGet, "/api/push/devices", "")
	var listed struct {
		Devices []store.OwnerDevice `json:"devices"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&listed); err != nil {
		t.Fatal(err)
	}
	if len(listed.Devices) != 1 || listed.Devices[0].ID != registered.Device.ID {
		t.Errorf("devices = %+v", listed.Devices)
	}

	for _, want := range []bool{true, false} {
		rec = do(http.MethodPost, "/api/push/unregister", `{"token": "`+deviceHex+`"}`)
		var resp map[string]bool
		_ = json.NewDecoder(rec.Body).Decode(&resp)
		if rec.Code != http.StatusOK || resp["removed"] != want {
			t.Errorf("unregister = %d %v, want removed=%v", rec.Code, resp, want)
		}
	}
}

func TestHandleTestPush(t *testing.T) {
	st := newMemStore()
	r := newTestRouter(t, st, noVoice)
	token := ownerToken(t, "user-1")
	send := func() *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		r.mux.ServeHTTP(rec, authed(httptest.NewRequest(http.MethodPost, "/api/push/test", nil), token))
		return rec
	}

	if rec := send(); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("without APNs status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}

	retired := strings.Repeat("cd", 32)
	pusher := &fakePusher{gone: map[string]bool{retired: true}}
	r.apns = pusher
	if rec := send(); rec.Code != http.StatusNotFound {
		t.Errorf("without devices status = %d, want %d", rec.Code, http.StatusNotFound)
	}

	st.SaveOwnerDevice(context.Background(), "user-1", deviceHex)
	st.SaveOwnerDevice(context.Background(), "user-1", retired)
	st.SaveOwnerDevice(context.Background(), "user-2", strings.Repeat("ee", 32))

	rec := send()
	var resp map[string]int
	_ = json.NewDecoder(rec.Body).Decode(&resp)
	if rec.Code != http.StatusOK || resp["devices"] != 2 || resp["sent"] != 1 {
		t.Fatalf("test push = %d %v, want 2 devices and 1 sent", rec.Code, resp)
	}
	if len(pusher.tests) != 1 || pusher.tests[0] != deviceHex {
		t.Errorf("pushed to %v, want only the caller's live device", pusher.tests)
	}
	devices, _ := st.ListOwnerDevices(context.Background(), "user-1")
	if len(devices) != 1 || devices[0].Token != deviceHex {
		t.Errorf("devices after test push = %+v, want the retired one forgotten", devices)
	}
}
