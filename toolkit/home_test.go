package toolkit

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/bernardlabs/bernard/homeassistant"
)

// fakeHomeAssistant serves the REST endpoints the home tools rely on and
// records service calls.
type fakeHomeAssistant struct {
	serviceCalls []serviceCall
}

type serviceCall struct {
	Domain  string
	Service string
	Data    map[string]any
}

func (f *fakeHomeAssistant) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/api/states":
			json.NewEncoder(w).Encode([]map[string]any{
				{"entity_id": "light.kitchen", "state": "on", "attributes": map[string]any{"friendly_name": "Kitchen Light"}},
				{"entity_id": "light.bedroom", "state": "off", "attributes": map[string]any{"friendly_name": "Bedroom Light"}},
				{"entity_id": "sensor.temp", "state": "21.5"},
			})
		case strings.HasPrefix(r.URL.Path, "/api/states/"):
			entity := strings.TrimPrefix(r.URL.Path, "/api/states/")
			json.NewEncoder(w).Encode(map[string]any{
				"entity_id":  entity,
				"state":      "on",
				"attributes": map[string]any{"friendly_name": "Kitchen Light"},
			})
		case strings.HasPrefix(r.URL.Path, "/api/services/"):
			parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/api/services/"), "/")
			if len(parts) != 2 {
				t.Errorf("bad service path %q", r.URL.Path)
				return
			}
			var data map[string]any
			json.NewDecoder(r.Body).Decode(&data)
			f.serviceCalls = append(f.serviceCalls, serviceCall{Domain: parts[0], Service: parts[1], Data: data})
			w.Write([]byte("[]"))
		default:
			http.NotFound(w, r)
		}
	}
}

func newHomeTools(t *testing.T) (*HomeTools, *fakeHomeAssistant) {
	t.Helper()
	fake := &fakeHomeAssistant{}
	srv := httptest.NewServer(fake.handler(t))
	t.Cleanup(srv.Close)
	return NewHomeTools(homeassistant.NewClient(srv.URL, "token")), fake
}

func TestGetDeviceState(t *testing.T) {
	tools, _ := newHomeTools(t)
	out, err := tools.getState(context.Background(), map[string]any{"entity_id": "light.kitchen"})
	if err != nil {
		t.Fatalf("getState: %v", err)
	}
	if !strings.Contains(out, "Kitchen Light") || !strings.Contains(out, "on") {
		t.Errorf("output = %q", out)
	}
}

func TestListDevicesFiltered(t *testing.T) {
	tools, _ := newHomeTools(t)
	out, err := tools.listDevices(context.Background(), map[string]any{"domain": "light"})
	if err != nil {
		t.Fatalf("listDevices: %v", err)
	}
	if !strings.Contains(out, "light.kitchen") || !strings.Contains(out, "light.bedroom") {
		t.Errorf("output = %q", out)
	}
	if strings.Contains(out, "sensor.temp") {
		t.Errorf("filter ignored: %q", out)
	}
}

func TestControlDevice(t *testing.T) {
	tools, fake := newHomeTools(t)
	out, err := tools.controlDevice(context.Background(), map[string]any{
		"entity_id": "light.kitchen",
		"action":    "off",
	})
	if err != nil {
		t.Fatalf("controlDevice: %v", err)
	}
	if !strings.Contains(out, "turn_off") {
		t.Errorf("output = %q", out)
	}
	if len(fake.serviceCalls) != 1 {
		t.Fatalf("%d service calls", len(fake.serviceCalls))
	}
	call := fake.serviceCalls[0]
	if call.Domain != "light" || call.Service != "turn_off" {
		t.Errorf("call = %+v", call)
	}
	if call.Data["entity_id"] != "light.kitchen" {
		t.Errorf("call data = %v", call.Data)
	}
}

func TestControlDeviceBadEntity(t *testing.T) {
	tools, _ := newHomeTools(t)
	_, err := tools.controlDevice(context.Background(), map[string]any{
		"entity_id": "nodomain",
		"action":    "on",
	})
	if err == nil {
		t.Error("entity without domain accepted")
	}
}

func TestControlActionEnum(t *testing.T) {
	tools, _ := newHomeTools(t)
	schema := tools.controlDescriptor().InputSchema
	if err := schema.Validate(map[string]any{"entity_id": "light.k", "action": "explode"}); err == nil {
		t.Error("action outside enum accepted")
	}
}
