package apns

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/sideshow/apns2/payload"
)

func tokenOptions() Options {
	return Options{TeamID: "TEAM123456", KeyID: "KEY1234567", Topic: "com.example.app"}
}

func TestBuildRequestURLFollowsSandboxFlag(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		sandbox bool
		port    Port
		want    string
	}{
		{name: "production", want: "https://api.push.apple.com/3/device/abc123"},
		{name: "sandbox", sandbox: true, want: "https://api.development.push.apple.com/3/device/abc123"},
		{name: "explicit default port", port: PortDefault, want: "https://api.push.apple.com/3/device/abc123"},
		{name: "alternative port", sandbox: true, port: PortAlternative, want: "https://api.development.push.apple.com:2197/3/device/abc123"},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			opts := tokenOptions()
			opts.Port = tc.port

			req, err := BuildRequest(Notification{ID: "n-1", DeviceToken: "abc123", Sandbox: tc.sandbox}, opts, "tok")
			if err != nil {
				t.Fatalf("BuildRequest() error = %v", err)
			}
			if req.URL != tc.want {
				t.Fatalf("URL = %q, want %q", req.URL, tc.want)
			}
		})
	}
}

func TestBuildRequestHeaders(t *testing.T) {
	t.Parallel()

	n := Notification{
		ID:          "6E7C1A55-3F0B-4C4A-9C55-0D1E2F3A4B5C",
		DeviceToken: "abc123",
		Expiration:  time.Unix(1_700_000_000, 600*int64(time.Millisecond)),
		Priority:    PriorityConserve,
		CollapseID:  "score",
		ThreadID:    "match-42",
	}

	req, err := BuildRequest(n, tokenOptions(), "signed.jwt.value")
	if err != nil {
		t.Fatalf("BuildRequest() error = %v", err)
	}

	want := map[string]string{
		HeaderID:            n.ID,
		HeaderExpiration:    "1700000001",
		HeaderPriority:      "5",
		HeaderTopic:         "com.example.app",
		HeaderCollapseID:    "score",
		HeaderThreadID:      "match-42",
		HeaderAuthorization: "bearer signed.jwt.value",
		"User-Agent":        UserAgent,
		"Accept":            "application/json",
		"Content-Type":      "application/json",
	}
	for key, value := range want {
		if got := req.Header.Values(key); len(got) != 1 || got[0] != value {
			t.Fatalf("header %s = %v, want [%s]", key, got, value)
		}
	}
	if len(req.Header) != len(want) {
		t.Fatalf("header count = %d, want %d (%v)", len(req.Header), len(want), req.Header)
	}
}

func TestBuildRequestDefaultsAndOmissions(t *testing.T) {
	t.Parallel()

	req, err := BuildRequest(Notification{ID: "n-1", DeviceToken: "abc123"}, tokenOptions(), "tok")
	if err != nil {
		t.Fatalf("BuildRequest() error = %v", err)
	}

	if got := req.Header.Get(HeaderExpiration); got != "0" {
		t.Fatalf("apns-expiration = %q, want %q", got, "0")
	}
	if got := req.Header.Get(HeaderPriority); got != "10" {
		t.Fatalf("apns-priority = %q, want %q", got, "10")
	}
	for _, key := range []string{HeaderCollapseID, HeaderThreadID} {
		if got := req.Header.Values(key); len(got) != 0 {
			t.Fatalf("header %s = %v, want omitted", key, got)
		}
	}
	if string(req.Body) != "{}" {
		t.Fatalf("body = %s, want {}", req.Body)
	}
}

func TestBuildRequestTopicOverride(t *testing.T) {
	t.Parallel()

	req, err := BuildRequest(Notification{ID: "n-1", DeviceToken: "abc", Topic: "com.example.other"}, tokenOptions(), "tok")
	if err != nil {
		t.Fatalf("BuildRequest() error = %v", err)
	}
	if got := req.Header.Get(HeaderTopic); got != "com.example.other" {
		t.Fatalf("apns-topic = %q, want override", got)
	}
}

func TestBuildRequestCertificateModeOmitsAuthorization(t *testing.T) {
	t.Parallel()

	opts := Options{CertPath: "/etc/apns/cert.pem", KeyPath: "/etc/apns/key.pem", Topic: "com.example.app"}

	req, err := BuildRequest(Notification{ID: "n-1", DeviceToken: "abc"}, opts, "ignored")
	if err != nil {
		t.Fatalf("BuildRequest() error = %v", err)
	}
	if _, ok := req.Header[HeaderAuthorization]; ok {
		t.Fatalf("Authorization header present in certificate mode")
	}
}

func TestBuildRequestBodyIsCompactUnescapedJSON(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		payload any
		want    string
	}{
		{
			name:    "map",
			payload: map[string]any{"aps": map[string]any{"alert": "a < b & c"}},
			want:    `{"aps":{"alert":"a < b & c"}}`,
		},
		{
			name:    "raw message is compacted",
			payload: json.RawMessage("{\n  \"aps\": { \"badge\": 3 }\n}"),
			want:    `{"aps":{"badge":3}}`,
		},
		{
			name:    "bytes",
			payload: []byte(`{ "k" : "v" }`),
			want:    `{"k":"v"}`,
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			req, err := BuildRequest(Notification{ID: "n-1", DeviceToken: "abc", Payload: tc.payload}, tokenOptions(), "tok")
			if err != nil {
				t.Fatalf("BuildRequest() error = %v", err)
			}
			if string(req.Body) != tc.want {
				t.Fatalf("body = %s, want %s", req.Body, tc.want)
			}
		})
	}
}

func TestBuildRequestEncodesPayloadBuilder(t *testing.T) {
	t.Parallel()

	p := payload.NewPayload().AlertTitle("Hi").AlertBody("there").Badge(1).Custom("order", "42")

	req, err := BuildRequest(Notification{ID: "n-1", DeviceToken: "abc", Payload: p}, tokenOptions(), "tok")
	if err != nil {
		t.Fatalf("BuildRequest() error = %v", err)
	}
	if strings.Contains(string(req.Body), "\n") {
		t.Fatalf("body = %s, want compact JSON", req.Body)
	}

	var got struct {
		APS struct {
			Alert struct {
				Title string `json:"title"`
				Body  string `json:"body"`
			} `json:"alert"`
			Badge int `json:"badge"`
		} `json:"aps"`
		Order string `json:"order"`
	}
	if err := json.Unmarshal(req.Body, &got); err != nil {
		t.Fatalf("body is not JSON: %v", err)
	}
	if got.APS.Alert.Title != "Hi" || got.APS.Alert.Body != "there" || got.APS.Badge != 1 || got.Order != "42" {
		t.Fatalf("decoded body = %+v", got)
	}
}

func TestBuildRequestRejectsInvalidRawPayload(t *testing.T) {
	t.Parallel()

	_, err := BuildRequest(Notification{ID: "n-1", DeviceToken: "abc", Payload: json.RawMessage(`{"aps":`)}, tokenOptions(), "tok")
	if err == nil || !strings.Contains(err.Error(), "payload") {
		t.Fatalf("BuildRequest() error = %v, want payload error", err)
	}
}

func TestRequestBuilderEndpointOverride(t *testing.T) {
	t.Parallel()

	b := newRequestBuilder(tokenOptions(), "https://127.0.0.1:9000", "https://127.0.0.1:9001")

	prod, err := b.build(Notification{ID: "n-1", DeviceToken: "abc"}, "tok")
	if err != nil {
		t.Fatalf("build() error = %v", err)
	}
	sandbox, err := b.build(Notification{ID: "n-2", DeviceToken: "abc", Sandbox: true}, "tok")
	if err != nil {
		t.Fatalf("build() error = %v", err)
	}

	if prod.URL != "https://127.0.0.1:9000/3/device/abc" {
		t.Fatalf("production URL = %q", prod.URL)
	}
	if sandbox.URL != "https://127.0.0.1:9001/3/device/abc" {
		t.Fatalf("sandbox URL = %q", sandbox.URL)
	}
}
