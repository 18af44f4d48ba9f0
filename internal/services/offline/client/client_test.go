package client

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/repairhub/intake/internal/services/offline/domain"
)

func testPayload() domain.TicketPayload {
	return domain.TicketPayload{
		CustomerName: "Dana Whitfield",
		DeviceKind:   "laptop",
		Issue:        "will not power on",
	}
}

func signedToken(t *testing.T, expiresAt time.Time) string {
	t.Helper()
	claims := jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(expiresAt)}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-key"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func TestNewRequiresBaseURL(t *testing.T) {
	if _, err := New("   ", nil); err == nil {
		t.Fatal("expected error for empty base url")
	}
}

func TestCreateTicketSendsIdempotencyKey(t *testing.T) {
	var gotKey, gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/tickets" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		gotKey = r.Header.Get("Idempotency-Key")
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"ticketId":"tkt-42","friendlyCode":"RB-2042"}`)
	}))
	defer server.Close()

	c, err := New(server.URL, nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	c.SetToken("session-token")

	created, err := c.CreateTicket(context.Background(), "client-abc", testPayload())
	if err != nil {
		t.Fatalf("create ticket: %v", err)
	}
	if created.TicketID != "tkt-42" || created.FriendlyCode != "RB-2042" {
		t.Fatalf("created = %+v", created)
	}
	if gotKey != "client-abc" {
		t.Fatalf("idempotency key = %q, want client-abc", gotKey)
	}
	if gotAuth != "Bearer session-token" {
		t.Fatalf("authorization = %q", gotAuth)
	}
}

func TestCreateTicketClassifiesFailures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		kind   ErrorKind
	}{
		{"rejection", http.StatusUnprocessableEntity, `{"error":"serial number already registered"}`, KindValidation},
		{"bad request", http.StatusBadRequest, `{"error":"missing customer name"}`, KindValidation},
		{"outage", http.StatusBadGateway, "", KindServer},
		{"stale token", http.StatusUnauthorized, `{"error":"token expired"}`, KindServer},
		{"throttled", http.StatusTooManyRequests, "", KindServer},
		{"request timeout", http.StatusRequestTimeout, "", KindServer},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			}))
			defer server.Close()

			c, err := New(server.URL, nil)
			if err != nil {
				t.Fatalf("new client: %v", err)
			}

			_, err = c.CreateTicket(context.Background(), "client-abc", testPayload())
			var apiErr *Error
			if !errors.As(err, &apiErr) {
				t.Fatalf("expected *Error, got %v", err)
			}
			if apiErr.Kind != tt.kind {
				t.Fatalf("kind = %q, want %q", apiErr.Kind, tt.kind)
			}
			if apiErr.StatusCode != tt.status {
				t.Fatalf("status = %d, want %d", apiErr.StatusCode, tt.status)
			}
		})
	}
}

func TestCreateTicketReportsNetworkErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // nothing is listening anymore

	c, err := New(server.URL, nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	_, err = c.CreateTicket(context.Background(), "client-abc", testPayload())
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if apiErr.Kind != KindNetwork {
		t.Fatalf("kind = %q, want network", apiErr.Kind)
	}
	if apiErr.Unwrap() == nil {
		t.Fatal("expected wrapped transport error")
	}
}

func TestUploadPhotoSendsMultipartFile(t *testing.T) {
	content := []byte{0xff, 0xd8, 0xff, 0xe0}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tickets/tkt-42/photos" {
			t.Errorf("path = %s", r.URL.Path)
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("form file: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer file.Close()
		if header.Filename != "damage.jpg" {
			t.Errorf("filename = %q", header.Filename)
		}
		got, _ := io.ReadAll(file)
		if len(got) != len(content) {
			t.Errorf("content length = %d, want %d", len(got), len(content))
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"photoId":"ph-7","url":"https://cdn.example/ph-7"}`)
	}))
	defer server.Close()

	c, err := New(server.URL, nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	uploaded, err := c.UploadPhoto(context.Background(), "tkt-42", domain.Photo{
		ID:       "local-1",
		Name:     "damage.jpg",
		MimeType: "image/jpeg",
		Bytes:    content,
	})
	if err != nil {
		t.Fatalf("upload photo: %v", err)
	}
	if uploaded.PhotoID != "ph-7" {
		t.Fatalf("uploaded = %+v", uploaded)
	}
}

func TestVerifyPINInstallsToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/employees/verify-pin" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"employee":{"id":"emp-1","name":"Sam Ortiz","role":"technician"},"token":"session-token"}`)
	}))
	defer server.Close()

	c, err := New(server.URL, nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	verified, err := c.VerifyPIN(context.Background(), "", "4821")
	if err != nil {
		t.Fatalf("verify pin: %v", err)
	}
	if verified.Employee.ID != "emp-1" || verified.Token != "session-token" {
		t.Fatalf("verified = %+v", verified)
	}
	if !c.HasValidToken() {
		t.Fatal("expected token installed after verification")
	}
}

func TestVerifyPINRejectedByServer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, `{"error":"invalid pin"}`)
	}))
	defer server.Close()

	c, err := New(server.URL, nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	_, err = c.VerifyPIN(context.Background(), "emp-1", "0000")
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if apiErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", apiErr.StatusCode)
	}
	if c.HasValidToken() {
		t.Fatal("failed verification must not install a token")
	}
}

func TestHasValidToken(t *testing.T) {
	c, err := New("http://localhost:1", nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	now := time.Date(2026, 3, 3, 9, 0, 0, 0, time.UTC)
	c.clock = func() time.Time { return now }

	if c.HasValidToken() {
		t.Fatal("no token installed, expected invalid")
	}

	c.SetToken(signedToken(t, now.Add(time.Hour)))
	if !c.HasValidToken() {
		t.Fatal("unexpired jwt should be valid")
	}

	c.SetToken(signedToken(t, now.Add(-time.Minute)))
	if c.HasValidToken() {
		t.Fatal("expired jwt should be invalid")
	}

	// Opaque tokens cannot be inspected locally and are assumed valid.
	c.SetToken("opaque-session-token")
	if !c.HasValidToken() {
		t.Fatal("opaque token should be treated as valid")
	}

	c.ClearToken()
	if c.HasValidToken() {
		t.Fatal("cleared token should be invalid")
	}
}
