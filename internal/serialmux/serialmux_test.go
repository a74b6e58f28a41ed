package serialmux

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"
)

// localHostRequest creates an httptest request that appears to come from localhost.
// This bypasses tsweb.AllowDebugAccess which checks for loopback IPs.
func localHostRequest(method, path string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, path, body)
	req.RemoteAddr = "127.0.0.1:12345"
	return req
}

func TestSerialMux_SendCommand(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)

	if err := mux.SendCommand("G 1 0.5 0.5 0"); err != nil {
		t.Fatalf("SendCommand: %v", err)
	}
	if err := mux.SendCommand("X\n"); err != nil {
		t.Fatalf("SendCommand: %v", err)
	}
	got := string(port.GetWrittenData())
	if got != "G 1 0.5 0.5 0\nX\n" {
		t.Errorf("written = %q", got)
	}
}

func TestSerialMux_SendCommand_WriteError(t *testing.T) {
	port := NewTestableSerialPort()
	port.WriteError = errors.New("boom")
	mux := NewSerialMux(port)
	if err := mux.SendCommand("P"); err == nil {
		t.Error("expected write error")
	}
}

func TestSerialMux_Initialize(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)
	if err := mux.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	lines := port.WrittenLines()
	if len(lines) != 2 || lines[0] != "X" || lines[1] != "P" {
		t.Errorf("Initialize wrote %q, want [X P]", lines)
	}
}

func TestSerialMux_MonitorFansOut(t *testing.T) {
	port := NewTestableSerialPort()
	port.BlockReads = true
	mux := NewSerialMux(port)

	_, a := mux.Subscribe()
	idB, b := mux.Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- mux.Monitor(ctx) }()

	port.AddLine("F 1 2 0\r")

	for name, ch := range map[string]chan string{"a": a, "b": b} {
		select {
		case line := <-ch:
			if line != "F 1 2 0" {
				t.Errorf("subscriber %s got %q", name, line)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %s got nothing", name)
		}
	}

	mux.Unsubscribe(idB)
	if _, ok := <-b; ok {
		t.Error("unsubscribed channel should be closed")
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Monitor returned %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Monitor did not stop on cancel")
	}
}

func TestSerialMux_Close(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)
	_, ch := mux.Subscribe()

	if err := mux.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, ok := <-ch; ok {
		t.Error("subscriber channel should be closed")
	}
	if !port.Closed {
		t.Error("port should be closed")
	}
}

func TestAttachAdminRoutes(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)
	httpMux := http.NewServeMux()
	mux.AttachAdminRoutes(httpMux)

	tests := []struct {
		name       string
		method     string
		path       string
		form       url.Values
		wantStatus int
		wantBody   string
	}{
		{"page", http.MethodGet, "/debug/send-command", nil, http.StatusOK, "send-command-api"},
		{"send", http.MethodPost, "/debug/send-command-api", url.Values{"command": {"P"}}, http.StatusOK, `"P"`},
		{"empty", http.MethodPost, "/debug/send-command-api", url.Values{"command": {"  "}}, http.StatusBadRequest, "Missing command"},
		{"wrong method", http.MethodGet, "/debug/send-command-api", nil, http.StatusMethodNotAllowed, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body io.Reader
			if tt.form != nil {
				body = strings.NewReader(tt.form.Encode())
			}
			req := localHostRequest(tt.method, tt.path, body)
			if tt.form != nil {
				req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			}
			rec := httptest.NewRecorder()
			httpMux.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if !strings.Contains(rec.Body.String(), tt.wantBody) {
				t.Errorf("body %q does not contain %q", rec.Body.String(), tt.wantBody)
			}
		})
	}

	if lines := port.WrittenLines(); len(lines) != 1 || lines[0] != "P" {
		t.Errorf("written = %q, want [P]", lines)
	}
}

func TestDisabledSerialMux(t *testing.T) {
	d := NewDisabledSerialMux()
	_, ch := d.Subscribe()
	if err := d.SendCommand("P"); err != nil {
		t.Errorf("SendCommand: %v", err)
	}
	if err := d.Close(); err != nil {
		t.Fatal(err)
	}
	if _, ok := <-ch; ok {
		t.Error("channel should close on Close")
	}
	_, late := d.Subscribe()
	if _, ok := <-late; ok {
		t.Error("subscribing after Close should return a closed channel")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := d.Monitor(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Monitor = %v", err)
	}
}

func TestPortOptions(t *testing.T) {
	tests := []struct {
		name    string
		in      PortOptions
		want    string
		wantErr bool
	}{
		{"defaults", PortOptions{}, "115200 8N1", false},
		{"even two stop", PortOptions{BaudRate: 9600, DataBits: 7, StopBits: 2, Parity: "even"}, "9600 7E2", false},
		{"bad data bits", PortOptions{DataBits: 9}, "", true},
		{"bad stop bits", PortOptions{StopBits: 3}, "", true},
		{"bad parity", PortOptions{Parity: "mark"}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.in.SerialMode()
			if (err != nil) != tt.wantErr {
				t.Fatalf("SerialMode error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && tt.in.String() != tt.want {
				t.Errorf("String() = %q, want %q", tt.in.String(), tt.want)
			}
		})
	}
}
