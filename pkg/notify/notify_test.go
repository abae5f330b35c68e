package notify

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testAlert = Alert{
	Level:     18.25,
	Threshold: 20,
	Recipient: "birds@example.org",
	DeviceID:  "C4:BE:84:12:34:56",
	Timestamp: time.Date(2026, 4, 1, 7, 30, 0, 0, time.UTC),
}

func TestDefaultTemplate(t *testing.T) {
	tpl, err := NewTemplate("")
	require.NoError(t, err)

	body, err := tpl.Render(testAlert)
	require.NoError(t, err)
	assert.Contains(t, body, "Timestamp: 2026-04-01 07:30:00")
	assert.Contains(t, body, "Battery Level: 18.2%")
	assert.Contains(t, body, "Alert Threshold: 20.0%")
	assert.Contains(t, body, "Scale Address: C4:BE:84:12:34:56")

	noID := testAlert
	noID.DeviceID = ""
	body, err = tpl.Render(noID)
	require.NoError(t, err)
	assert.NotContains(t, body, "Scale Address")
}

func TestInvalidTemplate(t *testing.T) {
	_, err := NewTemplate("{{.Level")
	require.Error(t, err)
}

func TestMailNotifier(t *testing.T) {
	n, err := NewMailNotifier(MailConfig{Host: "smtp.example.org", Port: 587, Username: "u", Password: "p", From: "scale@example.org"}, nil)
	require.NoError(t, err)

	var gotAddr, gotFrom string
	var gotTo []string
	var gotMsg []byte
	n.send = func(_ context.Context, addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotMsg = addr, from, to, msg
		assert.NotNil(t, a)
		return nil
	}

	require.NoError(t, n.Notify(context.Background(), testAlert))
	assert.Equal(t, "smtp.example.org:587", gotAddr)
	assert.Equal(t, "scale@example.org", gotFrom)
	assert.Equal(t, []string{"birds@example.org"}, gotTo)
	assert.True(t, strings.HasPrefix(string(gotMsg), "From: scale@example.org\r\nTo: birds@example.org\r\nSubject: "+DefaultSubject))

	n.send = func(context.Context, string, smtp.Auth, string, []string, []byte) error {
		return errors.New("535 auth failed")
	}
	require.Error(t, n.Notify(context.Background(), testAlert))

	noRecipient := testAlert
	noRecipient.Recipient = ""
	require.Error(t, n.Notify(context.Background(), noRecipient))
}

// serveSMTP plays the server side of a plain SMTP dialog on conn and hands the
// received message body to data
func serveSMTP(conn net.Conn, data chan<- string) {
	defer conn.Close()

	r := bufio.NewReader(conn)
	reply := func(line string) {
		fmt.Fprintf(conn, "%s\r\n", line)
	}

	reply("220 mail.test ESMTP")
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		cmd := strings.ToUpper(strings.TrimSpace(line))
		switch {
		case strings.HasPrefix(cmd, "EHLO"), strings.HasPrefix(cmd, "HELO"):
			reply("250 mail.test")
		case strings.HasPrefix(cmd, "MAIL"), strings.HasPrefix(cmd, "RCPT"):
			reply("250 OK")
		case cmd == "DATA":
			reply("354 go ahead")
			var body strings.Builder
			for {
				l, err := r.ReadString('\n')
				if err != nil {
					return
				}
				if l == ".\r\n" {
					break
				}
				body.WriteString(l)
			}
			data <- body.String()
			reply("250 queued")
		case cmd == "QUIT":
			reply("221 bye")
			return
		default:
			reply("502 not implemented")
		}
	}
}

func listen(t *testing.T) (net.Listener, MailConfig) {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = l.Close()
	})

	return l, MailConfig{
		Host: "127.0.0.1",
		Port: l.Addr().(*net.TCPAddr).Port,
		From: "scale@example.org",
	}
}

func TestMailNotifierDelivers(t *testing.T) {
	l, cfg := listen(t)

	data := make(chan string, 1)
	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		serveSMTP(conn, data)
	}()

	n, err := NewMailNotifier(cfg, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, n.Notify(ctx, testAlert))

	body := <-data
	assert.Contains(t, body, "To: birds@example.org\r\n")
	assert.Contains(t, body, "Subject: "+DefaultSubject)
}

func TestMailNotifierSilentServer(t *testing.T) {
	l, cfg := listen(t)

	// Accept the connection but never greet
	accepted := make(chan net.Conn, 1)
	go func() {
		if conn, err := l.Accept(); err == nil {
			accepted <- conn
		}
	}()
	defer func() {
		select {
		case conn := <-accepted:
			_ = conn.Close()
		default:
		}
	}()

	n, err := NewMailNotifier(cfg, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	err = n.Notify(ctx, testAlert)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second, "delivery must give up once the context is done")
}

func TestMailConfigValidate(t *testing.T) {
	require.Error(t, MailConfig{}.Validate())
	require.Error(t, MailConfig{Host: "h"}.Validate())
	require.Error(t, MailConfig{Host: "h", Port: 25}.Validate())
	require.NoError(t, MailConfig{Host: "h", Port: 25, From: "a@b"}.Validate())
}

func TestWebhookNotifier(t *testing.T) {
	var got webhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n, err := NewWebhookNotifier(srv.URL, nil)
	require.NoError(t, err)
	require.NoError(t, n.Notify(context.Background(), testAlert))

	assert.Equal(t, 18.25, got.Level)
	assert.Equal(t, 20.0, got.Threshold)
	assert.Equal(t, "C4:BE:84:12:34:56", got.DeviceID)
	assert.Equal(t, "2026-04-01T07:30:00Z", got.Timestamp)
	assert.Contains(t, got.Text, "Battery Level: 18.2%")
}

func TestWebhookNotifierErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	n, err := NewWebhookNotifier(srv.URL, nil)
	require.NoError(t, err)
	require.Error(t, n.Notify(context.Background(), testAlert))

	_, err = NewWebhookNotifier("", nil)
	require.Error(t, err)
}

func TestRecorder(t *testing.T) {
	r := &Recorder{Err: errors.New("quota exceeded")}
	require.Error(t, r.Notify(context.Background(), testAlert))
	assert.Equal(t, []Alert{testAlert}, r.Alerts())
}
