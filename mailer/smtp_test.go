package mailer

import (
	"bufio"
	"context"
	"io"
	"mime"
	"mime/multipart"
	"net"
	"net/mail"
	"net/textproto"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	walletauth "github.com/MrEthical07/walletauth"
)

// fakeRelay is a minimal SMTP server good enough for net/smtp.
type fakeRelay struct {
	ln         net.Listener
	rejectRcpt bool

	mu       sync.Mutex
	from     string
	rcpts    []string
	messages [][]byte
}

func startRelay(t *testing.T, rejectRcpt bool) *fakeRelay {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	r := &fakeRelay{ln: ln, rejectRcpt: rejectRcpt}
	go r.serve()
	t.Cleanup(func() { _ = ln.Close() })
	return r
}

func (r *fakeRelay) port() int {
	return r.ln.Addr().(*net.TCPAddr).Port
}

func (r *fakeRelay) serve() {
	for {
		conn, err := r.ln.Accept()
		if err != nil {
			return
		}
		go r.handle(conn)
	}
}

func (r *fakeRelay) handle(conn net.Conn) {
	defer conn.Close()
	tr := textproto.NewReader(bufio.NewReader(conn))
	w := bufio.NewWriter(conn)
	reply := func(lines ...string) {
		for _, l := range lines {
			_, _ = w.WriteString(l + "\r\n")
		}
		_ = w.Flush()
	}

	reply("220 localhost fake relay")
	for {
		line, err := tr.ReadLine()
		if err != nil {
			return
		}
		verb := strings.ToUpper(strings.SplitN(line, " ", 2)[0])
		switch verb {
		case "EHLO", "HELO":
			reply("250-localhost", "250 8BITMIME")
		case "MAIL":
			r.mu.Lock()
			r.from = line
			r.mu.Unlock()
			reply("250 ok")
		case "RCPT":
			if r.rejectRcpt {
				reply("550 no such mailbox")
				continue
			}
			r.mu.Lock()
			r.rcpts = append(r.rcpts, line)
			r.mu.Unlock()
			reply("250 ok")
		case "DATA":
			reply("354 end with <CRLF>.<CRLF>")
			data, err := tr.ReadDotBytes()
			if err != nil {
				return
			}
			r.mu.Lock()
			r.messages = append(r.messages, data)
			r.mu.Unlock()
			reply("250 queued")
		case "RSET", "NOOP":
			reply("250 ok")
		case "QUIT":
			reply("221 bye")
			return
		default:
			reply("502 not implemented")
		}
	}
}

func (r *fakeRelay) snapshot() (string, []string, [][]byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.from, append([]string(nil), r.rcpts...), append([][]byte(nil), r.messages...)
}

func newTestSMTP(t *testing.T, port int, logger *zap.Logger) *SMTP {
	t.Helper()
	m, err := NewSMTP(SMTPConfig{
		Host:     "127.0.0.1",
		Port:     port,
		From:     "auth@example.com",
		FromName: "Wallet Auth",
		TLS:      TLSNone,
		Timeout:  5 * time.Second,
	}, logger)
	require.NoError(t, err)
	return m
}

func TestSMTPSend(t *testing.T) {
	relay := startRelay(t, false)
	m := newTestSMTP(t, relay.port(), nil)

	res, err := m.Send(context.Background(), walletauth.EmailMessage{
		To:       "user@example.com",
		Subject:  "Your sign-in code: 123456",
		TextBody: "Code 123456\nExpires in 10 minutes.",
		HTMLBody: "<p>Code <b>123456</b></p>",
		Category: "otp",
	})
	require.NoError(t, err)
	require.NotEmpty(t, res.MessageID)

	from, rcpts, messages := relay.snapshot()
	require.Contains(t, from, "<auth@example.com>")
	require.Len(t, rcpts, 1)
	require.Contains(t, rcpts[0], "<user@example.com>")
	require.Len(t, messages, 1)

	msg, err := mail.ReadMessage(strings.NewReader(string(messages[0])))
	require.NoError(t, err)

	subject, err := new(mime.WordDecoder).DecodeHeader(msg.Header.Get("Subject"))
	require.NoError(t, err)
	require.Equal(t, "Your sign-in code: 123456", subject)
	require.Contains(t, msg.Header.Get("Message-ID"), res.MessageID)
	require.Contains(t, msg.Header.Get("From"), "Wallet Auth")

	mediaType, params, err := mime.ParseMediaType(msg.Header.Get("Content-Type"))
	require.NoError(t, err)
	require.Equal(t, "multipart/alternative", mediaType)

	mr := multipart.NewReader(msg.Body, params["boundary"])
	bodies := map[string]string{}
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		b, err := io.ReadAll(part)
		require.NoError(t, err)
		ct, _, err := mime.ParseMediaType(part.Header.Get("Content-Type"))
		require.NoError(t, err)
		bodies[ct] = string(b)
	}
	// The relay reads DATA through a dot reader, which folds CRLF to LF.
	require.Equal(t, "Code 123456\nExpires in 10 minutes.", bodies["text/plain"])
	require.Equal(t, "<p>Code <b>123456</b></p>", bodies["text/html"])
}

func TestSMTPSendSkipsEmptyHTML(t *testing.T) {
	relay := startRelay(t, false)
	m := newTestSMTP(t, relay.port(), nil)

	_, err := m.Send(context.Background(), walletauth.EmailMessage{
		To:       "user@example.com",
		Subject:  "plain",
		TextBody: "only text",
	})
	require.NoError(t, err)

	_, _, messages := relay.snapshot()
	require.Len(t, messages, 1)
	require.NotContains(t, string(messages[0]), "text/html")
}

func TestSMTPRejectedRecipient(t *testing.T) {
	relay := startRelay(t, true)
	core, logs := observer.New(zap.WarnLevel)
	m := newTestSMTP(t, relay.port(), zap.New(core))

	res, err := m.Send(context.Background(), walletauth.EmailMessage{
		To:       "nobody@example.com",
		Subject:  "hi",
		TextBody: "hi",
		Category: "login_alert",
	})
	require.Error(t, err)
	require.Empty(t, res.MessageID)

	entries := logs.FilterMessage("email send failed").All()
	require.Len(t, entries, 1)
	require.Equal(t, "mailer", entries[0].LoggerName)
	require.Equal(t, "login_alert", entries[0].ContextMap()["category"])
}

func TestSMTPInvalidRecipient(t *testing.T) {
	relay := startRelay(t, false)
	m := newTestSMTP(t, relay.port(), nil)

	_, err := m.Send(context.Background(), walletauth.EmailMessage{To: "not an address", Subject: "x", TextBody: "x"})
	require.Error(t, err)

	_, _, messages := relay.snapshot()
	require.Empty(t, messages)
}

func TestSMTPDialFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	m := newTestSMTP(t, port, nil)
	_, err = m.Send(context.Background(), walletauth.EmailMessage{To: "user@example.com", Subject: "x", TextBody: "x"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "dial 127.0.0.1:"+strconv.Itoa(port))
}

func TestNewSMTPValidation(t *testing.T) {
	base := SMTPConfig{Host: "smtp.example.com", Port: 465, From: "auth@example.com"}

	m, err := NewSMTP(base, nil)
	require.NoError(t, err)
	require.Equal(t, TLSImplicit, m.cfg.TLS)
	require.Equal(t, 15*time.Second, m.cfg.Timeout)

	cases := map[string]func(c *SMTPConfig){
		"missing host": func(c *SMTPConfig) { c.Host = " " },
		"missing port": func(c *SMTPConfig) { c.Port = 0 },
		"bad from":     func(c *SMTPConfig) { c.From = "nope" },
		"bad tls mode": func(c *SMTPConfig) { c.TLS = "ssl" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := base
			mutate(&cfg)
			_, err := NewSMTP(cfg, nil)
			require.Error(t, err)
		})
	}
}

func TestLogMailer(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	m := NewLog(zap.New(core))

	res, err := m.Send(context.Background(), walletauth.EmailMessage{
		To:       "dev@example.com",
		Subject:  "Your sign-in code",
		TextBody: "Code 654321",
		Category: "otp",
	})
	require.NoError(t, err)
	require.NotEmpty(t, res.MessageID)

	entries := logs.FilterMessage("email captured").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	require.Equal(t, res.MessageID, fields["message_id"])
	require.Equal(t, "dev@example.com", fields["to"])
	require.Equal(t, "Code 654321", fields["body"])
}
