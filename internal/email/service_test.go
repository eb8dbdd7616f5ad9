package email

import (
	"context"
	"errors"
	"net"
	"net/smtp"
	"strings"
	"testing"
	"time"
)

func TestServiceIsConfigured(t *testing.T) {
	tests := []struct {
		name     string
		config   Config
		expected bool
	}{
		{
			name:     "empty config",
			config:   Config{},
			expected: false,
		},
		{
			name: "missing host",
			config: Config{
				Port: "587",
				From: "tally@example.com",
			},
			expected: false,
		},
		{
			name: "missing from",
			config: Config{
				Host: "smtp.example.com",
				Port: "587",
			},
			expected: false,
		},
		{
			name: "fully configured",
			config: Config{
				Host: "smtp.example.com",
				Port: "587",
				From: "tally@example.com",
			},
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(tt.config)
			if svc.IsConfigured() != tt.expected {
				t.Errorf("IsConfigured() = %v, want %v", svc.IsConfigured(), tt.expected)
			}
		})
	}
}

type sentMail struct {
	addr string
	from string
	to   []string
	msg  string
}

func capture(sent *[]sentMail) SendFunc {
	return func(_ context.Context, addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		*sent = append(*sent, sentMail{addr: addr, from: from, to: to, msg: string(msg)})
		return nil
	}
}

func TestSendProposal(t *testing.T) {
	var sent []sentMail
	svc := NewService(Config{Host: "smtp.example.com", Port: "2525", From: "tally@example.com", FromName: "Tally", BaseURL: "https://tally.example.com/"}).
		WithSendFunc(capture(&sent))

	err := svc.SendProposal(context.Background(), "bob@example.com", ProposalData{
		RecipientName: "Bob",
		RequesterName: "Alice",
		ItemTitle:     "Rent",
		Kind:          "amount",
		Changes:       FieldChanges(map[string]any{"amount": "1200"}, map[string]any{"amount": "1300"}),
		ExpiresAt:     time.Date(2026, 3, 9, 9, 0, 0, 0, time.UTC),
		RequestURL:    svc.RequestURL("cr_1"),
	})
	if err != nil {
		t.Fatalf("SendProposal failed: %v", err)
	}
	if len(sent) != 1 {
		t.Fatalf("expected 1 message, got %d", len(sent))
	}
	mail := sent[0]
	if mail.addr != "smtp.example.com:2525" {
		t.Errorf("unexpected server %q", mail.addr)
	}
	for _, want := range []string{
		"Subject: Alice proposed a change to Rent",
		"From: Tally <tally@example.com>",
		"https://tally.example.com/requests/cr_1",
		"<td>1200</td><td>1300</td>",
		"Mon, 09 Mar 2026 09:00 UTC",
	} {
		if !strings.Contains(mail.msg, want) {
			t.Errorf("message should contain %q", want)
		}
	}
}

func TestSendResolution(t *testing.T) {
	var sent []sentMail
	svc := NewService(Config{Host: "smtp.example.com", Port: "25", From: "tally@example.com"}).WithSendFunc(capture(&sent))

	err := svc.SendResolution(context.Background(), "alice@example.com", ResolutionData{
		RecipientName:    "Alice",
		ItemTitle:        "Rent",
		Kind:             "amount",
		Status:           "auto_approved",
		ResolutionReason: "auto-approved after 7 days without objection",
	})
	if err != nil {
		t.Fatalf("SendResolution failed: %v", err)
	}
	if !strings.Contains(sent[0].msg, "Subject: Your change to Rent was auto-approved") {
		t.Errorf("unexpected subject in %q", sent[0].msg)
	}
	if strings.Contains(sent[0].msg, "View the request") {
		t.Error("message without base URL should not link to the request")
	}
}

func TestSendRequiresConfiguration(t *testing.T) {
	svc := NewService(Config{})
	if err := svc.SendResolution(context.Background(), "alice@example.com", ResolutionData{}); err == nil {
		t.Fatal("expected error for unconfigured service")
	}
}

func TestSendGivesUpOnSilentServer(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	// Accept and never send a greeting.
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			defer conn.Close()
		}
	}()

	host, port, _ := net.SplitHostPort(ln.Addr().String())
	svc := NewService(Config{Host: host, Port: port, From: "tally@example.com"})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	start := time.Now()
	err = svc.SendResolution(ctx, "alice@example.com", ResolutionData{ItemTitle: "Rent", Status: "approved"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("send outlived its context by %s", elapsed)
	}
}

func TestFieldChanges(t *testing.T) {
	changes := FieldChanges(
		map[string]any{"due_date": nil, "start_date": "2026-03-01T00:00:00Z"},
		map[string]any{"due_date": "2026-04-01T00:00:00Z", "end_date": nil},
	)
	if len(changes) != 3 {
		t.Fatalf("expected 3 fields, got %d", len(changes))
	}
	if changes[0].Field != "due_date" || changes[0].Old != "-" || changes[0].New != "2026-04-01T00:00:00Z" {
		t.Errorf("unexpected first change %+v", changes[0])
	}
	if changes[1].Field != "end_date" || changes[2].Field != "start_date" {
		t.Errorf("fields not sorted: %+v", changes)
	}
}
