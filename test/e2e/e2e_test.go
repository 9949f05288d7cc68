//go:build e2e

// Run with:
//
//	go test -v -tags e2e -timeout 120s ./test/e2e/
package e2e

import (
	"fmt"
	"net/http"
	"os"
	"testing"
	"time"

	"smsdispatch/internal/types"
)

var env *TestEnv

// TestMain skips the whole package, exiting 0, when the local stack is not up.
func TestMain(m *testing.M) {
	var err error
	env, err = NewTestEnv(DefaultTestConfig())
	if err != nil {
		fmt.Fprintf(os.Stderr, "E2E environment not ready, skipping: %v\n", err)
		os.Exit(0)
	}
	code := m.Run()
	env.Close()
	os.Exit(code)
}

func TestE2E_ProcessSendsDueMessagesOnly(t *testing.T) {
	t.Cleanup(func() { env.CleanupTestData(t) })

	user := env.SeedUser(t, 5)
	gw := env.SeedGateway(t, types.ProviderTwilio, true)

	due := env.SeedMessage(t, MessageSeed{UserID: user, GatewayID: gw})
	future := env.SeedMessage(t, MessageSeed{
		UserID:       user,
		GatewayID:    gw,
		Status:       types.MessageStatusScheduled,
		ScheduledFor: ptrTime(time.Now().Add(24 * time.Hour)),
	})

	code, body := env.Trigger(t, "process")
	if code != http.StatusOK {
		t.Fatalf("process returned %d: %v", code, body)
	}
	if _, ok := body["processed"]; !ok {
		t.Errorf("response missing processed count: %v", body)
	}

	sent := env.WaitForStatus(t, due, types.MessageStatusSent)
	if sent.RetryCount != 1 {
		t.Errorf("retry_count = %d, want 1", sent.RetryCount)
	}
	if sent.ProviderMessageID == nil || *sent.ProviderMessageID == "" {
		t.Error("provider message id not recorded")
	}
	if got := env.Credits(t, user); got != 4 {
		t.Errorf("credits = %d, want 4", got)
	}

	if s := env.GetMessage(t, future); s.Status != types.MessageStatusScheduled || s.RetryCount != 0 {
		t.Errorf("future message touched: %+v", s)
	}
}

func TestE2E_TerminalFailures(t *testing.T) {
	t.Cleanup(func() { env.CleanupTestData(t) })

	broke := env.SeedUser(t, 0)
	funded := env.SeedUser(t, 3)
	gw := env.SeedGateway(t, types.ProviderMessageBird, true)
	inactive := env.SeedGateway(t, types.ProviderWhatsApp, false)

	noCredit := env.SeedMessage(t, MessageSeed{UserID: broke, GatewayID: gw})
	offGateway := env.SeedMessage(t, MessageSeed{UserID: funded, GatewayID: inactive})
	missingGateway := env.SeedMessage(t, MessageSeed{UserID: funded, GatewayID: env.id("gw-missing")})

	if code, body := env.Trigger(t, "process"); code != http.StatusOK {
		t.Fatalf("process returned %d: %v", code, body)
	}

	cases := map[string]string{
		noCredit:       "Insufficient credits",
		offGateway:     "Gateway is inactive",
		missingGateway: "Gateway not found",
	}
	for id, reason := range cases {
		s := env.WaitForStatus(t, id, types.MessageStatusFailed)
		if s.ErrorMessage == nil || *s.ErrorMessage != reason {
			t.Errorf("%s: error_message = %v, want %q", id, s.ErrorMessage, reason)
		}
	}
	if got := env.Credits(t, funded); got != 3 {
		t.Errorf("failed sends must not charge: credits = %d", got)
	}
}

func TestE2E_ExhaustedMessageFailsWithoutSending(t *testing.T) {
	t.Cleanup(func() { env.CleanupTestData(t) })

	user := env.SeedUser(t, 2)
	gw := env.SeedGateway(t, types.ProviderTwilio, true)
	id := env.SeedMessage(t, MessageSeed{
		UserID:      user,
		GatewayID:   gw,
		Status:      types.MessageStatusRetry,
		RetryCount:  3,
		LastAttempt: ptrTime(time.Now().Add(-time.Hour)),
	})

	if code, body := env.Trigger(t, "process"); code != http.StatusOK {
		t.Fatalf("process returned %d: %v", code, body)
	}

	s := env.WaitForStatus(t, id, types.MessageStatusFailed)
	if s.ErrorMessage == nil || *s.ErrorMessage != "Exceeded maximum retry attempts" {
		t.Errorf("error_message = %v", s.ErrorMessage)
	}
	if got := env.Credits(t, user); got != 2 {
		t.Errorf("credits = %d, want 2", got)
	}
}

func TestE2E_ReclaimResetsStuckMessage(t *testing.T) {
	t.Cleanup(func() { env.CleanupTestData(t) })

	user := env.SeedUser(t, 1)
	gw := env.SeedGateway(t, types.ProviderTwilio, true)
	stuck := env.SeedMessage(t, MessageSeed{
		UserID:      user,
		GatewayID:   gw,
		Status:      types.MessageStatusProcessing,
		RetryCount:  1,
		LastAttempt: ptrTime(time.Now().Add(-10 * time.Minute)),
	})
	fresh := env.SeedMessage(t, MessageSeed{
		UserID:      user,
		GatewayID:   gw,
		Status:      types.MessageStatusProcessing,
		RetryCount:  1,
		LastAttempt: ptrTime(time.Now()),
	})

	if code, body := env.Trigger(t, "reclaim"); code != http.StatusOK {
		t.Fatalf("reclaim returned %d: %v", code, body)
	}

	// A ticker may pick the reset row up and send it straight away.
	s := env.WaitForStatus(t, stuck, types.MessageStatusRetry, types.MessageStatusSent)
	if s.Status == types.MessageStatusRetry && (s.ErrorMessage == nil || *s.ErrorMessage != "Reset due to timeout") {
		t.Errorf("error_message = %v", s.ErrorMessage)
	}
	if got := env.GetMessage(t, fresh); got.Status != types.MessageStatusProcessing {
		t.Errorf("fresh processing message reset to %s", got.Status)
	}
}
