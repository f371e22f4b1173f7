package webhooks

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/friendsincode/bifrost_player/internal/events"
	"github.com/friendsincode/bifrost_player/internal/models"
)

type delivery struct {
	header http.Header
	body   []byte
}

// receiver is an httptest endpoint that hands captured requests to a channel.
func receiver(t *testing.T, status int) (*httptest.Server, chan delivery) {
	t.Helper()
	got := make(chan delivery, 8)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got <- delivery{header: r.Header.Clone(), body: body}
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, got
}

func newTestService(t *testing.T) (*Service, *events.Bus, *gorm.DB) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.AutoMigrate(&models.WebhookTarget{}, &models.WebhookLog{}); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}

	bus := events.NewBus()
	return NewService(db, bus, zerolog.Nop()), bus, db
}

func awaitDelivery(t *testing.T, got chan delivery) delivery {
	t.Helper()
	select {
	case d := <-got:
		return d
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for webhook delivery")
		return delivery{}
	}
}

func TestFireWebhooksDeliversSignedPayload(t *testing.T) {
	svc, bus, db := newTestService(t)
	srv, got := receiver(t, http.StatusOK)

	target := models.NewWebhookTarget("receiver", srv.URL, "track_changed")
	if err := db.Create(target).Error; err != nil {
		t.Fatalf("seed target: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.Start(ctx)
	time.Sleep(20 * time.Millisecond)

	bus.Publish(events.EventTrackChanged, events.Payload{
		"track_id": "trk-1",
		"queue_id": "q-1",
		"title":    "Test Track",
		"source":   "local",
	})

	d := awaitDelivery(t, got)

	if d.header.Get("X-Bifrost-Event") != "track_changed" {
		t.Fatalf("event header = %q", d.header.Get("X-Bifrost-Event"))
	}
	if d.header.Get("User-Agent") != "Bifrost-Player-Webhook/1.0" {
		t.Fatalf("user agent = %q", d.header.Get("User-Agent"))
	}

	mac := hmac.New(sha256.New, []byte(target.Secret))
	mac.Write(d.body)
	want := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	if d.header.Get("X-Bifrost-Signature") != want {
		t.Fatalf("signature mismatch: got %q want %q", d.header.Get("X-Bifrost-Signature"), want)
	}

	var payload WebhookPayload
	if err := json.Unmarshal(d.body, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.Event != "track_changed" {
		t.Fatalf("payload event = %q", payload.Event)
	}
	if payload.Track == nil || payload.Track.ID != "trk-1" || payload.Track.Title != "Test Track" {
		t.Fatalf("track payload = %+v", payload.Track)
	}

	// The delivery attempt lands in the log table.
	deadline := time.Now().Add(2 * time.Second)
	for {
		var logs []models.WebhookLog
		if err := db.Where("target_id = ?", target.ID).Find(&logs).Error; err != nil {
			t.Fatalf("fetch logs: %v", err)
		}
		if len(logs) == 1 {
			if logs[0].StatusCode != http.StatusOK || logs[0].Event != "track_changed" {
				t.Fatalf("delivery log = %+v", logs[0])
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for delivery log")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestFireWebhooksRespectsEventFilter(t *testing.T) {
	svc, bus, db := newTestService(t)
	srv, got := receiver(t, http.StatusOK)

	target := models.NewWebhookTarget("duck-only", srv.URL, "duck_started,duck_ended")
	if err := db.Create(target).Error; err != nil {
		t.Fatalf("seed target: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.Start(ctx)
	time.Sleep(20 * time.Millisecond)

	bus.Publish(events.EventTrackChanged, events.Payload{"track_id": "trk-1"})
	bus.Publish(events.EventDuckStarted, events.Payload{"target_volume": 30})

	d := awaitDelivery(t, got)
	if d.header.Get("X-Bifrost-Event") != "duck_started" {
		t.Fatalf("expected the filtered event to be skipped, got %q", d.header.Get("X-Bifrost-Event"))
	}
	select {
	case extra := <-got:
		t.Fatalf("unexpected second delivery: %q", extra.header.Get("X-Bifrost-Event"))
	case <-time.After(100 * time.Millisecond):
	}
}

func TestInactiveTargetIsSkipped(t *testing.T) {
	svc, bus, db := newTestService(t)
	srv, got := receiver(t, http.StatusOK)

	target := models.NewWebhookTarget("disabled", srv.URL, "")
	target.Active = false
	if err := db.Create(target).Error; err != nil {
		t.Fatalf("seed target: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.Start(ctx)
	time.Sleep(20 * time.Millisecond)

	bus.Publish(events.EventTrackChanged, events.Payload{"track_id": "trk-1"})

	select {
	case d := <-got:
		t.Fatalf("inactive target received delivery: %q", d.header.Get("X-Bifrost-Event"))
	case <-time.After(150 * time.Millisecond):
	}
}

func TestTargetSubscription(t *testing.T) {
	all := models.WebhookTarget{Events: ""}
	if !all.Subscribed("track_changed") {
		t.Fatal("empty events should match everything")
	}

	some := models.WebhookTarget{Events: "track_changed, duck_started"}
	if !some.Subscribed("duck_started") {
		t.Fatal("listed event should match after whitespace trim")
	}
	if some.Subscribed("state_updated") {
		t.Fatal("unlisted event should not match")
	}
}

func TestTestWebhook(t *testing.T) {
	svc, _, _ := newTestService(t)

	okSrv, got := receiver(t, http.StatusNoContent)
	target := models.NewWebhookTarget("tester", okSrv.URL, "")
	if err := svc.TestWebhook(target); err != nil {
		t.Fatalf("test webhook: %v", err)
	}
	d := awaitDelivery(t, got)
	if d.header.Get("X-Bifrost-Event") != "test" {
		t.Fatalf("event header = %q", d.header.Get("X-Bifrost-Event"))
	}

	failSrv, _ := receiver(t, http.StatusInternalServerError)
	target.URL = failSrv.URL
	if err := svc.TestWebhook(target); err == nil {
		t.Fatal("expected error for non-2xx response")
	}
}
