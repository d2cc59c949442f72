package live

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/akaris/globetrack/internal/feed"
	"github.com/akaris/globetrack/internal/units"
	"github.com/akaris/globetrack/pkg/logger"
)

func newTestShipFeed(t *testing.T, opts ShipOptions) *ShipFeed {
	t.Helper()
	cfg := feed.Config{Enabled: true, UpdateRate: time.Hour, MaxUnits: 50}
	return NewShipFeed(cfg, opts, nil, logger.NewNop())
}

func TestShipIngestKeepsLatestReport(t *testing.T) {
	f := newTestShipFeed(t, ShipOptions{})

	f.ingest([]byte(`{"type":"positions","reports":[
		{"mmsi":"111","lat":1,"lon":2,"sog":10,"cog":90},
		{"mmsi":"222","lat":3,"lon":4,"sog":12,"cog":180}
	]}`))
	f.ingest([]byte(`{"type":"position","reports":[
		{"mmsi":"111","lat":1.5,"lon":2.5,"sog":11,"cog":95}
	]}`))

	f.pendMu.Lock()
	defer f.pendMu.Unlock()
	if len(f.pending) != 2 {
		t.Fatalf("pending = %d vessels, want 2", len(f.pending))
	}
	if r := f.pending["111"]; r.Lat != 1.5 || r.SpeedKts != 11 {
		t.Fatalf("older report not superseded: %+v", r)
	}
}

func TestShipIngestDropsJunk(t *testing.T) {
	f := newTestShipFeed(t, ShipOptions{})

	f.ingest([]byte(`not json`))
	f.ingest([]byte(`{"type":"heartbeat"}`))
	f.ingest([]byte(`{"type":"positions","reports":[{"mmsi":"","lat":1,"lon":2}]}`))

	f.pendMu.Lock()
	defer f.pendMu.Unlock()
	if len(f.pending) != 0 {
		t.Fatalf("pending = %d, want 0", len(f.pending))
	}
}

func TestShipTickDrainsPendingIntoTable(t *testing.T) {
	f := newTestShipFeed(t, ShipOptions{})

	var batches [][]units.Delta
	f.Subscribe(func(_ units.Kind, batch []units.Delta) {
		batches = append(batches, batch)
	})

	f.ingest([]byte(`{"reports":[
		{"mmsi":"111","name":"EVER GIVEN","lat":30.0,"lon":32.5,"sog":8,"cog":45,"ts":1700000000},
		{"mmsi":"222","lat":31.0,"lon":33.0,"sog":14,"cog":270}
	]}`))
	f.tick(context.Background())

	us := f.Units()
	if len(us) != 2 {
		t.Fatalf("units = %d, want 2", len(us))
	}
	if len(batches) != 1 || len(batches[0]) != 2 {
		t.Fatalf("emitted %v", batches)
	}

	byID := map[string]*units.Unit{}
	for _, u := range us {
		byID[u.ID] = u
	}
	ev := byID["111"]
	if ev == nil || ev.Name != "EVER GIVEN" || ev.Lat != 30.0 || ev.Lon != 32.5 {
		t.Fatalf("vessel 111 = %+v", ev)
	}
	if ev.LastReport.Unix() != 1700000000 {
		t.Fatalf("last report = %v", ev.LastReport)
	}
	if len(ev.Trail) != 1 {
		t.Fatalf("trail = %d points, want 1", len(ev.Trail))
	}

	// Empty pending: no batch at all.
	f.tick(context.Background())
	if len(batches) != 1 {
		t.Fatalf("idle tick emitted a batch: %v", batches)
	}

	// A later report updates in place.
	f.ingest([]byte(`{"reports":[{"mmsi":"111","lat":30.1,"lon":32.6,"sog":9,"cog":50}]}`))
	f.tick(context.Background())
	if len(f.Units()) != 2 {
		t.Fatalf("update grew the table to %d", len(f.Units()))
	}
	if got := batches[1][0]; got.Type != "updated" || got.ID != "111" {
		t.Fatalf("delta = %+v, want updated 111", got)
	}
}

func TestShipFeedStreamsOverWebsocket(t *testing.T) {
	upgrader := websocket.Upgrader{}
	subscribed := make(chan shipSubscribe, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var sub shipSubscribe
		if err := conn.ReadJSON(&sub); err != nil {
			return
		}
		subscribed <- sub

		frame, _ := json.Marshal(shipFrame{
			Type: "positions",
			Reports: []shipReport{
				{MMSI: "111", Name: "TEST", Lat: 10, Lon: 20, SpeedKts: 12, HeadingDeg: 90},
			},
		})
		conn.WriteMessage(websocket.TextMessage, frame)

		// Hold the connection open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	f := newTestShipFeed(t, ShipOptions{URL: wsURL})
	f.SetViewport(Viewport{LatMin: -10, LonMin: -20, LatMax: 10, LonMax: 20}, 0)

	if err := f.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer f.Stop()

	select {
	case sub := <-subscribed:
		if sub.Type != "subscribe" {
			t.Fatalf("subscribe frame type = %q", sub.Type)
		}
		if sub.BBox[0][0] != -10 || sub.BBox[1][1] != 20 {
			t.Fatalf("subscribe bbox = %v", sub.BBox)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no subscribe frame within 5s")
	}

	// Wait for the report to land in pending, then drain it.
	deadline := time.Now().Add(5 * time.Second)
	for {
		f.pendMu.Lock()
		n := len(f.pending)
		f.pendMu.Unlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("streamed report never reached pending")
		}
		time.Sleep(10 * time.Millisecond)
	}

	f.tick(context.Background())
	us := f.Units()
	if len(us) != 1 || us[0].ID != "111" || us[0].Name != "TEST" {
		t.Fatalf("units = %+v", us)
	}
	if st := f.Stats(); st.Status != units.StatusConnected {
		t.Fatalf("status = %q, want connected", st.Status)
	}
}
