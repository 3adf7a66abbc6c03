package callbackd

import (
	"context"
	"net/http/httptest"
	"testing"
)

func newTestEndpoint(t *testing.T) (serverFixture, *httptest.Server) {
	t.Helper()
	f := newTestServer(t, nil)
	ts := httptest.NewServer(f.srv.Handler())
	t.Cleanup(ts.Close)
	return f, ts
}

func TestClient_RegisterPlain(t *testing.T) {
	f, ts := newTestEndpoint(t)

	client := &Client{BaseURL: ts.URL, APIKey: "test-api-key"}
	result, err := client.Register(context.Background(), Report{Hostname: "db-01", OSType: "linux", Port: 22})
	if err != nil {
		t.Fatal(err)
	}
	if result.CallbackID <= 0 || result.IntegrityHash == "" {
		t.Errorf("result = %+v", result)
	}

	records, err := f.store.List(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 || records[0].Report.Hostname != "db-01" {
		t.Errorf("stored = %+v", records)
	}
}

func TestClient_RegisterEncrypted(t *testing.T) {
	f, ts := newTestEndpoint(t)

	client := &Client{
		BaseURL: ts.URL,
		APIKey:  "test-api-key",
		Cipher:  NewRotatingCipher("shared-test-seed", DefaultRotationHours, AlgoSHA256),
	}
	report := Report{
		Hostname: "web-02",
		OSType:   "openbsd",
		Extra:    map[string]string{"rack": "b4"},
	}
	if _, err := client.Register(context.Background(), report); err != nil {
		t.Fatal(err)
	}

	records, err := f.store.List(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 {
		t.Fatalf("stored = %d records", len(records))
	}
	got := records[0].Report
	if got.Hostname != "web-02" || got.Extra["rack"] != "b4" {
		t.Errorf("report did not survive the encrypted round trip: %+v", got)
	}
}

func TestClient_RegisterSeedMismatch(t *testing.T) {
	_, ts := newTestEndpoint(t)

	client := &Client{
		BaseURL: ts.URL,
		APIKey:  "test-api-key",
		Cipher:  NewRotatingCipher("a-different-seed", DefaultRotationHours, AlgoSHA256),
	}
	if _, err := client.Register(context.Background(), Report{Hostname: "x"}); err == nil {
		t.Fatal("seed mismatch did not surface as an error")
	}
}

func TestClient_RegisterBadAPIKey(t *testing.T) {
	_, ts := newTestEndpoint(t)

	client := &Client{BaseURL: ts.URL, APIKey: "wrong"}
	if _, err := client.Register(context.Background(), Report{Hostname: "x"}); err == nil {
		t.Fatal("bad api key did not surface as an error")
	}
}

func TestClient_Heartbeat(t *testing.T) {
	_, ts := newTestEndpoint(t)

	client := &Client{BaseURL: ts.URL, APIKey: "test-api-key"}
	if _, err := client.Register(context.Background(), Report{Hostname: "db-01"}); err != nil {
		t.Fatal(err)
	}
	if err := client.Heartbeat(context.Background(), "db-01"); err != nil {
		t.Errorf("heartbeat: %v", err)
	}
	if err := client.Heartbeat(context.Background(), "never-registered"); err == nil {
		t.Error("heartbeat for unknown host did not error")
	}
}

func TestDetectReport(t *testing.T) {
	report := DetectReport()
	if report.OSType == "" || report.Architecture == "" {
		t.Errorf("report = %+v, want platform fields filled", report)
	}
}
