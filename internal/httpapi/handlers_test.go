package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/leehonan/meterman-server/internal/data"
	"github.com/leehonan/meterman-server/internal/store"
)

func newTestAPI(t *testing.T) *API {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("store.Open failed: %v", err)
	}
	if err := st.Migrate(); err != nil {
		t.Fatalf("store.Migrate failed: %v", err)
	}
	t.Cleanup(func() { st.CloseSafe() })

	dataMgr := data.New(st, nil, nil)
	return NewAPI(dataMgr, nil, nil)
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope: %v, body=%s", err, rec.Body.String())
	}
	return env
}

func TestGetMeterEntriesWildcardNodeReturnsAll(t *testing.T) {
	api := newTestAPI(t)
	if err := api.Data.ProcMeterUpdate("node-a", []data.MeterUpdateEntry{
		{WhenStart: 100, EntryValue: 10, IntervalLength: 900, MeterValue: 1000},
	}); err != nil {
		t.Fatalf("seed ProcMeterUpdate: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/meterentries/all", nil)
	req.SetPathValue("node", "all")
	rec := httptest.NewRecorder()
	api.GetMeterEntries(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	env := decodeEnvelope(t, rec)
	if !env.OK {
		t.Fatalf("expected ok envelope, got %+v", env)
	}
}

func TestGetMeterEntriesBadTimeFromIsBadRequest(t *testing.T) {
	api := newTestAPI(t)
	req := httptest.NewRequest(http.MethodGet, "/meterentries/node-a?time_from=notanumber", nil)
	req.SetPathValue("node", "node-a")
	rec := httptest.NewRecorder()
	api.GetMeterEntries(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestPutNodeCtrlRequiresExactlyOneField(t *testing.T) {
	api := newTestAPI(t)

	body := strings.NewReader(`{}`)
	req := httptest.NewRequest(http.MethodPut, "/nodectrl/node-a", body)
	req.SetPathValue("node", "node-a")
	rec := httptest.NewRecorder()
	api.PutNodeCtrl(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty body, got %d", rec.Code)
	}

	body = strings.NewReader(`{"meter_value": 5, "meter_interval": 900}`)
	req = httptest.NewRequest(http.MethodPut, "/nodectrl/node-a", body)
	req.SetPathValue("node", "node-a")
	rec = httptest.NewRecorder()
	api.PutNodeCtrl(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for two fields set, got %d", rec.Code)
	}
}

func TestPutNodeCtrlValidatesGinrPollRateRange(t *testing.T) {
	api := newTestAPI(t)

	body := strings.NewReader(`{"tmp_ginr_poll_rate": 5, "tmp_ginr_poll_time": 100}`)
	req := httptest.NewRequest(http.MethodPut, "/nodectrl/node-a", body)
	req.SetPathValue("node", "node-a")
	rec := httptest.NewRecorder()
	api.PutNodeCtrl(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for tmp_ginr_poll_rate below 10, got %d", rec.Code)
	}
}

func TestPutNodeCtrlValidatesPuckLEDRateRange(t *testing.T) {
	api := newTestAPI(t)

	body := strings.NewReader(`{"puck_led_rate": 300, "puck_led_time": 100}`)
	req := httptest.NewRequest(http.MethodPut, "/nodectrl/node-a", body)
	req.SetPathValue("node", "node-a")
	rec := httptest.NewRecorder()
	api.PutNodeCtrl(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for puck_led_rate above 255, got %d", rec.Code)
	}
}

func TestPutNodeCtrlMissingPairedFieldIsBadRequest(t *testing.T) {
	api := newTestAPI(t)

	body := strings.NewReader(`{"tmp_ginr_poll_rate": 60}`)
	req := httptest.NewRequest(http.MethodPut, "/nodectrl/node-a", body)
	req.SetPathValue("node", "node-a")
	rec := httptest.NewRecorder()
	api.PutNodeCtrl(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 when tmp_ginr_poll_time is missing, got %d", rec.Code)
	}
}

func TestDeleteEntryTypesFixesAllAndSynthAllBug(t *testing.T) {
	all := deleteEntryTypes["all"]
	if len(all) != 4 {
		t.Fatalf("expected 4 entry types for 'all', got %d: %v", len(all), all)
	}
	seen := map[store.EntryType]bool{}
	for _, et := range all {
		if seen[et] {
			t.Fatalf("'all' lists %s more than once: %v", et, all)
		}
		seen[et] = true
	}
	if !seen[store.EntryMeterUpdate] || !seen[store.EntryMeterRebase] || !seen[store.EntryMeterUpdateSynth] || !seen[store.EntryMeterRebaseSynth] {
		t.Fatalf("'all' must cover all four entry types, got %v", all)
	}

	synthAll := deleteEntryTypes["synth-all"]
	if len(synthAll) != 2 {
		t.Fatalf("expected 2 entry types for 'synth-all', got %d: %v", len(synthAll), synthAll)
	}
	if synthAll[0] == synthAll[1] {
		t.Fatalf("'synth-all' must not list the same entry type twice: %v", synthAll)
	}
}

func TestPutMeterDataDeleteRejectsWildcardNode(t *testing.T) {
	api := newTestAPI(t)
	req := httptest.NewRequest(http.MethodPut, "/meterdata/delete/all?time_from=0&time_to=100&entry_type=all", nil)
	req.SetPathValue("node", "all")
	rec := httptest.NewRecorder()
	api.PutMeterDataDelete(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for wildcard node, got %d", rec.Code)
	}
}

func TestPutMeterDataDeleteRejectsUnknownEntryType(t *testing.T) {
	api := newTestAPI(t)
	req := httptest.NewRequest(http.MethodPut, "/meterdata/delete/node-a?time_from=0&time_to=100&entry_type=bogus", nil)
	req.SetPathValue("node", "node-a")
	rec := httptest.NewRecorder()
	api.PutMeterDataDelete(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown entry_type, got %d", rec.Code)
	}
}

func TestParseCSVReads(t *testing.T) {
	entries, err := parseCSVReads("100,10,900,1000;1000,10,900,1010;")
	if err != nil {
		t.Fatalf("parseCSVReads failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].WhenStart != 100 || entries[0].MeterValue != 1000 {
		t.Fatalf("unexpected first entry: %+v", entries[0])
	}
	if entries[1].WhenStart != 1000 || entries[1].MeterValue != 1010 {
		t.Fatalf("unexpected second entry: %+v", entries[1])
	}
}

func TestParseCSVReadsRejectsWrongFieldCount(t *testing.T) {
	if _, err := parseCSVReads("100,10,900;"); err == nil {
		t.Fatal("expected error for a 3-field record, got nil")
	}
}

func TestGenerateReadsSpansWindowAtFixedInterval(t *testing.T) {
	req := meterUploadRequest{GenStartMeterValue: 1000, GenIntervalLength: 900, GenReadMin: 5, GenReadMax: 5}
	entries := generateReads(0, 2700, req)
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries spanning 2700s at 900s interval, got %d", len(entries))
	}
	for i, e := range entries {
		if e.WhenStart != int64(i)*900 {
			t.Fatalf("entry %d: expected WhenStart %d, got %d", i, int64(i)*900, e.WhenStart)
		}
		if e.EntryValue != 5 {
			t.Fatalf("entry %d: expected fixed EntryValue 5, got %d", i, e.EntryValue)
		}
	}
	if entries[2].MeterValue != 1015 {
		t.Fatalf("expected final MeterValue 1015, got %d", entries[2].MeterValue)
	}
}
