package httpapi

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/leehonan/meterman-server/internal/data"
	"github.com/leehonan/meterman-server/internal/device"
	"github.com/leehonan/meterman-server/internal/store"
)

// minTimeUTC/maxTimeUTC mirror app_base.py's MIN_TIME/MAX_TIME bounds.
var (
	minTimeUTC = time.Date(2017, 1, 1, 0, 0, 0, 0, time.UTC).Unix()
	maxTimeUTC = time.Date(9999, 12, 31, 23, 59, 59, 0, time.UTC).Unix()
)

// validateTimeRange enforces validate_utc_ts's bounds check
// (meter_man_api.py:59-61) plus time_to >= time_from.
func validateTimeRange(timeFrom, timeTo *int64) error {
	if timeFrom != nil && (*timeFrom < minTimeUTC || *timeFrom > maxTimeUTC) {
		return fmt.Errorf("time_from must be a unix timestamp between %d and %d", minTimeUTC, maxTimeUTC)
	}
	if timeTo != nil {
		if *timeTo < minTimeUTC || *timeTo > maxTimeUTC {
			return fmt.Errorf("time_to must be a unix timestamp between %d and %d", minTimeUTC, maxTimeUTC)
		}
		if timeFrom != nil && *timeTo < *timeFrom {
			return fmt.Errorf("time_to must be on or after time_from")
		}
	}
	return nil
}

// API holds the dependencies every route handler needs, matching
// backend/api's API struct shape.
type API struct {
	Data    *data.Manager
	Device  *device.Manager
	Logger  *zap.Logger
}

// NewAPI constructs an API with a non-nil logger.
func NewAPI(d *data.Manager, dev *device.Manager, logger *zap.Logger) *API {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &API{Data: d, Device: dev, Logger: logger}
}

func parseOptInt64(r *http.Request, name string) (*int64, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func parseOptInt(r *http.Request, name string) (*int, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return nil, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// nodeFilter resolves a {node} path value to a *string filter, treating
// "all" and "*" as no filter at all (spec.md §7 GET routes).
func nodeFilter(pathVal string) *string {
	if pathVal == "" || pathVal == "all" || pathVal == "*" {
		return nil
	}
	v := pathVal
	return &v
}

// GetMeterEntries handles GET /meterentries/{node}.
func (a *API) GetMeterEntries(w http.ResponseWriter, r *http.Request) {
	timeFrom, err := parseOptInt64(r, "time_from")
	if err != nil {
		writeError(a.Logger, w, http.StatusBadRequest, "bad_request", "time_from must be an integer")
		return
	}
	timeTo, err := parseOptInt64(r, "time_to")
	if err != nil {
		writeError(a.Logger, w, http.StatusBadRequest, "bad_request", "time_to must be an integer")
		return
	}
	if err := validateTimeRange(timeFrom, timeTo); err != nil {
		writeError(a.Logger, w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	limit, err := parseOptInt(r, "item_limit")
	if err != nil {
		writeError(a.Logger, w, http.StatusBadRequest, "bad_request", "item_limit must be an integer")
		return
	}

	entries, err := a.Data.GetMeterEntries(store.MeterEntryFilter{
		NodeUUID: nodeFilter(r.PathValue("node")),
		TimeFrom: timeFrom,
		TimeTo:   timeTo,
		Limit:    limit,
	})
	if err != nil {
		writeError(a.Logger, w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(a.Logger, w, http.StatusOK, entries)
}

// GetMeterConsumption handles GET /meterconsumption/{node}.
func (a *API) GetMeterConsumption(w http.ResponseWriter, r *http.Request) {
	timeFrom, err := parseOptInt64(r, "time_from")
	if err != nil {
		writeError(a.Logger, w, http.StatusBadRequest, "bad_request", "time_from must be an integer")
		return
	}
	timeTo, err := parseOptInt64(r, "time_to")
	if err != nil {
		writeError(a.Logger, w, http.StatusBadRequest, "bad_request", "time_to must be an integer")
		return
	}
	if err := validateTimeRange(timeFrom, timeTo); err != nil {
		writeError(a.Logger, w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	node := r.PathValue("node")
	if node == "" || node == "all" || node == "*" {
		writeError(a.Logger, w, http.StatusBadRequest, "bad_request", "node is required for consumption queries")
		return
	}
	res, err := a.Data.GetMeterConsumption(node, timeFrom, timeTo)
	if err != nil {
		writeError(a.Logger, w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(a.Logger, w, http.StatusOK, map[string]any{
		"meterConsumption":    res.MeterConsumption,
		"meterConsumptionFmt": humanize.Comma(res.MeterConsumption) + " Wh",
		"calcBreakdown":       res.CalcBreakdown,
	})
}

// GetGatewaySnapshots handles GET /gatewaysnapshots/{gw}.
func (a *API) GetGatewaySnapshots(w http.ResponseWriter, r *http.Request) {
	timeFrom, err := parseOptInt64(r, "time_from")
	if err != nil {
		writeError(a.Logger, w, http.StatusBadRequest, "bad_request", "time_from must be an integer")
		return
	}
	timeTo, err := parseOptInt64(r, "time_to")
	if err != nil {
		writeError(a.Logger, w, http.StatusBadRequest, "bad_request", "time_to must be an integer")
		return
	}
	if err := validateTimeRange(timeFrom, timeTo); err != nil {
		writeError(a.Logger, w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	limit, err := parseOptInt(r, "item_limit")
	if err != nil {
		writeError(a.Logger, w, http.StatusBadRequest, "bad_request", "item_limit must be an integer")
		return
	}
	snaps, err := a.Data.GetGatewaySnapshots(store.GatewaySnapshotFilter{
		GatewayUUID: nodeFilter(r.PathValue("gw")),
		TimeFrom:    timeFrom,
		TimeTo:      timeTo,
		Limit:       limit,
	})
	if err != nil {
		writeError(a.Logger, w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(a.Logger, w, http.StatusOK, snaps)
}

// GetNodeSnapshots handles GET /nodesnapshots/{node}.
func (a *API) GetNodeSnapshots(w http.ResponseWriter, r *http.Request) {
	timeFrom, err := parseOptInt64(r, "time_from")
	if err != nil {
		writeError(a.Logger, w, http.StatusBadRequest, "bad_request", "time_from must be an integer")
		return
	}
	timeTo, err := parseOptInt64(r, "time_to")
	if err != nil {
		writeError(a.Logger, w, http.StatusBadRequest, "bad_request", "time_to must be an integer")
		return
	}
	if err := validateTimeRange(timeFrom, timeTo); err != nil {
		writeError(a.Logger, w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	limit, err := parseOptInt(r, "item_limit")
	if err != nil {
		writeError(a.Logger, w, http.StatusBadRequest, "bad_request", "item_limit must be an integer")
		return
	}
	snaps, err := a.Data.GetNodeSnapshots(store.NodeSnapshotFilter{
		NodeUUID: nodeFilter(r.PathValue("node")),
		TimeFrom: timeFrom,
		TimeTo:   timeTo,
		Limit:    limit,
	})
	if err != nil {
		writeError(a.Logger, w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(a.Logger, w, http.StatusOK, snaps)
}

// GetNodeEvents handles GET /nodeevents/{node}.
func (a *API) GetNodeEvents(w http.ResponseWriter, r *http.Request) {
	timeFrom, err := parseOptInt64(r, "time_from")
	if err != nil {
		writeError(a.Logger, w, http.StatusBadRequest, "bad_request", "time_from must be an integer")
		return
	}
	timeTo, err := parseOptInt64(r, "time_to")
	if err != nil {
		writeError(a.Logger, w, http.StatusBadRequest, "bad_request", "time_to must be an integer")
		return
	}
	if err := validateTimeRange(timeFrom, timeTo); err != nil {
		writeError(a.Logger, w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	limit, err := parseOptInt(r, "item_limit")
	if err != nil {
		writeError(a.Logger, w, http.StatusBadRequest, "bad_request", "item_limit must be an integer")
		return
	}
	events, err := a.Data.GetNodeEvents(store.NodeEventFilter{
		NodeUUID: nodeFilter(r.PathValue("node")),
		TimeFrom: timeFrom,
		TimeTo:   timeTo,
		Limit:    limit,
	})
	if err != nil {
		writeError(a.Logger, w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(a.Logger, w, http.StatusOK, events)
}

// vizPoint is one chartable point, derived from a meter_entry the way
// viz_data.py's dataframe columns feed its bokeh plots, minus the
// plotting itself (clients chart it however they like).
type vizPoint struct {
	WhenStart  int64           `json:"whenStart"`
	WhenFinish int64           `json:"whenFinish"`
	EntryValue int64           `json:"entryValue"`
	MeterValue int64           `json:"meterValue"`
	EntryType  store.EntryType `json:"entryType"`
	IsRebase   bool            `json:"isRebase"`
}

// GetViz handles GET /viz/{node}, returning the normal-status meter
// entries for node reshaped for client-side charting.
func (a *API) GetViz(w http.ResponseWriter, r *http.Request) {
	node := r.PathValue("node")
	if node == "" || node == "all" || node == "*" {
		writeError(a.Logger, w, http.StatusBadRequest, "bad_request", "node is required for viz queries")
		return
	}
	rec := store.RecNormal
	entries, err := a.Data.GetMeterEntries(store.MeterEntryFilter{NodeUUID: &node, RecStatus: &rec})
	if err != nil {
		writeError(a.Logger, w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	points := make([]vizPoint, 0, len(entries))
	for _, e := range entries {
		points = append(points, vizPoint{
			WhenStart:  e.WhenStart,
			WhenFinish: e.WhenStart + e.Duration,
			EntryValue: e.EntryValue,
			MeterValue: e.MeterValue,
			EntryType:  e.EntryType,
			IsRebase:   e.EntryType == store.EntryMeterRebase || e.EntryType == store.EntryMeterRebaseSynth,
		})
	}
	writeJSON(a.Logger, w, http.StatusOK, points)
}

// nodeCtrlRequest mirrors NodeCtrl's PUT body (meter_man_api.py:312-381):
// exactly one of the four control operations may be supplied per call.
type nodeCtrlRequest struct {
	TmpGinrPollRate *int64 `json:"tmp_ginr_poll_rate"`
	TmpGinrPollTime *int64 `json:"tmp_ginr_poll_time"`
	MeterValue      *int64 `json:"meter_value"`
	MeterInterval   *int64 `json:"meter_interval"`
	PuckLEDRate     *int64 `json:"puck_led_rate"`
	PuckLEDTime     *int64 `json:"puck_led_time"`
}

// PutNodeCtrl handles PUT /nodectrl/{node}.
func (a *API) PutNodeCtrl(w http.ResponseWriter, r *http.Request) {
	var req nodeCtrlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(a.Logger, w, http.StatusBadRequest, "bad_request", "malformed JSON body")
		return
	}
	node := r.PathValue("node")

	count := 0
	for _, set := range []bool{req.TmpGinrPollRate != nil, req.MeterValue != nil, req.MeterInterval != nil, req.PuckLEDRate != nil} {
		if set {
			count++
		}
	}
	if count != 1 {
		writeError(a.Logger, w, http.StatusBadRequest, "bad_request", "exactly one control operation must be supplied")
		return
	}

	switch {
	case req.TmpGinrPollRate != nil:
		if req.TmpGinrPollTime == nil {
			writeError(a.Logger, w, http.StatusBadRequest, "bad_request", "tmp_ginr_poll_time is required with tmp_ginr_poll_rate")
			return
		}
		if *req.TmpGinrPollRate < 10 || *req.TmpGinrPollRate > 600 {
			writeError(a.Logger, w, http.StatusBadRequest, "bad_request", "tmp_ginr_poll_rate must be in [10, 600]")
			return
		}
		if *req.TmpGinrPollTime < 10 || *req.TmpGinrPollTime > 3000 {
			writeError(a.Logger, w, http.StatusBadRequest, "bad_request", "tmp_ginr_poll_time must be in [10, 3000]")
			return
		}
		if err := a.Device.SetNodeGatewayInstTempRate(node, *req.TmpGinrPollRate, *req.TmpGinrPollTime); err != nil {
			writeError(a.Logger, w, http.StatusNotFound, "not_found", err.Error())
			return
		}
	case req.MeterValue != nil:
		if err := a.Device.SetNodeMeterValue(node, *req.MeterValue); err != nil {
			writeError(a.Logger, w, http.StatusNotFound, "not_found", err.Error())
			return
		}
	case req.MeterInterval != nil:
		if err := a.Device.SetNodeMeterInterval(node, *req.MeterInterval); err != nil {
			writeError(a.Logger, w, http.StatusNotFound, "not_found", err.Error())
			return
		}
	case req.PuckLEDRate != nil:
		if req.PuckLEDTime == nil {
			writeError(a.Logger, w, http.StatusBadRequest, "bad_request", "puck_led_time is required with puck_led_rate")
			return
		}
		if *req.PuckLEDRate < 0 || *req.PuckLEDRate > 255 {
			writeError(a.Logger, w, http.StatusBadRequest, "bad_request", "puck_led_rate must be in [0, 255]")
			return
		}
		if *req.PuckLEDTime < 0 || *req.PuckLEDTime > 3000 {
			writeError(a.Logger, w, http.StatusBadRequest, "bad_request", "puck_led_time must be in [0, 3000]")
			return
		}
		if err := a.Device.SetNodePuckLED(node, *req.PuckLEDRate, *req.PuckLEDTime); err != nil {
			writeError(a.Logger, w, http.StatusNotFound, "not_found", err.Error())
			return
		}
	}

	writeJSON(a.Logger, w, http.StatusOK, req)
}

// deleteEntryTypes maps an entry_type query value to the concrete
// EntryTypes it deletes, fixing meter_man_api.py's MeterDataDelete bug
// where both the 'all' and 'synth-all' branches list
// METER_UPDATE_SYNTH twice and never list METER_REBASE_SYNTH.
var deleteEntryTypes = map[string][]store.EntryType{
	"all":           {store.EntryMeterUpdate, store.EntryMeterRebase, store.EntryMeterUpdateSynth, store.EntryMeterRebaseSynth},
	"update":        {store.EntryMeterUpdate},
	"rebase":        {store.EntryMeterRebase},
	"synth-update":  {store.EntryMeterUpdateSynth},
	"synth-rebase":  {store.EntryMeterRebaseSynth},
	"synth-all":     {store.EntryMeterUpdateSynth, store.EntryMeterRebaseSynth},
}

// PutMeterDataDelete handles PUT /meterdata/delete/{node}.
func (a *API) PutMeterDataDelete(w http.ResponseWriter, r *http.Request) {
	timeFrom, err := parseOptInt64(r, "time_from")
	if err != nil || timeFrom == nil {
		writeError(a.Logger, w, http.StatusBadRequest, "bad_request", "time_from is required and must be an integer")
		return
	}
	timeTo, err := parseOptInt64(r, "time_to")
	if err != nil || timeTo == nil {
		writeError(a.Logger, w, http.StatusBadRequest, "bad_request", "time_to is required and must be an integer")
		return
	}
	if err := validateTimeRange(timeFrom, timeTo); err != nil {
		writeError(a.Logger, w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	kind := r.URL.Query().Get("entry_type")
	if kind == "" {
		kind = "all"
	}
	types, ok := deleteEntryTypes[kind]
	if !ok {
		writeError(a.Logger, w, http.StatusBadRequest, "bad_request", "entry_type must be one of all|update|rebase|synth-update|synth-rebase|synth-all")
		return
	}
	node := r.PathValue("node")
	if node == "" || node == "all" || node == "*" {
		writeError(a.Logger, w, http.StatusBadRequest, "bad_request", "a specific node is required for meterdata/delete")
		return
	}

	for _, et := range types {
		et := et
		if err := a.Data.DeleteMeterEntriesInRange(node, *timeFrom, *timeTo, &et, nil); err != nil {
			writeError(a.Logger, w, http.StatusInternalServerError, "internal", err.Error())
			return
		}
	}
	writeJSON(a.Logger, w, http.StatusOK, map[string]any{"deleted": types})
}

// parseCSVReads parses the "<when_start>,<entry_value>,<interval_len>,<meter_value>;"
// record format meter_man_api.py's upload_csv_reads accepts.
func parseCSVReads(body string) ([]data.MeterUpdateEntry, error) {
	var out []data.MeterUpdateEntry
	reader := csv.NewReader(strings.NewReader(strings.ReplaceAll(body, ";", "\n")))
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		if len(rec) == 0 || strings.TrimSpace(rec[0]) == "" {
			continue
		}
		if len(rec) != 4 {
			return nil, fmt.Errorf("csv record must have 4 fields, got %d", len(rec))
		}
		whenStart, err := strconv.ParseInt(strings.TrimSpace(rec[0]), 10, 64)
		if err != nil {
			return nil, err
		}
		entryValue, err := strconv.ParseInt(strings.TrimSpace(rec[1]), 10, 64)
		if err != nil {
			return nil, err
		}
		interval, err := strconv.ParseInt(strings.TrimSpace(rec[2]), 10, 64)
		if err != nil {
			return nil, err
		}
		meterValue, err := strconv.ParseInt(strings.TrimSpace(rec[3]), 10, 64)
		if err != nil {
			return nil, err
		}
		out = append(out, data.MeterUpdateEntry{
			WhenStart:      whenStart,
			EntryValue:     entryValue,
			IntervalLength: interval,
			MeterValue:     meterValue,
		})
	}
	return out, nil
}

// jsonReadEntry mirrors the per-record JSON shape upload_json_reads
// accepts.
type jsonReadEntry struct {
	WhenStart      int64 `json:"when_start"`
	EntryValue     int64 `json:"entry_value"`
	IntervalLength int64 `json:"entry_interval_length"`
	MeterValue     int64 `json:"meter_value"`
}

// meterUploadRequest is the shared PUT /meterdata/upload/{op}/{node}
// body: csv-reads/json-reads carry their own reads, generator carries
// the bounds to synthesize reads from.
type meterUploadRequest struct {
	MeterData      string          `json:"meter_data"`
	Reads          []jsonReadEntry `json:"reads"`
	LiftLaterReads bool            `json:"lift_later_reads"`

	GenStartMeterValue int64 `json:"gen_start_meter_value"`
	GenIntervalLength  int64 `json:"gen_interval_length"`
	GenReadMin         int64 `json:"gen_read_min"`
	GenReadMax         int64 `json:"gen_read_max"`
}

// generateReads synthesizes MeterUpdateEntry rows spanning
// [timeFrom, timeTo) at a fixed interval, matching the 'generator'
// upload operation (meter_man_api.py:474-560).
func generateReads(timeFrom, timeTo int64, req meterUploadRequest) []data.MeterUpdateEntry {
	interval := req.GenIntervalLength
	if interval <= 0 {
		interval = 900
	}
	meterValue := req.GenStartMeterValue
	readRange := req.GenReadMax - req.GenReadMin
	var out []data.MeterUpdateEntry
	for t := timeFrom; t < timeTo; t += interval {
		entryValue := req.GenReadMin
		if readRange > 0 {
			entryValue += (t - timeFrom) % (readRange + 1)
		}
		meterValue += entryValue
		out = append(out, data.MeterUpdateEntry{
			WhenStart:      t,
			EntryValue:     entryValue,
			IntervalLength: interval,
			MeterValue:     meterValue,
		})
	}
	return out
}

// PutMeterDataUpload handles PUT /meterdata/upload/{op}/{node}.
func (a *API) PutMeterDataUpload(w http.ResponseWriter, r *http.Request) {
	op := r.PathValue("op")
	node := r.PathValue("node")

	timeFrom, err := parseOptInt64(r, "time_from")
	if err != nil || timeFrom == nil {
		writeError(a.Logger, w, http.StatusBadRequest, "bad_request", "time_from is required and must be an integer")
		return
	}
	timeTo, err := parseOptInt64(r, "time_to")
	if err != nil || timeTo == nil {
		writeError(a.Logger, w, http.StatusBadRequest, "bad_request", "time_to is required and must be an integer")
		return
	}
	if err := validateTimeRange(timeFrom, timeTo); err != nil {
		writeError(a.Logger, w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	var req meterUploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(a.Logger, w, http.StatusBadRequest, "bad_request", "malformed JSON body")
		return
	}

	var entries []data.MeterUpdateEntry
	switch op {
	case "csv-reads":
		entries, err = parseCSVReads(req.MeterData)
		if err != nil {
			writeError(a.Logger, w, http.StatusBadRequest, "bad_request", "malformed meter_data CSV: "+err.Error())
			return
		}
	case "json-reads":
		for _, e := range req.Reads {
			entries = append(entries, data.MeterUpdateEntry{
				WhenStart:      e.WhenStart,
				EntryValue:     e.EntryValue,
				IntervalLength: e.IntervalLength,
				MeterValue:     e.MeterValue,
			})
		}
	case "generator":
		entries = generateReads(*timeFrom, *timeTo, req)
	default:
		writeError(a.Logger, w, http.StatusBadRequest, "bad_request", "op must be one of csv-reads|json-reads|generator")
		return
	}

	// rebase_first is always true in the original (meter_man_api.py:555);
	// lift_later_reads is the only client-controlled flag.
	if err := a.Data.UpsertSynthMeterUpdates(node, *timeFrom, *timeTo, entries, true, req.LiftLaterReads); err != nil {
		writeError(a.Logger, w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(a.Logger, w, http.StatusOK, map[string]any{"uploaded": len(entries)})
}
