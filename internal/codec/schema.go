package codec

// FieldRole describes how a positional field in a record participates
// in decode/encode.
type FieldRole int

const (
	// HeaderField is a semantic header field: parsed into the header
	// record on decode, looked up from the caller's header values on
	// encode.
	HeaderField FieldRole = iota
	// HeaderSkip is a placeholder position in the header record: the
	// message-type tag itself, or a repeated occurrence of it
	// (rmsg_type). Decoded positions are discarded; encoded positions
	// always emit the literal type tag, never a caller-supplied value.
	HeaderSkip
	// DetailField is a semantic detail field, present once per detail
	// record.
	DetailField
	// DetailSkip is a placeholder position within a detail record.
	DetailSkip
)

// FieldSpec names one positional field and its role.
type FieldSpec struct {
	Name string
	Role FieldRole
}

// MessageSchema is the static, data-driven description of one message
// type's wire shape: the ordered header fields and the ordered
// (repeating) detail fields.
type MessageSchema struct {
	Type   MessageType
	Header []FieldSpec
	Detail []FieldSpec
}

// schemas is the message catalogue. It is read-only static data: the
// codec never branches on message type in code, only by indexing into
// this table.
var schemas = map[MessageType]MessageSchema{
	GTIME: {
		Type:   GTIME,
		Header: []FieldSpec{{"smsg_type", HeaderSkip}},
	},
	STIME: {
		Type: STIME,
		Header: []FieldSpec{
			{"smsg_type", HeaderSkip},
			{"epoch", HeaderField},
		},
	},
	STIMEAck: {
		Type:   STIMEAck,
		Header: []FieldSpec{{"smsg_type", HeaderSkip}},
	},
	STIMENack: {
		Type:   STIMENack,
		Header: []FieldSpec{{"smsg_type", HeaderSkip}},
	},
	GGWSnap: {
		Type:   GGWSnap,
		Header: []FieldSpec{{"smsg_type", HeaderSkip}},
	},
	GWSnap: {
		Type: GWSnap,
		Header: []FieldSpec{
			{"smsg_type", HeaderSkip},
			{"gateway_id", HeaderField},
			{"when_booted", HeaderField},
			{"free_ram", HeaderField},
			{"gateway_time", HeaderField},
			{"log_level", HeaderField},
			{"encrypt_key", HeaderField},
			{"network_id", HeaderField},
			{"tx_power", HeaderField},
		},
	},
	GNOSnap: {
		Type: GNOSnap,
		Header: []FieldSpec{
			{"smsg_type", HeaderSkip},
			{"node_id", HeaderField},
		},
	},
	GNOSnapNack: {
		Type: GNOSnapNack,
		Header: []FieldSpec{
			{"smsg_type", HeaderSkip},
			{"node_id", HeaderField},
		},
	},
	NOSnap: {
		Type:   NOSnap,
		Header: []FieldSpec{{"smsg_type", HeaderSkip}},
		Detail: []FieldSpec{
			{"node_id", DetailField},
			{"batt_voltage", DetailField},
			{"up_time", DetailField},
			{"sleep_time", DetailField},
			{"free_ram", DetailField},
			{"when_last_seen", DetailField},
			{"last_clock_drift", DetailField},
			{"meter_interval", DetailField},
			{"meter_impulses_per_kwh", DetailField},
			{"last_meter_entry_finish", DetailField},
			{"last_meter_value", DetailField},
			{"last_rms_current", DetailField},
			{"puck_led_rate", DetailField},
			{"puck_led_time", DetailField},
			{"last_rssi_at_gateway", DetailField},
		},
	},
	MUPNoIRMS: {
		Type: MUPNoIRMS,
		Header: []FieldSpec{
			{"smsg_type", HeaderSkip},
			{"node_id", HeaderField},
			{"rmsg_type", HeaderSkip},
			{"last_entry_finish_time", HeaderField},
			{"last_entry_meter_value", HeaderField},
		},
		Detail: []FieldSpec{
			{"entry_interval_length", DetailField},
			{"entry_value", DetailField},
		},
	},
	MUPWithIRMS: {
		Type: MUPWithIRMS,
		Header: []FieldSpec{
			{"smsg_type", HeaderSkip},
			{"node_id", HeaderField},
			{"rmsg_type", HeaderSkip},
			{"last_entry_finish_time", HeaderField},
			{"last_entry_meter_value", HeaderField},
		},
		Detail: []FieldSpec{
			{"entry_interval_length", DetailField},
			{"entry_value", DetailField},
			{"spot_rms_current", DetailField},
		},
	},
	MREB: {
		Type: MREB,
		Header: []FieldSpec{
			{"smsg_type", HeaderSkip},
			{"node_id", HeaderField},
			{"rmsg_type", HeaderSkip},
			{"entry_timestamp", HeaderField},
			{"meter_value", HeaderField},
		},
	},
	SMVal: {
		Type: SMVal,
		Header: []FieldSpec{
			{"smsg_type", HeaderSkip},
			{"node_id", HeaderField},
			{"new_meter_value", HeaderField},
		},
	},
	SMValAck: {
		Type:   SMValAck,
		Header: []FieldSpec{{"smsg_type", HeaderSkip}, {"node_id", HeaderField}},
	},
	SMValNack: {
		Type:   SMValNack,
		Header: []FieldSpec{{"smsg_type", HeaderSkip}, {"node_id", HeaderField}},
	},
	SMInt: {
		Type: SMInt,
		Header: []FieldSpec{
			{"smsg_type", HeaderSkip},
			{"node_id", HeaderField},
			{"new_interval", HeaderField},
		},
	},
	SMIntAck: {
		Type:   SMIntAck,
		Header: []FieldSpec{{"smsg_type", HeaderSkip}, {"node_id", HeaderField}},
	},
	SMIntNack: {
		Type:   SMIntNack,
		Header: []FieldSpec{{"smsg_type", HeaderSkip}, {"node_id", HeaderField}},
	},
	SPLed: {
		Type: SPLed,
		Header: []FieldSpec{
			{"smsg_type", HeaderSkip},
			{"node_id", HeaderField},
			{"new_led_rate", HeaderField},
			{"new_led_time", HeaderField},
		},
	},
	SPLedAck: {
		Type:   SPLedAck,
		Header: []FieldSpec{{"smsg_type", HeaderSkip}, {"node_id", HeaderField}},
	},
	SPLedNack: {
		Type:   SPLedNack,
		Header: []FieldSpec{{"smsg_type", HeaderSkip}, {"node_id", HeaderField}},
	},
	SGITR: {
		Type: SGITR,
		Header: []FieldSpec{
			{"smsg_type", HeaderSkip},
			{"node_id", HeaderField},
			{"tmp_poll_rate", HeaderField},
			{"tmp_poll_period", HeaderField},
		},
	},
	SGITRAck: {
		Type:   SGITRAck,
		Header: []FieldSpec{{"smsg_type", HeaderSkip}, {"node_id", HeaderField}},
	},
	SGITRNack: {
		Type:   SGITRNack,
		Header: []FieldSpec{{"smsg_type", HeaderSkip}, {"node_id", HeaderField}},
	},
	NDark: {
		Type: NDark,
		Header: []FieldSpec{
			{"smsg_type", HeaderSkip},
			{"node_id", HeaderField},
			{"last_seen", HeaderField},
		},
	},
	GPMsg: {
		Type: GPMsg,
		Header: []FieldSpec{
			{"smsg_type", HeaderSkip},
			{"node_id", HeaderField},
			{"rmsg_type", HeaderSkip},
			{"message", HeaderField},
		},
	},
}

// Lookup returns the schema for a message type and whether it is known.
func Lookup(t MessageType) (MessageSchema, bool) {
	s, ok := schemas[t]
	return s, ok
}
