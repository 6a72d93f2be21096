package codec

import "strings"

const (
	inboundPrefix  = "G>S:"
	outboundPrefix = "S>G:"
)

// DecodeLine validates and strips the G>S: prefix, then decodes the
// remainder. Lines without the prefix are the link worker's concern
// (§6: "Lines that do not start with G>S: are discarded") — DecodeLine
// reports them as malformed rather than silently dropping them, since
// a caller that already reached the codec wants to know why.
func DecodeLine(line string, prov Provenance) (*Frame, error) {
	if !strings.HasPrefix(line, inboundPrefix) {
		return nil, &MalformedFrameError{Line: line, Reason: "missing G>S: prefix"}
	}
	return Decode(strings.TrimPrefix(line, inboundPrefix), prov)
}

// EncodeLine encodes f and prepends the S>G: prefix.
func EncodeLine(f *Frame) (string, error) {
	body, err := Encode(f)
	if err != nil {
		return "", err
	}
	return outboundPrefix + body, nil
}

// Decode parses a line with any direction prefix already stripped.
//
// The first record is the bare smsg_type tag. If the schema carries
// header fields beyond the tag itself, the next record holds them,
// comma-joined in schema order (the tag occupies position 0 of that
// logical header tuple even though it is written on its own); every
// record after that is a repeating detail record.
func Decode(body string, prov Provenance) (*Frame, error) {
	records := strings.Split(body, ";")
	if len(records) == 0 || records[0] == "" {
		return nil, &MalformedFrameError{Line: body, Reason: "empty frame"}
	}

	rawType := records[0]
	schema, ok := Lookup(MessageType(rawType))
	if !ok {
		return nil, &MalformedFrameError{Line: body, Reason: "unknown message type " + rawType}
	}

	rest := records[1:]
	headerFields := []string{rawType}
	if len(schema.Header) > 1 {
		if len(rest) == 0 || rest[0] == "" {
			return nil, &MalformedFrameError{Line: body, Reason: "missing header record"}
		}
		headerFields = append(headerFields, strings.Split(rest[0], ",")...)
		rest = rest[1:]
	}
	if len(headerFields) != len(schema.Header) {
		return nil, &MalformedFrameError{Line: body, Reason: "header field count mismatch"}
	}

	header := NewRecord()
	for i, spec := range schema.Header {
		if spec.Role == HeaderField {
			header[spec.Name] = headerFields[i]
		}
	}

	detailRecords := rest
	if len(detailRecords) > 0 && len(schema.Detail) == 0 {
		return nil, &MalformedFrameError{Line: body, Reason: "unexpected detail record for " + rawType}
	}

	details := make([]Record, 0, len(detailRecords))
	for _, rec := range detailRecords {
		if rec == "" {
			continue
		}
		fields := strings.Split(rec, ",")
		if len(fields) != len(schema.Detail) {
			return nil, &MalformedFrameError{Line: body, Reason: "detail field count mismatch"}
		}
		d := NewRecord()
		for i, spec := range schema.Detail {
			if spec.Role == DetailField {
				d[spec.Name] = fields[i]
			}
		}
		details = append(details, d)
	}

	return &Frame{
		Type:        schema.Type,
		Provenance:  prov,
		HeaderCount: 1,
		DetailCount: len(details),
		Header:      header,
		Details:     details,
	}, nil
}

// Encode builds a wire body (no direction prefix) from f: the bare
// type tag as its own record, then (if the schema has header fields
// beyond the tag) one comma-joined record for them, then one record
// per detail.
func Encode(f *Frame) (string, error) {
	schema, ok := Lookup(f.Type)
	if !ok {
		return "", &MalformedFrameError{Line: string(f.Type), Reason: "unknown message type for encode"}
	}

	records := make([]string, 0, 2+len(f.Details))
	records = append(records, string(f.Type))

	if len(schema.Header) > 1 {
		headerFields := make([]string, len(schema.Header)-1)
		for i, spec := range schema.Header[1:] {
			if spec.Role == HeaderSkip {
				headerFields[i] = string(f.Type)
				continue
			}
			headerFields[i] = f.Header[spec.Name]
		}
		records = append(records, strings.Join(headerFields, ","))
	}

	for _, d := range f.Details {
		detailFields := make([]string, len(schema.Detail))
		for i, spec := range schema.Detail {
			if spec.Role == DetailSkip {
				detailFields[i] = string(f.Type)
				continue
			}
			detailFields[i] = d[spec.Name]
		}
		records = append(records, strings.Join(detailFields, ","))
	}

	return strings.Join(records, ";"), nil
}
