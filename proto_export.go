package callbackd

import (
	"fmt"
	"time"

	"google.golang.org/protobuf/encoding/protowire"
)

// Audit entries can be exported in protobuf wire format (schema in
// audit.proto) so external tooling in any language can ingest and
// re-verify them. The messages are small and flat, so they are framed with
// protowire directly instead of carrying generated code.

// Field numbers from audit.proto. These are wire contract; never renumber.
const (
	auditFieldTime      = 1
	auditFieldActor     = 2
	auditFieldAction    = 3
	auditFieldSource    = 4
	auditFieldDetails   = 5
	auditFieldIntegrity = 6

	exportFieldEntry = 1
)

func appendAuditEntry(buf []byte, e AuditEntry) []byte {
	buf = protowire.AppendTag(buf, auditFieldTime, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(e.Time.UTC().UnixNano()))
	for _, f := range []struct {
		num protowire.Number
		val string
	}{
		{auditFieldActor, e.Actor},
		{auditFieldAction, e.Action},
		{auditFieldSource, e.SourceAddr},
		{auditFieldDetails, e.Details},
		{auditFieldIntegrity, e.IntegrityHash},
	} {
		if f.val == "" {
			continue
		}
		buf = protowire.AppendTag(buf, f.num, protowire.BytesType)
		buf = protowire.AppendString(buf, f.val)
	}
	return buf
}

// MarshalAuditEntries encodes entries as an AuditExport message.
func MarshalAuditEntries(entries []AuditEntry) []byte {
	var out []byte
	for _, e := range entries {
		inner := appendAuditEntry(nil, e)
		out = protowire.AppendTag(out, exportFieldEntry, protowire.BytesType)
		out = protowire.AppendBytes(out, inner)
	}
	return out
}

func parseAuditEntry(data []byte) (AuditEntry, error) {
	var e AuditEntry
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return e, fmt.Errorf("audit entry: %w", protowire.ParseError(n))
		}
		data = data[n:]

		switch {
		case num == auditFieldTime && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return e, fmt.Errorf("audit entry time: %w", protowire.ParseError(n))
			}
			e.Time = time.Unix(0, int64(v)).UTC()
			data = data[n:]
		case typ == protowire.BytesType:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return e, fmt.Errorf("audit entry field %d: %w", num, protowire.ParseError(n))
			}
			switch num {
			case auditFieldActor:
				e.Actor = v
			case auditFieldAction:
				e.Action = v
			case auditFieldSource:
				e.SourceAddr = v
			case auditFieldDetails:
				e.Details = v
			case auditFieldIntegrity:
				e.IntegrityHash = v
			}
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return e, fmt.Errorf("audit entry field %d: %w", num, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	return e, nil
}

// UnmarshalAuditEntries decodes an AuditExport message. Unknown fields are
// skipped so the format can grow without breaking old readers.
func UnmarshalAuditEntries(data []byte) ([]AuditEntry, error) {
	var out []AuditEntry
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("audit export: %w", protowire.ParseError(n))
		}
		data = data[n:]

		if num == exportFieldEntry && typ == protowire.BytesType {
			raw, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, fmt.Errorf("audit export entry: %w", protowire.ParseError(n))
			}
			data = data[n:]
			e, err := parseAuditEntry(raw)
			if err != nil {
				return nil, err
			}
			out = append(out, e)
			continue
		}

		n = protowire.ConsumeFieldValue(num, typ, data)
		if n < 0 {
			return nil, fmt.Errorf("audit export field %d: %w", num, protowire.ParseError(n))
		}
		data = data[n:]
	}
	return out, nil
}
