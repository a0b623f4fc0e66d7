package store

import (
	"strconv"
	"strings"

	"slug/internal/capdata"
	"slug/internal/id"
)

// encodeCapData/decodeCapData give CapData a stable string encoding for KV
// storage. The body is length-prefixed so it may contain any bytes
// (including ':' and ',') without escaping; the slot list follows as a
// comma-joined list of kref strings, which is safe because kref strings
// ("ko12", "kp7") never contain commas.
func encodeCapData(v capdata.CapData) string {
	var b strings.Builder
	b.WriteString(strconv.Itoa(len(v.Body)))
	b.WriteByte(':')
	b.WriteString(v.Body)
	b.WriteByte(':')
	for i, slot := range v.Slots {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(slot.String())
	}
	return b.String()
}

func decodeCapData(s string) capdata.CapData {
	i := strings.IndexByte(s, ':')
	if i < 0 {
		return capdata.CapData{}
	}
	n, err := strconv.Atoi(s[:i])
	if err != nil {
		return capdata.CapData{}
	}
	rest := s[i+1:]
	if len(rest) < n+1 {
		return capdata.CapData{}
	}
	body := rest[:n]
	slotsRaw := rest[n+1:]
	var slots []id.KRef
	if slotsRaw != "" {
		for _, part := range strings.Split(slotsRaw, ",") {
			kref, err := id.ParseKRef(part)
			if err == nil {
				slots = append(slots, kref)
			}
		}
	}
	return capdata.CapData{Body: body, Slots: slots}
}

// encodeMessage/decodeMessage extend the CapData encoding with an optional
// trailing result promise id.
func encodeMessage(m capdata.Message) string {
	var b strings.Builder
	b.WriteString(encodeCapData(m.MethArgs))
	b.WriteByte('|')
	if m.Result != nil {
		b.WriteString(string(*m.Result))
	}
	return b.String()
}

func decodeMessage(s string) capdata.Message {
	i := strings.LastIndexByte(s, '|')
	if i < 0 {
		return capdata.Message{MethArgs: decodeCapData(s)}
	}
	m := capdata.Message{MethArgs: decodeCapData(s[:i])}
	if tail := s[i+1:]; tail != "" {
		p := id.KPId(tail)
		m.Result = &p
	}
	return m
}
