package ident

import (
	"testing"
	"time"

	"github.com/google/uuid"
	r "github.com/stretchr/testify/require"
)

func TestIdent_New_Timestamp(t *testing.T) {
	before := time.Now().UnixMilli()
	id := New()
	after := time.Now().UnixMilli()

	ts := Timestamp(id).UnixMilli()
	r.GreaterOrEqual(t, ts, before)
	r.LessOrEqual(t, ts, after)
}

func TestIdent_New_Ordering(t *testing.T) {
	// ids generated at strictly later wall-clock times sort greater
	first := New()
	time.Sleep(2 * time.Millisecond)
	second := New()

	r.Less(t, first.String(), second.String())
}

func TestIdent_ToOTel(t *testing.T) {
	id := uuid.MustParse("0190b5c4-7d2a-7def-8001-0203aabbccdd")

	traceID, spanID := ToOTel(id)
	r.Equal(t, "0190b5c47d2a7def80010203aabbccdd", traceID.String())
	r.Equal(t, "80010203aabbccdd", spanID.String())
}

func TestIdent_FromOTelTraceID_Roundtrip(t *testing.T) {
	for i := 0; i < 16; i++ {
		id := New()
		traceID, _ := ToOTel(id)

		back, err := FromOTelTraceID(traceID.String())
		r.NoError(t, err)
		r.Equal(t, id, back)
	}
}

func TestIdent_FromOTelSpanID(t *testing.T) {
	back, err := FromOTelSpanID("80010203aabbccdd")
	r.NoError(t, err)
	r.Equal(t, "00000000-0000-0000-8001-0203aabbccdd", back.String())

	_, err = FromOTelSpanID("nope")
	r.Error(t, err)
}

func TestIdent_FromOTelTraceID_Invalid(t *testing.T) {
	_, err := FromOTelTraceID("too-short")
	r.Error(t, err)
}
