package ivr

import (
	"errors"
	"strings"
	"testing"
)

func TestDecode_Valid(t *testing.T) {
	p, err := Decode([]byte(`{"callId":" CA1 ","seq":3,"isHuman":true,"transcript":"hi","meta":{"voice_profile":"calm"}}`), 1024)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if p.CallID != "CA1" || p.Seq != 3 || !p.IsHuman || p.Transcript != "hi" {
		t.Fatalf("p = %#v", p)
	}
	if p.MetaString("voice_profile") != "calm" || p.MetaString("missing") != "" {
		t.Fatalf("meta = %#v", p.Meta)
	}
}

func TestDecode_Rejects(t *testing.T) {
	cases := map[string]string{
		"not json":      `callId=1`,
		"missing call":  `{"seq":1}`,
		"blank call":    `{"callId":"  ","seq":1}`,
		"missing seq":   `{"callId":"c"}`,
		"negative seq":  `{"callId":"c","seq":-1}`,
		"string seq":    `{"callId":"c","seq":"1"}`,
		"trailing data": `{"callId":"c","seq":1}{"callId":"d","seq":2}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Decode([]byte(raw), 0); !errors.Is(err, ErrMalformedPacket) {
				t.Fatalf("err = %v", err)
			}
		})
	}
}

func TestDecode_SizeLimit(t *testing.T) {
	raw := `{"callId":"c","seq":1,"transcript":"` + strings.Repeat("x", 200) + `"}`
	if _, err := Decode([]byte(raw), 64); !errors.Is(err, ErrMalformedPacket) {
		t.Fatalf("err = %v", err)
	}
}
