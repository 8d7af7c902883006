package util

import (
	"bytes"
	"encoding/hex"
	"strings"
	"testing"
)

func TestHashWriter(t *testing.T) {
	const input = "hello1 hello2 hello3 hello4 hello5abcdefghijklmnopqrstuvwxyz0123456789"
	goalSHA256, _ := hex.DecodeString("fef15edd82b33633582c723562d192fec2d2003df12d4aeac89df17c279a1658")
	var w = new(bytes.Buffer)
	hw := NewHashWriter(w)
	hw.Write([]byte(input))
	if w.String() != input {
		t.Errorf("Got %q, expected %q", w.String(), input)
	}
	if hw.Size() != int64(len(input)) {
		t.Errorf("Got size %d, expected %d", hw.Size(), len(input))
	}
	if h, ok := hw.CheckSHA256(goalSHA256); !ok {
		t.Errorf("Got %x, expected %x", h, goalSHA256)
	}
}

func TestVerifyStreamHash(t *testing.T) {
	goal, _ := hex.DecodeString("fef15edd82b33633582c723562d192fec2d2003df12d4aeac89df17c279a1658")
	var table = []struct {
		input string
		goal  []byte
		ok    bool
	}{
		{"hello1 hello2 hello3 hello4 hello5abcdefghijklmnopqrstuvwxyz0123456789", goal, true},
		{"something else", goal, false},
		{"anything", nil, true},
	}
	for _, row := range table {
		ok, err := VerifyStreamHash(strings.NewReader(row.input), row.goal)
		if err != nil {
			t.Errorf("%q: Received %s", row.input, err.Error())
		}
		if ok != row.ok {
			t.Errorf("%q: Received %v, expected %v", row.input, ok, row.ok)
		}
	}
}
