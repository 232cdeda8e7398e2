package main

import "testing"

func TestCheckTicks(t *testing.T) {
	testData := []struct {
		v       uint
		wantErr bool
	}{
		{0, true},
		{1, false},
		{25, false},
		{maxTicks, false},
		{maxTicks + 1, true},
	}
	for _, test := range testData {
		err := checkTicks("resync-ticks", test.v)
		if got, want := err != nil, test.wantErr; got != want {
			t.Errorf("check %d:\n  got error: %v\n want error: %v", test.v, err, want)
		}
	}
}
