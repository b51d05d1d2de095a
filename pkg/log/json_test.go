// Copyright 2018 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package log

import (
	"encoding/json"
	"testing"
)

func TestLevelJSON(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want Level
		out  string
	}{
		{in: `"warning"`, want: Warning, out: `"warning"`},
		{in: `"info"`, want: Info, out: `"info"`},
		{in: `"debug"`, want: Debug, out: `"debug"`},
		{in: `0`, want: Warning, out: `"warning"`},
		{in: `2`, want: Debug, out: `"debug"`},
	} {
		var lv Level
		if err := json.Unmarshal([]byte(tc.in), &lv); err != nil {
			t.Errorf("Unmarshal(%s): %v", tc.in, err)
			continue
		}
		if lv != tc.want {
			t.Errorf("Unmarshal(%s) = %v, want %v", tc.in, lv, tc.want)
		}
		out, err := json.Marshal(lv)
		if err != nil {
			t.Errorf("Marshal(%v): %v", lv, err)
			continue
		}
		if string(out) != tc.out {
			t.Errorf("Marshal(%v) = %s, want %s", lv, out, tc.out)
		}
	}
}

func TestLevelJSONErrors(t *testing.T) {
	for _, in := range []string{`"verbose"`, `3`, `-1`} {
		var lv Level
		if err := json.Unmarshal([]byte(in), &lv); err == nil {
			t.Errorf("Unmarshal(%s) = %v, want error", in, lv)
		}
	}
	if _, err := json.Marshal(Level(7)); err == nil {
		t.Errorf("Marshal(Level(7)) succeeded, want error")
	}
}
