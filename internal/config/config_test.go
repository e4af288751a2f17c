package config

import "testing"

func TestParseDefaults(t *testing.T) {
	c, err := Parse(nil)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if c.Port != 1316 || c.TrigMode != TrigEdgeEdge || c.ThreadNum != 4 {
		t.Fatalf("unexpected defaults: %+v", c)
	}
	if !c.TrigMode.ListenerEdgeTriggered() || !c.TrigMode.ConnEdgeTriggered() {
		t.Fatal("default trigMode 3 must be edge-triggered on both listener and connection")
	}
}

func TestParseOverridesFlags(t *testing.T) {
	c, err := Parse([]string{"-port=8080", "-trigMode=0", "-threadNum=8"})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if c.Port != 8080 || c.ThreadNum != 8 {
		t.Fatalf("unexpected overrides: %+v", c)
	}
	if c.TrigMode.ListenerEdgeTriggered() || c.TrigMode.ConnEdgeTriggered() {
		t.Fatal("trigMode 0 must be level-triggered on both listener and connection")
	}
}

func TestParseRejectsPortOutOfRange(t *testing.T) {
	if _, err := Parse([]string{"-port=80"}); err == nil {
		t.Fatal("expected an error for a privileged port below 1024")
	}
}

func TestParseRejectsBadTrigMode(t *testing.T) {
	if _, err := Parse([]string{"-trigMode=4"}); err == nil {
		t.Fatal("expected an error for trigMode out of [0, 3]")
	}
}

func TestParseRejectsNonPositiveThreadNum(t *testing.T) {
	if _, err := Parse([]string{"-threadNum=0"}); err == nil {
		t.Fatal("expected an error for a non-positive threadNum")
	}
}

func TestParseRejectsBadLogLevel(t *testing.T) {
	if _, err := Parse([]string{"-logLevel=9"}); err == nil {
		t.Fatal("expected an error for logLevel out of [0, 3]")
	}
}

func TestTrigModeCombinations(t *testing.T) {
	cases := []struct {
		mode         TrigMode
		listenerEdge bool
		connEdge     bool
	}{
		{TrigLevelLevel, false, false},
		{TrigLevelEdge, false, true},
		{TrigEdgeLevel, true, false},
		{TrigEdgeEdge, true, true},
	}
	for _, tc := range cases {
		if got := tc.mode.ListenerEdgeTriggered(); got != tc.listenerEdge {
			t.Errorf("mode %d ListenerEdgeTriggered = %v, want %v", tc.mode, got, tc.listenerEdge)
		}
		if got := tc.mode.ConnEdgeTriggered(); got != tc.connEdge {
			t.Errorf("mode %d ConnEdgeTriggered = %v, want %v", tc.mode, got, tc.connEdge)
		}
	}
}
